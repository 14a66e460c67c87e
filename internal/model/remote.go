package model

import "time"

// RemoteTileset is a tileset registered at runtime by URL. Registrations are
// persisted so the same (url, filetype) pair resolves to the same uid across
// server restarts.
type RemoteTileset struct {
	UID       string    `json:"uid"`
	FileURL   string    `json:"file_url"`
	Filetype  string    `json:"filetype"`
	CreatedAt time.Time `json:"created_at"`
}
