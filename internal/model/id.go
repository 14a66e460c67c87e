package model

import "github.com/oklog/ulid/v2"

// NewID generates a new ULID string. ULIDs are 128-bit and lexicographically
// sortable, which makes them suitable both for tileset uids and for
// correlation ids on the display message channel.
func NewID() string {
	return ulid.Make().String()
}
