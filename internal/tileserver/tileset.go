package tileserver

import (
	"fmt"
	"sync"

	"github.com/manzt/higlass-go/internal/model"
)

// Tileset is a unit of servable data. Implementations own the storage and
// tile encoding; the server only routes requests to them.
type Tileset interface {
	// UID returns the tileset's unique identifier.
	UID() string

	// Datatype reports the kind of data served, e.g. "matrix", "vector",
	// "chromsizes".
	Datatype() string

	// Meta returns the listing entry for the tileset: at minimum uuid,
	// datatype and name, plus whatever else the display surface wants to
	// show in a track picker.
	Meta() map[string]any

	// Info returns the tileset info document (resolutions, extents, ...).
	Info() map[string]any

	// Tiles resolves the given tile ids (uid.z.x[.y] form) to tile data.
	// Unknown ids are simply absent from the result.
	Tiles(tileIDs []string) (map[string]any, error)
}

// ChromSize is one named chromosome and its length in base pairs.
type ChromSize struct {
	Name string
	Size int64
}

// ChromSizeSource is implemented by tilesets that define a coordinate system.
type ChromSizeSource interface {
	ChromSizes() []ChromSize
}

// StaticConfig describes an in-memory tileset.
type StaticConfig struct {
	UID        string
	Name       string
	Filename   string
	Datatype   string
	Info       map[string]any
	Tiles      map[string]any
	ChromSizes []ChromSize
}

// StaticTileset serves precomputed data held in memory. It backs local files
// whose tiles were materialized ahead of time, and most tests.
type StaticTileset struct {
	cfg StaticConfig
}

// NewStaticTileset builds an in-memory tileset. A missing UID is filled with
// a fresh id.
func NewStaticTileset(cfg StaticConfig) *StaticTileset {
	if cfg.UID == "" {
		cfg.UID = model.NewID()
	}
	return &StaticTileset{cfg: cfg}
}

func (t *StaticTileset) UID() string      { return t.cfg.UID }
func (t *StaticTileset) Datatype() string { return t.cfg.Datatype }

func (t *StaticTileset) Meta() map[string]any {
	m := map[string]any{
		"uuid":     t.cfg.UID,
		"datatype": t.cfg.Datatype,
		"name":     t.cfg.Name,
	}
	if t.cfg.Filename != "" {
		m["filename"] = t.cfg.Filename
	}
	return m
}

func (t *StaticTileset) Info() map[string]any {
	return t.cfg.Info
}

func (t *StaticTileset) Tiles(tileIDs []string) (map[string]any, error) {
	out := make(map[string]any)
	for _, id := range tileIDs {
		if tile, ok := t.cfg.Tiles[id]; ok {
			out[id] = tile
		}
	}
	return out, nil
}

func (t *StaticTileset) ChromSizes() []ChromSize {
	return t.cfg.ChromSizes
}

// Factory materializes a Tileset from a remote registration.
type Factory func(reg *model.RemoteTileset) (Tileset, error)

// FactoryRegistry maps filetypes to tileset factories for the register
// endpoint. It is safe for concurrent use.
type FactoryRegistry struct {
	mu         sync.RWMutex
	byFiletype map[string]Factory
}

// NewFactoryRegistry creates an empty factory registry.
func NewFactoryRegistry() *FactoryRegistry {
	return &FactoryRegistry{
		byFiletype: make(map[string]Factory),
	}
}

// Register adds a factory for the given filetype.
func (r *FactoryRegistry) Register(filetype string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byFiletype[filetype] = f
}

// Resolve returns the factory for the given filetype.
func (r *FactoryRegistry) Resolve(filetype string) (Factory, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	f, ok := r.byFiletype[filetype]
	if !ok {
		return nil, fmt.Errorf("unknown filetype %q", filetype)
	}
	return f, nil
}
