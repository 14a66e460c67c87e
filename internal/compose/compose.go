// Package compose turns caller-supplied views into a servable display
// configuration: it collects every tileset the views reference, starts one
// shared tile backend for all of them, and rewrites address-rewritten copies
// of the views so each unbound track points at that backend.
package compose

import (
	"fmt"

	"github.com/manzt/higlass-go/internal/model"
)

// StartBackend starts a tile backend serving the given tilesets and returns
// its reachable API address. Implementations may block while the backend
// spins up. The tileset list preserves view order and may contain duplicates;
// de-duplication is the backend's decision.
type StartBackend func(tilesets []model.TilesetRef) (string, error)

// BackendStartError reports that the tile backend could not be started.
// It is fatal to the whole composition; the engine holds no backend state
// before a successful start, so there is nothing to clean up here.
type BackendStartError struct {
	Err error
}

func (e *BackendStartError) Error() string {
	return fmt.Sprintf("start tile backend: %v", e.Err)
}

func (e *BackendStartError) Unwrap() error {
	return e.Err
}

// Result holds the outcome of a composition: structurally independent,
// address-rewritten copies of the input views and the address of the backend
// now serving them.
type Result struct {
	Views   []*model.View
	Address string
}

// ExtractTilesets walks the views depth-first and returns every tileset
// reference found on leaf tracks, composite children included, in traversal
// order. Duplicates are preserved and the input is not modified.
func ExtractTilesets(views []*model.View) []model.TilesetRef {
	var refs []model.TilesetRef
	for _, view := range views {
		for _, track := range view.Tracks {
			refs = collectTilesets(track, refs)
		}
	}
	return refs
}

func collectTilesets(t *model.Track, refs []model.TilesetRef) []model.TilesetRef {
	if t.Composite() {
		for _, child := range t.Tracks {
			refs = collectTilesets(child, refs)
		}
		return refs
	}
	if t.Tileset != nil {
		refs = append(refs, *t.Tileset)
	}
	return refs
}

// Compose extracts the tileset references from views, invokes start exactly
// once with the full list, and returns deep copies of the views in which
// every tileset-bearing leaf that did not already name a server points at
// the started backend. The caller's views are never mutated. An empty view
// collection still starts a backend.
func Compose(views []*model.View, start StartBackend) (*Result, error) {
	tilesets := ExtractTilesets(views)

	addr, err := start(tilesets)
	if err != nil {
		return nil, &BackendStartError{Err: err}
	}

	rewritten := make([]*model.View, len(views))
	for i, view := range views {
		rewritten[i] = view.WithServer(addr)
	}

	return &Result{Views: rewritten, Address: addr}, nil
}
