package tileserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/manzt/higlass-go/internal/model"
	"github.com/manzt/higlass-go/internal/store"
)

const maxBodySize = 1 << 20 // 1 MB

// listTilesetsResponse mirrors the paginated listing shape the display
// surface expects, even though the server never actually paginates.
type listTilesetsResponse struct {
	Count    int              `json:"count"`
	Next     *string          `json:"next"`
	Previous *string          `json:"previous"`
	Results  []map[string]any `json:"results"`
}

// registerURLRequest is the JSON body for POST /api/v1/register_url/.
type registerURLRequest struct {
	FileURL  string `json:"fileUrl"`
	Filetype string `json:"filetype"`
}

func (s *Server) handleHello(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintln(w, "higlass tile server")
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "state": s.State()})
}

func (s *Server) handleListTilesets(w http.ResponseWriter, _ *http.Request) {
	all := s.allTilesets()
	results := make([]map[string]any, 0, len(all))
	for _, ts := range all {
		results = append(results, ts.Meta())
	}
	s.writeJSON(w, http.StatusOK, listTilesetsResponse{
		Count:   len(results),
		Results: results,
	})
}

func (s *Server) handleTilesetInfo(w http.ResponseWriter, r *http.Request) {
	uids := r.URL.Query()["d"]

	info := make(map[string]any, len(uids))
	for _, uid := range uids {
		ts := s.findTileset(uid)
		if ts == nil {
			info[uid] = map[string]any{"error": fmt.Sprintf("No such tileset with uid: %s", uid)}
			continue
		}
		info[uid] = ts.Info()
	}
	s.writeJSON(w, http.StatusOK, info)
}

func (s *Server) handleTiles(w http.ResponseWriter, r *http.Request) {
	tileIDs := r.URL.Query()["d"]
	if len(tileIDs) == 0 {
		s.writeError(w, http.StatusBadRequest, "No tiles requested")
		return
	}

	// Group requested tile ids by the uid prefix before the first dot.
	byUID := make(map[string][]string)
	for _, tid := range tileIDs {
		uid, _, ok := strings.Cut(tid, ".")
		if !ok || uid == "" {
			s.logger.Debug("skipping malformed tile id", "tile_id", tid)
			continue
		}
		byUID[uid] = append(byUID[uid], tid)
	}

	data := make(map[string]any)
	for uid, tids := range byUID {
		ts := s.findTileset(uid)
		if ts == nil {
			s.logger.Debug("tiles requested for unknown tileset", "uid", uid)
			continue
		}
		tiles, err := ts.Tiles(tids)
		if err != nil {
			s.logger.Error("fetch tiles", "uid", uid, "error", err)
			s.writeError(w, http.StatusInternalServerError, fmt.Sprintf("fetching tiles for %s failed", uid))
			return
		}
		for tid, tile := range tiles {
			data[tid] = tile
		}
		tilesServedTotal.WithLabelValues(ts.Datatype()).Add(float64(len(tiles)))
	}

	s.writeJSON(w, http.StatusOK, data)
}

func (s *Server) handleChromSizes(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	uid := q.Get("id")
	resType := q.Get("type")
	if resType == "" {
		resType = "tsv"
	}
	includeCum := q.Get("cum") == "true" || q.Get("cum") == "1"

	ts := s.findTileset(uid)
	if ts == nil {
		s.writeError(w, http.StatusNotFound, "Not found")
		return
	}
	src, ok := ts.(ChromSizeSource)
	if !ok {
		s.writeError(w, http.StatusBadRequest, "Tileset does not have chrom sizes.")
		return
	}
	sizes := src.ChromSizes()

	switch resType {
	case "tsv":
		w.Header().Set("Content-Type", "text/tab-separated-values")
		var cum int64
		for _, cs := range sizes {
			if includeCum {
				cum += cs.Size
				fmt.Fprintf(w, "%s\t%d\t%d\n", cs.Name, cs.Size, cum)
			} else {
				fmt.Fprintf(w, "%s\t%d\n", cs.Name, cs.Size)
			}
		}
	case "json":
		entries := make(map[string]any, len(sizes))
		var cum int64
		for _, cs := range sizes {
			entry := map[string]any{"size": cs.Size}
			if includeCum {
				cum += cs.Size
				entry["offset"] = cum
			}
			entries[cs.Name] = entry
		}
		s.writeJSON(w, http.StatusOK, map[string]any{uid: entries})
	default:
		s.writeError(w, http.StatusBadRequest, "Unknown response type")
	}
}

func (s *Server) handleAvailableChromSizes(w http.ResponseWriter, _ *http.Request) {
	results := make([]map[string]any, 0)
	for _, ts := range s.allTilesets() {
		if ts.Datatype() == "chromsizes" {
			results = append(results, ts.Meta())
		}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"count": len(results), "results": results})
}

func (s *Server) handleUIDsByFilename(w http.ResponseWriter, _ *http.Request) {
	results := make(map[string]string)
	for _, ts := range s.allTilesets() {
		if filename, ok := ts.Meta()["filename"].(string); ok && filename != "" {
			results[filename] = ts.UID()
		}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"count": len(results), "results": results})
}

func (s *Server) handleRegisterURL(w http.ResponseWriter, r *http.Request) {
	if s.factories == nil {
		s.writeError(w, http.StatusServiceUnavailable, "remote registration is not available")
		return
	}

	var req registerURLRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.FileURL == "" || req.Filetype == "" {
		s.writeError(w, http.StatusBadRequest, "fileUrl and filetype are required")
		return
	}

	factory, err := s.factories.Resolve(req.Filetype)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Sprintf("Unknown filetype: %s", req.Filetype))
		return
	}

	// Same (url, filetype) pair resolves to the existing registration.
	if reg := s.lookupRegistration(r.Context(), req.FileURL, req.Filetype); reg != nil {
		s.writeJSON(w, http.StatusOK, map[string]string{"uid": reg.UID})
		return
	}

	reg := &model.RemoteTileset{
		UID:       model.NewID(),
		FileURL:   req.FileURL,
		Filetype:  req.Filetype,
		CreatedAt: time.Now().UTC(),
	}

	ts, err := factory(reg)
	if err != nil {
		s.logger.Error("materialize remote tileset", "file_url", req.FileURL, "error", err)
		s.writeError(w, http.StatusBadGateway, "failed to load remote tileset")
		return
	}

	if s.st != nil {
		if err := s.st.CreateRegistration(r.Context(), reg); err != nil {
			s.logger.Error("persist registration", "uid", reg.UID, "error", err)
			s.writeError(w, http.StatusInternalServerError, "failed to persist registration")
			return
		}
	}

	s.mu.Lock()
	s.remote[reg.UID] = ts
	s.mu.Unlock()

	s.writeJSON(w, http.StatusOK, map[string]string{"uid": reg.UID})
}

// lookupRegistration checks the persistent store for an existing
// registration. Without a store every registration gets a fresh uid.
func (s *Server) lookupRegistration(ctx context.Context, fileURL, filetype string) *model.RemoteTileset {
	if s.st == nil {
		return nil
	}
	reg, err := s.st.GetRegistrationByKey(ctx, fileURL, filetype)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			s.logger.Error("lookup registration", "file_url", fileURL, "error", err)
		}
		return nil
	}
	return reg
}

// writeJSON writes a JSON response with the given status code.
func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("encode response", "error", err)
	}
}

// writeError writes a JSON error response.
func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}
