package display_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/manzt/higlass-go/internal/compose"
	"github.com/manzt/higlass-go/internal/display"
	"github.com/manzt/higlass-go/internal/model"
	"github.com/manzt/higlass-go/internal/tileserver"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

// fakeChannel records outbound requests for the test to answer manually.
type fakeChannel struct {
	sent [][]byte
}

func (c *fakeChannel) Send(data []byte) error {
	c.sent = append(c.sent, data)
	return nil
}

// lastUUID extracts params.uuid from the most recent outbound request.
func (c *fakeChannel) lastUUID(t *testing.T) string {
	t.Helper()
	if len(c.sent) == 0 {
		t.Fatal("no outbound requests sent")
	}
	var msg struct {
		Params struct {
			UUID string `json:"uuid"`
		} `json:"params"`
	}
	if err := json.Unmarshal(c.sent[len(c.sent)-1], &msg); err != nil {
		t.Fatalf("decode outbound request: %v", err)
	}
	return msg.Params.UUID
}

func staticTileset(uid string) tileserver.Tileset {
	return tileserver.NewStaticTileset(tileserver.StaticConfig{
		UID:      uid,
		Datatype: "vector",
		Info:     map[string]any{"max_zoom": 2},
	})
}

func leaf(uid string) *model.Track {
	return &model.Track{Type: "line", Tileset: &model.TilesetRef{UID: uid}}
}

// TestSessionEndToEnd composes a view mixing unbound tracks with one already
// bound to an external backend, against a real tile server.
func TestSessionEndToEnd(t *testing.T) {
	views := []*model.View{
		{UID: "v1", Tracks: []*model.Track{
			{Type: "combined", Tracks: []*model.Track{leaf("t1"), leaf("t2")}},
			{Type: "line", Tileset: &model.TilesetRef{UID: "t3"}, Conf: map[string]any{"server": "external:9000"}},
		}},
	}

	before, err := json.Marshal(views)
	if err != nil {
		t.Fatalf("marshal before: %v", err)
	}

	sess, err := display.New(context.Background(), views, display.Options{
		Tilesets: []tileserver.Tileset{staticTileset("t1"), staticTileset("t2"), staticTileset("t3")},
		Logger:   testLogger(),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { sess.Close(context.Background()) })

	addr := sess.Address()
	combined := sess.ViewConfig().Views[0].Tracks[0]
	if combined.Tracks[0].Conf["server"] != addr {
		t.Errorf("t1 server = %v, want %q", combined.Tracks[0].Conf["server"], addr)
	}
	if combined.Tracks[1].Conf["server"] != addr {
		t.Errorf("t2 server = %v, want %q", combined.Tracks[1].Conf["server"], addr)
	}
	if got := sess.ViewConfig().Views[0].Tracks[1].Conf["server"]; got != "external:9000" {
		t.Errorf("t3 server = %v, want external:9000", got)
	}

	after, err := json.Marshal(views)
	if err != nil {
		t.Fatalf("marshal after: %v", err)
	}
	if string(before) != string(after) {
		t.Errorf("original views changed:\nbefore: %s\nafter:  %s", before, after)
	}

	// The advertised backend actually serves the composed tilesets.
	resp, err := http.Get(addr + "/tileset_info/?d=t1")
	if err != nil {
		t.Fatalf("GET tileset_info: %v", err)
	}
	defer resp.Body.Close()
	var info map[string]map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		t.Fatalf("decode tileset_info: %v", err)
	}
	if info["t1"]["max_zoom"] != float64(2) {
		t.Errorf("t1 info = %v, want max_zoom 2", info["t1"])
	}
}

func TestSessionMissingTilesetImplementation(t *testing.T) {
	views := []*model.View{{UID: "v1", Tracks: []*model.Track{leaf("unknown")}}}

	_, err := display.New(context.Background(), views, display.Options{Logger: testLogger()})

	var startErr *compose.BackendStartError
	if !errors.As(err, &startErr) {
		t.Fatalf("error = %v, want *BackendStartError", err)
	}
}

func TestSessionViewConfigDocumentShape(t *testing.T) {
	sess, err := display.New(context.Background(), nil, display.Options{
		Logger:        testLogger(),
		LocationSyncs: [][]string{{"v1", "v2"}},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { sess.Close(context.Background()) })

	raw, err := json.Marshal(sess.ViewConfig())
	if err != nil {
		t.Fatalf("marshal viewconf: %v", err)
	}
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		t.Fatalf("unmarshal viewconf: %v", err)
	}
	for _, key := range []string{"views", "locationSyncs", "valueScaleSyncs", "zoomSyncs"} {
		if _, ok := doc[key]; !ok {
			t.Errorf("viewconf missing key %q", key)
		}
	}
}

func newChannelSession(t *testing.T) (*display.Session, *fakeChannel) {
	t.Helper()
	ch := &fakeChannel{}
	sess, err := display.New(context.Background(), nil, display.Options{
		Logger:  testLogger(),
		Channel: ch,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { sess.Close(context.Background()) })
	return sess, ch
}

func TestExportImageRoundTrip(t *testing.T) {
	sess, ch := newChannelSession(t)

	var got string
	_, err := sess.ExportImage(func(imgData string, err error) {
		if err != nil {
			t.Errorf("reply error: %v", err)
			return
		}
		got = imgData
	})
	if err != nil {
		t.Fatalf("ExportImage: %v", err)
	}

	uuid := ch.lastUUID(t)
	sess.HandleMessage(fmt.Appendf(nil, `{"params":{"uuid":%q},"imgData":"data:image/png;base64,AAAA"}`, uuid))

	if got != "data:image/png;base64,AAAA" {
		t.Errorf("imgData = %q, want the data URI", got)
	}
}

func TestExportImageWithoutChannel(t *testing.T) {
	sess, err := display.New(context.Background(), nil, display.Options{Logger: testLogger()})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { sess.Close(context.Background()) })

	if _, err := sess.ExportImage(func(string, error) {}); !errors.Is(err, display.ErrNoChannel) {
		t.Errorf("error = %v, want ErrNoChannel", err)
	}
}

func TestSaveImageWritesDecodedBytes(t *testing.T) {
	sess, ch := newChannelSession(t)
	filename := filepath.Join(t.TempDir(), "render.png")

	done := make(chan error, 1)
	go func() {
		done <- sess.SaveImage(context.Background(), filename)
	}()

	// Wait for the outbound request, then answer it.
	deadline := time.After(2 * time.Second)
	for len(ch.sent) == 0 {
		select {
		case <-deadline:
			t.Fatal("no request sent")
		case <-time.After(5 * time.Millisecond):
		}
	}
	uuid := ch.lastUUID(t)
	sess.HandleMessage(fmt.Appendf(nil, `{"params":{"uuid":%q},"imgData":"data:image/png;base64,AAAA"}`, uuid))

	if err := <-done; err != nil {
		t.Fatalf("SaveImage: %v", err)
	}

	raw, err := os.ReadFile(filename)
	if err != nil {
		t.Fatalf("read saved image: %v", err)
	}
	want := []byte{0, 0, 0} // base64 "AAAA"
	if string(raw) != string(want) {
		t.Errorf("file bytes = %v, want %v", raw, want)
	}
}

func TestSaveImageContextCancel(t *testing.T) {
	sess, _ := newChannelSession(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := sess.SaveImage(ctx, filepath.Join(t.TempDir(), "never.png"))
	if !errors.Is(err, context.Canceled) {
		t.Errorf("error = %v, want context.Canceled", err)
	}
}

func TestHandleMessageRoutesStateEvents(t *testing.T) {
	sess, _ := newChannelSession(t)

	events, unsubscribe := sess.States().Subscribe(display.StateLocation)
	defer unsubscribe()

	sess.HandleMessage([]byte(`{"state":"location","value":[1000,2000]}`))

	select {
	case v := <-events:
		if string(v) != "[1000,2000]" {
			t.Errorf("event value = %s, want [1000,2000]", v)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no state event delivered")
	}
}

func TestViewFromTilesetHints(t *testing.T) {
	tilesets := []model.TilesetRef{
		{UID: "a", TrackType: "line", TrackPosition: model.PositionTop},
		{UID: "b"}, // no hints, skipped
	}

	view := display.ViewFrom(tilesets, "http://localhost:4321/api/v1")
	if len(view.Tracks) != 1 {
		t.Fatalf("view has %d tracks, want 1", len(view.Tracks))
	}
	track := view.Tracks[0]
	if track.Type != "line" || track.Position != model.PositionTop {
		t.Errorf("track = %s@%s, want line@top", track.Type, track.Position)
	}
	if track.Conf["server"] != "http://localhost:4321/api/v1" {
		t.Errorf("track server = %v", track.Conf["server"])
	}
	if track.Tileset.UID != "a" {
		t.Errorf("track tileset = %q, want a", track.Tileset.UID)
	}
}
