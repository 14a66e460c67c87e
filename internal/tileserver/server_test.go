package tileserver

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"testing"

	"github.com/manzt/higlass-go/internal/model"
	"github.com/manzt/higlass-go/internal/store"
)

func TestServerLifecycle(t *testing.T) {
	srv := New([]Tileset{matrixTileset("m1")}, Options{Logger: testLogger()})

	if got := srv.State(); got != StateNotStarted {
		t.Errorf("state = %q, want %q", got, StateNotStarted)
	}

	addr, err := srv.Start(context.Background())
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { srv.Stop(context.Background()) })

	if got := srv.State(); got != StateRunning {
		t.Errorf("state after start = %q, want %q", got, StateRunning)
	}
	if addr != srv.APIAddress() {
		t.Errorf("Start returned %q, APIAddress() = %q", addr, srv.APIAddress())
	}

	// The server is reachable at the returned address as soon as Start returns.
	resp, err := http.Get(addr + "/")
	if err != nil {
		t.Fatalf("GET %s: %v", addr, err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}

	if err := srv.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if got := srv.State(); got != StateStopped {
		t.Errorf("state after stop = %q, want %q", got, StateStopped)
	}
}

func TestServerStartTwice(t *testing.T) {
	srv := New(nil, Options{Logger: testLogger()})

	if _, err := srv.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { srv.Stop(context.Background()) })

	if _, err := srv.Start(context.Background()); !errors.Is(err, ErrAlreadyStarted) {
		t.Errorf("second Start error = %v, want ErrAlreadyStarted", err)
	}
}

func TestServerBindFailure(t *testing.T) {
	first := New(nil, Options{Logger: testLogger()})
	addr, err := first.Start(context.Background())
	if err != nil {
		t.Fatalf("Start first: %v", err)
	}
	t.Cleanup(func() { first.Stop(context.Background()) })

	// Second server on the same port must fail to bind.
	second := New(nil, Options{Logger: testLogger(), Port: portOf(t, addr)})
	if _, err := second.Start(context.Background()); err == nil {
		t.Error("expected bind failure on occupied port, got nil")
		second.Stop(context.Background())
	}
}

// portOf extracts the port from an api address like http://localhost:4321/api/v1.
func portOf(t *testing.T, apiAddr string) int {
	t.Helper()
	u, err := url.Parse(apiAddr)
	if err != nil {
		t.Fatalf("parse %q: %v", apiAddr, err)
	}
	port, err := strconv.Atoi(u.Port())
	if err != nil {
		t.Fatalf("port of %q: %v", apiAddr, err)
	}
	return port
}

func TestServerRestoresPersistedRegistrations(t *testing.T) {
	st, err := store.NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	reg := &model.RemoteTileset{
		UID:      "persisted-1",
		FileURL:  "https://example.org/m.cool",
		Filetype: "cooler",
	}
	if err := st.CreateRegistration(context.Background(), reg); err != nil {
		t.Fatalf("CreateRegistration: %v", err)
	}

	factories := NewFactoryRegistry()
	factories.Register("cooler", func(r *model.RemoteTileset) (Tileset, error) {
		return NewStaticTileset(StaticConfig{UID: r.UID, Datatype: "matrix"}), nil
	})

	srv := New(nil, Options{Logger: testLogger(), Store: st, Factories: factories})
	if _, err := srv.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { srv.Stop(context.Background()) })

	if ts := srv.findTileset("persisted-1"); ts == nil {
		t.Error("persisted registration was not restored on start")
	}
}
