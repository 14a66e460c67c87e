// Package tileserver implements the tile-serving backend behind a composed
// display: an HTTP API over a set of tilesets, started on demand and reached
// through the address it reports after binding.
package tileserver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/manzt/higlass-go/internal/store"
)

const (
	shutdownTimeout   = 10 * time.Second
	readHeaderTimeout = 10 * time.Second
	writeTimeout      = 30 * time.Second
)

// Server lifecycle states.
const (
	StateNotStarted = "not_started"
	StateRunning    = "running"
	StateStopped    = "stopped"
)

// ErrAlreadyStarted is returned by Start on a server that is not in the
// not-started state. A server handle is not restartable; start a new one.
var ErrAlreadyStarted = errors.New("tile server already started")

// Options configures a Server.
type Options struct {
	// Host to bind and to advertise in the API address. Defaults to
	// "localhost".
	Host string

	// Port to bind. Zero picks a free port.
	Port int

	// Store persists remote tileset registrations across restarts. Nil
	// keeps registrations in memory only.
	Store store.Store

	// Factories resolves filetypes for the register endpoint. Nil disables
	// runtime registration.
	Factories *FactoryRegistry

	Logger *slog.Logger
}

// Server serves a set of tilesets over HTTP. It is handed to the composition
// engine as the backend-start collaborator and owned by the display session
// that created it.
type Server struct {
	mu         sync.Mutex
	state      string
	host       string
	port       int
	tilesets   []Tileset
	remote     map[string]Tileset
	httpServer *http.Server
	router     *chi.Mux
	st         store.Store
	factories  *FactoryRegistry
	logger     *slog.Logger
}

// New creates a tile server for the given tilesets. The server does not
// listen until Start is called.
func New(tilesets []Tileset, opts Options) *Server {
	host := opts.Host
	if host == "" {
		host = "localhost"
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		state:     StateNotStarted,
		host:      host,
		port:      opts.Port,
		tilesets:  tilesets,
		remote:    make(map[string]Tileset),
		router:    chi.NewRouter(),
		st:        opts.Store,
		factories: opts.Factories,
		logger:    logger,
	}

	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.Recoverer)
	s.router.Use(s.loggingMiddleware)
	s.router.Use(metricsMiddleware)
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "HEAD", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-Id"},
		ExposedHeaders:   []string{"X-Request-Id"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	s.routes()

	return s
}

// routes registers all HTTP routes on the router.
func (s *Server) routes() {
	s.router.Get("/healthz", s.handleHealthz)
	s.router.Handle("/metrics", metricsHandler())

	s.router.Route("/api/v1", func(r chi.Router) {
		r.Get("/", s.handleHello)
		r.Head("/", s.handleHello)
		r.Get("/tilesets/", s.handleListTilesets)
		r.Get("/tileset_info/", s.handleTilesetInfo)
		r.Get("/tiles/", s.handleTiles)
		r.Get("/chrom-sizes/", s.handleChromSizes)
		r.Get("/available-chrom-sizes/", s.handleAvailableChromSizes)
		r.Get("/uids_by_filename/", s.handleUIDsByFilename)
		r.Post("/register_url/", s.handleRegisterURL)
	})
}

// Router returns the chi router, mainly for handler tests.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Start binds the listener, restores persisted remote registrations, and
// begins serving in the background. It returns the API address the display
// configuration should reference. Start does not return until the server is
// reachable or has failed.
func (s *Server) Start(ctx context.Context) (string, error) {
	s.mu.Lock()
	if s.state != StateNotStarted {
		s.mu.Unlock()
		return "", ErrAlreadyStarted
	}
	s.mu.Unlock()

	if err := s.restoreRegistrations(ctx); err != nil {
		return "", err
	}

	ln, err := net.Listen("tcp", fmt.Sprintf("%s:%d", s.host, s.port))
	if err != nil {
		return "", fmt.Errorf("bind %s:%d: %w", s.host, s.port, err)
	}

	s.mu.Lock()
	s.port = ln.Addr().(*net.TCPAddr).Port
	s.state = StateRunning
	s.httpServer = &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: readHeaderTimeout,
		WriteTimeout:      writeTimeout,
	}
	addr := s.apiAddressLocked()
	s.mu.Unlock()

	go func() {
		if err := s.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Error("tile server stopped unexpectedly", "error", err)
		}
	}()

	s.logger.Info("tile server listening", "address", addr, "tilesets", len(s.tilesets))
	return addr, nil
}

// Stop shuts the server down gracefully. Stopping a server that never ran is
// a no-op.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateRunning {
		s.state = StateStopped
		s.mu.Unlock()
		return nil
	}
	s.state = StateStopped
	srv := s.httpServer
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown tile server: %w", err)
	}
	s.logger.Info("tile server stopped")
	return nil
}

// State returns the lifecycle state of the server.
func (s *Server) State() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// APIAddress returns the address tracks should point at. Meaningful once
// Start has returned.
func (s *Server) APIAddress() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.apiAddressLocked()
}

func (s *Server) apiAddressLocked() string {
	return fmt.Sprintf("http://%s:%d/api/v1", s.host, s.port)
}

// restoreRegistrations re-materializes remote tilesets persisted by earlier
// runs. Registrations whose filetype is no longer known are skipped.
func (s *Server) restoreRegistrations(ctx context.Context) error {
	if s.st == nil || s.factories == nil {
		return nil
	}

	regs, err := s.st.ListRegistrations(ctx)
	if err != nil {
		return fmt.Errorf("restore registrations: %w", err)
	}

	for _, reg := range regs {
		factory, err := s.factories.Resolve(reg.Filetype)
		if err != nil {
			s.logger.Warn("skipping persisted registration", "uid", reg.UID, "filetype", reg.Filetype, "error", err)
			continue
		}
		ts, err := factory(reg)
		if err != nil {
			s.logger.Warn("skipping persisted registration", "uid", reg.UID, "error", err)
			continue
		}
		s.mu.Lock()
		s.remote[reg.UID] = ts
		s.mu.Unlock()
	}
	return nil
}

// allTilesets returns the static tilesets plus any registered remote ones.
func (s *Server) allTilesets() []Tileset {
	s.mu.Lock()
	defer s.mu.Unlock()

	all := make([]Tileset, 0, len(s.tilesets)+len(s.remote))
	all = append(all, s.tilesets...)
	for _, ts := range s.remote {
		all = append(all, ts)
	}
	return all
}

// findTileset returns the tileset with the given uid, or nil.
func (s *Server) findTileset(uid string) Tileset {
	for _, ts := range s.allTilesets() {
		if ts.UID() == uid {
			return ts
		}
	}
	return nil
}

// loggingMiddleware logs each request using the structured logger.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		s.logger.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}
