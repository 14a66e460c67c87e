// Package display assembles a running display session: it composes the
// caller's views against a freshly started tile server, builds the merged
// view configuration for the display surface, and layers the correlation
// bridge over the surface's message channel.
package display

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/manzt/higlass-go/internal/bridge"
	"github.com/manzt/higlass-go/internal/compose"
	"github.com/manzt/higlass-go/internal/model"
	"github.com/manzt/higlass-go/internal/store"
	"github.com/manzt/higlass-go/internal/tileserver"
)

// RequestSaveAsPNG asks the display surface for a base64 png of the current
// render.
const RequestSaveAsPNG = "save_as_png"

// ErrNoChannel is returned by request operations on a session created
// without a display channel.
var ErrNoChannel = errors.New("display session has no message channel")

// Options configures a display session.
type Options struct {
	// Tilesets are the implementations backing the tileset refs the views
	// mention. Refs without an implementation fail composition.
	Tilesets []tileserver.Tileset

	// Host and Port configure where the tile server binds. A zero port
	// picks a free one.
	Host string
	Port int

	// Store and Factories are passed through to the tile server for
	// runtime registration of remote tilesets.
	Store     store.Store
	Factories *tileserver.FactoryRegistry

	// Axis synchronization groups for the merged view configuration.
	LocationSyncs   [][]string
	ValueScaleSyncs [][]string
	ZoomSyncs       [][]string

	// Channel is the outbound half of the display surface's message
	// channel. Nil disables request operations; composition still works.
	Channel bridge.Channel

	// RequestTimeout bounds how long a bridge request stays pending.
	// Zero means forever.
	RequestTimeout time.Duration

	Logger *slog.Logger
}

// Session is one running display: a started tile server, the composed view
// configuration referencing it, and the correlation bridge for async
// requests against the render surface. The session owns the server and the
// bridge; Close tears them down.
type Session struct {
	server   *tileserver.Server
	bridge   *bridge.Bridge
	states   *StateBroker
	viewConf *model.ViewConfig
	address  string
	logger   *slog.Logger
}

// New composes views into a session. The tile server is started before New
// returns; a backend that cannot bind fails the whole composition and no
// session is created. The caller's views are never modified.
func New(ctx context.Context, views []*model.View, opts Options) (*Session, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	byUID := make(map[string]tileserver.Tileset, len(opts.Tilesets))
	for _, ts := range opts.Tilesets {
		byUID[ts.UID()] = ts
	}

	var srv *tileserver.Server
	start := func(refs []model.TilesetRef) (string, error) {
		tilesets, err := resolveTilesets(refs, byUID)
		if err != nil {
			return "", err
		}
		srv = tileserver.New(tilesets, tileserver.Options{
			Host:      opts.Host,
			Port:      opts.Port,
			Store:     opts.Store,
			Factories: opts.Factories,
			Logger:    logger,
		})
		return srv.Start(ctx)
	}

	res, err := compose.Compose(views, start)
	if err != nil {
		return nil, err
	}

	s := &Session{
		server:   srv,
		states:   NewStateBroker(),
		viewConf: model.NewViewConfig(res.Views, opts.LocationSyncs, opts.ValueScaleSyncs, opts.ZoomSyncs),
		address:  res.Address,
		logger:   logger,
	}
	if opts.Channel != nil {
		s.bridge = bridge.NewBridgeWithTimeout(opts.Channel, logger, opts.RequestTimeout)
	}
	return s, nil
}

// resolveTilesets maps extracted refs to their implementations. Repeated
// refs to the same uid collapse to one tileset; the server has no use for
// serving the same data twice.
func resolveTilesets(refs []model.TilesetRef, byUID map[string]tileserver.Tileset) ([]tileserver.Tileset, error) {
	seen := make(map[string]bool, len(refs))
	tilesets := make([]tileserver.Tileset, 0, len(refs))
	for _, ref := range refs {
		if seen[ref.UID] {
			continue
		}
		seen[ref.UID] = true
		ts, ok := byUID[ref.UID]
		if !ok {
			return nil, fmt.Errorf("no tileset implementation for uid %q", ref.UID)
		}
		tilesets = append(tilesets, ts)
	}
	return tilesets, nil
}

// ViewConfig returns the merged configuration document for the display
// surface.
func (s *Session) ViewConfig() *model.ViewConfig {
	return s.viewConf
}

// Address returns the tile server's API address.
func (s *Session) Address() string {
	return s.address
}

// Server returns the tile server handle owned by this session.
func (s *Session) Server() *tileserver.Server {
	return s.server
}

// States returns the broker carrying display state events (location, cursor
// position, selection).
func (s *Session) States() *StateBroker {
	return s.states
}

// inboundEnvelope sniffs the two inbound message shapes: state events carry
// a state kind, replies carry params.uuid.
type inboundEnvelope struct {
	State string          `json:"state"`
	Value json.RawMessage `json:"value"`
}

// HandleMessage routes one raw inbound message from the display surface:
// state-change events go to the state broker, correlated replies to the
// bridge. Anything else is dropped. Safe to call concurrently; never panics.
func (s *Session) HandleMessage(raw []byte) {
	var env inboundEnvelope
	if err := json.Unmarshal(raw, &env); err == nil && env.State != "" {
		s.states.Publish(env.State, env.Value)
		return
	}
	if s.bridge == nil {
		s.logger.Debug("dropping message on channel-less session")
		return
	}
	s.bridge.HandleMessage(raw)
}

// ExportImage asks the display surface for a base64 png of the current
// render. onReply runs when the reply arrives, with the data-URI payload or
// the delivery error. The returned id can cancel the request.
func (s *Session) ExportImage(onReply func(imgData string, err error)) (string, error) {
	if s.bridge == nil {
		return "", ErrNoChannel
	}
	return s.bridge.Request(RequestSaveAsPNG, nil, func(msg *bridge.InboundMessage, err error) {
		if err != nil {
			onReply("", err)
			return
		}
		onReply(msg.ImgData, nil)
	})
}

// SaveImage exports the current render and writes the decoded png to
// filename, blocking until the file is written, the request fails, or ctx
// is done. A context cancellation also cancels the pending request.
func (s *Session) SaveImage(ctx context.Context, filename string) error {
	done := make(chan error, 1)
	id, err := s.ExportImage(func(imgData string, err error) {
		if err != nil {
			done <- err
			return
		}
		done <- SaveBase64Image(filename, imgData)
	})
	if err != nil {
		return err
	}

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		s.bridge.Cancel(id)
		return ctx.Err()
	}
}

// Cancel removes a pending request without invoking its callback.
func (s *Session) Cancel(id string) bool {
	if s.bridge == nil {
		return false
	}
	return s.bridge.Cancel(id)
}

// Close stops the tile server and closes the state broker. The bridge needs
// no teardown; pending callbacks simply never fire once the surface is gone.
func (s *Session) Close(ctx context.Context) error {
	s.states.Close()
	if s.server == nil {
		return nil
	}
	return s.server.Stop(ctx)
}

// ViewFrom builds a single view showing the given tilesets, one track per
// tileset using its type and position hints, bound to addr. Tilesets
// without hints are skipped.
func ViewFrom(tilesets []model.TilesetRef, addr string) *model.View {
	view := &model.View{UID: model.NewID()}
	for _, ts := range tilesets {
		if ts.TrackType == "" || ts.TrackPosition == "" {
			continue
		}
		ref := ts
		view.Tracks = append(view.Tracks, &model.Track{
			Type:     ts.TrackType,
			Position: ts.TrackPosition,
			Conf:     map[string]any{"server": addr},
			Tileset:  &ref,
		})
	}
	return view
}
