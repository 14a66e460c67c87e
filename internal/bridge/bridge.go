// Package bridge layers request/reply semantics over the display surface's
// message channel. The channel is fire-and-forget and unordered, so every
// outbound request carries a fresh correlation id and the bridge routes each
// inbound reply to the one callback that issued that id.
package bridge

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/manzt/higlass-go/internal/model"
)

// ErrRequestTimeout is passed to a reply callback when its request expires
// before a reply arrives.
var ErrRequestTimeout = errors.New("request timed out")

// Channel is the outbound half of the display surface's message channel.
// Send must not block indefinitely; implementations are expected to be safe
// for concurrent use.
type Channel interface {
	Send(data []byte) error
}

// ReplyFunc receives the reply for one request. Exactly one of msg and err
// is set: a delivered reply arrives as (msg, nil), a timeout as
// (nil, ErrRequestTimeout).
type ReplyFunc func(msg *InboundMessage, err error)

// OutboundMessage is the wire shape of a request to the display surface.
type OutboundMessage struct {
	Request string         `json:"request"`
	Params  map[string]any `json:"params"`
}

// InboundParams holds the correlation fields of an inbound message.
type InboundParams struct {
	UUID string `json:"uuid"`
}

// InboundMessage is a decoded message from the display surface. ImgData is
// the payload of an image-export reply; Raw holds the whole message for
// request kinds with other payload fields.
type InboundMessage struct {
	Params  InboundParams   `json:"params"`
	ImgData string          `json:"imgData,omitempty"`
	Raw     json.RawMessage `json:"-"`
}

// pendingRequest is one in-flight request awaiting its reply.
type pendingRequest struct {
	onReply ReplyFunc
	created time.Time
}

// Bridge multiplexes many in-flight requests over one Channel. Each display
// session owns its own Bridge; there is no process-wide registry.
type Bridge struct {
	mu      sync.Mutex
	pending map[string]pendingRequest
	ch      Channel
	logger  *slog.Logger
	timeout time.Duration
}

// NewBridge creates a bridge over ch. Requests never expire; a request whose
// reply is lost stays pending until cancelled.
func NewBridge(ch Channel, logger *slog.Logger) *Bridge {
	return NewBridgeWithTimeout(ch, logger, 0)
}

// NewBridgeWithTimeout creates a bridge whose requests expire after timeout.
// An expired request's callback is invoked once with ErrRequestTimeout; a
// reply arriving after expiry is dropped like any unknown id. A zero timeout
// disables expiry.
func NewBridgeWithTimeout(ch Channel, logger *slog.Logger, timeout time.Duration) *Bridge {
	return &Bridge{
		pending: make(map[string]pendingRequest),
		ch:      ch,
		logger:  logger,
		timeout: timeout,
	}
}

// Request sends {request: kind, params: params + uuid} on the channel and
// registers onReply under the fresh uuid. It never blocks waiting for the
// reply and returns the uuid so the caller can cancel. Concurrent requests
// are allowed; replies may arrive in any order.
func (b *Bridge) Request(kind string, params map[string]any, onReply ReplyFunc) (string, error) {
	id := model.NewID()

	merged := make(map[string]any, len(params)+1)
	for k, v := range params {
		merged[k] = v
	}
	merged["uuid"] = id

	data, err := json.Marshal(OutboundMessage{Request: kind, Params: merged})
	if err != nil {
		return "", fmt.Errorf("encode request: %w", err)
	}

	b.mu.Lock()
	b.pending[id] = pendingRequest{onReply: onReply, created: time.Now()}
	b.mu.Unlock()

	if err := b.ch.Send(data); err != nil {
		b.mu.Lock()
		delete(b.pending, id)
		b.mu.Unlock()
		return "", fmt.Errorf("send request: %w", err)
	}

	if b.timeout > 0 {
		go b.expire(id, b.timeout)
	}

	return id, nil
}

// HandleMessage routes one inbound message to its pending callback. The
// pending entry is removed before the callback runs, so a callback that
// issues a follow-up request of the same kind never observes a stale entry.
// Messages without a known correlation id are dropped; they are expected
// during races and duplicate delivery and are not an error. HandleMessage
// never panics regardless of what the callback does.
func (b *Bridge) HandleMessage(raw []byte) {
	var msg InboundMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		b.logger.Debug("dropping undecodable display message", "error", err)
		return
	}
	if msg.Params.UUID == "" {
		b.logger.Debug("dropping display message without correlation id")
		return
	}
	msg.Raw = json.RawMessage(raw)

	b.mu.Lock()
	req, ok := b.pending[msg.Params.UUID]
	if ok {
		delete(b.pending, msg.Params.UUID)
	}
	b.mu.Unlock()

	if !ok {
		b.logger.Debug("no pending request for reply", "uuid", msg.Params.UUID)
		return
	}

	b.invoke(msg.Params.UUID, req.onReply, &msg, nil)
}

// Cancel removes a pending request without invoking its callback. A late
// reply for a cancelled id is silently dropped. Returns whether the id was
// still pending.
func (b *Bridge) Cancel(id string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.pending[id]; !ok {
		return false
	}
	delete(b.pending, id)
	return true
}

// PendingCount returns the number of requests still awaiting replies.
func (b *Bridge) PendingCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}

// expire removes the request after d and delivers a timeout error. Removal
// races with HandleMessage; whichever deletes the entry first owns the
// single callback invocation.
func (b *Bridge) expire(id string, d time.Duration) {
	time.Sleep(d)

	b.mu.Lock()
	req, ok := b.pending[id]
	if ok {
		delete(b.pending, id)
	}
	b.mu.Unlock()

	if ok {
		b.invoke(id, req.onReply, nil, ErrRequestTimeout)
	}
}

// invoke runs a caller-supplied callback, containing any panic so one bad
// callback cannot disturb delivery of other pending replies.
func (b *Bridge) invoke(id string, fn ReplyFunc, msg *InboundMessage, err error) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("reply callback panicked", "uuid", id, "panic", r)
		}
	}()
	fn(msg, err)
}
