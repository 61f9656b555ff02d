package server

import (
	"context"
	"io"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/capwire/capwire/wire"
)

// subscriberQueueSize bounds each peer's outbound queue. Broadcast applies
// backpressure when a queue is full rather than dropping: protocol responses
// must not be lost.
const subscriberQueueSize = 32

// Hub owns the set of connected push-stream peers and fans computed
// responses out to all of them. It is safe for concurrent use from the
// request-dispatch path, the per-peer stream writers, and teardown.
type Hub struct {
	log *slog.Logger

	mu     sync.Mutex
	subs   map[string]*Subscriber
	closed bool
}

// NewHub builds an empty hub.
func NewHub(log *slog.Logger) *Hub {
	if log == nil {
		log = slog.Default()
	}
	return &Hub{
		log:  log,
		subs: make(map[string]*Subscriber),
	}
}

// Subscriber is one connected push-stream peer. Its queue is drained by the
// HTTP handler serving that peer's event stream.
type Subscriber struct {
	id   string
	hub  *Hub
	ch   chan *wire.Response
	done chan struct{}
	once sync.Once
}

// ID returns the peer's identity.
func (s *Subscriber) ID() string { return s.id }

// Next blocks until a response is queued for this peer, the subscriber is
// closed (io.EOF), or ctx is done.
func (s *Subscriber) Next(ctx context.Context) (*wire.Response, error) {
	select {
	case res := <-s.ch:
		return res, nil
	case <-s.done:
		// Drain anything queued before the close won the race.
		select {
		case res := <-s.ch:
			return res, nil
		default:
			return nil, io.EOF
		}
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close removes the subscriber from the hub. It is idempotent and safe to
// call while a broadcast is in flight: an in-flight fan-out treats the
// removed peer as a no-op.
func (s *Subscriber) Close() error {
	s.once.Do(func() {
		s.hub.mu.Lock()
		delete(s.hub.subs, s.id)
		s.hub.mu.Unlock()
		close(s.done)
	})
	return nil
}

// Subscribe registers a new push-stream peer.
func (h *Hub) Subscribe() (*Subscriber, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, io.ErrClosedPipe
	}

	sub := &Subscriber{
		id:   uuid.NewString(),
		hub:  h,
		ch:   make(chan *wire.Response, subscriberQueueSize),
		done: make(chan struct{}),
	}
	h.subs[sub.id] = sub
	h.log.Debug("subscriber connected", slog.String("subscriber_id", sub.id), slog.Int("subscribers", len(h.subs)))
	return sub, nil
}

// Broadcast queues res on every currently connected subscriber. A full queue
// blocks until the peer drains it or disconnects; a removed peer is skipped.
func (h *Hub) Broadcast(ctx context.Context, res *wire.Response) error {
	h.mu.Lock()
	targets := make([]*Subscriber, 0, len(h.subs))
	for _, sub := range h.subs {
		targets = append(targets, sub)
	}
	h.mu.Unlock()

	for _, sub := range targets {
		select {
		case sub.ch <- res:
		case <-sub.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// Len reports the number of connected subscribers.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Close disconnects all subscribers and refuses new ones.
func (h *Hub) Close() error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	subs := make([]*Subscriber, 0, len(h.subs))
	for _, sub := range h.subs {
		subs = append(subs, sub)
	}
	h.mu.Unlock()

	for _, sub := range subs {
		_ = sub.Close()
	}
	return nil
}
