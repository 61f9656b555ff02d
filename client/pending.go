package client

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/capwire/capwire/wire"
)

// pendingCall is one outstanding request awaiting its correlated response.
// The channel has capacity one and receives at most one response.
type pendingCall struct {
	id        int64
	createdAt time.Time
	ch        chan *wire.Response
}

// pendingCalls is the client-side correlation registry. It is accessed from
// the request-issuing path, the stream-reading path, and teardown.
type pendingCalls struct {
	log *slog.Logger

	mu     sync.Mutex
	calls  map[int64]*pendingCall
	closed bool
}

func newPendingCalls(log *slog.Logger) *pendingCalls {
	return &pendingCalls{
		log:   log,
		calls: make(map[int64]*pendingCall),
	}
}

// register creates a waiter for id. The caller must complete registration
// before transmitting the request so an immediate reply finds the entry.
// Once cancelAll has run the registry is closed and registration fails with
// ErrNotConnected: a waiter added after the drain would never be released.
// A duplicate id is a programmer error: the id generator is monotonic.
func (p *pendingCalls) register(id int64) (*pendingCall, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, ErrNotConnected
	}
	if _, exists := p.calls[id]; exists {
		return nil, fmt.Errorf("call id %d already registered", id)
	}
	pc := &pendingCall{
		id:        id,
		createdAt: time.Now(),
		ch:        make(chan *wire.Response, 1),
	}
	p.calls[id] = pc
	return pc, nil
}

// resolve delivers res to the waiter registered under its id and removes the
// entry. A response with no matching waiter (late after a timeout, or a
// duplicate) is discarded.
func (p *pendingCalls) resolve(res *wire.Response) {
	p.mu.Lock()
	pc, ok := p.calls[res.ID]
	if ok {
		delete(p.calls, res.ID)
	}
	p.mu.Unlock()

	if !ok {
		p.log.Debug("discarding unmatched response", slog.Int64("id", res.ID))
		return
	}
	pc.ch <- res
}

// remove drops the waiter for id without resolving it. Used when a call
// times out or fails to transmit.
func (p *pendingCalls) remove(id int64) {
	p.mu.Lock()
	delete(p.calls, id)
	p.mu.Unlock()
}

// cancelAll releases every pending waiter with a synthetic failure and
// closes the registry against further registration. A waiter left blocked
// forever is a correctness bug, so teardown always ends here.
func (p *pendingCalls) cancelAll(reason string) {
	p.mu.Lock()
	p.closed = true
	calls := p.calls
	p.calls = make(map[int64]*pendingCall)
	p.mu.Unlock()

	for id, pc := range calls {
		pc.ch <- wire.NewErrorResponse(id, wire.CodeRequestCancelled, reason)
	}
	if len(calls) > 0 {
		p.log.Debug("cancelled pending calls", slog.Int("count", len(calls)), slog.String("reason", reason))
	}
}

// len reports the number of outstanding waiters.
func (p *pendingCalls) len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.calls)
}
