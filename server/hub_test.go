package server

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/capwire/capwire/wire"
)

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func TestHubBroadcastReachesAllSubscribers(t *testing.T) {
	h := NewHub(testLogger())
	ctx := context.Background()

	a, err := h.Subscribe()
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	b, err := h.Subscribe()
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	if h.Len() != 2 {
		t.Fatalf("expected 2 subscribers, got %d", h.Len())
	}

	res := wire.NewErrorResponse(1, wire.CodeMethodNotFound, "nope")
	if err := h.Broadcast(ctx, res); err != nil {
		t.Fatalf("Broadcast failed: %v", err)
	}

	for _, sub := range []*Subscriber{a, b} {
		got, err := sub.Next(ctx)
		if err != nil {
			t.Fatalf("Next failed: %v", err)
		}
		if got.ID != 1 || got.Error == nil {
			t.Fatalf("unexpected response: %+v", got)
		}
	}
}

func TestHubRemovedSubscriberIsSkipped(t *testing.T) {
	h := NewHub(testLogger())
	ctx := context.Background()

	a, _ := h.Subscribe()
	b, _ := h.Subscribe()
	_ = a.Close()

	if err := h.Broadcast(ctx, wire.NewErrorResponse(2, wire.CodeInternalError, "x")); err != nil {
		t.Fatalf("Broadcast failed: %v", err)
	}

	if _, err := b.Next(ctx); err != nil {
		t.Fatalf("surviving subscriber missed the broadcast: %v", err)
	}
	if h.Len() != 1 {
		t.Fatalf("expected 1 subscriber, got %d", h.Len())
	}
}

func TestHubBackpressureReleasedByClose(t *testing.T) {
	h := NewHub(testLogger())
	ctx := context.Background()

	slow, _ := h.Subscribe()

	// Saturate the slow peer's queue. Nothing is dropped on the way in.
	for i := 0; i < subscriberQueueSize; i++ {
		if err := h.Broadcast(ctx, wire.NewErrorResponse(int64(i), wire.CodeInternalError, "fill")); err != nil {
			t.Fatalf("Broadcast %d failed: %v", i, err)
		}
	}

	// The next broadcast must block on the full queue...
	blocked := make(chan error, 1)
	go func() {
		blocked <- h.Broadcast(ctx, wire.NewErrorResponse(99, wire.CodeInternalError, "overflow"))
	}()

	select {
	case err := <-blocked:
		t.Fatalf("broadcast should have applied backpressure, returned %v", err)
	case <-time.After(50 * time.Millisecond):
	}

	// ...until the peer goes away, at which point the fan-out treats it as a
	// no-op instead of hanging forever.
	_ = slow.Close()
	select {
	case err := <-blocked:
		if err != nil {
			t.Fatalf("Broadcast failed after close: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("broadcast still blocked after subscriber close")
	}
}

func TestHubBroadcastHonorsContext(t *testing.T) {
	h := NewHub(testLogger())

	sub, _ := h.Subscribe()
	ctx := context.Background()
	for i := 0; i < subscriberQueueSize; i++ {
		_ = h.Broadcast(ctx, wire.NewErrorResponse(int64(i), wire.CodeInternalError, "fill"))
	}

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	err := h.Broadcast(cancelled, wire.NewErrorResponse(100, wire.CodeInternalError, "x"))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}

	_ = sub.Close()
}

func TestHubCloseEndsSubscribers(t *testing.T) {
	h := NewHub(testLogger())

	sub, _ := h.Subscribe()
	if err := h.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	if _, err := sub.Next(context.Background()); err != io.EOF {
		t.Fatalf("expected io.EOF after hub close, got %v", err)
	}

	if _, err := h.Subscribe(); err == nil {
		t.Fatal("expected Subscribe on a closed hub to fail")
	}
}

func TestSubscriberNextDrainsQueueAfterClose(t *testing.T) {
	h := NewHub(testLogger())
	ctx := context.Background()

	sub, _ := h.Subscribe()
	if err := h.Broadcast(ctx, wire.NewErrorResponse(7, wire.CodeInternalError, "queued")); err != nil {
		t.Fatalf("Broadcast failed: %v", err)
	}
	_ = sub.Close()

	// Queued responses before the close are still observable.
	res, err := sub.Next(ctx)
	if err != nil {
		t.Fatalf("Next failed: %v", err)
	}
	if res.ID != 7 {
		t.Fatalf("unexpected response: %+v", res)
	}
	if _, err := sub.Next(ctx); err != io.EOF {
		t.Fatalf("expected io.EOF, got %v", err)
	}
}
