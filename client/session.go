// Package client implements the client half of the transport: a Session
// owning the push-stream reader, the correlation registry, and the outbound
// request sender.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/capwire/capwire/capability"
	"github.com/capwire/capwire/internal/sse"
	"github.com/capwire/capwire/wire"
)

// ClientInfo identifies this client in the initialize request.
type ClientInfo struct {
	Name    string `json:"name"`
	Version string `json:"version,omitempty"`
}

type initializeParams struct {
	ProtocolVersion string         `json:"protocolVersion"`
	Capabilities    map[string]any `json:"capabilities"`
	ClientInfo      ClientInfo     `json:"clientInfo"`
}

type initializeResult struct {
	ProtocolVersion string `json:"protocolVersion"`
	ServerInfo      struct {
		Name    string `json:"name"`
		Version string `json:"version,omitempty"`
	} `json:"serverInfo"`
}

type callParams struct {
	Name      string `json:"name"`
	Arguments any    `json:"arguments,omitempty"`
}

type callResult struct {
	Content []capability.ContentBlock `json:"content"`
}

type listResult struct {
	Capabilities []capability.Descriptor `json:"capabilities"`
}

// Option configures Connect.
type Option func(*Session)

// WithHTTPClient overrides the HTTP client used for both the push stream and
// outbound requests.
func WithHTTPClient(c *http.Client) Option {
	return func(s *Session) { s.httpc = c }
}

// WithLogger sets the session logger.
func WithLogger(log *slog.Logger) Option {
	return func(s *Session) { s.log = log }
}

// WithHandshakeTimeout bounds the initialize round trip performed by
// Connect.
func WithHandshakeTimeout(d time.Duration) Option {
	return func(s *Session) { s.handshakeTimeout = d }
}

// WithClientInfo sets the identity sent during initialize.
func WithClientInfo(info ClientInfo) Option {
	return func(s *Session) { s.info = info }
}

const defaultHandshakeTimeout = 10 * time.Second

// Session is one live connection to a transport server.
type Session struct {
	baseURL          string
	httpc            *http.Client
	log              *slog.Logger
	info             ClientInfo
	handshakeTimeout time.Duration

	nextID  atomic.Int64
	pending *pendingCalls

	protocolVersion string
	serverName      string

	cancelReader context.CancelFunc
	readerDone   chan struct{}

	mu     sync.Mutex
	closed bool
}

// Connect opens the push stream, starts the background reader, and performs
// the initialize round trip. The returned session is ready for Invoke and
// ListCapabilities. On any failure the partially built session is torn down.
func Connect(ctx context.Context, serverURL string, opts ...Option) (*Session, error) {
	s := &Session{
		baseURL:          serverURL,
		httpc:            &http.Client{},
		log:              slog.Default(),
		info:             ClientInfo{Name: "capwire-client", Version: "1.0.0"},
		handshakeTimeout: defaultHandshakeTimeout,
		pending:          nil,
		readerDone:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.pending = newPendingCalls(s.log)

	// The push stream outlives ctx: its lifetime is the session's, ended by
	// Disconnect or a transport failure.
	readerCtx, cancel := context.WithCancel(context.Background())
	s.cancelReader = cancel

	stream, err := s.openStream(readerCtx)
	if err != nil {
		cancel()
		close(s.readerDone)
		s.markClosed()
		return nil, &TransportError{Op: "connect", Cause: err}
	}

	go s.readLoop(stream)

	if err := s.initialize(ctx); err != nil {
		_ = s.Disconnect()
		return nil, err
	}

	return s, nil
}

func (s *Session) openStream(ctx context.Context) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"/sse", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := s.httpc.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_ = resp.Body.Close()
		return nil, fmt.Errorf("open push stream: status %d", resp.StatusCode)
	}
	return resp.Body, nil
}

// readLoop is the session's single long-lived task. It fans decoded
// responses into the correlation registry. A malformed frame is dropped; the
// loop ends only when the stream itself does, at which point every pending
// waiter is released.
func (s *Session) readLoop(stream io.ReadCloser) {
	defer close(s.readerDone)
	defer stream.Close()

	dec := sse.NewDecoder(stream)
	for dec.Next() {
		data := dec.Data()
		if len(data) == 0 {
			continue
		}
		env, err := wire.Decode(data)
		if err != nil {
			s.log.Warn("dropping malformed frame", slog.String("err", err.Error()))
			continue
		}
		res := env.AsResponse()
		if res == nil {
			s.log.Warn("dropping non-response frame", slog.String("method", env.Method))
			continue
		}
		s.pending.resolve(res)
	}
	if err := dec.Err(); err != nil {
		s.log.Info("push stream failed", slog.String("err", err.Error()))
	}

	s.markClosed()
	s.pending.cancelAll("push stream closed")
}

func (s *Session) markClosed() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
}

func (s *Session) initialize(ctx context.Context) error {
	raw, err := s.call(ctx, "initialize", initializeParams{
		ProtocolVersion: "2024-11-05",
		Capabilities:    map[string]any{},
		ClientInfo:      s.info,
	}, s.handshakeTimeout)
	if err != nil {
		return fmt.Errorf("initialize: %w", err)
	}

	var res initializeResult
	if err := json.Unmarshal(raw, &res); err != nil {
		return fmt.Errorf("initialize: decode result: %w", err)
	}
	s.protocolVersion = res.ProtocolVersion
	s.serverName = res.ServerInfo.Name

	s.log.Info("session established",
		slog.String("protocol_version", s.protocolVersion),
		slog.String("server", s.serverName))
	return nil
}

// ProtocolVersion reports the version negotiated during connect.
func (s *Session) ProtocolVersion() string { return s.protocolVersion }

// ServerName reports the server identity from the initialize result.
func (s *Session) ServerName() string { return s.serverName }

// ListCapabilities enumerates the capability set declared by the server.
func (s *Session) ListCapabilities(ctx context.Context) ([]capability.Descriptor, error) {
	raw, err := s.call(ctx, "capabilities/list", nil, 0)
	if err != nil {
		return nil, err
	}
	var res listResult
	if err := json.Unmarshal(raw, &res); err != nil {
		return nil, fmt.Errorf("capabilities/list: decode result: %w", err)
	}
	return res.Capabilities, nil
}

// Invoke calls a named capability. timeout bounds the wait for the
// correlated response; zero means the ctx deadline alone applies. On
// timeout the waiter is removed, so a late reply is discarded silently.
func (s *Session) Invoke(ctx context.Context, name string, arguments any, timeout time.Duration) ([]capability.ContentBlock, error) {
	raw, err := s.call(ctx, "capabilities/call", callParams{Name: name, Arguments: arguments}, timeout)
	if err != nil {
		return nil, err
	}
	var res callResult
	if err := json.Unmarshal(raw, &res); err != nil {
		return nil, fmt.Errorf("capabilities/call: decode result: %w", err)
	}
	return res.Content, nil
}

// call issues one request/response round trip: register the waiter, then
// transmit, then wait. Registration happens-before transmission so the
// earliest possible reply finds its waiter.
func (s *Session) call(ctx context.Context, method string, params any, timeout time.Duration) (json.RawMessage, error) {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return nil, &TransportError{Op: method, Cause: ErrNotConnected}
	}

	// ownDeadline records whether the per-call timeout is the binding
	// deadline; a tighter deadline already on ctx keeps its own attribution.
	var ownDeadline bool
	if timeout > 0 {
		if parent, ok := ctx.Deadline(); !ok || time.Now().Add(timeout).Before(parent) {
			ownDeadline = true
		}
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	id := s.nextID.Add(1)

	var rawParams json.RawMessage
	if params != nil {
		b, err := json.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("%s: encode params: %w", method, err)
		}
		rawParams = b
	}

	body, err := wire.Encode(&wire.Request{ID: id, Method: method, Params: rawParams})
	if err != nil {
		return nil, err
	}

	// Registration can lose a race with teardown; the closed registry
	// refuses the waiter rather than stranding it.
	pc, err := s.pending.register(id)
	if err != nil {
		if errors.Is(err, ErrNotConnected) {
			return nil, &TransportError{Op: method, Cause: err}
		}
		return nil, err
	}

	if err := s.post(ctx, body); err != nil {
		s.pending.remove(id)
		return nil, &TransportError{Op: method, Cause: err}
	}

	select {
	case res := <-pc.ch:
		if res.Error != nil {
			if res.Error.Code == wire.CodeRequestCancelled {
				return nil, &TransportError{Op: method, Cause: fmt.Errorf("%s: %w", res.Error.Message, ErrNotConnected)}
			}
			return nil, &RPCError{Code: res.Error.Code, Message: res.Error.Message}
		}
		return res.Result, nil
	case <-ctx.Done():
		s.pending.remove(id)
		if ownDeadline && errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, &TimeoutError{Method: method, Timeout: timeout}
		}
		return nil, ctx.Err()
	}
}

func (s *Session) post(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/message", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("send message: status %d", resp.StatusCode)
	}
	return nil
}

// Disconnect tears the session down: the reader is cancelled cooperatively
// and every pending waiter is released. It is idempotent and safe to call
// even if connect never completed.
func (s *Session) Disconnect() error {
	s.markClosed()
	if s.cancelReader != nil {
		s.cancelReader()
	}
	if s.readerDone != nil {
		<-s.readerDone
	}
	s.pending.cancelAll("session disconnected")
	return nil
}
