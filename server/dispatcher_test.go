package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/capwire/capwire/capability"
	"github.com/capwire/capwire/wire"
)

type stubProvider struct {
	descs     []capability.Descriptor
	invoke    func(name string, args json.RawMessage) ([]capability.ContentBlock, error)
	listErr   error
	listCalls int
}

func (p *stubProvider) ListCapabilities(ctx context.Context) ([]capability.Descriptor, error) {
	p.listCalls++
	if p.listErr != nil {
		return nil, p.listErr
	}
	return p.descs, nil
}

func (p *stubProvider) Invoke(ctx context.Context, name string, args json.RawMessage) ([]capability.ContentBlock, error) {
	if p.invoke == nil {
		return nil, fmt.Errorf("%w: %s", capability.ErrNotFound, name)
	}
	return p.invoke(name, args)
}

func newEchoProvider() *stubProvider {
	return &stubProvider{
		descs: []capability.Descriptor{{Name: "echo", Description: "echoes"}},
		invoke: func(name string, args json.RawMessage) ([]capability.ContentBlock, error) {
			if name != "echo" {
				return nil, fmt.Errorf("%w: %s", capability.ErrNotFound, name)
			}
			var a struct {
				Msg string `json:"msg"`
			}
			_ = json.Unmarshal(args, &a)
			return capability.Text("%s", a.Msg), nil
		},
	}
}

func initializeReq(id int64) *wire.Request {
	return &wire.Request{ID: id, Method: "initialize", Params: json.RawMessage(`{"protocolVersion":"2024-11-05","clientInfo":{"name":"t"}}`)}
}

func TestDispatcherInitialize(t *testing.T) {
	d := NewDispatcher(newEchoProvider(), ServerInfo{Name: "srv", Version: "1.0.0"}, testLogger())
	ctx := context.Background()

	res := d.Dispatch(ctx, initializeReq(1))
	if res.Error != nil {
		t.Fatalf("initialize failed: %+v", res.Error)
	}

	var result InitializeResult
	if err := json.Unmarshal(res.Result, &result); err != nil {
		t.Fatalf("decode result: %v", err)
	}
	if result.ProtocolVersion != ProtocolVersion {
		t.Errorf("unexpected protocol version %q", result.ProtocolVersion)
	}
	if result.ServerInfo.Name != "srv" {
		t.Errorf("unexpected server info %+v", result.ServerInfo)
	}

	t.Run("repeat initialize is idempotent", func(t *testing.T) {
		again := d.Dispatch(ctx, initializeReq(2))
		if again.Error != nil {
			t.Fatalf("repeat initialize failed: %+v", again.Error)
		}
		if string(again.Result) != string(res.Result) {
			t.Fatalf("repeat initialize diverged: %s vs %s", again.Result, res.Result)
		}
	})
}

func TestDispatcherRequiresInitialize(t *testing.T) {
	d := NewDispatcher(newEchoProvider(), ServerInfo{Name: "srv"}, testLogger())
	ctx := context.Background()

	for _, method := range []string{"capabilities/list", "capabilities/call"} {
		res := d.Dispatch(ctx, &wire.Request{ID: 1, Method: method})
		if res.Error == nil || res.Error.Code != wire.CodeInvalidRequest {
			t.Errorf("%s before initialize: expected invalid-request failure, got %+v", method, res)
		}
	}
}

func TestDispatcherListCapabilities(t *testing.T) {
	p := newEchoProvider()
	d := NewDispatcher(p, ServerInfo{Name: "srv"}, testLogger())
	ctx := context.Background()

	d.Dispatch(ctx, initializeReq(1))
	res := d.Dispatch(ctx, &wire.Request{ID: 2, Method: "capabilities/list"})
	if res.Error != nil {
		t.Fatalf("list failed: %+v", res.Error)
	}

	var result ListCapabilitiesResult
	if err := json.Unmarshal(res.Result, &result); err != nil {
		t.Fatalf("decode result: %v", err)
	}
	if len(result.Capabilities) != 1 || result.Capabilities[0].Name != "echo" {
		t.Fatalf("unexpected capability set: %+v", result.Capabilities)
	}
}

func TestDispatcherCall(t *testing.T) {
	d := NewDispatcher(newEchoProvider(), ServerInfo{Name: "srv"}, testLogger())
	ctx := context.Background()
	d.Dispatch(ctx, initializeReq(1))
	d.Dispatch(ctx, &wire.Request{ID: 2, Method: "capabilities/list"})

	t.Run("known capability", func(t *testing.T) {
		res := d.Dispatch(ctx, &wire.Request{ID: 3, Method: "capabilities/call", Params: json.RawMessage(`{"name":"echo","arguments":{"msg":"hi"}}`)})
		if res.Error != nil {
			t.Fatalf("call failed: %+v", res.Error)
		}
		var result CallResult
		if err := json.Unmarshal(res.Result, &result); err != nil {
			t.Fatalf("decode result: %v", err)
		}
		if len(result.Content) != 1 || result.Content[0].Type != "text" || result.Content[0].Text != "hi" {
			t.Fatalf("unexpected content: %+v", result.Content)
		}
	})

	t.Run("unknown capability", func(t *testing.T) {
		res := d.Dispatch(ctx, &wire.Request{ID: 4, Method: "capabilities/call", Params: json.RawMessage(`{"name":"does_not_exist","arguments":{}}`)})
		if res.Error == nil || res.Error.Code != wire.CodeCapabilityNotFound {
			t.Fatalf("expected capability-not-found failure, got %+v", res)
		}
	})

	t.Run("missing name", func(t *testing.T) {
		res := d.Dispatch(ctx, &wire.Request{ID: 5, Method: "capabilities/call", Params: json.RawMessage(`{"arguments":{}}`)})
		if res.Error == nil || res.Error.Code != wire.CodeInvalidParams {
			t.Fatalf("expected invalid-params failure, got %+v", res)
		}
	})

	t.Run("malformed params", func(t *testing.T) {
		res := d.Dispatch(ctx, &wire.Request{ID: 6, Method: "capabilities/call", Params: json.RawMessage(`"not an object"`)})
		if res.Error == nil || res.Error.Code != wire.CodeInvalidParams {
			t.Fatalf("expected invalid-params failure, got %+v", res)
		}
	})
}

func TestDispatcherCallToleratedBeforeList(t *testing.T) {
	d := NewDispatcher(newEchoProvider(), ServerInfo{Name: "srv"}, testLogger())
	ctx := context.Background()
	d.Dispatch(ctx, initializeReq(1))

	// Negotiated but not yet ready: calls still go through to the provider.
	res := d.Dispatch(ctx, &wire.Request{ID: 2, Method: "capabilities/call", Params: json.RawMessage(`{"name":"echo","arguments":{"msg":"early"}}`)})
	if res.Error != nil {
		t.Fatalf("call from negotiated state failed: %+v", res.Error)
	}
}

func TestDispatcherCollaboratorFailure(t *testing.T) {
	p := &stubProvider{
		descs: []capability.Descriptor{{Name: "boom"}},
		invoke: func(name string, args json.RawMessage) ([]capability.ContentBlock, error) {
			return nil, errors.New("downstream fell over")
		},
	}
	d := NewDispatcher(p, ServerInfo{Name: "srv"}, testLogger())
	ctx := context.Background()
	d.Dispatch(ctx, initializeReq(1))
	d.Dispatch(ctx, &wire.Request{ID: 2, Method: "capabilities/list"})

	res := d.Dispatch(ctx, &wire.Request{ID: 3, Method: "capabilities/call", Params: json.RawMessage(`{"name":"boom","arguments":{}}`)})
	if res.Error == nil || res.Error.Code != wire.CodeCollaboratorError {
		t.Fatalf("expected collaborator failure, got %+v", res)
	}
	if res.Error.Message != "downstream fell over" {
		t.Errorf("collaborator message not preserved: %q", res.Error.Message)
	}

	// The failure is scoped to the call: the session still dispatches.
	next := d.Dispatch(ctx, &wire.Request{ID: 4, Method: "capabilities/list"})
	if next.Error != nil {
		t.Fatalf("session did not survive collaborator failure: %+v", next.Error)
	}
}

func TestDispatcherUnknownMethod(t *testing.T) {
	d := NewDispatcher(newEchoProvider(), ServerInfo{Name: "srv"}, testLogger())

	res := d.Dispatch(context.Background(), &wire.Request{ID: 1, Method: "resources/read"})
	if res.Error == nil || res.Error.Code != wire.CodeMethodNotFound {
		t.Fatalf("expected method-not-found failure, got %+v", res)
	}
	if res.ID != 1 {
		t.Errorf("failure must correlate to the request id, got %d", res.ID)
	}
}

func TestDispatcherClosed(t *testing.T) {
	d := NewDispatcher(newEchoProvider(), ServerInfo{Name: "srv"}, testLogger())
	ctx := context.Background()
	d.Dispatch(ctx, initializeReq(1))
	d.Close()

	res := d.Dispatch(ctx, initializeReq(2))
	if res.Error == nil || res.Error.Code != wire.CodeInvalidRequest {
		t.Fatalf("expected invalid-request failure on closed session, got %+v", res)
	}
}
