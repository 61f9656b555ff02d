package server

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"

	"github.com/elnormous/contenttype"

	"github.com/capwire/capwire/internal/logctx"
	"github.com/capwire/capwire/internal/sse"
	"github.com/capwire/capwire/wire"
)

var (
	jsonMediaType         = contenttype.NewMediaType("application/json")
	eventStreamMediaType  = contenttype.NewMediaType("text/event-stream")
	eventStreamMediaTypes = []contenttype.MediaType{eventStreamMediaType}
)

// maxMessageBytes caps a single inbound request body.
const maxMessageBytes = 1 << 20

// Handler is the HTTP surface of the transport: GET /sse opens the
// server-to-client push stream, POST /message carries client-to-server
// request envelopes. Computed responses are broadcast to every connected
// push-stream peer.
type Handler struct {
	log  *slog.Logger
	hub  *Hub
	disp *Dispatcher
	mux  *http.ServeMux
}

// NewHandler wires the dispatcher and hub behind the two transport routes.
func NewHandler(disp *Dispatcher, hub *Hub, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	h := &Handler{log: log, hub: hub, disp: disp}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /sse", h.handleSSE)
	mux.HandleFunc("POST /message", h.handleMessage)
	h.mux = mux

	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := logctx.WithRequestData(r.Context(), &logctx.RequestData{
		Method:     r.Method,
		RemoteAddr: r.RemoteAddr,
		Path:       r.URL.Path,
	})
	h.mux.ServeHTTP(w, r.WithContext(ctx))
}

// handleSSE serves one push-stream peer until it disconnects.
func (h *Handler) handleSSE(w http.ResponseWriter, r *http.Request) {
	if _, _, err := contenttype.GetAcceptableMediaType(r, eventStreamMediaTypes); err != nil {
		w.WriteHeader(http.StatusNotAcceptable)
		return
	}

	wf, ok := w.(sse.WriteFlusher)
	if !ok {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	sub, err := h.hub.Subscribe()
	if err != nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	defer sub.Close()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	wf.Flush()

	ctx := r.Context()
	h.log.InfoContext(ctx, "push stream opened", slog.String("subscriber_id", sub.ID()))

	for {
		res, err := sub.Next(ctx)
		if err != nil {
			// io.EOF means the hub shut down; anything else is the peer
			// going away. Both end this stream only.
			h.log.InfoContext(ctx, "push stream closed", slog.String("subscriber_id", sub.ID()))
			return
		}
		data, err := wire.Encode(res)
		if err != nil {
			h.log.ErrorContext(ctx, "encode response", slog.String("err", err.Error()))
			continue
		}
		if err := sse.WriteEvent(wf, data); err != nil {
			h.log.InfoContext(ctx, "push stream write failed", slog.String("err", err.Error()))
			return
		}
	}
}

// handleMessage accepts one request envelope, dispatches it, and broadcasts
// the computed response to all connected push-stream peers. The POST itself
// is acknowledged with a small status document.
func (h *Handler) handleMessage(w http.ResponseWriter, r *http.Request) {
	ctype, err := contenttype.GetMediaType(r)
	if err != nil || !ctype.Matches(jsonMediaType) {
		w.WriteHeader(http.StatusUnsupportedMediaType)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxMessageBytes))
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	ctx := r.Context()

	env, err := wire.Decode(body)
	if err != nil {
		h.log.InfoContext(ctx, "dropping malformed message", slog.String("err", err.Error()))
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	req := env.AsRequest()
	if req == nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "expected a request envelope"})
		return
	}

	res := h.disp.Dispatch(ctx, req)
	if err := h.hub.Broadcast(ctx, res); err != nil {
		h.log.WarnContext(ctx, "broadcast aborted", slog.String("err", err.Error()))
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
