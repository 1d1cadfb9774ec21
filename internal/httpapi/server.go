// Package httpapi exposes the chat session over HTTP: read-only observers
// (status, messages, events) plus submit, stop, clear and load.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"chatmate/internal/events"
	"chatmate/pkg/types"
)

// Service defines the methods required by the HTTP API layer.
type Service interface {
	Status() types.StatusResponse
	Ready() bool
	Messages() types.MessagesResponse
	Models() ([]types.ModelEntry, error)
	Submit(ctx context.Context, text string) (types.SubmitResponse, error)
	Stop(ctx context.Context) error
	Clear(ctx context.Context) error
	Load(ctx context.Context, req types.LoadRequest) (types.StatusResponse, error)
	Subscribe(buf int) (<-chan events.Event, func())
}

// NewMux builds the router.
func NewMux(svc Service) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	if corsEnabled {
		r.Use(corsHandler())
	}
	r.Use(MetricsMiddleware)
	r.Use(RequestLogger)
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Content-Type-Options", "nosniff")
			next.ServeHTTP(w, r)
		})
	})

	h := &handlers{svc: svc}
	r.Get("/healthz", h.healthz)
	r.Get("/readyz", h.readyz)
	r.Get("/status", h.status)
	r.Get("/models", h.models)
	r.Get("/messages", h.messages)
	r.Post("/messages", h.submit)
	r.Post("/stop", h.stop)
	r.Post("/clear", h.clear)
	r.Post("/load", h.load)
	r.Get("/events", h.events)
	r.Get("/metrics", promhttp.Handler().ServeHTTP)
	MountSwagger(r)
	return r
}

type handlers struct{ svc Service }

func (h *handlers) healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (h *handlers) readyz(w http.ResponseWriter, r *http.Request) {
	if h.svc.Ready() {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
	_, _ = w.Write([]byte(h.svc.Status().State))
}

// status godoc
// @Summary  Session status
// @Produce  json
// @Success  200 {object} types.StatusResponse
// @Router   /status [get]
func (h *handlers) status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.svc.Status())
}

// models godoc
// @Summary  Model files found in the models directory
// @Produce  json
// @Success  200 {object} types.ModelsResponse
// @Failure  500 {object} types.ErrorResponse
// @Router   /models [get]
func (h *handlers) models(w http.ResponseWriter, r *http.Request) {
	list, err := h.svc.Models()
	if err != nil {
		writeError(w, r, err)
		return
	}
	if list == nil {
		list = []types.ModelEntry{}
	}
	writeJSON(w, http.StatusOK, types.ModelsResponse{Models: list})
}

// messages godoc
// @Summary  Conversation log
// @Produce  json
// @Success  200 {object} types.MessagesResponse
// @Router   /messages [get]
func (h *handlers) messages(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.svc.Messages())
}

// submit godoc
// @Summary  Send a user message and start the reply
// @Accept   json
// @Produce  json
// @Param    body body types.SubmitRequest true "message"
// @Success  202 {object} types.SubmitResponse
// @Failure  400 {object} types.ErrorResponse
// @Failure  409 {object} types.ErrorResponse
// @Failure  503 {object} types.ErrorResponse
// @Router   /messages [post]
func (h *handlers) submit(w http.ResponseWriter, r *http.Request) {
	var req types.SubmitRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	ctx, cancel := joinContexts(serverBaseCtx, r.Context())
	defer cancel()
	resp, err := h.svc.Submit(ctx, req.Text)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, resp)
}

// stop godoc
// @Summary  Cancel the reply in flight
// @Success  204
// @Router   /stop [post]
func (h *handlers) stop(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := joinContexts(serverBaseCtx, r.Context())
	defer cancel()
	if err := h.svc.Stop(ctx); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// clear godoc
// @Summary  Discard the conversation log
// @Success  204
// @Router   /clear [post]
func (h *handlers) clear(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := joinContexts(serverBaseCtx, r.Context())
	defer cancel()
	if err := h.svc.Clear(ctx); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// load godoc
// @Summary  Load (or swap) the model
// @Accept   json
// @Produce  json
// @Param    body body types.LoadRequest true "model path or name"
// @Success  200 {object} types.StatusResponse
// @Failure  404 {object} types.ErrorResponse
// @Failure  409 {object} types.ErrorResponse
// @Failure  422 {object} types.ErrorResponse
// @Router   /load [post]
func (h *handlers) load(w http.ResponseWriter, r *http.Request) {
	var req types.LoadRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Path) == "" && strings.TrimSpace(req.Model) == "" {
		writeJSONError(w, http.StatusBadRequest, "path or model is required")
		return
	}
	ctx, cancel := joinContexts(serverBaseCtx, r.Context())
	defer cancel()
	st, err := h.svc.Load(ctx, req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// events godoc
// @Summary  Stream session and conversation events as NDJSON
// @Produce  application/x-ndjson
// @Router   /events [get]
func (h *handlers) events(w http.ResponseWriter, r *http.Request) {
	ch, unsubscribe := h.svc.Subscribe(256)
	defer unsubscribe()

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	flush := func() {}
	if f, ok := w.(http.Flusher); ok {
		flush = f.Flush
		flush()
	}
	out := io.Writer(w)
	if requestLogLevel(r) >= LevelDebug {
		out = io.MultiWriter(w, &loggingLineWriter{prefix: "events>"})
	}
	enc := json.NewEncoder(out)
	ctx, cancel := joinContexts(serverBaseCtx, r.Context())
	defer cancel()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			if err := enc.Encode(ev); err != nil {
				return
			}
			flush()
		}
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	ct := r.Header.Get("Content-Type")
	if ct == "" || !strings.HasPrefix(strings.ToLower(ct), "application/json") {
		writeJSONError(w, http.StatusUnsupportedMediaType, "Content-Type must be application/json")
		return false
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) {
			writeJSONError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return false
		}
		writeJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
