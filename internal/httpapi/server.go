// Package httpapi serves turns over HTTP, streaming router events as
// server-sent events.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"turnstile/internal/logging"
	"turnstile/internal/metrics"
	"turnstile/internal/router"
)

const maxBodyBytes = 1 << 20

// Option configures the handler.
type Option func(*handler)

// WithMetrics exposes m on GET /metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(h *handler) { h.metrics = m }
}

// WithMCP mounts an MCP streamable HTTP endpoint on /mcp.
func WithMCP(mcp http.Handler) Option {
	return func(h *handler) { h.mcp = mcp }
}

// WithVersion sets the version reported by /healthz.
func WithVersion(v string) Option {
	return func(h *handler) { h.version = v }
}

type handler struct {
	router  *router.Router
	metrics *metrics.Metrics
	mcp     http.Handler
	version string
}

// TurnRequest is the body of POST /v1/turns.
type TurnRequest struct {
	Input     string `json:"input"`
	SessionID string `json:"session_id,omitempty"`
}

// ClassifyRequest is the body of POST /v1/classify.
type ClassifyRequest struct {
	Input     string `json:"input"`
	SessionID string `json:"session_id,omitempty"`
}

// NewHandler returns the HTTP handler for r.
func NewHandler(r *router.Router, opts ...Option) http.Handler {
	h := &handler{router: r}
	for _, opt := range opts {
		opt(h)
	}

	mux := chi.NewRouter()
	mux.Use(middleware.RequestID)
	mux.Use(middleware.Recoverer)

	mux.Get("/healthz", h.health)
	mux.Route("/v1", func(v1 chi.Router) {
		v1.Post("/turns", h.turn)
		v1.Post("/classify", h.classify)
	})
	if h.metrics != nil {
		mux.Handle("/metrics", h.metrics.Handler())
	}
	if h.mcp != nil {
		mux.Handle("/mcp", h.mcp)
	}
	return mux
}

func (h *handler) health(w http.ResponseWriter, r *http.Request) {
	info := h.router.Info()
	writeJSON(w, http.StatusOK, map[string]string{
		"status":   "ok",
		"version":  h.version,
		"provider": info.Provider,
		"model":    info.Model,
	})
}

func (h *handler) classify(w http.ResponseWriter, r *http.Request) {
	var body ClassifyRequest
	if !decode(w, r, &body) {
		return
	}

	result := h.router.Classifier().Classify(r.Context(), body.Input, nil)
	writeJSON(w, http.StatusOK, result)
}

// turn streams the turn's events. Every event is sent as
// "event: <kind>" with the JSON encoded event as data; the stream ends
// after the terminal event.
func (h *handler) turn(w http.ResponseWriter, r *http.Request) {
	var body TurnRequest
	if !decode(w, r, &body) {
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		logging.Error("http turn: streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	writable := true
	for ev := range h.router.ProcessTurn(r.Context(), body.Input, body.SessionID) {
		if !writable {
			// Keep draining so the turn can deliver its terminal event.
			continue
		}
		data, err := json.Marshal(ev)
		if err != nil {
			logging.Error("http turn: encode event failed", "turn_id", ev.TurnID, "error", err)
			continue
		}
		if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Kind, data); err != nil {
			logging.Debug("http turn: client went away", "turn_id", ev.TurnID, "error", err)
			writable = false
			continue
		}
		flusher.Flush()
	}
}

func decode(w http.ResponseWriter, r *http.Request, v interface{ valid() error }) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		logging.Warn("http: invalid request body", "path", r.URL.Path, "error", err)
		return false
	}
	if err := v.valid(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return false
	}
	return true
}

func (b *TurnRequest) valid() error {
	if b.Input == "" {
		return errors.New("input is required")
	}
	return nil
}

func (b *ClassifyRequest) valid() error {
	if b.Input == "" {
		return errors.New("input is required")
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Error("http: response encode failed", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// Serve runs an HTTP server on addr until ctx is done, then shuts it down
// gracefully.
func Serve(ctx context.Context, addr string, h http.Handler) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErrors := make(chan error, 1)
	go func() {
		logging.Info("http server listening", "address", addr)
		serverErrors <- srv.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		logging.Info("http server shutting down", "address", addr)
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("could not stop server gracefully: %w", err)
		}
		return nil
	}
}
