// Package api exposes templates, recipient validation, sending and history
// over a JSON HTTP API.
package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/shineum/bulk-mailer-lite/internal/campaign"
	"github.com/shineum/bulk-mailer-lite/internal/metrics"
	"github.com/shineum/bulk-mailer-lite/internal/sendlog"
	"github.com/shineum/bulk-mailer-lite/internal/templates"
)

const (
	defaultMaxUploadBytes = 25 << 20
	defaultHistoryLimit   = 20
)

// Config holds the dependencies of the API.
type Config struct {
	Library *templates.Library
	Sender  *campaign.Sender
	Log     sendlog.Log
	Logger  *slog.Logger

	// MaxUploadBytes bounds the multipart body of POST /send.
	MaxUploadBytes int64
}

// Server serves the HTTP API.
type Server struct {
	library        *templates.Library
	sender         *campaign.Sender
	log            sendlog.Log
	logger         *slog.Logger
	maxUploadBytes int64
}

// New creates a Server.
func New(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	limit := cfg.MaxUploadBytes
	if limit <= 0 {
		limit = defaultMaxUploadBytes
	}
	return &Server{
		library:        cfg.Library,
		sender:         cfg.Sender,
		log:            cfg.Log,
		logger:         logger,
		maxUploadBytes: limit,
	}
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.instrument)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/templates", func(r chi.Router) {
		r.Get("/", s.listTemplates)
		r.Get("/{name}", s.getTemplate)
		r.Put("/{name}", s.putTemplate)
		r.Delete("/{name}", s.deleteTemplate)
	})
	r.Post("/recipients/validate", s.validateRecipients)
	r.Post("/send", s.send)
	r.Get("/history", s.history)

	return r
}

// instrument records request latency labelled with the matched route.
func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		metrics.RecordHTTPRequest(r.Method, route, status, time.Since(start))
		s.logger.Debug("http request",
			"method", r.Method,
			"route", route,
			"status", status,
			"request_id", middleware.GetReqID(r.Context()),
			"duration", time.Since(start),
		)
	})
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, errorResponse{Error: err.Error()})
}
