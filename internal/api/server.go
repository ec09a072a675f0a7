// Package api exposes the pipeline over HTTP with JSON bodies.
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/YuminosukeSato/pipelab/internal/pipeline"
	"github.com/YuminosukeSato/pipelab/pkg/log"
)

// Options configures the HTTP surface.
type Options struct {
	AllowedOrigins []string
	// MaxUploadBytes caps the request body of POST /api/upload.
	MaxUploadBytes int64
	Logger         log.Logger
}

// Server routes HTTP requests to a Pipeline.
type Server struct {
	pipeline *pipeline.Pipeline
	opts     Options
	logger   log.Logger
}

// NewServer wraps p. Zero option values fall back to defaults.
func NewServer(p *pipeline.Pipeline, opts Options) *Server {
	if len(opts.AllowedOrigins) == 0 {
		opts.AllowedOrigins = []string{"*"}
	}
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = 32 << 20
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.GetLoggerWithName("api")
	}
	return &Server{pipeline: p, opts: opts, logger: logger}
}

// Handler builds the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.opts.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-Id"},
		ExposedHeaders: []string{"X-Request-Id"},
		MaxAge:         300,
	}))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("ok"))
	})

	r.Route("/api", func(r chi.Router) {
		r.Post("/upload", s.handleUpload)
		r.Post("/preprocess", s.handlePreprocess)
		r.Post("/split", s.handleSplit)
		r.Post("/train", s.handleTrain)
		r.Get("/pipeline/status", s.handleStatus)
		r.Post("/reset", s.handleReset)
	})
	return r
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		w.Header().Set("X-Request-Id", middleware.GetReqID(r.Context()))

		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		fields := []any{
			log.RequestIDKey, middleware.GetReqID(r.Context()),
			log.MethodKey, r.Method,
			log.PathKey, r.URL.Path,
			log.StatusKey, status,
			log.DurationMsKey, time.Since(start).Milliseconds(),
		}
		switch {
		case status >= 500:
			s.logger.Error("Request failed", fields...)
		case status >= 400:
			s.logger.Warn("Request rejected", fields...)
		default:
			s.logger.Info("Request served", fields...)
		}
	})
}
