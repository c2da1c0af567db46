// Package server exposes a scheduler node's health and metrics over HTTP.
package server

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/teranos/cadence/errors"
	"github.com/teranos/cadence/logger"
	"github.com/teranos/cadence/pulse/host"
	"github.com/teranos/cadence/pulse/schedule"
	"github.com/teranos/cadence/version"
)

// ShutdownTimeout is the default time Shutdown waits for open requests
const ShutdownTimeout = 5 * time.Second

// Source is the node the server reports on; *host.Host satisfies it
type Source interface {
	State() host.State
	HolderID() string
	FailedJobTypes() []string
	Stats() schedule.Stats
	Gatherer() prometheus.Gatherer
}

// Server serves /healthz, /status and optionally /metrics
type Server struct {
	src     Source
	log     *zap.SugaredLogger
	srv     *http.Server
	metrics bool
}

// New creates a server for src listening on addr
func New(addr string, src Source, metrics bool, log *zap.SugaredLogger) *Server {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	s := &Server{
		src:     src,
		log:     log.Named("server"),
		metrics: metrics,
	}
	s.srv = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return s
}

// Handler builds the router
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.requestLogger)
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "not found")
	})

	r.Get("/healthz", s.handleHealth)
	r.Get("/status", s.handleStatus)
	if s.metrics {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.src.Gatherer(), promhttp.HandlerOpts{}))
	}
	return r
}

// Start listens on the configured address and serves in the background.
// Listen errors are returned; serve errors after startup are logged.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.srv.Addr)
	if err != nil {
		return errors.Wrapf(err, "failed to listen on %s", s.srv.Addr)
	}
	s.log.Infow("HTTP server listening", logger.FieldAddress, ln.Addr().String(), "metrics", s.metrics)

	go func() {
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Errorw("HTTP server error", logger.FieldError, err)
		}
	}()
	return nil
}

// Shutdown stops accepting connections and waits for open requests until ctx is done
func (s *Server) Shutdown(ctx context.Context) error {
	if err := s.srv.Shutdown(ctx); err != nil {
		return errors.Wrap(err, "HTTP server shutdown")
	}
	s.log.Infow("HTTP server stopped")
	return nil
}

type healthResponse struct {
	Status     string   `json:"status"`
	State      string   `json:"state"`
	HolderID   string   `json:"holder_id"`
	FailedJobs []string `json:"failed_jobs,omitempty"`
	Version    string   `json:"version"`
}

// handleHealth is 200 while the host is running and 503 otherwise
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	state := s.src.State()
	resp := healthResponse{
		Status:     "ok",
		State:      state.String(),
		HolderID:   s.src.HolderID(),
		FailedJobs: s.src.FailedJobTypes(),
		Version:    version.Get().Version,
	}

	status := http.StatusOK
	if state != host.StateRunning {
		status = http.StatusServiceUnavailable
		resp.Status = "unavailable"
	}
	if err := writeJSON(w, status, resp); err != nil {
		s.log.Warnw("Failed to write health response", logger.FieldError, err)
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if err := writeJSON(w, http.StatusOK, s.src.Stats()); err != nil {
		s.log.Warnw("Failed to write status response", logger.FieldError, err)
	}
}

// requestLogger logs each request at debug level
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.log.Debugw("HTTP request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			logger.FieldDurationMS, time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}
