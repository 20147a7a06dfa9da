package metrics

import (
	"context"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/live-voice-lab/internal/logging"
)

// Server exposes /metrics, /healthz and /readyz.
type Server struct {
	server *http.Server
	addr   string
	ready  atomic.Bool
}

// NewServer creates an observability server for gatherer. A nil gatherer
// uses the default registry.
func NewServer(addr string, gatherer prometheus.Gatherer) *Server {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	s := &Server{addr: addr}
	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.routes(gatherer),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

func (s *Server) routes(gatherer prometheus.Gatherer) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if !s.ready.Load() {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte("not ready"))
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ready"))
	})
	return mux
}

// Handler returns the HTTP handler, for mounting or tests.
func (s *Server) Handler() http.Handler { return s.server.Handler }

// SetReady flips the /readyz answer.
func (s *Server) SetReady(ready bool) { s.ready.Store(ready) }

// Start starts the HTTP server in a goroutine.
func (s *Server) Start() {
	go func() {
		logging.Infow("starting observability HTTP server", "addr", s.addr)
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.Errorw("observability HTTP server error", "error", err)
		}
	}()
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	logging.Infow("shutting down observability HTTP server")
	return s.server.Shutdown(ctx)
}
