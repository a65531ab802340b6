// Package health provides the optional HTTP endpoint for a running ping:
// liveness, JSON session statistics, Prometheus metrics and a WebSocket feed
// of echo results.
package health

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/postalsys/muti-ping/internal/logging"
	"github.com/postalsys/muti-ping/internal/ping"
	"github.com/postalsys/muti-ping/internal/recovery"
	"github.com/postalsys/muti-ping/internal/sysinfo"
)

// StatsProvider exposes the state of the echo session being served.
type StatsProvider interface {
	// IsRunning returns true while the session is sending or awaiting replies.
	IsRunning() bool

	// Stats returns a snapshot of the session counters.
	Stats() ping.Stats
}

// ServerConfig contains health server configuration.
type ServerConfig struct {
	// Address to listen on (e.g., "127.0.0.1:9100")
	Address string

	// ReadTimeout for HTTP reads
	ReadTimeout time.Duration

	// WriteTimeout for HTTP writes. The /results stream is exempt.
	WriteTimeout time.Duration

	// Gatherer serves /metrics. nil means prometheus.DefaultGatherer.
	Gatherer prometheus.Gatherer
}

// DefaultServerConfig returns sensible defaults.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Address:      "127.0.0.1:9100",
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
}

// Server is an HTTP server for health check endpoints.
type Server struct {
	cfg      ServerConfig
	provider StatsProvider
	feed     *Feed
	logger   *slog.Logger
	server   *http.Server
	listener net.Listener
	running  atomic.Bool
}

// NewServer creates a new health check server. feed may be nil, in which
// case /results answers 503.
func NewServer(cfg ServerConfig, provider StatsProvider, feed *Feed, logger *slog.Logger) *Server {
	if logger == nil {
		logger = logging.NopLogger()
	}
	gatherer := cfg.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	s := &Server{
		cfg:      cfg,
		provider: provider,
		feed:     feed,
		logger:   logger.With(slog.String(logging.KeyComponent, "health")),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/healthz", s.handleHealthz)
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	mux.HandleFunc("/results", s.handleResults)

	s.server = &http.Server{
		Addr:         cfg.Address,
		Handler:      mux,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	return s
}

// Start binds the listen address and serves in the background.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.cfg.Address)
	if err != nil {
		return err
	}
	s.listener = ln
	s.running.Store(true)

	recovery.Go(s.logger, "health.serve", func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("health server stopped", slog.String(logging.KeyError, err.Error()))
		}
	})

	s.logger.Info("health server listening", slog.String(logging.KeyAddress, ln.Addr().String()))
	return nil
}

// Stop closes the result feed and shuts the server down.
func (s *Server) Stop() error {
	if !s.running.Swap(false) {
		return nil
	}

	if s.feed != nil {
		s.logger.Debug("closing result feed",
			slog.Int(logging.KeyCount, s.feed.Subscribers()),
			slog.Uint64(logging.KeyDropped, s.feed.Dropped()))
		s.feed.Close()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	return s.server.Shutdown(ctx)
}

// Address returns the server's listen address.
func (s *Server) Address() net.Addr {
	if s.listener != nil {
		return s.listener.Addr()
	}
	return nil
}

// IsRunning returns true if the server is running.
func (s *Server) IsRunning() bool {
	return s.running.Load()
}

// handleHealth returns 200 while the process is responding.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK\n"))
}

// handleHealthz returns 200 with session stats while the session runs and
// 503 with the final stats once it has ended.
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	w.Header().Set("Content-Type", "application/json")

	if s.provider == nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		json.NewEncoder(w).Encode(healthzResponse{Status: "unavailable", Node: sysinfo.Collect()})
		return
	}

	stats := s.provider.Stats()
	resp := healthzResponse{Status: "healthy", Running: true, Session: &stats, Node: sysinfo.Collect()}
	code := http.StatusOK
	if !s.provider.IsRunning() {
		resp.Status = "finished"
		resp.Running = false
		code = http.StatusServiceUnavailable
	}

	w.WriteHeader(code)
	json.NewEncoder(w).Encode(resp)
}

type healthzResponse struct {
	Status  string       `json:"status"`
	Running bool         `json:"running"`
	Session *ping.Stats  `json:"session,omitempty"`
	Node    sysinfo.Info `json:"node"`
}
