package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/postalsys/muti-ping/internal/config"
	"github.com/postalsys/muti-ping/internal/console"
	"github.com/postalsys/muti-ping/internal/health"
	"github.com/postalsys/muti-ping/internal/icmp"
	"github.com/postalsys/muti-ping/internal/logging"
	"github.com/postalsys/muti-ping/internal/metrics"
	"github.com/postalsys/muti-ping/internal/ping"
)

// feedBuffer is how many results a slow /results client may lag behind.
const feedBuffer = 64

// runner performs one ping run: prompt, resolve, session, summary.
type runner struct {
	cfg      *config.Config
	logger   *slog.Logger
	console  *console.Console
	registry *prometheus.Registry
	metrics  *metrics.Metrics

	// listen opens the ICMP socket. nil means icmp.Listen.
	listen func(ctx context.Context, mode icmp.SocketMode) (icmp.Conn, error)
}

func newRunner(cfg *config.Config, logger *slog.Logger, con *console.Console) *runner {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return &runner{
		cfg:      cfg,
		logger:   logger,
		console:  con,
		registry: reg,
		metrics:  metrics.NewMetricsWithRegistry(reg),
	}
}

// run never fails: every error is reported on the console and the run ends.
func (r *runner) run(ctx context.Context, host string) {
	if host == "" {
		var err error
		host, err = r.console.PromptHost(ctx)
		if err != nil {
			r.console.Error(err)
			return
		}
	}

	resolver := &ping.NetResolver{
		Mode:    r.cfg.SocketMode(),
		Timeout: r.cfg.Ping.ResolveTimeout,
		Listen:  r.listen,
		OnResolved: func(name string, addr *net.IPAddr) {
			r.logger.Info("host resolved",
				slog.String(logging.KeyHost, name),
				slog.String(logging.KeyDestination, addr.String()))
			r.console.Discovered(addr.IP)
		},
	}

	start := time.Now()
	ep, err := resolver.Resolve(ctx, host)
	r.metrics.RecordResolve(time.Since(start), err)
	if err != nil {
		if errors.Is(err, ping.ErrNoSocket) {
			r.console.SocketFailed(err)
		} else {
			r.console.Error(err)
		}
		return
	}
	r.console.SocketAcquired()
	r.logger.Debug("socket acquired", slog.String(logging.KeySocket, string(r.cfg.SocketMode())))

	session, err := ping.NewSession(ep, r.cfg.Session(), r.logger)
	if err != nil {
		ep.Conn.Close()
		r.console.Error(err)
		return
	}
	session.SetRecorder(r.metrics)

	var feed *health.Feed
	var srv *health.Server
	if r.cfg.Health.Enabled {
		feed = health.NewFeed(feedBuffer)
		srv = health.NewServer(health.ServerConfig{
			Address:      r.cfg.Health.Address,
			ReadTimeout:  r.cfg.Health.ReadTimeout,
			WriteTimeout: r.cfg.Health.WriteTimeout,
			Gatherer:     r.registry,
		}, sessionStatus{session}, feed, r.logger)

		if err := srv.Start(); err != nil {
			r.logger.Warn("health server not started",
				slog.String(logging.KeyAddress, r.cfg.Health.Address),
				slog.String(logging.KeyError, err.Error()))
			feed, srv = nil, nil
		} else {
			defer srv.Stop()
		}
	}

	session.OnResult(func(res ping.EchoResult) {
		r.console.Result(res)
		if feed != nil {
			feed.Publish(res)
		}
	})

	r.metrics.SessionStarted()
	err = session.Run(ctx)
	r.metrics.SessionEnded()
	r.console.CleaningUp()

	// An interrupted run is not an error worth reporting.
	if err != nil && ctx.Err() == nil {
		r.console.Error(err)
	}
	r.console.Summary(ep.Host, session.Stats())
	if srv != nil {
		r.linger(ctx, srv)
	}
	r.console.Done()
}

// linger keeps the health server answering with the final statistics until
// ctx ends or the configured linger time passes.
func (r *runner) linger(ctx context.Context, srv *health.Server) {
	if ctx.Err() != nil {
		return
	}
	r.console.Serving(srv.Address().String(), r.cfg.Health.Linger)

	var expired <-chan time.Time
	if r.cfg.Health.Linger > 0 {
		timer := time.NewTimer(r.cfg.Health.Linger)
		defer timer.Stop()
		expired = timer.C
	}

	select {
	case <-ctx.Done():
	case <-expired:
	}
}

// sessionStatus exposes a session to the health server.
type sessionStatus struct {
	s *ping.Session
}

func (st sessionStatus) IsRunning() bool  { return st.s.State() != ping.StateClosed }
func (st sessionStatus) Stats() ping.Stats { return st.s.Stats() }
