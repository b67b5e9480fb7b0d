// Command mixnoded runs one node of the mix network: the onion-routing
// core, a UDP packet transport, a JSON control API for mixnetctl, and a
// Prometheus metrics endpoint.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/dantte-lp/gomixnet/internal/config"
	"github.com/dantte-lp/gomixnet/internal/metrics"
	"github.com/dantte-lp/gomixnet/internal/mixnet"
	"github.com/dantte-lp/gomixnet/internal/topology"
)

// shutdownTimeout bounds how long graceful shutdown waits for HTTP
// servers to drain active connections.
const shutdownTimeout = 10 * time.Second

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "", "path to configuration file (YAML)")
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		slog.New(slog.NewTextHandler(os.Stderr, nil)).Error("failed to load configuration",
			slog.String("error", err.Error()))
		return 1
	}

	logLevel := new(slog.LevelVar)
	logLevel.Set(config.ParseLogLevel(cfg.Log.Level))
	logger := newLoggerWithLevel(cfg.Log, logLevel)

	logger.Info("mixnoded starting",
		slog.String("transport_addr", cfg.Transport.Addr),
		slog.String("control_addr", cfg.Control.Addr),
		slog.String("metrics_addr", cfg.Metrics.Addr),
		slog.Int("mixnodes", len(cfg.Mixnodes)),
	)

	reg := prometheus.NewRegistry()
	collector := metrics.NewCollector(reg)

	if err := runDaemon(cfg, collector, reg, logger); err != nil {
		logger.Error("mixnoded exited with error", slog.String("error", err.Error()))
		return 1
	}

	logger.Info("mixnoded stopped")
	return 0
}

// runDaemon wires the engine, transport, control and metrics servers
// together and runs them under an errgroup with a signal-aware context,
// modeled on the daemon's own startup/shutdown sequencing.
func runDaemon(cfg *config.Config, collector *metrics.Collector, reg *prometheus.Registry, logger *slog.Logger) error {
	roster, err := mixnodeRoster(cfg.Mixnodes)
	if err != nil {
		return fmt.Errorf("build mixnode roster: %w", err)
	}
	peers := newPeerAddrIndex(roster)

	kxStore := newEphemeralKxStore()
	kxStore.EnsurePending(0)

	engine := mixnet.New(engineConfig(cfg), kxStore, logger)

	// A single statically-configured roster has no real rotation to drive,
	// so the node bootstraps straight into a phase where the current
	// session both serves requests/replies and generates cover traffic.
	engine.SetSessionStatus(mixnet.SessionStatus{
		CurrentIndex: 0,
		Phase:        mixnet.PhaseRequestsAndRepliesToCurrent,
	})
	if err := engine.MaybeSetMixnodes(mixnet.RelCurrent, func() ([]topology.Mixnode, error) {
		return roster, nil
	}); err != nil {
		return fmt.Errorf("set initial mixnode roster: %w", err)
	}

	udpTransport, err := newTransport(cfg.Transport.Addr, peers, logger)
	if err != nil {
		return fmt.Errorf("start transport: %w", err)
	}
	defer udpTransport.Close()

	loop := newEngineLoop(engine, staticReachable{}, udpTransport.send, logger, collector, udpTransport.recvCh)

	controlSrv := newControlServer(cfg.Control.Addr, loop)
	metricsSrv := newMetricsServer(cfg.Metrics, reg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error { return udpTransport.run(gCtx) })
	g.Go(func() error { return loop.run(gCtx) })

	lc := net.ListenConfig{}
	g.Go(func() error {
		logger.Info("control server listening", slog.String("addr", cfg.Control.Addr))
		return listenAndServe(gCtx, &lc, controlSrv, cfg.Control.Addr)
	})
	g.Go(func() error {
		logger.Info("metrics server listening",
			slog.String("addr", cfg.Metrics.Addr), slog.String("path", cfg.Metrics.Path))
		return listenAndServe(gCtx, &lc, metricsSrv, cfg.Metrics.Addr)
	})
	g.Go(func() error { return runWatchdog(gCtx, logger) })

	notifyReady(logger)

	g.Go(func() error {
		<-gCtx.Done()
		return gracefulShutdown(gCtx, logger, controlSrv, metricsSrv)
	})

	if err := g.Wait(); err != nil {
		return fmt.Errorf("run daemon: %w", err)
	}
	return nil
}

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		cfg, err := config.Load(path)
		if err != nil {
			return nil, fmt.Errorf("load config from %s: %w", path, err)
		}
		return cfg, nil
	}
	return config.DefaultConfig(), nil
}

func newLoggerWithLevel(cfg config.LogConfig, level *slog.LevelVar) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	switch cfg.Format {
	case "text":
		handler = slog.NewTextHandler(os.Stdout, opts)
	default:
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}

func newMetricsServer(cfg config.MetricsConfig, reg *prometheus.Registry) *http.Server {
	mux := http.NewServeMux()
	mux.Handle(cfg.Path, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	return &http.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
}

func listenAndServe(ctx context.Context, lc *net.ListenConfig, srv *http.Server, addr string) error {
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve on %s: %w", addr, err)
	}
	return nil
}

func gracefulShutdown(ctx context.Context, logger *slog.Logger, servers ...*http.Server) error {
	logger.Info("initiating graceful shutdown")
	notifyStopping(logger)

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()

	var shutdownErr error
	for _, srv := range servers {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			shutdownErr = errors.Join(shutdownErr, fmt.Errorf("shutdown %s: %w", srv.Addr, err))
		}
	}
	return shutdownErr
}

// -------------------------------------------------------------------------
// Systemd Integration
// -------------------------------------------------------------------------

func notifyReady(logger *slog.Logger) {
	sent, err := daemon.SdNotify(false, daemon.SdNotifyReady)
	if err != nil {
		logger.Warn("failed to notify systemd readiness", slog.String("error", err.Error()))
		return
	}
	if sent {
		logger.Info("notified systemd: READY")
	}
}

func notifyStopping(logger *slog.Logger) {
	sent, err := daemon.SdNotify(false, daemon.SdNotifyStopping)
	if err != nil {
		logger.Warn("failed to notify systemd stopping", slog.String("error", err.Error()))
		return
	}
	if sent {
		logger.Info("notified systemd: STOPPING")
	}
}

func runWatchdog(ctx context.Context, logger *slog.Logger) error {
	interval, err := daemon.SdWatchdogEnabled(false)
	if err != nil {
		logger.Warn("failed to check systemd watchdog", slog.String("error", err.Error()))
		return nil
	}
	if interval == 0 {
		logger.Debug("systemd watchdog not configured, skipping keepalive")
		return nil
	}

	tickInterval := interval / 2
	logger.Info("systemd watchdog enabled",
		slog.Duration("watchdog_sec", interval), slog.Duration("keepalive_interval", tickInterval))

	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, wdErr := daemon.SdNotify(false, daemon.SdNotifyWatchdog); wdErr != nil {
				logger.Warn("failed to send watchdog keepalive", slog.String("error", wdErr.Error()))
			}
		}
	}
}
