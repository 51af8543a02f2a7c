package main

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/msjae/bioingest/config"
	"github.com/msjae/bioingest/errors"
	"github.com/msjae/bioingest/health"
	"github.com/msjae/bioingest/input/sensor"
	"github.com/msjae/bioingest/input/transport"
	"github.com/msjae/bioingest/metric"
	"github.com/msjae/bioingest/natsclient"
	"github.com/msjae/bioingest/output/csvlog"
	"github.com/msjae/bioingest/output/livefeed"
	"github.com/msjae/bioingest/output/natsout"
	"github.com/msjae/bioingest/pkg/retry"
)

// app owns every long-lived component and the order they stop in.
type app struct {
	cfg    *config.Config
	logger *slog.Logger

	registry   *metric.MetricsRegistry
	metricsSrv *metric.Server
	monitor    *health.Monitor
	csv        *csvlog.Log
	nats       *natsclient.Client
	forwarder  *natsout.Forwarder
	hub        *livefeed.Hub
	listener   transport.Listener
	advertiser transport.Advertiser
	server     *sensor.Server
}

func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (a *app, err error) {
	a = &app{cfg: cfg, logger: logger}

	// Release whatever was opened if a later step fails.
	defer func() {
		if err != nil {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			a.shutdown(shutdownCtx, 5*time.Second)
		}
	}()

	if cfg.Metrics.Enabled {
		a.registry = metric.NewMetricsRegistry()
		a.metricsSrv = metric.NewServer(cfg.Metrics.Address, cfg.Metrics.Path, a.registry)
	}

	a.csv, err = csvlog.New(cfg.Sink.Path, csvlog.Deps{Logger: logger, MetricsRegistry: a.registry})
	if err != nil {
		return a, fmt.Errorf("create csv log: %w", err)
	}
	logger.Info("Logging sensor data", "path", cfg.Sink.Path)

	sinks := []sensor.Sink{a.csv}

	if cfg.NATS.Enabled {
		if err := a.setupNATS(ctx); err != nil {
			return a, err
		}
		sinks = append(sinks, a.forwarder)
	}

	if cfg.LiveFeed.Enabled {
		a.hub, err = livefeed.New(livefeed.Config{ClientBuffer: cfg.LiveFeed.ClientBuffer},
			livefeed.Deps{Logger: logger, MetricsRegistry: a.registry})
		if err != nil {
			return a, fmt.Errorf("create live feed: %w", err)
		}
		a.metricsSrv.Handle(cfg.LiveFeed.Path, a.hub)
		sinks = append(sinks, a.hub)
	}

	a.listener, err = transport.Listen(ctx, cfg.Transport, logger)
	if err != nil {
		return a, fmt.Errorf("open listener: %w", err)
	}

	if cfg.Service.Advertise {
		a.advertiser = transport.NewLogAdvertiser(logger)
		svc := transport.Service{Name: cfg.Service.Name, UUID: cfg.Service.UUID, Channel: a.listener.Addr()}
		if err := a.advertiser.Advertise(ctx, svc); err != nil {
			return a, fmt.Errorf("advertise service: %w", err)
		}
	}

	a.server, err = sensor.NewServer(cfg.Reader, sensor.Deps{
		Listener:        a.listener,
		Sink:            sensor.Tee(sinks...),
		Logger:          logger,
		MetricsRegistry: a.registry,
	})
	if err != nil {
		return a, fmt.Errorf("create server: %w", err)
	}

	a.registerHealthChecks()
	return a, nil
}

// registerHealthChecks exposes component state on /health/status.
func (a *app) registerHealthChecks() {
	a.monitor = health.NewMonitor(appName)

	a.monitor.Register("sensor", func() health.Status {
		if a.server.Closing() {
			return health.NewUnhealthy("", "not accepting connections")
		}
		return health.NewHealthy("", "accepting connections").
			With("addr", a.listener.Addr()).
			With("active_connections", a.server.ActiveConnections()).
			With("accepted", a.server.Accepted())
	})

	a.monitor.Register("csvlog", func() health.Status {
		s := health.NewHealthy("", "last append succeeded")
		if msg := a.csv.LastError(); msg != "" {
			s = health.NewDegraded("", msg)
		}
		return s.With("rows", a.csv.Rows())
	})

	if a.nats != nil {
		a.monitor.Register("nats", func() health.Status {
			var s health.Status
			switch status := a.nats.Status(); status {
			case natsclient.StatusConnected:
				s = health.NewHealthy("", status.String())
			case natsclient.StatusReconnecting, natsclient.StatusConnecting:
				s = health.NewDegraded("", status.String())
			default:
				s = health.NewUnhealthy("", status.String())
			}
			s = s.With("servers", a.nats.URL()).With("failures", a.nats.Failures())
			if rtt, err := a.nats.RTT(); err == nil {
				s = s.With("rtt", rtt.String())
			}
			stats := a.forwarder.Stats()
			return s.With("queued", stats.QueueDepth).With("dropped", stats.Dropped)
		})
	}

	if a.hub != nil {
		a.monitor.Register("live_feed", func() health.Status {
			return health.NewHealthy("", "serving").
				With("clients", a.hub.Clients()).
				With("dropped", a.hub.Dropped())
		})
	}

	if a.metricsSrv != nil {
		a.metricsSrv.Handle("/health/status", a.monitor)
	}
}

func (a *app) setupNATS(ctx context.Context) error {
	nc := a.cfg.NATS
	var core *metric.Metrics
	if a.registry != nil {
		core = a.registry.CoreMetrics()
	}

	client, err := newNATSClient(nc, a.logger, core)
	if err != nil {
		return fmt.Errorf("create NATS client: %w", err)
	}
	a.nats = client

	if err := retry.Do(ctx, retry.DefaultConfig(), func() error { return client.Connect(ctx) }); err != nil {
		return fmt.Errorf("connect to NATS: %w", err)
	}

	a.forwarder, err = natsout.New(natsout.Config{
		SubjectPrefix: nc.SubjectPrefix,
		Workers:       nc.Workers,
		QueueSize:     nc.QueueSize,
	}, natsout.Deps{Client: client, Logger: a.logger, MetricsRegistry: a.registry})
	if err != nil {
		return fmt.Errorf("create NATS forwarder: %w", err)
	}
	if err := a.forwarder.Start(ctx); err != nil {
		return err
	}
	return nil
}

// newNATSClient builds a client for every configured server. Connection
// health is mirrored into core when it is non-nil.
func newNATSClient(nc config.NATSConfig, logger *slog.Logger, core *metric.Metrics) (*natsclient.Client, error) {
	opts := []natsclient.ClientOption{
		natsclient.WithLogger(logger),
		natsclient.WithName(appName),
		natsclient.WithMaxReconnects(nc.MaxReconnects),
		natsclient.WithReconnectWait(nc.ReconnectWait),
		natsclient.WithHealthChangeCallback(func(healthy bool) {
			status := metric.StatusStopped
			if healthy {
				status = metric.StatusRunning
			}
			core.SetStatus("nats", status)
		}),
		natsclient.WithDisconnectCallback(func(err error) {
			if err != nil {
				core.RecordError("natsclient",
					errors.WrapTransient(err, "Client", "handleDisconnect", "lost connection"))
			}
		}),
	}
	if nc.ConnectTimeout > 0 {
		opts = append(opts, natsclient.WithTimeout(nc.ConnectTimeout))
	}
	if nc.PingInterval > 0 {
		opts = append(opts, natsclient.WithPingInterval(nc.PingInterval))
	}
	if nc.DrainTimeout > 0 {
		opts = append(opts, natsclient.WithDrainTimeout(nc.DrainTimeout))
	}
	if nc.CircuitThreshold > 0 {
		opts = append(opts, natsclient.WithCircuitBreakerThreshold(int32(nc.CircuitThreshold)))
	}
	if nc.MaxBackoff > 0 {
		opts = append(opts, natsclient.WithMaxBackoff(nc.MaxBackoff))
	}
	if nc.Username != "" {
		opts = append(opts, natsclient.WithCredentials(nc.Username, nc.Password))
	}
	if nc.Token != "" {
		opts = append(opts, natsclient.WithToken(nc.Token))
	}

	// nats.Connect takes a comma-separated server list.
	return natsclient.NewClient(strings.Join(nc.URLs, ","), opts...)
}

// run serves until ctx is done or a component fails, then shuts down.
func (a *app) run(ctx context.Context, shutdownTimeout time.Duration) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return a.server.Serve(gctx) })
	if a.metricsSrv != nil {
		g.Go(func() error {
			a.logger.Info("Serving metrics", "addr", a.cfg.Metrics.Address, "path", a.cfg.Metrics.Path)
			return a.metricsSrv.Start(gctx)
		})
	}

	a.logger.Info("bioingest started", "addr", a.listener.Addr())

	<-gctx.Done()
	if ctx.Err() != nil {
		a.logger.Info("Received shutdown signal")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	a.shutdown(shutdownCtx, shutdownTimeout)

	if err := g.Wait(); err != nil {
		return fmt.Errorf("run: %w", err)
	}
	return nil
}

// shutdown stops components in order. A failing step is logged and the
// remaining steps still run.
func (a *app) shutdown(ctx context.Context, timeout time.Duration) {
	if a.advertiser != nil {
		if err := a.advertiser.Stop(); err != nil {
			a.logger.Error("Failed to stop advertising", "error", err)
		}
	}

	switch {
	case a.server != nil:
		if err := a.server.Close(); err != nil {
			a.logger.Error("Failed to close server", "error", err)
		}
	case a.listener != nil:
		if err := a.listener.Close(); err != nil {
			a.logger.Error("Failed to close listener", "error", err)
		}
	}

	if a.hub != nil {
		if err := a.hub.Close(ctx); err != nil {
			a.logger.Error("Failed to close live feed", "error", err)
		}
	}

	if a.forwarder != nil {
		if err := a.forwarder.Stop(timeout); err != nil {
			a.logger.Error("Failed to stop NATS forwarder", "error", err)
		}
	}

	if a.nats != nil {
		if err := a.nats.Close(ctx); err != nil {
			a.logger.Error("Failed to close NATS connection", "error", err)
		}
	}

	if a.metricsSrv != nil {
		if err := a.metricsSrv.Stop(); err != nil {
			a.logger.Error("Failed to stop metrics server", "error", err)
		}
	}

	if a.csv != nil {
		a.logger.Info("Rows written this run", "rows", a.csv.Rows(), "path", a.csv.Path())
	}
	a.logger.Info("shutdown complete")
}
