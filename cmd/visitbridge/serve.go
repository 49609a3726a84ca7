package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"github.com/odvcencio/visitbridge/pkg/bus"
	"github.com/odvcencio/visitbridge/pkg/config"
	"github.com/odvcencio/visitbridge/pkg/host"
	"github.com/odvcencio/visitbridge/pkg/logging"
	"github.com/odvcencio/visitbridge/pkg/metrics"
	"github.com/odvcencio/visitbridge/pkg/renderer/remote"
	"github.com/odvcencio/visitbridge/pkg/telemetry"
	"github.com/odvcencio/visitbridge/pkg/tracing"
	"github.com/odvcencio/visitbridge/pkg/visit"
)

var serveLoadConfigFn = loadConfig

func loadConfig(path string) (*config.Config, error) {
	if strings.TrimSpace(path) != "" {
		return config.LoadFromPath(path)
	}
	return config.Load()
}

func runCheckConfigCommand(args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("check-config", flag.ContinueOnError)
	fs.SetOutput(stdout)
	configPath := fs.String("config", "", "read configuration from this file only")
	if err := fs.Parse(args); err != nil {
		return withExitCode(err, exitConfig)
	}

	cfg, err := serveLoadConfigFn(*configPath)
	if err != nil {
		return withExitCode(err, exitConfig)
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	_, _ = stdout.Write(data)
	for _, warning := range cfg.ValidationWarnings() {
		fmt.Fprintf(stdout, "# warning: %s\n", warning)
	}
	return nil
}

func runServeCommand(args []string, stderr io.Writer) error {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", "", "read configuration from this file only")
	addr := fs.String("addr", "", "address to bind (overrides server.addr)")
	if err := fs.Parse(args); err != nil {
		return withExitCode(err, exitConfig)
	}

	cfg, err := serveLoadConfigFn(*configPath)
	if err != nil {
		return withExitCode(err, exitConfig)
	}
	if *addr != "" {
		cfg.Server.Addr = *addr
		if err := cfg.Validate(); err != nil {
			return withExitCode(err, exitConfig)
		}
	}

	level, _ := logging.ParseLevel(cfg.Logging.Level)
	logger := logging.New("host", level, stderr)
	for _, warning := range cfg.ValidationWarnings() {
		logger.Warn(warning)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return serve(ctx, cfg, logger, stderr)
}

func serve(ctx context.Context, cfg *config.Config, logger *logging.Logger, traceOut io.Writer) error {
	settings, err := cfg.VisitSettings()
	if err != nil {
		return withExitCode(err, exitConfig)
	}

	hub := telemetry.NewHub()
	defer hub.Close()

	sessionOpts := []visit.Option{}
	gatherer := prometheus.NewRegistry()
	if cfg.Metrics.Enabled {
		gatherer.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
			prometheus.NewCounterFunc(prometheus.CounterOpts{
				Name: "visitbridge_telemetry_dropped_events_total",
				Help: "Session events skipped because a consumer fell behind.",
			}, func() float64 { return float64(hub.Dropped()) }),
		)
		sessionOpts = append(sessionOpts, visit.WithMetrics(metrics.New(gatherer)))
	}

	if cfg.Tracing.Enabled {
		provider, err := tracing.NewProvider(cfg.Tracing.ServiceName, version, tracing.WithWriter(traceOut))
		if err != nil {
			return err
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
			defer cancel()
			_ = provider.Shutdown(shutdownCtx)
		}()
		sessionOpts = append(sessionOpts, visit.WithTracer(provider.Tracer()))
	}

	if dir := cfg.JournalDir(); dir != "" {
		journal, err := logging.NewJournal(dir)
		if err != nil {
			return withExitCode(err, exitConfig)
		}
		defer journal.Close()
		level, _ := logging.ParseLevel(cfg.Logging.Level)
		journal.SetMinLevel(logging.JournalLevel(level))
		events, _ := hub.Subscribe()
		go journal.Consume(events)
		logger.Info("session journal enabled", "dir", dir)
	}

	msgBus, err := openBus(ctx, cfg.Bus)
	if err != nil {
		return err
	}
	if msgBus != nil {
		defer msgBus.Close()
	}

	registry := visit.NewRegistry(sessionOpts...)
	defer registry.Close()

	hostOpts := []host.Option{
		host.WithLogger(logger),
		host.WithHub(hub),
		host.WithGatherer(gatherer),
	}
	if msgBus != nil {
		hostOpts = append(hostOpts, host.WithBus(msgBus))
	}
	srv := host.New(hostConfig(cfg, settings), registry, hostOpts...)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.ListenAndServe(gctx) })
	if msgBus != nil {
		g.Go(func() error { return srv.ServeBus(gctx) })

		relay := bus.NewRelay(msgBus, cfg.Bus.Prefix, logger)
		events, unsubscribe := hub.Subscribe()
		defer unsubscribe()
		g.Go(func() error {
			if err := relay.Run(gctx, events); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		})
	}

	err = g.Wait()
	logger.Info("host stopped")
	return err
}

func hostConfig(cfg *config.Config, settings visit.Settings) host.Config {
	hcfg := host.DefaultConfig()
	hcfg.Addr = cfg.Server.Addr
	hcfg.ReadHeaderTimeout = cfg.Server.ReadTimeout
	hcfg.ShutdownTimeout = cfg.Server.ShutdownTimeout
	hcfg.AllowedOrigins = cfg.Server.AllowedOrigins
	hcfg.BusPrefix = cfg.Bus.Prefix
	hcfg.Settings = settings
	hcfg.MetricsPath = ""
	if cfg.Metrics.Enabled {
		hcfg.MetricsPath = cfg.Metrics.Path
	}
	hcfg.Renderer = remote.Config{
		PingInterval:    cfg.Renderer.PingInterval,
		WriteTimeout:    cfg.Renderer.WriteTimeout,
		MailboxSize:     cfg.Renderer.MailboxSize,
		MaxMessageBytes: cfg.Renderer.MaxMessageBytes,
	}
	return hcfg
}

func openBus(ctx context.Context, cfg config.BusConfig) (bus.MessageBus, error) {
	switch strings.ToLower(cfg.Kind) {
	case config.BusMemory:
		return bus.NewMemoryBus(bus.WithRetention(cfg.Prefix, cfg.Retention)), nil
	case config.BusNATS:
		b, err := bus.NewNATSBus(ctx, bus.Config{
			URL:     cfg.URL,
			Name:    "visitbridge",
			Prefix:  cfg.Prefix,
			Timeout: cfg.Timeout,
			Persist: cfg.Persist,
		})
		if err != nil {
			return nil, withExitCode(err, exitRuntime)
		}
		return b, nil
	default:
		return nil, nil
	}
}
