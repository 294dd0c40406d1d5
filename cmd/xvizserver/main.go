// Package main implements xvizserver, which streams XVIZ logs to viewers over
// websockets.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/NodLabs/xviz/componentregistry"
	"github.com/NodLabs/xviz/config"
	"github.com/NodLabs/xviz/health"
	"github.com/NodLabs/xviz/metric"
	"github.com/NodLabs/xviz/provider"
	"github.com/NodLabs/xviz/server"
	"github.com/NodLabs/xviz/session"
)

// Build information
const (
	Version   = "0.1.0"
	BuildTime = "dev"
	appName   = "xvizserver"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := newRootCommand().Execute(); err != nil {
		slog.Error("Application failed", "error", err, "exit_code", 1)
		os.Exit(1)
	}
}

// options holds command-line flags. Flags left unset keep the value from the
// config file, environment, or defaults.
type options struct {
	configPath string
	validate   bool
	overrides  config.Config
}

func newRootCommand() *cobra.Command {
	opts := &options{}
	d := config.Default()

	cmd := &cobra.Command{
		Use:   appName,
		Short: "Stream XVIZ logs to viewers over websockets",
		Long: `Stream XVIZ logs to viewers over websockets.

Each connection names a log with ?log=<name> or the URL path. Logs are served
from archive directories, generated scenarios (scenario_circle, ...), or a live
upstream relay.

Examples:
  xvizserver -d /data/xviz
  xvizserver -d /data/xviz --live --delay 100
  xvizserver --config xviz.yaml --port 0
  xvizserver --sinkurl nats://localhost:4222/vehicle.xviz --live`,
		Version:       Version,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd, opts)
			if err != nil {
				return err
			}
			if opts.validate {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), "Configuration is valid:", cfg)
				return nil
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return run(ctx, cfg, cmd.ErrOrStderr())
		},
	}

	o := &opts.overrides
	f := cmd.Flags()
	f.StringVarP(&opts.configPath, "config", "c", "", "Configuration file (.yaml, .toml, .json, .jsonc)")
	f.BoolVar(&opts.validate, "validate", false, "Validate configuration and exit")
	f.StringVar(&o.Format, "format", d.Format, "Output format: JSON_STRING, JSON_BUFFER, BINARY_GLB (default provider-native)")
	f.BoolVar(&o.Live, "live", d.Live, "Paced playback with reconnect")
	f.IntVar(&o.Delay, "delay", d.Delay, "Pacing interval in ms for logs without a frame rate")
	f.BoolVar(&o.Scenarios, "scenarios", d.Scenarios, "Serve generated scenario_<name> logs")
	f.Float64Var(&o.Duration, "duration", d.Duration, "Scenario length in seconds")
	f.Float64Var(&o.Hz, "hz", d.Hz, "Scenario frame rate")
	f.StringSliceVarP(&o.Directory, "directory", "d", nil, "Archive directories, searched in order")
	f.IntVarP(&o.Port, "port", "p", d.Port, "Listen port, 0 for ephemeral")
	f.IntVar(&o.Reconnect, "reconnect", d.Reconnect, "Wait in ms before each recovery attempt")
	f.IntVar(&o.MaxReconnects, "max-reconnects", d.MaxReconnects, "Recovery attempts before giving up, 0 for unlimited")
	f.StringVar(&o.SinkURL, "sinkurl", d.SinkURL, "Live upstream: ws://, wss:// or nats://host:port/subject")
	f.StringVar(&o.LiveLog, "live-log", d.LiveLog, "Log name routed to the live upstream")
	f.IntVar(&o.BufferSize, "buffer-size", d.BufferSize, "Outbound queue capacity per session")
	f.IntVar(&o.CacheSize, "cache-size", d.CacheSize, "Decoded archive files kept in memory, 0 disables")
	f.IntVar(&o.ReadAhead, "read-ahead", d.ReadAhead, "Archive frames decoded ahead of each session")
	f.StringVar(&o.Log.Level, "log-level", d.Log.Level, "Log level: debug, info, warn, error")
	f.StringVar(&o.Log.Format, "log-format", d.Log.Format, "Log format: json, text")

	return cmd
}

// loadConfig loads the config file and applies the flags the user set. The
// result is validated once, after flags, so a flag can correct a file value.
func loadConfig(cmd *cobra.Command, opts *options) (*config.Config, error) {
	l := config.NewLoader()
	if opts.configPath != "" {
		l.AddLayer(opts.configPath)
	}
	l.EnableValidation(false)
	cfg, err := l.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	applyFlags(cmd, &opts.overrides, cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func applyFlags(cmd *cobra.Command, o *config.Config, cfg *config.Config) {
	changed := cmd.Flags().Changed
	set := func(name string, apply func()) {
		if changed(name) {
			apply()
		}
	}
	set("format", func() { cfg.Format = o.Format })
	set("live", func() { cfg.Live = o.Live })
	set("delay", func() { cfg.Delay = o.Delay })
	set("scenarios", func() { cfg.Scenarios = o.Scenarios })
	set("duration", func() { cfg.Duration = o.Duration })
	set("hz", func() { cfg.Hz = o.Hz })
	set("directory", func() { cfg.Directory = o.Directory })
	set("port", func() { cfg.Port = o.Port })
	set("reconnect", func() { cfg.Reconnect = o.Reconnect })
	set("max-reconnects", func() { cfg.MaxReconnects = o.MaxReconnects })
	set("sinkurl", func() { cfg.SinkURL = o.SinkURL })
	set("live-log", func() { cfg.LiveLog = o.LiveLog })
	set("buffer-size", func() { cfg.BufferSize = o.BufferSize })
	set("cache-size", func() { cfg.CacheSize = o.CacheSize })
	set("read-ahead", func() { cfg.ReadAhead = o.ReadAhead })
	set("log-level", func() { cfg.Log.Level = o.Log.Level })
	set("log-format", func() { cfg.Log.Format = o.Log.Format })
}

// run serves until ctx is cancelled.
func run(ctx context.Context, cfg *config.Config, logOut io.Writer) error {
	logger := setupLogger(logOut, cfg.Log.Level, cfg.Log.Format)
	slog.SetDefault(logger)
	logger.Info("Starting xvizserver", "version", Version, "build_time", BuildTime, "config", cfg.String())

	var registry *metric.MetricsRegistry
	var metrics *metric.Metrics
	if cfg.Metrics {
		registry = metric.NewMetricsRegistry()
		metrics = registry.CoreMetrics()
	}

	monitor := health.NewMonitor()
	providers := provider.NewRegistry(logger, metrics)
	deps := componentregistry.Dependencies{MetricsRegistry: registry, Health: monitor, Logger: logger}
	if err := componentregistry.Register(providers, cfg, deps); err != nil {
		return fmt.Errorf("register providers: %w", err)
	}
	if len(providers.Entries()) == 0 {
		logger.Warn("No providers enabled; every connection will be rejected")
	}

	srvCfg, err := cfg.Server()
	if err != nil {
		return fmt.Errorf("configure listener: %w", err)
	}

	handler := session.NewProviderHandler(providers, cfg.Session(), logger, metrics)
	if registry != nil {
		if err := handler.RegisterQueueMetrics(registry); err != nil {
			return fmt.Errorf("register session queue metrics: %w", err)
		}
	}
	srv := server.New([]server.Binding{handler}, srvCfg,
		server.WithLogger(logger),
		server.WithMetrics(registry),
		server.WithHealth(monitor))

	return srv.Start(ctx, func(port int) {
		logger.Info("Listening on port", "port", port, "tls", srvCfg.TLS != nil)
	})
}
