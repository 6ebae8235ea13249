package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/timzifer/drivelink/config"
	"github.com/timzifer/drivelink/internal/logging"
	"github.com/timzifer/drivelink/internal/reload"
	"github.com/timzifer/drivelink/service"
	"github.com/timzifer/drivelink/telemetry"
)

func main() {
	cfgPath := flag.String("config", "drivelink.yaml", "Path to configuration file (.yaml or .cue)")
	configCheck := flag.Bool("config-check", false, "Validate configuration and exit")
	flag.Parse()

	cfg, err := loadConfig(*cfgPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	if *configCheck {
		os.Exit(executeConfigCheck(cfg))
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	metrics, err := newMetrics(cfg.Telemetry)
	if err != nil {
		fmt.Fprintf(os.Stderr, "telemetry disabled: %v\n", err)
		metrics = bridgeMetrics{collector: telemetry.Noop()}
	}

	if err := run(ctx, *cfgPath, cfg, metrics); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatal().Err(err).Msg("bridge stopped with error")
	}
}

func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if err := config.Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func executeConfigCheck(cfg *config.Config) int {
	b, err := service.New(cfg, zerolog.Nop())
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration invalid: %v\n", err)
		return 1
	}
	fmt.Printf("Link: %s on %s at %d baud, %d columns, %d rows per batch\n",
		cfg.Link.Driver, cfg.Link.Port, cfg.Link.BaudRate, cfg.Link.Width, cfg.Link.BufferRows)
	for _, reg := range b.Registers() {
		access := "rw"
		if !reg.Writable {
			access = "r-"
		}
		fmt.Printf("  0x%02X %-3s %-14s %s %-14s %s\n", reg.Address, reg.Mnemonic, reg.Name, access, reg.Range, reg.Transform)
	}
	fmt.Println("Configuration check completed successfully.")
	return 0
}

type bridgeMetrics struct {
	collector telemetry.Collector
	gatherer  prometheus.Gatherer
}

func (m bridgeMetrics) options() []service.Option {
	opts := []service.Option{service.WithTelemetry(m.collector)}
	if m.gatherer != nil {
		opts = append(opts, service.WithGatherer(m.gatherer))
	}
	return opts
}

func newMetrics(cfg config.TelemetryConfig) (bridgeMetrics, error) {
	if !cfg.Enabled {
		return bridgeMetrics{collector: telemetry.Noop()}, nil
	}
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	collector, err := telemetry.NewPrometheusCollector(reg)
	if err != nil {
		return bridgeMetrics{}, err
	}
	return bridgeMetrics{collector: collector, gatherer: reg}, nil
}

// run serves bridges until ctx ends. With hot reload enabled a changed and
// valid configuration replaces the running bridge.
func run(ctx context.Context, cfgPath string, cfg *config.Config, metrics bridgeMetrics) error {
	var changes <-chan []string
	watcher := reload.NewWatcher(cfg)
	if cfg.HotReload {
		changes = watcher.Watch(ctx, time.Second)
	}

	for {
		logger, cleanup, err := logging.Setup(cfg.Logging)
		if err != nil {
			return err
		}
		log.Logger = logger

		next, changed, err := serve(ctx, cfgPath, cfg, logger, metrics, watcher, changes)
		cleanup()
		if err != nil || next == nil {
			return err
		}
		for _, file := range changed {
			metrics.collector.IncHotReload(file)
		}
		cfg = next
	}
}

// serve runs one bridge. It returns the replacement configuration when a
// reload was triggered, or nil once the bridge stopped for good.
func serve(ctx context.Context, cfgPath string, cfg *config.Config, logger zerolog.Logger, metrics bridgeMetrics, watcher *reload.Watcher, changes <-chan []string) (*config.Config, []string, error) {
	bridge, err := service.New(cfg, logger, metrics.options()...)
	if err != nil {
		return nil, nil, fmt.Errorf("create bridge: %w", err)
	}
	if cfg.HTTP.Listen != "" {
		if err := bridge.EnableHTTP(cfg.HTTP.Listen); err != nil {
			bridge.Close()
			return nil, nil, err
		}
	}
	logger.Info().Str("session", bridge.Session()).Str("port", cfg.Link.Port).Str("driver", cfg.Link.Driver).Msg("bridge started")

	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()
	errCh := make(chan error, 1)
	go func() {
		errCh <- bridge.Run(runCtx)
	}()

	stop := func() error {
		cancelRun()
		err := <-errCh
		if cerr := bridge.Close(); cerr != nil {
			logger.Error().Err(cerr).Msg("close bridge")
		}
		return err
	}

	for {
		select {
		case <-ctx.Done():
			if err := stop(); err != nil {
				return nil, nil, err
			}
			return nil, nil, ctx.Err()
		case err := <-errCh:
			if cerr := bridge.Close(); cerr != nil {
				logger.Error().Err(cerr).Msg("close bridge")
			}
			return nil, nil, err
		case changed, ok := <-changes:
			if !ok {
				changes = nil
				continue
			}
			newCfg, err := loadConfig(cfgPath)
			if err == nil {
				err = service.Validate(newCfg, logger)
			}
			if err != nil {
				logger.Error().Err(err).Strs("files", changed).Msg("reloaded configuration invalid")
				watcher.Update(cfg)
				continue
			}
			watcher.Update(newCfg)
			logger.Info().Strs("files", changed).Msg("configuration changed, restarting bridge")
			if err := stop(); err != nil {
				logger.Error().Err(err).Msg("bridge stopped during reload")
			}
			return newCfg, changed, nil
		}
	}
}
