// Kravd is the kravscan daemon: the HTTP API, the job worker pool and the
// model watchers in one process.
//
// Configuration is loaded from ~/.config/kravscan/config.yaml and KRAV_
// environment variables. See internal/config for details.
//
// Usage:
//
//	# Start with defaults (in-process queue, no NATS)
//	kravd
//
//	# Use an external NATS server for jobs
//	KRAV_NATS_URL=nats://localhost:4222 kravd
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/kravscan/internal/config"
	"github.com/fyrsmithlabs/kravscan/internal/logging"
	"github.com/fyrsmithlabs/kravscan/internal/telemetry"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

func main() {
	configPath := flag.String("config", "", "path to config.yaml")
	flag.Parse()
	args := flag.Args()

	if len(args) > 0 {
		switch args[0] {
		case "version":
			printVersion()
			os.Exit(0)
		default:
			fmt.Fprintf(os.Stderr, "Unknown command: %s\n", args[0])
			fmt.Fprintf(os.Stderr, "\nUsage:\n")
			fmt.Fprintf(os.Stderr, "  kravd [-config file]   Start the kravscan daemon\n")
			fmt.Fprintf(os.Stderr, "  kravd version          Show version information\n")
			os.Exit(1)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, *configPath); err != nil {
		log.Fatalf("kravd: %v", err)
	}
}

func printVersion() {
	fmt.Printf("kravd by Fyrsmith Labs\n")
	fmt.Printf("Version:    %s\n", version)
	fmt.Printf("Commit:     %s\n", gitCommit)
	fmt.Printf("Build Date: %s\n", buildDate)
}

// run loads configuration, starts every subsystem and blocks until ctx is
// cancelled or one of them fails.
func run(ctx context.Context, configPath string) error {
	cfg, err := config.LoadWithFile(configPath)
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logCfg, err := logging.FromConfig(cfg.Logging)
	if err != nil {
		return err
	}
	logger, err := logging.NewLogger(logCfg, nil)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer func() {
		_ = logger.Sync()
	}()

	tel, err := telemetry.New(ctx, telemetry.FromConfig(cfg.Telemetry, version), logger.Underlying().Named("telemetry"))
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := tel.Shutdown(shutdownCtx); err != nil {
			logger.Warn(shutdownCtx, "telemetry shutdown failed", zap.Error(err))
		}
	}()

	logger.Info(ctx, "starting kravd",
		zap.String("version", version),
		zap.Int("port", cfg.Server.Port),
		zap.Int("concurrency", cfg.Worker.Concurrency),
		zap.Bool("nats", cfg.NATS.URL != "" || cfg.NATS.Embedded),
		zap.Bool("telemetry_degraded", tel.Degraded()))

	d, err := newDaemon(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer d.Close()

	err = d.Run(ctx)
	logger.Info(context.Background(), "kravd stopped")
	return err
}
