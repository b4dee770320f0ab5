// Package main implements kravctl, the command-line client for kravscan.
//
// Local commands (scan, train) run the pipeline and trainer in-process.
// The remaining commands talk to a running kravd over HTTP, except retrain,
// which starts the Temporal retrain workflow.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/kravscan/internal/config"
	"github.com/fyrsmithlabs/kravscan/internal/logging"
	"github.com/fyrsmithlabs/kravscan/internal/monitor"
)

var (
	// serverURL is the base URL for the kravd HTTP server
	serverURL string
	// configPath overrides the default config file location
	configPath string
	// jsonOutput prints raw JSON instead of text
	jsonOutput bool
	// version information
	version = "dev"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "kravctl",
	Short: "CLI for kravscan requirement extraction",
	Long: `kravctl extracts requirements from Norwegian technical documents.

It scans directories locally, submits and follows jobs on a kravd server,
feeds review corrections back into the training corpus and retrains the
discipline classifier and requirement validator.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: false,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "http://127.0.0.1:9191", "kravd server URL")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to config.yaml")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "print JSON output")
	rootCmd.AddCommand(healthCmd)
}

// healthCmd checks server health
var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check kravd server health",
	Long: `Check the health status of the kravd HTTP server.

Examples:
  # Check health
  kravctl health

  # Check health on a different server
  kravctl health --server http://localhost:8080`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		if err := apiClient().Health(cmd.Context()); err != nil {
			return fmt.Errorf("server unhealthy: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), "✓ kravd is healthy")
		return nil
	},
}

func apiClient() *monitor.Client {
	return monitor.NewClient(serverURL)
}

// loadConfig reads the shared kravscan configuration.
func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadWithFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("loading configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// newLogger logs to stderr at the configured level so stdout stays clean
// for results.
func newLogger(cfg *config.Config) (*logging.Logger, error) {
	logCfg, err := logging.FromConfig(cfg.Logging)
	if err != nil {
		return nil, err
	}
	logCfg.Output.Stdout = false
	logCfg.Output.Stderr = true
	return logging.NewLogger(logCfg, nil)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
