package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/inletio/inlet/pkg/clients"
	"github.com/inletio/inlet/pkg/config"
	"github.com/inletio/inlet/pkg/connector"
	"github.com/inletio/inlet/pkg/ingest"
	"github.com/inletio/inlet/pkg/logger"
	"github.com/inletio/inlet/pkg/retry"
	"github.com/inletio/inlet/pkg/schedule"
)

var version = "0.1.0"

func main() {
	// Load .env file if it exists
	_ = godotenv.Load()

	root := &cobra.Command{
		Use:   "inlet",
		Short: "Inlet - integration connector runtime",
		Long: `Inlet pulls data from REST APIs, FTP/SFTP servers, watched directories,
and signed webhooks, normalizes each payload, and uploads the resulting
records to a document ingestion service with resumable checkpoints.`,
	}

	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("Inlet v%s\n", version)
			fmt.Printf("Go version: %s\n", runtime.Version())
			fmt.Printf("OS/Arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)
		},
	})

	root.AddCommand(newValidateCmd())
	root.AddCommand(newSyncCmd())
	root.AddCommand(newRunCmd())
	root.AddCommand(newCronCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadConfig(path string) (*config.Config, error) {
	cfg := config.NewConfig("", "")
	if err := config.Load(path, cfg); err != nil {
		return nil, fmt.Errorf("failed to load config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

func initLogging(cfg *config.Config) error {
	return logger.Init(logger.Config{Level: cfg.Observability.LogLevel, Encoding: "json"})
}

func buildConnector(cfg *config.Config) (*connector.Connector, error) {
	httpCfg := clients.DefaultHTTPConfig()
	if cfg.Timeouts.Request > 0 {
		httpCfg.RequestTimeout = cfg.Timeouts.Request
	}
	httpClient := clients.NewHTTPClient(httpCfg, logger.Get())

	policy := &retry.Policy{
		MaxRetries: cfg.Reliability.MaxRetries,
		Backoff:    cfg.Reliability.Backoff,
		MaxBackoff: cfg.Reliability.MaxBackoff,
		Jitter:     cfg.Reliability.Jitter,
		Operation:  "ingest-upload",
	}
	sink := ingest.NewHTTPClient(cfg.Ingest, httpClient, policy, logger.Get())
	return connector.New(cfg, sink)
}

func newValidateCmd() *cobra.Command {
	var configFile string
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate a connector configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configFile)
			if err != nil {
				return err
			}
			fmt.Printf("%s: ok (source=%s, transform=%s)\n", configFile, cfg.Source, cfg.Transform.Format)
			if cfg.Schedule.Enabled {
				fmt.Printf("schedule: %s (%s)\n", cfg.Schedule.Cron, schedule.Describe(cfg.Schedule.Cron))
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&configFile, "config", "c", "", "Path to connector config YAML (required)")
	_ = cmd.MarkFlagRequired("config")
	return cmd
}

func newSyncCmd() *cobra.Command {
	var configFile, checkpointFile, cursor string
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Run a single sync pass",
		Long: `Run one sync pass and exit. With --checkpoint-file, the pass resumes
from the stored checkpoint and writes the new one back on completion.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configFile)
			if err != nil {
				return err
			}
			if err := initLogging(cfg); err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			c, err := buildConnector(cfg)
			if err != nil {
				return err
			}
			defer func() { _ = c.Close(context.Background()) }()

			params := connector.SyncParams{Cursor: cursor}
			if checkpointFile != "" {
				cp, err := readCheckpoint(checkpointFile)
				if err != nil {
					return err
				}
				params.Since = cp
			}

			ctx, cancel := context.WithTimeout(context.Background(), timeout)
			defer cancel()
			ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			result, err := c.Pull(ctx, params)
			if result != nil && checkpointFile != "" && result.Checkpoint != nil {
				if werr := writeCheckpoint(checkpointFile, result.Checkpoint); werr != nil {
					logger.Get().Warn("failed to persist checkpoint", zap.Error(werr))
				}
			}
			if err != nil {
				return err
			}

			fmt.Printf("pass %s: processed=%d uploaded=%d errors=%d\n",
				result.PassID, result.DocumentsProcessed, result.DocumentsUploaded, len(result.Errors))
			return nil
		},
	}

	cmd.Flags().StringVarP(&configFile, "config", "c", "", "Path to connector config YAML (required)")
	_ = cmd.MarkFlagRequired("config")
	cmd.Flags().StringVar(&checkpointFile, "checkpoint-file", "", "Path used to read and persist the checkpoint")
	cmd.Flags().StringVar(&cursor, "cursor", "", "Explicit cursor override for this pass")
	cmd.Flags().DurationVar(&timeout, "timeout", 30*time.Minute, "Pass timeout")
	return cmd
}

func newRunCmd() *cobra.Command {
	var configFile, checkpointFile string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the connector as a long-lived service",
		Long: `Run the connector until interrupted: scheduled sync passes per the
configured cron expression, plus the webhook receiver or directory
watcher for push sources, plus the Prometheus metrics endpoint.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configFile)
			if err != nil {
				return err
			}
			if err := initLogging(cfg); err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			return runService(cfg, checkpointFile)
		},
	}

	cmd.Flags().StringVarP(&configFile, "config", "c", "", "Path to connector config YAML (required)")
	_ = cmd.MarkFlagRequired("config")
	cmd.Flags().StringVar(&checkpointFile, "checkpoint-file", "", "Path used to read and persist checkpoints between passes")
	return cmd
}

func newCronCmd() *cobra.Command {
	cron := &cobra.Command{
		Use:   "cron",
		Short: "Cron schedule utilities",
	}
	cron.AddCommand(&cobra.Command{
		Use:   "describe <expression>",
		Short: "Render a cron expression in plain language",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(schedule.Describe(args[0]))
		},
	})
	return cron
}
