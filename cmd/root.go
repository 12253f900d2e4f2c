package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/markb/sqlbridge/internal/db"
	"github.com/markb/sqlbridge/internal/function"
	"github.com/markb/sqlbridge/internal/log"
	"github.com/markb/sqlbridge/internal/observability"
)

// Version information set via ldflags at build time
var (
	Version   = "dev"
	BuildTime = ""
	GitCommit = ""
)

// telemetry is set up before every command runs and shut down by Execute.
var telemetry *observability.Telemetry

var rootCmd = &cobra.Command{
	Use:   "sqlbridge",
	Short: "Go functions for SQLite, callable from SQL",
	Long: `sqlbridge opens SQLite databases with a library of Go-implemented SQL functions
registered on the connection, runs queries against them and serves them over the
PostgreSQL wire protocol.`,
	Version:           Version,
	SilenceUsage:      true,
	PersistentPreRunE: setup,
}

func init() {
	// Set version template to include build info when available
	rootCmd.SetVersionTemplate("sqlbridge version {{.Version}}\n")

	flags := rootCmd.PersistentFlags()
	flags.String("log-level", "", "Log level: debug, info, warn or error (default: info)")
	flags.String("log-format", "", "Log format: text or json (default: text)")
	flags.String("log-file", "", "Write logs to this file instead of stderr")
	flags.String("otel-exporter", "", "Telemetry exporter: none, stdout or otlp (default: none)")
	flags.String("otel-endpoint", "", "OTLP collector endpoint (default: localhost:4317)")
}

func Execute() {
	err := rootCmd.Execute()
	teardown()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// setup initializes logging and telemetry from flags and the environment.
func setup(cmd *cobra.Command, args []string) error {
	if err := log.Init(buildLogConfig(cmd)); err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	tel, _, err := observability.Init(ctx, buildOtelConfig(cmd))
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	telemetry = tel
	return nil
}

func teardown() {
	if telemetry != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := telemetry.Shutdown(ctx); err != nil {
			log.Warn("failed to shut down telemetry", "error", err)
		}
		telemetry = nil
	}
	log.Close()
}

// buildLogConfig creates a log.Config from environment variables and CLI flags.
// Priority: CLI flags > environment variables > defaults
func buildLogConfig(cmd *cobra.Command) *log.Config {
	cfg := log.DefaultConfig()

	if level := os.Getenv("SQLBRIDGE_LOG_LEVEL"); level != "" {
		cfg.Level = level
	}

	if level, _ := cmd.Flags().GetString("log-level"); level != "" {
		cfg.Level = level
	}
	if format, _ := cmd.Flags().GetString("log-format"); format != "" {
		cfg.Format = format
	}
	if file, _ := cmd.Flags().GetString("log-file"); file != "" {
		cfg.Mode = "file"
		cfg.FilePath = file
	}

	return cfg
}

// buildOtelConfig creates an observability.Config from environment variables
// and CLI flags.
func buildOtelConfig(cmd *cobra.Command) *observability.Config {
	cfg := observability.NewConfig()

	if exporter := os.Getenv("SQLBRIDGE_OTEL_EXPORTER"); exporter != "" {
		cfg.Exporter = exporter
	}

	if exporter, _ := cmd.Flags().GetString("otel-exporter"); exporter != "" {
		cfg.Exporter = exporter
	}
	if endpoint, _ := cmd.Flags().GetString("otel-endpoint"); endpoint != "" {
		cfg.Endpoint = endpoint
	}

	return cfg
}

// addDBFlags registers the flags shared by commands that open a database.
func addDBFlags(cmd *cobra.Command) {
	cmd.Flags().String("db", "data.db", "Path to database file")
	cmd.Flags().Bool("no-builtins", false, "Do not register the built-in functions")
}

// openDB opens the database named by the --db flag with the function
// registry wired to the process logger and metrics.
func openDB(cmd *cobra.Command) (*db.DB, error) {
	cfg := db.DefaultConfig()
	cfg.Path, _ = cmd.Flags().GetString("db")
	noBuiltins, _ := cmd.Flags().GetBool("no-builtins")
	cfg.Builtins = !noBuiltins

	database, err := db.Open(cfg,
		function.WithLogger(log.Logger()),
		function.WithMetrics(telemetry.Metrics()),
	)
	if err != nil {
		return nil, err
	}
	log.Debug("database opened", "path", cfg.Path, "functions", database.Functions.Len())
	return database, nil
}
