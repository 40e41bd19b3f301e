// Package cmd implements the bucketview command line.
package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/bucketview/internal/config"
	"github.com/3leaps/bucketview/internal/observability"
	"github.com/3leaps/bucketview/internal/server/handlers"
)

const exitFailure = 1

var (
	cfgFile      string
	logLevel     string
	outputFormat string
	backendFlag  string

	appConfig *config.Config
)

var versionInfo = struct {
	Version   string
	Commit    string
	BuildDate string
}{
	Version:   "dev",
	Commit:    "unknown",
	BuildDate: "unknown",
}

var rootCmd = &cobra.Command{
	Use:   "bucketview",
	Short: "Browse and reorganize object storage as folders and files",
	Long: `bucketview projects the flat key space of an S3-compatible bucket onto
folders and files, and performs folder-level operations (create, copy, move,
recursive delete) as batches of object operations with per-key outcomes.

Examples:
  bucketview ls s3://my-bucket/reports/
  bucketview mkdir s3://my-bucket/reports/2025
  bucketview mv s3://my-bucket/a.csv s3://my-bucket/b.csv s3://my-bucket/archive/
  bucketview rm --recursive s3://my-bucket/tmp/
  bucketview serve --port 8080`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: initApp,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Config file (default: ./bucketview.yaml or ~/.config/bucketview/bucketview.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (debug|info|warn|error)")
	rootCmd.PersistentFlags().StringVarP(&outputFormat, "output", "o", "jsonl", "Output format (jsonl|table)")
	rootCmd.PersistentFlags().StringVar(&backendFlag, "backend", "", "Storage backend (s3|minio|memory|sqlite)")
}

// SetVersionInfo records build metadata injected by the linker.
func SetVersionInfo(version, commit, buildDate string) {
	versionInfo.Version = version
	versionInfo.Commit = commit
	versionInfo.BuildDate = buildDate
	handlers.SetVersionInfo(handlers.VersionInfo{Version: version, Commit: commit, BuildDate: buildDate})
}

// Execute runs the root command and returns the process exit code.
func Execute() int {
	if err := rootCmd.Execute(); err != nil {
		observability.CLILogger.Error("command failed", zap.Error(err))
		fmt.Fprintln(os.Stderr, "Error:", err)
		return ExitCode(err)
	}
	return 0
}

func initApp(cmd *cobra.Command, args []string) error {
	if cfgFile != "" {
		if err := os.Setenv("BUCKETVIEW_CONFIG", cfgFile); err != nil {
			return exitError(foundry.ExitInvalidArgument, "Invalid --config value", err)
		}
	}

	overrides := map[string]any{}
	if logLevel != "" {
		overrides["logging"] = map[string]any{"level": logLevel}
	}
	if backendFlag != "" {
		overrides["storage"] = map[string]any{"backend": backendFlag}
	}
	if err := applyCommandOverrides(cmd, overrides); err != nil {
		return err
	}

	cfg, err := config.Load(cmd.Context(), overrides)
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid configuration", err)
	}
	appConfig = cfg

	if err := observability.Init(cfg.Logging.Level, cfg.Logging.Profile); err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid logging configuration", err)
	}
	if outputFormat != "jsonl" && outputFormat != "table" {
		return exitError(foundry.ExitInvalidArgument, "Invalid --output value", fmt.Errorf("output must be jsonl or table, got %q", outputFormat))
	}
	return nil
}

// ExitError carries the process exit code of a failed command.
type ExitError struct {
	Code    int
	Message string
	Err     error
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("%s: %v (exit code %d)", e.Message, e.Err, e.Code)
}

func (e *ExitError) Unwrap() error { return e.Err }

func exitError(code int, message string, err error) error {
	return &ExitError{Code: code, Message: message, Err: err}
}

// ExitCode extracts the exit code from err; errors without one exit 1.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var ee *ExitError
	if errors.As(err, &ee) {
		return ee.Code
	}
	return exitFailure
}
