package cmd

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/ec2/imds"
	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/bucketview/internal/config"
	"github.com/3leaps/bucketview/internal/observability"
)

const imdsProbeTimeout = 2 * time.Second

var doctorProvider string

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Run diagnostic checks",
	Long: `Run diagnostic checks on the environment, configuration and storage
connectivity, and suggest fixes for common issues.

Examples:
  bucketview doctor                 # Environment and configured buckets
  bucketview doctor --provider s3   # Also check AWS credentials and region`,
	Args: cobra.NoArgs,
	RunE: runDoctor,
}

func init() {
	rootCmd.AddCommand(doctorCmd)
	addStorageFlags(doctorCmd)
	doctorCmd.Flags().StringVar(&doctorProvider, "provider", "", "Run provider-specific checks (s3)")
}

type doctorCheck struct {
	name string
	run  func(ctx context.Context) (string, error)
}

func runDoctor(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	log := observability.CLILogger

	checks := []doctorCheck{
		{"Go version", checkGoVersion},
		{"config directory", checkConfigDir},
		{"environment", func(context.Context) (string, error) { return runtime.GOOS + "/" + runtime.GOARCH, nil }},
		{"configuration", func(context.Context) (string, error) { return checkConfig(appConfig) }},
		{"storage", func(ctx context.Context) (string, error) { return checkStorage(ctx, appConfig) }},
	}
	if doctorProvider == "s3" {
		checks = append(checks,
			doctorCheck{"AWS credentials", checkAWSCredentials},
			doctorCheck{"AWS region", func(ctx context.Context) (string, error) { return checkRegion(ctx, appConfig) }},
		)
	}

	log.Info("=== bucketview doctor ===")
	failed := 0
	for i, c := range checks {
		detail, err := c.run(ctx)
		label := fmt.Sprintf("[%d/%d] Checking %s...", i+1, len(checks), c.name)
		if err != nil {
			failed++
			log.Error(label+" FAILED", zap.String("check", c.name), zap.Error(err))
			if c.name == "AWS credentials" {
				printAWSCredentialsHelp()
			}
			continue
		}
		log.Info(label+" ok "+detail, zap.String("check", c.name))
	}

	if failed > 0 {
		log.Warn("Some checks failed. Review the output above for details.", zap.Int("failed", failed))
		return exitError(foundry.ExitExternalServiceUnavailable, "Diagnostics failed", fmt.Errorf("%d of %d checks failed", failed, len(checks)))
	}
	log.Info("All checks passed.")
	return nil
}

func checkGoVersion(context.Context) (string, error) {
	v := runtime.Version()
	if v < "go1.23" {
		return v, fmt.Errorf("%s is older than the recommended go1.23", v)
	}
	return v, nil
}

func checkConfigDir(context.Context) (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("cannot find config directory: %w", err)
	}
	return dir, nil
}

func checkConfig(cfg *config.Config) (string, error) {
	if cfg == nil {
		return "", fmt.Errorf("configuration not loaded")
	}
	if err := cfg.Validate(); err != nil {
		return "", err
	}
	return "backend=" + cfg.Storage.Backend, nil
}

// checkStorage lists one key from every configured bucket.
func checkStorage(ctx context.Context, cfg *config.Config) (string, error) {
	if cfg == nil {
		return "", fmt.Errorf("configuration not loaded")
	}
	if len(cfg.Storage.Buckets) == 0 {
		return "no buckets configured, skipped", nil
	}
	a, err := newApp(cfg, nil, observability.CLILogger)
	if err != nil {
		return "", err
	}
	defer func() { _ = a.Close() }()

	checker := storeHealthChecker{source: a.registry, buckets: cfg.Storage.Buckets}
	if err := checker.CheckHealth(ctx); err != nil {
		return "", err
	}
	return fmt.Sprintf("%d bucket(s) reachable", len(cfg.Storage.Buckets)), nil
}

func checkAWSCredentials(ctx context.Context) (string, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return "", fmt.Errorf("load AWS config: %w", err)
	}
	creds, err := awsCfg.Credentials.Retrieve(ctx)
	if err != nil {
		return "", fmt.Errorf("retrieve credentials: %w", err)
	}
	source := creds.Source
	if source == "" {
		source = "unknown"
	}
	return fmt.Sprintf("%s (source %s)", maskAccessKey(creds.AccessKeyID), source), nil
}

// checkRegion reports the configured region, falling back to the instance
// metadata service when none is set.
func checkRegion(ctx context.Context, cfg *config.Config) (string, error) {
	if cfg != nil && cfg.Storage.Region != "" {
		return cfg.Storage.Region + " (config)", nil
	}
	if r := os.Getenv("AWS_REGION"); r != "" {
		return r + " (AWS_REGION)", nil
	}

	probeCtx, cancel := context.WithTimeout(ctx, imdsProbeTimeout)
	defer cancel()
	out, err := imds.New(imds.Options{}).GetRegion(probeCtx, &imds.GetRegionInput{})
	if err != nil {
		return "", fmt.Errorf("no region configured and instance metadata unavailable: %w", err)
	}
	return out.Region + " (instance metadata)", nil
}

// maskAccessKey masks all but the last 4 characters of an access key.
func maskAccessKey(key string) string {
	if len(key) <= 4 {
		return "****"
	}
	return "****" + key[len(key)-4:]
}

func printAWSCredentialsHelp() {
	log := observability.CLILogger
	log.Info("To configure AWS credentials:")
	log.Info("  1. Set AWS_ACCESS_KEY_ID and AWS_SECRET_ACCESS_KEY environment variables, or")
	log.Info("  2. Run 'aws configure' to set up a profile, or")
	log.Info("  3. Use an IAM role when running on AWS infrastructure")
	log.Info("For S3-compatible storage (MinIO, Wasabi, etc.), also set --endpoint or BUCKETVIEW_ENDPOINT")
}
