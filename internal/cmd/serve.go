package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/bucketview/internal/config"
	"github.com/3leaps/bucketview/internal/observability"
	"github.com/3leaps/bucketview/internal/server"
	"github.com/3leaps/bucketview/internal/server/handlers"
	"github.com/3leaps/bucketview/pkg/provider"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the folder API over HTTP",
	Long: `Start the HTTP API. Listings, searches and batch operations are exposed
under /v1/buckets/{bucket}, with health probes under /health and Prometheus
metrics under /metrics.

Examples:
  bucketview serve
  bucketview serve --host 0.0.0.0 --port 9000
  BUCKETVIEW_STORAGE_BACKEND=memory BUCKETVIEW_BUCKETS=demo bucketview serve`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	addStorageFlags(serveCmd)
	addBatchFlags(serveCmd)
	serveCmd.Flags().String("host", "", "Listen host (default from config)")
	serveCmd.Flags().Int("port", 0, "Listen port (default from config)")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg := appConfig
	logger := observability.ServerLogger

	var metrics *observability.Metrics
	if cfg.Metrics.Enabled {
		metrics = observability.NewMetrics()
	}

	a, err := newApp(cfg, metrics, logger)
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Failed to configure storage", err)
	}
	defer func() { _ = a.Close() }()

	health := handlers.InitHealthManager(versionInfo.Version)
	if cfg.Health.Enabled {
		health.RegisterChecker("config", configHealthChecker{cfg: cfg})
		health.RegisterChecker("storage", storeHealthChecker{source: a.registry, buckets: cfg.Storage.Buckets})
	}

	opts := []server.Option{
		server.WithBucketAPI(handlers.NewBucketAPI(a.svc, cfg.Server.MaxUploadBytes)),
		server.WithTimeouts(cfg.Server.ReadTimeout, cfg.Server.WriteTimeout, cfg.Server.IdleTimeout),
	}
	if metrics != nil {
		opts = append(opts, server.WithMetrics(metrics))
	}
	srv := server.New(cfg.Server.Host, cfg.Server.Port, opts...)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Starting server",
			zap.String("addr", srv.Addr()),
			zap.String("backend", string(a.typ)),
			zap.String("version", versionInfo.Version))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return exitError(foundry.ExitExternalServiceUnavailable, "Server failed", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("Shutting down server", zap.Duration("timeout", cfg.Server.ShutdownTimeout))
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return exitError(exitFailure, "Graceful shutdown failed", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return exitError(exitFailure, "Server failed", err)
	}
	logger.Info("Server stopped")
	return nil
}

// configHealthChecker reports a configuration that no longer validates.
type configHealthChecker struct {
	cfg *config.Config
}

func (c configHealthChecker) CheckHealth(ctx context.Context) error {
	if c.cfg == nil {
		return errors.New("configuration not loaded")
	}
	return c.cfg.Validate()
}

// storeHealthChecker lists one key from every configured bucket.
type storeHealthChecker struct {
	source  provider.Source
	buckets []string
}

func (c storeHealthChecker) CheckHealth(ctx context.Context) error {
	for _, b := range c.buckets {
		p, err := c.source.Get(ctx, b)
		if err != nil {
			return fmt.Errorf("bucket %s: %w", b, err)
		}
		if _, err := p.List(ctx, provider.ListOptions{MaxKeys: 1}); err != nil {
			return fmt.Errorf("bucket %s: %w", b, err)
		}
	}
	return nil
}
