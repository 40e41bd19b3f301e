package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/bucketview/internal/config"
	"github.com/3leaps/bucketview/internal/observability"
	"github.com/3leaps/bucketview/pkg/batch"
	"github.com/3leaps/bucketview/pkg/browser"
	"github.com/3leaps/bucketview/pkg/hierarchy"
	"github.com/3leaps/bucketview/pkg/output"
	"github.com/3leaps/bucketview/pkg/provider"
	"github.com/3leaps/bucketview/pkg/provider/memory"
	"github.com/3leaps/bucketview/pkg/provider/minio"
	"github.com/3leaps/bucketview/pkg/provider/s3"
	"github.com/3leaps/bucketview/pkg/provider/sqlite"
)

// memoryStore backs the memory backend for the life of the process.
var memoryStore = memory.NewStore()

// app wires the core for one command invocation.
type app struct {
	svc      *browser.Service
	registry *provider.Registry
	typ      provider.ProviderType

	// closeStore releases a backend that outlives its providers.
	closeStore func() error
}

func newApp(cfg *config.Config, obs *observability.Metrics, logger *zap.Logger) (*app, error) {
	factory, typ, closeStore, err := newFactory(cfg)
	if err != nil {
		return nil, err
	}

	var (
		storeObs provider.Observer
		cacheObs hierarchy.CacheObserver
		batchObs batch.Observer
	)
	if obs != nil {
		storeObs, cacheObs, batchObs = obs, obs, obs
	}

	registry := provider.NewRegistry(provider.InstrumentFactory(factory, typ, storeObs))
	engine := hierarchy.New(registry, hierarchy.Options{
		CacheTTL:      cfg.Cache.TTL,
		PageSize:      cfg.Storage.MaxKeys,
		Logger:        logger.Named("hierarchy"),
		CacheObserver: cacheObs,
	})
	coord := batch.New(registry, engine, batch.Config{
		Concurrency: cfg.Batch.Concurrency,
		RateLimit:   cfg.Batch.RateLimit,
		Burst:       cfg.Batch.Burst,
	}, batch.Options{
		Logger:   logger.Named("batch"),
		Observer: batchObs,
	})

	return &app{svc: browser.New(registry, engine, coord), registry: registry, typ: typ, closeStore: closeStore}, nil
}

func (a *app) Close() error {
	err := a.registry.Close()
	if a.closeStore != nil {
		err = errors.Join(err, a.closeStore())
	}
	return err
}

// newFactory builds the provider factory for the configured backend. The
// returned close function is nil when the backend holds no resources.
func newFactory(cfg *config.Config) (provider.Factory, provider.ProviderType, func() error, error) {
	sc := cfg.Storage
	switch sc.Backend {
	case config.BackendS3:
		return s3.NewFactory(s3.Config{
			Region:          sc.Region,
			Endpoint:        sc.Endpoint,
			Profile:         sc.Profile,
			AccessKeyID:     sc.AccessKeyID,
			SecretAccessKey: sc.SecretAccessKey,
			ForcePathStyle:  sc.PathStyle,
			MaxKeys:         sc.MaxKeys,
		}), provider.ProviderS3, nil, nil
	case config.BackendMinIO:
		return minio.NewFactory(minio.Config{
			Endpoint:  sc.Endpoint,
			AccessKey: sc.AccessKeyID,
			SecretKey: sc.SecretAccessKey,
			UseSSL:    sc.UseSSL,
			Region:    sc.Region,
			MaxKeys:   sc.MaxKeys,
		}), provider.ProviderMinIO, nil, nil
	case config.BackendMemory:
		for _, b := range sc.Buckets {
			memoryStore.CreateBucket(b)
		}
		return memoryStore.Factory(), provider.ProviderMemory, nil, nil
	case config.BackendSQLite:
		ctx := context.Background()
		store, err := sqlite.Open(ctx, sc.Path, sc.MaxKeys)
		if err != nil {
			return nil, "", nil, err
		}
		for _, b := range sc.Buckets {
			if err := store.CreateBucket(ctx, b); err != nil {
				_ = store.Close()
				return nil, "", nil, err
			}
		}
		return store.Factory(), provider.ProviderSQLite, store.Close, nil
	default:
		return nil, "", nil, fmt.Errorf("unsupported storage backend %q", sc.Backend)
	}
}

// openApp is the common preamble of the data commands.
func openApp() (*app, error) {
	a, err := newApp(appConfig, nil, observability.CLILogger)
	if err != nil {
		return nil, exitError(foundry.ExitInvalidArgument, "Failed to configure storage", err)
	}
	return a, nil
}

func newWriter(w io.Writer, typ provider.ProviderType) output.Writer {
	if outputFormat == "table" {
		return output.NewTableWriter(w)
	}
	return output.NewJSONLWriter(w, uuid.NewString(), string(typ))
}

// applyCommandOverrides folds command-specific flags into the config
// override map.
func applyCommandOverrides(cmd *cobra.Command, overrides map[string]any) error {
	section := func(name string) map[string]any {
		if m, ok := overrides[name].(map[string]any); ok {
			return m
		}
		m := map[string]any{}
		overrides[name] = m
		return m
	}

	flags := cmd.Flags()
	changed := func(name string) bool {
		f := flags.Lookup(name)
		return f != nil && f.Changed
	}

	if changed("host") {
		v, err := flags.GetString("host")
		if err != nil {
			return exitError(foundry.ExitInvalidArgument, "Invalid --host value", err)
		}
		section("server")["host"] = v
	}
	if changed("port") {
		v, err := flags.GetInt("port")
		if err != nil {
			return exitError(foundry.ExitInvalidArgument, "Invalid --port value", err)
		}
		section("server")["port"] = v
	}
	if changed("concurrency") {
		v, err := flags.GetInt("concurrency")
		if err != nil {
			return exitError(foundry.ExitInvalidArgument, "Invalid --concurrency value", err)
		}
		section("batch")["concurrency"] = v
	}
	if changed("rate-limit") {
		v, err := flags.GetFloat64("rate-limit")
		if err != nil {
			return exitError(foundry.ExitInvalidArgument, "Invalid --rate-limit value", err)
		}
		section("batch")["rate_limit"] = v
	}
	for flag, key := range map[string]string{"region": "region", "profile": "profile", "endpoint": "endpoint", "db": "path"} {
		if changed(flag) {
			v, err := flags.GetString(flag)
			if err != nil {
				return exitError(foundry.ExitInvalidArgument, "Invalid --"+flag+" value", err)
			}
			section("storage")[key] = v
		}
	}
	return nil
}

// addStorageFlags registers the connection flags shared by data commands.
func addStorageFlags(cmd *cobra.Command) {
	cmd.Flags().StringP("region", "r", "", "AWS region")
	cmd.Flags().StringP("profile", "p", "", "AWS profile")
	cmd.Flags().String("endpoint", "", "Custom S3 or MinIO endpoint")
	cmd.Flags().String("db", "", "Database file for the sqlite backend")
}

// addBatchFlags registers the flags that tune batch execution.
func addBatchFlags(cmd *cobra.Command) {
	cmd.Flags().Int("concurrency", batch.DefaultConcurrency, "Max keys processed in parallel")
	cmd.Flags().Float64("rate-limit", 0, "Max store mutations per second (0=unlimited)")
}

func nodeRecord(n hierarchy.Node) *output.NodeRecord {
	return &output.NodeRecord{
		Kind:         string(n.Kind),
		Name:         n.Name,
		Key:          n.Key,
		Size:         n.Size,
		LastModified: n.LastModified,
		ETag:         n.ETag,
		HasMarker:    n.HasMarker,
		ParentFolder: n.ParentFolder,
		Depth:        n.Depth,
	}
}

// writeResult emits one outcome per key and a summary, then maps the batch
// status to an exit code.
func writeResult(ctx context.Context, w output.Writer, bucket string, res *batch.Result) error {
	for _, key := range res.Keys() {
		o := res.Outcomes[key]
		rec := &output.OutcomeRecord{
			Op:      string(res.Op),
			Key:     key,
			Status:  string(o.Status),
			DestKey: o.DestKey,
			Deleted: o.Deleted,
		}
		if o.Err != nil {
			rec.ErrorCode = batch.ClassifyError(o.Err)
			rec.Error = o.Err.Error()
		}
		if err := w.WriteOutcome(ctx, rec); err != nil {
			return exitError(foundry.ExitFileWriteError, "Failed to write output", err)
		}
	}
	if err := w.WriteSummary(ctx, &output.SummaryRecord{
		Op:            string(res.Op),
		Bucket:        bucket,
		Total:         res.Total(),
		Succeeded:     res.Succeeded(),
		Failed:        res.Failed(),
		Duplicates:    res.Duplicates(),
		Duration:      res.Duration,
		DurationHuman: res.Duration.Round(time.Millisecond).String(),
	}); err != nil {
		return exitError(foundry.ExitFileWriteError, "Failed to write output", err)
	}

	err := res.Err()
	if err == nil {
		return nil
	}
	observability.CLILogger.Warn("batch finished with failures",
		zap.String("op", string(res.Op)),
		zap.Int("failed", res.Failed()),
		zap.Int("duplicates", res.Duplicates()))
	return exitError(batchExitCode(ctx, res), string(res.Op)+" incomplete", err)
}

// batchExitCode picks the exit code for a batch with failures: cancellation
// wins, then store-side failures, then caller errors.
func batchExitCode(ctx context.Context, res *batch.Result) int {
	if ctx.Err() != nil {
		return foundry.ExitSignalInt
	}
	for _, o := range res.Outcomes {
		if o.Status == batch.StatusSuccess {
			continue
		}
		if provider.IsTransient(o.Err) {
			return foundry.ExitExternalServiceUnavailable
		}
		switch batch.ClassifyError(o.Err) {
		case output.ErrCodeInvalidKey, output.ErrCodeInvalidPath, output.ErrCodeFolderNotEmpty,
			output.ErrCodeSelfCopyConflict, output.ErrCodeNotFound:
		default:
			return foundry.ExitExternalServiceUnavailable
		}
	}
	return foundry.ExitInvalidArgument
}

// storeExitError maps a single-call core error to an exit error.
func storeExitError(message string, err error) error {
	switch {
	case errors.Is(err, context.Canceled):
		return exitError(foundry.ExitSignalInt, message, err)
	case provider.IsTransient(err):
		return exitError(foundry.ExitExternalServiceUnavailable, message, err)
	case provider.IsNotFound(err):
		return exitError(foundry.ExitFileNotFound, message, err)
	case batch.ClassifyError(err) == output.ErrCodeInvalidKey,
		batch.ClassifyError(err) == output.ErrCodeInvalidPath,
		batch.ClassifyError(err) == output.ErrCodeBucketNotFound:
		return exitError(foundry.ExitInvalidArgument, message, err)
	default:
		return exitError(foundry.ExitExternalServiceUnavailable, message, err)
	}
}
