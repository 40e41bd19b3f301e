// Package batch synthesizes folder-level mutations (create folder, copy,
// move, delete) from primitive object operations.
//
// Every key of a batch is an independent unit of work with its own Outcome.
// Nothing is rolled back and nothing is retried; a failure on one key never
// blocks the others. A move is copy, verify, then delete: the source is only
// deleted once the destination is confirmed, and a failed delete is reported
// as a duplicate instead of being dropped.
package batch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/3leaps/bucketview/pkg/keypath"
	"github.com/3leaps/bucketview/pkg/provider"
)

// DefaultConcurrency bounds per-batch fan-out when Config.Concurrency is zero.
const DefaultConcurrency = 8

// Projection is the view of the key space the coordinator needs.
// *hierarchy.Engine implements it.
type Projection interface {
	IsFolder(ctx context.Context, bucket string, path keypath.Path) (bool, error)
	HasChildren(ctx context.Context, bucket string, path keypath.Path) (bool, error)
	Descendants(ctx context.Context, bucket string, path keypath.Path) ([]provider.ObjectSummary, error)
	Invalidate(bucket string, folder keypath.Path)
}

// Observer is notified of every per-key outcome.
type Observer interface {
	ObserveBatchOutcome(op Op, status Status)
}

// Config tunes batch execution.
type Config struct {
	// Concurrency bounds the number of keys processed at once, and the
	// descendant deletes of one recursive folder delete.
	Concurrency int

	// RateLimit caps primitive store calls per second. Zero disables it.
	RateLimit float64

	// Burst is the limiter bucket size. Zero derives it from RateLimit.
	Burst int

	// SpoolMaxMemoryBytes is the largest upload buffered in memory.
	SpoolMaxMemoryBytes int64
}

// DefaultConfig returns the settings used when none are configured.
func DefaultConfig() Config {
	return Config{
		Concurrency:         DefaultConcurrency,
		SpoolMaxMemoryBytes: DefaultSpoolMaxMemoryBytes,
	}
}

// Options carries optional collaborators. Nil fields are replaced with no-ops.
type Options struct {
	Logger   *zap.Logger
	Observer Observer
}

// Coordinator executes batch mutations. It is safe for concurrent use; no
// ordering is imposed between batches.
type Coordinator struct {
	source  provider.Source
	view    Projection
	cfg     Config
	limiter *rate.Limiter
	log     *zap.Logger
	obs     Observer
}

// New returns a Coordinator that opens buckets through source and keeps view
// in step with every mutation.
func New(source provider.Source, view Projection, cfg Config, opts Options) *Coordinator {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConfig().Concurrency
	}
	if cfg.SpoolMaxMemoryBytes <= 0 {
		cfg.SpoolMaxMemoryBytes = DefaultConfig().SpoolMaxMemoryBytes
	}

	c := &Coordinator{source: source, view: view, cfg: cfg, log: opts.Logger, obs: opts.Observer}
	if c.log == nil {
		c.log = zap.NewNop()
	}
	if cfg.RateLimit > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = max(1, int(cfg.RateLimit))
		}
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}
	return c
}

// CreateFolder writes the zero-byte marker path + "/". Creating an existing
// folder succeeds.
func (c *Coordinator) CreateFolder(ctx context.Context, bucket string, path keypath.Path) error {
	key, err := keypath.FolderKey(path)
	if err != nil {
		return err
	}
	p, err := c.source.Get(ctx, bucket)
	if err != nil {
		return err
	}

	err = c.wait(ctx)
	if err == nil {
		err = p.PutObject(ctx, key, bytes.NewReader(nil), 0)
	}
	c.observe(OpCreateFolder, statusOf(err))
	if err != nil {
		return err
	}

	c.view.Invalidate(bucket, path)
	c.log.Debug("folder created", zap.String("bucket", bucket), zap.String("key", key))
	return nil
}

// CopySet copies each key into dest, keeping its leaf name.
func (c *Coordinator) CopySet(ctx context.Context, bucket string, keys []string, dest keypath.Path) *Result {
	p, err := c.prepare(ctx, bucket, dest)
	if err != nil {
		return c.failAll(ctx, OpCopy, bucket, keys, err)
	}

	targets := planDestinations(keys, dest)
	res := c.run(ctx, OpCopy, bucket, keys, func(ctx context.Context, key string) Outcome {
		destKey := targets[key].key
		if err := targets[key].err; err != nil {
			return Outcome{Status: StatusFailed, Err: err, DestKey: destKey}
		}
		if err := c.wait(ctx); err != nil {
			return failed(err)
		}
		if err := p.CopyObject(ctx, key, destKey); err != nil {
			return Outcome{Status: StatusFailed, Err: err, DestKey: destKey}
		}
		return Outcome{Status: StatusSuccess, DestKey: destKey}
	})

	c.invalidate(bucket, dest, keys)
	return res
}

// MoveSet moves each key into dest, keeping its leaf name.
func (c *Coordinator) MoveSet(ctx context.Context, bucket string, keys []string, dest keypath.Path) *Result {
	p, err := c.prepare(ctx, bucket, dest)
	if err != nil {
		return c.failAll(ctx, OpMove, bucket, keys, err)
	}

	targets := planDestinations(keys, dest)
	res := c.run(ctx, OpMove, bucket, keys, func(ctx context.Context, key string) Outcome {
		destKey := targets[key].key
		if err := targets[key].err; err != nil {
			return Outcome{Status: StatusFailed, Err: err, DestKey: destKey}
		}
		if err := c.wait(ctx); err != nil {
			return failed(err)
		}
		return c.moveOne(context.WithoutCancel(ctx), p, key, destKey)
	})

	c.invalidate(bucket, dest, keys)
	return res
}

// moveOne runs once the copy is about to be issued. ctx is detached from
// cancellation so the delete outcome is always recorded.
func (c *Coordinator) moveOne(ctx context.Context, p provider.MutableProvider, key, destKey string) Outcome {
	if err := p.CopyObject(ctx, key, destKey); err != nil {
		return Outcome{Status: StatusFailed, Err: err, DestKey: destKey}
	}
	if _, err := p.Head(ctx, destKey); err != nil {
		return Outcome{Status: StatusFailed, Err: fmt.Errorf("verify copy %s: %w", destKey, err), DestKey: destKey}
	}

	err := c.wait(ctx)
	if err == nil {
		err = p.DeleteObject(ctx, key)
	}
	if err != nil {
		return Outcome{
			Status:  StatusDuplicate,
			Err:     fmt.Errorf("%w: %s copied to %s, source delete failed: %w", ErrDuplicateAfterFailedMove, key, destKey, err),
			DestKey: destKey,
		}
	}
	return Outcome{Status: StatusSuccess, DestKey: destKey}
}

// DeleteSet deletes each key. A key ending in "/" is a folder; a key without
// one is a file when the object exists and a folder when only descendants
// exist under key + "/". Folders with descendants require recursive.
func (c *Coordinator) DeleteSet(ctx context.Context, bucket string, keys []string, recursive bool) *Result {
	p, err := c.source.Get(ctx, bucket)
	if err != nil {
		return c.failAll(ctx, OpDelete, bucket, keys, err)
	}

	res := c.run(ctx, OpDelete, bucket, keys, func(ctx context.Context, key string) Outcome {
		return c.deleteOne(ctx, p, bucket, key, recursive)
	})

	for _, key := range keys {
		if path, _, err := keypath.Parse(key); err == nil {
			c.view.Invalidate(bucket, path)
		}
	}
	return res
}

func (c *Coordinator) deleteOne(ctx context.Context, p provider.MutableProvider, bucket, key string, recursive bool) Outcome {
	path, marker, err := keypath.Parse(key)
	if err != nil {
		return failed(err)
	}
	if marker {
		return c.deleteFolder(ctx, p, bucket, path, recursive)
	}

	if err := c.wait(ctx); err != nil {
		return failed(err)
	}
	_, err = p.Head(ctx, key)
	switch {
	case err == nil:
		if err := c.wait(ctx); err != nil {
			return failed(err)
		}
		if err := p.DeleteObject(ctx, key); err != nil {
			return failed(err)
		}
		return Outcome{Status: StatusSuccess, Deleted: 1}
	case !provider.IsNotFound(err):
		return failed(err)
	}

	isFolder, err := c.view.IsFolder(ctx, bucket, path)
	if err != nil {
		return failed(err)
	}
	if isFolder {
		return c.deleteFolder(ctx, p, bucket, path, recursive)
	}
	// Nothing under key; deleting an absent key succeeds.
	return Outcome{Status: StatusSuccess}
}

// deleteFolder removes a folder. The marker is deleted last and only once
// every descendant is gone.
func (c *Coordinator) deleteFolder(ctx context.Context, p provider.MutableProvider, bucket string, path keypath.Path, recursive bool) Outcome {
	markerKey, err := keypath.FolderKey(path)
	if err != nil {
		return failed(err)
	}

	if !recursive {
		hasChildren, err := c.view.HasChildren(ctx, bucket, path)
		if err != nil {
			return failed(err)
		}
		if hasChildren {
			return failed(fmt.Errorf("%w: %s", ErrFolderNotEmpty, markerKey))
		}
		exists, err := c.view.IsFolder(ctx, bucket, path)
		if err != nil {
			return failed(err)
		}
		if !exists {
			return Outcome{Status: StatusSuccess}
		}
		if err := c.deleteMarker(ctx, p, markerKey); err != nil {
			return failed(err)
		}
		return Outcome{Status: StatusSuccess, Deleted: 1}
	}

	objects, err := c.view.Descendants(ctx, bucket, path)
	if err != nil {
		return failed(err)
	}

	// Files go first, then nested markers deepest first, then the folder's
	// own marker.
	var files []string
	markers := make(map[int][]string)
	hasMarker := false
	for _, obj := range objects {
		switch {
		case obj.Key == markerKey:
			hasMarker = true
		case strings.HasSuffix(obj.Key, keypath.Delimiter):
			depth := strings.Count(obj.Key, keypath.Delimiter)
			markers[depth] = append(markers[depth], obj.Key)
		default:
			files = append(files, obj.Key)
		}
	}

	deleted, failures := c.deleteAll(ctx, p, files)
	if len(failures) == 0 {
		depths := make([]int, 0, len(markers))
		for d := range markers {
			depths = append(depths, d)
		}
		sort.Sort(sort.Reverse(sort.IntSlice(depths)))
		for _, d := range depths {
			n, f := c.deleteAll(ctx, p, markers[d])
			deleted += n
			if len(f) > 0 {
				failures = f
				break
			}
		}
	}

	if len(failures) > 0 {
		c.log.Warn("folder delete incomplete, marker kept",
			zap.String("bucket", bucket),
			zap.String("folder", markerKey),
			zap.Int("deleted", deleted),
			zap.Int("failed", len(failures)),
		)
		return Outcome{
			Status:  StatusFailed,
			Err:     &FolderDeleteError{Folder: markerKey, Deleted: deleted, Failed: failures},
			Deleted: deleted,
		}
	}

	if hasMarker {
		if err := c.deleteMarker(ctx, p, markerKey); err != nil {
			return Outcome{Status: StatusFailed, Err: err, Deleted: deleted}
		}
		deleted++
	}
	return Outcome{Status: StatusSuccess, Deleted: deleted}
}

func (c *Coordinator) deleteMarker(ctx context.Context, p provider.MutableProvider, markerKey string) error {
	if err := c.wait(ctx); err != nil {
		return err
	}
	if err := p.DeleteObject(ctx, markerKey); err != nil {
		return fmt.Errorf("delete marker %s: %w", markerKey, err)
	}
	return nil
}

// deleteAll deletes keys with bounded fan-out. Keys not started before ctx
// is cancelled are reported as failures.
func (c *Coordinator) deleteAll(ctx context.Context, p provider.MutableProvider, keys []string) (int, map[string]error) {
	var (
		mu       sync.Mutex
		wg       sync.WaitGroup
		deleted  int
		failures = make(map[string]error)
	)
	record := func(key string, err error) {
		mu.Lock()
		defer mu.Unlock()
		if err != nil {
			failures[key] = err
			return
		}
		deleted++
	}

	sem := make(chan struct{}, c.cfg.Concurrency)
	for _, key := range keys {
		if err := ctx.Err(); err != nil {
			record(key, err)
			continue
		}
		sem <- struct{}{}
		wg.Add(1)
		go func() {
			defer func() {
				<-sem
				wg.Done()
			}()
			err := c.wait(ctx)
			if err == nil {
				err = p.DeleteObject(ctx, key)
			}
			record(key, err)
		}()
	}
	wg.Wait()
	return deleted, failures
}

// Upload stores body as name inside folder and returns the new key. size < 0
// means unknown; the body is then spooled before upload.
func (c *Coordinator) Upload(ctx context.Context, bucket string, folder keypath.Path, name string, body io.Reader, size int64) (string, error) {
	key, err := keypath.Join(folder, name)
	if err != nil {
		return "", err
	}
	p, err := c.source.Get(ctx, bucket)
	if err != nil {
		return "", err
	}

	sb, err := newSeekableBody(body, size, c.cfg.SpoolMaxMemoryBytes)
	if err != nil {
		c.observe(OpUpload, StatusFailed)
		return "", fmt.Errorf("buffer upload %s: %w", key, err)
	}
	defer func() { _ = sb.Close() }()

	err = c.wait(ctx)
	if err == nil {
		err = p.PutObject(ctx, key, sb.reader, sb.size)
	}
	c.observe(OpUpload, statusOf(err))
	if err != nil {
		return "", err
	}

	c.view.Invalidate(bucket, append(append(keypath.Path{}, folder...), name))
	c.log.Debug("object uploaded", zap.String("bucket", bucket), zap.String("key", key), zap.Int64("bytes", sb.size))
	return key, nil
}

func (c *Coordinator) prepare(ctx context.Context, bucket string, dest keypath.Path) (provider.MutableProvider, error) {
	if err := keypath.Validate(dest); err != nil {
		return nil, err
	}
	return c.source.Get(ctx, bucket)
}

// run processes keys on a bounded worker pool. Duplicate keys are processed
// once. Keys picked up after ctx is done fail with ctx.Err().
func (c *Coordinator) run(ctx context.Context, op Op, bucket string, keys []string, fn func(ctx context.Context, key string) Outcome) *Result {
	start := time.Now()
	unique := dedupe(keys)
	res := newResult(op, len(unique))

	var mu sync.Mutex
	record := func(key string, o Outcome) {
		mu.Lock()
		res.Outcomes[key] = o
		mu.Unlock()
		c.report(op, bucket, key, o)
	}

	workCh := make(chan string)
	var wg sync.WaitGroup
	for i := 0; i < min(c.cfg.Concurrency, len(unique)); i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for key := range workCh {
				if err := ctx.Err(); err != nil {
					record(key, failed(err))
					continue
				}
				record(key, fn(ctx, key))
			}
		}()
	}
	for _, key := range unique {
		workCh <- key
	}
	close(workCh)
	wg.Wait()

	res.Duration = time.Since(start)
	c.log.Info("batch complete",
		zap.String("op", string(op)),
		zap.String("bucket", bucket),
		zap.Int("total", res.Total()),
		zap.Int("succeeded", res.Succeeded()),
		zap.Int("failed", res.Failed()),
		zap.Int("duplicates", res.Duplicates()),
		zap.Duration("duration", res.Duration),
	)
	return res
}

func (c *Coordinator) failAll(ctx context.Context, op Op, bucket string, keys []string, err error) *Result {
	return c.run(ctx, op, bucket, keys, func(context.Context, string) Outcome { return failed(err) })
}

func (c *Coordinator) report(op Op, bucket, key string, o Outcome) {
	c.observe(op, o.Status)
	switch o.Status {
	case StatusDuplicate:
		c.log.Warn("move left object at source and destination",
			zap.String("bucket", bucket),
			zap.String("key", key),
			zap.String("dest_key", o.DestKey),
			zap.Error(o.Err),
		)
	case StatusFailed:
		c.log.Debug("batch key failed",
			zap.String("op", string(op)),
			zap.String("bucket", bucket),
			zap.String("key", key),
			zap.Error(o.Err),
		)
	}
}

func (c *Coordinator) observe(op Op, status Status) {
	if c.obs != nil {
		c.obs.ObserveBatchOutcome(op, status)
	}
}

func (c *Coordinator) wait(ctx context.Context) error {
	if c.limiter == nil {
		return nil
	}
	return c.limiter.Wait(ctx)
}

// invalidate drops cached listings touched by a copy or move into dest.
func (c *Coordinator) invalidate(bucket string, dest keypath.Path, keys []string) {
	c.view.Invalidate(bucket, dest)
	for _, key := range keys {
		if path, _, err := keypath.Parse(key); err == nil {
			c.view.Invalidate(bucket, path)
		}
	}
}

// destinationKey derives the key src takes inside dest.
func destinationKey(src string, dest keypath.Path) (string, error) {
	path, marker, err := keypath.Parse(src)
	if err != nil {
		return "", err
	}
	if marker {
		return "", fmt.Errorf("%w: %q is a folder marker", keypath.ErrInvalidKey, src)
	}
	destKey, err := keypath.Join(dest, path[len(path)-1])
	if err != nil {
		return "", err
	}
	if destKey == src {
		return "", fmt.Errorf("%w: %s", ErrSelfCopyConflict, src)
	}
	return destKey, nil
}

type destination struct {
	key string
	err error
}

// planDestinations resolves the destination of every key. A destination is
// claimed once per batch: a key that is already its own destination holds it,
// otherwise the first key in input order does. Later keys fail with
// ErrDestinationConflict, so no copy overwrites an object the batch is
// handling and no move deletes a source whose copy was overwritten.
func planDestinations(keys []string, dest keypath.Path) map[string]destination {
	unique := dedupe(keys)
	plan := make(map[string]destination, len(unique))
	claimed := make(map[string]string, len(unique))
	for _, key := range unique {
		destKey, err := destinationKey(key, dest)
		if errors.Is(err, ErrSelfCopyConflict) {
			claimed[key] = key
		}
		plan[key] = destination{key: destKey, err: err}
	}
	for _, key := range unique {
		d := plan[key]
		if d.err != nil {
			continue
		}
		if owner, ok := claimed[d.key]; ok {
			d.err = fmt.Errorf("%w: %s already targeted by %s", ErrDestinationConflict, d.key, owner)
			plan[key] = d
			continue
		}
		claimed[d.key] = key
	}
	return plan
}

func dedupe(keys []string) []string {
	seen := make(map[string]struct{}, len(keys))
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	return out
}

func failed(err error) Outcome {
	return Outcome{Status: StatusFailed, Err: err}
}

func statusOf(err error) Status {
	if err != nil {
		return StatusFailed
	}
	return StatusSuccess
}
