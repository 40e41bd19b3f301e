// Package hierarchy projects a flat object-key namespace onto folders and
// files, one level at a time.
//
// The projection is a pure recomputation over listing results. Folders are
// never stored: a folder exists while a marker object or any descendant key
// exists under its prefix.
package hierarchy

import (
	"context"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/3leaps/bucketview/pkg/keypath"
	"github.com/3leaps/bucketview/pkg/provider"
)

// DefaultPageSize is the listing page size used when Options.PageSize is zero.
const DefaultPageSize = 1000

// CacheObserver is notified of every cache lookup.
type CacheObserver interface {
	ObserveCacheLookup(hit bool)
}

// Options configures an Engine.
type Options struct {
	// CacheTTL enables the listing cache when positive.
	CacheTTL time.Duration

	// PageSize is the MaxKeys passed to each List call.
	PageSize int

	Logger        *zap.Logger
	CacheObserver CacheObserver
}

// Engine lists folder contents through a provider source.
//
// Engine is safe for concurrent use.
type Engine struct {
	source   provider.Source
	pageSize int
	cache    *listingCache
	log      *zap.Logger
	observer CacheObserver
}

// New creates an engine.
func New(source provider.Source, opts Options) *Engine {
	e := &Engine{
		source:   source,
		pageSize: opts.PageSize,
		log:      opts.Logger,
		observer: opts.CacheObserver,
	}
	if e.pageSize <= 0 {
		e.pageSize = DefaultPageSize
	}
	if e.log == nil {
		e.log = zap.NewNop()
	}
	if opts.CacheTTL > 0 {
		e.cache = newListingCache(opts.CacheTTL)
	}
	return e
}

// ListChildren returns the direct children of prefix. prefix is "" for the
// bucket root or a folder path followed by "/". The result is unordered.
func (e *Engine) ListChildren(ctx context.Context, bucket, prefix string) ([]Node, error) {
	folder, err := keypath.ParsePrefix(prefix)
	if err != nil {
		return nil, err
	}

	var gen uint64
	if e.cache != nil {
		gen = e.cache.generation(bucket)
		nodes, hit := e.cache.get(bucket, prefix)
		if e.observer != nil {
			e.observer.ObserveCacheLookup(hit)
		}
		if hit {
			return nodes, nil
		}
	}

	objects, err := e.listAll(ctx, bucket, prefix)
	if err != nil {
		return nil, err
	}

	nodes := e.project(folder, prefix, objects)
	if e.cache != nil && !e.cache.put(bucket, prefix, gen, nodes) {
		e.log.Debug("listing raced an invalidation, not cached",
			zap.String("bucket", bucket),
			zap.String("prefix", prefix),
		)
	}
	return nodes, nil
}

// project turns a full listing under prefix into one level of nodes.
func (e *Engine) project(folder keypath.Path, prefix string, objects []provider.ObjectSummary) []Node {
	var (
		nodes   []Node
		folders = make(map[string]int)
		skipped int
	)
	depth := keypath.Depth(folder)

	addFolder := func(name string, marker *provider.ObjectSummary) {
		idx, ok := folders[name]
		if !ok {
			path := append(append(keypath.Path{}, folder...), name)
			nodes = append(nodes, Node{
				Kind:         KindFolder,
				Name:         name,
				Key:          keypath.Prefix(path),
				Path:         path,
				ParentFolder: prefix,
				Depth:        depth,
			})
			idx = len(nodes) - 1
			folders[name] = idx
		}
		if marker != nil {
			nodes[idx].HasMarker = true
			nodes[idx].LastModified = marker.LastModified
		}
	}

	for i := range objects {
		obj := &objects[i]
		if obj.Key == prefix {
			continue
		}
		path, isMarker, err := keypath.Parse(obj.Key)
		if err != nil {
			skipped++
			e.log.Debug("skipping unprojectable key", zap.String("key", obj.Key), zap.Error(err))
			continue
		}
		rel, ok := path.Relative(folder)
		if !ok || len(rel) == 0 {
			continue
		}

		switch {
		case len(rel) == 1 && isMarker:
			addFolder(rel[0], obj)
		case len(rel) == 1:
			nodes = append(nodes, Node{
				Kind:         KindFile,
				Name:         rel[0],
				Key:          obj.Key,
				Path:         path,
				Size:         obj.Size,
				LastModified: obj.LastModified,
				ETag:         obj.ETag,
				ParentFolder: prefix,
				Depth:        depth,
			})
		default:
			addFolder(rel[0], nil)
		}
	}

	if skipped > 0 {
		e.log.Debug("listing contained unprojectable keys", zap.String("prefix", prefix), zap.Int("skipped", skipped))
	}
	return nodes
}

// IsFolder reports whether any key exists under path + "/".
func (e *Engine) IsFolder(ctx context.Context, bucket string, path keypath.Path) (bool, error) {
	if path.IsRoot() {
		return true, nil
	}
	p, err := e.source.Get(ctx, bucket)
	if err != nil {
		return false, err
	}
	res, err := p.List(ctx, provider.ListOptions{Prefix: keypath.Prefix(path), MaxKeys: 1})
	if err != nil {
		return false, err
	}
	return len(res.Objects) > 0, nil
}

// HasChildren reports whether any key other than the folder's own marker
// exists under path + "/".
func (e *Engine) HasChildren(ctx context.Context, bucket string, path keypath.Path) (bool, error) {
	p, err := e.source.Get(ctx, bucket)
	if err != nil {
		return false, err
	}
	prefix := keypath.Prefix(path)
	res, err := p.List(ctx, provider.ListOptions{Prefix: prefix, MaxKeys: 2})
	if err != nil {
		return false, err
	}
	for _, obj := range res.Objects {
		if obj.Key != prefix {
			return true, nil
		}
	}
	return false, nil
}

// Descendants returns every object under path + "/", including the folder's
// own marker when present, in key order.
func (e *Engine) Descendants(ctx context.Context, bucket string, path keypath.Path) ([]provider.ObjectSummary, error) {
	if err := keypath.Validate(path); err != nil {
		return nil, err
	}
	return e.listAll(ctx, bucket, keypath.Prefix(path))
}

// Find walks every key under prefix and returns the files whose key relative
// to prefix matches pattern, in key order. A pattern without glob
// metacharacters matches as a case-insensitive substring.
func (e *Engine) Find(ctx context.Context, bucket, prefix, pattern string) ([]Node, error) {
	folder, err := keypath.ParsePrefix(prefix)
	if err != nil {
		return nil, err
	}
	m, err := newMatcher(pattern)
	if err != nil {
		return nil, err
	}

	objects, err := e.listAll(ctx, bucket, prefix)
	if err != nil {
		return nil, err
	}

	var nodes []Node
	for _, obj := range objects {
		path, isMarker, err := keypath.Parse(obj.Key)
		if err != nil || isMarker {
			continue
		}
		rel, ok := path.Relative(folder)
		if !ok || len(rel) == 0 || !m.match(rel.String()) {
			continue
		}
		parent, _ := keypath.Parent(path)
		nodes = append(nodes, Node{
			Kind:         KindFile,
			Name:         path[len(path)-1],
			Key:          obj.Key,
			Path:         path,
			Size:         obj.Size,
			LastModified: obj.LastModified,
			ETag:         obj.ETag,
			ParentFolder: keypath.Prefix(parent),
			Depth:        keypath.Depth(parent),
		})
	}
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].Key < nodes[j].Key })
	return nodes, nil
}

// Invalidate drops cached listings for folder, its ancestors and its
// descendants.
func (e *Engine) Invalidate(bucket string, folder keypath.Path) {
	if e.cache == nil {
		return
	}
	e.cache.invalidate(bucket, folder)
}

// InvalidateBucket drops every cached listing of bucket.
func (e *Engine) InvalidateBucket(bucket string) {
	if e.cache == nil {
		return
	}
	e.cache.drop(bucket)
}

func (e *Engine) listAll(ctx context.Context, bucket, prefix string) ([]provider.ObjectSummary, error) {
	p, err := e.source.Get(ctx, bucket)
	if err != nil {
		return nil, err
	}
	objects, pages, err := provider.ListAll(ctx, p, prefix, e.pageSize)
	if err != nil {
		return nil, err
	}
	e.log.Debug("listed prefix",
		zap.String("bucket", bucket),
		zap.String("prefix", prefix),
		zap.Int("objects", len(objects)),
		zap.Int("pages", pages),
	)
	return objects, nil
}
