// Package browser exposes folder-style browsing and batch mutations over an
// object store to user-facing clients (CLI and HTTP).
package browser

import (
	"context"
	"fmt"
	"io"

	"github.com/3leaps/bucketview/pkg/batch"
	"github.com/3leaps/bucketview/pkg/hierarchy"
	"github.com/3leaps/bucketview/pkg/keypath"
	"github.com/3leaps/bucketview/pkg/provider"
)

// Service is the client-facing entry point. Paths are user-supplied folder
// paths ("", "/", "a/b" or "a/b/").
type Service struct {
	source provider.Source
	engine *hierarchy.Engine
	coord  *batch.Coordinator
}

// New creates a service over an engine and the coordinator that mutates the
// same key space. source is consulted directly for single-object reads.
func New(source provider.Source, engine *hierarchy.Engine, coord *batch.Coordinator) *Service {
	return &Service{source: source, engine: engine, coord: coord}
}

// GetChildren lists the direct children of path, folders first and then by
// name.
func (s *Service) GetChildren(ctx context.Context, bucket, path string) ([]hierarchy.Node, error) {
	folder, err := keypath.ParsePath(path)
	if err != nil {
		return nil, err
	}
	nodes, err := s.engine.ListChildren(ctx, bucket, keypath.Prefix(folder))
	if err != nil {
		return nil, err
	}
	hierarchy.SortNodes(nodes)
	return nodes, nil
}

// Find returns the files below path whose relative key matches pattern.
func (s *Service) Find(ctx context.Context, bucket, path, pattern string) ([]hierarchy.Node, error) {
	folder, err := keypath.ParsePath(path)
	if err != nil {
		return nil, err
	}
	return s.engine.Find(ctx, bucket, keypath.Prefix(folder), pattern)
}

// CreateFolder creates an empty folder at path.
func (s *Service) CreateFolder(ctx context.Context, bucket, path string) error {
	folder, err := keypath.ParsePath(path)
	if err != nil {
		return err
	}
	return s.coord.CreateFolder(ctx, bucket, folder)
}

// Copy copies keys into the folder dest.
func (s *Service) Copy(ctx context.Context, bucket string, keys []string, dest string) *batch.Result {
	folder, err := keypath.ParsePath(dest)
	if err != nil {
		return s.rejectAll(batch.OpCopy, keys, err)
	}
	return s.coord.CopySet(ctx, bucket, keys, folder)
}

// Move moves keys into the folder dest.
func (s *Service) Move(ctx context.Context, bucket string, keys []string, dest string) *batch.Result {
	folder, err := keypath.ParsePath(dest)
	if err != nil {
		return s.rejectAll(batch.OpMove, keys, err)
	}
	return s.coord.MoveSet(ctx, bucket, keys, folder)
}

// Delete deletes keys. Folders with content require recursive; the caller is
// responsible for confirming that with the user.
func (s *Service) Delete(ctx context.Context, bucket string, keys []string, recursive bool) *batch.Result {
	return s.coord.DeleteSet(ctx, bucket, keys, recursive)
}

// Upload stores body as name inside folder and returns the object key.
func (s *Service) Upload(ctx context.Context, bucket, folder, name string, body io.Reader, size int64) (string, error) {
	parent, err := keypath.ParsePath(folder)
	if err != nil {
		return "", err
	}
	return s.coord.Upload(ctx, bucket, parent, name, body, size)
}

func (s *Service) rejectAll(op batch.Op, keys []string, err error) *batch.Result {
	res := &batch.Result{Op: op, Outcomes: make(map[string]batch.Outcome, len(keys))}
	for _, k := range keys {
		res.Outcomes[k] = batch.Outcome{Status: batch.StatusFailed, Err: err}
	}
	return res
}

// Walk visits the folder tree below path in pre-order, each folder's children
// in GetChildren order. maxDepth bounds how many levels below path are
// listed; zero lists only the direct children. fn returning an error stops
// the walk.
func (s *Service) Walk(ctx context.Context, bucket, path string, maxDepth int, fn func(hierarchy.Node) error) error {
	folder, err := keypath.ParsePath(path)
	if err != nil {
		return err
	}
	return s.walk(ctx, bucket, folder, 0, maxDepth, fn)
}

func (s *Service) walk(ctx context.Context, bucket string, folder keypath.Path, level, maxDepth int, fn func(hierarchy.Node) error) error {
	nodes, err := s.engine.ListChildren(ctx, bucket, keypath.Prefix(folder))
	if err != nil {
		return err
	}
	hierarchy.SortNodes(nodes)
	for _, n := range nodes {
		if err := fn(n); err != nil {
			return err
		}
		if n.IsFolder() && level < maxDepth {
			if err := s.walk(ctx, bucket, n.Path, level+1, maxDepth, fn); err != nil {
				return err
			}
		}
	}
	return nil
}

// Stat describes a single key. A key ending in "/" names a folder, which
// exists when it has a marker or any descendant.
func (s *Service) Stat(ctx context.Context, bucket, key string) (hierarchy.Node, error) {
	path, marker, err := keypath.Parse(key)
	if err != nil {
		return hierarchy.Node{}, err
	}
	parent, _ := keypath.Parent(path)

	if marker {
		exists, err := s.engine.IsFolder(ctx, bucket, path)
		if err != nil {
			return hierarchy.Node{}, err
		}
		if !exists {
			return hierarchy.Node{}, fmt.Errorf("folder %s: %w", key, provider.ErrNotFound)
		}
		return hierarchy.Node{
			Kind:         hierarchy.KindFolder,
			Name:         keypath.Leaf(key),
			Key:          key,
			Path:         path,
			ParentFolder: keypath.Prefix(parent),
			Depth:        keypath.Depth(parent),
		}, nil
	}

	p, err := s.source.Get(ctx, bucket)
	if err != nil {
		return hierarchy.Node{}, err
	}
	meta, err := p.Head(ctx, key)
	if err != nil {
		return hierarchy.Node{}, err
	}
	return hierarchy.Node{
		Kind:         hierarchy.KindFile,
		Name:         keypath.Leaf(key),
		Key:          key,
		Path:         path,
		Size:         meta.Size,
		LastModified: meta.LastModified,
		ETag:         meta.ETag,
		ParentFolder: keypath.Prefix(parent),
		Depth:        keypath.Depth(parent),
	}, nil
}

// Open streams the content of the file at key. The caller closes the body.
func (s *Service) Open(ctx context.Context, bucket, key string) (io.ReadCloser, int64, error) {
	_, marker, err := keypath.Parse(key)
	if err != nil {
		return nil, 0, err
	}
	if marker {
		return nil, 0, fmt.Errorf("%w: %s is a folder", keypath.ErrInvalidKey, key)
	}
	p, err := s.source.Get(ctx, bucket)
	if err != nil {
		return nil, 0, err
	}
	g, ok := p.(provider.ObjectGetter)
	if !ok {
		return nil, 0, fmt.Errorf("open %s: %w", key, provider.ErrUnsupported)
	}
	return g.GetObject(ctx, key)
}
