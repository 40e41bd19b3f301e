package provider

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
)

// Factory opens a provider bound to bucket.
type Factory func(ctx context.Context, bucket string) (MutableProvider, error)

// Source resolves the provider bound to a bucket.
type Source interface {
	Get(ctx context.Context, bucket string) (MutableProvider, error)
}

// Registry hands out one provider per bucket, opening each lazily.
//
// Registry is safe for concurrent use.
type Registry struct {
	factory Factory

	mu        sync.Mutex
	providers map[string]MutableProvider
}

var _ Source = (*Registry)(nil)

// NewRegistry creates a registry backed by factory.
func NewRegistry(factory Factory) *Registry {
	return &Registry{factory: factory, providers: make(map[string]MutableProvider)}
}

// Get returns the provider for bucket, opening it on first use.
func (r *Registry) Get(ctx context.Context, bucket string) (MutableProvider, error) {
	bucket = strings.TrimSpace(bucket)
	if bucket == "" {
		return nil, fmt.Errorf("bucket name is required: %w", ErrBucketNotFound)
	}

	r.mu.Lock()
	p, ok := r.providers[bucket]
	r.mu.Unlock()
	if ok {
		return p, nil
	}

	// The factory runs unlocked. When two opens race, the later one is closed.
	opened, err := r.factory(ctx, bucket)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.providers[bucket]; ok {
		_ = opened.Close()
		return p, nil
	}
	r.providers[bucket] = opened
	return opened, nil
}

// Close closes every opened provider.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var errs []error
	for bucket, p := range r.providers {
		if err := p.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", bucket, err))
		}
		delete(r.providers, bucket)
	}
	return errors.Join(errs...)
}
