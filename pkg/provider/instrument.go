package provider

import (
	"context"
	"io"
	"time"
)

// Observer receives one callback per completed provider call.
type Observer interface {
	ObserveStoreOp(provider ProviderType, op string, duration time.Duration, err error)
}

// Instrument wraps p so every call is reported to obs. A nil observer returns
// p unchanged.
func Instrument(p MutableProvider, typ ProviderType, obs Observer) MutableProvider {
	if obs == nil {
		return p
	}
	return &instrumented{inner: p, typ: typ, obs: obs}
}

// InstrumentFactory applies Instrument to every provider f opens.
func InstrumentFactory(f Factory, typ ProviderType, obs Observer) Factory {
	return func(ctx context.Context, bucket string) (MutableProvider, error) {
		p, err := f(ctx, bucket)
		if err != nil {
			return nil, err
		}
		return Instrument(p, typ, obs), nil
	}
}

type instrumented struct {
	inner MutableProvider
	typ   ProviderType
	obs   Observer
}

var (
	_ MutableProvider = (*instrumented)(nil)
	_ ObjectGetter    = (*instrumented)(nil)
)

func (i *instrumented) observe(op string, start time.Time, err error) {
	i.obs.ObserveStoreOp(i.typ, op, time.Since(start), err)
}

func (i *instrumented) List(ctx context.Context, opts ListOptions) (*ListResult, error) {
	start := time.Now()
	res, err := i.inner.List(ctx, opts)
	i.observe("List", start, err)
	return res, err
}

func (i *instrumented) Head(ctx context.Context, key string) (*ObjectMeta, error) {
	start := time.Now()
	meta, err := i.inner.Head(ctx, key)
	i.observe("Head", start, err)
	return meta, err
}

func (i *instrumented) PutObject(ctx context.Context, key string, body io.Reader, contentLength int64) error {
	start := time.Now()
	err := i.inner.PutObject(ctx, key, body, contentLength)
	i.observe("PutObject", start, err)
	return err
}

func (i *instrumented) DeleteObject(ctx context.Context, key string) error {
	start := time.Now()
	err := i.inner.DeleteObject(ctx, key)
	i.observe("DeleteObject", start, err)
	return err
}

func (i *instrumented) CopyObject(ctx context.Context, srcKey, dstKey string) error {
	start := time.Now()
	err := i.inner.CopyObject(ctx, srcKey, dstKey)
	i.observe("CopyObject", start, err)
	return err
}

func (i *instrumented) GetObject(ctx context.Context, key string) (io.ReadCloser, int64, error) {
	getter, ok := i.inner.(ObjectGetter)
	if !ok {
		return nil, 0, Unsupported(i.typ, "", "GetObject")
	}
	start := time.Now()
	body, n, err := getter.GetObject(ctx, key)
	i.observe("GetObject", start, err)
	return body, n, err
}

func (i *instrumented) Close() error {
	return i.inner.Close()
}
