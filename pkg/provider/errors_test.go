package provider_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/bucketview/pkg/provider"
	"github.com/3leaps/bucketview/pkg/provider/memory"
)

func TestProviderError_Format(t *testing.T) {
	tests := []struct {
		name string
		err  *provider.ProviderError
		want string
	}{
		{
			name: "bucket and key",
			err:  &provider.ProviderError{Op: "Head", Provider: provider.ProviderS3, Bucket: "media", Key: "a/b.txt", Err: provider.ErrNotFound},
			want: "s3 Head: media/a/b.txt: object not found",
		},
		{
			name: "bucket only",
			err:  &provider.ProviderError{Op: "List", Provider: provider.ProviderMinIO, Bucket: "media", Err: provider.ErrAccessDenied},
			want: "minio List: media: access denied",
		},
		{
			name: "neither",
			err:  &provider.ProviderError{Op: "New", Provider: provider.ProviderSQLite, Err: errors.New("disk full")},
			want: "sqlite New: disk full",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.err.Error())
		})
	}
}

func TestSentinelPredicates(t *testing.T) {
	wrap := func(err error) error {
		return fmt.Errorf("outer: %w", &provider.ProviderError{Op: "Op", Provider: provider.ProviderMemory, Err: err})
	}

	tests := []struct {
		name      string
		sentinel  error
		predicate func(error) bool
		transient bool
	}{
		{"not found", provider.ErrNotFound, provider.IsNotFound, false},
		{"access denied", provider.ErrAccessDenied, provider.IsAccessDenied, false},
		{"bucket not found", provider.ErrBucketNotFound, provider.IsBucketNotFound, false},
		{"invalid credentials", provider.ErrInvalidCredentials, provider.IsInvalidCredentials, false},
		{"unavailable", provider.ErrProviderUnavailable, provider.IsProviderUnavailable, true},
		{"throttled", provider.ErrThrottled, provider.IsThrottled, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.True(t, tt.predicate(tt.sentinel))
			assert.True(t, tt.predicate(wrap(tt.sentinel)))
			assert.False(t, tt.predicate(errors.New(tt.sentinel.Error())))
			assert.Equal(t, tt.transient, provider.IsTransient(wrap(tt.sentinel)))
		})
	}
}

func TestUnsupported(t *testing.T) {
	err := provider.Unsupported(provider.ProviderS3, "media", "GetObject")
	assert.ErrorIs(t, err, provider.ErrUnsupported)
	assert.Contains(t, err.Error(), "GetObject")
}

func TestRegistry_OpensOncePerBucket(t *testing.T) {
	store := memory.NewStore()
	store.CreateBucket("a")
	store.CreateBucket("b")

	opened := map[string]int{}
	factory := store.Factory()
	reg := provider.NewRegistry(func(ctx context.Context, bucket string) (provider.MutableProvider, error) {
		opened[bucket]++
		return factory(ctx, bucket)
	})
	ctx := context.Background()

	first, err := reg.Get(ctx, "a")
	require.NoError(t, err)
	again, err := reg.Get(ctx, " a ")
	require.NoError(t, err)
	assert.Same(t, first, again)

	_, err = reg.Get(ctx, "b")
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"a": 1, "b": 1}, opened)

	require.NoError(t, reg.Close())
	_, err = reg.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, 2, opened["a"])
}

func TestRegistry_SlowOpenDoesNotBlockOtherBuckets(t *testing.T) {
	store := memory.NewStore()
	store.CreateBucket("slow")
	store.CreateBucket("fast")

	entered := make(chan struct{})
	release := make(chan struct{})
	factory := store.Factory()
	reg := provider.NewRegistry(func(ctx context.Context, bucket string) (provider.MutableProvider, error) {
		if bucket == "slow" {
			close(entered)
			<-release
		}
		return factory(ctx, bucket)
	})
	ctx := context.Background()

	slow := make(chan error, 1)
	go func() {
		_, err := reg.Get(ctx, "slow")
		slow <- err
	}()
	<-entered

	_, err := reg.Get(ctx, "fast")
	require.NoError(t, err, "opened while the slow bucket is still opening")

	close(release)
	require.NoError(t, <-slow)
	require.NoError(t, reg.Close())
}

func TestRegistry_Errors(t *testing.T) {
	store := memory.NewStore()
	reg := provider.NewRegistry(store.Factory())

	_, err := reg.Get(context.Background(), "  ")
	assert.True(t, provider.IsBucketNotFound(err))

	_, err = reg.Get(context.Background(), "missing")
	assert.True(t, provider.IsBucketNotFound(err))
}
