package memory

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/bucketview/pkg/provider"
)

func newBucket(t *testing.T, objects map[string][]byte) (*Store, *Provider) {
	t.Helper()
	s := NewStore()
	s.Seed("b", objects)
	p, err := s.Bucket("b")
	require.NoError(t, err)
	return s, p
}

func TestBucket_NotFound(t *testing.T) {
	s := NewStore()
	_, err := s.Bucket("missing")
	assert.True(t, provider.IsBucketNotFound(err))
}

func TestList_PaginatesInKeyOrder(t *testing.T) {
	_, p := newBucket(t, map[string][]byte{
		"a/1": nil, "a/2": nil, "a/3": nil, "b/1": nil,
	})
	ctx := context.Background()

	first, err := p.List(ctx, provider.ListOptions{Prefix: "a/", MaxKeys: 2})
	require.NoError(t, err)
	require.True(t, first.IsTruncated)
	require.Len(t, first.Objects, 2)
	assert.Equal(t, "a/1", first.Objects[0].Key)
	assert.Equal(t, "a/2", first.Objects[1].Key)

	second, err := p.List(ctx, provider.ListOptions{Prefix: "a/", MaxKeys: 2, ContinuationToken: first.ContinuationToken})
	require.NoError(t, err)
	assert.False(t, second.IsTruncated)
	require.Len(t, second.Objects, 1)
	assert.Equal(t, "a/3", second.Objects[0].Key)
}

func TestListAll_ExhaustsPages(t *testing.T) {
	_, p := newBucket(t, map[string][]byte{"k1": nil, "k2": nil, "k3": nil, "k4": nil, "k5": nil})

	objs, pages, err := provider.ListAll(context.Background(), p, "", 2)
	require.NoError(t, err)
	assert.Len(t, objs, 5)
	assert.Equal(t, 3, pages)
}

func TestListAll_HonoursCancellation(t *testing.T) {
	_, p := newBucket(t, map[string][]byte{"k1": nil})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, _, err := provider.ListAll(ctx, p, "", 1)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestPutHeadCopyDelete(t *testing.T) {
	s, p := newBucket(t, nil)
	ctx := context.Background()

	require.NoError(t, p.PutObject(ctx, "x.txt", bytes.NewReader([]byte("hello")), 5))
	meta, err := p.Head(ctx, "x.txt")
	require.NoError(t, err)
	assert.Equal(t, int64(5), meta.Size)
	assert.NotEmpty(t, meta.ETag)

	require.NoError(t, p.CopyObject(ctx, "x.txt", "y.txt"))
	assert.True(t, s.Exists("b", "y.txt"))

	body, n, err := p.GetObject(ctx, "y.txt")
	require.NoError(t, err)
	data, _ := io.ReadAll(body)
	assert.Equal(t, int64(5), n)
	assert.Equal(t, "hello", string(data))

	require.NoError(t, p.DeleteObject(ctx, "x.txt"))
	require.NoError(t, p.DeleteObject(ctx, "x.txt"), "deleting an absent key succeeds")
	_, err = p.Head(ctx, "x.txt")
	assert.True(t, provider.IsNotFound(err))
}

func TestCopyObject_MissingSource(t *testing.T) {
	_, p := newBucket(t, nil)
	err := p.CopyObject(context.Background(), "nope", "dst")
	assert.True(t, provider.IsNotFound(err))
}

func TestPutObject_LengthMismatch(t *testing.T) {
	_, p := newBucket(t, nil)
	err := p.PutObject(context.Background(), "k", bytes.NewReader([]byte("abc")), 10)
	assert.Error(t, err)
}

func TestInjectFault(t *testing.T) {
	s, p := newBucket(t, map[string][]byte{"a": []byte("1"), "b": []byte("2")})
	ctx := context.Background()
	boom := errors.New("boom")

	s.InjectFault("b", OpDelete, "a", boom)
	assert.ErrorIs(t, p.DeleteObject(ctx, "a"), boom)
	assert.NoError(t, p.DeleteObject(ctx, "b"))

	s.InjectFault("b", OpCopy, "", provider.ErrProviderUnavailable)
	assert.True(t, provider.IsProviderUnavailable(p.CopyObject(ctx, "a", "c")))

	s.ClearFaults()
	assert.NoError(t, p.CopyObject(ctx, "a", "c"))
	assert.Equal(t, 2, s.Calls(OpCopy))
	assert.Equal(t, []string{"a", "c"}, s.Keys("b"))
}

func TestRegistry_CachesPerBucket(t *testing.T) {
	s := NewStore()
	s.CreateBucket("one")
	reg := provider.NewRegistry(s.Factory())
	ctx := context.Background()

	p1, err := reg.Get(ctx, "one")
	require.NoError(t, err)
	p2, err := reg.Get(ctx, "one")
	require.NoError(t, err)
	assert.Same(t, p1, p2)

	_, err = reg.Get(ctx, "two")
	assert.True(t, provider.IsBucketNotFound(err))

	_, err = reg.Get(ctx, "  ")
	assert.True(t, provider.IsBucketNotFound(err))

	assert.NoError(t, reg.Close())
}
