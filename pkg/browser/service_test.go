package browser

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/bucketview/pkg/batch"
	"github.com/3leaps/bucketview/pkg/hierarchy"
	"github.com/3leaps/bucketview/pkg/keypath"
	"github.com/3leaps/bucketview/pkg/provider"
	"github.com/3leaps/bucketview/pkg/provider/memory"
)

const bucket = "b"

func newService(t *testing.T, keys ...string) (*memory.Store, *Service) {
	t.Helper()
	store := memory.NewStore()
	store.CreateBucket(bucket)
	objects := make(map[string][]byte)
	for _, k := range keys {
		objects[k] = []byte(k)
	}
	store.Seed(bucket, objects)

	reg := provider.NewRegistry(store.Factory())
	engine := hierarchy.New(reg, hierarchy.Options{CacheTTL: time.Minute})
	coord := batch.New(reg, engine, batch.DefaultConfig(), batch.Options{})
	return store, New(reg, engine, coord)
}

func names(nodes []hierarchy.Node) []string {
	out := make([]string, len(nodes))
	for i, n := range nodes {
		out[i] = string(n.Kind) + ":" + n.Name
	}
	return out
}

func TestGetChildren_SortedFoldersFirst(t *testing.T) {
	_, s := newService(t, "zeta.txt", "b/1", "alpha.txt", "a/", "c/x/y")

	nodes, err := s.GetChildren(context.Background(), bucket, "/")
	require.NoError(t, err)
	assert.Equal(t, []string{"folder:a", "folder:b", "folder:c", "file:alpha.txt", "file:zeta.txt"}, names(nodes))

	nodes, err = s.GetChildren(context.Background(), bucket, "c")
	require.NoError(t, err)
	assert.Equal(t, []string{"folder:x"}, names(nodes))
}

func TestGetChildren_InvalidPath(t *testing.T) {
	_, s := newService(t)

	_, err := s.GetChildren(context.Background(), bucket, "a//b")
	assert.ErrorIs(t, err, keypath.ErrInvalidPath)
}

func TestWorkflow(t *testing.T) {
	store, s := newService(t, "a/b.txt", "c.txt")
	ctx := context.Background()

	require.NoError(t, s.CreateFolder(ctx, bucket, "archive/"))

	res := s.Copy(ctx, bucket, []string{"c.txt"}, "archive")
	require.NoError(t, res.Err())

	res = s.Move(ctx, bucket, []string{"a/b.txt"}, "archive")
	require.NoError(t, res.Err())

	nodes, err := s.GetChildren(ctx, bucket, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"folder:archive", "file:c.txt"}, names(nodes))

	nodes, err = s.GetChildren(ctx, bucket, "archive")
	require.NoError(t, err)
	assert.Equal(t, []string{"file:b.txt", "file:c.txt"}, names(nodes))

	res = s.Delete(ctx, bucket, []string{"archive"}, false)
	assert.ErrorIs(t, res.Outcomes["archive"].Err, batch.ErrFolderNotEmpty)

	res = s.Delete(ctx, bucket, []string{"archive"}, true)
	require.NoError(t, res.Err())
	assert.Equal(t, 3, res.Outcomes["archive"].Deleted)

	nodes, err = s.GetChildren(ctx, bucket, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"file:c.txt"}, names(nodes))
	assert.Equal(t, []string{"c.txt"}, store.Keys(bucket))
}

func TestCopy_InvalidDestination(t *testing.T) {
	_, s := newService(t, "c.txt")

	res := s.Copy(context.Background(), bucket, []string{"c.txt"}, "a//b")
	assert.Equal(t, 1, res.Failed())
	assert.ErrorIs(t, res.Outcomes["c.txt"].Err, keypath.ErrInvalidPath)

	res = s.Move(context.Background(), bucket, []string{"c.txt"}, "a//b")
	assert.ErrorIs(t, res.Err(), batch.ErrPartialBatchFailure)
}

func TestUploadAndFind(t *testing.T) {
	_, s := newService(t)
	ctx := context.Background()

	key, err := s.Upload(ctx, bucket, "/reports/2024/", "Q1.csv", strings.NewReader("a,b"), 3)
	require.NoError(t, err)
	assert.Equal(t, "reports/2024/Q1.csv", key)

	nodes, err := s.Find(ctx, bucket, "reports", "q1")
	require.NoError(t, err)
	require.Len(t, nodes, 1)
	assert.Equal(t, key, nodes[0].Key)

	nodes, err = s.GetChildren(ctx, bucket, "reports")
	require.NoError(t, err)
	assert.Equal(t, []string{"folder:2024"}, names(nodes))
}

func TestWalk(t *testing.T) {
	_, s := newService(t, "a/b/c.txt", "a/d.txt", "e.txt", "a/b/f/g.txt")
	ctx := context.Background()

	var visited []string
	collect := func(n hierarchy.Node) error {
		visited = append(visited, n.Key)
		return nil
	}

	require.NoError(t, s.Walk(ctx, bucket, "", 0, collect))
	assert.Equal(t, []string{"a/", "e.txt"}, visited)

	visited = nil
	require.NoError(t, s.Walk(ctx, bucket, "", 1, collect))
	assert.Equal(t, []string{"a/", "a/b/", "a/d.txt", "e.txt"}, visited)

	visited = nil
	require.NoError(t, s.Walk(ctx, bucket, "a", 5, collect))
	assert.Equal(t, []string{"a/b/", "a/b/f/", "a/b/f/g.txt", "a/b/c.txt", "a/d.txt"}, visited)
}

func TestWalk_StopsOnError(t *testing.T) {
	_, s := newService(t, "a/1", "b/2", "c/3")
	stop := errors.New("stop")

	count := 0
	err := s.Walk(context.Background(), bucket, "", 3, func(hierarchy.Node) error {
		count++
		if count == 2 {
			return stop
		}
		return nil
	})
	assert.ErrorIs(t, err, stop)
	assert.Equal(t, 2, count)
}

func TestStat(t *testing.T) {
	_, s := newService(t, "a/b.txt", "m/")
	ctx := context.Background()

	n, err := s.Stat(ctx, bucket, "a/b.txt")
	require.NoError(t, err)
	assert.Equal(t, hierarchy.KindFile, n.Kind)
	assert.Equal(t, int64(len("a/b.txt")), n.Size)
	assert.Equal(t, "a/", n.ParentFolder)
	assert.Equal(t, 1, n.Depth)

	n, err = s.Stat(ctx, bucket, "a/")
	require.NoError(t, err)
	assert.Equal(t, hierarchy.KindFolder, n.Kind)
	assert.Equal(t, "a", n.Name)

	_, err = s.Stat(ctx, bucket, "m/")
	require.NoError(t, err)

	_, err = s.Stat(ctx, bucket, "x/")
	assert.True(t, provider.IsNotFound(err))

	_, err = s.Stat(ctx, bucket, "nope.txt")
	assert.True(t, provider.IsNotFound(err))

	_, err = s.Stat(ctx, bucket, "/bad")
	assert.ErrorIs(t, err, keypath.ErrInvalidKey)
}

func TestOpen(t *testing.T) {
	_, s := newService(t, "a/b.txt")
	ctx := context.Background()

	body, size, err := s.Open(ctx, bucket, "a/b.txt")
	require.NoError(t, err)
	defer func() { _ = body.Close() }()
	data, err := io.ReadAll(body)
	require.NoError(t, err)
	assert.Equal(t, "a/b.txt", string(data))
	assert.Equal(t, int64(len(data)), size)

	_, _, err = s.Open(ctx, bucket, "a/")
	assert.ErrorIs(t, err, keypath.ErrInvalidKey)

	_, _, err = s.Open(ctx, bucket, "missing")
	assert.True(t, provider.IsNotFound(err))
}
