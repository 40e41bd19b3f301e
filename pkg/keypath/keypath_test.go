package keypath

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name       string
		key        string
		wantPath   Path
		wantMarker bool
		wantErr    error
	}{
		{"single file", "c.txt", Path{"c.txt"}, false, nil},
		{"nested file", "a/b.txt", Path{"a", "b.txt"}, false, nil},
		{"folder marker", "a/", Path{"a"}, true, nil},
		{"nested marker", "a/b/", Path{"a", "b"}, true, nil},
		{"spaces kept", "my docs/file one.txt", Path{"my docs", "file one.txt"}, false, nil},
		{"empty key", "", nil, false, ErrInvalidKey},
		{"leading slash", "/a/b.txt", nil, false, ErrInvalidKey},
		{"bare slash", "/", nil, false, ErrInvalidKey},
		{"double slash", "a//b.txt", nil, false, ErrInvalidKey},
		{"double trailing slash", "a//", nil, false, ErrInvalidKey},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, marker, err := Parse(tt.key)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantPath, p)
			assert.Equal(t, tt.wantMarker, marker)
		})
	}
}

func TestRoundTrip(t *testing.T) {
	keys := []string{"c.txt", "a/b.txt", "a/b/c/d.parquet", "x y/z"}

	for _, k := range keys {
		t.Run(k, func(t *testing.T) {
			p, _, err := Parse(k)
			require.NoError(t, err)

			parent, ok := Parent(p)
			require.True(t, ok)

			joined, err := Join(parent, Leaf(k))
			require.NoError(t, err)

			again, _, err := Parse(joined)
			require.NoError(t, err)
			assert.Equal(t, p, again)
			assert.Equal(t, k, joined)
		})
	}
}

func TestMarkerRoundTrip(t *testing.T) {
	p, marker, err := Parse("a/b/")
	require.NoError(t, err)
	require.True(t, marker)

	key, err := FolderKey(p)
	require.NoError(t, err)
	assert.Equal(t, "a/b/", key)
}

func TestDepthAndParent(t *testing.T) {
	assert.Equal(t, 0, Depth(Path{}))
	assert.Equal(t, 3, Depth(Path{"a", "b", "c"}))

	parent, ok := Parent(Path{"a", "b"})
	require.True(t, ok)
	assert.Equal(t, Path{"a"}, parent)

	_, ok = Parent(Path{})
	assert.False(t, ok)
}

func TestParentDoesNotAlias(t *testing.T) {
	p := Path{"a", "b", "c"}
	parent, _ := Parent(p)
	parent = append(parent, "z")

	assert.Equal(t, Path{"a", "b", "c"}, p)
	assert.Equal(t, Path{"a", "b", "z"}, parent)
}

func TestJoin(t *testing.T) {
	key, err := Join(Path{}, "b.txt")
	require.NoError(t, err)
	assert.Equal(t, "b.txt", key)

	key, err = Join(Path{"a", "b"}, "c.txt")
	require.NoError(t, err)
	assert.Equal(t, "a/b/c.txt", key)

	_, err = Join(Path{"a", ""}, "c.txt")
	assert.ErrorIs(t, err, ErrInvalidPath)

	_, err = Join(Path{"a"}, "")
	assert.ErrorIs(t, err, ErrInvalidPath)

	_, err = Join(Path{"a"}, "b/c")
	assert.ErrorIs(t, err, ErrInvalidPath)
}

func TestLeaf(t *testing.T) {
	assert.Equal(t, "b.txt", Leaf("a/b.txt"))
	assert.Equal(t, "c.txt", Leaf("c.txt"))
	assert.Equal(t, "b", Leaf("a/b/"))
}

func TestPrefix(t *testing.T) {
	assert.Equal(t, "", Prefix(Path{}))
	assert.Equal(t, "a/b/", Prefix(Path{"a", "b"}))

	p, err := ParsePrefix("")
	require.NoError(t, err)
	assert.True(t, p.IsRoot())

	p, err = ParsePrefix("a/b/")
	require.NoError(t, err)
	assert.Equal(t, Path{"a", "b"}, p)

	_, err = ParsePrefix("a/b")
	assert.ErrorIs(t, err, ErrInvalidPath)

	_, err = ParsePrefix("a//")
	assert.ErrorIs(t, err, ErrInvalidPath)
}

func TestFolderKey(t *testing.T) {
	key, err := FolderKey(Path{"x"})
	require.NoError(t, err)
	assert.Equal(t, "x/", key)

	_, err = FolderKey(Path{})
	assert.ErrorIs(t, err, ErrInvalidPath)
}

func TestParsePath(t *testing.T) {
	tests := []struct {
		in      string
		want    Path
		wantErr bool
	}{
		{"", Path{}, false},
		{"/", Path{}, false},
		{"a", Path{"a"}, false},
		{"a/b/", Path{"a", "b"}, false},
		{"/a/b", Path{"a", "b"}, false},
		{"a//b", nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParsePath(tt.in)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidPath)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestPathRelative(t *testing.T) {
	rel, ok := Path{"a", "b", "c"}.Relative(Path{"a"})
	require.True(t, ok)
	assert.Equal(t, Path{"b", "c"}, rel)

	_, ok = Path{"a", "b"}.Relative(Path{"x"})
	assert.False(t, ok)

	assert.True(t, Path{"a"}.HasPrefix(Path{}))
	assert.False(t, Path{"a"}.HasPrefix(Path{"a", "b"}))
}
