package batch

import (
	"bytes"
	"io"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// plainReader hides any Seek method of the wrapped reader.
type plainReader struct{ r io.Reader }

func (p plainReader) Read(b []byte) (int, error) { return p.r.Read(b) }

func TestNewSeekableBody_PassesThroughSeekers(t *testing.T) {
	src := strings.NewReader("hello")
	b, err := newSeekableBody(src, 5, 1024)
	require.NoError(t, err)
	defer func() { require.NoError(t, b.Close()) }()

	assert.Same(t, src, b.reader)
	assert.Equal(t, int64(5), b.size)
}

func TestNewSeekableBody_InMemory_IsSeekable(t *testing.T) {
	b, err := newSeekableBody(plainReader{bytes.NewReader([]byte("hello"))}, 5, 1024)
	require.NoError(t, err)
	defer func() { require.NoError(t, b.Close()) }()

	out1, err := io.ReadAll(b.reader)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(out1))

	_, err = b.reader.Seek(0, io.SeekStart)
	require.NoError(t, err)
	out2, err := io.ReadAll(b.reader)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(out2))
}

func TestNewSeekableBody_SpoolsToFile_CleansUp(t *testing.T) {
	payload := bytes.Repeat([]byte("a"), 1024)

	b, err := newSeekableBody(plainReader{bytes.NewReader(payload)}, int64(len(payload)), 16)
	require.NoError(t, err)

	file, ok := b.reader.(*os.File)
	require.True(t, ok)
	name := file.Name()

	out, err := io.ReadAll(b.reader)
	require.NoError(t, err)
	assert.Len(t, out, len(payload))

	require.NoError(t, b.Close())
	_, statErr := os.Stat(name)
	assert.Error(t, statErr)
}

func TestNewSeekableBody_UnknownSizeResolved(t *testing.T) {
	b, err := newSeekableBody(plainReader{strings.NewReader("twelve bytes")}, -1, 1024)
	require.NoError(t, err)
	defer func() { require.NoError(t, b.Close()) }()

	assert.Equal(t, int64(12), b.size)
}

func TestNewSeekableBody_LengthMismatch(t *testing.T) {
	_, err := newSeekableBody(plainReader{strings.NewReader("abc")}, 10, 1024)
	assert.Error(t, err)

	_, err = newSeekableBody(plainReader{strings.NewReader("abc")}, 10, 2)
	assert.Error(t, err)
}
