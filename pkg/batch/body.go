package batch

import (
	"bytes"
	"fmt"
	"io"
	"os"
)

// DefaultSpoolMaxMemoryBytes is the largest upload buffered in memory to
// make the PUT body seekable. Larger or unsized uploads are spooled to a
// temp file.
const DefaultSpoolMaxMemoryBytes int64 = 16 << 20 // 16 MiB

// seekableBody is an upload body the SDK can rewind between retries.
type seekableBody struct {
	reader  io.ReadSeeker
	size    int64
	cleanup func() error
}

func (b *seekableBody) Close() error {
	if b.cleanup == nil {
		return nil
	}
	return b.cleanup()
}

// newSeekableBody makes src seekable and resolves its size. size < 0 means
// unknown.
func newSeekableBody(src io.Reader, size int64, maxMemoryBytes int64) (*seekableBody, error) {
	if maxMemoryBytes <= 0 {
		maxMemoryBytes = DefaultSpoolMaxMemoryBytes
	}

	if rs, ok := src.(io.ReadSeeker); ok && size >= 0 {
		return &seekableBody{reader: rs, size: size}, nil
	}

	if size >= 0 && size <= maxMemoryBytes {
		data, err := io.ReadAll(io.LimitReader(src, size))
		if err != nil {
			return nil, err
		}
		if int64(len(data)) != size {
			return nil, fmt.Errorf("upload body: expected %d bytes, read %d", size, len(data))
		}
		return &seekableBody{reader: bytes.NewReader(data), size: size}, nil
	}

	f, err := os.CreateTemp("", "bucketview-upload-*")
	if err != nil {
		return nil, err
	}
	remove := func() {
		_ = f.Close()
		_ = os.Remove(f.Name())
	}

	n, err := io.Copy(f, src)
	if err != nil {
		remove()
		return nil, err
	}
	if size >= 0 && n != size {
		remove()
		return nil, fmt.Errorf("upload body: expected %d bytes, read %d", size, n)
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		remove()
		return nil, err
	}

	return &seekableBody{
		reader: f,
		size:   n,
		cleanup: func() error {
			name := f.Name()
			closeErr := f.Close()
			rmErr := os.Remove(name)
			if closeErr != nil {
				return fmt.Errorf("close temp file: %w", closeErr)
			}
			if rmErr != nil {
				return fmt.Errorf("remove temp file: %w", rmErr)
			}
			return nil
		},
	}, nil
}
