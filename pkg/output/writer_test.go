package output

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedTime = time.Date(2025, 3, 1, 9, 30, 0, 0, time.UTC)

func newTestWriter(w io.Writer) *JSONLWriter {
	jw := NewJSONLWriter(w, "run-7", "memory")
	jw.now = func() time.Time { return fixedTime }
	return jw
}

func lines(t *testing.T, s string) []Record {
	t.Helper()
	var recs []Record
	sc := bufio.NewScanner(strings.NewReader(s))
	for sc.Scan() {
		var r Record
		require.NoError(t, json.Unmarshal(sc.Bytes(), &r), sc.Text())
		recs = append(recs, r)
	}
	return recs
}

func TestJSONLWriter_Envelopes(t *testing.T) {
	node := &NodeRecord{
		Kind:         "file",
		Name:         "q1.csv",
		Key:          "reports/2024/q1.csv",
		Size:         2048,
		ETag:         "9a0364b9e99bb480dd25e1f0284c8555",
		LastModified: time.Date(2024, 4, 2, 0, 0, 0, 0, time.UTC),
		ParentFolder: "reports/2024/",
		Depth:        2,
	}
	outcome := &OutcomeRecord{
		Op:        "move",
		Key:       "inbox/a.txt",
		Status:    "duplicate",
		DestKey:   "archive/a.txt",
		ErrorCode: ErrCodeDuplicateAfterFailedMove,
		Error:     "source kept after copy",
	}
	errRec := &ErrorRecord{Code: ErrCodeAccessDenied, Message: "listing refused", Prefix: "private/"}
	summary := &SummaryRecord{
		Op: "delete", Bucket: "media", Total: 4, Succeeded: 3, Failed: 1,
		Duration: 1500 * time.Millisecond, DurationHuman: "1.5s",
	}

	tests := []struct {
		name  string
		write func(*JSONLWriter) error
		typ   string
		into  any
		want  any
	}{
		{"node", func(w *JSONLWriter) error { return w.WriteNode(context.Background(), node) }, TypeNode, &NodeRecord{}, node},
		{"outcome", func(w *JSONLWriter) error { return w.WriteOutcome(context.Background(), outcome) }, TypeOutcome, &OutcomeRecord{}, outcome},
		{"error", func(w *JSONLWriter) error { return w.WriteError(context.Background(), errRec) }, TypeError, &ErrorRecord{}, errRec},
		{"summary", func(w *JSONLWriter) error { return w.WriteSummary(context.Background(), summary) }, TypeSummary, &SummaryRecord{}, summary},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			require.NoError(t, tt.write(newTestWriter(&buf)))

			recs := lines(t, buf.String())
			require.Len(t, recs, 1)
			assert.Equal(t, tt.typ, recs[0].Type)
			assert.Equal(t, "run-7", recs[0].JobID)
			assert.Equal(t, "memory", recs[0].Provider)
			assert.Equal(t, fixedTime, recs[0].TS)

			require.NoError(t, json.Unmarshal(recs[0].Data, tt.into))
			assert.Equal(t, tt.want, tt.into)
		})
	}
}

func TestJSONLWriter_FolderOmitsFileFields(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, newTestWriter(&buf).WriteNode(context.Background(),
		&NodeRecord{Kind: "folder", Name: "a", Key: "a/", HasMarker: true}))

	raw := string(lines(t, buf.String())[0].Data)
	assert.Contains(t, raw, `"has_marker":true`)
	assert.NotContains(t, raw, "last_modified")
	assert.NotContains(t, raw, "etag")
}

func TestJSONLWriter_Closed(t *testing.T) {
	var buf bytes.Buffer
	w := newTestWriter(&buf)
	require.NoError(t, w.Close())

	assert.ErrorIs(t, w.WriteNode(context.Background(), &NodeRecord{Key: "a"}), ErrWriterClosed)
	assert.Zero(t, buf.Len())
}

func TestJSONLWriter_CanceledContext(t *testing.T) {
	var buf bytes.Buffer
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.ErrorIs(t, newTestWriter(&buf).WriteSummary(ctx, &SummaryRecord{}), context.Canceled)
	assert.Zero(t, buf.Len())
}

func TestJSONLWriter_LinesNeverInterleave(t *testing.T) {
	var buf bytes.Buffer
	w := newTestWriter(&buf)

	const workers, each = 8, 50
	var wg sync.WaitGroup
	for i := range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range each {
				_ = w.WriteOutcome(context.Background(), &OutcomeRecord{Op: "delete", Key: "k", Status: "success", Deleted: i*each + j})
			}
		}()
	}
	wg.Wait()

	assert.Len(t, lines(t, buf.String()), workers*each)
}

type chunkWriter struct {
	buf   bytes.Buffer
	chunk int
}

func (c *chunkWriter) Write(p []byte) (int, error) {
	return c.buf.Write(p[:min(len(p), c.chunk)])
}

type stuckWriter struct{}

func (stuckWriter) Write([]byte) (int, error) { return 0, nil }

type brokenWriter struct{ err error }

func (b brokenWriter) Write([]byte) (int, error) { return 0, b.err }

func TestJSONLWriter_UnderlyingWriter(t *testing.T) {
	t.Run("short writes are retried", func(t *testing.T) {
		cw := &chunkWriter{chunk: 7}
		require.NoError(t, newTestWriter(cw).WriteNode(context.Background(), &NodeRecord{Kind: "file", Key: "raw/2024/a.parquet", Size: 1 << 20}))
		recs := lines(t, cw.buf.String())
		require.Len(t, recs, 1)
		assert.Equal(t, TypeNode, recs[0].Type)
	})

	t.Run("no progress", func(t *testing.T) {
		err := newTestWriter(stuckWriter{}).WriteNode(context.Background(), &NodeRecord{Key: "a"})
		assert.ErrorIs(t, err, io.ErrShortWrite)
	})

	t.Run("write error", func(t *testing.T) {
		disk := errors.New("disk full")
		err := newTestWriter(brokenWriter{err: disk}).WriteNode(context.Background(), &NodeRecord{Key: "a"})
		var we *WriteError
		require.ErrorAs(t, err, &we)
		assert.Equal(t, "write", we.Op)
		assert.ErrorIs(t, err, disk)
		assert.Equal(t, "output: write: disk full", err.Error())
	})
}

func TestRecords_OmitEmpty(t *testing.T) {
	tests := []struct {
		name   string
		rec    any
		absent []string
	}{
		{"outcome", OutcomeRecord{Op: "copy", Key: "a.txt", Status: "success"}, []string{"dest_key", "deleted", "error"}},
		{"error", ErrorRecord{Code: ErrCodeInternal, Message: "boom"}, []string{"key", "prefix", "details"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := json.Marshal(tt.rec)
			require.NoError(t, err)
			for _, field := range tt.absent {
				assert.NotContains(t, string(data), `"`+field+`"`)
			}
		})
	}
}

func BenchmarkJSONLWriter_WriteNode(b *testing.B) {
	w := NewJSONLWriter(io.Discard, "bench", "s3")
	node := &NodeRecord{Kind: "file", Name: "part-0001.parquet", Key: "raw/2024/01/part-0001.parquet", Size: 1 << 20, Depth: 3}
	ctx := context.Background()
	for b.Loop() {
		_ = w.WriteNode(ctx, node)
	}
}
