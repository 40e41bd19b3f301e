package output

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"time"
)

// Writer emits listing and batch records. Implementations are safe for
// concurrent use and write each record atomically.
type Writer interface {
	WriteNode(ctx context.Context, node *NodeRecord) error
	WriteOutcome(ctx context.Context, outcome *OutcomeRecord) error
	WriteError(ctx context.Context, err *ErrorRecord) error
	WriteSummary(ctx context.Context, sum *SummaryRecord) error

	// Close stops further writes. The underlying io.Writer stays open.
	Close() error
}

var _ Writer = (*JSONLWriter)(nil)

// JSONLWriter writes one Record envelope per line.
type JSONLWriter struct {
	w        io.Writer
	jobID    string
	provider string
	now      func() time.Time

	mu     sync.Mutex
	closed bool
}

// NewJSONLWriter stamps every record with jobID and provider.
func NewJSONLWriter(w io.Writer, jobID, provider string) *JSONLWriter {
	return &JSONLWriter{w: w, jobID: jobID, provider: provider, now: time.Now}
}

func (jw *JSONLWriter) WriteNode(ctx context.Context, node *NodeRecord) error {
	return jw.emit(ctx, TypeNode, node)
}

func (jw *JSONLWriter) WriteOutcome(ctx context.Context, outcome *OutcomeRecord) error {
	return jw.emit(ctx, TypeOutcome, outcome)
}

func (jw *JSONLWriter) WriteError(ctx context.Context, err *ErrorRecord) error {
	return jw.emit(ctx, TypeError, err)
}

func (jw *JSONLWriter) WriteSummary(ctx context.Context, sum *SummaryRecord) error {
	return jw.emit(ctx, TypeSummary, sum)
}

func (jw *JSONLWriter) Close() error {
	jw.mu.Lock()
	jw.closed = true
	jw.mu.Unlock()
	return nil
}

func (jw *JSONLWriter) emit(ctx context.Context, typ string, payload any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return &WriteError{Op: "marshal_data", Err: err}
	}
	line, err := json.Marshal(Record{
		Type:     typ,
		TS:       jw.now().UTC(),
		JobID:    jw.jobID,
		Provider: jw.provider,
		Data:     data,
	})
	if err != nil {
		return &WriteError{Op: "marshal_record", Err: err}
	}
	line = append(line, '\n')

	jw.mu.Lock()
	defer jw.mu.Unlock()
	if jw.closed {
		return ErrWriterClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := writeFull(jw.w, line); err != nil {
		return &WriteError{Op: "write", Err: err}
	}
	return nil
}

// writeFull retries short writes so a line is never truncated. A write that
// makes no progress fails with io.ErrShortWrite.
func writeFull(w io.Writer, p []byte) error {
	for len(p) > 0 {
		n, err := w.Write(p)
		switch {
		case err != nil:
			return err
		case n == 0:
			return io.ErrShortWrite
		}
		p = p[n:]
	}
	return nil
}
