package output

import (
	"context"
	"fmt"
	"io"
	"sync"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
)

// TableWriter renders records as aligned columns for interactive use.
//
// Rows are buffered until a summary is written or the writer is closed, so
// column widths cover the whole listing.
type TableWriter struct {
	mu     sync.Mutex
	tw     *tabwriter.Writer
	header string
	closed bool
}

// NewTableWriter creates a table writer on w.
func NewTableWriter(w io.Writer) *TableWriter {
	return &TableWriter{tw: tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)}
}

// WriteNode emits one listing row.
func (t *TableWriter) WriteNode(ctx context.Context, node *NodeRecord) error {
	name, size, modified := node.Name, "-", "-"
	if node.Kind == "folder" {
		name += "/"
	} else {
		size = humanize.IBytes(uint64(max(node.Size, 0)))
	}
	if !node.LastModified.IsZero() {
		modified = humanize.Time(node.LastModified)
	}
	return t.row(ctx, "KIND\tNAME\tSIZE\tMODIFIED", fmt.Sprintf("%s\t%s\t%s\t%s", node.Kind, name, size, modified))
}

// WriteOutcome emits one batch result row.
func (t *TableWriter) WriteOutcome(ctx context.Context, o *OutcomeRecord) error {
	detail := ""
	switch {
	case o.ErrorCode != "":
		detail = o.ErrorCode + ": " + o.Error
	case o.Deleted > 0:
		detail = fmt.Sprintf("%d deleted", o.Deleted)
	}
	dest := o.DestKey
	if dest == "" {
		dest = "-"
	}
	return t.row(ctx, "STATUS\tKEY\tDEST\tDETAIL", fmt.Sprintf("%s\t%s\t%s\t%s", o.Status, o.Key, dest, detail))
}

// WriteError emits an error line.
func (t *TableWriter) WriteError(ctx context.Context, e *ErrorRecord) error {
	line := fmt.Sprintf("error: %s: %s", e.Code, e.Message)
	if e.Key != "" {
		line += " (" + e.Key + ")"
	}
	return t.row(ctx, "", line)
}

// WriteSummary flushes pending rows and prints the totals.
func (t *TableWriter) WriteSummary(ctx context.Context, sum *SummaryRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return ErrWriterClosed
	}
	if err := t.tw.Flush(); err != nil {
		return &WriteError{Op: "flush", Err: err}
	}
	t.header = ""

	line := fmt.Sprintf("\n%s: %d of %d succeeded", sum.Op, sum.Succeeded, sum.Total)
	if sum.Failed > 0 {
		line += fmt.Sprintf(", %d failed", sum.Failed)
	}
	if sum.Duplicates > 0 {
		line += fmt.Sprintf(", %d duplicated", sum.Duplicates)
	}
	if sum.DurationHuman != "" {
		line += " in " + sum.DurationHuman
	}
	if _, err := fmt.Fprintln(t.tw, line); err != nil {
		return &WriteError{Op: "write", Err: err}
	}
	if err := t.tw.Flush(); err != nil {
		return &WriteError{Op: "flush", Err: err}
	}
	return nil
}

// Close flushes buffered rows. The underlying writer is not closed.
func (t *TableWriter) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	if err := t.tw.Flush(); err != nil {
		return &WriteError{Op: "flush", Err: err}
	}
	return nil
}

func (t *TableWriter) row(ctx context.Context, header, line string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return ErrWriterClosed
	}
	if header != "" && header != t.header {
		t.header = header
		if _, err := fmt.Fprintln(t.tw, header); err != nil {
			return &WriteError{Op: "write", Err: err}
		}
	}
	if _, err := fmt.Fprintln(t.tw, line); err != nil {
		return &WriteError{Op: "write", Err: err}
	}
	return nil
}

// Compile-time check that TableWriter implements Writer.
var _ Writer = (*TableWriter)(nil)
