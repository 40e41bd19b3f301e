package batch

import (
	"sort"
	"time"
)

// Op names a batch operation.
type Op string

const (
	OpCreateFolder Op = "create_folder"
	OpCopy         Op = "copy"
	OpMove         Op = "move"
	OpDelete       Op = "delete"
	OpUpload       Op = "upload"
)

// Status is the terminal state of one key in a batch.
type Status string

const (
	StatusSuccess Status = "success"
	StatusFailed  Status = "failed"

	// StatusDuplicate marks a move whose source could not be deleted after a
	// confirmed copy. The object exists at the source and the destination.
	StatusDuplicate Status = "duplicate"
)

// Outcome is the result for one requested key.
type Outcome struct {
	Status Status
	Err    error

	// DestKey is the destination of a copy or move.
	DestKey string

	// Deleted counts objects removed for this key. A recursive folder delete
	// counts every descendant and the marker.
	Deleted int
}

// Result holds the outcome of every key of a batch.
type Result struct {
	Op       Op
	Outcomes map[string]Outcome
	Duration time.Duration
}

func newResult(op Op, n int) *Result {
	return &Result{Op: op, Outcomes: make(map[string]Outcome, n)}
}

// Total returns the number of keys in the batch.
func (r *Result) Total() int {
	return len(r.Outcomes)
}

// Succeeded returns the number of keys with StatusSuccess.
func (r *Result) Succeeded() int {
	return r.count(StatusSuccess)
}

// Failed returns the number of keys with StatusFailed.
func (r *Result) Failed() int {
	return r.count(StatusFailed)
}

// Duplicates returns the number of keys with StatusDuplicate.
func (r *Result) Duplicates() int {
	return r.count(StatusDuplicate)
}

func (r *Result) count(s Status) int {
	n := 0
	for _, o := range r.Outcomes {
		if o.Status == s {
			n++
		}
	}
	return n
}

// Keys returns the requested keys in sorted order.
func (r *Result) Keys() []string {
	keys := make([]string, 0, len(r.Outcomes))
	for k := range r.Outcomes {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Err returns a *PartialBatchFailure when any key did not succeed.
func (r *Result) Err() error {
	failed, dups := r.Failed(), r.Duplicates()
	if failed == 0 && dups == 0 {
		return nil
	}
	return &PartialBatchFailure{Op: r.Op, Total: r.Total(), Failed: failed, Duplicates: dups}
}
