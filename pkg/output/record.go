// Package output provides JSONL output for listings and batch results.
//
// Output is structured as typed record envelopes containing nodes, per-key
// outcomes, errors and summaries. Each line is a self-contained JSON object
// that can be parsed independently.
package output

import (
	"encoding/json"
	"errors"
	"time"
)

// Record type constants define the envelope types for JSONL output.
// These follow the pattern: bucketview.<type>.v<version>
const (
	// TypeNode identifies folder/file listing records.
	TypeNode = "bucketview.node.v1"

	// TypeOutcome identifies per-key batch outcome records.
	TypeOutcome = "bucketview.outcome.v1"

	// TypeError identifies error records.
	TypeError = "bucketview.error.v1"

	// TypeSummary identifies final summary records.
	TypeSummary = "bucketview.summary.v1"
)

// Record is the envelope for all JSONL output.
//
// Each line of JSONL output contains a Record with a type-specific
// payload in the Data field. The type field determines how to
// interpret the Data payload.
type Record struct {
	// Type identifies the record type (e.g., "bucketview.node.v1").
	Type string `json:"type"`

	// TS is the timestamp when the record was created (RFC3339Nano).
	TS time.Time `json:"ts"`

	// JobID is the correlation ID for this command invocation.
	JobID string `json:"job_id"`

	// Provider identifies the storage backend (e.g., "s3", "minio").
	Provider string `json:"provider"`

	// Data contains the type-specific payload as raw JSON.
	Data json.RawMessage `json:"data"`
}

// NodeRecord is the data payload for one listed folder or file.
type NodeRecord struct {
	// Kind is "folder" or "file".
	Kind string `json:"kind"`

	Name string `json:"name"`

	// Key is the object key for files and the marker key for folders.
	Key string `json:"key"`

	Size         int64     `json:"size"`
	LastModified time.Time `json:"last_modified,omitzero"`
	ETag         string    `json:"etag,omitempty"`

	// HasMarker is set on folders backed by a zero-byte marker object.
	HasMarker bool `json:"has_marker,omitempty"`

	ParentFolder string `json:"parent_folder"`
	Depth        int    `json:"depth"`
}

// OutcomeRecord is the data payload for the result of one requested key.
type OutcomeRecord struct {
	// Op is the batch operation (copy, move, delete, create_folder, upload).
	Op string `json:"op"`

	Key string `json:"key"`

	// Status is success, failed or duplicate.
	Status string `json:"status"`

	DestKey string `json:"dest_key,omitempty"`
	Deleted int    `json:"deleted,omitempty"`

	// ErrorCode and Error are set when Status is not success.
	ErrorCode string `json:"error_code,omitempty"`
	Error     string `json:"error,omitempty"`
}

// ErrorRecord is the data payload for errors.
//
// Errors are emitted as records rather than failing the entire command,
// allowing partial results when some operations fail.
type ErrorRecord struct {
	// Code is a machine-readable error code.
	Code string `json:"code"`

	// Message is a human-readable error description.
	Message string `json:"message"`

	// Key is the object key related to this error, if applicable.
	Key string `json:"key,omitempty"`

	// Prefix is the prefix being listed when the error occurred.
	Prefix string `json:"prefix,omitempty"`

	// Details contains additional error context.
	Details any `json:"details,omitempty"`
}

// Error codes for ErrorRecord and OutcomeRecord.
const (
	ErrCodeInvalidKey  = "INVALID_KEY"
	ErrCodeInvalidPath = "INVALID_PATH"

	ErrCodeBucketNotFound = "BUCKET_NOT_FOUND"

	// ErrCodeNotFound indicates the object was not found.
	ErrCodeNotFound = "NOT_FOUND"

	// ErrCodeAccessDenied indicates permission failure.
	ErrCodeAccessDenied = "ACCESS_DENIED"

	// ErrCodeThrottled indicates rate limiting.
	ErrCodeThrottled = "THROTTLED"

	// ErrCodeStoreUnavailable indicates a transient store failure.
	ErrCodeStoreUnavailable = "STORE_UNAVAILABLE"

	ErrCodeFolderNotEmpty   = "FOLDER_NOT_EMPTY"
	ErrCodeSelfCopyConflict = "SELF_COPY_CONFLICT"

	// ErrCodeDuplicateAfterFailedMove marks an object left at both source
	// and destination by a move.
	ErrCodeDuplicateAfterFailedMove = "DUPLICATE_AFTER_FAILED_MOVE"

	// ErrCodeTimeout indicates an operation timed out or was cancelled.
	ErrCodeTimeout = "TIMEOUT"

	// ErrCodeInternal indicates an unexpected internal error.
	ErrCodeInternal = "INTERNAL"
)

// SummaryRecord is the data payload for final summaries.
//
// A summary record is emitted at the end of a listing or batch with
// aggregate counts.
type SummaryRecord struct {
	// Op is the command that produced the summary (ls, find, copy, ...).
	Op string `json:"op"`

	Bucket string `json:"bucket"`

	Total      int `json:"total"`
	Succeeded  int `json:"succeeded"`
	Failed     int `json:"failed"`
	Duplicates int `json:"duplicates"`

	// Duration is the total duration.
	Duration time.Duration `json:"duration_ns"`

	// DurationHuman is a human-readable duration string.
	DurationHuman string `json:"duration"`
}

// Writer errors.
var (
	// ErrWriterClosed is returned when writing to a closed writer.
	ErrWriterClosed = errors.New("writer is closed")
)

// WriteError wraps errors that occur during write operations.
type WriteError struct {
	Op  string // Operation that failed (e.g., "marshal_data", "write")
	Err error  // Underlying error
}

func (e *WriteError) Error() string {
	return "output: " + e.Op + ": " + e.Err.Error()
}

func (e *WriteError) Unwrap() error {
	return e.Err
}
