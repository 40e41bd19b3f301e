package batch

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/3leaps/bucketview/pkg/hierarchy"
	"github.com/3leaps/bucketview/pkg/keypath"
	"github.com/3leaps/bucketview/pkg/output"
	"github.com/3leaps/bucketview/pkg/provider"
)

// Sentinel errors for batch operations.
var (
	// ErrFolderNotEmpty is reported for a non-recursive delete of a folder
	// that still has descendants.
	ErrFolderNotEmpty = errors.New("folder not empty")

	// ErrSelfCopyConflict is reported when a copy or move would write an
	// object onto itself.
	ErrSelfCopyConflict = errors.New("source and destination are the same key")

	// ErrDestinationConflict is reported for every key of a copy or move
	// whose destination key is already taken by an earlier key of the same
	// batch. It matches ErrSelfCopyConflict.
	ErrDestinationConflict = fmt.Errorf("%w: destination shared within batch", ErrSelfCopyConflict)

	// ErrDuplicateAfterFailedMove is reported when a move copied its object
	// but could not delete the source. The object exists at both keys.
	ErrDuplicateAfterFailedMove = errors.New("duplicate after failed move")

	// ErrPartialBatchFailure is matched by the aggregate error of a batch in
	// which at least one key did not succeed.
	ErrPartialBatchFailure = errors.New("partial batch failure")
)

// PartialBatchFailure summarizes a batch with failed or duplicated keys.
type PartialBatchFailure struct {
	Op         Op
	Total      int
	Failed     int
	Duplicates int
}

func (e *PartialBatchFailure) Error() string {
	ok := e.Total - e.Failed - e.Duplicates
	msg := fmt.Sprintf("%s: %d of %d succeeded", e.Op, ok, e.Total)
	if e.Duplicates > 0 {
		msg += fmt.Sprintf(", %d left duplicated", e.Duplicates)
	}
	return msg
}

func (e *PartialBatchFailure) Unwrap() error {
	return ErrPartialBatchFailure
}

// FolderDeleteError reports a recursive folder delete in which some
// descendants could not be deleted. The folder's marker is kept.
type FolderDeleteError struct {
	Folder  string
	Deleted int
	Failed  map[string]error
}

func (e *FolderDeleteError) Error() string {
	keys := make([]string, 0, len(e.Failed))
	for k := range e.Failed {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	const shown = 5
	list := keys
	if len(list) > shown {
		list = list[:shown]
	}
	msg := fmt.Sprintf("delete folder %s: %d descendant(s) failed (%s", e.Folder, len(keys), strings.Join(list, ", "))
	if len(keys) > shown {
		msg += ", ..."
	}
	return msg + ")"
}

// Unwrap exposes the per-key causes to errors.Is and errors.As.
func (e *FolderDeleteError) Unwrap() []error {
	errs := make([]error, 0, len(e.Failed))
	for _, err := range e.Failed {
		errs = append(errs, err)
	}
	return errs
}

// ClassifyError maps err to an output error code.
func ClassifyError(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrDuplicateAfterFailedMove):
		return output.ErrCodeDuplicateAfterFailedMove
	case errors.Is(err, ErrFolderNotEmpty):
		return output.ErrCodeFolderNotEmpty
	case errors.Is(err, ErrSelfCopyConflict):
		return output.ErrCodeSelfCopyConflict
	case errors.Is(err, keypath.ErrInvalidKey):
		return output.ErrCodeInvalidKey
	case errors.Is(err, keypath.ErrInvalidPath), errors.Is(err, hierarchy.ErrInvalidPattern):
		return output.ErrCodeInvalidPath
	case provider.IsBucketNotFound(err):
		return output.ErrCodeBucketNotFound
	case provider.IsNotFound(err):
		return output.ErrCodeNotFound
	case provider.IsAccessDenied(err), provider.IsInvalidCredentials(err):
		return output.ErrCodeAccessDenied
	case provider.IsThrottled(err):
		return output.ErrCodeThrottled
	case provider.IsProviderUnavailable(err):
		return output.ErrCodeStoreUnavailable
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return output.ErrCodeTimeout
	default:
		return output.ErrCodeInternal
	}
}
