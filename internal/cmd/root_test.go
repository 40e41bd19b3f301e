package cmd

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/bucketview/pkg/batch"
	"github.com/3leaps/bucketview/pkg/provider"
)

func TestSetVersionInfo(t *testing.T) {
	orig := versionInfo
	defer func() { SetVersionInfo(orig.Version, orig.Commit, orig.BuildDate) }()

	tests := []struct {
		name      string
		version   string
		commit    string
		buildDate string
	}{
		{name: "set all values", version: "1.0.0", commit: "abc123", buildDate: "2024-01-15"},
		{name: "set dev version", version: "dev", commit: "HEAD", buildDate: "unknown"},
		{name: "set empty values"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			SetVersionInfo(tt.version, tt.commit, tt.buildDate)

			assert.Equal(t, tt.version, versionInfo.Version)
			assert.Equal(t, tt.commit, versionInfo.Commit)
			assert.Equal(t, tt.buildDate, versionInfo.BuildDate)
		})
	}
}

func TestVersionCommand(t *testing.T) {
	orig := versionInfo
	defer func() { SetVersionInfo(orig.Version, orig.Commit, orig.BuildDate) }()

	SetVersionInfo("2.0.0", "def456", "2025-06-01")

	out, err := runCLI(t, "version", "--extended")
	require.NoError(t, err)
	assert.Contains(t, out, "bucketview 2.0.0")
	assert.Contains(t, out, "commit: def456")
}

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, 0},
		{"plain error", errors.New("boom"), exitFailure},
		{"exit error", exitError(foundry.ExitInvalidArgument, "bad", errors.New("x")), foundry.ExitInvalidArgument},
		{"wrapped exit error", fmt.Errorf("outer: %w", exitError(foundry.ExitFileNotFound, "missing", errors.New("x"))), foundry.ExitFileNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExitCode(tt.err))
		})
	}
}

func TestBatchExitCode(t *testing.T) {
	tests := []struct {
		name string
		errs []error
		want int
	}{
		{"caller mistakes", []error{batch.ErrFolderNotEmpty, batch.ErrDestinationConflict}, foundry.ExitInvalidArgument},
		{"throttled", []error{batch.ErrFolderNotEmpty, fmt.Errorf("copy: %w", provider.ErrThrottled)}, foundry.ExitExternalServiceUnavailable},
		{"unavailable", []error{provider.ErrProviderUnavailable}, foundry.ExitExternalServiceUnavailable},
		{"unknown", []error{errors.New("boom")}, foundry.ExitExternalServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := &batch.Result{Op: batch.OpCopy, Outcomes: map[string]batch.Outcome{"ok": {Status: batch.StatusSuccess}}}
			for i, err := range tt.errs {
				res.Outcomes[fmt.Sprintf("k%d", i)] = batch.Outcome{Status: batch.StatusFailed, Err: err}
			}
			assert.Equal(t, tt.want, batchExitCode(context.Background(), res))
		})
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.Equal(t, foundry.ExitSignalInt, batchExitCode(ctx, &batch.Result{}))
}

func TestStoreExitError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"canceled", context.Canceled, foundry.ExitSignalInt},
		{"throttled", &provider.ProviderError{Op: "List", Err: provider.ErrThrottled}, foundry.ExitExternalServiceUnavailable},
		{"not found", provider.ErrNotFound, foundry.ExitFileNotFound},
		{"bucket not found", provider.ErrBucketNotFound, foundry.ExitInvalidArgument},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExitCode(storeExitError("failed", tt.err)))
		})
	}
}

func TestExitErrorMessage(t *testing.T) {
	inner := errors.New("disk full")
	err := exitError(foundry.ExitFileWriteError, "Failed to write output", inner)

	assert.Contains(t, err.Error(), "Failed to write output")
	assert.Contains(t, err.Error(), "disk full")
	assert.ErrorIs(t, err, inner)
}

func TestInvalidOutputFormat(t *testing.T) {
	_, err := runCLI(t, "version", "--output", "xml")
	require.Error(t, err)
	assert.Equal(t, foundry.ExitInvalidArgument, ExitCode(err))
}

func TestInvalidBackend(t *testing.T) {
	_, err := runCLI(t, "version", "--backend", "ftp")
	require.Error(t, err)
	assert.Equal(t, foundry.ExitInvalidArgument, ExitCode(err))
}
