package minio

import (
	"context"
	"errors"
	"net"
	"net/http"
	"testing"

	miniogo "github.com/minio/minio-go/v7"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/bucketview/pkg/provider"
)

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr string
	}{
		{"missing endpoint", Config{Bucket: "b"}, "endpoint is required"},
		{"missing bucket", Config{Endpoint: "localhost:9000"}, "bucket name is required"},
		{"scheme in endpoint", Config{Endpoint: "http://localhost:9000", Bucket: "b"}, "without scheme"},
		{"valid", Config{Endpoint: "localhost:9000", Bucket: "b"}, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestNew_DefaultsMaxKeys(t *testing.T) {
	p, err := New(Config{Endpoint: "localhost:9000", Bucket: "b"})
	require.NoError(t, err)
	assert.Equal(t, DefaultMaxKeys, p.maxKeys)
	assert.NoError(t, p.Close())
}

func TestNewFactory_BindsBucket(t *testing.T) {
	f := NewFactory(Config{Endpoint: "localhost:9000"})
	p, err := f(context.Background(), "photos")
	require.NoError(t, err)
	assert.Equal(t, "photos", p.(*Provider).bucket)
}

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "dial tcp: i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

var _ net.Error = timeoutErr{}

func TestMapError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected error
	}{
		{"no such key", miniogo.ErrorResponse{Code: "NoSuchKey"}, provider.ErrNotFound},
		{"no such bucket", miniogo.ErrorResponse{Code: "NoSuchBucket"}, provider.ErrBucketNotFound},
		{"access denied", miniogo.ErrorResponse{Code: "AccessDenied"}, provider.ErrAccessDenied},
		{"bad signature", miniogo.ErrorResponse{Code: "SignatureDoesNotMatch"}, provider.ErrInvalidCredentials},
		{"slow down", miniogo.ErrorResponse{Code: "SlowDown"}, provider.ErrThrottled},
		{"internal", miniogo.ErrorResponse{Code: "InternalError"}, provider.ErrProviderUnavailable},
		{"404 status", miniogo.ErrorResponse{StatusCode: http.StatusNotFound}, provider.ErrNotFound},
		{"503 status", miniogo.ErrorResponse{StatusCode: http.StatusServiceUnavailable}, provider.ErrProviderUnavailable},
		{"network", timeoutErr{}, provider.ErrProviderUnavailable},
		{"cancelled", context.Canceled, context.Canceled},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, mapError(tt.err), tt.expected)
		})
	}
}

func TestMapError_Unknown(t *testing.T) {
	other := errors.New("strange")
	assert.Equal(t, other, mapError(other))
}

func TestWrapError(t *testing.T) {
	p := &Provider{bucket: "b"}
	err := p.wrapError("Head", "k", miniogo.ErrorResponse{Code: "NoSuchKey"})

	var pe *provider.ProviderError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, provider.ProviderMinIO, pe.Provider)
	assert.True(t, provider.IsNotFound(err))
}
