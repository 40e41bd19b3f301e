// Package minio implements the provider interface on top of minio-go.
//
// minio-go streams listings over a channel instead of exposing continuation
// tokens, so pages are synthesized: each page is read with StartAfter set to
// the previous page's last key.
package minio

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"strings"

	miniogo "github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/3leaps/bucketview/pkg/provider"
)

// DefaultMaxKeys is the default page size for List operations.
const DefaultMaxKeys = 1000

// Config configures a MinIO provider.
type Config struct {
	// Endpoint is host:port of the server, without scheme.
	Endpoint string

	// Bucket is the bucket name (required).
	Bucket string

	AccessKey string
	SecretKey string

	// UseSSL selects https.
	UseSSL bool

	// Region is optional for MinIO.
	Region string

	// MaxKeys is the default page size. Zero uses DefaultMaxKeys.
	MaxKeys int
}

// Validate checks that required configuration is present.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Endpoint) == "" {
		return errors.New("minio config: Endpoint: endpoint is required")
	}
	if c.Bucket == "" {
		return errors.New("minio config: Bucket: bucket name is required")
	}
	if strings.Contains(c.Endpoint, "://") {
		return errors.New("minio config: Endpoint: must be host:port without scheme")
	}
	return nil
}

// Provider implements provider.MutableProvider using minio-go.
// It is safe for concurrent use.
type Provider struct {
	client  *miniogo.Client
	bucket  string
	maxKeys int
}

var (
	_ provider.MutableProvider = (*Provider)(nil)
	_ provider.ObjectGetter    = (*Provider)(nil)
)

// New creates a provider. It does not contact the server.
func New(cfg Config) (*Provider, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	client, err := miniogo.New(cfg.Endpoint, &miniogo.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, &provider.ProviderError{Op: "New", Provider: provider.ProviderMinIO, Bucket: cfg.Bucket, Err: err}
	}

	maxKeys := cfg.MaxKeys
	if maxKeys <= 0 {
		maxKeys = DefaultMaxKeys
	}
	return &Provider{client: client, bucket: cfg.Bucket, maxKeys: maxKeys}, nil
}

// NewFactory returns a provider.Factory that opens base against each
// requested bucket.
func NewFactory(base Config) provider.Factory {
	return func(_ context.Context, bucket string) (provider.MutableProvider, error) {
		cfg := base
		cfg.Bucket = bucket
		return New(cfg)
	}
}

// List returns a page of objects with the given prefix.
func (p *Provider) List(ctx context.Context, opts provider.ListOptions) (*provider.ListResult, error) {
	maxKeys := opts.MaxKeys
	if maxKeys <= 0 {
		maxKeys = p.maxKeys
	}

	// Stop the listing goroutine once a page is filled.
	listCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	ch := p.client.ListObjects(listCtx, p.bucket, miniogo.ListObjectsOptions{
		Prefix:     opts.Prefix,
		Recursive:  true,
		StartAfter: opts.ContinuationToken,
		MaxKeys:    maxKeys,
	})

	res := &provider.ListResult{Objects: make([]provider.ObjectSummary, 0, maxKeys)}
	for obj := range ch {
		if obj.Err != nil {
			return nil, p.wrapError("List", "", obj.Err)
		}
		if len(res.Objects) == maxKeys {
			res.IsTruncated = true
			res.ContinuationToken = res.Objects[maxKeys-1].Key
			break
		}
		res.Objects = append(res.Objects, provider.ObjectSummary{
			Key:          obj.Key,
			Size:         obj.Size,
			ETag:         strings.Trim(obj.ETag, "\""),
			LastModified: obj.LastModified,
		})
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return res, nil
}

// Head returns metadata for a single object.
func (p *Provider) Head(ctx context.Context, key string) (*provider.ObjectMeta, error) {
	info, err := p.client.StatObject(ctx, p.bucket, key, miniogo.StatObjectOptions{})
	if err != nil {
		return nil, p.wrapError("Head", key, err)
	}
	return &provider.ObjectMeta{
		ObjectSummary: provider.ObjectSummary{
			Key:          key,
			Size:         info.Size,
			ETag:         strings.Trim(info.ETag, "\""),
			LastModified: info.LastModified,
		},
		ContentType: info.ContentType,
		Metadata:    info.UserMetadata,
	}, nil
}

// PutObject uploads an object.
func (p *Provider) PutObject(ctx context.Context, key string, body io.Reader, contentLength int64) error {
	_, err := p.client.PutObject(ctx, p.bucket, key, body, contentLength, miniogo.PutObjectOptions{})
	if err != nil {
		return p.wrapError("PutObject", key, err)
	}
	return nil
}

// DeleteObject deletes an object.
func (p *Provider) DeleteObject(ctx context.Context, key string) error {
	if err := p.client.RemoveObject(ctx, p.bucket, key, miniogo.RemoveObjectOptions{}); err != nil {
		return p.wrapError("DeleteObject", key, err)
	}
	return nil
}

// CopyObject performs a server-side copy inside the bucket.
func (p *Provider) CopyObject(ctx context.Context, srcKey, dstKey string) error {
	_, err := p.client.CopyObject(ctx,
		miniogo.CopyDestOptions{Bucket: p.bucket, Object: dstKey},
		miniogo.CopySrcOptions{Bucket: p.bucket, Object: srcKey},
	)
	if err != nil {
		return p.wrapError("CopyObject", srcKey, err)
	}
	return nil
}

// GetObject downloads an object as a stream.
func (p *Provider) GetObject(ctx context.Context, key string) (io.ReadCloser, int64, error) {
	obj, err := p.client.GetObject(ctx, p.bucket, key, miniogo.GetObjectOptions{})
	if err != nil {
		return nil, 0, p.wrapError("GetObject", key, err)
	}
	stat, err := obj.Stat()
	if err != nil {
		_ = obj.Close()
		return nil, 0, p.wrapError("GetObject", key, err)
	}
	return obj, stat.Size, nil
}

// Close is a no-op; the SDK client holds no persistent connections.
func (p *Provider) Close() error {
	return nil
}

func (p *Provider) wrapError(op, key string, err error) error {
	return &provider.ProviderError{
		Op:       op,
		Provider: provider.ProviderMinIO,
		Bucket:   p.bucket,
		Key:      key,
		Err:      mapError(err),
	}
}

// mapError translates a minio-go error into a provider sentinel, keeping the
// original error when no sentinel applies.
func mapError(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	resp := miniogo.ToErrorResponse(err)
	switch resp.Code {
	case "NoSuchKey", "NotFound":
		return provider.ErrNotFound
	case "NoSuchBucket":
		return provider.ErrBucketNotFound
	case "AccessDenied":
		return provider.ErrAccessDenied
	case "InvalidAccessKeyId", "SignatureDoesNotMatch":
		return provider.ErrInvalidCredentials
	case "SlowDown", "SlowDownRead", "SlowDownWrite", "RequestTimeout":
		return provider.ErrThrottled
	case "ServiceUnavailable", "InternalError", "XMinioServerNotInitialized":
		return provider.ErrProviderUnavailable
	}

	switch resp.StatusCode {
	case http.StatusNotFound:
		return provider.ErrNotFound
	case http.StatusForbidden, http.StatusUnauthorized:
		return provider.ErrAccessDenied
	case http.StatusTooManyRequests:
		return provider.ErrThrottled
	case http.StatusServiceUnavailable, http.StatusBadGateway, http.StatusGatewayTimeout:
		return provider.ErrProviderUnavailable
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return provider.ErrProviderUnavailable
	}
	return err
}
