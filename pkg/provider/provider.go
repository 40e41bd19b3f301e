// Package provider defines the narrow object-store surface the hierarchy
// engine and batch coordinator depend on.
//
// A Provider is bound to one bucket. Listing is paginated with continuation
// tokens; writes are exposed through optional capability interfaces so that
// read-only adapters stay small. Authentication uses SDK default credential
// chains - providers should not implement custom auth logic.
package provider

import (
	"context"
	"time"
)

// Provider abstracts listing and metadata retrieval for a single bucket.
//
// Implementations should:
//   - Use SDK default credential chains
//   - Support pagination via continuation tokens
//   - Be safe for concurrent use
type Provider interface {
	// List returns a page of objects with the given prefix.
	// Use ContinuationToken from ListResult for subsequent pages.
	List(ctx context.Context, opts ListOptions) (*ListResult, error)

	// Head returns metadata for a single object.
	// Returns ErrNotFound if the object does not exist.
	Head(ctx context.Context, key string) (*ObjectMeta, error)

	// Close releases any resources held by the provider.
	Close() error
}

// ListOptions configures a List operation.
type ListOptions struct {
	// Prefix filters results to keys starting with this value.
	// Empty string lists all objects.
	Prefix string

	// ContinuationToken resumes listing from a previous ListResult.
	// Empty string starts from the beginning.
	ContinuationToken string

	// MaxKeys limits the number of objects returned per page.
	// Zero uses provider default (typically 1000).
	MaxKeys int
}

// ListResult contains a page of objects from a List operation.
type ListResult struct {
	// Objects contains the object summaries for this page, in key order.
	Objects []ObjectSummary

	// ContinuationToken is used to retrieve the next page.
	// Empty string indicates no more pages.
	ContinuationToken string

	// IsTruncated indicates whether more results are available.
	IsTruncated bool
}

// ObjectSummary contains basic metadata returned from List operations.
type ObjectSummary struct {
	// Key is the full object key in the bucket.
	Key string

	// Size is the object size in bytes.
	Size int64

	// ETag is the entity tag, typically an MD5 hash of the object.
	ETag string

	// LastModified is when the object was last modified.
	LastModified time.Time
}

// ObjectMeta contains full metadata for a single object.
// Returned by Head operations.
type ObjectMeta struct {
	ObjectSummary

	// ContentType is the MIME type of the object.
	ContentType string

	// Metadata contains user-defined metadata key-value pairs.
	Metadata map[string]string
}

// ProviderType identifies an object-store backend.
type ProviderType string

const (
	// ProviderS3 represents AWS S3 or S3-compatible storage via the AWS SDK.
	ProviderS3 ProviderType = "s3"

	// ProviderMinIO represents MinIO (or any S3-compatible store) via minio-go.
	ProviderMinIO ProviderType = "minio"

	// ProviderMemory represents the in-process store used for tests and demos.
	ProviderMemory ProviderType = "memory"

	// ProviderSQLite represents the local SQLite-backed store.
	ProviderSQLite ProviderType = "sqlite"
)

// String returns the string representation of the provider type.
func (p ProviderType) String() string {
	return string(p)
}

// ListAll consumes every page under prefix and returns the concatenated
// objects. ctx is checked between pages.
func ListAll(ctx context.Context, p Provider, prefix string, pageSize int) ([]ObjectSummary, int, error) {
	var (
		token string
		out   []ObjectSummary
		pages int
	)
	for {
		if err := ctx.Err(); err != nil {
			return nil, pages, err
		}
		res, err := p.List(ctx, ListOptions{Prefix: prefix, ContinuationToken: token, MaxKeys: pageSize})
		if err != nil {
			return nil, pages, err
		}
		pages++
		out = append(out, res.Objects...)
		if !res.IsTruncated || res.ContinuationToken == "" {
			return out, pages, nil
		}
		token = res.ContinuationToken
	}
}
