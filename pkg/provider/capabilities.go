package provider

import (
	"context"
	"io"
)

// Optional provider capability interfaces.
//
// Source.Get hands out MutableProvider, so put, delete and copy are always
// present. ObjectGetter is optional: content reads type-assert it and return
// ErrUnsupported when it is missing.

// ObjectPutter can create/overwrite objects.
//
// Used for folder markers and uploads.
type ObjectPutter interface {
	PutObject(ctx context.Context, key string, body io.Reader, contentLength int64) error
}

// ObjectDeleter can delete objects.
//
// Deleting a key that does not exist succeeds, matching S3 semantics.
type ObjectDeleter interface {
	DeleteObject(ctx context.Context, key string) error
}

// ObjectCopier performs a server-side copy within the provider's bucket.
//
// A single copy is atomic from the caller's point of view: the destination
// either holds the full source object or is untouched.
type ObjectCopier interface {
	CopyObject(ctx context.Context, srcKey, dstKey string) error
}

// ObjectGetter can download objects as a stream.
type ObjectGetter interface {
	GetObject(ctx context.Context, key string) (body io.ReadCloser, contentLength int64, err error)
}

// MutableProvider is the full capability set required by the batch coordinator.
type MutableProvider interface {
	Provider
	ObjectPutter
	ObjectDeleter
	ObjectCopier
}
