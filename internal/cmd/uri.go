package cmd

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/3leaps/bucketview/pkg/keypath"
)

var (
	// ErrInvalidURI indicates the URI could not be parsed.
	ErrInvalidURI = errors.New("invalid URI")

	// ErrUnsupportedScheme indicates a scheme other than s3.
	ErrUnsupportedScheme = errors.New("unsupported scheme")

	// ErrMissingBucket indicates the URI is missing a bucket name.
	ErrMissingBucket = errors.New("missing bucket name")
)

// ObjectURI is a parsed s3://bucket/key reference. The scheme names the
// addressing form only; the backend comes from configuration.
//
//   - s3://bucket            bucket root
//   - s3://bucket/reports/   folder
//   - s3://bucket/a/b.csv    object key (or folder, depending on the command)
type ObjectURI struct {
	Bucket string

	// Key is the text after the bucket, without the separating slash.
	Key string
}

func (u *ObjectURI) String() string {
	return fmt.Sprintf("s3://%s/%s", u.Bucket, u.Key)
}

// IsFolder reports whether the URI names the root or ends with a delimiter.
func (u *ObjectURI) IsFolder() bool {
	return u.Key == "" || strings.HasSuffix(u.Key, keypath.Delimiter)
}

// Folder reads the key as a folder path.
func (u *ObjectURI) Folder() (keypath.Path, error) {
	return keypath.ParsePath(u.Key)
}

// ParseURI parses s3://bucket[/key].
func ParseURI(uri string) (*ObjectURI, error) {
	if uri == "" {
		return nil, fmt.Errorf("%w: empty URI", ErrInvalidURI)
	}

	schemeEnd := strings.Index(uri, "://")
	if schemeEnd == -1 {
		return nil, fmt.Errorf("%w: missing scheme (expected s3://...)", ErrInvalidURI)
	}
	scheme := strings.ToLower(uri[:schemeEnd])
	if scheme != "s3" {
		return nil, fmt.Errorf("%w: %s (supported: s3)", ErrUnsupportedScheme, scheme)
	}

	remainder := uri[schemeEnd+3:]
	bucket, key, _ := strings.Cut(remainder, "/")
	if bucket == "" {
		return nil, fmt.Errorf("%w: in %s", ErrMissingBucket, uri)
	}
	if _, err := url.Parse("s3://" + bucket + "/"); err != nil {
		return nil, fmt.Errorf("%w: invalid bucket name %q", ErrInvalidURI, bucket)
	}
	if strings.HasPrefix(key, "/") {
		return nil, fmt.Errorf("%w: empty path segment in %s", ErrInvalidURI, uri)
	}
	return &ObjectURI{Bucket: bucket, Key: key}, nil
}

// parseSameBucket parses uris and requires they all name one bucket.
func parseSameBucket(uris []string) (string, []*ObjectURI, error) {
	parsed := make([]*ObjectURI, 0, len(uris))
	bucket := ""
	for _, raw := range uris {
		u, err := ParseURI(raw)
		if err != nil {
			return "", nil, err
		}
		if bucket == "" {
			bucket = u.Bucket
		} else if u.Bucket != bucket {
			return "", nil, fmt.Errorf("%w: %s is in bucket %q, expected %q", ErrInvalidURI, raw, u.Bucket, bucket)
		}
		parsed = append(parsed, u)
	}
	return bucket, parsed, nil
}
