// Package memory implements an in-process object store.
//
// It backs unit tests and the memory backend of the CLI. Every bucket is a
// sorted key space with S3-like semantics: listing is lexicographic and
// paginated, deletes of absent keys succeed, and copies are atomic. Faults can
// be injected per operation and key to exercise partial-failure paths.
package memory

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/3leaps/bucketview/pkg/provider"
)

// DefaultMaxKeys is the default page size for List operations.
const DefaultMaxKeys = 1000

// Op names a provider operation for fault injection and call counting.
type Op string

const (
	OpList   Op = "List"
	OpHead   Op = "Head"
	OpPut    Op = "PutObject"
	OpDelete Op = "DeleteObject"
	OpCopy   Op = "CopyObject"
	OpGet    Op = "GetObject"
)

type object struct {
	data         []byte
	etag         string
	lastModified time.Time
}

type faultKey struct {
	bucket string
	op     Op
	key    string
}

// Store holds every bucket of the in-memory backend.
type Store struct {
	mu      sync.RWMutex
	buckets map[string]map[string]object
	faults  map[faultKey]error
	calls   map[Op]int
	now     func() time.Time
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		buckets: make(map[string]map[string]object),
		faults:  make(map[faultKey]error),
		calls:   make(map[Op]int),
		now:     time.Now,
	}
}

// CreateBucket adds an empty bucket. Creating an existing bucket is a no-op.
func (s *Store) CreateBucket(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.buckets[name]; !ok {
		s.buckets[name] = make(map[string]object)
	}
}

// Bucket returns a provider bound to name.
func (s *Store) Bucket(name string) (*Provider, error) {
	s.mu.RLock()
	_, ok := s.buckets[name]
	s.mu.RUnlock()
	if !ok {
		return nil, &provider.ProviderError{Op: "New", Provider: provider.ProviderMemory, Bucket: name, Err: provider.ErrBucketNotFound}
	}
	return &Provider{store: s, bucket: name}, nil
}

// Factory adapts the store to provider.Registry.
func (s *Store) Factory() provider.Factory {
	return func(_ context.Context, bucket string) (provider.MutableProvider, error) {
		return s.Bucket(bucket)
	}
}

// InjectFault makes op fail with err. An empty key matches every key. For
// List the key is the prefix; for CopyObject it is the source key.
func (s *Store) InjectFault(bucket string, op Op, key string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.faults[faultKey{bucket: bucket, op: op, key: key}] = err
}

// ClearFaults removes every injected fault.
func (s *Store) ClearFaults() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.faults = make(map[faultKey]error)
}

// Calls reports how many times op was invoked across all buckets.
func (s *Store) Calls(op Op) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.calls[op]
}

// Keys returns the sorted keys of bucket.
func (s *Store) Keys(bucket string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.buckets[bucket]))
	for k := range s.buckets[bucket] {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Exists reports whether key is present in bucket.
func (s *Store) Exists(bucket, key string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.buckets[bucket][key]
	return ok
}

// Seed writes objects directly, bypassing faults and call counting.
func (s *Store) Seed(bucket string, objects map[string][]byte) {
	s.CreateBucket(bucket)
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, v := range objects {
		s.buckets[bucket][k] = newObject(v, s.now())
	}
}

// begin records a call and returns the injected fault for it, if any.
// Callers must hold s.mu.
func (s *Store) begin(bucket string, op Op, key string) error {
	s.calls[op]++
	if _, ok := s.buckets[bucket]; !ok {
		return provider.ErrBucketNotFound
	}
	if err, ok := s.faults[faultKey{bucket: bucket, op: op, key: key}]; ok {
		return err
	}
	if err, ok := s.faults[faultKey{bucket: bucket, op: op}]; ok {
		return err
	}
	return nil
}

func newObject(data []byte, now time.Time) object {
	sum := md5.Sum(data)
	return object{data: append([]byte(nil), data...), etag: hex.EncodeToString(sum[:]), lastModified: now}
}

// Provider implements provider.MutableProvider for one in-memory bucket.
type Provider struct {
	store  *Store
	bucket string
}

// Ensure Provider implements the interfaces.
var (
	_ provider.MutableProvider = (*Provider)(nil)
	_ provider.ObjectGetter    = (*Provider)(nil)
)

func (p *Provider) wrapError(op Op, key string, err error) error {
	return &provider.ProviderError{Op: string(op), Provider: provider.ProviderMemory, Bucket: p.bucket, Key: key, Err: err}
}

// List returns a page of objects with the given prefix, in key order.
// The continuation token is the last key of the previous page.
func (p *Provider) List(ctx context.Context, opts provider.ListOptions) (*provider.ListResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	maxKeys := opts.MaxKeys
	if maxKeys <= 0 {
		maxKeys = DefaultMaxKeys
	}

	p.store.mu.Lock()
	defer p.store.mu.Unlock()
	if err := p.store.begin(p.bucket, OpList, opts.Prefix); err != nil {
		return nil, p.wrapError(OpList, "", err)
	}

	objs := p.store.buckets[p.bucket]
	keys := make([]string, 0, len(objs))
	for k := range objs {
		if strings.HasPrefix(k, opts.Prefix) && k > opts.ContinuationToken {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	res := &provider.ListResult{}
	if len(keys) > maxKeys {
		keys = keys[:maxKeys]
		res.IsTruncated = true
		res.ContinuationToken = keys[len(keys)-1]
	}
	res.Objects = make([]provider.ObjectSummary, 0, len(keys))
	for _, k := range keys {
		o := objs[k]
		res.Objects = append(res.Objects, provider.ObjectSummary{
			Key:          k,
			Size:         int64(len(o.data)),
			ETag:         o.etag,
			LastModified: o.lastModified,
		})
	}
	return res, nil
}

// Head returns metadata for a single object.
func (p *Provider) Head(ctx context.Context, key string) (*provider.ObjectMeta, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.store.mu.Lock()
	defer p.store.mu.Unlock()
	if err := p.store.begin(p.bucket, OpHead, key); err != nil {
		return nil, p.wrapError(OpHead, key, err)
	}
	o, ok := p.store.buckets[p.bucket][key]
	if !ok {
		return nil, p.wrapError(OpHead, key, provider.ErrNotFound)
	}
	return &provider.ObjectMeta{
		ObjectSummary: provider.ObjectSummary{Key: key, Size: int64(len(o.data)), ETag: o.etag, LastModified: o.lastModified},
	}, nil
}

// PutObject stores body under key, replacing any existing object.
func (p *Provider) PutObject(ctx context.Context, key string, body io.Reader, contentLength int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return p.wrapError(OpPut, key, err)
	}
	if contentLength >= 0 && int64(len(data)) != contentLength {
		return p.wrapError(OpPut, key, fmt.Errorf("content length mismatch: declared %d, read %d", contentLength, len(data)))
	}

	p.store.mu.Lock()
	defer p.store.mu.Unlock()
	if err := p.store.begin(p.bucket, OpPut, key); err != nil {
		return p.wrapError(OpPut, key, err)
	}
	p.store.buckets[p.bucket][key] = newObject(data, p.store.now())
	return nil
}

// DeleteObject removes key. Removing an absent key succeeds.
func (p *Provider) DeleteObject(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.store.mu.Lock()
	defer p.store.mu.Unlock()
	if err := p.store.begin(p.bucket, OpDelete, key); err != nil {
		return p.wrapError(OpDelete, key, err)
	}
	delete(p.store.buckets[p.bucket], key)
	return nil
}

// CopyObject duplicates srcKey to dstKey.
func (p *Provider) CopyObject(ctx context.Context, srcKey, dstKey string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.store.mu.Lock()
	defer p.store.mu.Unlock()
	if err := p.store.begin(p.bucket, OpCopy, srcKey); err != nil {
		return p.wrapError(OpCopy, srcKey, err)
	}
	o, ok := p.store.buckets[p.bucket][srcKey]
	if !ok {
		return p.wrapError(OpCopy, srcKey, provider.ErrNotFound)
	}
	p.store.buckets[p.bucket][dstKey] = newObject(o.data, p.store.now())
	return nil
}

// GetObject returns the content of key.
func (p *Provider) GetObject(ctx context.Context, key string) (io.ReadCloser, int64, error) {
	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}
	p.store.mu.Lock()
	defer p.store.mu.Unlock()
	if err := p.store.begin(p.bucket, OpGet, key); err != nil {
		return nil, 0, p.wrapError(OpGet, key, err)
	}
	o, ok := p.store.buckets[p.bucket][key]
	if !ok {
		return nil, 0, p.wrapError(OpGet, key, provider.ErrNotFound)
	}
	return io.NopCloser(bytes.NewReader(o.data)), int64(len(o.data)), nil
}

// Close releases nothing; the store outlives its providers.
func (p *Provider) Close() error {
	return nil
}
