// Package sqlite implements a persistent object store on a local SQLite
// database, using the pure-Go modernc.org/sqlite driver.
//
// One database holds any number of buckets. Keys are compared with SQLite's
// BINARY collation, which orders UTF-8 text bytewise like S3.
package sqlite

import (
	"bytes"
	"context"
	"crypto/md5"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/3leaps/bucketview/pkg/provider"
)

// DefaultMaxKeys is the default page size for List operations.
const DefaultMaxKeys = 1000

const driverName = "sqlite"

const schema = `
CREATE TABLE IF NOT EXISTS buckets (
	name TEXT PRIMARY KEY
) WITHOUT ROWID;

CREATE TABLE IF NOT EXISTS objects (
	bucket        TEXT    NOT NULL,
	key           TEXT    NOT NULL,
	data          BLOB    NOT NULL,
	etag          TEXT    NOT NULL,
	last_modified INTEGER NOT NULL,
	PRIMARY KEY (bucket, key)
) WITHOUT ROWID;
`

// Store is an open database. It is safe for concurrent use.
type Store struct {
	db      *sql.DB
	maxKeys int
	now     func() time.Time
}

// Open opens (and creates if needed) the database at path. ":memory:" opens a
// private in-memory database. maxKeys <= 0 uses DefaultMaxKeys.
func Open(ctx context.Context, path string, maxKeys int) (*Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("sqlite store: path is required")
	}
	dsn := path
	if path != ":memory:" {
		if err := ensureDir(path); err != nil {
			return nil, err
		}
		dsn = "file:" + filepath.Clean(path)
	}

	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite store: %w", err)
	}
	// A single connection serializes writers and keeps :memory: databases
	// shared across calls.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := configure(ctx, db, path); err != nil {
		_ = db.Close()
		return nil, err
	}
	if maxKeys <= 0 {
		maxKeys = DefaultMaxKeys
	}
	return &Store{db: db, maxKeys: maxKeys, now: time.Now}, nil
}

func configure(ctx context.Context, db *sql.DB, path string) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping sqlite store: %w", err)
	}
	if path != ":memory:" {
		var journalMode string
		if err := db.QueryRowContext(ctx, "PRAGMA journal_mode=WAL").Scan(&journalMode); err != nil {
			return fmt.Errorf("enable WAL mode: %w", err)
		}
		var busyTimeout int
		if err := db.QueryRowContext(ctx, "PRAGMA busy_timeout=5000").Scan(&busyTimeout); err != nil {
			return fmt.Errorf("set busy timeout: %w", err)
		}
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("migrate sqlite store: %w", err)
	}
	return nil
}

func ensureDir(path string) error {
	dir := filepath.Dir(filepath.Clean(path))
	if dir == "." || dir == string(filepath.Separator) {
		return nil
	}
	// #nosec G301 -- data directories use 0755 like other local stores
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create store directory: %w", err)
	}
	return nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// CreateBucket adds an empty bucket. Creating an existing bucket is a no-op.
func (s *Store) CreateBucket(ctx context.Context, name string) error {
	if strings.TrimSpace(name) == "" {
		return errors.New("bucket name is required")
	}
	if _, err := s.db.ExecContext(ctx, `INSERT OR IGNORE INTO buckets (name) VALUES (?)`, name); err != nil {
		return fmt.Errorf("create bucket %s: %w", name, err)
	}
	return nil
}

// Bucket returns a provider bound to name.
func (s *Store) Bucket(ctx context.Context, name string) (*Provider, error) {
	var found string
	err := s.db.QueryRowContext(ctx, `SELECT name FROM buckets WHERE name = ?`, name).Scan(&found)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil, &provider.ProviderError{Op: "New", Provider: provider.ProviderSQLite, Bucket: name, Err: provider.ErrBucketNotFound}
	case err != nil:
		return nil, &provider.ProviderError{Op: "New", Provider: provider.ProviderSQLite, Bucket: name, Err: mapError(err)}
	}
	return &Provider{store: s, bucket: name}, nil
}

// Factory adapts the store to provider.Registry.
func (s *Store) Factory() provider.Factory {
	return func(ctx context.Context, bucket string) (provider.MutableProvider, error) {
		return s.Bucket(ctx, bucket)
	}
}

// Provider implements provider.MutableProvider for one bucket of a Store.
type Provider struct {
	store  *Store
	bucket string
}

var (
	_ provider.MutableProvider = (*Provider)(nil)
	_ provider.ObjectGetter    = (*Provider)(nil)
)

// List returns a page of objects under opts.Prefix in key order. The
// continuation token is the last key of the previous page.
func (p *Provider) List(ctx context.Context, opts provider.ListOptions) (*provider.ListResult, error) {
	maxKeys := opts.MaxKeys
	if maxKeys <= 0 {
		maxKeys = p.store.maxKeys
	}

	rows, err := p.store.db.QueryContext(ctx, `
		SELECT key, length(data), etag, last_modified
		FROM objects
		WHERE bucket = ? AND key > ? AND substr(key, 1, length(?)) = ?
		ORDER BY key
		LIMIT ?`,
		p.bucket, opts.ContinuationToken, opts.Prefix, opts.Prefix, maxKeys+1)
	if err != nil {
		return nil, p.wrapError("List", "", err)
	}
	defer func() { _ = rows.Close() }()

	res := &provider.ListResult{Objects: make([]provider.ObjectSummary, 0, maxKeys)}
	for rows.Next() {
		var (
			obj      provider.ObjectSummary
			modified int64
		)
		if err := rows.Scan(&obj.Key, &obj.Size, &obj.ETag, &modified); err != nil {
			return nil, p.wrapError("List", "", err)
		}
		if len(res.Objects) == maxKeys {
			res.IsTruncated = true
			res.ContinuationToken = res.Objects[maxKeys-1].Key
			break
		}
		obj.LastModified = time.Unix(0, modified).UTC()
		res.Objects = append(res.Objects, obj)
	}
	if err := rows.Err(); err != nil {
		return nil, p.wrapError("List", "", err)
	}
	return res, nil
}

// Head returns metadata for a single object.
func (p *Provider) Head(ctx context.Context, key string) (*provider.ObjectMeta, error) {
	var (
		meta     provider.ObjectMeta
		modified int64
	)
	err := p.store.db.QueryRowContext(ctx,
		`SELECT length(data), etag, last_modified FROM objects WHERE bucket = ? AND key = ?`,
		p.bucket, key).Scan(&meta.Size, &meta.ETag, &modified)
	if err != nil {
		return nil, p.wrapError("Head", key, err)
	}
	meta.Key = key
	meta.LastModified = time.Unix(0, modified).UTC()
	return &meta, nil
}

// PutObject stores body under key, replacing any existing object.
func (p *Provider) PutObject(ctx context.Context, key string, body io.Reader, contentLength int64) error {
	data, err := io.ReadAll(body)
	if err != nil {
		return p.wrapError("PutObject", key, err)
	}
	if contentLength >= 0 && int64(len(data)) != contentLength {
		return p.wrapError("PutObject", key, fmt.Errorf("content length mismatch: declared %d, read %d", contentLength, len(data)))
	}
	sum := md5.Sum(data)

	_, err = p.store.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO objects (bucket, key, data, etag, last_modified) VALUES (?, ?, ?, ?, ?)`,
		p.bucket, key, data, hex.EncodeToString(sum[:]), p.store.now().UnixNano())
	if err != nil {
		return p.wrapError("PutObject", key, err)
	}
	return nil
}

// DeleteObject removes key. Removing an absent key succeeds.
func (p *Provider) DeleteObject(ctx context.Context, key string) error {
	if _, err := p.store.db.ExecContext(ctx, `DELETE FROM objects WHERE bucket = ? AND key = ?`, p.bucket, key); err != nil {
		return p.wrapError("DeleteObject", key, err)
	}
	return nil
}

// CopyObject duplicates srcKey to dstKey in one statement.
func (p *Provider) CopyObject(ctx context.Context, srcKey, dstKey string) error {
	res, err := p.store.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO objects (bucket, key, data, etag, last_modified)
		SELECT bucket, ?, data, etag, ? FROM objects WHERE bucket = ? AND key = ?`,
		dstKey, p.store.now().UnixNano(), p.bucket, srcKey)
	if err != nil {
		return p.wrapError("CopyObject", srcKey, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return p.wrapError("CopyObject", srcKey, err)
	}
	if n == 0 {
		return p.wrapError("CopyObject", srcKey, sql.ErrNoRows)
	}
	return nil
}

// GetObject returns the content of key.
func (p *Provider) GetObject(ctx context.Context, key string) (io.ReadCloser, int64, error) {
	var data []byte
	err := p.store.db.QueryRowContext(ctx,
		`SELECT data FROM objects WHERE bucket = ? AND key = ?`, p.bucket, key).Scan(&data)
	if err != nil {
		return nil, 0, p.wrapError("GetObject", key, err)
	}
	return io.NopCloser(bytes.NewReader(data)), int64(len(data)), nil
}

// Close releases nothing; the Store owns the database.
func (p *Provider) Close() error {
	return nil
}

func (p *Provider) wrapError(op, key string, err error) error {
	return &provider.ProviderError{Op: op, Provider: provider.ProviderSQLite, Bucket: p.bucket, Key: key, Err: mapError(err)}
}

// mapError translates database errors into provider sentinels.
func mapError(err error) error {
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return provider.ErrNotFound
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	case errors.Is(err, sql.ErrConnDone):
		return provider.ErrProviderUnavailable
	}
	if msg := err.Error(); strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked") {
		return fmt.Errorf("%w: %v", provider.ErrThrottled, err)
	}
	return err
}
