// Package cloudtest runs provider tests against a local moto server.
//
// Tests that use it carry the cloudintegration build tag. The server address
// comes from MOTO_ENDPOINT (default http://localhost:5555) and the region from
// MOTO_REGION.
package cloudtest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/3leaps/bucketview/pkg/provider"
	s3provider "github.com/3leaps/bucketview/pkg/provider/s3"
)

// moto accepts any credentials.
const (
	accessKey = "testing"
	secretKey = "testing"
)

var (
	Endpoint = envOr("MOTO_ENDPOINT", "http://localhost:5555")
	Region   = envOr("MOTO_REGION", "us-east-1")
)

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// Fixture owns the buckets a test creates and removes them on cleanup.
type Fixture struct {
	t      *testing.T
	client *s3.Client
}

// New skips t when moto is unreachable and otherwise returns a fixture with a
// raw client for setup and verification.
func New(t *testing.T) *Fixture {
	t.Helper()
	if !reachable() {
		t.Skipf("moto not reachable at %s", Endpoint)
	}

	// The provider builds the same client the CLI would.
	p, err := s3provider.New(context.Background(), Config("bootstrap"))
	if err != nil {
		t.Fatalf("build s3 client: %v", err)
	}
	return &Fixture{t: t, client: p.Client()}
}

func reachable() bool {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, Endpoint+"/moto-api/", nil)
	if err != nil {
		return false
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return false
	}
	_ = resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// Config points an s3 provider config at moto.
func Config(bucket string) s3provider.Config {
	return s3provider.Config{
		Bucket:          bucket,
		Endpoint:        Endpoint,
		Region:          Region,
		AccessKeyID:     accessKey,
		SecretAccessKey: secretKey,
		ForcePathStyle:  true,
	}
}

// Factory opens moto-backed providers for a registry.
func Factory() provider.Factory {
	return s3provider.NewFactory(Config(""))
}

var unsafeBucketChars = regexp.MustCompile(`[^a-z0-9-]+`)

// Bucket creates a uniquely named bucket holding objects.
func (f *Fixture) Bucket(ctx context.Context, objects map[string][]byte) string {
	f.t.Helper()

	name := strings.Trim(unsafeBucketChars.ReplaceAllString(strings.ToLower(f.t.Name()), "-"), "-")
	if len(name) > 48 {
		name = name[:48]
	}
	name = fmt.Sprintf("%s-%d", name, time.Now().UnixNano()%1_000_000)

	if _, err := f.client.CreateBucket(ctx, &s3.CreateBucketInput{Bucket: aws.String(name)}); err != nil {
		f.t.Fatalf("create bucket %s: %v", name, err)
	}
	f.t.Cleanup(func() { f.drop(name) })

	for key, body := range objects {
		f.Put(ctx, name, key, body)
	}
	return name
}

// Put writes one object.
func (f *Fixture) Put(ctx context.Context, bucket, key string, body []byte) {
	f.t.Helper()
	_, err := f.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(body),
	})
	if err != nil {
		f.t.Fatalf("put %s/%s: %v", bucket, key, err)
	}
}

// Exists reports whether key is present.
func (f *Fixture) Exists(ctx context.Context, bucket, key string) bool {
	f.t.Helper()
	_, err := f.client.HeadObject(ctx, &s3.HeadObjectInput{Bucket: aws.String(bucket), Key: aws.String(key)})
	return err == nil
}

func (f *Fixture) drop(bucket string) {
	ctx := context.Background()
	pages := s3.NewListObjectsV2Paginator(f.client, &s3.ListObjectsV2Input{Bucket: aws.String(bucket)})
	var errs []error
	for pages.HasMorePages() {
		page, err := pages.NextPage(ctx)
		if err != nil {
			errs = append(errs, err)
			break
		}
		for _, obj := range page.Contents {
			if _, err := f.client.DeleteObject(ctx, &s3.DeleteObjectInput{Bucket: aws.String(bucket), Key: obj.Key}); err != nil {
				errs = append(errs, err)
			}
		}
	}
	if _, err := f.client.DeleteBucket(ctx, &s3.DeleteBucketInput{Bucket: aws.String(bucket)}); err != nil {
		errs = append(errs, err)
	}
	if err := errors.Join(errs...); err != nil {
		f.t.Logf("cleanup of %s incomplete: %v", bucket, err)
	}
}
