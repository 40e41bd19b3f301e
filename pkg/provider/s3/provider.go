package s3

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/3leaps/bucketview/pkg/provider"
)

// Provider is one bucket behind an S3 API client. It is safe for concurrent
// use.
type Provider struct {
	client  *s3.Client
	bucket  string
	maxKeys int
}

var (
	_ provider.MutableProvider = (*Provider)(nil)
	_ provider.ObjectGetter    = (*Provider)(nil)
)

// New validates cfg and builds a client. No request is sent.
func New(ctx context.Context, cfg Config) (*Provider, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	awsCfg, err := sdkConfig(ctx, cfg)
	if err != nil {
		return nil, &provider.ProviderError{Op: "New", Provider: provider.ProviderS3, Bucket: cfg.Bucket, Err: err}
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.ForcePathStyle
		if cfg.customEndpoint() {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})

	return &Provider{
		client:  client,
		bucket:  cfg.Bucket,
		maxKeys: clampMaxKeys(cfg.MaxKeys, DefaultMaxKeys),
	}, nil
}

// NewFactory binds base to whichever bucket the registry asks for.
func NewFactory(base Config) provider.Factory {
	return func(ctx context.Context, bucket string) (provider.MutableProvider, error) {
		cfg := base
		cfg.Bucket = bucket
		return New(ctx, cfg)
	}
}

func sdkConfig(ctx context.Context, cfg Config) (aws.Config, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	if cfg.Profile != "" {
		opts = append(opts, awsconfig.WithSharedConfigProfile(cfg.Profile))
	}
	if cfg.AccessKeyID != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return aws.Config{}, err
	}
	awsCfg.Region = resolveRegion(cfg.Endpoint, awsCfg.Region)
	return awsCfg, nil
}

// List reads one ListObjectsV2 page.
func (p *Provider) List(ctx context.Context, opts provider.ListOptions) (*provider.ListResult, error) {
	in := &s3.ListObjectsV2Input{
		Bucket:  aws.String(p.bucket),
		MaxKeys: aws.Int32(int32(clampMaxKeys(opts.MaxKeys, p.maxKeys))),
	}
	if opts.Prefix != "" {
		in.Prefix = aws.String(opts.Prefix)
	}
	if opts.ContinuationToken != "" {
		in.ContinuationToken = aws.String(opts.ContinuationToken)
	}

	out, err := p.client.ListObjectsV2(ctx, in)
	if err != nil {
		return nil, p.wrapError("List", "", err)
	}

	res := &provider.ListResult{
		Objects:           make([]provider.ObjectSummary, len(out.Contents)),
		IsTruncated:       aws.ToBool(out.IsTruncated),
		ContinuationToken: aws.ToString(out.NextContinuationToken),
	}
	for i, obj := range out.Contents {
		res.Objects[i] = provider.ObjectSummary{
			Key:          aws.ToString(obj.Key),
			Size:         aws.ToInt64(obj.Size),
			ETag:         cleanETag(aws.ToString(obj.ETag)),
			LastModified: aws.ToTime(obj.LastModified),
		}
	}
	return res, nil
}

// Head fetches object metadata.
func (p *Provider) Head(ctx context.Context, key string) (*provider.ObjectMeta, error) {
	out, err := p.client.HeadObject(ctx, &s3.HeadObjectInput{Bucket: aws.String(p.bucket), Key: aws.String(key)})
	if err != nil {
		return nil, p.wrapError("Head", key, err)
	}
	return &provider.ObjectMeta{
		ObjectSummary: provider.ObjectSummary{
			Key:          key,
			Size:         aws.ToInt64(out.ContentLength),
			ETag:         cleanETag(aws.ToString(out.ETag)),
			LastModified: aws.ToTime(out.LastModified),
		},
		ContentType: aws.ToString(out.ContentType),
		Metadata:    out.Metadata,
	}, nil
}

// PutObject writes body under key. Folder markers are zero-length puts.
func (p *Provider) PutObject(ctx context.Context, key string, body io.Reader, contentLength int64) error {
	_, err := p.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(p.bucket),
		Key:           aws.String(key),
		Body:          body,
		ContentLength: aws.Int64(contentLength),
	})
	if err != nil {
		return p.wrapError("PutObject", key, err)
	}
	return nil
}

// DeleteObject removes key. S3 answers 204 for absent keys too.
func (p *Provider) DeleteObject(ctx context.Context, key string) error {
	if _, err := p.client.DeleteObject(ctx, &s3.DeleteObjectInput{Bucket: aws.String(p.bucket), Key: aws.String(key)}); err != nil {
		return p.wrapError("DeleteObject", key, err)
	}
	return nil
}

// CopyObject copies srcKey to dstKey server-side.
func (p *Provider) CopyObject(ctx context.Context, srcKey, dstKey string) error {
	_, err := p.client.CopyObject(ctx, &s3.CopyObjectInput{
		Bucket:     aws.String(p.bucket),
		Key:        aws.String(dstKey),
		CopySource: aws.String(copySource(p.bucket, srcKey)),
	})
	if err != nil {
		return p.wrapError("CopyObject", srcKey, err)
	}
	return nil
}

// GetObject opens the object body. The caller closes it.
func (p *Provider) GetObject(ctx context.Context, key string) (io.ReadCloser, int64, error) {
	out, err := p.client.GetObject(ctx, &s3.GetObjectInput{Bucket: aws.String(p.bucket), Key: aws.String(key)})
	if err != nil {
		return nil, 0, p.wrapError("GetObject", key, err)
	}
	return out.Body, aws.ToInt64(out.ContentLength), nil
}

// Close is a no-op; the SDK client pools its own connections.
func (p *Provider) Close() error {
	return nil
}

func (p *Provider) wrapError(op, key string, err error) error {
	return &provider.ProviderError{
		Op:       op,
		Provider: provider.ProviderS3,
		Bucket:   p.bucket,
		Key:      key,
		Err:      classify(err),
	}
}

// codeSentinels maps S3 error codes onto provider sentinels, checked in
// order.
var codeSentinels = []struct {
	code string
	err  error
}{
	{"NoSuchBucket", provider.ErrBucketNotFound},
	{"NoSuchKey", provider.ErrNotFound},
	{"NotFound", provider.ErrNotFound},
	{"AccessDenied", provider.ErrAccessDenied},
	{"Forbidden", provider.ErrAccessDenied},
	{"InvalidAccessKeyId", provider.ErrInvalidCredentials},
	{"SignatureDoesNotMatch", provider.ErrInvalidCredentials},
	{"ExpiredToken", provider.ErrInvalidCredentials},
	{"SlowDown", provider.ErrThrottled},
	{"Throttling", provider.ErrThrottled},
	{"RequestLimitExceeded", provider.ErrThrottled},
	{"ServiceUnavailable", provider.ErrProviderUnavailable},
	{"InternalError", provider.ErrProviderUnavailable},
}

// statusSentinels covers responses without a parseable error code, which is
// what HeadObject returns.
var statusSentinels = map[int]error{
	http.StatusNotFound:           provider.ErrNotFound,
	http.StatusForbidden:          provider.ErrAccessDenied,
	http.StatusUnauthorized:       provider.ErrAccessDenied,
	http.StatusTooManyRequests:    provider.ErrThrottled,
	http.StatusServiceUnavailable: provider.ErrProviderUnavailable,
	http.StatusBadGateway:         provider.ErrProviderUnavailable,
	http.StatusGatewayTimeout:     provider.ErrProviderUnavailable,
}

// classify returns the provider sentinel for err, or err itself when none
// applies.
func classify(err error) error {
	var (
		noSuchKey    *types.NoSuchKey
		notFound     *types.NotFound
		noSuchBucket *types.NoSuchBucket
	)
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	case errors.As(err, &noSuchKey), errors.As(err, &notFound):
		return provider.ErrNotFound
	case errors.As(err, &noSuchBucket):
		return provider.ErrBucketNotFound
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		for _, c := range codeSentinels {
			if apiErr.ErrorCode() == c.code {
				return c.err
			}
		}
	}

	var status interface{ HTTPStatusCode() int }
	if errors.As(err, &status) {
		if s, ok := statusSentinels[status.HTTPStatusCode()]; ok {
			return s
		}
	}

	msg := err.Error()
	for _, c := range codeSentinels {
		if strings.Contains(msg, c.code) {
			return c.err
		}
	}
	return err
}

// copySource renders the URL-escaped "bucket/key" CopyObject expects.
func copySource(bucket, key string) string {
	return url.PathEscape(bucket + "/" + key)
}

func cleanETag(etag string) string {
	return strings.Trim(etag, `"`)
}

func clampMaxKeys(requested, fallback int) int {
	if requested <= 0 {
		requested = fallback
	}
	return min(requested, MaxAllowedKeys)
}

// resolveRegion fills in DefaultAWSRegion for AWS endpoints when the SDK
// chain produced none. Custom endpoints keep whatever the chain produced.
func resolveRegion(endpoint, sdkRegion string) string {
	if sdkRegion != "" || endpoint != "" {
		return sdkRegion
	}
	return DefaultAWSRegion
}

// Client exposes the underlying SDK client for bucket administration that
// sits outside the provider interface.
func (p *Provider) Client() *s3.Client {
	return p.client
}
