// Package s3 implements the provider interface for AWS S3 and S3-compatible
// stores through aws-sdk-go-v2.
package s3

import "strings"

const (
	// DefaultMaxKeys is the default List page size.
	DefaultMaxKeys = 1000

	// MaxAllowedKeys is the largest page ListObjectsV2 returns.
	MaxAllowedKeys = 1000

	// DefaultAWSRegion applies to AWS endpoints when neither the config nor
	// the SDK chain names a region.
	DefaultAWSRegion = "us-east-1"
)

// Config describes one bucket on an S3-compatible endpoint.
//
// Credentials come from AccessKeyID/SecretAccessKey when both are set, else
// from the SDK default chain (environment, shared files selected by Profile,
// instance or task role). Endpoint points the client at a non-AWS store such
// as MinIO or Wasabi, which usually also needs ForcePathStyle.
type Config struct {
	Bucket   string
	Region   string
	Endpoint string
	Profile  string

	AccessKeyID     string
	SecretAccessKey string

	ForcePathStyle bool

	// MaxKeys is the default page size; values above MaxAllowedKeys are
	// clamped.
	MaxKeys int
}

// Validate reports the first missing or inconsistent field.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Bucket) == "" {
		return &ConfigError{Field: "Bucket", Message: "bucket name is required"}
	}
	if (c.AccessKeyID == "") != (c.SecretAccessKey == "") {
		return &ConfigError{
			Field:   "AccessKeyID/SecretAccessKey",
			Message: "access key ID and secret access key must be set together",
		}
	}
	return nil
}

// customEndpoint reports whether the config targets a non-AWS store.
func (c *Config) customEndpoint() bool {
	return c.Endpoint != ""
}

// ConfigError is returned by Validate.
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return "s3 config: " + e.Field + ": " + e.Message
}
