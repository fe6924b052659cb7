// Package s3 implements the job store on AWS S3 or S3-compatible object
// storage. One object per job; optimistic concurrency through conditional
// writes.
package s3

// Config configures an S3 job store.
//
// Credentials resolve through the AWS SDK v2 default chain: an explicit
// AccessKeyID/SecretAccessKey pair when set, then AWS_ACCESS_KEY_ID and
// AWS_SECRET_ACCESS_KEY from the environment, then the shared credentials
// and config files (honoring Profile), and finally instance or task roles
// on AWS infrastructure.
//
// For S3-compatible stores (MinIO, Wasabi, DigitalOcean Spaces), set
// Endpoint and typically ForcePathStyle. The backend relies on conditional
// writes (If-Match / If-None-Match), so the endpoint must support them.
type Config struct {
	// Bucket is the S3 bucket name (required).
	Bucket string

	// Prefix is prepended to every record key. Records live under
	// <prefix>/jobs/<id>.json. Empty means the bucket root.
	Prefix string

	// Region is the AWS region. Defaults to us-east-1 for AWS S3 when not
	// resolvable from environment or profile; no default when Endpoint is
	// set.
	Region string

	// Endpoint is a custom endpoint URL for S3-compatible stores. Leave
	// empty for AWS S3.
	Endpoint string

	// Profile is the AWS profile name from shared config. Empty uses the
	// default chain.
	Profile string

	// AccessKeyID is an explicit access key. If set, SecretAccessKey must
	// also be set; the pair takes precedence over the default chain.
	AccessKeyID string

	// SecretAccessKey is an explicit secret key.
	SecretAccessKey string

	// ForcePathStyle forces path-style URLs (bucket in path, not
	// subdomain). Required for most S3-compatible stores.
	ForcePathStyle bool
}

// DefaultAWSRegion is the fallback region for AWS S3 when not specified.
const DefaultAWSRegion = "us-east-1"

// Validate checks that required configuration is present.
func (c *Config) Validate() error {
	if c.Bucket == "" {
		return &ConfigError{Field: "Bucket", Message: "bucket name is required"}
	}
	if (c.AccessKeyID != "") != (c.SecretAccessKey != "") {
		return &ConfigError{
			Field:   "AccessKeyID/SecretAccessKey",
			Message: "both access key ID and secret access key must be provided together",
		}
	}
	return nil
}

// ConfigError represents a configuration validation error.
type ConfigError struct {
	Field   string
	Message string
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	return "s3 config: " + e.Field + ": " + e.Message
}
