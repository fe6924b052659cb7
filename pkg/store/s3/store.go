package s3

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/runveil/codeq/pkg/queue"
	"github.com/runveil/codeq/pkg/store"
)

const backendName = "s3"

// listPageSize is the ListObjectsV2 page size.
const listPageSize = 1000

// errMalformedRecord marks a record object whose body does not parse as a
// job record.
var errMalformedRecord = errors.New("malformed job record")

// Store keeps one record object per job:
//
//	<prefix>/jobs/<id>.json
//
// Mutation is serialized per key by optimistic concurrency: Put uses
// If-None-Match:* so duplicate creates fail, and UpdateStatus rewrites the
// object with If-Match on the ETag it read, so a racing writer observes
// ErrConflict instead of silently clobbering the other edge.
//
// Payload folders (code, output, logs) are not stored here; this backend
// covers deployments where the synced medium carries records while
// execution payloads stay on the owner's local disk.
type Store struct {
	client *s3.Client
	bucket string
	prefix string
}

var _ store.Store = (*Store)(nil)

// New creates an S3 job store with the given configuration.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	awsCfg, err := loadAWSConfig(ctx, cfg)
	if err != nil {
		return nil, &store.StoreError{Op: "New", Backend: backendName, Err: err}
	}

	s3Opts := []func(*s3.Options){
		func(o *s3.Options) {
			if cfg.ForcePathStyle {
				o.UsePathStyle = true
			}
		},
	}
	if cfg.Endpoint != "" {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		})
	}

	return &Store{
		client: s3.NewFromConfig(awsCfg, s3Opts...),
		bucket: cfg.Bucket,
		prefix: strings.Trim(cfg.Prefix, "/"),
	}, nil
}

// loadAWSConfig builds the AWS configuration with appropriate credentials.
func loadAWSConfig(ctx context.Context, cfg Config) (aws.Config, error) {
	var opts []func(*awsconfig.LoadOptions) error

	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	if cfg.Profile != "" {
		opts = append(opts, awsconfig.WithSharedConfigProfile(cfg.Profile))
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		staticCreds := credentials.NewStaticCredentialsProvider(
			cfg.AccessKeyID,
			cfg.SecretAccessKey,
			"",
		)
		opts = append(opts, awsconfig.WithCredentialsProvider(staticCreds))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return aws.Config{}, err
	}
	awsCfg.Region = resolveRegion(cfg.Endpoint, awsCfg.Region)
	return awsCfg, nil
}

// keyFor maps a job id to its record key.
func (s *Store) keyFor(id string) string {
	return path.Join(s.prefix, "jobs", id+".json")
}

// recordPrefix is the listing prefix for all records.
func (s *Store) recordPrefix() string {
	return path.Join(s.prefix, "jobs") + "/"
}

// Put creates the record for a new job. If-None-Match makes the create
// exclusive, so a duplicate id fails with ErrAlreadyExists.
func (s *Store) Put(ctx context.Context, job *queue.Job) error {
	if job == nil {
		return fmt.Errorf("job is nil")
	}
	id := strings.TrimSpace(job.ID)
	if id == "" {
		return fmt.Errorf("job id is required")
	}

	b, err := marshalRecord(job)
	if err != nil {
		return s.wrapError("Put", id, err)
	}

	return store.Retry(ctx, func() error {
		_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
			Bucket:      aws.String(s.bucket),
			Key:         aws.String(s.keyFor(id)),
			Body:        bytes.NewReader(b),
			ContentType: aws.String("application/json"),
			IfNoneMatch: aws.String("*"),
		})
		if err != nil {
			werr := s.wrapError("Put", id, err)
			if store.IsConflict(werr) {
				// If-None-Match precondition tripped: the key exists.
				return &store.StoreError{Op: "Put", Backend: backendName, ID: id, Err: store.ErrAlreadyExists}
			}
			return werr
		}
		return nil
	})
}

// Get loads one record by id.
func (s *Store) Get(ctx context.Context, id string) (*queue.Job, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, fmt.Errorf("job id is required")
	}
	var job *queue.Job
	err := store.Retry(ctx, func() error {
		j, _, err := s.getRecord(ctx, id)
		if err != nil {
			return err
		}
		job = j
		return nil
	})
	if err != nil {
		return nil, err
	}
	return job, nil
}

// UpdateStatus performs the atomic read-modify-write through a conditional
// put on the record's ETag.
func (s *Store) UpdateStatus(ctx context.Context, id string, from, to queue.Status, apply func(*queue.Job)) (*queue.Job, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, fmt.Errorf("job id is required")
	}

	var updated *queue.Job
	err := store.Retry(ctx, func() error {
		cur, etag, err := s.getRecord(ctx, id)
		if err != nil {
			return err
		}
		if cur.Status != from {
			return &store.StoreError{Op: "UpdateStatus", Backend: backendName, ID: id, Err: store.ErrConflict}
		}
		if !queue.CanTransition(from, to) {
			return &store.StoreError{Op: "UpdateStatus", Backend: backendName, ID: id, Err: store.ErrInvalidState}
		}

		next := cur.Clone()
		next.Status = to
		if apply != nil {
			apply(next)
		}
		next.Touch()

		b, err := marshalRecord(next)
		if err != nil {
			return s.wrapError("UpdateStatus", id, err)
		}
		_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
			Bucket:      aws.String(s.bucket),
			Key:         aws.String(s.keyFor(id)),
			Body:        bytes.NewReader(b),
			ContentType: aws.String("application/json"),
			IfMatch:     aws.String(etag),
		})
		if err != nil {
			return s.wrapError("UpdateStatus", id, err)
		}
		updated = next
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// List returns records matching the filter, newest first. Every record
// object under the prefix is fetched; queues are small enough that a read
// per record is acceptable, matching the one-file-per-job layout.
func (s *Store) List(ctx context.Context, filter store.Filter) ([]queue.Job, error) {
	var jobs []queue.Job

	input := &s3.ListObjectsV2Input{
		Bucket:  aws.String(s.bucket),
		Prefix:  aws.String(s.recordPrefix()),
		MaxKeys: aws.Int32(int32(listPageSize)),
	}

	for {
		output, err := s.client.ListObjectsV2(ctx, input)
		if err != nil {
			return nil, s.wrapError("List", "", err)
		}
		for _, obj := range output.Contents {
			key := aws.ToString(obj.Key)
			if !strings.HasSuffix(key, ".json") {
				continue
			}
			j, _, err := s.getByKey(ctx, key)
			if err != nil {
				if store.IsNotFound(err) || errors.Is(err, errMalformedRecord) {
					// Deleted between list and get, or a foreign object
					// under the record prefix. Skipped, not fatal.
					continue
				}
				return nil, err
			}
			jobs = append(jobs, *j)
		}
		if !aws.ToBool(output.IsTruncated) {
			break
		}
		input.ContinuationToken = output.NextContinuationToken
	}

	return filter.Apply(jobs), nil
}

// Delete removes a record. Retention tooling only.
func (s *Store) Delete(ctx context.Context, id string) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return fmt.Errorf("job id is required")
	}
	return store.Retry(ctx, func() error {
		// S3 deletes are idempotent; check existence so callers can tell a
		// repeated delete from a live one, matching the fs backend.
		if _, _, err := s.getRecord(ctx, id); err != nil {
			return err
		}
		_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(s.keyFor(id)),
		})
		if err != nil {
			return s.wrapError("Delete", id, err)
		}
		return nil
	})
}

// getRecord fetches a record and the ETag needed for conditional rewrite.
func (s *Store) getRecord(ctx context.Context, id string) (*queue.Job, string, error) {
	return s.getByKey(ctx, s.keyFor(id))
}

func (s *Store) getByKey(ctx context.Context, key string) (*queue.Job, string, error) {
	output, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, "", s.wrapError("Get", idFromKey(key), err)
	}
	defer func() { _ = output.Body.Close() }()

	b, err := io.ReadAll(output.Body)
	if err != nil {
		return nil, "", s.wrapError("Get", idFromKey(key), err)
	}

	var job queue.Job
	if err := json.Unmarshal(b, &job); err != nil {
		return nil, "", s.wrapError("Get", idFromKey(key), fmt.Errorf("%w: %v", errMalformedRecord, err))
	}
	return &job, cleanETag(aws.ToString(output.ETag)), nil
}

func marshalRecord(job *queue.Job) ([]byte, error) {
	b, err := json.MarshalIndent(job, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal job record: %w", err)
	}
	return append(b, '\n'), nil
}

// idFromKey recovers the job id from a record key for error context.
func idFromKey(key string) string {
	base := path.Base(key)
	return strings.TrimSuffix(base, ".json")
}

// wrapError converts S3 errors to store errors with sentinel classification.
func (s *Store) wrapError(op, id string, err error) error {
	wrapped := &store.StoreError{
		Op:      op,
		Backend: backendName,
		ID:      id,
		Err:     err,
	}

	var noSuchKey *types.NoSuchKey
	var notFound *types.NotFound
	var noSuchBucket *types.NoSuchBucket

	switch {
	case errors.As(err, &noSuchKey), errors.As(err, &notFound):
		wrapped.Err = store.ErrNotFound
		return wrapped
	case errors.As(err, &noSuchBucket):
		wrapped.Err = fmt.Errorf("%w: bucket %s", store.ErrUnavailable, s.bucket)
		return wrapped
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound":
			wrapped.Err = store.ErrNotFound
		case "PreconditionFailed", "ConditionalRequestConflict":
			wrapped.Err = store.ErrConflict
		case "SlowDown", "Throttling", "RequestLimitExceeded",
			"ServiceUnavailable", "InternalError":
			wrapped.Err = fmt.Errorf("%w: %s", store.ErrUnavailable, apiErr.ErrorCode())
		}
		return wrapped
	}

	return wrapped
}

// cleanETag removes surrounding quotes from an ETag value.
func cleanETag(etag string) string {
	return strings.Trim(etag, "\"")
}

// resolveRegion applies the AWS fallback region after SDK config loading.
// S3-compatible endpoints get no default.
func resolveRegion(endpoint, sdkRegion string) string {
	if sdkRegion != "" {
		return sdkRegion
	}
	if endpoint == "" {
		return DefaultAWSRegion
	}
	return ""
}
