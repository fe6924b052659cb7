// Package cloudtest wires integration tests to a local moto server so the
// S3 job store can be exercised without real AWS credentials.
//
// Tests that import it must carry the cloudintegration build tag and call
// SkipIfUnavailable first. Each test gets its own bucket from CreateBucket,
// so tests stay isolated without resetting shared state:
//
//	func TestStore_CloudIntegration(t *testing.T) {
//	    cloudtest.SkipIfUnavailable(t)
//	    bucket := cloudtest.CreateBucket(t, ctx)
//	    st, err := s3store.New(ctx, s3store.Config{
//	        Bucket:   bucket,
//	        Endpoint: cloudtest.Endpoint,
//	        ...
//	    })
//	    // exercise the store
//	}
package cloudtest

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

const (
	// DefaultEndpoint is where a locally started moto server listens.
	// Port 5555 keeps clear of macOS AirTunes on 5000.
	DefaultEndpoint = "http://localhost:5555"

	// DefaultRegion is the region handed to the SDK; moto accepts any.
	DefaultRegion = "us-east-1"

	// TestAccessKeyID and TestSecretAccessKey are placeholder static
	// credentials. Moto does not verify them.
	TestAccessKeyID     = "testing"
	TestSecretAccessKey = "testing"
)

// Endpoint and Region resolve once at init, overridable through
// MOTO_ENDPOINT and MOTO_REGION.
var (
	Endpoint = envOr("MOTO_ENDPOINT", DefaultEndpoint)
	Region   = envOr("MOTO_REGION", DefaultRegion)
)

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// Available reports whether the moto server answers on Endpoint.
func Available() bool {
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
	defer func() { _ = resp.Body.Close() }()
	return resp.StatusCode == http.StatusOK
}

// SkipIfUnavailable skips the test when no moto server is reachable, so
// tagged tests degrade to skips on machines without one.
func SkipIfUnavailable(t *testing.T) {
	t.Helper()
	if !Available() {
		t.Skipf("moto server not reachable at %s (start one with: moto_server -p 5555, or set MOTO_ENDPOINT)", Endpoint)
	}
}

// One SDK client serves the whole test binary.
var (
	clientOnce sync.Once
	client     *s3.Client
	clientErr  error
)

func sdkClient(t *testing.T) *s3.Client {
	t.Helper()
	clientOnce.Do(func() {
		cfg, err := config.LoadDefaultConfig(context.Background(),
			config.WithRegion(Region),
			config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
				TestAccessKeyID, TestSecretAccessKey, "")),
		)
		if err != nil {
			clientErr = fmt.Errorf("load sdk config: %w", err)
			return
		}
		client = s3.NewFromConfig(cfg, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(Endpoint)
			o.UsePathStyle = true
		})
	})
	if clientErr != nil {
		t.Fatalf("cannot build s3 client for moto: %v", clientErr)
	}
	return client
}

// CreateBucket makes a bucket named after the running test and removes it,
// contents included, when the test finishes.
func CreateBucket(t *testing.T, ctx context.Context) string {
	t.Helper()
	c := sdkClient(t)

	name := bucketName(t.Name())
	if _, err := c.CreateBucket(ctx, &s3.CreateBucketInput{Bucket: aws.String(name)}); err != nil {
		t.Fatalf("create bucket %s: %v", name, err)
	}
	t.Cleanup(func() { destroyBucket(t, context.Background(), name) })
	return name
}

// bucketName derives a valid, unique S3 bucket name from a test name.
// Bucket names must be lowercase, 63 chars max, and cannot contain the
// separators subtests introduce.
func bucketName(testName string) string {
	name := strings.Map(func(r rune) rune {
		switch {
		case r >= 'A' && r <= 'Z':
			return r + ('a' - 'A')
		case r == '/' || r == '_':
			return '-'
		default:
			return r
		}
	}, testName)
	if len(name) > 50 {
		name = name[:50]
	}
	return fmt.Sprintf("%s-%d", name, time.Now().UnixNano()%100000)
}

// destroyBucket drains every object and deletes the bucket. Failures are
// logged, not fatal, so cleanup of one bucket cannot fail another test.
func destroyBucket(t *testing.T, ctx context.Context, bucket string) {
	t.Helper()
	c := sdkClient(t)

	pages := s3.NewListObjectsV2Paginator(c, &s3.ListObjectsV2Input{Bucket: aws.String(bucket)})
	for pages.HasMorePages() {
		page, err := pages.NextPage(ctx)
		if err != nil {
			t.Logf("cleanup: list %s: %v", bucket, err)
			return
		}
		for _, obj := range page.Contents {
			if _, err := c.DeleteObject(ctx, &s3.DeleteObjectInput{
				Bucket: aws.String(bucket),
				Key:    obj.Key,
			}); err != nil {
				t.Logf("cleanup: delete %s/%s: %v", bucket, aws.ToString(obj.Key), err)
			}
		}
	}
	if _, err := c.DeleteBucket(ctx, &s3.DeleteBucketInput{Bucket: aws.String(bucket)}); err != nil {
		t.Logf("cleanup: delete bucket %s: %v", bucket, err)
	}
}

// PutObject writes raw bytes under the given key. Tests use it to plant
// foreign objects next to job records and check they are ignored.
func PutObject(t *testing.T, ctx context.Context, bucket, key string, content []byte) {
	t.Helper()
	c := sdkClient(t)

	_, err := c.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(content),
	})
	if err != nil {
		t.Fatalf("put %s/%s: %v", bucket, key, err)
	}
}

// GetObject reads an object back raw, bypassing the store, so tests can
// assert on the stored representation itself.
func GetObject(t *testing.T, ctx context.Context, bucket, key string) []byte {
	t.Helper()
	c := sdkClient(t)

	out, err := c.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		t.Fatalf("get %s/%s: %v", bucket, key, err)
	}
	defer func() { _ = out.Body.Close() }()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		t.Fatalf("read %s/%s: %v", bucket, key, err)
	}
	return data
}
