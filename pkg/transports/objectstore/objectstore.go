// Package objectstore provides a transport that writes batches as JSON
// objects to S3-compatible object storage via the MinIO client.
package objectstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"path"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/stacktake/stacktake/pkg/engine"
)

// Config holds object store transport configuration.
type Config struct {
	// Endpoint is the S3-compatible endpoint, host:port without scheme.
	Endpoint string

	// AccessKey and SecretKey are the static credentials.
	AccessKey string
	SecretKey string

	// UseSSL enables TLS for the endpoint connection.
	UseSSL bool

	// Region is the bucket region, used when creating the bucket.
	Region string

	// Bucket is the bucket batches are written to.
	Bucket string

	// Prefix is an optional key prefix inside the bucket.
	Prefix string
}

// Validate checks if the configuration is valid.
func (c Config) Validate() error {
	if c.Endpoint == "" {
		return fmt.Errorf("endpoint is required")
	}
	if c.AccessKey == "" || c.SecretKey == "" {
		return fmt.Errorf("access key and secret key are required")
	}
	if c.Bucket == "" {
		return fmt.Errorf("bucket is required")
	}
	return nil
}

// Transport writes each batch to <prefix>/<job-id>/batch-<seq>.json in the
// configured bucket.
type Transport struct {
	config Config
	client *minio.Client
}

// New creates an object store transport.
func New(cfg Config) (*Transport, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:     credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure:    cfg.UseSSL,
		Region:    cfg.Region,
		Transport: newHTTPTransport(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create object store client: %w", err)
	}

	return &Transport{config: cfg, client: client}, nil
}

// EnsureBucket creates the configured bucket if it does not exist.
func (t *Transport) EnsureBucket(ctx context.Context) error {
	exists, err := t.client.BucketExists(ctx, t.config.Bucket)
	if err != nil {
		return fmt.Errorf("bucket exists check: %w", err)
	}
	if exists {
		return nil
	}
	return t.client.MakeBucket(ctx, t.config.Bucket, minio.MakeBucketOptions{
		Region: t.config.Region,
	})
}

// Name implements engine.Transport.
func (t *Transport) Name() string { return "objectstore" }

// Send implements engine.Transport.
func (t *Transport) Send(ctx context.Context, batch *engine.Batch) error {
	data, err := json.Marshal(batch)
	if err != nil {
		return engine.NewPermanentError("failed to encode batch", err).
			WithCode(engine.ErrCodeDeliveryFailed).WithJob(batch.JobID)
	}

	key := path.Join(t.config.Prefix, batch.JobID, fmt.Sprintf("batch-%06d.json", batch.Seq))
	_, err = t.client.PutObject(ctx, t.config.Bucket, key,
		bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: "application/json"})
	if err != nil {
		return classifyStoreError(err, batch.JobID)
	}
	return nil
}

// classifyStoreError maps object store errors to engine error classes.
// SlowDown is the S3 throttling signal; access and bucket errors do not
// recover by retrying; everything else is treated as a network fault.
func classifyStoreError(err error, jobID string) error {
	resp := minio.ToErrorResponse(err)
	switch resp.Code {
	case "SlowDown", "RequestTimeout":
		return engine.NewThrottledError("object store throttled", err).
			WithCode(engine.ErrCodeRateLimited).WithJob(jobID)
	case "AccessDenied", "NoSuchBucket", "InvalidAccessKeyId", "SignatureDoesNotMatch":
		return engine.NewPermanentError("object store rejected batch", err).
			WithCode(engine.ErrCodeDeliveryFailed).WithJob(jobID)
	default:
		return engine.NewTransientError("object store write failed", err).
			WithCode(engine.ErrCodeDeliveryFailed).WithJob(jobID)
	}
}

func newHTTPTransport() *http.Transport {
	dialer := &net.Dialer{
		Timeout:   5 * time.Second,
		KeepAlive: 30 * time.Second,
	}
	return &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   5 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
}
