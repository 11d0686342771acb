// Package storage mirrors finished job artifacts into S3-compatible object
// storage. The local filesystem stays authoritative; the mirror exists so
// artifacts survive host loss and can be served from elsewhere.
package storage

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// Default timeouts for S3 operations.
const (
	DefaultMetadataTimeout = 10 * time.Second // stat, delete, list
	DefaultDataTimeout     = 60 * time.Second // uploads
)

// S3Config holds connection and timeout settings for the artifact mirror.
type S3Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool

	// MetadataTimeout bounds stat/delete/list calls. Defaults to 10s if zero.
	MetadataTimeout time.Duration

	// DataTimeout bounds uploads. Defaults to 60s if zero.
	DataTimeout time.Duration
}

// S3Store implements job.ArtifactStore using MinIO / S3-compatible storage.
// Objects are keyed jobs/<job-id>/<artifact-name>.
type S3Store struct {
	client          *minio.Client
	bucket          string
	metadataTimeout time.Duration
	dataTimeout     time.Duration
}

// NewS3Store creates the store and auto-creates the bucket if missing.
func NewS3Store(ctx context.Context, cfg S3Config) (*S3Store, error) {
	metadataTimeout := cfg.MetadataTimeout
	if metadataTimeout == 0 {
		metadataTimeout = DefaultMetadataTimeout
	}
	dataTimeout := cfg.DataTimeout
	if dataTimeout == 0 {
		dataTimeout = DefaultDataTimeout
	}

	// Custom transport with explicit dial and TLS timeouts.
	// ResponseHeaderTimeout bounds the wait for the server to start
	// replying, not the full transfer.
	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   5 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   5 * time.Second,
		ResponseHeaderTimeout: metadataTimeout,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   100,
		IdleConnTimeout:       90 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:     credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure:    cfg.UseSSL,
		Transport: transport,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}

	s := &S3Store{
		client:          client,
		bucket:          cfg.Bucket,
		metadataTimeout: metadataTimeout,
		dataTimeout:     dataTimeout,
	}
	if err := s.ensureBucket(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *S3Store) withMetadataTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.metadataTimeout)
}

func (s *S3Store) withDataTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.dataTimeout)
}

func (s *S3Store) ensureBucket(ctx context.Context) error {
	ctx, cancel := s.withMetadataTimeout(ctx)
	defer cancel()

	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("check bucket %s: %w", s.bucket, err)
	}
	if !exists {
		if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{}); err != nil {
			return fmt.Errorf("create bucket %s: %w", s.bucket, err)
		}
	}
	return nil
}

func artifactKey(jobID, name string) string {
	return "jobs/" + jobID + "/" + name
}

// UploadFile mirrors one local artifact.
func (s *S3Store) UploadFile(ctx context.Context, jobID, name, localPath string) error {
	ctx, cancel := s.withDataTimeout(ctx)
	defer cancel()

	key := artifactKey(jobID, name)
	if _, err := s.client.FPutObject(ctx, s.bucket, key, localPath, minio.PutObjectOptions{
		ContentType: "application/octet-stream",
	}); err != nil {
		return fmt.Errorf("upload %s: %w", key, err)
	}
	return nil
}

// RemoveJob deletes every mirrored object under the job's prefix.
func (s *S3Store) RemoveJob(ctx context.Context, jobID string) error {
	ctx, cancel := s.withMetadataTimeout(ctx)
	defer cancel()

	prefix := "jobs/" + jobID + "/"
	for obj := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{
		Prefix:    prefix,
		Recursive: true,
	}) {
		if obj.Err != nil {
			return fmt.Errorf("list %s: %w", prefix, obj.Err)
		}
		if err := s.client.RemoveObject(ctx, s.bucket, obj.Key, minio.RemoveObjectOptions{}); err != nil {
			return fmt.Errorf("remove %s: %w", obj.Key, err)
		}
	}
	return nil
}
