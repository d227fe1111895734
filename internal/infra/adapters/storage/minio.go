package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"image-task-pipeline/internal/domain/ports/adapter"
	"image-task-pipeline/internal/infra/metrics"
)

var _ adapter.ObjectStorage = (*MinioStorage)(nil)

const (
	defaultMinioBucket = "images"
	defaultMinioRegion = "us-east-1"
)

type MinioOptions struct {
	Endpoint  string // host[:port]
	AccessKey string
	SecretKey string
	Bucket    string
	Region    string
	UseSSL    bool
	// PublicURL prefixes object keys in returned URLs. Empty means
	// {scheme}://{endpoint}/{bucket}.
	PublicURL string
}

// MinioStorage puts objects into an S3-compatible bucket. The bucket is
// created on first use when missing.
type MinioStorage struct {
	client    *minio.Client
	bucket    string
	region    string
	publicURL string
	now       func() time.Time

	mu    sync.Mutex
	ready bool
}

func NewMinioStorage(opts MinioOptions) (*MinioStorage, error) {
	if opts.Endpoint == "" || opts.AccessKey == "" || opts.SecretKey == "" {
		return nil, errors.New("storage: minio endpoint and credentials are required")
	}
	if opts.Bucket == "" {
		opts.Bucket = defaultMinioBucket
	}
	if opts.Region == "" {
		opts.Region = defaultMinioRegion
	}
	client, err := minio.New(opts.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(opts.AccessKey, opts.SecretKey, ""),
		Secure: opts.UseSSL,
		Region: opts.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("storage: minio client: %w", err)
	}

	public := strings.TrimRight(opts.PublicURL, "/")
	if public == "" {
		scheme := "http"
		if opts.UseSSL {
			scheme = "https"
		}
		public = fmt.Sprintf("%s://%s/%s", scheme, opts.Endpoint, opts.Bucket)
	}
	return &MinioStorage{
		client:    client,
		bucket:    opts.Bucket,
		region:    opts.Region,
		publicURL: public,
		now:       time.Now,
	}, nil
}

func (s *MinioStorage) Store(ctx context.Context, data []byte, ownerID, contentType string) (string, error) {
	url, err := s.put(ctx, data, ownerID, contentType, "")
	metrics.IncStorageUpload("image", err == nil)
	return url, err
}

func (s *MinioStorage) StoreThumbnail(ctx context.Context, data []byte, ownerID, contentType string) (string, error) {
	url, err := s.put(ctx, data, ownerID, contentType, "thumb_")
	metrics.IncStorageUpload("thumbnail", err == nil)
	return url, err
}

// Ping checks the bucket is reachable; used by /health.
func (s *MinioStorage) Ping(ctx context.Context) error {
	_, err := s.client.BucketExists(ctx, s.bucket)
	return err
}

func (s *MinioStorage) put(ctx context.Context, data []byte, ownerID, contentType, prefix string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if len(data) == 0 {
		return "", errEmptyObject
	}
	key, err := objectKey(s.now(), ownerID, contentType, prefix)
	if err != nil {
		return "", err
	}
	if contentType == "" {
		contentType = "image/png"
	}
	if err := s.ensureBucket(ctx); err != nil {
		return "", err
	}

	_, err = s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return "", fmt.Errorf("storage: put %s: %w", key, err)
	}
	return s.publicURL + "/" + key, nil
}

// ensureBucket runs until it succeeds once; failures are retried on the next put.
func (s *MinioStorage) ensureBucket(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ready {
		return nil
	}
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("storage: bucket %s: %w", s.bucket, err)
	}
	if !exists {
		err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{Region: s.region})
		if err != nil && minio.ToErrorResponse(err).Code != "BucketAlreadyOwnedByYou" {
			return fmt.Errorf("storage: create bucket %s: %w", s.bucket, err)
		}
	}
	s.ready = true
	return nil
}
