package storage

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/autopeer-io/otapolicy/internal/pkg/metrics"
	"github.com/autopeer-io/otapolicy/pkg/log"
	"github.com/autopeer-io/otapolicy/pkg/options"
)

var ErrBucketNotFound = errors.New("bundle bucket does not exist")

type minioProvider struct {
	client          *minio.Client
	bucketName      string
	downloadTimeout time.Duration
}

var _ Provider = (*minioProvider)(nil)

// NewMinIOProvider creates a Provider speaking the S3 protocol.
func NewMinIOProvider(opts *options.S3Options) (Provider, error) {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: opts.InsecureSkipVerify}

	minioOpts := &minio.Options{
		Creds:     credentials.NewStaticV4(opts.AccessKeyID, opts.SecretAccessKey, ""),
		Secure:    opts.UseSSL,
		Region:    opts.Region,
		Transport: transport,
	}

	client, err := minio.New(opts.Endpoint, minioOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to create minio client: %w", err)
	}

	return &minioProvider{
		client:          client,
		bucketName:      opts.BucketName,
		downloadTimeout: opts.DownloadTimeout,
	}, nil
}

// CheckBucket never creates the bucket; devices only read from it.
func (p *minioProvider) CheckBucket(ctx context.Context) error {
	exists, err := p.client.BucketExists(ctx, p.bucketName)
	if err != nil {
		return fmt.Errorf("failed to check bucket existence: %w", err)
	}
	if !exists {
		return fmt.Errorf("%w: %s", ErrBucketNotFound, p.bucketName)
	}
	return nil
}

func (p *minioProvider) Stat(ctx context.Context, objectKey string) (ObjectInfo, error) {
	info, err := p.client.StatObject(ctx, p.bucketName, objectKey, minio.StatObjectOptions{})
	if err != nil {
		return ObjectInfo{}, fmt.Errorf("failed to stat bundle %s: %w", objectKey, err)
	}
	return toObjectInfo(info), nil
}

func (p *minioProvider) Fetch(ctx context.Context, objectKey, dst string) (ObjectInfo, error) {
	if p.downloadTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.downloadTimeout)
		defer cancel()
	}

	start := time.Now()
	info, err := p.fetch(ctx, objectKey, dst)
	status := "success"
	if err != nil {
		status = "failed"
	}
	metrics.BundleDownloadSeconds.WithLabelValues(status).Observe(time.Since(start).Seconds())
	return info, err
}

func (p *minioProvider) fetch(ctx context.Context, objectKey, dst string) (ObjectInfo, error) {
	info, err := p.Stat(ctx, objectKey)
	if err != nil {
		return ObjectInfo{}, err
	}

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return ObjectInfo{}, err
	}

	log.Info("Downloading bundle", "bucket", p.bucketName, "key", objectKey, "size", info.Size)
	if err := p.client.FGetObject(ctx, p.bucketName, objectKey, dst, minio.GetObjectOptions{}); err != nil {
		_ = os.Remove(dst)
		return ObjectInfo{}, fmt.Errorf("failed to download bundle %s: %w", objectKey, err)
	}

	return info, nil
}

func toObjectInfo(info minio.ObjectInfo) ObjectInfo {
	return ObjectInfo{
		Key:          info.Key,
		Size:         info.Size,
		ETag:         info.ETag,
		LastModified: info.LastModified,
	}
}
