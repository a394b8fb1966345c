package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"docvault/internal/config"
	"docvault/internal/model"
)

// minioBackend implements Backend over any S3-compatible endpoint (MinIO,
// AWS S3). It is safe for concurrent use by multiple goroutines.
type minioBackend struct {
	client *minio.Client
	kind   model.BackendKind
	bucket string
	region string
	host   string
}

// newMinIO creates an S3-compatible backend client. It validates
// connectivity and ensures the bucket exists (creates it if missing).
func newMinIO(kind model.BackendKind, cfg config.StorageConfig) (Backend, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("storage endpoint is required")
	}
	if cfg.AccessKey == "" || cfg.SecretKey == "" {
		return nil, fmt.Errorf("storage credentials are required")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("storage bucket is required")
	}

	cli, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("create storage client: %w", err)
	}

	b := &minioBackend{
		client: cli,
		kind:   kind,
		bucket: cfg.Bucket,
		region: cfg.Region,
		host:   cfg.Endpoint,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	exists, err := cli.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket existence: %w", err)
	}
	if !exists {
		if err := cli.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{Region: cfg.Region}); err != nil {
			return nil, fmt.Errorf("create bucket: %w", err)
		}
	}

	return b, nil
}

// Put uploads an object under the tenant-prefixed key using streaming I/O.
func (b *minioBackend) Put(ctx context.Context, in PutInput) (model.StorageLocation, error) {
	key := ObjectKey(in.TenantID, in.DocumentID, in.UploadID)

	_, err := b.client.PutObject(ctx, b.bucket, key, in.Body, in.Size, minio.PutObjectOptions{
		ContentType:  in.ContentType,
		UserMetadata: in.Metadata,
	})
	if err != nil {
		return model.StorageLocation{}, mapMinioErr(err)
	}

	return model.StorageLocation{
		Backend:  b.kind,
		Bucket:   b.bucket,
		Key:      key,
		Region:   b.region,
		Endpoint: b.host,
	}, nil
}

// Get retrieves an object's content as a ReadCloser. A Stat round-trip
// surfaces missing keys eagerly instead of on first read.
func (b *minioBackend) Get(ctx context.Context, loc model.StorageLocation) (io.ReadCloser, error) {
	obj, err := b.client.GetObject(ctx, loc.Bucket, loc.Key, minio.GetObjectOptions{})
	if err != nil {
		return nil, mapMinioErr(err)
	}
	if _, err := obj.Stat(); err != nil {
		obj.Close()
		return nil, mapMinioErr(err)
	}
	return obj, nil
}

// Delete removes an object. Deleting a missing key is reported as
// model.ErrObjectNotFound so metadata/storage divergence is never silent.
func (b *minioBackend) Delete(ctx context.Context, loc model.StorageLocation) error {
	ok, err := b.Exists(ctx, loc)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("delete %s: %w", loc.Key, model.ErrObjectNotFound)
	}
	if err := b.client.RemoveObject(ctx, loc.Bucket, loc.Key, minio.RemoveObjectOptions{}); err != nil {
		return mapMinioErr(err)
	}
	return nil
}

// Exists reports whether the object is present.
func (b *minioBackend) Exists(ctx context.Context, loc model.StorageLocation) (bool, error) {
	_, err := b.client.StatObject(ctx, loc.Bucket, loc.Key, minio.StatObjectOptions{})
	if err != nil {
		mapped := mapMinioErr(err)
		if errors.Is(mapped, model.ErrObjectNotFound) {
			return false, nil
		}
		return false, mapped
	}
	return true, nil
}

// mapMinioErr translates backend responses onto the error taxonomy.
func mapMinioErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %v", model.ErrBackendUnavailable, err)
	}

	resp := minio.ToErrorResponse(err)
	switch resp.Code {
	case "NoSuchKey", "NoSuchBucket", "NotFound":
		return fmt.Errorf("%w: %v", model.ErrObjectNotFound, err)
	case "QuotaExceeded", "EntityTooLarge":
		return fmt.Errorf("%w: %v", model.ErrQuotaExceeded, err)
	case "SlowDown", "ServiceUnavailable", "InternalError", "":
		// Empty code means the request never produced an S3 response
		// (network fault); treat as transient.
		return fmt.Errorf("%w: %v", model.ErrBackendUnavailable, err)
	default:
		return fmt.Errorf("%w: %v", model.ErrBackendUnavailable, err)
	}
}
