package services

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"fileconvert/config"
	"fileconvert/models"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// MinioStorage is the storage gateway for MinIO and other S3-compatible servers.
type MinioStorage struct {
	client *minio.Client
}

func NewMinioStorage(cfg config.StorageConfig) (*MinioStorage, error) {
	client, err := minio.New(cfg.MinioEndpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.MinioAccessKey, cfg.MinioSecretKey, ""),
		Secure: cfg.MinioUseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create minio client: %w", err)
	}
	return &MinioStorage{client: client}, nil
}

// EnsureBuckets creates any bucket that does not exist yet.
func (m *MinioStorage) EnsureBuckets(ctx context.Context, buckets ...string) error {
	for _, bucket := range buckets {
		exists, err := m.client.BucketExists(ctx, bucket)
		if err != nil {
			return fmt.Errorf("failed to check if bucket exists: %w", err)
		}
		if exists {
			continue
		}
		if err := m.client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
			return fmt.Errorf("failed to create bucket: %w", err)
		}
	}
	return nil
}

func (m *MinioStorage) Download(ctx context.Context, bucket, path string) ([]byte, error) {
	obj, err := m.client.GetObject(ctx, bucket, path, minio.GetObjectOptions{})
	if err != nil {
		return nil, storageErr("download", bucket, path, err)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, storageErr("download", bucket, path, minioNotFound(err))
	}
	return data, nil
}

func (m *MinioStorage) Upload(ctx context.Context, bucket, path string, data []byte, contentType string) (string, error) {
	_, err := m.client.PutObject(ctx, bucket, path, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return "", storageErr("upload", bucket, path, err)
	}
	return models.BlobRef{Bucket: bucket, Path: path}.String(), nil
}

func (m *MinioStorage) Delete(ctx context.Context, bucket, path string) error {
	if err := m.client.RemoveObject(ctx, bucket, path, minio.RemoveObjectOptions{}); err != nil {
		return storageErr("delete", bucket, path, minioNotFound(err))
	}
	return nil
}

func minioNotFound(err error) error {
	if minio.ToErrorResponse(err).Code == "NoSuchKey" {
		return errors.Join(ErrObjectNotFound, err)
	}
	return err
}
