package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/rs/zerolog"
)

// ErrStorage marks every failure surfaced by a BlobStore.
var ErrStorage = errors.New("storage error")

type BlobStore interface {
	Put(ctx context.Context, r io.Reader, size int64, filename, contentType string) (string, error)
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
}

type minioStore struct {
	client *minio.Client
	bucket string
}

func NewMinIOStore(client *minio.Client, bucket string) BlobStore {
	return &minioStore{
		client: client,
		bucket: bucket,
	}
}

// EnsureBucket creates the bucket when it does not exist yet.
func EnsureBucket(ctx context.Context, client *minio.Client, bucket string) error {
	exists, err := client.BucketExists(ctx, bucket)
	if err != nil {
		return errors.Join(ErrStorage, err)
	}
	if exists {
		zerolog.Ctx(ctx).Info().Str("bucket", bucket).Msg("minio bucket already exists")
		return nil
	}
	if err := client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
		return errors.Join(ErrStorage, err)
	}
	zerolog.Ctx(ctx).Info().Str("bucket", bucket).Msg("created minio bucket")
	return nil
}

func (s *minioStore) Put(ctx context.Context, r io.Reader, size int64, filename, contentType string) (string, error) {
	key := ObjectName(filename)
	_, err := s.client.PutObject(ctx, s.bucket, key, r, size, minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Str("object", key).Msg("failed to upload object")
		return "", errors.Join(ErrStorage, fmt.Errorf("put %s: %w", key, err))
	}
	zerolog.Ctx(ctx).Info().Str("object", key).Int64("size", size).Msg("object uploaded")
	return key, nil
}

func (s *minioStore) Get(ctx context.Context, key string) ([]byte, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, errors.Join(ErrStorage, fmt.Errorf("get %s: %w", key, err))
	}
	defer obj.Close()

	var buf bytes.Buffer
	if _, err := io.Copy(&buf, obj); err != nil {
		return nil, errors.Join(ErrStorage, fmt.Errorf("read %s: %w", key, err))
	}
	return buf.Bytes(), nil
}

func (s *minioStore) Delete(ctx context.Context, key string) error {
	err := s.client.RemoveObject(ctx, s.bucket, key, minio.RemoveObjectOptions{})
	if err != nil {
		return errors.Join(ErrStorage, fmt.Errorf("remove %s: %w", key, err))
	}
	zerolog.Ctx(ctx).Info().Str("object", key).Msg("object deleted")
	return nil
}

// ObjectName is a random key that keeps the original file extension.
func ObjectName(filename string) string {
	return uuid.NewString() + strings.ToLower(filepath.Ext(filename))
}
