package storage

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/rs/zerolog/log"

	"certprint/internal/config"
)

const pdfContentType = "application/pdf"

// Uploader archives printed certificates under the run's trace id.
type Uploader interface {
	Upload(ctx context.Context, traceID string, files []string) error
}

// MinioUploader stores files in a MinIO bucket.
type MinioUploader struct {
	client *minio.Client
	bucket string
}

func NewMinioUploader(cfg config.Storage) (*MinioUploader, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}
	return &MinioUploader{client: client, bucket: cfg.Bucket}, nil
}

// EnsureBucket creates the bucket if it does not exist.
func (u *MinioUploader) EnsureBucket(ctx context.Context) error {
	exists, err := u.client.BucketExists(ctx, u.bucket)
	if err != nil {
		return fmt.Errorf("check bucket: %w", err)
	}
	if exists {
		return nil
	}
	if err := u.client.MakeBucket(ctx, u.bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("create bucket: %w", err)
	}
	return nil
}

func (u *MinioUploader) Upload(ctx context.Context, traceID string, files []string) error {
	for _, f := range files {
		name := ObjectName(traceID, f)
		if err := u.put(ctx, name, f); err != nil {
			return err
		}
		log.Info().Str("trace_id", traceID).Str("object", name).Msg("certificate archived")
	}
	return nil
}

func (u *MinioUploader) put(ctx context.Context, objectName, file string) error {
	f, err := os.Open(file) //nolint:gosec // printed file from the extraction dir
	if err != nil {
		return fmt.Errorf("open %s: %w", file, err)
	}
	defer f.Close()
	fi, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat %s: %w", file, err)
	}
	_, err = u.client.PutObject(ctx, u.bucket, objectName, f, fi.Size(), minio.PutObjectOptions{
		ContentType: pdfContentType,
	})
	if err != nil {
		return fmt.Errorf("upload %s: %w", objectName, err)
	}
	return nil
}

// ObjectName is the bucket key of a printed file.
func ObjectName(traceID, file string) string {
	return path.Join(traceID, filepath.Base(file))
}
