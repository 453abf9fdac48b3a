// Package upload stores submission photos in object storage and hands back
// stable public URLs. The rest of the system only ever sees URLs.
package upload

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"fieldsurvey/api/internal/util"
)

// MaxImageSize caps uploaded photos at 5 MB.
const MaxImageSize = 5 << 20

// allowedImageTypes maps accepted content types to the stored extension.
var allowedImageTypes = map[string]string{
	"image/jpeg": ".jpg",
	"image/jpg":  ".jpg",
	"image/png":  ".png",
	"image/webp": ".webp",
}

// ErrUnsupportedType is returned for content types outside the image allowlist.
var ErrUnsupportedType = fmt.Errorf("unsupported image type")

// Uploader stores image files and returns their public URL.
type Uploader interface {
	UploadImage(ctx context.Context, kind, contentType string, size int64, body io.Reader) (string, error)
}

// MinioUploader stores images in a MinIO (or S3-compatible) bucket.
type MinioUploader struct {
	client    *minio.Client
	bucket    string
	publicURL string
}

type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
	PublicURL string
}

func NewMinioUploader(cfg Config) (*MinioUploader, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("minio client: %w", err)
	}
	return &MinioUploader{
		client:    client,
		bucket:    cfg.Bucket,
		publicURL: strings.TrimRight(cfg.PublicURL, "/"),
	}, nil
}

// EnsureBucket creates the bucket if it does not exist yet.
func (u *MinioUploader) EnsureBucket(ctx context.Context) error {
	exists, err := u.client.BucketExists(ctx, u.bucket)
	if err != nil {
		return fmt.Errorf("check bucket: %w", err)
	}
	if exists {
		return nil
	}
	if err := u.client.MakeBucket(ctx, u.bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("make bucket: %w", err)
	}
	return nil
}

// UploadImage validates the content type and size, stores the object under a
// date-partitioned random key, and returns its public URL. kind partitions
// objects by purpose ("invoice" or "customer").
func (u *MinioUploader) UploadImage(ctx context.Context, kind, contentType string, size int64, body io.Reader) (string, error) {
	extension, ok := allowedImageTypes[strings.ToLower(strings.TrimSpace(contentType))]
	if !ok {
		return "", ErrUnsupportedType
	}
	if size <= 0 || size > MaxImageSize {
		return "", fmt.Errorf("image size %d out of range", size)
	}

	key := fmt.Sprintf("%s/%s/%s%s", kind, time.Now().Format("2006/01/02"), util.NewID(""), extension)

	_, err := u.client.PutObject(ctx, u.bucket, key, body, size, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return "", fmt.Errorf("put object: %w", err)
	}

	return u.publicURL + "/" + key, nil
}
