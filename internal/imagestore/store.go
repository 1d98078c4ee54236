// Package imagestore keeps rendered certificate images either inline or in
// an S3-compatible bucket.
package imagestore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/mentorcertai/cert-issuer/internal/render"
)

// Store persists a certificate PNG and returns the value to keep in the
// certificate's image field.
type Store interface {
	Put(ctx context.Context, certificateID int64, png []byte) (string, error)
}

// Inline stores the image as a data URI in the record itself.
type Inline struct{}

func (Inline) Put(_ context.Context, _ int64, png []byte) (string, error) {
	return render.EncodeDataURI(png), nil
}

// Config holds the bucket connection settings.
type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
	// PublicURL, when set, is used as the base of stored image URLs instead
	// of presigned links.
	PublicURL string
	URLExpiry time.Duration
}

// Minio uploads images to a MinIO or S3 bucket.
type Minio struct {
	client *minio.Client
	cfg    Config
}

// NewMinio connects to the bucket, creating it if it does not exist.
func NewMinio(ctx context.Context, cfg Config) (*Minio, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create minio client: %w", err)
	}

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("failed to check bucket %s: %w", cfg.Bucket, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("failed to create bucket %s: %w", cfg.Bucket, err)
		}
		slog.Info("created image bucket", "bucket", cfg.Bucket)
	}

	if cfg.URLExpiry == 0 {
		cfg.URLExpiry = 7 * 24 * time.Hour
	}
	return &Minio{client: client, cfg: cfg}, nil
}

// ObjectName is the key of a certificate image in the bucket.
func ObjectName(certificateID int64) string {
	return fmt.Sprintf("certificates/%d.png", certificateID)
}

func (m *Minio) Put(ctx context.Context, certificateID int64, png []byte) (string, error) {
	name := ObjectName(certificateID)
	_, err := m.client.PutObject(ctx, m.cfg.Bucket, name, bytes.NewReader(png), int64(len(png)), minio.PutObjectOptions{
		ContentType: "image/png",
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload %s: %w", name, err)
	}

	if m.cfg.PublicURL != "" {
		return PublicObjectURL(m.cfg.PublicURL, m.cfg.Bucket, name), nil
	}
	u, err := m.client.PresignedGetObject(ctx, m.cfg.Bucket, name, m.cfg.URLExpiry, url.Values{})
	if err != nil {
		return "", fmt.Errorf("failed to presign %s: %w", name, err)
	}
	return u.String(), nil
}

// Get downloads a stored image.
func (m *Minio) Get(ctx context.Context, certificateID int64) ([]byte, error) {
	obj, err := m.client.GetObject(ctx, m.cfg.Bucket, ObjectName(certificateID), minio.GetObjectOptions{})
	if err != nil {
		return nil, err
	}
	defer obj.Close()
	return io.ReadAll(obj)
}

// PublicObjectURL joins a public base URL, bucket and object name.
func PublicObjectURL(base, bucket, name string) string {
	return strings.TrimRight(base, "/") + "/" + bucket + "/" + name
}
