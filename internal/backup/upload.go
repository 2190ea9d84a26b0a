package backup

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"
)

// Exporter produces the logical export uploaded to the cloud.
type Exporter interface {
	ExportJSON(ctx context.Context) ([]byte, error)
}

// Uploader stores a named object in cloud storage.
type Uploader interface {
	Upload(ctx context.Context, name string, data []byte) error
}

// GCSConfig configures the Google Cloud Storage uploader.
type GCSConfig struct {
	Bucket string `yaml:"bucket"`
	Prefix string `yaml:"prefix"`
	// CredentialsFile is a service account key; empty uses application
	// default credentials.
	CredentialsFile string `yaml:"credentials_file"`
}

// Configured reports whether a bucket is set.
func (c GCSConfig) Configured() bool {
	return c.Bucket != ""
}

// GCSUploader uploads backups to a GCS bucket.
type GCSUploader struct {
	client *storage.Client
	bucket string
	prefix string
}

// NewGCSUploader creates a client for cfg.
func NewGCSUploader(ctx context.Context, cfg GCSConfig) (*GCSUploader, error) {
	if !cfg.Configured() {
		return nil, fmt.Errorf("gcs bucket is not configured")
	}

	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		if _, err := os.Stat(cfg.CredentialsFile); os.IsNotExist(err) {
			return nil, fmt.Errorf("service account key not found at path: %s", cfg.CredentialsFile)
		}
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}

	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create GCS storage client: %w", err)
	}
	return &GCSUploader{client: client, bucket: cfg.Bucket, prefix: cfg.Prefix}, nil
}

// Upload writes data to gs://bucket/prefix/name.
func (u *GCSUploader) Upload(ctx context.Context, name string, data []byte) error {
	objectName := path.Join(u.prefix, name)
	w := u.client.Bucket(u.bucket).Object(objectName).NewWriter(ctx)
	w.ContentType = "application/json"
	w.CacheControl = "no-cache, no-store, must-revalidate"

	if _, err := io.Copy(w, bytes.NewReader(data)); err != nil {
		_ = w.Close()
		return fmt.Errorf("write gs://%s/%s: %w", u.bucket, objectName, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("close GCS writer for gs://%s/%s: %w", u.bucket, objectName, err)
	}
	return nil
}

// Close releases the client.
func (u *GCSUploader) Close() error {
	return u.client.Close()
}
