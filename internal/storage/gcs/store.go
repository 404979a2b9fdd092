// Package gcs publishes the snapshot as a single Google Cloud Storage object.
package gcs

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"cloud.google.com/go/storage"

	"github.com/JakeFAU/radar-snapshot/internal/snapshot"
)

// Config captures the parameters required to publish to GCS.
type Config struct {
	Bucket string `mapstructure:"bucket" yaml:"bucket"`
	Object string `mapstructure:"object" yaml:"object"`
}

// Store writes the latest snapshot to one object. GCS makes a new object
// generation visible only once the upload is finalized, so readers never see
// a partial image.
type Store struct {
	client *storage.Client
	bucket string
	object string
}

// New creates a GCS-backed snapshot store.
func New(client *storage.Client, cfg Config) (*Store, error) {
	if client == nil {
		return nil, fmt.Errorf("storage client is required")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket name is required")
	}
	if strings.TrimSpace(cfg.Object) == "" {
		return nil, fmt.Errorf("object name is required")
	}
	return &Store{
		client: client,
		bucket: cfg.Bucket,
		object: cfg.Object,
	}, nil
}

// URI returns the gs:// location of the snapshot.
func (s *Store) URI() string {
	return fmt.Sprintf("gs://%s/%s", s.bucket, s.object)
}

// Publish uploads data over the snapshot object.
func (s *Store) Publish(ctx context.Context, data []byte) error {
	if len(data) == 0 {
		return fmt.Errorf("refusing to publish empty snapshot")
	}
	writer := s.client.Bucket(s.bucket).Object(s.object).NewWriter(ctx)
	writer.ContentType = "image/png"
	writer.CacheControl = "no-cache"
	if _, err := io.Copy(writer, bytes.NewReader(data)); err != nil {
		closeErr := writer.Close()
		if closeErr != nil {
			return fmt.Errorf("copy object: %w (close writer: %v)", err, closeErr)
		}
		return fmt.Errorf("copy object: %w", err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("close writer: %w", err)
	}
	return nil
}

// Read downloads the snapshot object or returns snapshot.ErrNotFound.
func (s *Store) Read(ctx context.Context) (snapshot.Snapshot, error) {
	reader, err := s.client.Bucket(s.bucket).Object(s.object).NewReader(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return snapshot.Snapshot{}, snapshot.ErrNotFound
	}
	if err != nil {
		return snapshot.Snapshot{}, fmt.Errorf("open %s: %w", s.URI(), err)
	}
	defer func() { _ = reader.Close() }()

	data, err := io.ReadAll(reader)
	if err != nil {
		return snapshot.Snapshot{}, fmt.Errorf("read %s: %w", s.URI(), err)
	}
	return snapshot.Snapshot{Data: data, ModTime: reader.Attrs.LastModified}, nil
}
