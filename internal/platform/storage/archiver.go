package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	gcs "cloud.google.com/go/storage"
)

// ObjectWriter abstracts the Cloud Storage write path so tests can capture
// archived payloads without a bucket.
type ObjectWriter interface {
	Write(ctx context.Context, object string, contentType string, data []byte) error
}

// BucketWriter writes objects into a single Cloud Storage bucket.
type BucketWriter struct {
	client *gcs.Client
	bucket string
}

// NewBucketWriter constructs a writer for the named bucket.
func NewBucketWriter(client *gcs.Client, bucket string) (*BucketWriter, error) {
	if client == nil {
		return nil, errors.New("storage writer: client is required")
	}
	if strings.TrimSpace(bucket) == "" {
		return nil, errors.New("storage writer: bucket is required")
	}
	return &BucketWriter{client: client, bucket: strings.TrimSpace(bucket)}, nil
}

// Write stores data under object, replacing any previous generation.
func (w *BucketWriter) Write(ctx context.Context, object string, contentType string, data []byte) error {
	if w == nil || w.client == nil {
		return errors.New("storage writer: client is not initialised")
	}
	writer := w.client.Bucket(w.bucket).Object(object).NewWriter(ctx)
	if contentType != "" {
		writer.ContentType = contentType
	}
	if _, err := writer.Write(data); err != nil {
		_ = writer.Close()
		return fmt.Errorf("storage writer: write %s: %w", object, err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("storage writer: close %s: %w", object, err)
	}
	return nil
}

// Archiver stores verified webhook payloads for later audit. Archiving sits
// off the hot path; callers treat failures as log-worthy, never as a reason
// to reject the webhook.
type Archiver struct {
	writer ObjectWriter
	clock  func() time.Time
}

// ArchiverOption customises archiver behaviour.
type ArchiverOption func(*Archiver)

// WithArchiverClock overrides the timestamp source used for object layout.
func WithArchiverClock(clock func() time.Time) ArchiverOption {
	return func(a *Archiver) {
		if clock != nil {
			a.clock = clock
		}
	}
}

// NewArchiver constructs an archiver on top of the supplied writer.
func NewArchiver(writer ObjectWriter, opts ...ArchiverOption) (*Archiver, error) {
	if writer == nil {
		return nil, errors.New("storage archiver: writer is required")
	}
	archiver := &Archiver{writer: writer, clock: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(archiver)
		}
	}
	return archiver, nil
}

// Archive stores the raw payload body for the given provider and event and
// returns the object path it was written to.
func (a *Archiver) Archive(ctx context.Context, provider, eventID string, body []byte) (string, error) {
	if a == nil || a.writer == nil {
		return "", errors.New("storage archiver: not initialised")
	}
	if len(body) == 0 {
		return "", errors.New("storage archiver: payload body is required")
	}
	path, err := BuildArchivePath(provider, eventID, a.clock().UTC())
	if err != nil {
		return "", err
	}
	if err := a.writer.Write(ctx, path, "application/json", body); err != nil {
		return "", err
	}
	return path, nil
}
