// Package gcs mirrors the training status document to Google Cloud Storage
// so runs on remote machines can be followed from a bucket.
package gcs

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"cloud.google.com/go/storage"

	"github.com/JakeFAU/training-status/internal/progress"
)

// Config captures the bucket and object the status is mirrored to.
type Config struct {
	Bucket string
	Object string
}

// openWriter returns a writer for one upload of object.
type openWriter func(ctx context.Context, object string) io.WriteCloser

// StatusMirror overwrites a single object with each published snapshot.
// Cloud Storage replaces objects atomically, so readers never observe a
// partial document.
type StatusMirror struct {
	open   openWriter
	closer io.Closer
	bucket string
	object string
}

var _ progress.Sink = (*StatusMirror)(nil)

// New creates a mirror writing through client. The mirror owns client and
// closes it on Close.
func New(client *storage.Client, cfg Config) (*StatusMirror, error) {
	if client == nil {
		return nil, fmt.Errorf("storage client is required")
	}
	bucket := client.Bucket(cfg.Bucket)
	return newMirror(cfg, client, func(ctx context.Context, object string) io.WriteCloser {
		w := bucket.Object(object).NewWriter(ctx)
		w.ContentType = "application/json"
		w.CacheControl = "no-store"
		return w
	})
}

func newMirror(cfg Config, closer io.Closer, open openWriter) (*StatusMirror, error) {
	if strings.TrimSpace(cfg.Bucket) == "" {
		return nil, fmt.Errorf("bucket name is required")
	}
	if strings.TrimSpace(cfg.Object) == "" {
		return nil, fmt.Errorf("object name is required")
	}
	return &StatusMirror{
		open:   open,
		closer: closer,
		bucket: cfg.Bucket,
		object: strings.TrimPrefix(cfg.Object, "/"),
	}, nil
}

// URI returns the gs:// location of the mirrored document.
func (m *StatusMirror) URI() string {
	return fmt.Sprintf("gs://%s/%s", m.bucket, m.object)
}

// Publish uploads snap, replacing the previous object.
func (m *StatusMirror) Publish(ctx context.Context, snap progress.Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("%w: %w", progress.ErrEncode, err)
	}
	// Canceling the upload context aborts the write and keeps the old object.
	uploadCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	writer := m.open(uploadCtx, m.object)
	if _, err := writer.Write(data); err != nil {
		cancel()
		closeErr := writer.Close()
		if closeErr != nil {
			return fmt.Errorf("write %s: %w (close writer: %v)", m.URI(), err, closeErr)
		}
		return fmt.Errorf("write %s: %w", m.URI(), err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("finalize %s: %w", m.URI(), err)
	}
	return nil
}

// Close releases the storage client.
func (m *StatusMirror) Close(context.Context) error {
	if m == nil || m.closer == nil {
		return nil
	}
	if err := m.closer.Close(); err != nil {
		return fmt.Errorf("close storage client: %w", err)
	}
	return nil
}
