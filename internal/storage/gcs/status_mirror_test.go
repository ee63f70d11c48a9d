package gcs

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/training-status/internal/progress"
)

type fakeWriter struct {
	buf      bytes.Buffer
	writeErr error
	closeErr error
	closed   bool
	onClose  func(data []byte)
}

func (w *fakeWriter) Write(p []byte) (int, error) {
	if w.writeErr != nil {
		return 0, w.writeErr
	}
	return w.buf.Write(p)
}

func (w *fakeWriter) Close() error {
	w.closed = true
	if w.closeErr == nil && w.onClose != nil {
		w.onClose(w.buf.Bytes())
	}
	return w.closeErr
}

type fakeBucket struct {
	objects map[string][]byte
	next    *fakeWriter
	closed  bool
}

func (b *fakeBucket) open(_ context.Context, object string) io.WriteCloser {
	w := b.next
	if w == nil {
		w = &fakeWriter{}
	}
	b.next = nil
	w.onClose = func(data []byte) { b.objects[object] = append([]byte(nil), data...) }
	return w
}

func (b *fakeBucket) Close() error {
	b.closed = true
	return nil
}

func newFakeMirror(t *testing.T) (*StatusMirror, *fakeBucket) {
	t.Helper()
	bucket := &fakeBucket{objects: map[string][]byte{}}
	m, err := newMirror(Config{Bucket: "runs", Object: "/job-7/training_status.json"}, bucket, bucket.open)
	require.NoError(t, err)
	return m, bucket
}

func snapshot(iteration uint64) progress.Snapshot {
	return progress.Snapshot{
		CurrentIteration:   iteration,
		TotalIterations:    100,
		ProgressPercentage: progress.Percentage(iteration, 100),
		ExportPath:         "./output",
		Phase:              progress.PhaseTraining,
		LastUpdated:        time.Unix(1700000000, int64(iteration)).UTC(),
	}
}

func TestStatusMirrorPublishReplacesObject(t *testing.T) {
	t.Parallel()

	m, bucket := newFakeMirror(t)
	assert.Equal(t, "gs://runs/job-7/training_status.json", m.URI())

	require.NoError(t, m.Publish(context.Background(), snapshot(10)))
	require.NoError(t, m.Publish(context.Background(), snapshot(20)))

	var doc map[string]any
	require.NoError(t, json.Unmarshal(bucket.objects["job-7/training_status.json"], &doc))
	assert.InDelta(t, 20, doc["current_iteration"], 1e-9)
	assert.Len(t, bucket.objects, 1)
}

func TestStatusMirrorWriteFailureKeepsPreviousObject(t *testing.T) {
	t.Parallel()

	m, bucket := newFakeMirror(t)
	require.NoError(t, m.Publish(context.Background(), snapshot(10)))
	before := bucket.objects["job-7/training_status.json"]

	failing := &fakeWriter{writeErr: errors.New("quota exceeded"), closeErr: errors.New("canceled")}
	bucket.next = failing
	err := m.Publish(context.Background(), snapshot(20))
	require.ErrorContains(t, err, "quota exceeded")
	assert.True(t, failing.closed)
	assert.Equal(t, before, bucket.objects["job-7/training_status.json"])
}

func TestStatusMirrorFinalizeFailure(t *testing.T) {
	t.Parallel()

	m, bucket := newFakeMirror(t)
	bucket.next = &fakeWriter{closeErr: errors.New("precondition failed")}
	require.ErrorContains(t, m.Publish(context.Background(), snapshot(1)), "finalize")
}

func TestStatusMirrorCloseReleasesClient(t *testing.T) {
	t.Parallel()

	m, bucket := newFakeMirror(t)
	require.NoError(t, m.Close(context.Background()))
	assert.True(t, bucket.closed)
}

func TestNewMirrorValidation(t *testing.T) {
	t.Parallel()

	_, err := New(nil, Config{Bucket: "b", Object: "o"})
	assert.Error(t, err)
	_, err = newMirror(Config{Object: "o"}, nil, nil)
	assert.Error(t, err)
	_, err = newMirror(Config{Bucket: "b"}, nil, nil)
	assert.Error(t, err)
}
