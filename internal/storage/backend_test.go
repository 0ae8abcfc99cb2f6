package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/akidb/akidb/internal/metadata"
)

func openTestBackend(t *testing.T, opts Options) *Backend {
	t.Helper()
	b, err := Open("c1", opts, nil)
	require.NoError(t, err)
	t.Cleanup(func() { b.Close() })
	return b
}

func testOptions(dir string) Options {
	opts := DefaultOptions(dir)
	opts.HotBytes = 1 << 30 // large, so Put never auto-seals unless asked
	opts.HotAge = time.Hour
	return opts
}

func TestPutAndGet_HotTier(t *testing.T) {
	b := openTestBackend(t, testOptions(t.TempDir()))

	require.NoError(t, b.Put(Record{ID: "d1", Vector: []float32{1, 0, 0}, Payload: []byte("p1")}))

	rec, ok, err := b.Get("d1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("p1"), rec.Payload)
}

func TestSeal_MovesRecordsToWarmAndUploadsToCold(t *testing.T) {
	b := openTestBackend(t, testOptions(t.TempDir()))

	require.NoError(t, b.Put(Record{ID: "d1", Vector: []float32{1, 0, 0}, Payload: []byte("p1")}))
	require.NoError(t, b.Seal())
	b.WaitForUploads()

	rec, ok, err := b.Get("d1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("p1"), rec.Payload)
	assert.Equal(t, 0, b.DLQDepth())
}

func TestDelete_RemovesRecordFromHot(t *testing.T) {
	b := openTestBackend(t, testOptions(t.TempDir()))
	require.NoError(t, b.Put(Record{ID: "d1", Vector: []float32{1}, Payload: []byte("p1")}))

	b.Delete("d1")

	_, ok, err := b.Get("d1")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.False(t, b.Contains("d1"))
}

func TestAutoSeal_TriggersOnHotBytesThreshold(t *testing.T) {
	opts := testOptions(t.TempDir())
	opts.HotBytes = 1 // anything lands over threshold immediately
	b := openTestBackend(t, opts)

	require.NoError(t, b.Put(Record{ID: "d1", Vector: []float32{1, 2, 3, 4}, Payload: []byte("payload")}))
	b.WaitForUploads()

	rec, ok, err := b.Get("d1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("payload"), rec.Payload)
}

func TestWaitForUploads_ReturnsWhenQueueEmpty(t *testing.T) {
	b := openTestBackend(t, testOptions(t.TempDir()))
	done := make(chan struct{})
	go func() {
		b.WaitForUploads()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("WaitForUploads did not return for an empty queue")
	}
}

func TestReopen_WarmSegmentSurvivesRestart(t *testing.T) {
	dir := t.TempDir()
	opts := testOptions(dir)
	meta, err := metadata.Open(filepath.Join(dir, "catalog.db"))
	require.NoError(t, err)
	t.Cleanup(func() { meta.Close() })

	b1, err := Open("c1", opts, meta)
	require.NoError(t, err)
	require.NoError(t, b1.Put(Record{ID: "d1", Vector: []float32{1}, Payload: []byte("p1")}))
	require.NoError(t, b1.Seal())
	b1.WaitForUploads()
	require.NoError(t, b1.Close())

	// A fresh backend's in-memory tier/segment maps start empty; the read
	// path must fall back to the metadata catalog's segment index to
	// resolve d1 to its sealed segment (cold by now, since the upload
	// finished) rather than reporting it missing.
	b2, err := Open("c1", opts, meta)
	require.NoError(t, err)
	defer b2.Close()

	rec, ok, err := b2.Get("d1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("p1"), rec.Payload)
}

func TestSeal_KeepsMetadataSegmentLocationCurrent(t *testing.T) {
	dir := t.TempDir()
	meta, err := metadata.Open(filepath.Join(dir, "catalog.db"))
	require.NoError(t, err)
	t.Cleanup(func() { meta.Close() })

	b, err := Open("c1", testOptions(dir), meta)
	require.NoError(t, err)
	t.Cleanup(func() { b.Close() })

	require.NoError(t, b.Put(Record{ID: "d1", Vector: []float32{1}, Payload: []byte("p1"), Sequence: 1}))
	require.NoError(t, b.Seal())

	warmLoc, ok, err := meta.GetSegmentLocation(context.Background(), "c1", "d1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, TierWarm, warmLoc.Tier)

	b.WaitForUploads()

	coldLoc, ok, err := meta.GetSegmentLocation(context.Background(), "c1", "d1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, TierCold, coldLoc.Tier)
	assert.Equal(t, warmLoc.SegmentID, coldLoc.SegmentID)
}

func TestOpen_SecondOwnerRejected(t *testing.T) {
	dir := t.TempDir()
	opts := testOptions(dir)

	b1, err := Open("c1", opts, nil)
	require.NoError(t, err)
	defer b1.Close()

	_, err = Open("c1", opts, nil)
	require.Error(t, err)
}
