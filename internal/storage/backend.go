// Package storage implements AkiDB's tiered storage backend: an in-memory
// hot tier for newly written documents, a bbolt-backed warm tier of sealed
// segments on local disk, and a cold tier emulating an S3-compatible
// object store on the local filesystem. Uploads to cold storage run
// through a bounded async queue guarded by a circuit breaker and backed by
// a dead-letter queue for terminally failed attempts.
package storage

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"
	lru "github.com/hashicorp/golang-lru/v2"
	"go.etcd.io/bbolt"

	akierrors "github.com/akidb/akidb/internal/errors"
	"github.com/akidb/akidb/internal/metadata"
)

// Tier names where a document's payload currently resides.
const (
	TierHot  = "hot"
	TierWarm = "warm"
	TierCold = "cold"
)

// Record is one document's storable payload: its vector and opaque
// metadata payload bytes, identified by id and ordered by the WAL
// sequence number that produced it.
type Record struct {
	ID       string
	Vector   []float32
	Payload  []byte
	Sequence uint64
}

// Options configures a Backend.
type Options struct {
	DataDir string

	HotBytes int64
	HotAge   time.Duration

	UploadMaxAttempts      int
	UploadInitialBackoff   time.Duration
	UploadJitter           bool
	CircuitFailureThreshold int
	CircuitResetTimeout     time.Duration
	CircuitRateThreshold    float64
	CircuitRateWindow       time.Duration
	CircuitMinRateSamples   int
	DLQMaxDepth             int

	ColdCacheSize int
}

// DefaultOptions mirrors the config package's storage defaults.
func DefaultOptions(dataDir string) Options {
	return Options{
		DataDir:                 dataDir,
		HotBytes:                64 << 20,
		HotAge:                  5 * time.Minute,
		UploadMaxAttempts:       5,
		UploadInitialBackoff:    time.Second,
		UploadJitter:            true,
		CircuitFailureThreshold: 5,
		CircuitResetTimeout:     30 * time.Second,
		CircuitRateThreshold:    0.5,
		CircuitRateWindow:       30 * time.Second,
		CircuitMinRateSamples:   10,
		DLQMaxDepth:             1000,
		ColdCacheSize:           256,
	}
}

// DeadLetter is a terminally failed upload, kept for operator inspection.
type DeadLetter struct {
	SegmentID string
	Err       string
	FailedAt  time.Time
}

// Backend is one collection's tiered storage. Each collection owns one
// Backend, locked for exclusive mutation across process restarts by an
// advisory file lock on its data directory.
type Backend struct {
	collectionID string
	dir          string

	meta *metadata.Store

	flock *flock.Flock

	mu        sync.RWMutex
	hot       map[string]Record
	hotSize   int64
	hotOldest time.Time
	tier      map[string]string // id -> current tier, in-process fast path
	segment   map[string]string // id -> owning segment id, in-process fast path

	warm *bbolt.DB

	coldDir string
	cache   *lru.Cache[string, []byte]

	breaker *akierrors.CircuitBreaker
	retry   akierrors.RetryConfig

	uploadQueue chan uploadJob
	wg          sync.WaitGroup

	pendingMu   sync.Mutex
	pendingCond *sync.Cond
	pending     int

	dlqMu sync.Mutex
	dlq   []DeadLetter

	closed chan struct{}
	opts   Options
}

type uploadJob struct {
	segmentID string
	records   []Record
}

const warmBucket = "segments"

// Open opens (creating if absent) the backend's on-disk state for one
// collection under opts.DataDir/<collectionID>, taking an advisory lock
// that guarantees this process is the collection's sole mutator. meta is
// the durable segment index the read path falls back to whenever the
// in-process tier/segment maps don't know an id, e.g. right after a
// restart before the WAL replay that would otherwise repopulate them.
func Open(collectionID string, opts Options, meta *metadata.Store) (*Backend, error) {
	dir := filepath.Join(opts.DataDir, collectionID)
	warmDir := filepath.Join(dir, "segments", "warm")
	coldDir := filepath.Join(dir, "segments", "cold")
	for _, d := range []string{dir, warmDir, coldDir} {
		if err := os.MkdirAll(d, 0o755); err != nil {
			return nil, akierrors.Wrap(akierrors.Internal, "storage: mkdir", err)
		}
	}

	fl := flock.New(filepath.Join(dir, ".lock"))
	ok, err := fl.TryLock()
	if err != nil {
		return nil, akierrors.Wrap(akierrors.Internal, "storage: acquire lock", err)
	}
	if !ok {
		return nil, akierrors.New(akierrors.StorageUnavailable, "storage: collection already owned by another process").
			WithDetail("collection", collectionID)
	}

	warm, err := bbolt.Open(filepath.Join(warmDir, "segments.db"), 0o644, &bbolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		fl.Unlock()
		return nil, akierrors.Wrap(akierrors.Internal, "storage: open warm store", err)
	}
	if err := warm.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(warmBucket))
		return err
	}); err != nil {
		warm.Close()
		fl.Unlock()
		return nil, akierrors.Wrap(akierrors.Internal, "storage: init warm bucket", err)
	}

	cache, err := lru.New[string, []byte](max(opts.ColdCacheSize, 1))
	if err != nil {
		warm.Close()
		fl.Unlock()
		return nil, akierrors.Wrap(akierrors.Internal, "storage: init cold cache", err)
	}

	b := &Backend{
		collectionID: collectionID,
		dir:          dir,
		meta:         meta,
		flock:        fl,
		hot:          make(map[string]Record),
		tier:         make(map[string]string),
		segment:      make(map[string]string),
		warm:         warm,
		coldDir:      coldDir,
		cache:        cache,
		breaker: akierrors.NewCircuitBreaker("storage:"+collectionID,
			akierrors.WithMaxFailures(max(opts.CircuitFailureThreshold, 1)),
			akierrors.WithResetTimeout(opts.CircuitResetTimeout),
			akierrors.WithFailureRateThreshold(opts.CircuitRateThreshold),
			circuitRateWindowOpt(opts),
			circuitMinRateSamplesOpt(opts)),
		retry: akierrors.RetryConfig{
			MaxRetries:   max(opts.UploadMaxAttempts-1, 0),
			InitialDelay: opts.UploadInitialBackoff,
			MaxDelay:     30 * time.Second,
			Multiplier:   2,
			Jitter:       opts.UploadJitter,
		},
		uploadQueue: make(chan uploadJob, 256),
		closed:      make(chan struct{}),
		opts:        opts,
	}
	b.pendingCond = sync.NewCond(&b.pendingMu)

	b.wg.Add(1)
	go b.uploadWorker()

	return b, nil
}

// circuitRateWindowOpt preserves the breaker's built-in default window
// when the caller leaves CircuitRateWindow unset rather than collapsing
// it to a zero-length window.
func circuitRateWindowOpt(opts Options) akierrors.CircuitBreakerOption {
	if opts.CircuitRateWindow <= 0 {
		return func(*akierrors.CircuitBreaker) {}
	}
	return akierrors.WithRateWindow(opts.CircuitRateWindow)
}

// circuitMinRateSamplesOpt mirrors circuitRateWindowOpt for the minimum
// sample count.
func circuitMinRateSamplesOpt(opts Options) akierrors.CircuitBreakerOption {
	if opts.CircuitMinRateSamples <= 0 {
		return func(*akierrors.CircuitBreaker) {}
	}
	return akierrors.WithMinRateSamples(opts.CircuitMinRateSamples)
}

// upsertSegmentLocation keeps the metadata catalog's segment index current
// for one record's tier transition. A failure here is logged, not
// propagated: the in-process tier/segment maps already serve this
// process's reads correctly, so a catalog write hiccup shouldn't fail the
// seal or upload its bookkeeping for.
func (b *Backend) upsertSegmentLocation(id, segmentID, tier string, sequence uint64) {
	if b.meta == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := b.meta.UpsertSegmentLocation(ctx, b.collectionID, id, segmentID, tier, sequence); err != nil {
		slog.Warn("storage: upsert segment location failed", "collection", b.collectionID, "document", id, "tier", tier, "error", err)
	}
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// Put lands a record in the hot tier, sealing the hot arena into a warm
// segment (and enqueueing its cold upload) if the hot tier has grown
// beyond its size or age threshold.
func (b *Backend) Put(rec Record) error {
	b.mu.Lock()
	if len(b.hot) == 0 {
		b.hotOldest = time.Now()
	}
	b.hot[rec.ID] = rec
	b.tier[rec.ID] = TierHot
	b.hotSize += int64(len(rec.Payload)) + int64(len(rec.Vector)*4)
	needSeal := b.hotSize >= b.opts.HotBytes || (b.opts.HotAge > 0 && time.Since(b.hotOldest) >= b.opts.HotAge)
	b.mu.Unlock()

	if needSeal {
		return b.Seal()
	}
	return nil
}

// Get resolves id to its current tier and returns its record, preferring
// hot (zero-copy), then warm (direct bbolt key read), then cold (direct
// segment file read through the LRU cache). The in-process tier/segment
// maps are a fast path; whenever they don't know id (e.g. a process that
// restarted and hasn't replayed its WAL yet) the lookup falls back to the
// metadata segment index, the durable source of truth spec'd for the read
// path.
func (b *Backend) Get(id string) (Record, bool, error) {
	b.mu.RLock()
	if rec, ok := b.hot[id]; ok {
		b.mu.RUnlock()
		return rec, true, nil
	}
	tier, segmentID := b.tier[id], b.segment[id]
	b.mu.RUnlock()

	if tier == "" {
		loc, ok, err := b.lookupSegmentLocation(id)
		if err != nil {
			return Record{}, false, err
		}
		if !ok {
			return Record{}, false, nil
		}
		tier, segmentID = loc.Tier, loc.SegmentID
	}

	switch tier {
	case TierWarm:
		return b.getWarm(id, segmentID)
	case TierCold:
		return b.getCold(id, segmentID)
	default:
		return Record{}, false, nil
	}
}

// lookupSegmentLocation consults the metadata catalog for id's owning
// segment and tier. A TierHot location means id was last known to live in
// the hot tier but isn't in this process's in-memory hot map (most likely
// already deleted), so it is reported as not found rather than dispatched
// to a tier reader.
func (b *Backend) lookupSegmentLocation(id string) (metadata.SegmentLocation, bool, error) {
	if b.meta == nil {
		return metadata.SegmentLocation{}, false, nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	loc, ok, err := b.meta.GetSegmentLocation(ctx, b.collectionID, id)
	if err != nil {
		return metadata.SegmentLocation{}, false, akierrors.Wrap(akierrors.StorageUnavailable, "storage: resolve segment location", err)
	}
	if !ok || loc.Tier == TierHot {
		return metadata.SegmentLocation{}, false, nil
	}
	return loc, true, nil
}

// Delete removes id from whichever tier currently holds it. Physical
// reclamation of warm/cold bytes happens at compaction; this only removes
// the backend's ability to serve the id.
func (b *Backend) Delete(id string) {
	b.mu.Lock()
	delete(b.hot, id)
	delete(b.tier, id)
	delete(b.segment, id)
	b.mu.Unlock()
	b.cache.Remove(id)
}

// Contains reports whether id is currently resolvable in any tier.
func (b *Backend) Contains(id string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, hot := b.hot[id]
	_, known := b.tier[id]
	return hot || known
}

// WaitForUploads blocks until every currently queued upload has completed,
// successfully or terminally, so tests never depend on wall-clock sleeps
// to observe upload-queue drain.
func (b *Backend) WaitForUploads() {
	b.pendingMu.Lock()
	for b.pending > 0 {
		b.pendingCond.Wait()
	}
	b.pendingMu.Unlock()
}

// DeadLetters returns a snapshot of terminally failed uploads.
func (b *Backend) DeadLetters() []DeadLetter {
	b.dlqMu.Lock()
	defer b.dlqMu.Unlock()
	out := make([]DeadLetter, len(b.dlq))
	copy(out, b.dlq)
	return out
}

// DLQDepth reports the current number of terminally failed uploads held
// for operator inspection.
func (b *Backend) DLQDepth() int {
	b.dlqMu.Lock()
	defer b.dlqMu.Unlock()
	return len(b.dlq)
}

// BreakerOpen reports whether the cold-store circuit breaker is currently
// open (rejecting uploads fast and serving warm-only).
func (b *Backend) BreakerOpen() bool {
	return b.breaker.State() == akierrors.StateOpen
}

// BreakerState exposes the raw breaker state for metrics snapshots.
func (b *Backend) BreakerState() string {
	return b.breaker.State().String()
}

// Overloaded reports whether the backend should reject new writes with a
// backpressure error: the breaker is open and the dead-letter queue has
// grown past its configured high-water mark.
func (b *Backend) Overloaded() bool {
	return b.BreakerOpen() && b.DLQDepth() >= b.opts.DLQMaxDepth
}

// Close stops the upload worker, closes the warm store and releases the
// collection's advisory lock.
func (b *Backend) Close() error {
	close(b.closed)
	close(b.uploadQueue)
	b.wg.Wait()

	if err := b.warm.Close(); err != nil {
		b.flock.Unlock()
		return akierrors.Wrap(akierrors.Internal, "storage: close warm store", err)
	}
	return b.flock.Unlock()
}
