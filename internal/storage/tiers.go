package storage

import (
	"bytes"
	"context"
	"encoding/gob"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/golang/snappy"
	"github.com/google/renameio"
	"go.etcd.io/bbolt"

	akierrors "github.com/akidb/akidb/internal/errors"
)

// Seal moves every record currently in the hot tier into a new sealed warm
// segment and enqueues that segment for cold-store upload. Sealing is the
// only way records leave the hot tier; it is safe to call even when the
// hot tier is empty.
func (b *Backend) Seal() error {
	b.mu.Lock()
	if len(b.hot) == 0 {
		b.mu.Unlock()
		return nil
	}
	records := make([]Record, 0, len(b.hot))
	for _, rec := range b.hot {
		records = append(records, rec)
	}
	b.hot = make(map[string]Record)
	b.hotSize = 0
	b.mu.Unlock()

	segmentID := fmt.Sprintf("seg-%d-%d", time.Now().UnixNano(), len(records))
	if err := b.writeWarmSegment(segmentID, records); err != nil {
		return err
	}

	b.mu.Lock()
	for _, rec := range records {
		b.tier[rec.ID] = TierWarm
		b.segment[rec.ID] = segmentID
	}
	b.mu.Unlock()
	for _, rec := range records {
		b.upsertSegmentLocation(rec.ID, segmentID, TierWarm, rec.Sequence)
	}

	b.pendingMu.Lock()
	b.pending++
	b.pendingMu.Unlock()

	select {
	case b.uploadQueue <- uploadJob{segmentID: segmentID, records: records}:
	case <-b.closed:
		b.pendingMu.Lock()
		b.pending--
		b.pendingCond.Broadcast()
		b.pendingMu.Unlock()
	}
	return nil
}

func (b *Backend) writeWarmSegment(segmentID string, records []Record) error {
	return b.warm.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(warmBucket))
		for _, rec := range records {
			var buf bytes.Buffer
			if err := gob.NewEncoder(&buf).Encode(rec); err != nil {
				return fmt.Errorf("storage: encode warm record: %w", err)
			}
			key := warmKey(segmentID, rec.ID)
			if err := bucket.Put(key, buf.Bytes()); err != nil {
				return fmt.Errorf("storage: put warm record: %w", err)
			}
		}
		return nil
	})
}

func warmKey(segmentID, id string) []byte {
	return []byte(segmentID + "/" + id)
}

// getWarm resolves id directly via its segment key, a single bbolt point
// lookup rather than a scan over every warm key.
func (b *Backend) getWarm(id, segmentID string) (Record, bool, error) {
	var rec Record
	var found bool
	err := b.warm.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(warmBucket))
		v := bucket.Get(warmKey(segmentID, id))
		if v == nil {
			return nil
		}
		if err := gob.NewDecoder(bytes.NewReader(v)).Decode(&rec); err != nil {
			return fmt.Errorf("storage: decode warm record: %w", err)
		}
		found = true
		return nil
	})
	if err != nil {
		return Record{}, false, akierrors.Wrap(akierrors.Internal, "storage: warm read", err)
	}
	return rec, found, nil
}

// uploadWorker drains the upload queue, attempting each segment's cold
// upload through the circuit breaker with retry-with-backoff, moving
// terminal failures onto the dead-letter queue.
func (b *Backend) uploadWorker() {
	defer b.wg.Done()
	for job := range b.uploadQueue {
		b.processUpload(job)
	}
}

func (b *Backend) processUpload(job uploadJob) {
	defer func() {
		b.pendingMu.Lock()
		b.pending--
		b.pendingCond.Broadcast()
		b.pendingMu.Unlock()
	}()

	if !b.breaker.Allow() {
		// Breaker open: serve warm-only, no network attempt, no DLQ entry
		// unless retries are later exhausted on a subsequent seal.
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	err := akierrors.Retry(ctx, b.retry, func() error {
		return b.uploadToCold(job.segmentID, job.records)
	})

	if err != nil {
		b.breaker.RecordFailure()
		b.dlqMu.Lock()
		b.dlq = append(b.dlq, DeadLetter{SegmentID: job.segmentID, Err: err.Error(), FailedAt: time.Now()})
		b.dlqMu.Unlock()
		return
	}

	b.breaker.RecordSuccess()

	b.mu.Lock()
	for _, rec := range job.records {
		b.tier[rec.ID] = TierCold
	}
	b.mu.Unlock()
	for _, rec := range job.records {
		b.upsertSegmentLocation(rec.ID, job.segmentID, TierCold, rec.Sequence)
	}
}

func (b *Backend) uploadToCold(segmentID string, records []Record) error {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(records); err != nil {
		return fmt.Errorf("storage: encode cold segment: %w", err)
	}
	compressed := snappy.Encode(nil, buf.Bytes())

	path := filepath.Join(b.coldDir, segmentID+".snappy")
	if err := renameio.WriteFile(path, compressed, 0o644); err != nil {
		return fmt.Errorf("storage: write cold segment: %w", err)
	}
	return nil
}

// getCold resolves id directly via its cold segment file, read and
// decompressed once, rather than scanning every object in the cold tier.
func (b *Backend) getCold(id, segmentID string) (Record, bool, error) {
	if cached, ok := b.cache.Get(id); ok {
		var rec Record
		if err := gob.NewDecoder(bytes.NewReader(cached)).Decode(&rec); err != nil {
			return Record{}, false, akierrors.Wrap(akierrors.Internal, "storage: decode cached cold record", err)
		}
		return rec, true, nil
	}

	raw, err := os.ReadFile(filepath.Join(b.coldDir, segmentID+".snappy"))
	if err != nil {
		if os.IsNotExist(err) {
			return Record{}, false, nil
		}
		return Record{}, false, akierrors.Wrap(akierrors.StorageUnavailable, "storage: read cold segment", err)
	}
	decompressed, err := snappy.Decode(nil, raw)
	if err != nil {
		return Record{}, false, akierrors.Wrap(akierrors.Corrupted, "storage: decompress cold segment", err)
	}
	var records []Record
	if err := gob.NewDecoder(bytes.NewReader(decompressed)).Decode(&records); err != nil {
		return Record{}, false, akierrors.Wrap(akierrors.Corrupted, "storage: decode cold segment", err)
	}
	for _, rec := range records {
		if rec.ID != id {
			continue
		}
		var recBuf bytes.Buffer
		if err := gob.NewEncoder(&recBuf).Encode(rec); err == nil {
			b.cache.Add(id, recBuf.Bytes())
		}
		return rec, true, nil
	}
	return Record{}, false, nil
}
