// Package collection implements the Collection Service: the orchestration
// layer that owns a collection's WAL, index and tiered storage together,
// enforcing the write ordering (WAL before index before ack before
// upload) and the read-snapshot semantics the rest of AkiDB's core
// depends on.
package collection

import (
	"bytes"
	"context"
	"encoding/gob"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	akierrors "github.com/akidb/akidb/internal/errors"
	"github.com/akidb/akidb/internal/bruteforce"
	"github.com/akidb/akidb/internal/embedding"
	"github.com/akidb/akidb/internal/hnsw"
	"github.com/akidb/akidb/internal/metadata"
	"github.com/akidb/akidb/internal/metrics"
	"github.com/akidb/akidb/internal/storage"
	"github.com/akidb/akidb/internal/vector"
	"github.com/akidb/akidb/internal/wal"
)

// Status is a collection's lifecycle state.
type Status string

const (
	StatusActive   Status = "Active"
	StatusDraining Status = "Draining"
	StatusDeleted  Status = "Deleted"
)

// IndexType selects which index implementation backs a collection.
type IndexType string

const (
	IndexHNSW       IndexType = "hnsw"
	IndexBruteForce IndexType = "bruteforce"
)

// CreateSpec describes a collection to create.
type CreateSpec struct {
	TenantID       string
	Name           string
	Dimension      int
	Metric         string
	IndexType      IndexType
	HNSWM          int
	HNSWEfConstr   int
	HNSWEfSearch   int
}

// Document is one record as carried through the WAL and returned to a
// caller; Payload is opaque bytes the caller attaches and gets back.
type Document struct {
	ID         string
	Vector     []float32
	Payload    []byte
	Version    uint64
	Tombstoned bool
	Sequence   uint64
}

// QueryRequest bundles Query's parameters; Vector xor Text is supplied.
type QueryRequest struct {
	Vector   []float32
	Text     string
	K        int
	Ef       int
	Filter   func(payload []byte) bool
	Deadline time.Duration
}

// QueryResult carries a query's ranked hits plus the flags the external
// interface contract requires.
type QueryResult struct {
	Hits             []Result
	Truncated        bool
	DeadlineExceeded bool
}

// Options configures a Service.
type Options struct {
	DataDir           string
	WAL               wal.Options
	Storage           storage.Options
	EmbeddingConcurrency int
	EmbeddingCacheSize   int
	DrainTimeout      time.Duration
	// ActivityHook, if set, is called after every Insert/Delete with the
	// affected collection id — the background compaction scheduler's idle
	// timer wiring, kept as a plain callback so this package never has to
	// import the scheduler.
	ActivityHook func(collectionID string)
}

// Service is the Collection Service: one process-wide orchestrator owning
// every collection's WAL, index and storage backend.
type Service struct {
	mu          sync.RWMutex
	collections map[string]*collectionState
	byName      map[string]string

	meta     *metadata.Store
	embedder *embedding.Gate
	metrics  *metrics.Recorder
	opts     Options
}

type collectionState struct {
	mu        sync.RWMutex
	id        string
	tenantID  string
	name      string
	dimension int
	metric    vector.Metric
	indexType IndexType
	status    Status

	wal     *wal.Log
	idx     index
	backend *storage.Backend

	readers sync.WaitGroup
}

// New creates a Service backed by the given metadata store and embedding
// provider. Collections are discovered lazily as they are created or
// opened; a full catalog reload is the caller's responsibility at process
// start (see Load).
func New(meta *metadata.Store, provider embedding.Provider, opts Options) (*Service, error) {
	if opts.EmbeddingConcurrency <= 0 {
		opts.EmbeddingConcurrency = 4
	}
	if opts.EmbeddingCacheSize <= 0 {
		opts.EmbeddingCacheSize = 1024
	}
	if opts.DrainTimeout <= 0 {
		opts.DrainTimeout = 30 * time.Second
	}
	rec := metrics.New()
	gate, err := embedding.NewGate(provider, opts.EmbeddingConcurrency, opts.EmbeddingCacheSize, rec.ObserveGateWait)
	if err != nil {
		return nil, err
	}
	return &Service{
		collections: make(map[string]*collectionState),
		byName:      make(map[string]string),
		meta:        meta,
		embedder:    gate,
		metrics:     rec,
		opts:        opts,
	}, nil
}

// Load rebuilds in-memory state for every collection already present in
// the metadata catalog: reopening each collection's WAL and storage
// backend and replaying the WAL to reconstruct its index, since the index
// itself is never persisted directly. Call this once after New, before
// serving any request, for a process that is resuming against existing
// data rather than starting an empty catalog.
func (s *Service) Load(ctx context.Context) error {
	rows, err := s.meta.ListCollections(ctx)
	if err != nil {
		return akierrors.Wrap(akierrors.StorageUnavailable, "list collections", err)
	}

	for _, row := range rows {
		metric := normalizeMetric(row.Metric)

		walLog, err := wal.Open(filepath.Join(s.opts.DataDir, row.ID, "wal", "segment.wal"), s.opts.WAL)
		if err != nil {
			return akierrors.Wrap(akierrors.StorageUnavailable, "reopen wal", err)
		}

		storageOpts := s.opts.Storage
		storageOpts.DataDir = s.opts.DataDir
		backend, err := storage.Open(row.ID, storageOpts, s.meta)
		if err != nil {
			walLog.Close()
			return akierrors.Wrap(akierrors.StorageUnavailable, "reopen storage backend", err)
		}

		var idx index
		indexType := IndexType(row.IndexType)
		if indexType == IndexBruteForce {
			idx = newBruteAdapter(bruteforce.New(row.Dimension, metric))
		} else {
			cfg := hnsw.DefaultConfig(row.Dimension, metric)
			if row.HNSWM > 0 {
				cfg.M = row.HNSWM
				cfg.MaxM0 = 2 * row.HNSWM
			}
			if row.HNSWEfConstr > 0 {
				cfg.EfConstruction = row.HNSWEfConstr
			}
			if row.HNSWEfSearch > 0 {
				cfg.EfSearch = row.HNSWEfSearch
			}
			h, err := hnsw.New(cfg)
			if err != nil {
				walLog.Close()
				backend.Close()
				return akierrors.Wrap(akierrors.Internal, "rebuild hnsw config", err)
			}
			idx = newHNSWAdapter(h)
			indexType = IndexHNSW
		}

		replayErr := walLog.Replay(0, func(rec wal.Record) error {
			switch rec.Kind {
			case wal.Insert:
				var doc Document
				if err := gob.NewDecoder(bytes.NewReader(rec.Payload)).Decode(&doc); err != nil {
					return akierrors.Wrap(akierrors.Corrupted, "decode wal insert", err)
				}
				if err := idx.Insert(doc.ID, doc.Vector); err != nil {
					return err
				}
				return backend.Put(storage.Record{ID: doc.ID, Vector: doc.Vector, Payload: doc.Payload, Sequence: rec.Seq})
			case wal.Delete:
				var docID string
				if err := gob.NewDecoder(bytes.NewReader(rec.Payload)).Decode(&docID); err != nil {
					return akierrors.Wrap(akierrors.Corrupted, "decode wal delete", err)
				}
				idx.Delete(docID)
				backend.Delete(docID)
				return nil
			default:
				return nil
			}
		})
		if replayErr != nil {
			walLog.Close()
			backend.Close()
			return akierrors.Wrap(akierrors.Corrupted, "replay wal", replayErr).WithDetail("collection", row.ID)
		}

		status := StatusActive
		if row.Status != "" {
			status = Status(row.Status)
		}

		cs := &collectionState{
			id: row.ID, tenantID: row.TenantID, name: row.Name,
			dimension: row.Dimension, metric: metric, indexType: indexType,
			status: status, wal: walLog, idx: idx, backend: backend,
		}

		s.mu.Lock()
		s.collections[row.ID] = cs
		s.byName[nameKey(row.TenantID, row.Name)] = row.ID
		s.mu.Unlock()
	}
	return nil
}

// CreateCollection creates a new collection, allocating its WAL and
// storage backend and registering it in the metadata catalog, all before
// it becomes visible to Insert/Query.
func (s *Service) CreateCollection(ctx context.Context, spec CreateSpec) (string, error) {
	if spec.Dimension <= 0 {
		return "", akierrors.New(akierrors.InvalidInput, "collection dimension must be positive")
	}
	key := nameKey(spec.TenantID, spec.Name)

	s.mu.RLock()
	_, exists := s.byName[key]
	s.mu.RUnlock()
	if exists {
		return "", akierrors.New(akierrors.AlreadyExists, "collection name already exists").
			WithDetail("tenant", spec.TenantID).WithDetail("name", spec.Name)
	}

	id := uuid.NewString()
	metric := normalizeMetric(spec.Metric)

	walLog, err := wal.Open(filepath.Join(s.opts.DataDir, id, "wal", "segment.wal"), s.opts.WAL)
	if err != nil {
		return "", err
	}

	storageOpts := s.opts.Storage
	storageOpts.DataDir = s.opts.DataDir
	backend, err := storage.Open(id, storageOpts, s.meta)
	if err != nil {
		walLog.Close()
		return "", err
	}

	var idx index
	if spec.IndexType == IndexBruteForce {
		idx = newBruteAdapter(bruteforce.New(spec.Dimension, metric))
	} else {
		cfg := hnsw.DefaultConfig(spec.Dimension, metric)
		if spec.HNSWM > 0 {
			cfg.M = spec.HNSWM
			cfg.MaxM0 = 2 * spec.HNSWM
		}
		if spec.HNSWEfConstr > 0 {
			cfg.EfConstruction = spec.HNSWEfConstr
		}
		if spec.HNSWEfSearch > 0 {
			cfg.EfSearch = spec.HNSWEfSearch
		}
		h, err := hnsw.New(cfg)
		if err != nil {
			walLog.Close()
			backend.Close()
			return "", akierrors.Wrap(akierrors.InvalidInput, "invalid hnsw config", err)
		}
		idx = newHNSWAdapter(h)
		spec.IndexType = IndexHNSW
	}

	if err := s.meta.CreateTenant(ctx, spec.TenantID, spec.TenantID); err != nil {
		walLog.Close()
		backend.Close()
		return "", akierrors.Wrap(akierrors.Internal, "create tenant", err)
	}
	if err := s.meta.CreateCollection(ctx, metadata.Collection{
		ID: id, TenantID: spec.TenantID, Name: spec.Name, Dimension: spec.Dimension,
		Metric: string(metric), IndexType: string(spec.IndexType),
		HNSWM: spec.HNSWM, HNSWEfConstr: spec.HNSWEfConstr, HNSWEfSearch: spec.HNSWEfSearch,
	}); err != nil {
		walLog.Close()
		backend.Close()
		return "", akierrors.Wrap(akierrors.Internal, "create collection row", err)
	}

	cs := &collectionState{
		id: id, tenantID: spec.TenantID, name: spec.Name,
		dimension: spec.Dimension, metric: metric, indexType: spec.IndexType,
		status: StatusActive, wal: walLog, idx: idx, backend: backend,
	}

	s.mu.Lock()
	s.collections[id] = cs
	s.byName[key] = id
	s.mu.Unlock()

	s.metrics.IncCollectionsCreated()
	return id, nil
}

func nameKey(tenantID, name string) string { return tenantID + "/" + name }

func (s *Service) get(collectionID string) (*collectionState, error) {
	s.mu.RLock()
	cs, ok := s.collections[collectionID]
	s.mu.RUnlock()
	if !ok {
		return nil, akierrors.New(akierrors.NotFound, "collection not found").WithDetail("collection", collectionID)
	}
	return cs, nil
}

// ResolveByName returns the collection id registered under tenantID/name.
func (s *Service) ResolveByName(tenantID, name string) (string, error) {
	s.mu.RLock()
	id, ok := s.byName[nameKey(tenantID, name)]
	s.mu.RUnlock()
	if !ok {
		return "", akierrors.New(akierrors.NotFound, "collection not found").WithDetail("name", name)
	}
	return id, nil
}

// Insert appends doc to the collection's WAL, mutates its index, and
// enqueues the payload for tiered storage, in that order — the ordering
// invariant that makes a crash between index mutation and ack
// recoverable purely from WAL replay.
func (s *Service) Insert(ctx context.Context, collectionID, docID string, vec []float32, text string, payload []byte) (string, error) {
	start := time.Now()
	cs, err := s.get(collectionID)
	if err != nil {
		return "", err
	}

	cs.mu.RLock()
	status := cs.status
	cs.mu.RUnlock()
	if status != StatusActive {
		return "", akierrors.New(akierrors.InvalidInput, "collection is not active").WithDetail("status", string(status))
	}

	if vec == nil && text != "" {
		vecs, err := s.embedder.Embed(ctx, []string{text}, "default")
		if err != nil {
			return "", err
		}
		vec = vecs[0]
	}
	if len(vec) != cs.dimension {
		return "", akierrors.New(akierrors.InvalidInput, "vector dimension mismatch").
			WithDetail("expected", cs.dimension).WithDetail("got", len(vec))
	}
	if cs.backend.Overloaded() {
		return "", akierrors.New(akierrors.Overloaded, "upload queue saturated, backing off")
	}

	if docID == "" {
		docID = uuid.NewString()
	}

	doc := Document{ID: docID, Vector: vec, Payload: payload, Version: 1}
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(doc); err != nil {
		return "", akierrors.Wrap(akierrors.Internal, "encode wal record", err)
	}

	seq, err := cs.wal.Append(wal.Record{Kind: wal.Insert, Collection: cs.id, Payload: buf.Bytes()})
	if err != nil {
		return "", akierrors.Wrap(akierrors.Internal, "wal append failed", err)
	}

	if err := cs.idx.Insert(docID, vec); err != nil {
		return "", akierrors.Wrap(akierrors.InvalidInput, "index insert failed", err)
	}

	if err := cs.backend.Put(storage.Record{ID: docID, Vector: vec, Payload: payload, Sequence: seq}); err != nil {
		return "", akierrors.Wrap(akierrors.Internal, "storage put failed", err)
	}

	if err := s.meta.UpsertSegmentLocation(ctx, cs.id, docID, fmt.Sprintf("hot-%d", seq), storage.TierHot, seq); err != nil {
		slog.Warn("collection: upsert segment location failed", "collection", cs.id, "document", docID, "error", err)
	}
	_ = s.meta.UpdateWALState(ctx, cs.id, seq)

	s.metrics.IncVectorsInserted()
	s.metrics.ObserveInsert(time.Since(start))
	if s.opts.ActivityHook != nil {
		s.opts.ActivityHook(cs.id)
	}
	return docID, nil
}

// Query acquires a read-snapshot handle on the collection (a reference
// count the in-flight Draining drain waits on), runs the index search,
// fetches payloads for filtering, and returns ranked hits.
func (s *Service) Query(ctx context.Context, collectionID string, req QueryRequest) (QueryResult, error) {
	start := time.Now()
	cs, err := s.get(collectionID)
	if err != nil {
		return QueryResult{}, err
	}

	if req.Deadline <= 0 {
		return QueryResult{DeadlineExceeded: true}, nil
	}

	qctx, cancel := context.WithTimeout(ctx, req.Deadline)
	defer cancel()

	vec := req.Vector
	if vec == nil && req.Text != "" {
		vecs, err := s.embedder.Embed(qctx, []string{req.Text}, "default")
		if err != nil {
			return QueryResult{}, err
		}
		vec = vecs[0]
	}
	if len(vec) != cs.dimension {
		return QueryResult{}, akierrors.New(akierrors.InvalidInput, "query vector dimension mismatch").
			WithDetail("expected", cs.dimension).WithDetail("got", len(vec))
	}

	cs.readers.Add(1)
	defer cs.readers.Done()

	k := req.K
	if k <= 0 {
		k = 1
	}

	// A filter rejects hits after the ANN search has already picked its
	// top-k, so asking the index for exactly k candidates would silently
	// under-return whenever the filter is selective. Over-fetch a wider
	// candidate set first, filter it, then truncate to k — the read data
	// flow the contract describes: ANN search -> payload fetch -> filter
	// evaluation -> top-k.
	fetch := k
	if req.Filter != nil {
		fetch = filterOverfetch(k, cs.idx.Len())
	}

	hits, err := cs.idx.Search(vec, fetch, req.Ef)
	if err != nil {
		return QueryResult{}, akierrors.Wrap(akierrors.Internal, "index search failed", err)
	}

	deadlineExceeded := false
	select {
	case <-qctx.Done():
		deadlineExceeded = true
	default:
	}

	out := make([]Result, 0, k)
	for _, h := range hits {
		if req.Filter != nil {
			rec, ok, _ := cs.backend.Get(h.ID)
			if !ok || !req.Filter(rec.Payload) {
				continue
			}
		}
		out = append(out, h)
		if len(out) >= k {
			break
		}
	}

	s.metrics.IncSearchesPerformed()
	s.metrics.ObserveQuery(time.Since(start))

	return QueryResult{
		Hits:             out,
		Truncated:        len(out) < k,
		DeadlineExceeded: deadlineExceeded,
	}, nil
}

// filterOverfetch returns how many candidates to pull from the index when
// a post-filter is present: enough headroom that a selective filter
// doesn't starve the final top-k, capped at the collection's live count
// since asking an index for more candidates than it holds is pointless.
func filterOverfetch(k, live int) int {
	fetch := k * 10
	if live > 0 && fetch > live {
		fetch = live
	}
	if fetch < k {
		fetch = k
	}
	return fetch
}

// Delete tombstones docID: visible to subsequent queries immediately,
// physical reclamation deferred to compaction.
func (s *Service) Delete(ctx context.Context, collectionID, docID string) error {
	cs, err := s.get(collectionID)
	if err != nil {
		return err
	}

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(docID); err != nil {
		return akierrors.Wrap(akierrors.Internal, "encode delete record", err)
	}
	seq, err := cs.wal.Append(wal.Record{Kind: wal.Delete, Collection: cs.id, Payload: buf.Bytes()})
	if err != nil {
		return akierrors.Wrap(akierrors.Internal, "wal append failed", err)
	}

	found := cs.idx.Delete(docID)
	cs.backend.Delete(docID)
	_ = s.meta.RemoveDocument(ctx, cs.id, docID)
	_ = s.meta.UpdateWALState(ctx, cs.id, seq)

	if s.opts.ActivityHook != nil {
		s.opts.ActivityHook(cs.id)
	}
	if !found {
		return akierrors.New(akierrors.NotFound, "document not found").WithDetail("id", docID)
	}
	return nil
}

// Compact runs the index's background compaction, reclaiming tombstoned
// nodes, and returns the resulting occupancy stats.
func (s *Service) Compact(collectionID string) (IndexStats, error) {
	cs, err := s.get(collectionID)
	if err != nil {
		return IndexStats{}, err
	}
	return cs.idx.Compact()
}

// DropCollection transitions a collection to Draining, waits (up to the
// configured drain timeout) for in-flight queries to complete, then
// releases its WAL, storage and catalog resources.
func (s *Service) DropCollection(ctx context.Context, collectionID string) error {
	cs, err := s.get(collectionID)
	if err != nil {
		return err
	}

	cs.mu.Lock()
	cs.status = StatusDraining
	cs.mu.Unlock()

	drained := make(chan struct{})
	go func() {
		cs.readers.Wait()
		close(drained)
	}()
	select {
	case <-drained:
	case <-time.After(s.opts.DrainTimeout):
	}

	cs.backend.WaitForUploads()

	if err := cs.wal.Close(); err != nil {
		return err
	}
	if err := cs.backend.Close(); err != nil {
		return err
	}
	if err := s.meta.DropCollection(ctx, cs.id); err != nil {
		return err
	}

	cs.mu.Lock()
	cs.status = StatusDeleted
	cs.mu.Unlock()

	s.mu.Lock()
	delete(s.collections, cs.id)
	delete(s.byName, nameKey(cs.tenantID, cs.name))
	s.mu.Unlock()

	s.metrics.IncCollectionsDeleted()
	return nil
}

// Close releases every collection's WAL file and storage backend lock
// without draining or dropping anything, the orderly-shutdown counterpart
// to Load: a later process can Open the same data directory and Load it
// back.
func (s *Service) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var firstErr error
	for _, cs := range s.collections {
		if err := cs.wal.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		if err := cs.backend.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Metrics returns a snapshot of every metric the spec's Collection
// Service contract names, refreshing per-collection breaker/DLQ gauges
// from each live backend first.
func (s *Service) Metrics() metrics.Snapshot {
	s.mu.RLock()
	for id, cs := range s.collections {
		s.metrics.SetBreakerState(id, cs.backend.BreakerState())
		s.metrics.SetDLQDepth(id, cs.backend.DLQDepth())
	}
	s.mu.RUnlock()
	return s.metrics.Snapshot()
}

// AllIDs returns every live document id in a collection's index, for
// consistency checking against the metadata store's own catalog.
func (s *Service) AllIDs(collectionID string) ([]string, error) {
	cs, err := s.get(collectionID)
	if err != nil {
		return nil, err
	}
	return cs.idx.AllIDs(), nil
}

// CollectionIDs returns the ids of every collection currently registered,
// the enumeration a background compaction sweep walks each cycle.
func (s *Service) CollectionIDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.collections))
	for id := range s.collections {
		ids = append(ids, id)
	}
	return ids
}

// IndexStats reports a collection's current occupancy without rebuilding
// its graph, the read a compaction scheduler polls before deciding
// whether a Compact is worth paying for.
func (s *Service) IndexStats(collectionID string) (IndexStats, error) {
	cs, err := s.get(collectionID)
	if err != nil {
		return IndexStats{}, err
	}
	return cs.idx.Stats(), nil
}
