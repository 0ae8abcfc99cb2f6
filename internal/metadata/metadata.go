// Package metadata is AkiDB's durable catalog: tenants, collections, and
// the segment/WAL/upload bookkeeping that must change atomically alongside
// them. It is backed by modernc.org/sqlite (pure Go, no CGO) in WAL
// journal mode with a single serialized writer connection, the pattern the
// rest of the corpus uses for its embedded SQLite stores.
package metadata

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// Store is the metadata catalog for one AkiDB process. One Store serves
// every tenant and collection; row-level tenant_id/collection_id columns
// provide isolation, not separate database files.
type Store struct {
	mu     sync.Mutex
	db     *sql.DB
	path   string
	closed bool
}

// Open creates (if needed) and opens the metadata database at path,
// applying the STRICT schema migrations and the corpus's WAL-mode pragma
// set for a single-writer, many-reader workload.
func Open(path string) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("metadata: open: %w", err)
	}
	// Single writer: modernc.org/sqlite serializes writes at the driver
	// level on one file, so a one-connection pool avoids SQLITE_BUSY
	// storms under concurrent collection mutation.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("metadata: pragma %q: %w", pragma, err)
		}
	}

	s := &Store{db: db, path: path}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate() error {
	const schema = `
CREATE TABLE IF NOT EXISTS tenants (
	id   TEXT PRIMARY KEY,
	name TEXT NOT NULL UNIQUE,
	created_at INTEGER NOT NULL
) STRICT;

CREATE TABLE IF NOT EXISTS collections (
	id              TEXT PRIMARY KEY,
	tenant_id       TEXT NOT NULL REFERENCES tenants(id),
	name            TEXT NOT NULL,
	dimension       INTEGER NOT NULL,
	metric          TEXT NOT NULL,
	index_type      TEXT NOT NULL,
	hnsw_m          INTEGER NOT NULL,
	hnsw_ef_construction INTEGER NOT NULL,
	hnsw_ef_search  INTEGER NOT NULL,
	status          TEXT NOT NULL,
	created_at      INTEGER NOT NULL,
	UNIQUE(tenant_id, name)
) STRICT;

CREATE TABLE IF NOT EXISTS documents_segments (
	collection_id TEXT NOT NULL REFERENCES collections(id),
	document_id   TEXT NOT NULL,
	segment_id    TEXT NOT NULL,
	tier          TEXT NOT NULL, -- hot | warm | cold
	sequence      INTEGER NOT NULL,
	PRIMARY KEY (collection_id, document_id)
) STRICT;

CREATE TABLE IF NOT EXISTS wal_state (
	collection_id   TEXT PRIMARY KEY REFERENCES collections(id),
	last_sequence   INTEGER NOT NULL,
	checkpoint_seq  INTEGER NOT NULL
) STRICT;

CREATE TABLE IF NOT EXISTS upload_state (
	segment_id    TEXT PRIMARY KEY,
	collection_id TEXT NOT NULL REFERENCES collections(id),
	status        TEXT NOT NULL, -- pending | uploading | uploaded | dead_letter
	attempts      INTEGER NOT NULL DEFAULT 0,
	last_error    TEXT,
	updated_at    INTEGER NOT NULL
) STRICT;
`
	_, err := s.db.Exec(schema)
	if err != nil {
		return fmt.Errorf("metadata: migrate: %w", err)
	}
	return nil
}

// Collection is the catalog row for one collection.
type Collection struct {
	ID             string
	TenantID       string
	Name           string
	Dimension      int
	Metric         string
	IndexType      string
	HNSWM          int
	HNSWEfConstr   int
	HNSWEfSearch   int
	Status         string
	CreatedAt      time.Time
}

// CreateTenant inserts a tenant row, idempotent on (id).
func (s *Store) CreateTenant(ctx context.Context, id, name string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO tenants (id, name, created_at) VALUES (?, ?, ?)
		 ON CONFLICT(id) DO NOTHING`,
		id, name, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("metadata: create tenant: %w", err)
	}
	return nil
}

// CreateCollection inserts a new collection row and its initial WAL state
// in a single transaction, so a reader never observes a collection without
// a corresponding wal_state row.
func (s *Store) CreateCollection(ctx context.Context, c Collection) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("metadata: create collection: begin: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO collections
			(id, tenant_id, name, dimension, metric, index_type, hnsw_m, hnsw_ef_construction, hnsw_ef_search, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.TenantID, c.Name, c.Dimension, c.Metric, c.IndexType,
		c.HNSWM, c.HNSWEfConstr, c.HNSWEfSearch, "Active", time.Now().Unix())
	if err != nil {
		return fmt.Errorf("metadata: create collection: insert: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO wal_state (collection_id, last_sequence, checkpoint_seq) VALUES (?, 0, 0)`,
		c.ID)
	if err != nil {
		return fmt.Errorf("metadata: create collection: wal_state: %w", err)
	}

	return tx.Commit()
}

// GetCollectionByName looks up a collection by tenant-scoped name.
func (s *Store) GetCollectionByName(ctx context.Context, tenantID, name string) (Collection, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, tenant_id, name, dimension, metric, index_type, hnsw_m, hnsw_ef_construction, hnsw_ef_search, status, created_at
		FROM collections WHERE tenant_id = ? AND name = ?`, tenantID, name)
	return scanCollection(row)
}

// GetCollection looks up a collection by id.
func (s *Store) GetCollection(ctx context.Context, id string) (Collection, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, tenant_id, name, dimension, metric, index_type, hnsw_m, hnsw_ef_construction, hnsw_ef_search, status, created_at
		FROM collections WHERE id = ?`, id)
	return scanCollection(row)
}

// ListCollections returns every non-deleted collection in the catalog, the
// read a process does once at startup to rebuild its in-memory Service
// state from the WAL rather than from a live in-process map.
func (s *Store) ListCollections(ctx context.Context) ([]Collection, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, tenant_id, name, dimension, metric, index_type, hnsw_m, hnsw_ef_construction, hnsw_ef_search, status, created_at
		FROM collections WHERE status != 'Deleted'`)
	if err != nil {
		return nil, fmt.Errorf("metadata: list collections: %w", err)
	}
	defer rows.Close()

	var out []Collection
	for rows.Next() {
		var c Collection
		var createdAt int64
		if err := rows.Scan(&c.ID, &c.TenantID, &c.Name, &c.Dimension, &c.Metric, &c.IndexType,
			&c.HNSWM, &c.HNSWEfConstr, &c.HNSWEfSearch, &c.Status, &createdAt); err != nil {
			return nil, fmt.Errorf("metadata: list collections: scan: %w", err)
		}
		c.CreatedAt = time.Unix(createdAt, 0)
		out = append(out, c)
	}
	return out, rows.Err()
}

func scanCollection(row *sql.Row) (Collection, bool, error) {
	var c Collection
	var createdAt int64
	err := row.Scan(&c.ID, &c.TenantID, &c.Name, &c.Dimension, &c.Metric, &c.IndexType,
		&c.HNSWM, &c.HNSWEfConstr, &c.HNSWEfSearch, &c.Status, &createdAt)
	if err == sql.ErrNoRows {
		return Collection{}, false, nil
	}
	if err != nil {
		return Collection{}, false, fmt.Errorf("metadata: scan collection: %w", err)
	}
	c.CreatedAt = time.Unix(createdAt, 0)
	return c, true, nil
}

// SetCollectionStatus transitions a collection between Active, Draining
// and Deleted.
func (s *Store) SetCollectionStatus(ctx context.Context, id, status string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE collections SET status = ? WHERE id = ?`, status, id)
	if err != nil {
		return fmt.Errorf("metadata: set collection status: %w", err)
	}
	return nil
}

// DropCollection removes a collection and its dependent rows in one
// transaction, reclaiming the catalog's view of the collection atomically.
func (s *Store) DropCollection(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("metadata: drop collection: begin: %w", err)
	}
	defer tx.Rollback()

	for _, stmt := range []string{
		`DELETE FROM documents_segments WHERE collection_id = ?`,
		`DELETE FROM upload_state WHERE collection_id = ?`,
		`DELETE FROM wal_state WHERE collection_id = ?`,
		`DELETE FROM collections WHERE id = ?`,
	} {
		if _, err := tx.ExecContext(ctx, stmt, id); err != nil {
			return fmt.Errorf("metadata: drop collection: %w", err)
		}
	}
	return tx.Commit()
}

// UpdateWALState advances last_sequence, used after every durable append.
func (s *Store) UpdateWALState(ctx context.Context, collectionID string, lastSeq uint64) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE wal_state SET last_sequence = ? WHERE collection_id = ?`, lastSeq, collectionID)
	if err != nil {
		return fmt.Errorf("metadata: update wal state: %w", err)
	}
	return nil
}

// Checkpoint records the sequence number up to which state is safely
// materialized in both the index and this store, enabling WAL truncation.
func (s *Store) Checkpoint(ctx context.Context, collectionID string, seq uint64) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE wal_state SET checkpoint_seq = ? WHERE collection_id = ?`, seq, collectionID)
	if err != nil {
		return fmt.Errorf("metadata: checkpoint: %w", err)
	}
	return nil
}

// WALState is the durable sequence-number bookkeeping for one collection.
type WALState struct {
	LastSequence  uint64
	CheckpointSeq uint64
}

// GetWALState reads the current WAL bookkeeping for a collection.
func (s *Store) GetWALState(ctx context.Context, collectionID string) (WALState, error) {
	var w WALState
	err := s.db.QueryRowContext(ctx,
		`SELECT last_sequence, checkpoint_seq FROM wal_state WHERE collection_id = ?`, collectionID).
		Scan(&w.LastSequence, &w.CheckpointSeq)
	if err != nil {
		return WALState{}, fmt.Errorf("metadata: get wal state: %w", err)
	}
	return w, nil
}

// UpsertSegmentLocation records (or moves) which tier owns a document,
// used by the storage backend's read path to resolve a document id to the
// segment that currently holds it.
func (s *Store) UpsertSegmentLocation(ctx context.Context, collectionID, documentID, segmentID, tier string, sequence uint64) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO documents_segments (collection_id, document_id, segment_id, tier, sequence)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(collection_id, document_id) DO UPDATE SET segment_id=excluded.segment_id, tier=excluded.tier, sequence=excluded.sequence`,
		collectionID, documentID, segmentID, tier, sequence)
	if err != nil {
		return fmt.Errorf("metadata: upsert segment location: %w", err)
	}
	return nil
}

// SegmentLocation reports which tier and segment currently own a document.
type SegmentLocation struct {
	SegmentID string
	Tier      string
	Sequence  uint64
}

// GetSegmentLocation resolves a document id to its owning segment and tier.
func (s *Store) GetSegmentLocation(ctx context.Context, collectionID, documentID string) (SegmentLocation, bool, error) {
	var loc SegmentLocation
	err := s.db.QueryRowContext(ctx,
		`SELECT segment_id, tier, sequence FROM documents_segments WHERE collection_id = ? AND document_id = ?`,
		collectionID, documentID).Scan(&loc.SegmentID, &loc.Tier, &loc.Sequence)
	if err == sql.ErrNoRows {
		return SegmentLocation{}, false, nil
	}
	if err != nil {
		return SegmentLocation{}, false, fmt.Errorf("metadata: get segment location: %w", err)
	}
	return loc, true, nil
}

// UpsertUploadState records the lifecycle of a segment's cold-store upload.
func (s *Store) UpsertUploadState(ctx context.Context, segmentID, collectionID, status string, attempts int, lastErr string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO upload_state (segment_id, collection_id, status, attempts, last_error, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(segment_id) DO UPDATE SET status=excluded.status, attempts=excluded.attempts, last_error=excluded.last_error, updated_at=excluded.updated_at`,
		segmentID, collectionID, status, attempts, lastErr, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("metadata: upsert upload state: %w", err)
	}
	return nil
}

// DeadLetterSegments returns segment ids stuck in dead_letter status for a
// collection, for operator inspection.
func (s *Store) DeadLetterSegments(ctx context.Context, collectionID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT segment_id FROM upload_state WHERE collection_id = ? AND status = 'dead_letter'`, collectionID)
	if err != nil {
		return nil, fmt.Errorf("metadata: dead letter segments: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("metadata: dead letter segments: scan: %w", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// AllDocumentIDs returns every document id recorded for a collection, for
// consistency checking against the HNSW index's own AllIDs().
func (s *Store) AllDocumentIDs(ctx context.Context, collectionID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT document_id FROM documents_segments WHERE collection_id = ?`, collectionID)
	if err != nil {
		return nil, fmt.Errorf("metadata: all document ids: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("metadata: all document ids: scan: %w", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// RemoveDocument deletes a document's segment-location row, used when a
// delete tombstone is applied.
func (s *Store) RemoveDocument(ctx context.Context, collectionID, documentID string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM documents_segments WHERE collection_id = ? AND document_id = ?`, collectionID, documentID)
	if err != nil {
		return fmt.Errorf("metadata: remove document: %w", err)
	}
	return nil
}

// Close closes the underlying database, checkpointing WAL to the main file
// first so a reopen never has to replay the sqlite-level WAL.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if _, err := s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		s.db.Close()
		return fmt.Errorf("metadata: close: checkpoint: %w", err)
	}
	return s.db.Close()
}
