// Package wal implements AkiDB's per-collection write-ahead log: a
// sequence of length-prefixed, checksummed records that is the recovery
// source of truth until a checkpoint and matching object-store upload make
// a prefix of it reclaimable.
package wal

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	akierrors "github.com/akidb/akidb/internal/errors"
)

// Kind distinguishes the operations a WAL record can carry.
type Kind uint8

const (
	Insert Kind = iota + 1
	Update
	Delete
	Checkpoint
	CollectionCreate
	CollectionDrop
)

// Record is one durable entry in the log. Seq is assigned by Append and is
// strictly increasing within one collection's log.
type Record struct {
	Seq        uint64
	Kind       Kind
	Collection string
	Payload    []byte
}

// FsyncPolicy controls how aggressively Append forces data to disk.
type FsyncPolicy int

const (
	// FsyncAlways fsyncs after every record.
	FsyncAlways FsyncPolicy = iota
	// FsyncBatch fsyncs every BatchCount records or BatchWindow elapsed,
	// whichever comes first.
	FsyncBatch
	// FsyncNever never fsyncs explicitly, relying on OS flush; for tests
	// only.
	FsyncNever
)

// ParsePolicy converts the config string form (always|batch|never) into a
// FsyncPolicy, defaulting to FsyncBatch on anything unrecognized.
func ParsePolicy(s string) FsyncPolicy {
	switch s {
	case "always":
		return FsyncAlways
	case "never":
		return FsyncNever
	default:
		return FsyncBatch
	}
}

// Options configures a Log.
type Options struct {
	Policy      FsyncPolicy
	BatchWindow time.Duration
	BatchCount  int
}

// DefaultOptions mirrors the config package's WAL defaults.
func DefaultOptions() Options {
	return Options{Policy: FsyncBatch, BatchWindow: 10 * time.Millisecond, BatchCount: 256}
}

const headerSize = 4 + 4 // length + crc32

// Log is a single collection's append-only, fsync-policy-governed record
// stream, backed by one growable file on local disk.
type Log struct {
	mu           sync.Mutex
	path         string
	file         *os.File
	w            *bufio.Writer
	opts         Options
	nextSeq      uint64
	unsynced     int
	lastSyncTime time.Time
}

// Open opens (creating if absent) the WAL file at path, replaying its tail
// to recover nextSeq and truncating any torn trailing record.
func Open(path string, opts Options) (*Log, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, akierrors.Wrap(akierrors.Internal, "wal: mkdir", err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, akierrors.Wrap(akierrors.Internal, "wal: open", err)
	}

	lastSeq, err := recoverTail(f)
	if err != nil {
		f.Close()
		return nil, err
	}

	if _, err := f.Seek(0, io.SeekEnd); err != nil {
		f.Close()
		return nil, akierrors.Wrap(akierrors.Internal, "wal: seek end", err)
	}

	return &Log{
		path:         path,
		file:         f,
		w:            bufio.NewWriter(f),
		opts:         opts,
		nextSeq:      lastSeq + 1,
		lastSyncTime: time.Now(),
	}, nil
}

// recoverTail scans every framed record from the start of f, truncating
// the file to the end of the last record whose CRC validates. It returns
// the highest sequence number found in the surviving prefix (0 if empty).
func recoverTail(f *os.File) (uint64, error) {
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return 0, akierrors.Wrap(akierrors.Internal, "wal: recover seek", err)
	}

	r := bufio.NewReader(f)
	var offset int64
	var lastSeq uint64
	var lastGood int64

	for {
		header := make([]byte, headerSize)
		n, err := io.ReadFull(r, header)
		if err == io.EOF {
			break
		}
		if err != nil || n < headerSize {
			// Torn header at the tail: truncate here.
			break
		}

		length := binary.BigEndian.Uint32(header[0:4])
		wantCRC := binary.BigEndian.Uint32(header[4:8])

		payload := make([]byte, length)
		if _, err := io.ReadFull(r, payload); err != nil {
			// Torn payload at the tail: truncate here.
			break
		}

		if crc32.ChecksumIEEE(payload) != wantCRC {
			// Corrupted record: treat the log as ending just before it.
			break
		}

		rec, err := decodeRecord(payload)
		if err != nil {
			break
		}

		offset += int64(headerSize) + int64(length)
		lastGood = offset
		lastSeq = rec.Seq
	}

	if err := f.Truncate(lastGood); err != nil {
		return 0, akierrors.Wrap(akierrors.Internal, "wal: truncate torn tail", err)
	}
	return lastSeq, nil
}

// Append assigns the next sequence number to rec, frames and writes it,
// and fsyncs per the log's policy. It returns the assigned sequence.
func (l *Log) Append(rec Record) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	rec.Seq = l.nextSeq
	payload := encodeRecord(rec)

	header := make([]byte, headerSize)
	binary.BigEndian.PutUint32(header[0:4], uint32(len(payload)))
	binary.BigEndian.PutUint32(header[4:8], crc32.ChecksumIEEE(payload))

	if _, err := l.w.Write(header); err != nil {
		return 0, akierrors.Wrap(akierrors.Internal, "wal: write header", err)
	}
	if _, err := l.w.Write(payload); err != nil {
		return 0, akierrors.Wrap(akierrors.Internal, "wal: write payload", err)
	}
	if err := l.w.Flush(); err != nil {
		return 0, akierrors.Wrap(akierrors.Internal, "wal: flush", err)
	}

	l.unsynced++
	if l.shouldSync() {
		if err := l.file.Sync(); err != nil {
			return 0, akierrors.Wrap(akierrors.Internal, "wal: fsync", err)
		}
		l.unsynced = 0
		l.lastSyncTime = time.Now()
	}

	l.nextSeq++
	return rec.Seq, nil
}

func (l *Log) shouldSync() bool {
	switch l.opts.Policy {
	case FsyncAlways:
		return true
	case FsyncNever:
		return false
	default: // FsyncBatch
		if l.opts.BatchCount > 0 && l.unsynced >= l.opts.BatchCount {
			return true
		}
		if l.opts.BatchWindow > 0 && time.Since(l.lastSyncTime) >= l.opts.BatchWindow {
			return true
		}
		return false
	}
}

// Checkpoint appends a Checkpoint record marking everything up to and
// including seq as safely materialized.
func (l *Log) Checkpoint(seq uint64) (uint64, error) {
	return l.Append(Record{Kind: Checkpoint, Payload: encodeUint64(seq)})
}

// Replay reads every record with Seq >= from, in order, invoking fn for
// each. It stops and returns fn's error if fn returns non-nil.
func (l *Log) Replay(from uint64, fn func(Record) error) error {
	l.mu.Lock()
	f, err := os.Open(l.path)
	l.mu.Unlock()
	if err != nil {
		return akierrors.Wrap(akierrors.Internal, "wal: replay open", err)
	}
	defer f.Close()

	r := bufio.NewReader(f)
	for {
		header := make([]byte, headerSize)
		if _, err := io.ReadFull(r, header); err != nil {
			if err == io.EOF {
				return nil
			}
			return akierrors.Wrap(akierrors.Corrupted, "wal: replay header", err)
		}

		length := binary.BigEndian.Uint32(header[0:4])
		wantCRC := binary.BigEndian.Uint32(header[4:8])

		payload := make([]byte, length)
		if _, err := io.ReadFull(r, payload); err != nil {
			return akierrors.Wrap(akierrors.Corrupted, "wal: replay payload", err)
		}
		if crc32.ChecksumIEEE(payload) != wantCRC {
			return akierrors.New(akierrors.Corrupted, "wal: replay checksum mismatch")
		}

		rec, err := decodeRecord(payload)
		if err != nil {
			return akierrors.Wrap(akierrors.Corrupted, "wal: replay decode", err)
		}
		if rec.Seq < from {
			continue
		}
		if err := fn(rec); err != nil {
			return err
		}
	}
}

// NextSeq reports the sequence number that will be assigned to the next
// appended record.
func (l *Log) NextSeq() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.nextSeq
}

// Sync forces any unsynced records to disk regardless of policy, used
// before a controlled shutdown or before reporting an ack.
func (l *Log) Sync() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.file.Sync(); err != nil {
		return akierrors.Wrap(akierrors.Internal, "wal: sync", err)
	}
	l.unsynced = 0
	l.lastSyncTime = time.Now()
	return nil
}

// Close flushes and closes the underlying file.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.w.Flush(); err != nil {
		l.file.Close()
		return akierrors.Wrap(akierrors.Internal, "wal: close flush", err)
	}
	if err := l.file.Sync(); err != nil {
		l.file.Close()
		return akierrors.Wrap(akierrors.Internal, "wal: close sync", err)
	}
	return l.file.Close()
}

// --- record encoding -------------------------------------------------
//
// Tagged payload: [u64 seq][u8 kind][u16 collection len][collection bytes]
// [remaining bytes = payload]. The outer frame (length + crc32) in Append/
// Replay covers this whole encoding.

func encodeRecord(rec Record) []byte {
	collBytes := []byte(rec.Collection)
	buf := make([]byte, 8+1+2+len(collBytes)+len(rec.Payload))
	binary.BigEndian.PutUint64(buf[0:8], rec.Seq)
	buf[8] = byte(rec.Kind)
	binary.BigEndian.PutUint16(buf[9:11], uint16(len(collBytes)))
	off := 11
	copy(buf[off:], collBytes)
	off += len(collBytes)
	copy(buf[off:], rec.Payload)
	return buf
}

func decodeRecord(buf []byte) (Record, error) {
	if len(buf) < 11 {
		return Record{}, fmt.Errorf("wal: record too short")
	}
	seq := binary.BigEndian.Uint64(buf[0:8])
	kind := Kind(buf[8])
	collLen := int(binary.BigEndian.Uint16(buf[9:11]))
	if len(buf) < 11+collLen {
		return Record{}, fmt.Errorf("wal: truncated collection name")
	}
	coll := string(buf[11 : 11+collLen])
	payload := buf[11+collLen:]
	return Record{Seq: seq, Kind: kind, Collection: coll, Payload: payload}, nil
}

func encodeUint64(v uint64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, v)
	return buf
}

func decodeUint64(buf []byte) uint64 {
	if len(buf) < 8 {
		return 0
	}
	return binary.BigEndian.Uint64(buf)
}

// CheckpointSeq extracts the sequence number a Checkpoint record marks.
func CheckpointSeq(rec Record) uint64 {
	return decodeUint64(rec.Payload)
}
