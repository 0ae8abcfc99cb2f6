// Package compaction runs the background sweep that reclaims HNSW
// tombstones once a collection has been idle long enough and its orphan
// ratio has crossed the configured threshold.
package compaction

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/akidb/akidb/internal/collection"
)

// Target is the subset of the Collection Service a Scheduler needs:
// enumerate collections, read their occupancy cheaply, and compact one
// when it is due.
type Target interface {
	CollectionIDs() []string
	IndexStats(collectionID string) (collection.IndexStats, error)
	Compact(collectionID string) (collection.IndexStats, error)
}

// Config mirrors config.CompactionConfig plus a SweepInterval; kept as its
// own type so this package does not need to import the config package for
// a handful of fields.
type Config struct {
	Enabled         bool
	OrphanThreshold float64
	MinOrphanCount  int
	IdleTimeout     time.Duration
	SweepInterval   time.Duration
}

// DefaultConfig returns conservative scheduling defaults.
func DefaultConfig() Config {
	return Config{
		Enabled:         true,
		OrphanThreshold: 0.3,
		MinOrphanCount:  1000,
		IdleTimeout:     60 * time.Second,
		SweepInterval:   10 * time.Second,
	}
}

// Scheduler periodically sweeps every collection and compacts those that
// are both orphan-heavy and idle. One Scheduler serves every collection a
// Service holds; Touch resets a collection's idle clock and is wired as
// the Service's ActivityHook.
type Scheduler struct {
	target Target
	cfg    Config
	logger *slog.Logger

	mu           sync.Mutex
	lastActivity map[string]time.Time
	lastResult   map[string]collection.IndexStats

	stopCh  chan struct{}
	doneCh  chan struct{}
	running bool
}

// NewScheduler constructs a Scheduler. Start must be called to begin
// sweeping; an unstarted Scheduler only tracks activity via Touch.
func NewScheduler(target Target, cfg Config, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = 10 * time.Second
	}
	return &Scheduler{
		target:       target,
		cfg:          cfg,
		logger:       logger,
		lastActivity: make(map[string]time.Time),
		lastResult:   make(map[string]collection.IndexStats),
		stopCh:       make(chan struct{}),
		doneCh:       make(chan struct{}),
	}
}

// Touch marks collectionID as having just seen traffic, restarting its
// idle clock. Safe to call from any goroutine, including before Start.
func (s *Scheduler) Touch(collectionID string) {
	s.mu.Lock()
	s.lastActivity[collectionID] = time.Now()
	s.mu.Unlock()
}

// Start begins periodic sweeping in a background goroutine. A disabled
// config still runs the loop so Stop remains safe to call unconditionally,
// but sweep() is a no-op when cfg.Enabled is false.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.mu.Unlock()

	go s.run(ctx)
}

func (s *Scheduler) run(ctx context.Context) {
	defer close(s.doneCh)

	ticker := time.NewTicker(s.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

// sweep checks every known collection's occupancy against the
// orphan-ratio threshold and, for those also past their idle timeout,
// triggers a Compact.
func (s *Scheduler) sweep(ctx context.Context) {
	if !s.cfg.Enabled {
		return
	}

	for _, id := range s.target.CollectionIDs() {
		select {
		case <-ctx.Done():
			return
		default:
		}

		stats, err := s.target.IndexStats(id)
		if err != nil {
			continue
		}
		if stats.TotalNodes == 0 {
			continue
		}
		ratio := float64(stats.Tombstoned) / float64(stats.TotalNodes)
		if ratio < s.cfg.OrphanThreshold || stats.Tombstoned < s.cfg.MinOrphanCount {
			continue
		}

		s.mu.Lock()
		last, seen := s.lastActivity[id]
		s.mu.Unlock()
		if seen && time.Since(last) < s.cfg.IdleTimeout {
			continue
		}

		result, err := s.target.Compact(id)
		if err != nil {
			s.logger.Warn("background compaction failed", slog.String("collection", id), slog.String("error", err.Error()))
			continue
		}
		s.logger.Info("background compaction completed",
			slog.String("collection", id),
			slog.Int("live", result.Live),
			slog.Int("reclaimed", stats.Tombstoned))

		s.mu.Lock()
		s.lastResult[id] = result
		s.mu.Unlock()
	}
}

// LastResult returns the most recent compaction outcome recorded for a
// collection, for the doctor/stats CLI surface.
func (s *Scheduler) LastResult(collectionID string) (collection.IndexStats, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.lastResult[collectionID]
	return r, ok
}

// Stop signals the sweep loop to exit and waits for it to finish. Safe to
// call even if Start was never called — doneCh was created closed-able
// and run() is the only closer, so a never-started Scheduler would block
// forever; guard on running.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	running := s.running
	s.mu.Unlock()
	if !running {
		return
	}
	close(s.stopCh)
	<-s.doneCh
}
