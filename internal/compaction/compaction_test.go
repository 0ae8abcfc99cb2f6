package compaction

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/akidb/akidb/internal/collection"
)

type fakeTarget struct {
	mu          sync.Mutex
	stats       map[string]collection.IndexStats
	compactions atomic.Int32
}

func (f *fakeTarget) CollectionIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	ids := make([]string, 0, len(f.stats))
	for id := range f.stats {
		ids = append(ids, id)
	}
	return ids
}

func (f *fakeTarget) IndexStats(id string) (collection.IndexStats, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stats[id], nil
}

func (f *fakeTarget) Compact(id string) (collection.IndexStats, error) {
	f.compactions.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	result := collection.IndexStats{Live: f.stats[id].Live, TotalNodes: f.stats[id].Live}
	f.stats[id] = result
	return result, nil
}

func newTestScheduler(target Target, cfg Config) *Scheduler {
	return NewScheduler(target, cfg, slog.New(slog.DiscardHandler))
}

func TestSweep_CompactsOrphanHeavyIdleCollection(t *testing.T) {
	target := &fakeTarget{stats: map[string]collection.IndexStats{
		"c1": {Live: 700, Tombstoned: 300, TotalNodes: 1000},
	}}
	cfg := Config{Enabled: true, OrphanThreshold: 0.2, MinOrphanCount: 100, IdleTimeout: 0, SweepInterval: time.Hour}
	s := newTestScheduler(target, cfg)

	s.sweep(context.Background())

	assert.Equal(t, int32(1), target.compactions.Load())
	result, ok := s.LastResult("c1")
	require.True(t, ok)
	assert.Equal(t, 700, result.Live)
}

func TestSweep_SkipsBelowOrphanThreshold(t *testing.T) {
	target := &fakeTarget{stats: map[string]collection.IndexStats{
		"c1": {Live: 950, Tombstoned: 50, TotalNodes: 1000},
	}}
	cfg := Config{Enabled: true, OrphanThreshold: 0.3, MinOrphanCount: 100, IdleTimeout: 0, SweepInterval: time.Hour}
	s := newTestScheduler(target, cfg)

	s.sweep(context.Background())

	assert.Equal(t, int32(0), target.compactions.Load())
}

func TestSweep_SkipsBelowMinOrphanCount(t *testing.T) {
	target := &fakeTarget{stats: map[string]collection.IndexStats{
		"c1": {Live: 10, Tombstoned: 90, TotalNodes: 100},
	}}
	cfg := Config{Enabled: true, OrphanThreshold: 0.3, MinOrphanCount: 1000, IdleTimeout: 0, SweepInterval: time.Hour}
	s := newTestScheduler(target, cfg)

	s.sweep(context.Background())

	assert.Equal(t, int32(0), target.compactions.Load())
}

func TestSweep_SkipsWhenNotYetIdle(t *testing.T) {
	target := &fakeTarget{stats: map[string]collection.IndexStats{
		"c1": {Live: 700, Tombstoned: 300, TotalNodes: 1000},
	}}
	cfg := Config{Enabled: true, OrphanThreshold: 0.2, MinOrphanCount: 100, IdleTimeout: time.Hour, SweepInterval: time.Hour}
	s := newTestScheduler(target, cfg)
	s.Touch("c1")

	s.sweep(context.Background())

	assert.Equal(t, int32(0), target.compactions.Load())
}

func TestSweep_DisabledConfigNeverCompacts(t *testing.T) {
	target := &fakeTarget{stats: map[string]collection.IndexStats{
		"c1": {Live: 100, Tombstoned: 900, TotalNodes: 1000},
	}}
	cfg := Config{Enabled: false, OrphanThreshold: 0.1, MinOrphanCount: 1, IdleTimeout: 0}
	s := newTestScheduler(target, cfg)

	s.sweep(context.Background())

	assert.Equal(t, int32(0), target.compactions.Load())
}

func TestStart_SweepsOnTicker(t *testing.T) {
	target := &fakeTarget{stats: map[string]collection.IndexStats{
		"c1": {Live: 700, Tombstoned: 300, TotalNodes: 1000},
	}}
	cfg := Config{Enabled: true, OrphanThreshold: 0.2, MinOrphanCount: 100, IdleTimeout: 0, SweepInterval: 5 * time.Millisecond}
	s := newTestScheduler(target, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)
	defer s.Stop()

	assert.Eventually(t, func() bool {
		return target.compactions.Load() >= 1
	}, time.Second, 5*time.Millisecond)
}

func TestStop_BeforeStartIsNoop(t *testing.T) {
	target := &fakeTarget{stats: map[string]collection.IndexStats{}}
	s := newTestScheduler(target, DefaultConfig())
	assert.NotPanics(t, func() { s.Stop() })
}
