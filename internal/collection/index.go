package collection

import (
	"github.com/akidb/akidb/internal/bruteforce"
	"github.com/akidb/akidb/internal/hnsw"
	"github.com/akidb/akidb/internal/vector"
)

// Result is a single nearest-neighbor hit, independent of which index
// implementation produced it.
type Result struct {
	ID       string
	Distance float32
	Score    float32
}

// IndexStats reports occupancy for compaction scheduling, independent of
// which index implementation is backing a collection.
type IndexStats struct {
	Live       int
	Tombstoned int
	TotalNodes int
	MaxLevel   int
}

// index is the common contract the Collection Service orchestrates
// against, satisfied by both the approximate HNSW graph and the exact
// brute-force scan: insert/search/delete/compact, identical in shape
// regardless of which is chosen at collection-creation time.
type index interface {
	Insert(id string, vec []float32) error
	Search(query []float32, k, ef int) ([]Result, error)
	Delete(id string) bool
	Contains(id string) bool
	AllIDs() []string
	Len() int
	Compact() (IndexStats, error)
	Stats() IndexStats
}

type hnswAdapter struct{ idx *hnsw.Index }

func newHNSWAdapter(idx *hnsw.Index) index { return hnswAdapter{idx: idx} }

func (a hnswAdapter) Insert(id string, vec []float32) error { return a.idx.Insert(id, vec) }

func (a hnswAdapter) Search(query []float32, k, ef int) ([]Result, error) {
	rs, err := a.idx.Search(query, k, ef)
	if err != nil {
		return nil, err
	}
	out := make([]Result, len(rs))
	for i, r := range rs {
		out[i] = Result{ID: r.ID, Distance: r.Distance, Score: r.Score}
	}
	return out, nil
}

func (a hnswAdapter) Delete(id string) bool  { return a.idx.MarkDeleted(id) }
func (a hnswAdapter) Contains(id string) bool { return a.idx.Contains(id) }
func (a hnswAdapter) AllIDs() []string        { return a.idx.AllIDs() }
func (a hnswAdapter) Len() int                { return a.idx.Len() }

func (a hnswAdapter) Compact() (IndexStats, error) {
	s, err := a.idx.Compact()
	if err != nil {
		return IndexStats{}, err
	}
	return IndexStats{Live: s.Live, Tombstoned: s.Tombstoned, TotalNodes: s.TotalNodes, MaxLevel: s.MaxLevel}, nil
}

// Stats reports current occupancy without rebuilding the graph, letting a
// background scheduler decide whether a Compact is worth paying for.
func (a hnswAdapter) Stats() IndexStats {
	s := a.idx.Stats()
	return IndexStats{Live: s.Live, Tombstoned: s.Tombstoned, TotalNodes: s.TotalNodes, MaxLevel: s.MaxLevel}
}

type bruteAdapter struct{ idx *bruteforce.Index }

func newBruteAdapter(idx *bruteforce.Index) index { return bruteAdapter{idx: idx} }

func (a bruteAdapter) Insert(id string, vec []float32) error { return a.idx.Insert(id, vec) }

func (a bruteAdapter) Search(query []float32, k, _ int) ([]Result, error) {
	rs, err := a.idx.Search(query, k)
	if err != nil {
		return nil, err
	}
	out := make([]Result, len(rs))
	for i, r := range rs {
		out[i] = Result{ID: r.ID, Distance: r.Distance, Score: r.Score}
	}
	return out, nil
}

func (a bruteAdapter) Delete(id string) bool {
	if !a.idx.Contains(id) {
		return false
	}
	a.idx.Delete(id)
	return true
}

func (a bruteAdapter) Contains(id string) bool { return a.idx.Contains(id) }
func (a bruteAdapter) AllIDs() []string         { return a.idx.AllIDs() }
func (a bruteAdapter) Len() int                 { return a.idx.Len() }

// Compact is a no-op for the exact index: brute force never tombstones,
// so there is nothing to reclaim.
func (a bruteAdapter) Compact() (IndexStats, error) {
	return IndexStats{Live: a.idx.Len()}, nil
}

// Stats reports occupancy; brute force has no tombstones, so a scheduler
// watching orphan ratio will never trigger a Compact for it.
func (a bruteAdapter) Stats() IndexStats {
	return IndexStats{Live: a.idx.Len(), TotalNodes: a.idx.Len()}
}

// normalizeMetric maps the external configuration string onto the
// vector package's kernel-selecting Metric, defaulting to Cosine.
func normalizeMetric(s string) vector.Metric {
	switch s {
	case "l2":
		return vector.L2
	case "inner_product", "dot":
		return vector.InnerProduct
	default:
		return vector.Cosine
	}
}
