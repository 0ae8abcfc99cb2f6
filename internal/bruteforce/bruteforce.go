// Package bruteforce implements an exact linear-scan nearest-neighbor
// index. It exists as the oracle the HNSW approximate index is validated
// against, and as the fallback path for collections too small for an
// approximate index to be worth the bookkeeping.
package bruteforce

import (
	"fmt"
	"sort"
	"sync"

	"github.com/akidb/akidb/internal/vector"
)

// Index holds every live vector and scans all of them on each query.
type Index struct {
	mu        sync.RWMutex
	dimension int
	metric    vector.Metric
	dist      vector.Func
	vectors   map[string][]float32
}

// New creates an empty exact index for the given dimension and metric.
func New(dimension int, metric vector.Metric) *Index {
	return &Index{
		dimension: dimension,
		metric:    metric,
		dist:      vector.ForMetric(metric),
		vectors:   make(map[string][]float32),
	}
}

// Result is a single nearest-neighbor hit.
type Result struct {
	ID       string
	Distance float32
	Score    float32
}

// Insert adds or replaces the vector stored under id.
func (idx *Index) Insert(id string, vec []float32) error {
	if len(vec) != idx.dimension {
		return fmt.Errorf("bruteforce: dimension mismatch: expected %d, got %d", idx.dimension, len(vec))
	}
	stored := make([]float32, len(vec))
	copy(stored, vec)
	if idx.metric == vector.Cosine {
		vector.Normalize(stored)
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.vectors[id] = stored
	return nil
}

// Delete removes id, if present.
func (idx *Index) Delete(id string) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	delete(idx.vectors, id)
}

// Contains reports whether id is present.
func (idx *Index) Contains(id string) bool {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	_, ok := idx.vectors[id]
	return ok
}

// Len returns the number of stored vectors.
func (idx *Index) Len() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.vectors)
}

// AllIDs returns every stored ID.
func (idx *Index) AllIDs() []string {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	out := make([]string, 0, len(idx.vectors))
	for id := range idx.vectors {
		out = append(out, id)
	}
	return out
}

// Search scans every stored vector and returns the k closest to query,
// exact rather than approximate, ties broken by ID for determinism.
func (idx *Index) Search(query []float32, k int) ([]Result, error) {
	if len(query) != idx.dimension {
		return nil, fmt.Errorf("bruteforce: dimension mismatch: expected %d, got %d", idx.dimension, len(query))
	}
	q := make([]float32, len(query))
	copy(q, query)
	if idx.metric == vector.Cosine {
		vector.Normalize(q)
	}

	idx.mu.RLock()
	defer idx.mu.RUnlock()

	results := make([]Result, 0, len(idx.vectors))
	for id, v := range idx.vectors {
		d := idx.dist(q, v)
		results = append(results, Result{ID: id, Distance: d, Score: vector.ScoreFromDistance(d, idx.metric)})
	}
	sort.Slice(results, func(i, j int) bool {
		if results[i].Distance != results[j].Distance {
			return results[i].Distance < results[j].Distance
		}
		return results[i].ID < results[j].ID
	})
	if k < len(results) {
		results = results[:k]
	}
	return results, nil
}
