package bruteforce

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/akidb/akidb/internal/vector"
)

func TestSearch_ExactNearestFirst(t *testing.T) {
	idx := New(4, vector.Cosine)
	require.NoError(t, idx.Insert("a", []float32{1, 0, 0, 0}))
	require.NoError(t, idx.Insert("b", []float32{0, 1, 0, 0}))
	require.NoError(t, idx.Insert("c", []float32{0.9, 0.1, 0, 0}))

	results, err := idx.Search([]float32{1, 0, 0, 0}, 2)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "a", results[0].ID)
	assert.Equal(t, "c", results[1].ID)
}

func TestSearch_KLargerThanStoreReturnsAll(t *testing.T) {
	idx := New(2, vector.L2)
	require.NoError(t, idx.Insert("a", []float32{1, 1}))
	results, err := idx.Search([]float32{0, 0}, 10)
	require.NoError(t, err)
	assert.Len(t, results, 1)
}

func TestDelete_RemovesFromFutureSearches(t *testing.T) {
	idx := New(2, vector.L2)
	require.NoError(t, idx.Insert("a", []float32{1, 1}))
	idx.Delete("a")
	assert.False(t, idx.Contains("a"))
	results, err := idx.Search([]float32{1, 1}, 5)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestInsert_DimensionMismatch(t *testing.T) {
	idx := New(3, vector.Cosine)
	err := idx.Insert("a", []float32{1, 2})
	assert.Error(t, err)
}

func TestDeterministicTieBreakByID(t *testing.T) {
	idx := New(2, vector.L2)
	require.NoError(t, idx.Insert("z", []float32{1, 0}))
	require.NoError(t, idx.Insert("a", []float32{1, 0}))
	results, err := idx.Search([]float32{1, 0}, 2)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "a", results[0].ID)
	assert.Equal(t, "z", results[1].ID)
}
