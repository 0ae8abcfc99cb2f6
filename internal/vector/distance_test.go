package vector

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCosineDistance_IdenticalVectorsAreZero(t *testing.T) {
	a := []float32{1, 0, 0, 0}
	d := CosineDistance(a, a)
	assert.InDelta(t, 0, d, 1e-6)
}

func TestCosineDistance_OrthogonalVectorsAreOne(t *testing.T) {
	a := []float32{1, 0, 0, 0}
	b := []float32{0, 1, 0, 0}
	d := CosineDistance(a, b)
	assert.InDelta(t, 1, d, 1e-6)
}

func TestCosineDistance_OppositeVectorsAreTwo(t *testing.T) {
	a := []float32{1, 0, 0, 0}
	b := []float32{-1, 0, 0, 0}
	d := CosineDistance(a, b)
	assert.InDelta(t, 2, d, 1e-6)
}

func TestL2Distance_IdenticalVectorsAreZero(t *testing.T) {
	a := []float32{1, 2, 3}
	assert.InDelta(t, 0, L2Distance(a, a), 1e-6)
}

func TestL2Distance_IsSquaredNotRooted(t *testing.T) {
	a := []float32{0, 0}
	b := []float32{3, 4}
	assert.InDelta(t, 25, L2Distance(a, b), 1e-6)
}

func TestInnerProductDistance_Ordering(t *testing.T) {
	q := []float32{1, 0}
	close := []float32{0.9, 0.1}
	far := []float32{0, 1}
	assert.Less(t, InnerProductDistance(q, close), InnerProductDistance(q, far))
}

func TestNormalize_UnitLength(t *testing.T) {
	v := []float32{3, 4}
	Normalize(v)
	assert.InDelta(t, 1, vekNorm(v), 1e-5)
}

func TestNormalize_ZeroVectorUntouched(t *testing.T) {
	v := []float32{0, 0, 0}
	Normalize(v)
	assert.Equal(t, []float32{0, 0, 0}, v)
}

func TestNormalized_DoesNotMutateInput(t *testing.T) {
	v := []float32{3, 4}
	out := Normalized(v)
	require.Equal(t, []float32{3, 4}, v)
	assert.InDelta(t, 1, vekNorm(out), 1e-5)
}

func TestScoreFromDistance_CosineRange(t *testing.T) {
	assert.InDelta(t, 1, ScoreFromDistance(0, Cosine), 1e-6)
	assert.InDelta(t, 0, ScoreFromDistance(2, Cosine), 1e-6)
}

func TestScoreFromDistance_L2Range(t *testing.T) {
	assert.InDelta(t, 1, ScoreFromDistance(0, L2), 1e-6)
	assert.Greater(t, ScoreFromDistance(0, L2), ScoreFromDistance(10, L2))
}

func TestForMetric_DefaultsToCosine(t *testing.T) {
	f := ForMetric("")
	assert.InDelta(t, 0, f([]float32{1, 0}, []float32{1, 0}), 1e-6)
}

func vekNorm(v []float32) float32 {
	var sum float32
	for _, x := range v {
		sum += x * x
	}
	return sqrt32(sum)
}

func sqrt32(x float32) float32 {
	// local helper to avoid importing math32 twice in the test file
	lo, hi := float32(0), x
	if hi < 1 {
		hi = 1
	}
	for i := 0; i < 40; i++ {
		mid := (lo + hi) / 2
		if mid*mid < x {
			lo = mid
		} else {
			hi = mid
		}
	}
	return (lo + hi) / 2
}
