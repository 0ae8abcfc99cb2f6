// Package vector provides the distance kernels AkiDB's indexes are built on.
package vector

import (
	"github.com/chewxy/math32"
	"github.com/viterin/vek/vek32"
)

// Metric names the supported distance functions. A collection's metric is
// fixed at creation and never changes for the life of the collection.
type Metric string

const (
	Cosine       Metric = "cosine"
	L2           Metric = "l2"
	InnerProduct Metric = "dot"
)

// Func computes the distance between two equal-length vectors. Lower is
// closer. Func does not validate dimension equality; callers validate once
// at the boundary (insert/query) rather than on every kernel call.
type Func func(a, b []float32) float32

// ForMetric returns the kernel for the given metric, defaulting to Cosine
// for an empty or unrecognized value.
func ForMetric(m Metric) Func {
	switch m {
	case L2:
		return L2Distance
	case InnerProduct:
		return InnerProductDistance
	default:
		return CosineDistance
	}
}

// CosineDistance returns 1 - cosine_similarity(a, b), ranging [0, 2].
// Vectors are expected to already be unit-normalized by the caller
// (Normalize); if not, this still computes a correct cosine distance at the
// cost of an extra pass over both vectors.
func CosineDistance(a, b []float32) float32 {
	dot := vek32.Dot(a, b)
	na := vek32.Dot(a, a)
	nb := vek32.Dot(b, b)
	denom := math32.Sqrt(na) * math32.Sqrt(nb)
	if denom == 0 {
		return 1
	}
	sim := dot / denom
	if sim > 1 {
		sim = 1
	} else if sim < -1 {
		sim = -1
	}
	return 1 - sim
}

// L2Distance returns the squared Euclidean distance between a and b. Squared
// rather than rooted: it preserves nearest-neighbor ordering and is what the
// index's candidate heap compares. The indexes report this squared value as
// a result's Distance; no square root is taken afterwards.
func L2Distance(a, b []float32) float32 {
	var sum float32
	n := len(a)
	for i := 0; i < n; i++ {
		d := a[i] - b[i]
		sum += d * d
	}
	return sum
}

// InnerProductDistance returns 1 - dot(a, b), so that larger inner products
// (more similar, for normalized embedding vectors) sort as smaller distances.
func InnerProductDistance(a, b []float32) float32 {
	return 1 - vek32.Dot(a, b)
}

// Normalize scales v to unit length in place. A zero vector is left
// untouched rather than dividing by zero.
func Normalize(v []float32) {
	sumSquares := vek32.Dot(v, v)
	if sumSquares == 0 {
		return
	}
	inv := 1 / math32.Sqrt(sumSquares)
	for i := range v {
		v[i] *= inv
	}
}

// Normalized returns a unit-length copy of v, leaving v untouched.
func Normalized(v []float32) []float32 {
	out := make([]float32, len(v))
	copy(out, v)
	Normalize(out)
	return out
}

// ScoreFromDistance converts a kernel distance back into a similarity
// score, higher is more similar: 1/(1+d) in (0, 1] for L2, and 1 - d/2 for
// Cosine and InnerProduct, which lies in [0, 1] for unit-length vectors but
// is not bounded for InnerProduct over vectors that are not unit length.
func ScoreFromDistance(distance float32, m Metric) float32 {
	switch m {
	case L2:
		return 1.0 / (1.0 + distance)
	default: // Cosine, InnerProduct
		return 1.0 - distance/2.0
	}
}
