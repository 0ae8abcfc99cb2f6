// Package embedding defines AkiDB's boundary to an external embedding
// provider: a single batch call, gated by bounded concurrency so a burst
// of text inserts cannot stampede a native or remote embedding backend.
package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/semaphore"

	akierrors "github.com/akidb/akidb/internal/errors"
	"github.com/akidb/akidb/internal/vector"
)

// Provider is the external embedding capability: given a batch of texts
// and a model hint, return one unit-norm vector per text. Implementations
// may be in-process, subprocess-stdio, or network-backed; the only
// contract AkiDB's core requires is that calls are cancellable via ctx.
type Provider interface {
	Embed(ctx context.Context, texts []string, model string) ([][]float32, error)
}

// Gate wraps a Provider with a bounded-concurrency semaphore and a cache
// of recent (text, model) embeddings, so a repeated identical insert or
// query does not re-pay the embedding round trip.
type Gate struct {
	provider     Provider
	sem          *semaphore.Weighted
	cache        *lru.Cache[string, []float32]
	waitObserver func(time.Duration)
}

// NewGate builds a Gate that admits at most concurrency in-flight calls to
// provider at once, caching up to cacheSize recent results. waitObserver,
// if non-nil, is called with how long each miss waited to acquire the
// gate's semaphore — the wait-time metric that makes the gate's
// backpressure observable rather than opaque. Pass nil where no
// instrumentation is wired.
func NewGate(provider Provider, concurrency, cacheSize int, waitObserver func(time.Duration)) (*Gate, error) {
	if concurrency <= 0 {
		concurrency = 1
	}
	if cacheSize <= 0 {
		cacheSize = 1
	}
	cache, err := lru.New[string, []float32](cacheSize)
	if err != nil {
		return nil, akierrors.Wrap(akierrors.Internal, "embedding: init cache", err)
	}
	return &Gate{
		provider:     provider,
		sem:          semaphore.NewWeighted(int64(concurrency)),
		cache:        cache,
		waitObserver: waitObserver,
	}, nil
}

// Embed returns one unit-norm vector per text, consulting the cache first
// and only calling through the gate for texts that miss. Provider failures
// are surfaced as EmbeddingUnavailable; the WAL and index are never
// touched by this call, so a failure here leaves no durable trace to
// unwind.
func (g *Gate) Embed(ctx context.Context, texts []string, model string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	misses := make([]int, 0, len(texts))
	missTexts := make([]string, 0, len(texts))

	for i, text := range texts {
		key := cacheKey(text, model)
		if v, ok := g.cache.Get(key); ok {
			out[i] = v
			continue
		}
		misses = append(misses, i)
		missTexts = append(missTexts, text)
	}

	if len(missTexts) == 0 {
		return out, nil
	}

	waitStart := time.Now()
	err := g.sem.Acquire(ctx, 1)
	if g.waitObserver != nil {
		g.waitObserver(time.Since(waitStart))
	}
	if err != nil {
		return nil, akierrors.Wrap(akierrors.EmbeddingUnavailable, "embedding: gate acquire", err)
	}
	vecs, err := g.provider.Embed(ctx, missTexts, model)
	g.sem.Release(1)
	if err != nil {
		return nil, akierrors.Wrap(akierrors.EmbeddingUnavailable, "embedding: provider call failed", err)
	}
	if len(vecs) != len(missTexts) {
		return nil, akierrors.New(akierrors.EmbeddingUnavailable, "embedding: provider returned wrong batch size").
			WithDetail("want", len(missTexts)).WithDetail("got", len(vecs))
	}

	for j, idx := range misses {
		v := vector.Normalized(vecs[j])
		out[idx] = v
		g.cache.Add(cacheKey(missTexts[j], model), v)
	}
	return out, nil
}

func cacheKey(text, model string) string {
	sum := sha256.Sum256([]byte(model + "\x00" + text))
	return hex.EncodeToString(sum[:])
}

// NullProvider always fails with EmbeddingUnavailable; used where no real
// provider has been wired, so a misconfigured collection fails fast rather
// than silently returning zero vectors.
type NullProvider struct{}

func (NullProvider) Embed(context.Context, []string, string) ([][]float32, error) {
	return nil, akierrors.New(akierrors.EmbeddingUnavailable, "embedding: no provider configured")
}
