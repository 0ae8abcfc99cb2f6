package embedding

import (
	"context"
	"hash/fnv"
	"regexp"
	"strings"
	"unicode"

	"github.com/akidb/akidb/internal/vector"
)

// StaticProvider generates deterministic hash-based embeddings with no
// network dependency and no model to download — an offline Provider for
// local development, CI, and the CLI's default --embedder.
// Semantic quality is far below a trained model's; it exists so the
// embedding boundary always has something to call.
type StaticProvider struct {
	dimension int
}

// NewStaticProvider returns a provider producing vectors of the given
// dimension (256 when dimension is not positive), matching whatever the
// target collection declared. Vectors are unit-norm, except that blank text
// yields the zero vector.
func NewStaticProvider(dimension int) *StaticProvider {
	if dimension <= 0 {
		dimension = 256
	}
	return &StaticProvider{dimension: dimension}
}

var tokenRegex = regexp.MustCompile(`[a-zA-Z0-9]+`)

const (
	tokenWeight = 0.7
	ngramWeight = 0.3
	ngramSize   = 3
)

// Embed satisfies Provider. model is ignored: the static hash scheme has
// no notion of distinct models.
func (p *StaticProvider) Embed(_ context.Context, texts []string, _ string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		out[i] = p.embedOne(text)
	}
	return out, nil
}

func (p *StaticProvider) embedOne(text string) []float32 {
	v := make([]float32, p.dimension)
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return v
	}

	for _, tok := range tokenize(trimmed) {
		v[hashToIndex(tok, p.dimension)] += tokenWeight
	}
	normalized := normalizeForNgrams(trimmed)
	for _, ngram := range extractNgrams(normalized, ngramSize) {
		v[hashToIndex(ngram, p.dimension)] += ngramWeight
	}
	return vector.Normalized(v)
}

func tokenize(text string) []string {
	var tokens []string
	for _, word := range tokenRegex.FindAllString(text, -1) {
		for _, t := range splitCodeToken(word) {
			if lower := strings.ToLower(t); lower != "" {
				tokens = append(tokens, lower)
			}
		}
	}
	return tokens
}

func splitCodeToken(token string) []string {
	if strings.Contains(token, "_") {
		var result []string
		for _, part := range strings.Split(token, "_") {
			if part != "" {
				result = append(result, splitCamelCase(part)...)
			}
		}
		return result
	}
	return splitCamelCase(token)
}

func splitCamelCase(s string) []string {
	if s == "" {
		return nil
	}
	var result []string
	var current strings.Builder
	runes := []rune(s)
	for i, r := range runes {
		if i > 0 && unicode.IsUpper(r) {
			prevLower := unicode.IsLower(runes[i-1])
			nextLower := i+1 < len(runes) && unicode.IsLower(runes[i+1])
			if prevLower || nextLower {
				if current.Len() > 0 {
					result = append(result, current.String())
					current.Reset()
				}
			}
		}
		current.WriteRune(r)
	}
	if current.Len() > 0 {
		result = append(result, current.String())
	}
	return result
}

func normalizeForNgrams(text string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(text) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func extractNgrams(text string, n int) []string {
	if len(text) < n {
		return nil
	}
	ngrams := make([]string, 0, len(text)-n+1)
	for i := 0; i <= len(text)-n; i++ {
		ngrams = append(ngrams, text[i:i+n])
	}
	return ngrams
}

func hashToIndex(s string, size int) int {
	h := fnv.New64()
	_, _ = h.Write([]byte(s))
	return int(h.Sum64() % uint64(size))
}
