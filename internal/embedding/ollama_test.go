package embedding

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	akierrors "github.com/akidb/akidb/internal/errors"
)

func TestOllamaProvider_Embed_ReturnsVectorsFromServer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req ollamaEmbedRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "test-model", req.Model)

		_ = json.NewEncoder(w).Encode(ollamaEmbedResponse{
			Embeddings: [][]float64{{1, 0, 0}, {0, 1, 0}},
		})
	}))
	defer srv.Close()

	cfg := DefaultOllamaConfig()
	cfg.Host = srv.URL
	cfg.Retry = akierrors.RetryConfig{MaxRetries: 1, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, Multiplier: 1}
	p := NewOllamaProvider(cfg)
	defer p.Close()

	vecs, err := p.Embed(context.Background(), []string{"a", "b"}, "test-model")
	require.NoError(t, err)
	require.Len(t, vecs, 2)
	assert.Equal(t, []float32{1, 0, 0}, vecs[0])
}

func TestOllamaProvider_Embed_EmptyBatchReturnsNil(t *testing.T) {
	p := NewOllamaProvider(DefaultOllamaConfig())
	vecs, err := p.Embed(context.Background(), nil, "m")
	require.NoError(t, err)
	assert.Nil(t, vecs)
}

func TestOllamaProvider_Embed_ServerErrorSurfacesAfterRetries(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	cfg := DefaultOllamaConfig()
	cfg.Host = srv.URL
	cfg.Retry = akierrors.RetryConfig{MaxRetries: 2, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, Multiplier: 1}
	p := NewOllamaProvider(cfg)
	defer p.Close()

	_, err := p.Embed(context.Background(), []string{"a"}, "test-model")
	require.Error(t, err)
}

func TestOllamaProvider_Embed_MismatchedBatchSizeFails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(ollamaEmbedResponse{Embeddings: [][]float64{{1, 0}}})
	}))
	defer srv.Close()

	cfg := DefaultOllamaConfig()
	cfg.Host = srv.URL
	cfg.Retry = akierrors.RetryConfig{MaxRetries: 1, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, Multiplier: 1}
	p := NewOllamaProvider(cfg)
	defer p.Close()

	_, err := p.Embed(context.Background(), []string{"a", "b"}, "test-model")
	require.Error(t, err)
}
