package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	akierrors "github.com/akidb/akidb/internal/errors"
)

// OllamaConfig configures an OllamaProvider: the network-backed embedding
// collaborator spec.md's §6 boundary names as one of many interchangeable
// implementations behind the single-method Provider contract.
type OllamaConfig struct {
	Host           string
	Model          string
	Timeout        time.Duration
	ConnectTimeout time.Duration
	PoolSize       int
	Retry          akierrors.RetryConfig
}

// DefaultOllamaConfig returns sensible defaults for a local Ollama instance.
func DefaultOllamaConfig() OllamaConfig {
	return OllamaConfig{
		Host:           "http://localhost:11434",
		Model:          "qwen3-embedding:0.6b",
		Timeout:        60 * time.Second,
		ConnectTimeout: 5 * time.Second,
		PoolSize:       4,
		Retry:          akierrors.DefaultRetryConfig(),
	}
}

// OllamaProvider embeds text via Ollama's HTTP `/api/embed` endpoint. It
// trades the teacher's thermal-progression timeout scaling and model
// discovery for the errors package's generic exponential backoff — AkiDB's
// embedding boundary is a single batch call with a model hint the caller
// already resolved, not a locally-managed model lifecycle.
type OllamaProvider struct {
	client *http.Client
	cfg    OllamaConfig
}

// NewOllamaProvider constructs a provider talking to cfg.Host. No health
// check is performed at construction time; failures surface on first Embed
// call as EmbeddingUnavailable, consistent with the boundary being an
// external collaborator whose availability can change at any time.
func NewOllamaProvider(cfg OllamaConfig) *OllamaProvider {
	if cfg.Host == "" {
		cfg.Host = "http://localhost:11434"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.PoolSize <= 0 {
		cfg.PoolSize = 4
	}
	transport := &http.Transport{
		MaxIdleConns:        cfg.PoolSize,
		MaxIdleConnsPerHost: cfg.PoolSize,
		MaxConnsPerHost:     cfg.PoolSize * 2,
		IdleConnTimeout:     10 * time.Second,
	}
	return &OllamaProvider{
		client: &http.Client{Transport: transport},
		cfg:    cfg,
	}
}

type ollamaEmbedRequest struct {
	Model string `json:"model"`
	Input any    `json:"input"`
}

type ollamaEmbedResponse struct {
	Embeddings [][]float64 `json:"embeddings"`
}

// Embed satisfies Provider, retrying transient failures with the errors
// package's jittered backoff rather than the teacher's hand-rolled
// thermal-progression timeout math.
func (p *OllamaProvider) Embed(ctx context.Context, texts []string, model string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	if model == "" {
		model = p.cfg.Model
	}

	return akierrors.RetryWithResult(ctx, p.cfg.Retry, func() ([][]float32, error) {
		return p.doEmbed(ctx, model, texts)
	})
}

func (p *OllamaProvider) doEmbed(ctx context.Context, model string, texts []string) ([][]float32, error) {
	reqCtx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()

	var input any = texts
	if len(texts) == 1 {
		input = texts[0]
	}
	body, err := json.Marshal(ollamaEmbedRequest{Model: model, Input: input})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, p.cfg.Host+"/api/embed", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("ollama embed: status %d: %s", resp.StatusCode, string(respBody))
	}

	var out ollamaEmbedResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, err
	}
	if len(out.Embeddings) != len(texts) {
		return nil, fmt.Errorf("ollama embed: expected %d embeddings, got %d", len(texts), len(out.Embeddings))
	}

	result := make([][]float32, len(out.Embeddings))
	for i, emb := range out.Embeddings {
		v := make([]float32, len(emb))
		for j, f := range emb {
			v[j] = float32(f)
		}
		result[i] = v
	}
	return result, nil
}

// Close releases idle connections.
func (p *OllamaProvider) Close() error {
	p.client.CloseIdleConnections()
	return nil
}
