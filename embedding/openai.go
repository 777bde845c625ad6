// Package embedding provides the text embedding backend and the cached
// embedding service the weighting stage consumes.
package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/twomile/harmonics/llm"
)

// Provider computes one embedding vector per input text.
type Provider interface {
	Embed(ctx context.Context, text string) ([]float64, error)
	Dimensions() int
	Name() string
}

// OpenAIConfig configures the OpenAI embedding backend.
type OpenAIConfig struct {
	APIKey     string        `json:"api_key" yaml:"api_key"`
	BaseURL    string        `json:"base_url" yaml:"base_url"`
	Model      string        `json:"model,omitempty" yaml:"model,omitempty"`
	Dimensions int           `json:"dimensions,omitempty" yaml:"dimensions,omitempty"`
	Timeout    time.Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`
}

// OpenAIProvider implements Provider using the OpenAI embeddings API.
type OpenAIProvider struct {
	cfg    OpenAIConfig
	client *http.Client
}

// NewOpenAIProvider creates an OpenAI embedding provider.
func NewOpenAIProvider(cfg OpenAIConfig) *OpenAIProvider {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com"
	}
	if cfg.Model == "" {
		cfg.Model = "text-embedding-3-small"
	}
	if cfg.Dimensions == 0 {
		cfg.Dimensions = 512
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &OpenAIProvider{
		cfg:    cfg,
		client: &http.Client{Timeout: timeout},
	}
}

func (p *OpenAIProvider) Name() string    { return "openai-embedding" }
func (p *OpenAIProvider) Dimensions() int { return p.cfg.Dimensions }

type embedRequest struct {
	Input      string `json:"input"`
	Model      string `json:"model"`
	Dimensions int    `json:"dimensions,omitempty"`
}

type embedResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float64 `json:"embedding"`
	} `json:"data"`
	Model string `json:"model"`
}

// Embed requests one vector, asking the API to project down to the
// configured dimension.
func (p *OpenAIProvider) Embed(ctx context.Context, text string) ([]float64, error) {
	body := embedRequest{
		Input:      text,
		Model:      p.cfg.Model,
		Dimensions: p.cfg.Dimensions,
	}
	data, err := json.Marshal(body)
	if err != nil {
		return nil, llm.NewError(llm.ErrEmbeddingFailure, "marshal request").WithCause(err).WithBackend(p.Name())
	}

	endpoint := strings.TrimRight(p.cfg.BaseURL, "/") + "/v1/embeddings"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(data))
	if err != nil {
		return nil, llm.NewError(llm.ErrEmbeddingFailure, "build request").WithCause(err).WithBackend(p.Name())
	}
	httpReq.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, llm.NewError(llm.ErrEmbeddingFailure, "request failed").WithCause(err).WithBackend(p.Name())
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, llm.NewError(llm.ErrEmbeddingFailure, "read response").WithCause(err).WithBackend(p.Name())
	}
	if resp.StatusCode >= 400 {
		return nil, llm.NewError(llm.ErrEmbeddingFailure, string(respBody)).WithBackend(p.Name())
	}

	var out embedResponse
	if err := json.Unmarshal(respBody, &out); err != nil {
		return nil, llm.NewError(llm.ErrEmbeddingFailure, "decode response").WithCause(err).WithBackend(p.Name())
	}
	if len(out.Data) == 0 {
		return nil, llm.NewError(llm.ErrEmbeddingFailure, "no embeddings returned").WithBackend(p.Name())
	}
	return out.Data[0].Embedding, nil
}
