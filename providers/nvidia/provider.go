// Package nvidia implements the NVIDIA Inference API chat backend. The
// endpoint speaks the chat-completions dialect but lives on
// integrate.api.nvidia.com and serves NIM-hosted models.
package nvidia

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/twomile/harmonics/llm"
	"github.com/twomile/harmonics/providers"
)

const defaultModel = "meta/llama-4-maverick-17b-128e-instruct"

// Provider calls the NVIDIA integrate API.
type Provider struct {
	cfg    providers.Config
	client *http.Client
	logger *zap.Logger
}

// New creates an NVIDIA provider.
func New(cfg providers.Config, logger *zap.Logger) *Provider {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://integrate.api.nvidia.com"
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 60 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Provider{
		cfg:    cfg,
		client: &http.Client{Timeout: timeout},
		logger: logger.With(zap.String("provider", "nvidia")),
	}
}

func (p *Provider) Name() string { return "nvidia" }

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []llm.Message `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature float32       `json:"temperature,omitempty"`
}

type chatResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// Completion issues one chat request against the integrate endpoint.
func (p *Provider) Completion(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
	body := chatRequest{
		Model:       providers.ChooseModel(req, p.cfg.Model, defaultModel),
		Messages:    req.Messages,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	}

	data, err := json.Marshal(body)
	if err != nil {
		return nil, llm.NewError(llm.ErrInvalidRequest, "marshal request").WithCause(err).WithBackend(p.Name())
	}

	endpoint := strings.TrimRight(p.cfg.BaseURL, "/") + "/v1/chat/completions"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(data))
	if err != nil {
		return nil, llm.NewError(llm.ErrInvalidRequest, "build request").WithCause(err).WithBackend(p.Name())
	}
	httpReq.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, llm.NewError(llm.ErrBackendTimeout, "request cancelled").WithCause(err).WithBackend(p.Name())
		}
		return nil, llm.NewError(llm.ErrBackendTransport, "request failed").WithCause(err).WithBackend(p.Name())
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, llm.NewError(llm.ErrBackendTransport, "read response").WithCause(err).WithBackend(p.Name())
	}
	if resp.StatusCode >= 400 {
		return nil, providers.MapHTTPError(resp.StatusCode, string(respBody), p.Name())
	}

	var out chatResponse
	if err := json.Unmarshal(respBody, &out); err != nil {
		return nil, llm.NewError(llm.ErrUpstreamError, "decode response").WithCause(err).WithBackend(p.Name())
	}
	if len(out.Choices) == 0 {
		return nil, llm.NewError(llm.ErrUpstreamError, "empty choices").WithBackend(p.Name())
	}

	return &llm.ChatResponse{
		Backend:   p.Name(),
		Model:     out.Model,
		Content:   out.Choices[0].Message.Content,
		CreatedAt: time.Now(),
	}, nil
}
