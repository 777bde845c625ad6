// Package anthropic implements the Claude chat backend. The Claude API
// differs from the chat-completions dialect in three ways that matter
// here: authentication uses the x-api-key header, the system prompt is a
// top-level field, and message content is a list of typed blocks.
package anthropic

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

const (
	defaultModel = "claude-3-5-haiku-latest"
	apiVersion   = "2023-06-01"
)

// Provider calls the Anthropic messages API.
type Provider struct {
	cfg    providers.Config
	client *http.Client
	logger *zap.Logger
}

// New creates an Anthropic provider.
func New(cfg providers.Config, logger *zap.Logger) *Provider {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.anthropic.com"
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
		logger: logger.With(zap.String("provider", "anthropic")),
	}
}

func (p *Provider) Name() string { return "anthropic" }

type claudeMessage struct {
	Role    string `json:"role"` // user or assistant
	Content string `json:"content"`
}

type claudeRequest struct {
	Model       string          `json:"model"`
	Messages    []claudeMessage `json:"messages"`
	System      string          `json:"system,omitempty"`
	MaxTokens   int             `json:"max_tokens"`
	Temperature float32         `json:"temperature,omitempty"`
}

type claudeContent struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

type claudeResponse struct {
	ID      string          `json:"id"`
	Model   string          `json:"model"`
	Content []claudeContent `json:"content"`
}

type claudeErrorResp struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// convertMessages extracts the system prompt and maps the remaining
// messages onto Claude's role set.
func convertMessages(msgs []llm.Message) (string, []claudeMessage) {
	var system string
	out := make([]claudeMessage, 0, len(msgs))
	for _, m := range msgs {
		if m.Role == llm.RoleSystem {
			system = m.Content
			continue
		}
		out = append(out, claudeMessage{Role: string(m.Role), Content: m.Content})
	}
	return system, out
}

// Completion issues one messages request.
func (p *Provider) Completion(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
	system, msgs := convertMessages(req.Messages)

	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = 1024 // Claude requires an explicit max_tokens
	}

	body := claudeRequest{
		Model:       providers.ChooseModel(req, p.cfg.Model, defaultModel),
		Messages:    msgs,
		System:      system,
		MaxTokens:   maxTokens,
		Temperature: req.Temperature,
	}

	data, err := json.Marshal(body)
	if err != nil {
		return nil, llm.NewError(llm.ErrInvalidRequest, "marshal request").WithCause(err).WithBackend(p.Name())
	}

	endpoint := strings.TrimRight(p.cfg.BaseURL, "/") + "/v1/messages"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(data))
	if err != nil {
		return nil, llm.NewError(llm.ErrInvalidRequest, "build request").WithCause(err).WithBackend(p.Name())
	}
	httpReq.Header.Set("x-api-key", p.cfg.APIKey)
	httpReq.Header.Set("anthropic-version", apiVersion)
	httpReq.Header.Set("Content-Type", "application/json")

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
		return nil, providers.MapHTTPError(resp.StatusCode, readErrMsg(respBody), p.Name())
	}

	var out claudeResponse
	if err := json.Unmarshal(respBody, &out); err != nil {
		return nil, llm.NewError(llm.ErrUpstreamError, "decode response").WithCause(err).WithBackend(p.Name())
	}

	var sb strings.Builder
	for _, c := range out.Content {
		if c.Type == "text" {
			sb.WriteString(c.Text)
		}
	}
	if sb.Len() == 0 {
		return nil, llm.NewError(llm.ErrUpstreamError, "empty content").WithBackend(p.Name())
	}

	return &llm.ChatResponse{
		Backend:   p.Name(),
		Model:     out.Model,
		Content:   sb.String(),
		CreatedAt: time.Now(),
	}, nil
}

func readErrMsg(body []byte) string {
	var er claudeErrorResp
	if err := json.Unmarshal(body, &er); err == nil && er.Error.Message != "" {
		return er.Error.Message
	}
	return string(body)
}
