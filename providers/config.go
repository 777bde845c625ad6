// Package providers holds the vendor-specific chat backends. Every
// provider translates the neutral llm.ChatRequest into its own wire
// format and maps upstream failures onto the shared error taxonomy.
package providers

import (
	"net/http"
	"time"

	"github.com/twomile/harmonics/llm"
)

// Config is the common per-vendor configuration.
type Config struct {
	APIKey  string        `json:"api_key" yaml:"api_key"`
	BaseURL string        `json:"base_url" yaml:"base_url"`
	Model   string        `json:"model,omitempty" yaml:"model,omitempty"`
	Timeout time.Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`
}

// ChooseModel selects the model by priority: request, provider config,
// vendor default.
func ChooseModel(req *llm.ChatRequest, configModel, defaultModel string) string {
	if req != nil && req.Model != "" {
		return req.Model
	}
	if configModel != "" {
		return configModel
	}
	return defaultModel
}

// MapHTTPError maps an upstream HTTP status onto the shared taxonomy.
func MapHTTPError(status int, msg, backend string) *llm.Error {
	code := llm.ErrUpstreamError
	retryable := status >= 500

	switch status {
	case http.StatusUnauthorized, http.StatusForbidden:
		code = llm.ErrUnauthorized
	case http.StatusTooManyRequests:
		code = llm.ErrRateLimited
		retryable = true
	case http.StatusBadRequest:
		code = llm.ErrInvalidRequest
	case http.StatusRequestTimeout, http.StatusGatewayTimeout:
		code = llm.ErrBackendTimeout
		retryable = true
	}

	return &llm.Error{Code: code, Message: msg, Retryable: retryable, Backend: backend}
}
