// Package llm defines the uniform backend contract the orchestrator fans
// out to, plus the shared error taxonomy and token accounting helpers.
package llm

import (
	"context"
	"time"
)

// ErrorCode classifies backend and orchestration failures so callers can
// decide between local recovery (fallback substitution) and aborting.
type ErrorCode string

const (
	ErrBackendTimeout    ErrorCode = "BACKEND_TIMEOUT"     // per-call deadline exceeded
	ErrBackendTransport  ErrorCode = "BACKEND_TRANSPORT"   // network / 5xx failure
	ErrUnauthorized      ErrorCode = "UNAUTHORIZED"        // key rejected upstream
	ErrRateLimited       ErrorCode = "RATE_LIMITED"        // upstream or local throttle
	ErrInvalidRequest    ErrorCode = "INVALID_REQUEST"     // malformed request
	ErrUpstreamError     ErrorCode = "UPSTREAM_ERROR"      // unclassified upstream error
	ErrEmbeddingFailure  ErrorCode = "EMBEDDING_FAILURE"   // embedding backend failed
	ErrAllBackendsFailed ErrorCode = "ALL_BACKENDS_FAILED" // fatal for the enclosing turn
	ErrCacheCapacity     ErrorCode = "CACHE_CAPACITY_MISCONFIGURED"
)

// Error is the structured error carried across package boundaries.
type Error struct {
	Code      ErrorCode `json:"code"`
	Message   string    `json:"message"`
	Retryable bool      `json:"retryable"`
	Backend   string    `json:"backend,omitempty"`
	Cause     error     `json:"-"`
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return string(e.Code) + ": " + e.Message + ": " + e.Cause.Error()
	}
	return string(e.Code) + ": " + e.Message
}

func (e *Error) Unwrap() error { return e.Cause }

// NewError creates a structured error with the given code and message.
func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// WithCause attaches the underlying cause.
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// WithBackend tags the error with the originating backend id.
func (e *Error) WithBackend(backend string) *Error {
	e.Backend = backend
	return e
}

// CodeOf extracts the error code, or empty for foreign errors.
func CodeOf(err error) ErrorCode {
	if e, ok := err.(*Error); ok {
		return e.Code
	}
	return ""
}

type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// ChatRequest is the vendor-neutral request shape. Providers translate it
// into their own wire format.
type ChatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	Temperature float32   `json:"temperature,omitempty"`
}

type ChatResponse struct {
	Backend   string    `json:"backend,omitempty"`
	Model     string    `json:"model"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at,omitempty"`
}

// Provider is the uniform adapter surface for one model backend. Tool
// calling, streaming deltas and health probing are intentionally outside
// this contract; the orchestrator consumes whole responses per round.
type Provider interface {
	// Completion issues one synchronous chat request.
	Completion(ctx context.Context, req *ChatRequest) (*ChatResponse, error)

	// Name returns the provider's stable identifier.
	Name() string
}
