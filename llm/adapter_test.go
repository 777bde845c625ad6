package llm

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeProvider struct {
	name    string
	content string
	err     error
	delay   time.Duration
}

func (f *fakeProvider) Completion(ctx context.Context, _ *ChatRequest) (*ChatResponse, error) {
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	return &ChatResponse{Content: f.content}, nil
}

func (f *fakeProvider) Name() string { return f.name }

func TestAdapter_Respond_Success(t *testing.T) {
	a := NewAdapter(AdapterConfig{ID: "fake"}, &fakeProvider{name: "fake", content: "hello there"}, nil, nil, nil)

	rec := a.Respond(context.Background(), "hi")
	assert.Equal(t, "fake", rec.Backend)
	assert.Equal(t, "hello there", rec.Text)
	assert.True(t, rec.Success)
	assert.False(t, rec.Fallback)
	assert.Positive(t, rec.Tokens)
}

func TestAdapter_Respond_NilProviderFallsBack(t *testing.T) {
	a := NewAdapter(AdapterConfig{ID: "absent"}, nil, nil, nil, nil)
	require.False(t, a.Available())

	rec := a.Respond(context.Background(), "hi")
	assert.True(t, rec.Fallback)
	assert.False(t, rec.Success)
	assert.Equal(t, FallbackText("absent", "hi"), rec.Text)
}

func TestAdapter_Respond_TransportErrorFallsBack(t *testing.T) {
	a := NewAdapter(AdapterConfig{ID: "flaky"}, &fakeProvider{name: "flaky", err: errors.New("connection refused")}, nil, nil, nil)

	rec := a.Respond(context.Background(), "hi")
	assert.True(t, rec.Fallback)
	assert.Contains(t, rec.Text, "flaky reply for:")
}

func TestAdapter_Respond_TimeoutFallsBack(t *testing.T) {
	a := NewAdapter(AdapterConfig{
		ID:          "slow",
		CallTimeout: 20 * time.Millisecond,
	}, &fakeProvider{name: "slow", content: "too late", delay: time.Second}, nil, nil, nil)

	start := time.Now()
	rec := a.Respond(context.Background(), "hi")
	assert.Less(t, time.Since(start), 500*time.Millisecond, "timeout must bound the call")
	assert.True(t, rec.Fallback)
}

func TestAdapter_DemoModeOverridesProvider(t *testing.T) {
	a := NewAdapter(AdapterConfig{ID: "real"}, &fakeProvider{name: "real", content: "live answer"}, nil, nil, nil)

	a.SetDemo(true)
	rec := a.Respond(context.Background(), "hi")
	assert.True(t, rec.Fallback)

	a.SetDemo(false)
	rec = a.Respond(context.Background(), "hi")
	assert.True(t, rec.Success)
	assert.Equal(t, "live answer", rec.Text)
}

func TestFallbackText_Deterministic(t *testing.T) {
	assert.Equal(t, FallbackText("b1", "prompt"), FallbackText("b1", "prompt"))
	assert.NotEqual(t, FallbackText("b1", "prompt"), FallbackText("b2", "prompt"))
}

func TestFallbackText_TruncatesLongPrompts(t *testing.T) {
	long := strings.Repeat("x", 500)
	got := FallbackText("b", long)
	assert.Less(t, len(got), 200)
	assert.Contains(t, got, "...")
}
