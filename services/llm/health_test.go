package llm

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClient is a scriptable LLMClient for health tests.
type fakeClient struct {
	name  string
	fail  bool
	calls int
}

func (f *fakeClient) Name() string { return f.name }

func (f *fakeClient) Generate(ctx context.Context, prompt string, params GenerationParams) (string, error) {
	f.calls++
	if f.fail {
		return "", errors.New("provider down")
	}
	return "ok", nil
}

func TestHealthService_CheckAll(t *testing.T) {
	svc := NewHealthService()
	healthy := &fakeClient{name: "openai/gpt-4o-mini"}
	broken := &fakeClient{name: "anthropic/claude", fail: true}
	svc.Register(healthy)
	svc.Register(broken)

	failures := svc.CheckAll(context.Background())

	require.Len(t, failures, 1)
	assert.Contains(t, failures, "anthropic/claude")
	assert.True(t, svc.Available("openai/gpt-4o-mini"))
}

func TestHealthService_BreakerOpensAfterConsecutiveFailures(t *testing.T) {
	svc := NewHealthService()
	broken := &fakeClient{name: "ollama/llama3.1", fail: true}
	svc.Register(broken)

	for i := 0; i < 3; i++ {
		_, err := svc.Generate(context.Background(), "ollama/llama3.1", "p", GenerationParams{})
		require.Error(t, err)
	}

	assert.False(t, svc.Available("ollama/llama3.1"), "breaker should be open after 3 consecutive failures")

	// Calls through an open breaker fail fast without reaching the client.
	before := broken.calls
	_, err := svc.Generate(context.Background(), "ollama/llama3.1", "p", GenerationParams{})
	require.Error(t, err)
	assert.Equal(t, before, broken.calls, "open breaker must not call the provider")
}

func TestHealthService_UnknownProvider(t *testing.T) {
	svc := NewHealthService()

	_, err := svc.Generate(context.Background(), "nope/nothing", "p", GenerationParams{})
	require.Error(t, err)
	assert.False(t, svc.Available("nope/nothing"))
}
