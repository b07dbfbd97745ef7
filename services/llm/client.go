package llm

import "context"

type GenerationParams struct {
	Temperature *float32 `json:"temperature"`
	TopK        *int     `json:"top_k"`
	TopP        *float32 `json:"top_p"`
	MaxTokens   *int     `json:"max_tokens"`
	Stop        []string `json:"stop"`
}

// LLMClient defines the standard interface for any LLM backend.
type LLMClient interface {
	// Generate produces a completion for the prompt. Implementations
	// must respect ctx cancellation and timeouts.
	Generate(ctx context.Context, prompt string, params GenerationParams) (string, error)

	// Name identifies the provider/model pair for logging and health
	// tracking ("openai/gpt-4o-mini").
	Name() string
}

// Float32Ptr and IntPtr are small helpers for building GenerationParams.
func Float32Ptr(v float32) *float32 { return &v }
func IntPtr(v int) *int             { return &v }
