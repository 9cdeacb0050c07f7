package llm

import (
	"context"
	"time"
)

// Client is the text-completion service used to draft SQL and narratives.
// The service is treated as opaque: prompt and temperature in, free text out.
type Client interface {
	Complete(ctx context.Context, req CompletionRequest) (*Completion, error)
	Health(ctx context.Context) error
}

// CompletionRequest is a single prompt sent to the model
type CompletionRequest struct {
	Prompt      string
	Temperature float64
}

// Completion is the model's raw answer
type Completion struct {
	Text            string        `json:"text"`
	Model           string        `json:"model"`
	Duration        time.Duration `json:"duration"`
	PromptTokens    int           `json:"prompt_tokens"`
	GeneratedTokens int           `json:"generated_tokens"`
}

// Config holds configuration for LLM clients
type Config struct {
	BaseURL string
	Model   string
	Timeout time.Duration
	Retry   RetryConfig
}
