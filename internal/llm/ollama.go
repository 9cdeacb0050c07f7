package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/seanankenbruck/ecommerce-insights/internal/observability"
)

const (
	DefaultOllamaBaseURL = "http://localhost:11434"
	DefaultOllamaModel   = "mistral:7b-instruct"
	DefaultTimeout       = 30 * time.Second
)

// OllamaClient implements Client against a local Ollama server
type OllamaClient struct {
	baseURL string
	model   string
	retry   RetryConfig
	client  *http.Client
}

type generateRequest struct {
	Model   string          `json:"model"`
	Prompt  string          `json:"prompt"`
	Stream  bool            `json:"stream"`
	Options generateOptions `json:"options"`
}

type generateOptions struct {
	Temperature float64 `json:"temperature"`
}

type generateResponse struct {
	Model           string `json:"model"`
	Response        string `json:"response"`
	Done            bool   `json:"done"`
	PromptEvalCount int    `json:"prompt_eval_count"`
	EvalCount       int    `json:"eval_count"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// Model describes one locally available model
type Model struct {
	Name       string    `json:"name"`
	Size       int64     `json:"size"`
	ModifiedAt time.Time `json:"modified_at"`
}

type tagsResponse struct {
	Models []Model `json:"models"`
}

// NewOllamaClient creates a new Ollama client
func NewOllamaClient(cfg Config) *OllamaClient {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultOllamaBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = DefaultOllamaModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Retry.MaxDelay == 0 {
		cfg.Retry = DefaultRetryConfig
	}

	return &OllamaClient{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		model:   cfg.Model,
		retry:   cfg.Retry,
		client: &http.Client{
			Timeout: cfg.Timeout,
		},
	}
}

// Model returns the configured model name
func (c *OllamaClient) Model() string {
	return c.model
}

// Complete sends a non-streaming generate request
func (c *OllamaClient) Complete(ctx context.Context, req CompletionRequest) (*Completion, error) {
	start := time.Now()

	body := generateRequest{
		Model:  c.model,
		Prompt: req.Prompt,
		Stream: false,
		Options: generateOptions{
			Temperature: req.Temperature,
		},
	}

	var resp *generateResponse
	err := withRetry(ctx, c.retry, func() error {
		var err error
		resp, err = c.sendGenerateRequest(ctx, body)
		return err
	})
	observability.RecordLLMMetrics("generate", time.Since(start), err)
	if err != nil {
		return nil, fmt.Errorf("ollama generate: %w", err)
	}

	text := strings.TrimSpace(resp.Response)
	if text == "" {
		return nil, fmt.Errorf("ollama generate: empty completion")
	}

	return &Completion{
		Text:            text,
		Model:           resp.Model,
		Duration:        time.Since(start),
		PromptTokens:    resp.PromptEvalCount,
		GeneratedTokens: resp.EvalCount,
	}, nil
}

func (c *OllamaClient) sendGenerateRequest(ctx context.Context, body generateRequest) (*generateResponse, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/generate", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, c.handleAPIError(resp.StatusCode, data)
	}

	var out generateResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return &out, nil
}

// ListModels returns the models installed on the server
func (c *OllamaClient) ListModels(ctx context.Context) ([]Model, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/tags", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, c.handleAPIError(resp.StatusCode, data)
	}

	var tags tagsResponse
	if err := json.Unmarshal(data, &tags); err != nil {
		return nil, fmt.Errorf("failed to unmarshal tags: %w", err)
	}
	return tags.Models, nil
}

// Health checks that the server answers and the configured model is installed
func (c *OllamaClient) Health(ctx context.Context) error {
	models, err := c.ListModels(ctx)
	if err != nil {
		return err
	}
	for _, m := range models {
		if m.Name == c.model || strings.TrimSuffix(m.Name, ":latest") == c.model {
			return nil
		}
	}
	return fmt.Errorf("model %s is not installed", c.model)
}

// handleAPIError turns a non-200 answer into an *APIError
func (c *OllamaClient) handleAPIError(statusCode int, body []byte) error {
	message := strings.TrimSpace(string(body))
	var parsed errorResponse
	if err := json.Unmarshal(body, &parsed); err == nil && parsed.Error != "" {
		message = parsed.Error
	}

	switch statusCode {
	case http.StatusNotFound:
		message = "model not found: " + message
	case http.StatusTooManyRequests:
		message = "rate limit exceeded: " + message
	case http.StatusBadRequest:
		message = "bad request: " + message
	}

	return &APIError{StatusCode: statusCode, Message: message}
}
