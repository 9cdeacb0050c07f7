// internal/processor/mocks_test.go
package processor

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/mock"

	"github.com/seanankenbruck/ecommerce-insights/internal/llm"
)

// MockLLMClient is a testify mock of llm.Client
type MockLLMClient struct {
	mock.Mock
}

func (m *MockLLMClient) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.Completion, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*llm.Completion), args.Error(1)
}

func (m *MockLLMClient) Health(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

// forbiddenLLM fails the test when the model is consulted
type forbiddenLLM struct {
	t *testing.T
}

func (f forbiddenLLM) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.Completion, error) {
	f.t.Errorf("text-completion service called unexpectedly with prompt: %.80q", req.Prompt)
	return nil, fmt.Errorf("unexpected call")
}

func (f forbiddenLLM) Health(ctx context.Context) error {
	return nil
}

// scriptedLLM answers SQL prompts and narrative prompts with fixed text
type scriptedLLM struct {
	mu        sync.Mutex
	sql       string
	narrative string
	sqlErr    error
	narrErr   error
	prompts   []llm.CompletionRequest
}

func (s *scriptedLLM) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.Completion, error) {
	s.mu.Lock()
	s.prompts = append(s.prompts, req)
	s.mu.Unlock()

	if req.Temperature == 0 {
		if s.sqlErr != nil {
			return nil, s.sqlErr
		}
		return &llm.Completion{Text: s.sql, Model: "scripted"}, nil
	}
	if s.narrErr != nil {
		return nil, s.narrErr
	}
	return &llm.Completion{Text: s.narrative, Model: "scripted"}, nil
}

func (s *scriptedLLM) Health(ctx context.Context) error {
	return nil
}

func (s *scriptedLLM) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.prompts)
}

// fakeExecutor returns canned rows keyed by exact SQL, or a default
type fakeExecutor struct {
	mu       sync.Mutex
	results  map[string]ResultSet
	errs     map[string]error
	fallback ResultSet
	queries  []string
}

func newFakeExecutor() *fakeExecutor {
	return &fakeExecutor{
		results: make(map[string]ResultSet),
		errs:    make(map[string]error),
	}
}

func (f *fakeExecutor) Query(ctx context.Context, query string, args ...interface{}) (ResultSet, error) {
	f.mu.Lock()
	f.queries = append(f.queries, query)
	f.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return ResultSet{}, err
	}
	if err, ok := f.errs[query]; ok {
		return ResultSet{}, err
	}
	if rs, ok := f.results[query]; ok {
		return rs, nil
	}
	return f.fallback, nil
}

func (f *fakeExecutor) executed() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.queries))
	copy(out, f.queries)
	return out
}

func boolPtr(b bool) *bool {
	return &b
}
