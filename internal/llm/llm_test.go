package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
)

// MockProvider is a test provider that records calls and returns canned responses.
type MockProvider struct {
	mu       sync.Mutex
	Calls    []CompletionRequest
	Response *CompletionResponse
	Err      error
	ProvName string
}

func NewMockProvider(name string) *MockProvider {
	return &MockProvider{
		ProvName: name,
		Response: &CompletionResponse{
			Content:      "mock response",
			InputTokens:  10,
			OutputTokens: 20,
			Model:        "mock-model",
			FinishReason: "stop",
		},
	}
}

func (m *MockProvider) Name() string {
	return m.ProvName
}

func (m *MockProvider) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls = append(m.Calls, req)
	if m.Err != nil {
		return nil, m.Err
	}
	return m.Response, nil
}

func (m *MockProvider) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Calls)
}

// --- Tests ---

func TestFactoryReturnsErrorForMissingAPIKey(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "")
	t.Setenv("OPENAI_API_KEY", "")

	for _, p := range []string{"anthropic", "openai"} {
		_, err := NewProvider(p, "some-model")
		if err == nil {
			t.Errorf("expected error for provider %q with missing API key", p)
		}
	}
}

func TestFactoryReturnsErrorForUnknownProvider(t *testing.T) {
	_, err := NewProvider("unknown", "some-model")
	if err == nil {
		t.Error("expected error for unknown provider")
	}
}

func TestFactoryCreatesOllamaWithDefaultHost(t *testing.T) {
	t.Setenv("OLLAMA_HOST", "")
	provider, err := NewProvider("ollama", "llama3")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	ollamaP, ok := provider.(*OllamaProvider)
	if !ok {
		t.Fatal("expected *OllamaProvider")
	}
	if ollamaP.baseURL != "http://localhost:11434" {
		t.Errorf("expected default host, got %q", ollamaP.baseURL)
	}
}

func TestFactoryCreatesNamedProviders(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "test-key")
	t.Setenv("OPENAI_API_KEY", "test-key")

	for _, name := range []string{"anthropic", "openai"} {
		provider, err := NewProvider(name, "model")
		if err != nil {
			t.Fatalf("%s: unexpected error: %v", name, err)
		}
		if provider.Name() != name {
			t.Errorf("expected name %q, got %q", name, provider.Name())
		}
	}
}

func TestBuildWrapsProvider(t *testing.T) {
	t.Setenv("OLLAMA_HOST", "http://localhost:11434")
	provider, err := Build("ollama", "llama3", 30)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := provider.(*ObservedProvider); !ok {
		t.Errorf("expected *ObservedProvider, got %T", provider)
	}
	if provider.Name() != "ollama" {
		t.Errorf("expected name 'ollama', got %q", provider.Name())
	}
}

func TestRateLimiterPassesThrough(t *testing.T) {
	mock := NewMockProvider("test")
	rl := NewRateLimitedProvider(mock, 60)

	resp, err := rl.Complete(context.Background(), CompletionRequest{Messages: Prompt("", "hello")})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Content != "mock response" {
		t.Errorf("expected 'mock response', got %q", resp.Content)
	}
	if rl.Name() != "test" {
		t.Errorf("expected name 'test', got %q", rl.Name())
	}
}

func TestRateLimiterDisabledForZeroRPM(t *testing.T) {
	mock := NewMockProvider("test")
	if got := NewRateLimitedProvider(mock, 0); got != Provider(mock) {
		t.Errorf("expected unwrapped provider, got %T", got)
	}
}

func TestRateLimiterLimitsRequests(t *testing.T) {
	mock := NewMockProvider("test")
	rl := NewRateLimitedProvider(mock, 2)

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	req := CompletionRequest{Messages: Prompt("", "hello")}

	for i := 0; i < 2; i++ {
		if _, err := rl.Complete(ctx, req); err != nil {
			t.Fatalf("request %d: unexpected error: %v", i, err)
		}
	}

	// The third would need 30s of refill.
	if _, err := rl.Complete(ctx, req); err == nil {
		t.Error("expected error due to rate limiting + context timeout")
	}
	if mock.CallCount() != 2 {
		t.Errorf("expected 2 calls to reach the provider, got %d", mock.CallCount())
	}
}

func TestObservedProviderPassesErrors(t *testing.T) {
	mock := NewMockProvider("test")
	mock.Err = ErrUpstream
	_, err := NewObservedProvider(mock).Complete(context.Background(), CompletionRequest{Purpose: PurposeGenerate})
	if !errors.Is(err, ErrUpstream) {
		t.Errorf("expected ErrUpstream, got %v", err)
	}
}

func TestUsageTrackerTotals(t *testing.T) {
	tracker := NewUsageTracker(NewMockProvider("test"))
	for i := 0; i < 3; i++ {
		if _, err := tracker.Complete(context.Background(), CompletionRequest{}); err != nil {
			t.Fatal(err)
		}
	}
	u := tracker.Usage()
	if u.Calls != 3 || u.InputTokens != 30 || u.OutputTokens != 60 {
		t.Errorf("unexpected usage %+v", u)
	}
}

func TestEstimateCost(t *testing.T) {
	// claude-sonnet-4-5: $3/1M input, $15/1M output
	cost := EstimateCost("claude-sonnet-4-5-20250929", 1_000_000, 1_000_000)
	if cost < 17.99 || cost > 18.01 {
		t.Errorf("expected cost ~$18.00, got $%.2f", cost)
	}
	if EstimateCost("unknown-model", 1000, 500) != 0 {
		t.Error("expected 0 for unknown model")
	}
}

func TestAnthropicProviderSplitsSystemPrompt(t *testing.T) {
	var got anthropicRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("x-api-key") != "k" {
			t.Errorf("missing api key header")
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"content":[{"type":"text","text":"MATCH (c) RETURN c"}],"model":"m","stop_reason":"end_turn","usage":{"input_tokens":5,"output_tokens":7}}`))
	}))
	defer srv.Close()

	p := NewAnthropicProvider("k", "m", srv.URL)
	resp, err := p.Complete(context.Background(), CompletionRequest{Messages: Prompt("be terse", "hi")})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Content != "MATCH (c) RETURN c" || resp.OutputTokens != 7 {
		t.Errorf("unexpected response %+v", resp)
	}
	if got.System != "be terse" || len(got.Messages) != 1 || got.Messages[0].Role != "user" {
		t.Errorf("unexpected request %+v", got)
	}
	if got.MaxTokens != defaultMaxTokens {
		t.Errorf("expected default max tokens, got %d", got.MaxTokens)
	}
}

func TestAnthropicProviderErrorIsUpstream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"type":"rate_limit_error","message":"slow down"}}`))
	}))
	defer srv.Close()

	_, err := NewAnthropicProvider("k", "m", srv.URL).Complete(context.Background(), CompletionRequest{Messages: Prompt("", "hi")})
	if !errors.Is(err, ErrUpstream) {
		t.Errorf("expected ErrUpstream, got %v", err)
	}
}

func TestOllamaProviderStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		http.Error(w, "model not found", http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := NewOllamaProvider(srv.URL+"/", "llama3").Complete(context.Background(), CompletionRequest{Messages: Prompt("", "hi")})
	if !errors.Is(err, ErrUpstream) {
		t.Errorf("expected ErrUpstream, got %v", err)
	}
}

func TestOllamaProviderSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"message":{"role":"assistant","content":"data_query"},"model":"llama3","done_reason":"stop","prompt_eval_count":3,"eval_count":2}`))
	}))
	defer srv.Close()

	resp, err := NewOllamaProvider(srv.URL, "llama3").Complete(context.Background(), CompletionRequest{Messages: Prompt("", "hi")})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Content != "data_query" || resp.InputTokens != 3 {
		t.Errorf("unexpected response %+v", resp)
	}
}

func TestPromptOmitsEmptySystem(t *testing.T) {
	if msgs := Prompt("", "q"); len(msgs) != 1 || msgs[0].Role != RoleUser {
		t.Errorf("unexpected messages %+v", msgs)
	}
	if msgs := Prompt("s", "q"); len(msgs) != 2 || msgs[0].Role != RoleSystem {
		t.Errorf("unexpected messages %+v", msgs)
	}
}
