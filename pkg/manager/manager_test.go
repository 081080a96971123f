package manager

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/kadirpekel/hector/pkg/config"
	"github.com/kadirpekel/hector/pkg/httpclient"
	"github.com/kadirpekel/hector/pkg/llms"
	"github.com/kadirpekel/hector/pkg/orchestrator"
)

// scriptedProvider returns one scripted (result, error) pair per call, in
// order, so a test can drive the manager's retry/watchdog/summary/topic
// sequence of Send calls deterministically.
type scriptedProvider struct {
	mu      sync.Mutex
	steps   []scriptedStep
	calls   int
}

type scriptedStep struct {
	result *llms.CompletionResult
	err    error
}

func (p *scriptedProvider) Name() string { return "stub" }

func (p *scriptedProvider) next() (*llms.CompletionResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.calls >= len(p.steps) {
		return nil, errors.New("scriptedProvider: no more scripted steps")
	}
	s := p.steps[p.calls]
	p.calls++
	return s.result, s.err
}

func (p *scriptedProvider) GenerateCompletion(ctx context.Context, params llms.CompletionParams) (*llms.CompletionResult, error) {
	return p.next()
}

func (p *scriptedProvider) StreamCompletion(ctx context.Context, params llms.CompletionParams, handlers llms.StreamHandlers) (*llms.CompletionResult, error) {
	return p.next()
}

func (p *scriptedProvider) GetModels() ([]llms.ModelInfo, error) { return nil, nil }

func (p *scriptedProvider) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

var _ llms.Provider = (*scriptedProvider)(nil)

func testConfig(agentID, model string, provider llms.Provider) *config.Config {
	cfg := &config.Config{
		Providers: map[string]*config.ProviderConfig{
			"test-provider": {Type: config.ProviderOpenAICompat, BaseURL: "http://unused.invalid"},
		},
		Agents: map[string]*config.AgentConfig{
			agentID: {ID: agentID, Provider: "test-provider", Model: model},
		},
	}
	cfg.SetDefaults()
	return cfg
}

// newManagerWithProvider builds a Manager the normal way, then swaps in a
// scripted provider: New's own CreateProvider path would otherwise build
// a live HTTP-backed provider from ProviderConfig, which these tests must
// not exercise (no network in this suite).
func newManagerWithProvider(t *testing.T, agentID, model string, provider llms.Provider) *Manager {
	t.Helper()
	cfg := testConfig(agentID, model, provider)
	m, err := New(Config{
		Config:        cfg,
		AgentID:       agentID,
		RetryAttempts: 3,
		RetryDelay:    5 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	// Swap in the scripted provider post-init: the real CreateProvider
	// path builds a live HTTP-backed provider from ProviderConfig, which
	// tests must not exercise (no network in this suite).
	m.Orchestrator().SetProvider(provider)
	return m
}

func TestNewBuildsReadyManager(t *testing.T) {
	provider := &scriptedProvider{steps: []scriptedStep{{result: &llms.CompletionResult{Content: "hi"}}}}
	m := newManagerWithProvider(t, "assistant", "test-model", provider)

	if m.Status() != StatusReady {
		t.Fatalf("Status() = %v, want %v", m.Status(), StatusReady)
	}
	if m.Session() == nil {
		t.Fatal("Session() = nil")
	}
}

func TestSendCompletesAndRunsTopicAnalysis(t *testing.T) {
	provider := &scriptedProvider{steps: []scriptedStep{
		{result: &llms.CompletionResult{Content: "hello there", Usage: llms.Usage{PromptTokens: 5, TotalTokens: 7}}},
		{result: &llms.CompletionResult{Content: "greeting and hello"}}, // topic analysis call
	}}
	m := newManagerWithProvider(t, "assistant", "test-model", provider)

	result, err := m.Send(context.Background(), "hi", orchestrator.SendOptions{})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if result.Content != "hello there" {
		t.Fatalf("content = %q", result.Content)
	}

	conv, err := m.Orchestrator().Store().GetConversation("default")
	if err != nil {
		t.Fatalf("GetConversation: %v", err)
	}
	if conv.Metadata.Topic != "greeting and hello" {
		t.Fatalf("topic = %q, want topic analysis result", conv.Metadata.Topic)
	}
}

func TestSendRetriesRetryableErrorsThenSucceeds(t *testing.T) {
	retryErr := &httpclient.RetryableError{StatusCode: 503, Message: "unavailable"}
	provider := &scriptedProvider{steps: []scriptedStep{
		{err: retryErr},
		{err: retryErr},
		{result: &llms.CompletionResult{Content: "recovered"}},
	}}
	m := newManagerWithProvider(t, "assistant", "test-model", provider)

	result, err := m.Send(context.Background(), "hi", orchestrator.SendOptions{})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if result.Content != "recovered" {
		t.Fatalf("content = %q, want recovered", result.Content)
	}
	if provider.callCount() < 3 {
		t.Fatalf("callCount = %d, want at least 3 (two failed attempts + recovery)", provider.callCount())
	}
}

func TestSendDoesNotRetryNonRetryableErrors(t *testing.T) {
	provider := &scriptedProvider{steps: []scriptedStep{
		{err: errors.New("authentication failed")},
	}}
	m := newManagerWithProvider(t, "assistant", "test-model", provider)

	start := time.Now()
	_, err := m.Send(context.Background(), "hi", orchestrator.SendOptions{})
	elapsed := time.Since(start)
	if err == nil {
		t.Fatal("Send: want error, got nil")
	}
	if provider.callCount() != 1 {
		t.Fatalf("callCount = %d, want 1 (no retry for non-retryable error)", provider.callCount())
	}
	if elapsed > 50*time.Millisecond {
		t.Fatalf("elapsed = %v, want well under the retry delay (no retry sleep expected)", elapsed)
	}
}

func TestWatchdogTriggersAutoSummaryAboveThreshold(t *testing.T) {
	// gpt-4's fallback context window is 8192; 8000 prompt tokens crosses
	// the 0.95 auto-summary threshold.
	provider := &scriptedProvider{steps: []scriptedStep{
		{result: &llms.CompletionResult{Content: "ok", Usage: llms.Usage{PromptTokens: 8000, TotalTokens: 8010}}},
		{result: &llms.CompletionResult{Content: "a concise summary of the chat"}}, // auto-summary call
		{result: &llms.CompletionResult{Content: "topic label"}},                   // topic analysis call
	}}
	m := newManagerWithProvider(t, "assistant", "gpt-4", provider)

	events := &recordingPort{}
	m.SetEventPort(events)

	_, err := m.Send(context.Background(), "hi", orchestrator.SendOptions{})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}

	conv, err := m.Orchestrator().Store().GetConversation("default")
	if err != nil {
		t.Fatalf("GetConversation: %v", err)
	}
	if len(conv.Messages) != 1 {
		t.Fatalf("len(Messages) = %d, want 1 (replaced by summary)", len(conv.Messages))
	}
	if conv.Messages[0].Content == "" {
		t.Fatal("summary message content is empty")
	}

	snap := m.Orchestrator().Bucket().GetSnapshot()
	if snap.TotalTokens != 0 {
		t.Fatalf("bucket not reset after auto-summary: TotalTokens = %d", snap.TotalTokens)
	}

	var sawClear, sawRefresh bool
	for _, e := range events.events {
		if e.Kind == orchestrator.EventLinesClear {
			sawClear = true
		}
		if e.Kind == orchestrator.EventHeaderRefresh {
			sawRefresh = true
		}
	}
	if !sawClear || !sawRefresh {
		t.Fatalf("expected LinesClear and HeaderRefresh events, got %d events", len(events.events))
	}
}

func TestSwitchToSessionSwapsStoreAndMetrics(t *testing.T) {
	provider := &scriptedProvider{steps: []scriptedStep{{result: &llms.CompletionResult{Content: "ok"}}}}
	m := newManagerWithProvider(t, "assistant", "test-model", provider)

	sessions := m.cfg.Sessions
	other, err := sessions.Create("other", "")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	m.SwitchToSession(other)
	if m.Orchestrator().Store() != other.Store() {
		t.Fatal("Store() did not switch to the new session's store")
	}
	if m.Orchestrator().Bucket() != other.Metrics() {
		t.Fatal("Bucket() did not switch to the new session's metrics bucket")
	}
}

func TestCleanupClosesRegisteredClosers(t *testing.T) {
	provider := &scriptedProvider{steps: []scriptedStep{{result: &llms.CompletionResult{Content: "ok"}}}}
	m := newManagerWithProvider(t, "assistant", "test-model", provider)

	closer := &recordingCloser{}
	m.RegisterCloser("fake", closer)

	if err := m.Cleanup(); err != nil {
		t.Fatalf("Cleanup: %v", err)
	}
	if !closer.closed {
		t.Fatal("registered closer was not closed")
	}
	if m.Status() != StatusClosed {
		t.Fatalf("Status() = %v, want %v", m.Status(), StatusClosed)
	}
}

type recordingPort struct {
	mu     sync.Mutex
	events []orchestrator.Event
}

func (p *recordingPort) Emit(e orchestrator.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
}

type recordingCloser struct{ closed bool }

func (c *recordingCloser) Close() error {
	c.closed = true
	return nil
}
