package llms

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/kadirpekel/hector/pkg/auth"
	"github.com/kadirpekel/hector/pkg/config"
	"github.com/kadirpekel/hector/pkg/httpclient"
)

func newTestAnthropicProvider(t *testing.T, serverURL string) *AnthropicProvider {
	t.Helper()
	cfg := &config.ProviderConfig{
		Type:    config.ProviderAnthropic,
		BaseURL: serverURL,
		Auth:    config.AuthMethod{Kind: config.AuthKindAPIKey, APIKey: "sk-ant-test"},
	}
	cfg.SetDefaults()
	transport := auth.NewTransport(httpclient.New(), cfg.Type, "test", cfg.Auth, nil)
	return NewAnthropicProvider("test", cfg, "claude-sonnet-4", transport)
}

func TestAnthropicMessagesURL(t *testing.T) {
	p := newTestAnthropicProvider(t, "https://api.anthropic.com")
	if got := p.messagesURL(); got != "https://api.anthropic.com/v1/messages" {
		t.Errorf("messagesURL() = %q", got)
	}
}

func TestToAnthropicSystemCachesFirstTwoBlocks(t *testing.T) {
	messages := []Message{
		{Role: "system", Content: "one"},
		{Role: "system", Content: "two"},
		{Role: "system", Content: "three"},
	}
	out := toAnthropicSystem(messages)
	if len(out) != 3 {
		t.Fatalf("toAnthropicSystem() length = %d, want 3", len(out))
	}
	if out[0].CacheControl == nil || out[1].CacheControl == nil {
		t.Error("expected first two system blocks to be cache-tagged")
	}
	if out[2].CacheControl != nil {
		t.Error("expected third system block to not be cache-tagged")
	}
}

func TestToAnthropicMessagesToolRoundTrip(t *testing.T) {
	messages := []Message{
		{Role: "user", Content: "what's the weather?"},
		{Role: "assistant", ToolCalls: []ToolCall{{ID: "call_1", Name: "get_weather", Arguments: `{"city":"Paris"}`}}},
		{Role: "tool", ToolCallID: "call_1", Content: "sunny"},
	}
	out := toAnthropicMessages(messages)
	if len(out) != 3 {
		t.Fatalf("toAnthropicMessages() length = %d, want 3", len(out))
	}
	if out[1].Content[0].Type != "tool_use" || out[1].Content[0].Name != "get_weather" {
		t.Errorf("assistant turn = %+v", out[1])
	}
	if out[2].Role != "user" || out[2].Content[0].Type != "tool_result" || out[2].Content[0].ToolUseID != "call_1" {
		t.Errorf("tool result turn = %+v", out[2])
	}
}

func TestToAnthropicMessagesKeepsFinalEmptyAssistantTurn(t *testing.T) {
	messages := []Message{
		{Role: "user", Content: "hi"},
		{Role: "assistant", Content: ""},
	}
	out := toAnthropicMessages(messages)
	if len(out) != 2 {
		t.Fatalf("toAnthropicMessages() length = %d, want 2 (final empty turn kept)", len(out))
	}
}

func TestCacheTurnsTagsLastTwoTurns(t *testing.T) {
	messages := []anthropicMessage{
		{Role: "user", Content: []anthropicContentBlock{{Type: "text", Text: "a"}}},
		{Role: "assistant", Content: []anthropicContentBlock{{Type: "text", Text: "b"}}},
		{Role: "user", Content: []anthropicContentBlock{{Type: "text", Text: "c"}}},
	}
	cacheTurns(messages)
	if messages[0].Content[0].CacheControl != nil {
		t.Error("oldest turn should not be cache-tagged")
	}
	if messages[1].Content[0].CacheControl == nil || messages[2].Content[0].CacheControl == nil {
		t.Error("last two turns should be cache-tagged")
	}
}

func TestAnthropicBuildRequestDefaultsMaxTokens(t *testing.T) {
	p := newTestAnthropicProvider(t, "http://example.invalid")
	req := p.buildRequest(CompletionParams{Model: "claude-sonnet-4", Messages: []Message{{Role: "user", Content: "hi"}}}, false)
	if req.MaxTokens != 4096 {
		t.Errorf("MaxTokens = %d, want 4096 default", req.MaxTokens)
	}
}

func TestAnthropicGenerateCompletion(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("x-api-key"); got != "sk-ant-test" {
			t.Errorf("x-api-key header = %q", got)
		}
		if got := r.Header.Get("anthropic-version"); got != anthropicVersion {
			t.Errorf("anthropic-version header = %q", got)
		}
		_ = json.NewEncoder(w).Encode(anthropicResponse{
			Content:    []anthropicContentBlock{{Type: "text", Text: "hello"}},
			StopReason: "end_turn",
			Usage:      anthropicUsage{InputTokens: 10, OutputTokens: 5},
		})
	}))
	defer server.Close()

	p := newTestAnthropicProvider(t, server.URL)
	result, err := p.GenerateCompletion(context.Background(), CompletionParams{Model: "claude-sonnet-4", Messages: []Message{{Role: "user", Content: "hi"}}})
	if err != nil {
		t.Fatalf("GenerateCompletion() error = %v", err)
	}
	if result.Content != "hello" || result.FinishReason != "end_turn" || result.Usage.TotalTokens != 15 {
		t.Errorf("GenerateCompletion() = %+v", result)
	}
}

func TestAnthropicConsumeStreamToolUseAndFinish(t *testing.T) {
	p := newTestAnthropicProvider(t, "http://example.invalid")
	var toolDeltas []ToolCall
	var finishReason string
	var finishCalls int

	frames := []string{
		`data: {"type":"message_start","message":{"usage":{"input_tokens":10,"output_tokens":0}}}`,
		`data: {"type":"content_block_start","index":0,"content_block":{"type":"text","text":""}}`,
		`data: {"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"hi"}}`,
		`data: {"type":"content_block_stop","index":0}`,
		`data: {"type":"content_block_start","index":1,"content_block":{"type":"tool_use","id":"toolu_1","name":"get_weather"}}`,
		`data: {"type":"content_block_delta","index":1,"delta":{"type":"input_json_delta","partial_json":"{\"city\":"}}`,
		`data: {"type":"content_block_delta","index":1,"delta":{"type":"input_json_delta","partial_json":"\"Paris\"}"}}`,
		`data: {"type":"content_block_stop","index":1}`,
		`data: {"type":"message_delta","delta":{"stop_reason":"tool_use"},"usage":{"output_tokens":8}}`,
		`data: {"type":"message_stop"}`,
	}
	body := io.NopCloser(strings.NewReader(strings.Join(frames, "\n") + "\n"))

	result, err := p.consumeStream(context.Background(), body, StreamHandlers{
		OnToolCallDelta: func(tc ToolCall) { toolDeltas = append(toolDeltas, tc) },
		OnStreamFinish: func(reason string, usage *Usage) {
			finishCalls++
			finishReason = reason
		},
	})
	if err != nil {
		t.Fatalf("consumeStream() error = %v", err)
	}
	if result.Content != "hi" {
		t.Errorf("Content = %q, want %q", result.Content, "hi")
	}
	if len(result.ToolCalls) != 1 || result.ToolCalls[0].Arguments != `{"city":"Paris"}` {
		t.Errorf("ToolCalls = %+v", result.ToolCalls)
	}
	if len(toolDeltas) == 0 {
		t.Error("expected at least one tool-call delta callback")
	}
	if finishCalls != 1 || finishReason != "tool_use" {
		t.Errorf("finishCalls=%d finishReason=%q", finishCalls, finishReason)
	}
	if result.Usage.TotalTokens != 18 {
		t.Errorf("Usage = %+v", result.Usage)
	}
}

func TestAnthropicClassifyErrorModelUnsupported(t *testing.T) {
	p := newTestAnthropicProvider(t, "http://example.invalid")
	body, _ := json.Marshal(anthropicResponse{Error: &anthropicError{Type: "not_found_error", Message: "model: unknown"}})
	err := p.classifyError(http.StatusNotFound, body, "claude-unknown")
	if _, ok := err.(*ModelUnsupportedError); !ok {
		t.Fatalf("classifyError() = %v (%T), want *ModelUnsupportedError", err, err)
	}
}
