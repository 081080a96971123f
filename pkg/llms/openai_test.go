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

func newTestOpenAIProvider(t *testing.T, serverURL string) *OpenAIProvider {
	t.Helper()
	cfg := &config.ProviderConfig{
		Type:    config.ProviderOpenAICompat,
		BaseURL: serverURL,
		Auth:    config.AuthMethod{Kind: config.AuthKindAPIKey, APIKey: "sk-test"},
	}
	cfg.SetDefaults()
	transport := auth.NewTransport(httpclient.New(), cfg.Type, "test", cfg.Auth, nil)
	return NewOpenAIProvider("test", cfg, "gpt-4o", transport)
}

func TestOpenAICompletionsURL(t *testing.T) {
	p := newTestOpenAIProvider(t, "https://api.openai.com/v1")
	if got := p.completionsURL(); got != "https://api.openai.com/v1/chat/completions" {
		t.Errorf("completionsURL() = %q", got)
	}

	p2 := newTestOpenAIProvider(t, "https://gateway.example.com")
	if got := p2.completionsURL(); got != "https://gateway.example.com/v1/chat/completions" {
		t.Errorf("completionsURL() = %q", got)
	}
}

func TestOpenAIGenerateCompletion(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer sk-test" {
			t.Errorf("Authorization header = %q", got)
		}
		var req openAIChatRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req.Stream {
			t.Error("expected non-streaming request")
		}
		_ = json.NewEncoder(w).Encode(openAIChatResponse{
			Choices: []openAIChatChoice{{
				Message:      openAIChatMessage{Role: "assistant", Content: "hello"},
				FinishReason: "stop",
			}},
			Usage: openAIChatUsage{PromptTokens: 5, CompletionTokens: 2, TotalTokens: 7},
		})
	}))
	defer server.Close()

	p := newTestOpenAIProvider(t, server.URL)
	result, err := p.GenerateCompletion(context.Background(), CompletionParams{Model: "gpt-4o", Messages: []Message{{Role: "user", Content: "hi"}}})
	if err != nil {
		t.Fatalf("GenerateCompletion() error = %v", err)
	}
	if result.Content != "hello" || result.FinishReason != "stop" || result.Usage.TotalTokens != 7 {
		t.Errorf("GenerateCompletion() = %+v", result)
	}
}

func TestOpenAIClassifyErrorModelUnsupported(t *testing.T) {
	p := newTestOpenAIProvider(t, "http://example.invalid")
	body, _ := json.Marshal(openAIChatResponse{Error: &openAIChatError{Message: "nope", Code: unsupportedAPIErrorCode}})
	err := p.classifyError(http.StatusBadRequest, body, "gpt-5")
	if _, ok := err.(*ModelUnsupportedError); !ok {
		t.Fatalf("classifyError() = %v (%T), want *ModelUnsupportedError", err, err)
	}
}

func TestToolCallAccumulatorSeparatesNewIDOnOccupiedSlot(t *testing.T) {
	acc := newToolCallAccumulator()
	acc.add(openAIStreamToolCallDelta{Index: 0, ID: "call_1", Function: struct {
		Name      string `json:"name,omitempty"`
		Arguments string `json:"arguments,omitempty"`
	}{Name: "search"}})
	acc.add(openAIStreamToolCallDelta{Index: 0, Function: struct {
		Name      string `json:"name,omitempty"`
		Arguments string `json:"arguments,omitempty"`
	}{Arguments: `{"q":`}})
	// a new id arriving on the same index starts a new call rather than merging
	acc.add(openAIStreamToolCallDelta{Index: 0, ID: "call_2", Function: struct {
		Name      string `json:"name,omitempty"`
		Arguments string `json:"arguments,omitempty"`
	}{Name: "fetch"}})

	result := acc.result()
	if len(result) != 2 {
		t.Fatalf("result() length = %d, want 2", len(result))
	}
	if result[0].ID != "call_1" || result[0].Arguments != `{"q":` {
		t.Errorf("first call = %+v", result[0])
	}
	if result[1].ID != "call_2" || result[1].Name != "fetch" {
		t.Errorf("second call = %+v", result[1])
	}
}

func TestConsumeStreamLeadingNewlineStripping(t *testing.T) {
	p := newTestOpenAIProvider(t, "http://example.invalid")
	var chunks []string
	frames := []string{
		`data: {"choices":[{"delta":{"content":"\n\n"},"finish_reason":null}]}`,
		`data: {"choices":[{"delta":{"content":"\nHello"},"finish_reason":null}]}`,
		`data: {"choices":[{"delta":{"content":" world"},"finish_reason":"stop"}]}`,
		`data: {"choices":[],"usage":{"prompt_tokens":3,"completion_tokens":2,"total_tokens":5}}`,
		`data: [DONE]`,
	}
	body := io.NopCloser(strings.NewReader(strings.Join(frames, "\n") + "\n"))
	result, err := p.consumeStream(context.Background(), body, StreamHandlers{
		OnChunk: func(delta string, usage *Usage) { chunks = append(chunks, delta) },
	})
	if err != nil {
		t.Fatalf("consumeStream() error = %v", err)
	}
	if result.Content != "Hello world" {
		t.Errorf("Content = %q, want %q", result.Content, "Hello world")
	}
	if len(chunks) != 2 || chunks[0] != "Hello" || chunks[1] != " world" {
		t.Errorf("chunks = %v", chunks)
	}
	if result.Usage.TotalTokens != 5 {
		t.Errorf("Usage = %+v", result.Usage)
	}
}

func TestConsumeStreamFinishRequiresUsageAndReason(t *testing.T) {
	p := newTestOpenAIProvider(t, "http://example.invalid")
	var finishCalls int
	frames := []string{
		`data: {"choices":[{"delta":{"content":"hi"},"finish_reason":"stop"}]}`,
		`data: {"choices":[],"usage":{"prompt_tokens":1,"completion_tokens":1,"total_tokens":2}}`,
		`data: [DONE]`,
	}
	body := io.NopCloser(strings.NewReader(strings.Join(frames, "\n") + "\n"))
	_, err := p.consumeStream(context.Background(), body, StreamHandlers{
		OnStreamFinish: func(reason string, usage *Usage) { finishCalls++ },
	})
	if err != nil {
		t.Fatalf("consumeStream() error = %v", err)
	}
	if finishCalls != 1 {
		t.Errorf("finishCalls = %d, want 1", finishCalls)
	}
}

func TestDedupModels(t *testing.T) {
	in := []config.ModelSummary{{ID: "a"}, {ID: "b"}, {ID: "a"}}
	out := dedupModels(in)
	if len(out) != 2 {
		t.Errorf("dedupModels() length = %d, want 2", len(out))
	}
}
