package llms

import "context"

// Message is the universal multi-turn conversation unit shared by every
// provider adapter. Content carries plain text; role "tool" additionally
// sets ToolCallID/Name, role "assistant" may carry ToolCalls.
type Message struct {
	Role       string     `json:"role"`
	Content    string     `json:"content,omitempty"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	Name       string     `json:"name,omitempty"`
}

// ToolDefinition is a tool offered to the model, described as a JSON Schema
// function signature.
type ToolDefinition struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	Parameters  map[string]interface{} `json:"parameters"`
}

// ToolCall is a call the model asked to make. Arguments holds the raw JSON
// text as streamed; callers decode it into a ToolInvocation once complete.
type ToolCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// ToolChoice controls whether/which tool the model must call.
type ToolChoice struct {
	Mode     string `json:"mode"` // "auto", "none", "function"
	Function string `json:"function,omitempty"`
}

var (
	ToolChoiceAuto = ToolChoice{Mode: "auto"}
	ToolChoiceNone = ToolChoice{Mode: "none"}
)

// Usage reports token accounting for one completion request. The
// cache-related fields are populated only by providers that support
// prompt caching (Anthropic) or cached-token discounts (OpenAI).
type Usage struct {
	PromptTokens            int `json:"prompt_tokens"`
	CompletionTokens        int `json:"completion_tokens"`
	TotalTokens             int `json:"total_tokens"`
	CachedTokens            int `json:"cached_tokens,omitempty"`
	CacheCreationInputTokens int `json:"cache_creation_input_tokens,omitempty"`
	CacheReadInputTokens     int `json:"cache_read_input_tokens,omitempty"`
}

// Thinking is an opaque extended-reasoning budget hint, forwarded verbatim
// to providers that support it.
type Thinking struct {
	Enabled      bool
	BudgetTokens int
}

// CompletionParams is the provider-agnostic request shape for both
// generateCompletion and streamCompletion.
type CompletionParams struct {
	Model          string
	Messages       []Message
	Tools          []ToolDefinition
	ToolChoice     ToolChoice
	Temperature    float64
	TopP           float64
	MaxTokens      *int
	ReasoningEffort string
	Thinking       *Thinking
}

// CompletionResult is the normalized outcome of a completion request,
// whether obtained by a single call or accumulated from a stream.
type CompletionResult struct {
	Content      string
	ToolCalls    []ToolCall
	Usage        Usage
	FinishReason string
}

// StreamHandlers receives incremental events while a completion streams.
// onChunk fires per content delta, onToolCallDelta fires per tool-call
// fragment with the call that fragment belongs to (already aggregated to a
// stable per-call key), and onStreamFinish fires at most once: for
// OpenAI-compatible streams when both a finish reason and usage have been
// seen, for Anthropic streams on message_stop. A stream that ends with usage
// but without a finish instead gets a final onChunk("", usage).
type StreamHandlers struct {
	OnChunk         func(delta string, usage *Usage)
	OnToolCallDelta func(tc ToolCall)
	OnStreamFinish  func(finishReason string, usage *Usage)
}

// Provider is the L2 LLM Adapter contract: provider-agnostic
// completion/streaming plus a model listing operation driven by the
// provider's ModelsDescriptor.
type Provider interface {
	Name() string
	GenerateCompletion(ctx context.Context, params CompletionParams) (*CompletionResult, error)
	StreamCompletion(ctx context.Context, params CompletionParams, handlers StreamHandlers) (*CompletionResult, error)
	GetModels() ([]ModelInfo, error)
}

// ModelInfo is the normalized shape returned by a provider's model listing.
type ModelInfo struct {
	ID            string
	Name          string
	ContextWindow int
}
