package llms

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/kadirpekel/hector/pkg/auth"
	"github.com/kadirpekel/hector/pkg/config"
	"github.com/kadirpekel/hector/pkg/httpclient"
	"github.com/kadirpekel/hector/pkg/observability"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// unsupportedAPIErrorCode is the error code GitHub Copilot's OpenAI-compatible
// gateway returns when a model does not support the chat completions endpoint.
const unsupportedAPIErrorCode = "unsupported_api_for_model"

// ModelUnsupportedError is raised when a provider rejects a model outright,
// a non-retryable condition distinct from InvalidRequest.
type ModelUnsupportedError struct {
	Model   string
	Message string
}

func (e *ModelUnsupportedError) Error() string {
	return fmt.Sprintf("model %q not supported: %s", e.Model, e.Message)
}

// ErrModelsUnsupported is returned by GetModels when the provider's
// ModelsDescriptor declares model listing unsupported.
var ErrModelsUnsupported = fmt.Errorf("llms: model listing is not supported by this provider")

type openAIChatMessage struct {
	Role       string               `json:"role"`
	Content    string               `json:"content,omitempty"`
	ToolCalls  []openAIChatToolCall `json:"tool_calls,omitempty"`
	ToolCallID string               `json:"tool_call_id,omitempty"`
	Name       string               `json:"name,omitempty"`
}

type openAIChatToolCall struct {
	ID       string                 `json:"id"`
	Type     string                 `json:"type"`
	Function openAIChatToolFunction `json:"function"`
}

type openAIChatToolFunction struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

type openAIChatTool struct {
	Type     string                     `json:"type"`
	Function openAIChatToolDescription `json:"function"`
}

type openAIChatToolDescription struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	Parameters  map[string]interface{} `json:"parameters"`
}

type openAIChatRequest struct {
	Model           string               `json:"model"`
	Messages        []openAIChatMessage  `json:"messages"`
	Tools           []openAIChatTool     `json:"tools,omitempty"`
	ToolChoice      interface{}          `json:"tool_choice,omitempty"`
	Temperature     *float64             `json:"temperature,omitempty"`
	TopP            *float64             `json:"top_p,omitempty"`
	MaxTokens       *int                 `json:"max_tokens,omitempty"`
	ReasoningEffort string               `json:"reasoning_effort,omitempty"`
	Stream          bool                 `json:"stream,omitempty"`
}

type openAIChatUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
	PromptTokensDetails *struct {
		CachedTokens int `json:"cached_tokens"`
	} `json:"prompt_tokens_details,omitempty"`
}

func (u openAIChatUsage) toUsage() Usage {
	out := Usage{
		PromptTokens:     u.PromptTokens,
		CompletionTokens: u.CompletionTokens,
		TotalTokens:      u.TotalTokens,
	}
	if u.PromptTokensDetails != nil {
		out.CachedTokens = u.PromptTokensDetails.CachedTokens
	}
	return out
}

type openAIChatChoice struct {
	Message      openAIChatMessage `json:"message"`
	FinishReason string            `json:"finish_reason"`
}

type openAIChatResponse struct {
	Choices []openAIChatChoice `json:"choices"`
	Usage   openAIChatUsage    `json:"usage"`
	Error   *openAIChatError   `json:"error,omitempty"`
}

type openAIChatError struct {
	Message string `json:"message"`
	Type    string `json:"type,omitempty"`
	Code    string `json:"code,omitempty"`
}

// OpenAIProvider speaks the OpenAI-compatible /chat/completions contract
// (OpenAI proper, GitHub Copilot, and any compatible gateway).
type OpenAIProvider struct {
	name     string
	cfg      *config.ProviderConfig
	model    string
	client   *auth.Transport
}

// NewOpenAIProvider builds an OpenAI-compatible provider. name identifies
// the provider entry (used to scope OAuth single-flight refreshes).
func NewOpenAIProvider(name string, cfg *config.ProviderConfig, model string, client *auth.Transport) *OpenAIProvider {
	return &OpenAIProvider{name: name, cfg: cfg, model: model, client: client}
}

func (p *OpenAIProvider) Name() string { return p.name }

func (p *OpenAIProvider) completionsURL() string {
	base := strings.TrimSuffix(p.cfg.BaseURL, "/")
	if strings.HasSuffix(base, "/v1") {
		return base + "/chat/completions"
	}
	return base + "/v1/chat/completions"
}

func toOpenAIMessages(messages []Message) []openAIChatMessage {
	out := make([]openAIChatMessage, 0, len(messages))
	for _, m := range messages {
		om := openAIChatMessage{
			Role:       m.Role,
			Content:    m.Content,
			ToolCallID: m.ToolCallID,
			Name:       m.Name,
		}
		for _, tc := range m.ToolCalls {
			om.ToolCalls = append(om.ToolCalls, openAIChatToolCall{
				ID:   tc.ID,
				Type: "function",
				Function: openAIChatToolFunction{
					Name:      tc.Name,
					Arguments: tc.Arguments,
				},
			})
		}
		out = append(out, om)
	}
	return out
}

func toOpenAITools(tools []ToolDefinition) []openAIChatTool {
	if len(tools) == 0 {
		return nil
	}
	out := make([]openAIChatTool, len(tools))
	for i, t := range tools {
		out[i] = openAIChatTool{
			Type: "function",
			Function: openAIChatToolDescription{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.Parameters,
			},
		}
	}
	return out
}

func toOpenAIToolChoice(tc ToolChoice) interface{} {
	switch tc.Mode {
	case "none":
		return "none"
	case "function":
		return map[string]interface{}{
			"type":     "function",
			"function": map[string]string{"name": tc.Function},
		}
	default:
		return "auto"
	}
}

func (p *OpenAIProvider) buildRequest(params CompletionParams, stream bool) openAIChatRequest {
	req := openAIChatRequest{
		Model:    params.Model,
		Messages: toOpenAIMessages(params.Messages),
		Tools:    toOpenAITools(params.Tools),
		Stream:   stream,
	}
	if len(req.Tools) > 0 {
		req.ToolChoice = toOpenAIToolChoice(params.ToolChoice)
	}
	if params.Temperature > 0 {
		t := params.Temperature
		req.Temperature = &t
	}
	if params.TopP > 0 {
		t := params.TopP
		req.TopP = &t
	}
	if params.MaxTokens != nil {
		req.MaxTokens = params.MaxTokens
	}
	if params.ReasoningEffort != "" {
		req.ReasoningEffort = params.ReasoningEffort
	}
	return req
}

// GenerateCompletion issues a non-streaming chat/completions request.
func (p *OpenAIProvider) GenerateCompletion(ctx context.Context, params CompletionParams) (*CompletionResult, error) {
	tracer := observability.GetTracer("hector.llm")
	ctx, span := tracer.Start(ctx, observability.SpanLLMRequest,
		trace.WithAttributes(
			attribute.String(observability.AttrLLMModel, params.Model),
			attribute.String("provider", p.name),
			attribute.Bool("streaming", false),
		))
	defer span.End()
	start := time.Now()

	req := p.buildRequest(params, false)
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("openai: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.completionsURL(), bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("openai: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	for k, v := range p.cfg.CustomHeaders {
		httpReq.Header.Set(k, v)
	}

	resp, err := p.client.Do(httpReq)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("openai: read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, p.classifyError(resp.StatusCode, respBody, params.Model)
	}

	var parsed openAIChatResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, fmt.Errorf("openai: decode response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return nil, fmt.Errorf("openai: response contained no choices")
	}

	choice := parsed.Choices[0]
	result := &CompletionResult{
		Content:      choice.Message.Content,
		Usage:        parsed.Usage.toUsage(),
		FinishReason: choice.FinishReason,
	}
	for _, tc := range choice.Message.ToolCalls {
		result.ToolCalls = append(result.ToolCalls, ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: tc.Function.Arguments,
		})
	}

	duration := time.Since(start)
	span.SetStatus(codes.Ok, "success")
	if metrics := observability.GetGlobalMetrics(); metrics != nil {
		metrics.RecordLLMCall(ctx, params.Model, duration, result.Usage.PromptTokens, result.Usage.CompletionTokens, nil)
	}
	return result, nil
}

func (p *OpenAIProvider) classifyError(statusCode int, body []byte, model string) error {
	var parsed openAIChatResponse
	if json.Unmarshal(body, &parsed) == nil && parsed.Error != nil {
		if parsed.Error.Code == unsupportedAPIErrorCode {
			return &ModelUnsupportedError{Model: model, Message: parsed.Error.Message}
		}
		return fmt.Errorf("openai: HTTP %d: %s", statusCode, parsed.Error.Message)
	}
	return fmt.Errorf("openai: HTTP %d: %s", statusCode, string(body))
}

// toolCallAccumulator aggregates streamed tool-call fragments by their
// stable key: prefer id, else the call already open at the fragment's index.
// A fragment without an index field decodes as index 0; there is no separate
// fallback to the most recently opened slot. A new id arriving on an already-open index starts a new tool call rather
// than merging into it.
type toolCallAccumulator struct {
	order []string
	byKey map[string]*ToolCall
	slotKey map[int]string
	lastOpenKey string
}

func newToolCallAccumulator() *toolCallAccumulator {
	return &toolCallAccumulator{byKey: make(map[string]*ToolCall), slotKey: make(map[int]string)}
}

type openAIStreamToolCallDelta struct {
	Index    int    `json:"index"`
	ID       string `json:"id,omitempty"`
	Function struct {
		Name      string `json:"name,omitempty"`
		Arguments string `json:"arguments,omitempty"`
	} `json:"function,omitempty"`
}

func (a *toolCallAccumulator) add(d openAIStreamToolCallDelta) {
	key := d.ID
	if key == "" {
		if existing, ok := a.slotKey[d.Index]; ok {
			key = existing
		} else {
			key = fmt.Sprintf("idx:%d", d.Index)
		}
	} else if existing, ok := a.slotKey[d.Index]; ok && existing != key {
		// a new id on an already-open index slot: leave the old call intact
		// and start tracking this one under its own id.
	}
	a.slotKey[d.Index] = key

	tc, ok := a.byKey[key]
	if !ok {
		tc = &ToolCall{ID: d.ID}
		a.byKey[key] = tc
		a.order = append(a.order, key)
	}
	if d.ID != "" {
		tc.ID = d.ID
	}
	if d.Function.Name != "" {
		tc.Name = d.Function.Name
	}
	tc.Arguments += d.Function.Arguments
	a.lastOpenKey = key
}

func (a *toolCallAccumulator) result() []ToolCall {
	out := make([]ToolCall, 0, len(a.order))
	for _, k := range a.order {
		out = append(out, *a.byKey[k])
	}
	return out
}

type openAIStreamChoice struct {
	Delta struct {
		Content   string                      `json:"content,omitempty"`
		ToolCalls []openAIStreamToolCallDelta `json:"tool_calls,omitempty"`
	} `json:"delta"`
	FinishReason *string `json:"finish_reason"`
}

type openAIStreamFrame struct {
	Choices []openAIStreamChoice `json:"choices"`
	Usage   *openAIChatUsage     `json:"usage"`
}

// StreamCompletion issues a streaming chat/completions request and parses
// the OpenAI-compatible SSE wire format.
func (p *OpenAIProvider) StreamCompletion(ctx context.Context, params CompletionParams, handlers StreamHandlers) (*CompletionResult, error) {
	tracer := observability.GetTracer("hector.llm")
	ctx, span := tracer.Start(ctx, observability.SpanLLMRequest,
		trace.WithAttributes(
			attribute.String(observability.AttrLLMModel, params.Model),
			attribute.String("provider", p.name),
			attribute.Bool("streaming", true),
		))
	defer span.End()
	start := time.Now()

	req := p.buildRequest(params, true)
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("openai: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.completionsURL(), bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("openai: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	for k, v := range p.cfg.CustomHeaders {
		httpReq.Header.Set(k, v)
	}

	resp, err := p.client.Do(httpReq)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		err := p.classifyError(resp.StatusCode, respBody, params.Model)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	result, err := p.consumeStream(ctx, resp.Body, handlers)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	duration := time.Since(start)
	span.SetStatus(codes.Ok, "success")
	if metrics := observability.GetGlobalMetrics(); metrics != nil {
		metrics.RecordLLMCall(ctx, params.Model, duration, result.Usage.PromptTokens, result.Usage.CompletionTokens, nil)
	}
	return result, nil
}

func (p *OpenAIProvider) consumeStream(ctx context.Context, body io.ReadCloser, handlers StreamHandlers) (*CompletionResult, error) {
	reader := bufio.NewReader(body)
	toolCalls := newToolCallAccumulator()

	var contentBuilder strings.Builder
	var usage Usage
	var finishReason string
	var haveFinishReason, haveUsage, finishEmitted bool
	strippingLeadingNewlines := true

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		line, err := reader.ReadBytes('\n')
		if err != nil {
			if err == io.EOF {
				break
			}
			return nil, fmt.Errorf("openai: read stream: %w", err)
		}

		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}
		if !bytes.HasPrefix(line, []byte("data: ")) && !bytes.HasPrefix(line, []byte("data:")) {
			continue
		}
		data := bytes.TrimSpace(bytes.TrimPrefix(line, []byte("data:")))
		if string(data) == "[DONE]" {
			break
		}

		var frame openAIStreamFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			slog.Debug("skipping invalid SSE frame", "error", err)
			continue
		}

		if frame.Usage != nil {
			usage = frame.Usage.toUsage()
			haveUsage = true
		}

		if len(frame.Choices) > 0 {
			choice := frame.Choices[0]

			if delta := choice.Delta.Content; delta != "" {
				if strippingLeadingNewlines {
					trimmed := strings.TrimLeft(delta, "\n")
					if trimmed == "" {
						continue
					}
					delta = trimmed
					strippingLeadingNewlines = false
				}
				contentBuilder.WriteString(delta)
				if handlers.OnChunk != nil {
					handlers.OnChunk(delta, nil)
				}
			}

			for _, tcDelta := range choice.Delta.ToolCalls {
				toolCalls.add(tcDelta)
				if handlers.OnToolCallDelta != nil {
					handlers.OnToolCallDelta(*toolCalls.byKey[toolCalls.lastOpenKey])
				}
			}

			if choice.FinishReason != nil && *choice.FinishReason != "" {
				finishReason = *choice.FinishReason
				haveFinishReason = true
			}
		}

		if haveFinishReason && haveUsage && !finishEmitted {
			finishEmitted = true
			if handlers.OnStreamFinish != nil {
				handlers.OnStreamFinish(finishReason, &usage)
			}
		}
	}

	if haveUsage && !finishEmitted {
		if handlers.OnChunk != nil {
			handlers.OnChunk("", &usage)
		}
	}

	return &CompletionResult{
		Content:      contentBuilder.String(),
		ToolCalls:    toolCalls.result(),
		Usage:        usage,
		FinishReason: finishReason,
	}, nil
}

// GetModels lists available models per the provider's ModelsDescriptor:
// a static list, the default /models endpoint, a custom path, or
// unsupported.
func (p *OpenAIProvider) GetModels() ([]ModelInfo, error) {
	descriptor := p.cfg.Models
	if len(descriptor.Static) > 0 {
		return dedupModels(descriptor.Static), nil
	}
	if !descriptor.Supported {
		return nil, ErrModelsUnsupported
	}

	path := descriptor.Path
	if path == "" {
		path = "/models"
	}
	base := strings.TrimSuffix(p.cfg.BaseURL, "/")
	url := base + path

	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("openai: build models request: %w", err)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("openai: read models response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("openai: models endpoint returned HTTP %d: %s", resp.StatusCode, string(body))
	}

	var parsed struct {
		Data []struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("openai: decode models response: %w", err)
	}

	var out []config.ModelSummary
	for _, m := range parsed.Data {
		out = append(out, config.ModelSummary{ID: m.ID})
	}
	return dedupModels(out), nil
}

func dedupModels(in []config.ModelSummary) []ModelInfo {
	seen := make(map[string]bool, len(in))
	out := make([]ModelInfo, 0, len(in))
	for _, m := range in {
		if seen[m.ID] {
			continue
		}
		seen[m.ID] = true
		out = append(out, ModelInfo{ID: m.ID, Name: m.Name, ContextWindow: m.ContextWindow})
	}
	return out
}

// createHTTPClient builds the L0 transport for a provider config.
func createHTTPClient(cfg *config.ProviderConfig) *httpclient.Client {
	opts := []httpclient.Option{
		httpclient.WithMaxRetries(cfg.MaxRetries),
		httpclient.WithBaseDelay(time.Duration(cfg.RetryDelay) * time.Second),
		httpclient.WithHeaderParser(httpclient.ParseOpenAIRateLimitHeaders),
	}
	return httpclient.New(opts...)
}
