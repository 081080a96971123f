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

const anthropicVersion = "2023-06-01"

// anthropicCacheableSystemBlocks/anthropicCacheableTurns bound how many
// leading system blocks and trailing user/assistant turns carry a
// cache_control breakpoint, matching Anthropic's prompt-caching guidance:
// caching the stable prefix (system + early turns) and the most recent
// turns, not the whole conversation.
const (
	anthropicCacheableSystemBlocks = 2
	anthropicCacheableTurns        = 2
)

type anthropicCacheControl struct {
	Type string `json:"type"`
}

type anthropicContentBlock struct {
	Type         string                  `json:"type"`
	Text         string                  `json:"text,omitempty"`
	ID           string                  `json:"id,omitempty"`
	Name         string                  `json:"name,omitempty"`
	Input        map[string]interface{}  `json:"input,omitempty"`
	ToolUseID    string                  `json:"tool_use_id,omitempty"`
	Content      string                  `json:"content,omitempty"`
	CacheControl *anthropicCacheControl `json:"cache_control,omitempty"`
}

type anthropicMessage struct {
	Role    string                  `json:"role"`
	Content []anthropicContentBlock `json:"content"`
}

type anthropicTool struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	InputSchema map[string]interface{} `json:"input_schema"`
}

type anthropicRequest struct {
	Model       string                  `json:"model"`
	Messages    []anthropicMessage      `json:"messages"`
	System      []anthropicContentBlock `json:"system,omitempty"`
	MaxTokens   int                     `json:"max_tokens"`
	Temperature *float64                `json:"temperature,omitempty"`
	TopP        *float64                `json:"top_p,omitempty"`
	Tools       []anthropicTool         `json:"tools,omitempty"`
	ToolChoice  interface{}             `json:"tool_choice,omitempty"`
	Stream      bool                    `json:"stream,omitempty"`
	Thinking    *anthropicThinking      `json:"thinking,omitempty"`
}

type anthropicThinking struct {
	Type         string `json:"type"`
	BudgetTokens int    `json:"budget_tokens"`
}

type anthropicUsage struct {
	InputTokens              int `json:"input_tokens"`
	OutputTokens             int `json:"output_tokens"`
	CacheCreationInputTokens int `json:"cache_creation_input_tokens"`
	CacheReadInputTokens     int `json:"cache_read_input_tokens"`
}

func (u anthropicUsage) toUsage() Usage {
	return Usage{
		PromptTokens:             u.InputTokens,
		CompletionTokens:         u.OutputTokens,
		TotalTokens:              u.InputTokens + u.OutputTokens,
		CacheCreationInputTokens: u.CacheCreationInputTokens,
		CacheReadInputTokens:     u.CacheReadInputTokens,
	}
}

type anthropicResponse struct {
	Content    []anthropicContentBlock `json:"content"`
	StopReason string                  `json:"stop_reason"`
	Usage      anthropicUsage          `json:"usage"`
	Error      *anthropicError         `json:"error,omitempty"`
}

type anthropicError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// AnthropicProvider speaks the Anthropic /v1/messages contract.
type AnthropicProvider struct {
	name   string
	cfg    *config.ProviderConfig
	model  string
	client *auth.Transport
}

// NewAnthropicProvider builds an Anthropic provider. name identifies the
// provider entry (used to scope OAuth single-flight refreshes).
func NewAnthropicProvider(name string, cfg *config.ProviderConfig, model string, client *auth.Transport) *AnthropicProvider {
	return &AnthropicProvider{name: name, cfg: cfg, model: model, client: client}
}

func (p *AnthropicProvider) Name() string { return p.name }

func (p *AnthropicProvider) messagesURL() string {
	return strings.TrimSuffix(p.cfg.BaseURL, "/") + "/v1/messages"
}

// toAnthropicSystem splits off every system-role message into the request's
// top-level system field, tagging up to the first anthropicCacheableSystemBlocks
// blocks as cacheable.
func toAnthropicSystem(messages []Message) []anthropicContentBlock {
	var out []anthropicContentBlock
	for _, m := range messages {
		if m.Role != "system" || m.Content == "" {
			continue
		}
		out = append(out, anthropicContentBlock{Type: "text", Text: m.Content})
	}
	for i := range out {
		if i >= anthropicCacheableSystemBlocks {
			break
		}
		out[i].CacheControl = &anthropicCacheControl{Type: "ephemeral"}
	}
	return out
}

// toAnthropicMessages converts non-system turns, filtering empty content
// (Anthropic rejects empty text blocks except on the final assistant turn)
// and expanding tool calls/results into tool_use/tool_result blocks.
func toAnthropicMessages(messages []Message) []anthropicMessage {
	var turns []Message
	for _, m := range messages {
		if m.Role != "system" {
			turns = append(turns, m)
		}
	}

	out := make([]anthropicMessage, 0, len(turns))
	for i, m := range turns {
		isLast := i == len(turns)-1
		switch m.Role {
		case "tool":
			out = append(out, anthropicMessage{
				Role: "user",
				Content: []anthropicContentBlock{
					{Type: "tool_result", ToolUseID: m.ToolCallID, Content: m.Content},
				},
			})
		case "assistant":
			var blocks []anthropicContentBlock
			if m.Content != "" || isLast {
				blocks = append(blocks, anthropicContentBlock{Type: "text", Text: m.Content})
			}
			for _, tc := range m.ToolCalls {
				input := map[string]interface{}{}
				if tc.Arguments != "" {
					_ = json.Unmarshal([]byte(tc.Arguments), &input)
				}
				blocks = append(blocks, anthropicContentBlock{
					Type: "tool_use", ID: tc.ID, Name: tc.Name, Input: input,
				})
			}
			if len(blocks) == 0 {
				continue
			}
			out = append(out, anthropicMessage{Role: "assistant", Content: blocks})
		default:
			if m.Content == "" && !isLast {
				continue
			}
			out = append(out, anthropicMessage{
				Role:    "user",
				Content: []anthropicContentBlock{{Type: "text", Text: m.Content}},
			})
		}
	}

	cacheTurns(out)
	return out
}

// cacheTurns tags the last anthropicCacheableTurns message blocks' final
// content block as cacheable, so the stable prefix of a growing
// conversation is served from cache on every subsequent call.
func cacheTurns(messages []anthropicMessage) {
	n := 0
	for i := len(messages) - 1; i >= 0 && n < anthropicCacheableTurns; i-- {
		if len(messages[i].Content) == 0 {
			continue
		}
		last := len(messages[i].Content) - 1
		messages[i].Content[last].CacheControl = &anthropicCacheControl{Type: "ephemeral"}
		n++
	}
}

func toAnthropicTools(tools []ToolDefinition) []anthropicTool {
	if len(tools) == 0 {
		return nil
	}
	out := make([]anthropicTool, len(tools))
	for i, t := range tools {
		out[i] = anthropicTool{Name: t.Name, Description: t.Description, InputSchema: t.Parameters}
	}
	return out
}

func toAnthropicToolChoice(tc ToolChoice) interface{} {
	switch tc.Mode {
	case "none":
		return map[string]interface{}{"type": "none"}
	case "function":
		return map[string]interface{}{"type": "tool", "name": tc.Function}
	default:
		return map[string]interface{}{"type": "auto"}
	}
}

func (p *AnthropicProvider) buildRequest(params CompletionParams, stream bool) anthropicRequest {
	maxTokens := 4096
	if params.MaxTokens != nil {
		maxTokens = *params.MaxTokens
	}

	req := anthropicRequest{
		Model:     params.Model,
		Messages:  toAnthropicMessages(params.Messages),
		System:    toAnthropicSystem(params.Messages),
		MaxTokens: maxTokens,
		Tools:     toAnthropicTools(params.Tools),
		Stream:    stream,
	}
	if len(req.Tools) > 0 {
		req.ToolChoice = toAnthropicToolChoice(params.ToolChoice)
	}
	if params.Temperature > 0 {
		t := params.Temperature
		req.Temperature = &t
	}
	if params.TopP > 0 {
		t := params.TopP
		req.TopP = &t
	}
	if params.Thinking != nil && params.Thinking.Enabled {
		req.Thinking = &anthropicThinking{Type: "enabled", BudgetTokens: params.Thinking.BudgetTokens}
	}
	return req
}

func (p *AnthropicProvider) newHTTPRequest(ctx context.Context, body []byte, stream bool) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.messagesURL(), bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("anthropic: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("anthropic-version", anthropicVersion)
	if stream {
		req.Header.Set("Accept", "text/event-stream")
	}
	for k, v := range p.cfg.CustomHeaders {
		req.Header.Set(k, v)
	}
	return req, nil
}

// GenerateCompletion issues a non-streaming /v1/messages request.
func (p *AnthropicProvider) GenerateCompletion(ctx context.Context, params CompletionParams) (*CompletionResult, error) {
	tracer := observability.GetTracer("hector.llm")
	ctx, span := tracer.Start(ctx, observability.SpanLLMRequest,
		trace.WithAttributes(
			attribute.String(observability.AttrLLMModel, params.Model),
			attribute.String("provider", p.name),
			attribute.Bool("streaming", false),
		))
	defer span.End()
	start := time.Now()

	body, err := json.Marshal(p.buildRequest(params, false))
	if err != nil {
		return nil, fmt.Errorf("anthropic: marshal request: %w", err)
	}
	httpReq, err := p.newHTTPRequest(ctx, body, false)
	if err != nil {
		return nil, err
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
		return nil, fmt.Errorf("anthropic: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		err := p.classifyError(resp.StatusCode, respBody, params.Model)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	var parsed anthropicResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, fmt.Errorf("anthropic: decode response: %w", err)
	}

	result := &CompletionResult{Usage: parsed.Usage.toUsage(), FinishReason: parsed.StopReason}
	for _, block := range parsed.Content {
		switch block.Type {
		case "text":
			result.Content += block.Text
		case "tool_use":
			args, _ := json.Marshal(block.Input)
			result.ToolCalls = append(result.ToolCalls, ToolCall{ID: block.ID, Name: block.Name, Arguments: string(args)})
		}
	}

	duration := time.Since(start)
	span.SetStatus(codes.Ok, "success")
	if metrics := observability.GetGlobalMetrics(); metrics != nil {
		metrics.RecordLLMCall(ctx, params.Model, duration, result.Usage.PromptTokens, result.Usage.CompletionTokens, nil)
	}
	return result, nil
}

func (p *AnthropicProvider) classifyError(statusCode int, body []byte, model string) error {
	var parsed anthropicResponse
	if json.Unmarshal(body, &parsed) == nil && parsed.Error != nil {
		if parsed.Error.Type == "not_found_error" || strings.Contains(parsed.Error.Message, "model:") {
			return &ModelUnsupportedError{Model: model, Message: parsed.Error.Message}
		}
		return fmt.Errorf("anthropic: HTTP %d: %s", statusCode, parsed.Error.Message)
	}
	return fmt.Errorf("anthropic: HTTP %d: %s", statusCode, string(body))
}

type anthropicStreamEvent struct {
	Type         string                 `json:"type"`
	Index        int                    `json:"index"`
	ContentBlock *anthropicContentBlock `json:"content_block,omitempty"`
	Delta        *anthropicStreamDelta  `json:"delta,omitempty"`
	Usage        *anthropicUsage        `json:"usage,omitempty"`
	Message      *struct {
		Usage anthropicUsage `json:"usage"`
	} `json:"message,omitempty"`
	Error *anthropicError `json:"error,omitempty"`
}

type anthropicStreamDelta struct {
	Type        string `json:"type"`
	Text        string `json:"text,omitempty"`
	PartialJSON string `json:"partial_json,omitempty"`
	StopReason  string `json:"stop_reason,omitempty"`
}

// StreamCompletion issues a streaming /v1/messages request and parses
// Anthropic's content_block_start/delta/stop and message_delta/stop events.
func (p *AnthropicProvider) StreamCompletion(ctx context.Context, params CompletionParams, handlers StreamHandlers) (*CompletionResult, error) {
	tracer := observability.GetTracer("hector.llm")
	ctx, span := tracer.Start(ctx, observability.SpanLLMRequest,
		trace.WithAttributes(
			attribute.String(observability.AttrLLMModel, params.Model),
			attribute.String("provider", p.name),
			attribute.Bool("streaming", true),
		))
	defer span.End()
	start := time.Now()

	body, err := json.Marshal(p.buildRequest(params, true))
	if err != nil {
		return nil, fmt.Errorf("anthropic: marshal request: %w", err)
	}
	httpReq, err := p.newHTTPRequest(ctx, body, true)
	if err != nil {
		return nil, err
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

func (p *AnthropicProvider) consumeStream(ctx context.Context, body io.ReadCloser, handlers StreamHandlers) (*CompletionResult, error) {
	reader := bufio.NewReader(body)

	var contentBuilder strings.Builder
	var usage Usage
	var finishReason string
	var haveUsage, finishEmitted bool
	strippingLeadingNewlines := true

	type openToolCall struct {
		tc      ToolCall
		jsonBuf strings.Builder
	}
	openBlocks := make(map[int]*openToolCall)

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
			return nil, fmt.Errorf("anthropic: read stream: %w", err)
		}

		line = bytes.TrimSpace(line)
		if len(line) == 0 || bytes.HasPrefix(line, []byte("event:")) {
			continue
		}
		if !bytes.HasPrefix(line, []byte("data:")) {
			continue
		}
		data := bytes.TrimSpace(bytes.TrimPrefix(line, []byte("data:")))

		var evt anthropicStreamEvent
		if err := json.Unmarshal(data, &evt); err != nil {
			slog.Debug("skipping invalid anthropic SSE frame", "error", err)
			continue
		}

		switch evt.Type {
		case "message_start":
			if evt.Message != nil {
				usage = evt.Message.Usage.toUsage()
			}
		case "content_block_start":
			if evt.ContentBlock != nil && evt.ContentBlock.Type == "tool_use" {
				openBlocks[evt.Index] = &openToolCall{tc: ToolCall{ID: evt.ContentBlock.ID, Name: evt.ContentBlock.Name}}
			}
		case "content_block_delta":
			if evt.Delta == nil {
				continue
			}
			switch evt.Delta.Type {
			case "text_delta":
				delta := evt.Delta.Text
				if delta == "" {
					continue
				}
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
			case "input_json_delta":
				if ob, ok := openBlocks[evt.Index]; ok {
					ob.jsonBuf.WriteString(evt.Delta.PartialJSON)
					ob.tc.Arguments = ob.jsonBuf.String()
					if handlers.OnToolCallDelta != nil {
						handlers.OnToolCallDelta(ob.tc)
					}
				}
			}
		case "message_delta":
			if evt.Usage != nil {
				usage.CompletionTokens = evt.Usage.OutputTokens
				usage.TotalTokens = usage.PromptTokens + usage.CompletionTokens
				haveUsage = true
			}
			if evt.Delta != nil && evt.Delta.StopReason != "" {
				finishReason = evt.Delta.StopReason
			}
		case "message_stop":
			if !finishEmitted {
				finishEmitted = true
				if handlers.OnStreamFinish != nil {
					handlers.OnStreamFinish(finishReason, &usage)
				}
			}
		}
	}

	if haveUsage && !finishEmitted {
		if handlers.OnChunk != nil {
			handlers.OnChunk("", &usage)
		}
	}

	// openBlocks is keyed by content-block index, which need not start at 0
	// (a text block usually precedes tool_use blocks).
	maxIndex := -1
	for i := range openBlocks {
		if i > maxIndex {
			maxIndex = i
		}
	}
	toolCalls := make([]ToolCall, 0, len(openBlocks))
	for i := 0; i <= maxIndex; i++ {
		if ob, ok := openBlocks[i]; ok {
			toolCalls = append(toolCalls, ob.tc)
		}
	}

	return &CompletionResult{
		Content:      contentBuilder.String(),
		ToolCalls:    toolCalls,
		Usage:        usage,
		FinishReason: finishReason,
	}, nil
}

// GetModels lists available models per the provider's ModelsDescriptor.
// Anthropic deployments commonly declare a static list; a custom path
// still works when the descriptor supports the default/custom endpoint.
func (p *AnthropicProvider) GetModels() ([]ModelInfo, error) {
	descriptor := p.cfg.Models
	if len(descriptor.Static) > 0 {
		return dedupModels(descriptor.Static), nil
	}
	if !descriptor.Supported {
		return nil, ErrModelsUnsupported
	}

	path := descriptor.Path
	if path == "" {
		path = "/v1/models"
	}
	url := strings.TrimSuffix(p.cfg.BaseURL, "/") + path

	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("anthropic: build models request: %w", err)
	}
	req.Header.Set("anthropic-version", anthropicVersion)
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("anthropic: read models response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("anthropic: models endpoint returned HTTP %d: %s", resp.StatusCode, string(body))
	}

	var parsed struct {
		Data []struct {
			ID          string `json:"id"`
			DisplayName string `json:"display_name"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("anthropic: decode models response: %w", err)
	}

	var out []config.ModelSummary
	for _, m := range parsed.Data {
		out = append(out, config.ModelSummary{ID: m.ID, Name: m.DisplayName})
	}
	return dedupModels(out), nil
}

// createAnthropicHTTPClient builds the L0 transport for an Anthropic
// provider config.
func createAnthropicHTTPClient(cfg *config.ProviderConfig) *httpclient.Client {
	opts := []httpclient.Option{
		httpclient.WithMaxRetries(cfg.MaxRetries),
		httpclient.WithBaseDelay(time.Duration(cfg.RetryDelay) * time.Second),
		httpclient.WithHeaderParser(httpclient.ParseAnthropicRateLimitHeaders),
	}
	return httpclient.New(opts...)
}
