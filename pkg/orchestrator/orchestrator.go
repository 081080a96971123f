// Package orchestrator implements the Agent Orchestrator (L6, spec §4.7):
// the loop that assembles messages, calls the LLM adapter, executes any
// requested tool calls through the Tool Port, persists the round to the
// conversation store, and streams progress through the event port.
package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/kadirpekel/hector/pkg/config"
	"github.com/kadirpekel/hector/pkg/llms"
	"github.com/kadirpekel/hector/pkg/memory"
	"github.com/kadirpekel/hector/pkg/metrics"
	"github.com/kadirpekel/hector/pkg/observability"
	"github.com/kadirpekel/hector/pkg/tool"
)

// ErrCancelled is returned by Send when ctx is cancelled mid-turn (spec
// §5: "a cancelled send returns a distinguished cancellation error and
// does not retry").
var ErrCancelled = errors.New("orchestrator: cancelled")

// State is the per-send state machine position (spec §4.7: "Idle →
// Thinking → [ToolRound → Thinking]* → Done | Cancelled | Error").
type State string

const (
	StateIdle      State = "idle"
	StateThinking  State = "thinking"
	StateToolRound State = "tool_round"
	StateDone      State = "done"
	StateCancelled State = "cancelled"
	StateError     State = "error"
)

// defaultMaxTurns bounds the tool-call round-trip loop so a misbehaving
// model that never stops requesting tools cannot run forever.
const defaultMaxTurns = 50

// Config configures an Orchestrator instance. Agent and Environment are
// read on every Send so a hot-reloaded AgentConfig or working directory
// change takes effect on the next turn without reconstructing the
// Orchestrator.
type Config struct {
	Agent       *config.AgentConfig
	Environment Environment
	MaxTurns    int // 0 defaults to defaultMaxTurns
}

// Orchestrator drives one agent's loop against one session's store and
// metrics bucket. Provider and ToolPort are swappable at runtime (spec
// §3 Ownership: "the orchestrator... borrows the LLM adapter and tool
// port, both hot-swappable").
type Orchestrator struct {
	mu       sync.RWMutex
	cfg      Config
	provider llms.Provider
	toolPort tool.Port

	store   memory.Store
	bucket  *metrics.Bucket
	events  *eventSequencer
	state   State
	stateMu sync.Mutex
}

// New constructs an Orchestrator bound to one session's store and
// metrics bucket. provider/toolPort may be swapped later with
// SetProvider/SetToolPort (spec §4.8: "re-read current provider/model
// ... and swap the LLM adapter if needed").
func New(cfg Config, provider llms.Provider, toolPort tool.Port, store memory.Store, bucket *metrics.Bucket, events EventPort) *Orchestrator {
	if cfg.Agent == nil {
		cfg.Agent = &config.AgentConfig{}
	}
	if cfg.MaxTurns <= 0 {
		cfg.MaxTurns = defaultMaxTurns
	}
	if toolPort == nil {
		toolPort = tool.NewLocalPort(0, false, nil)
	}
	return &Orchestrator{
		cfg:      cfg,
		provider: provider,
		toolPort: toolPort,
		store:    store,
		bucket:   bucket,
		events:   newEventSequencer(events),
		state:    StateIdle,
	}
}

// SetProvider hot-swaps the LLM adapter used by subsequent Send calls.
func (o *Orchestrator) SetProvider(p llms.Provider) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.provider = p
}

// SetToolPort hot-swaps the tool port used by subsequent Send calls.
func (o *Orchestrator) SetToolPort(p tool.Port) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.toolPort = p
}

// SetAgent hot-swaps the agent template (system prompt, model policy,
// tool/approval/concurrency settings) used by subsequent Send calls.
func (o *Orchestrator) SetAgent(cfg *config.AgentConfig) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.cfg.Agent = cfg
}

// SetStore hot-swaps the conversation store used by subsequent Send
// calls (spec §4.8 switchToSession/createNewConversation: "swap memory
// ... on the live orchestrator without restarting MCP subprocesses").
func (o *Orchestrator) SetStore(store memory.Store) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.store = store
}

// SetBucket hot-swaps the metrics bucket used by subsequent Send calls.
func (o *Orchestrator) SetBucket(bucket *metrics.Bucket) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.bucket = bucket
}

// SetEvents hot-swaps the event port subsequent Send calls emit to.
func (o *Orchestrator) SetEvents(events EventPort) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.events = newEventSequencer(events)
}

// Store returns the orchestrator's current conversation store.
func (o *Orchestrator) Store() memory.Store {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.store
}

// Bucket returns the orchestrator's current metrics bucket.
func (o *Orchestrator) Bucket() *metrics.Bucket {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.bucket
}

// Agent returns the orchestrator's current agent configuration.
func (o *Orchestrator) Agent() *config.AgentConfig {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.cfg.Agent
}

// Provider returns the orchestrator's current LLM provider.
func (o *Orchestrator) Provider() llms.Provider {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.provider
}

// EmitEvent lets callers outside the Send loop (the manager's watchdog,
// auto-summary, and topic analysis) push events through this
// orchestrator's event port so a client observes one continuous stream.
func (o *Orchestrator) EmitEvent(e Event) {
	o.mu.RLock()
	seq := o.events
	o.mu.RUnlock()
	seq.emit(e)
}

// State returns the orchestrator's current state-machine position.
func (o *Orchestrator) State() State {
	o.stateMu.Lock()
	defer o.stateMu.Unlock()
	return o.state
}

func (o *Orchestrator) setState(s State) {
	o.stateMu.Lock()
	o.state = s
	o.stateMu.Unlock()
}

// SendOptions tunes one Send call.
type SendOptions struct {
	// ConversationID selects the conversation within the session's store;
	// empty defaults to "default".
	ConversationID string
	// Stream, if true, drives the call through StreamCompletion and emits
	// AssistantChunk/StreamFinish events; otherwise GenerateCompletion is
	// used and one AssistantMessage event is emitted per round.
	Stream bool
}

// Send orchestrates one turn (spec §4.7): it may perform several LLM
// calls internally if the model keeps requesting tools, looping until
// the model stops, a loop-break condition fires, or ctx is cancelled.
func (o *Orchestrator) Send(ctx context.Context, userMessage string, opts SendOptions) (*llms.CompletionResult, error) {
	conversationID := opts.ConversationID
	if conversationID == "" {
		conversationID = "default"
	}

	o.mu.RLock()
	provider, toolPort, agentCfg, env := o.provider, o.toolPort, o.cfg.Agent, o.cfg.Environment
	maxTurns := o.cfg.MaxTurns
	o.mu.RUnlock()

	if provider == nil {
		return nil, fmt.Errorf("orchestrator: no LLM provider configured")
	}

	o.setState(StateThinking)
	o.events.emit(Event{Kind: EventUserMessage, Content: userMessage})

	if err := o.store.AppendMessages(conversationID, memory.NewMessage(memory.RoleUser, userMessage)); err != nil {
		o.setState(StateError)
		return nil, fmt.Errorf("orchestrator: persisting user message: %w", err)
	}

	defs := filteredDefinitions(toolPort.GetToolDefinitions(), agentCfg.EnabledTools)
	toolDefs, toolChoice := toolRequestShape(defs)

	systemPrompt := renderSystemPrompt(agentCfg.SystemPrompt, env)

	maxConcurrency := agentCfg.MaxToolConcurrency
	if maxConcurrency < 1 {
		maxConcurrency = 1
	}

	var final *llms.CompletionResult

	for turn := 0; turn < maxTurns; turn++ {
		if err := ctx.Err(); err != nil {
			o.setState(StateCancelled)
			return final, ErrCancelled
		}

		conv, err := o.store.GetConversation(conversationID)
		if err != nil {
			o.setState(StateError)
			return nil, fmt.Errorf("orchestrator: reading conversation: %w", err)
		}

		params := llms.CompletionParams{
			Model:           agentCfg.Model,
			Messages:        toLLMMessages(systemPrompt, conv.Messages),
			Tools:           toolDefs,
			ToolChoice:      toolChoice,
			Temperature:     agentCfg.Temperature,
			TopP:            agentCfg.TopP,
			MaxTokens:       agentCfg.MaxTokens,
			ReasoningEffort: string(agentCfg.ReasoningEffort),
			Thinking:        toLLMThinking(agentCfg.Thinking),
		}

		result, err := o.callLLM(ctx, provider, params, opts.Stream)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				o.setState(StateCancelled)
				return final, ErrCancelled
			}
			o.setState(StateError)
			o.events.emit(Event{Kind: EventError, Content: err.Error()})
			return nil, err
		}
		final = result

		cost := 0.0
		o.bucket.RecordLLMCall(result.Usage, cost)
		if m := observability.GetGlobalMetrics(); m != nil {
			m.RecordAgentCall(ctx, 0, result.Usage.TotalTokens, nil)
		}
		_ = o.store.RecordRequestMetrics(conversationID, memory.RequestMetrics{
			Usage: memory.TokenCounters{
				PromptTokens:     result.Usage.PromptTokens,
				CompletionTokens: result.Usage.CompletionTokens,
				TotalTokens:      result.Usage.TotalTokens,
			},
		})

		assistantMsg := memory.NewMessage(memory.RoleAssistant, result.Content)
		assistantMsg.ToolCalls = toMemoryToolCalls(result.ToolCalls)
		if err := o.store.AppendMessages(conversationID, assistantMsg); err != nil {
			o.setState(StateError)
			return nil, fmt.Errorf("orchestrator: persisting assistant message: %w", err)
		}

		if !opts.Stream {
			o.events.emit(Event{Kind: EventAssistantMessage, Content: result.Content, ToolCalls: result.ToolCalls, Usage: &result.Usage})
		}

		if len(result.ToolCalls) == 0 {
			break
		}

		o.setState(StateToolRound)
		if err := o.runToolRound(ctx, conversationID, toolPort, result.ToolCalls, maxConcurrency); err != nil {
			if errors.Is(err, context.Canceled) {
				o.setState(StateCancelled)
				return final, ErrCancelled
			}
			o.setState(StateError)
			return final, err
		}
		o.setState(StateThinking)
	}

	o.setState(StateDone)
	if final != nil {
		o.events.emit(Event{Kind: EventDone, Usage: &final.Usage})
	} else {
		o.events.emit(Event{Kind: EventDone})
	}
	return final, nil
}

// callLLM dispatches to StreamCompletion or GenerateCompletion, wiring
// the stream handlers to the event port when streaming.
func (o *Orchestrator) callLLM(ctx context.Context, provider llms.Provider, params llms.CompletionParams, stream bool) (*llms.CompletionResult, error) {
	if !stream {
		return provider.GenerateCompletion(ctx, params)
	}

	handlers := llms.StreamHandlers{
		OnChunk: func(delta string, usage *llms.Usage) {
			o.events.emit(Event{Kind: EventAssistantChunk, Content: delta, Usage: usage})
		},
		OnToolCallDelta: func(tc llms.ToolCall) {},
		OnStreamFinish: func(finishReason string, usage *llms.Usage) {
			o.events.emit(Event{Kind: EventStreamFinish, FinishReason: finishReason, Usage: usage})
		},
	}
	return provider.StreamCompletion(ctx, params, handlers)
}

// runToolRound executes one batch of tool calls and appends one tool
// Message per result, in input order (spec §4.7 step 3e, §5 ordering).
func (o *Orchestrator) runToolRound(ctx context.Context, conversationID string, toolPort tool.Port, calls []llms.ToolCall, maxConcurrency int) error {
	for _, call := range calls {
		var params map[string]any
		_ = json.Unmarshal([]byte(call.Arguments), &params)
		o.events.emit(Event{Kind: EventToolCallStart, ToolCallID: call.ID, ToolName: call.Name, Parameters: params})
	}

	results := toolPort.ExecuteToolCalls(ctx, calls, maxConcurrency)

	for _, r := range results {
		o.bucket.RecordToolCall()
		if m := observability.GetGlobalMetrics(); m != nil {
			m.RecordToolExecution(ctx, r.Name, time.Duration(r.DurationMs)*time.Millisecond, toolError(r))
		}
		o.events.emit(Event{
			Kind: EventToolCallResult, ToolCallID: r.ID, ToolName: r.Name,
			Status: r.Status, Content: r.Result, DurationMs: r.DurationMs,
		})

		toolMsg := memory.NewMessage(memory.RoleTool, r.Result)
		toolMsg.ToolCallID = r.ID
		toolMsg.Name = r.Name
		if err := o.store.AppendMessages(conversationID, toolMsg); err != nil {
			return fmt.Errorf("orchestrator: persisting tool message: %w", err)
		}
	}
	return nil
}

func toolError(r tool.ExecutionResult) error {
	if r.Status == tool.StatusSuccess {
		return nil
	}
	return fmt.Errorf("%s: %s", r.Status, r.Result)
}

// filteredDefinitions restricts defs to enabledTools. An empty/nil
// enabledTools means no restriction is configured: every tool the port
// offers is available. This is this implementation's resolution of an
// otherwise-unspecified default (spec.md names enabledTools as "the set
// of tool names that may be offered" without stating the empty-set
// default) — see DESIGN.md.
func filteredDefinitions(defs []tool.Definition, enabledTools []string) []tool.Definition {
	if len(enabledTools) == 0 {
		return defs
	}
	allowed := make(map[string]bool, len(enabledTools))
	for _, name := range enabledTools {
		allowed[name] = true
	}
	out := make([]tool.Definition, 0, len(defs))
	for _, d := range defs {
		if allowed[d.Name] {
			out = append(out, d)
		}
	}
	return out
}

// toolRequestShape builds the Tools/ToolChoice pair for a completion
// request: tools must be omitted (nil) rather than sent as an empty
// list when no tool is enabled (spec §4.7 contract), and toolChoice is
// only meaningful alongside a non-empty tool list.
func toolRequestShape(defs []tool.Definition) ([]llms.ToolDefinition, llms.ToolChoice) {
	if len(defs) == 0 {
		return nil, llms.ToolChoice{}
	}
	out := make([]llms.ToolDefinition, len(defs))
	for i, d := range defs {
		out[i] = d.ToLLMToolDefinition()
	}
	return out, llms.ToolChoiceAuto
}

func toLLMThinking(t *config.ThinkingConfig) *llms.Thinking {
	if t == nil {
		return nil
	}
	return &llms.Thinking{Enabled: t.Enabled, BudgetTokens: t.BudgetTokens}
}

func toLLMMessages(systemPrompt string, history []memory.Message) []llms.Message {
	out := make([]llms.Message, 0, len(history)+1)
	if systemPrompt != "" {
		out = append(out, llms.Message{Role: string(memory.RoleSystem), Content: systemPrompt})
	}
	for _, m := range history {
		out = append(out, llms.Message{
			Role:       string(m.Role),
			Content:    m.Content,
			ToolCalls:  toLLMToolCalls(m.ToolCalls),
			ToolCallID: m.ToolCallID,
			Name:       m.Name,
		})
	}
	return out
}

func toLLMToolCalls(calls []memory.ToolCall) []llms.ToolCall {
	if len(calls) == 0 {
		return nil
	}
	out := make([]llms.ToolCall, len(calls))
	for i, c := range calls {
		out[i] = llms.ToolCall{ID: c.ID, Name: c.Name, Arguments: c.Arguments}
	}
	return out
}

func toMemoryToolCalls(calls []llms.ToolCall) []memory.ToolCall {
	if len(calls) == 0 {
		return nil
	}
	out := make([]memory.ToolCall, len(calls))
	for i, c := range calls {
		out[i] = memory.ToolCall{ID: c.ID, Name: c.Name, Arguments: c.Arguments}
	}
	return out
}
