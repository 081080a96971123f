// SPDX-License-Identifier: AGPL-3.0
// Copyright 2025 Kadir Pekel
//
// Licensed under the GNU Affero General Public License v3.0 (AGPL-3.0) (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.gnu.org/licenses/agpl-3.0.en.html
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package manager implements the Orchestrator Manager (L7, spec §4.8):
// the session-facing wrapper around one L6 Orchestrator that adds
// lifecycle (init/cleanup), hot-reload, user-facing retry, the
// context-window watchdog, auto-summary, topic analysis, and session
// switching - none of which L6 itself knows about.
package manager

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/kadirpekel/hector/pkg/auth"
	"github.com/kadirpekel/hector/pkg/config"
	"github.com/kadirpekel/hector/pkg/httpclient"
	"github.com/kadirpekel/hector/pkg/llms"
	"github.com/kadirpekel/hector/pkg/memory"
	"github.com/kadirpekel/hector/pkg/metrics"
	"github.com/kadirpekel/hector/pkg/orchestrator"
	"github.com/kadirpekel/hector/pkg/session"
	"github.com/kadirpekel/hector/pkg/tool"
	"github.com/kadirpekel/hector/pkg/tool/agenttool"
	"github.com/kadirpekel/hector/pkg/utils"
)

// Status is the manager's lifecycle position.
type Status string

const (
	StatusInitializing Status = "initializing"
	StatusReady        Status = "ready"
	StatusError        Status = "error"
	StatusClosed       Status = "closed"
)

const (
	// defaultRetryAttempts/defaultRetryDelay implement spec §4.8's
	// send/retry policy: "up to 10 attempts with fixed 10-second spacing
	// (policy configurable)".
	defaultRetryAttempts = 10
	defaultRetryDelay    = 10 * time.Second

	// watchdogWarnThreshold/watchdogSummaryThreshold are spec §4.8's
	// context-window watchdog thresholds.
	watchdogWarnThreshold    = 0.85
	watchdogSummaryThreshold = 0.95

	// summaryInputTokenBudget bounds how much conversation text is fed to
	// the transient summarizer orchestrator, leaving headroom for its own
	// system prompt and reply within a conservative context window.
	summaryInputTokenBudget = 12000

	// defaultFallbackContextWindow is used when neither the provider's
	// GetModels nor fallbackContextWindows knows the configured model.
	defaultFallbackContextWindow = 128000
)

// fallbackContextWindows is the static fallback map spec §4.8 calls for
// ("from adapter getModels if available, else a static fallback map"),
// covering the model families the provider adapters (pkg/llms) and the
// example configs in this corpus name most often.
var fallbackContextWindows = map[string]int{
	"gpt-4o":                     128000,
	"gpt-4o-mini":                128000,
	"gpt-4-turbo":                128000,
	"gpt-4":                      8192,
	"gpt-3.5-turbo":              16385,
	"claude-3-5-sonnet-20241022": 200000,
	"claude-3-5-haiku-20241022":  200000,
	"claude-3-opus-20240229":     200000,
	"claude-3-haiku-20240307":    200000,
	"claude-sonnet-4-20250514":   200000,
	"gemini-1.5-pro":             2000000,
	"gemini-2.0-flash-exp":       1000000,
}

// summarizerSystemPrompt/topicSystemPrompt are the transient-orchestrator
// instructions spec §4.8 describes as "a summarizer system prompt" and "a
// reply in 5-10 words instruction".
const (
	summarizerSystemPrompt = "You are a summarization assistant. Summarize the conversation below concisely in prose, preserving key facts, decisions, and any open tasks. Do not add commentary about the summarization itself."
	topicSystemPrompt      = "Reply with a short topic label for the conversation below, in 5 to 10 words. No surrounding quotes, no trailing punctuation."
)

// Config configures a Manager. Config.Config, Config.AgentID are required;
// everything else defaults to a sensible standalone value so a single
// Manager can be constructed top-level or as a delegated child (spec
// §4.5's assign_task resolver, see resolver.go).
type Config struct {
	// Config is the resolved configuration snapshot (spec §4.1); the
	// manager re-reads it on every Send for hot reload.
	Config *config.Config

	// Registry holds this manager's constructed LLM providers. Each
	// Manager should own its own Registry (New creates one if nil) so
	// concurrent managers never race over the same registered name during
	// a hot-reload provider swap.
	Registry *llms.Registry

	// Sessions creates/looks up Session entities. If nil, a private
	// in-memory-only session.Manager is created.
	Sessions *session.Manager

	AgentID   string
	SessionID string
	// Dir, if non-empty, makes the session persistent (spec §3) and also
	// enables the events.json append log (spec §6 persisted state layout).
	Dir string

	// Events is the event port new UI connections attach to; it can be
	// swapped later with SetEventPort.
	Events orchestrator.EventPort

	// OnTokenUpdate persists refreshed OAuth credentials (spec §6: "emits
	// change requests via a setter callback for new OAuth credentials").
	OnTokenUpdate auth.OnTokenUpdate

	// Tools are local tool.Callable implementations registered on every
	// orchestrator this manager builds, at every delegation depth.
	Tools []tool.Callable
	// Toolsets are pre-connected remote tool ports (e.g. mcptoolset.Toolset
	// instances) composed alongside the local port. The manager takes
	// ownership for Cleanup if they also implement io.Closer.
	Toolsets []tool.Port

	Environment orchestrator.Environment

	// Depth is this manager's delegation depth (0 for a top-level
	// session); set by resolver.go when constructing a delegated child.
	Depth int

	RetryAttempts int
	RetryDelay    time.Duration
}

// Manager wraps one L6 Orchestrator with session lifecycle (spec §4.8).
type Manager struct {
	mu     sync.RWMutex
	cfg    Config
	status Status

	session *session.Session
	orch    *orchestrator.Orchestrator

	providerName string
	providerCfg  *config.ProviderConfig

	eventSink    *jsonlEventSink
	closers      []namedCloser
	retryAttempts int
	retryDelay    time.Duration
}

type namedCloser struct {
	name   string
	closer io.Closer
}

// New initializes a Manager (spec §4.8 init): resolves the session,
// constructs the conversation store/metrics bucket, builds the LLM
// provider and tool port (local tools + the assign_task delegation tool,
// see resolver.go, + any pre-built toolsets), emits an initialization
// event, and marks status Ready.
func New(cfg Config) (*Manager, error) {
	if cfg.Config == nil {
		return nil, fmt.Errorf("manager: Config.Config is required")
	}
	if cfg.AgentID == "" {
		return nil, fmt.Errorf("manager: Config.AgentID is required")
	}
	if cfg.Registry == nil {
		cfg.Registry = llms.NewRegistry()
	}
	if cfg.Sessions == nil {
		cfg.Sessions = session.NewManager(nil)
	}
	if cfg.RetryAttempts <= 0 {
		cfg.RetryAttempts = defaultRetryAttempts
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = defaultRetryDelay
	}

	m := &Manager{
		cfg:           cfg,
		status:        StatusInitializing,
		retryAttempts: cfg.RetryAttempts,
		retryDelay:    cfg.RetryDelay,
	}

	agentCfg, ok := cfg.Config.GetAgent(cfg.AgentID)
	if !ok {
		m.status = StatusError
		return nil, fmt.Errorf("manager: unknown agent %q", cfg.AgentID)
	}
	agentCopy := *agentCfg
	agentCopy.SetDefaults()

	providerCfg, ok := cfg.Config.GetProvider(agentCopy.Provider)
	if !ok {
		m.status = StatusError
		return nil, fmt.Errorf("manager: agent %q references undefined provider %q", cfg.AgentID, agentCopy.Provider)
	}

	sess, err := cfg.Sessions.Create(cfg.SessionID, cfg.Dir)
	if err != nil {
		m.status = StatusError
		return nil, fmt.Errorf("manager: creating session: %w", err)
	}
	m.session = sess

	provider, err := cfg.Registry.CreateProvider(agentCopy.Provider, providerCfg, agentCopy.Model, cfg.OnTokenUpdate)
	if err != nil {
		m.status = StatusError
		return nil, fmt.Errorf("manager: constructing provider: %w", err)
	}
	m.providerName = agentCopy.Provider
	m.providerCfg = providerCfg

	toolPort := m.buildToolPort(&agentCopy)

	events := orchestrator.EventPort(cfg.Events)
	if sess.Dir() != "" {
		sink, err := newJSONLEventSink(sess.Dir() + "/events.json")
		if err != nil {
			m.status = StatusError
			return nil, fmt.Errorf("manager: opening events.json: %w", err)
		}
		m.eventSink = sink
		m.closers = append(m.closers, namedCloser{name: "events.json", closer: sink})
		events = fanoutEventPort{ports: []orchestrator.EventPort{cfg.Events, sink}}
	}

	orchCfg := orchestrator.Config{Agent: &agentCopy, Environment: cfg.Environment}
	m.orch = orchestrator.New(orchCfg, provider, toolPort, sess.Store(), sess.Metrics(), events)

	m.orch.EmitEvent(orchestrator.Event{
		Kind:    orchestrator.EventSystem,
		Content: fmt.Sprintf("session %s ready (agent=%s, provider=%s, model=%s)", sess.ID(), cfg.AgentID, agentCopy.Provider, agentCopy.Model),
	})
	m.status = StatusReady
	return m, nil
}

// Status returns the manager's current lifecycle status.
func (m *Manager) Status() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status
}

// Session returns the session this manager drives.
func (m *Manager) Session() *session.Session { return m.session }

// Orchestrator returns the underlying L6 orchestrator, for callers that
// need direct access (tests, a future REPL front end).
func (m *Manager) Orchestrator() *orchestrator.Orchestrator { return m.orch }

// buildToolPort composes the local tool port (registered Tools plus, when
// delegation is allowed for this agent, the assign_task tool) with any
// pre-built remote toolsets (spec §4.8 init: "local tools + MCP composite").
func (m *Manager) buildToolPort(agentCfg *config.AgentConfig) tool.Port {
	local := tool.NewLocalPort(0, agentCfg.RequireToolApproval, nil)
	for _, t := range m.cfg.Tools {
		local.Register(t)
	}

	if !agentCfg.DelegationDisabled && agentCfg.MaxDelegationDepth > 0 {
		resolver := newAgentResolver(m, m.cfg.Depth+1)
		local.Register(agenttool.New(agenttool.Config{
			Depth:    m.cfg.Depth,
			MaxDepth: agentCfg.MaxDelegationDepth,
		}, resolver))
	}

	if len(m.cfg.Toolsets) == 0 {
		return local
	}
	ports := append([]tool.Port{local}, m.cfg.Toolsets...)
	return tool.NewCompositePort(ports...)
}

// Send delegates to the L6 orchestrator through the hot-reload, retry,
// watchdog, and topic-analysis wrapping spec §4.8 describes.
func (m *Manager) Send(ctx context.Context, userMessage string, opts orchestrator.SendOptions) (*llms.CompletionResult, error) {
	if m.Status() != StatusReady {
		return nil, fmt.Errorf("manager: not ready (status=%s)", m.Status())
	}

	m.hotReload()

	result, err := m.sendWithRetry(ctx, userMessage, opts)
	if err != nil {
		return result, err
	}
	m.session.Touch()

	conversationID := opts.ConversationID
	if conversationID == "" {
		conversationID = "default"
	}
	m.runWatchdog(ctx, conversationID)
	m.runTopicAnalysis(ctx, conversationID, userMessage)

	return result, nil
}

// hotReload re-reads this manager's agent/provider config and swaps the
// orchestrator's agent/provider in place if either changed (spec §4.8
// send/retry: "re-read current provider/model/reasoning from config...
// and swap the LLM adapter if needed before delegating to L6").
func (m *Manager) hotReload() {
	agentCfg, ok := m.cfg.Config.GetAgent(m.cfg.AgentID)
	if !ok {
		return
	}
	agentCopy := *agentCfg
	agentCopy.SetDefaults()
	m.orch.SetAgent(&agentCopy)

	providerCfg, ok := m.cfg.Config.GetProvider(agentCopy.Provider)
	if !ok {
		return
	}

	m.mu.Lock()
	unchanged := agentCopy.Provider == m.providerName && providerCfg == m.providerCfg
	m.mu.Unlock()
	if unchanged {
		return
	}

	_ = m.cfg.Registry.Remove(agentCopy.Provider)
	provider, err := m.cfg.Registry.CreateProvider(agentCopy.Provider, providerCfg, agentCopy.Model, m.cfg.OnTokenUpdate)
	if err != nil {
		m.orch.EmitEvent(orchestrator.Event{
			Kind: orchestrator.EventSystem, Color: "warning",
			Content: fmt.Sprintf("hot reload: keeping previous provider, rebuild failed: %v", err),
		})
		return
	}

	m.mu.Lock()
	m.providerName, m.providerCfg = agentCopy.Provider, providerCfg
	m.mu.Unlock()
	m.orch.SetProvider(provider)
}

// sendWithRetry wraps one L6 Send in spec §4.8's user-facing retry: up to
// RetryAttempts attempts with fixed RetryDelay spacing, a System event
// per retry, and immediate (non-retrying) propagation of non-retryable
// errors.
func (m *Manager) sendWithRetry(ctx context.Context, userMessage string, opts orchestrator.SendOptions) (*llms.CompletionResult, error) {
	var lastErr error
	for attempt := 1; attempt <= m.retryAttempts; attempt++ {
		result, err := m.orch.Send(ctx, userMessage, opts)
		if err == nil {
			return result, nil
		}
		lastErr = err

		if !isRetryable(err) {
			return result, err
		}
		if attempt == m.retryAttempts {
			break
		}

		m.orch.EmitEvent(orchestrator.Event{
			Kind:  orchestrator.EventSystem,
			Color: "warning",
			Content: fmt.Sprintf("retrying after error (attempt %d/%d): %v", attempt, m.retryAttempts, err),
		})

		select {
		case <-ctx.Done():
			return nil, orchestrator.ErrCancelled
		case <-time.After(m.retryDelay):
		}
	}
	return nil, fmt.Errorf("manager: exhausted %d retry attempts: %w", m.retryAttempts, lastErr)
}

// isRetryable classifies send errors per spec §7's propagation policy:
// only errors the L1 transport itself flagged retryable are absorbed by
// the retry wrapper; cancellation and every other kind (Authentication,
// InvalidRequest, ModelUnsupported, internal errors, ...) bubble
// immediately.
func isRetryable(err error) bool {
	if errors.Is(err, orchestrator.ErrCancelled) || errors.Is(err, context.Canceled) {
		return false
	}
	var re *httpclient.RetryableError
	if errors.As(err, &re) {
		return re.IsRetryable()
	}
	return false
}

// runWatchdog implements spec §4.8's context-window watchdog: after a
// successful send, compute usage = currentPromptTokens/contextWindow and
// emit a warning at 0.85, triggering auto-summary at 0.95.
func (m *Manager) runWatchdog(ctx context.Context, conversationID string) {
	bucket := m.orch.Bucket()
	snap := bucket.GetSnapshot()
	if snap.CurrentPromptTokens <= 0 {
		return
	}

	limit := m.contextWindowLimit()
	if limit <= 0 {
		return
	}
	usage := float64(snap.CurrentPromptTokens) / float64(limit)
	bucket.SetContextWindow(limit, usage)

	switch {
	case usage >= watchdogSummaryThreshold:
		m.orch.EmitEvent(orchestrator.Event{
			Kind: orchestrator.EventSystem, Color: "warning",
			Content: fmt.Sprintf("context window at %.0f%%, running auto-summary", usage*100),
		})
		m.autoSummary(ctx, conversationID)
	case usage >= watchdogWarnThreshold:
		m.orch.EmitEvent(orchestrator.Event{
			Kind: orchestrator.EventSystem, Color: "warning",
			Content: fmt.Sprintf("context window at %.0f%%", usage*100),
		})
	}
}

// contextWindowLimit resolves the active model's context window from the
// provider's GetModels (itself backed by a static descriptor list, a
// custom endpoint, or the provider's default endpoint), falling back to
// fallbackContextWindows when the provider can't answer.
func (m *Manager) contextWindowLimit() int {
	agentCfg := m.orch.Agent()
	if provider := m.orch.Provider(); provider != nil {
		if models, err := provider.GetModels(); err == nil {
			for _, mi := range models {
				if mi.ID == agentCfg.Model && mi.ContextWindow > 0 {
					return mi.ContextWindow
				}
			}
		}
	}
	if limit, ok := fallbackContextWindows[agentCfg.Model]; ok {
		return limit
	}
	return defaultFallbackContextWindow
}

// autoSummary implements spec §4.8: run a transient summarizer
// orchestrator over the conversation, replace the conversation with a
// single message carrying the summary, reset the metrics bucket, and
// emit the UI clear+refresh event pair.
func (m *Manager) autoSummary(ctx context.Context, conversationID string) {
	store := m.orch.Store()
	conv, err := store.GetConversation(conversationID)
	if err != nil || len(conv.Messages) == 0 {
		return
	}

	agentCfg := m.orch.Agent()
	text := renderConversationText(boundMessages(agentCfg.Model, conv.Messages))
	if text == "" {
		return
	}

	summarizer := m.buildTransientOrchestrator(summarizerSystemPrompt, agentCfg)
	result, err := summarizer.Send(ctx, text, orchestrator.SendOptions{ConversationID: "summary"})
	if err != nil || result == nil {
		m.orch.EmitEvent(orchestrator.Event{Kind: orchestrator.EventSystem, Color: "warning", Content: fmt.Sprintf("auto-summary failed: %v", err)})
		return
	}
	summary := strings.TrimSpace(result.Content)
	if summary == "" {
		return
	}

	_ = store.Delete(conversationID)
	replacement := memory.NewMessage(memory.RoleUser, "Previous conversation summary:\n\n"+summary)
	if err := store.AppendMessages(conversationID, replacement); err != nil {
		return
	}

	m.session.ResetMetrics()
	m.orch.SetBucket(m.session.Metrics())

	m.orch.EmitEvent(orchestrator.Event{Kind: orchestrator.EventSystem, Content: "conversation summarized to stay within the context window"})
	m.orch.EmitEvent(orchestrator.Event{Kind: orchestrator.EventLinesClear})
	m.orch.EmitEvent(orchestrator.Event{Kind: orchestrator.EventHeaderRefresh})
}

// runTopicAnalysis implements spec §4.8: a small bounded transient
// orchestrator labels the conversation in 5-10 words; failures are
// swallowed so a flaky topic call never breaks Send.
func (m *Manager) runTopicAnalysis(ctx context.Context, conversationID, latestUserMessage string) {
	store := m.orch.Store()
	conv, err := store.GetConversation(conversationID)
	if err != nil {
		return
	}

	var priorUser []string
	for _, msg := range conv.Messages {
		if msg.Role == memory.RoleUser {
			priorUser = append(priorUser, msg.Content)
		}
	}
	input := strings.Join(priorUser, "\n")
	if input == "" {
		input = latestUserMessage
	}
	if input == "" {
		return
	}

	agentCfg := m.orch.Agent()
	topicOrch := m.buildTransientOrchestrator(topicSystemPrompt, agentCfg)
	result, err := topicOrch.Send(ctx, input, orchestrator.SendOptions{ConversationID: "topic"})
	if err != nil || result == nil {
		return
	}
	topic := strings.TrimSpace(result.Content)
	if topic == "" {
		return
	}
	_ = store.UpdateTopic(conversationID, topic)
}

// buildTransientOrchestrator constructs a single-turn, tool-less
// orchestrator sharing this manager's live provider but running under
// its own in-memory store/bucket and a system prompt override - the
// shape spec §4.8 calls for both auto-summary and topic analysis.
func (m *Manager) buildTransientOrchestrator(systemPrompt string, base *config.AgentConfig) *orchestrator.Orchestrator {
	cfg := orchestrator.Config{
		Agent: &config.AgentConfig{
			ID:                 base.ID + "-transient",
			SystemPrompt:       systemPrompt,
			Provider:           base.Provider,
			Model:              base.Model,
			Temperature:        0.2,
			TopP:               1,
			MaxToolConcurrency: 1,
			MaxTokens:          base.MaxTokens,
			DelegationDisabled: true,
		},
		MaxTurns: 1,
	}
	cfg.Agent.SetDefaults()
	return orchestrator.New(cfg, m.orch.Provider(), tool.NewLocalPort(0, false, nil), memory.NewInMemoryStore(), metrics.NewBucket(), orchestrator.NoopEventPort{})
}

// boundMessages converts a conversation's history into utils.Message and
// trims it to summaryInputTokenBudget using the teacher's tiktoken-backed
// TokenCounter, most-recent-first, so a very long conversation doesn't
// blow the summarizer's own request budget.
func boundMessages(model string, history []memory.Message) []memory.Message {
	tc, err := utils.NewTokenCounter(model)
	if err != nil {
		return history
	}
	asUtils := make([]utils.Message, len(history))
	for i, m := range history {
		asUtils[i] = utils.Message{Role: string(m.Role), Content: m.Content}
	}
	fitted := tc.FitWithinLimit(asUtils, summaryInputTokenBudget)
	if len(fitted) == len(asUtils) {
		return history
	}
	return history[len(history)-len(fitted):]
}

func renderConversationText(history []memory.Message) string {
	var b strings.Builder
	for _, m := range history {
		if m.Content == "" {
			continue
		}
		fmt.Fprintf(&b, "%s: %s\n", m.Role, m.Content)
	}
	return b.String()
}

// SetEventPort hot-swaps the event port new Send calls (and the watchdog
// /auto-summary events) are emitted to, e.g. when a UI client reattaches
// to a running session.
func (m *Manager) SetEventPort(events orchestrator.EventPort) {
	if m.eventSink == nil {
		m.orch.SetEvents(events)
		return
	}
	m.orch.SetEvents(fanoutEventPort{ports: []orchestrator.EventPort{events, m.eventSink}})
}

// SwitchToSession implements spec §4.8 switchToSession: swap the memory
// and metrics facade on the live orchestrator without restarting MCP
// subprocesses or reconstructing the provider/tool port.
func (m *Manager) SwitchToSession(sess *session.Session) {
	m.mu.Lock()
	m.session = sess
	m.mu.Unlock()
	m.orch.SetStore(sess.Store())
	m.orch.SetBucket(sess.Metrics())
	m.orch.EmitEvent(orchestrator.Event{Kind: orchestrator.EventSystem, Content: fmt.Sprintf("switched to session %s", sess.ID())})
}

// CreateNewConversation implements spec §4.8 createNewConversation: start
// a brand new session (fresh store/metrics) and switch the live
// orchestrator onto it.
func (m *Manager) CreateNewConversation(dir string) (*session.Session, error) {
	sess, err := m.cfg.Sessions.Create("", dir)
	if err != nil {
		return nil, fmt.Errorf("manager: creating new conversation: %w", err)
	}
	m.SwitchToSession(sess)
	return sess, nil
}

// Cleanup implements spec §4.8 cleanup: disconnect any registered remote
// toolsets and close file logs (the events.json sink this manager may
// have opened, plus anything else RegisterCloser was given).
func (m *Manager) Cleanup() error {
	m.mu.Lock()
	closers := m.closers
	m.closers = nil
	m.status = StatusClosed
	m.mu.Unlock()

	var errs []error
	for _, c := range closers {
		if err := c.closer.Close(); err != nil {
			errs = append(errs, fmt.Errorf("manager: closing %s: %w", c.name, err))
		}
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// RegisterCloser adds a resource (an MCP toolset, a file log) this
// manager's Cleanup should close, in addition to the events.json sink
// opened automatically for persistent sessions.
func (m *Manager) RegisterCloser(name string, c io.Closer) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closers = append(m.closers, namedCloser{name: name, closer: c})
}

// fanoutEventPort forwards one event to every non-nil port, implementing
// spec §4.8's "switchToSession ... swap the ... event adapter" by letting
// the manager always emit to both a live UI client and the durable
// events.json sink.
type fanoutEventPort struct {
	ports []orchestrator.EventPort
}

func (f fanoutEventPort) Emit(e orchestrator.Event) {
	for _, p := range f.ports {
		if p != nil {
			p.Emit(e)
		}
	}
}

// jsonlEventSink appends every event as one JSON line to a session's
// events.json (spec §6 persisted state layout: "append-only log of event
// objects ... newline-delimited").
type jsonlEventSink struct {
	mu   sync.Mutex
	file *os.File
	enc  *json.Encoder
}

func newJSONLEventSink(path string) (*jsonlEventSink, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, err
	}
	return &jsonlEventSink{file: f, enc: json.NewEncoder(f)}, nil
}

func (s *jsonlEventSink) Emit(e orchestrator.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.enc.Encode(e)
}

func (s *jsonlEventSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.file.Close()
}

var _ orchestrator.EventPort = (*jsonlEventSink)(nil)
var _ orchestrator.EventPort = fanoutEventPort{}
var _ io.Closer = (*jsonlEventSink)(nil)
