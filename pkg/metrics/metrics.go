// Package metrics implements the per-session Metrics Service (L5, spec
// §4.6): in-memory counters for tokens, LLM calls, tool calls, cost, and
// context-window usage.
package metrics

import (
	"sync"

	"github.com/kadirpekel/hector/pkg/llms"
)

// Snapshot is an immutable copy of a Bucket's counters at a point in time.
type Snapshot struct {
	CurrentPromptTokens     int
	CurrentCompletionTokens int
	CurrentCachedTokens     int
	CurrentTokens           int
	TotalTokens             int
	LLMCallCount            int
	ToolCallCount           int
	TotalCost               float64
	ContextWindowLimit      int
	ContextWindowUsage      float64 // 0 when ContextWindowLimit is unset
	HasContextWindow        bool
}

// Bucket is one session's counters. All operations are safe for
// concurrent use; GetSnapshot returns a copy, never a live reference.
type Bucket struct {
	mu sync.Mutex
	s  Snapshot
}

// NewBucket returns a zeroed counters bucket.
func NewBucket() *Bucket {
	return &Bucket{}
}

// RecordLLMCall increments LLMCallCount, replaces the "current request"
// token counters with this request's usage, adds to cumulative
// TotalTokens, and adds cost to TotalCost.
func (b *Bucket) RecordLLMCall(usage llms.Usage, cost float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.s.LLMCallCount++
	b.s.CurrentPromptTokens = usage.PromptTokens
	b.s.CurrentCompletionTokens = usage.CompletionTokens
	b.s.CurrentCachedTokens = usage.CachedTokens
	b.s.CurrentTokens = usage.PromptTokens + usage.CompletionTokens
	b.s.TotalTokens += usage.TotalTokens
	b.s.TotalCost += cost
}

// RecordToolCall increments ToolCallCount by one.
func (b *Bucket) RecordToolCall() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.s.ToolCallCount++
}

// RecordRequestComplete is a placeholder hook for accumulating response
// time at the metrics-bucket level; the conversation store (L3) is the
// authoritative accumulator for responseTimeMs per spec §4.4, so this
// bucket does not duplicate that counter today. Kept as a named no-op
// rather than omitted so callers have a stable single call site if a
// session-wide response-time counter is added later.
func (b *Bucket) RecordRequestComplete(ms int64) {}

// SetContextWindow stores the most recent context-window ratio observed
// for this session (spec §4.8's watchdog: usage = currentPromptTokens /
// contextWindow).
func (b *Bucket) SetContextWindow(limit int, usage float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.s.ContextWindowLimit = limit
	b.s.ContextWindowUsage = usage
	b.s.HasContextWindow = true
}

// Reset clears all counters for the session (spec §3 Lifecycles: reset on
// session creation and after auto-summary replaces history).
func (b *Bucket) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.s = Snapshot{}
}

// GetSnapshot returns an immutable copy of the current counters.
func (b *Bucket) GetSnapshot() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.s
}
