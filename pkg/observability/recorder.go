package observability

import (
	"context"
	"sync"
	"time"
)

var (
	globalMetrics Metrics
	metricsMu     sync.RWMutex
)

// Metrics is the per-call instrumentation hook L2 (pkg/llms) and L6
// (pkg/orchestrator) reach for via GetGlobalMetrics, independent of
// whether a Prometheus exporter is actually running. Scoped to what this
// core's call sites emit: agent turns, tool executions, LLM calls, and
// the business-KPI session/turn counters spec §4.8's manager records.
// No HTTP-request or gRPC-call methods: this core has no inbound HTTP
// handler or gRPC service of its own to instrument (the Prometheus
// /metrics endpoint itself is served by Manager, see manager.go/metrics.go).
type Metrics interface {
	RecordAgentCall(ctx context.Context, duration time.Duration, tokens int, err error)
	RecordToolExecution(ctx context.Context, tool string, duration time.Duration, err error)
	RecordLLMCall(ctx context.Context, model string, duration time.Duration, inputTokens, outputTokens int, err error)

	// Business KPI metrics
	RecordSession(ctx context.Context, agentName string, duration time.Duration, successful bool)
	RecordConversationTurn(ctx context.Context, agentName string, turnCount int)
}

// GlobalMetricsAdapter wires the global Metrics hook to the Prometheus
// registry Manager owns (metrics.go's *Metrics, exposed at /metrics),
// so RecordLLMCall et al. called deep inside pkg/llms and
// pkg/orchestrator actually land in the same registry the manager
// serves, instead of two disconnected metrics stacks.
type GlobalMetricsAdapter struct {
	m *Metrics
}

// NewGlobalMetricsAdapter adapts m to the Metrics interface. m may be
// nil, in which case every call is a no-op.
func NewGlobalMetricsAdapter(m *Metrics) *GlobalMetricsAdapter {
	return &GlobalMetricsAdapter{m: m}
}

func (a *GlobalMetricsAdapter) RecordAgentCall(_ context.Context, duration time.Duration, tokens int, err error) {
	if a == nil || a.m == nil {
		return
	}
	a.m.RecordAgentCall("default", "default", duration)
	if err != nil {
		a.m.RecordAgentError("default", "default", "error")
	}
}

func (a *GlobalMetricsAdapter) RecordToolExecution(_ context.Context, tool string, duration time.Duration, err error) {
	if a == nil || a.m == nil {
		return
	}
	a.m.RecordToolCall(tool, duration)
	if err != nil {
		a.m.RecordToolError(tool, "error")
	}
}

func (a *GlobalMetricsAdapter) RecordLLMCall(_ context.Context, model string, duration time.Duration, inputTokens, outputTokens int, err error) {
	if a == nil || a.m == nil {
		return
	}
	a.m.RecordLLMCall(model, "", duration)
	a.m.RecordLLMTokens(model, "", inputTokens, outputTokens)
	if err != nil {
		a.m.RecordLLMError(model, "", "error")
	}
}

func (a *GlobalMetricsAdapter) RecordSession(_ context.Context, agentName string, _ time.Duration, _ bool) {
	if a == nil || a.m == nil {
		return
	}
	a.m.RecordSessionCreated(agentName)
}

func (a *GlobalMetricsAdapter) RecordConversationTurn(_ context.Context, agentName string, turnCount int) {
	if a == nil || a.m == nil {
		return
	}
	a.m.RecordSessionEvent(agentName, "turn")
	_ = turnCount
}

var _ Metrics = (*GlobalMetricsAdapter)(nil)

// noopGlobalMetrics is the Metrics default before SetGlobalMetrics is
// called (named distinctly from noop.go's NoopMetrics, which satisfies
// the unrelated Recorder interface with a different method shape).
type noopGlobalMetrics struct{}

func (noopGlobalMetrics) RecordAgentCall(context.Context, time.Duration, int, error)          {}
func (noopGlobalMetrics) RecordToolExecution(context.Context, string, time.Duration, error)    {}
func (noopGlobalMetrics) RecordLLMCall(context.Context, string, time.Duration, int, int, error) {}
func (noopGlobalMetrics) RecordSession(context.Context, string, time.Duration, bool)           {}
func (noopGlobalMetrics) RecordConversationTurn(context.Context, string, int)                  {}

var _ Metrics = noopGlobalMetrics{}

// SetGlobalMetrics installs the Metrics implementation every pkg/llms
// and pkg/orchestrator call site reaches via GetGlobalMetrics. Manager
// calls this once at startup with a GlobalMetricsAdapter over its own
// Prometheus registry (see manager.go).
func SetGlobalMetrics(m Metrics) {
	metricsMu.Lock()
	defer metricsMu.Unlock()
	globalMetrics = m
}

func GetGlobalMetrics() Metrics {
	metricsMu.RLock()
	defer metricsMu.RUnlock()
	if globalMetrics == nil {
		return noopGlobalMetrics{}
	}
	return globalMetrics
}
