package tool

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/kadirpekel/hector/pkg/llms"
)

type stubTool struct {
	name    string
	schema  map[string]any
	fn      func(ctx context.Context, params map[string]any) (string, error)
	timeout time.Duration
}

func (t *stubTool) Name() string                 { return t.name }
func (t *stubTool) Description() string          { return "stub" }
func (t *stubTool) Schema() map[string]any       { return t.schema }
func (t *stubTool) Timeout() time.Duration       { return t.timeout }
func (t *stubTool) Call(ctx context.Context, params map[string]any) (string, error) {
	return t.fn(ctx, params)
}

func TestLocalPortExecuteToolCallsOrderPreserved(t *testing.T) {
	p := NewLocalPort(time.Second, false, nil)
	p.Register(&stubTool{name: "a", fn: func(context.Context, map[string]any) (string, error) { return "ra", nil }})
	p.Register(&stubTool{name: "b", fn: func(context.Context, map[string]any) (string, error) { return "rb", nil }})

	calls := []llms.ToolCall{{ID: "1", Name: "b", Arguments: "{}"}, {ID: "2", Name: "a", Arguments: "{}"}}
	results := p.ExecuteToolCalls(context.Background(), calls, 4)

	if len(results) != 2 || results[0].ID != "1" || results[0].Result != "rb" || results[1].ID != "2" || results[1].Result != "ra" {
		t.Errorf("results = %+v, want order matching input", results)
	}
}

func TestLocalPortUnknownTool(t *testing.T) {
	p := NewLocalPort(time.Second, false, nil)
	results := p.ExecuteToolCalls(context.Background(), []llms.ToolCall{{ID: "1", Name: "missing", Arguments: "{}"}}, 1)
	if results[0].Status != StatusError || results[0].Metadata["errorReason"] != ErrorReasonUnknownTool {
		t.Errorf("results[0] = %+v, want status=error errorReason=unknown_tool", results[0])
	}
}

func TestLocalPortValidationFailureDoesNotInvokeTool(t *testing.T) {
	invoked := false
	p := NewLocalPort(time.Second, false, nil)
	p.Register(&stubTool{
		name:   "needs_path",
		schema: map[string]any{"type": "object", "required": []any{"path"}, "properties": map[string]any{"path": map[string]any{"type": "string"}}},
		fn: func(context.Context, map[string]any) (string, error) {
			invoked = true
			return "", nil
		},
	})

	results := p.ExecuteToolCalls(context.Background(), []llms.ToolCall{{ID: "1", Name: "needs_path", Arguments: "{}"}}, 1)
	if results[0].Status != StatusError || results[0].Metadata["errorReason"] != ErrorReasonValidationFailed {
		t.Errorf("results[0] = %+v, want status=error errorReason=validation_failed", results[0])
	}
	if invoked {
		t.Error("tool was invoked despite failing parameter validation")
	}
}

func TestLocalPortApprovalDenied(t *testing.T) {
	invoked := false
	p := NewLocalPort(time.Second, true, denyAll{})
	p.Register(&stubTool{name: "t", fn: func(context.Context, map[string]any) (string, error) { invoked = true; return "", nil }})

	results := p.ExecuteToolCalls(context.Background(), []llms.ToolCall{{ID: "1", Name: "t", Arguments: "{}"}}, 1)
	if results[0].Status != StatusDenied {
		t.Errorf("Status = %v, want denied", results[0].Status)
	}
	if invoked {
		t.Error("tool was invoked despite denied approval")
	}
}

type denyAll struct{}

func (denyAll) Approve(context.Context, llms.ToolCall) (bool, error) { return false, nil }

func TestLocalPortTimeout(t *testing.T) {
	p := NewLocalPort(20*time.Millisecond, false, nil)
	p.Register(&stubTool{name: "slow", fn: func(ctx context.Context, params map[string]any) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	}})

	results := p.ExecuteToolCalls(context.Background(), []llms.ToolCall{{ID: "1", Name: "slow", Arguments: "{}"}}, 1)
	if results[0].Status != StatusTimeout {
		t.Errorf("Status = %v, want timeout", results[0].Status)
	}
}

func TestLocalPortBoundedConcurrency(t *testing.T) {
	maxInFlight := 0
	current := 0
	var calls []llms.ToolCall
	p := NewLocalPort(time.Second, false, nil)
	p.Register(&stubTool{name: "t", fn: func(ctx context.Context, params map[string]any) (string, error) {
		current++
		if current > maxInFlight {
			maxInFlight = current
		}
		time.Sleep(5 * time.Millisecond)
		current--
		return "ok", nil
	}})
	for i := 0; i < 10; i++ {
		calls = append(calls, llms.ToolCall{ID: fmt.Sprintf("%d", i), Name: "t", Arguments: "{}"})
	}

	p.ExecuteToolCalls(context.Background(), calls, 3)
	if maxInFlight > 3 {
		t.Errorf("observed %d in-flight calls, want <= 3", maxInFlight)
	}
}

func TestCompositePortFirstWins(t *testing.T) {
	first := NewLocalPort(time.Second, false, nil)
	first.Register(&stubTool{name: "shared", fn: func(context.Context, map[string]any) (string, error) { return "from-first", nil }})
	second := NewLocalPort(time.Second, false, nil)
	second.Register(&stubTool{name: "shared", fn: func(context.Context, map[string]any) (string, error) { return "from-second", nil }})

	composite := NewCompositePort(first, second)
	results := composite.ExecuteToolCalls(context.Background(), []llms.ToolCall{{ID: "1", Name: "shared", Arguments: "{}"}}, 1)
	if results[0].Result != "from-first" {
		t.Errorf("Result = %q, want from-first (first-wins resolution)", results[0].Result)
	}
}

func TestCompositePortUnknownToolAcrossAllPorts(t *testing.T) {
	composite := NewCompositePort(NewLocalPort(time.Second, false, nil))
	results := composite.ExecuteToolCalls(context.Background(), []llms.ToolCall{{ID: "1", Name: "missing", Arguments: "{}"}}, 1)
	if results[0].Status != StatusError || results[0].Metadata["errorReason"] != ErrorReasonUnknownTool {
		t.Errorf("results[0] = %+v, want unknown_tool error", results[0])
	}
}
