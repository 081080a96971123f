// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package tool implements the unified Tool Port (L4, spec §4.5): schema
// validation, bounded concurrency, approval gating, and the contract that
// local tools, MCP-transport tools (see mcptoolset), and sub-agent
// delegation (see agenttool) all implement.
package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/kadirpekel/hector/pkg/llms"
	"github.com/kadirpekel/hector/pkg/registry"
)

// Status is the outcome of one tool invocation.
type Status string

const (
	StatusSuccess   Status = "success"
	StatusError     Status = "error"
	StatusTimeout   Status = "timeout"
	StatusCancelled Status = "cancelled"
	StatusDenied    Status = "denied"
)

// Error reasons recorded in ExecutionResult.Metadata["errorReason"].
const (
	ErrorReasonValidationFailed = "validation_failed"
	ErrorReasonUnknownTool      = "unknown_tool"
)

// ExecutionResult is the outcome of one tool call, keyed back to its
// originating ToolCall by ID (spec §3 ToolExecutionResult / invariant:
// "every ToolExecutionResult's id equals the originating ToolCall's id").
type ExecutionResult struct {
	ID         string
	Name       string
	Status     Status
	Result     string
	DurationMs int64
	Metadata   map[string]string
}

// Definition is a tool definition offered to the LLM: {type: function,
// function: {name, description, parameters: JSON-Schema}} (spec §4.5).
type Definition struct {
	Name        string
	Description string
	Parameters  map[string]any
}

// ToLLMToolDefinition adapts a Definition to the L2 adapter's wire shape.
func (d Definition) ToLLMToolDefinition() llms.ToolDefinition {
	return llms.ToolDefinition{Name: d.Name, Description: d.Description, Parameters: d.Parameters}
}

// Callable is a single invocable tool: local function, MCP-backed remote
// tool, or sub-agent delegation all implement this one contract.
type Callable interface {
	// Name is the unique tool name offered to the LLM.
	Name() string
	// Description is shown to the LLM to decide when to call this tool.
	Description() string
	// Schema is the JSON Schema describing Call's params argument.
	// Nil means the tool takes no parameters.
	Schema() map[string]any
	// Call executes the tool. ctx carries the caller's cancellation
	// signal; implementations must observe it promptly.
	Call(ctx context.Context, params map[string]any) (string, error)
	// Timeout is this tool's execution deadline; zero means the port's
	// configured default applies.
	Timeout() time.Duration
}

// Approver gates tool execution when an AgentConfig sets
// requireToolApproval=true (spec §4.5).
type Approver interface {
	// Approve returns true to allow the call to proceed.
	Approve(ctx context.Context, call llms.ToolCall) (bool, error)
}

// ApproveAll is an Approver that allows every call; the default when no
// approval gating is configured.
type ApproveAll struct{}

func (ApproveAll) Approve(context.Context, llms.ToolCall) (bool, error) { return true, nil }

// Port is the unified contract L6 drives: enumerate definitions, execute a
// batch of calls with bounded concurrency, results returned in input order.
type Port interface {
	GetToolDefinitions() []Definition
	ExecuteToolCalls(ctx context.Context, calls []llms.ToolCall, maxConcurrency int) []ExecutionResult
}

// LocalPort is a Port backed by a registry of in-process Callable tools.
type LocalPort struct {
	registry        *registry.BaseRegistry[Callable]
	approver        Approver
	requireApproval bool
	defaultTimeout  time.Duration
}

// NewLocalPort constructs an empty LocalPort. defaultTimeout applies to
// tools whose Timeout() returns zero (spec §5: "e.g., 30s" default).
func NewLocalPort(defaultTimeout time.Duration, requireApproval bool, approver Approver) *LocalPort {
	if approver == nil {
		approver = ApproveAll{}
	}
	if defaultTimeout <= 0 {
		defaultTimeout = 30 * time.Second
	}
	return &LocalPort{
		registry:        registry.NewBaseRegistry[Callable](),
		approver:        approver,
		requireApproval: requireApproval,
		defaultTimeout:  defaultTimeout,
	}
}

// Register adds a tool to the port. The first registration under a name
// is kept; a later tool with the same name is ignored.
func (p *LocalPort) Register(t Callable) {
	_ = p.registry.Register(t.Name(), t)
}

func (p *LocalPort) GetToolDefinitions() []Definition {
	defs := make([]Definition, 0, p.registry.Count())
	for _, name := range p.registry.Names() {
		t, ok := p.registry.Get(name)
		if !ok {
			continue
		}
		defs = append(defs, Definition{Name: t.Name(), Description: t.Description(), Parameters: t.Schema()})
	}
	return defs
}

func (p *LocalPort) ExecuteToolCalls(ctx context.Context, calls []llms.ToolCall, maxConcurrency int) []ExecutionResult {
	return executeBounded(ctx, calls, maxConcurrency, func(ctx context.Context, call llms.ToolCall) ExecutionResult {
		return p.executeOne(ctx, call)
	})
}

func (p *LocalPort) executeOne(ctx context.Context, call llms.ToolCall) ExecutionResult {
	start := time.Now()
	t, ok := p.registry.Get(call.Name)
	if !ok {
		return errorResult(call, StatusError, ErrorReasonUnknownTool, fmt.Sprintf("unknown tool %q", call.Name), start)
	}

	params, err := decodeArguments(call.Arguments)
	if err != nil {
		return errorResult(call, StatusError, ErrorReasonValidationFailed, "parameter validation failed: "+err.Error(), start)
	}
	if err := validateParams(t.Schema(), params); err != nil {
		return errorResult(call, StatusError, ErrorReasonValidationFailed, "parameter validation failed: "+err.Error(), start)
	}

	if p.requireApproval {
		allowed, err := p.approver.Approve(ctx, call)
		if err != nil || !allowed {
			return ExecutionResult{ID: call.ID, Name: call.Name, Status: StatusDenied, Result: "tool call denied", DurationMs: time.Since(start).Milliseconds()}
		}
	}

	timeout := t.Timeout()
	if timeout <= 0 {
		timeout = p.defaultTimeout
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	result, err := t.Call(callCtx, params)
	duration := time.Since(start).Milliseconds()
	switch {
	case callCtx.Err() == context.DeadlineExceeded:
		return ExecutionResult{ID: call.ID, Name: call.Name, Status: StatusTimeout, Result: "tool execution timed out", DurationMs: duration}
	case ctx.Err() == context.Canceled:
		return ExecutionResult{ID: call.ID, Name: call.Name, Status: StatusCancelled, Result: "cancelled", DurationMs: duration}
	case err != nil:
		return ExecutionResult{ID: call.ID, Name: call.Name, Status: StatusError, Result: err.Error(), DurationMs: duration}
	default:
		return ExecutionResult{ID: call.ID, Name: call.Name, Status: StatusSuccess, Result: result, DurationMs: duration}
	}
}

func errorResult(call llms.ToolCall, status Status, reason, message string, start time.Time) ExecutionResult {
	return ExecutionResult{
		ID: call.ID, Name: call.Name, Status: status, Result: message,
		DurationMs: time.Since(start).Milliseconds(),
		Metadata:   map[string]string{"errorReason": reason},
	}
}

func decodeArguments(raw string) (map[string]any, error) {
	if raw == "" {
		return map[string]any{}, nil
	}
	var params map[string]any
	if err := json.Unmarshal([]byte(raw), &params); err != nil {
		return nil, err
	}
	return params, nil
}

// executeBounded runs fn over calls with at most maxConcurrency in flight,
// returning results in input order (spec §4.5/§5: unordered execution,
// ordered results). maxConcurrency<1 is treated as 1.
func executeBounded(ctx context.Context, calls []llms.ToolCall, maxConcurrency int, fn func(context.Context, llms.ToolCall) ExecutionResult) []ExecutionResult {
	if maxConcurrency < 1 {
		maxConcurrency = 1
	}
	results := make([]ExecutionResult, len(calls))
	sem := make(chan struct{}, maxConcurrency)
	var wg sync.WaitGroup
	for i, call := range calls {
		wg.Add(1)
		sem <- struct{}{}
		go func(i int, call llms.ToolCall) {
			defer wg.Done()
			defer func() { <-sem }()
			results[i] = fn(ctx, call)
		}(i, call)
	}
	wg.Wait()
	return results
}

// CompositePort resolves tool names first-wins across its member ports
// (spec §4.5: "resolution is first-wins by tool name").
type CompositePort struct {
	ports []Port
}

// NewCompositePort composes ports in priority order.
func NewCompositePort(ports ...Port) *CompositePort {
	return &CompositePort{ports: ports}
}

func (c *CompositePort) GetToolDefinitions() []Definition {
	seen := make(map[string]bool)
	var defs []Definition
	for _, p := range c.ports {
		for _, d := range p.GetToolDefinitions() {
			if seen[d.Name] {
				continue
			}
			seen[d.Name] = true
			defs = append(defs, d)
		}
	}
	return defs
}

func (c *CompositePort) ExecuteToolCalls(ctx context.Context, calls []llms.ToolCall, maxConcurrency int) []ExecutionResult {
	// Partition calls by which port owns the name (first-wins), dispatch
	// each partition to its owning port, then reassemble in input order.
	ownerOf := make(map[string]Port, len(calls))
	for _, p := range c.ports {
		for _, d := range p.GetToolDefinitions() {
			if _, ok := ownerOf[d.Name]; !ok {
				ownerOf[d.Name] = p
			}
		}
	}

	byPort := make(map[Port][]int)
	for i, call := range calls {
		owner, ok := ownerOf[call.Name]
		if !ok {
			continue // handled below as unknown
		}
		byPort[owner] = append(byPort[owner], i)
	}

	results := make([]ExecutionResult, len(calls))
	var wg sync.WaitGroup
	var mu sync.Mutex
	for owner, indices := range byPort {
		subset := make([]llms.ToolCall, len(indices))
		for j, idx := range indices {
			subset[j] = calls[idx]
		}
		wg.Add(1)
		go func(owner Port, indices []int, subset []llms.ToolCall) {
			defer wg.Done()
			sub := owner.ExecuteToolCalls(ctx, subset, maxConcurrency)
			mu.Lock()
			for j, idx := range indices {
				results[idx] = sub[j]
			}
			mu.Unlock()
		}(owner, indices, subset)
	}
	wg.Wait()

	for i, call := range calls {
		if _, ok := ownerOf[call.Name]; !ok {
			results[i] = ExecutionResult{ID: call.ID, Name: call.Name, Status: StatusError, Result: fmt.Sprintf("unknown tool %q", call.Name), Metadata: map[string]string{"errorReason": ErrorReasonUnknownTool}}
		}
	}
	return results
}

var (
	_ Port = (*LocalPort)(nil)
	_ Port = (*CompositePort)(nil)
)
