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

// Package agenttool implements the L4c delegation tool (spec §4.5):
// assign_task spawns a bounded-depth child orchestrator as a tool call.
//
// The concrete orchestrator lives in pkg/orchestrator, which would create
// an import cycle if agenttool depended on it directly (the orchestrator's
// tool port includes this tool). Instead agenttool depends on the narrow
// Resolver/Runner seam below; pkg/manager implements it (resolver.go) when
// building the tool port for an agent.
package agenttool

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kadirpekel/hector/pkg/tool"
)

// Runner executes one delegated task against a resolved agent template and
// returns its final text result. sessionID is the conversation id to run
// (or resume) under - the runner is responsible for loading any existing
// history for that id from its own conversation store.
type Runner interface {
	Run(ctx context.Context, sessionID string, task string) (string, error)
}

// AgentInfo describes one agent available for delegation.
type AgentInfo struct {
	ID          string
	Description string
	// Background, if true, makes assign_task return immediately and run
	// the task asynchronously; subsequent calls with the same resume id
	// poll for completion instead of re-running.
	Background bool
}

// Resolver looks up agent templates by id and constructs a Runner bound to
// one more level of delegation depth than the caller.
type Resolver interface {
	// Resolve returns the named agent's metadata and a Runner for it, or
	// ok=false if no such agent is configured.
	Resolve(agentID string) (AgentInfo, Runner, bool)
	// AvailableAgents lists agent ids, for error messages when resolution fails.
	AvailableAgents() []string
}

// Config configures the delegation tool's depth enforcement (spec §4.5:
// "maximum delegation depth, default 1").
type Config struct {
	// Depth is how many delegation hops produced the orchestrator this
	// tool instance belongs to (0 for a root orchestrator).
	Depth int
	// MaxDepth is the maximum allowed Depth at which delegation is still
	// permitted; zero means the spec default of 1.
	MaxDepth int
	// Disabled, if true, makes every call return a denied-style error
	// without resolving or running anything.
	Disabled bool
}

type jobState struct {
	mu     sync.Mutex
	done   bool
	result string
	err    error
}

// delegationTool implements tool.Callable as "assign_task".
type delegationTool struct {
	cfg      Config
	resolver Resolver

	jobsMu sync.Mutex
	jobs   map[string]*jobState
}

// New creates the assign_task delegation tool.
func New(cfg Config, resolver Resolver) tool.Callable {
	if cfg.MaxDepth <= 0 {
		cfg.MaxDepth = 1
	}
	return &delegationTool{cfg: cfg, resolver: resolver, jobs: make(map[string]*jobState)}
}

func (t *delegationTool) Name() string        { return "assign_task" }
func (t *delegationTool) Description() string { return "Delegate a task to another configured agent" }
func (t *delegationTool) Timeout() time.Duration { return 0 }

func (t *delegationTool) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"agent":  map[string]any{"type": "string", "description": "Id of the agent to delegate to"},
			"task":   map[string]any{"type": "string", "description": "The task or request for the agent"},
			"resume": map[string]any{"type": "string", "description": "Optional session id to resume or poll"},
		},
		"required": []any{"agent", "task"},
	}
}

func (t *delegationTool) Call(ctx context.Context, args map[string]any) (string, error) {
	if t.cfg.Disabled {
		return "", fmt.Errorf("delegation is disabled for this agent")
	}
	if t.cfg.Depth >= t.cfg.MaxDepth {
		return "", fmt.Errorf("maximum delegation depth (%d) reached", t.cfg.MaxDepth)
	}

	agentID, _ := args["agent"].(string)
	task, _ := args["task"].(string)
	resume, _ := args["resume"].(string)
	if agentID == "" || task == "" {
		return "", fmt.Errorf("agent and task parameters are required")
	}

	info, runner, ok := t.resolver.Resolve(agentID)
	if !ok {
		return "", fmt.Errorf("unknown agent %q, available agents: %s", agentID, strings.Join(t.resolver.AvailableAgents(), ", "))
	}

	sessionID := resume
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	if info.Background {
		return t.runBackground(ctx, runner, sessionID, task, resume != "")
	}
	return t.runForeground(ctx, runner, sessionID, task)
}

func (t *delegationTool) runForeground(ctx context.Context, runner Runner, sessionID, task string) (string, error) {
	result, err := runner.Run(ctx, sessionID, task)
	if err != nil {
		return "", err
	}
	return t.encodeResult(sessionID, "completed", result), nil
}

// runBackground starts the task asynchronously on first call; a later call
// that resumes the same session id polls the stored job instead of
// re-running it (spec §4.5: "caller can poll blocking/non-blocking").
func (t *delegationTool) runBackground(ctx context.Context, runner Runner, sessionID, task string, isResume bool) (string, error) {
	t.jobsMu.Lock()
	job, exists := t.jobs[sessionID]
	if !exists {
		job = &jobState{}
		t.jobs[sessionID] = job
	}
	t.jobsMu.Unlock()

	if !exists {
		go func() {
			result, err := runner.Run(context.Background(), sessionID, task)
			job.mu.Lock()
			job.done, job.result, job.err = true, result, err
			job.mu.Unlock()
		}()
		return t.encodeResult(sessionID, "running", ""), nil
	}

	job.mu.Lock()
	defer job.mu.Unlock()
	if !job.done {
		return t.encodeResult(sessionID, "running", ""), nil
	}
	if job.err != nil {
		return "", job.err
	}
	return t.encodeResult(sessionID, "completed", job.result), nil
}

func (t *delegationTool) encodeResult(sessionID, status, result string) string {
	b, _ := json.Marshal(map[string]any{
		"sessionId": sessionID,
		"status":    status,
		"result":    result,
	})
	return string(b)
}

var _ tool.Callable = (*delegationTool)(nil)
