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

package manager

import (
	"context"
	"fmt"

	"github.com/kadirpekel/hector/pkg/llms"
	"github.com/kadirpekel/hector/pkg/orchestrator"
	"github.com/kadirpekel/hector/pkg/tool/agenttool"
)

// agentResolver implements agenttool.Resolver (spec §4.5) by looking up
// sibling agent templates in the shared Config and handing back a Runner
// that, on first use, constructs a real child Manager one delegation hop
// deeper. This is the seam the maintainer review flagged as unwired:
// agenttool.New needs a concrete Resolver, and pkg/orchestrator cannot
// implement it directly without an import cycle (agenttool's own doc
// comment), so it lives here in the layer above both.
type agentResolver struct {
	parent *Manager
	depth  int
}

func newAgentResolver(parent *Manager, depth int) *agentResolver {
	return &agentResolver{parent: parent, depth: depth}
}

// Resolve looks up agentID among the parent's configured agents and
// returns a Runner bound to one more level of delegation depth.
func (r *agentResolver) Resolve(agentID string) (agenttool.AgentInfo, agenttool.Runner, bool) {
	agentCfg, ok := r.parent.cfg.Config.GetAgent(agentID)
	if !ok {
		return agenttool.AgentInfo{}, nil, false
	}
	info := agenttool.AgentInfo{ID: agentCfg.ID, Description: agentCfg.SystemPrompt}
	return info, &childRunner{parent: r.parent, agentID: agentID, depth: r.depth}, true
}

// AvailableAgents lists every configured agent except the delegating one,
// for the delegation tool's error message on unknown agent ids.
func (r *agentResolver) AvailableAgents() []string {
	ids := r.parent.cfg.Config.ListAgents()
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id != r.parent.cfg.AgentID {
			out = append(out, id)
		}
	}
	return out
}

// childRunner constructs a transient child Manager for one delegated
// task and tears it down once the task completes, so assign_task
// resolves to a real orchestrator (with its own provider, tool port, and
// one-deeper delegation budget) rather than a stub.
type childRunner struct {
	parent  *Manager
	agentID string
	depth   int
}

func (r *childRunner) Run(ctx context.Context, sessionID string, task string) (string, error) {
	child, err := New(Config{
		Config:        r.parent.cfg.Config,
		Registry:      llms.NewRegistry(),
		Sessions:      r.parent.cfg.Sessions,
		AgentID:       r.agentID,
		SessionID:     sessionID,
		Events:        orchestrator.NoopEventPort{},
		OnTokenUpdate: r.parent.cfg.OnTokenUpdate,
		Tools:         r.parent.cfg.Tools,
		Environment:   r.parent.cfg.Environment,
		Depth:         r.depth,
		RetryAttempts: r.parent.retryAttempts,
		RetryDelay:    r.parent.retryDelay,
	})
	if err != nil {
		return "", fmt.Errorf("manager: delegating to agent %q: %w", r.agentID, err)
	}
	defer func() { _ = child.Cleanup() }()

	result, err := child.Send(ctx, task, orchestrator.SendOptions{ConversationID: "default"})
	if err != nil {
		return "", err
	}
	if result == nil {
		return "", fmt.Errorf("manager: agent %q produced no result", r.agentID)
	}
	return result.Content, nil
}

var _ agenttool.Resolver = (*agentResolver)(nil)
var _ agenttool.Runner = (*childRunner)(nil)
