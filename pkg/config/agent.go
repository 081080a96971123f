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

package config

import "fmt"

// ReasoningEffort hints how much internal deliberation a model should spend
// before answering. Passed through to the LLM adapter as an opaque value.
type ReasoningEffort string

const (
	ReasoningEffortLow    ReasoningEffort = "low"
	ReasoningEffortMedium ReasoningEffort = "medium"
	ReasoningEffortHigh   ReasoningEffort = "high"
)

// ThinkingConfig is an opaque budget hint passed through to providers that
// support extended thinking. Different providers interpret BudgetTokens
// differently; this config does not standardize the meaning.
type ThinkingConfig struct {
	Enabled      bool `yaml:"enabled,omitempty" json:"enabled,omitempty"`
	BudgetTokens int  `yaml:"budget_tokens,omitempty" json:"budget_tokens,omitempty" jsonschema:"minimum=1"`
}

// AgentConfig is a named template: system prompt, model reference, and the
// tool/approval/concurrency policy the orchestrator applies for this agent.
type AgentConfig struct {
	ID           string `yaml:"id" json:"id" jsonschema:"title=Agent ID,pattern=^[a-zA-Z][a-zA-Z0-9_-]*$,minLength=1,maxLength=64"`
	SystemPrompt string `yaml:"systemPrompt,omitempty" json:"systemPrompt,omitempty"`

	// Model references an entry in Config.Providers by provider name; the
	// model identifier sent in requests.
	Provider string `yaml:"provider" json:"provider"`
	Model    string `yaml:"model" json:"model"`

	Temperature float64  `yaml:"temperature,omitempty" json:"temperature,omitempty" jsonschema:"minimum=0,maximum=2,default=0.7"`
	TopP        float64  `yaml:"topP,omitempty" json:"topP,omitempty" jsonschema:"minimum=0,maximum=1,default=1"`
	MaxTokens   *int     `yaml:"maxTokens,omitempty" json:"maxTokens,omitempty" jsonschema:"minimum=1"`
	EnabledTools []string `yaml:"enabledTools,omitempty" json:"enabledTools,omitempty"`

	// MaxToolConcurrency bounds in-flight tool calls per batch (>=1).
	MaxToolConcurrency int `yaml:"maxToolConcurrency,omitempty" json:"maxToolConcurrency,omitempty" jsonschema:"minimum=1,default=4"`

	// RequireToolApproval gates every tool invocation behind an approval port.
	RequireToolApproval bool `yaml:"requireToolApproval,omitempty" json:"requireToolApproval,omitempty"`

	ReasoningEffort ReasoningEffort `yaml:"reasoningEffort,omitempty" json:"reasoningEffort,omitempty" jsonschema:"enum=low,enum=medium,enum=high"`
	Thinking        *ThinkingConfig `yaml:"thinking,omitempty" json:"thinking,omitempty"`

	// MaxDelegationDepth bounds how many levels deep assign_task may chain.
	// SetDefaults turns zero (unset) into the default of 1, which lets a
	// top-level agent delegate once but forbids the child from delegating
	// further unless explicitly raised. Use DelegationDisabled to turn
	// delegation off.
	MaxDelegationDepth int `yaml:"maxDelegationDepth,omitempty" json:"maxDelegationDepth,omitempty" jsonschema:"minimum=0,default=1"`

	// DelegationDisabled removes assign_task from this agent's tool set
	// even if other agents reference it as a delegation target.
	DelegationDisabled bool `yaml:"delegationDisabled,omitempty" json:"delegationDisabled,omitempty"`
}

// SetDefaults applies default values to AgentConfig.
func (c *AgentConfig) SetDefaults() {
	if c.Temperature == 0 {
		c.Temperature = 0.7
	}
	if c.TopP == 0 {
		c.TopP = 1
	}
	if c.MaxToolConcurrency == 0 {
		c.MaxToolConcurrency = 4
	}
	if c.MaxDelegationDepth == 0 && c.MaxDelegationDepth != -1 {
		c.MaxDelegationDepth = 1
	}
}

// Validate checks the agent configuration.
func (c *AgentConfig) Validate() error {
	if c.ID == "" {
		return fmt.Errorf("agent: id is required")
	}
	if c.Provider == "" {
		return fmt.Errorf("agent %q: provider is required", c.ID)
	}
	if c.Model == "" {
		return fmt.Errorf("agent %q: model is required", c.ID)
	}
	if c.Temperature < 0 || c.Temperature > 2 {
		return fmt.Errorf("agent %q: temperature must be between 0 and 2", c.ID)
	}
	if c.MaxToolConcurrency < 1 {
		return fmt.Errorf("agent %q: maxToolConcurrency must be >= 1", c.ID)
	}
	if c.MaxDelegationDepth < 0 {
		return fmt.Errorf("agent %q: maxDelegationDepth must be non-negative", c.ID)
	}
	switch c.ReasoningEffort {
	case "", ReasoningEffortLow, ReasoningEffortMedium, ReasoningEffortHigh:
	default:
		return fmt.Errorf("agent %q: invalid reasoningEffort %q", c.ID, c.ReasoningEffort)
	}
	return nil
}
