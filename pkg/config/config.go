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

// Package config models the resolved configuration snapshot the
// orchestrator consumes: provider credentials and agent templates, plus
// ambient logging/performance settings. Loader and provider (in the
// provider subpackage) handle reading, env-var expansion, and hot-reload
// watching of the backing file; this file defines the snapshot shape plus
// its defaulting and validation rules.
package config

import (
	"fmt"
	"strings"
)

// Config is the root configuration snapshot.
type Config struct {
	Providers   map[string]*ProviderConfig `yaml:"providers,omitempty" json:"providers,omitempty"`
	Agents      map[string]*AgentConfig    `yaml:"agents,omitempty" json:"agents,omitempty"`
	Logging     LoggingConfig              `yaml:"logging,omitempty" json:"logging,omitempty"`
	Performance PerformanceConfig          `yaml:"performance,omitempty" json:"performance,omitempty"`
}

// SetDefaults applies default values to the config and every nested entry.
func (c *Config) SetDefaults() {
	if c.Providers == nil {
		c.Providers = make(map[string]*ProviderConfig)
	}
	if c.Agents == nil {
		c.Agents = make(map[string]*AgentConfig)
	}
	for _, p := range c.Providers {
		p.SetDefaults()
	}
	for _, a := range c.Agents {
		a.SetDefaults()
	}
	c.Logging.SetDefaults()
	c.Performance.SetDefaults()
}

// Validate checks the configuration for errors, including cross-references
// between agents and providers.
func (c *Config) Validate() error {
	var errs []string

	for name, p := range c.Providers {
		if p == nil {
			continue
		}
		if err := p.Validate(); err != nil {
			errs = append(errs, fmt.Sprintf("provider %q: %v", name, err))
		}
	}

	for name, a := range c.Agents {
		if a == nil {
			continue
		}
		if err := a.Validate(); err != nil {
			errs = append(errs, fmt.Sprintf("agent %q: %v", name, err))
			continue
		}
		if _, ok := c.Providers[a.Provider]; !ok {
			errs = append(errs, fmt.Sprintf("agent %q references undefined provider %q", name, a.Provider))
		}
	}

	if err := c.Logging.Validate(); err != nil {
		errs = append(errs, err.Error())
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// GetAgent returns the agent config by id.
func (c *Config) GetAgent(id string) (*AgentConfig, bool) {
	a, ok := c.Agents[id]
	return a, ok
}

// GetProvider returns the provider config by name.
func (c *Config) GetProvider(name string) (*ProviderConfig, bool) {
	p, ok := c.Providers[name]
	return p, ok
}

// ListAgents returns the ids of all configured agents.
func (c *Config) ListAgents() []string {
	ids := make([]string, 0, len(c.Agents))
	for id := range c.Agents {
		ids = append(ids, id)
	}
	return ids
}
