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

// Package config provides the configuration snapshot consumed by the
// orchestrator: provider credentials, agent templates, and ambient
// logging/performance settings. loader.go and the provider subpackage
// handle reading, env-var expansion, and hot-reload file watching; this
// file and config.go/agent.go model the resolved result and its defaults
// and validation rules.
package config

import "fmt"

// ProviderType identifies the wire contract an LLM provider speaks.
type ProviderType string

const (
	// ProviderOpenAICompat speaks the OpenAI /chat/completions SSE contract.
	// GitHub Copilot and any OpenAI-compatible gateway use this type too.
	ProviderOpenAICompat ProviderType = "openai-compat"
	// ProviderAnthropic speaks the Anthropic messages API.
	ProviderAnthropic ProviderType = "anthropic"
)

// AuthKind tags the variant carried by AuthMethod.
type AuthKind string

const (
	AuthKindAPIKey AuthKind = "apiKey"
	AuthKindOAuth  AuthKind = "oauth"
	AuthKindNone   AuthKind = "none"
)

// AuthMethod is a tagged variant over the three ways a provider request can
// be authenticated. Only the fields matching Kind are meaningful.
type AuthMethod struct {
	Kind AuthKind `yaml:"kind" json:"kind"`

	// APIKey is set when Kind == AuthKindAPIKey.
	APIKey string `yaml:"apiKey,omitempty" json:"apiKey,omitempty"`

	// OAuth credentials, set when Kind == AuthKindOAuth. Refreshed in place
	// by the auth transport; Expires is a Unix timestamp in seconds.
	AccessToken  string `yaml:"access,omitempty" json:"access,omitempty"`
	RefreshToken string `yaml:"refresh,omitempty" json:"refresh,omitempty"`
	Expires      int64  `yaml:"expires,omitempty" json:"expires,omitempty"`
}

// Validate checks internal consistency of the tagged variant.
func (a AuthMethod) Validate() error {
	switch a.Kind {
	case AuthKindAPIKey:
		if a.APIKey == "" {
			return fmt.Errorf("auth: apiKey is required for kind %q", AuthKindAPIKey)
		}
	case AuthKindOAuth:
		if a.AccessToken == "" || a.RefreshToken == "" {
			return fmt.Errorf("auth: access and refresh tokens are required for kind %q", AuthKindOAuth)
		}
	case AuthKindNone:
		// nothing to check
	default:
		return fmt.Errorf("auth: unknown kind %q", a.Kind)
	}
	return nil
}

// ModelsDescriptor controls how a provider's getModels operation behaves.
// It is a union over: unsupported (false), default endpoint (true), a
// custom listing path (string), or a static list (literal models).
type ModelsDescriptor struct {
	Supported bool           `yaml:"-" json:"-"`
	Path      string         `yaml:"path,omitempty" json:"path,omitempty"`
	Static    []ModelSummary `yaml:"static,omitempty" json:"static,omitempty"`
}

// ModelSummary is the normalized shape returned by getModels.
type ModelSummary struct {
	ID            string `yaml:"id" json:"id"`
	Name          string `yaml:"name,omitempty" json:"name,omitempty"`
	ContextWindow int    `yaml:"contextWindow,omitempty" json:"contextWindow,omitempty"`
}

// ProviderConfig describes one LLM endpoint the orchestrator can talk to.
type ProviderConfig struct {
	Type          ProviderType      `yaml:"type" json:"type"`
	BaseURL       string            `yaml:"baseUrl" json:"baseUrl"`
	Auth          AuthMethod        `yaml:"auth" json:"auth"`
	CustomHeaders map[string]string `yaml:"customHeaders,omitempty" json:"customHeaders,omitempty"`
	Models        ModelsDescriptor  `yaml:"models,omitempty" json:"models,omitempty"`

	// MaxRetries/RetryDelay configure the L0/L1 transport for this provider.
	MaxRetries int `yaml:"maxRetries,omitempty" json:"maxRetries,omitempty"`
	RetryDelay int `yaml:"retryDelaySeconds,omitempty" json:"retryDelaySeconds,omitempty"`

	// OAuthRefreshURL/OAuthClientID override the default refresh endpoint
	// used when Auth.Kind == AuthKindOAuth. Left empty, Anthropic providers
	// default to Anthropic's console token endpoint; other provider types
	// must set this explicitly to use OAuth.
	OAuthRefreshURL string `yaml:"oauthRefreshUrl,omitempty" json:"oauthRefreshUrl,omitempty"`
	OAuthClientID   string `yaml:"oauthClientId,omitempty" json:"oauthClientId,omitempty"`
}

// SetDefaults fills in provider defaults.
func (c *ProviderConfig) SetDefaults() {
	if c.Type == "" {
		c.Type = ProviderOpenAICompat
	}
	if c.BaseURL == "" {
		switch c.Type {
		case ProviderAnthropic:
			c.BaseURL = "https://api.anthropic.com"
		default:
			c.BaseURL = "https://api.openai.com/v1"
		}
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 5
	}
	if c.RetryDelay == 0 {
		c.RetryDelay = 2
	}
}

// Validate checks the provider configuration.
func (c *ProviderConfig) Validate() error {
	switch c.Type {
	case ProviderOpenAICompat, ProviderAnthropic:
	default:
		return fmt.Errorf("provider: unknown type %q", c.Type)
	}
	if c.BaseURL == "" {
		return fmt.Errorf("provider: baseUrl is required")
	}
	if err := c.Auth.Validate(); err != nil {
		return err
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("provider: maxRetries must be non-negative")
	}
	return nil
}

// LoggingConfig controls the slog handler built at process start.
type LoggingConfig struct {
	Level  string `yaml:"level,omitempty" json:"level,omitempty"`
	Format string `yaml:"format,omitempty" json:"format,omitempty"`
	Output string `yaml:"output,omitempty" json:"output,omitempty"`
}

// SetDefaults applies default logging values.
func (c *LoggingConfig) SetDefaults() {
	if c.Level == "" {
		c.Level = "info"
	}
	if c.Format == "" {
		c.Format = "text"
	}
	if c.Output == "" {
		c.Output = "stdout"
	}
}

// Validate checks the logging configuration.
func (c *LoggingConfig) Validate() error {
	switch c.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging: invalid level %q", c.Level)
	}
	switch c.Format {
	case "text", "json":
	default:
		return fmt.Errorf("logging: invalid format %q", c.Format)
	}
	return nil
}

// PerformanceConfig bounds orchestrator-wide concurrency.
type PerformanceConfig struct {
	MaxToolConcurrency int `yaml:"maxToolConcurrency,omitempty" json:"maxToolConcurrency,omitempty"`
}

// SetDefaults applies default performance values.
func (c *PerformanceConfig) SetDefaults() {
	if c.MaxToolConcurrency == 0 {
		c.MaxToolConcurrency = 4
	}
}

// BoolPtr returns a pointer to the given bool, useful for optional fields.
func BoolPtr(b bool) *bool { return &b }
