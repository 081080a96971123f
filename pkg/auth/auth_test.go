package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/kadirpekel/hector/pkg/config"
)

func TestApplyHeadersAPIKey(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "http://example.com", nil)
	ApplyHeaders(req, config.ProviderOpenAICompat, config.AuthMethod{Kind: config.AuthKindAPIKey, APIKey: "sk-test"})
	if got := req.Header.Get("Authorization"); got != "Bearer sk-test" {
		t.Errorf("Authorization = %q, want Bearer sk-test", got)
	}
}

func TestApplyHeadersAnthropicAPIKey(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "http://example.com", nil)
	ApplyHeaders(req, config.ProviderAnthropic, config.AuthMethod{Kind: config.AuthKindAPIKey, APIKey: "sk-ant-test"})
	if got := req.Header.Get("x-api-key"); got != "sk-ant-test" {
		t.Errorf("x-api-key = %q, want sk-ant-test", got)
	}
	if got := req.Header.Get("Authorization"); got != "" {
		t.Errorf("Authorization = %q, want empty for Anthropic API key auth", got)
	}
}

func TestApplyHeadersOAuth(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "http://example.com", nil)
	ApplyHeaders(req, config.ProviderOpenAICompat, config.AuthMethod{Kind: config.AuthKindOAuth, AccessToken: "tok"})
	if got := req.Header.Get("Authorization"); got != "Bearer tok" {
		t.Errorf("Authorization = %q, want Bearer tok", got)
	}
	if got := req.Header.Get("anthropic-beta"); got != "" {
		t.Errorf("anthropic-beta = %q, want empty for non-Anthropic provider", got)
	}
}

func TestApplyHeadersAnthropicOAuthSetsBetaFlags(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "http://example.com", nil)
	ApplyHeaders(req, config.ProviderAnthropic, config.AuthMethod{Kind: config.AuthKindOAuth, AccessToken: "tok"})
	want := "oauth-2025-04-20,claude-code-20250219,interleaved-thinking-2025-05-14,fine-grained-tool-streaming-2025-05-14"
	if got := req.Header.Get("anthropic-beta"); got != want {
		t.Errorf("anthropic-beta = %q, want %q", got, want)
	}
}

func TestApplyHeadersNone(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "http://example.com", nil)
	ApplyHeaders(req, config.ProviderOpenAICompat, config.AuthMethod{Kind: config.AuthKindNone})
	if got := req.Header.Get("Authorization"); got != "" {
		t.Errorf("Authorization = %q, want empty for AuthKindNone", got)
	}
}

func TestIsAuthFailure(t *testing.T) {
	tests := []struct {
		status int
		want   bool
	}{
		{http.StatusUnauthorized, true},
		{http.StatusForbidden, true},
		{http.StatusOK, false},
		{http.StatusInternalServerError, false},
	}
	for _, tt := range tests {
		if got := IsAuthFailure(tt.status); got != tt.want {
			t.Errorf("IsAuthFailure(%d) = %v, want %v", tt.status, got, tt.want)
		}
	}
}
