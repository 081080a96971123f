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

// Package auth implements the Auth Transport layer: it wraps an HTTP
// client, injects provider credentials per request, and refreshes OAuth
// credentials exactly once on 401/403 before replaying the original
// request. Refresh is single-flight across concurrent callers.
package auth

import (
	"net/http"

	"github.com/kadirpekel/hector/pkg/config"
)

// ApplyHeaders sets the authentication header(s) for a request given the
// provider's wire style and the currently-held credentials. Anthropic-style
// providers use x-api-key for API keys; OAuth always rides as a bearer
// token regardless of provider, matching every observed OAuth-capable
// provider's wire contract.
func ApplyHeaders(req *http.Request, providerType config.ProviderType, method config.AuthMethod) {
	switch method.Kind {
	case config.AuthKindAPIKey:
		if providerType == config.ProviderAnthropic {
			req.Header.Set("x-api-key", method.APIKey)
		} else {
			req.Header.Set("Authorization", "Bearer "+method.APIKey)
		}
	case config.AuthKindOAuth:
		req.Header.Set("Authorization", "Bearer "+method.AccessToken)
		if providerType == config.ProviderAnthropic {
			req.Header.Set("anthropic-beta",
				"oauth-2025-04-20,claude-code-20250219,interleaved-thinking-2025-05-14,fine-grained-tool-streaming-2025-05-14")
		}
	case config.AuthKindNone:
		// no header to set
	}
}

// IsAuthFailure reports whether a response status indicates the request's
// credentials were rejected and a refresh should be attempted.
func IsAuthFailure(statusCode int) bool {
	return statusCode == http.StatusUnauthorized || statusCode == http.StatusForbidden
}
