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

package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/kadirpekel/hector/pkg/config"
)

// RefreshEndpoint describes where and how to exchange a refresh token for
// a new access token. Only the Anthropic-shaped grant is observed in the
// wild today; OpenAI-compatible providers that use OAuth follow the same
// refresh_token grant shape against their own token endpoint.
type RefreshEndpoint struct {
	URL      string
	ClientID string
}

// DefaultAnthropicRefreshEndpoint is Anthropic's console OAuth token
// endpoint, used when a provider config omits an explicit refresh URL.
var DefaultAnthropicRefreshEndpoint = RefreshEndpoint{
	URL: "https://console.anthropic.com/v1/oauth/token",
}

type refreshRequest struct {
	GrantType    string `json:"grant_type"`
	RefreshToken string `json:"refresh_token"`
	ClientID     string `json:"client_id,omitempty"`
}

type refreshResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
}

// OnTokenUpdate is invoked exactly once per successful refresh with the new
// credential trio, so callers can persist or forward the change upstream.
type OnTokenUpdate func(config.AuthMethod)

// Refresher performs single-flight OAuth token refreshes: concurrent
// callers for the same provider share one in-flight refresh and all
// receive its result.
type Refresher struct {
	httpClient *http.Client
	endpoint   RefreshEndpoint
	group      singleflight.Group
	onUpdate   OnTokenUpdate
}

// NewRefresher creates a Refresher. httpClient may be nil, in which case
// http.DefaultClient is used; refresh calls are infrequent and do not need
// the provider's retry/backoff transport.
func NewRefresher(endpoint RefreshEndpoint, onUpdate OnTokenUpdate, httpClient *http.Client) *Refresher {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Refresher{httpClient: httpClient, endpoint: endpoint, onUpdate: onUpdate}
}

// Refresh exchanges the refresh token in method for a new access token.
// key scopes the single-flight group, typically the provider name, so
// refreshes for distinct providers never block on one another.
func (r *Refresher) Refresh(ctx context.Context, key string, method config.AuthMethod) (config.AuthMethod, error) {
	if method.RefreshToken == "" {
		return config.AuthMethod{}, ErrNoRefreshToken
	}

	v, err, _ := r.group.Do(key, func() (interface{}, error) {
		updated, err := r.doRefresh(ctx, method)
		if err == nil && r.onUpdate != nil {
			r.onUpdate(updated)
		}
		return updated, err
	})
	if err != nil {
		return config.AuthMethod{}, err
	}
	return v.(config.AuthMethod), nil
}

func (r *Refresher) doRefresh(ctx context.Context, method config.AuthMethod) (config.AuthMethod, error) {
	body, err := json.Marshal(refreshRequest{
		GrantType:    "refresh_token",
		RefreshToken: method.RefreshToken,
		ClientID:     r.endpoint.ClientID,
	})
	if err != nil {
		return config.AuthMethod{}, fmt.Errorf("%w: %v", ErrRefreshFailed, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.endpoint.URL, bytes.NewReader(body))
	if err != nil {
		return config.AuthMethod{}, fmt.Errorf("%w: %v", ErrRefreshFailed, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return config.AuthMethod{}, fmt.Errorf("%w: %v", ErrRefreshFailed, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return config.AuthMethod{}, fmt.Errorf("%w: %v", ErrRefreshFailed, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return config.AuthMethod{}, fmt.Errorf("%w: refresh endpoint returned %d", ErrRefreshFailed, resp.StatusCode)
	}

	var parsed refreshResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return config.AuthMethod{}, fmt.Errorf("%w: %v", ErrRefreshFailed, err)
	}

	updated := config.AuthMethod{
		Kind:         config.AuthKindOAuth,
		AccessToken:  parsed.AccessToken,
		RefreshToken: parsed.RefreshToken,
		Expires:      time.Now().Unix() + parsed.ExpiresIn,
	}
	if updated.RefreshToken == "" {
		updated.RefreshToken = method.RefreshToken
	}
	return updated, nil
}
