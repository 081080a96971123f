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
	"fmt"
	"io"
	"net/http"
	"sync"

	"github.com/kadirpekel/hector/pkg/config"
	"github.com/kadirpekel/hector/pkg/httpclient"
)

// Transport wraps an httpclient.Client with the provider's current
// credentials: it injects auth headers on every request and, for OAuth,
// refreshes once on 401/403 and replays the original request exactly once.
// The credential trio is guarded by a mutex so refreshed tokens are visible
// to every subsequent request immediately.
type Transport struct {
	inner        *httpclient.Client
	providerType config.ProviderType
	providerKey  string
	refresher    *Refresher

	mu     sync.RWMutex
	method config.AuthMethod
}

// NewTransport builds a Transport for one provider. providerKey scopes
// single-flight refreshes (pass the provider's config name). refresher may
// be nil when method.Kind != AuthKindOAuth.
func NewTransport(inner *httpclient.Client, providerType config.ProviderType, providerKey string, method config.AuthMethod, refresher *Refresher) *Transport {
	return &Transport{
		inner:        inner,
		providerType: providerType,
		providerKey:  providerKey,
		refresher:    refresher,
		method:       method,
	}
}

// Credentials returns the currently-held credential trio.
func (t *Transport) Credentials() config.AuthMethod {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.method
}

// Do injects the current credentials, issues the request through the
// wrapped retrying client, and on an auth failure with OAuth credentials
// refreshes once and replays the original request exactly once.
func (t *Transport) Do(req *http.Request) (*http.Response, error) {
	var bodyBytes []byte
	if req.Body != nil {
		var err error
		bodyBytes, err = io.ReadAll(req.Body)
		if err != nil {
			return nil, fmt.Errorf("auth transport: read body: %w", err)
		}
		req.Body.Close()
	}
	rewind := func() {
		if bodyBytes != nil {
			req.Body = io.NopCloser(bytes.NewReader(bodyBytes))
			req.ContentLength = int64(len(bodyBytes))
		}
	}

	rewind()
	ApplyHeaders(req, t.providerType, t.Credentials())
	resp, err := t.inner.Do(req)
	if err != nil {
		return resp, err
	}
	if !IsAuthFailure(resp.StatusCode) {
		return resp, nil
	}

	creds := t.Credentials()
	if creds.Kind != config.AuthKindOAuth || t.refresher == nil {
		return resp, ErrAuthenticationFailed
	}
	resp.Body.Close()

	refreshed, err := t.refresher.Refresh(req.Context(), t.providerKey, creds)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAuthenticationFailed, err)
	}

	t.mu.Lock()
	t.method = refreshed
	t.mu.Unlock()

	rewind()
	ApplyHeaders(req, t.providerType, refreshed)
	resp, err = t.inner.Do(req)
	if err != nil {
		return resp, err
	}
	if IsAuthFailure(resp.StatusCode) {
		resp.Body.Close()
		return nil, ErrAuthenticationFailed
	}
	return resp, nil
}
