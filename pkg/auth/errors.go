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

import "errors"

// Common errors surfaced by the auth transport.
var (
	// ErrRefreshFailed is returned when an OAuth token refresh attempt
	// itself fails (network error or non-2xx from the refresh endpoint).
	ErrRefreshFailed = errors.New("auth: token refresh failed")

	// ErrNoRefreshToken is returned when a refresh is attempted but no
	// refresh token is configured.
	ErrNoRefreshToken = errors.New("auth: no refresh token configured")

	// ErrAuthenticationFailed is returned when a request still fails with
	// 401/403 after a refresh attempt (or immediately, for apiKey/none auth).
	ErrAuthenticationFailed = errors.New("auth: authentication failed")
)
