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

// Package session implements the Session entity (spec §3): one
// instantiation of the orchestrator with its own conversation store and
// metrics bucket, and optional on-disk directory.
package session

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kadirpekel/hector/pkg/memory"
	"github.com/kadirpekel/hector/pkg/metrics"
	"github.com/kadirpekel/hector/pkg/utils"
)

// ErrSessionNotFound is returned when a session doesn't exist.
var ErrSessionNotFound = errors.New("session: not found")

// Session is one running instantiation of the orchestrator: a conversation
// store, a metrics bucket, and an optional persistent directory.
type Session struct {
	id             string
	dir            string // empty when the session is not persisted to disk
	store          memory.Store
	metrics        *metrics.Bucket
	lastUpdateTime time.Time
	mu             sync.RWMutex
}

// ID returns the unique session identifier.
func (s *Session) ID() string { return s.id }

// Dir returns the session's persistent directory, or "" if in-memory only.
func (s *Session) Dir() string { return s.dir }

// Store returns the session's conversation store.
func (s *Session) Store() memory.Store { return s.store }

// Metrics returns the session's metrics bucket.
func (s *Session) Metrics() *metrics.Bucket { return s.metrics }

// LastUpdateTime returns when the session was last touched.
func (s *Session) LastUpdateTime() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastUpdateTime
}

// Touch records activity on the session; called by the manager after
// every send.
func (s *Session) Touch() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastUpdateTime = time.Now()
}

// ResetMetrics replaces the session's metrics bucket with a fresh, zeroed
// one. The manager calls it after auto-summary replaces history; Create
// already gives each new session a fresh bucket.
func (s *Session) ResetMetrics() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.metrics = metrics.NewBucket()
}

// Manager creates and looks up sessions. It owns no conversation content
// itself; each Session exclusively owns its own store per spec §3's
// ownership rule ("the conversation store exclusively owns its memory
// backend").
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	// newStore builds the conversation store for a freshly created
	// session; the default is an in-memory store, but callers that want
	// on-disk persistence can inject memory.NewFileStore via dir.
	newStore func(dir string) (memory.Store, error)
}

// NewManager constructs a Manager. newStore is called once per session
// creation with the session's directory (empty string for non-persistent
// sessions); if nil, sessions always get an in-memory store regardless of
// the requested directory.
func NewManager(newStore func(dir string) (memory.Store, error)) *Manager {
	if newStore == nil {
		newStore = func(string) (memory.Store, error) { return memory.NewInMemoryStore(), nil }
	}
	return &Manager{sessions: make(map[string]*Session), newStore: newStore}
}

// Create starts a new session. If id is empty, one is generated.
func (m *Manager) Create(id, dir string) (*Session, error) {
	if id == "" {
		id = uuid.NewString()
	}
	if dir != "" {
		resolved, err := utils.EnsureHectorDir(dir)
		if err != nil {
			return nil, err
		}
		dir = resolved
	}
	store, err := m.newStore(dir)
	if err != nil {
		return nil, err
	}
	s := &Session{
		id:             id,
		dir:            dir,
		store:          store,
		metrics:        metrics.NewBucket(),
		lastUpdateTime: time.Now(),
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[id] = s
	return s, nil
}

// Get returns an existing session by id.
func (m *Manager) Get(id string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return s, nil
}

// List returns every known session id.
func (m *Manager) List() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	return ids
}

// Delete removes a session from the manager. It does not delete the
// session's persisted directory, if any; callers that want that must do
// so explicitly (mirrors spec §4.8 cleanup only disconnecting MCP servers
// and closing logs, never deleting user data).
func (m *Manager) Delete(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[id]; !ok {
		return ErrSessionNotFound
	}
	delete(m.sessions, id)
	return nil
}
