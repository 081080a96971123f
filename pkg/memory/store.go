// Package memory implements the conversation store (L3): a per-conversation
// ordered message list plus metadata, with an in-memory authoritative
// implementation and an optional file-backed durable layer.
package memory

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Role is the speaker of a Message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
	RoleSystem    Role = "system"
)

// ContentPart is one element of a Message's ordered content when the
// message carries more than plain text (e.g. text mixed with an image).
type ContentPart struct {
	Type     string `json:"type"` // "text", "image_url", "file"
	Text     string `json:"text,omitempty"`
	ImageURL string `json:"image_url,omitempty"`
	FileURL  string `json:"file_url,omitempty"`
}

// ToolCall is a call an assistant Message asked to make.
type ToolCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// Message is immutable once appended to a Conversation; identity is by ID.
type Message struct {
	ID         string        `json:"id"`
	Role       Role          `json:"role"`
	Content    string        `json:"content,omitempty"`
	Parts      []ContentPart `json:"parts,omitempty"`
	ToolCalls  []ToolCall    `json:"tool_calls,omitempty"`
	ToolCallID string        `json:"tool_call_id,omitempty"`
	Name       string        `json:"name,omitempty"`
	Timestamp  time.Time     `json:"timestamp"`
}

// NewMessage stamps a fresh id and timestamp on a Message about to be
// appended; callers set Role/Content/ToolCalls before calling Append.
func NewMessage(role Role, content string) Message {
	return Message{ID: uuid.NewString(), Role: role, Content: content, Timestamp: time.Now()}
}

// TokenCounters accumulate prompt/completion/total token usage.
type TokenCounters struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Add returns the counters combined with another request's usage.
func (c TokenCounters) Add(o TokenCounters) TokenCounters {
	return TokenCounters{
		PromptTokens:     c.PromptTokens + o.PromptTokens,
		CompletionTokens: c.CompletionTokens + o.CompletionTokens,
		TotalTokens:      c.TotalTokens + o.TotalTokens,
	}
}

// Metadata is the per-conversation bookkeeping layered over the raw
// message list, stored under a parallel key so it never appears in
// ListConversations.
type Metadata struct {
	CreatedAt       time.Time     `json:"created_at"`
	UpdatedAt       time.Time     `json:"updated_at"`
	MessageCount    int           `json:"message_count"`
	Topic           string        `json:"topic,omitempty"`
	Cumulative      TokenCounters `json:"cumulative"`
	ContextWindow   TokenCounters `json:"context_window"` // most-recent request, replaces not adds
	ToolCalls       int           `json:"tool_calls"`
	Cost            float64       `json:"cost"`
	ResponseTimeMs  int64         `json:"response_time_ms"`
}

// RequestMetrics is what recordRequestMetrics adds to a conversation.
type RequestMetrics struct {
	Usage          TokenCounters
	ToolCalls      int
	Cost           float64
	ResponseTimeMs int64
}

// Conversation is the read view returned by GetConversation: an immutable
// snapshot of the message list plus its metadata.
type Conversation struct {
	ID       string
	Messages []Message
	Metadata Metadata
}

// ErrConversationNotFound is returned by operations addressing a
// conversation id that was never created and has no metadata to synthesize.
var ErrConversationNotFound = errors.New("memory: conversation not found")

// Snapshot is the full exportable/importable state of a Store.
type Snapshot struct {
	Messages map[string][]Message  `json:"messages"`
	Metadata map[string]Metadata   `json:"metadata"`
}

// Store is the L3 conversation store contract (spec §4.4): a memory port
// (get/set/append/delete/keys/clear/export/import) layered with metadata
// and per-conversation-id serialized writes.
type Store interface {
	// GetConversation returns the conversation; if no metadata row exists
	// yet, metadata is synthesized from the message list.
	GetConversation(id string) (Conversation, error)

	// AppendMessages appends under a per-id lock, then updates
	// UpdatedAt/MessageCount while preserving Topic/CreatedAt/cumulative
	// counters. Creates the conversation (and its metadata) on first use.
	AppendMessages(id string, msgs ...Message) error

	// UpdateTopic sets Metadata.Topic and bumps UpdatedAt.
	UpdateTopic(id string, topic string) error

	// RecordRequestMetrics adds usage/toolCalls/cost/responseTime to the
	// cumulative counters and replaces ContextWindow with this request's.
	RecordRequestMetrics(id string, m RequestMetrics) error

	// ListConversations returns every conversation id created so far.
	ListConversations() []string

	// Delete removes a conversation and its metadata entirely.
	Delete(id string) error

	// ExportSnapshot returns a deep copy of all messages and metadata.
	ExportSnapshot() Snapshot

	// ImportSnapshot replaces the store's contents with snapshot, such
	// that ImportSnapshot(ExportSnapshot()) round-trips exactly.
	ImportSnapshot(s Snapshot)
}

// conversationLock holds one conversation's state plus its own mutex, so
// writers only serialize against readers/writers of the SAME conversation
// id, not the whole store.
type conversationLock struct {
	mu       sync.RWMutex
	messages []Message
	metadata Metadata
	hasMeta  bool
}

// InMemoryStore is the authoritative runtime implementation of Store.
type InMemoryStore struct {
	mu            sync.RWMutex // guards the top-level map only
	conversations map[string]*conversationLock
}

// NewInMemoryStore constructs an empty conversation store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{conversations: make(map[string]*conversationLock)}
}

func (s *InMemoryStore) entry(id string, create bool) (*conversationLock, bool) {
	s.mu.RLock()
	c, ok := s.conversations[id]
	s.mu.RUnlock()
	if ok || !create {
		return c, ok
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok = s.conversations[id]; ok {
		return c, true
	}
	c = &conversationLock{}
	s.conversations[id] = c
	return c, false
}

func synthesizeMetadata(msgs []Message) Metadata {
	m := Metadata{MessageCount: len(msgs)}
	if len(msgs) > 0 {
		m.CreatedAt = msgs[0].Timestamp
		m.UpdatedAt = msgs[len(msgs)-1].Timestamp
	} else {
		now := time.Now()
		m.CreatedAt, m.UpdatedAt = now, now
	}
	return m
}

func (s *InMemoryStore) GetConversation(id string) (Conversation, error) {
	c, ok := s.entry(id, false)
	if !ok {
		return Conversation{}, ErrConversationNotFound
	}
	c.mu.RLock()
	defer c.mu.RUnlock()

	meta := c.metadata
	if !c.hasMeta {
		meta = synthesizeMetadata(c.messages)
	}
	msgs := make([]Message, len(c.messages))
	copy(msgs, c.messages)
	return Conversation{ID: id, Messages: msgs, Metadata: meta}, nil
}

func (s *InMemoryStore) AppendMessages(id string, msgs ...Message) error {
	if len(msgs) == 0 {
		return nil
	}
	c, _ := s.entry(id, true)
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.hasMeta {
		c.metadata = Metadata{CreatedAt: msgs[0].Timestamp}
		c.hasMeta = true
	}
	c.messages = append(c.messages, msgs...)
	c.metadata.MessageCount = len(c.messages)
	c.metadata.UpdatedAt = msgs[len(msgs)-1].Timestamp
	return nil
}

func (s *InMemoryStore) UpdateTopic(id string, topic string) error {
	c, ok := s.entry(id, false)
	if !ok {
		return ErrConversationNotFound
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.metadata.Topic = topic
	c.metadata.UpdatedAt = time.Now()
	return nil
}

func (s *InMemoryStore) RecordRequestMetrics(id string, m RequestMetrics) error {
	c, ok := s.entry(id, false)
	if !ok {
		return ErrConversationNotFound
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.metadata.Cumulative = c.metadata.Cumulative.Add(m.Usage)
	c.metadata.ContextWindow = m.Usage
	c.metadata.ToolCalls += m.ToolCalls
	c.metadata.Cost += m.Cost
	c.metadata.ResponseTimeMs += m.ResponseTimeMs
	return nil
}

func (s *InMemoryStore) ListConversations() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.conversations))
	for id := range s.conversations {
		ids = append(ids, id)
	}
	return ids
}

func (s *InMemoryStore) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.conversations, id)
	return nil
}

func (s *InMemoryStore) ExportSnapshot() Snapshot {
	s.mu.RLock()
	ids := make([]string, 0, len(s.conversations))
	entries := make([]*conversationLock, 0, len(s.conversations))
	for id, c := range s.conversations {
		ids = append(ids, id)
		entries = append(entries, c)
	}
	s.mu.RUnlock()

	snap := Snapshot{Messages: make(map[string][]Message, len(ids)), Metadata: make(map[string]Metadata, len(ids))}
	for i, id := range ids {
		c := entries[i]
		c.mu.RLock()
		msgs := make([]Message, len(c.messages))
		copy(msgs, c.messages)
		meta := c.metadata
		if !c.hasMeta {
			meta = synthesizeMetadata(c.messages)
		}
		c.mu.RUnlock()
		snap.Messages[id] = msgs
		snap.Metadata[id] = meta
	}
	return snap
}

func (s *InMemoryStore) ImportSnapshot(snap Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conversations = make(map[string]*conversationLock, len(snap.Messages))
	for id, msgs := range snap.Messages {
		cp := make([]Message, len(msgs))
		copy(cp, msgs)
		c := &conversationLock{messages: cp}
		if meta, ok := snap.Metadata[id]; ok {
			c.metadata = meta
			c.hasMeta = true
		}
		s.conversations[id] = c
	}
}

var _ Store = (*InMemoryStore)(nil)

// FileStore wraps an InMemoryStore and persists every mutation to a JSON
// snapshot file using atomic write-then-rename, matching the teacher's
// file-write conventions elsewhere in the repo. The in-memory store remains
// authoritative for reads within the process; the file exists for restart
// durability.
type FileStore struct {
	*InMemoryStore
	path string
	mu   sync.Mutex // serializes the write-then-rename sequence
}

// NewFileStore loads path if it exists, else starts empty, and persists
// every subsequent mutation back to path.
func NewFileStore(path string) (*FileStore, error) {
	fs := &FileStore{InMemoryStore: NewInMemoryStore(), path: path}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return fs, nil
	}
	if err != nil {
		return nil, fmt.Errorf("memory: reading %s: %w", path, err)
	}
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("memory: decoding %s: %w", path, err)
	}
	fs.InMemoryStore.ImportSnapshot(snap)
	return fs, nil
}

func (fs *FileStore) persist() error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	data, err := json.Marshal(fs.InMemoryStore.ExportSnapshot())
	if err != nil {
		return fmt.Errorf("memory: encoding snapshot: %w", err)
	}
	dir := filepath.Dir(fs.path)
	tmp, err := os.CreateTemp(dir, ".history-*.json.tmp")
	if err != nil {
		return fmt.Errorf("memory: creating temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("memory: writing temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("memory: closing temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), fs.path); err != nil {
		return fmt.Errorf("memory: renaming temp file into place: %w", err)
	}
	return nil
}

func (fs *FileStore) AppendMessages(id string, msgs ...Message) error {
	if err := fs.InMemoryStore.AppendMessages(id, msgs...); err != nil {
		return err
	}
	return fs.persist()
}

func (fs *FileStore) UpdateTopic(id string, topic string) error {
	if err := fs.InMemoryStore.UpdateTopic(id, topic); err != nil {
		return err
	}
	return fs.persist()
}

func (fs *FileStore) RecordRequestMetrics(id string, m RequestMetrics) error {
	if err := fs.InMemoryStore.RecordRequestMetrics(id, m); err != nil {
		return err
	}
	return fs.persist()
}

func (fs *FileStore) Delete(id string) error {
	if err := fs.InMemoryStore.Delete(id); err != nil {
		return err
	}
	return fs.persist()
}

func (fs *FileStore) ImportSnapshot(snap Snapshot) {
	fs.InMemoryStore.ImportSnapshot(snap)
	_ = fs.persist()
}

var _ Store = (*FileStore)(nil)
