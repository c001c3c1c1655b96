// Package widget is the Go counterpart of the storefront chat widget. It
// merges the user's own messages, direct assistant replies and agent
// messages from the live or pull channel into one deduplicated timeline.
package widget

import (
	"sync"

	"github.com/usebrk/beka-widget/internal/message"
)

// Role tells who authored a timeline entry.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleAgent     Role = "agent"
)

// Entry is one message shown in the timeline.
type Entry struct {
	Role    Role
	Message message.Message
}

// Timeline is an arrival-ordered message list deduplicated by id.
type Timeline struct {
	mu       sync.Mutex
	entries  []Entry
	seen     map[string]struct{}
	onAppend func(Entry)
}

// NewTimeline creates an empty timeline. onAppend, when set, is called
// outside the lock for every entry that is actually appended.
func NewTimeline(onAppend func(Entry)) *Timeline {
	return &Timeline{seen: map[string]struct{}{}, onAppend: onAppend}
}

// Add appends msg unless an entry with the same id is already present.
func (t *Timeline) Add(role Role, msg message.Message) bool {
	t.mu.Lock()
	if msg.ID != "" {
		if _, dup := t.seen[msg.ID]; dup {
			t.mu.Unlock()
			return false
		}
		t.seen[msg.ID] = struct{}{}
	}
	entry := Entry{Role: role, Message: msg}
	t.entries = append(t.entries, entry)
	t.mu.Unlock()

	if t.onAppend != nil {
		t.onAppend(entry)
	}
	return true
}

// AddAgent appends an agent message delivered by the live or pull channel.
func (t *Timeline) AddAgent(msg message.Message) {
	t.Add(RoleAgent, msg)
}

// Entries returns a copy of the timeline.
func (t *Timeline) Entries() []Entry {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Entry, len(t.entries))
	copy(out, t.entries)
	return out
}

func (t *Timeline) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}
