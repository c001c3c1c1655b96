package message

import (
	"log/slog"
	"sync"

	"github.com/usebrk/beka-widget/internal/metrics"
)

// Store is the in-memory registry of undelivered messages and live listeners,
// keyed by support-platform contact id. Entries live for the process lifetime.
//
// Listeners run synchronously under the store lock, in subscription order, so
// every subscriber of a contact observes Add calls in the same order. A
// listener must not call back into the Store.
type Store struct {
	mu            sync.Mutex
	conversations map[int64]*conversation
	nextID        uint64
	closed        bool
	logger        *slog.Logger
	metrics       *metrics.Metrics
}

type conversation struct {
	backlog       []Message
	subscribers   []subscriber
	lastTimestamp int64
}

type subscriber struct {
	id       uint64
	listener Listener
}

// NewStore creates an empty store.
func NewStore(log *slog.Logger, m *metrics.Metrics) *Store {
	if log == nil {
		log = slog.Default()
	}
	return &Store{
		conversations: map[int64]*conversation{},
		logger:        log.With(slog.String("service", "message_store")),
		metrics:       m,
	}
}

func (s *Store) conversationLocked(contactID int64) *conversation {
	conv, ok := s.conversations[contactID]
	if !ok {
		conv = &conversation{}
		s.conversations[contactID] = conv
	}
	return conv
}

// Add appends msg to the contact backlog unless a message with the same id is
// already pending, then pushes it to every current listener. It reports
// whether the message was appended.
func (s *Store) Add(contactID int64, msg Message) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv := s.conversationLocked(contactID)
	for _, existing := range conv.backlog {
		if existing.ID == msg.ID {
			s.metrics.DuplicateRejected()
			s.logger.Debug("duplicate message ignored",
				slog.Int64("contact_id", contactID),
				slog.String("message_id", msg.ID),
			)
			return false
		}
	}
	// Arrival order is authoritative for timestamps.
	if msg.Timestamp < conv.lastTimestamp {
		msg.Timestamp = conv.lastTimestamp
	}
	conv.lastTimestamp = msg.Timestamp
	conv.backlog = append(conv.backlog, msg)
	s.metrics.MessageAdded()
	s.logger.Info("message added",
		slog.Int64("contact_id", contactID),
		slog.String("message_id", msg.ID),
		slog.Int("pending", len(conv.backlog)),
		slog.Int("listeners", len(conv.subscribers)),
	)
	for _, sub := range conv.subscribers {
		sub.listener(msg)
	}
	return true
}

// Messages returns a copy of the pending backlog without consuming it.
func (s *Store) Messages(contactID int64) []Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, ok := s.conversations[contactID]
	if !ok || len(conv.backlog) == 0 {
		return []Message{}
	}
	out := make([]Message, len(conv.backlog))
	copy(out, conv.backlog)
	return out
}

// Clear empties the contact backlog.
func (s *Store) Clear(contactID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if conv, ok := s.conversations[contactID]; ok {
		conv.backlog = nil
	}
}

// Drain returns the pending backlog and clears it in one step.
func (s *Store) Drain(contactID int64) []Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.drainLocked(contactID)
}

func (s *Store) drainLocked(contactID int64) []Message {
	conv, ok := s.conversations[contactID]
	if !ok || len(conv.backlog) == 0 {
		return []Message{}
	}
	out := conv.backlog
	conv.backlog = nil
	return out
}

// Remove drops the pending entry with the given id, if any. Live sessions call
// it after a pushed message has been written to the client.
func (s *Store) Remove(contactID int64, messageID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, ok := s.conversations[contactID]
	if !ok {
		return
	}
	for i, existing := range conv.backlog {
		if existing.ID == messageID {
			conv.backlog = append(conv.backlog[:i:i], conv.backlog[i+1:]...)
			return
		}
	}
}

// Subscribe registers listener for future Add calls on contactID. The returned
// function removes exactly this registration and is safe to call repeatedly.
func (s *Store) Subscribe(contactID int64, listener Listener) func() {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.subscribeLocked(contactID, listener)
}

// DrainAndSubscribe atomically takes the pending backlog and registers
// listener, so no message can fall between the two.
func (s *Store) DrainAndSubscribe(contactID int64, listener Listener) ([]Message, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	backlog := s.drainLocked(contactID)
	return backlog, s.subscribeLocked(contactID, listener)
}

func (s *Store) subscribeLocked(contactID int64, listener Listener) func() {
	if s.closed || listener == nil {
		return func() {}
	}
	s.nextID++
	id := s.nextID
	conv := s.conversationLocked(contactID)
	conv.subscribers = append(conv.subscribers, subscriber{id: id, listener: listener})

	var once sync.Once
	return func() {
		once.Do(func() { s.unsubscribe(contactID, id) })
	}
}

func (s *Store) unsubscribe(contactID int64, id uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, ok := s.conversations[contactID]
	if !ok {
		return
	}
	for i, sub := range conv.subscribers {
		if sub.id == id {
			conv.subscribers = append(conv.subscribers[:i:i], conv.subscribers[i+1:]...)
			return
		}
	}
}

// PendingCount returns the number of undelivered messages for contactID.
func (s *Store) PendingCount(contactID int64) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	if conv, ok := s.conversations[contactID]; ok {
		return len(conv.backlog)
	}
	return 0
}

// Stats reports totals across all conversations.
func (s *Store) Stats() (contacts, pending, listeners int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, conv := range s.conversations {
		contacts++
		pending += len(conv.backlog)
		listeners += len(conv.subscribers)
	}
	return contacts, pending, listeners
}

// Close drops every listener and refuses new subscriptions. Pending backlogs
// are kept so a final poll can still drain them.
func (s *Store) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	for _, conv := range s.conversations {
		conv.subscribers = nil
	}
}
