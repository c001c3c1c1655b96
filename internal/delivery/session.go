// Package delivery runs live delivery sessions: one long-lived push
// connection per client, keyed by contact id, fed from the conversation
// store.
package delivery

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/usebrk/beka-widget/internal/message"
	"github.com/usebrk/beka-widget/internal/metrics"
)

// DefaultHeartbeatInterval is the keepalive period for live sessions.
const DefaultHeartbeatInterval = 30 * time.Second

// Backlog is the part of the conversation store a session consumes.
type Backlog interface {
	Add(contactID int64, msg message.Message) bool
	DrainAndSubscribe(contactID int64, listener message.Listener) ([]message.Message, func())
	Remove(contactID int64, messageID string)
}

// Session pushes one contact's messages to one client.
//
// Run drains the backlog, subscribes for new arrivals, forwards them in
// arrival order and heartbeats until the context ends, a write fails or
// Close is called. Every exit path releases the subscription and the
// heartbeat ticker.
type Session struct {
	contactID int64
	transport Transport
	backlog   Backlog
	sender    Sender
	heartbeat time.Duration
	metrics   *metrics.Metrics
	logger    *slog.Logger

	mu          sync.Mutex
	queue       []message.Message
	unsubscribe func()
	closed      bool
	signal      chan struct{}
	done        chan struct{}
	closeOnce   sync.Once
}

// SessionConfig holds the collaborators of a Session.
type SessionConfig struct {
	ContactID int64
	Transport Transport
	Backlog   Backlog
	Sender    Sender
	Heartbeat time.Duration
	Metrics   *metrics.Metrics
	Logger    *slog.Logger
}

// NewSession creates a Session. It does not touch the store until Run.
func NewSession(cfg SessionConfig) *Session {
	if cfg.Heartbeat <= 0 {
		cfg.Heartbeat = DefaultHeartbeatInterval
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Session{
		contactID: cfg.ContactID,
		transport: cfg.Transport,
		backlog:   cfg.Backlog,
		sender:    cfg.Sender,
		heartbeat: cfg.Heartbeat,
		metrics:   cfg.Metrics,
		logger: log.With(
			slog.String("service", "live_session"),
			slog.String("transport", string(cfg.Transport)),
			slog.Int64("contact_id", cfg.ContactID),
		),
		signal: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
}

// ContactID returns the contact this session serves.
func (s *Session) ContactID() int64 {
	return s.contactID
}

// Run serves the session until it ends. A nil error means the client went
// away or the session was closed.
func (s *Session) Run(ctx context.Context) error {
	defer s.Close()

	select {
	case <-s.done:
		return nil
	default:
	}

	s.metrics.SessionOpened(string(s.transport))
	defer s.metrics.SessionClosed(string(s.transport))

	pending, unsubscribe := s.backlog.DrainAndSubscribe(s.contactID, s.enqueue)
	if !s.attach(unsubscribe) {
		unsubscribe()
		s.restore(pending)
		return nil
	}
	s.logger.Info("live session opened", slog.Int("backlog", len(pending)))

	for _, msg := range pending {
		if err := s.sender.Send(msg); err != nil {
			return s.fail("send backlog", err)
		}
	}
	s.metrics.Delivered(string(s.transport), len(pending))

	ticker := time.NewTicker(s.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("live session closed by client")
			return nil
		case <-s.done:
			s.logger.Info("live session closed")
			return nil
		case <-ticker.C:
			if err := s.sender.Heartbeat(); err != nil {
				return s.fail("heartbeat", err)
			}
		case <-s.signal:
			for _, msg := range s.takeQueued() {
				if err := s.sender.Send(msg); err != nil {
					return s.fail("send", err)
				}
				s.backlog.Remove(s.contactID, msg.ID)
				s.metrics.Delivered(string(s.transport), 1)
			}
		}
	}
}

// Close ends the session. It is safe to call more than once and from any
// goroutine.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		unsubscribe := s.unsubscribe
		s.unsubscribe = nil
		s.queue = nil
		s.mu.Unlock()

		close(s.done)
		if unsubscribe != nil {
			unsubscribe()
		}
	})
}

// Done is closed once the session has been closed.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// enqueue runs under the store lock and must not block.
func (s *Session) enqueue(msg message.Message) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.queue = append(s.queue, msg)
	s.mu.Unlock()

	select {
	case s.signal <- struct{}{}:
	default:
	}
}

func (s *Session) takeQueued() []message.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	queued := s.queue
	s.queue = nil
	return queued
}

func (s *Session) attach(unsubscribe func()) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.unsubscribe = unsubscribe
	return true
}

// restore puts drained messages back when the session closed before it
// could deliver them.
func (s *Session) restore(pending []message.Message) {
	for _, msg := range pending {
		s.backlog.Add(s.contactID, msg)
	}
}

func (s *Session) fail(stage string, err error) error {
	s.logger.Warn("live session write failed", slog.String("stage", stage), slog.Any("error", err))
	return fmt.Errorf("%s: %w", stage, err)
}
