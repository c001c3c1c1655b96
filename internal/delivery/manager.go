package delivery

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/usebrk/beka-widget/internal/metrics"
)

// ErrShuttingDown is returned by Serve once Shutdown has started.
var ErrShuttingDown = errors.New("delivery: shutting down")

// Manager tracks open live sessions so they can be closed together.
type Manager struct {
	backlog   Backlog
	heartbeat time.Duration
	metrics   *metrics.Metrics
	logger    *slog.Logger

	mu       sync.Mutex
	sessions map[*Session]struct{}
	closing  bool
	wg       sync.WaitGroup
}

// NewManager creates a Manager. A zero heartbeat uses DefaultHeartbeatInterval.
func NewManager(log *slog.Logger, backlog Backlog, heartbeat time.Duration, m *metrics.Metrics) *Manager {
	if log == nil {
		log = slog.Default()
	}
	if heartbeat <= 0 {
		heartbeat = DefaultHeartbeatInterval
	}
	return &Manager{
		backlog:   backlog,
		heartbeat: heartbeat,
		metrics:   m,
		logger:    log,
		sessions:  map[*Session]struct{}{},
	}
}

// Serve runs a live session for contactID over sender until it ends.
func (m *Manager) Serve(ctx context.Context, contactID int64, transport Transport, sender Sender) error {
	session := NewSession(SessionConfig{
		ContactID: contactID,
		Transport: transport,
		Backlog:   m.backlog,
		Sender:    sender,
		Heartbeat: m.heartbeat,
		Metrics:   m.metrics,
		Logger:    m.logger,
	})

	m.mu.Lock()
	if m.closing {
		m.mu.Unlock()
		return ErrShuttingDown
	}
	m.sessions[session] = struct{}{}
	m.wg.Add(1)
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		delete(m.sessions, session)
		m.mu.Unlock()
		m.wg.Done()
	}()
	return session.Run(ctx)
}

// Active returns the number of open sessions.
func (m *Manager) Active() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Shutdown closes every session, refuses new ones and waits for the
// running sessions to return or ctx to end.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	m.closing = true
	sessions := make([]*Session, 0, len(m.sessions))
	for session := range m.sessions {
		sessions = append(sessions, session)
	}
	m.mu.Unlock()

	for _, session := range sessions {
		session.Close()
	}
	m.logger.Info("closing live sessions", slog.Int("count", len(sessions)))

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
