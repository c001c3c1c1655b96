package delivery

import (
	"context"
	"errors"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/usebrk/beka-widget/internal/message"
)

type fakeSender struct {
	mu         sync.Mutex
	sent       []message.Message
	heartbeats   int
	sendErr      error
	heartbeatErr error
	delivered    chan message.Message
}

func newFakeSender() *fakeSender {
	return &fakeSender{delivered: make(chan message.Message, 16)}
}

func (f *fakeSender) Send(msg message.Message) error {
	f.mu.Lock()
	err := f.sendErr
	if err == nil {
		f.sent = append(f.sent, msg)
	}
	f.mu.Unlock()
	if err != nil {
		return err
	}
	f.delivered <- msg
	return nil
}

func (f *fakeSender) Heartbeat() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.heartbeats++
	if f.heartbeatErr != nil {
		return f.heartbeatErr
	}
	return f.sendErr
}

func (f *fakeSender) heartbeatCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.heartbeats
}

func textMessage(id string) message.Message {
	return message.Message{ID: id, Content: message.TextContent(id), Timestamp: 1}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func receive(t *testing.T, sender *fakeSender) message.Message {
	t.Helper()
	select {
	case msg := <-sender.delivered:
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for delivery")
		return message.Message{}
	}
}

func listeners(store *message.Store) int {
	_, _, n := store.Stats()
	return n
}

func TestSessionDrainsBacklogOnOpen(t *testing.T) {
	t.Parallel()

	store := message.NewStore(nil, nil)
	store.Add(42, textMessage("m1"))
	sender := newFakeSender()
	session := NewSession(SessionConfig{ContactID: 42, Transport: TransportSSE, Backlog: store, Sender: sender})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	errCh := make(chan error, 1)
	go func() { errCh <- session.Run(ctx) }()

	if got := receive(t, sender); got.ID != "m1" {
		t.Fatalf("expected backlog message m1, got %q", got.ID)
	}
	if n := store.PendingCount(42); n != 0 {
		t.Fatalf("expected empty backlog after open, got %d", n)
	}

	cancel()
	if err := <-errCh; err != nil {
		t.Fatalf("unexpected run error: %v", err)
	}
	if n := listeners(store); n != 0 {
		t.Fatalf("expected subscription released, got %d listeners", n)
	}
}

func TestSessionPushesArrivalsInOrderAndConsumesThem(t *testing.T) {
	t.Parallel()

	store := message.NewStore(nil, nil)
	sender := newFakeSender()
	session := NewSession(SessionConfig{ContactID: 7, Transport: TransportSSE, Backlog: store, Sender: sender})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = session.Run(ctx) }()
	waitFor(t, "subscription", func() bool { return listeners(store) == 1 })

	store.Add(7, textMessage("a"))
	store.Add(7, textMessage("b"))
	store.Add(7, textMessage("c"))

	for _, want := range []string{"a", "b", "c"} {
		if got := receive(t, sender); got.ID != want {
			t.Fatalf("expected %q, got %q", want, got.ID)
		}
	}
	waitFor(t, "backlog consumed", func() bool { return store.PendingCount(7) == 0 })
}

func TestSessionSendFailureReleasesSubscription(t *testing.T) {
	t.Parallel()

	store := message.NewStore(nil, nil)
	sender := newFakeSender()
	sender.sendErr = errors.New("broken pipe")
	session := NewSession(SessionConfig{ContactID: 9, Transport: TransportSSE, Backlog: store, Sender: sender})

	errCh := make(chan error, 1)
	go func() { errCh <- session.Run(context.Background()) }()
	waitFor(t, "subscription", func() bool { return listeners(store) == 1 })

	store.Add(9, textMessage("x"))

	select {
	case err := <-errCh:
		if err == nil || !strings.Contains(err.Error(), "broken pipe") {
			t.Fatalf("expected send error, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("session did not stop after send failure")
	}
	if n := listeners(store); n != 0 {
		t.Fatalf("expected subscription released, got %d listeners", n)
	}
	if n := store.PendingCount(9); n != 1 {
		t.Fatalf("undelivered message should stay pending, got %d", n)
	}
}

func TestSessionHeartbeats(t *testing.T) {
	t.Parallel()

	store := message.NewStore(nil, nil)
	sender := newFakeSender()
	session := NewSession(SessionConfig{ContactID: 1, Backlog: store, Sender: sender, Heartbeat: 5 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = session.Run(ctx) }()

	waitFor(t, "heartbeats", func() bool { return sender.heartbeatCount() >= 2 })
}

func TestSessionHeartbeatFailureReleasesSubscription(t *testing.T) {
	t.Parallel()

	store := message.NewStore(nil, nil)
	sender := newFakeSender()
	sender.heartbeatErr = errors.New("connection reset")
	session := NewSession(SessionConfig{ContactID: 4, Backlog: store, Sender: sender, Heartbeat: 5 * time.Millisecond})

	errCh := make(chan error, 1)
	go func() { errCh <- session.Run(context.Background()) }()

	select {
	case err := <-errCh:
		if err == nil || !strings.HasPrefix(err.Error(), "heartbeat:") || !strings.Contains(err.Error(), "connection reset") {
			t.Fatalf("expected heartbeat error, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("session did not stop after heartbeat failure")
	}
	if n := listeners(store); n != 0 {
		t.Fatalf("expected subscription released, got %d listeners", n)
	}

	store.Add(4, textMessage("later"))
	if n := store.PendingCount(4); n != 1 {
		t.Fatalf("message after teardown should stay pending, got %d", n)
	}
	sender.mu.Lock()
	sent := len(sender.sent)
	sender.mu.Unlock()
	if sent != 0 {
		t.Fatalf("nothing should be sent after teardown, got %d", sent)
	}
}

func TestSessionCloseIsIdempotent(t *testing.T) {
	t.Parallel()

	store := message.NewStore(nil, nil)
	session := NewSession(SessionConfig{ContactID: 3, Backlog: store, Sender: newFakeSender()})

	errCh := make(chan error, 1)
	go func() { errCh <- session.Run(context.Background()) }()
	waitFor(t, "subscription", func() bool { return listeners(store) == 1 })

	session.Close()
	session.Close()
	if err := <-errCh; err != nil {
		t.Fatalf("unexpected run error: %v", err)
	}
	session.Close()
	if n := listeners(store); n != 0 {
		t.Fatalf("expected no listeners, got %d", n)
	}
}

func TestSessionClosedBeforeRunKeepsBacklog(t *testing.T) {
	t.Parallel()

	store := message.NewStore(nil, nil)
	store.Add(5, textMessage("keep"))
	session := NewSession(SessionConfig{ContactID: 5, Backlog: store, Sender: newFakeSender()})
	session.Close()

	if err := session.Run(context.Background()); err != nil {
		t.Fatalf("unexpected run error: %v", err)
	}
	if n := store.PendingCount(5); n != 1 {
		t.Fatalf("expected backlog untouched, got %d", n)
	}
}

func TestTwoSessionsFanOut(t *testing.T) {
	t.Parallel()

	store := message.NewStore(nil, nil)
	first, second := newFakeSender(), newFakeSender()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	for _, sender := range []*fakeSender{first, second} {
		session := NewSession(SessionConfig{ContactID: 11, Backlog: store, Sender: sender})
		go func() { _ = session.Run(ctx) }()
	}
	waitFor(t, "subscriptions", func() bool { return listeners(store) == 2 })

	store.Add(11, textMessage("both"))
	if got := receive(t, first); got.ID != "both" {
		t.Fatalf("first tab got %q", got.ID)
	}
	if got := receive(t, second); got.ID != "both" {
		t.Fatalf("second tab got %q", got.ID)
	}
}

func TestSSESenderFrames(t *testing.T) {
	t.Parallel()

	rec := httptest.NewRecorder()
	sender, err := NewSSESender(rec)
	if err != nil {
		t.Fatalf("new sender: %v", err)
	}
	if err := sender.Send(textMessage("m1")); err != nil {
		t.Fatalf("send: %v", err)
	}
	if err := sender.Heartbeat(); err != nil {
		t.Fatalf("heartbeat: %v", err)
	}

	if ct := rec.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("unexpected content type %q", ct)
	}
	body := rec.Body.String()
	if !strings.Contains(body, `data: {"id":"m1","content":"m1","timestamp":1}`+"\n\n") {
		t.Fatalf("missing data frame: %q", body)
	}
	if !strings.HasSuffix(body, ": heartbeat\n\n") {
		t.Fatalf("missing heartbeat frame: %q", body)
	}
}
