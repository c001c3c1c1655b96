package delivery

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/usebrk/beka-widget/internal/message"
)

func TestManagerShutdownClosesSessions(t *testing.T) {
	t.Parallel()

	store := message.NewStore(nil, nil)
	m := NewManager(nil, store, time.Minute, nil)

	errCh := make(chan error, 2)
	for _, contact := range []int64{1, 2} {
		go func() { errCh <- m.Serve(context.Background(), contact, TransportSSE, newFakeSender()) }()
	}
	waitFor(t, "sessions", func() bool { return m.Active() == 2 && listeners(store) == 2 })

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := m.Shutdown(ctx); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	for i := 0; i < 2; i++ {
		if err := <-errCh; err != nil {
			t.Fatalf("unexpected serve error: %v", err)
		}
	}
	if m.Active() != 0 || listeners(store) != 0 {
		t.Fatalf("expected everything released, active=%d listeners=%d", m.Active(), listeners(store))
	}

	err := m.Serve(context.Background(), 3, TransportSSE, newFakeSender())
	if !errors.Is(err, ErrShuttingDown) {
		t.Fatalf("expected ErrShuttingDown, got %v", err)
	}
}

func TestManagerServeEndsWithClient(t *testing.T) {
	t.Parallel()

	store := message.NewStore(nil, nil)
	m := NewManager(nil, store, 0, nil)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- m.Serve(ctx, 4, TransportWebSocket, newFakeSender()) }()
	waitFor(t, "session", func() bool { return m.Active() == 1 })

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("unexpected serve error: %v", err)
	}
	if m.Active() != 0 {
		t.Fatalf("expected session removed, active=%d", m.Active())
	}
}
