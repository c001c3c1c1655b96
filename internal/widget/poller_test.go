package widget

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/usebrk/beka-widget/internal/message"
)

func TestPollerDeliversPendingMessages(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/api/chatwoot-webhook", r.URL.Path)
		messages := []message.Message{}
		if calls.Add(1) == 1 {
			messages = append(messages, message.Message{ID: "p1", Content: message.TextContent("oi"), Timestamp: 1})
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"success": true, "messages": messages, "count": len(messages)})
	}))
	defer srv.Close()

	tl := NewTimeline(nil)
	p := NewPoller(Config{BaseURL: srv.URL, ContactID: 42, Logger: slog.New(slog.DiscardHandler)}, 5*time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx, tl.AddAgent) }()

	require.Eventually(t, func() bool { return calls.Load() >= 3 }, 2*time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	entries := tl.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, "p1", entries[0].Message.ID)
	assert.Equal(t, RoleAgent, entries[0].Role)
}

func TestPollerSkipsTicksWhileInFlight(t *testing.T) {
	t.Parallel()

	var inFlight, maxInFlight, calls atomic.Int32
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := inFlight.Add(1)
		defer inFlight.Add(-1)
		for {
			cur := maxInFlight.Load()
			if n <= cur || maxInFlight.CompareAndSwap(cur, n) {
				break
			}
		}
		calls.Add(1)
		select {
		case <-release:
		case <-r.Context().Done():
		}
		_, _ = w.Write([]byte(`{"success":true,"messages":[],"count":0}`))
	}))
	defer srv.Close()

	p := NewPoller(Config{BaseURL: srv.URL, ContactID: 42, Logger: slog.New(slog.DiscardHandler)}, 2*time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx, func(message.Message) {}) }()

	require.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, time.Millisecond)
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, int32(1), calls.Load())

	close(release)
	require.Eventually(t, func() bool { return calls.Load() >= 2 }, time.Second, time.Millisecond)
	cancel()
	require.NoError(t, <-done)
	assert.Equal(t, int32(1), maxInFlight.Load())
}
