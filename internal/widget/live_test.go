package widget

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/usebrk/beka-widget/internal/message"
)

func TestLiveClientReconnectsAndDeduplicates(t *testing.T) {
	t.Parallel()

	var connects atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/chatwoot-sse", r.URL.Path)
		assert.Equal(t, "42", r.URL.Query().Get("contact_id"))
		n := connects.Add(1)
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, ": heartbeat\n\n")
		// Every connection redelivers m1 to simulate a reconnect race.
		fmt.Fprint(w, `data: {"id":"m1","content":"primeira","timestamp":1}`+"\n\n")
		fmt.Fprintf(w, `data: {"id":"m%d","content":"nova","timestamp":%d}`+"\n\n", n+1, n+1)
		fmt.Fprint(w, "data: not-json\n\n")
	}))
	defer srv.Close()

	tl := NewTimeline(nil)
	var mu sync.Mutex
	var states []ConnState
	client := NewLiveClient(Config{BaseURL: srv.URL, ContactID: 42, Logger: slog.New(slog.DiscardHandler)},
		10*time.Millisecond, func(s ConnState) {
			mu.Lock()
			states = append(states, s)
			mu.Unlock()
		})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- client.Run(ctx, tl.AddAgent) }()

	hasID := func(id string) bool {
		for _, e := range tl.Entries() {
			if e.Message.ID == id {
				return true
			}
		}
		return false
	}
	require.Eventually(t, func() bool { return hasID("m3") }, 2*time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	ids := map[string]int{}
	for _, e := range tl.Entries() {
		ids[e.Message.ID]++
	}
	assert.Equal(t, 1, ids["m1"])
	assert.Equal(t, 1, ids["m2"])
	assert.Equal(t, 1, ids["m3"])
	assert.Equal(t, StateDisconnected, client.State())

	mu.Lock()
	defer mu.Unlock()
	assert.Contains(t, states, StateConnected)
	assert.Contains(t, states, StateConnecting)
}

func TestLiveClientRetriesOnErrorStatus(t *testing.T) {
	t.Parallel()

	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		http.Error(w, `{"error":"Invalid contact_id"}`, http.StatusBadRequest)
	}))
	defer srv.Close()

	client := NewLiveClient(Config{BaseURL: srv.URL, ContactID: 1, Logger: slog.New(slog.DiscardHandler)}, 5*time.Millisecond, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- client.Run(ctx, func(message.Message) {}) }()

	require.Eventually(t, func() bool { return attempts.Load() >= 3 }, 2*time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)
}
