package widget

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/usebrk/beka-widget/internal/message"
)

func newTestSession(t *testing.T, baseURL string, contactID int64, tl *Timeline, opts ...SessionOption) *Session {
	t.Helper()
	s := NewSession(Config{BaseURL: baseURL, ContactID: contactID, Logger: slog.New(slog.DiscardHandler)}, tl, opts...)
	seq := 0
	s.newID = func() string {
		seq++
		return fmt.Sprintf("local-%d", seq)
	}
	s.now = func() time.Time { return time.UnixMilli(1_700_000_000_000) }
	return s
}

func TestSessionSendAppendsOptimisticallyAndPersists(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	var paths []string
	var persisted map[string]any
	var sawUserBeforeReply bool
	tl := NewTimeline(nil)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		paths = append(paths, r.URL.Path)
		switch r.URL.Path {
		case "/api/persist-message":
			_ = json.NewDecoder(r.Body).Decode(&persisted)
			_, _ = w.Write([]byte(`{"success":true,"message":"Mensagem persistida"}`))
		case "/api/chat":
			var body chatPayload
			_ = json.NewDecoder(r.Body).Decode(&body)
			assert.Equal(t, "quero adubo", body.Message)
			assert.JSONEq(t, `{"shop":"loja"}`, string(body.ShopifyData))
			sawUserBeforeReply = tl.Len() == 1
			_, _ = w.Write([]byte(`{"Beka":[{"title":"Fertilizante X","price":"R$ 49,90","handle":"fert-x"}],"ButtonLabel":["Comprar"]}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	s := newTestSession(t, srv.URL, 42, tl, WithStorefrontData(json.RawMessage(`{"shop":"loja"}`)))
	reply, err := s.Send(context.Background(), "  quero adubo ")
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	assert.True(t, sawUserBeforeReply)
	assert.Equal(t, []string{"/api/persist-message", "/api/chat"}, paths)
	assert.Equal(t, map[string]any{"message": "quero adubo", "contact_id": float64(42)}, persisted)

	require.Equal(t, message.KindProducts, reply.Content.Kind)
	require.Len(t, reply.Content.Products, 1)
	assert.Equal(t, "Fertilizante X", reply.Content.Products[0].Title)
	assert.Equal(t, []string{"Comprar"}, reply.ButtonLabels)

	entries := s.Timeline().Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, RoleUser, entries[0].Role)
	assert.Equal(t, "quero adubo", entries[0].Message.Content.Text)
	assert.Equal(t, RoleAssistant, entries[1].Role)
	assert.Equal(t, "local-2", entries[1].Message.ID)
}

func TestSessionSkipsPersistWithoutContact(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	var paths []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		paths = append(paths, r.URL.Path)
		mu.Unlock()
		_, _ = w.Write([]byte(`{"Beka":"Olá!"}`))
	}))
	defer srv.Close()

	s := newTestSession(t, srv.URL, 0, nil)
	reply, err := s.Send(context.Background(), "oi")
	require.NoError(t, err)
	mu.Lock()
	assert.Equal(t, []string{"/api/chat"}, paths)
	mu.Unlock()
	assert.Equal(t, "Olá!", reply.Content.Text)
	assert.Empty(t, reply.ButtonLabels)
}

func TestSessionSendFailureAppendsRetryMessage(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"Não foi possível conectar com o assistente. Tente novamente."}`))
	}))
	defer srv.Close()

	s := newTestSession(t, srv.URL, 0, nil)
	_, err := s.Send(context.Background(), "oi")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrSendFailed))

	entries := s.Timeline().Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, RoleUser, entries[0].Role)
	assert.Equal(t, DefaultFailureMessage, entries[1].Message.Content.Text)
}

func TestSessionRejectsEmptyMessage(t *testing.T) {
	t.Parallel()

	s := newTestSession(t, "http://127.0.0.1:0", 0, nil)
	_, err := s.Send(context.Background(), "   ")
	require.ErrorIs(t, err, ErrSendFailed)
	assert.Zero(t, s.Timeline().Len())
}

func TestSessionReplyWithoutAnswerAppendsFailureMessage(t *testing.T) {
	t.Parallel()

	for name, body := range map[string]string{
		"null answer":    `{"Beka":null}`,
		"missing answer": `{"other":"x"}`,
		"blank answer":   `{"Beka":"  "}`,
	} {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(body))
			}))
			defer srv.Close()

			s := newTestSession(t, srv.URL, 0, nil)
			_, err := s.Send(context.Background(), "oi")
			require.ErrorIs(t, err, ErrSendFailed)

			entries := s.Timeline().Entries()
			require.Len(t, entries, 2)
			assert.Equal(t, RoleAssistant, entries[1].Role)
			assert.Equal(t, DefaultFailureMessage, entries[1].Message.Content.Text)
		})
	}
}

func TestSessionIgnoresMalformedLabels(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"Beka":"Olá!","ButtonLabel":"Comprar"}`))
	}))
	defer srv.Close()

	s := newTestSession(t, srv.URL, 0, nil)
	reply, err := s.Send(context.Background(), "oi")
	require.NoError(t, err)
	assert.Equal(t, "Olá!", reply.Content.Text)
	assert.Nil(t, reply.ButtonLabels)
}
