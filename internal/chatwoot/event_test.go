package chatwoot

import (
	"errors"
	"testing"
)

func TestDecodeEventEnvelopes(t *testing.T) {
	t.Parallel()

	event := `{"event":"message_created","id":901,"message_type":"outgoing","content":"oi","sender":{"id":7,"name":"Ana"},"conversation":{"contact_inbox":{"contact_id":42}}}`
	cases := map[string]string{
		"bare":          event,
		"wrapped":       `{"body":` + event + `}`,
		"array wrapped": `[{"body":` + event + `,"headers":{}}]`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			ev, err := DecodeEvent([]byte(body))
			if err != nil {
				t.Fatalf("decode: %v", err)
			}
			if ev.Name != EventMessageCreated || ev.MessageID != "901" || ev.ContactID != 42 {
				t.Fatalf("unexpected event: %+v", ev)
			}
			if ev.MessageType != MessageTypeOutgoing || ev.Content != "oi" || ev.SenderName != "Ana" {
				t.Fatalf("unexpected event fields: %+v", ev)
			}
		})
	}
}

func TestDecodeEventRejectsGarbage(t *testing.T) {
	t.Parallel()

	for _, body := range []string{"", "null", "[]", `[{"headers":{}}]`, `"text"`, `{"event":`} {
		if _, err := DecodeEvent([]byte(body)); !errors.Is(err, ErrInvalidPayload) {
			t.Fatalf("body %q: expected ErrInvalidPayload, got %v", body, err)
		}
	}
}

func TestDecodeEventContactPrecedence(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		body string
		want int64
	}{
		{name: "contact inbox wins", body: `{"conversation":{"contact_inbox":{"contact_id":1}},"sender":{"id":2},"sender_id":3}`, want: 1},
		{name: "sender next", body: `{"conversation":{},"sender":{"id":2},"sender_id":3}`, want: 2},
		{name: "sender_id last", body: `{"sender_id":"3"}`, want: 3},
		{name: "zero skipped", body: `{"conversation":{"contact_inbox":{"contact_id":0}},"sender":{"id":"5"}}`, want: 5},
		{name: "none", body: `{"sender":{"name":"x"}}`, want: 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			ev, err := DecodeEvent([]byte(tc.body))
			if err != nil {
				t.Fatalf("decode: %v", err)
			}
			if ev.ContactID != tc.want {
				t.Fatalf("contact id = %d, want %d", ev.ContactID, tc.want)
			}
		})
	}
}

func TestDecodeEventFieldVariants(t *testing.T) {
	t.Parallel()

	ev, err := DecodeEvent([]byte(`{"source_id":"src-1","message_type":1,"content":{"answer":"x"},"sender":{"available_name":"Bia"}}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if ev.MessageID != "src-1" {
		t.Fatalf("expected source id fallback, got %q", ev.MessageID)
	}
	if ev.MessageType != MessageTypeOutgoing {
		t.Fatalf("expected numeric outgoing type, got %q", ev.MessageType)
	}
	if ev.Content != `{"answer":"x"}` {
		t.Fatalf("expected raw object content, got %q", ev.Content)
	}
	if ev.SenderName != "Bia" {
		t.Fatalf("expected available_name fallback, got %q", ev.SenderName)
	}
}
