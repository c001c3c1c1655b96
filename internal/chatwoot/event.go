// Package chatwoot decodes support-platform webhook events and turns outgoing
// agent messages into canonical messages for the conversation store.
package chatwoot

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrInvalidPayload reports a webhook body that carries no decodable event.
var ErrInvalidPayload = errors.New("chatwoot: invalid payload")

const (
	EventMessageCreated = "message_created"

	MessageTypeIncoming = "incoming"
	MessageTypeOutgoing = "outgoing"
	MessageTypeActivity = "activity"
	MessageTypeTemplate = "template"
)

// Event is the subset of a support-platform event the widget cares about.
type Event struct {
	Name        string
	MessageID   string
	MessageType string
	Content     string
	ContactID   int64
	SenderName  string
}

// HasContact reports whether a contact id was resolved.
func (e Event) HasContact() bool {
	return e.ContactID > 0
}

type rawEvent struct {
	Event        string           `json:"event"`
	ID           json.RawMessage  `json:"id"`
	SourceID     json.RawMessage  `json:"source_id"`
	Content      json.RawMessage  `json:"content"`
	MessageType  json.RawMessage  `json:"message_type"`
	SenderID     json.RawMessage  `json:"sender_id"`
	Sender       *rawSender       `json:"sender"`
	Conversation *rawConversation `json:"conversation"`
}

type rawSender struct {
	ID            json.RawMessage `json:"id"`
	Name          string          `json:"name"`
	AvailableName string          `json:"available_name"`
}

type rawConversation struct {
	ContactInbox *struct {
		ContactID json.RawMessage `json:"contact_id"`
	} `json:"contact_inbox"`
}

// DecodeEvent unwraps the webhook envelope and decodes the inner event.
// Accepted envelopes: `[{"body": {...}}]`, `{"body": {...}}` and the bare
// event object.
func DecodeEvent(body []byte) (Event, error) {
	inner, err := unwrapEnvelope(body)
	if err != nil {
		return Event{}, err
	}
	var raw rawEvent
	if err := json.Unmarshal(inner, &raw); err != nil {
		return Event{}, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}

	ev := Event{
		Name:        strings.TrimSpace(raw.Event),
		MessageType: messageType(raw.MessageType),
		Content:     contentText(raw.Content),
		MessageID:   firstNonEmpty(scalarString(raw.ID), scalarString(raw.SourceID)),
	}
	if raw.Sender != nil {
		ev.SenderName = firstNonEmpty(strings.TrimSpace(raw.Sender.Name), strings.TrimSpace(raw.Sender.AvailableName))
	}
	ev.ContactID = resolveContactID(raw)
	return ev, nil
}

func unwrapEnvelope(body []byte) (json.RawMessage, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("%w: empty body", ErrInvalidPayload)
	}
	switch trimmed[0] {
	case '[':
		var items []map[string]json.RawMessage
		if err := json.Unmarshal(trimmed, &items); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
		}
		if len(items) == 0 {
			return nil, fmt.Errorf("%w: empty event list", ErrInvalidPayload)
		}
		inner, ok := items[0]["body"]
		if !ok || !isObject(inner) {
			return nil, fmt.Errorf("%w: first element has no body", ErrInvalidPayload)
		}
		return inner, nil
	case '{':
		var obj map[string]json.RawMessage
		if err := json.Unmarshal(trimmed, &obj); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
		}
		if inner, ok := obj["body"]; ok && isObject(inner) {
			return inner, nil
		}
		return json.RawMessage(trimmed), nil
	default:
		return nil, fmt.Errorf("%w: expected object or list", ErrInvalidPayload)
	}
}

// resolveContactID checks the conversation's contact inbox, then the
// sender, then the top-level sender_id.
func resolveContactID(raw rawEvent) int64 {
	var candidates []json.RawMessage
	if raw.Conversation != nil && raw.Conversation.ContactInbox != nil {
		candidates = append(candidates, raw.Conversation.ContactInbox.ContactID)
	}
	if raw.Sender != nil {
		candidates = append(candidates, raw.Sender.ID)
	}
	candidates = append(candidates, raw.SenderID)
	for _, candidate := range candidates {
		if id, ok := parseContactID(candidate); ok {
			return id
		}
	}
	return 0
}

func parseContactID(raw json.RawMessage) (int64, bool) {
	s := scalarString(raw)
	if s == "" {
		return 0, false
	}
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

// messageType accepts both the string and the numeric enum encodings.
func messageType(raw json.RawMessage) string {
	s := scalarString(raw)
	switch s {
	case "0":
		return MessageTypeIncoming
	case "1":
		return MessageTypeOutgoing
	case "2":
		return MessageTypeActivity
	case "3":
		return MessageTypeTemplate
	default:
		return strings.ToLower(s)
	}
}

// contentText returns string content as is and any other JSON value as its
// raw encoding so the normalizer can still interpret it.
func contentText(raw json.RawMessage) string {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return ""
	}
	var s string
	if err := json.Unmarshal(trimmed, &s); err == nil {
		return s
	}
	return string(trimmed)
}

func scalarString(raw json.RawMessage) string {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return ""
	}
	var s string
	if err := json.Unmarshal(trimmed, &s); err == nil {
		return strings.TrimSpace(s)
	}
	var n json.Number
	if err := json.Unmarshal(trimmed, &n); err == nil {
		return n.String()
	}
	return ""
}

func isObject(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) > 0 && trimmed[0] == '{'
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
