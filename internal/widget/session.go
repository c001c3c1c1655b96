package widget

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/usebrk/beka-widget/internal/message"
)

// ErrSendFailed is returned when the direct chat call fails. The failure
// message has already been appended to the timeline.
var ErrSendFailed = errors.New("widget: send failed")

const (
	DefaultAnswerKey      = "Beka"
	DefaultLabelKey       = "ButtonLabel"
	DefaultFailureMessage = "Não foi possível conectar com o assistente. Tente novamente."
)

// Session sends user messages and records both sides in the timeline.
type Session struct {
	cfg            Config
	timeline       *Timeline
	answerKey      string
	labelKey       string
	failureMessage string
	storefront     json.RawMessage
	now            func() time.Time
	newID          func() string
	logger         *slog.Logger
}

// SessionOption configures a Session.
type SessionOption func(*Session)

// WithReplyKeys sets the field names of the chat reply.
func WithReplyKeys(answer, label string) SessionOption {
	return func(s *Session) {
		if answer = strings.TrimSpace(answer); answer != "" {
			s.answerKey = answer
		}
		if label = strings.TrimSpace(label); label != "" {
			s.labelKey = label
		}
	}
}

// WithStorefrontData attaches the storefront snapshot sent with every message.
func WithStorefrontData(data json.RawMessage) SessionOption {
	return func(s *Session) {
		s.storefront = data
	}
}

func NewSession(cfg Config, timeline *Timeline, opts ...SessionOption) *Session {
	cfg = cfg.withDefaults()
	if timeline == nil {
		timeline = NewTimeline(nil)
	}
	s := &Session{
		cfg:            cfg,
		timeline:       timeline,
		answerKey:      DefaultAnswerKey,
		labelKey:       DefaultLabelKey,
		failureMessage: DefaultFailureMessage,
		now:            time.Now,
		newID:          uuid.NewString,
		logger:         cfg.Logger.With(slog.String("component", "session")),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Session) Timeline() *Timeline {
	return s.timeline
}

type chatPayload struct {
	Message     string          `json:"message"`
	ShopifyData json.RawMessage `json:"shopifyData,omitempty"`
}

type persistPayload struct {
	Message   string `json:"message"`
	ContactID int64  `json:"contact_id"`
}

// Send appends text to the timeline right away, then asks the assistant and
// appends its reply. When a contact is known the message is also persisted.
func (s *Session) Send(ctx context.Context, text string) (message.Message, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return message.Message{}, fmt.Errorf("%w: empty message", ErrSendFailed)
	}
	s.timeline.Add(RoleUser, s.newMessage(message.TextContent(text), nil))

	if s.cfg.ContactID > 0 {
		err := postJSON(ctx, s.cfg.HTTPClient, s.cfg.BaseURL+"/api/persist-message",
			persistPayload{Message: text, ContactID: s.cfg.ContactID}, nil)
		if err != nil {
			s.logger.Warn("persist message failed", slog.Int64("contact_id", s.cfg.ContactID), slog.Any("error", err))
		}
	}

	var reply map[string]json.RawMessage
	err := postJSON(ctx, s.cfg.HTTPClient, s.cfg.BaseURL+"/api/chat",
		chatPayload{Message: text, ShopifyData: s.storefront}, &reply)
	if err != nil {
		s.logger.Error("chat request failed", slog.Any("error", err))
		s.timeline.Add(RoleAssistant, s.newMessage(message.TextContent(s.failureMessage), nil))
		return message.Message{}, fmt.Errorf("%w: %w", ErrSendFailed, err)
	}

	var content message.Content
	if raw, ok := reply[s.answerKey]; ok {
		if err := json.Unmarshal(raw, &content); err != nil {
			content = message.TextContent(strings.TrimSpace(string(raw)))
		}
	}
	if content.IsEmpty() {
		s.logger.Warn("chat reply has no answer", slog.String("key", s.answerKey))
		s.timeline.Add(RoleAssistant, s.newMessage(message.TextContent(s.failureMessage), nil))
		return message.Message{}, fmt.Errorf("%w: reply has no %q", ErrSendFailed, s.answerKey)
	}
	var labels []string
	if raw, ok := reply[s.labelKey]; ok {
		if err := json.Unmarshal(raw, &labels); err != nil {
			s.logger.Warn("ignoring malformed button labels", slog.String("key", s.labelKey), slog.Any("error", err))
			labels = nil
		}
	}
	msg := s.newMessage(content, labels)
	s.timeline.Add(RoleAssistant, msg)
	return msg, nil
}

func (s *Session) newMessage(content message.Content, labels []string) message.Message {
	return message.Message{
		ID:           s.newID(),
		Content:      content,
		Timestamp:    s.now().UnixMilli(),
		ButtonLabels: labels,
	}
}
