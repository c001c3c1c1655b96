package chatwoot

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/usebrk/beka-widget/internal/message"
	"github.com/usebrk/beka-widget/internal/metrics"
	"github.com/usebrk/beka-widget/internal/normalize"
)

// DefaultSenderName labels agent messages whose sender has no name.
const DefaultSenderName = "Agente"

// Ignore reasons reported in acknowledgments.
const (
	ReasonUnsupportedEvent = "unsupported_event"
	ReasonIncomingMessage  = "incoming_message"
)

// MessageSink receives canonical messages keyed by contact id.
type MessageSink interface {
	Add(contactID int64, msg message.Message) bool
}

// Ack is the acknowledgment returned to the webhook caller.
type Ack struct {
	Status    int    `json:"-"`
	Success   bool   `json:"success"`
	Ignored   bool   `json:"ignored,omitempty"`
	Reason    string `json:"reason,omitempty"`
	MessageID string `json:"message_id,omitempty"`
	ContactID int64  `json:"contact_id,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Ingress filters webhook events and stores outgoing agent messages.
type Ingress struct {
	sink          MessageSink
	normalizer    *normalize.Normalizer
	defaultSender string
	metrics       *metrics.Metrics
	logger        *slog.Logger
	now           func() time.Time
	newID         func() string
}

// IngressOption configures an Ingress.
type IngressOption func(*Ingress)

// WithDefaultSenderName overrides the fallback sender label.
func WithDefaultSenderName(name string) IngressOption {
	return func(in *Ingress) {
		if name = strings.TrimSpace(name); name != "" {
			in.defaultSender = name
		}
	}
}

// WithMetrics records one outcome per handled event.
func WithMetrics(m *metrics.Metrics) IngressOption {
	return func(in *Ingress) { in.metrics = m }
}

// WithClock overrides the ingestion clock.
func WithClock(now func() time.Time) IngressOption {
	return func(in *Ingress) {
		if now != nil {
			in.now = now
		}
	}
}

// NewIngress creates an Ingress writing to sink.
func NewIngress(log *slog.Logger, sink MessageSink, n *normalize.Normalizer, opts ...IngressOption) *Ingress {
	if log == nil {
		log = slog.Default()
	}
	if n == nil {
		n = normalize.New()
	}
	in := &Ingress{
		sink:          sink,
		normalizer:    n,
		defaultSender: DefaultSenderName,
		logger:        log.With(slog.String("service", "chatwoot_ingress")),
		now:           time.Now,
		newID:         uuid.NewString,
	}
	for _, opt := range opts {
		opt(in)
	}
	return in
}

// Handle processes one raw webhook body.
func (in *Ingress) Handle(ctx context.Context, body []byte) Ack {
	ev, err := DecodeEvent(body)
	if err != nil {
		in.logger.WarnContext(ctx, "webhook payload rejected", slog.Any("error", err))
		in.metrics.IngressEvent("invalid")
		return Ack{Status: http.StatusBadRequest, Error: "invalid payload"}
	}
	return in.HandleEvent(ctx, ev)
}

// HandleEvent applies the event filters and stores the resulting message.
func (in *Ingress) HandleEvent(ctx context.Context, ev Event) Ack {
	if ev.Name != EventMessageCreated {
		in.logger.DebugContext(ctx, "ignoring event", slog.String("event", ev.Name))
		in.metrics.IngressEvent("ignored_event")
		return Ack{Status: http.StatusOK, Success: true, Ignored: true, Reason: ReasonUnsupportedEvent}
	}
	if ev.MessageType != MessageTypeOutgoing {
		in.logger.DebugContext(ctx, "ignoring non-outgoing message",
			slog.String("message_type", ev.MessageType),
			slog.Int64("contact_id", ev.ContactID),
		)
		in.metrics.IngressEvent("ignored_incoming")
		return Ack{Status: http.StatusOK, Success: true, Ignored: true, Reason: ReasonIncomingMessage}
	}
	if !ev.HasContact() || strings.TrimSpace(ev.Content) == "" {
		in.logger.WarnContext(ctx, "webhook event missing data",
			slog.Int64("contact_id", ev.ContactID),
			slog.Bool("has_content", strings.TrimSpace(ev.Content) != ""),
		)
		in.metrics.IngressEvent("missing_data")
		return Ack{Status: http.StatusBadRequest, Error: "Missing contact_id or content"}
	}

	msg := in.buildMessage(ev)
	if in.sink == nil {
		in.metrics.IngressEvent("error")
		in.logger.ErrorContext(ctx, "no message sink configured")
		return Ack{Status: http.StatusInternalServerError, Error: "Internal server error"}
	}
	added := in.sink.Add(ev.ContactID, msg)
	if added {
		in.metrics.IngressEvent("stored")
	} else {
		in.metrics.IngressEvent("duplicate")
	}
	in.logger.InfoContext(ctx, "agent message received",
		slog.String("message_id", msg.ID),
		slog.Int64("contact_id", ev.ContactID),
		slog.String("kind", msg.Content.Kind.String()),
		slog.Bool("added", added),
	)
	return Ack{Status: http.StatusOK, Success: true, MessageID: msg.ID, ContactID: ev.ContactID}
}

func (in *Ingress) buildMessage(ev Event) message.Message {
	res := in.normalizer.Normalize(ev.Content)
	content := res.Content
	if content.IsEmpty() {
		content = message.TextContent(ev.Content)
	}
	id := ev.MessageID
	if id == "" {
		id = in.newID()
	}
	sender := ev.SenderName
	if sender == "" {
		sender = in.defaultSender
	}
	return message.Message{
		ID:           id,
		Content:      content,
		SenderName:   sender,
		Timestamp:    in.now().UnixMilli(),
		ButtonLabels: res.ButtonLabels,
	}
}
