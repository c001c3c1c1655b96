package handlers

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/usebrk/beka-widget/internal/chatwoot"
	"github.com/usebrk/beka-widget/internal/message"
	"github.com/usebrk/beka-widget/internal/metrics"
)

const webhookMaxBodyBytes int64 = 1 << 20 // 1 MiB

// PendingDrainer hands out and clears a contact's backlog in one step.
type PendingDrainer interface {
	Drain(contactID int64) []message.Message
}

// IngressService handles raw support-platform webhook bodies.
type IngressService interface {
	Handle(ctx context.Context, body []byte) chatwoot.Ack
}

// WebhookHandler serves the support-platform webhook and the pull channel on
// the same path.
type WebhookHandler struct {
	backlog PendingDrainer
	ingress IngressService
	metrics *metrics.Metrics
	logger  *slog.Logger
}

func NewWebhookHandler(log *slog.Logger, backlog PendingDrainer, ingress IngressService, m *metrics.Metrics) *WebhookHandler {
	return &WebhookHandler{
		backlog: backlog,
		ingress: ingress,
		metrics: m,
		logger:  log.With(slog.String("handler", "chatwoot_webhook")),
	}
}

func (h *WebhookHandler) Register(e *echo.Echo) {
	e.GET("/api/chatwoot-webhook", h.Poll)
	e.POST("/api/chatwoot-webhook", h.Receive)
}

// PollResponse is the pull channel reply.
type PollResponse struct {
	Success  bool              `json:"success"`
	Messages []message.Message `json:"messages"`
	Count    int               `json:"count"`
}

// Poll godoc
// @Summary Pull pending agent messages
// @Description Returns and clears the pending messages for the contact.
// @Tags chatwoot
// @Produce json
// @Param contact_id query int true "Support platform contact id"
// @Success 200 {object} PollResponse
// @Failure 400 {object} ErrorResponse
// @Router /api/chatwoot-webhook [get]
func (h *WebhookHandler) Poll(c echo.Context) error {
	contactID, problem := contactIDParam(c)
	if problem != "" {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: problem})
	}
	if h.backlog == nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "message store not configured")
	}
	messages := h.backlog.Drain(contactID)
	if messages == nil {
		messages = []message.Message{}
	}
	if len(messages) > 0 {
		h.metrics.Delivered("poll", len(messages))
		h.logger.Info("pending messages pulled", slog.Int64("contact_id", contactID), slog.Int("count", len(messages)))
	}
	return c.JSON(http.StatusOK, PollResponse{Success: true, Messages: messages, Count: len(messages)})
}

// Receive godoc
// @Summary Support platform webhook
// @Description Stores outgoing agent messages for delivery to the widget.
// @Tags chatwoot
// @Accept json
// @Produce json
// @Success 200 {object} chatwoot.Ack
// @Failure 400 {object} chatwoot.Ack
// @Router /api/chatwoot-webhook [post]
func (h *WebhookHandler) Receive(c echo.Context) error {
	if h.ingress == nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "ingress not configured")
	}
	payload, err := io.ReadAll(io.LimitReader(c.Request().Body, webhookMaxBodyBytes+1))
	if err != nil {
		return c.JSON(http.StatusBadRequest, chatwoot.Ack{Error: fmt.Sprintf("read body: %v", err)})
	}
	if int64(len(payload)) > webhookMaxBodyBytes {
		return c.JSON(http.StatusRequestEntityTooLarge, chatwoot.Ack{Error: fmt.Sprintf("payload too large: max %d bytes", webhookMaxBodyBytes)})
	}
	ack := h.ingress.Handle(c.Request().Context(), payload)
	status := ack.Status
	if status == 0 {
		status = http.StatusOK
	}
	return c.JSON(status, ack)
}
