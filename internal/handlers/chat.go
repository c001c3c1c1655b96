package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/usebrk/beka-widget/internal/automation"
	"github.com/usebrk/beka-widget/internal/message"
	"github.com/usebrk/beka-widget/internal/normalize"
)

const (
	invalidMessageError = "Mensagem inválida"
	configurationError  = "Server configuration error"
)

// ErrorResponse is the error body shared by the widget endpoints.
type ErrorResponse struct {
	Error string `json:"error"`
}

// ChatService sends user messages to the automation engine.
type ChatService interface {
	Chat(ctx context.Context, req automation.ChatRequest) (string, error)
}

type ChatHandler struct {
	service        ChatService
	normalizer     *normalize.Normalizer
	failureMessage string
	logger         *slog.Logger
}

func NewChatHandler(log *slog.Logger, service ChatService, normalizer *normalize.Normalizer, failureMessage string) *ChatHandler {
	if normalizer == nil {
		normalizer = normalize.New()
	}
	if strings.TrimSpace(failureMessage) == "" {
		failureMessage = "Não foi possível conectar com o assistente. Tente novamente."
	}
	return &ChatHandler{
		service:        service,
		normalizer:     normalizer,
		failureMessage: failureMessage,
		logger:         log.With(slog.String("handler", "chat")),
	}
}

func (h *ChatHandler) Register(e *echo.Echo) {
	e.POST("/api/chat", h.Chat)
}

type chatRequest struct {
	Message     json.RawMessage `json:"message"`
	ShopifyData json.RawMessage `json:"shopifyData"`
}

// Chat godoc
// @Summary Send a message to the assistant
// @Description Forwards the user message to the automation engine and returns the normalized reply.
// @Tags chat
// @Accept json
// @Produce json
// @Success 200 {object} map[string]any
// @Failure 400 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Router /api/chat [post]
func (h *ChatHandler) Chat(c echo.Context) error {
	var req chatRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: invalidMessageError})
	}
	text, ok := chatMessageText(req.Message)
	if !ok {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: invalidMessageError})
	}
	if h.service == nil {
		return c.JSON(http.StatusInternalServerError, ErrorResponse{Error: configurationError})
	}

	reply, err := h.service.Chat(c.Request().Context(), automation.ChatRequest{
		Message:     text,
		ShopifyData: optionalJSON(req.ShopifyData),
	})
	if err != nil {
		if errors.Is(err, automation.ErrNotConfigured) {
			return c.JSON(http.StatusInternalServerError, ErrorResponse{Error: configurationError})
		}
		h.logger.Error("chat failed", slog.Any("error", err))
		return c.JSON(http.StatusInternalServerError, ErrorResponse{Error: h.failureMessage})
	}

	res := h.normalizer.Normalize(reply)
	if res.Content.IsEmpty() && strings.TrimSpace(reply) != "" {
		res.Content = message.TextContent(reply)
	}
	body := map[string]any{h.normalizer.AnswerKey(): res.Content}
	if len(res.ButtonLabels) > 0 {
		body[h.normalizer.LabelKey()] = res.ButtonLabels
	}
	return c.JSON(http.StatusOK, body)
}

// chatMessageText accepts a non-empty string or a list of strings joined by
// newlines.
func chatMessageText(raw json.RawMessage) (string, bool) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return "", false
	}
	var text string
	if err := json.Unmarshal(raw, &text); err == nil {
		return text, strings.TrimSpace(text) != ""
	}
	var parts []string
	if err := json.Unmarshal(raw, &parts); err != nil {
		return "", false
	}
	text = strings.Join(parts, "\n")
	return text, strings.TrimSpace(text) != ""
}

func optionalJSON(raw json.RawMessage) json.RawMessage {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil
	}
	return raw
}
