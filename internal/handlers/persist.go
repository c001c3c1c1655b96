package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"

	"github.com/usebrk/beka-widget/internal/automation"
)

// PersistService forwards user messages to the contact-persistence webhook.
type PersistService interface {
	PersistMessage(ctx context.Context, req automation.PersistRequest) (automation.WebhookResult, error)
}

type PersistHandler struct {
	service PersistService
	logger  *slog.Logger
}

func NewPersistHandler(log *slog.Logger, service PersistService) *PersistHandler {
	return &PersistHandler{service: service, logger: log.With(slog.String("handler", "persist_message"))}
}

func (h *PersistHandler) Register(e *echo.Echo) {
	e.POST("/api/persist-message", h.Persist)
}

type persistRequest struct {
	Message   string      `json:"message" validate:"required"`
	ContactID json.Number `json:"contact_id" validate:"required"`
}

// PersistResponse mirrors the persistence webhook outcome.
type PersistResponse struct {
	Success         bool            `json:"success"`
	Message         string          `json:"message,omitempty"`
	WebhookResponse json.RawMessage `json:"webhookResponse,omitempty"`
	Error           string          `json:"error,omitempty"`
}

// Persist godoc
// @Summary Persist a user message
// @Description Records the user message against the support-platform contact.
// @Tags chatwoot
// @Accept json
// @Produce json
// @Success 200 {object} PersistResponse
// @Failure 400 {object} PersistResponse
// @Failure 500 {object} PersistResponse
// @Router /api/persist-message [post]
func (h *PersistHandler) Persist(c echo.Context) error {
	var req persistRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, PersistResponse{Error: invalidMessageError})
	}
	if err := c.Validate(&req); err != nil {
		return c.JSON(http.StatusBadRequest, PersistResponse{Error: persistValidationError(err)})
	}
	contactID, err := strconv.ParseInt(req.ContactID.String(), 10, 64)
	if err != nil || contactID <= 0 {
		return c.JSON(http.StatusBadRequest, PersistResponse{Error: "contact_id inválido"})
	}
	if h.service == nil {
		return c.JSON(http.StatusInternalServerError, PersistResponse{Error: "Erro ao persistir mensagem"})
	}

	result, err := h.service.PersistMessage(c.Request().Context(), automation.PersistRequest{
		Message:   req.Message,
		ContactID: contactID,
	})
	if err != nil {
		h.logger.Error("persist message failed", slog.Int64("contact_id", contactID), slog.Any("error", err))
		return c.JSON(http.StatusInternalServerError, PersistResponse{Error: "Erro ao persistir mensagem"})
	}
	return c.JSON(http.StatusOK, PersistResponse{
		Success:         result.OK,
		Message:         "Mensagem persistida",
		WebhookResponse: result.Body,
	})
}

func persistValidationError(err error) string {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		for _, fe := range verrs {
			if fe.Field() == "ContactID" {
				return "contact_id não fornecido"
			}
		}
	}
	return invalidMessageError
}
