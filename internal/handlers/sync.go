package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/usebrk/beka-widget/internal/automation"
)

// SyncService forwards storefront session payloads.
type SyncService interface {
	SyncConfigured() bool
	SyncSession(ctx context.Context, payload any) (automation.WebhookResult, error)
}

type SyncHandler struct {
	service SyncService
	now     func() time.Time
	logger  *slog.Logger
}

func NewSyncHandler(log *slog.Logger, service SyncService) *SyncHandler {
	return &SyncHandler{service: service, now: time.Now, logger: log.With(slog.String("handler", "shopify_sync"))}
}

func (h *SyncHandler) Register(e *echo.Echo) {
	e.POST("/api/shopify-sync", h.Sync)
}

// isoMillis matches the timestamp format browsers produce.
const isoMillis = "2006-01-02T15:04:05.000Z07:00"

type syncRequest struct {
	Timestamp json.RawMessage `json:"timestamp,omitempty"`
	Source    string          `json:"source,omitempty"`
	Data      json.RawMessage `json:"data" validate:"required"`
}

type storefrontSummary struct {
	Shop     string `json:"shop"`
	Customer *struct {
		ID   json.RawMessage `json:"id"`
		Name string          `json:"name"`
	} `json:"customer"`
	Cart *struct {
		ItemCount int `json:"item_count"`
	} `json:"cart"`
	Product json.RawMessage `json:"product"`
}

// SyncResponse acknowledges a storefront session payload.
type SyncResponse struct {
	Success         bool            `json:"success"`
	Message         string          `json:"message"`
	ReceivedAt      string          `json:"receivedAt"`
	WebhookResponse json.RawMessage `json:"webhookResponse,omitempty"`
}

// Sync godoc
// @Summary Sync storefront session data
// @Description Accepts the storefront session snapshot captured by the widget.
// @Tags shopify
// @Accept json
// @Produce json
// @Success 200 {object} SyncResponse
// @Failure 400 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Router /api/shopify-sync [post]
func (h *SyncHandler) Sync(c echo.Context) error {
	var req syncRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Dados da Shopify não fornecidos"})
	}
	req.Data = optionalJSON(req.Data)
	if err := c.Validate(&req); err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Dados da Shopify não fornecidos"})
	}
	h.logSummary(req)

	resp := SyncResponse{
		Success:    true,
		Message:    "Dados da Shopify sincronizados com sucesso",
		ReceivedAt: h.now().UTC().Format(isoMillis),
	}
	if h.service == nil || !h.service.SyncConfigured() {
		return c.JSON(http.StatusOK, resp)
	}

	result, err := h.service.SyncSession(c.Request().Context(), req)
	if err != nil {
		h.logger.Error("sync forward failed", slog.Any("error", err))
		return c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Erro ao processar dados da Shopify"})
	}
	resp.Success = result.OK
	resp.WebhookResponse = result.Body
	return c.JSON(http.StatusOK, resp)
}

func (h *SyncHandler) logSummary(req syncRequest) {
	var summary storefrontSummary
	if err := json.Unmarshal(req.Data, &summary); err != nil {
		h.logger.Info("storefront data received", slog.String("source", req.Source))
		return
	}
	customer := "Visitante"
	if summary.Customer != nil {
		if id := bytes.Trim(bytes.TrimSpace(summary.Customer.ID), `"`); len(id) > 0 && string(id) != "null" {
			customer = string(id)
		} else if summary.Customer.Name != "" {
			customer = summary.Customer.Name
		}
	}
	items := 0
	if summary.Cart != nil {
		items = summary.Cart.ItemCount
	}
	h.logger.Info("storefront data received",
		slog.String("source", req.Source),
		slog.String("shop", summary.Shop),
		slog.String("customer", customer),
		slog.Int("cart_items", items),
		slog.Bool("has_product", len(optionalJSON(summary.Product)) > 0),
	)
}
