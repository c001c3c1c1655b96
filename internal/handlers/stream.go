package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/usebrk/beka-widget/internal/delivery"
)

// LiveDelivery runs live sessions for connected clients.
type LiveDelivery interface {
	Serve(ctx context.Context, contactID int64, transport delivery.Transport, sender delivery.Sender) error
}

// StreamHandler serves the live delivery channel over SSE and WebSocket.
type StreamHandler struct {
	live     LiveDelivery
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

func NewStreamHandler(log *slog.Logger, live LiveDelivery, allowedOrigins []string) *StreamHandler {
	return &StreamHandler{
		live: live,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(allowedOrigins),
		},
		logger: log.With(slog.String("handler", "stream")),
	}
}

func (h *StreamHandler) Register(e *echo.Echo) {
	e.GET("/api/chatwoot-sse", h.StreamSSE)
	e.GET("/api/chatwoot-ws", h.StreamWS)
}

// StreamSSE godoc
// @Summary Live agent messages (SSE)
// @Description Drains pending agent messages for the contact, then streams new ones as server-sent events.
// @Tags chatwoot
// @Produce text/event-stream
// @Param contact_id query int true "Support platform contact id"
// @Failure 400 {object} ErrorResponse
// @Router /api/chatwoot-sse [get]
func (h *StreamHandler) StreamSSE(c echo.Context) error {
	contactID, problem := contactIDParam(c)
	if problem != "" {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: problem})
	}
	if h.live == nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "live delivery not configured")
	}
	sender, err := delivery.NewSSESender(c.Response())
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "streaming not supported")
	}
	h.serve(c.Request().Context(), contactID, delivery.TransportSSE, sender)
	return nil
}

// StreamWS serves the same session over a WebSocket.
func (h *StreamHandler) StreamWS(c echo.Context) error {
	contactID, problem := contactIDParam(c)
	if problem != "" {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: problem})
	}
	if h.live == nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "live delivery not configured")
	}
	conn, err := h.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", slog.Any("error", err))
		return nil
	}
	sender := delivery.NewWSSender(conn)
	defer sender.Close()

	h.serve(sender.Watch(c.Request().Context()), contactID, delivery.TransportWebSocket, sender)
	return nil
}

func (h *StreamHandler) serve(ctx context.Context, contactID int64, transport delivery.Transport, sender delivery.Sender) {
	err := h.live.Serve(ctx, contactID, transport, sender)
	switch {
	case err == nil:
	case errors.Is(err, delivery.ErrShuttingDown):
		h.logger.Info("live session refused during shutdown", slog.Int64("contact_id", contactID))
	default:
		h.logger.Debug("live session ended", slog.Int64("contact_id", contactID), slog.Any("error", err))
	}
}

// contactIDParam reads the contact_id query parameter. On failure it returns
// the client-facing problem.
func contactIDParam(c echo.Context) (int64, string) {
	raw := strings.TrimSpace(c.QueryParam("contact_id"))
	if raw == "" {
		return 0, "contact_id is required"
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, "Invalid contact_id"
	}
	return id, ""
}

// originChecker allows every origin when none are configured.
func originChecker(allowed []string) func(*http.Request) bool {
	if len(allowed) == 0 {
		return func(*http.Request) bool { return true }
	}
	set := make(map[string]struct{}, len(allowed))
	for _, origin := range allowed {
		if origin == "*" {
			return func(*http.Request) bool { return true }
		}
		set[strings.TrimRight(strings.ToLower(origin), "/")] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		u, err := url.Parse(origin)
		if err != nil {
			return false
		}
		_, ok := set[strings.ToLower(u.Scheme+"://"+u.Host)]
		return ok
	}
}
