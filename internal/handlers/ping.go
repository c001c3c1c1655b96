package handlers

import (
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/usebrk/beka-widget/internal/healthcheck"
)

type PingHandler struct {
	checkers []healthcheck.Checker
	logger   *slog.Logger
}

func NewPingHandler(log *slog.Logger, checkers ...healthcheck.Checker) *PingHandler {
	return &PingHandler{checkers: checkers, logger: log.With(slog.String("handler", "ping"))}
}

func (h *PingHandler) Register(e *echo.Echo) {
	e.GET("/ping", h.Ping)
	e.HEAD("/health", h.PingHead)
	e.GET("/health", h.Health)
}

func (h *PingHandler) Ping(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status": "ok",
	})
}

func (h *PingHandler) PingHead(c echo.Context) error {
	return c.NoContent(http.StatusOK)
}

// Health godoc
// @Summary Runtime health report
// @Tags health
// @Produce json
// @Success 200 {object} healthcheck.Report
// @Failure 503 {object} healthcheck.Report
// @Router /health [get]
func (h *PingHandler) Health(c echo.Context) error {
	report := healthcheck.Evaluate(c.Request().Context(), h.checkers...)
	status := http.StatusOK
	if report.Status == healthcheck.StatusError {
		status = http.StatusServiceUnavailable
		h.logger.Warn("health check failed", slog.Int("checks", len(report.Checks)))
	}
	return c.JSON(status, report)
}
