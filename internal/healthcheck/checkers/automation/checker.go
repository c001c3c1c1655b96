package automationchecker

import (
	"context"
	"log/slog"

	"github.com/usebrk/beka-widget/internal/healthcheck"
)

const (
	checkTypeChat    = "automation.chat"
	checkTypePersist = "automation.persist"
	checkTypeSync    = "automation.sync"
)

// Endpoints reports which workflow engine endpoints are configured.
type Endpoints interface {
	ChatConfigured() bool
	PersistConfigured() bool
	SyncConfigured() bool
}

// Checker reports automation engine configuration.
type Checker struct {
	logger    *slog.Logger
	endpoints Endpoints
}

// NewChecker creates an automation configuration checker.
func NewChecker(log *slog.Logger, endpoints Endpoints) *Checker {
	if log == nil {
		log = slog.Default()
	}
	return &Checker{
		logger:    log.With(slog.String("checker", "healthcheck_automation")),
		endpoints: endpoints,
	}
}

// ListChecks never calls the remote endpoints; it only inspects configuration.
func (c *Checker) ListChecks(ctx context.Context) []healthcheck.CheckResult {
	if err := ctx.Err(); err != nil {
		return []healthcheck.CheckResult{}
	}
	if c.endpoints == nil {
		c.logger.Warn("automation healthcheck dependency is unavailable")
		return []healthcheck.CheckResult{{
			ID:      checkTypeChat + ".service",
			Type:    checkTypeChat,
			Status:  healthcheck.StatusWarn,
			Summary: "Automation checker service is not available.",
		}}
	}

	chat := healthcheck.CheckResult{
		ID:      checkTypeChat,
		Type:    checkTypeChat,
		Status:  healthcheck.StatusOK,
		Summary: "Chat endpoint and token are configured.",
	}
	if !c.endpoints.ChatConfigured() {
		chat.Status = healthcheck.StatusError
		chat.Summary = "Chat endpoint or token is missing."
		chat.Detail = "set BEKA_API_URL and BEKA_API_TOKEN"
	}

	persist := healthcheck.CheckResult{
		ID:      checkTypePersist,
		Type:    checkTypePersist,
		Status:  healthcheck.StatusOK,
		Summary: "Contact persistence webhook is configured.",
	}
	if !c.endpoints.PersistConfigured() {
		persist.Status = healthcheck.StatusWarn
		persist.Summary = "Contact persistence webhook is not configured."
	}

	sync := healthcheck.CheckResult{
		ID:      checkTypeSync,
		Type:    checkTypeSync,
		Status:  healthcheck.StatusOK,
		Summary: "Storefront sync payloads are forwarded.",
	}
	if !c.endpoints.SyncConfigured() {
		sync.Summary = "Storefront sync payloads are acknowledged locally."
	}

	return []healthcheck.CheckResult{chat, persist, sync}
}
