package deliverychecker

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/usebrk/beka-widget/internal/healthcheck"
)

const (
	checkTypeStore = "delivery.store"
	checkTypeLive  = "delivery.live"

	// DefaultPendingWarnThreshold flags backlogs nobody is draining.
	DefaultPendingWarnThreshold = 1000
)

// StoreStats reads conversation store counters.
type StoreStats interface {
	Stats() (contacts, pending, listeners int)
}

// SessionCounter reads the number of open live sessions.
type SessionCounter interface {
	Active() int
}

// Checker reports backlog size and live session count.
type Checker struct {
	logger        *slog.Logger
	store         StoreStats
	sessions      SessionCounter
	warnThreshold int
}

// NewChecker creates a delivery checker.
func NewChecker(log *slog.Logger, store StoreStats, sessions SessionCounter) *Checker {
	if log == nil {
		log = slog.Default()
	}
	return &Checker{
		logger:        log.With(slog.String("checker", "healthcheck_delivery")),
		store:         store,
		sessions:      sessions,
		warnThreshold: DefaultPendingWarnThreshold,
	}
}

// ListChecks reports the in-memory store and live session state.
func (c *Checker) ListChecks(ctx context.Context) []healthcheck.CheckResult {
	if err := ctx.Err(); err != nil {
		return []healthcheck.CheckResult{}
	}
	checks := make([]healthcheck.CheckResult, 0, 2)

	if c.store != nil {
		contacts, pending, listeners := c.store.Stats()
		item := healthcheck.CheckResult{
			ID:      checkTypeStore,
			Type:    checkTypeStore,
			Status:  healthcheck.StatusOK,
			Summary: fmt.Sprintf("%d pending messages across %d contacts.", pending, contacts),
			Metadata: map[string]any{
				"contacts":  contacts,
				"pending":   pending,
				"listeners": listeners,
			},
		}
		if pending > c.warnThreshold {
			item.Status = healthcheck.StatusWarn
			item.Detail = fmt.Sprintf("pending messages above %d; backlogs are not being drained", c.warnThreshold)
			c.logger.Warn("conversation backlog is growing", slog.Int("pending", pending))
		}
		checks = append(checks, item)
	}

	if c.sessions != nil {
		active := c.sessions.Active()
		checks = append(checks, healthcheck.CheckResult{
			ID:       checkTypeLive,
			Type:     checkTypeLive,
			Status:   healthcheck.StatusOK,
			Summary:  fmt.Sprintf("%d live sessions open.", active),
			Metadata: map[string]any{"sessions": active},
		})
	}
	return checks
}
