package widget

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/usebrk/beka-widget/internal/message"
)

// DefaultPollInterval is the pull channel cadence.
const DefaultPollInterval = 2 * time.Second

// Poller drains the pull channel on a fixed interval. A tick is skipped while
// the previous poll is still in flight.
type Poller struct {
	cfg      Config
	interval time.Duration
	inFlight atomic.Bool
	logger   *slog.Logger
}

// NewPoller creates a Poller. A zero interval uses DefaultPollInterval.
func NewPoller(cfg Config, interval time.Duration) *Poller {
	cfg = cfg.withDefaults()
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &Poller{
		cfg:      cfg,
		interval: interval,
		logger:   cfg.Logger.With(slog.String("component", "poller"), slog.Int64("contact_id", cfg.ContactID)),
	}
}

type pollResponse struct {
	Success  bool              `json:"success"`
	Messages []message.Message `json:"messages"`
	Count    int               `json:"count"`
}

// Poll fetches and clears the pending messages once.
func (p *Poller) Poll(ctx context.Context) ([]message.Message, error) {
	var resp pollResponse
	if err := getJSON(ctx, p.cfg.HTTPClient, p.cfg.contactURL("/api/chatwoot-webhook"), &resp); err != nil {
		return nil, err
	}
	return resp.Messages, nil
}

// Run polls until ctx is cancelled, then waits for the last poll to finish.
func (p *Poller) Run(ctx context.Context, deliver func(message.Message)) error {
	var wg sync.WaitGroup
	defer wg.Wait()

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if !p.inFlight.CompareAndSwap(false, true) {
				p.logger.Debug("poll still in flight, skipping tick")
				continue
			}
			wg.Add(1)
			go func() {
				defer wg.Done()
				defer p.inFlight.Store(false)
				p.pollOnce(ctx, deliver)
			}()
		}
	}
}

func (p *Poller) pollOnce(ctx context.Context, deliver func(message.Message)) {
	messages, err := p.Poll(ctx)
	if err != nil {
		if ctx.Err() == nil {
			p.logger.Warn("poll failed", slog.Any("error", err))
		}
		return
	}
	for _, msg := range messages {
		deliver(msg)
	}
}
