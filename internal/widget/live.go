package widget

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/usebrk/beka-widget/internal/message"
)

// DefaultReconnectDelay is the fixed wait before reopening a dropped stream.
const DefaultReconnectDelay = 5 * time.Second

var errStreamClosed = errors.New("widget: live stream closed by server")

// ConnState is the live connection indicator shown to the user.
type ConnState int32

const (
	StateDisconnected ConnState = iota
	StateConnecting
	StateConnected
)

func (s ConnState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "disconnected"
	}
}

// LiveClient consumes the server-sent event stream for one contact and
// reopens it after a fixed delay whenever it drops.
type LiveClient struct {
	cfg            Config
	streamClient   *http.Client
	reconnectDelay time.Duration
	state          atomic.Int32
	onState        func(ConnState)
	logger         *slog.Logger
}

// NewLiveClient creates a LiveClient. A zero delay uses DefaultReconnectDelay.
func NewLiveClient(cfg Config, reconnectDelay time.Duration, onState func(ConnState)) *LiveClient {
	cfg = cfg.withDefaults()
	if reconnectDelay <= 0 {
		reconnectDelay = DefaultReconnectDelay
	}
	// The stream stays open indefinitely, so it cannot share the request timeout.
	stream := *cfg.HTTPClient
	stream.Timeout = 0
	return &LiveClient{
		cfg:            cfg,
		streamClient:   &stream,
		reconnectDelay: reconnectDelay,
		onState:        onState,
		logger:         cfg.Logger.With(slog.String("component", "live_client"), slog.Int64("contact_id", cfg.ContactID)),
	}
}

// State reports the current connection state.
func (l *LiveClient) State() ConnState {
	return ConnState(l.state.Load())
}

func (l *LiveClient) setState(s ConnState) {
	if ConnState(l.state.Swap(int32(s))) != s && l.onState != nil {
		l.onState(s)
	}
}

// Run streams messages into deliver until ctx is cancelled.
func (l *LiveClient) Run(ctx context.Context, deliver func(message.Message)) error {
	defer l.setState(StateDisconnected)
	for {
		err := l.stream(ctx, deliver)
		if ctx.Err() != nil {
			return nil
		}
		l.setState(StateDisconnected)
		l.logger.Warn("live stream dropped, reconnecting",
			slog.Duration("delay", l.reconnectDelay),
			slog.Any("error", err),
		)
		timer := time.NewTimer(l.reconnectDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}
	}
}

func (l *LiveClient) stream(ctx context.Context, deliver func(message.Message)) error {
	l.setState(StateConnecting)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, l.cfg.contactURL("/api/chatwoot-sse"), nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := l.streamClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("live stream status %d: %s", resp.StatusCode, truncate(strings.TrimSpace(string(body)), 200))
	}
	l.setState(StateConnected)

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 2*1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "" {
			continue
		}
		var msg message.Message
		if err := json.Unmarshal([]byte(data), &msg); err != nil {
			l.logger.Warn("skipping malformed live event", slog.String("data", truncate(data, 200)), slog.Any("error", err))
			continue
		}
		deliver(msg)
	}
	if err := scanner.Err(); err != nil {
		return err
	}
	return errStreamClosed
}
