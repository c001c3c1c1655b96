// Package automation talks to the external workflow engine: the assistant
// chat webhook, the contact-persistence webhook and the catalog sync webhook.
package automation

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/usebrk/beka-widget/internal/metrics"
)

var (
	// ErrNotConfigured is returned when the endpoint or credential a call
	// needs is missing.
	ErrNotConfigured = errors.New("automation: endpoint not configured")
	// ErrUpstreamStatus wraps non-2xx responses from the chat webhook.
	ErrUpstreamStatus = errors.New("automation: upstream returned non-success status")
)

const (
	DefaultTimeout      = 60 * time.Second
	maxResponseBodySize = 4 << 20
)

// Config holds the workflow engine endpoints.
type Config struct {
	BaseURL    string
	Token      string
	PersistURL string
	SyncURL    string
	Timeout    time.Duration
}

// Client is a thin HTTP client for the workflow engine.
type Client struct {
	cfg        Config
	httpClient *http.Client
	metrics    *metrics.Metrics
	logger     *slog.Logger
}

// NewClient creates a Client. A zero timeout uses DefaultTimeout.
func NewClient(log *slog.Logger, cfg Config, m *metrics.Metrics) *Client {
	if log == nil {
		log = slog.Default()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	cfg.BaseURL = strings.TrimSpace(cfg.BaseURL)
	cfg.Token = strings.TrimSpace(cfg.Token)
	cfg.PersistURL = strings.TrimSpace(cfg.PersistURL)
	cfg.SyncURL = strings.TrimSpace(cfg.SyncURL)
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		metrics:    m,
		logger:     log.With(slog.String("service", "automation")),
	}
}

// ChatConfigured reports whether both the chat URL and token are set.
func (c *Client) ChatConfigured() bool {
	return c.cfg.BaseURL != "" && c.cfg.Token != ""
}

// PersistConfigured reports whether user messages can be persisted.
func (c *Client) PersistConfigured() bool {
	return c.cfg.PersistURL != ""
}

// SyncConfigured reports whether catalog sync payloads are forwarded.
func (c *Client) SyncConfigured() bool {
	return c.cfg.SyncURL != ""
}

// ChatRequest is the body sent to the assistant webhook.
type ChatRequest struct {
	Message     string          `json:"message"`
	ShopifyData json.RawMessage `json:"shopifyData,omitempty"`
}

// Chat sends one user message and returns the raw reply text.
func (c *Client) Chat(ctx context.Context, req ChatRequest) (string, error) {
	if !c.ChatConfigured() {
		c.logger.ErrorContext(ctx, "chat endpoint not configured",
			slog.Bool("has_url", c.cfg.BaseURL != ""),
			slog.Bool("has_token", c.cfg.Token != ""),
		)
		c.metrics.ChatRequest("not_configured", 0)
		return "", ErrNotConfigured
	}
	started := time.Now()
	status, body, err := c.post(ctx, c.cfg.BaseURL, "Bearer "+c.cfg.Token, req)
	elapsed := time.Since(started).Seconds()
	if err != nil {
		c.logger.ErrorContext(ctx, "chat request failed", slog.Any("error", err))
		c.metrics.ChatRequest("transport_error", elapsed)
		return "", fmt.Errorf("chat request: %w", err)
	}
	if status < 200 || status >= 300 {
		c.logger.ErrorContext(ctx, "chat upstream error",
			slog.Int("status", status),
			slog.String("body_prefix", truncate(string(body), 300)),
		)
		c.metrics.ChatRequest("upstream_status", elapsed)
		return "", fmt.Errorf("%w: %d", ErrUpstreamStatus, status)
	}
	c.logger.DebugContext(ctx, "chat reply received",
		slog.Int("status", status),
		slog.String("body_prefix", truncate(string(body), 200)),
	)
	c.metrics.ChatRequest("ok", elapsed)
	return string(body), nil
}

// PersistRequest records a user message against a support-platform contact.
type PersistRequest struct {
	Message   string `json:"message"`
	ContactID int64  `json:"contact_id"`
}

// WebhookResult is the outcome of a forwarded webhook call. Body holds the
// upstream JSON, or `{"raw": "<text>"}` when the reply is not JSON.
type WebhookResult struct {
	OK     bool
	Status int
	Body   json.RawMessage
}

// PersistMessage forwards a user message to the persistence webhook.
// Non-2xx replies are reported through WebhookResult.OK, not as errors.
func (c *Client) PersistMessage(ctx context.Context, req PersistRequest) (WebhookResult, error) {
	if c.cfg.PersistURL == "" {
		return WebhookResult{}, ErrNotConfigured
	}
	return c.forward(ctx, "persist", c.cfg.PersistURL, req)
}

// SyncSession forwards a storefront session payload to the sync webhook.
func (c *Client) SyncSession(ctx context.Context, payload any) (WebhookResult, error) {
	if c.cfg.SyncURL == "" {
		return WebhookResult{}, ErrNotConfigured
	}
	return c.forward(ctx, "sync", c.cfg.SyncURL, payload)
}

func (c *Client) forward(ctx context.Context, name, url string, payload any) (WebhookResult, error) {
	status, body, err := c.post(ctx, url, "", payload)
	if err != nil {
		c.logger.ErrorContext(ctx, "webhook request failed", slog.String("webhook", name), slog.Any("error", err))
		return WebhookResult{}, fmt.Errorf("%s webhook: %w", name, err)
	}
	result := WebhookResult{
		OK:     status >= 200 && status < 300,
		Status: status,
		Body:   jsonOrRaw(body),
	}
	c.logger.InfoContext(ctx, "webhook response",
		slog.String("webhook", name),
		slog.Int("status", status),
		slog.String("body_prefix", truncate(string(body), 200)),
	)
	return result, nil
}

func (c *Client) post(ctx context.Context, url, authorization string, payload any) (int, []byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return 0, nil, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return 0, nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if authorization != "" {
		httpReq.Header.Set("Authorization", authorization)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBodySize))
	if err != nil {
		return resp.StatusCode, nil, err
	}
	return resp.StatusCode, respBody, nil
}

func jsonOrRaw(body []byte) json.RawMessage {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) > 0 && json.Valid(trimmed) {
		return json.RawMessage(trimmed)
	}
	raw, _ := json.Marshal(map[string]string{"raw": string(body)})
	return raw
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
