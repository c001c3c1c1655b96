package handlers

import (
	"context"
	"net/http"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/usebrk/beka-widget/internal/healthcheck"
	"github.com/usebrk/beka-widget/internal/metrics"
)

type staticChecker []healthcheck.CheckResult

func (s staticChecker) ListChecks(context.Context) []healthcheck.CheckResult { return s }

func TestHealthReportsWorstStatus(t *testing.T) {
	t.Parallel()

	ok := staticChecker{{ID: "store", Type: "delivery", Status: healthcheck.StatusOK, Summary: "ok"}}
	h := NewPingHandler(discardLogger(), ok)
	c, rec := newContext(http.MethodGet, "/health", "")
	require.NoError(t, h.Health(c))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"ok"`)

	failing := staticChecker{{ID: "automation.chat", Type: "automation", Status: healthcheck.StatusError, Summary: "missing"}}
	h = NewPingHandler(discardLogger(), ok, failing)
	c, rec = newContext(http.MethodGet, "/health", "")
	require.NoError(t, h.Health(c))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), `"automation.chat"`)
}

func TestPing(t *testing.T) {
	t.Parallel()

	h := NewPingHandler(discardLogger())
	c, rec := newContext(http.MethodGet, "/ping", "")
	require.NoError(t, h.Ping(c))
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestMetricsEndpoint(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	m.MessageAdded()

	c, rec := newContext(http.MethodGet, "/metrics", "")
	e := c.Echo()
	NewMetricsHandler(reg).Register(e)
	e.ServeHTTP(rec, c.Request())

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "beka_store_messages_added_total 1"), rec.Body.String())
}
