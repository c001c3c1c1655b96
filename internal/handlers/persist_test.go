package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/usebrk/beka-widget/internal/automation"
)

type fakePersistService struct {
	result automation.WebhookResult
	err    error
	got    []automation.PersistRequest
}

func (f *fakePersistService) PersistMessage(_ context.Context, req automation.PersistRequest) (automation.WebhookResult, error) {
	f.got = append(f.got, req)
	return f.result, f.err
}

func TestPersistForwardsMessage(t *testing.T) {
	t.Parallel()

	svc := &fakePersistService{result: automation.WebhookResult{OK: true, Status: http.StatusOK, Body: json.RawMessage(`{"raw":"ok"}`)}}
	h := NewPersistHandler(discardLogger(), svc)
	c, rec := newPost("/api/persist-message", `{"message":"quero o fertilizante","contact_id":"42"}`)

	require.NoError(t, h.Persist(c))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"success":true,"message":"Mensagem persistida","webhookResponse":{"raw":"ok"}}`, rec.Body.String())
	require.Len(t, svc.got, 1)
	assert.Equal(t, automation.PersistRequest{Message: "quero o fertilizante", ContactID: 42}, svc.got[0])
}

func TestPersistReportsUpstreamRejection(t *testing.T) {
	t.Parallel()

	svc := &fakePersistService{result: automation.WebhookResult{OK: false, Status: http.StatusBadGateway, Body: json.RawMessage(`{"error":"down"}`)}}
	h := NewPersistHandler(discardLogger(), svc)
	c, rec := newPost("/api/persist-message", `{"message":"oi","contact_id":42}`)

	require.NoError(t, h.Persist(c))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"success":false,"message":"Mensagem persistida","webhookResponse":{"error":"down"}}`, rec.Body.String())
}

func TestPersistValidation(t *testing.T) {
	t.Parallel()

	cases := []struct {
		body string
		want string
	}{
		{body: `{"contact_id":42}`, want: "Mensagem inválida"},
		{body: `{"message":"oi"}`, want: "contact_id não fornecido"},
		{body: `{"message":"oi","contact_id":0}`, want: "contact_id inválido"},
	}
	for _, tc := range cases {
		svc := &fakePersistService{}
		h := NewPersistHandler(discardLogger(), svc)
		c, rec := newPost("/api/persist-message", tc.body)

		require.NoError(t, h.Persist(c))
		assert.Equal(t, http.StatusBadRequest, rec.Code, tc.body)
		var body PersistResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, tc.want, body.Error, tc.body)
		assert.Empty(t, svc.got, tc.body)
	}
}

func TestPersistTransportFailure(t *testing.T) {
	t.Parallel()

	svc := &fakePersistService{err: errors.New("dial tcp: refused")}
	h := NewPersistHandler(discardLogger(), svc)
	c, rec := newPost("/api/persist-message", `{"message":"oi","contact_id":42}`)

	require.NoError(t, h.Persist(c))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.JSONEq(t, `{"success":false,"error":"Erro ao persistir mensagem"}`, rec.Body.String())
}
