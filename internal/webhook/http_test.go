package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/capliquify/capliquify-backend/pkg/logger"
)

func postWebhook(t *testing.T, handler *HTTPHandler, payload []byte, sign bool) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/identity", bytes.NewReader(payload))
	ts := nowTimestamp()
	req.Header.Set("webhook-id", "msg_1")
	req.Header.Set("webhook-timestamp", ts)
	if sign {
		req.Header.Set("webhook-signature", signPayload(t, "msg_1", ts, payload))
	} else {
		req.Header.Set("webhook-signature", "v1,aW52YWxpZA==")
	}

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestWebhookEndpointRejectsBadSignature(t *testing.T) {
	processor, _ := newTestProcessor(t)
	handler := NewHTTPHandler(newTestVerifier(t), processor, logger.Nop())

	called := false
	processor.Register(EventOrganizationCreated, func(ctx context.Context, data json.RawMessage) error {
		called = true
		return nil
	})

	rec := postWebhook(t, handler, []byte(`{"type":"organization.created","data":{}}`), false)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.False(t, called, "unverified payload must never be processed")
}

func TestWebhookEndpointProcessesVerifiedEvent(t *testing.T) {
	processor, _ := newTestProcessor(t)
	handler := NewHTTPHandler(newTestVerifier(t), processor, logger.Nop())

	called := false
	processor.Register(EventOrganizationCreated, func(ctx context.Context, data json.RawMessage) error {
		called = true
		return nil
	})

	rec := postWebhook(t, handler, []byte(`{"type":"organization.created","data":{}}`), true)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, called)
}

func TestWebhookEndpointAcksUnknownEventType(t *testing.T) {
	processor, _ := newTestProcessor(t)
	handler := NewHTTPHandler(newTestVerifier(t), processor, logger.Nop())

	rec := postWebhook(t, handler, []byte(`{"type":"session.created","data":{}}`), true)

	assert.Equal(t, http.StatusOK, rec.Code)
}
