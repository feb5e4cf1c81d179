package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capliquify/capliquify-backend/pkg/config"
	"github.com/capliquify/capliquify-backend/pkg/errors"
)

const testSecret = "whsec_dGVzdC1zaWduaW5nLXNlY3JldA=="

func newTestVerifier(t *testing.T) *Verifier {
	t.Helper()
	v, err := NewVerifier(&config.WebhookConfig{
		SigningSecret:      testSecret,
		TimestampTolerance: 5 * time.Minute,
	})
	require.NoError(t, err)
	return v
}

func signPayload(t *testing.T, msgID, timestamp string, payload []byte) string {
	t.Helper()
	secret, err := base64.StdEncoding.DecodeString("dGVzdC1zaWduaW5nLXNlY3JldA==")
	require.NoError(t, err)

	mac := hmac.New(sha256.New, secret)
	fmt.Fprintf(mac, "%s.%s.", msgID, timestamp)
	mac.Write(payload)
	return "v1," + base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func nowTimestamp() string {
	return strconv.FormatInt(time.Now().Unix(), 10)
}

func TestVerifyAcceptsValidSignature(t *testing.T) {
	v := newTestVerifier(t)

	payload := []byte(`{"type":"organization.created"}`)
	ts := nowTimestamp()
	sig := signPayload(t, "msg_1", ts, payload)

	assert.NoError(t, v.Verify("msg_1", ts, sig, payload))
}

func TestVerifyAcceptsSignatureFromList(t *testing.T) {
	v := newTestVerifier(t)

	payload := []byte(`{"type":"organization.created"}`)
	ts := nowTimestamp()
	good := signPayload(t, "msg_1", ts, payload)
	bogus := "v1," + base64.StdEncoding.EncodeToString([]byte("not-a-real-mac-aaaaaaaaaaaaaaaa"))

	assert.NoError(t, v.Verify("msg_1", ts, bogus+" "+good, payload))
}

func TestVerifyRejectsTamperedPayload(t *testing.T) {
	v := newTestVerifier(t)

	ts := nowTimestamp()
	sig := signPayload(t, "msg_1", ts, []byte(`{"type":"organization.created"}`))

	err := v.Verify("msg_1", ts, sig, []byte(`{"type":"organization.deleted"}`))
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrSignature))
}

func TestVerifyRejectsWrongMessageID(t *testing.T) {
	v := newTestVerifier(t)

	payload := []byte(`{}`)
	ts := nowTimestamp()
	sig := signPayload(t, "msg_1", ts, payload)

	err := v.Verify("msg_2", ts, sig, payload)
	assert.True(t, errors.Is(err, errors.ErrSignature))
}

func TestVerifyRejectsStaleTimestamp(t *testing.T) {
	v := newTestVerifier(t)

	payload := []byte(`{}`)
	stale := strconv.FormatInt(time.Now().Add(-time.Hour).Unix(), 10)
	sig := signPayload(t, "msg_1", stale, payload)

	err := v.Verify("msg_1", stale, sig, payload)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrSignature))
}

func TestVerifyRejectsMissingHeaders(t *testing.T) {
	v := newTestVerifier(t)

	err := v.Verify("", "", "", []byte(`{}`))
	assert.True(t, errors.Is(err, errors.ErrSignature))
}

func TestNewVerifierRejectsBadSecret(t *testing.T) {
	_, err := NewVerifier(&config.WebhookConfig{SigningSecret: "whsec_%%%not-base64%%%"})
	assert.Error(t, err)

	_, err = NewVerifier(&config.WebhookConfig{SigningSecret: ""})
	assert.Error(t, err)
}
