// Package webhook verifies and processes identity-provider lifecycle
// events. Delivery is at-least-once, so every handler must converge to the
// same end state when replayed with identical input.
package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/capliquify/capliquify-backend/pkg/config"
	"github.com/capliquify/capliquify-backend/pkg/errors"
)

const (
	headerID        = "webhook-id"
	headerTimestamp = "webhook-timestamp"
	headerSignature = "webhook-signature"

	secretPrefix = "whsec_"
)

// Verifier checks webhook payload signatures. The scheme is HMAC-SHA256
// over "<id>.<timestamp>.<payload>" with a base64 secret; the signature
// header carries a space-separated list of "v1,<base64 mac>" entries and
// any single match verifies.
type Verifier struct {
	secret    []byte
	tolerance time.Duration
}

// NewVerifier creates a signature verifier from configuration. The signing
// secret may carry the issuer's "whsec_" prefix.
func NewVerifier(cfg *config.WebhookConfig) (*Verifier, error) {
	raw := strings.TrimPrefix(cfg.SigningSecret, secretPrefix)
	if raw == "" {
		return nil, fmt.Errorf("webhook signing secret is not configured")
	}

	secret, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		return nil, fmt.Errorf("webhook signing secret is not valid base64: %w", err)
	}

	tolerance := cfg.TimestampTolerance
	if tolerance <= 0 {
		tolerance = 5 * time.Minute
	}
	return &Verifier{secret: secret, tolerance: tolerance}, nil
}

// Verify checks the delivery headers and payload signature. Nothing may be
// processed before this passes.
func (v *Verifier) Verify(msgID, timestamp, signatures string, payload []byte) error {
	if msgID == "" || timestamp == "" || signatures == "" {
		return errors.Signature("missing webhook headers")
	}

	ts, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return errors.Signature("invalid webhook timestamp")
	}
	if delta := time.Since(time.Unix(ts, 0)); delta > v.tolerance || delta < -v.tolerance {
		return errors.Signature("webhook timestamp outside tolerance")
	}

	expected := v.sign(msgID, timestamp, payload)
	for _, entry := range strings.Split(signatures, " ") {
		parts := strings.SplitN(entry, ",", 2)
		if len(parts) != 2 || parts[0] != "v1" {
			continue
		}
		candidate, err := base64.StdEncoding.DecodeString(parts[1])
		if err != nil {
			continue
		}
		if hmac.Equal(candidate, expected) {
			return nil
		}
	}
	return errors.Signature("webhook signature mismatch")
}

func (v *Verifier) sign(msgID, timestamp string, payload []byte) []byte {
	mac := hmac.New(sha256.New, v.secret)
	fmt.Fprintf(mac, "%s.%s.", msgID, timestamp)
	mac.Write(payload)
	return mac.Sum(nil)
}
