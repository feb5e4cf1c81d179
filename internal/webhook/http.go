package webhook

import (
	"io"
	"net/http"

	"github.com/capliquify/capliquify-backend/pkg/errors"
	"github.com/capliquify/capliquify-backend/pkg/httputil"
	"github.com/capliquify/capliquify-backend/pkg/logger"
)

const maxPayloadBytes = 1 << 20

// HTTPHandler receives identity-provider deliveries: verify first, then
// dispatch. 400 on signature failure (never retried), 500 on processing
// failure (sender retries), 200 on processed or ignored.
type HTTPHandler struct {
	verifier  *Verifier
	processor *Processor
	logger    *logger.Logger
}

// NewHTTPHandler creates the webhook receiving endpoint
func NewHTTPHandler(verifier *Verifier, processor *Processor, log *logger.Logger) *HTTPHandler {
	return &HTTPHandler{
		verifier:  verifier,
		processor: processor,
		logger:    log.WithComponent("webhook-http"),
	}
}

// ServeHTTP implements http.Handler
func (h *HTTPHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(io.LimitReader(r.Body, maxPayloadBytes))
	if err != nil {
		httputil.Error(w, errors.BadRequest("failed to read request body"))
		return
	}

	msgID := r.Header.Get(headerID)
	if err := h.verifier.Verify(
		msgID,
		r.Header.Get(headerTimestamp),
		r.Header.Get(headerSignature),
		payload,
	); err != nil {
		h.logger.Warn().Err(err).Str("webhook_id", msgID).Msg("webhook verification failed")
		httputil.Error(w, err)
		return
	}

	if err := h.processor.Process(r.Context(), msgID, payload); err != nil {
		httputil.Error(w, errors.Internal("webhook processing failed"))
		return
	}

	httputil.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
