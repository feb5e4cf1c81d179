package webhook

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/capliquify/capliquify-backend/internal/tenancy/domain"
	"github.com/capliquify/capliquify-backend/internal/tenancy/repository"
	"github.com/capliquify/capliquify-backend/pkg/logger"
	"github.com/capliquify/capliquify-backend/pkg/metrics"
)

// Handler processes one verified event payload
type Handler func(ctx context.Context, data json.RawMessage) error

// Processor dispatches verified events to registered handlers. Unknown
// event types are acknowledged and logged, never retried. Handler failures
// are recorded to the audit log and surfaced so the sender retries.
type Processor struct {
	handlers map[string]Handler
	audit    *repository.AuditRepository
	logger   *logger.Logger
}

// NewProcessor creates an event processor with an empty handler map
func NewProcessor(audit *repository.AuditRepository, log *logger.Logger) *Processor {
	return &Processor{
		handlers: make(map[string]Handler),
		audit:    audit,
		logger:   log.WithComponent("webhook"),
	}
}

// Register binds a handler to an event type, replacing any previous one
func (p *Processor) Register(eventType string, h Handler) {
	p.handlers[eventType] = h
}

// Process parses the envelope and runs the matching handler. Returns nil
// when the event was handled or is of an unknown type; a non-nil error
// means the sender should retry the delivery.
func (p *Processor) Process(ctx context.Context, msgID string, payload []byte) error {
	var event Event
	if err := json.Unmarshal(payload, &event); err != nil {
		p.logger.Warn().Err(err).Str("webhook_id", msgID).Msg("malformed webhook payload")
		metrics.WebhookEvents.WithLabelValues("unknown", "failed").Inc()
		return fmt.Errorf("malformed webhook payload: %w", err)
	}

	handler, ok := p.handlers[event.Type]
	if !ok {
		p.logger.Info().Str("event_type", event.Type).Str("webhook_id", msgID).Msg("ignoring unhandled webhook event")
		metrics.WebhookEvents.WithLabelValues(event.Type, "ignored").Inc()
		return nil
	}

	if err := p.run(ctx, event.Type, handler, event.Data); err != nil {
		p.logger.Error().Err(err).
			Str("event_type", event.Type).
			Str("webhook_id", msgID).
			Msg("webhook handler failed")
		metrics.WebhookEvents.WithLabelValues(event.Type, "failed").Inc()

		// Webhook failures are not tied to a resolved tenant; the entry is
		// written with a NULL tenant ID.
		p.audit.AppendBestEffort(ctx, &domain.AuditLogEntry{
			Action:       domain.AuditWebhookFailed,
			ResourceType: "webhook",
			ResourceID:   msgID,
			Metadata: domain.Metadata{
				"event_type": event.Type,
				"error":      err.Error(),
			},
		})
		return err
	}

	metrics.WebhookEvents.WithLabelValues(event.Type, "processed").Inc()
	return nil
}

// run executes one handler, converting a panic into an error so a single
// bad payload cannot take down the processing loop.
func (p *Processor) run(ctx context.Context, eventType string, h Handler, data json.RawMessage) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler for %s panicked: %v", eventType, r)
		}
	}()
	return h(ctx, data)
}
