// Package bus carries dossier and analysis events between the API, the
// analysis worker and the notifier.
package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/NGAPNAAHMED/e3w-cameroon-connect-sub001/internal/domain"
)

// metaTraceID is the envelope metadata key holding the publisher's trace ID.
const metaTraceID = "trace_id"

// New creates the event bus selected by cfg.Type: "channel" (the default)
// for a single process, "nats" when several instances share work.
func New(cfg domain.EventBusConfig) (domain.EventBus, error) {
	switch cfg.Type {
	case "", "channel":
		return NewChannelBus(cfg.ChannelBufferSize), nil

	case "nats":
		return NewNATSBus(cfg)

	default:
		return nil, fmt.Errorf("unsupported event bus type: %s", cfg.Type)
	}
}

// PublishJSON marshals event and publishes it to topic.
func PublishJSON(ctx context.Context, b domain.EventBus, tenantID, topic string, event any) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal %s event: %w", topic, err)
	}
	return b.Publish(ctx, tenantID, topic, payload)
}

// DecodeJSON unmarshals the payload of msg into event.
func DecodeJSON(msg *domain.Message, event any) error {
	if err := json.Unmarshal(msg.Payload, event); err != nil {
		return fmt.Errorf("failed to decode %s event %s: %w", msg.Topic, msg.ID, err)
	}
	return nil
}

// checkTenant rejects tenant IDs that cannot be a single subject token.
// AllTenants is only accepted when subscribing.
func checkTenant(tenantID string, subscribe bool) error {
	switch {
	case tenantID == "":
		return fmt.Errorf("tenantID is required")
	case tenantID == domain.AllTenants:
		if subscribe {
			return nil
		}
		return fmt.Errorf("cannot publish to all tenants")
	case strings.ContainsAny(tenantID, ".*> \t\r\n"):
		return fmt.Errorf("invalid tenantID %q", tenantID)
	}
	return nil
}

// envelope wraps payload with the routing data and the trace ID of ctx.
func envelope(ctx context.Context, tenantID, topic string, payload []byte) *domain.Message {
	msg := &domain.Message{
		ID:        uuid.New().String(),
		TenantID:  tenantID,
		Topic:     topic,
		Payload:   payload,
		Metadata:  make(map[string]string),
		Timestamp: time.Now().UnixNano(),
	}
	if id := domain.TraceIDFrom(ctx); id != "" {
		msg.Metadata[metaTraceID] = id
	}
	return msg
}

// handlerContext returns the context a handler runs msg under: the
// subscription context carrying the publisher's trace ID.
func handlerContext(ctx context.Context, msg *domain.Message) context.Context {
	if id := msg.Metadata[metaTraceID]; id != "" {
		return domain.WithTraceID(ctx, id)
	}
	return ctx
}
