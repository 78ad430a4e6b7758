package domain

import (
	"context"
)

// EventBus carries dossier and analysis events. Every publish names the
// tenant it belongs to; subscribers see only their tenant unless they
// subscribe with AllTenants.
type EventBus interface {
	// Publish sends payload to the subscribers of topic. The trace ID of
	// ctx travels with the message.
	Publish(ctx context.Context, tenantID string, topic string, payload []byte) error

	// Subscribe registers a handler for a topic. Handlers receive a
	// context carrying the publisher's trace ID.
	Subscribe(ctx context.Context, tenantID string, topic string, handler MessageHandler) (Subscription, error)

	Ping(ctx context.Context) error
	Close() error
}

// MessageHandler processes incoming messages.
type MessageHandler func(ctx context.Context, msg *Message) error

// Message represents an event message.
type Message struct {
	ID        string            `json:"id"`
	TenantID  string            `json:"tenantId"`
	Topic     string            `json:"topic"`
	Payload   []byte            `json:"payload"`
	Metadata  map[string]string `json:"metadata"`
	Timestamp int64             `json:"timestamp"`
}

// Subscription represents an active subscription.
type Subscription interface {
	Unsubscribe() error
	Topic() string
}

// EventBusConfig holds configuration for event bus initialization.
type EventBusConfig struct {
	// Type is the bus type: "channel" or "nats"
	Type string

	ChannelBufferSize int

	NATSUrl           string
	NATSToken         string
	NATSMaxReconnects int
	NATSReconnectWait int // seconds
	NATSQueue         string
}

// AllTenants subscribes to a topic across every tenant. Messages keep
// their publishing tenant in Message.TenantID.
const AllTenants = "*"

// Topics of the dossier analysis pipeline.
const (
	TopicDossierSubmitted  = "dossier.submitted"
	TopicDossierStatus     = "dossier.status"
	TopicAnalysisRequested = "analysis.requested"
	TopicAnalysisCompleted = "analysis.completed"
	TopicAnalysisFailed    = "analysis.failed"
)

// AnalysisRequestedEvent asks a worker to analyse a stored dossier.
type AnalysisRequestedEvent struct {
	DossierID string         `json:"dossierId"`
	TraceID   string         `json:"traceId,omitempty"`
	Policy    map[string]any `json:"policy,omitempty"`
}

// AnalysisCompletedEvent announces a new scoring result.
type AnalysisCompletedEvent struct {
	ResultID       string         `json:"resultId"`
	DossierID      string         `json:"dossierId"`
	Reference      string         `json:"reference,omitempty"`
	ClientName     string         `json:"clientName,omitempty"`
	Officer        string         `json:"officer,omitempty"`
	GlobalScore    float64        `json:"globalScore"`
	RiskClass      RiskClass      `json:"riskClass"`
	Recommendation Recommendation `json:"recommendation"`
	Disagreement   bool           `json:"disagreement"`
	Flags          []string       `json:"flags,omitempty"`
}

// AnalysisFailedEvent announces an analysis that produced no result.
type AnalysisFailedEvent struct {
	DossierID string `json:"dossierId"`
	Reason    string `json:"reason"`
}
