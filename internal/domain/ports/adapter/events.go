package adapter

import (
	"context"
	"time"
)

type EventType string

const (
	EventPaymentApproved     EventType = "payment.approved"
	EventPaymentCompleted    EventType = "payment.completed"
	EventPaymentCancelled    EventType = "payment.cancelled"
	EventSubscriptionUpgrade EventType = "subscription.upgraded"
)

// PaymentEvent is a lifecycle fact emitted after the store has changed.
type PaymentEvent struct {
	Type       EventType         `json:"type"`
	PaymentID  string            `json:"paymentId,omitempty"`
	UserID     string            `json:"userId"`
	Attributes map[string]string `json:"attributes,omitempty"`
	OccurredAt time.Time         `json:"occurredAt"`
}

// EventPublisher ships lifecycle events to downstream consumers.
type EventPublisher interface {
	Publish(ctx context.Context, ev PaymentEvent) error
	Close() error
}

type AnomalyKind string

const (
	// AnomalyCompletionAfterCancel: a completion reached a cancelled record.
	AnomalyCompletionAfterCancel AnomalyKind = "completion_after_cancel"
	// AnomalyApprovalAfterCancel: the gateway approved a payment we had already cancelled.
	AnomalyApprovalAfterCancel AnomalyKind = "approval_after_cancel"
	// AnomalyAmbiguousSettlement: an approved payment has a settlement id but never completed.
	AnomalyAmbiguousSettlement AnomalyKind = "ambiguous_settlement"
)

type Anomaly struct {
	Kind      AnomalyKind
	PaymentID string
	UserID    string
	Detail    string
}

// Alerter surfaces anomalies to a human.
type Alerter interface {
	Alert(ctx context.Context, a Anomaly) error
}
