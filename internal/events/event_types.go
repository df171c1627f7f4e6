package events

import (
	"time"

	"github.com/google/uuid"

	"github.com/spec-kit/growth-entitlements/internal/domain"
)

// EventType enumerates supported event identifiers.
type EventType string

const (
	EventGlobalSwitchChanged EventType = "global_switch_changed"
	EventGrantCreated        EventType = "grant_created"
	EventGrantEnabled        EventType = "grant_enabled"
	EventGrantDisabled       EventType = "grant_disabled"
	EventCodeRedeemed        EventType = "code_redeemed"
	EventOrderBound          EventType = "order_bound"
	EventUsageConsumed       EventType = "usage_consumed"
	EventUsageRejected       EventType = "usage_rejected"
)

// Event represents a domain event emitted by services.
type Event struct {
	ID        string    `json:"id"`
	Type      EventType `json:"type"`
	Subject   string    `json:"subject,omitempty"`
	Actor     string    `json:"actor,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Payload   any       `json:"payload"`
}

// NewEvent stamps an event with a fresh id and the current time.
func NewEvent(eventType EventType, subject, actor string, payload any) Event {
	return Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		Subject:   subject,
		Actor:     actor,
		Timestamp: time.Now().UTC(),
		Payload:   payload,
	}
}

// GlobalSwitchChangedPayload payload.
type GlobalSwitchChangedPayload struct {
	Enabled bool `json:"enabled"`
}

// GrantChangedPayload is shared by created, enabled and disabled grant events.
type GrantChangedPayload struct {
	GrantID         string            `json:"grant_id"`
	SourceKind      domain.SourceKind `json:"source_kind"`
	SourceReference string            `json:"source_reference"`
	Enabled         bool              `json:"enabled"`
	MaxUsage        int               `json:"max_usage"`
	Note            string            `json:"note,omitempty"`
}

// CodeRedeemedPayload payload.
type CodeRedeemedPayload struct {
	CodeID    string `json:"code_id"`
	Code      string `json:"code"`
	GrantID   string `json:"grant_id"`
	Remaining int    `json:"remaining"`
}

// OrderBoundPayload payload.
type OrderBoundPayload struct {
	GrantID     string        `json:"grant_id"`
	OrderNumber string        `json:"order_number"`
	Available   int           `json:"available"`
	Origin      domain.Origin `json:"origin"`
}

// UsagePayload is carried by consumed and rejected usage events.
type UsagePayload struct {
	DeviceID  string               `json:"device_id"`
	GrantID   *string              `json:"grant_id,omitempty"`
	Remaining int                  `json:"remaining"`
	Reason    domain.ConsumeReason `json:"reason,omitempty"`
}
