package domain

import "time"

type EventKind string

const (
	EventCreated       EventKind = "created"
	EventStatusChanged EventKind = "statusChanged"
)

// Event is pushed to every dashboard subscribed to TenantID.
type Event struct {
	Kind           EventKind `json:"kind"`
	TenantID       string    `json:"tenant_id"`
	Order          Order     `json:"order"`
	PreviousStatus Status    `json:"previous_status,omitempty"`
	OccurredAt     time.Time `json:"occurred_at"`
}

func NewCreatedEvent(o Order) Event {
	return Event{Kind: EventCreated, TenantID: o.TenantID, Order: o, OccurredAt: o.CreatedAt}
}

func NewStatusChangedEvent(o Order, prev Status) Event {
	return Event{
		Kind:           EventStatusChanged,
		TenantID:       o.TenantID,
		Order:          o,
		PreviousStatus: prev,
		OccurredAt:     o.UpdatedAt,
	}
}
