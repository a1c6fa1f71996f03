package notify

import (
	"encoding/json"
	"time"
)

// Type enumerates the notification taxonomy emitted by the core.
type Type string

const (
	TypeWorkRequest     Type = "work_request"
	TypeApplication     Type = "application"
	TypeWorkOrderUpdate Type = "work_order_update"
	TypeDelivery        Type = "delivery"
	TypeMilestoneUpdate Type = "milestone_update"
	TypeEscrowUpdate    Type = "escrow_update"
)

// Event is a notification scheduled for delivery to a single user. Events are
// written into the notifications outbox inside the business transaction and
// delivered after commit.
type Event struct {
	Type        Type
	RecipientID string
	ActorID     string
	Payload     map[string]any
}

// Message is an outbox row read back by the dispatcher.
type Message struct {
	ID          int64
	Type        Type
	RecipientID string
	ActorID     *string
	Payload     json.RawMessage
	Attempts    int
	CreatedAt   time.Time
}
