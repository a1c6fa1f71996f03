package workorder

import (
	"time"

	"gigflow/project"
)

// Status is the lifecycle state of a work order. A new order starts at
// awaiting_funding; completed and cancelled are terminal.
type Status string

const (
	StatusAwaitingFunding Status = "awaiting_funding"
	StatusInProgress      Status = "in_progress"
	StatusDelivered       Status = "delivered"
	StatusInRevision      Status = "in_revision"
	StatusCompleted       Status = "completed"
	StatusCancelled       Status = "cancelled"
)

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

type MilestoneStatus string

const (
	MilestonePending    MilestoneStatus = "pending"
	MilestoneDelivered  MilestoneStatus = "delivered"
	MilestoneInRevision MilestoneStatus = "in_revision"
	MilestoneApproved   MilestoneStatus = "approved"
)

type DeliveryStatus string

const (
	DeliveryPendingReview     DeliveryStatus = "pending_review"
	DeliveryApproved          DeliveryStatus = "approved"
	DeliveryRevisionRequested DeliveryStatus = "revision_requested"
)

// Order is the contractual engagement between a client and a creative,
// created when an application or direct request is accepted.
type Order struct {
	ID               string
	ProjectID        string
	ClientID         string
	CreativeID       string
	AgreedRate       int64
	AgreedBudgetType project.BudgetType
	Status           Status
	StartDate        *time.Time
	CompletedAt      *time.Time
	Deadline         *time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Participant reports whether the user is a party to the order.
func (o Order) Participant(userID string) bool {
	return userID != "" && (userID == o.ClientID || userID == o.CreativeID)
}

// Counterpart returns the other participant.
func (o Order) Counterpart(userID string) string {
	if userID == o.ClientID {
		return o.CreativeID
	}
	return o.ClientID
}

// Milestone is an ordered, priced checkpoint within a work order. Position is
// informational only; delivery and approval are not sequenced by it.
type Milestone struct {
	ID          string
	WorkOrderID string
	Title       string
	Amount      int64
	Position    int
	Status      MilestoneStatus
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Delivery is a creative's submission of work product, optionally tied to one
// milestone. A nil MilestoneID means a whole-order delivery.
type Delivery struct {
	ID           string
	WorkOrderID  string
	MilestoneID  *string
	Message      string
	Attachments  []string
	Status       DeliveryStatus
	RevisionNote *string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Event is an append-only timeline entry recorded with each transition.
type Event struct {
	ID          int64
	WorkOrderID string
	Type        string
	ActorID     *string
	Payload     []byte
	CreatedAt   time.Time
}

// Detail bundles an order with its relations for read endpoints.
type Detail struct {
	Order      Order
	Milestones []Milestone
	Deliveries []Delivery
	Events     []Event
}

// ListFilters narrows ListForParticipant results.
type ListFilters struct {
	Status   Status
	Page     int
	PageSize int
}
