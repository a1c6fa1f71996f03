package escrow

import "time"

// Status represents the ledger state of held funds for one work order.
type Status string

const (
	StatusPending           Status = "pending"
	StatusFunded            Status = "funded"
	StatusPartiallyReleased Status = "partially_released"
	StatusReleased          Status = "released"
	StatusRefunded          Status = "refunded"
)

// Record mirrors the escrows table. TotalAmount is fixed at creation and
// never mutated; FundedAmount and ReleasedAmount only move through the
// transition helpers in ledger.go.
type Record struct {
	ID             string
	WorkOrderID    string
	TotalAmount    int64
	FundedAmount   int64
	ReleasedAmount int64
	Status         Status
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// validTransitions is the full transition table. Escrow never transitions
// itself; each move is driven by the owning application/work-order
// transaction.
var validTransitions = map[Status][]Status{
	StatusPending:           {StatusFunded},
	StatusFunded:            {StatusPartiallyReleased, StatusReleased, StatusRefunded},
	StatusPartiallyReleased: {StatusReleased, StatusRefunded},
	StatusReleased:          {},
	StatusRefunded:          {},
}

// CanTransition reports whether moving from -> to is a legal ledger move.
func CanTransition(from, to Status) bool {
	for _, next := range validTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Refundable reports whether cancelling the owning work order must refund.
func Refundable(s Status) bool {
	return s == StatusFunded || s == StatusPartiallyReleased
}
