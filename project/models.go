package project

import "time"

type Status string

const (
	StatusDraft     Status = "draft"
	StatusOpen      Status = "open"
	StatusAssigned  Status = "assigned"
	StatusCancelled Status = "cancelled"
)

type BudgetType string

const (
	BudgetFixed     BudgetType = "fixed"
	BudgetHourly    BudgetType = "hourly"
	BudgetMilestone BudgetType = "milestone"
)

// Project is a posted work request. Once assigned it is immutable except for
// cancellation paths owned by the work order.
type Project struct {
	ID               string
	ClientID         string
	Title            string
	BudgetType       BudgetType
	BudgetMin        *int64
	BudgetMax        *int64
	Status           Status
	IsDirect         bool
	TargetCreativeID *string
	Deadline         *time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

type Filters struct {
	ClientID   string
	Status     Status
	BudgetType BudgetType
	Page       int
	PageSize   int
}
