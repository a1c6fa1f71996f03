package application

import "time"

type Status string

const (
	StatusPending     Status = "pending"
	StatusViewed      Status = "viewed"
	StatusShortlisted Status = "shortlisted"
	StatusAccepted    Status = "accepted"
	StatusDeclined    Status = "declined"
)

// Acceptable reports whether an application in this status may still be
// accepted. ACCEPTED and DECLINED are terminal.
func (s Status) Acceptable() bool {
	switch s {
	case StatusPending, StatusViewed, StatusShortlisted:
		return true
	default:
		return false
	}
}

// Application is a creative's proposal against a project. A creative may
// apply to a project at most once.
type Application struct {
	ID           string
	ProjectID    string
	CreativeID   string
	CoverLetter  string
	ProposedRate *int64
	Timeline     *string
	Status       Status
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Page is a cursor-paginated slice of applications. NextCursor is empty when
// no further page exists.
type Page struct {
	Items      []Application
	NextCursor string
}
