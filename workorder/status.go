package workorder

// validTransitions encodes the work order state machine. Cancellation is a
// side transition from every non-terminal state.
var validTransitions = map[Status][]Status{
	StatusAwaitingFunding: {StatusInProgress, StatusCancelled},
	StatusInProgress:      {StatusDelivered, StatusCancelled},
	StatusDelivered:       {StatusCompleted, StatusInProgress, StatusInRevision, StatusCancelled},
	StatusInRevision:      {StatusDelivered, StatusCancelled},
	StatusCompleted:       {},
	StatusCancelled:       {},
}

// CanTransition reports whether from -> to is a legal move.
func CanTransition(from, to Status) bool {
	for _, next := range validTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// allMilestonesApproved implements the completion gate: an order completes
// when it has no milestones at all, or when every milestone is either the one
// being approved right now or already approved. Milestone position carries no
// weight here.
func allMilestonesApproved(milestones []Milestone, approvedID string) bool {
	for _, m := range milestones {
		if m.ID == approvedID {
			continue
		}
		if m.Status != MilestoneApproved {
			return false
		}
	}
	return true
}
