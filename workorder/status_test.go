package workorder

import "testing"

func TestCanTransition(t *testing.T) {
	cases := []struct {
		from Status
		to   Status
		want bool
	}{
		{StatusAwaitingFunding, StatusInProgress, true},
		{StatusAwaitingFunding, StatusCancelled, true},
		{StatusAwaitingFunding, StatusDelivered, false},
		{StatusInProgress, StatusDelivered, true},
		{StatusInProgress, StatusCancelled, true},
		{StatusInProgress, StatusCompleted, false},
		{StatusDelivered, StatusCompleted, true},
		{StatusDelivered, StatusInProgress, true},
		{StatusDelivered, StatusInRevision, true},
		{StatusDelivered, StatusCancelled, true},
		{StatusInRevision, StatusDelivered, true},
		{StatusInRevision, StatusCancelled, true},
		{StatusInRevision, StatusCompleted, false},
		{StatusCompleted, StatusInProgress, false},
		{StatusCompleted, StatusCancelled, false},
		{StatusCancelled, StatusInProgress, false},
	}

	for _, tc := range cases {
		if got := CanTransition(tc.from, tc.to); got != tc.want {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", tc.from, tc.to, got, tc.want)
		}
	}
}

func TestTerminal(t *testing.T) {
	for _, st := range []Status{StatusCompleted, StatusCancelled} {
		if !st.Terminal() {
			t.Errorf("expected %s to be terminal", st)
		}
	}
	for _, st := range []Status{StatusAwaitingFunding, StatusInProgress, StatusDelivered, StatusInRevision} {
		if st.Terminal() {
			t.Errorf("expected %s to be non-terminal", st)
		}
	}
}

func TestAllMilestonesApproved_NoMilestones(t *testing.T) {
	if !allMilestonesApproved(nil, "") {
		t.Fatal("an order with no milestones completes on any approval")
	}
}

func TestAllMilestonesApproved_LastOutstanding(t *testing.T) {
	milestones := []Milestone{
		{ID: "m1", Status: MilestoneApproved},
		{ID: "m2", Status: MilestoneApproved},
		{ID: "m3", Status: MilestoneDelivered},
	}
	if !allMilestonesApproved(milestones, "m3") {
		t.Fatal("approving the last outstanding milestone should complete the order")
	}
}

func TestAllMilestonesApproved_OutOfOrder(t *testing.T) {
	// Position is informational. Approving the first-listed milestone last
	// still completes the order.
	milestones := []Milestone{
		{ID: "m1", Position: 0, Status: MilestoneDelivered},
		{ID: "m2", Position: 1, Status: MilestoneApproved},
		{ID: "m3", Position: 2, Status: MilestoneApproved},
	}
	if !allMilestonesApproved(milestones, "m1") {
		t.Fatal("completion must not depend on milestone position")
	}
}

func TestAllMilestonesApproved_Outstanding(t *testing.T) {
	milestones := []Milestone{
		{ID: "m1", Status: MilestoneApproved},
		{ID: "m2", Status: MilestonePending},
		{ID: "m3", Status: MilestoneDelivered},
	}
	if allMilestonesApproved(milestones, "m3") {
		t.Fatal("order must stay open while any milestone is unapproved")
	}
}
