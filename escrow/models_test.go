package escrow

import "testing"

func TestCanTransition(t *testing.T) {
	cases := []struct {
		from, to Status
		want     bool
	}{
		{StatusPending, StatusFunded, true},
		{StatusPending, StatusReleased, false},
		{StatusPending, StatusRefunded, false},
		{StatusFunded, StatusReleased, true},
		{StatusFunded, StatusRefunded, true},
		{StatusFunded, StatusPending, false},
		{StatusPartiallyReleased, StatusReleased, true},
		{StatusPartiallyReleased, StatusRefunded, true},
		{StatusReleased, StatusRefunded, false},
		{StatusReleased, StatusFunded, false},
		{StatusRefunded, StatusFunded, false},
	}

	for _, tc := range cases {
		if got := CanTransition(tc.from, tc.to); got != tc.want {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", tc.from, tc.to, got, tc.want)
		}
	}
}

func TestRefundable(t *testing.T) {
	if Refundable(StatusPending) {
		t.Error("pending escrow must not be refundable, cancellation leaves it untouched")
	}
	if !Refundable(StatusFunded) {
		t.Error("funded escrow must be refundable")
	}
	if !Refundable(StatusPartiallyReleased) {
		t.Error("partially released escrow must be refundable")
	}
	if Refundable(StatusReleased) || Refundable(StatusRefunded) {
		t.Error("terminal escrow states must not be refundable")
	}
}
