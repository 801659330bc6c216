package session

import "testing"

func TestCheckInEligible(t *testing.T) {
	cases := []struct {
		status Status
		want   bool
	}{
		{StatusScheduled, false},
		{StatusActive, true},
		{StatusFinished, false},
		{StatusCancelled, false},
	}
	for _, tc := range cases {
		if got := CheckInEligible(Session{Status: tc.status}); got != tc.want {
			t.Errorf("CheckInEligible(%s) = %v, want %v", tc.status, got, tc.want)
		}
	}
}

func TestValidStatus(t *testing.T) {
	for _, s := range []Status{StatusScheduled, StatusActive, StatusFinished, StatusCancelled} {
		if !ValidStatus(s) {
			t.Errorf("ValidStatus(%s) = false", s)
		}
	}
	for _, s := range []Status{"", "UPCOMING", "DONE", "active"} {
		if ValidStatus(s) {
			t.Errorf("ValidStatus(%s) = true", s)
		}
	}
}

func TestTerminal(t *testing.T) {
	if terminal(StatusScheduled) || terminal(StatusActive) {
		t.Error("scheduled and active are not terminal")
	}
	if !terminal(StatusFinished) || !terminal(StatusCancelled) {
		t.Error("finished and cancelled are terminal")
	}
}
