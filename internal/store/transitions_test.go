package store

import "testing"

func TestValidTransition(t *testing.T) {
	cases := []struct {
		action string
		from   string
		valid  bool
	}{
		{"call_next", "waiting", true},
		{"call_next", "called", false},
		{"serve", "called", true},
		{"serve", "waiting", false},
		{"serve", "served", false},
		{"miss", "called", true},
		{"miss", "waiting", false},
		{"cancel", "waiting", true},
		{"cancel", "called", true},
		{"cancel", "served", false},
		{"cancel", "missed", false},
		{"cancel", "cancelled", false},
		{"unknown", "waiting", false},
	}

	for _, tt := range cases {
		if got := ValidTransition(tt.action, tt.from); got != tt.valid {
			t.Fatalf("ValidTransition(%q, %q)=%v, want %v", tt.action, tt.from, got, tt.valid)
		}
	}
}

func TestNoTransitionReturnsToWaiting(t *testing.T) {
	for action := range transitionMap {
		if TargetStatus(action) == "waiting" {
			t.Fatalf("action %q targets waiting", action)
		}
	}
}
