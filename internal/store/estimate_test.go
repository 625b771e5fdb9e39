package store

import "testing"

func TestEstimateWait(t *testing.T) {
	cases := []struct {
		position, cursor, minutes int
		want                      int
	}{
		{1, 0, 5, 0},
		{2, 0, 5, 5},
		{7, 3, 4, 12},
		{3, 3, 5, 0},
		{2, 9, 5, 0},
		{4, 0, 0, 0},
	}
	for _, tt := range cases {
		if got := EstimateWait(tt.position, tt.cursor, tt.minutes); got != tt.want {
			t.Fatalf("EstimateWait(%d, %d, %d)=%d, want %d", tt.position, tt.cursor, tt.minutes, got, tt.want)
		}
	}
}

func TestDisplayWait(t *testing.T) {
	if got := DisplayWait(3, 5); got != 15 {
		t.Fatalf("expected 15, got %d", got)
	}
	if got := DisplayWait(-1, 5); got != 0 {
		t.Fatalf("expected 0, got %d", got)
	}
}
