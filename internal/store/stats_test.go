package store

import "testing"

func TestRoundMinutesHalfAwayFromZero(t *testing.T) {
	tests := []struct {
		name    string
		seconds float64
		want    int
	}{
		{name: "exact minutes", seconds: 600, want: 10},
		{name: "rounds down below half", seconds: 629, want: 10},
		{name: "half rounds up", seconds: 630, want: 11},
		{name: "above half rounds up", seconds: 4050, want: 68},
		{name: "negative half rounds away from zero", seconds: -150, want: -3},
		{name: "negative below half rounds toward zero", seconds: -149, want: -2},
		{name: "zero", seconds: 0, want: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := roundMinutes(tt.seconds); got != tt.want {
				t.Errorf("roundMinutes(%v) = %d, want %d", tt.seconds, got, tt.want)
			}
		})
	}
}

func TestRoundMinutesAveragedDeltas(t *testing.T) {
	// Averaging happens on raw seconds, rounding only on the final value.
	deltas := []float64{10 * 60, -5 * 60, 20 * 60}
	var sum float64
	for _, d := range deltas {
		sum += d
	}
	if got := roundMinutes(sum / float64(len(deltas))); got != 8 {
		t.Errorf("average delta = %d, want 8", got)
	}
}
