package shopstore

import (
	"sort"
	"testing"
	"time"
)

func TestToPtr_CopiesValue(t *testing.T) {
	original := int64(10)
	ptr := ToPtr(original)
	original = 20

	if *ptr != 10 {
		t.Errorf("Pointer value changed unexpectedly: got %d, want 10", *ptr)
	}
}

func TestPad(t *testing.T) {
	tests := []struct {
		value int64
		width int
		want  string
	}{
		{7, 10, "0000000007"},
		{1234, 4, "1234"},
		{1, 4, "0001"},
		{0, 6, "000000"},
		{123456, 4, "123456"},
	}

	for _, tt := range tests {
		if got := Pad(tt.value, tt.width); got != tt.want {
			t.Errorf("Pad(%d, %d) = %q, want %q", tt.value, tt.width, got, tt.want)
		}
	}
}

func TestPad_LexicographicOrder(t *testing.T) {
	ids := []int{9, 10, 2, 100, 11}
	padded := make([]string, len(ids))
	for i, id := range ids {
		padded[i] = Pad(id, 10)
	}
	sort.Strings(padded)

	want := []string{"0000000002", "0000000009", "0000000010", "0000000011", "0000000100"}
	for i := range want {
		if padded[i] != want[i] {
			t.Fatalf("sorted padded ids = %v, want %v", padded, want)
		}
	}
}

func TestSortableTime(t *testing.T) {
	loc := time.FixedZone("AEST", 10*60*60)
	at := time.Date(2024, 3, 15, 20, 30, 0, 5, loc)

	if got := SortableTime(at); got != "2024-03-15T10:30:00.000000005Z" {
		t.Errorf("SortableTime() = %q", got)
	}

	earlier := SortableTime(time.Date(2024, 3, 15, 10, 29, 59, 999999999, time.UTC))
	later := SortableTime(time.Date(2024, 3, 15, 10, 30, 0, 0, time.UTC))
	if !(earlier < later) {
		t.Errorf("expected %q < %q", earlier, later)
	}
}

func TestCalculateBackoff_FirstAttempt(t *testing.T) {
	strategies := []BackoffStrategy{BackoffExponential, BackoffLinear, BackoffNone, "unknown"}

	for _, strategy := range strategies {
		t.Run(string(strategy), func(t *testing.T) {
			if delay := CalculateBackoff(100, 0, strategy); delay != 0 {
				t.Errorf("CalculateBackoff(100, 0, %s) = %v, want 0", strategy, delay)
			}
		})
	}
}

func TestCalculateBackoff(t *testing.T) {
	tests := []struct {
		name        string
		baseDelayMs int
		attempt     int
		strategy    BackoffStrategy
		want        time.Duration
	}{
		{"exponential first retry", 100, 1, BackoffExponential, 100 * time.Millisecond},
		{"exponential third retry", 100, 3, BackoffExponential, 400 * time.Millisecond},
		{"exponential small base", 1, 5, BackoffExponential, 16 * time.Millisecond},
		{"linear", 100, 3, BackoffLinear, 300 * time.Millisecond},
		{"none", 100, 5, BackoffNone, 0},
		{"unknown falls back to linear", 50, 2, "UNKNOWN", 100 * time.Millisecond},
		{"zero base delay", 0, 3, BackoffExponential, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CalculateBackoff(tt.baseDelayMs, tt.attempt, tt.strategy)
			if got != tt.want {
				t.Errorf("CalculateBackoff(%d, %d, %s) = %v, want %v",
					tt.baseDelayMs, tt.attempt, tt.strategy, got, tt.want)
			}
		})
	}
}
