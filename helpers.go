package shopstore

import (
	"fmt"
	"time"

	"golang.org/x/exp/constraints"
)

// ToPtr returns a pointer to the given value.
// This is useful for creating pointers to literals or converting values to pointers.
func ToPtr[T any](v T) *T {
	return &v
}

// Pad zero-pads a non-negative integer to width digits so that lexicographic
// order of the result equals numeric order. Values wider than width are
// returned unpadded.
func Pad[T constraints.Integer](v T, width int) string {
	return fmt.Sprintf("%0*d", width, v)
}

// SortableTime formats t in UTC with fixed-width nanoseconds so byte order
// equals chronological order.
func SortableTime(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000000000Z")
}

// CalculateBackoff calculates the backoff delay for a retry attempt.
// It supports three strategies:
//   - EXPONENTIAL: baseDelay * 2^(attempt-1)
//   - LINEAR: baseDelay * attempt
//   - NONE: no backoff delay
//
// Returns 0 for attempt 0.
func CalculateBackoff(baseDelayMs int, attempt int, strategy BackoffStrategy) time.Duration {
	if attempt == 0 {
		return 0
	}

	baseDelay := time.Duration(baseDelayMs) * time.Millisecond

	switch strategy {
	case BackoffExponential:
		multiplier := 1 << (attempt - 1)
		return baseDelay * time.Duration(multiplier)
	case BackoffLinear:
		return baseDelay * time.Duration(attempt)
	case BackoffNone:
		return 0
	default:
		return baseDelay * time.Duration(attempt)
	}
}
