// Package progress turns step counts into the percentage stored on an
// operation record.
package progress

import "math"

// Percentage converts (completed, total) steps into an integer percentage.
// A non-positive total is treated as 1 so a zero-step operation cannot
// divide by zero; the result is clamped to [0, 100].
func Percentage(completed, total int) int {
	if total <= 0 {
		total = 1
	}
	pct := int(math.Round(float64(completed) / float64(total) * 100))
	if pct < 0 {
		return 0
	}
	if pct > 100 {
		return 100
	}
	return pct
}
