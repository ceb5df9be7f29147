package parking

import "time"

// Bill returns the cost of parking from start to end at pricePerHour.
// Anything shorter than minimum is billed as minimum, and an end before
// start counts as zero elapsed time. The result is not rounded.
func Bill(start, end time.Time, pricePerHour float64, minimum time.Duration) float64 {
	elapsed := end.Sub(start)
	if elapsed < 0 {
		elapsed = 0
	}
	return max(elapsed, minimum).Hours() * pricePerHour
}
