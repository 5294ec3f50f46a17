package payments

import "time"

// DefaultRetrySchedule is the retry ladder used when none is configured.
var DefaultRetrySchedule = []time.Duration{time.Minute, 5 * time.Minute, 30 * time.Minute, 2 * time.Hour}

// Backoff returns the delay before retry number attempt (1-based). Attempts
// past the end of the schedule reuse its last step.
func Backoff(schedule []time.Duration, attempt int) time.Duration {
	if len(schedule) == 0 {
		schedule = DefaultRetrySchedule
	}
	if attempt < 1 {
		attempt = 1
	}
	if attempt > len(schedule) {
		return schedule[len(schedule)-1]
	}
	return schedule[attempt-1]
}
