package capture

import (
	"time"

	"github.com/angelmondragon/fulfillment-engine/internal/payments"
)

// DefaultSchedule is shared with authorization retries.
var DefaultSchedule = payments.DefaultRetrySchedule

// Backoff returns the delay before capture retry number attempt (1-based).
func Backoff(schedule []time.Duration, attempt int) time.Duration {
	return payments.Backoff(schedule, attempt)
}
