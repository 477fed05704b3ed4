package queue

import (
	"fmt"
	"time"
)

// RetryDelay returns the backoff before the attempt following the
// retryCount-th failure. Counts below 1 use the first delay and counts
// past the schedule use the last.
func RetryDelay(retryCount int) time.Duration {
	if retryCount < 1 {
		return retryDelays[0]
	}
	return retryDelays[min(retryCount-1, len(retryDelays)-1)]
}

// FormatRetryTime renders a next_retry_at timestamp relative to now, as
// in "in 5 minutes". Past or present times render as "now".
func FormatRetryTime(nextRetryAt int64, now time.Time) string {
	delta := nextRetryAt - now.Unix()
	switch {
	case delta <= 0:
		return "now"
	case delta < 60:
		return fmt.Sprintf("in %d seconds", delta)
	case delta < 3600:
		return "in " + plural(delta/60, "minute")
	case delta < 86400:
		return "in " + plural(delta/3600, "hour")
	default:
		return "in " + plural(delta/86400, "day")
	}
}

func plural(n int64, unit string) string {
	if n == 1 {
		return fmt.Sprintf("%d %s", n, unit)
	}
	return fmt.Sprintf("%d %ss", n, unit)
}
