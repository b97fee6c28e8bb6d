package retry

import "time"

// MaxRetries is the attempt cap per single-channel job. A job whose
// retryCount reaches it is dead-lettered, never re-queued.
const MaxRetries = 5

// backoffLadder holds the delay applied to a job carrying the matching
// retryCount. Indexes past the end clamp to the last entry.
var backoffLadder = []time.Duration{
	60 * time.Second,
	300 * time.Second,
	900 * time.Second,
	1800 * time.Second,
	3600 * time.Second,
}

// Delay returns the wait before the next attempt for a job at retryCount.
func Delay(retryCount int) time.Duration {
	if retryCount < 0 {
		retryCount = 0
	}
	if retryCount >= len(backoffLadder) {
		retryCount = len(backoffLadder) - 1
	}
	return backoffLadder[retryCount]
}

// NextRetryAt computes the due time for a job at retryCount.
func NextRetryAt(now time.Time, retryCount int) time.Time {
	return now.Add(Delay(retryCount))
}
