// ABOUTME: Reconnect backoff policy
// ABOUTME: Exponential delay with a hard cap and a bounded attempt count
package gateway

import "time"

const (
	// maxReconnectAttempts is the ceiling after which reconnection is
	// abandoned permanently for the current connect cycle.
	maxReconnectAttempts = 5

	backoffBase = 1 * time.Second
	backoffCap  = 30 * time.Second

	// invalidSessionDelay is the fixed wait before a full re-handshake
	// after INVALID_SESSION. This path bypasses the attempt counter.
	invalidSessionDelay = 5 * time.Second
)

// backoffDelay returns the wait before the given reconnect attempt
// (1-based, i.e. after the counter has been incremented): base * 2^attempt,
// capped.
func backoffDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if attempt > 10 {
		return backoffCap
	}
	d := backoffBase << uint(attempt)
	if d > backoffCap {
		return backoffCap
	}
	return d
}
