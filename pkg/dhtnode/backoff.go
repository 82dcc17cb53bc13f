package dhtnode

import "time"

const (
	minPeerCountForBootstrap = 2
	maxConsecutiveFailures   = 5
	baseBootstrapInterval    = 30 * time.Second
	maxBootstrapInterval     = 300 * time.Second
)

// backoffInterval returns the spacing required before the next bootstrap
// attempt after consecutiveFailures consecutive failures:
// min(30 * 2^min(failures,4), 300) seconds.
func backoffInterval(consecutiveFailures uint64) time.Duration {
	shift := consecutiveFailures
	if shift > 4 {
		shift = 4
	}
	interval := baseBootstrapInterval * time.Duration(uint64(1)<<shift)
	if interval > maxBootstrapInterval {
		return maxBootstrapInterval
	}
	return interval
}

// shouldBootstrap evaluates the three predicates the periodic timer checks:
// fewer than minPeerCountForBootstrap connected peers, fewer than
// maxConsecutiveFailures consecutive bootstrap failures, and at least the
// failure-scaled backoff interval elapsed since the last attempt.
func shouldBootstrap(peerCount int, consecutiveFailures uint64, lastAttempt time.Time, now time.Time) bool {
	if peerCount >= minPeerCountForBootstrap {
		return false
	}
	if consecutiveFailures >= maxConsecutiveFailures {
		return false
	}
	if lastAttempt.IsZero() {
		return true
	}
	return now.Sub(lastAttempt) >= backoffInterval(consecutiveFailures)
}
