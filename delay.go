package nimi

import "time"

// waitDelay waits for d, racing against cancel. It reports true if
// cancellation fired first, in which case the caller must not spawn again
// (spec.md §4.4 DELAY: "racey against cancellation... transitions directly
// to DONE without re-spawning").
func waitDelay(cancel *Token, d time.Duration) (cancelled bool) {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-cancel.Done():
		return true
	case <-timer.C:
		return false
	}
}
