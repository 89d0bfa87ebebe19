// services/scalesvc/timerutil.go
package scalesvc

import "time"

// resetTimer stops, drains and re-arms t. Negative d fires at once.
func resetTimer(t *time.Timer, d time.Duration) {
	if !t.Stop() {
		drainTimer(t)
	}
	if d < 0 {
		d = 0
	}
	t.Reset(d)
}

func drainTimer(t *time.Timer) {
	select {
	case <-t.C:
	default:
	}
}
