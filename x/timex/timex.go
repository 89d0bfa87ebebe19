package timex

import "time"

// NowMs returns Unix milliseconds as int64.
func NowMs() int64 { return time.Now().UnixMilli() }

// Period returns the time between conversions at sps samples per second.
// sps <= 0 is coerced to 1.
func Period(sps int) time.Duration {
	if sps <= 0 {
		sps = 1
	}
	return time.Second / time.Duration(sps)
}
