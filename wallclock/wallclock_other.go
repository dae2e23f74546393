//go:build !linux && !darwin

package wallclock

import "time"

var anchor = time.Now()

// Now returns the seconds elapsed since the process
// started, using Go's monotonic clock reading.
func Now() float64 {
	return time.Since(anchor).Seconds()
}
