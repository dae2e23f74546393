// Package wallclock provides the interval timer used by
// the benchmarks.
//
// Readings are seconds as a float64. A reading that
// cannot be taken is reported as 0 rather than as an
// error, so a broken clock shows up as a nonsensical
// throughput instead of a failed run.
package wallclock

// A Clock returns the current time in seconds.
//
// Readings must be non-decreasing for the duration of a
// benchmark run.
type Clock func() float64

// System is the Clock backed by the operating system.
var System Clock = Now

// Elapsed returns the number of seconds between two
// readings.
func Elapsed(start, end float64) float64 {
	return end - start
}
