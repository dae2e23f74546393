package bench

import (
	"fmt"
	"io"
	"regexp"
	"strconv"

	"github.com/unixpickle/commbench/wallclock"
)

const (
	UnitBandwidth = "MB/s"
	UnitFlops     = "MFlops/s"
)

var lineExpr = regexp.MustCompile(`([-+]?[0-9]*\.?[0-9]+(?:[eE][-+]?[0-9]+)?)\s?(MB/s|MFlops/s)`)

// A Result is the coordinator's measurement of one run.
type Result struct {
	Config RunConfig

	// Start and End are the clock readings bounding the
	// timed window.
	Start float64
	End   float64

	Value float64
	Unit  string
}

// Elapsed gets the length of the timed window in seconds.
func (r *Result) Elapsed() float64 {
	return wallclock.Elapsed(r.Start, r.End)
}

// Line formats the result as the single line a benchmark
// prints.
func (r *Result) Line() string {
	return fmt.Sprintf("%.9f %s\n", r.Value, r.Unit)
}

// Report writes Line to w.
func (r *Result) Report(w io.Writer) error {
	_, err := io.WriteString(w, r.Line())
	return err
}

// ParseLine extracts the value and unit from benchmark
// output such as "12.500000000 MB/s".
func ParseLine(line string) (float64, string, error) {
	match := lineExpr.FindStringSubmatch(line)
	if match == nil {
		return 0, "", fmt.Errorf("no throughput in %q", line)
	}
	value, err := strconv.ParseFloat(match[1], 64)
	if err != nil {
		return 0, "", err
	}
	return value, match[2], nil
}
