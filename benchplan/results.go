package benchplan

import (
	"encoding/csv"
	"io"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// A Measurement is the outcome of running one Row.
type Measurement struct {
	Row

	// PingPong is the ping-pong bandwidth in MB/s.
	PingPong float64

	// Reduce is the reduce throughput in MFlops/s.
	Reduce float64
}

// Results collects the measurements of one sweep.
type Results struct {
	ID      uuid.UUID
	Started time.Time
	Rows    []Measurement
}

// NewResults creates an empty result set with a fresh ID.
func NewResults(started time.Time) *Results {
	return &Results{ID: uuid.New(), Started: started}
}

// Add appends a measurement.
func (r *Results) Add(m Measurement) {
	r.Rows = append(r.Rows, m)
}

// WriteCSV writes a header and one line per measurement.
func (r *Results) WriteCSV(w io.Writer) error {
	writer := csv.NewWriter(w)
	writer.Write([]string{"run_id", "iterations", "vector_sz", "ping_pong_mb_s", "reduce_mflops_s"})
	id := r.ID.String()
	for _, m := range r.Rows {
		writer.Write([]string{
			id,
			strconv.Itoa(m.Iterations),
			strconv.Itoa(m.VectorSize),
			strconv.FormatFloat(m.PingPong, 'f', -1, 64),
			strconv.FormatFloat(m.Reduce, 'f', -1, 64),
		})
	}
	writer.Flush()
	return writer.Error()
}

// ResultsFileName gets the name of the results file for a
// sweep started at t.
func ResultsFileName(t time.Time) string {
	return "results-" + t.UTC().Format("20060102T150405Z") + ".csv"
}
