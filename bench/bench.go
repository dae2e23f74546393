// Package bench implements the ping-pong and reduce
// benchmarks on top of an MPI-style communicator.
//
// Every rank runs the same benchmark function. Rank 0, the
// coordinator, parses the arguments, times the run and
// reports the throughput; the other ranks only take part
// in the communication.
package bench

import (
	"io"
	"log/slog"
	"os"
)

// Coordinator is the rank that parses arguments, keeps
// time and reports.
const Coordinator = 0

// Comm is the message-passing substrate a benchmark runs
// on. *collcomm.Comms implements it.
type Comm interface {
	Rank() int
	Size() int

	// Wtime reads the substrate's clock in seconds.
	Wtime() float64

	Send(dst, tag int, buf []float64) error
	Recv(src, tag int, buf []float64) error
	BcastInts(root int, vals []int) error
	Barrier() error

	// Reduce sums buf across ranks into root's buf.
	Reduce(root int, buf []float64) error

	// Fail aborts every rank on behalf of err, unless err
	// came from an abort already, and returns err.
	Fail(err error) error
}

// Env is everything a benchmark needs on one rank.
type Env struct {
	Comm Comm

	// Args are the program name followed by the
	// positional arguments. Only the coordinator reads
	// them.
	Args []string

	// Out receives the coordinator's metrics line.
	// Defaults to os.Stdout.
	Out io.Writer

	// Log defaults to a logger that discards everything.
	Log *slog.Logger

	// Observe, if set, is called with the benchmark
	// buffer after every iteration.
	Observe func(k int, buf []float64)
}

func (e *Env) out() io.Writer {
	if e.Out == nil {
		return os.Stdout
	}
	return e.Out
}

func (e *Env) logger() *slog.Logger {
	if e.Log == nil {
		return slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return e.Log
}

func (e *Env) observe(k int, buf []float64) {
	if e.Observe != nil {
		e.Observe(k, buf)
	}
}
