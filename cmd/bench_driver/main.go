// Command bench_driver runs both benchmarks over every
// row of a plan and writes the throughputs to a CSV file.
package main

import (
	"bytes"
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/unixpickle/commbench/bench"
	"github.com/unixpickle/commbench/benchplan"
	"github.com/unixpickle/commbench/collcomm"
	"github.com/unixpickle/commbench/launch"
	"github.com/unixpickle/essentials"
)

func main() {
	var planPath string
	var outDir string
	var retries int
	flag.StringVar(&planPath, "plan", "benchmarks.csv", "plan file (.csv, .yaml, or .toml)")
	flag.StringVar(&outDir, "out", "results", "directory for the results file")
	flag.IntVar(&retries, "retries", 3, "attempts per benchmark before giving up")
	opts := launch.RegisterFlags(flag.CommandLine)
	flag.Parse()

	if opts.Substrate == launch.SubstrateTCP {
		essentials.Die("bench_driver runs every rank in-process; use -substrate local or sim")
	}
	log := opts.Logger()

	plan, err := benchplan.Load(planPath)
	if err != nil {
		essentials.Die(err)
	}

	started := time.Now()
	results := benchplan.NewResults(started)
	log.Info("starting sweep", "run", results.ID, "rows", len(plan.Rows))

	pingPongOpts := *opts
	pingPongOpts.NumRanks = 2
	for _, row := range plan.Rows {
		m := benchplan.Measurement{Row: row}
		m.PingPong, err = measure(&pingPongOpts, log, bench.PingPong, row, retries)
		if err != nil {
			essentials.Die(err)
		}
		m.Reduce, err = measure(opts, log, bench.Reduce, row, retries)
		if err != nil {
			essentials.Die(err)
		}
		fmt.Printf("iterations=%d vector_sz=%d: %f MB/s, %f MFlops/s\n",
			row.Iterations, row.VectorSize, m.PingPong, m.Reduce)
		results.Add(m)
	}

	essentials.Must(os.MkdirAll(outDir, 0755))
	outPath := filepath.Join(outDir, benchplan.ResultsFileName(started))
	f, err := os.Create(outPath)
	if err != nil {
		essentials.Die(err)
	}
	defer f.Close()
	if err := results.WriteCSV(f); err != nil {
		essentials.Die(err)
	}
	log.Info("wrote results", "path", outPath)
}

// measure runs one benchmark on one row and extracts the
// throughput from its output.
func measure(opts *launch.Options, log *slog.Logger, b launch.Benchmark, row benchplan.Row,
	retries int) (float64, error) {
	args := []string{"bench", strconv.Itoa(row.Iterations), strconv.Itoa(row.VectorSize)}
	var lastErr error
	for attempt := 0; attempt < max(retries, 1); attempt++ {
		var out bytes.Buffer
		lastErr = launch.Run(context.Background(), opts, log, func(c *collcomm.Comms, log *slog.Logger) error {
			_, err := b(&bench.Env{Comm: c, Args: args, Out: &out, Log: log})
			return err
		})
		if lastErr == nil {
			value, _, err := bench.ParseLine(out.String())
			if err == nil {
				return value, nil
			}
			lastErr = err
		}
		log.Warn("benchmark attempt failed", "attempt", attempt, "error", lastErr)
	}
	return 0, essentials.AddCtx(fmt.Sprintf("iterations=%d vector_sz=%d", row.Iterations, row.VectorSize), lastErr)
}
