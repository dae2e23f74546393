package bench

import (
	"fmt"

	"github.com/unixpickle/commbench/wallclock"
)

// Flops computes MFlops/s for a reduce run on size
// ranks.
//
// Each element of each iteration costs size local
// additions plus size-1 additions in the reduction.
func Flops(size, payload, iterations int, elapsed float64) float64 {
	return 1e-6 * (2.0*float64(size) - 1.0) * float64(payload) * float64(iterations) / elapsed
}

// Reduce repeatedly adds a vector of ones into an
// accumulator and sums the accumulators onto the
// coordinator, then reports the floating-point
// throughput.
//
// Iteration 0 is a warm-up: the timer starts after a
// barrier at the beginning of iteration 1, and the loop
// runs Iterations+1 times in total.
//
// The returned Result is nil on every rank but the
// coordinator.
func Reduce(env *Env) (*Result, error) {
	c := env.Comm
	log := env.logger().With("benchmark", "reduce", "rank", c.Rank())

	cfg, err := DistributeConfig(c, env.Args, AtLeastTwo)
	if err != nil {
		return nil, err
	}
	log.Debug("configured", "iterations", cfg.Iterations, "payload", cfg.Payload)

	vector := make([]float64, 2*cfg.Payload)
	acc, ones := vector[:cfg.Payload], vector[cfg.Payload:]
	for i := range vector {
		vector[i] = 1.0
	}

	rank := c.Rank()
	var start float64
	for k := 0; k <= cfg.Iterations; k++ {
		if k == 1 {
			if err := c.Barrier(); err != nil {
				return nil, c.Fail(err)
			}
			if rank == Coordinator {
				start = c.Wtime()
			}
			log.Debug("warm-up done")
		}
		for i, x := range ones {
			acc[i] += x
		}
		if err := c.Reduce(Coordinator, acc); err != nil {
			return nil, c.Fail(fmt.Errorf("iteration %d: %w", k, err))
		}
		env.observe(k, acc)
	}

	if rank != Coordinator {
		return nil, nil
	}
	end := c.Wtime()
	res := &Result{
		Config: cfg,
		Start:  start,
		End:    end,
		Value:  Flops(c.Size(), cfg.Payload, cfg.Iterations, wallclock.Elapsed(start, end)),
		Unit:   UnitFlops,
	}
	log.Debug("finished", "elapsed", res.Elapsed())
	return res, res.Report(env.out())
}
