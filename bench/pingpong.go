package bench

import (
	"fmt"

	"github.com/unixpickle/commbench/wallclock"
)

const pingPongTag = 0

// IsSender reports whether rank sends during iteration k
// of the ping-pong loop. The role alternates between
// ranks 0 and 1 every iteration.
func IsSender(rank, k int) bool {
	return rank == k%2
}

// Partner gets the other rank of the ping-pong pair.
func Partner(rank int) int {
	return (rank + 1) % 2
}

// Bandwidth computes MB/s for a ping-pong run.
func Bandwidth(iterations, payload int, elapsed float64) float64 {
	return float64(iterations) * float64(payload) * 8.0 * 1e-6 / elapsed
}

// PingPong bounces a vector back and forth between two
// ranks and reports the bandwidth.
//
// The returned Result is nil on every rank but the
// coordinator.
func PingPong(env *Env) (*Result, error) {
	c := env.Comm
	log := env.logger().With("benchmark", "ping_pong", "rank", c.Rank())

	cfg, err := DistributeConfig(c, env.Args, ExactlyTwo)
	if err != nil {
		return nil, err
	}
	log.Debug("configured", "iterations", cfg.Iterations, "payload", cfg.Payload)

	vec := make([]float64, cfg.Payload)
	for i := range vec {
		vec[i] = float64(i)
	}

	if err := c.Barrier(); err != nil {
		return nil, c.Fail(err)
	}

	rank := c.Rank()
	var start float64
	if rank == Coordinator {
		start = c.Wtime()
	}

	partner := Partner(rank)
	for k := 0; k < cfg.Iterations; k++ {
		if IsSender(rank, k) {
			vec[k%cfg.Payload] += float64(k)
			err = c.Send(partner, pingPongTag, vec)
		} else {
			err = c.Recv(partner, pingPongTag, vec)
		}
		if err != nil {
			return nil, c.Fail(fmt.Errorf("iteration %d: %w", k, err))
		}
		env.observe(k, vec)
	}

	if rank != Coordinator {
		return nil, nil
	}
	end := c.Wtime()
	res := &Result{
		Config: cfg,
		Start:  start,
		End:    end,
		Value:  Bandwidth(cfg.Iterations, cfg.Payload, wallclock.Elapsed(start, end)),
		Unit:   UnitBandwidth,
	}
	log.Debug("finished", "elapsed", res.Elapsed())
	return res, res.Report(env.out())
}
