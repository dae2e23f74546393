package bench

import (
	"bytes"
	"errors"
	"math"
	"slices"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/unixpickle/commbench/collcomm"
	"github.com/unixpickle/commbench/simulator"
)

type benchmarkFn func(env *Env) (*Result, error)

// runOutcome records what every rank saw during a run.
type runOutcome struct {
	err       error
	result    *Result
	out       string
	snapshots [][][]float64
}

func runSim(t *testing.T, n int, fn benchmarkFn, args ...string) *runOutcome {
	loop := simulator.NewEventLoopSeed(1)
	network := simulator.NewLinkNetwork(1e9, 1e-3)
	return runWith(t, n, fn, args, func(f func(c *collcomm.Comms) error) error {
		return collcomm.SpawnSim(loop, network, simulator.NewNodes(n), f)
	})
}

func runLocal(t *testing.T, n int, fn benchmarkFn, args ...string) *runOutcome {
	return runWith(t, n, fn, args, func(f func(c *collcomm.Comms) error) error {
		return collcomm.SpawnLocal(n, f)
	})
}

func runWith(t *testing.T, n int, fn benchmarkFn, args []string,
	spawn func(f func(c *collcomm.Comms) error) error) *runOutcome {
	outcome := &runOutcome{snapshots: make([][][]float64, n)}
	var out bytes.Buffer
	var lock sync.Mutex
	outcome.err = spawn(func(c *collcomm.Comms) error {
		rank := c.Rank()
		env := &Env{
			Comm: c,
			Args: append([]string{"bench"}, args...),
			Out:  &out,
			Observe: func(k int, buf []float64) {
				outcome.snapshots[rank] = append(outcome.snapshots[rank], slices.Clone(buf))
			},
		}
		res, err := fn(env)
		if res != nil {
			lock.Lock()
			outcome.result = res
			lock.Unlock()
		}
		return err
	})
	outcome.out = out.String()
	return outcome
}

func TestIsSender(t *testing.T) {
	for k := 0; k < 100; k++ {
		zero, one := IsSender(0, k), IsSender(1, k)
		assert.NotEqual(t, zero, one, "iteration %d", k)
		assert.Equal(t, k%2 == 0, zero, "iteration %d", k)
	}
	assert.Equal(t, 1, Partner(0))
	assert.Equal(t, 0, Partner(1))
}

func TestParseConfig(t *testing.T) {
	tests := []struct {
		name  string
		size  int
		args  []string
		check SizeCheck
		cfg   RunConfig
		msg   string
	}{
		{"Valid", 2, []string{"ping_pong", "10", "4"}, ExactlyTwo, RunConfig{10, 4}, ""},
		{"ValidMany", 7, []string{"reduce", "1", "1"}, AtLeastTwo, RunConfig{1, 1}, ""},
		{"ThreeRanks", 3, []string{"ping_pong", "10", "4"}, ExactlyTwo, RunConfig{}, "We expect only two ranks."},
		{"OneRank", 1, []string{"reduce", "10", "4"}, AtLeastTwo, RunConfig{}, "We expect at least two ranks."},
		{"SizeFirst", 1, []string{"reduce"}, AtLeastTwo, RunConfig{}, "We expect at least two ranks."},
		{"MissingArgs", 2, []string{"/bin/ping_pong", "10"}, ExactlyTwo, RunConfig{},
			"Usage: ping_pong <# iterations> <vector_length>"},
		{"ExtraArgs", 2, []string{"reduce", "1", "2", "3"}, AtLeastTwo, RunConfig{},
			"Usage: reduce <# iterations> <vector_length>"},
		{"ZeroIterations", 2, []string{"reduce", "0", "4"}, AtLeastTwo, RunConfig{}, "Specify at least one iteration."},
		{"NegativeIterations", 2, []string{"reduce", "-3", "4"}, AtLeastTwo, RunConfig{}, "Specify at least one iteration."},
		{"BadIterations", 2, []string{"reduce", "ten", "4"}, AtLeastTwo, RunConfig{}, "Specify at least one iteration."},
		{"ZeroPayload", 2, []string{"ping_pong", "10", "0"}, ExactlyTwo, RunConfig{}, "Arrays should be non-empty."},
		{"BadPayload", 2, []string{"ping_pong", "10", "4.5"}, ExactlyTwo, RunConfig{}, "Arrays should be non-empty."},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			cfg, err := ParseConfig(test.size, test.args, test.check)
			if test.msg == "" {
				require.NoError(t, err)
				assert.Equal(t, test.cfg, cfg)
				return
			}
			var cfgErr *ConfigError
			require.True(t, errors.As(err, &cfgErr), "unexpected error: %v", err)
			assert.Equal(t, test.msg, cfgErr.Msg)
		})
	}
}

func TestDistributeConfig(t *testing.T) {
	const numRanks = 5
	configs := make([]RunConfig, numRanks)
	err := collcomm.SpawnLocal(numRanks, func(c *collcomm.Comms) error {
		// Only the coordinator's arguments count.
		args := []string{"reduce", "bogus"}
		if c.Rank() == Coordinator {
			args = []string{"reduce", "12", "34"}
		}
		cfg, err := DistributeConfig(c, args, AtLeastTwo)
		configs[c.Rank()] = cfg
		return err
	})
	require.NoError(t, err)
	for rank, cfg := range configs {
		assert.Equal(t, RunConfig{Iterations: 12, Payload: 34}, cfg, "rank %d", rank)
	}
}

func TestDistributeConfigAborts(t *testing.T) {
	errs := make([]error, 3)
	err := collcomm.SpawnLocal(3, func(c *collcomm.Comms) error {
		_, err := DistributeConfig(c, []string{"reduce", "0", "4"}, AtLeastTwo)
		errs[c.Rank()] = err
		return err
	})
	var cfgErr *ConfigError
	require.True(t, errors.As(err, &cfgErr))
	assert.Equal(t, "Specify at least one iteration.", cfgErr.Msg)
	for rank := 1; rank < 3; rank++ {
		var abortErr *collcomm.AbortError
		require.True(t, errors.As(errs[rank], &abortErr), "rank %d: %v", rank, errs[rank])
		assert.Equal(t, Coordinator, abortErr.Rank)
		assert.Equal(t, "Specify at least one iteration.", abortErr.Reason)
	}
}

func TestPingPong(t *testing.T) {
	outcome := runSim(t, 2, PingPong, "10", "4")
	require.NoError(t, outcome.err)

	res := outcome.result
	require.NotNil(t, res)
	assert.Equal(t, RunConfig{Iterations: 10, Payload: 4}, res.Config)
	assert.Greater(t, res.Start, 0.0, "timer must start after the barrier")
	assert.Greater(t, res.Elapsed(), 10*1e-3)
	assert.InEpsilon(t, (10*4*8)*1e-6/res.Elapsed(), res.Value, 1e-12)
	assert.Equal(t, UnitBandwidth, res.Unit)

	lines := strings.Split(strings.TrimSuffix(outcome.out, "\n"), "\n")
	require.Len(t, lines, 1)
	assert.Equal(t, res.Line(), outcome.out)
	assert.True(t, strings.HasSuffix(outcome.out, " MB/s\n"))
}

func TestPingPongBuffers(t *testing.T) {
	const iterations, payload = 9, 4
	outcome := runSim(t, 2, PingPong, "9", "4")
	require.NoError(t, outcome.err)

	expected := make([]float64, payload)
	for i := range expected {
		expected[i] = float64(i)
	}
	for rank := 0; rank < 2; rank++ {
		require.Len(t, outcome.snapshots[rank], iterations)
	}
	for k := 0; k < iterations; k++ {
		expected[k%payload] += float64(k)
		assert.Equal(t, expected, outcome.snapshots[0][k], "rank 0, iteration %d", k)
		assert.Equal(t, expected, outcome.snapshots[1][k], "rank 1, iteration %d", k)
	}
}

func TestPingPongLocal(t *testing.T) {
	outcome := runLocal(t, 2, PingPong, "100", "1000")
	require.NoError(t, outcome.err)
	require.NotNil(t, outcome.result)
	value, unit, err := ParseLine(outcome.out)
	require.NoError(t, err)
	assert.Equal(t, UnitBandwidth, unit)
	assert.Greater(t, value, 0.0)
}

func TestPingPongClock(t *testing.T) {
	// Each reading advances the clock by half a second.
	var lock sync.Mutex
	var now float64
	clock := func() float64 {
		lock.Lock()
		defer lock.Unlock()
		now += 0.5
		return now
	}
	outcome := runWith(t, 2, PingPong, []string{"10", "4"}, func(f func(c *collcomm.Comms) error) error {
		return collcomm.SpawnLocalClock(2, clock, f)
	})
	require.NoError(t, outcome.err)
	require.NotNil(t, outcome.result)
	assert.Equal(t, 0.5, outcome.result.Start)
	assert.Equal(t, 1.0, outcome.result.End)
	assert.InEpsilon(t, 10*4*8*1e-6/0.5, outcome.result.Value, 1e-12)
	assert.Equal(t, "0.000640000 MB/s\n", outcome.out)
}

func TestPingPongThreeRanks(t *testing.T) {
	outcome := runSim(t, 3, PingPong, "10", "4")
	var cfgErr *ConfigError
	require.True(t, errors.As(outcome.err, &cfgErr), "unexpected error: %v", outcome.err)
	assert.Equal(t, "We expect only two ranks.", cfgErr.Msg)
	assert.Empty(t, outcome.out)
	for rank := range outcome.snapshots {
		assert.Empty(t, outcome.snapshots[rank], "rank %d ran the loop", rank)
	}
}

// expectedRootAccumulator is the coordinator's reduced
// accumulator after iteration i on size ranks.
//
// Every rank adds one per iteration, starting from one,
// and the coordinator's own accumulator is replaced by
// the sum each time.
func expectedRootAccumulator(size, i int) float64 {
	return float64(i+2) + float64((size-1)*(i+1)*(i+4))/2
}

func TestReduceAccumulators(t *testing.T) {
	const numRanks, iterations, payload = 4, 3, 5
	for name, run := range map[string]func(*testing.T, int, benchmarkFn, ...string) *runOutcome{
		"Sim":   runSim,
		"Local": runLocal,
	} {
		t.Run(name, func(t *testing.T) {
			outcome := run(t, numRanks, Reduce, "3", "5")
			require.NoError(t, outcome.err)
			for rank := 0; rank < numRanks; rank++ {
				require.Len(t, outcome.snapshots[rank], iterations+1, "rank %d", rank)
				for i, acc := range outcome.snapshots[rank] {
					require.Len(t, acc, payload)
					expected := float64(i + 2)
					if rank == Coordinator {
						expected = expectedRootAccumulator(numRanks, i)
					}
					for _, x := range acc {
						assert.Equal(t, expected, x, "rank %d, iteration %d", rank, i)
					}
				}
			}
			// After the warm-up, the reduction is numRanks*(i+2).
			assert.Equal(t, float64(numRanks*2), outcome.snapshots[Coordinator][0][0])
		})
	}
}

func TestExpectedRootAccumulator(t *testing.T) {
	// Walk the recurrence directly.
	const size = 4
	root, other := 1.0, 1.0
	for i := 0; i < 10; i++ {
		other++
		root = root + 1 + other*(size-1)
		assert.Equal(t, root, expectedRootAccumulator(size, i), "iteration %d", i)
	}
}

func TestReduceResult(t *testing.T) {
	outcome := runSim(t, 3, Reduce, "6", "100")
	require.NoError(t, outcome.err)
	res := outcome.result
	require.NotNil(t, res)
	assert.Equal(t, UnitFlops, res.Unit)
	assert.Greater(t, res.Start, 1e-3, "warm-up must not be timed")
	assert.Equal(t, Flops(3, 100, 6, res.Elapsed()), res.Value)
	assert.InEpsilon(t, 1e-6*5*100*6/res.Elapsed(), res.Value, 1e-12)
	assert.True(t, strings.HasSuffix(outcome.out, " MFlops/s\n"))
	assert.Equal(t, 1, strings.Count(outcome.out, "\n"))
}

func TestReduceInvalid(t *testing.T) {
	tests := []struct {
		name  string
		ranks int
		args  []string
		msg   string
	}{
		{"OneRank", 1, []string{"5", "5"}, "We expect at least two ranks."},
		{"ZeroIterations", 3, []string{"0", "5"}, "Specify at least one iteration."},
		{"ZeroPayload", 3, []string{"5", "0"}, "Arrays should be non-empty."},
		{"NoArgs", 2, nil, "Usage: bench <# iterations> <vector_length>"},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			outcome := runSim(t, test.ranks, Reduce, test.args...)
			var cfgErr *ConfigError
			require.True(t, errors.As(outcome.err, &cfgErr), "unexpected error: %v", outcome.err)
			assert.Equal(t, test.msg, cfgErr.Msg)
			assert.Empty(t, outcome.out)
		})
	}
}

func TestPingPongZeroPayload(t *testing.T) {
	outcome := runSim(t, 2, PingPong, "10", "0")
	var cfgErr *ConfigError
	require.True(t, errors.As(outcome.err, &cfgErr))
	assert.Equal(t, "Arrays should be non-empty.", cfgErr.Msg)
}

func TestSmallestRun(t *testing.T) {
	for name, fn := range map[string]benchmarkFn{"PingPong": PingPong, "Reduce": Reduce} {
		t.Run(name, func(t *testing.T) {
			outcome := runSim(t, 2, fn, "1", "1")
			require.NoError(t, outcome.err)
			require.NotNil(t, outcome.result)
			value := outcome.result.Value
			assert.False(t, math.IsInf(value, 0) || math.IsNaN(value))
			assert.Greater(t, value, 0.0)
		})
	}
}

func TestParseLine(t *testing.T) {
	res := &Result{Value: 1234.5678901234, Unit: UnitBandwidth}
	value, unit, err := ParseLine(res.Line())
	require.NoError(t, err)
	assert.Equal(t, UnitBandwidth, unit)
	assert.InDelta(t, res.Value, value, 1e-9)

	value, unit, err = ParseLine("3.5e2 MFlops/s")
	require.NoError(t, err)
	assert.Equal(t, UnitFlops, unit)
	assert.Equal(t, 350.0, value)

	_, _, err = ParseLine("Usage: reduce <# iterations> <vector_length>")
	assert.Error(t, err)
}

func TestFormulas(t *testing.T) {
	assert.InEpsilon(t, 10*4*8*1e-6/0.5, Bandwidth(10, 4, 0.5), 1e-12)
	assert.InEpsilon(t, 1e-6*7*10*5/2.0, Flops(4, 10, 5, 2.0), 1e-12)
	assert.True(t, math.IsInf(Bandwidth(1, 1, 0), 1))
}
