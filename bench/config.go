package bench

import (
	"fmt"
	"path/filepath"
	"strconv"
)

// RunConfig is the configuration of one benchmark run.
// Both fields are positive and identical on every rank.
type RunConfig struct {
	Iterations int
	Payload    int
}

// A ConfigError is an invalid invocation, detected by the
// coordinator before anything is timed.
type ConfigError struct {
	Msg string
}

func (c *ConfigError) Error() string {
	return c.Msg
}

// A SizeCheck validates the number of ranks.
type SizeCheck func(size int) error

// ExactlyTwo accepts a group of two ranks.
func ExactlyTwo(size int) error {
	if size != 2 {
		return &ConfigError{Msg: "We expect only two ranks."}
	}
	return nil
}

// AtLeastTwo accepts a group of two or more ranks.
func AtLeastTwo(size int) error {
	if size < 2 {
		return &ConfigError{Msg: "We expect at least two ranks."}
	}
	return nil
}

// ParseConfig validates a group size and the arguments
// `<prog> <iterations> <payload_length>`.
//
// Checks run in order: group size, argument count,
// iterations, payload. A value that is not a positive
// integer fails its check.
func ParseConfig(size int, args []string, check SizeCheck) (RunConfig, error) {
	if err := check(size); err != nil {
		return RunConfig{}, err
	}
	if len(args) != 3 {
		return RunConfig{}, &ConfigError{Msg: Usage(args)}
	}
	iterations, ok := parsePositive(args[1])
	if !ok {
		return RunConfig{}, &ConfigError{Msg: "Specify at least one iteration."}
	}
	payload, ok := parsePositive(args[2])
	if !ok {
		return RunConfig{}, &ConfigError{Msg: "Arrays should be non-empty."}
	}
	return RunConfig{Iterations: iterations, Payload: payload}, nil
}

// Usage returns the usage line for a program invoked
// with args.
func Usage(args []string) string {
	prog := "benchmark"
	if len(args) > 0 {
		prog = filepath.Base(args[0])
	}
	return fmt.Sprintf("Usage: %s <# iterations> <vector_length>", prog)
}

func parsePositive(s string) (int, bool) {
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}

// DistributeConfig gives every rank the coordinator's
// RunConfig.
//
// The coordinator parses args; if they are invalid it
// aborts the whole group, so every rank returns an error.
// The other ranks ignore args.
func DistributeConfig(c Comm, args []string, check SizeCheck) (RunConfig, error) {
	vals := make([]int, 2)
	if c.Rank() == Coordinator {
		cfg, err := ParseConfig(c.Size(), args, check)
		if err != nil {
			return RunConfig{}, c.Fail(err)
		}
		vals[0], vals[1] = cfg.Iterations, cfg.Payload
	}
	if err := c.BcastInts(Coordinator, vals); err != nil {
		return RunConfig{}, c.Fail(err)
	}
	return RunConfig{Iterations: vals[0], Payload: vals[1]}, nil
}
