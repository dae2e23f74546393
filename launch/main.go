package launch

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/unixpickle/commbench/bench"
	"github.com/unixpickle/commbench/collcomm"
	"github.com/unixpickle/essentials"
)

// A Benchmark runs on every rank and returns a Result on
// the coordinator.
type Benchmark func(env *bench.Env) (*bench.Result, error)

// Main is the body of a benchmark program invoked as
// `<prog> [flags] <iterations> <payload_length>`.
//
// It prints the coordinator's metrics line to stdout. On
// failure it prints a single line to stderr and exits
// with a non-zero status.
func Main(b Benchmark) {
	err := RunProgram(context.Background(), os.Args, os.Stdout, b)
	if errors.Is(err, flag.ErrHelp) {
		os.Exit(2)
	} else if err != nil {
		essentials.Die(err)
	}
}

// RunProgram parses the command line and runs b.
func RunProgram(ctx context.Context, args []string, out io.Writer, b Benchmark) error {
	fs := flag.NewFlagSet(args[0], flag.ContinueOnError)
	fs.Usage = func() {
		fmt.Fprintln(fs.Output(), bench.Usage(args))
		fs.PrintDefaults()
	}
	opts := RegisterFlags(fs)
	flagArgs, positional := SplitArgs(fs, args[1:])
	if err := fs.Parse(flagArgs); err != nil {
		return err
	}
	benchArgs := append([]string{args[0]}, fs.Args()...)
	benchArgs = append(benchArgs, positional...)
	return Run(ctx, opts, opts.Logger(), func(c *collcomm.Comms, log *slog.Logger) error {
		_, err := b(&bench.Env{
			Comm: c,
			Args: benchArgs,
			Out:  out,
			Log:  log,
		})
		return err
	})
}

// SplitArgs separates the flags in args from the
// positional arguments that follow them.
//
// Flag parsing stops at the first argument that is not a
// flag, at "--", or at an integer, so that a negative
// iteration count reaches the benchmark instead of being
// taken for an unknown flag.
func SplitArgs(fs *flag.FlagSet, args []string) (flags, positional []string) {
	i := 0
	for i < len(args) {
		arg := args[i]
		if arg == "--" {
			return args[:i], args[i+1:]
		}
		if arg == "-" || !strings.HasPrefix(arg, "-") || isInteger(arg) {
			break
		}
		i++
		name := strings.TrimLeft(arg, "-")
		if strings.Contains(name, "=") {
			continue
		}
		if f := fs.Lookup(name); f != nil && !isBoolFlag(f) && i < len(args) {
			// The next argument is the flag's value.
			i++
		}
	}
	return args[:i], args[i:]
}

func isInteger(s string) bool {
	_, err := strconv.Atoi(s)
	return err == nil
}

func isBoolFlag(f *flag.Flag) bool {
	b, ok := f.Value.(interface{ IsBoolFlag() bool })
	return ok && b.IsBoolFlag()
}
