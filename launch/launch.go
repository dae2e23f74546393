// Package launch starts a benchmark on one of the
// communication substrates, as chosen on the command line.
package launch

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/unixpickle/commbench/collcomm"
	"github.com/unixpickle/commbench/simulator"
	"github.com/unixpickle/essentials"
)

const (
	SubstrateLocal = "local"
	SubstrateSim   = "sim"
	SubstrateTCP   = "tcp"
)

// Options describes how to run a group of ranks.
type Options struct {
	// NumRanks is the group size for the local and sim
	// substrates. With tcp, the size is len(Peers).
	NumRanks  int
	Substrate string

	// Rank and Peers are only used by the tcp substrate.
	Rank  int
	Peers []string

	// Network, Latency, Rate and Seed configure the sim
	// substrate.
	Network string
	Latency float64
	Rate    float64
	Seed    int64

	// RootRate, if positive, is the download rate of
	// rank 0's NIC on the switched network, where every
	// reduction and ping-pong result lands.
	RootRate float64

	Reducer      string
	SetupTimeout time.Duration
	LogLevel     slog.Level
}

// DefaultOptions gets the options used when no flags are
// given.
func DefaultOptions() *Options {
	return &Options{
		NumRanks:     2,
		Substrate:    SubstrateLocal,
		Network:      "link",
		Latency:      1e-6,
		Rate:         1e9,
		Seed:         1,
		Reducer:      "tree",
		SetupTimeout: 30 * time.Second,
		LogLevel:     slog.LevelWarn,
	}
}

// RegisterFlags adds flags for every option to fs and
// returns the Options they fill in.
func RegisterFlags(fs *flag.FlagSet) *Options {
	o := DefaultOptions()
	fs.IntVar(&o.NumRanks, "np", o.NumRanks, "number of ranks (local and sim)")
	fs.StringVar(&o.Substrate, "substrate", o.Substrate, "substrate: local, sim, or tcp")
	fs.IntVar(&o.Rank, "rank", o.Rank, "this process's rank (tcp)")
	fs.Func("peers", "comma-separated host:port of every rank (tcp)", func(s string) error {
		o.Peers = strings.Split(s, ",")
		return nil
	})
	fs.StringVar(&o.Network, "network", o.Network, "simulated network: link or switched")
	fs.Float64Var(&o.Latency, "latency", o.Latency, "simulated per-message latency (seconds)")
	fs.Float64Var(&o.Rate, "rate", o.Rate, "simulated NIC rate (bytes/second)")
	fs.Float64Var(&o.RootRate, "root-rate", o.RootRate, "download rate of rank 0 (switched network; default -rate)")
	fs.Int64Var(&o.Seed, "seed", o.Seed, "simulator seed")
	fs.StringVar(&o.Reducer, "reducer", o.Reducer, "reduce algorithm: naive, tree, or stream")
	fs.DurationVar(&o.SetupTimeout, "setup-timeout", o.SetupTimeout, "time allowed to connect to peers (tcp)")
	fs.TextVar(&o.LogLevel, "log-level", o.LogLevel, "log level: debug, info, warn, or error")
	return o
}

// Size gets the number of ranks in the group.
func (o *Options) Size() int {
	if o.Substrate == SubstrateTCP {
		return len(o.Peers)
	}
	return o.NumRanks
}

// Validate checks the options for consistency.
func (o *Options) Validate() error {
	switch o.Substrate {
	case SubstrateLocal, SubstrateSim:
		if o.NumRanks < 1 {
			return fmt.Errorf("launch: need at least one rank, got %d", o.NumRanks)
		}
	case SubstrateTCP:
		if len(o.Peers) == 0 {
			return fmt.Errorf("launch: tcp substrate requires -peers")
		}
		if o.Rank < 0 || o.Rank >= len(o.Peers) {
			return fmt.Errorf("launch: rank %d out of range for %d peers", o.Rank, len(o.Peers))
		}
	default:
		return fmt.Errorf("launch: unknown substrate %q", o.Substrate)
	}
	if o.Substrate == SubstrateSim {
		if o.Network != "link" && o.Network != "switched" {
			return fmt.Errorf("launch: unknown network %q", o.Network)
		}
		if o.Rate <= 0 || o.Latency < 0 || o.RootRate < 0 {
			return fmt.Errorf("launch: invalid network rate %g or latency %g", o.Rate, o.Latency)
		}
	}
	if _, err := o.reducer(); err != nil {
		return err
	}
	return nil
}

func (o *Options) reducer() (collcomm.Reducer, error) {
	switch o.Reducer {
	case "naive":
		return collcomm.NaiveReducer{}, nil
	case "tree", "":
		return collcomm.TreeReducer{}, nil
	case "stream":
		return collcomm.StreamReducer{}, nil
	}
	return nil, fmt.Errorf("launch: unknown reducer %q", o.Reducer)
}

// Logger creates the root logger, writing to stderr.
func (o *Options) Logger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: o.LogLevel}))
}

// A RankFunc runs on every rank of the group with a
// logger tagged with the rank.
type RankFunc func(c *collcomm.Comms, log *slog.Logger) error

// Run starts the group and runs f on every rank of it
// that lives in this process.
//
// The result is the error that caused the group to fail,
// if any.
func Run(ctx context.Context, o *Options, log *slog.Logger, f RankFunc) error {
	if err := o.Validate(); err != nil {
		return err
	}
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	reducer, _ := o.reducer()
	wrapped := func(c *collcomm.Comms) error {
		c.Reducer = reducer
		return f(c, log.With("rank", c.Rank()))
	}

	switch o.Substrate {
	case SubstrateLocal:
		log.Debug("starting local group", "ranks", o.NumRanks)
		return collcomm.SpawnLocal(o.NumRanks, wrapped)
	case SubstrateSim:
		log.Debug("starting simulated group", "ranks", o.NumRanks, "network", o.Network)
		loop := simulator.NewEventLoopSeed(o.Seed)
		nodes := simulator.NewNodes(o.NumRanks)
		return collcomm.SpawnSim(loop, o.network(nodes), nodes, wrapped)
	default:
		return runTCP(ctx, o, log, wrapped)
	}
}

func (o *Options) network(nodes []*simulator.Node) simulator.Network {
	if o.Network == "switched" {
		return simulator.NewSwitchedNetwork(o.switcher(len(nodes)), nodes, o.Latency)
	}
	return simulator.NewLinkNetwork(o.Rate, o.Latency)
}

func runTCP(ctx context.Context, o *Options, log *slog.Logger, f func(c *collcomm.Comms) error) error {
	setupCtx, cancel := context.WithTimeout(ctx, o.SetupTimeout)
	defer cancel()
	log.Debug("connecting to peers", "rank", o.Rank, "peers", len(o.Peers))
	c, err := collcomm.DialTCP(setupCtx, o.Rank, o.Peers)
	if err != nil {
		return essentials.AddCtx("launch", err)
	}
	defer c.Close()
	return c.Fail(f(c))
}

func (o *Options) switcher(numNodes int) *simulator.GreedyDropSwitcher {
	send := make([]float64, numNodes)
	recv := make([]float64, numNodes)
	for i := range send {
		send[i], recv[i] = o.Rate, o.Rate
	}
	if o.RootRate > 0 {
		recv[0] = o.RootRate
	}
	return simulator.NewGreedyDropSwitcherRates(send, recv)
}
