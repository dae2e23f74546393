// Command reduce measures the throughput of a sum
// reduction across every rank.
//
//	reduce [flags] <# iterations> <vector_length>
package main

import (
	"github.com/unixpickle/commbench/bench"
	"github.com/unixpickle/commbench/launch"
)

func main() {
	launch.Main(bench.Reduce)
}
