// Command ping_pong measures point-to-point bandwidth
// between two ranks.
//
//	ping_pong [flags] <# iterations> <vector_length>
package main

import (
	"github.com/unixpickle/commbench/bench"
	"github.com/unixpickle/commbench/launch"
)

func main() {
	launch.Main(bench.PingPong)
}
