package collcomm

import (
	"github.com/unixpickle/commbench/simulator"
)

// FlopTime is the virtual time it takes to perform a
// single floating-point operation in a simulated
// reduction.
const FlopTime = 1e-9

// simTransport runs a rank on a simulator Node.
type simTransport struct {
	handle  *simulator.Handle
	network simulator.Network
	port    *simulator.Port
	ports   []*simulator.Port
	self    int
	m       *matcher
}

func (s *simTransport) rank() int {
	return s.self
}

func (s *simTransport) size() int {
	return len(s.ports)
}

// send returns once the sender has put the message on
// its link; the message is still in flight.
func (s *simTransport) send(dst int, e *Envelope) error {
	msg := s.message(dst, e)
	s.network.Send(s.handle, msg)
	s.handle.Sleep(s.network.InjectionTime(msg))
	return nil
}

func (s *simTransport) recv(src, tag int) (*Envelope, error) {
	for {
		e, err := s.m.take(src, tag)
		if e != nil || err != nil {
			return e, err
		}
		s.m.put(s.port.Recv(s.handle).Message.(*Envelope))
	}
}

func (s *simTransport) abort(f *Fault) {
	msgs := make([]*simulator.Message, 0, len(s.ports)-1)
	for dst := range s.ports {
		if dst != s.self {
			msgs = append(msgs, s.message(dst, &Envelope{Source: s.self, Tag: tagFault, Fault: f}))
		}
	}
	if len(msgs) > 0 {
		s.network.Send(s.handle, msgs...)
	}
	s.m.put(&Envelope{Source: s.self, Tag: tagFault, Fault: f})
}

func (s *simTransport) message(dst int, e *Envelope) *simulator.Message {
	return &simulator.Message{
		Source:  s.port,
		Dest:    s.ports[dst],
		Message: e,
		Size:    e.wireSize(),
	}
}

func (s *simTransport) now() float64 {
	return s.handle.Time()
}

func (s *simTransport) compute(flops int) {
	s.handle.Sleep(FlopTime * float64(flops))
}

func (s *simTransport) close() error {
	return nil
}

// SpawnSim runs f for every node of a simulated network,
// each node in its own Goroutine on loop, and runs the
// loop to completion.
//
// Rank i runs on nodes[i]. Clocks read the loop's
// virtual time.
//
// The result is simulator.ErrDeadlock if the ranks stop
// making progress, or else the root cause of any failure.
func SpawnSim(loop *simulator.EventLoop, network simulator.Network, nodes []*simulator.Node,
	f func(c *Comms) error) error {
	ports := make([]*simulator.Port, len(nodes))
	for i, node := range nodes {
		ports[i] = node.Port(loop)
	}
	errs := make([]error, len(nodes))
	for i := range nodes {
		rank := i
		loop.Go(func(h *simulator.Handle) {
			c := newComms(&simTransport{
				handle:  h,
				network: network,
				port:    ports[rank],
				ports:   ports,
				self:    rank,
				m:       newMatcher(),
			})
			errs[rank] = c.Fail(f(c))
		})
	}
	if err := loop.Run(); err != nil {
		return err
	}
	return RootCause(errs)
}
