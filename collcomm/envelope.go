package collcomm

import (
	"fmt"

	"github.com/unixpickle/essentials"
)

// Reserved tags used by the collective operations.
// User tags must be non-negative.
const (
	tagBcast = -1 - iota
	tagBarrier
	tagRelease
	tagReduce
	tagFault
)

// envelopeHeader is the simulated wire cost of the
// fields other than the payload.
const envelopeHeader = 24

// An Envelope is a single message on any transport.
type Envelope struct {
	Source int
	Tag    int

	// Seq counts messages from Source to the receiver with
	// the same Tag, starting at 0.
	Seq uint64

	Floats []float64
	Ints   []int

	// Fault is set on the message sent by Abort.
	Fault *Fault
}

// A Fault describes why a rank aborted the group.
type Fault struct {
	Rank   int
	Reason string
}

func (e *Envelope) wireSize() float64 {
	return float64(envelopeHeader + 8*(len(e.Floats)+len(e.Ints)))
}

type route struct {
	peer int
	tag  int
}

// A matcher holds envelopes that arrived before anybody
// asked for them, and hands them out in per-route
// sequence order regardless of arrival order.
type matcher struct {
	pending []*Envelope
	next    map[route]uint64
	closed  map[int]bool
	fault   *AbortError
}

func newMatcher() *matcher {
	return &matcher{next: map[route]uint64{}, closed: map[int]bool{}}
}

func (m *matcher) put(e *Envelope) {
	if e.Fault != nil {
		if m.fault == nil {
			m.fault = &AbortError{Rank: e.Fault.Rank, Reason: e.Fault.Reason}
		}
		return
	}
	m.pending = append(m.pending, e)
}

// closePeer records that no more envelopes will arrive
// from a peer.
func (m *matcher) closePeer(peer int) {
	m.closed[peer] = true
}

// take returns the next envelope on the route, or nil if
// it has not arrived yet.
func (m *matcher) take(src, tag int) (*Envelope, error) {
	if m.fault != nil {
		return nil, m.fault
	}
	r := route{peer: src, tag: tag}
	want := m.next[r]
	for i, e := range m.pending {
		if e.Source == src && e.Tag == tag && e.Seq == want {
			essentials.OrderedDelete(&m.pending, i)
			m.next[r] = want + 1
			return e, nil
		}
	}
	if m.closed[src] {
		return nil, fmt.Errorf("collcomm: connection to rank %d closed", src)
	}
	return nil, nil
}
