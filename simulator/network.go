package simulator

import (
	"math"
	"sync"
)

// A Node is a simulated host. Each benchmark rank runs on
// its own Node.
type Node struct {
	unused int
}

// NewNode creates a new, unique Node.
func NewNode() *Node {
	return &Node{}
}

// NewNodes creates n unique Nodes.
func NewNodes(n int) []*Node {
	nodes := make([]*Node, n)
	for i := range nodes {
		nodes[i] = NewNode()
	}
	return nodes
}

// Port creates a new Port attached to the Node.
func (n *Node) Port(loop *EventLoop) *Port {
	return &Port{Node: n, Incoming: loop.Stream()}
}

// A Port is an endpoint on a Node that messages are sent
// from and delivered to.
type Port struct {
	// The Node to which the Port is attached.
	Node *Node

	// A stream of *Message objects.
	Incoming *EventStream
}

// Recv blocks until the next message arrives.
func (p *Port) Recv(h *Handle) *Message {
	return h.Poll(p.Incoming).Message.(*Message)
}

// A Message is a chunk of data moving between Ports.
type Message struct {
	Source  *Port
	Dest    *Port
	Message any

	// Size is the number of bytes on the wire.
	Size float64
}

// A Network moves Messages between Ports.
type Network interface {
	// Send hands messages to the network without
	// blocking. Each message eventually arrives on its
	// destination's Incoming stream.
	//
	// Passing several messages in one call lets the
	// network plan their delivery together.
	Send(h *Handle, msgs ...*Message)

	// InjectionTime gets how long the sender is busy
	// putting msg onto its link, assuming no other
	// traffic.
	InjectionTime(msg *Message) float64
}

// A LinkNetwork models every Node as having a dedicated
// link of a fixed rate. A message costs its latency plus
// its size divided by the rate, and messages into one
// destination are received back to back in the order
// they were sent.
//
// Because arrivals at a destination are serialized, two
// messages between the same pair of Ports always arrive
// in send order.
type LinkNetwork struct {
	// Rate is the link bandwidth in bytes per unit of
	// virtual time.
	Rate float64

	// Latency is a fixed per-message delay.
	Latency float64

	lock      sync.Mutex
	nextTimes map[*Node]float64
}

// NewLinkNetwork creates a LinkNetwork.
func NewLinkNetwork(rate, latency float64) *LinkNetwork {
	return &LinkNetwork{
		Rate:      rate,
		Latency:   latency,
		nextTimes: map[*Node]float64{},
	}
}

// Send schedules the messages for in-order delivery.
func (l *LinkNetwork) Send(h *Handle, msgs ...*Message) {
	l.lock.Lock()
	defer l.lock.Unlock()

	curTime := h.Time()
	for _, msg := range msgs {
		dest := msg.Dest.Node
		arrival := curTime + l.Latency + msg.Size/l.Rate
		if busyUntil, ok := l.nextTimes[dest]; ok && busyUntil > curTime {
			arrival = math.Max(arrival, busyUntil+msg.Size/l.Rate)
		}
		l.nextTimes[dest] = arrival
		h.Schedule(msg.Dest.Incoming, msg, arrival-curTime)
	}
}

// InjectionTime is the message size divided by the link
// rate.
func (l *LinkNetwork) InjectionTime(msg *Message) float64 {
	return msg.Size / l.Rate
}

// A SwitchedNetwork passes data through a Switcher.
// Messages that share a sender or receiver share its
// bandwidth, so concurrent traffic slows every message
// involved.
type SwitchedNetwork struct {
	lock sync.Mutex

	switcher Switcher
	nodes    []*Node
	latency  float64

	plan switchedPlan
}

// NewSwitchedNetwork creates a SwitchedNetwork.
//
// The latency is paid by every message before any of its
// bytes move, and it counts against the sender's share of
// the switch while it is being paid.
func NewSwitchedNetwork(switcher Switcher, nodes []*Node, latency float64) *SwitchedNetwork {
	return &SwitchedNetwork{
		switcher: switcher,
		nodes:    nodes,
		latency:  latency,
	}
}

// Send adds messages to the network and replans the
// delivery of everything in flight.
func (s *SwitchedNetwork) Send(h *Handle, msgs ...*Message) {
	s.lock.Lock()
	defer s.lock.Unlock()

	state := s.stopPlan(h)
	for _, msg := range msgs {
		state = append(state, &switchedMsg{
			msg:              msg,
			remainingLatency: s.latency,
			remainingSize:    msg.Size,
		})
	}
	s.createPlan(h, state)
}

// InjectionTime is the message size divided by the rate
// the switch gives the pair when it is otherwise idle.
func (s *SwitchedNetwork) InjectionTime(msg *Message) float64 {
	index := s.nodeIndices()
	return msg.Size / s.switcher.PairRate(index[msg.Source.Node], index[msg.Dest.Node])
}

func (s *SwitchedNetwork) nodeIndices() map[*Node]int {
	nodeToIndex := make(map[*Node]int, len(s.nodes))
	for i, node := range s.nodes {
		nodeToIndex[node] = i
	}
	return nodeToIndex
}

// stopPlan cancels all pending deliveries and returns the
// in-flight messages as of the current time.
func (s *SwitchedNetwork) stopPlan(h *Handle) []*switchedMsg {
	now := h.Time()
	var inFlight []*switchedMsg
	for _, seg := range s.plan {
		if now >= seg.endTime {
			// Already delivered.
			continue
		}
		if now >= seg.startTime {
			elapsed := now - seg.startTime
			for _, msg := range seg.startState {
				inFlight = append(inFlight, msg.AddTime(elapsed))
			}
		}
		for _, timer := range seg.timers {
			h.Cancel(timer)
		}
	}
	return inFlight
}

func (s *SwitchedNetwork) computeDataRates(state []*switchedMsg) {
	nodeToIndex := s.nodeIndices()

	mat := NewConnMat(len(s.nodes))
	counts := NewConnMat(len(s.nodes))
	for _, msg := range state {
		src, dst := nodeToIndex[msg.msg.Source.Node], nodeToIndex[msg.msg.Dest.Node]
		mat.Set(src, dst, 1)
		counts.Add(src, dst, 1)
	}
	s.switcher.SwitchedRates(mat)
	for _, msg := range state {
		src, dst := nodeToIndex[msg.msg.Source.Node], nodeToIndex[msg.msg.Dest.Node]
		msg.dataRate = mat.Get(src, dst) / counts.Get(src, dst)
	}
}

func (s *SwitchedNetwork) createPlan(h *Handle, state []*switchedMsg) {
	s.plan = make(switchedPlan, 0, len(state))
	startTime := h.Time()
	for len(state) > 0 {
		s.computeDataRates(state)

		nextMsgs, rest, lowestETA := messagesWithLowestETA(state)

		timers := make([]*Timer, len(nextMsgs))
		for i, msg := range nextMsgs {
			delay := startTime - h.Time() + lowestETA
			timers[i] = h.Schedule(msg.msg.Dest.Incoming, msg.msg, delay)
		}

		endTime := timers[0].Time()
		s.plan = append(s.plan, &switchedPlanSegment{
			startTime:  startTime,
			endTime:    endTime,
			timers:     timers,
			startState: state,
		})

		for i, msg := range rest {
			rest[i] = msg.AddTime(endTime - startTime)
		}
		state = rest
		startTime = endTime
	}
}

// switchedMsg is a message partway through the network.
type switchedMsg struct {
	msg *Message

	remainingLatency float64

	remainingSize float64
	dataRate      float64
}

// ETA gets the time until the message arrives at the
// current data rate.
func (s *switchedMsg) ETA() float64 {
	return math.Max(0, s.remainingLatency+s.remainingSize/s.dataRate)
}

// AddTime returns the message's state after t units of
// time at the current data rate.
func (s *switchedMsg) AddTime(t float64) *switchedMsg {
	res := *s

	if t < res.remainingLatency {
		res.remainingLatency -= t
		return &res
	}

	t -= res.remainingLatency
	res.remainingLatency = 0
	res.remainingSize -= res.dataRate * t

	return &res
}

// switchedPlanSegment is a span of time during which the
// set of in-flight messages does not change. It ends with
// at least one delivery.
type switchedPlanSegment struct {
	startTime float64
	endTime   float64
	timers    []*Timer

	startState []*switchedMsg
}

type switchedPlan []*switchedPlanSegment

func messagesWithLowestETA(msgs []*switchedMsg) (lowest, rest []*switchedMsg, lowestETA float64) {
	etas := make([]float64, len(msgs))
	for i, msg := range msgs {
		etas[i] = msg.ETA()
	}
	lowestETA = etas[0]
	for _, eta := range etas[1:] {
		lowestETA = math.Min(lowestETA, eta)
	}

	lowest = make([]*switchedMsg, 0, 1)
	rest = make([]*switchedMsg, 0, len(msgs)-1)
	for i, msg := range msgs {
		if etas[i] == lowestETA {
			lowest = append(lowest, msg)
		} else {
			rest = append(rest, msg)
		}
	}
	return lowest, rest, lowestETA
}
