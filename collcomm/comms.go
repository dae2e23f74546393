// Package collcomm implements an MPI-style communicator
// on top of interchangeable transports: Goroutines in a
// single process, the network simulator, and TCP between
// processes.
package collcomm

import (
	"errors"
	"slices"
)

// A transport moves envelopes between the ranks of one
// group. Each rank has its own transport, used by a
// single Goroutine.
type transport interface {
	rank() int
	size() int

	// send must not block waiting for the receiver.
	send(dst int, e *Envelope) error

	// recv blocks until the next envelope from src with
	// tag is available.
	recv(src, tag int) (*Envelope, error)

	// abort delivers the fault to every rank, including
	// this one.
	abort(f *Fault)

	now() float64
	close() error
}

// A computer is a transport that charges time for local
// arithmetic.
type computer interface {
	compute(flops int)
}

// Comms is one rank's view of a communication group.
//
// A Comms must only be used from one Goroutine.
type Comms struct {
	// Reducer implements Reduce.
	// If nil, a TreeReducer is used.
	Reducer Reducer

	t       transport
	seqs    map[route]uint64
	aborted bool
}

func newComms(t transport) *Comms {
	return &Comms{t: t, seqs: map[route]uint64{}}
}

// Rank gets the current rank, in [0, Size()).
func (c *Comms) Rank() int {
	return c.t.rank()
}

// Size gets the number of ranks in the group.
func (c *Comms) Size() int {
	return c.t.size()
}

// Wtime reads the transport's clock in seconds.
func (c *Comms) Wtime() float64 {
	return c.t.now()
}

// Send sends a copy of buf to dst.
func (c *Comms) Send(dst, tag int, buf []float64) error {
	if tag < 0 {
		return ErrReservedTag
	}
	return c.sendFloats(dst, tag, buf)
}

// Recv blocks until the next message from src with the
// given tag arrives, and copies it into buf.
//
// Messages with the same source and tag are received in
// the order they were sent.
func (c *Comms) Recv(src, tag int, buf []float64) error {
	if tag < 0 {
		return ErrReservedTag
	}
	return c.recvInto(src, tag, buf)
}

// Bcast copies root's buf into every other rank's buf.
func (c *Comms) Bcast(root int, buf []float64) error {
	if err := c.checkRank(root); err != nil {
		return err
	}
	if c.Rank() != root {
		return c.recvInto(root, tagBcast, buf)
	}
	for dst := 0; dst < c.Size(); dst++ {
		if dst != root {
			if err := c.sendFloats(dst, tagBcast, buf); err != nil {
				return err
			}
		}
	}
	return nil
}

// BcastInts copies root's vals into every other rank's
// vals.
func (c *Comms) BcastInts(root int, vals []int) error {
	if err := c.checkRank(root); err != nil {
		return err
	}
	if c.Rank() != root {
		e, err := c.recv(root, tagBcast)
		if err != nil {
			return err
		}
		if len(e.Ints) != len(vals) {
			return &SizeError{Source: root, Tag: tagBcast, Want: len(vals), Got: len(e.Ints)}
		}
		copy(vals, e.Ints)
		return nil
	}
	for dst := 0; dst < c.Size(); dst++ {
		if dst != root {
			if err := c.send(dst, tagBcast, &Envelope{Ints: slices.Clone(vals)}); err != nil {
				return err
			}
		}
	}
	return nil
}

// Barrier blocks until every rank has called Barrier.
func (c *Comms) Barrier() error {
	if c.Rank() != 0 {
		if err := c.send(0, tagBarrier, &Envelope{}); err != nil {
			return err
		}
		_, err := c.recv(0, tagRelease)
		return err
	}
	for src := 1; src < c.Size(); src++ {
		if _, err := c.recv(src, tagBarrier); err != nil {
			return err
		}
	}
	for dst := 1; dst < c.Size(); dst++ {
		if err := c.send(dst, tagRelease, &Envelope{}); err != nil {
			return err
		}
	}
	return nil
}

// Reduce sums buf element-wise across all ranks and
// stores the result in root's buf.
// Other ranks' buffers are left unchanged.
func (c *Comms) Reduce(root int, buf []float64) error {
	if err := c.checkRank(root); err != nil {
		return err
	}
	reducer := c.Reducer
	if reducer == nil {
		reducer = TreeReducer{}
	}
	res, err := reducer.Reduce(c, root, buf, Sum)
	if err != nil {
		return err
	}
	if c.Rank() == root {
		copy(buf, res)
	}
	return nil
}

// Abort makes every rank's pending and future
// communication fail with an *AbortError describing err.
//
// Only the first call has an effect.
func (c *Comms) Abort(err error) {
	if c.aborted {
		return
	}
	c.aborted = true
	c.t.abort(&Fault{Rank: c.Rank(), Reason: err.Error()})
}

// Fail aborts the group on behalf of err and returns
// err. It does nothing if err is nil or is itself the
// result of an abort.
func (c *Comms) Fail(err error) error {
	var abortErr *AbortError
	if err != nil && !errors.As(err, &abortErr) {
		c.Abort(err)
	}
	return err
}

// Close releases the transport's resources.
func (c *Comms) Close() error {
	return c.t.close()
}

func (c *Comms) compute(flops int) {
	if comp, ok := c.t.(computer); ok {
		comp.compute(flops)
	}
}

func (c *Comms) checkRank(rank int) error {
	if rank < 0 || rank >= c.Size() {
		return ErrBadRank
	}
	return nil
}

func (c *Comms) send(dst, tag int, e *Envelope) error {
	if dst == c.Rank() {
		return ErrBadRank
	}
	if err := c.checkRank(dst); err != nil {
		return err
	}
	r := route{peer: dst, tag: tag}
	e.Source = c.Rank()
	e.Tag = tag
	e.Seq = c.seqs[r]
	c.seqs[r]++
	return c.t.send(dst, e)
}

func (c *Comms) recv(src, tag int) (*Envelope, error) {
	if src == c.Rank() {
		return nil, ErrBadRank
	}
	if err := c.checkRank(src); err != nil {
		return nil, err
	}
	return c.t.recv(src, tag)
}

func (c *Comms) sendFloats(dst, tag int, buf []float64) error {
	return c.send(dst, tag, &Envelope{Floats: slices.Clone(buf)})
}

func (c *Comms) recvFloats(src, tag int) ([]float64, error) {
	e, err := c.recv(src, tag)
	if err != nil {
		return nil, err
	}
	return e.Floats, nil
}

func (c *Comms) recvInto(src, tag int, buf []float64) error {
	data, err := c.recvFloats(src, tag)
	if err != nil {
		return err
	}
	if len(data) != len(buf) {
		return &SizeError{Source: src, Tag: tag, Want: len(buf), Got: len(data)}
	}
	copy(buf, data)
	return nil
}
