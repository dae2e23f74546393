package collcomm

import (
	"sync"

	"github.com/unixpickle/commbench/wallclock"
)

// A mailbox is a matcher that can be filled from other
// Goroutines while its owner blocks on it.
type mailbox struct {
	lock sync.Mutex
	m    *matcher
	wake chan struct{}
}

func newMailbox() *mailbox {
	return &mailbox{m: newMatcher(), wake: make(chan struct{}, 1)}
}

func (b *mailbox) put(e *Envelope) {
	b.lock.Lock()
	b.m.put(e)
	b.lock.Unlock()
	b.signal()
}

func (b *mailbox) closePeer(peer int) {
	b.lock.Lock()
	b.m.closePeer(peer)
	b.lock.Unlock()
	b.signal()
}

func (b *mailbox) signal() {
	select {
	case b.wake <- struct{}{}:
	default:
	}
}

// get blocks until take succeeds. Only the mailbox's
// owner may call it.
func (b *mailbox) get(src, tag int) (*Envelope, error) {
	for {
		b.lock.Lock()
		e, err := b.m.take(src, tag)
		b.lock.Unlock()
		if e != nil || err != nil {
			return e, err
		}
		<-b.wake
	}
}

// localTransport connects ranks that are Goroutines in
// the same process.
type localTransport struct {
	boxes []*mailbox
	self  int
	clock wallclock.Clock
}

func (l *localTransport) rank() int {
	return l.self
}

func (l *localTransport) size() int {
	return len(l.boxes)
}

func (l *localTransport) send(dst int, e *Envelope) error {
	l.boxes[dst].put(e)
	return nil
}

func (l *localTransport) recv(src, tag int) (*Envelope, error) {
	return l.boxes[l.self].get(src, tag)
}

func (l *localTransport) abort(f *Fault) {
	for _, box := range l.boxes {
		box.put(&Envelope{Source: l.self, Tag: tagFault, Fault: f})
	}
}

func (l *localTransport) now() float64 {
	return l.clock()
}

func (l *localTransport) close() error {
	return nil
}

// SpawnLocal runs f on n ranks, each in its own
// Goroutine, and waits for all of them.
//
// If f fails on a rank that has not aborted the group,
// the group is aborted on its behalf.
// The result is the root cause of any failure.
func SpawnLocal(n int, f func(c *Comms) error) error {
	return SpawnLocalClock(n, wallclock.System, f)
}

// SpawnLocalClock is like SpawnLocal with a custom clock.
func SpawnLocalClock(n int, clock wallclock.Clock, f func(c *Comms) error) error {
	boxes := make([]*mailbox, n)
	for i := range boxes {
		boxes[i] = newMailbox()
	}
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := range boxes {
		wg.Add(1)
		go func(rank int) {
			defer wg.Done()
			c := newComms(&localTransport{boxes: boxes, self: rank, clock: clock})
			errs[rank] = c.Fail(f(c))
		}(i)
	}
	wg.Wait()
	return RootCause(errs)
}
