package collcomm

import (
	"context"
	"encoding/gob"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/unixpickle/commbench/wallclock"
	"github.com/unixpickle/essentials"
	"golang.org/x/sync/errgroup"
)

// DialRetryInterval is how long DialTCP waits before
// retrying a peer that is not listening yet.
var DialRetryInterval = 100 * time.Millisecond

type tcpPeer struct {
	lock sync.Mutex
	conn net.Conn
	enc  *gob.Encoder
	dec  *gob.Decoder
}

func newTCPPeer(conn net.Conn) *tcpPeer {
	return &tcpPeer{conn: conn, enc: gob.NewEncoder(conn), dec: gob.NewDecoder(conn)}
}

func (p *tcpPeer) write(v any) error {
	p.lock.Lock()
	defer p.lock.Unlock()
	return p.enc.Encode(v)
}

// tcpTransport runs one rank per process and keeps a
// connection to every other rank.
type tcpTransport struct {
	self  int
	peers []*tcpPeer
	box   *mailbox
	clock wallclock.Clock
}

// DialTCP joins a group in which rank i listens on
// addrs[i]. Every rank of the group must call DialTCP
// with the same addrs.
//
// Ranks connect to every lower rank and accept from every
// higher rank, retrying until ctx is done. Once the mesh
// is complete, communication never times out.
func DialTCP(ctx context.Context, rank int, addrs []string) (*Comms, error) {
	if rank < 0 || rank >= len(addrs) {
		return nil, ErrBadRank
	}
	listener, err := net.Listen("tcp", addrs[rank])
	if err != nil {
		return nil, essentials.AddCtx("collcomm: listen", err)
	}
	defer listener.Close()

	t := &tcpTransport{
		self:  rank,
		peers: make([]*tcpPeer, len(addrs)),
		box:   newMailbox(),
		clock: wallclock.System,
	}

	var peerLock sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return t.acceptHigher(gctx, listener, &peerLock)
	})
	for dst := 0; dst < rank; dst++ {
		dst := dst
		g.Go(func() error {
			peer, err := dialPeer(gctx, addrs[dst], rank)
			if err != nil {
				return essentials.AddCtx(fmt.Sprintf("collcomm: dial rank %d", dst), err)
			}
			peerLock.Lock()
			t.peers[dst] = peer
			peerLock.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		t.close()
		return nil, err
	}

	for i, peer := range t.peers {
		if peer != nil {
			go t.readLoop(i, peer)
		}
	}
	return newComms(t), nil
}

func (t *tcpTransport) acceptHigher(ctx context.Context, listener net.Listener, peerLock *sync.Mutex) error {
	remaining := len(t.peers) - t.self - 1
	if remaining == 0 {
		return nil
	}
	stop := context.AfterFunc(ctx, func() {
		listener.Close()
	})
	defer stop()
	for ; remaining > 0; remaining-- {
		conn, err := listener.Accept()
		if err != nil {
			return essentials.AddCtx("collcomm: accept", err)
		}
		peer := newTCPPeer(conn)
		var src int
		if err := peer.dec.Decode(&src); err != nil {
			conn.Close()
			return essentials.AddCtx("collcomm: handshake", err)
		}
		peerLock.Lock()
		if src <= t.self || src >= len(t.peers) || t.peers[src] != nil {
			peerLock.Unlock()
			conn.Close()
			return fmt.Errorf("collcomm: unexpected handshake from rank %d", src)
		}
		t.peers[src] = peer
		peerLock.Unlock()
	}
	return nil
}

func dialPeer(ctx context.Context, addr string, self int) (*tcpPeer, error) {
	var dialer net.Dialer
	for {
		conn, err := dialer.DialContext(ctx, "tcp", addr)
		if err == nil {
			peer := newTCPPeer(conn)
			if err := peer.write(self); err != nil {
				conn.Close()
				return nil, err
			}
			return peer, nil
		}
		select {
		case <-ctx.Done():
			return nil, err
		case <-time.After(DialRetryInterval):
		}
	}
}

func (t *tcpTransport) readLoop(src int, peer *tcpPeer) {
	for {
		var e Envelope
		if err := peer.dec.Decode(&e); err != nil {
			t.box.closePeer(src)
			return
		}
		t.box.put(&e)
	}
}

func (t *tcpTransport) rank() int {
	return t.self
}

func (t *tcpTransport) size() int {
	return len(t.peers)
}

func (t *tcpTransport) send(dst int, e *Envelope) error {
	if err := t.peers[dst].write(e); err != nil {
		return essentials.AddCtx(fmt.Sprintf("collcomm: send to rank %d", dst), err)
	}
	return nil
}

func (t *tcpTransport) recv(src, tag int) (*Envelope, error) {
	return t.box.get(src, tag)
}

func (t *tcpTransport) abort(f *Fault) {
	for dst, peer := range t.peers {
		if peer != nil && dst != t.self {
			// The peer may already be gone.
			peer.write(&Envelope{Source: t.self, Tag: tagFault, Fault: f})
		}
	}
	t.box.put(&Envelope{Source: t.self, Tag: tagFault, Fault: f})
}

func (t *tcpTransport) now() float64 {
	return t.clock()
}

func (t *tcpTransport) close() error {
	var firstErr error
	for _, peer := range t.peers {
		if peer == nil {
			continue
		}
		if err := peer.conn.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
