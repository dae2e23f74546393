package simulator

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSwitchedNetworkSingleMessage(t *testing.T) {
	loop := NewEventLoop()

	switcher := NewGreedyDropSwitcher(2, 2.0)
	nodes := NewNodes(2)
	node1, node2 := nodes[0].Port(loop), nodes[1].Port(loop)
	network := NewSwitchedNetwork(switcher, nodes, 3.0)

	loop.Go(func(h *Handle) {
		network.Send(h, &Message{
			Source:  node1,
			Dest:    node2,
			Message: "hi node 2",
			Size:    124.0,
		})
		if val := node1.Recv(h).Message; val != "hi node 1" {
			t.Errorf("unexpected message: %s", val)
		}
	})
	loop.Go(func(h *Handle) {
		network.Send(h, &Message{
			Source:  node2,
			Dest:    node1,
			Message: "hi node 1",
			Size:    124.0,
		})
		if val := node2.Recv(h).Message; val != "hi node 2" {
			t.Errorf("unexpected message: %s", val)
		}
	})

	if err := loop.Run(); err != nil {
		t.Fatal(err)
	}

	expectedTime := 124.0/2.0 + 3.0
	if loop.Time() != expectedTime {
		t.Errorf("time should be %f but got %f", expectedTime, loop.Time())
	}
}

func TestSwitchedNetworkOversubscribed(t *testing.T) {
	loop := NewEventLoop()

	dataRate := 4.0
	switcher := NewGreedyDropSwitcher(2, dataRate)
	nodes := NewNodes(2)
	node1, node2 := nodes[0].Port(loop), nodes[1].Port(loop)
	network := NewSwitchedNetwork(switcher, nodes, 2.0)

	loop.Go(func(h *Handle) {
		network.Send(h, &Message{
			Source:  node1,
			Dest:    node2,
			Message: "hi node 2 (message 1)",
			Size:    123.0,
		})
		network.Send(h, &Message{
			Source:  node1,
			Dest:    node2,
			Message: "hi node 2 (message 2)",
			Size:    124.0,
		})
		if val := node1.Recv(h).Message; val != "hi node 1" {
			t.Errorf("unexpected message: %s", val)
		}
		expectedTime := 1.0 + 2.0 + 124.0/dataRate
		if h.Time() != expectedTime {
			t.Errorf("expected time %f but got %f", expectedTime, h.Time())
		}
	})

	loop.Go(func(h *Handle) {
		// Make sure the other messages are in-flight.
		// This helps us test for the fact that we can
		// reschedule a message before the other messages.
		h.Sleep(1)

		network.Send(h, &Message{
			Source:  node2,
			Dest:    node1,
			Message: "hi node 1",
			Size:    124.0,
		})
		if val := node2.Recv(h).Message; val != "hi node 2 (message 1)" {
			t.Errorf("unexpected message: %s", val)
		}
		expectedTime := 2.0 + 2.0*123.0/dataRate
		if h.Time() != expectedTime {
			t.Errorf("expected time %f but got %f", expectedTime, h.Time())
		}
		if val := node2.Recv(h).Message; val != "hi node 2 (message 2)" {
			t.Errorf("unexpected message: %s", val)
		}
		expectedTime += 1.0 / dataRate
		if h.Time() != expectedTime {
			t.Errorf("expected time %f but got %f", expectedTime, h.Time())
		}
	})

	if err := loop.Run(); err != nil {
		t.Fatal(err)
	}

	expectedTime := 2.0 + 2.0*123.0/dataRate + 1.0/dataRate
	if loop.Time() != expectedTime {
		t.Errorf("time should be %f but got %f", expectedTime, loop.Time())
	}

	// Make sure that there are no stray messages.
	for _, node := range []*Port{node1, node2} {
		loop.Go(func(h *Handle) {
			h.Poll(node.Incoming)
		})
		if loop.Run() == nil {
			t.Error("expected deadlock error")
		}
	}
}

func TestLinkNetworkInOrder(t *testing.T) {
	loop := NewEventLoop()
	nodes := NewNodes(2)
	sender, receiver := nodes[0].Port(loop), nodes[1].Port(loop)
	network := NewLinkNetwork(2.0, 3.0)

	loop.Go(func(h *Handle) {
		network.Send(h, &Message{Source: sender, Dest: receiver, Message: 1, Size: 4})
		network.Send(h, &Message{Source: sender, Dest: receiver, Message: 2, Size: 4})
	})
	loop.Go(func(h *Handle) {
		for i, expectedTime := range []float64{5.0, 7.0} {
			msg := receiver.Recv(h)
			if msg.Message != i+1 {
				t.Errorf("message %d: got %v", i, msg.Message)
			}
			if h.Time() != expectedTime {
				t.Errorf("message %d: expected time %f but got %f", i, expectedTime, h.Time())
			}
		}
	})

	if err := loop.Run(); err != nil {
		t.Fatal(err)
	}
}

func TestLinkNetworkIdleLink(t *testing.T) {
	loop := NewEventLoop()
	nodes := NewNodes(2)
	a, b := nodes[0].Port(loop), nodes[1].Port(loop)
	network := NewLinkNetwork(8.0, 0.5)

	loop.Go(func(h *Handle) {
		network.Send(h, &Message{Source: a, Dest: b, Message: "ping", Size: 16})
		if msg := a.Recv(h); msg.Message != "pong" {
			t.Errorf("unexpected message: %v", msg.Message)
		}
	})
	loop.Go(func(h *Handle) {
		b.Recv(h)
		network.Send(h, &Message{Source: b, Dest: a, Message: "pong", Size: 16})
	})

	if err := loop.Run(); err != nil {
		t.Fatal(err)
	}
	if expected := 2 * (0.5 + 16.0/8.0); loop.Time() != expected {
		t.Errorf("time should be %f but got %f", expected, loop.Time())
	}
}

func TestInjectionTime(t *testing.T) {
	loop := NewEventLoop()
	nodes := NewNodes(3)
	ports := make([]*Port, len(nodes))
	for i, node := range nodes {
		ports[i] = node.Port(loop)
	}
	msg := &Message{Source: ports[1], Dest: ports[0], Size: 60}

	link := NewLinkNetwork(20, 5)
	assert.Equal(t, 3.0, link.InjectionTime(msg))

	// A slow download on the root of a reduction bounds
	// every transfer into it.
	switcher := NewGreedyDropSwitcherRates([]float64{30, 30, 30}, []float64{10, 30, 30})
	switched := NewSwitchedNetwork(switcher, nodes, 5)
	assert.Equal(t, 6.0, switched.InjectionTime(msg))
	msg.Dest = ports[2]
	assert.Equal(t, 2.0, switched.InjectionTime(msg))
}
