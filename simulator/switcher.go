package simulator

import "slices"

// A Switcher decides how fast data flows between every
// pair of Nodes given which pairs are currently talking.
type Switcher interface {
	// SwitchedRates receives a matrix with a 1 for every
	// (source, destination) pair that has traffic and a 0
	// elsewhere, and overwrites it with the data rate of
	// each pair.
	SwitchedRates(mat *ConnMat)

	// PairRate gets the rate of a single transfer from
	// src to dst when the switch carries nothing else.
	PairRate(src, dst int) float64
}

// A GreedyDropSwitcher gives every Node a NIC with its own
// upload and download rate.
//
// A sender splits its upload rate evenly over its
// destinations. A receiver whose incoming traffic exceeds
// its download rate slows all of its senders by the same
// factor.
type GreedyDropSwitcher struct {
	SendRates []float64
	RecvRates []float64
}

// NewGreedyDropSwitcher creates a GreedyDropSwitcher in
// which every Node uploads and downloads at rate.
func NewGreedyDropSwitcher(numNodes int, rate float64) *GreedyDropSwitcher {
	rates := make([]float64, numNodes)
	for i := range rates {
		rates[i] = rate
	}
	return NewGreedyDropSwitcherRates(rates, rates)
}

// NewGreedyDropSwitcherRates creates a GreedyDropSwitcher
// with a rate per Node and direction.
//
// The slices are copied.
func NewGreedyDropSwitcherRates(sendRates, recvRates []float64) *GreedyDropSwitcher {
	if len(sendRates) != len(recvRates) {
		panic("send and receive rates differ in length")
	}
	return &GreedyDropSwitcher{
		SendRates: slices.Clone(sendRates),
		RecvRates: slices.Clone(recvRates),
	}
}

// NumNodes gets the number of Nodes on the switch.
func (g *GreedyDropSwitcher) NumNodes() int {
	return len(g.SendRates)
}

// PairRate is the slower of the sender's upload and the
// receiver's download rate.
func (g *GreedyDropSwitcher) PairRate(src, dst int) float64 {
	return min(g.SendRates[src], g.RecvRates[dst])
}

// SwitchedRates normalizes the rows of mat by the upload
// rates, then caps the columns at the download rates.
func (g *GreedyDropSwitcher) SwitchedRates(mat *ConnMat) {
	if mat.NumNodes() != g.NumNodes() {
		panic("unexpected number of nodes")
	}
	for src, rate := range g.SendRates {
		if fanOut := mat.SumSource(src); fanOut > 0 {
			mat.ScaleSource(src, rate/fanOut)
		}
	}
	for dst, rate := range g.RecvRates {
		if incoming := mat.SumDest(dst); incoming > rate {
			mat.ScaleDest(dst, rate/incoming)
		}
	}
}
