package simulator

// A ConnMat holds one value per ordered pair of Nodes:
// row src, column dst.
type ConnMat struct {
	numNodes int
	rates    []float64
}

// NewConnMat creates an all-zero matrix.
func NewConnMat(numNodes int) *ConnMat {
	return &ConnMat{
		numNodes: numNodes,
		rates:    make([]float64, numNodes*numNodes),
	}
}

// NumNodes returns the number of rows (and columns).
func (c *ConnMat) NumNodes() int {
	return c.numNodes
}

func (c *ConnMat) Get(src, dst int) float64 {
	return c.rates[c.index(src, dst)]
}

func (c *ConnMat) Set(src, dst int, value float64) {
	c.rates[c.index(src, dst)] = value
}

// Add adds delta to an entry, for counting messages
// between a pair.
func (c *ConnMat) Add(src, dst int, delta float64) {
	c.rates[c.index(src, dst)] += delta
}

// SumDest totals the traffic into dst.
func (c *ConnMat) SumDest(dst int) float64 {
	return c.sum(c.index(0, dst), c.numNodes)
}

// SumSource totals the traffic out of src.
func (c *ConnMat) SumSource(src int) float64 {
	return c.sum(c.index(src, 0), 1)
}

// ScaleDest multiplies the traffic into dst by scale.
func (c *ConnMat) ScaleDest(dst int, scale float64) {
	c.scale(c.index(0, dst), c.numNodes, scale)
}

// ScaleSource multiplies the traffic out of src by
// scale.
func (c *ConnMat) ScaleSource(src int, scale float64) {
	c.scale(c.index(src, 0), 1, scale)
}

// sum adds up a row (stride 1) or a column (stride
// numNodes) beginning at start.
func (c *ConnMat) sum(start, stride int) float64 {
	var total float64
	for i := 0; i < c.numNodes; i++ {
		total += c.rates[start+i*stride]
	}
	return total
}

func (c *ConnMat) scale(start, stride int, scale float64) {
	for i := 0; i < c.numNodes; i++ {
		c.rates[start+i*stride] *= scale
	}
}

func (c *ConnMat) index(src, dst int) int {
	if src < 0 || dst < 0 || src >= c.numNodes || dst >= c.numNodes {
		panic("index out of bounds")
	}
	return src*c.numNodes + dst
}
