package collcomm

// A TreeReducer arranges the ranks in a binary tree
// rooted at the reduction root and combines vectors on
// the way up.
type TreeReducer struct{}

// Reduce combines each rank's data with its children's
// partial results and forwards the result to its parent.
func (t TreeReducer) Reduce(c *Comms, root int, data []float64, fn ReduceFn) ([]float64, error) {
	size := c.Size()
	idx := (c.Rank() - root + size) % size
	parent, children := positionInTree(idx, size)

	messages := [][]float64{data}
	for _, child := range children {
		src := (child + root) % size
		vec, err := c.recvFloats(src, tagReduce)
		if err != nil {
			return nil, err
		}
		if len(vec) != len(data) {
			return nil, &SizeError{Source: src, Tag: tagReduce, Want: len(data), Got: len(vec)}
		}
		messages = append(messages, vec)
	}

	partial := data
	if len(messages) > 1 {
		partial = fn(messages...)
		c.compute(reduceFlops(len(messages), len(data)))
	}
	if parent < 0 {
		return partial, nil
	}
	return nil, c.sendFloats((parent+root)%size, tagReduce, partial)
}

// positionInTree returns the parent and children of the
// node at index idx in a binary heap of the given size.
//
// The root's parent is -1. There may be no children.
func positionInTree(idx, size int) (parent int, children []int) {
	parent = -1
	if idx > 0 {
		parent = (idx - 1) / 2
	}
	for child := 2*idx + 1; child <= 2*idx+2 && child < size; child++ {
		children = append(children, child)
	}
	return
}
