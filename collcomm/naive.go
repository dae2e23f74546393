package collcomm

// A NaiveReducer has every rank send its vector straight
// to the root.
type NaiveReducer struct{}

// Reduce gathers every vector at the root and combines
// them there in rank order.
func (n NaiveReducer) Reduce(c *Comms, root int, data []float64, fn ReduceFn) ([]float64, error) {
	if c.Rank() != root {
		return nil, c.sendFloats(root, tagReduce, data)
	}

	gathered := make([][]float64, c.Size())
	gathered[root] = data
	for src := range gathered {
		if src == root {
			continue
		}
		vec, err := c.recvFloats(src, tagReduce)
		if err != nil {
			return nil, err
		}
		if len(vec) != len(data) {
			return nil, &SizeError{Source: src, Tag: tagReduce, Want: len(data), Got: len(vec)}
		}
		gathered[src] = vec
	}

	res := fn(gathered...)
	c.compute(reduceFlops(len(gathered), len(data)))
	return res, nil
}
