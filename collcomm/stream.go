package collcomm

// A StreamReducer splits a vector up into chunks and
// streams them through a ring of all the ranks, so every
// link carries data at once.
//
// The ring starts at the rank after the root and ends at
// the root. Each rank adds its own part of every chunk
// before passing it on.
type StreamReducer struct {
	// Granularity determines how many chunks the data is
	// split up into.
	// The actual number of chunks is multiplied by the
	// number of ranks.
	//
	// If Granularity is 0, it is treated as 1.
	Granularity int
}

// Reduce pipelines the chunks around the ring and returns
// the combined vector at the root.
func (s StreamReducer) Reduce(c *Comms, root int, data []float64, fn ReduceFn) ([]float64, error) {
	size := c.Size()
	if size == 1 {
		return data, nil
	}
	idx := (c.Rank() - root + size) % size
	prev := (idx - 1 + size) % size
	next := (idx + 1) % size

	var reduced []float64
	if idx == 0 {
		reduced = make([]float64, 0, len(data))
	}
	for _, chunk := range s.chunkify(size, data) {
		partial := chunk
		if idx != 1 {
			src := (prev + root) % size
			in, err := c.recvFloats(src, tagReduce)
			if err != nil {
				return nil, err
			}
			if len(in) != len(chunk) {
				return nil, &SizeError{Source: src, Tag: tagReduce, Want: len(chunk), Got: len(in)}
			}
			partial = fn(in, chunk)
			c.compute(reduceFlops(2, len(chunk)))
		}
		if idx == 0 {
			reduced = append(reduced, partial...)
		} else if err := c.sendFloats((next+root)%size, tagReduce, partial); err != nil {
			return nil, err
		}
	}
	return reduced, nil
}

func (s StreamReducer) chunkify(size int, data []float64) [][]float64 {
	granularity := s.Granularity
	if granularity == 0 {
		granularity = 1
	}
	chunkSize := len(data) / (size * granularity)
	if chunkSize < 1 {
		chunkSize = 1
	}
	var res [][]float64
	for i := 0; i < len(data); i += chunkSize {
		res = append(res, data[i:min(i+chunkSize, len(data))])
	}
	return res
}
