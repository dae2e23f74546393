package collcomm

// A ReduceFn combines equal-length vectors into one.
// It must not modify its arguments.
type ReduceFn func(vecs ...[]float64) []float64

// Sum is a ReduceFn that computes a vector sum.
func Sum(vecs ...[]float64) []float64 {
	for _, v := range vecs[1:] {
		if len(v) != len(vecs[0]) {
			panic("mismatching lengths")
		}
	}
	res := make([]float64, len(vecs[0]))
	for _, v := range vecs {
		for i, x := range v {
			res[i] += x
		}
	}
	return res
}

// A Reducer is an algorithm for combining a vector from
// every rank at a single root.
type Reducer interface {
	// Reduce applies fn to every rank's data.
	// The root receives the result; other ranks receive
	// nil.
	Reduce(c *Comms, root int, data []float64, fn ReduceFn) ([]float64, error)
}

// reduceFlops counts the additions needed to combine
// numVecs vectors of the given length.
func reduceFlops(numVecs, length int) int {
	return (numVecs - 1) * length
}
