package allreduce

import (
	"github.com/unixpickle/gradcomm/collcomm"
)

// A DoublingAllreducer performs recursive doubling: in
// round k, every node exchanges its partial result with
// the node whose index differs in bit k.
//
// The reduction function always sees the lower-indexed
// partial result first, so non-commutative but symmetric
// reductions like collcomm.AdasumPair produce identical
// vectors on every node.
// Reducing with collcomm.Adasum matches the balanced tree
// that collcomm.Adasum builds over node order.
//
// The number of nodes must be a power of two.
type DoublingAllreducer struct{}

// Allreduce runs the recursive doubling rounds.
//
// It panics if the number of nodes is not a power of two.
func (d DoublingAllreducer) Allreduce(c *collcomm.Comms, data []float64,
	fn collcomm.ReduceFn) []float64 {
	if !PowerOfTwo(c.Size()) {
		panic("recursive doubling requires a power of two nodes")
	}
	res := append([]float64{}, data...)
	idx := c.Index()

	// A partner from a later round may send before the
	// current partner does.
	early := map[int][]float64{}
	recvFrom := func(partner int) []float64 {
		if vec, ok := early[partner]; ok {
			delete(early, partner)
			return vec
		}
		for {
			vec, source := c.Recv()
			if source == partner {
				return vec
			}
			early[source] = vec
		}
	}

	for mask := 1; mask < c.Size(); mask <<= 1 {
		partner := idx ^ mask
		c.Send(partner, res)
		incoming := recvFrom(partner)
		if idx < partner {
			res = fn(res, incoming)
		} else {
			res = fn(incoming, res)
		}
	}
	return res
}
