package allreduce

import "github.com/unixpickle/gradcomm/collcomm"

// A RingAllreducer splits the vector into one segment per
// node and runs a reduce-scatter followed by an allgather
// around a ring.
//
// Each node sends 2*(n-1)/n times the vector size, which
// makes the ring bandwidth-optimal for large vectors.
type RingAllreducer struct{}

// Allreduce reduces data around the ring.
func (r RingAllreducer) Allreduce(c *collcomm.Comms, data []float64,
	fn collcomm.ReduceFn) []float64 {
	n := c.Size()
	res := append([]float64{}, data...)
	if n == 1 {
		return res
	}
	idx := c.Index()
	next := (idx + 1) % n
	segment := func(i int) []float64 {
		i = ((i % n) + n) % n
		return res[i*len(res)/n : (i+1)*len(res)/n]
	}

	// After step s of the reduce-scatter, segment idx-s-1
	// holds the reduction of s+2 nodes.
	// Messages from the previous node arrive in order, so
	// the segment index is implied by the step.
	for s := 0; s < n-1; s++ {
		c.Send(next, append([]float64{}, segment(idx-s)...))
		incoming, _ := c.Recv()
		seg := segment(idx - s - 1)
		copy(seg, fn(incoming, seg))
	}

	// Segment idx+1 is now fully reduced; pass the final
	// segments around the ring.
	for s := 0; s < n-1; s++ {
		c.Send(next, append([]float64{}, segment(idx+1-s)...))
		incoming, _ := c.Recv()
		copy(segment(idx-s), incoming)
	}

	return res
}
