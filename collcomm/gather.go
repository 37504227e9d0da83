package collcomm

// Allgather sends data to every node and returns every
// node's vector, indexed by node.
//
// Vectors may have different lengths on different nodes.
func Allgather(c *Comms, data []float64) [][]float64 {
	gathered := make([][]float64, c.Size())
	c.Bcast(data)
	for i := 0; i < len(gathered)-1; i++ {
		incoming, source := c.Recv()
		gathered[source] = incoming
	}
	gathered[c.Index()] = data
	return gathered
}

// Broadcast sends data from the root node to every other
// node along a binomial tree and returns the root's
// vector on every node.
//
// The data argument is ignored on non-root nodes.
func Broadcast(c *Comms, root int, data []float64) []float64 {
	n := c.Size()
	if root < 0 || root >= n {
		panic("root index out of range")
	}
	virtual := (c.Index() - root + n) % n
	toIndex := func(v int) int {
		return (v + root) % n
	}

	mask := 1
	for mask < n {
		if virtual&mask != 0 {
			data, _ = c.Recv()
			break
		}
		mask <<= 1
	}
	for mask >>= 1; mask > 0; mask >>= 1 {
		if virtual+mask < n {
			c.Send(toIndex(virtual+mask), data)
		}
	}
	return data
}
