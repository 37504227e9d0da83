package allreduce

import "github.com/unixpickle/gradcomm/collcomm"

// A TreeAllreducer arranges the nodes in a binary tree
// and performs a reduction by going up the tree to a
// root node, and then back down the tree to the leaves.
type TreeAllreducer struct{}

// Allreduce calls fn on vectors along a tree and returns
// the resulting reduced vector.
func (t TreeAllreducer) Allreduce(c *collcomm.Comms, data []float64,
	fn collcomm.ReduceFn) []float64 {
	parent, children := positionInTree(c.Index(), c.Size())

	// Children may report in any order, but the reduction
	// always sees them in index order.
	messages := make([][]float64, 1+len(children))
	messages[0] = data
	for range children {
		msg, source := c.Recv()
		for i, child := range children {
			if child == source {
				messages[i+1] = msg
			}
		}
	}

	finalVector := fn(messages...)
	if parent >= 0 {
		c.Send(parent, finalVector)
		finalVector, _ = c.Recv()
	}

	for _, child := range children {
		c.Send(child, finalVector)
	}

	return finalVector
}

// positionInTree returns the child indices and parent
// index for a node in the reduction tree.
//
// There may be no children.
// The parent is -1 for the root node.
func positionInTree(idx, size int) (parent int, children []int) {
	parent = -1
	if idx > 0 {
		parent = (idx - 1) / 2
	}
	for _, child := range []int{2*idx + 1, 2*idx + 2} {
		if child < size {
			children = append(children, child)
		}
	}
	return
}
