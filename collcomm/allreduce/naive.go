package allreduce

import "github.com/unixpickle/gradcomm/collcomm"

// A NaiveAllreducer sends every vector from every node
// to every other node.
type NaiveAllreducer struct{}

// Allreduce runs fn() on all of the nodes' vectors on
// every node.
func (n NaiveAllreducer) Allreduce(c *collcomm.Comms, data []float64,
	fn collcomm.ReduceFn) []float64 {
	return fn(collcomm.Allgather(c, data)...)
}
