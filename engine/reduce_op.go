package engine

// A ReduceOp selects how allreduce combines tensors.
type ReduceOp int

const (
	// Average is never executed by the engine; callers
	// translate it to Sum with a divisor.
	Average ReduceOp = iota
	Sum
	Adasum
)

// String returns the operation's name.
func (r ReduceOp) String() string {
	switch r {
	case Average:
		return "Average"
	case Sum:
		return "Sum"
	case Adasum:
		return "Adasum"
	default:
		return "Unknown"
	}
}
