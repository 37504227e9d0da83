package engine

import (
	"time"

	"github.com/pkg/errors"
	"github.com/unixpickle/gradcomm/tensor"
)

// A Handle identifies an in-flight operation on one rank.
type Handle int

type opKind int

const (
	kindAllreduce opKind = iota
	kindAllgather
	kindBroadcast
)

func (k opKind) String() string {
	switch k {
	case kindAllreduce:
		return "allreduce"
	case kindAllgather:
		return "allgather"
	case kindBroadcast:
		return "broadcast"
	default:
		return "unknown"
	}
}

// A request is one rank's half of a collective operation.
type request struct {
	kind   opKind
	rank   int
	name   string
	handle Handle

	input  *tensor.Tensor
	output *tensor.Tensor

	op      ReduceOp
	divisor int
	root    int

	submitted time.Time
	done      chan struct{}
	err       error
}

func (r *request) finish(err error) {
	r.err = err
	close(r.done)
}

// matches checks if another rank's request can be
// executed together with r.
func (r *request) matches(other *request) error {
	if r.kind != other.kind {
		return errors.Wrapf(ErrMismatch, "%q: rank %d requested %s but rank %d requested %s",
			r.name, r.rank, r.kind, other.rank, other.kind)
	}
	if r.input.DType() != other.input.DType() {
		return errors.Wrapf(ErrMismatch, "%q: rank %d sent %s but rank %d sent %s",
			r.name, r.rank, r.input.DType(), other.rank, other.input.DType())
	}
	if r.input.Device().IsCPU() != other.input.Device().IsCPU() {
		return errors.Wrapf(ErrMismatch, "%q: mismatched CPU/GPU device selection: rank %d on %s, rank %d on %s",
			r.name, r.rank, r.input.Device(), other.rank, other.input.Device())
	}
	switch r.kind {
	case kindAllreduce:
		if r.op != other.op {
			return errors.Wrapf(ErrMismatch, "%q: rank %d requested %s but rank %d requested %s",
				r.name, r.rank, r.op, other.rank, other.op)
		}
		if r.divisor != other.divisor {
			return errors.Wrapf(ErrMismatch, "%q: rank %d uses divisor %d but rank %d uses %d",
				r.name, r.rank, r.divisor, other.rank, other.divisor)
		}
		fallthrough
	case kindBroadcast:
		if !tensor.ShapesEqual(r.input.Shape(), other.input.Shape()) {
			return errors.Wrapf(ErrMismatch, "%q: rank %d sent shape %v but rank %d sent %v",
				r.name, r.rank, r.input.Shape(), other.rank, other.input.Shape())
		}
		if r.kind == kindBroadcast && r.root != other.root {
			return errors.Wrapf(ErrMismatch, "%q: rank %d uses root %d but rank %d uses %d",
				r.name, r.rank, r.root, other.rank, other.root)
		}
	case kindAllgather:
		s1, s2 := r.input.Shape(), other.input.Shape()
		if len(s1) != len(s2) || !tensor.ShapesEqual(s1[1:], s2[1:]) {
			return errors.Wrapf(ErrMismatch, "%q: rank %d sent shape %v but rank %d sent %v; "+
				"only the first dimension may differ", r.name, r.rank, s1, other.rank, s2)
		}
	}
	return nil
}
