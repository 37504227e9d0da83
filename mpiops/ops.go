// Package mpiops exposes differentiable collective
// operations on tensors: allreduce, allgather, broadcast,
// and join.
//
// Each rank uses its own Ops. Async calls return a handle
// right away; Synchronize waits for the result.
package mpiops

import (
	"sync"

	"github.com/pkg/errors"
	"github.com/unixpickle/gradcomm/basics"
	"github.com/unixpickle/gradcomm/collcomm/allreduce"
	"github.com/unixpickle/gradcomm/engine"
	"github.com/unixpickle/gradcomm/tensor"
	"k8s.io/klog/v2"
)

// Ops dispatches collective operations for one rank.
type Ops struct {
	*basics.Basics

	lock sync.Mutex

	// handles keeps the tensors of in-flight operations
	// referenced until they are synchronized.
	handles map[engine.Handle]handleEntry
}

type handleEntry struct {
	input  *tensor.Tensor
	output *tensor.Tensor
}

// New creates an Ops for a rank's engine.
func New(e *engine.Engine) *Ops {
	return &Ops{
		Basics:  basics.New(e),
		handles: map[engine.Handle]handleEntry{},
	}
}

// Poll checks if an asynchronous operation has completed.
// Once it returns true, Synchronize will not block.
func (o *Ops) Poll(h engine.Handle) (bool, error) {
	return o.Engine().Poll(h)
}

// Synchronize waits for an asynchronous operation and
// returns its output tensor.
//
// A handle that is unknown or was already synchronized
// yields a nil tensor and no error.
func (o *Ops) Synchronize(h engine.Handle) (*tensor.Tensor, error) {
	o.lock.Lock()
	entry, ok := o.handles[h]
	delete(o.handles, h)
	o.lock.Unlock()
	if !ok {
		return nil, nil
	}
	if err := o.Engine().WaitAndClear(h); err != nil {
		return nil, err
	}
	return entry.output, nil
}

// Join signals that this rank has no more operations to
// submit and blocks until every rank has joined.
//
// Until then, the rank contributes zeros created on device
// to other ranks' reductions.
// It returns the last rank to join.
func (o *Ops) Join(device tensor.Device) (int, error) {
	return o.Engine().Join(device)
}

// AllreduceAsync starts reducing t across all ranks into a
// new tensor. The input is not modified.
func (o *Ops) AllreduceAsync(t *tensor.Tensor, opts ...Option) (engine.Handle, error) {
	options := resolveOptions(opts)
	op, err := options.reduceOp()
	if err != nil {
		return 0, err
	}
	return o.allreduceAsync(t, t.Like(), options.name, op)
}

// AllreduceAsyncInPlace starts reducing t across all
// ranks, storing the result in t.
func (o *Ops) AllreduceAsyncInPlace(t *tensor.Tensor, opts ...Option) (engine.Handle, error) {
	options := resolveOptions(opts)
	op, err := options.reduceOp()
	if err != nil {
		return 0, err
	}
	return o.allreduceAsync(t, t, options.name, op)
}

// AllreduceInPlace reduces t across all ranks, storing the
// result in t.
func (o *Ops) AllreduceInPlace(t *tensor.Tensor, opts ...Option) (*tensor.Tensor, error) {
	h, err := o.AllreduceAsyncInPlace(t, opts...)
	if err != nil {
		return nil, err
	}
	return o.Synchronize(h)
}

// AllgatherAsync starts concatenating t with the tensors of
// every other rank along the first dimension.
//
// Tensors may differ in their first dimension only.
func (o *Ops) AllgatherAsync(t *tensor.Tensor, opts ...Option) (engine.Handle, error) {
	options := resolveOptions(opts)
	sym, err := o.checkFunction(engine.AllgatherPrefix, t)
	if err != nil {
		return 0, err
	}
	output := t.Empty()
	h, err := sym.(engine.AllgatherFunc)(t, output, options.name)
	if err != nil {
		return 0, err
	}
	o.register(h, t, output)
	return h, nil
}

// BroadcastAsync starts copying root's t to a new tensor on
// every rank. The input is not modified.
func (o *Ops) BroadcastAsync(t *tensor.Tensor, root int, opts ...Option) (engine.Handle, error) {
	return o.broadcastAsync(t, t.Like(), root, resolveOptions(opts).name)
}

// BroadcastAsyncInPlace starts copying root's t into t on
// every rank.
func (o *Ops) BroadcastAsyncInPlace(t *tensor.Tensor, root int, opts ...Option) (engine.Handle, error) {
	return o.broadcastAsync(t, t, root, resolveOptions(opts).name)
}

// BroadcastInPlace copies root's t into t on every rank.
func (o *Ops) BroadcastInPlace(t *tensor.Tensor, root int, opts ...Option) (*tensor.Tensor, error) {
	h, err := o.BroadcastAsyncInPlace(t, root, opts...)
	if err != nil {
		return nil, err
	}
	return o.Synchronize(h)
}

func (o *Ops) allreduceAsync(t, output *tensor.Tensor, name string, op engine.ReduceOp) (engine.Handle, error) {
	if t.DType() == tensor.Float16 && !o.FP16Supported() {
		return 0, errors.Wrap(engine.ErrNotImplemented, "float16 allreduce is not supported by this engine")
	}
	divisor, err := o.divisor(t, op)
	if err != nil {
		return 0, err
	}
	// Averaging happens here, so the engine only sums.
	engineOp := op
	if op == engine.Average {
		engineOp = engine.Sum
	}
	sym, err := o.checkFunction(engine.AllreducePrefix, t)
	if err != nil {
		return 0, err
	}
	h, err := sym.(engine.AllreduceFunc)(t, output, divisor, name, engineOp)
	if err != nil {
		return 0, err
	}
	o.register(h, t, output)
	return h, nil
}

func (o *Ops) broadcastAsync(t, output *tensor.Tensor, root int, name string) (engine.Handle, error) {
	sym, err := o.checkFunction(engine.BroadcastPrefix, t)
	if err != nil {
		return 0, err
	}
	h, err := sym.(engine.BroadcastFunc)(t, output, root, name)
	if err != nil {
		return 0, err
	}
	o.register(h, t, output)
	return h, nil
}

// divisor determines what the summed result of an
// allreduce is divided by.
func (o *Ops) divisor(t *tensor.Tensor, op engine.ReduceOp) (int, error) {
	size, err := o.Size()
	if err != nil {
		return 0, err
	}
	switch op {
	case engine.Average:
		return size, nil
	case engine.Sum:
		return 1, nil
	case engine.Adasum:
		if !t.Device().IsCPU() && o.GPUAvailable() {
			if !o.NCCLBuilt() {
				klog.Warningf("Adasum reduction does not currently support GPU reduction without NCCL. " +
					"Tensors are copied to CPU memory instead.")
				return 1, nil
			}
			homogeneous, err := o.IsHomogeneous()
			if err != nil {
				return 0, err
			}
			if !homogeneous {
				return 0, errors.Wrap(engine.ErrNotImplemented,
					"Running GPU Adasum on heterogeneous cluster is not supported yet.")
			}
			localSize, err := o.LocalSize()
			if err != nil {
				return 0, err
			}
			if !allreduce.PowerOfTwo(size / localSize) {
				return 0, errors.Wrap(engine.ErrNotImplemented,
					"Running GPU Adasum with non-power of 2 nodes is not supported yet.")
			}
			return localSize, nil
		}
		if !allreduce.PowerOfTwo(size) {
			return 0, errors.Wrap(engine.ErrNotImplemented,
				"Running Adasum with non-power of 2 ranks is not supported yet.")
		}
		return 1, nil
	default:
		return 0, errors.Wrapf(engine.ErrInvalidArgument, "unknown reduction %s", op)
	}
}

func (o *Ops) checkFunction(prefix string, t *tensor.Tensor) (interface{}, error) {
	sym, ok := o.Engine().Symbol(engine.SymbolName(prefix, t.Type()))
	if !ok {
		return nil, errors.Wrapf(engine.ErrInvalidArgument, "Tensor type %s is not supported.", t.Type())
	}
	if !t.IsContiguous() {
		return nil, errors.Wrap(engine.ErrInvalidArgument, "Tensor is required to be contiguous.")
	}
	return sym, nil
}

func (o *Ops) register(h engine.Handle, input, output *tensor.Tensor) {
	o.lock.Lock()
	defer o.lock.Unlock()
	o.handles[h] = handleEntry{input: input, output: output}
}
