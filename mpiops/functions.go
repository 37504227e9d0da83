package mpiops

import (
	"github.com/pkg/errors"
	"github.com/unixpickle/gradcomm/autograd"
	"github.com/unixpickle/gradcomm/compression"
	"github.com/unixpickle/gradcomm/engine"
	"github.com/unixpickle/gradcomm/tensor"
)

// Allreduce reduces x across all ranks into a new variable.
//
// With a compressor, the value is compressed before the
// reduction and decompressed after it.
// The gradient is reduced with the same operation as the
// value.
func (o *Ops) Allreduce(x *autograd.Variable, opts ...Option) (*autograd.Variable, error) {
	options := resolveOptions(opts)
	if _, err := options.reduceOp(); err != nil {
		return nil, err
	}
	compress := &compressFunction{c: options.compression}
	compressed, err := autograd.Apply(compress, x)
	if err != nil {
		return nil, err
	}
	reduced, err := autograd.Apply(&allreduceFunction{ops: o, options: options}, compressed)
	if err != nil {
		return nil, err
	}
	return autograd.Apply(&decompressFunction{c: options.compression, ctx: compress}, reduced)
}

// Allgather concatenates x with the variables of every
// other rank along the first dimension.
//
// Each rank's gradient is its own slice of the summed
// output gradient.
func (o *Ops) Allgather(x *autograd.Variable, opts ...Option) (*autograd.Variable, error) {
	return autograd.Apply(&allgatherFunction{ops: o, options: resolveOptions(opts)}, x)
}

// Broadcast copies root's x to a new variable on every
// rank.
//
// The root's gradient is the sum of every rank's gradient.
// Other ranks get a zero gradient.
func (o *Ops) Broadcast(x *autograd.Variable, root int, opts ...Option) (*autograd.Variable, error) {
	return autograd.Apply(&broadcastFunction{ops: o, root: root, options: resolveOptions(opts)}, x)
}

func (o *Ops) run(h engine.Handle, err error) (*tensor.Tensor, error) {
	if err != nil {
		return nil, err
	}
	return o.Synchronize(h)
}

type compressFunction struct {
	c   compression.Compressor
	ctx compression.Context
}

func (c *compressFunction) Forward(inputs ...*tensor.Tensor) (*tensor.Tensor, error) {
	var out *tensor.Tensor
	out, c.ctx = c.c.Compress(inputs[0])
	return out, nil
}

func (c *compressFunction) Backward(grad *tensor.Tensor) ([]*tensor.Tensor, error) {
	return []*tensor.Tensor{c.c.Decompress(grad, c.ctx)}, nil
}

type decompressFunction struct {
	c   compression.Compressor
	ctx *compressFunction
}

func (d *decompressFunction) Forward(inputs ...*tensor.Tensor) (*tensor.Tensor, error) {
	return d.c.Decompress(inputs[0], d.ctx.ctx), nil
}

func (d *decompressFunction) Backward(grad *tensor.Tensor) ([]*tensor.Tensor, error) {
	out, _ := d.c.Compress(grad)
	return []*tensor.Tensor{out}, nil
}

type allreduceFunction struct {
	ops     *Ops
	options *options
}

func (a *allreduceFunction) Forward(inputs ...*tensor.Tensor) (*tensor.Tensor, error) {
	opts := append(a.options.reductionOptions(), WithName(a.options.name))
	return a.ops.run(a.ops.AllreduceAsync(inputs[0], opts...))
}

func (a *allreduceFunction) Backward(grad *tensor.Tensor) ([]*tensor.Tensor, error) {
	res, err := a.ops.run(a.ops.AllreduceAsync(grad, a.options.reductionOptions()...))
	if err != nil {
		return nil, errors.Wrap(err, "allreduce gradient")
	}
	return []*tensor.Tensor{res}, nil
}

type allgatherFunction struct {
	ops     *Ops
	options *options
	dim     int
}

func (a *allgatherFunction) Forward(inputs ...*tensor.Tensor) (*tensor.Tensor, error) {
	if inputs[0].NumDims() > 0 {
		a.dim = inputs[0].Dim(0)
	}
	return a.ops.run(a.ops.AllgatherAsync(inputs[0], WithName(a.options.name)))
}

func (a *allgatherFunction) Backward(grad *tensor.Tensor) ([]*tensor.Tensor, error) {
	reduced, err := a.ops.run(a.ops.AllreduceAsync(grad, WithOp(engine.Sum)))
	if err != nil {
		return nil, errors.Wrap(err, "allgather gradient")
	}
	dim := tensor.FromFloat64s(tensor.Int32, tensor.CPU, []int{1}, []float64{float64(a.dim)})
	dims, err := a.ops.run(a.ops.AllgatherAsync(dim))
	if err != nil {
		return nil, errors.Wrap(err, "allgather gradient sizes")
	}
	rank, err := a.ops.Rank()
	if err != nil {
		return nil, err
	}
	offset := sliceOffset(dims.Float64s(), rank)
	return []*tensor.Tensor{reduced.Narrow(offset, a.dim).Clone()}, nil
}

// sliceOffset finds where a rank's rows start in the
// concatenation of every rank's rows.
func sliceOffset(dims []float64, rank int) int {
	var offset int
	for _, d := range dims[:rank] {
		offset += int(d)
	}
	return offset
}

type broadcastFunction struct {
	ops     *Ops
	root    int
	options *options
}

func (b *broadcastFunction) Forward(inputs ...*tensor.Tensor) (*tensor.Tensor, error) {
	return b.ops.run(b.ops.BroadcastAsync(inputs[0], b.root, WithName(b.options.name)))
}

func (b *broadcastFunction) Backward(grad *tensor.Tensor) ([]*tensor.Tensor, error) {
	reduced, err := b.ops.run(b.ops.AllreduceAsync(grad, WithOp(engine.Sum)))
	if err != nil {
		return nil, errors.Wrap(err, "broadcast gradient")
	}
	rank, err := b.ops.Rank()
	if err != nil {
		return nil, err
	}
	if rank != b.root {
		reduced.Zero()
	}
	return []*tensor.Tensor{reduced}, nil
}
