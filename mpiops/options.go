package mpiops

import (
	"github.com/unixpickle/gradcomm/basics"
	"github.com/unixpickle/gradcomm/compression"
	"github.com/unixpickle/gradcomm/engine"
)

// An Option configures a collective call.
type Option func(o *options)

type options struct {
	name        string
	op          *engine.ReduceOp
	average     *bool
	compression compression.Compressor
}

// WithName keys the operation by name.
// Every rank must use the same name for the same tensor.
// Without a name, one is generated from the call order.
func WithName(name string) Option {
	return func(o *options) {
		o.name = name
	}
}

// WithOp selects the reduction for allreduce.
// The default is Average.
func WithOp(op engine.ReduceOp) Option {
	return func(o *options) {
		o.op = &op
	}
}

// WithAverage selects Average (true) or Sum (false).
//
// Deprecated: use WithOp.
func WithAverage(average bool) Option {
	return func(o *options) {
		o.average = &average
	}
}

// WithCompression compresses the tensor for the duration
// of a differentiable allreduce.
func WithCompression(c compression.Compressor) Option {
	return func(o *options) {
		o.compression = c
	}
}

func resolveOptions(opts []Option) *options {
	res := &options{compression: compression.None}
	for _, opt := range opts {
		opt(res)
	}
	return res
}

func (o *options) reduceOp() (engine.ReduceOp, error) {
	return basics.HandleAverageBackwardsCompatibility(o.op, o.average)
}

// reductionOptions returns the options that select the
// same reduction as o, for reusing in backward passes.
func (o *options) reductionOptions() []Option {
	var res []Option
	if o.op != nil {
		res = append(res, WithOp(*o.op))
	}
	if o.average != nil {
		res = append(res, WithAverage(*o.average))
	}
	return res
}
