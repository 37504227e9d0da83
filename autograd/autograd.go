// Package autograd implements reverse-mode automatic
// differentiation over tensors.
//
// Operations are Functions that know how to run forward
// and how to map an output gradient back to their inputs.
// Apply records each Function in a graph of Variables,
// and Variable.Backward walks that graph in reverse.
package autograd

import (
	"github.com/pkg/errors"
	"github.com/unixpickle/gradcomm/tensor"
)

// A Function is a differentiable operation.
//
// A Function value is used for a single application, so
// Forward may save whatever state Backward needs.
type Function interface {
	// Forward computes the output from the inputs.
	Forward(inputs ...*tensor.Tensor) (*tensor.Tensor, error)

	// Backward maps the gradient of the output to one
	// gradient per input.
	// A nil gradient means the input gets no gradient.
	Backward(grad *tensor.Tensor) ([]*tensor.Tensor, error)
}

// A Variable is a tensor in a differentiable computation.
type Variable struct {
	value        *tensor.Tensor
	requiresGrad bool
	grad         *tensor.Tensor
	creator      *node
}

type node struct {
	fn     Function
	inputs []*Variable
}

// NewVariable creates a leaf variable.
func NewVariable(value *tensor.Tensor, requiresGrad bool) *Variable {
	return &Variable{value: value, requiresGrad: requiresGrad}
}

// Constant creates a leaf variable that does not need a
// gradient.
func Constant(value *tensor.Tensor) *Variable {
	return NewVariable(value, false)
}

// Value returns the variable's tensor.
func (v *Variable) Value() *tensor.Tensor {
	return v.value
}

// RequiresGrad checks if gradients flow into v.
func (v *Variable) RequiresGrad() bool {
	return v.requiresGrad
}

// Grad returns the gradient accumulated by Backward, or
// nil if there is none.
// Only leaf variables accumulate gradients.
func (v *Variable) Grad() *tensor.Tensor {
	return v.grad
}

// ZeroGrad clears the accumulated gradient.
func (v *Variable) ZeroGrad() {
	v.grad = nil
}

// Apply runs fn forward on the inputs and records it for
// backpropagation if any input requires a gradient.
func Apply(fn Function, inputs ...*Variable) (*Variable, error) {
	values := make([]*tensor.Tensor, len(inputs))
	requiresGrad := false
	for i, in := range inputs {
		values[i] = in.value
		requiresGrad = requiresGrad || in.requiresGrad
	}
	out, err := fn.Forward(values...)
	if err != nil {
		return nil, err
	}
	res := &Variable{value: out, requiresGrad: requiresGrad}
	if requiresGrad {
		res.creator = &node{fn: fn, inputs: inputs}
	}
	return res, nil
}

// Backward propagates grad from v back to every leaf that
// requires a gradient, adding to the leaves' gradients.
//
// If grad is nil, a tensor of ones is used.
func (v *Variable) Backward(grad *tensor.Tensor) error {
	if !v.requiresGrad {
		return errors.New("backward: variable does not require a gradient")
	}
	if grad == nil {
		grad = tensor.Ones(v.value.DType(), v.value.Device(), v.value.Shape()...)
	}

	grads := map[*Variable]*tensor.Tensor{v: grad}
	order := v.topologicalOrder()
	for i := len(order) - 1; i >= 0; i-- {
		variable := order[i]
		g, ok := grads[variable]
		if !ok {
			continue
		}
		if variable.creator == nil {
			if variable.grad == nil {
				variable.grad = g.Clone()
			} else {
				variable.grad = variable.grad.Add(g)
			}
			continue
		}
		inGrads, err := variable.creator.fn.Backward(g)
		if err != nil {
			return errors.Wrap(err, "backward")
		}
		if len(inGrads) != len(variable.creator.inputs) {
			return errors.Errorf("backward: function returned %d gradients for %d inputs",
				len(inGrads), len(variable.creator.inputs))
		}
		for j, in := range variable.creator.inputs {
			if inGrads[j] == nil || !in.requiresGrad {
				continue
			}
			if existing, ok := grads[in]; ok {
				grads[in] = existing.Add(inGrads[j])
			} else {
				grads[in] = inGrads[j]
			}
		}
	}
	return nil
}

// topologicalOrder lists v and its ancestors so that every
// variable comes after the inputs it was computed from.
func (v *Variable) topologicalOrder() []*Variable {
	var order []*Variable
	visited := map[*Variable]bool{}
	var visit func(x *Variable)
	visit = func(x *Variable) {
		if visited[x] || !x.requiresGrad {
			return
		}
		visited[x] = true
		if x.creator != nil {
			for _, in := range x.creator.inputs {
				visit(in)
			}
		}
		order = append(order, x)
	}
	visit(v)
	return order
}
