package autograd

import (
	"github.com/pkg/errors"
	"github.com/unixpickle/gradcomm/tensor"
)

// Scale multiplies a variable by a constant.
func Scale(v *Variable, s float64) (*Variable, error) {
	return Apply(&scaleFunction{scale: s}, v)
}

// Mul multiplies two variables element-wise.
func Mul(a, b *Variable) (*Variable, error) {
	return Apply(&mulFunction{}, a, b)
}

// Cast converts a variable to another element type.
// Gradients are converted back to the input's type.
func Cast(v *Variable, dtype tensor.DType) (*Variable, error) {
	return Apply(&castFunction{dtype: dtype}, v)
}

type scaleFunction struct {
	scale float64
}

func (s *scaleFunction) Forward(inputs ...*tensor.Tensor) (*tensor.Tensor, error) {
	return inputs[0].Scale(s.scale), nil
}

func (s *scaleFunction) Backward(grad *tensor.Tensor) ([]*tensor.Tensor, error) {
	return []*tensor.Tensor{grad.Scale(s.scale)}, nil
}

type mulFunction struct {
	a, b *tensor.Tensor
}

func (m *mulFunction) Forward(inputs ...*tensor.Tensor) (*tensor.Tensor, error) {
	m.a, m.b = inputs[0], inputs[1]
	if !tensor.ShapesEqual(m.a.Shape(), m.b.Shape()) {
		return nil, errors.Errorf("mul: mismatching shapes %v and %v", m.a.Shape(), m.b.Shape())
	}
	return m.a.MulElem(m.b), nil
}

func (m *mulFunction) Backward(grad *tensor.Tensor) ([]*tensor.Tensor, error) {
	return []*tensor.Tensor{grad.MulElem(m.b), grad.MulElem(m.a)}, nil
}

type castFunction struct {
	dtype   tensor.DType
	inDType tensor.DType
}

func (c *castFunction) Forward(inputs ...*tensor.Tensor) (*tensor.Tensor, error) {
	c.inDType = inputs[0].DType()
	if c.inDType == c.dtype {
		return inputs[0], nil
	}
	return inputs[0].Cast(c.dtype), nil
}

func (c *castFunction) Backward(grad *tensor.Tensor) ([]*tensor.Tensor, error) {
	if grad.DType() == c.inDType {
		return []*tensor.Tensor{grad}, nil
	}
	return []*tensor.Tensor{grad.Cast(c.inDType)}, nil
}
