package autograd

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/unixpickle/gradcomm/tensor"
)

func vec(values ...float64) *tensor.Tensor {
	return tensor.FromFloat64s(tensor.Float64, tensor.CPU, []int{len(values)}, values)
}

func TestChainRule(t *testing.T) {
	x := NewVariable(vec(1, 2, 3), true)
	c := Constant(vec(2, 2, 2))

	// y = 3 * x * x * c
	sq, err := Mul(x, x)
	require.NoError(t, err)
	prod, err := Mul(sq, c)
	require.NoError(t, err)
	y, err := Scale(prod, 3)
	require.NoError(t, err)
	assert.Equal(t, []float64{6, 24, 54}, y.Value().Float64s())

	require.NoError(t, y.Backward(nil))
	// dy/dx = 12 * x
	assert.Equal(t, []float64{12, 24, 36}, x.Grad().Float64s())
	assert.Nil(t, c.Grad())

	// Gradients accumulate until cleared.
	require.NoError(t, y.Backward(vec(1, 0, 0)))
	assert.Equal(t, []float64{24, 24, 36}, x.Grad().Float64s())
	x.ZeroGrad()
	assert.Nil(t, x.Grad())
}

func TestCast(t *testing.T) {
	x := NewVariable(vec(0.1, 1), true)
	h, err := Cast(x, tensor.Float16)
	require.NoError(t, err)
	assert.Equal(t, tensor.Float16, h.Value().DType())
	require.NoError(t, h.Backward(nil))
	assert.Equal(t, tensor.Float64, x.Grad().DType())
	assert.Equal(t, []float64{1, 1}, x.Grad().Float64s())
}

func TestBackwardErrors(t *testing.T) {
	c := Constant(vec(1))
	assert.Error(t, c.Backward(nil))

	x := NewVariable(vec(1), true)
	y, err := Apply(failingFunction{}, x)
	require.NoError(t, err)
	assert.Error(t, y.Backward(nil))

	_, err = Mul(x, Constant(vec(1, 2)))
	assert.Error(t, err)
}

type failingFunction struct{}

func (failingFunction) Forward(inputs ...*tensor.Tensor) (*tensor.Tensor, error) {
	return inputs[0].Clone(), nil
}

func (failingFunction) Backward(grad *tensor.Tensor) ([]*tensor.Tensor, error) {
	return nil, errors.New("no gradient")
}
