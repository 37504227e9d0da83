package tensor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTensorType(t *testing.T) {
	assert.Equal(t, "cpu.FloatTensor", New(Float32, CPU, 2).Type())
	assert.Equal(t, "gpu.HalfTensor", New(Float16, GPU(1), 2).Type())
	assert.Equal(t, "cpu.LongTensor", New(Int64, CPU).Type())
	assert.Equal(t, "gpu:3", GPU(3).String())
	assert.Equal(t, 24, New(Float32, CPU, 2, 3).NumBytes())
	assert.Equal(t, 12, New(Float16, CPU, 6).NumBytes())
}

func TestTensorRounding(t *testing.T) {
	x := FromFloat64s(Int32, CPU, []int{3}, []float64{1.7, -2.9, 1e20})
	assert.Equal(t, []float64{1, -2, 2147483647}, x.Float64s())

	h := FromFloat64s(Float16, CPU, []int{2}, []float64{0.1, 65504})
	assert.InDelta(t, 0.1, h.Float64s()[0], 1e-4)
	assert.NotEqual(t, 0.1, h.Float64s()[0])
	assert.Equal(t, 65504.0, h.Float64s()[1])

	b := FromFloat64s(Bool, CPU, []int{2}, []float64{0, -3})
	assert.Equal(t, []float64{0, 1}, b.Float64s())
}

func TestTensorViews(t *testing.T) {
	x := FromFloat64s(Float64, CPU, []int{3, 2}, []float64{1, 2, 3, 4, 5, 6})
	require.True(t, x.IsContiguous())

	rows := x.Narrow(1, 2)
	assert.Equal(t, []int{2, 2}, rows.Shape())
	assert.Equal(t, []float64{3, 4, 5, 6}, rows.Float64s())
	assert.True(t, rows.IsContiguous())

	rows.SetFloat64s([]float64{30, 40, 50, 60})
	assert.Equal(t, []float64{1, 2, 30, 40, 50, 60}, x.Float64s())

	tr := x.Transpose()
	assert.False(t, tr.IsContiguous())
	assert.Equal(t, []int{2, 3}, tr.Shape())
	assert.Equal(t, []float64{1, 30, 50, 2, 40, 60}, tr.Float64s())

	c := tr.Contiguous()
	assert.True(t, c.IsContiguous())
	assert.Equal(t, tr.Float64s(), c.Float64s())
	assert.Same(t, x, x.Contiguous())
}

func TestTensorAssign(t *testing.T) {
	x := New(Float32, GPU(0), 0)
	x.Assign([]int{2, 2}, []float64{1, 2, 3, 4})
	assert.Equal(t, []int{2, 2}, x.Shape())
	assert.Equal(t, Float32, x.DType())
	assert.Equal(t, GPU(0), x.Device())
	assert.Equal(t, 10.0, x.Sum())
}

func TestTensorOps(t *testing.T) {
	x := FromFloat64s(Float64, CPU, []int{2}, []float64{1, 2})
	y := FromFloat64s(Float64, CPU, []int{2}, []float64{3, 4})
	assert.Equal(t, []float64{4, 6}, x.Add(y).Float64s())
	assert.Equal(t, []float64{3, 8}, x.MulElem(y).Float64s())
	assert.Equal(t, []float64{0.5, 1}, x.Scale(0.5).Float64s())
	assert.True(t, x.Equal(x.Clone()))
	assert.False(t, x.Equal(x.Cast(Float32)))

	x.Zero()
	assert.Equal(t, []float64{0, 0}, x.Float64s())
	assert.Panics(t, func() { x.Add(New(Float64, CPU, 3)) })
}
