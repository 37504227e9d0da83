package tensor

import "fmt"

// Scale returns a new tensor with every element
// multiplied by s.
func (t *Tensor) Scale(s float64) *Tensor {
	values := t.Float64s()
	for i := range values {
		values[i] *= s
	}
	return FromFloat64s(t.dtype, t.device, t.shape, values)
}

// Add returns the element-wise sum of t and t1.
func (t *Tensor) Add(t1 *Tensor) *Tensor {
	return t.elementwise(t1, func(x, y float64) float64 { return x + y })
}

// MulElem returns the element-wise product of t and t1.
func (t *Tensor) MulElem(t1 *Tensor) *Tensor {
	return t.elementwise(t1, func(x, y float64) float64 { return x * y })
}

// Zero sets every element to zero in place.
func (t *Tensor) Zero() {
	t.iterate(func(idx int) {
		t.data[idx] = 0
	})
}

// Cast returns a contiguous copy of the tensor with a
// different element type.
func (t *Tensor) Cast(dtype DType) *Tensor {
	return FromFloat64s(dtype, t.device, t.shape, t.Float64s())
}

// Sum adds up every element.
func (t *Tensor) Sum() float64 {
	var res float64
	t.iterate(func(idx int) {
		res += t.data[idx]
	})
	return res
}

// Equal checks if two tensors have the same type, device,
// shape, and elements.
func (t *Tensor) Equal(t1 *Tensor) bool {
	if t.dtype != t1.dtype || t.device != t1.device || !ShapesEqual(t.shape, t1.shape) {
		return false
	}
	v1 := t1.Float64s()
	for i, x := range t.Float64s() {
		if x != v1[i] {
			return false
		}
	}
	return true
}

func (t *Tensor) elementwise(t1 *Tensor, f func(x, y float64) float64) *Tensor {
	if !ShapesEqual(t.shape, t1.shape) {
		panic(fmt.Sprintf("mismatching shapes %v and %v", t.shape, t1.shape))
	}
	v1 := t1.Float64s()
	values := t.Float64s()
	for i, x := range values {
		values[i] = f(x, v1[i])
	}
	return FromFloat64s(t.dtype, t.device, t.shape, values)
}
