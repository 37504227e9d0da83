// Package tensor implements dense, strided tensors that
// can be sent through collective operations.
package tensor

import (
	"fmt"
	"strings"
)

// A Tensor is a dense multi-dimensional array.
//
// Several Tensors may share storage, in which case they
// are views of each other (see Narrow and Transpose).
type Tensor struct {
	dtype   DType
	device  Device
	shape   []int
	strides []int
	offset  int
	data    []float64
}

// New creates a zero tensor.
func New(dtype DType, device Device, shape ...int) *Tensor {
	for _, s := range shape {
		if s < 0 {
			panic(fmt.Sprintf("negative dimension in shape %v", shape))
		}
	}
	return &Tensor{
		dtype:   dtype,
		device:  device,
		shape:   append([]int{}, shape...),
		strides: contiguousStrides(shape),
		data:    make([]float64, numElements(shape)),
	}
}

// FromFloat64s creates a tensor from row-major values.
//
// The values are rounded to the dtype.
func FromFloat64s(dtype DType, device Device, shape []int, values []float64) *Tensor {
	t := New(dtype, device, shape...)
	if len(values) != len(t.data) {
		panic(fmt.Sprintf("shape %v needs %d values but got %d", shape, len(t.data), len(values)))
	}
	for i, v := range values {
		t.data[i] = dtype.Round(v)
	}
	return t
}

// Ones creates a tensor filled with ones.
func Ones(dtype DType, device Device, shape ...int) *Tensor {
	t := New(dtype, device, shape...)
	for i := range t.data {
		t.data[i] = 1
	}
	return t
}

// Like creates a zero tensor with the same type, device,
// and shape as t.
func (t *Tensor) Like() *Tensor {
	return New(t.dtype, t.device, t.shape...)
}

// Empty creates a tensor with the same type and device
// as t but with no elements.
func (t *Tensor) Empty() *Tensor {
	return New(t.dtype, t.device, 0)
}

// DType returns the element type.
func (t *Tensor) DType() DType {
	return t.dtype
}

// Device returns the device holding the tensor.
func (t *Tensor) Device() Device {
	return t.device
}

// Shape returns a copy of the tensor's shape.
func (t *Tensor) Shape() []int {
	return append([]int{}, t.shape...)
}

// Dim returns the size of dimension i.
func (t *Tensor) Dim(i int) int {
	return t.shape[i]
}

// NumDims returns the number of dimensions.
func (t *Tensor) NumDims() int {
	return len(t.shape)
}

// NumElements returns the total number of elements.
func (t *Tensor) NumElements() int {
	return numElements(t.shape)
}

// NumBytes returns the number of bytes the tensor's
// elements occupy for its dtype.
func (t *Tensor) NumBytes() int {
	return t.NumElements() * t.dtype.Size()
}

// Type returns a string like "cpu.FloatTensor" that
// identifies both the device type and the element type.
func (t *Tensor) Type() string {
	return t.device.Type() + "." + t.dtype.TensorName()
}

// IsContiguous checks if the elements are laid out in
// row-major order with no gaps.
func (t *Tensor) IsContiguous() bool {
	expected := 1
	for i := len(t.shape) - 1; i >= 0; i-- {
		if t.shape[i] == 1 {
			continue
		}
		if t.strides[i] != expected {
			return false
		}
		expected *= t.shape[i]
	}
	return true
}

// Contiguous returns t if it is contiguous, or a
// contiguous copy otherwise.
func (t *Tensor) Contiguous() *Tensor {
	if t.IsContiguous() {
		return t
	}
	return t.Clone()
}

// Clone creates a contiguous copy of the tensor.
func (t *Tensor) Clone() *Tensor {
	res := New(t.dtype, t.device, t.shape...)
	copy(res.data, t.Float64s())
	return res
}

// Float64s returns a copy of the elements in row-major
// order.
func (t *Tensor) Float64s() []float64 {
	res := make([]float64, 0, t.NumElements())
	t.iterate(func(idx int) {
		res = append(res, t.data[idx])
	})
	return res
}

// SetFloat64s overwrites the tensor's elements in
// row-major order, writing through to shared storage.
func (t *Tensor) SetFloat64s(values []float64) {
	if len(values) != t.NumElements() {
		panic(fmt.Sprintf("tensor has %d elements but got %d values", t.NumElements(), len(values)))
	}
	i := 0
	t.iterate(func(idx int) {
		t.data[idx] = t.dtype.Round(values[i])
		i++
	})
}

// Assign replaces the tensor's shape and storage.
//
// Views of the old storage are no longer connected to t.
func (t *Tensor) Assign(shape []int, values []float64) {
	other := FromFloat64s(t.dtype, t.device, shape, values)
	t.shape = other.shape
	t.strides = other.strides
	t.offset = 0
	t.data = other.data
}

// Narrow returns a view of rows [start, start+length) of
// the first dimension.
func (t *Tensor) Narrow(start, length int) *Tensor {
	if len(t.shape) == 0 {
		panic("cannot narrow a scalar")
	}
	if start < 0 || length < 0 || start+length > t.shape[0] {
		panic(fmt.Sprintf("narrow [%d, %d) out of range for dimension of size %d",
			start, start+length, t.shape[0]))
	}
	res := t.view()
	res.shape[0] = length
	res.offset += start * t.strides[0]
	return res
}

// Transpose returns a view of a 2-D tensor with its
// dimensions swapped.
func (t *Tensor) Transpose() *Tensor {
	if len(t.shape) != 2 {
		panic("transpose requires a 2-D tensor")
	}
	res := t.view()
	res.shape[0], res.shape[1] = res.shape[1], res.shape[0]
	res.strides[0], res.strides[1] = res.strides[1], res.strides[0]
	return res
}

// String returns a short human-readable description.
func (t *Tensor) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s%v", t.Type(), t.shape)
	if n := t.NumElements(); n <= 8 {
		fmt.Fprintf(&b, "%v", t.Float64s())
	}
	return b.String()
}

func (t *Tensor) view() *Tensor {
	return &Tensor{
		dtype:   t.dtype,
		device:  t.device,
		shape:   append([]int{}, t.shape...),
		strides: append([]int{}, t.strides...),
		offset:  t.offset,
		data:    t.data,
	}
}

// iterate calls f with the storage index of every
// element in row-major order.
func (t *Tensor) iterate(f func(idx int)) {
	if t.NumElements() == 0 {
		return
	}
	index := make([]int, len(t.shape))
	for {
		idx := t.offset
		for i, x := range index {
			idx += x * t.strides[i]
		}
		f(idx)
		dim := len(index) - 1
		for ; dim >= 0; dim-- {
			index[dim]++
			if index[dim] < t.shape[dim] {
				break
			}
			index[dim] = 0
		}
		if dim < 0 {
			return
		}
	}
}

func contiguousStrides(shape []int) []int {
	strides := make([]int, len(shape))
	stride := 1
	for i := len(shape) - 1; i >= 0; i-- {
		strides[i] = stride
		stride *= shape[i]
	}
	return strides
}

func numElements(shape []int) int {
	n := 1
	for _, s := range shape {
		n *= s
	}
	return n
}

// ShapesEqual checks if two shapes are identical.
func ShapesEqual(s1, s2 []int) bool {
	if len(s1) != len(s2) {
		return false
	}
	for i, x := range s1 {
		if s2[i] != x {
			return false
		}
	}
	return true
}
