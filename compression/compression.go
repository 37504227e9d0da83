// Package compression reduces the size of tensors sent
// through collective operations.
package compression

import "github.com/unixpickle/gradcomm/tensor"

// A Context carries whatever a Compressor needs to undo
// compression.
type Context interface{}

// A Compressor converts tensors to a smaller
// representation before communication and back after.
type Compressor interface {
	Compress(t *tensor.Tensor) (*tensor.Tensor, Context)
	Decompress(t *tensor.Tensor, ctx Context) *tensor.Tensor
}

var (
	// None sends tensors unchanged.
	None Compressor = noneCompressor{}

	// FP16 sends floating-point tensors as float16.
	FP16 Compressor = fp16Compressor{}
)

type noneCompressor struct{}

func (noneCompressor) Compress(t *tensor.Tensor) (*tensor.Tensor, Context) {
	return t, nil
}

func (noneCompressor) Decompress(t *tensor.Tensor, ctx Context) *tensor.Tensor {
	return t
}

type fp16Compressor struct{}

func (fp16Compressor) Compress(t *tensor.Tensor) (*tensor.Tensor, Context) {
	dtype := t.DType()
	if dtype.IsFloat() && dtype != tensor.Float16 {
		return t.Cast(tensor.Float16), dtype
	}
	return t, dtype
}

func (fp16Compressor) Decompress(t *tensor.Tensor, ctx Context) *tensor.Tensor {
	dtype := ctx.(tensor.DType)
	if t.DType() == dtype {
		return t
	}
	return t.Cast(dtype)
}
