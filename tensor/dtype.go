package tensor

import (
	"math"

	"github.com/x448/float16"
)

// A DType is the element type of a Tensor.
type DType int

const (
	Bool DType = iota
	Uint8
	Int8
	Int16
	Int32
	Int64
	Float16
	Float32
	Float64
)

// DTypes lists every supported DType.
var DTypes = []DType{Bool, Uint8, Int8, Int16, Int32, Int64, Float16, Float32, Float64}

var dtypeInfo = map[DType]struct {
	name       string
	tensorName string
	size       int
}{
	Bool:    {"bool", "BoolTensor", 1},
	Uint8:   {"uint8", "ByteTensor", 1},
	Int8:    {"int8", "CharTensor", 1},
	Int16:   {"int16", "ShortTensor", 2},
	Int32:   {"int32", "IntTensor", 4},
	Int64:   {"int64", "LongTensor", 8},
	Float16: {"float16", "HalfTensor", 2},
	Float32: {"float32", "FloatTensor", 4},
	Float64: {"float64", "DoubleTensor", 8},
}

// String returns the lower-case name of the type, such as
// "float32".
func (d DType) String() string {
	if info, ok := dtypeInfo[d]; ok {
		return info.name
	}
	return "invalid"
}

// TensorName returns the name used for tensors of this
// type in type strings, such as "FloatTensor".
func (d DType) TensorName() string {
	if info, ok := dtypeInfo[d]; ok {
		return info.tensorName
	}
	return "InvalidTensor"
}

// Size returns the number of bytes per element.
func (d DType) Size() int {
	return dtypeInfo[d].size
}

// IsFloat checks if the type is a floating-point type.
func (d DType) IsFloat() bool {
	return d == Float16 || d == Float32 || d == Float64
}

// Round converts an arbitrary float64 to the closest value
// representable by the type.
//
// Integer types truncate towards zero and saturate at
// their bounds.
func (d DType) Round(v float64) float64 {
	switch d {
	case Bool:
		if v != 0 {
			return 1
		}
		return 0
	case Uint8:
		return saturate(v, 0, math.MaxUint8)
	case Int8:
		return saturate(v, math.MinInt8, math.MaxInt8)
	case Int16:
		return saturate(v, math.MinInt16, math.MaxInt16)
	case Int32:
		return saturate(v, math.MinInt32, math.MaxInt32)
	case Int64:
		return saturate(v, math.MinInt64, math.MaxInt64)
	case Float16:
		return float64(float16.Fromfloat32(float32(v)).Float32())
	case Float32:
		return float64(float32(v))
	default:
		return v
	}
}

func saturate(v, min, max float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	v = math.Trunc(v)
	if v < min {
		return min
	} else if v > max {
		return max
	}
	return v
}
