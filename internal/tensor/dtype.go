// Package tensor provides the raw buffer model for the norma kernel engine.
package tensor

// DType is a constraint for the element types a caller can hand over as a
// plain Go slice. BFloat16 buffers are created from float32 data instead
// (see FromBFloat16).
type DType interface {
	~float32 | ~float64
}

// DataType represents runtime type information for tensors.
type DataType int

// Supported storage types.
const (
	Float32 DataType = iota
	Float64
	BFloat16
)

// Size returns the byte size of one element.
func (dt DataType) Size() int {
	switch dt {
	case Float32:
		return 4
	case Float64:
		return 8
	case BFloat16:
		return 2
	default:
		panic("unknown data type")
	}
}

// String returns a human-readable name for the data type.
func (dt DataType) String() string {
	switch dt {
	case Float32:
		return "float32"
	case Float64:
		return "float64"
	case BFloat16:
		return "bfloat16"
	default:
		return "unknown"
	}
}

// AccType returns the data type used for intermediate accumulation.
// Narrow storage types widen; everything else accumulates in place.
func (dt DataType) AccType() DataType {
	if dt == BFloat16 {
		return Float32
	}
	return dt
}

// inferDataType infers DataType from a generic type T.
func inferDataType[T DType](dummy T) DataType {
	switch any(dummy).(type) {
	case float32:
		return Float32
	case float64:
		return Float64
	default:
		panic("unsupported type")
	}
}
