package tensor

import "fmt"

// FromSlice creates a tensor by copying a float32 or float64 slice.
// The slice length must match the shape's element count.
func FromSlice[T DType](data []T, shape Shape) (*RawTensor, error) {
	var dummy T
	dtype := inferDataType(dummy)

	if len(data) != shape.NumElements() {
		return nil, fmt.Errorf("data length %d does not match shape %v (%d elements)",
			len(data), shape, shape.NumElements())
	}

	raw, err := NewRaw(shape, dtype, CPU)
	if err != nil {
		return nil, err
	}

	switch dtype {
	case Float32:
		copy(raw.AsFloat32(), any(data).([]float32))
	case Float64:
		copy(raw.AsFloat64(), any(data).([]float64))
	}
	return raw, nil
}

// FromBFloat16 creates a bfloat16 tensor by narrowing float32 data.
func FromBFloat16(data []float32, shape Shape) (*RawTensor, error) {
	if len(data) != shape.NumElements() {
		return nil, fmt.Errorf("data length %d does not match shape %v (%d elements)",
			len(data), shape, shape.NumElements())
	}

	raw, err := NewRaw(shape, BFloat16, CPU)
	if err != nil {
		return nil, err
	}
	NarrowToBFloat16(raw.AsBFloat16(), data)
	return raw, nil
}

// Full creates a tensor filled with a specific value.
func Full[T DType](shape Shape, value T) (*RawTensor, error) {
	var dummy T
	raw, err := NewRaw(shape, inferDataType(dummy), CPU)
	if err != nil {
		return nil, err
	}

	switch raw.dtype {
	case Float32:
		dst := raw.AsFloat32()
		v := float32(value)
		for i := range dst {
			dst[i] = v
		}
	case Float64:
		dst := raw.AsFloat64()
		v := float64(value)
		for i := range dst {
			dst[i] = v
		}
	}
	return raw, nil
}
