// Copyright 2025 The Norma Authors. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

package tensor

import (
	"github.com/norma-ml/norma/internal/tensor"
)

// Type aliases for the public API.

// DType is a constraint for the element types a tensor can be built from
// as a plain Go slice. BFloat16 tensors are built from float32 data via
// FromBFloat16.
type DType = tensor.DType

// DataType represents the underlying storage type of a tensor.
type DataType = tensor.DataType

// Storage type constants.
const (
	Float32  DataType = tensor.Float32
	Float64  DataType = tensor.Float64
	BFloat16 DataType = tensor.BFloat16
)

// Device represents the device where tensor data resides.
type Device = tensor.Device

// Device constants. The engine is CPU-only.
const (
	CPU Device = tensor.CPU
)

// Shape represents the dimensions of a tensor.
// Example: Shape{2, 3, 4} represents a 3D tensor with dimensions 2×3×4.
type Shape = tensor.Shape

// MemoryFormat describes the physical element order of an
// (N, C, *spatial) buffer.
type MemoryFormat = tensor.MemoryFormat

// Memory format constants.
const (
	Contiguous     MemoryFormat = tensor.Contiguous
	ChannelsLast   MemoryFormat = tensor.ChannelsLast
	ChannelsLast3d MemoryFormat = tensor.ChannelsLast3d
)

// RawTensor is the low-level tensor representation: a shaped, typed view
// over a reference-counted buffer.
type RawTensor = tensor.RawTensor

// NewRaw creates a zero-initialized tensor with the given shape and type.
func NewRaw(shape Shape, dtype DataType, device Device) (*RawTensor, error) {
	return tensor.NewRaw(shape, dtype, device)
}

// FromSlice creates a tensor by copying a float32 or float64 slice.
func FromSlice[T DType](data []T, shape Shape) (*RawTensor, error) {
	return tensor.FromSlice(data, shape)
}

// FromBFloat16 creates a BFloat16 tensor by narrowing float32 data.
func FromBFloat16(data []float32, shape Shape) (*RawTensor, error) {
	return tensor.FromBFloat16(data, shape)
}

// Full creates a tensor filled with a specific value.
func Full[T DType](shape Shape, value T) (*RawTensor, error) {
	return tensor.Full(shape, value)
}

// BFloat16ToFloat32 widens one BFloat16 bit pattern.
func BFloat16ToFloat32(b uint16) float32 {
	return tensor.BFloat16ToFloat32(b)
}

// Float32ToBFloat16 narrows a float32 with round-to-nearest-even.
func Float32ToBFloat16(f float32) uint16 {
	return tensor.Float32ToBFloat16(f)
}

// WidenBFloat16 widens a BFloat16 slice into a fresh float32 slice.
func WidenBFloat16(src []uint16) []float32 {
	return tensor.WidenBFloat16(src)
}
