// Copyright 2025 The Norma Authors. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package tensor provides the public buffer model for the norma kernel
// engine.
//
// A RawTensor is a shaped, typed view over a reference-counted byte
// buffer. Kernels read and write element slices obtained through the
// As* accessors; the memory layout of those elements (contiguous NCHW
// or channels-last NHWC) is a property of the kernel invocation, carried
// by MemoryFormat.
//
// Three storage types are supported: Float32, Float64, and BFloat16.
// BFloat16 elements are stored as raw 16-bit patterns (the high half of
// the IEEE float32 encoding) and widen to float32 for arithmetic.
//
// Example:
//
//	x, err := tensor.FromSlice(data, tensor.Shape{2, 6, 4, 4})
//	if err != nil {
//		...
//	}
//	defer x.Release()
package tensor
