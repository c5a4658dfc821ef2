// Copyright 2025 The Norma Authors. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package groupnorm provides CPU group normalization for (N, C, *spatial)
// tensors.
//
// Forward normalizes each (sample, group) slice to zero mean and unit
// variance, then applies the optional per-channel affine parameters gamma
// and beta. It returns the saved mean and reciprocal standard deviation,
// which Backward consumes to produce any subset of the input and
// parameter gradients.
//
// Both the contiguous (NCHW) and channels-last (NHWC / NDHWC) memory
// layouts are supported, for float32, float64 and BFloat16 storage.
// BFloat16 inputs accumulate in float32 and return float32 statistics and
// parameter gradients.
//
// Example:
//
//	y, mean, rstd, err := groupnorm.Forward(x, gamma, beta, 8, 1e-5, tensor.Contiguous)
//	...
//	dx, dgamma, dbeta, err := groupnorm.Backward(dy, x, mean, rstd, gamma, 8,
//		tensor.Contiguous, groupnorm.GradMask{Input: true, Gamma: true, Beta: true})
package groupnorm
