// Copyright 2025 The Norma Authors. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

package groupnorm

import (
	"github.com/norma-ml/norma/internal/groupnorm"
	"github.com/norma-ml/norma/internal/parallel"
	"github.com/norma-ml/norma/tensor"
)

// GradMask selects which gradients a Backward call should produce. At
// least one field must be set.
type GradMask = groupnorm.GradMask

// Forward normalizes x over (channels/groups, spatial) slices and applies
// the optional affine parameters. It returns the normalized output
// together with the per-(sample, group) mean and reciprocal standard
// deviation, shaped {N, groups}, which Backward consumes.
//
// gamma and beta are optional {C} tensors; either may be nil. For
// BFloat16 inputs they may be BFloat16 or float32, and the returned
// statistics are float32.
func Forward(x, gamma, beta *tensor.RawTensor, groups int, eps float64, format tensor.MemoryFormat) (y, mean, rstd *tensor.RawTensor, err error) {
	return groupnorm.Forward(x, gamma, beta, groups, eps, format, parallel.KernelConfig())
}

// Backward computes the gradients selected by mask from the upstream
// gradient dy and the forward pass's saved x, mean and rstd. Outputs not
// selected come back nil; dgamma is also nil when gamma is nil.
func Backward(dy, x, mean, rstd, gamma *tensor.RawTensor, groups int, format tensor.MemoryFormat, mask GradMask) (dx, dgamma, dbeta *tensor.RawTensor, err error) {
	return groupnorm.Backward(dy, x, mean, rstd, gamma, groups, format, mask, parallel.KernelConfig())
}
