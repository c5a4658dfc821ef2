// Package groupnorm implements the CPU group normalization kernels: the
// forward transform, the backward pass, and their channels-last variants,
// for float32, float64 and BFloat16 storage.
package groupnorm

import (
	"fmt"

	"github.com/ajroetker/go-highway/hwy"

	"github.com/norma-ml/norma/internal/parallel"
	"github.com/norma-ml/norma/internal/tensor"
)

// GradMask selects which gradients a backward call should produce.
type GradMask struct {
	Input bool
	Gamma bool
	Beta  bool
}

// Forward normalizes x over (channels/groups, spatial) slices and returns
// the output together with the per-(sample, group) mean and reciprocal
// standard deviation used, which the backward pass consumes. gamma and
// beta are optional per-channel affine parameters; either may be nil.
func Forward(x, gamma, beta *tensor.RawTensor, groups int, eps float64, format tensor.MemoryFormat, cfg parallel.Config) (y, mean, rstd *tensor.RawTensor, err error) {
	n, c, hxw, err := checkLayout(x, groups, format)
	if err != nil {
		return nil, nil, nil, err
	}
	if err := checkParam(x, gamma, c, "gamma"); err != nil {
		return nil, nil, nil, err
	}
	if err := checkParam(x, beta, c, "beta"); err != nil {
		return nil, nil, nil, err
	}
	if eps < 0 {
		return nil, nil, nil, fmt.Errorf("eps must be non-negative, got %g", eps)
	}

	y, err = tensor.NewRaw(x.Shape(), x.DType(), x.Device())
	if err != nil {
		return nil, nil, nil, err
	}
	statType := x.DType().AccType()
	mean, err = tensor.NewRaw(tensor.Shape{n, groups}, statType, x.Device())
	if err != nil {
		return nil, nil, nil, err
	}
	rstd, err = tensor.NewRaw(tensor.Shape{n, groups}, statType, x.Device())
	if err != nil {
		return nil, nil, nil, err
	}

	switch x.DType() {
	case tensor.Float32:
		forwardTyped(x.AsFloat32(), paramFloat32(gamma), paramFloat32(beta),
			n, c, hxw, groups, eps, format, y.AsFloat32(), mean.AsFloat32(), rstd.AsFloat32(), cfg)
	case tensor.Float64:
		forwardTyped(x.AsFloat64(), paramFloat64(gamma), paramFloat64(beta),
			n, c, hxw, groups, eps, format, y.AsFloat64(), mean.AsFloat64(), rstd.AsFloat64(), cfg)
	case tensor.BFloat16:
		if format.IsChannelsLast() {
			forwardChannelsLastBF16(x.AsBFloat16(), widenParam(gamma), widenParam(beta),
				n, c, hxw, groups, eps, y.AsBFloat16(), mean.AsFloat32(), rstd.AsFloat32(), cfg)
		} else {
			forwardContiguousBF16(x.AsBFloat16(), widenParam(gamma), widenParam(beta),
				n, c, hxw, groups, eps, y.AsBFloat16(), mean.AsFloat32(), rstd.AsFloat32(), cfg)
		}
	default:
		return nil, nil, nil, fmt.Errorf("unsupported dtype %s", x.DType())
	}
	return y, mean, rstd, nil
}

// Backward computes the gradients selected by mask from the upstream
// gradient dy and the forward pass's saved x, mean and rstd. The returned
// dgamma is nil when gamma is nil, since there is no parameter to update;
// the other outputs are nil exactly when unrequested.
func Backward(dy, x, mean, rstd, gamma *tensor.RawTensor, groups int, format tensor.MemoryFormat, mask GradMask, cfg parallel.Config) (dx, dgamma, dbeta *tensor.RawTensor, err error) {
	n, c, hxw, err := checkLayout(x, groups, format)
	if err != nil {
		return nil, nil, nil, err
	}
	if !mask.Input && !mask.Gamma && !mask.Beta {
		return nil, nil, nil, fmt.Errorf("no gradients requested")
	}
	if dy == nil {
		return nil, nil, nil, fmt.Errorf("dy is required")
	}
	if dy.DType() != x.DType() || dy.NumElements() != x.NumElements() {
		return nil, nil, nil, fmt.Errorf("dy (%s, %d elements) does not match x (%s, %d elements)",
			dy.DType(), dy.NumElements(), x.DType(), x.NumElements())
	}
	statType := x.DType().AccType()
	if err := checkStat(mean, n, groups, statType, "mean"); err != nil {
		return nil, nil, nil, err
	}
	if err := checkStat(rstd, n, groups, statType, "rstd"); err != nil {
		return nil, nil, nil, err
	}
	if err := checkParam(x, gamma, c, "gamma"); err != nil {
		return nil, nil, nil, err
	}

	if mask.Input {
		dx, err = tensor.NewRaw(x.Shape(), x.DType(), x.Device())
		if err != nil {
			return nil, nil, nil, err
		}
	}
	if mask.Gamma && gamma != nil {
		dgamma, err = tensor.NewRaw(tensor.Shape{c}, statType, x.Device())
		if err != nil {
			return nil, nil, nil, err
		}
	}
	if mask.Beta {
		dbeta, err = tensor.NewRaw(tensor.Shape{c}, statType, x.Device())
		if err != nil {
			return nil, nil, nil, err
		}
	}

	switch x.DType() {
	case tensor.Float32:
		backwardTyped(dy.AsFloat32(), x.AsFloat32(), mean.AsFloat32(), rstd.AsFloat32(), paramFloat32(gamma),
			n, c, hxw, groups, format,
			paramFloat32(dx), paramFloat32(dgamma), paramFloat32(dbeta), cfg)
	case tensor.Float64:
		backwardTyped(dy.AsFloat64(), x.AsFloat64(), mean.AsFloat64(), rstd.AsFloat64(), paramFloat64(gamma),
			n, c, hxw, groups, format,
			paramFloat64(dx), paramFloat64(dgamma), paramFloat64(dbeta), cfg)
	case tensor.BFloat16:
		var dxs []uint16
		if dx != nil {
			dxs = dx.AsBFloat16()
		}
		if format.IsChannelsLast() {
			backwardChannelsLastBF16(dy.AsBFloat16(), x.AsBFloat16(), mean.AsFloat32(), rstd.AsFloat32(), widenParam(gamma),
				n, c, hxw, groups, dxs, paramFloat32(dgamma), paramFloat32(dbeta), cfg)
		} else {
			backwardContiguousBF16(dy.AsBFloat16(), x.AsBFloat16(), mean.AsFloat32(), rstd.AsFloat32(), widenParam(gamma),
				n, c, hxw, groups, dxs, paramFloat32(dgamma), paramFloat32(dbeta), cfg)
		}
	default:
		return nil, nil, nil, fmt.Errorf("unsupported dtype %s", x.DType())
	}
	return dx, dgamma, dbeta, nil
}

func forwardTyped[T hwy.Floats](x, gamma, beta []T, n, c, hxw, groups int, eps float64, format tensor.MemoryFormat, y, mean, rstd []T, cfg parallel.Config) {
	if format.IsChannelsLast() {
		forwardChannelsLast(x, gamma, beta, n, c, hxw, groups, eps, y, mean, rstd, cfg)
	} else {
		forwardContiguous(x, gamma, beta, n, c, hxw, groups, eps, y, mean, rstd, cfg)
	}
}

func backwardTyped[T hwy.Floats](dy, x, mean, rstd, gamma []T, n, c, hxw, groups int, format tensor.MemoryFormat, dx, dgamma, dbeta []T, cfg parallel.Config) {
	if format.IsChannelsLast() {
		backwardChannelsLast(dy, x, mean, rstd, gamma, n, c, hxw, groups, dx, dgamma, dbeta, cfg)
	} else {
		backwardContiguous(dy, x, mean, rstd, gamma, n, c, hxw, groups, dx, dgamma, dbeta, cfg)
	}
}

// checkLayout validates the (N, C, *spatial) shape of x against groups
// and format, and returns the decomposed extents.
func checkLayout(x *tensor.RawTensor, groups int, format tensor.MemoryFormat) (n, c, hxw int, err error) {
	if x == nil {
		return 0, 0, 0, fmt.Errorf("x is required")
	}
	shape := x.Shape()
	if len(shape) < 2 {
		return 0, 0, 0, fmt.Errorf("expected at least 2 dimensions (N, C, ...), got shape %v", shape)
	}
	switch format {
	case tensor.Contiguous:
	case tensor.ChannelsLast:
		if len(shape) != 4 {
			return 0, 0, 0, fmt.Errorf("ChannelsLast requires a 4-dimensional tensor, got shape %v", shape)
		}
	case tensor.ChannelsLast3d:
		if len(shape) != 5 {
			return 0, 0, 0, fmt.Errorf("ChannelsLast3d requires a 5-dimensional tensor, got shape %v", shape)
		}
	default:
		return 0, 0, 0, fmt.Errorf("unsupported memory format %s", format)
	}
	n, c = shape[0], shape[1]
	hxw = 1
	for _, dim := range shape[2:] {
		hxw *= dim
	}
	if groups < 1 {
		return 0, 0, 0, fmt.Errorf("groups must be at least 1, got %d", groups)
	}
	if c%groups != 0 {
		return 0, 0, 0, fmt.Errorf("channels (%d) must be divisible by groups (%d)", c, groups)
	}
	return n, c, hxw, nil
}

// checkParam validates an optional per-channel parameter: c elements, and
// either the data dtype or, for BFloat16 data, the float32 widened form.
func checkParam(x, p *tensor.RawTensor, c int, name string) error {
	if p == nil {
		return nil
	}
	if p.NumElements() != c {
		return fmt.Errorf("%s has %d elements, want %d", name, p.NumElements(), c)
	}
	if p.DType() != x.DType() && p.DType() != x.DType().AccType() {
		return fmt.Errorf("%s dtype %s does not match input dtype %s", name, p.DType(), x.DType())
	}
	return nil
}

func checkStat(st *tensor.RawTensor, n, groups int, want tensor.DataType, name string) error {
	if st == nil {
		return fmt.Errorf("%s is required", name)
	}
	if st.NumElements() != n*groups {
		return fmt.Errorf("%s has %d elements, want %d", name, st.NumElements(), n*groups)
	}
	if st.DType() != want {
		return fmt.Errorf("%s dtype is %s, want %s", name, st.DType(), want)
	}
	return nil
}

func paramFloat32(t *tensor.RawTensor) []float32 {
	if t == nil {
		return nil
	}
	return t.AsFloat32()
}

func paramFloat64(t *tensor.RawTensor) []float64 {
	if t == nil {
		return nil
	}
	return t.AsFloat64()
}


// widenParam returns a BFloat16 input's parameter as float32, widening a
// BFloat16-typed parameter into a fresh slice.
func widenParam(t *tensor.RawTensor) []float32 {
	if t == nil {
		return nil
	}
	if t.DType() == tensor.BFloat16 {
		return tensor.WidenBFloat16(t.AsBFloat16())
	}
	return t.AsFloat32()
}
