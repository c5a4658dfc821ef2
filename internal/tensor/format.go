package tensor

// MemoryFormat describes the physical element order of an (N, C, spatial)
// tensor buffer. It is an explicit property of a kernel invocation, not of
// the buffer itself: the same bytes can be read under either format.
type MemoryFormat int

const (
	// Contiguous is the row-major NCHW order: for each sample, all spatial
	// elements of channel 0, then channel 1, and so on.
	Contiguous MemoryFormat = iota
	// ChannelsLast is the NHWC order: the channel axis is the
	// fastest-varying dimension.
	ChannelsLast
	// ChannelsLast3d is the NDHWC order for volumetric inputs. Kernels
	// treat it exactly like ChannelsLast with HxW = D*H*W.
	ChannelsLast3d
)

// String returns a human-readable format name.
func (f MemoryFormat) String() string {
	switch f {
	case Contiguous:
		return "Contiguous"
	case ChannelsLast:
		return "ChannelsLast"
	case ChannelsLast3d:
		return "ChannelsLast3d"
	default:
		return "Unknown"
	}
}

// IsChannelsLast reports whether the channel axis is the innermost one.
func (f MemoryFormat) IsChannelsLast() bool {
	return f == ChannelsLast || f == ChannelsLast3d
}
