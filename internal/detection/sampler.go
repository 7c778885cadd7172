package detection

// DefaultStride processes one frame in five.
const DefaultStride = 5

// Sampler selects which decoded frames are handed to the detector.
type Sampler struct {
	Stride int
}

// ShouldProcess reports whether frame index i is sampled.
func (s Sampler) ShouldProcess(i uint64) bool {
	stride := s.Stride
	if stride <= 0 {
		stride = DefaultStride
	}
	return i%uint64(stride) == 0
}
