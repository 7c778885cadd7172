//go:build !opencv

package detection

// New returns the detector compiled into this build. Builds tagged opencv
// use CVDetector instead.
func New(cfg Config) Detector {
	return NewHSVDetector(cfg)
}
