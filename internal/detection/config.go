package detection

import (
	"errors"
	"fmt"
)

// Config holds detector thresholds. Start from DefaultConfig; a colour
// threshold of zero is a real bound, not "unset".
type Config struct {
	Stride     int `yaml:"stride"`
	HueMin     int `yaml:"hue_min"`
	HueMax     int `yaml:"hue_max"`
	SatMin     int `yaml:"sat_min"`
	ValMin     int `yaml:"val_min"`
	MinArea    int `yaml:"min_area"`
	WorkWidth  int `yaml:"work_width"`
	WorkHeight int `yaml:"work_height"`
}

const (
	DefaultHueMax     = 10
	DefaultSatMin     = 120
	DefaultValMin     = 70
	DefaultMinArea    = 500
	DefaultWorkWidth  = 640
	DefaultWorkHeight = 480
)

// DefaultConfig returns the stock fire-colour thresholds.
func DefaultConfig() Config {
	return Config{
		Stride:     DefaultStride,
		HueMax:     DefaultHueMax,
		SatMin:     DefaultSatMin,
		ValMin:     DefaultValMin,
		MinArea:    DefaultMinArea,
		WorkWidth:  DefaultWorkWidth,
		WorkHeight: DefaultWorkHeight,
	}
}

// WithDefaults fills the fields where zero cannot be meant literally: stride,
// minimum area and working size. Colour thresholds are left as given.
func (c Config) WithDefaults() Config {
	if c.Stride <= 0 {
		c.Stride = DefaultStride
	}
	if c.MinArea <= 0 {
		c.MinArea = DefaultMinArea
	}
	if c.WorkWidth <= 0 {
		c.WorkWidth = DefaultWorkWidth
	}
	if c.WorkHeight <= 0 {
		c.WorkHeight = DefaultWorkHeight
	}
	return c
}

// Validate checks the colour thresholds against the 8-bit HSV ranges
// (hue 0..179, saturation and value 0..255).
func (c Config) Validate() error {
	var errs []error
	if c.HueMin < 0 || c.HueMin > 179 || c.HueMax < 0 || c.HueMax > 179 {
		errs = append(errs, fmt.Errorf("detection hue range %d..%d outside 0..179", c.HueMin, c.HueMax))
	} else if c.HueMin > c.HueMax {
		errs = append(errs, fmt.Errorf("detection hue_min %d above hue_max %d", c.HueMin, c.HueMax))
	}
	if c.SatMin < 0 || c.SatMin > 255 {
		errs = append(errs, fmt.Errorf("detection sat_min %d outside 0..255", c.SatMin))
	}
	if c.ValMin < 0 || c.ValMin > 255 {
		errs = append(errs, fmt.Errorf("detection val_min %d outside 0..255", c.ValMin))
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}
