// Package config holds the detection parameters the pipeline reads every
// frame, and the process settings read from the environment at start.
package config

import (
	"roiwatch/internal/errdefs"
)

// Default detection parameters.
const (
	DefaultThreshold         = 800
	DefaultMinArea           = 1500
	DefaultBlurSize          = 5
	DefaultRainAreaThreshold = 25000

	// MaxBlurSize is the largest accepted smoothing kernel side.
	MaxBlurSize = 51
)

// Detection is the set of runtime parameters used by the motion pipeline.
// Values handed out by Store are already normalized.
type Detection struct {
	// Threshold is the summed component area, in pixels, at which a ROI
	// reports raw motion.
	Threshold int `json:"threshold" mapstructure:"threshold"`
	// MinArea is the smallest component area that counts toward motion.
	// Smaller components feed the rain classifier instead.
	MinArea int `json:"min_area" mapstructure:"min_area"`
	// BlurSize is the side of the square smoothing kernel. Always odd.
	BlurSize int `json:"blur_size" mapstructure:"blur_size"`
	// RainAreaThreshold is the aggregate small-component area above which a
	// frame is classified as rain.
	RainAreaThreshold int `json:"rain_area_threshold" mapstructure:"rain_area_threshold"`
}

// DefaultDetection returns the built-in detection parameters.
func DefaultDetection() Detection {
	return Detection{
		Threshold:         DefaultThreshold,
		MinArea:           DefaultMinArea,
		BlurSize:          DefaultBlurSize,
		RainAreaThreshold: DefaultRainAreaThreshold,
	}
}

// Normalize validates d and returns the copy the pipeline should use: an even
// blur size is raised to the next odd value. The first invalid field is
// reported as an *errdefs.ValidationError.
func (d Detection) Normalize() (Detection, error) {
	if d.Threshold <= 0 {
		return Detection{}, errdefs.Invalid("threshold", "must be positive, got %d", d.Threshold)
	}
	if d.MinArea <= 0 {
		return Detection{}, errdefs.Invalid("min_area", "must be positive, got %d", d.MinArea)
	}
	if d.BlurSize < 1 {
		return Detection{}, errdefs.Invalid("blur_size", "must be at least 1, got %d", d.BlurSize)
	}
	if d.BlurSize > MaxBlurSize {
		return Detection{}, errdefs.Invalid("blur_size", "must be at most %d, got %d", MaxBlurSize, d.BlurSize)
	}
	if d.RainAreaThreshold <= 0 {
		return Detection{}, errdefs.Invalid("rain_area_threshold", "must be positive, got %d", d.RainAreaThreshold)
	}
	if d.BlurSize%2 == 0 {
		d.BlurSize++
	}
	return d, nil
}
