package motion

import (
	"fmt"
	"image"
	"math"

	"roiwatch/internal/errdefs"
)

// Background model defaults.
const (
	DefaultLearningRate       = 0.02
	DefaultDeviationThreshold = 25.0
)

// BackgroundModel keeps a running-average estimate of the static scene, one
// float per pixel. Only pixels classified as background move the estimate,
// so an object that stops inside the frame stays foreground instead of
// fading into the background.
//
// Frames must be applied in arrival order; the model is not safe for
// concurrent use.
type BackgroundModel struct {
	alpha     float32
	deviation float32

	width, height int
	mean          []float32
	seeded        bool
	frames        uint64
}

// NewBackgroundModel returns a model with the given learning rate (0,1] and
// per-pixel deviation threshold in intensity levels. Out of range values fall
// back to the defaults.
func NewBackgroundModel(learningRate, deviation float64) *BackgroundModel {
	if learningRate <= 0 || learningRate > 1 {
		learningRate = DefaultLearningRate
	}
	if deviation <= 0 {
		deviation = DefaultDeviationThreshold
	}
	return &BackgroundModel{alpha: float32(learningRate), deviation: float32(deviation)}
}

// Apply classifies every pixel of frame and returns the foreground mask
// (255 foreground, 0 background) with the frame's dimensions. The first frame
// after construction or Reset seeds the model and yields an empty mask.
// A frame whose size differs from the seeded size is rejected with
// errdefs.ErrInvalidFrame.
func (m *BackgroundModel) Apply(frame *image.Gray) (*image.Gray, error) {
	b := frame.Bounds()
	w, h := b.Dx(), b.Dy()
	mask := image.NewGray(image.Rect(0, 0, w, h))

	if !m.seeded {
		m.width, m.height = w, h
		m.mean = make([]float32, w*h)
		for y := 0; y < h; y++ {
			row := frame.Pix[frame.PixOffset(b.Min.X, b.Min.Y+y):]
			for x := 0; x < w; x++ {
				m.mean[y*w+x] = float32(row[x])
			}
		}
		m.seeded = true
		m.frames = 1
		return mask, nil
	}

	if w != m.width || h != m.height {
		return nil, fmt.Errorf("%w: frame is %dx%d, background is %dx%d",
			errdefs.ErrInvalidFrame, w, h, m.width, m.height)
	}

	for y := 0; y < h; y++ {
		row := frame.Pix[frame.PixOffset(b.Min.X, b.Min.Y+y):]
		out := mask.Pix[y*mask.Stride:]
		for x := 0; x < w; x++ {
			i := y*w + x
			v := float32(row[x])
			diff := v - m.mean[i]
			if float32(math.Abs(float64(diff))) > m.deviation {
				out[x] = 255
				continue
			}
			m.mean[i] += m.alpha * diff
		}
	}
	m.frames++
	return mask, nil
}

// Reset forgets the learned background; the next frame seeds a new one.
func (m *BackgroundModel) Reset() {
	m.seeded = false
	m.mean = nil
	m.width, m.height = 0, 0
	m.frames = 0
}

// Size returns the dimensions the model was seeded with, or zeros.
func (m *BackgroundModel) Size() (width, height int) {
	return m.width, m.height
}

// Frames returns the number of frames applied since the last seed.
func (m *BackgroundModel) Frames() uint64 {
	return m.frames
}

// Estimate returns the current background estimate at (x, y).
func (m *BackgroundModel) Estimate(x, y int) float32 {
	return m.mean[y*m.width+x]
}
