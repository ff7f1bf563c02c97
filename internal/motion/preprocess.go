// Package motion implements per-frame motion detection over a set of ROIs:
// background subtraction, connected components, rain classification and
// temporal debouncing.
package motion

import (
	"image"
	"sync"

	"github.com/disintegration/gift"
)

// Preprocessor converts frames to single-channel intensity images smoothed by
// a square mean kernel.
type Preprocessor struct {
	gray *gift.GIFT

	mu      sync.Mutex
	sums    []uint32
	scratch []uint8
}

// NewPreprocessor returns a Preprocessor.
func NewPreprocessor() *Preprocessor {
	return &Preprocessor{gray: gift.New(gift.Grayscale())}
}

// Gray converts img to grayscale and smooths it with a blurSize x blurSize
// mean kernel. blurSize must be odd; 1 disables smoothing. The result always
// starts at the origin.
//
// The mean is computed with separable running sums; the cost per pixel does
// not depend on blurSize.
func (p *Preprocessor) Gray(img image.Image, blurSize int) *image.Gray {
	dst := image.NewGray(p.gray.Bounds(img.Bounds()))
	p.gray.Draw(dst, img)
	if blurSize > 1 {
		p.mu.Lock()
		p.boxMean(dst, blurSize/2)
		p.mu.Unlock()
	}
	return dst
}

// boxMean replaces img with its (2r+1)x(2r+1) mean in place. Samples past
// the border repeat the edge pixel.
func (p *Preprocessor) boxMean(img *image.Gray, r int) {
	w, h := img.Rect.Dx(), img.Rect.Dy()
	if w == 0 || h == 0 {
		return
	}
	if cap(p.sums) < w*h {
		p.sums = make([]uint32, w*h)
	}
	sums := p.sums[:w*h]
	n := max(w, h)
	if cap(p.scratch) < n {
		p.scratch = make([]uint8, n)
	}
	line := p.scratch[:n]

	// Horizontal pass into sums.
	for y := 0; y < h; y++ {
		row := img.Pix[y*img.Stride : y*img.Stride+w]
		var acc uint32
		for i := -r; i <= r; i++ {
			acc += uint32(row[clampIndex(i, w)])
		}
		for x := 0; x < w; x++ {
			sums[y*w+x] = acc
			acc += uint32(row[clampIndex(x+r+1, w)])
			acc -= uint32(row[clampIndex(x-r, w)])
		}
	}

	// Vertical pass over the row sums, written back to img.
	side := uint32(2*r + 1)
	area := side * side
	for x := 0; x < w; x++ {
		var acc uint32
		for i := -r; i <= r; i++ {
			acc += sums[clampIndex(i, h)*w+x]
		}
		for y := 0; y < h; y++ {
			line[y] = uint8((acc + area/2) / area)
			acc += sums[clampIndex(y+r+1, h)*w+x]
			acc -= sums[clampIndex(y-r, h)*w+x]
		}
		for y := 0; y < h; y++ {
			img.Pix[y*img.Stride+x] = line[y]
		}
	}
}

func clampIndex(i, n int) int {
	if i < 0 {
		return 0
	}
	if i >= n {
		return n - 1
	}
	return i
}

// Morphology cleans a binary mask with a closing followed by an opening,
// using a disk-shaped kernel. Closing joins fragments of one object; opening
// removes isolated specks.
type Morphology struct {
	g *gift.GIFT
}

// NewMorphology returns a Morphology with the given kernel side, or nil when
// kernel is below 3, which callers treat as disabled.
func NewMorphology(kernel int) *Morphology {
	if kernel < 3 {
		return nil
	}
	if kernel%2 == 0 {
		kernel++
	}
	return &Morphology{
		g: gift.New(
			gift.Maximum(kernel, true),
			gift.Minimum(kernel, true),
			gift.Minimum(kernel, true),
			gift.Maximum(kernel, true),
		),
	}
}

// Apply returns the cleaned mask. A nil Morphology returns mask unchanged.
func (m *Morphology) Apply(mask *image.Gray) *image.Gray {
	if m == nil {
		return mask
	}
	dst := image.NewGray(m.g.Bounds(mask.Bounds()))
	m.g.Draw(dst, mask)
	return dst
}
