package motion

import (
	"image"
)

// Component is an 8-connected group of foreground pixels.
type Component struct {
	Area   int
	Bounds image.Rectangle
}

var neighbours = [8][2]int{
	{-1, -1}, {0, -1}, {1, -1},
	{-1, 0}, {1, 0},
	{-1, 1}, {0, 1}, {1, 1},
}

// Components labels the foreground (non-zero) pixels of mask that fall inside
// region and returns one Component per connected group. Pixels outside region
// are treated as background, so a blob crossing the region edge is cut at it.
func Components(mask *image.Gray, region image.Rectangle) []Component {
	region = region.Intersect(mask.Bounds())
	if region.Empty() {
		return nil
	}

	w := region.Dx()
	visited := make([]bool, w*region.Dy())
	var stack []image.Point
	var out []Component

	fg := func(x, y int) bool {
		return mask.Pix[mask.PixOffset(x, y)] != 0
	}

	for y := region.Min.Y; y < region.Max.Y; y++ {
		for x := region.Min.X; x < region.Max.X; x++ {
			idx := (y-region.Min.Y)*w + (x - region.Min.X)
			if visited[idx] || !fg(x, y) {
				continue
			}

			comp := Component{Bounds: image.Rect(x, y, x+1, y+1)}
			visited[idx] = true
			stack = append(stack[:0], image.Pt(x, y))
			for len(stack) > 0 {
				p := stack[len(stack)-1]
				stack = stack[:len(stack)-1]
				comp.Area++
				comp.Bounds = comp.Bounds.Union(image.Rect(p.X, p.Y, p.X+1, p.Y+1))

				for _, d := range neighbours {
					nx, ny := p.X+d[0], p.Y+d[1]
					if nx < region.Min.X || nx >= region.Max.X || ny < region.Min.Y || ny >= region.Max.Y {
						continue
					}
					nidx := (ny-region.Min.Y)*w + (nx - region.Min.X)
					if visited[nidx] || !fg(nx, ny) {
						continue
					}
					visited[nidx] = true
					stack = append(stack, image.Pt(nx, ny))
				}
			}
			out = append(out, comp)
		}
	}
	return out
}
