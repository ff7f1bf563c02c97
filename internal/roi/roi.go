// Package roi keeps the set of rectangles monitored for motion and persists
// it as a JSON list.
package roi

import (
	"image"
)

// MinSide is the size limit for ROI sides: width and height must both exceed it.
const MinSide = 50

// ROI is a monitored rectangle in frame coordinates. X2 and Y2 are exclusive,
// so Width is X2-X1. A ROI never changes after creation.
type ROI struct {
	ID int `json:"id"`
	X1 int `json:"x1"`
	Y1 int `json:"y1"`
	X2 int `json:"x2"`
	Y2 int `json:"y2"`
}

// Width returns X2-X1.
func (r ROI) Width() int { return r.X2 - r.X1 }

// Height returns Y2-Y1.
func (r ROI) Height() int { return r.Y2 - r.Y1 }

// Area returns the rectangle area in pixels.
func (r ROI) Area() int { return r.Width() * r.Height() }

// Rect returns the ROI as an image.Rectangle.
func (r ROI) Rect() image.Rectangle {
	return image.Rect(r.X1, r.Y1, r.X2, r.Y2)
}
