// Package geometry provides the integer bounding boxes shared by samples,
// detections and annotations.
//
// Rectangles use inclusive pixel coordinates: Right() is X+Width-1. Wire
// formats with exclusive right/bottom bounds convert with ToExclusive, once,
// at the API boundary.
package geometry

import (
	"fmt"
	"math"
)

// Rectangle is an axis-aligned box.
type Rectangle struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Rect builds a Rectangle from position and size.
func Rect(x, y, width, height int) Rectangle {
	return Rectangle{X: x, Y: y, Width: width, Height: height}
}

// FromCorners builds a Rectangle from inclusive corner coordinates.
func FromCorners(left, top, right, bottom int) Rectangle {
	return Rectangle{X: left, Y: top, Width: right - left + 1, Height: bottom - top + 1}
}

func (r Rectangle) Left() int   { return r.X }
func (r Rectangle) Top() int    { return r.Y }
func (r Rectangle) Right() int  { return r.X + r.Width - 1 }
func (r Rectangle) Bottom() int { return r.Y + r.Height - 1 }

// Empty reports whether the rectangle covers no pixels.
func (r Rectangle) Empty() bool { return r.Width <= 0 || r.Height <= 0 }

// Area returns the number of covered pixels.
func (r Rectangle) Area() int {
	if r.Empty() {
		return 0
	}
	return r.Width * r.Height
}

// Aspect returns width/height, or 0 for an empty rectangle.
func (r Rectangle) Aspect() float64 {
	if r.Empty() {
		return 0
	}
	return float64(r.Width) / float64(r.Height)
}

// Intersect returns the common part of r and o (possibly empty).
func (r Rectangle) Intersect(o Rectangle) Rectangle {
	left := max(r.Left(), o.Left())
	top := max(r.Top(), o.Top())
	right := min(r.Right(), o.Right())
	bottom := min(r.Bottom(), o.Bottom())
	if right < left || bottom < top {
		return Rectangle{}
	}
	return FromCorners(left, top, right, bottom)
}

// Overlap returns the intersection-over-union of r and o in [0, 1].
func (r Rectangle) Overlap(o Rectangle) float64 {
	inter := r.Intersect(o).Area()
	if inter == 0 {
		return 0
	}
	union := r.Area() + o.Area() - inter
	return float64(inter) / float64(union)
}

// Clip restricts r to a width × height canvas.
func (r Rectangle) Clip(width, height int) Rectangle {
	return r.Intersect(Rectangle{Width: width, Height: height})
}

// Scale multiplies position and size by f, rounding to the nearest pixel.
func (r Rectangle) Scale(f float64) Rectangle {
	return Rectangle{
		X:      int(math.Round(float64(r.X) * f)),
		Y:      int(math.Round(float64(r.Y) * f)),
		Width:  int(math.Round(float64(r.Width) * f)),
		Height: int(math.Round(float64(r.Height) * f)),
	}
}

// ToExclusive returns left, top, right+1, bottom+1.
func (r Rectangle) ToExclusive() (left, top, right, bottom int) {
	return r.Left(), r.Top(), r.Right() + 1, r.Bottom() + 1
}

// Less orders rectangles by position, then size. It gives detections with
// equal scores a stable order.
func (r Rectangle) Less(o Rectangle) bool {
	if r.Y != o.Y {
		return r.Y < o.Y
	}
	if r.X != o.X {
		return r.X < o.X
	}
	if r.Width != o.Width {
		return r.Width < o.Width
	}
	return r.Height < o.Height
}

func (r Rectangle) String() string {
	return fmt.Sprintf("(%d,%d %dx%d)", r.X, r.Y, r.Width, r.Height)
}
