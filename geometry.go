package cytoconv

// Polygon, bounding box and normalisation functionality.

import (
	"errors"
	"fmt"
	"math"
)

// ErrInvalidDimensions is returned when normalising against an image with a non-positive size.
var ErrInvalidDimensions = errors.New("image dimensions must be positive")

// minPolygonPoints is the number of vertices needed to outline an area.
const minPolygonPoints = 3

// Point is a position in image pixel space.
type Point struct {
	X, Y float64
}

// Polygon is the ordered outline of one annotated cell region.
type Polygon []Point

// BoundingBox is an axis-aligned rectangle in pixel space, with XMin <= XMax and YMin <= YMax.
type BoundingBox struct {
	XMin, YMin, XMax, YMax float64
}

// Width is the box width in pixels.
func (b BoundingBox) Width() float64 {
	return b.XMax - b.XMin
}

// Height is the box height in pixels.
func (b BoundingBox) Height() float64 {
	return b.YMax - b.YMin
}

// Within reports whether b is fully contained in the image rectangle [0,width]x[0,height].
func (b BoundingBox) Within(width, height float64) bool {
	return b.XMin >= 0 && b.YMin >= 0 && b.XMax <= width && b.YMax <= height
}

// NormalizedBox is a box in center/size form, expressed as fractions of the image width and
// height.
type NormalizedBox struct {
	CenterX, CenterY, Width, Height float64
}

// InRange reports whether all four values lie in [0, 1].
func (n NormalizedBox) InRange() bool {
	for _, v := range [4]float64{n.CenterX, n.CenterY, n.Width, n.Height} {
		if v < 0 || v > 1 || math.IsNaN(v) {
			return false
		}
	}
	return true
}

// Denormalize converts n back to a pixel space box for an image of the given size.
func (n NormalizedBox) Denormalize(width, height float64) BoundingBox {
	cx, cy := n.CenterX*width, n.CenterY*height
	w, h := n.Width*width, n.Height*height
	return BoundingBox{XMin: cx - w/2, YMin: cy - h/2, XMax: cx + w/2, YMax: cy + h/2}
}

// BoundingBoxOf returns the tightest axis-aligned box enclosing every vertex of p. The second
// return value is false if p has fewer than three points.
func BoundingBoxOf(p Polygon) (BoundingBox, bool) {
	if len(p) < minPolygonPoints {
		return BoundingBox{}, false
	}

	b := BoundingBox{XMin: p[0].X, YMin: p[0].Y, XMax: p[0].X, YMax: p[0].Y}
	for _, pt := range p[1:] {
		b.XMin = math.Min(b.XMin, pt.X)
		b.YMin = math.Min(b.YMin, pt.Y)
		b.XMax = math.Max(b.XMax, pt.X)
		b.YMax = math.Max(b.YMax, pt.Y)
	}

	return b, true
}

// Normalize converts b to center/size form relative to an image of width x height pixels.
//
// The result is not clamped. Use NormalizedBox.InRange or BoundsPolicy.Apply to detect boxes
// exceeding the image.
func Normalize(b BoundingBox, width, height float64) (NormalizedBox, error) {
	if !(width > 0) || !(height > 0) {
		return NormalizedBox{}, fmt.Errorf("%w: %vx%v", ErrInvalidDimensions, width, height)
	}

	return NormalizedBox{
		CenterX: (b.XMin + b.XMax) / 2 / width,
		CenterY: (b.YMin + b.YMax) / 2 / height,
		Width:   (b.XMax - b.XMin) / width,
		Height:  (b.YMax - b.YMin) / height,
	}, nil
}

// BoundsPolicy selects how boxes that are not contained in the image are treated. A warning is
// recorded under every policy.
type BoundsPolicy int

// The known bounds policies.
const (
	BoundsClamp BoundsPolicy = iota // Intersect with the image, drop if nothing is left.
	BoundsKeep                      // Keep the unclamped values.
	BoundsDrop                      // Drop the box.
)

// BoundsPolicyFrom parses a policy name {clamp, keep, drop}.
func BoundsPolicyFrom(s string) (BoundsPolicy, error) {
	switch s {
	case "clamp":
		return BoundsClamp, nil
	case "keep":
		return BoundsKeep, nil
	case "drop":
		return BoundsDrop, nil
	}
	return 0, fmt.Errorf("unknown bounds policy %q", s)
}

func (p BoundsPolicy) String() string {
	switch p {
	case BoundsClamp:
		return "clamp"
	case BoundsKeep:
		return "keep"
	case BoundsDrop:
		return "drop"
	}
	return fmt.Sprintf("BoundsPolicy(%d)", int(p))
}

// Apply normalises b for an image of width x height pixels and applies the policy.
//
// It returns the normalised box, a warning that is empty if b lies within the image, and whether
// the box is kept.
func (p BoundsPolicy) Apply(b BoundingBox, width, height float64) (
	box NormalizedBox, warning string, keep bool, err error) {

	box, err = Normalize(b, width, height)
	if err != nil {
		return NormalizedBox{}, "", false, err
	}
	if b.Within(width, height) && box.InRange() {
		return box, "", true, nil
	}

	warning = fmt.Sprintf("box (%.2f,%.2f)(%.2f,%.2f) exceeds the %vx%v image",
		b.XMin, b.YMin, b.XMax, b.YMax, width, height)

	switch p {
	case BoundsKeep:
		return box, warning + "; kept unclamped", true, nil
	case BoundsDrop:
		return box, warning + "; dropped", false, nil
	}

	clipped := BoundingBox{
		XMin: math.Max(b.XMin, 0),
		YMin: math.Max(b.YMin, 0),
		XMax: math.Min(b.XMax, width),
		YMax: math.Min(b.YMax, height),
	}
	if clipped.XMin > clipped.XMax || clipped.YMin > clipped.YMax {
		return box, warning + "; no overlap, dropped", false, nil
	}
	box, err = Normalize(clipped, width, height)
	if err != nil {
		return NormalizedBox{}, "", false, err
	}

	return box, warning + "; clamped", true, nil
}
