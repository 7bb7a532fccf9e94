// Package roi describes regions of interest over an image plane.
package roi

import (
	"image"

	"github.com/pkg/errors"
)

// ErrInvalid is returned for region descriptions that cannot be built.
var ErrInvalid = errors.New("invalid region of interest")

// Region is a set of pixels. Bounds encloses every pixel Contains accepts.
type Region interface {
	Bounds() image.Rectangle
	Contains(x, y int) bool
}

// Rect is an axis aligned region, Min inclusive and Max exclusive.
type Rect struct {
	image.Rectangle
}

// NewRect returns the w by h rectangle with its corner at (x, y).
func NewRect(x, y, w, h int) Rect {
	return Rect{image.Rect(x, y, x+w, y+h)}
}

func (r Rect) Bounds() image.Rectangle {
	return r.Canon()
}

func (r Rect) Contains(x, y int) bool {
	return image.Pt(x, y).In(r.Canon())
}

// Polygon is a closed outline. A pixel belongs to it when the pixel
// centre lies inside under the even-odd rule.
type Polygon struct {
	Points []image.Point
	bounds image.Rectangle
}

// NewPolygon builds a polygon from at least three vertices.
func NewPolygon(points []image.Point) (*Polygon, error) {
	if len(points) < 3 {
		return nil, errors.Wrapf(ErrInvalid, "polygon with %d vertices", len(points))
	}
	b := image.Rectangle{Min: points[0], Max: points[0]}
	for _, p := range points[1:] {
		b.Min.X = min(b.Min.X, p.X)
		b.Min.Y = min(b.Min.Y, p.Y)
		b.Max.X = max(b.Max.X, p.X)
		b.Max.Y = max(b.Max.Y, p.Y)
	}
	// vertices on the far edge still bound the pixel before them
	b.Max = b.Max.Add(image.Pt(1, 1))
	return &Polygon{Points: append([]image.Point(nil), points...), bounds: b}, nil
}

func (p *Polygon) Bounds() image.Rectangle {
	return p.bounds
}

func (p *Polygon) Contains(x, y int) bool {
	if !image.Pt(x, y).In(p.bounds) {
		return false
	}
	cx, cy := float64(x)+0.5, float64(y)+0.5
	inside := false
	n := len(p.Points)
	for i, j := 0, n-1; i < n; j, i = i, i+1 {
		xi, yi := float64(p.Points[i].X), float64(p.Points[i].Y)
		xj, yj := float64(p.Points[j].X), float64(p.Points[j].Y)
		if (yi > cy) != (yj > cy) && cx < (xj-xi)*(cy-yi)/(yj-yi)+xi {
			inside = !inside
		}
	}
	return inside
}

// Clip returns the part of a region's bounds that lies within an image of
// the given size.
func Clip(r Region, width, height int) image.Rectangle {
	return r.Bounds().Intersect(image.Rect(0, 0, width, height))
}

// ContainsAny reports whether any of the regions holds (x, y). An empty
// list holds everything.
func ContainsAny(regions []Region, x, y int) bool {
	if len(regions) == 0 {
		return true
	}
	for _, r := range regions {
		if r.Contains(x, y) {
			return true
		}
	}
	return false
}

// Spec is the configuration form of a region: either a rectangle given as
// [x, y, width, height] or a polygon given as a list of [x, y] vertices.
type Spec struct {
	Rect    []int    `yaml:"rect,omitempty"`
	Polygon [][2]int `yaml:"polygon,omitempty"`
}

// Region builds the described region.
func (s Spec) Region() (Region, error) {
	switch {
	case len(s.Rect) > 0 && len(s.Polygon) > 0:
		return nil, errors.Wrap(ErrInvalid, "both rect and polygon given")
	case len(s.Rect) > 0:
		if len(s.Rect) != 4 || s.Rect[2] <= 0 || s.Rect[3] <= 0 {
			return nil, errors.Wrapf(ErrInvalid, "rect %v", s.Rect)
		}
		return NewRect(s.Rect[0], s.Rect[1], s.Rect[2], s.Rect[3]), nil
	case len(s.Polygon) > 0:
		points := make([]image.Point, len(s.Polygon))
		for i, v := range s.Polygon {
			points[i] = image.Pt(v[0], v[1])
		}
		return NewPolygon(points)
	}
	return nil, errors.Wrap(ErrInvalid, "empty region")
}
