// Package chunky orders the pixels of an image for progressive display.
//
// The chunky iterator first visits a sparse grid of pixels, each standing in
// for a large block, then repeatedly halves the block size until every pixel
// has been visited once. Drawing each pixel's footprint as it is fitted gives
// a coarse picture early that sharpens as the fit proceeds. The order has no
// influence on fitted values.
package chunky

// TileSize is the side of the coarsest block.
const TileSize = 16

// Pixel is one visited location. X and Y are visited exactly once over a
// full iteration; Width and Height give the block the pixel stands in for,
// clipped to the image.
type Pixel struct {
	X      int
	Y      int
	Width  int
	Height int
}

// Iterator yields pixels until the image is exhausted.
type Iterator interface {
	Next() (Pixel, bool)
}

// Chunky is the coarse-to-fine iterator.
type Chunky struct {
	width, height int

	// size is the current block side; it halves after each full pass
	size int
	x, y int
}

// NewChunky returns a coarse-to-fine iterator over a width by height image.
func NewChunky(width, height int) *Chunky {
	c := &Chunky{width: width, height: height, size: TileSize}
	if width <= 0 || height <= 0 {
		c.size = 0
	}
	return c
}

// visitedBefore reports whether (x, y) was an anchor in a coarser pass.
func (c *Chunky) visitedBefore(x, y int) bool {
	if c.size == TileSize {
		return false
	}
	coarse := 2 * c.size
	return x%coarse == 0 && y%coarse == 0
}

// Next returns the next pixel in coarse-to-fine order.
func (c *Chunky) Next() (Pixel, bool) {
	for c.size > 0 {
		for c.y < c.height {
			for c.x < c.width {
				x, y := c.x, c.y
				c.x += c.size
				if c.visitedBefore(x, y) {
					continue
				}
				return Pixel{
					X:      x,
					Y:      y,
					Width:  min(c.size, c.width-x),
					Height: min(c.size, c.height-y),
				}, true
			}
			c.x = 0
			c.y += c.size
		}
		c.x, c.y = 0, 0
		c.size /= 2
	}
	return Pixel{}, false
}

// RowMajor visits one pixel at a time, left to right and top to bottom.
type RowMajor struct {
	width, height int
	x, y          int
}

// NewRowMajor returns a plain scan over a width by height image.
func NewRowMajor(width, height int) *RowMajor {
	r := &RowMajor{width: width, height: height}
	if width <= 0 {
		r.y = height
	}
	return r
}

// Next returns the next pixel in scan order.
func (r *RowMajor) Next() (Pixel, bool) {
	if r.y >= r.height {
		return Pixel{}, false
	}
	p := Pixel{X: r.x, Y: r.y, Width: 1, Height: 1}
	r.x++
	if r.x >= r.width {
		r.x = 0
		r.y++
	}
	return p, true
}
