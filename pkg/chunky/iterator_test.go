package chunky

import (
	"fmt"
	"testing"
)

func collect(it Iterator) []Pixel {
	var out []Pixel
	for {
		p, ok := it.Next()
		if !ok {
			return out
		}
		out = append(out, p)
	}
}

// TestChunkyCoversImageOnce verifies that every pixel is visited exactly once
func TestChunkyCoversImageOnce(t *testing.T) {
	sizes := [][2]int{{1, 1}, {16, 16}, {17, 5}, {33, 40}, {64, 64}, {3, 100}}

	for _, sz := range sizes {
		w, h := sz[0], sz[1]
		t.Run(fmt.Sprintf("%dx%d", w, h), func(t *testing.T) {
			seen := make(map[[2]int]int)
			for _, p := range collect(NewChunky(w, h)) {
				if p.X < 0 || p.X >= w || p.Y < 0 || p.Y >= h {
					t.Fatalf("pixel (%d, %d) outside %dx%d", p.X, p.Y, w, h)
				}
				if p.X+p.Width > w || p.Y+p.Height > h {
					t.Errorf("footprint of (%d, %d) extends past the image", p.X, p.Y)
				}
				seen[[2]int{p.X, p.Y}]++
			}
			if len(seen) != w*h {
				t.Errorf("visited %d distinct pixels, want %d", len(seen), w*h)
			}
			for k, n := range seen {
				if n != 1 {
					t.Errorf("pixel %v visited %d times", k, n)
				}
			}
		})
	}
}

// TestChunkyCoarseToFine verifies that block sizes never grow
func TestChunkyCoarseToFine(t *testing.T) {
	pixels := collect(NewChunky(40, 40))
	if len(pixels) == 0 {
		t.Fatal("no pixels")
	}
	if pixels[0].Width != TileSize || pixels[0].Height != TileSize {
		t.Errorf("first block is %dx%d, want %dx%d",
			pixels[0].Width, pixels[0].Height, TileSize, TileSize)
	}
	prev := TileSize
	for _, p := range pixels {
		// clipped blocks may be narrower than the pass size, never wider
		side := max(p.Width, p.Height)
		if side > prev {
			t.Fatalf("block grew from %d to %d at (%d, %d)", prev, side, p.X, p.Y)
		}
		if p.Width == p.Height {
			prev = p.Width
		}
	}
	last := pixels[len(pixels)-1]
	if last.Width != 1 || last.Height != 1 {
		t.Errorf("last block is %dx%d, want 1x1", last.Width, last.Height)
	}
}

// TestRowMajor verifies the scan order
func TestRowMajor(t *testing.T) {
	pixels := collect(NewRowMajor(3, 2))
	want := []Pixel{
		{0, 0, 1, 1}, {1, 0, 1, 1}, {2, 0, 1, 1},
		{0, 1, 1, 1}, {1, 1, 1, 1}, {2, 1, 1, 1},
	}
	if len(pixels) != len(want) {
		t.Fatalf("got %d pixels, want %d", len(pixels), len(want))
	}
	for i := range want {
		if pixels[i] != want[i] {
			t.Errorf("pixel %d = %+v, want %+v", i, pixels[i], want[i])
		}
	}
}

// TestEmptyImages verifies that degenerate sizes produce nothing
func TestEmptyImages(t *testing.T) {
	for _, it := range []Iterator{NewChunky(0, 5), NewChunky(5, 0), NewRowMajor(0, 5), NewRowMajor(5, 0)} {
		if p, ok := it.Next(); ok {
			t.Errorf("%T yielded %+v for an empty image", it, p)
		}
	}
}
