package blackbody

import "gonum.org/v1/gonum/mat"

// Component is one 8-connected region of non-zero mask pixels.
type Component struct {
	// Label is 1-based and follows the raster order of the component's
	// first pixel, so it is stable for a given mask.
	Label int

	// Pixels holds row-major pixel indices (row*cols + col).
	Pixels []int

	// Row and Col are the centroid coordinates.
	Row, Col float64
}

// Area returns the pixel count of the component.
func (c Component) Area() int { return len(c.Pixels) }

// neighbours lists the 8-connected (dRow, dCol) steps.
var neighbours = [8][2]int{
	{-1, -1}, {-1, 0}, {-1, 1},
	{0, -1}, {0, 1},
	{1, -1}, {1, 0}, {1, 1},
}

// Components finds all 8-connected regions of non-zero pixels in mask,
// ordered by label.
func Components(mask *mat.Dense) []Component {
	rows, cols := mask.Dims()
	labels := make([]int, rows*cols)
	var comps []Component

	for idx := range labels {
		if labels[idx] != 0 || mask.At(idx/cols, idx%cols) == 0 {
			continue
		}
		comp := Component{Label: len(comps) + 1}
		comp.Pixels = grow(mask, labels, idx, comp.Label)
		for _, p := range comp.Pixels {
			comp.Row += float64(p / cols)
			comp.Col += float64(p % cols)
		}
		n := float64(len(comp.Pixels))
		comp.Row /= n
		comp.Col /= n
		comps = append(comps, comp)
	}
	return comps
}

// grow labels the region of seed breadth first and returns its pixels in
// visiting order. labels doubles as the visited set.
func grow(mask *mat.Dense, labels []int, seed, label int) []int {
	rows, cols := mask.Dims()
	pixels := []int{seed}
	labels[seed] = label
	for next := 0; next < len(pixels); next++ {
		r, c := pixels[next]/cols, pixels[next]%cols
		for _, d := range neighbours {
			nr, nc := r+d[0], c+d[1]
			if nr < 0 || nr >= rows || nc < 0 || nc >= cols {
				continue
			}
			i := nr*cols + nc
			if labels[i] == 0 && mask.At(nr, nc) != 0 {
				labels[i] = label
				pixels = append(pixels, i)
			}
		}
	}
	return pixels
}

// FilterByArea keeps the components whose area lies in [minArea, maxArea].
// A non-positive maxArea disables the upper bound. Labels are preserved.
func FilterByArea(comps []Component, minArea, maxArea int) []Component {
	kept := make([]Component, 0, len(comps))
	for _, c := range comps {
		if c.Area() < minArea || (maxArea > 0 && c.Area() > maxArea) {
			continue
		}
		kept = append(kept, c)
	}
	return kept
}

// LabelImage renders comps into an image where each pixel carries its
// component label and background pixels are zero.
func LabelImage(rows, cols int, comps []Component) *mat.Dense {
	img := mat.NewDense(rows, cols, nil)
	for _, c := range comps {
		for _, idx := range c.Pixels {
			img.Set(idx/cols, idx%cols, float64(c.Label))
		}
	}
	return img
}
