// Package blackbody locates black-body calibration dots and samples the
// scattered-neutron intensity behind them.
//
// Each connected component of a dot mask is one dot. The intensity of a
// target image is sampled inside a disk of fixed radius centred on the
// component centroid.
package blackbody

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"nwquant/pkg/imaging"
)

// Dot is the per-component record produced by the locator.
type Dot struct {
	Label  int
	Row    float64
	Col    float64
	Area   int
	Mean   float64
	Median float64
}

// Locate labels the dots of mask and samples target inside a disk of the
// given radius around each centroid. The records are ordered by label. An
// empty mask yields an empty collection.
func Locate(mask, target *mat.Dense, radius float64) ([]Dot, error) {
	if mask == nil || target == nil {
		return nil, fmt.Errorf("blackbody: %w", imaging.ErrEmptyImage)
	}
	if err := imaging.CheckShape(mask, target); err != nil {
		return nil, fmt.Errorf("blackbody: %w", err)
	}
	return SampleDots(Components(mask), target, radius)
}

// SampleDots samples target around the centroid of every component.
func SampleDots(comps []Component, target *mat.Dense, radius float64) ([]Dot, error) {
	if !(radius > 0) {
		return nil, fmt.Errorf("blackbody: %w: radius must be positive, got %g", imaging.ErrInvalidParameter, radius)
	}

	dots := make([]Dot, 0, len(comps))
	for _, c := range comps {
		values := diskValues(target, c.Row, c.Col, radius)
		dots = append(dots, Dot{
			Label:  c.Label,
			Row:    c.Row,
			Col:    c.Col,
			Area:   c.Area(),
			Mean:   stat.Mean(values, nil),
			Median: imaging.Median(values),
		})
	}
	return dots, nil
}

// Detect finds dark dots by thresholding: pixels of img below threshold form
// the mask, components outside [minArea, maxArea] are discarded and the
// remaining ones are sampled on img itself.
func Detect(img *mat.Dense, threshold float64, minArea, maxArea int, radius float64) ([]Dot, error) {
	if img == nil {
		return nil, fmt.Errorf("blackbody: %w", imaging.ErrEmptyImage)
	}
	rows, cols := img.Dims()
	mask := mat.NewDense(rows, cols, nil)
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			if img.At(r, c) < threshold {
				mask.Set(r, c, 1)
			}
		}
	}
	comps := FilterByArea(Components(mask), minArea, maxArea)
	return SampleDots(comps, img, radius)
}

// DiskMask renders the sampling disks of dots as a binary image.
func DiskMask(rows, cols int, dots []Dot, radius float64) *mat.Dense {
	mask := mat.NewDense(rows, cols, nil)
	for _, d := range dots {
		forEachDiskPixel(rows, cols, d.Row, d.Col, radius, func(r, c int) {
			mask.Set(r, c, 1)
		})
	}
	return mask
}

// diskValues collects the pixel values of img whose centres lie strictly
// inside the disk. Pixels outside the image are skipped; when the disk
// covers no pixel centre the nearest in-bounds pixel is used.
func diskValues(img *mat.Dense, row, col, radius float64) []float64 {
	rows, cols := img.Dims()
	var values []float64
	forEachDiskPixel(rows, cols, row, col, radius, func(r, c int) {
		values = append(values, img.At(r, c))
	})
	if len(values) == 0 {
		r := clampIndex(int(math.Round(row)), rows)
		c := clampIndex(int(math.Round(col)), cols)
		values = append(values, img.At(r, c))
	}
	return values
}

func forEachDiskPixel(rows, cols int, row, col, radius float64, fn func(r, c int)) {
	r0 := clampIndex(int(math.Floor(row-radius)), rows)
	r1 := clampIndex(int(math.Ceil(row+radius)), rows)
	c0 := clampIndex(int(math.Floor(col-radius)), cols)
	c1 := clampIndex(int(math.Ceil(col+radius)), cols)
	r2 := radius * radius

	for r := r0; r <= r1; r++ {
		dr := float64(r) - row
		for c := c0; c <= c1; c++ {
			dc := float64(c) - col
			if dr*dr+dc*dc < r2 {
				fn(r, c)
			}
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
