package imaging

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// ROI is a half-open rectangle [Row0,Row1) x [Col0,Col1) in pixel indices.
type ROI struct {
	Row0 int `yaml:"row0"`
	Col0 int `yaml:"col0"`
	Row1 int `yaml:"row1"`
	Col1 int `yaml:"col1"`
}

// NewROI builds a ROI from the (row0, col0, row1, col1) ordering used in
// configuration files.
func NewROI(v [4]int) ROI {
	return ROI{Row0: v[0], Col0: v[1], Row1: v[2], Col1: v[3]}
}

// Rows returns the height of the region.
func (r ROI) Rows() int { return r.Row1 - r.Row0 }

// Cols returns the width of the region.
func (r ROI) Cols() int { return r.Col1 - r.Col0 }

// Area returns the number of pixels covered by the region.
func (r ROI) Area() int { return r.Rows() * r.Cols() }

// Validate checks that the region has positive area and lies inside an
// image of the given dimensions.
func (r ROI) Validate(rows, cols int) error {
	if r.Rows() <= 0 || r.Cols() <= 0 {
		return fmt.Errorf("%w: %v has zero area", ErrInvalidROI, r)
	}
	if r.Row0 < 0 || r.Col0 < 0 || r.Row1 > rows || r.Col1 > cols {
		return fmt.Errorf("%w: %v outside %dx%d image", ErrInvalidROI, r, rows, cols)
	}
	return nil
}

// View returns the part of img covered by the region. The view shares
// storage with img and must not be written to.
func (r ROI) View(img *mat.Dense) (mat.Matrix, error) {
	rows, cols := img.Dims()
	if err := r.Validate(rows, cols); err != nil {
		return nil, err
	}
	return img.Slice(r.Row0, r.Row1, r.Col0, r.Col1), nil
}

// Values copies the pixels covered by the region into a row-major slice.
func (r ROI) Values(img *mat.Dense) ([]float64, error) {
	rows, cols := img.Dims()
	if err := r.Validate(rows, cols); err != nil {
		return nil, err
	}
	values := make([]float64, 0, r.Area())
	for i := r.Row0; i < r.Row1; i++ {
		values = append(values, img.RawRowView(i)[r.Col0:r.Col1]...)
	}
	return values, nil
}

func (r ROI) String() string {
	return fmt.Sprintf("ROI(%d,%d,%d,%d)", r.Row0, r.Col0, r.Row1, r.Col1)
}
