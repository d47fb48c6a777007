// Package imaging holds the primitives shared by the normalization,
// black-body and calibration stages: regions of interest, shape checks,
// element-wise helpers and the error taxonomy.
//
// Images are *mat.Dense values indexed (row, col). Functions in this module
// never modify their inputs; every stage allocates its output.
package imaging

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/mat"
)

// CheckShape verifies that all non-nil images share the dimensions of the
// first non-nil one.
func CheckShape(imgs ...*mat.Dense) error {
	rows, cols := -1, -1
	for i, img := range imgs {
		if img == nil {
			continue
		}
		r, c := img.Dims()
		if r == 0 || c == 0 {
			return fmt.Errorf("%w: input %d", ErrEmptyImage, i)
		}
		if rows < 0 {
			rows, cols = r, c
			continue
		}
		if r != rows || c != cols {
			return fmt.Errorf("%w: input %d is %dx%d, expected %dx%d", ErrShapeMismatch, i, r, c, rows, cols)
		}
	}
	return nil
}

// Clone returns a deep copy of img.
func Clone(img *mat.Dense) *mat.Dense {
	return mat.DenseCopyOf(img)
}

// Subtract returns a - b. A nil b is treated as zero.
func Subtract(a, b *mat.Dense) *mat.Dense {
	out := Clone(a)
	if b != nil {
		out.Sub(out, b)
	}
	return out
}

// ClampMin replaces, in place, every value of img below min (and every NaN)
// with min. It is only applied to images owned by the caller.
func ClampMin(img *mat.Dense, min float64) {
	raw := img.RawMatrix()
	for i := 0; i < raw.Rows; i++ {
		row := raw.Data[i*raw.Stride : i*raw.Stride+raw.Cols]
		for j, v := range row {
			if v < min || math.IsNaN(v) {
				row[j] = min
			}
		}
	}
}

// Median calculates the median value of a slice of float64 values.
// For an even count it returns the mean of the two central values.
func Median(values []float64) float64 {
	n := len(values)
	if n == 0 {
		return math.NaN()
	}

	// Create a copy to avoid modifying the original
	sorted := make([]float64, n)
	copy(sorted, values)
	sort.Float64s(sorted)

	if n%2 == 0 {
		return (sorted[n/2-1] + sorted[n/2]) / 2
	}
	return sorted[n/2]
}

// AllFinite reports whether img contains neither NaN nor infinities.
func AllFinite(img mat.Matrix) bool {
	rows, cols := img.Dims()
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			v := img.At(i, j)
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return false
			}
		}
	}
	return true
}
