package matching

import (
	"math"
	"math/cmplx"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"nwquant/pkg/imaging"
)

var dotCentres = [][2]int{{16, 16}, {16, 48}, {48, 16}, {48, 48}}

// createDotImage creates a bright field with dark disks at dotCentres
func createDotImage() *mat.Dense {
	img := mat.NewDense(64, 64, nil)
	img.Apply(func(r, c int, _ float64) float64 {
		for _, ctr := range dotCentres {
			dr, dc := r-ctr[0], c-ctr[1]
			if dr*dr+dc*dc <= 9 {
				return 100
			}
		}
		return 1000
	}, img)
	return img
}

func TestFFT2DRoundTrip(t *testing.T) {
	rows, cols := 6, 10
	data := make([]complex128, rows*cols)
	for i := range data {
		data[i] = complex(math.Sin(float64(i)), float64(i%3))
	}
	orig := append([]complex128(nil), data...)

	fft2D(data, rows, cols, false)
	// DC term is the plain sum
	var sum complex128
	for _, v := range orig {
		sum += v
	}
	assert.InDelta(t, 0, cmplx.Abs(data[0]-sum), 1e-9)

	fft2D(data, rows, cols, true)
	for i := range data {
		assert.InDelta(t, 0, cmplx.Abs(data[i]-orig[i]), 1e-9)
	}
}

func TestCrossCorrelateMatchesDirectSum(t *testing.T) {
	rows, cols := 7, 9
	img := make([]float64, rows*cols)
	for i := range img {
		img[i] = float64((i*7)%11) - 3
	}
	kernel := []float64{1, -2, 0.5, 3, 0, -1}
	kRows, kCols := 2, 3

	got := crossCorrelate(img, rows, cols, kernel, kRows, kCols)
	for y := 0; y+kRows <= rows; y++ {
		for x := 0; x+kCols <= cols; x++ {
			want := 0.0
			for i := 0; i < kRows; i++ {
				for j := 0; j < kCols; j++ {
					want += img[(y+i)*cols+x+j] * kernel[i*kCols+j]
				}
			}
			assert.InDelta(t, want, got[y*cols+x], 1e-9, "offset (%d,%d)", y, x)
		}
	}
}

func TestMatchPeaksAtDots(t *testing.T) {
	img := createDotImage()
	tmpl, err := Template(img, imaging.ROI{Row0: 11, Col0: 11, Row1: 22, Col1: 22}, 0)
	require.NoError(t, err)

	corr, err := Match(img, tmpl)
	require.NoError(t, err)

	rows, cols := corr.Dims()
	assert.Equal(t, 64, rows)
	assert.Equal(t, 64, cols)
	for _, ctr := range dotCentres {
		assert.InDelta(t, 1.0, corr.At(ctr[0], ctr[1]), 1e-6)
	}
	// Flat background has no correlation
	assert.Equal(t, 0.0, corr.At(32, 32))
	assert.Less(t, corr.At(17, 16), 0.9)
}

func TestFindDots(t *testing.T) {
	img := createDotImage()
	tmpl, err := Template(img, imaging.ROI{Row0: 11, Col0: 11, Row1: 22, Col1: 22}, 0)
	require.NoError(t, err)

	// Only exact alignments pass 0.9; a one-pixel shift correlates at ~0.68
	det, err := FindDots(img, tmpl, Options{
		Threshold:       0.9,
		Radius:          2,
		MinAreaFraction: 0.01,
		MaxAreaFraction: 1,
	})
	require.NoError(t, err)
	require.Len(t, det.Dots, len(dotCentres))
	for i, d := range det.Dots {
		assert.InDelta(t, float64(dotCentres[i][0]), d.Row, 0.5)
		assert.InDelta(t, float64(dotCentres[i][1]), d.Col, 0.5)
		assert.Equal(t, 100.0, d.Median)
	}
}

func TestMatchRejectsLargeTemplate(t *testing.T) {
	_, err := Match(mat.NewDense(4, 4, nil), mat.NewDense(5, 2, nil))
	assert.ErrorIs(t, err, imaging.ErrShapeMismatch)
}

func TestTemplateMedianRemovesOutlier(t *testing.T) {
	img := mat.NewDense(9, 9, nil)
	img.Apply(func(_, _ int, _ float64) float64 { return 10 }, img)
	img.Set(4, 4, 5000)

	tmpl, err := Template(img, imaging.ROI{Row0: 2, Col0: 2, Row1: 7, Col1: 7}, 1)
	require.NoError(t, err)
	assert.Equal(t, 10.0, tmpl.At(2, 2))
}

func TestOtsuThreshold(t *testing.T) {
	values := make([]float64, 0, 20)
	for i := 0; i < 10; i++ {
		values = append(values, 0, 10)
	}
	thr := OtsuThreshold(values, 256)
	assert.Greater(t, thr, 0.0)
	assert.Less(t, thr, 10.0)

	assert.Equal(t, 3.0, OtsuThreshold([]float64{3, 3, 3}, 256))
}
