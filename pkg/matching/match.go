// Package matching finds black-body dots by template matching.
//
// A template is cut from one dot and median filtered. Match computes the
// normalized cross-correlation of the template against the image and
// FindDots turns correlation peaks into dot records.
package matching

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"nwquant/pkg/blackbody"
	"nwquant/pkg/imaging"
)

// Default area window, as a fraction of the template's dark area, for the
// correlation blobs that are accepted as dots.
const (
	DefaultMinAreaFraction = 0.2
	DefaultMaxAreaFraction = 0.8
)

// Options controls FindDots.
type Options struct {
	// Threshold on the normalized cross-correlation, in (-1, 1).
	Threshold float64

	// Radius of the sampling disk around each dot centroid.
	Radius float64

	// MinAreaFraction and MaxAreaFraction bound the blob area relative to
	// the dark area of the template. Zero selects the defaults.
	MinAreaFraction float64
	MaxAreaFraction float64
}

// Detection is the result of FindDots.
type Detection struct {
	Dots []blackbody.Dot

	// Components are the accepted correlation blobs. They can be passed to
	// blackbody.SampleDots to sample other images of the same grid.
	Components  []blackbody.Component
	Correlation *mat.Dense
}

// Template extracts the region roi of img and median filters it with a disk
// of the given radius to remove outliers. A radius of zero skips filtering.
func Template(img *mat.Dense, roi imaging.ROI, medianRadius int) (*mat.Dense, error) {
	view, err := roi.View(img)
	if err != nil {
		return nil, fmt.Errorf("matching: %w", err)
	}
	tmpl := mat.DenseCopyOf(view)
	if medianRadius <= 0 {
		return tmpl, nil
	}
	return medianFilter(tmpl, medianRadius), nil
}

// Match computes the normalized cross-correlation between img and tmpl. The
// output has the shape of img; each value is the correlation of the
// template centred on that pixel. Positions where the template does not fit
// are zero.
func Match(img, tmpl *mat.Dense) (*mat.Dense, error) {
	rows, cols := img.Dims()
	tRows, tCols := tmpl.Dims()
	if tRows > rows || tCols > cols {
		return nil, fmt.Errorf("matching: %w: template %dx%d larger than image %dx%d",
			imaging.ErrShapeMismatch, tRows, tCols, rows, cols)
	}

	// Zero-mean template and its energy
	n := float64(tRows * tCols)
	kernel := make([]float64, tRows*tCols)
	tMean := 0.0
	for i := 0; i < tRows; i++ {
		for j := 0; j < tCols; j++ {
			tMean += tmpl.At(i, j)
		}
	}
	tMean /= n
	tEnergy := 0.0
	for i := 0; i < tRows; i++ {
		for j := 0; j < tCols; j++ {
			v := tmpl.At(i, j) - tMean
			kernel[i*tCols+j] = v
			tEnergy += v * v
		}
	}

	data := mat.DenseCopyOf(img).RawMatrix().Data
	numerator := crossCorrelate(data, rows, cols, kernel, tRows, tCols)
	sum, sumSq := integralImages(data, rows, cols)

	out := mat.NewDense(rows, cols, nil)
	if tEnergy == 0 {
		return out, nil
	}
	offR, offC := tRows/2, tCols/2
	w := cols + 1
	for y := 0; y+tRows <= rows; y++ {
		for x := 0; x+tCols <= cols; x++ {
			s := windowSum(sum, w, y, x, tRows, tCols)
			s2 := windowSum(sumSq, w, y, x, tRows, tCols)
			variance := s2 - s*s/n
			if variance <= 1e-12*math.Max(1, s2) {
				continue
			}
			out.Set(y+offR, x+offC, numerator[y*cols+x]/math.Sqrt(variance*tEnergy))
		}
	}
	return out, nil
}

// FindDots locates black-body dots in img by thresholding the correlation
// with tmpl and sampling img around every accepted blob.
func FindDots(img, tmpl *mat.Dense, opts Options) (*Detection, error) {
	corr, err := Match(img, tmpl)
	if err != nil {
		return nil, err
	}

	minFrac, maxFrac := opts.MinAreaFraction, opts.MaxAreaFraction
	if minFrac == 0 {
		minFrac = DefaultMinAreaFraction
	}
	if maxFrac == 0 {
		maxFrac = DefaultMaxAreaFraction
	}

	// Dark area of the template sets the expected blob size
	tRows, tCols := tmpl.Dims()
	values := mat.DenseCopyOf(tmpl).RawMatrix().Data
	level := OtsuThreshold(values, 256)
	area := 0
	for _, v := range values {
		if v < level {
			area++
		}
	}
	if area == 0 {
		area = tRows * tCols
	}

	rows, cols := img.Dims()
	mask := mat.NewDense(rows, cols, nil)
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			if corr.At(r, c) > opts.Threshold {
				mask.Set(r, c, 1)
			}
		}
	}

	minArea := int(math.Ceil(minFrac * float64(area)))
	maxArea := int(math.Floor(maxFrac * float64(area)))
	comps := blackbody.FilterByArea(blackbody.Components(mask), minArea, maxArea)
	dots, err := blackbody.SampleDots(comps, img, opts.Radius)
	if err != nil {
		return nil, err
	}
	return &Detection{Dots: dots, Components: comps, Correlation: corr}, nil
}

// integralImages returns summed-area tables of data and data² with an extra
// leading zero row and column.
func integralImages(data []float64, rows, cols int) (sum, sumSq []float64) {
	w := cols + 1
	sum = make([]float64, (rows+1)*w)
	sumSq = make([]float64, (rows+1)*w)
	for i := 0; i < rows; i++ {
		rowSum, rowSq := 0.0, 0.0
		for j := 0; j < cols; j++ {
			v := data[i*cols+j]
			rowSum += v
			rowSq += v * v
			sum[(i+1)*w+j+1] = sum[i*w+j+1] + rowSum
			sumSq[(i+1)*w+j+1] = sumSq[i*w+j+1] + rowSq
		}
	}
	return sum, sumSq
}

func windowSum(table []float64, w, y, x, h, wd int) float64 {
	return table[(y+h)*w+x+wd] - table[y*w+x+wd] - table[(y+h)*w+x] + table[y*w+x]
}
