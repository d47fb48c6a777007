package matching

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"nwquant/pkg/imaging"
)

// medianFilter replaces every pixel with the median of its neighbours inside
// a disk of the given radius. Neighbours outside the image are ignored.
func medianFilter(img *mat.Dense, radius int) *mat.Dense {
	rows, cols := img.Dims()
	out := mat.NewDense(rows, cols, nil)
	r2 := radius * radius
	window := make([]float64, 0, (2*radius+1)*(2*radius+1))

	for y := 0; y < rows; y++ {
		for x := 0; x < cols; x++ {
			window = window[:0]
			for i := -radius; i <= radius; i++ {
				for j := -radius; j <= radius; j++ {
					if i*i+j*j > r2 {
						continue
					}
					ny, nx := y+i, x+j
					if ny < 0 || ny >= rows || nx < 0 || nx >= cols {
						continue
					}
					window = append(window, img.At(ny, nx))
				}
			}
			out.Set(y, x, imaging.Median(window))
		}
	}
	return out
}

// OtsuThreshold returns the grey level that maximizes the between-class
// variance of a histogram of values with the given number of bins. Values
// strictly below the threshold form the lower class.
func OtsuThreshold(values []float64, bins int) float64 {
	if len(values) == 0 {
		return math.NaN()
	}
	lo, hi := floats.Min(values), floats.Max(values)
	if lo == hi || bins < 2 {
		return lo
	}

	width := (hi - lo) / float64(bins)
	hist := make([]float64, bins)
	for _, v := range values {
		b := int((v - lo) / width)
		if b >= bins {
			b = bins - 1
		}
		hist[b]++
	}

	total := float64(len(values))
	sumAll := 0.0
	for i, h := range hist {
		sumAll += float64(i) * h
	}

	best, bestVar := 1, -1.0
	wBelow, sumBelow := 0.0, 0.0
	for t := 1; t < bins; t++ {
		wBelow += hist[t-1]
		sumBelow += float64(t-1) * hist[t-1]
		wAbove := total - wBelow
		if wBelow == 0 || wAbove == 0 {
			continue
		}
		muBelow := sumBelow / wBelow
		muAbove := (sumAll - sumBelow) / wAbove
		between := wBelow * wAbove * (muBelow - muAbove) * (muBelow - muAbove)
		if between > bestVar {
			bestVar = between
			best = t
		}
	}
	return lo + float64(best)*width
}
