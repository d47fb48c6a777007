package scatter

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"nwquant/pkg/blackbody"
	"nwquant/pkg/imaging"
)

// Residual summarises bb - estimate over the pixels of one dot.
type Residual struct {
	Label    int
	Row, Col float64
	Area     int
	Median   float64
	Mean     float64
	MSE      float64
	RMSE     float64
}

// Residuals compares a black-body image with a scatter estimate inside every
// dot of mask whose area lies in [minArea, maxArea] (maxArea <= 0 disables
// the upper bound). Small residuals mean the surface follows the dots.
func Residuals(bb, estimate, mask *mat.Dense, minArea, maxArea int) ([]Residual, error) {
	if bb == nil || estimate == nil || mask == nil {
		return nil, fmt.Errorf("scatter: %w", imaging.ErrEmptyImage)
	}
	if err := imaging.CheckShape(bb, estimate, mask); err != nil {
		return nil, fmt.Errorf("scatter: %w", err)
	}

	_, cols := bb.Dims()
	comps := blackbody.FilterByArea(blackbody.Components(mask), minArea, maxArea)
	out := make([]Residual, 0, len(comps))
	for _, c := range comps {
		diff := make([]float64, len(c.Pixels))
		sq := 0.0
		for i, idx := range c.Pixels {
			r, col := idx/cols, idx%cols
			diff[i] = bb.At(r, col) - estimate.At(r, col)
			sq += diff[i] * diff[i]
		}
		mse := sq / float64(len(diff))
		out = append(out, Residual{
			Label:  c.Label,
			Row:    c.Row,
			Col:    c.Col,
			Area:   c.Area(),
			Median: imaging.Median(diff),
			Mean:   stat.Mean(diff, nil),
			MSE:    mse,
			RMSE:   math.Sqrt(mse),
		})
	}
	return out, nil
}
