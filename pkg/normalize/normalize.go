// Package normalize converts raw neutron radiographs into projected
// attenuation images.
//
// Normalize implements the dose-corrected open-beam/dark-current
// normalization
//
//	p = -log( (I-DC)/(OB-DC) * D(OB-DC)/D(I-DC) )
//
// and NormalizeWithScatter extends it with a black-body scatter correction.
// Dark-subtracted intensities are floored at MinIntensity so that the
// logarithm always receives a positive argument.
package normalize

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"nwquant/pkg/imaging"
)

// MinIntensity is the floor applied to dark-subtracted intensities.
const MinIntensity = 1.0

// DoseMode selects how the dose of an image is sampled from the dose ROI.
type DoseMode int

const (
	// DoseMean is the plain mean over the ROI.
	DoseMean DoseMode = iota
	// DoseColumnMedian is the mean over columns of the per-column medians,
	// which is robust against outliers such as gamma spots.
	DoseColumnMedian
)

// ParseDoseMode converts a configuration string to a DoseMode.
func ParseDoseMode(s string) (DoseMode, error) {
	switch s {
	case "", "mean":
		return DoseMean, nil
	case "columnMedian", "column-median":
		return DoseColumnMedian, nil
	default:
		return DoseMean, fmt.Errorf("%w: unknown dose mode %q", imaging.ErrInvalidParameter, s)
	}
}

func (m DoseMode) String() string {
	if m == DoseColumnMedian {
		return "columnMedian"
	}
	return "mean"
}

// Options controls the normalization.
type Options struct {
	// DoseROI is the flat reference region used for flux-drift correction.
	// A nil ROI disables the correction (D = 1).
	DoseROI *imaging.ROI

	// DoseMode selects the dose estimator.
	DoseMode DoseMode

	// Transmission returns the corrected transmission instead of -log(T).
	Transmission bool
}

// Dose returns the dose of img sampled over roi.
func Dose(img *mat.Dense, roi imaging.ROI, mode DoseMode) (float64, error) {
	view, err := roi.View(img)
	if err != nil {
		return 0, err
	}

	switch mode {
	case DoseColumnMedian:
		column := make([]float64, roi.Rows())
		sum := 0.0
		for j := 0; j < roi.Cols(); j++ {
			for i := range column {
				column[i] = view.At(i, j)
			}
			sum += imaging.Median(column)
		}
		return sum / float64(roi.Cols()), nil
	default:
		values, _ := roi.Values(img)
		return stat.Mean(values, nil), nil
	}
}

// RemoveDark subtracts the dark current from img and floors the result at
// MinIntensity. A nil dc only applies the floor.
func RemoveDark(img, dc *mat.Dense) *mat.Dense {
	out := imaging.Subtract(img, dc)
	imaging.ClampMin(out, MinIntensity)
	return out
}

// Normalize computes the projected attenuation of img given the open-beam
// image ob and the dark-current image dc (nil for none).
func Normalize(img, ob, dc *mat.Dense, opts Options) (*mat.Dense, error) {
	if img == nil || ob == nil {
		return nil, fmt.Errorf("normalize: %w: sample and open beam are required", imaging.ErrEmptyImage)
	}
	if err := imaging.CheckShape(img, ob, dc); err != nil {
		return nil, fmt.Errorf("normalize: %w", err)
	}

	sample := RemoveDark(img, dc)
	open := RemoveDark(ob, dc)

	d := 1.0
	if opts.DoseROI != nil {
		dSample, err := Dose(sample, *opts.DoseROI, opts.DoseMode)
		if err != nil {
			return nil, fmt.Errorf("normalize: sample dose: %w", err)
		}
		dOpen, err := Dose(open, *opts.DoseROI, opts.DoseMode)
		if err != nil {
			return nil, fmt.Errorf("normalize: open beam dose: %w", err)
		}
		d = dOpen / dSample
	}

	out := sample
	out.DivElem(sample, open)
	out.Scale(d, out)
	if !opts.Transmission {
		negLog(out)
	}
	return out, nil
}

// negLog replaces every value v of img with -log(v).
func negLog(img *mat.Dense) {
	img.Apply(func(_, _ int, v float64) float64 {
		return -math.Log(v)
	}, img)
}
