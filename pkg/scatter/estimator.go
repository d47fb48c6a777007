package scatter

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	"nwquant/pkg/blackbody"
	"nwquant/pkg/imaging"
	"nwquant/pkg/interpolation"
)

// Estimator turns per-dot samples into a rows x cols scatter image.
type Estimator interface {
	Estimate(dots []blackbody.Dot, rows, cols int) (*mat.Dense, error)
}

// PolynomialEstimator renders the second-degree least-squares surface.
type PolynomialEstimator struct {
	Statistic Statistic

	// Pixels, when set, is fitted at every pixel inside the sampling disks
	// of radius Radius around the dots. Statistic is then unused.
	Pixels *mat.Dense
	Radius float64
}

// Estimate implements Estimator.
func (e PolynomialEstimator) Estimate(dots []blackbody.Dot, rows, cols int) (*mat.Dense, error) {
	if rows <= 0 || cols <= 0 {
		return nil, fmt.Errorf("scatter: %w: %dx%d", imaging.ErrEmptyImage, rows, cols)
	}

	var s Surface
	var err error
	if e.Pixels != nil {
		if r, c := e.Pixels.Dims(); r != rows || c != cols {
			return nil, fmt.Errorf("scatter: %w: pixels are %dx%d, want %dx%d", imaging.ErrShapeMismatch, r, c, rows, cols)
		}
		if !(e.Radius > 0) {
			return nil, fmt.Errorf("scatter: %w: radius must be positive, got %g", imaging.ErrInvalidParameter, e.Radius)
		}
		s, err = FitPolynomialPixels(e.Pixels, blackbody.DiskMask(rows, cols, dots, e.Radius))
	} else {
		s, err = FitPolynomial(dots, e.Statistic)
	}
	if err != nil {
		return nil, err
	}
	return s.Render(rows, cols), nil
}

// KrigingEstimator interpolates the dot samples with ordinary kriging.
type KrigingEstimator struct {
	Statistic Statistic

	// Step is the node spacing of the kriged grid; pixels between nodes are
	// bilinearly interpolated. Zero means 1.
	Step int

	// Workers bounds the goroutines evaluating the grid. Zero keeps the
	// interpolator default.
	Workers int

	// Params overrides the cross-validated variogram when set.
	Params *interpolation.KrigingParams

	Progress interpolation.ProgressCallback
}

// Estimate implements Estimator.
func (e KrigingEstimator) Estimate(dots []blackbody.Dot, rows, cols int) (*mat.Dense, error) {
	if rows <= 0 || cols <= 0 {
		return nil, fmt.Errorf("scatter: %w: %dx%d", imaging.ErrEmptyImage, rows, cols)
	}
	r, c, v, err := samples(dots, e.Statistic)
	if err != nil {
		return nil, err
	}

	k, err := interpolation.NewKriging(r, c, v)
	if err != nil {
		return nil, fmt.Errorf("scatter: %w", err)
	}
	if e.Params != nil {
		k.SetParams(*e.Params)
	}
	if e.Workers > 0 {
		k.SetWorkers(e.Workers)
	}
	k.SetProgressCallback(e.Progress)

	surface := k.InterpolateGrid(rows, cols, e.Step)
	if !imaging.AllFinite(surface) {
		return nil, fmt.Errorf("scatter: %w: kriged surface is not finite", imaging.ErrInvalidParameter)
	}
	return surface, nil
}

// NewEstimator returns the estimator registered under method ("polynomial"
// or "kriging").
func NewEstimator(method string, stat Statistic) (Estimator, error) {
	switch method {
	case "", "polynomial":
		return PolynomialEstimator{Statistic: stat}, nil
	case "kriging":
		return KrigingEstimator{Statistic: stat, Step: 8}, nil
	default:
		return nil, fmt.Errorf("scatter: %w: unknown method %q", imaging.ErrInvalidParameter, method)
	}
}
