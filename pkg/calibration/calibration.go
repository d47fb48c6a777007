// Package calibration derives the attenuation coefficient of water from a
// step-wedge radiograph and converts attenuation images back to thickness.
package calibration

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"nwquant/pkg/imaging"
)

// Axis names the image axis that is averaged out when a step ROI is reduced
// to a profile.
type Axis int

const (
	// AverageRows collapses each column of the ROI to its mean, giving one
	// profile value per column.
	AverageRows Axis = iota
	// AverageCols collapses each row of the ROI to its mean.
	AverageCols
)

// ParseAxis converts "rows" or "cols" into an Axis.
func ParseAxis(s string) (Axis, error) {
	switch s {
	case "", "rows":
		return AverageRows, nil
	case "cols", "columns":
		return AverageCols, nil
	default:
		return 0, fmt.Errorf("calibration: %w: unknown axis %q", imaging.ErrInvalidParameter, s)
	}
}

// Step is one wedge region: its known thickness and the measured projected
// attenuation.
type Step struct {
	Thickness float64
	Mean      float64
	Std       float64
}

// MeasureStep reduces the ROI of img to a profile along axis and returns the
// profile mean and standard deviation as a Step.
func MeasureStep(img *mat.Dense, roi imaging.ROI, thickness float64, axis Axis) (Step, error) {
	profile, err := Profile(img, roi, axis)
	if err != nil {
		return Step{}, err
	}
	mean, std := stat.MeanStdDev(profile, nil)
	if len(profile) == 1 {
		std = 0
	}
	return Step{Thickness: thickness, Mean: mean, Std: std}, nil
}

// Profile averages the ROI of img along axis.
func Profile(img *mat.Dense, roi imaging.ROI, axis Axis) ([]float64, error) {
	view, err := roi.View(img)
	if err != nil {
		return nil, fmt.Errorf("calibration: %w", err)
	}
	rows, cols := view.Dims()

	switch axis {
	case AverageRows:
		profile := make([]float64, cols)
		for c := 0; c < cols; c++ {
			profile[c] = stat.Mean(mat.Col(nil, c, view), nil)
		}
		return profile, nil
	case AverageCols:
		profile := make([]float64, rows)
		for r := 0; r < rows; r++ {
			profile[r] = stat.Mean(mat.Row(nil, r, view), nil)
		}
		return profile, nil
	default:
		return nil, fmt.Errorf("calibration: %w: axis %d", imaging.ErrInvalidParameter, int(axis))
	}
}

// Line is a fitted attenuation model p = Slope·thickness + Intercept. Slope
// is the attenuation coefficient of water in inverse thickness units.
type Line struct {
	Slope        float64
	Intercept    float64
	SlopeErr     float64
	InterceptErr float64

	// ResidualVariance is the sum of squared residuals over the degrees of
	// freedom; zero when the fit is exactly determined.
	ResidualVariance float64
	RSquared         float64
	Residuals        []float64
	ThroughOrigin    bool
}

// FitAttenuation fits a least-squares line of attenuation against thickness.
// With throughOrigin the intercept is fixed at zero. At least two distinct
// thicknesses are required.
func FitAttenuation(steps []Step, throughOrigin bool) (Line, error) {
	x := make([]float64, len(steps))
	y := make([]float64, len(steps))
	for i, s := range steps {
		if math.IsNaN(s.Thickness) || math.IsNaN(s.Mean) || math.IsInf(s.Thickness, 0) || math.IsInf(s.Mean, 0) {
			return Line{}, fmt.Errorf("calibration: %w: step %d is not finite", imaging.ErrInvalidParameter, i)
		}
		x[i], y[i] = s.Thickness, s.Mean
	}
	if n := distinct(x); n < 2 {
		return Line{}, fmt.Errorf("calibration: %w: need 2 distinct thicknesses, got %d",
			imaging.ErrInsufficientPoints, n)
	}

	alpha, beta := stat.LinearRegression(x, y, nil, throughOrigin)
	line := Line{
		Slope:         beta,
		Intercept:     alpha,
		ThroughOrigin: throughOrigin,
		Residuals:     make([]float64, len(x)),
	}

	ssr := 0.0
	for i := range x {
		line.Residuals[i] = y[i] - (alpha + beta*x[i])
		ssr += line.Residuals[i] * line.Residuals[i]
	}

	params := 2
	if throughOrigin {
		params = 1
	}
	if dof := len(x) - params; dof > 0 {
		line.ResidualVariance = ssr / float64(dof)
	}

	// Standard errors of the ordinary least-squares estimates
	if throughOrigin {
		sxx := 0.0
		for _, v := range x {
			sxx += v * v
		}
		line.SlopeErr = math.Sqrt(line.ResidualVariance / sxx)
	} else {
		mx := stat.Mean(x, nil)
		sxx := 0.0
		for _, v := range x {
			sxx += (v - mx) * (v - mx)
		}
		line.SlopeErr = math.Sqrt(line.ResidualVariance / sxx)
		line.InterceptErr = math.Sqrt(line.ResidualVariance * (1/float64(len(x)) + mx*mx/sxx))
	}

	if ssr == 0 {
		line.RSquared = 1
	} else {
		line.RSquared = stat.RSquared(x, y, nil, alpha, beta)
	}
	return line, nil
}

// Thickness inverts the line for a single attenuation value.
func (l Line) Thickness(p float64) float64 {
	return (p - l.Intercept) / l.Slope
}

// WaterThickness converts an attenuation image into a thickness image.
func WaterThickness(img *mat.Dense, line Line) (*mat.Dense, error) {
	if img == nil {
		return nil, fmt.Errorf("calibration: %w", imaging.ErrEmptyImage)
	}
	if line.Slope == 0 || math.IsNaN(line.Slope) || math.IsInf(line.Slope, 0) {
		return nil, fmt.Errorf("calibration: %w: slope %g", imaging.ErrInvalidParameter, line.Slope)
	}
	rows, cols := img.Dims()
	out := mat.NewDense(rows, cols, nil)
	out.Apply(func(r, c int, _ float64) float64 {
		return line.Thickness(img.At(r, c))
	}, out)
	return out, nil
}

func distinct(x []float64) int {
	if len(x) == 0 {
		return 0
	}
	s := append([]float64(nil), x...)
	sort.Float64s(s)
	n := 1
	for i := 1; i < len(s); i++ {
		if s[i] != s[i-1] {
			n++
		}
	}
	return n
}
