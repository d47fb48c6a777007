package front

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/optimize"

	"nwquant/pkg/imaging"
)

// Washburn is a fit of L(t) = sqrt(K·t).
type Washburn struct {
	K         float64
	KVariance float64
	KStdErr   float64

	// ResidualVariance is the residual sum of squares over n-1.
	ResidualVariance float64
	Residuals        []float64
}

// At evaluates the fitted law.
func (w Washburn) At(t float64) float64 {
	return math.Sqrt(w.K * t)
}

// FitWashburn fits L = sqrt(k·t) by nonlinear least squares. The search runs
// on log k with BFGS, starting from the linearised estimate
// k0 = Σ L²t / Σ t². The variance of k is the Gauss-Newton estimate
// s² / Σ (∂L/∂k)².
func FitWashburn(times, lengths []float64) (Washburn, error) {
	if len(times) != len(lengths) {
		return Washburn{}, fmt.Errorf("front: %w: %d times, %d lengths",
			imaging.ErrShapeMismatch, len(times), len(lengths))
	}
	if len(times) < 2 {
		return Washburn{}, fmt.Errorf("front: %w: need 2 points, got %d", imaging.ErrInsufficientPoints, len(times))
	}
	for i := range times {
		if times[i] < 0 || math.IsNaN(times[i]) || math.IsInf(times[i], 0) {
			return Washburn{}, fmt.Errorf("front: %w: time %g", imaging.ErrInvalidParameter, times[i])
		}
		if math.IsNaN(lengths[i]) || math.IsInf(lengths[i], 0) {
			return Washburn{}, fmt.Errorf("front: %w: length %d is not finite", imaging.ErrInvalidParameter, i)
		}
	}

	sumT2, sumL2T := 0.0, 0.0
	for i, t := range times {
		sumT2 += t * t
		sumL2T += lengths[i] * lengths[i] * t
	}
	if sumT2 == 0 {
		return Washburn{}, fmt.Errorf("front: %w: all times are zero", imaging.ErrInsufficientPoints)
	}
	k0 := sumL2T / sumT2
	if !(k0 > 0) {
		return Washburn{}, fmt.Errorf("front: %w: front does not advance", imaging.ErrNoActiveRegion)
	}

	residuals := make([]float64, len(times))
	sse := func(logK float64) float64 {
		k := math.Exp(logK)
		for i, t := range times {
			residuals[i] = lengths[i] - math.Sqrt(k*t)
		}
		return floats.Dot(residuals, residuals)
	}

	problem := optimize.Problem{
		Func: func(x []float64) float64 { return sse(x[0]) },
		Grad: func(grad, x []float64) {
			k := math.Exp(x[0])
			g := 0.0
			for i, t := range times {
				model := math.Sqrt(k * t)
				g -= (lengths[i] - model) * model
			}
			grad[0] = g
		},
	}

	logK := math.Log(k0)
	result, err := optimize.Minimize(problem, []float64{logK}, nil, &optimize.BFGS{})
	if err != nil && result == nil {
		return Washburn{}, fmt.Errorf("front: washburn fit: %w", err)
	}
	if result != nil && len(result.X) == 1 && sse(result.X[0]) < sse(logK) {
		logK = result.X[0]
	}

	w := Washburn{K: math.Exp(logK)}
	ssr := sse(logK)
	w.Residuals = append([]float64(nil), residuals...)
	w.ResidualVariance = ssr / float64(len(times)-1)

	// ∂L/∂k = sqrt(t/k)/2
	jtj := 0.0
	for _, t := range times {
		j := 0.5 * math.Sqrt(t/w.K)
		jtj += j * j
	}
	w.KVariance = w.ResidualVariance / jtj
	w.KStdErr = math.Sqrt(w.KVariance)
	return w, nil
}
