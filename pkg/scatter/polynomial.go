// Package scatter estimates the scattered-neutron background of a radiograph
// from the intensities sampled behind black-body dots.
//
// The sparse dot samples are turned into a dense, image-shaped surface either
// by a second-degree polynomial least-squares fit or by ordinary kriging.
// Both extrapolate beyond the dot grid and always return finite values.
package scatter

import (
	"fmt"
	"math"
	"slices"
	"strings"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"nwquant/pkg/blackbody"
	"nwquant/pkg/imaging"
)

// MinSamples is the smallest number of dots accepted by the estimators.
const MinSamples = 4

// Statistic selects which per-dot intensity drives the fit.
type Statistic int

const (
	// Median is robust against dot edges leaking into the sampling disk.
	Median Statistic = iota
	Mean
)

func (s Statistic) String() string {
	switch s {
	case Median:
		return "median"
	case Mean:
		return "mean"
	default:
		return fmt.Sprintf("Statistic(%d)", int(s))
	}
}

// ParseStatistic converts a config string into a Statistic. An empty string
// selects Median.
func ParseStatistic(s string) (Statistic, error) {
	switch strings.ToLower(s) {
	case "", "median":
		return Median, nil
	case "mean":
		return Mean, nil
	default:
		return 0, fmt.Errorf("scatter: %w: unknown statistic %q", imaging.ErrInvalidParameter, s)
	}
}

// Of returns the statistic of d.
func (s Statistic) Of(d blackbody.Dot) float64 {
	if s == Mean {
		return d.Mean
	}
	return d.Median
}

// Surface is s(r,c) = q0 + q1·r + q2·c + q3·r² + q4·c² + q5·r·c in pixel
// coordinates.
type Surface struct {
	Coeffs [6]float64
}

// At evaluates the surface at (row, col).
func (s Surface) At(row, col float64) float64 {
	q := s.Coeffs
	return q[0] + q[1]*row + q[2]*col + q[3]*row*row + q[4]*col*col + q[5]*row*col
}

// Render evaluates the surface on every pixel of a rows x cols image.
func (s Surface) Render(rows, cols int) *mat.Dense {
	out := mat.NewDense(rows, cols, nil)
	for r := 0; r < rows; r++ {
		row := out.RawRowView(r)
		for c := range row {
			row[c] = s.At(float64(r), float64(c))
		}
	}
	return out
}

// Terms of the scaled design matrix, in coefficient order.
const (
	termConst = iota
	termU
	termV
	termUU
	termVV
	termUV
	numTerms
)

// FitPolynomial fits the second-degree surface through the dot samples in the
// least-squares sense, in centred and scaled coordinates.
//
// Terms the dot layout cannot determine are left out: a squared term needs
// three distinct rows (or columns), a linear one two. When the remaining
// terms still outnumber the dots or are not independent, the fit falls back
// to the bilinear model and then to the plane, which is solved for the
// minimum-norm solution. A four-dot rectangle gives the bilinear
// interpolant and a uniform field always comes back flat.
func FitPolynomial(dots []blackbody.Dot, stat Statistic) (Surface, error) {
	rows, cols, values, err := samples(dots, stat)
	if err != nil {
		return Surface{}, err
	}
	return fitSurface(rows, cols, values)
}

// FitPolynomialPixels fits the surface to every pixel of img where mask is
// non-zero instead of to one statistic per dot.
func FitPolynomialPixels(img, mask *mat.Dense) (Surface, error) {
	if img == nil || mask == nil {
		return Surface{}, fmt.Errorf("scatter: %w", imaging.ErrEmptyImage)
	}
	if err := imaging.CheckShape(img, mask); err != nil {
		return Surface{}, fmt.Errorf("scatter: %w", err)
	}

	var rows, cols, values []float64
	nr, nc := img.Dims()
	for r := 0; r < nr; r++ {
		for c := 0; c < nc; c++ {
			if mask.At(r, c) == 0 {
				continue
			}
			v := img.At(r, c)
			if !isFinite(v) {
				return Surface{}, fmt.Errorf("scatter: %w: pixel (%d,%d) is not finite", imaging.ErrInvalidParameter, r, c)
			}
			rows = append(rows, float64(r))
			cols = append(cols, float64(c))
			values = append(values, v)
		}
	}
	if len(values) < MinSamples {
		return Surface{}, fmt.Errorf("scatter: %w: need %d pixels, got %d",
			imaging.ErrInsufficientSamples, MinSamples, len(values))
	}
	return fitSurface(rows, cols, values)
}

func fitSurface(rows, cols, values []float64) (Surface, error) {
	mr, sr := centreScale(rows)
	mc, sc := centreScale(cols)
	u := make([]float64, len(rows))
	v := make([]float64, len(cols))
	for i := range rows {
		u[i] = (rows[i] - mr) / sr
		v[i] = (cols[i] - mc) / sc
	}

	coeffs, err := fitTerms(u, v, values, candidateModels(distinct(u), distinct(v)))
	if err != nil {
		return Surface{}, err
	}
	return fromScaled(coeffs, mr, sr, mc, sc), nil
}

// candidateModels lists the term sets to try, richest first. The last one is
// solved even when rank deficient.
func candidateModels(nu, nv int) [][]int {
	full := []int{termConst}
	if nu >= 2 {
		full = append(full, termU)
	}
	if nv >= 2 {
		full = append(full, termV)
	}
	if nu >= 3 {
		full = append(full, termUU)
	}
	if nv >= 3 {
		full = append(full, termVV)
	}
	if nu >= 2 && nv >= 2 {
		full = append(full, termUV)
	}

	keep := func(drop ...int) []int {
		var out []int
		for _, t := range full {
			if !slices.Contains(drop, t) {
				out = append(out, t)
			}
		}
		return out
	}
	bilinear := keep(termUU, termVV)
	plane := keep(termUU, termVV, termUV)

	models := [][]int{full}
	if len(bilinear) < len(full) {
		models = append(models, bilinear)
	}
	if len(plane) < len(bilinear) {
		models = append(models, plane)
	}
	return models
}

// fitTerms solves the first model with full column rank that the samples
// can determine and returns all six scaled coefficients.
func fitTerms(u, v, values []float64, models [][]int) ([]float64, error) {
	n := len(values)
	b := mat.NewVecDense(n, values)

	for m, terms := range models {
		last := m == len(models)-1
		if len(terms) > n && !last {
			continue
		}

		a := mat.NewDense(n, len(terms), nil)
		for i := 0; i < n; i++ {
			all := [numTerms]float64{1, u[i], v[i], u[i] * u[i], v[i] * v[i], u[i] * v[i]}
			for j, t := range terms {
				a.Set(i, j, all[t])
			}
		}

		var svd mat.SVD
		if ok := svd.Factorize(a, mat.SVDThin); !ok {
			return nil, fmt.Errorf("scatter: %w: SVD did not converge", imaging.ErrInvalidParameter)
		}
		rank := svd.Rank(1e-12)
		if rank == 0 {
			return nil, fmt.Errorf("scatter: %w: design matrix has rank 0", imaging.ErrInsufficientSamples)
		}
		if rank < len(terms) && !last {
			continue
		}

		var x mat.VecDense
		svd.SolveVecTo(&x, b, rank)
		coeffs := make([]float64, numTerms)
		for j, t := range terms {
			coeffs[t] = x.AtVec(j)
		}
		return coeffs, nil
	}
	return nil, fmt.Errorf("scatter: %w: no model fits the dot layout", imaging.ErrInsufficientSamples)
}

// distinct counts the distinct values of x, treating values closer than
// 1e-9 as equal.
func distinct(x []float64) int {
	sorted := slices.Clone(x)
	slices.Sort(sorted)
	n := 0
	for i, v := range sorted {
		if i == 0 || v-sorted[i-1] > 1e-9 {
			n++
		}
	}
	return n
}

// fromScaled maps coefficients in u=(r-mr)/sr, v=(c-mc)/sc back to pixel
// coordinates.
func fromScaled(a []float64, mr, sr, mc, sc float64) Surface {
	var s Surface
	q := &s.Coeffs
	q[0] = a[0] - a[1]*mr/sr - a[2]*mc/sc + a[3]*mr*mr/(sr*sr) + a[4]*mc*mc/(sc*sc) + a[5]*mr*mc/(sr*sc)
	q[1] = a[1]/sr - 2*a[3]*mr/(sr*sr) - a[5]*mc/(sr*sc)
	q[2] = a[2]/sc - 2*a[4]*mc/(sc*sc) - a[5]*mr/(sr*sc)
	q[3] = a[3] / (sr * sr)
	q[4] = a[4] / (sc * sc)
	q[5] = a[5] / (sr * sc)
	return s
}

// centreScale returns the mean of x and its largest absolute deviation (1
// when all values coincide).
func centreScale(x []float64) (centre, scale float64) {
	centre = floats.Sum(x) / float64(len(x))
	for _, v := range x {
		scale = math.Max(scale, math.Abs(v-centre))
	}
	if scale == 0 {
		scale = 1
	}
	return centre, scale
}

// samples unpacks the dot coordinates and the chosen statistic, rejecting
// short or non-finite input.
func samples(dots []blackbody.Dot, stat Statistic) (rows, cols, values []float64, err error) {
	if len(dots) < MinSamples {
		return nil, nil, nil, fmt.Errorf("scatter: %w: need %d dots, got %d",
			imaging.ErrInsufficientSamples, MinSamples, len(dots))
	}
	rows = make([]float64, len(dots))
	cols = make([]float64, len(dots))
	values = make([]float64, len(dots))
	for i, d := range dots {
		v := stat.Of(d)
		if !isFinite(v) || !isFinite(d.Row) || !isFinite(d.Col) {
			return nil, nil, nil, fmt.Errorf("scatter: %w: dot %d is not finite", imaging.ErrInvalidParameter, d.Label)
		}
		rows[i], cols[i], values[i] = d.Row, d.Col, v
	}
	return rows, cols, values, nil
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
