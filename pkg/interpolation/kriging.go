// Package interpolation provides ordinary kriging of sparse 2D samples onto
// dense image grids. It is used to turn the scattered black-body dot
// intensities into a full-frame scatter estimate.
package interpolation

import (
	"fmt"
	"math"
	"runtime"
	"sync"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/spatial/kdtree"
	"gonum.org/v1/gonum/stat"

	"nwquant/pkg/imaging"
)

// VariogramModel selects the semivariance model.
type VariogramModel int

const (
	Spherical VariogramModel = iota
	Exponential
	Gaussian
)

func (m VariogramModel) String() string {
	switch m {
	case Spherical:
		return "spherical"
	case Exponential:
		return "exponential"
	case Gaussian:
		return "gaussian"
	default:
		return fmt.Sprintf("VariogramModel(%d)", int(m))
	}
}

// KrigingParams holds the parameters for kriging interpolation
type KrigingParams struct {
	Range  float64        // Range parameter of the variogram
	Sill   float64        // Sill parameter of the variogram
	Nugget float64        // Nugget effect parameter
	Model  VariogramModel // Type of variogram model to use
}

// Point2D is a sample location in pixel coordinates.
type Point2D struct {
	Row, Col float64
	Index    int // position in the sample slice
}

// Compare implements the kdtree.Comparable interface
func (p Point2D) Compare(c kdtree.Comparable, d kdtree.Dim) float64 {
	q := c.(Point2D)
	switch d {
	case 0:
		return p.Row - q.Row
	case 1:
		return p.Col - q.Col
	default:
		panic("illegal dimension")
	}
}

// Dims returns the number of dimensions for the KD-tree
func (p Point2D) Dims() int { return 2 }

// Distance returns the squared Euclidean distance between two points
func (p Point2D) Distance(c kdtree.Comparable) float64 {
	q := c.(Point2D)
	dr := p.Row - q.Row
	dc := p.Col - q.Col
	return dr*dr + dc*dc
}

// Points2D is a collection of Point2D that satisfies kdtree.Interface
type Points2D []Point2D

func (p Points2D) Index(i int) kdtree.Comparable         { return p[i] }
func (p Points2D) Len() int                              { return len(p) }
func (p Points2D) Slice(start, end int) kdtree.Interface { return p[start:end] }

// Pivot implements the kdtree.Interface method
func (p Points2D) Pivot(d kdtree.Dim) int {
	return kdtree.Partition(pointPlane{Points2D: p, Dim: d}, kdtree.MedianOfRandoms(pointPlane{Points2D: p, Dim: d}, 100))
}

// pointPlane implements sort.Interface and kdtree.SortSlicer for Points2D
type pointPlane struct {
	Points2D
	kdtree.Dim
}

func (p pointPlane) Less(i, j int) bool {
	switch p.Dim {
	case 0:
		return p.Points2D[i].Row < p.Points2D[j].Row
	case 1:
		return p.Points2D[i].Col < p.Points2D[j].Col
	default:
		panic("illegal dimension")
	}
}

func (p pointPlane) Slice(start, end int) kdtree.SortSlicer {
	return pointPlane{Points2D: p.Points2D[start:end], Dim: p.Dim}
}

func (p pointPlane) Swap(i, j int) {
	p.Points2D[i], p.Points2D[j] = p.Points2D[j], p.Points2D[i]
}

// ProgressCallback is a function that reports progress during interpolation
type ProgressCallback func(completed, total int, message string)

// DefaultNeighbors is the number of nearest samples used per estimate.
const DefaultNeighbors = 16

// MinSamples is the smallest sample count accepted by NewKriging.
const MinSamples = 3

// Kriging implements ordinary kriging over scattered 2D samples.
type Kriging struct {
	points           []Point2D
	values           []float64
	params           KrigingParams
	neighbors        int
	numWorkers       int
	kdTree           *kdtree.Tree
	progressCallback ProgressCallback
}

// NewKriging creates an interpolator for samples at (rows[i], cols[i]) with
// the given values. Variogram parameters are chosen by leave-one-out
// cross-validation.
func NewKriging(rows, cols, values []float64) (*Kriging, error) {
	if len(rows) != len(values) || len(cols) != len(values) {
		return nil, fmt.Errorf("interpolation: %w: %d rows, %d cols, %d values",
			imaging.ErrShapeMismatch, len(rows), len(cols), len(values))
	}
	if len(values) < MinSamples {
		return nil, fmt.Errorf("interpolation: %w: need %d samples, got %d",
			imaging.ErrInsufficientSamples, MinSamples, len(values))
	}

	k := &Kriging{
		points:     make([]Point2D, len(values)),
		values:     make([]float64, len(values)),
		neighbors:  DefaultNeighbors,
		numWorkers: runtime.NumCPU(),
	}
	for i, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) || math.IsNaN(rows[i]) || math.IsNaN(cols[i]) {
			return nil, fmt.Errorf("interpolation: %w: sample %d is not finite", imaging.ErrInvalidParameter, i)
		}
		k.points[i] = Point2D{Row: rows[i], Col: cols[i], Index: i}
		k.values[i] = v
	}

	// Build the KD-tree on a copy; kdtree.New reorders its input
	tree := make(Points2D, len(k.points))
	copy(tree, k.points)
	k.kdTree = kdtree.New(tree, false)

	k.optimizeParameters()
	return k, nil
}

// Params returns the variogram parameters in use.
func (k *Kriging) Params() KrigingParams { return k.params }

// SetParams overrides the cross-validated variogram parameters.
func (k *Kriging) SetParams(p KrigingParams) { k.params = p }

// SetNeighbors sets how many nearest samples enter each estimate.
func (k *Kriging) SetNeighbors(n int) {
	if n >= 1 {
		k.neighbors = n
	}
}

// SetWorkers sets the number of goroutines used by InterpolateGrid.
func (k *Kriging) SetWorkers(n int) {
	if n >= 1 {
		k.numWorkers = n
	}
}

// SetProgressCallback sets a callback function to report progress during
// grid interpolation.
func (k *Kriging) SetProgressCallback(callback ProgressCallback) {
	k.progressCallback = callback
}

// optimizeParameters uses cross-validation to find the variogram model,
// range and nugget. The sill is the sample variance; scaling the sill
// together with the nugget does not change the kriging weights.
func (k *Kriging) optimizeParameters() {
	sill := stat.Variance(k.values, nil)
	if !(sill > 0) {
		sill = 1
	}
	spacing := k.meanSpacing()

	var candidates []KrigingParams
	for _, model := range []VariogramModel{Spherical, Exponential, Gaussian} {
		for _, r := range []float64{spacing * 1.5, spacing * 3, spacing * 6} {
			for _, nugget := range []float64{0, 0.1 * sill} {
				candidates = append(candidates, KrigingParams{Range: r, Sill: sill, Nugget: nugget, Model: model})
			}
		}
	}

	// Create a channel to collect results from goroutines
	type paramResult struct {
		index int
		error float64
	}
	resultChan := make(chan paramResult)

	var wg sync.WaitGroup
	for i, p := range candidates {
		wg.Add(1)
		go func(i int, p KrigingParams) {
			defer wg.Done()
			resultChan <- paramResult{i, k.crossValidate(p)}
		}(i, p)
	}

	// Close the channel when all goroutines are done
	go func() {
		wg.Wait()
		close(resultChan)
	}()

	best, bestError := 0, math.MaxFloat64
	for result := range resultChan {
		if result.error < bestError || (result.error == bestError && result.index < best) {
			bestError = result.error
			best = result.index
		}
	}
	k.params = candidates[best]
}

// crossValidate returns the leave-one-out RMSE of params.
func (k *Kriging) crossValidate(params KrigingParams) float64 {
	total := 0.0
	for i, p := range k.points {
		estimate := k.estimate(p, i, params)
		diff := k.values[i] - estimate
		total += diff * diff
	}
	rmse := math.Sqrt(total / float64(len(k.points)))
	if math.IsNaN(rmse) {
		return math.MaxFloat64
	}
	return rmse
}

// meanSpacing is the mean distance from each sample to its nearest
// neighbour.
func (k *Kriging) meanSpacing() float64 {
	sum := 0.0
	for i, p := range k.points {
		nn := k.nearest(p, 1, i)
		if len(nn) == 0 {
			continue
		}
		sum += math.Sqrt(p.Distance(nn[0]))
	}
	spacing := sum / float64(len(k.points))
	if !(spacing > 0) {
		return 1
	}
	return spacing
}

// Estimate returns the kriged value at (row, col).
func (k *Kriging) Estimate(row, col float64) float64 {
	return k.estimate(Point2D{Row: row, Col: col, Index: -1}, -1, k.params)
}

// estimate computes the value at p from its nearest samples, skipping the
// sample with index exclude.
func (k *Kriging) estimate(p Point2D, exclude int, params KrigingParams) float64 {
	neighbors := k.nearest(p, k.neighbors, exclude)
	if len(neighbors) == 0 {
		return math.NaN()
	}
	// Kriging with zero nugget is an exact interpolator
	if p.Distance(neighbors[0]) < 1e-18 {
		return k.values[neighbors[0].Index]
	}

	weights := k.calculateWeightsAt(p, neighbors, params)
	estimate := 0.0
	for i, w := range weights {
		estimate += w * k.values[neighbors[i].Index]
	}
	return estimate
}

// nearest returns up to n samples closest to p, nearest first, without the
// sample whose index is exclude.
func (k *Kriging) nearest(p Point2D, n, exclude int) []Point2D {
	want := n
	if exclude >= 0 {
		want++
	}
	keeper := kdtree.NewNKeeper(want)
	k.kdTree.NearestSet(keeper, p)

	// The keeper's heap is not in distance order
	found := make([]Point2D, 0, len(keeper.Heap))
	dists := make([]float64, 0, len(keeper.Heap))
	for _, cd := range keeper.Heap {
		if cd.Comparable == nil {
			continue
		}
		q := cd.Comparable.(Point2D)
		if q.Index == exclude {
			continue
		}
		pos := len(found)
		found = append(found, q)
		dists = append(dists, cd.Dist)
		for pos > 0 && dists[pos-1] > dists[pos] {
			found[pos-1], found[pos] = found[pos], found[pos-1]
			dists[pos-1], dists[pos] = dists[pos], dists[pos-1]
			pos--
		}
	}
	if len(found) > n {
		found = found[:n]
	}
	return found
}

// calculateWeightsAt solves the ordinary kriging system for p. The weights
// sum to one, which keeps extrapolated values inside the sample range.
func (k *Kriging) calculateWeightsAt(p Point2D, points []Point2D, params KrigingParams) []float64 {
	n := len(points)
	a := mat.NewDense(n+1, n+1, nil)
	b := mat.NewVecDense(n+1, nil)

	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			h := math.Sqrt(points[i].Distance(points[j]))
			a.Set(i, j, variogram(h, params))
		}
		a.Set(i, n, 1) // Constraint for weights sum = 1
		a.Set(n, i, 1)
		b.SetVec(i, variogram(math.Sqrt(p.Distance(points[i])), params))
	}
	b.SetVec(n, 1)

	if w, ok := solveSystem(a, b); ok {
		return w[:n]
	}
	return inverseDistanceWeights(p, points)
}

// solveSystem solves a·x = b with QR, retrying once with a small diagonal
// regularisation when the system is near singular.
func solveSystem(a *mat.Dense, b *mat.VecDense) ([]float64, bool) {
	n, _ := a.Dims()
	var qr mat.QR
	var x mat.VecDense

	qr.Factorize(a)
	if err := qr.SolveVecTo(&x, false, b); err == nil && finite(x.RawVector().Data) {
		return x.RawVector().Data, true
	}

	scale := 0.0
	for i := 0; i < n-1; i++ {
		scale = math.Max(scale, math.Abs(a.At(i, i)))
	}
	reg := mat.DenseCopyOf(a)
	for i := 0; i < n-1; i++ {
		reg.Set(i, i, reg.At(i, i)+1e-6*math.Max(scale, 1))
	}
	qr.Factorize(reg)
	if err := qr.SolveVecTo(&x, false, b); err != nil || !finite(x.RawVector().Data) {
		return nil, false
	}
	return x.RawVector().Data, true
}

func inverseDistanceWeights(p Point2D, points []Point2D) []float64 {
	weights := make([]float64, len(points))
	total := 0.0
	for i, q := range points {
		weights[i] = 1 / p.Distance(q)
		total += weights[i]
	}
	for i := range weights {
		weights[i] /= total
	}
	return weights
}

func finite(values []float64) bool {
	for _, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// variogram calculates the semivariance between two points at distance h.
func variogram(h float64, params KrigingParams) float64 {
	if h == 0 {
		return 0
	}

	// Add nugget effect
	gamma := params.Nugget

	switch params.Model {
	case Spherical:
		if h < params.Range {
			r := h / params.Range
			gamma += params.Sill * (1.5*r - 0.5*r*r*r)
		} else {
			gamma += params.Sill
		}
	case Exponential:
		gamma += params.Sill * (1 - math.Exp(-3*h/params.Range))
	case Gaussian:
		gamma += params.Sill * (1 - math.Exp(-3*h*h/(params.Range*params.Range)))
	}
	return gamma
}
