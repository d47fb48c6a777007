package interpolation

import (
	"errors"
	"math"
	"sync/atomic"
	"testing"

	"gonum.org/v1/gonum/mat"

	"nwquant/pkg/imaging"
)

// createTestSamples places samples on a regular grid and evaluates fn there
func createTestSamples(nRows, nCols int, spacing float64, fn func(r, c float64) float64) (rows, cols, values []float64) {
	for i := 0; i < nRows; i++ {
		for j := 0; j < nCols; j++ {
			r := 5 + float64(i)*spacing
			c := 5 + float64(j)*spacing
			rows = append(rows, r)
			cols = append(cols, c)
			values = append(values, fn(r, c))
		}
	}
	return rows, cols, values
}

// TestNewKriging verifies that a kriging interpolator is created with valid parameters
func TestNewKriging(t *testing.T) {
	rows, cols, values := createTestSamples(4, 5, 10, func(r, c float64) float64 { return r + 2*c })

	k, err := NewKriging(rows, cols, values)
	if err != nil {
		t.Fatalf("Failed to create kriging interpolator: %v", err)
	}

	if len(k.points) != len(values) {
		t.Errorf("Expected %d data points, got %d", len(values), len(k.points))
	}

	p := k.Params()
	if p.Range <= 0 || p.Sill <= 0 || p.Nugget < 0 {
		t.Errorf("Invalid cross-validated parameters: %+v", p)
	}
}

// TestNewKrigingErrors verifies input validation
func TestNewKrigingErrors(t *testing.T) {
	_, err := NewKriging([]float64{1, 2}, []float64{1, 2}, []float64{1, 2})
	if !errors.Is(err, imaging.ErrInsufficientSamples) {
		t.Errorf("Expected ErrInsufficientSamples, got %v", err)
	}

	_, err = NewKriging([]float64{1, 2, 3}, []float64{1, 2}, []float64{1, 2, 3})
	if !errors.Is(err, imaging.ErrShapeMismatch) {
		t.Errorf("Expected ErrShapeMismatch, got %v", err)
	}

	_, err = NewKriging([]float64{1, 2, 3}, []float64{1, 2, 3}, []float64{1, math.NaN(), 3})
	if !errors.Is(err, imaging.ErrInvalidParameter) {
		t.Errorf("Expected ErrInvalidParameter, got %v", err)
	}
}

// TestVariogramModels verifies the three variogram models (Spherical, Exponential, Gaussian)
func TestVariogramModels(t *testing.T) {
	testParams := []KrigingParams{
		{Range: 10.0, Sill: 1.0, Nugget: 0.1, Model: Spherical},
		{Range: 10.0, Sill: 1.0, Nugget: 0.1, Model: Exponential},
		{Range: 10.0, Sill: 1.0, Nugget: 0.1, Model: Gaussian},
	}
	distances := []float64{0.0, 5.0, 10.0, 20.0}

	for _, params := range testParams {
		for _, h := range distances {
			gamma := variogram(h, params)

			if h == 0 {
				if gamma != 0 {
					t.Errorf("%v: variogram at h=0 should be 0, got %f", params.Model, gamma)
				}
				continue
			}

			// Nugget check
			if gamma < params.Nugget {
				t.Errorf("%v: variogram should include nugget effect (%f), got %f",
					params.Model, params.Nugget, gamma)
			}

			// Sill check for large distances
			if h >= 2*params.Range {
				expectedSill := params.Nugget + params.Sill
				if math.Abs(gamma-expectedSill) > 0.01 {
					t.Errorf("%v: variogram at large distance should approach sill+nugget (%f), got %f",
						params.Model, expectedSill, gamma)
				}
			}
		}
	}
}

// TestEstimateIsExactAtSamples verifies that kriging honours its samples
func TestEstimateIsExactAtSamples(t *testing.T) {
	rows, cols, values := createTestSamples(4, 4, 12, func(r, c float64) float64 {
		return 100 + math.Sin(r/10)*20 + c
	})
	k, err := NewKriging(rows, cols, values)
	if err != nil {
		t.Fatalf("NewKriging failed: %v", err)
	}

	for i := range values {
		got := k.Estimate(rows[i], cols[i])
		if math.Abs(got-values[i]) > 1e-9 {
			t.Errorf("Sample %d: expected %.6f, got %.6f", i, values[i], got)
		}
	}
}

// TestConstantField verifies that a constant field is reproduced everywhere,
// including far outside the sample hull
func TestConstantField(t *testing.T) {
	rows, cols, values := createTestSamples(3, 3, 8, func(r, c float64) float64 { return 42 })
	k, err := NewKriging(rows, cols, values)
	if err != nil {
		t.Fatalf("NewKriging failed: %v", err)
	}

	for _, p := range [][2]float64{{9, 9}, {0, 0}, {200, -50}, {13.5, 7.25}} {
		got := k.Estimate(p[0], p[1])
		if math.Abs(got-42) > 1e-6 {
			t.Errorf("At %v: expected 42, got %f", p, got)
		}
	}
}

// TestSolveSystem verifies the QR solver on a well-conditioned system
func TestSolveSystem(t *testing.T) {
	a := mat.NewDense(3, 3, []float64{
		2, 1, 1,
		1, 3, 1,
		1, 1, 4,
	})
	b := mat.NewVecDense(3, []float64{7, 10, 15})

	x, ok := solveSystem(a, b)
	if !ok {
		t.Fatal("solveSystem reported failure")
	}
	// Solution of the system is (1, 2, 3)
	for i, want := range []float64{1, 2, 3} {
		if math.Abs(x[i]-want) > 1e-9 {
			t.Errorf("x[%d]: expected %f, got %f", i, want, x[i])
		}
	}
}

// TestInterpolateGrid verifies the dense evaluation and its upsampling
func TestInterpolateGrid(t *testing.T) {
	plane := func(r, c float64) float64 { return 10 + 0.5*r - 0.25*c }
	rows, cols, values := createTestSamples(4, 4, 10, plane)
	k, err := NewKriging(rows, cols, values)
	if err != nil {
		t.Fatalf("NewKriging failed: %v", err)
	}
	k.SetWorkers(3)

	var calls atomic.Int32
	k.SetProgressCallback(func(completed, total int, message string) { calls.Add(1) })

	full := k.InterpolateGrid(41, 37, 1)
	coarse := k.InterpolateGrid(41, 37, 4)

	r, c := coarse.Dims()
	if r != 41 || c != 37 {
		t.Fatalf("Expected 41x37 grid, got %dx%d", r, c)
	}
	if calls.Load() == 0 {
		t.Error("Progress callback was never called")
	}

	for i := 0; i < 41; i++ {
		for j := 0; j < 37; j++ {
			v := coarse.At(i, j)
			if math.IsNaN(v) || math.IsInf(v, 0) {
				t.Fatalf("Non-finite value at (%d,%d)", i, j)
			}
		}
	}

	// Grid nodes are evaluated exactly
	for _, p := range [][2]int{{0, 0}, {8, 12}, {40, 36}, {40, 0}} {
		if math.Abs(coarse.At(p[0], p[1])-full.At(p[0], p[1])) > 1e-9 {
			t.Errorf("Node %v differs: %f vs %f", p, coarse.At(p[0], p[1]), full.At(p[0], p[1]))
		}
	}
}

// TestGridNodes verifies node placement
func TestGridNodes(t *testing.T) {
	nodes := gridNodes(10, 4)
	expected := []int{0, 4, 8, 9}
	if len(nodes) != len(expected) {
		t.Fatalf("Expected %v, got %v", expected, nodes)
	}
	for i := range expected {
		if nodes[i] != expected[i] {
			t.Errorf("Expected %v, got %v", expected, nodes)
		}
	}
}

// BenchmarkInterpolateGrid measures a full-frame estimate from a 10x10 dot grid
func BenchmarkInterpolateGrid(b *testing.B) {
	rows, cols, values := createTestSamples(10, 10, 50, func(r, c float64) float64 { return r*c/1000 + 5 })
	k, err := NewKriging(rows, cols, values)
	if err != nil {
		b.Fatalf("NewKriging failed: %v", err)
	}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = k.InterpolateGrid(512, 512, 8)
	}
}
