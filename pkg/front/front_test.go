package front

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"nwquant/pkg/imaging"
)

// createRisingFront builds a space-time slice where column j is wet (1) in
// the rows i < sqrt(k*t_j)/pixelSize and dry (0) elsewhere
func createRisingFront(rows int, k, pixelSize float64, times []float64) *mat.Dense {
	st := mat.NewDense(rows, len(times), nil)
	for j, t := range times {
		h := math.Sqrt(k*t) / pixelSize
		for i := 0; i < rows; i++ {
			if float64(i) < h {
				st.Set(i, j, 1)
			}
		}
	}
	return st
}

func uniformTimes(n int, dt float64) []float64 {
	times := make([]float64, n)
	for i := range times {
		times[i] = float64(i) * dt
	}
	return times
}

func TestTrackRecoversWashburnRate(t *testing.T) {
	const k, pixelSize = 2.0, 0.1
	times := uniformTimes(21, 2)
	st := createRisingFront(200, k, pixelSize, times)

	tr := Tracker{Threshold: 0.5, Direction: WetAbove, Origin: FromFirstRow, PixelSize: pixelSize}
	res, err := tr.Track(st, times)
	require.NoError(t, err)

	// t = 0 has no water in the field of view
	assert.Equal(t, NoFront, res.Positions[0])
	assert.True(t, math.IsNaN(res.Lengths[0]))
	assert.Equal(t, 1, res.Start)
	assert.Equal(t, 21, res.End)
	assert.Equal(t, 90, res.Positions[20])

	// Positions are quantized to whole pixels
	assert.InDelta(t, k, res.Fit.K, 0.05)
	assert.Greater(t, res.Fit.KStdErr, 0.0)
	assert.Less(t, res.Fit.KStdErr, 0.05)
	assert.Len(t, res.Fit.Residuals, 20)
}

func TestPositionsMirroredTransmission(t *testing.T) {
	times := uniformTimes(6, 5)
	st := createRisingFront(50, 1, 0.5, times)

	// Flip the profile and invert the values: water enters from the last
	// row and wet pixels transmit less
	mirrored := mat.NewDense(50, len(times), nil)
	mirrored.Apply(func(r, c int, _ float64) float64 {
		return 1 - 0.8*st.At(49-r, c)
	}, mirrored)

	want, err := Tracker{Threshold: 0.5, PixelSize: 0.5}.Positions(st)
	require.NoError(t, err)
	got, err := Tracker{Threshold: 0.5, Direction: WetBelow, Origin: FromLastRow, PixelSize: 0.5}.Positions(mirrored)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestPositionsSentinels(t *testing.T) {
	st := mat.NewDense(4, 3, []float64{
		1, 0, 1,
		1, 0, 1,
		1, 0, 0,
		1, 0, 0,
	})
	tr := Tracker{Threshold: 0.5, PixelSize: 2}

	positions, err := tr.Positions(st)
	require.NoError(t, err)
	// Fully wet, fully dry, front after two rows
	assert.Equal(t, []int{NoFront, NoFront, 2}, positions)

	lengths := tr.Lengths(positions)
	assert.True(t, math.IsNaN(lengths[0]))
	assert.True(t, math.IsNaN(lengths[1]))
	assert.Equal(t, 4.0, lengths[2])
}

func TestActiveRange(t *testing.T) {
	cases := []struct {
		name       string
		positions  []int
		start, end int
	}{
		{"whole series", []int{1, 2, 3}, 0, 3},
		{"longest run wins", []int{NoFront, 3, 5, 4, 6, 7, 9, NoFront}, 3, 7},
		{"plateaus allowed", []int{2, 2, 3, 3, 1}, 0, 4},
		{"earliest tie", []int{1, 2, 0, 3}, 0, 2},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			start, end, err := ActiveRange(tc.positions)
			require.NoError(t, err)
			assert.Equal(t, tc.start, start)
			assert.Equal(t, tc.end, end)
		})
	}

	for _, positions := range [][]int{nil, {NoFront, NoFront}, {4, 4, 4}, {5, 3, 1}, {7}} {
		_, _, err := ActiveRange(positions)
		assert.ErrorIs(t, err, imaging.ErrNoActiveRegion, "positions %v", positions)
	}
}

func TestFitWashburnExact(t *testing.T) {
	times := []float64{1, 4, 9, 16, 25, 36}
	lengths := make([]float64, len(times))
	for i, tt := range times {
		lengths[i] = math.Sqrt(3 * tt)
	}

	fit, err := FitWashburn(times, lengths)
	require.NoError(t, err)
	assert.InDelta(t, 3, fit.K, 1e-9)
	assert.InDelta(t, 0, fit.KStdErr, 1e-6)
	assert.InDelta(t, math.Sqrt(30), fit.At(10), 1e-6)
}

func TestFitWashburnNoisy(t *testing.T) {
	times := []float64{2, 4, 6, 8, 10, 12, 14, 16}
	noise := []float64{0.05, -0.04, 0.03, -0.05, 0.02, 0.04, -0.03, -0.02}
	lengths := make([]float64, len(times))
	for i, tt := range times {
		lengths[i] = math.Sqrt(0.5*tt) + noise[i]
	}

	fit, err := FitWashburn(times, lengths)
	require.NoError(t, err)
	assert.InDelta(t, 0.5, fit.K, 0.02)
	assert.Greater(t, fit.ResidualVariance, 0.0)
	assert.Greater(t, fit.KVariance, 0.0)
	assert.InDelta(t, math.Sqrt(fit.KVariance), fit.KStdErr, 1e-15)

	// The optimum cannot be improved by nudging k
	sse := func(k float64) float64 {
		s := 0.0
		for i, tt := range times {
			r := lengths[i] - math.Sqrt(k*tt)
			s += r * r
		}
		return s
	}
	best := sse(fit.K)
	assert.LessOrEqual(t, best, sse(fit.K*1.001)+1e-12)
	assert.LessOrEqual(t, best, sse(fit.K*0.999)+1e-12)
}

func TestFitWashburnErrors(t *testing.T) {
	_, err := FitWashburn([]float64{1, 2}, []float64{1})
	assert.ErrorIs(t, err, imaging.ErrShapeMismatch)

	_, err = FitWashburn([]float64{-1, 2}, []float64{1, 2})
	assert.ErrorIs(t, err, imaging.ErrInvalidParameter)

	_, err = FitWashburn([]float64{1, 2}, []float64{math.NaN(), 2})
	assert.ErrorIs(t, err, imaging.ErrInvalidParameter)

	_, err = FitWashburn([]float64{1}, []float64{1})
	assert.ErrorIs(t, err, imaging.ErrInsufficientPoints)

	_, err = FitWashburn([]float64{0, 0}, []float64{1, 2})
	assert.ErrorIs(t, err, imaging.ErrInsufficientPoints)
}

func TestTrackErrors(t *testing.T) {
	st := createRisingFront(20, 1, 1, uniformTimes(4, 1))

	_, err := Tracker{Threshold: 0.5}.Track(st, uniformTimes(4, 1))
	assert.ErrorIs(t, err, imaging.ErrInvalidParameter)

	tr := Tracker{Threshold: 0.5, PixelSize: 1}
	_, err = tr.Track(st, uniformTimes(3, 1))
	assert.ErrorIs(t, err, imaging.ErrShapeMismatch)

	// A stationary front has no active region
	flat := mat.NewDense(10, 4, nil)
	for j := 0; j < 4; j++ {
		flat.Set(0, j, 1)
		flat.Set(1, j, 1)
	}
	_, err = tr.Track(flat, uniformTimes(4, 1))
	assert.ErrorIs(t, err, imaging.ErrNoActiveRegion)

	// Timestamps before the offset cannot be fitted
	tr.TimeOffset = 2
	_, err = tr.Track(st, uniformTimes(4, 1))
	assert.ErrorIs(t, err, imaging.ErrInvalidParameter)
}

func TestParseDirectionAndOrigin(t *testing.T) {
	d, err := ParseDirection("below")
	require.NoError(t, err)
	assert.Equal(t, WetBelow, d)
	_, err = ParseDirection("sideways")
	assert.ErrorIs(t, err, imaging.ErrInvalidParameter)

	o, err := ParseOrigin("bottom")
	require.NoError(t, err)
	assert.Equal(t, FromLastRow, o)
	_, err = ParseOrigin("middle")
	assert.ErrorIs(t, err, imaging.ErrInvalidParameter)
}
