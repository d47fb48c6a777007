// Package front tracks a water front in a space-time slice and fits
// Washburn's capillary-rise law L(t) = sqrt(k·t) to its positions.
//
// A space-time slice has one row per position along the flow direction and
// one column per time step. A pixel is wet when its value is on the wet side
// of the threshold. Scanning each column from the water source, the front is
// the first dry pixel after a run of wet pixels.
package front

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"nwquant/pkg/imaging"
)

// NoFront marks a time step without a wet-to-dry transition.
const NoFront = -1

// Direction tells which side of the threshold is wet.
type Direction int

const (
	// WetAbove treats values >= threshold as wet. Attenuation and
	// thickness images use this convention.
	WetAbove Direction = iota
	// WetBelow treats values < threshold as wet, as in transmission images.
	WetBelow
)

// ParseDirection converts "above" or "below" into a Direction.
func ParseDirection(s string) (Direction, error) {
	switch s {
	case "", "above":
		return WetAbove, nil
	case "below":
		return WetBelow, nil
	default:
		return 0, fmt.Errorf("front: %w: unknown direction %q", imaging.ErrInvalidParameter, s)
	}
}

// Origin tells from which end of the profile the water enters.
type Origin int

const (
	FromFirstRow Origin = iota
	FromLastRow
)

// ParseOrigin converts "first" or "last" into an Origin.
func ParseOrigin(s string) (Origin, error) {
	switch s {
	case "", "first", "top":
		return FromFirstRow, nil
	case "last", "bottom":
		return FromLastRow, nil
	default:
		return 0, fmt.Errorf("front: %w: unknown origin %q", imaging.ErrInvalidParameter, s)
	}
}

// Tracker extracts front positions from space-time slices.
type Tracker struct {
	Threshold float64
	Direction Direction
	Origin    Origin

	// PixelSize converts pixel counts to physical length.
	PixelSize float64

	// TimeOffset is subtracted from every timestamp before fitting; it is
	// the moment the sample touched the water.
	TimeOffset float64
}

// Result is the outcome of Track.
type Result struct {
	Positions []int
	Lengths   []float64

	// Start and End delimit the fitted time steps, [Start, End).
	Start, End int

	Fit Washburn
}

func (tr Tracker) validate() error {
	if math.IsNaN(tr.Threshold) {
		return fmt.Errorf("front: %w: threshold is NaN", imaging.ErrInvalidParameter)
	}
	if !(tr.PixelSize > 0) || math.IsInf(tr.PixelSize, 0) {
		return fmt.Errorf("front: %w: pixel size must be positive, got %g", imaging.ErrInvalidParameter, tr.PixelSize)
	}
	return nil
}

func (tr Tracker) wet(v float64) bool {
	if tr.Direction == WetBelow {
		return v < tr.Threshold
	}
	return v >= tr.Threshold
}

// Positions returns, for every column of st, the number of wet pixels
// preceding the first dry pixel along the scan. Columns that are entirely
// wet or start dry have no transition and report NoFront.
func (tr Tracker) Positions(st *mat.Dense) ([]int, error) {
	if st == nil {
		return nil, fmt.Errorf("front: %w", imaging.ErrEmptyImage)
	}
	if math.IsNaN(tr.Threshold) {
		return nil, fmt.Errorf("front: %w: threshold is NaN", imaging.ErrInvalidParameter)
	}

	rows, cols := st.Dims()
	positions := make([]int, cols)
	for t := 0; t < cols; t++ {
		positions[t] = NoFront
		for i := 0; i < rows; i++ {
			r := i
			if tr.Origin == FromLastRow {
				r = rows - 1 - i
			}
			if !tr.wet(st.At(r, t)) {
				if i > 0 {
					positions[t] = i
				}
				break
			}
		}
	}
	return positions, nil
}

// Lengths scales positions to physical length. NoFront becomes NaN.
func (tr Tracker) Lengths(positions []int) []float64 {
	lengths := make([]float64, len(positions))
	for i, p := range positions {
		if p == NoFront {
			lengths[i] = math.NaN()
			continue
		}
		lengths[i] = float64(p) * tr.PixelSize
	}
	return lengths
}

// ActiveRange returns the longest run [start, end) of defined,
// non-decreasing positions whose last value exceeds its first. Ties go to
// the earliest run.
func ActiveRange(positions []int) (start, end int, err error) {
	best := -1
	for i := 0; i < len(positions); {
		if positions[i] == NoFront {
			i++
			continue
		}
		j := i + 1
		for j < len(positions) && positions[j] != NoFront && positions[j] >= positions[j-1] {
			j++
		}
		if j-i >= 2 && positions[j-1] > positions[i] && j-i > best {
			start, end, best = i, j, j-i
		}
		i = j
	}
	if best < 0 {
		return 0, 0, fmt.Errorf("front: %w", imaging.ErrNoActiveRegion)
	}
	return start, end, nil
}

// Track extracts the front from st, selects the active range and fits
// Washburn's law over it. times holds one timestamp per column of st.
func (tr Tracker) Track(st *mat.Dense, times []float64) (Result, error) {
	if err := tr.validate(); err != nil {
		return Result{}, err
	}
	if st == nil {
		return Result{}, fmt.Errorf("front: %w", imaging.ErrEmptyImage)
	}
	if _, cols := st.Dims(); cols != len(times) {
		return Result{}, fmt.Errorf("front: %w: %d time steps, %d timestamps",
			imaging.ErrShapeMismatch, cols, len(times))
	}

	positions, err := tr.Positions(st)
	if err != nil {
		return Result{}, err
	}
	res := Result{Positions: positions, Lengths: tr.Lengths(positions)}

	res.Start, res.End, err = ActiveRange(positions)
	if err != nil {
		return res, err
	}

	t := make([]float64, res.End-res.Start)
	for i := range t {
		t[i] = times[res.Start+i] - tr.TimeOffset
	}
	res.Fit, err = FitWashburn(t, res.Lengths[res.Start:res.End])
	return res, err
}
