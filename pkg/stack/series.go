// Package stack holds time series of radiographs and derives the space-time
// slices used for front tracking.
package stack

import (
	"fmt"
	"runtime"
	"sync"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"nwquant/pkg/imaging"
	"nwquant/pkg/normalize"
)

// Profile selects the direction of the spatial profile in a space-time slice.
type Profile int

const (
	// Vertical profiles run along image rows; a band of columns is averaged.
	Vertical Profile = iota
	// Horizontal profiles run along image columns; a band of rows is
	// averaged.
	Horizontal
)

func (p Profile) String() string {
	switch p {
	case Vertical:
		return "vertical"
	case Horizontal:
		return "horizontal"
	default:
		return fmt.Sprintf("Profile(%d)", int(p))
	}
}

// ParseProfile accepts "vertical"/"y" and "horizontal"/"x".
func ParseProfile(s string) (Profile, error) {
	switch s {
	case "", "vertical", "y", "Y":
		return Vertical, nil
	case "horizontal", "x", "X":
		return Horizontal, nil
	default:
		return 0, fmt.Errorf("stack: %w: invalid profile %q (must be vertical or horizontal)", imaging.ErrInvalidParameter, s)
	}
}

// Series is an ordered sequence of equally shaped frames with one timestamp
// per frame.
type Series struct {
	frames []*mat.Dense
	times  []float64

	// dimensions shared by every frame
	rows int
	cols int
}

// NewSeries creates a series. Frames and times must have the same length and
// all frames the same shape. The slices are copied; the frames are not.
func NewSeries(frames []*mat.Dense, times []float64) (*Series, error) {
	if len(frames) == 0 {
		return nil, fmt.Errorf("stack: %w: no frames", imaging.ErrEmptyImage)
	}
	if len(frames) != len(times) {
		return nil, fmt.Errorf("stack: %w: %d frames, %d timestamps",
			imaging.ErrShapeMismatch, len(frames), len(times))
	}
	for i, f := range frames {
		if f == nil {
			return nil, fmt.Errorf("stack: %w: frame %d is nil", imaging.ErrEmptyImage, i)
		}
	}
	if err := imaging.CheckShape(frames...); err != nil {
		return nil, fmt.Errorf("stack: %w", err)
	}

	rows, cols := frames[0].Dims()
	return &Series{
		frames: append([]*mat.Dense(nil), frames...),
		times:  append([]float64(nil), times...),
		rows:   rows,
		cols:   cols,
	}, nil
}

// UniformTimes returns n timestamps offset, offset+dt, ...
func UniformTimes(n int, dt, offset float64) []float64 {
	times := make([]float64, n)
	for i := range times {
		times[i] = offset + float64(i)*dt
	}
	return times
}

// Len returns the number of frames.
func (s *Series) Len() int { return len(s.frames) }

// Dims returns the frame dimensions.
func (s *Series) Dims() (rows, cols int) { return s.rows, s.cols }

// Frame returns frame i. The frame must not be modified.
func (s *Series) Frame(i int) *mat.Dense { return s.frames[i] }

// Times returns a copy of the timestamps.
func (s *Series) Times() []float64 { return append([]float64(nil), s.times...) }

// SpaceTimeSlice averages the band [start, end) of every frame into a
// profile and stacks the profiles against time. The result has one row per
// profile position and one column per frame.
func (s *Series) SpaceTimeSlice(p Profile, start, end int) (*mat.Dense, error) {
	var length, limit int
	switch p {
	case Vertical:
		length, limit = s.rows, s.cols
	case Horizontal:
		length, limit = s.cols, s.rows
	default:
		return nil, fmt.Errorf("stack: %w: invalid profile %v", imaging.ErrInvalidParameter, p)
	}
	if start < 0 || end > limit || end <= start {
		return nil, fmt.Errorf("stack: %w: band [%d,%d) outside 0..%d", imaging.ErrInvalidROI, start, end, limit)
	}

	out := mat.NewDense(length, len(s.frames), nil)
	band := make([]float64, end-start)
	for t, f := range s.frames {
		for i := 0; i < length; i++ {
			for j := start; j < end; j++ {
				if p == Vertical {
					band[j-start] = f.At(i, j)
				} else {
					band[j-start] = f.At(j, i)
				}
			}
			out.Set(i, t, stat.Mean(band, nil))
		}
	}
	return out, nil
}

// ExtractSlice returns the single row or column at position as a space-time
// slice.
func (s *Series) ExtractSlice(p Profile, position int) (*mat.Dense, error) {
	return s.SpaceTimeSlice(p, position, position+1)
}

// Crop returns a series of the ROI of every frame. The cropped frames share
// storage with the originals.
func (s *Series) Crop(roi imaging.ROI) (*Series, error) {
	if err := roi.Validate(s.rows, s.cols); err != nil {
		return nil, fmt.Errorf("stack: %w", err)
	}
	frames := make([]*mat.Dense, len(s.frames))
	for i, f := range s.frames {
		frames[i] = f.Slice(roi.Row0, roi.Row1, roi.Col0, roi.Col1).(*mat.Dense)
	}
	return &Series{frames: frames, times: s.Times(), rows: roi.Rows(), cols: roi.Cols()}, nil
}

// Normalize applies normalize.Normalize to every frame against the shared
// open beam and dark current. Frames are split across workers goroutines;
// workers < 1 uses every CPU.
func (s *Series) Normalize(ob, dc *mat.Dense, opts normalize.Options, workers int) (*Series, error) {
	if workers < 1 {
		workers = runtime.NumCPU()
	}
	n := len(s.frames)
	out := make([]*mat.Dense, n)
	errs := make([]error, n)

	// Divide the frames among the workers
	perWorker := (n + workers - 1) / workers
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		first := w * perWorker
		if first >= n {
			break
		}
		last := min(first+perWorker, n)

		wg.Add(1)
		go func(first, last int) {
			defer wg.Done()
			for i := first; i < last; i++ {
				out[i], errs[i] = normalize.Normalize(s.frames[i], ob, dc, opts)
			}
		}(first, last)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			return nil, fmt.Errorf("stack: frame %d: %w", i, err)
		}
	}
	return &Series{frames: out, times: s.Times(), rows: s.rows, cols: s.cols}, nil
}

// Mean returns the pixelwise average of all frames.
func (s *Series) Mean() *mat.Dense {
	sum := mat.NewDense(s.rows, s.cols, nil)
	for _, f := range s.frames {
		sum.Add(sum, f)
	}
	sum.Scale(1/float64(len(s.frames)), sum)
	return sum
}
