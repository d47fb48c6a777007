package models

import (
	"gonum.org/v1/gonum/mat"
)

// Frame represents a single radiograph of a time series with metadata
type Frame struct {
	// Image holds the raw detector counts
	Image *mat.Dense

	// Index is the position of this frame in the acquisition sequence
	Index int

	// Filename is the original filename of the frame
	Filename string

	// Time is the acquisition time of the frame in seconds
	Time float64
}

// NewFrames pairs loaded images with their filenames and assigns the times
// offset, offset+interval, ...
func NewFrames(images []*mat.Dense, filenames []string, interval, offset float64) []Frame {
	frames := make([]Frame, len(images))
	for i, img := range images {
		frames[i] = Frame{
			Image: img,
			Index: i,
			Time:  offset + float64(i)*interval,
		}
		if i < len(filenames) {
			frames[i].Filename = filenames[i]
		}
	}
	return frames
}

// Images returns the images of frames in order
func Images(frames []Frame) []*mat.Dense {
	out := make([]*mat.Dense, len(frames))
	for i, f := range frames {
		out[i] = f.Image
	}
	return out
}

// Times returns the acquisition times of frames in order
func Times(frames []Frame) []float64 {
	out := make([]float64, len(frames))
	for i, f := range frames {
		out[i] = f.Time
	}
	return out
}

// Stage identifies the processing step that produced an output image
type Stage int

const (
	Normalization Stage = iota
	Scatter
	Calibration
	Tracking
)

func (s Stage) String() string {
	switch s {
	case Scatter:
		return "scatter"
	case Calibration:
		return "calibration"
	case Tracking:
		return "front"
	default:
		return "normalize"
	}
}

// Output is a named result image
type Output struct {
	// Name is the file stem and dataset name of the image
	Name string

	// Stage groups outputs in directories and HDF5 groups
	Stage Stage

	// Image is the result data
	Image *mat.Dense
}
