package pipeline

import (
	"gonum.org/v1/gonum/mat"

	"nwquant/internal/imageio"
)

// Loader supplies the images named in the parameters.
type Loader interface {
	// LoadAverage returns the pixelwise mean of the listed images.
	LoadAverage(paths []string) (*mat.Dense, error)

	// LoadSeries returns the frames matching pattern in acquisition order
	// with their file names.
	LoadSeries(pattern string) ([]*mat.Dense, []string, error)
}

// FileLoader reads TIFF files from disk.
type FileLoader struct{}

func (FileLoader) LoadAverage(paths []string) (*mat.Dense, error) {
	return imageio.LoadAverage(paths)
}

func (FileLoader) LoadSeries(pattern string) ([]*mat.Dense, []string, error) {
	return imageio.LoadSeries(pattern)
}
