package export

import (
	"path/filepath"
	"testing"

	hdf5 "github.com/jmbenlloch/go-hdf5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"nwquant/pkg/blackbody"
	"nwquant/pkg/calibration"
	"nwquant/pkg/pipeline"
)

func TestWriteResults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "results.h5")
	att := mat.NewDense(2, 3, []float64{0, 0.1, 0.2, 0.3, 0.4, 0.5})
	res := &pipeline.Results{
		Attenuation: att,
		OpenBeamDots: []blackbody.Dot{
			{Label: 1, Row: 4, Col: 5, Area: 21, Mean: 60, Median: 61},
			{Label: 2, Row: 4, Col: 12, Area: 21, Mean: 62, Median: 63},
		},
		Steps: []calibration.Step{{Thickness: 1, Mean: 0.8}, {Thickness: 2, Mean: 1.6}},
		Calibration: &calibration.Line{
			Slope:     0.8,
			RSquared:  1,
			Residuals: []float64{0, 0},
		},
	}
	require.NoError(t, Write(path, res))

	f, err := hdf5.OpenFile(path, hdf5.F_ACC_RDONLY)
	require.NoError(t, err)
	defer f.Close()

	dset, err := f.OpenDataset("normalize/attenuation")
	require.NoError(t, err)
	defer dset.Close()

	dims, _, err := dset.Space().SimpleExtentDims()
	require.NoError(t, err)
	assert.Equal(t, []uint{2, 3}, dims)

	data := make([]float64, 6)
	require.NoError(t, dset.Read(&data))
	assert.Equal(t, att.RawMatrix().Data, data)

	dots, err := f.OpenDataset("scatter/openBeamDots")
	require.NoError(t, err)
	defer dots.Close()
	dims, _, err = dots.Space().SimpleExtentDims()
	require.NoError(t, err)
	assert.Equal(t, []uint{2}, dims)
}

func TestGroupIsReused(t *testing.T) {
	w, err := Create(filepath.Join(t.TempDir(), "groups.h5"))
	require.NoError(t, err)

	g1, err := w.Group("front")
	require.NoError(t, err)
	g2, err := w.Group("front")
	require.NoError(t, err)
	assert.Same(t, g1, g2)

	require.NoError(t, w.WriteVector("front", "lengths", []float64{1, 2, 3}))
	require.NoError(t, WriteTable(w, "front", "empty", []StepHDF5(nil)))
	require.NoError(t, w.Close())
}
