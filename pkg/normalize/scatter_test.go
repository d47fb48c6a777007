package normalize

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"nwquant/pkg/imaging"
)

func TestNormalizeWithScatterZeroScatter(t *testing.T) {
	img := createTestImage(8, 8, func(r, c int) float64 { return float64(400 + 10*r - 5*c) })
	ob := createTestImage(8, 8, constant(1000))
	zero := mat.NewDense(8, 8, nil)
	roi := imaging.ROI{Row0: 0, Col0: 0, Row1: 2, Col1: 8}

	corrected, err := NormalizeWithScatter(ScatterInputs{
		Sample:          img,
		OpenBeam:        ob,
		BBSample:        img,
		BBOpenBeam:      ob,
		ScatterSample:   zero,
		ScatterOpenBeam: zero,
		Tau:             1,
	}, Options{DoseROI: &roi})
	require.NoError(t, err)

	plain, err := Normalize(img, ob, nil, Options{})
	require.NoError(t, err)
	assert.True(t, mat.EqualApprox(corrected, plain, 1e-12))
}

func TestNormalizeWithScatterRemovesUniformScatter(t *testing.T) {
	// True signals: sample 600, open beam 1000, plus 100 counts of scatter in
	// both. The black-body images carry the same exposure (tau = 1), so the
	// dots read the scatter level directly.
	const scatterLevel = 100.0
	img := createTestImage(6, 6, func(r, c int) float64 {
		if r < 2 {
			return 1000 + scatterLevel
		}
		return 600 + scatterLevel
	})
	ob := createTestImage(6, 6, constant(1000+scatterLevel))
	surface := createTestImage(6, 6, constant(scatterLevel))
	roi := imaging.ROI{Row0: 0, Col0: 0, Row1: 2, Col1: 6}

	p, err := NormalizeWithScatter(ScatterInputs{
		Sample:          img,
		OpenBeam:        ob,
		BBSample:        img,
		BBOpenBeam:      ob,
		ScatterSample:   surface,
		ScatterOpenBeam: surface,
		Tau:             1,
	}, Options{DoseROI: &roi})
	require.NoError(t, err)
	assert.InDelta(t, -math.Log(0.6), p.At(4, 3), 1e-9)
	assert.InDelta(t, 0, p.At(0, 3), 1e-9)

	// The uncorrected attenuation is biased low
	biased, err := Normalize(img, ob, nil, Options{DoseROI: &roi})
	require.NoError(t, err)
	assert.Less(t, biased.At(4, 3), p.At(4, 3))
}

func TestNormalizeWithScatterValidation(t *testing.T) {
	img := createTestImage(4, 4, constant(10))
	roi := imaging.ROI{Row0: 0, Col0: 0, Row1: 2, Col1: 2}
	in := ScatterInputs{
		Sample: img, OpenBeam: img, BBSample: img, BBOpenBeam: img,
		ScatterSample: img, ScatterOpenBeam: img, Tau: 0,
	}

	_, err := NormalizeWithScatter(in, Options{DoseROI: &roi})
	assert.ErrorIs(t, err, imaging.ErrInvalidParameter)

	in.Tau = 1
	_, err = NormalizeWithScatter(in, Options{})
	assert.ErrorIs(t, err, imaging.ErrInvalidROI)

	in.ScatterOpenBeam = mat.NewDense(3, 4, nil)
	_, err = NormalizeWithScatter(in, Options{DoseROI: &roi})
	assert.ErrorIs(t, err, imaging.ErrShapeMismatch)
}

func TestNormalizeWithScatterIsFiniteForZeros(t *testing.T) {
	zero := mat.NewDense(4, 4, nil)
	big := createTestImage(4, 4, constant(500))
	roi := imaging.ROI{Row0: 0, Col0: 0, Row1: 4, Col1: 4}

	p, err := NormalizeWithScatter(ScatterInputs{
		Sample: zero, OpenBeam: big, BBSample: big, BBOpenBeam: big,
		ScatterSample: big, ScatterOpenBeam: zero, Tau: 2,
	}, Options{DoseROI: &roi})
	require.NoError(t, err)
	assert.True(t, imaging.AllFinite(p))
}
