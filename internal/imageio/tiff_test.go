package imageio

import (
	"errors"
	"image"
	"image/color"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/image/tiff"
	"gonum.org/v1/gonum/mat"

	"nwquant/pkg/imaging"
)

// createCounts builds a rows x cols image of integer detector counts
func createCounts(rows, cols int, base float64) *mat.Dense {
	img := mat.NewDense(rows, cols, nil)
	img.Apply(func(r, c int, _ float64) float64 {
		return base + float64(100*r+c)
	}, img)
	return img
}

// saveCounts writes img unscaled so the counts survive the round trip
func saveCounts(t *testing.T, path string, img *mat.Dense) {
	t.Helper()
	_, _, err := SaveTIFF(path, img, 0, 65535)
	require.NoError(t, err)
}

func TestSaveAndLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "counts.tif")
	img := createCounts(5, 7, 1000)
	saveCounts(t, path, img)

	loaded, err := LoadImage(path)
	require.NoError(t, err)
	assert.True(t, mat.Equal(img, loaded))
}

func TestLoadImageGray8(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gray8.tif")
	src := image.NewGray(image.Rect(0, 0, 3, 2))
	for i := range src.Pix {
		src.Pix[i] = uint8(10 * i)
	}
	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, tiff.Encode(f, src, nil))
	require.NoError(t, f.Close())

	img, err := LoadImage(path)
	require.NoError(t, err)
	rows, cols := img.Dims()
	assert.Equal(t, 2, rows)
	assert.Equal(t, 3, cols)
	assert.Equal(t, 50.0, img.At(1, 2))
}

func TestToDenseColour(t *testing.T) {
	src := image.NewRGBA64(image.Rect(0, 0, 2, 1))
	src.SetRGBA64(1, 0, color.RGBA64{R: 4000, G: 4000, B: 4000, A: 0xffff})
	img := toDense(src)
	assert.Equal(t, 0.0, img.At(0, 0))
	assert.InDelta(t, 4000, img.At(0, 1), 1)
}

func TestLoadErrors(t *testing.T) {
	dir := t.TempDir()

	_, err := LoadImage(filepath.Join(dir, "missing.tif"))
	var openErr *ErrOpenFile
	require.True(t, errors.As(err, &openErr))
	assert.True(t, errors.Is(err, os.ErrNotExist))

	bogus := filepath.Join(dir, "bogus.tif")
	require.NoError(t, os.WriteFile(bogus, []byte("not a tiff"), 0644))
	_, err = LoadImage(bogus)
	var decodeErr *ErrDecode
	assert.True(t, errors.As(err, &decodeErr))
}

func TestLoadAverage(t *testing.T) {
	dir := t.TempDir()
	a, b := filepath.Join(dir, "a.tif"), filepath.Join(dir, "b.tif")
	saveCounts(t, a, createCounts(4, 4, 100))
	saveCounts(t, b, createCounts(4, 4, 300))

	avg, err := LoadAverage([]string{a, b})
	require.NoError(t, err)
	assert.Equal(t, 200.0, avg.At(0, 0))
	assert.Equal(t, 200.0+303, avg.At(3, 3))

	c := filepath.Join(dir, "c.tif")
	saveCounts(t, c, createCounts(3, 4, 0))
	_, err = LoadAverage([]string{a, c})
	assert.ErrorIs(t, err, imaging.ErrShapeMismatch)

	_, err = LoadAverage(nil)
	assert.ErrorIs(t, err, imaging.ErrEmptyImage)
}

func TestListSeriesNumericOrder(t *testing.T) {
	dir := t.TempDir()
	for i, name := range []string{"frame_10.tif", "frame_2.tif", "frame_1.tif"} {
		saveCounts(t, filepath.Join(dir, name), createCounts(2, 2, float64(i)))
	}

	files, err := ListSeries(filepath.Join(dir, "frame_*.tif"))
	require.NoError(t, err)
	require.Len(t, files, 3)
	assert.Equal(t, "frame_1.tif", filepath.Base(files[0]))
	assert.Equal(t, "frame_2.tif", filepath.Base(files[1]))
	assert.Equal(t, "frame_10.tif", filepath.Base(files[2]))

	frames, names, err := LoadSeries(filepath.Join(dir, "frame_*.tif"))
	require.NoError(t, err)
	assert.Equal(t, files, names)
	// frame_1 was written third, with base 2
	assert.Equal(t, 2.0, frames[0].At(0, 0))

	_, err = ListSeries(filepath.Join(dir, "none_*.tif"))
	assert.ErrorIs(t, err, imaging.ErrEmptyImage)
}

func TestSaveTIFFAutoRange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "auto.tif")
	img := mat.NewDense(1, 4, []float64{-1, 0, 1, math.NaN()})

	lo, hi, err := SaveTIFF(path, img, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, -1.0, lo)
	assert.Equal(t, 1.0, hi)

	loaded, err := LoadImage(path)
	require.NoError(t, err)
	assert.Equal(t, 0.0, loaded.At(0, 0))
	assert.Equal(t, 65535.0, loaded.At(0, 2))
	assert.InDelta(t, 32768, loaded.At(0, 1), 1)
	assert.Equal(t, 0.0, loaded.At(0, 3))
}

func TestExtractNumber(t *testing.T) {
	testCases := []struct {
		name string
		want int
	}{
		{"/data/run_0042.tif", 42},
		{"ob.tif", 0},
		{"wet12_frame3.tif", 123},
	}
	for _, tc := range testCases {
		if got := extractNumber(tc.name); got != tc.want {
			t.Errorf("extractNumber(%q) = %d, want %d", tc.name, got, tc.want)
		}
	}
}
