// Package imageio reads detector images from TIFF files into gonum matrices
// and writes result images back as 16-bit TIFF previews.
package imageio

import (
	"fmt"
	"image"
	"image/color"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"golang.org/x/exp/constraints"
	"golang.org/x/image/tiff"
	"gonum.org/v1/gonum/mat"

	"nwquant/pkg/imaging"
)

// LoadImage decodes a grey-level TIFF file into a matrix of raw counts.
// Colour images are reduced to their 16-bit luminance.
func LoadImage(path string) (*mat.Dense, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, &ErrOpenFile{Filename: path, Err: err}
	}
	defer file.Close()

	img, err := tiff.Decode(file)
	if err != nil {
		return nil, &ErrDecode{Filename: path, Err: err}
	}
	return toDense(img), nil
}

// toDense converts img to a matrix. Row i of the matrix is image row
// Min.Y+i.
func toDense(img image.Image) *mat.Dense {
	b := img.Bounds()
	out := mat.NewDense(b.Dy(), b.Dx(), nil)

	switch src := img.(type) {
	case *image.Gray16:
		row := make([]uint16, b.Dx())
		for y := 0; y < b.Dy(); y++ {
			for x := range row {
				row[x] = src.Gray16At(b.Min.X+x, b.Min.Y+y).Y
			}
			fill(out.RawRowView(y), row)
		}
	case *image.Gray:
		for y := 0; y < b.Dy(); y++ {
			off := src.PixOffset(b.Min.X, b.Min.Y+y)
			fill(out.RawRowView(y), src.Pix[off:off+b.Dx()])
		}
	default:
		row := make([]uint16, b.Dx())
		for y := 0; y < b.Dy(); y++ {
			for x := range row {
				row[x] = color.Gray16Model.Convert(img.At(b.Min.X+x, b.Min.Y+y)).(color.Gray16).Y
			}
			fill(out.RawRowView(y), row)
		}
	}
	return out
}

// fill converts pixel samples of any numeric type into dst.
func fill[T constraints.Integer | constraints.Float](dst []float64, src []T) {
	for i, v := range src {
		dst[i] = float64(v)
	}
}

// LoadAverage loads every path and returns their pixelwise mean. Averaging
// several exposures of the same reference reduces noise.
func LoadAverage(paths []string) (*mat.Dense, error) {
	if len(paths) == 0 {
		return nil, fmt.Errorf("imageio: %w: no files to average", imaging.ErrEmptyImage)
	}

	var sum *mat.Dense
	for _, p := range paths {
		img, err := LoadImage(p)
		if err != nil {
			return nil, err
		}
		if sum == nil {
			sum = img
			continue
		}
		if err := imaging.CheckShape(sum, img); err != nil {
			return nil, fmt.Errorf("imageio: %s: %w", p, err)
		}
		sum.Add(sum, img)
	}
	sum.Scale(1/float64(len(paths)), sum)
	return sum, nil
}

// ListSeries returns the files matching pattern ordered by the number in
// their names, then by name.
func ListSeries(pattern string) ([]string, error) {
	files, err := filepath.Glob(pattern)
	if err != nil {
		return nil, fmt.Errorf("imageio: bad pattern %q: %w", pattern, err)
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("imageio: %w: no files match %q", imaging.ErrEmptyImage, pattern)
	}

	// Sort files numerically to keep acquisition order
	sort.SliceStable(files, func(i, j int) bool {
		ni, nj := extractNumber(files[i]), extractNumber(files[j])
		if ni != nj {
			return ni < nj
		}
		return files[i] < files[j]
	})
	return files, nil
}

// LoadSeries loads the frames matching pattern in acquisition order.
func LoadSeries(pattern string) ([]*mat.Dense, []string, error) {
	files, err := ListSeries(pattern)
	if err != nil {
		return nil, nil, err
	}
	frames := make([]*mat.Dense, len(files))
	for i, f := range files {
		if frames[i], err = LoadImage(f); err != nil {
			return nil, nil, err
		}
	}
	return frames, files, nil
}

// extractNumber extracts the digits of a filename's base name as one number.
func extractNumber(filename string) int {
	base := filepath.Base(filename)
	numStr := ""
	for _, c := range base {
		if c >= '0' && c <= '9' {
			numStr += string(c)
		}
	}

	if numStr != "" {
		num, err := strconv.Atoi(numStr)
		if err == nil {
			return num
		}
	}
	return 0
}

// SaveTIFF writes img as a 16-bit grey TIFF, mapping [lo, hi] linearly to
// the full 16-bit range. When lo == hi the image's finite range is used.
// Non-finite pixels are written as zero. It returns the range applied.
func SaveTIFF(path string, img *mat.Dense, lo, hi float64) (float64, float64, error) {
	if lo == hi {
		lo, hi = finiteRange(img)
	}
	scale := 0.0
	if hi > lo {
		scale = 65535 / (hi - lo)
	}

	rows, cols := img.Dims()
	out := image.NewGray16(image.Rect(0, 0, cols, rows))
	for y := 0; y < rows; y++ {
		for x := 0; x < cols; x++ {
			v := img.At(y, x)
			if math.IsNaN(v) || math.IsInf(v, 0) {
				continue
			}
			s := math.Round((v - lo) * scale)
			out.SetGray16(x, y, color.Gray16{Y: uint16(math.Max(0, math.Min(65535, s)))})
		}
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return lo, hi, fmt.Errorf("imageio: creating output directory: %w", err)
	}
	file, err := os.Create(path)
	if err != nil {
		return lo, hi, &ErrOpenFile{Filename: path, Err: err}
	}
	if err := tiff.Encode(file, out, &tiff.Options{Compression: tiff.Deflate}); err != nil {
		file.Close()
		return lo, hi, fmt.Errorf("imageio: encoding %s: %w", path, err)
	}
	return lo, hi, file.Close()
}

func finiteRange(img *mat.Dense) (lo, hi float64) {
	lo, hi = math.Inf(1), math.Inf(-1)
	rows, cols := img.Dims()
	for y := 0; y < rows; y++ {
		for _, v := range img.RawRowView(y)[:cols] {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				continue
			}
			lo = math.Min(lo, v)
			hi = math.Max(hi, v)
		}
	}
	if lo > hi {
		return 0, 0
	}
	return lo, hi
}
