package matching

import (
	"gonum.org/v1/gonum/dsp/fourier"
)

// fft2D performs an in-place 2D FFT on a rows x cols row-major complex
// grid. With inverse set it computes the inverse transform, normalized by
// 1/(rows*cols).
func fft2D(data []complex128, rows, cols int, inverse bool) {
	rowFFT := fourier.NewCmplxFFT(cols)
	colFFT := fourier.NewCmplxFFT(rows)

	transform := func(fft *fourier.CmplxFFT, dst, src []complex128) []complex128 {
		if inverse {
			return fft.Sequence(dst, src)
		}
		return fft.Coefficients(dst, src)
	}

	// Row-wise transform
	rowOut := make([]complex128, cols)
	for i := 0; i < rows; i++ {
		row := data[i*cols : (i+1)*cols]
		transform(rowFFT, rowOut, row)
		copy(row, rowOut)
	}

	// Column-wise transform
	colIn := make([]complex128, rows)
	colOut := make([]complex128, rows)
	for j := 0; j < cols; j++ {
		for i := 0; i < rows; i++ {
			colIn[i] = data[i*cols+j]
		}
		transform(colFFT, colOut, colIn)
		for i := 0; i < rows; i++ {
			data[i*cols+j] = colOut[i]
		}
	}

	if inverse {
		scale := complex(1/float64(rows*cols), 0)
		for i := range data {
			data[i] *= scale
		}
	}
}

// crossCorrelate returns c[y][x] = sum_ij img[y+i][x+j] * kernel[i][j] for
// every offset, computed circularly over the rows x cols grid. kernel is
// kRows x kCols and is zero-padded to the image size. Offsets where the
// kernel fits inside the image are free of wrap-around.
func crossCorrelate(img []float64, rows, cols int, kernel []float64, kRows, kCols int) []float64 {
	n := rows * cols
	a := make([]complex128, n)
	b := make([]complex128, n)
	for i, v := range img {
		a[i] = complex(v, 0)
	}
	for i := 0; i < kRows; i++ {
		for j := 0; j < kCols; j++ {
			b[i*cols+j] = complex(kernel[i*kCols+j], 0)
		}
	}

	fft2D(a, rows, cols, false)
	fft2D(b, rows, cols, false)

	// Correlation theorem: F(img) * conj(F(kernel))
	for i := range a {
		br := b[i]
		a[i] *= complex(real(br), -imag(br))
	}
	fft2D(a, rows, cols, true)

	out := make([]float64, n)
	for i, v := range a {
		out[i] = real(v)
	}
	return out
}
