package background

import (
	"math/cmplx"

	"gonum.org/v1/gonum/dsp/fourier"
)

// fft2 transforms a row-major w × h grid in place, rows first.
type fft2 struct {
	w, h        int
	rowFFT      *fourier.CmplxFFT
	colFFT      *fourier.CmplxFFT
	rowBuf, col []complex128
	colOut      []complex128
}

func newFFT2(w, h int) *fft2 {
	return &fft2{
		w:      w,
		h:      h,
		rowFFT: fourier.NewCmplxFFT(w),
		colFFT: fourier.NewCmplxFFT(h),
		rowBuf: make([]complex128, w),
		col:    make([]complex128, h),
		colOut: make([]complex128, h),
	}
}

func (f *fft2) forward(data []complex128) { f.apply(data, false) }

// inverse is unnormalised: forward followed by inverse scales by w*h.
func (f *fft2) inverse(data []complex128) { f.apply(data, true) }

func (f *fft2) apply(data []complex128, inverse bool) {
	for y := 0; y < f.h; y++ {
		row := data[y*f.w : (y+1)*f.w]
		if inverse {
			f.rowFFT.Sequence(f.rowBuf, row)
		} else {
			f.rowFFT.Coefficients(f.rowBuf, row)
		}
		copy(row, f.rowBuf)
	}
	for x := 0; x < f.w; x++ {
		for y := 0; y < f.h; y++ {
			f.col[y] = data[y*f.w+x]
		}
		if inverse {
			f.colFFT.Sequence(f.colOut, f.col)
		} else {
			f.colFFT.Coefficients(f.colOut, f.col)
		}
		for y := 0; y < f.h; y++ {
			data[y*f.w+x] = f.colOut[y]
		}
	}
}

// crossCorrelate returns sum_p a(p) * b(p+d) for every circular offset d,
// given the forward transforms of a and b. dst receives a row-major grid.
func (f *fft2) crossCorrelate(dst, fa, fb []complex128) {
	for i := range dst {
		dst[i] = cmplx.Conj(fa[i]) * fb[i]
	}
	f.inverse(dst)
	scale := complex(1/float64(f.w*f.h), 0)
	for i := range dst {
		dst[i] *= scale
	}
}
