package background

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// Covariance assembles the covariance of a w × h cell window from the
// autocorrelation blocks. Rows and columns follow the FeatureMap layout:
// index ((y*w)+x)*NumFeatures + channel.
func (m *Model) Covariance(w, h int) (*mat.SymDense, error) {
	if !m.HasCovariance() {
		return nil, ErrCovarianceNotLearned
	}
	if w < 1 || h < 1 {
		return nil, fmt.Errorf("invalid window %dx%d", w, h)
	}
	if w-1 > m.MaxOffset || h-1 > m.MaxOffset {
		return nil, fmt.Errorf("%w: %dx%d cells, max offset %d", ErrTemplateTooLarge, w, h, m.MaxOffset)
	}
	nf := m.NumFeatures
	n := w * h * nf
	sym := mat.NewSymDense(n, nil)
	for p := 0; p < w*h; p++ {
		px, py := p%w, p/w
		for q := p; q < w*h; q++ {
			qx, qy := q%w, q/w
			// E[x(p) x(q)^T] = Γ(q-p); the transposed block Γ(p-q)^T
			// estimates the same entries, so both are averaged.
			fwd := m.Block(qx-px, qy-py)
			bwd := m.Block(px-qx, py-qy)
			for i := 0; i < nf; i++ {
				j0 := 0
				if q == p {
					j0 = i
				}
				for j := j0; j < nf; j++ {
					v := 0.5 * (fwd[i*nf+j] + bwd[j*nf+i])
					sym.SetSym(p*nf+i, q*nf+j, v)
				}
			}
		}
	}
	return sym, nil
}

// TiledMean repeats the mean feature vector over a w × h window.
func (m *Model) TiledMean(w, h int) []float64 {
	out := make([]float64, 0, w*h*len(m.Mean))
	for i := 0; i < w*h; i++ {
		out = append(out, m.Mean...)
	}
	return out
}

// Whitener decorrelates descriptors of one window size.
type Whitener struct {
	Width, Height int
	chol          mat.Cholesky
	lower         *mat.TriDense
}

// Whitener factorises Covariance(w, h) + lambda·I.
func (m *Model) Whitener(w, h int, lambda float64) (*Whitener, error) {
	sigma, err := m.Covariance(w, h)
	if err != nil {
		return nil, err
	}
	for i := 0; i < sigma.SymmetricDim(); i++ {
		sigma.SetSym(i, i, sigma.At(i, i)+lambda)
	}
	wh := &Whitener{Width: w, Height: h}
	if ok := wh.chol.Factorize(sigma); !ok {
		return nil, fmt.Errorf("%w (%dx%d cells, lambda %g)", ErrNotPositiveDefinite, w, h, lambda)
	}
	wh.lower = mat.NewTriDense(sigma.SymmetricDim(), mat.Lower, nil)
	wh.chol.LTo(wh.lower)
	return wh, nil
}

// Dim returns the descriptor length.
func (wh *Whitener) Dim() int { return wh.chol.SymmetricDim() }

// Whiten returns L⁻¹x where Σ = LLᵀ.
func (wh *Whitener) Whiten(x []float64) ([]float64, error) {
	if len(x) != wh.Dim() {
		return nil, fmt.Errorf("descriptor has %d values, want %d", len(x), wh.Dim())
	}
	var y mat.VecDense
	if err := y.SolveVec(wh.lower, mat.NewVecDense(len(x), append([]float64(nil), x...))); !wellPosed(err) {
		return nil, err
	}
	return y.RawVector().Data, nil
}

// Solve returns Σ⁻¹x.
func (wh *Whitener) Solve(x []float64) ([]float64, error) {
	if len(x) != wh.Dim() {
		return nil, fmt.Errorf("descriptor has %d values, want %d", len(x), wh.Dim())
	}
	var y mat.VecDense
	if err := wh.chol.SolveVecTo(&y, mat.NewVecDense(len(x), append([]float64(nil), x...))); !wellPosed(err) {
		return nil, err
	}
	return y.RawVector().Data, nil
}

// wellPosed accepts condition-number warnings; the solution is still
// computed in that case.
func wellPosed(err error) bool {
	var cond mat.Condition
	return err == nil || errors.As(err, &cond)
}
