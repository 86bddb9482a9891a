package predictor

import (
	"fmt"
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/mat"

	"github.com/turtacn/GradeSim/pkg/errors"
)

// eigenTolerance bounds how negative an eigenvalue may be, relative to the
// largest one, before a covariance is declared not positive semi-definite.
const eigenTolerance = 1e-10

// SquareRoot returns a matrix L with L·Lᵀ = s.  The Cholesky factor is used
// when s is positive definite; otherwise a symmetric eigendecomposition with
// round-off negatives clamped to zero.  A clearly negative eigenvalue yields
// NumericDegeneracy.
func SquareRoot(s mat.Symmetric) (*mat.Dense, error) {
	n := s.SymmetricDim()
	if n == 0 {
		return nil, errors.NumericDegeneracy("covariance matrix is empty")
	}

	var chol mat.Cholesky
	if chol.Factorize(s) {
		var l mat.TriDense
		chol.LTo(&l)
		out := mat.NewDense(n, n, nil)
		out.Copy(&l)
		return out, nil
	}

	var eig mat.EigenSym
	if !eig.Factorize(s, true) {
		return nil, errors.NumericDegeneracy("eigendecomposition of covariance did not converge")
	}
	vals := eig.Values(nil)
	var vecs mat.Dense
	eig.VectorsTo(&vecs)

	largest := 0.0
	for _, v := range vals {
		largest = math.Max(largest, math.Abs(v))
	}
	tol := eigenTolerance * math.Max(1, largest)
	for j, v := range vals {
		if math.IsNaN(v) || v < -tol {
			return nil, errors.NumericDegeneracy("covariance matrix is not positive semi-definite").
				WithDetail(fmt.Sprintf("eigenvalue %d = %g", j, v))
		}
		root := math.Sqrt(math.Max(v, 0))
		for i := 0; i < n; i++ {
			vecs.Set(i, j, vecs.At(i, j)*root)
		}
	}
	return &vecs, nil
}

// gaussianDraw returns mean + root·z for a fresh standard-normal z.
func gaussianDraw(mean []float64, root *mat.Dense, rng *rand.Rand) []float64 {
	n := len(mean)
	z := mat.NewVecDense(n, nil)
	for i := 0; i < n; i++ {
		z.SetVec(i, rng.NormFloat64())
	}
	var out mat.VecDense
	out.MulVec(root, z)
	draw := make([]float64, n)
	for i := range draw {
		draw[i] = mean[i] + out.AtVec(i)
	}
	return draw
}

// ParameterDraw holds the coefficient vector a predictor currently uses: the
// point estimate, or one random draw from its asymptotic distribution.
//
// ParameterDraw is not safe for concurrent Redraw; concurrent reads of
// Coefficients are safe between redraws.
type ParameterDraw struct {
	mean    []float64
	cov     *mat.SymDense
	root    *mat.Dense
	current []float64
	random  bool
}

// NewParameterDraw returns a draw positioned on the point estimate.
func NewParameterDraw(mean []float64, cov *mat.SymDense) *ParameterDraw {
	m := make([]float64, len(mean))
	copy(m, mean)
	return &ParameterDraw{mean: m, cov: cov, current: m}
}

// Coefficients returns the coefficient vector in use.  Callers must not
// modify it.
func (d *ParameterDraw) Coefficients() []float64 { return d.current }

// IsRandom reports whether the current coefficients are a random draw.
func (d *ParameterDraw) IsRandom() bool { return d.random }

// UseMean resets the draw to the point estimate.
func (d *ParameterDraw) UseMean() {
	d.current = d.mean
	d.random = false
}

// Redraw replaces the current coefficients with mean + sqrt(cov)·z.  The
// square root is computed on first use and cached.
func (d *ParameterDraw) Redraw(rng *rand.Rand) error {
	if rng == nil {
		return errors.Configuration("parameter redraw requires a random source")
	}
	if d.root == nil {
		if d.cov == nil {
			return errors.NumericDegeneracy("coefficient covariance is missing")
		}
		root, err := SquareRoot(d.cov)
		if err != nil {
			return errors.Wrap(err, errors.CodeUnknown, "coefficient covariance has no real square root")
		}
		d.root = root
	}
	d.current = gaussianDraw(d.mean, d.root, rng)
	d.random = true
	return nil
}
