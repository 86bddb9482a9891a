package predictor

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/turtacn/GradeSim/pkg/errors"
	"github.com/turtacn/GradeSim/pkg/types/forest"
)

// symmetryTolerance is the relative tolerance used when checking that a
// covariance matrix supplied as a dense table is symmetric.
const symmetryTolerance = 1e-9

// Model is a fitted multivariate log-linear grade-volume model.
//
// The coefficient vector is laid out block by block, each block crossed with
// the k grade categories (index = column*k + grade):
//
//	[version block (0 or 3 columns)] [species one-hot] [dbh]
type Model struct {
	// Name is a free-form label used in logs and exports.
	Name string

	// Version is the model-version variant the coefficients were fitted for.
	Version forest.VersionKind

	// Categories is k, the length of every outcome vector.
	Categories int

	// Species lists the species columns in design-row order.
	Species []forest.Species

	// Coefficients is the point estimate on the log scale.
	Coefficients []float64

	// CoefficientCovariance is the asymptotic covariance of Coefficients.
	CoefficientCovariance *mat.SymDense

	// ResidualCovariance is the k×k log-scale residual covariance.
	ResidualCovariance *mat.SymDense
}

// NumCoefficients is the coefficient-vector length implied by the version,
// species list and category count.
func (m *Model) NumCoefficients() int {
	return m.Categories * (m.Version.Columns() + len(m.Species) + 1)
}

// Validate checks dimensions, symmetry and finiteness.  Any failure is a
// ConfigurationError.
func (m *Model) Validate() error {
	if m == nil {
		return errors.Configuration("model is nil")
	}
	if !m.Version.Valid() {
		return errors.Configuration(fmt.Sprintf("invalid model version %q", m.Version))
	}
	if m.Categories < 1 {
		return errors.Configuration(fmt.Sprintf("model must declare at least one category, got %d", m.Categories))
	}
	if len(m.Species) == 0 {
		return errors.Configuration("model must declare at least one species")
	}
	seen := make(map[forest.Species]struct{}, len(m.Species))
	for _, sp := range m.Species {
		if _, dup := seen[sp]; dup {
			return errors.Configuration(fmt.Sprintf("duplicate species %q", sp))
		}
		seen[sp] = struct{}{}
	}

	p := m.NumCoefficients()
	if len(m.Coefficients) != p {
		return errors.Configuration("coefficient vector length mismatch").
			WithDetail(fmt.Sprintf("want %d, got %d", p, len(m.Coefficients)))
	}
	for i, b := range m.Coefficients {
		if math.IsNaN(b) || math.IsInf(b, 0) {
			return errors.Configuration(fmt.Sprintf("coefficient %d is not finite", i))
		}
	}
	// The coefficient covariance is only factored by a parameter redraw, which
	// reports an indefinite matrix as NumericDegeneracy.  The residual
	// diagonal also feeds the deterministic bias correction.
	if err := checkCovariance("coefficient covariance", m.CoefficientCovariance, p, false); err != nil {
		return err
	}
	return checkCovariance("residual covariance", m.ResidualCovariance, m.Categories, true)
}

func checkCovariance(label string, s *mat.SymDense, dim int, nonNegativeDiagonal bool) error {
	if s == nil {
		return errors.Configuration(label + " is missing")
	}
	if r := s.SymmetricDim(); r != dim {
		return errors.Configuration(label+" dimension mismatch").
			WithDetail(fmt.Sprintf("want %d, got %d", dim, r))
	}
	for i := 0; i < dim; i++ {
		for j := i; j < dim; j++ {
			v := s.At(i, j)
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return errors.Configuration(fmt.Sprintf("%s entry (%d,%d) is not finite", label, i, j))
			}
		}
		if nonNegativeDiagonal && s.At(i, i) < 0 {
			return errors.Configuration(fmt.Sprintf("%s has negative variance at %d", label, i))
		}
	}
	return nil
}

// SymFromRows builds a symmetric matrix from a dense row table, rejecting
// ragged or asymmetric input.
func SymFromRows(rows [][]float64) (*mat.SymDense, error) {
	n := len(rows)
	if n == 0 {
		return nil, errors.Configuration("covariance table is empty")
	}
	data := make([]float64, 0, n*n)
	for i, row := range rows {
		if len(row) != n {
			return nil, errors.Configuration(fmt.Sprintf("covariance row %d has %d entries, want %d", i, len(row), n))
		}
		data = append(data, row...)
	}
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			a, b := rows[i][j], rows[j][i]
			scale := math.Max(1, math.Max(math.Abs(a), math.Abs(b)))
			if math.Abs(a-b) > symmetryTolerance*scale {
				return nil, errors.Configuration(fmt.Sprintf("covariance is not symmetric at (%d,%d)", i, j))
			}
		}
	}
	return mat.NewSymDense(n, data), nil
}

// speciesIndex returns the design column of sp.
func (m *Model) speciesIndex(sp forest.Species) (int, bool) {
	for i, s := range m.Species {
		if s == sp {
			return i, true
		}
	}
	return 0, false
}

// dbhCoefficient returns the dbh slope of grade g under coefficients beta.
func (m *Model) dbhCoefficient(beta []float64, g int) float64 {
	off := m.Categories * (m.Version.Columns() + len(m.Species))
	return beta[off+g]
}
