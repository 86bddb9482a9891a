package predictor

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/turtacn/GradeSim/pkg/errors"
)

// covariateDummies resolves the version block for a tree, enforcing that the
// tree carries the covariate its model version consumes.
func (m *Model) covariateDummies(t TreeRecord) ([]float64, error) {
	if m.Version.Columns() == 0 {
		return nil, nil
	}
	c := t.Covariate()
	if c == nil {
		return nil, errors.Configuration(fmt.Sprintf("model version %s requires a %s covariate", m.Version, m.Version))
	}
	if c.Kind() != m.Version {
		return nil, errors.Configuration("categorical covariate does not match model version").
			WithDetail(fmt.Sprintf("version=%s covariate=%s", m.Version, c.Kind()))
	}
	return c.Dummies(), nil
}

// resolve validates a tree against the model and returns its version dummies
// and species column.
func (m *Model) resolve(t TreeRecord) ([]float64, int, error) {
	dummies, err := m.covariateDummies(t)
	if err != nil {
		return nil, 0, err
	}
	col, ok := m.speciesIndex(t.Species())
	if !ok {
		return nil, 0, errors.Configuration(fmt.Sprintf("species %q is not part of model %q", t.Species(), m.Name))
	}
	return dummies, col, nil
}

// DesignRow assembles the full design row of grade category g.
func (m *Model) DesignRow(t TreeRecord, g int) ([]float64, error) {
	if g < 0 || g >= m.Categories {
		return nil, errors.InvalidParam(fmt.Sprintf("grade category %d out of range [0, %d)", g, m.Categories))
	}
	dummies, col, err := m.resolve(t)
	if err != nil {
		return nil, err
	}
	k := m.Categories
	vc := len(dummies)
	row := make([]float64, m.NumCoefficients())
	for j, d := range dummies {
		row[j*k+g] = d
	}
	row[(vc+col)*k+g] = 1
	row[(vc+len(m.Species))*k+g] = t.Dbh()
	return row, nil
}

// DesignMatrix stacks the k design rows of a tree.
func (m *Model) DesignMatrix(t TreeRecord) (*mat.Dense, error) {
	x := mat.NewDense(m.Categories, m.NumCoefficients(), nil)
	for g := 0; g < m.Categories; g++ {
		row, err := m.DesignRow(t, g)
		if err != nil {
			return nil, err
		}
		x.SetRow(g, row)
	}
	return x, nil
}

// linearPredictor computes X·beta on the log scale without materialising the
// mostly-zero design matrix.
func (m *Model) linearPredictor(beta, dummies []float64, speciesCol int, dbh float64) []float64 {
	k := m.Categories
	vc := len(dummies)
	speciesOff := (vc + speciesCol) * k
	dbhOff := (vc + len(m.Species)) * k
	eta := make([]float64, k)
	for g := 0; g < k; g++ {
		var s float64
		for j, d := range dummies {
			if d != 0 {
				s += d * beta[j*k+g]
			}
		}
		s += beta[speciesOff+g]
		s += dbh * beta[dbhOff+g]
		eta[g] = s
	}
	return eta
}
