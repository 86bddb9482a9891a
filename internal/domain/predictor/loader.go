package predictor

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/turtacn/GradeSim/pkg/errors"
	"github.com/turtacn/GradeSim/pkg/types/forest"
)

// modelFile is the on-disk YAML layout of a fitted model.
type modelFile struct {
	Name                  string      `yaml:"name"`
	Version               string      `yaml:"version"`
	Categories            int         `yaml:"categories"`
	Species               []string    `yaml:"species"`
	Coefficients          []float64   `yaml:"coefficients"`
	CoefficientCovariance [][]float64 `yaml:"coefficient_covariance"`
	ResidualCovariance    [][]float64 `yaml:"residual_covariance"`
}

// LoadModel reads and validates a YAML model file.
func LoadModel(path string) (*Model, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeConfiguration, "failed to read model file").WithDetail(path)
	}
	m, err := ParseModel(data)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeUnknown, "invalid model file").WithDetail(path)
	}
	return m, nil
}

// ParseModel decodes and validates a YAML model document.
func ParseModel(data []byte) (*Model, error) {
	var f modelFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeConfiguration, "failed to decode model YAML")
	}

	version, err := forest.ParseVersionKind(f.Version)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeConfiguration, "invalid model version")
	}
	species := make([]forest.Species, 0, len(f.Species))
	for _, s := range f.Species {
		sp, err := forest.ParseSpecies(s)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeConfiguration, "invalid model species")
		}
		species = append(species, sp)
	}
	coefCov, err := SymFromRows(f.CoefficientCovariance)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeUnknown, "invalid coefficient_covariance")
	}
	resCov, err := SymFromRows(f.ResidualCovariance)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeUnknown, "invalid residual_covariance")
	}

	name := f.Name
	if name == "" {
		name = fmt.Sprintf("model-%s", version)
	}
	m := &Model{
		Name:                  name,
		Version:               version,
		Categories:            f.Categories,
		Species:               species,
		Coefficients:          f.Coefficients,
		CoefficientCovariance: coefCov,
		ResidualCovariance:    resCov,
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}

// MarshalModel encodes m in the YAML model-file layout.
func MarshalModel(m *Model) ([]byte, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}
	f := modelFile{
		Name:                  m.Name,
		Version:               m.Version.String(),
		Categories:            m.Categories,
		Coefficients:          m.Coefficients,
		CoefficientCovariance: symRows(m.CoefficientCovariance.SymmetricDim(), m.CoefficientCovariance.At),
		ResidualCovariance:    symRows(m.ResidualCovariance.SymmetricDim(), m.ResidualCovariance.At),
	}
	for _, sp := range m.Species {
		f.Species = append(f.Species, sp.String())
	}
	data, err := yaml.Marshal(&f)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeSerialization, "failed to encode model YAML")
	}
	return data, nil
}

func symRows(n int, at func(i, j int) float64) [][]float64 {
	rows := make([][]float64, n)
	for i := range rows {
		rows[i] = make([]float64, n)
		for j := range rows[i] {
			rows[i][j] = at(i, j)
		}
	}
	return rows
}
