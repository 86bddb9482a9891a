package predictor

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/turtacn/GradeSim/pkg/errors"
	"github.com/turtacn/GradeSim/pkg/types/forest"
)

const twoCategoryModel = `
name: toy
version: none
categories: 2
species: [sugar_maple]
coefficients: [-1.0, -2.0, 0.05, 0.04]
coefficient_covariance:
  - [0.01, 0, 0, 0]
  - [0, 0.01, 0, 0]
  - [0, 0, 0.0001, 0]
  - [0, 0, 0, 0.0001]
residual_covariance:
  - [0.2, 0.05]
  - [0.05, 0.1]
`

func TestParseModel(t *testing.T) {
	m, err := ParseModel([]byte(twoCategoryModel))
	require.NoError(t, err)
	assert.Equal(t, "toy", m.Name)
	assert.Equal(t, forest.VersionNone, m.Version)
	assert.Equal(t, 2, m.Categories)
	assert.Equal(t, []forest.Species{forest.SpeciesSugarMaple}, m.Species)
	assert.Equal(t, 0.05, m.ResidualCovariance.At(1, 0))

	p := mustPredictor(t, m, Config{})
	out, err := p.Predict(testTree{species: forest.SpeciesSugarMaple, dbh: 20}, nil)
	require.NoError(t, err)
	assert.Len(t, out, 2)
}

func TestParseModel_Invalid(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"malformed yaml", "coefficients: [1, 2"},
		{"unknown version", "version: height\ncategories: 1\nspecies: [sugar_maple]"},
		{"unknown species", "version: none\ncategories: 1\nspecies: [oak]"},
		{"missing covariance", "version: none\ncategories: 1\nspecies: [sugar_maple]\ncoefficients: [1, 2]"},
		{"asymmetric residual", `
version: none
categories: 2
species: [sugar_maple]
coefficients: [0, 0, 0, 0]
coefficient_covariance: [[1,0,0,0],[0,1,0,0],[0,0,1,0],[0,0,0,1]]
residual_covariance: [[1, 0.5], [0.4, 1]]
`},
		{"wrong coefficient count", `
version: none
categories: 2
species: [sugar_maple]
coefficients: [0, 0, 0]
coefficient_covariance: [[1,0,0],[0,1,0],[0,0,1]]
residual_covariance: [[1, 0], [0, 1]]
`},
		{"ragged covariance", `
version: none
categories: 1
species: [sugar_maple]
coefficients: [0, 0]
coefficient_covariance: [[1, 0], [0]]
residual_covariance: [[1]]
`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseModel([]byte(tt.doc))
			require.Error(t, err)
			assert.True(t, errors.IsConfiguration(err), "got %v", err)
		})
	}
}

func TestLoadModel_ReferenceRoundTrip(t *testing.T) {
	ref := ReferenceModel(forest.VersionQuality, []forest.Species{forest.SpeciesSugarMaple, forest.SpeciesRedMaple})
	data, err := MarshalModel(ref)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "quality.yaml")
	require.NoError(t, os.WriteFile(path, data, 0o600))

	loaded, err := LoadModel(path)
	require.NoError(t, err)
	assert.Equal(t, ref.Name, loaded.Name)
	assert.Equal(t, ref.Version, loaded.Version)
	assert.Equal(t, ref.Species, loaded.Species)
	assert.Equal(t, ref.Coefficients, loaded.Coefficients)
	assert.True(t, mat.Equal(ref.CoefficientCovariance, loaded.CoefficientCovariance))
	assert.True(t, mat.Equal(ref.ResidualCovariance, loaded.ResidualCovariance))
}

func TestLoadModel_MissingFile(t *testing.T) {
	_, err := LoadModel(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
	assert.True(t, errors.IsConfiguration(err))
}
