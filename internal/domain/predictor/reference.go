package predictor

import (
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/turtacn/GradeSim/pkg/types/forest"
)

// Reference coefficients for five grade categories (sawlog grades F1, F2, F3,
// pulpwood, residual), log of m³ per tree.
var (
	referenceIntercepts = [forest.DefaultCategories]float64{-5.10, -4.45, -3.90, -3.05, -3.60}
	referenceDbhSlopes  = [forest.DefaultCategories]float64{0.072, 0.061, 0.052, 0.041, 0.038}
	referenceResidual   = [forest.DefaultCategories]float64{0.42, 0.35, 0.28, 0.16, 0.22}

	// Version effects per covariate column, shared across grades with a
	// grade-dependent scale.
	referenceVersionEffects = map[forest.VersionKind][3]float64{
		forest.VersionVigor:           {-0.28, -0.45, 0.12},
		forest.VersionHarvestPriority: {-0.06, -0.18, -0.31},
		forest.VersionQuality:         {-0.22, -0.51, -0.84},
	}
	referenceGradeScale = [forest.DefaultCategories]float64{1.4, 1.2, 1.0, 0.4, 0.2}

	// Intercept shift per species, in AllSpecies order.
	referenceSpeciesShift = []float64{0, -0.15, -0.32, -0.41}
)

// Residual correlation between grade categories.
const referenceResidualCorrelation = 0.25

// Correlation between a species intercept and the dbh slope of one grade.
const referenceInterceptSlopeCorrelation = -0.6

// ReferenceModel builds a self-consistent five-category model for the given
// version and species.  Unknown species get the mean shift of the known ones.
func ReferenceModel(version forest.VersionKind, species []forest.Species) *Model {
	if len(species) == 0 {
		species = []forest.Species{forest.SpeciesSugarMaple}
	}
	k := forest.DefaultCategories
	m := &Model{
		Name:       "reference-" + version.String(),
		Version:    version,
		Categories: k,
		Species:    append([]forest.Species(nil), species...),
	}
	p := m.NumCoefficients()
	beta := make([]float64, p)
	sd := make([]float64, p)

	vc := version.Columns()
	if effects, ok := referenceVersionEffects[version]; ok {
		for j := 0; j < vc; j++ {
			for g := 0; g < k; g++ {
				beta[j*k+g] = effects[j] * referenceGradeScale[g]
				sd[j*k+g] = 0.05
			}
		}
	}
	for s, sp := range species {
		shift := speciesShift(sp)
		for g := 0; g < k; g++ {
			i := (vc+s)*k + g
			beta[i] = referenceIntercepts[g] + shift
			sd[i] = 0.12
		}
	}
	dbhOff := (vc + len(species)) * k
	for g := 0; g < k; g++ {
		beta[dbhOff+g] = referenceDbhSlopes[g]
		sd[dbhOff+g] = 0.003
	}
	m.Coefficients = beta

	cov := mat.NewSymDense(p, nil)
	for i := 0; i < p; i++ {
		cov.SetSym(i, i, sd[i]*sd[i])
	}
	// Only the first species' intercepts are correlated with the dbh slopes.
	for g := 0; g < k; g++ {
		a, b := vc*k+g, dbhOff+g
		cov.SetSym(a, b, referenceInterceptSlopeCorrelation*sd[a]*sd[b])
	}
	m.CoefficientCovariance = cov

	res := mat.NewSymDense(k, nil)
	for i := 0; i < k; i++ {
		for j := i; j < k; j++ {
			v := referenceResidualCorrelation
			if i == j {
				v = 1
			}
			res.SetSym(i, j, v*math.Sqrt(referenceResidual[i]*referenceResidual[j]))
		}
	}
	m.ResidualCovariance = res
	return m
}

func speciesShift(sp forest.Species) float64 {
	var mean float64
	for i, known := range forest.AllSpecies {
		if known == sp {
			return referenceSpeciesShift[i]
		}
		mean += referenceSpeciesShift[i]
	}
	return mean / float64(len(forest.AllSpecies))
}
