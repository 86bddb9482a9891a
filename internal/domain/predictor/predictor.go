// Package predictor implements the stochastic grade-volume predictor: a
// multivariate log-linear model evaluated per tree, back-transformed to the
// natural scale, with optional parameter and residual variability.
package predictor

import (
	"fmt"
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/mat"

	"github.com/turtacn/GradeSim/pkg/errors"
	"github.com/turtacn/GradeSim/pkg/types/forest"
)

// TreeRecord supplies the covariates a predictor reads.
type TreeRecord interface {
	Species() forest.Species
	Dbh() float64
	// Covariate returns the tree's categorical covariate, or nil.
	Covariate() forest.Covariate
}

// OutcomePredictor returns one natural-scale outcome vector per tree.
type OutcomePredictor interface {
	Categories() int
	Predict(t TreeRecord, rng *rand.Rand) (forest.Outcome, error)
	ResidualCovariance() mat.Symmetric
}

// Config holds the two randomness toggles and the dbh measurement variance.
// The zero value is a fully deterministic predictor.
type Config struct {
	// ParameterVariability enables RedrawParameters.
	ParameterVariability bool `json:"parameter_variability" yaml:"parameter_variability"`

	// ResidualVariability adds one residual k-vector draw per Predict call.
	ResidualVariability bool `json:"residual_variability" yaml:"residual_variability"`

	// DbhVariance is the measurement variance of dbh (cm²), propagated into
	// the deterministic bias correction by the delta method.
	DbhVariance float64 `json:"dbh_variance" yaml:"dbh_variance"`
}

// GradeVolumePredictor evaluates a Model for individual trees.
//
// Predict is safe for concurrent use as long as RedrawParameters is not
// called at the same time; each caller supplies its own random source.
type GradeVolumePredictor struct {
	model        *Model
	cfg          Config
	params       *ParameterDraw
	residualRoot *mat.Dense
}

// NewGradeVolumePredictor validates the model and prepares the residual
// square root when residual variability is on.
func NewGradeVolumePredictor(model *Model, cfg Config) (*GradeVolumePredictor, error) {
	if err := model.Validate(); err != nil {
		return nil, err
	}
	if cfg.DbhVariance < 0 || math.IsNaN(cfg.DbhVariance) {
		return nil, errors.Configuration(fmt.Sprintf("dbh variance must be >= 0, got %g", cfg.DbhVariance))
	}
	p := &GradeVolumePredictor{
		model:  model,
		cfg:    cfg,
		params: NewParameterDraw(model.Coefficients, model.CoefficientCovariance),
	}
	if cfg.ResidualVariability {
		root, err := SquareRoot(model.ResidualCovariance)
		if err != nil {
			return nil, errors.Wrap(err, errors.CodeUnknown, "residual covariance has no real square root")
		}
		p.residualRoot = root
	}
	return p, nil
}

// Model returns the underlying fitted model.
func (p *GradeVolumePredictor) Model() *Model { return p.model }

// Config returns the predictor's toggles.
func (p *GradeVolumePredictor) Config() Config { return p.cfg }

// Categories returns k.
func (p *GradeVolumePredictor) Categories() int { return p.model.Categories }

// ResidualCovariance returns the declared log-scale residual covariance.
func (p *GradeVolumePredictor) ResidualCovariance() mat.Symmetric { return p.model.ResidualCovariance }

// Parameters exposes the coefficient draw in use.
func (p *GradeVolumePredictor) Parameters() *ParameterDraw { return p.params }

// RedrawParameters replaces the coefficients with one draw from their
// asymptotic distribution.  It is a no-op when parameter variability is off.
func (p *GradeVolumePredictor) RedrawParameters(rng *rand.Rand) error {
	if !p.cfg.ParameterVariability {
		return nil
	}
	return p.params.Redraw(rng)
}

// ConditionalVariance returns the log-scale variance of grade g: the fitted
// residual variance plus the delta-method dbh term under beta.
func (p *GradeVolumePredictor) ConditionalVariance(g int) float64 {
	v := p.model.ResidualCovariance.At(g, g)
	if p.cfg.DbhVariance > 0 {
		d := p.model.dbhCoefficient(p.params.Coefficients(), g)
		v += d * d * p.cfg.DbhVariance
	}
	return v
}

// Predict returns the natural-scale outcome vector of t.  rng is required
// only when residual variability is on.
func (p *GradeVolumePredictor) Predict(t TreeRecord, rng *rand.Rand) (forest.Outcome, error) {
	dummies, col, err := p.model.resolve(t)
	if err != nil {
		return nil, err
	}
	eta := p.model.linearPredictor(p.params.Coefficients(), dummies, col, t.Dbh())

	if p.cfg.ResidualVariability {
		if rng == nil {
			return nil, errors.Configuration("residual variability requires a random source")
		}
		eps := gaussianDraw(make([]float64, len(eta)), p.residualRoot, rng)
		for g := range eta {
			eta[g] += eps[g]
		}
	} else {
		for g := range eta {
			eta[g] += 0.5 * p.ConditionalVariance(g)
		}
	}

	out := make(forest.Outcome, len(eta))
	for g, e := range eta {
		out[g] = math.Exp(e)
	}
	if !out.Finite() {
		return nil, errors.NumericDegeneracy("predicted outcome is not finite").
			WithDetail(fmt.Sprintf("species=%s dbh=%g outcome=%v", t.Species(), t.Dbh(), []float64(out)))
	}
	return out, nil
}
