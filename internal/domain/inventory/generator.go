package inventory

import (
	"fmt"
	"math/rand/v2"

	"github.com/turtacn/GradeSim/pkg/errors"
	"github.com/turtacn/GradeSim/pkg/types/forest"
)

// GeneratorConfig controls the synthetic population.
type GeneratorConfig struct {
	// MinTrees and MaxTrees bound the per-unit tree count, inclusive.
	MinTrees int `json:"min_trees" mapstructure:"min_trees"`
	MaxTrees int `json:"max_trees" mapstructure:"max_trees"`

	// DbhMin and DbhMax bound tree diameters in cm, [DbhMin, DbhMax).
	DbhMin float64 `json:"dbh_min" mapstructure:"dbh_min"`
	DbhMax float64 `json:"dbh_max" mapstructure:"dbh_max"`

	// Species are drawn uniformly.
	Species []forest.Species `json:"species" mapstructure:"species"`

	// Covariate selects which categorical covariate every tree carries;
	// VersionNone leaves it absent.
	Covariate forest.VersionKind `json:"covariate" mapstructure:"covariate"`
}

// DefaultGeneratorConfig is 2 to 22 sugar maples per unit with dbh in [24, 51).
func DefaultGeneratorConfig() GeneratorConfig {
	return GeneratorConfig{
		MinTrees:  2,
		MaxTrees:  22,
		DbhMin:    24,
		DbhMax:    51,
		Species:   []forest.Species{forest.SpeciesSugarMaple},
		Covariate: forest.VersionNone,
	}
}

// Validate returns a ConfigurationError for unusable settings.
func (c GeneratorConfig) Validate() error {
	if c.MinTrees < 0 || c.MaxTrees < c.MinTrees {
		return errors.Configuration(fmt.Sprintf("invalid tree count range [%d, %d]", c.MinTrees, c.MaxTrees))
	}
	if c.DbhMin <= 0 || c.DbhMax <= c.DbhMin {
		return errors.Configuration(fmt.Sprintf("invalid dbh range [%g, %g)", c.DbhMin, c.DbhMax))
	}
	if len(c.Species) == 0 {
		return errors.Configuration("at least one species is required")
	}
	if !c.Covariate.Valid() {
		return errors.Configuration(fmt.Sprintf("invalid covariate kind %q", c.Covariate))
	}
	return nil
}

// GeneratePopulation builds size sampling units from rng.  The same seeded
// source always yields the same population.
func GeneratePopulation(size int, rng *rand.Rand, cfg GeneratorConfig) (*Population, error) {
	if size < 1 {
		return nil, errors.Configuration(fmt.Sprintf("population size must be >= 1, got %d", size))
	}
	if rng == nil {
		return nil, errors.Configuration("population generation requires a random source")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	span := cfg.MaxTrees - cfg.MinTrees + 1
	width := cfg.DbhMax - cfg.DbhMin
	pop := &Population{Units: make([]SamplingUnit, size)}
	for i := range pop.Units {
		n := cfg.MinTrees + rng.IntN(span)
		trees := make([]Tree, n)
		for j := range trees {
			species := cfg.Species[rng.IntN(len(cfg.Species))]
			dbh := cfg.DbhMin + rng.Float64()*width
			cov, err := forest.NewCovariate(cfg.Covariate, 1+rng.IntN(forest.CovariateLevels))
			if err != nil {
				return nil, errors.Wrap(err, errors.ErrCodeConfiguration, "failed to generate covariate")
			}
			trees[j] = Tree{species: species, dbh: dbh, covariate: cov}
		}
		pop.Units[i] = SamplingUnit{ID: i, Trees: trees}
	}
	return pop, nil
}
