// Package inventory holds the finite population of the simulation: trees
// grouped into sampling units, the population generator and the samplers
// that draw fixed-size samples of units without replacement.
package inventory

import (
	"encoding/json"
	"fmt"
	"math"

	"github.com/turtacn/GradeSim/pkg/errors"
	"github.com/turtacn/GradeSim/pkg/types/forest"
)

// ─────────────────────────────────────────────────────────────────────────────
// Tree
// ─────────────────────────────────────────────────────────────────────────────

// Tree is an immutable record of one tree's covariates.  Realized outcomes are
// not stored on the tree; the decomposition engine keeps them per trial.
type Tree struct {
	species   forest.Species
	dbh       float64
	covariate forest.Covariate
}

// NewTree validates and builds a tree.  covariate may be nil.
func NewTree(species forest.Species, dbh float64, covariate forest.Covariate) (Tree, error) {
	if species == "" {
		return Tree{}, errors.InvalidParam("tree species is required")
	}
	if dbh <= 0 || math.IsNaN(dbh) || math.IsInf(dbh, 0) {
		return Tree{}, errors.InvalidParam(fmt.Sprintf("tree dbh must be a positive finite number, got %g", dbh))
	}
	return Tree{species: species, dbh: dbh, covariate: covariate}, nil
}

func (t Tree) Species() forest.Species     { return t.species }
func (t Tree) Dbh() float64                { return t.dbh }
func (t Tree) Covariate() forest.Covariate { return t.covariate }

type treeJSON struct {
	Species        forest.Species     `json:"species"`
	Dbh            float64            `json:"dbh"`
	CovariateKind  forest.VersionKind `json:"covariate_kind,omitempty"`
	CovariateLevel int                `json:"covariate_level,omitempty"`
}

// MarshalJSON encodes the covariate union as a (kind, level) pair.
func (t Tree) MarshalJSON() ([]byte, error) {
	v := treeJSON{Species: t.species, Dbh: t.dbh}
	if t.covariate != nil {
		v.CovariateKind = t.covariate.Kind()
		v.CovariateLevel = t.covariate.Level()
	}
	return json.Marshal(v)
}

// UnmarshalJSON decodes and validates a tree.
func (t *Tree) UnmarshalJSON(data []byte) error {
	var v treeJSON
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	var cov forest.Covariate
	if v.CovariateKind != "" && v.CovariateKind != forest.VersionNone {
		c, err := forest.NewCovariate(v.CovariateKind, v.CovariateLevel)
		if err != nil {
			return errors.Wrap(err, errors.ErrCodeSerialization, "invalid tree covariate")
		}
		cov = c
	}
	tree, err := NewTree(v.Species, v.Dbh, cov)
	if err != nil {
		return err
	}
	*t = tree
	return nil
}

// ─────────────────────────────────────────────────────────────────────────────
// SamplingUnit and Population
// ─────────────────────────────────────────────────────────────────────────────

// SamplingUnit is a plot: an identifier and its ordered trees.
type SamplingUnit struct {
	ID    int    `json:"id"`
	Trees []Tree `json:"trees"`
}

// Population is the fixed finite population of sampling units.
type Population struct {
	Units []SamplingUnit `json:"units"`
}

// Size returns N.
func (p *Population) Size() int { return len(p.Units) }

// TreeCount returns the number of trees over all units.
func (p *Population) TreeCount() int {
	n := 0
	for _, u := range p.Units {
		n += len(u.Trees)
	}
	return n
}

// Unit returns unit i.
func (p *Population) Unit(i int) (SamplingUnit, error) {
	if i < 0 || i >= len(p.Units) {
		return SamplingUnit{}, errors.NotFound(fmt.Sprintf("sampling unit %d out of range [0, %d)", i, len(p.Units)))
	}
	return p.Units[i], nil
}

// Select returns the units addressed by s in sample order.  The population
// is not modified.
func (p *Population) Select(s Sample) ([]SamplingUnit, error) {
	out := make([]SamplingUnit, len(s.Indices))
	for i, idx := range s.Indices {
		u, err := p.Unit(idx)
		if err != nil {
			return nil, err
		}
		out[i] = u
	}
	return out, nil
}

// Encode returns the JSON form of the population.
func (p *Population) Encode() ([]byte, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeSerialization, "failed to encode population")
	}
	return data, nil
}

// DecodePopulation parses the JSON form produced by Encode.
func DecodePopulation(data []byte) (*Population, error) {
	var p Population
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeSerialization, "failed to decode population")
	}
	return &p, nil
}
