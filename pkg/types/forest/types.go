// Package forest defines the tree-inventory value types shared by every layer
// of GradeSim: species codes, model-version variants, the categorical
// covariate union and the fixed-length outcome vector.  No domain logic lives
// here, only plain data types safe to import from any layer.
package forest

import (
	"fmt"
	"math"
	"strings"
)

// ─────────────────────────────────────────────────────────────────────────────
// Species
// ─────────────────────────────────────────────────────────────────────────────

// Species is a tree species code.
type Species string

const (
	SpeciesSugarMaple    Species = "sugar_maple"
	SpeciesYellowBirch   Species = "yellow_birch"
	SpeciesRedMaple      Species = "red_maple"
	SpeciesAmericanBeech Species = "american_beech"
)

// AllSpecies lists the species known to the reference model, in design-matrix
// column order.
var AllSpecies = []Species{
	SpeciesSugarMaple,
	SpeciesYellowBirch,
	SpeciesRedMaple,
	SpeciesAmericanBeech,
}

// String returns the species code.
func (s Species) String() string { return string(s) }

// ParseSpecies converts a case-insensitive species code.
func ParseSpecies(s string) (Species, error) {
	candidate := Species(strings.ToLower(strings.TrimSpace(s)))
	for _, sp := range AllSpecies {
		if sp == candidate {
			return sp, nil
		}
	}
	return "", fmt.Errorf("unknown species %q", s)
}

// ─────────────────────────────────────────────────────────────────────────────
// VersionKind — which categorical covariate a model version consumes
// ─────────────────────────────────────────────────────────────────────────────

// VersionKind selects the model-version variant of a grade-volume predictor.
type VersionKind string

const (
	VersionNone            VersionKind = "none"
	VersionVigor           VersionKind = "vigor"
	VersionHarvestPriority VersionKind = "harvest_priority"
	VersionQuality         VersionKind = "quality"
)

// versionColumns is the width of the version-dependent block of a design row.
const versionColumns = 3

// ParseVersionKind converts a case-insensitive version name.
func ParseVersionKind(s string) (VersionKind, error) {
	switch VersionKind(strings.ToLower(strings.TrimSpace(s))) {
	case VersionNone, "":
		return VersionNone, nil
	case VersionVigor:
		return VersionVigor, nil
	case VersionHarvestPriority, "priority":
		return VersionHarvestPriority, nil
	case VersionQuality:
		return VersionQuality, nil
	}
	return "", fmt.Errorf("unknown model version %q", s)
}

// String returns the version name.
func (v VersionKind) String() string { return string(v) }

// Valid reports whether v is one of the four declared variants.
func (v VersionKind) Valid() bool {
	switch v {
	case VersionNone, VersionVigor, VersionHarvestPriority, VersionQuality:
		return true
	}
	return false
}

// Columns is the number of design-row columns the version contributes for a
// single grade category.
func (v VersionKind) Columns() int {
	if v == VersionNone {
		return 0
	}
	return versionColumns
}

// ─────────────────────────────────────────────────────────────────────────────
// Categorical covariates
// ─────────────────────────────────────────────────────────────────────────────

// VigorClass combines tree vigor and expected production.
type VigorClass int

const (
	VigorV1 VigorClass = iota + 1 // vigorous, sawlog
	VigorV2                       // vigorous, pulpwood
	VigorV3                       // non-vigorous, sawlog
	VigorV4                       // non-vigorous, pulpwood
)

// Vigorous reports whether the class describes a vigorous tree.
func (c VigorClass) Vigorous() bool { return c == VigorV1 || c == VigorV2 }

// Sawlog reports whether the class targets sawlog production.
func (c VigorClass) Sawlog() bool { return c == VigorV1 || c == VigorV3 }

// HarvestPriority is the MSCR harvest-priority class.
type HarvestPriority int

const (
	PriorityM HarvestPriority = iota + 1 // moribund
	PriorityS                            // survival
	PriorityC                            // conservation
	PriorityR                            // reserve
)

// QualityGrade is the ABCD stem quality grade.
type QualityGrade int

const (
	QualityA QualityGrade = iota + 1
	QualityB
	QualityC
	QualityD
)

// CovariateLevels is the number of levels of every categorical covariate.
const CovariateLevels = 4

// Covariate is the sealed union of the categorical covariates a model version
// may consume.  A tree carries at most one.
type Covariate interface {
	// Kind is the model version this covariate feeds.
	Kind() VersionKind
	// Level is the 1-based level of the covariate.
	Level() int
	// Dummies returns the version block of a design row.
	Dummies() []float64

	sealed()
}

// VigorCovariate carries a vigor class.
type VigorCovariate struct{ Class VigorClass }

// PriorityCovariate carries a harvest-priority class.
type PriorityCovariate struct{ Priority HarvestPriority }

// QualityCovariate carries a quality grade.
type QualityCovariate struct{ Grade QualityGrade }

func (VigorCovariate) Kind() VersionKind    { return VersionVigor }
func (PriorityCovariate) Kind() VersionKind { return VersionHarvestPriority }
func (QualityCovariate) Kind() VersionKind  { return VersionQuality }

func (c VigorCovariate) Level() int    { return int(c.Class) }
func (c PriorityCovariate) Level() int { return int(c.Priority) }
func (c QualityCovariate) Level() int  { return int(c.Grade) }

// Dummies encodes vigor and production as two factors plus their interaction,
// with the vigorous-sawlog class as reference.
func (c VigorCovariate) Dummies() []float64 {
	var nonVigorous, pulp float64
	if !c.Class.Vigorous() {
		nonVigorous = 1
	}
	if !c.Class.Sawlog() {
		pulp = 1
	}
	return []float64{nonVigorous, pulp, nonVigorous * pulp}
}

// Dummies uses class M as reference.
func (c PriorityCovariate) Dummies() []float64 { return referenceDummies(int(c.Priority)) }

// Dummies uses grade A as reference.
func (c QualityCovariate) Dummies() []float64 { return referenceDummies(int(c.Grade)) }

func (VigorCovariate) sealed()    {}
func (PriorityCovariate) sealed() {}
func (QualityCovariate) sealed()  {}

func referenceDummies(level int) []float64 {
	out := make([]float64, versionColumns)
	if level >= 2 && level <= CovariateLevels {
		out[level-2] = 1
	}
	return out
}

// NewCovariate builds the covariate of the given kind at a 1-based level.
// VersionNone yields a nil covariate.
func NewCovariate(kind VersionKind, level int) (Covariate, error) {
	if kind == VersionNone {
		return nil, nil
	}
	if level < 1 || level > CovariateLevels {
		return nil, fmt.Errorf("covariate level %d out of range [1, %d]", level, CovariateLevels)
	}
	switch kind {
	case VersionVigor:
		return VigorCovariate{Class: VigorClass(level)}, nil
	case VersionHarvestPriority:
		return PriorityCovariate{Priority: HarvestPriority(level)}, nil
	case VersionQuality:
		return QualityCovariate{Grade: QualityGrade(level)}, nil
	}
	return nil, fmt.Errorf("unknown model version %q", kind)
}

// ─────────────────────────────────────────────────────────────────────────────
// Outcome — natural-scale k-vector
// ─────────────────────────────────────────────────────────────────────────────

// DefaultCategories is the number of grade categories of the reference domain.
const DefaultCategories = 5

// Outcome is a fixed-length vector of per-category outcomes.
type Outcome []float64

// NewOutcome allocates a zero outcome with k components.
func NewOutcome(k int) Outcome { return make(Outcome, k) }

// Clone returns an independent copy.
func (o Outcome) Clone() Outcome {
	out := make(Outcome, len(o))
	copy(out, o)
	return out
}

// Finite reports whether every component is neither NaN nor ±Inf.
func (o Outcome) Finite() bool {
	for _, v := range o {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// NonNegative reports whether every component is ≥ 0.
func (o Outcome) NonNegative() bool {
	for _, v := range o {
		if v < 0 {
			return false
		}
	}
	return true
}
