package decomposition

import (
	"fmt"

	"github.com/turtacn/GradeSim/internal/domain/inventory"
	"github.com/turtacn/GradeSim/pkg/types/forest"
)

// OutcomeArena stores realized outcome vectors keyed by (unit slot, tree,
// layer).  A layer is one inner realization; the truth pass uses a single
// layer over the whole population.  Distinct layers occupy disjoint memory, so
// concurrent writers of different layers need no locking.
type OutcomeArena struct {
	k       int
	layers  int
	offsets []int // first tree of each unit slot within a layer
	trees   int   // trees per layer
	data    []float64
}

// NewOutcomeArena allocates an arena for units × layers with k-vectors.
func NewOutcomeArena(units []inventory.SamplingUnit, layers, k int) *OutcomeArena {
	offsets := make([]int, len(units)+1)
	for i, u := range units {
		offsets[i+1] = offsets[i] + len(u.Trees)
	}
	trees := offsets[len(units)]
	return &OutcomeArena{
		k:       k,
		layers:  layers,
		offsets: offsets,
		trees:   trees,
		data:    make([]float64, layers*trees*k),
	}
}

// Units returns the number of unit slots.
func (a *OutcomeArena) Units() int { return len(a.offsets) - 1 }

// Layers returns the number of layers.
func (a *OutcomeArena) Layers() int { return a.layers }

func (a *OutcomeArena) index(unit, tree, layer int) int {
	if unit < 0 || unit >= a.Units() || layer < 0 || layer >= a.layers {
		panic(fmt.Sprintf("arena: slot (%d, %d, %d) out of range", unit, tree, layer))
	}
	if tree < 0 || a.offsets[unit]+tree >= a.offsets[unit+1] {
		panic(fmt.Sprintf("arena: tree %d out of range for unit slot %d", tree, unit))
	}
	return ((layer * a.trees) + a.offsets[unit] + tree) * a.k
}

// Store copies o into its slot.
func (a *OutcomeArena) Store(unit, tree, layer int, o forest.Outcome) {
	i := a.index(unit, tree, layer)
	copy(a.data[i:i+a.k], o)
}

// Lookup returns a copy of the outcome stored in a slot.
func (a *OutcomeArena) Lookup(unit, tree, layer int) forest.Outcome {
	i := a.index(unit, tree, layer)
	out := make(forest.Outcome, a.k)
	copy(out, a.data[i:i+a.k])
	return out
}

// UnitTotal sums the outcomes of one unit slot in one layer.
func (a *OutcomeArena) UnitTotal(unit, layer int) []float64 {
	total := make([]float64, a.k)
	n := a.offsets[unit+1] - a.offsets[unit]
	for t := 0; t < n; t++ {
		i := a.index(unit, t, layer)
		for g := 0; g < a.k; g++ {
			total[g] += a.data[i+g]
		}
	}
	return total
}

// LayerTotal sums every tree of one layer.
func (a *OutcomeArena) LayerTotal(layer int) []float64 {
	total := make([]float64, a.k)
	for u := 0; u < a.Units(); u++ {
		for g, v := range a.UnitTotal(u, layer) {
			total[g] += v
		}
	}
	return total
}
