package decomposition

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/GradeSim/internal/domain/inventory"
	"github.com/turtacn/GradeSim/pkg/types/forest"
)

func arenaUnits(counts ...int) []inventory.SamplingUnit {
	units := make([]inventory.SamplingUnit, len(counts))
	for i, n := range counts {
		units[i] = inventory.SamplingUnit{ID: i, Trees: make([]inventory.Tree, n)}
	}
	return units
}

func TestOutcomeArena_StoreLookup(t *testing.T) {
	a := NewOutcomeArena(arenaUnits(2, 0, 3), 2, 2)
	assert.Equal(t, 3, a.Units())
	assert.Equal(t, 2, a.Layers())

	a.Store(0, 1, 0, forest.Outcome{1, 2})
	a.Store(2, 2, 1, forest.Outcome{3, 4})

	assert.Equal(t, forest.Outcome{1, 2}, a.Lookup(0, 1, 0))
	assert.Equal(t, forest.Outcome{3, 4}, a.Lookup(2, 2, 1))
	assert.Equal(t, forest.Outcome{0, 0}, a.Lookup(2, 2, 0), "layers are disjoint")

	got := a.Lookup(0, 1, 0)
	got[0] = 99
	assert.Equal(t, forest.Outcome{1, 2}, a.Lookup(0, 1, 0), "lookup returns a copy")
}

func TestOutcomeArena_Totals(t *testing.T) {
	a := NewOutcomeArena(arenaUnits(2, 1), 1, 2)
	a.Store(0, 0, 0, forest.Outcome{1, 10})
	a.Store(0, 1, 0, forest.Outcome{2, 20})
	a.Store(1, 0, 0, forest.Outcome{4, 40})

	assert.Equal(t, []float64{3, 30}, a.UnitTotal(0, 0))
	assert.Equal(t, []float64{4, 40}, a.UnitTotal(1, 0))
	assert.Equal(t, []float64{7, 70}, a.LayerTotal(0))
}

func TestOutcomeArena_EmptyUnit(t *testing.T) {
	a := NewOutcomeArena(arenaUnits(0), 3, 5)
	assert.Equal(t, make([]float64, 5), a.UnitTotal(0, 2))
}

func TestOutcomeArena_OutOfRangePanics(t *testing.T) {
	a := NewOutcomeArena(arenaUnits(2, 1), 2, 1)
	assert.Panics(t, func() { a.Lookup(2, 0, 0) })
	assert.Panics(t, func() { a.Lookup(0, 0, 2) })
	assert.Panics(t, func() { a.Lookup(1, 1, 0) })
	assert.Panics(t, func() { a.Store(0, -1, 0, forest.Outcome{1}) })
}

func TestOutcomeArena_ConcurrentLayers(t *testing.T) {
	const layers = 16
	a := NewOutcomeArena(arenaUnits(3, 4), layers, 2)

	var wg sync.WaitGroup
	for m := 0; m < layers; m++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for u, n := range []int{3, 4} {
				for tree := 0; tree < n; tree++ {
					a.Store(u, tree, m, forest.Outcome{float64(m), 1})
				}
			}
		}()
	}
	wg.Wait()

	for m := 0; m < layers; m++ {
		require.Equal(t, []float64{float64(7 * m), 7}, a.LayerTotal(m))
	}
}
