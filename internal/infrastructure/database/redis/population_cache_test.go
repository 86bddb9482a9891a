package redis

import (
	"context"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/GradeSim/internal/domain/inventory"
)

type lookupCounter struct{ hits, misses int }

func (c *lookupCounter) CacheLookup(hit bool) {
	if hit {
		c.hits++
	} else {
		c.misses++
	}
}

func testKey(seed uint64) PopulationKey {
	return PopulationKey{Size: 12, Seed: seed, Generator: inventory.DefaultGeneratorConfig()}
}

func generator(key PopulationKey, calls *int) func() (*inventory.Population, error) {
	return func() (*inventory.Population, error) {
		*calls++
		return inventory.GeneratePopulation(key.Size, rand.New(rand.NewPCG(key.Seed, 1)), key.Generator)
	}
}

func TestPopulationKey_String(t *testing.T) {
	a, b := testKey(1), testKey(2)
	assert.Equal(t, a.String(), testKey(1).String())
	assert.NotEqual(t, a.String(), b.String())
	assert.Regexp(t, `^population:[0-9a-f]{32}$`, a.String())

	c := testKey(1)
	c.Generator.MaxTrees = 30
	assert.NotEqual(t, a.String(), c.String())
}

func TestPopulationCache_MissThenHit(t *testing.T) {
	client, _ := newTestClient(t)
	counter := &lookupCounter{}
	pc := NewPopulationCache(client, time.Hour, nil, counter)
	ctx := context.Background()
	key := testKey(7)

	calls := 0
	first, hit, err := pc.GetOrGenerate(ctx, key, generator(key, &calls))
	require.NoError(t, err)
	assert.False(t, hit)

	second, hit, err := pc.GetOrGenerate(ctx, key, generator(key, &calls))
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, 1, calls)
	assert.Equal(t, first, second, "cached population round-trips exactly")
	assert.Equal(t, &lookupCounter{hits: 1, misses: 1}, counter)

	n, err := pc.Invalidate(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestPopulationCache_FallsBackWhenRedisIsDown(t *testing.T) {
	client, mr := newTestClient(t)
	pc := NewPopulationCache(client, time.Hour, nil, nil)
	mr.Close()

	calls := 0
	key := testKey(3)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	pop, hit, err := pc.GetOrGenerate(ctx, key, generator(key, &calls))
	require.NoError(t, err)
	assert.False(t, hit)
	assert.Equal(t, 12, pop.Size())
	assert.Equal(t, 1, calls)
}

func TestPopulationCache_RejectsWrongSize(t *testing.T) {
	client, _ := newTestClient(t)
	pc := NewPopulationCache(client, time.Hour, nil, nil)
	key := testKey(4)
	_, _, err := pc.GetOrGenerate(context.Background(), key, func() (*inventory.Population, error) {
		return inventory.GeneratePopulation(3, rand.New(rand.NewPCG(1, 1)), key.Generator)
	})
	assert.Error(t, err)
}

func TestPopulationCache_KeyPrefix(t *testing.T) {
	client, mr := newTestClient(t)
	pc := NewPopulationCache(client, time.Hour, nil, nil, WithPrefix("lab:"))
	key := testKey(9)

	calls := 0
	_, _, err := pc.GetOrGenerate(context.Background(), key, generator(key, &calls))
	require.NoError(t, err)

	assert.Equal(t, []string{"lab:" + key.String()}, mr.Keys())
}

func TestPopulationCache_ConcurrentCallersGenerateOnce(t *testing.T) {
	client, _ := newTestClient(t)
	pc := NewPopulationCache(client, time.Hour, nil, nil)
	key := testKey(11)

	var calls atomic.Int32
	gen := func() (*inventory.Population, error) {
		calls.Add(1)
		return inventory.GeneratePopulation(key.Size, rand.New(rand.NewPCG(key.Seed, 1)), key.Generator)
	}

	var wg sync.WaitGroup
	sizes := make([]int, 8)
	for i := range sizes {
		wg.Add(1)
		go func() {
			defer wg.Done()
			pop, _, err := pc.GetOrGenerate(context.Background(), key, gen)
			if err == nil {
				sizes[i] = pop.Size()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())
	for _, n := range sizes {
		assert.Equal(t, 12, n)
	}
}
