package redis

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/turtacn/GradeSim/internal/domain/inventory"
	"github.com/turtacn/GradeSim/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/GradeSim/pkg/errors"
)

// PopulationKey identifies a generated population.  Equal keys always
// generate equal populations.
type PopulationKey struct {
	Size      int                       `json:"size"`
	Seed      uint64                    `json:"seed"`
	Generator inventory.GeneratorConfig `json:"generator"`
}

// String is the cache key: "population:" and a digest of the settings.
func (k PopulationKey) String() string {
	data, _ := json.Marshal(k)
	sum := sha256.Sum256(data)
	return "population:" + hex.EncodeToString(sum[:16])
}

// CacheObserver is told about every lookup.
type CacheObserver interface {
	CacheLookup(hit bool)
}

// Generation lock settings: a population of a few thousand units is built in
// well under the lock TTL, and waiters give up after two minutes.
const (
	generationLockTTL   = 2 * time.Minute
	generationLockDelay = 200 * time.Millisecond
	generationLockTries = 600
)

// PopulationCache keeps generated populations in Redis.  The cache is best
// effort: any Redis failure falls back to generating.
type PopulationCache struct {
	client   *Client
	cache    Cache
	ttl      time.Duration
	logger   logging.Logger
	observer CacheObserver
	inflight singleflight.Group
}

// NewPopulationCache stores populations through client for ttl.  opts are
// applied after the TTL, e.g. WithPrefix for the configured key prefix.
func NewPopulationCache(client *Client, ttl time.Duration, log logging.Logger, observer CacheObserver, opts ...CacheOption) *PopulationCache {
	if log == nil {
		log = logging.NewNopLogger()
	}
	return &PopulationCache{
		client:   client,
		cache:    NewRedisCache(client, log, append([]CacheOption{WithDefaultTTL(ttl)}, opts...)...),
		ttl:      ttl,
		logger:   log.Named("population_cache"),
		observer: observer,
	}
}

// GetOrGenerate returns the cached population for key, or calls generate,
// stores the result and returns it.  Concurrent calls in one process share a
// single generation, and a distributed mutex keeps other processes from
// generating the same population twice.  hit reports whether the population
// came from the cache.
func (p *PopulationCache) GetOrGenerate(ctx context.Context, key PopulationKey, generate func() (*inventory.Population, error)) (pop *inventory.Population, hit bool, err error) {
	name := key.String()
	defer func() {
		if p.observer != nil && err == nil {
			p.observer.CacheLookup(hit)
		}
	}()
	if pop, ok := p.lookup(ctx, name); ok {
		return pop, true, nil
	}

	v, err, _ := p.inflight.Do(name, func() (any, error) {
		pop, hit, err := p.fill(ctx, name, key.Size, generate)
		return filled{pop: pop, hit: hit}, err
	})
	if err != nil {
		return nil, false, err
	}
	f := v.(filled)
	return f.pop, f.hit, nil
}

type filled struct {
	pop *inventory.Population
	hit bool
}

// fill generates under the distributed lock, re-checking the cache once the
// lock is held.
func (p *PopulationCache) fill(ctx context.Context, name string, size int, generate func() (*inventory.Population, error)) (*inventory.Population, bool, error) {
	mu := NewMutex(p.client, name,
		WithLockTTL(generationLockTTL),
		WithRetryDelay(generationLockDelay),
		WithRetryCount(generationLockTries))
	if err := mu.Lock(ctx); err != nil {
		p.logger.Warn("population lock unavailable, generating without it", logging.Err(err))
	} else {
		defer func() {
			if err := mu.Unlock(context.WithoutCancel(ctx)); err != nil {
				p.logger.Warn("failed to release population lock", logging.Err(err))
			}
		}()
		if pop, ok := p.lookup(ctx, name); ok {
			return pop, true, nil
		}
	}

	pop, err := generate()
	if err != nil {
		return nil, false, err
	}
	if pop.Size() != size {
		return nil, false, errors.Internal("generated population size does not match its cache key")
	}
	if err := p.cache.Set(ctx, name, pop, p.ttl); err != nil {
		p.logger.Warn("failed to cache population", logging.Err(err), logging.String("key", name))
	}
	return pop, false, nil
}

// Invalidate drops every cached population.
func (p *PopulationCache) Invalidate(ctx context.Context) (int64, error) {
	return p.cache.DeleteByPrefix(ctx, "population:")
}

func (p *PopulationCache) lookup(ctx context.Context, name string) (*inventory.Population, bool) {
	var pop inventory.Population
	err := p.cache.Get(ctx, name, &pop)
	if err != nil && err != ErrCacheMiss {
		p.logger.Warn("population cache read failed", logging.Err(err), logging.String("key", name))
	}
	if err != nil {
		return nil, false
	}
	return &pop, true
}
