// Package modelpool provides a bounded, concurrency-safe cache of
// model.Client instances keyed by model.RuntimeConfig, so agents that share
// an effective provider/model/parameter configuration share one underlying
// client (spec.md §4.3).
package modelpool

import (
	"fmt"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/thomasrohde/strandsflow/model"
)

// DefaultCapacity is the default number of distinct RuntimeConfig entries the
// pool retains before evicting the least recently used one.
const DefaultCapacity = 16

// Builder constructs a model.Client for a given RuntimeConfig. Builders must
// be safe to call concurrently and are expected to be pure functions of the
// config (same config in, equivalent client out).
type Builder func(cfg model.RuntimeConfig) (model.Client, error)

// Pool caches model.Client instances by RuntimeConfig. It is safe for
// concurrent use by multiple agents and pattern executors.
type Pool struct {
	mu      sync.Mutex
	cache   *lru.Cache[model.RuntimeConfig, model.Client]
	builder Builder
	// inflight de-duplicates concurrent Get calls for a config that is not
	// yet cached, so a burst of agent constructions for the same config
	// only invokes Builder once (spec.md §8 property 9, model pool
	// singularity).
	inflight map[model.RuntimeConfig]*buildCall
}

type buildCall struct {
	wg     sync.WaitGroup
	client model.Client
	err    error
}

// New creates a Pool with the given capacity backed by builder. Capacity
// <= 0 uses DefaultCapacity.
func New(capacity int, builder Builder) (*Pool, error) {
	if builder == nil {
		return nil, fmt.Errorf("modelpool: builder is required")
	}
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	cache, err := lru.New[model.RuntimeConfig, model.Client](capacity)
	if err != nil {
		return nil, fmt.Errorf("modelpool: %w", err)
	}
	return &Pool{
		cache:    cache,
		builder:  builder,
		inflight: make(map[model.RuntimeConfig]*buildCall),
	}, nil
}

// Get returns the cached client for cfg, building and caching one via
// Builder on a miss. Concurrent Get calls for the same cfg share a single
// build.
func (p *Pool) Get(cfg model.RuntimeConfig) (model.Client, error) {
	p.mu.Lock()
	if c, ok := p.cache.Get(cfg); ok {
		p.mu.Unlock()
		return c, nil
	}
	if call, ok := p.inflight[cfg]; ok {
		p.mu.Unlock()
		call.wg.Wait()
		return call.client, call.err
	}

	call := &buildCall{}
	call.wg.Add(1)
	p.inflight[cfg] = call
	p.mu.Unlock()

	client, err := p.builder(cfg)
	call.client, call.err = client, err
	call.wg.Done()

	p.mu.Lock()
	delete(p.inflight, cfg)
	if err == nil {
		p.cache.Add(cfg, client)
	}
	p.mu.Unlock()

	return client, err
}

// Len reports the number of cached clients.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cache.Len()
}

// Purge evicts every cached client. Intended for tests.
func (p *Pool) Purge() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cache.Purge()
}
