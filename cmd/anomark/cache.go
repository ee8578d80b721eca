package main

import (
	"context"
	"log/slog"
	"sync"

	"github.com/CTAG07/anomark/pkg/markov"
	"github.com/CTAG07/anomark/pkg/store"
)

type cachedScorer struct {
	info   store.ModelInfo
	scorer *markov.Scorer
}

// ScorerCache keeps a frozen scorer per stored model so requests do not
// reload and renormalize a model each time. Writes through the API must
// call Invalidate once they are committed.
type ScorerCache struct {
	store   *store.Store
	logger  *slog.Logger
	mu      sync.Mutex
	scorers map[string]cachedScorer
	// generations counts the invalidations of each name. A scorer loaded
	// while the generation of its name changed is returned but not cached.
	generations map[string]uint64
}

func NewScorerCache(s *store.Store, logger *slog.Logger) *ScorerCache {
	return &ScorerCache{
		store:       s,
		logger:      logger,
		scorers:     make(map[string]cachedScorer),
		generations: make(map[string]uint64),
	}
}

// Get returns the scorer of the stored model called name. It returns
// sql.ErrNoRows when the model does not exist and markov.ErrUntrainedModel
// when it holds no transitions.
func (c *ScorerCache) Get(ctx context.Context, name string) (*markov.Scorer, store.ModelInfo, error) {
	c.mu.Lock()
	entry, ok := c.scorers[name]
	generation := c.generations[name]
	c.mu.Unlock()
	if ok {
		return entry.scorer, entry.info, nil
	}

	info, err := c.store.ModelInfo(ctx, name)
	if err != nil {
		return nil, store.ModelInfo{}, err
	}
	m, err := c.store.Load(ctx, info, markov.WithLogger(c.logger))
	if err != nil {
		return nil, store.ModelInfo{}, err
	}
	scorer, err := m.Freeze()
	if err != nil {
		return nil, info, err
	}

	entry = cachedScorer{info: info, scorer: scorer}
	if c.remember(name, generation, entry) {
		c.logger.Debug("Scorer cached", "model_name", name, "order", info.Order)
	}
	return scorer, info, nil
}

// remember caches entry under name unless name was invalidated since
// generation was read.
func (c *ScorerCache) remember(name string, generation uint64, entry cachedScorer) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.generations[name] != generation {
		return false
	}
	c.scorers[name] = entry
	return true
}

// Invalidate drops the cached scorer of name. Loads of name already in
// flight are not cached.
func (c *ScorerCache) Invalidate(name string) {
	c.mu.Lock()
	delete(c.scorers, name)
	c.generations[name]++
	c.mu.Unlock()
}

// Len returns the number of cached scorers.
func (c *ScorerCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.scorers)
}
