package main

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/CTAG07/anomark/pkg/markov"
)

func TestScorerCacheGet(t *testing.T) {
	a := newTestApp(t)
	ctx := context.Background()
	s, err := a.Store()
	if err != nil {
		t.Fatalf("Failed to open store: %v", err)
	}
	trainStored(t, a, "cmd", 2, testCommands...)

	cache := NewScorerCache(s, a.logger)
	first, info, err := cache.Get(ctx, "cmd")
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if info.Name != "cmd" || first.Order() != 2 {
		t.Errorf("unexpected model %+v with order %d", info, first.Order())
	}
	if again, _, _ := cache.Get(ctx, "cmd"); again != first || cache.Len() != 1 {
		t.Error("expected the second Get to return the cached scorer")
	}

	cache.Invalidate("cmd")
	if cache.Len() != 0 {
		t.Errorf("expected an empty cache after Invalidate, got %d", cache.Len())
	}
	if reloaded, _, _ := cache.Get(ctx, "cmd"); reloaded == first {
		t.Error("expected a fresh scorer after Invalidate")
	}

	if _, _, err = cache.Get(ctx, "missing"); !errors.Is(err, sql.ErrNoRows) {
		t.Errorf("expected sql.ErrNoRows, got %v", err)
	}
	if _, err = s.EnsureModel(ctx, "empty", 2); err != nil {
		t.Fatal(err)
	}
	if _, _, err = cache.Get(ctx, "empty"); !errors.Is(err, markov.ErrUntrainedModel) {
		t.Errorf("expected ErrUntrainedModel, got %v", err)
	}
}

// A load that started before a write must not be cached once the write has
// invalidated the name.
func TestScorerCacheDropsLoadsRacingAWrite(t *testing.T) {
	a := newTestApp(t)
	ctx := context.Background()
	s, err := a.Store()
	if err != nil {
		t.Fatalf("Failed to open store: %v", err)
	}
	trainStored(t, a, "cmd", 2, testCommands...)
	cache := NewScorerCache(s, a.logger)

	// The steps of Get, interleaved with a committed write.
	cache.mu.Lock()
	generation := cache.generations["cmd"]
	cache.mu.Unlock()

	info, err := s.ModelInfo(ctx, "cmd")
	if err != nil {
		t.Fatal(err)
	}
	old, err := s.Load(ctx, info)
	if err != nil {
		t.Fatal(err)
	}
	stale, err := old.Freeze()
	if err != nil {
		t.Fatal(err)
	}

	update := markov.New(2)
	update.Train(markov.Pad("powershell -enc", 2, markov.DefaultPadding, true), 50)
	if err = s.Append(ctx, info, update); err != nil {
		t.Fatalf("Append() failed: %v", err)
	}
	cache.Invalidate("cmd")

	if cache.remember("cmd", generation, cachedScorer{info: info, scorer: stale}) {
		t.Fatal("a scorer loaded before the write was cached")
	}

	fresh, _, err := cache.Get(ctx, "cmd")
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	sequence := markov.Pad("powershell -enc", 2, markov.DefaultPadding, true)
	if fresh == stale || fresh.LogLikelihood(sequence) == stale.LogLikelihood(sequence) {
		t.Error("Get returned a scorer without the appended counts")
	}
}
