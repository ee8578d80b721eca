package markov

import "log/slog"

// ModelStats holds aggregated statistics for a model's raw counts.
type ModelStats struct {
	Order        int     // The context length.
	Contexts     int     // The number of distinct contexts.
	Transitions  int     // The number of distinct context->symbol pairs.
	TotalWeight  float64 // The sum of all transition weights.
	AlphabetSize int     // The number of distinct symbols observed.
}

// Stats returns a snapshot of the model's statistics.
func (m *Model) Stats() ModelStats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	stats := ModelStats{
		Order:        m.order,
		Contexts:     len(m.counts),
		AlphabetSize: len(m.alphabet),
	}
	for _, row := range m.counts {
		stats.Transitions += len(row)
		for _, w := range row {
			stats.TotalWeight += w
		}
	}
	return stats
}

// Prune removes every transition whose weight is less than or equal to
// minWeight and returns how many were removed. Contexts left without any
// transition are dropped; the alphabet is kept as is.
func (m *Model) Prune(minWeight float64) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for context, row := range m.counts {
		for next, w := range row {
			if w <= minWeight {
				delete(row, next)
				removed++
			}
		}
		if len(row) == 0 {
			delete(m.counts, context)
		}
	}
	if removed > 0 {
		m.dist = nil
	}

	m.logger.Info("Model pruned",
		slog.Int("order", m.order),
		slog.Float64("min_weight", minWeight),
		slog.Int("transitions_removed", removed),
	)
	return removed
}
