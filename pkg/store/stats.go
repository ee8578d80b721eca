package store

import (
	"context"
	"sort"

	"github.com/CTAG07/anomark/pkg/markov"
)

// DBStats holds aggregated statistics for every model in the database.
type DBStats struct {
	Models []ModelInfo               // All stored models, sorted by name
	Stats  map[int]markov.ModelStats // A mapping of model ids to their stats
}

// ModelStats computes the statistics of one stored model without loading
// it into memory.
func (s *Store) ModelStats(ctx context.Context, model ModelInfo) (markov.ModelStats, error) {
	stats := markov.ModelStats{Order: model.Order}
	if err := s.stmtModelContexts.QueryRowContext(ctx, model.Id).Scan(&stats.Contexts); err != nil {
		return markov.ModelStats{}, err
	}
	if err := s.stmtModelTransitions.QueryRowContext(ctx, model.Id).Scan(&stats.Transitions); err != nil {
		return markov.ModelStats{}, err
	}
	if err := s.stmtModelWeight.QueryRowContext(ctx, model.Id).Scan(&stats.TotalWeight); err != nil {
		return markov.ModelStats{}, err
	}
	if err := s.stmtModelAlphabet.QueryRowContext(ctx, model.Id).Scan(&stats.AlphabetSize); err != nil {
		return markov.ModelStats{}, err
	}
	return stats, nil
}

// GetStats returns a snapshot of statistics for the entire database.
func (s *Store) GetStats(ctx context.Context) (*DBStats, error) {
	modelInfos, err := s.ModelInfos(ctx)
	if err != nil {
		return nil, err
	}

	models := make([]ModelInfo, 0, len(modelInfos))
	modelStats := make(map[int]markov.ModelStats, len(modelInfos))
	for _, info := range modelInfos {
		models = append(models, info)
		stats, err := s.ModelStats(ctx, info)
		if err != nil {
			return nil, err
		}
		modelStats[info.Id] = stats
	}
	sort.Slice(models, func(i, j int) bool { return models[i].Name < models[j].Name })

	return &DBStats{Models: models, Stats: modelStats}, nil
}
