package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
)

// PruneModel removes every stored transition of model whose weight is less
// than or equal to minWeight, returning the number of rows removed. The
// alphabet is left untouched so the prior of the pruned model is unchanged.
func (s *Store) PruneModel(ctx context.Context, model ModelInfo, minWeight float64) (int64, error) {
	res, err := s.stmtPruneModel.ExecContext(ctx, model.Id, minWeight)
	if err != nil {
		return 0, fmt.Errorf("could not prune model %d: %w", model.Id, err)
	}
	rowsAffected, _ := res.RowsAffected()

	s.logger.InfoContext(ctx, "Model pruned",
		slog.String("model_name", model.Name),
		slog.Int("model_id", model.Id),
		slog.Float64("min_weight", minWeight),
		slog.Int64("transitions_removed", rowsAffected),
	)
	return rowsAffected, nil
}

// Compact removes alphabet rows and transitions that belong to models which
// no longer exist, returning the number of rows removed.
func (s *Store) Compact(ctx context.Context) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("could not begin transaction for compaction: %w", err)
	}
	defer func(tx *sql.Tx) {
		_ = tx.Rollback()
	}(tx)

	var removed int64
	for _, table := range []string{"anomark_transitions", "anomark_alphabet"} {
		query := fmt.Sprintf("DELETE FROM %s WHERE model_id NOT IN (SELECT model_id FROM anomark_models)", table)
		res, err := tx.ExecContext(ctx, query)
		if err != nil {
			return 0, fmt.Errorf("failed to compact %s: %w", table, err)
		}
		n, _ := res.RowsAffected()
		removed += n
	}

	s.logger.InfoContext(ctx, "Database compacted", slog.Int64("rows_removed", removed))
	return removed, tx.Commit()
}
