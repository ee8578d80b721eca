package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
)

// ModelInfo holds the bookkeeping record for a stored model: its database
// id, unique name and the order of the chain.
type ModelInfo struct {
	Id    int    `json:"id"`
	Name  string `json:"name"`
	Order int    `json:"order"`
}

// ModelInfos retrieves metadata for all stored models, keyed by model name.
func (s *Store) ModelInfos(ctx context.Context) (map[string]ModelInfo, error) {
	rows, err := s.stmtGetModels.QueryContext(ctx)
	if err != nil {
		return nil, err
	}
	defer func(rows *sql.Rows) {
		_ = rows.Close()
	}(rows)

	models := make(map[string]ModelInfo)
	for rows.Next() {
		var model ModelInfo
		if err = rows.Scan(&model.Id, &model.Name, &model.Order); err != nil {
			return nil, err
		}
		models[model.Name] = model
	}
	if err = rows.Err(); err != nil {
		return nil, err
	}
	return models, nil
}

// ModelInfo retrieves the metadata for a single model. It returns
// sql.ErrNoRows if no model has that name.
func (s *Store) ModelInfo(ctx context.Context, name string) (ModelInfo, error) {
	var id, order int
	if err := s.stmtGetModelInfo.QueryRowContext(ctx, name).Scan(&id, &order); err != nil {
		return ModelInfo{}, err
	}
	return ModelInfo{Id: id, Name: name, Order: order}, nil
}

// InsertModel creates a new, empty model entry. Names are unique.
func (s *Store) InsertModel(ctx context.Context, model ModelInfo) error {
	if model.Order < 1 {
		return fmt.Errorf("invalid order %d for model '%s'", model.Order, model.Name)
	}
	_, err := s.stmtAddModel.ExecContext(ctx, model.Name, model.Order)
	return err
}

// EnsureModel returns the stored model called name, creating it with the
// given order if it does not exist yet.
func (s *Store) EnsureModel(ctx context.Context, name string, order int) (ModelInfo, error) {
	info, err := s.ModelInfo(ctx, name)
	if err == nil {
		return info, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return ModelInfo{}, err
	}
	if err = s.InsertModel(ctx, ModelInfo{Name: name, Order: order}); err != nil {
		return ModelInfo{}, err
	}
	return s.ModelInfo(ctx, name)
}

// RemoveModel deletes a model together with its transitions and alphabet.
func (s *Store) RemoveModel(ctx context.Context, model ModelInfo) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func(tx *sql.Tx) {
		_ = tx.Rollback()
	}(tx)

	if _, err = tx.ExecContext(ctx, "DELETE FROM anomark_transitions WHERE model_id = ?", model.Id); err != nil {
		return fmt.Errorf("failed to remove transitions for model %d: %w", model.Id, err)
	}
	if _, err = tx.ExecContext(ctx, "DELETE FROM anomark_alphabet WHERE model_id = ?", model.Id); err != nil {
		return fmt.Errorf("failed to remove alphabet for model %d: %w", model.Id, err)
	}
	if _, err = tx.ExecContext(ctx, "DELETE FROM anomark_models WHERE model_id = ?", model.Id); err != nil {
		return fmt.Errorf("failed to remove model %d: %w", model.Id, err)
	}

	s.logger.InfoContext(ctx, "Model removed successfully",
		slog.String("model_name", model.Name),
		slog.Int("model_id", model.Id),
	)

	return tx.Commit()
}
