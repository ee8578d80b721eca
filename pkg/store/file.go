package store

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/CTAG07/anomark/pkg/markov"
	"github.com/natefinch/atomic"
)

// WriteFile exports m as JSON to path. The file is replaced atomically, so a
// reader never observes a partially written model.
func WriteFile(path string, m *markov.Model) error {
	var buf bytes.Buffer
	if err := m.Export(&buf); err != nil {
		return fmt.Errorf("could not encode model: %w", err)
	}
	if err := atomic.WriteFile(path, &buf); err != nil {
		return fmt.Errorf("could not write model file %s: %w", path, err)
	}
	return nil
}

// ReadFile loads a model written by WriteFile.
func ReadFile(path string, opts ...markov.Option) (*markov.Model, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func(f *os.File) {
		_ = f.Close()
	}(f)

	m, err := markov.Import(f, opts...)
	if err != nil {
		return nil, fmt.Errorf("could not read model file %s: %w", path, err)
	}
	return m, nil
}

// ExportModel loads a stored model and writes it as JSON to w.
func (s *Store) ExportModel(ctx context.Context, model ModelInfo, w io.Writer) error {
	m, err := s.Load(ctx, model)
	if err != nil {
		return err
	}
	m.SetLogger(s.logger)
	return m.Export(w)
}

// ImportModel reads a JSON model from r and merges it into the stored model
// called name, creating it if needed. A model created by a failed import is
// removed again. Importing into an existing model of a different order fails
// with markov.ErrOrderMismatch.
func (s *Store) ImportModel(ctx context.Context, name string, r io.Reader) (ModelInfo, error) {
	m, err := markov.Import(r)
	if err != nil {
		return ModelInfo{}, err
	}

	_, err = s.ModelInfo(ctx, name)
	created := errors.Is(err, sql.ErrNoRows)
	if err != nil && !created {
		return ModelInfo{}, err
	}

	info, err := s.EnsureModel(ctx, name, m.Order())
	if err != nil {
		return ModelInfo{}, err
	}

	if err = s.Append(ctx, info, m); err != nil {
		if created {
			if rmErr := s.RemoveModel(ctx, info); rmErr != nil {
				s.logger.ErrorContext(ctx, "Failed to remove model after a failed import",
					slog.String("model_name", info.Name),
					slog.Any("error", rmErr),
				)
			}
		}
		return ModelInfo{}, err
	}

	s.logger.InfoContext(ctx, "Model imported successfully",
		slog.String("model_name", info.Name),
		slog.Int("target_model_id", info.Id),
	)
	return info, nil
}
