package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sort"
	"unicode/utf8"

	"github.com/CTAG07/anomark/pkg/markov"
)

const (
	insertTransitionQuery = `INSERT INTO anomark_transitions (model_id, context, symbol, weight) VALUES (?, ?, ?, ?)
		ON CONFLICT(model_id, context, symbol) DO UPDATE SET weight = weight + excluded.weight;`
	insertSymbolQuery = `INSERT OR IGNORE INTO anomark_alphabet (model_id, symbol) VALUES (?, ?);`
)

// Save replaces everything stored for model with the counts and alphabet of
// m. The write happens in a single transaction.
func (s *Store) Save(ctx context.Context, model ModelInfo, m *markov.Model) error {
	return s.write(ctx, model, m, true)
}

// Append merges the counts of m into the stored model, adding weights of
// transitions that are already present. This is how training is resumed.
func (s *Store) Append(ctx context.Context, model ModelInfo, m *markov.Model) error {
	return s.write(ctx, model, m, false)
}

func (s *Store) write(ctx context.Context, model ModelInfo, m *markov.Model, replace bool) error {
	if m.Order() != model.Order {
		return fmt.Errorf("%w: stored model '%s' has order %d, got %d", markov.ErrOrderMismatch, model.Name, model.Order, m.Order())
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func(tx *sql.Tx) {
		_ = tx.Rollback()
	}(tx)

	if replace {
		if _, err = tx.ExecContext(ctx, "DELETE FROM anomark_transitions WHERE model_id = ?", model.Id); err != nil {
			return fmt.Errorf("failed to clear transitions for model %d: %w", model.Id, err)
		}
		if _, err = tx.ExecContext(ctx, "DELETE FROM anomark_alphabet WHERE model_id = ?", model.Id); err != nil {
			return fmt.Errorf("failed to clear alphabet for model %d: %w", model.Id, err)
		}
	}

	stmtTransition, err := tx.PrepareContext(ctx, insertTransitionQuery)
	if err != nil {
		return fmt.Errorf("failed to prepare transition insert statement: %w", err)
	}
	defer func(stmt *sql.Stmt) {
		_ = stmt.Close()
	}(stmtTransition)

	stmtSymbol, err := tx.PrepareContext(ctx, insertSymbolQuery)
	if err != nil {
		return fmt.Errorf("failed to prepare alphabet insert statement: %w", err)
	}
	defer func(stmt *sql.Stmt) {
		_ = stmt.Close()
	}(stmtSymbol)

	transitions := m.Transitions()
	contexts := make([]string, 0, len(transitions))
	for prefix := range transitions {
		contexts = append(contexts, prefix)
	}
	sort.Strings(contexts)

	var written int
	for _, prefix := range contexts {
		for symbol, weight := range transitions[prefix] {
			if _, err = stmtTransition.ExecContext(ctx, model.Id, prefix, string(symbol), weight); err != nil {
				return fmt.Errorf("failed to insert transition (%q -> %q): %w", prefix, symbol, err)
			}
			written++
		}
	}

	alphabet := m.Alphabet()
	for _, symbol := range alphabet {
		if _, err = stmtSymbol.ExecContext(ctx, model.Id, string(symbol)); err != nil {
			return fmt.Errorf("failed to insert alphabet symbol %q: %w", symbol, err)
		}
	}

	s.logger.InfoContext(ctx, "Model written",
		slog.String("model_name", model.Name),
		slog.Int("model_id", model.Id),
		slog.Bool("replace", replace),
		slog.Int("transitions_written", written),
		slog.Int("alphabet_size", len(alphabet)),
	)

	return tx.Commit()
}

// Load reads a stored model back into memory. The options are passed to
// markov.New.
func (s *Store) Load(ctx context.Context, model ModelInfo, opts ...markov.Option) (*markov.Model, error) {
	m := markov.New(model.Order, opts...)

	rows, err := s.db.QueryContext(ctx, "SELECT context, symbol, weight FROM anomark_transitions WHERE model_id = ?", model.Id)
	if err != nil {
		return nil, fmt.Errorf("could not query transitions for model %d: %w", model.Id, err)
	}
	defer func(rows *sql.Rows) {
		_ = rows.Close()
	}(rows)

	var loaded int
	for rows.Next() {
		var prefix, symbol string
		var weight float64
		if err = rows.Scan(&prefix, &symbol, &weight); err != nil {
			return nil, err
		}
		next, err := decodeSymbol(symbol)
		if err != nil {
			return nil, err
		}
		if err = m.Observe(prefix, next, weight); err != nil {
			return nil, fmt.Errorf("corrupt transition in model '%s': %w", model.Name, err)
		}
		loaded++
	}
	if err = rows.Err(); err != nil {
		return nil, err
	}

	aRows, err := s.db.QueryContext(ctx, "SELECT symbol FROM anomark_alphabet WHERE model_id = ?", model.Id)
	if err != nil {
		return nil, fmt.Errorf("could not query alphabet for model %d: %w", model.Id, err)
	}
	defer func(rows *sql.Rows) {
		_ = rows.Close()
	}(aRows)

	for aRows.Next() {
		var symbol string
		if err = aRows.Scan(&symbol); err != nil {
			return nil, err
		}
		r, err := decodeSymbol(symbol)
		if err != nil {
			return nil, err
		}
		m.ExtendAlphabet(r)
	}
	if err = aRows.Err(); err != nil {
		return nil, err
	}

	s.logger.DebugContext(ctx, "Model loaded",
		slog.String("model_name", model.Name),
		slog.Int("model_id", model.Id),
		slog.Int("transitions_loaded", loaded),
	)
	return m, nil
}

func decodeSymbol(symbol string) (rune, error) {
	r, size := utf8.DecodeRuneInString(symbol)
	if size == 0 || size != len(symbol) || (r == utf8.RuneError && size == 1) {
		return 0, fmt.Errorf("%w: stored symbol %q is not a single character", markov.ErrInvalidModel, symbol)
	}
	return r, nil
}
