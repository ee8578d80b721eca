package store

import (
	"database/sql"
	"fmt"
	"io"
	"log/slog"
)

// SetupSchema initializes the tables used to persist models in the provided
// database. It is idempotent and safe to call on an already-initialized
// database.
func SetupSchema(db *sql.DB) error {

	const (
		schemaModels = `
CREATE TABLE IF NOT EXISTS anomark_models (
    model_id INTEGER PRIMARY KEY,
    model_name TEXT NOT NULL UNIQUE,
    model_order INTEGER NOT NULL
);
`
		schemaTransitions = `
CREATE TABLE IF NOT EXISTS anomark_transitions (
    model_id INTEGER NOT NULL,
    context TEXT NOT NULL,
    symbol TEXT NOT NULL,
    weight REAL NOT NULL,
    PRIMARY KEY (model_id, context, symbol)
);
`
		schemaAlphabet = `
CREATE TABLE IF NOT EXISTS anomark_alphabet (
    model_id INTEGER NOT NULL,
    symbol TEXT NOT NULL,
    PRIMARY KEY (model_id, symbol)
);
`
	)

	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("could not begin transaction: %w", err)
	}
	defer func(tx *sql.Tx) {
		_ = tx.Rollback()
	}(tx)

	if _, err = tx.Exec(schemaModels); err != nil {
		return fmt.Errorf("could not create models schema: %w", err)
	}
	if _, err = tx.Exec(schemaTransitions); err != nil {
		return fmt.Errorf("could not create transitions schema: %w", err)
	}
	if _, err = tx.Exec(schemaAlphabet); err != nil {
		return fmt.Errorf("could not create alphabet schema: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("could not commit transaction: %w", err)
	}
	return nil
}

// Store persists markov models in a SQL database. It holds the connection
// and the prepared statements used for model bookkeeping.
type Store struct {
	db                   *sql.DB
	stmtGetModelInfo     *sql.Stmt
	stmtGetModels        *sql.Stmt
	stmtAddModel         *sql.Stmt
	stmtPruneModel       *sql.Stmt
	stmtModelContexts    *sql.Stmt
	stmtModelTransitions *sql.Stmt
	stmtModelWeight      *sql.Stmt
	stmtModelAlphabet    *sql.Stmt
	logger               *slog.Logger
}

// New creates a Store over db, whose schema must already be set up with
// SetupSchema. It returns an error if any statement fails to prepare.
func New(db *sql.DB) (*Store, error) {
	stmtGetModelInfo, err := db.Prepare(`SELECT model_id, model_order FROM anomark_models WHERE model_name = ?;`)
	if err != nil {
		return nil, err
	}

	stmtGetModels, err := db.Prepare(`SELECT model_id, model_name, model_order FROM anomark_models;`)
	if err != nil {
		return nil, err
	}

	stmtAddModel, err := db.Prepare(`INSERT INTO anomark_models (model_name, model_order) VALUES (?, ?);`)
	if err != nil {
		return nil, err
	}

	stmtPruneModel, err := db.Prepare(`DELETE FROM anomark_transitions WHERE model_id = ? AND weight <= ?;`)
	if err != nil {
		return nil, err
	}

	stmtModelContexts, err := db.Prepare(`SELECT COUNT(DISTINCT context) FROM anomark_transitions WHERE model_id = ?;`)
	if err != nil {
		return nil, err
	}

	stmtModelTransitions, err := db.Prepare(`SELECT COUNT(*) FROM anomark_transitions WHERE model_id = ?;`)
	if err != nil {
		return nil, err
	}

	stmtModelWeight, err := db.Prepare(`SELECT coalesce(SUM(weight), 0) FROM anomark_transitions WHERE model_id = ?;`)
	if err != nil {
		return nil, err
	}

	stmtModelAlphabet, err := db.Prepare(`SELECT COUNT(*) FROM anomark_alphabet WHERE model_id = ?;`)
	if err != nil {
		return nil, err
	}

	return &Store{
		db:                   db,
		stmtGetModelInfo:     stmtGetModelInfo,
		stmtGetModels:        stmtGetModels,
		stmtAddModel:         stmtAddModel,
		stmtPruneModel:       stmtPruneModel,
		stmtModelContexts:    stmtModelContexts,
		stmtModelTransitions: stmtModelTransitions,
		stmtModelWeight:      stmtModelWeight,
		stmtModelAlphabet:    stmtModelAlphabet,
		logger:               slog.New(slog.NewTextHandler(io.Discard, nil)),
	}, nil
}

// Close releases the prepared statements held by the Store. The database
// itself is left open.
func (s *Store) Close() {
	_ = s.stmtGetModelInfo.Close()
	_ = s.stmtGetModels.Close()
	_ = s.stmtAddModel.Close()
	_ = s.stmtPruneModel.Close()
	_ = s.stmtModelContexts.Close()
	_ = s.stmtModelTransitions.Close()
	_ = s.stmtModelWeight.Close()
	_ = s.stmtModelAlphabet.Close()
}

// SetLogger sets the logger for the Store. By default, all logs are discarded.
func (s *Store) SetLogger(logger *slog.Logger) {
	if logger != nil {
		s.logger = logger
	}
}
