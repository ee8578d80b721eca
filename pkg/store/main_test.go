package store

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/CTAG07/anomark/pkg/markov"
	_ "modernc.org/sqlite"
)

// setupTestDB creates a new SQLite database in a temporary directory and a
// Store for testing. It uses t.Cleanup to ensure resources are released.
func setupTestDB(t *testing.T) (*sql.DB, *Store) {
	dbFile := filepath.Join(t.TempDir(), "test.db")
	db, err := sql.Open("sqlite", dbFile)
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	if err := SetupSchema(db); err != nil {
		t.Fatalf("failed to set up schema: %v", err)
	}

	s, err := New(db)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(s.Close)

	return db, s
}

// setupTestDBWithModel also stores a small trained model of order 2.
func setupTestDBWithModel(t *testing.T) (context.Context, *Store, ModelInfo, *markov.Model) {
	_, s := setupTestDB(t)
	ctx := context.Background()

	info, err := s.EnsureModel(ctx, "test_model", 2)
	if err != nil {
		t.Fatalf("setup: EnsureModel() failed: %v", err)
	}

	m := markov.New(2)
	m.Train(markov.Pad("cmd.exe /c whoami", 2, markov.DefaultPadding, true), 3)
	m.TrainString(markov.Pad("cmd.exe /c dir", 2, markov.DefaultPadding, true))
	if err = s.Save(ctx, info, m); err != nil {
		t.Fatalf("setup: Save() failed: %v", err)
	}
	return ctx, s, info, m
}
