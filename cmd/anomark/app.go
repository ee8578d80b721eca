package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/CTAG07/anomark/pkg/markov"
	"github.com/CTAG07/anomark/pkg/pipeline"
	"github.com/CTAG07/anomark/pkg/placeholder"
	"github.com/CTAG07/anomark/pkg/store"
)

// storeScheme prefixes model references that name a model of the SQLite
// store instead of a JSON file.
const storeScheme = "store:"

// app holds what every command needs: the configuration, the logger and,
// once opened, the model store.
type app struct {
	config *Config
	logger *slog.Logger
	db     *sql.DB
	store  *store.Store
}

// newApp loads the configuration at configPath and builds the logger it
// describes.
func newApp(configPath string) (*app, error) {
	config, err := LoadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return &app{
		config: config,
		logger: newLogger(os.Stderr, config.Server.LogLevel, config.Server.LogFormat),
	}, nil
}

// Store opens the model store on first use.
func (a *app) Store() (*store.Store, error) {
	if a.store != nil {
		return a.store, nil
	}

	dsn := a.config.Store.DatabasePath
	if dir := filepath.Dir(databaseFile(dsn)); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	db, err := initDB(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	if err = store.SetupSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to setup model schema: %w", err)
	}
	if err = setupAuthSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to setup auth schema: %w", err)
	}
	s, err := store.New(db)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create model store: %w", err)
	}
	s.SetLogger(a.logger)

	a.db, a.store = db, s
	return s, nil
}

// Close releases the store, if it was opened.
func (a *app) Close() {
	if a.store != nil {
		a.store.Close()
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.logger.Error("Failed to close database", "error", err)
		}
	}
}

// databaseFile strips the URI prefix and query parameters from a SQLite
// data source name.
func databaseFile(dsn string) string {
	dsn = strings.TrimPrefix(dsn, "file:")
	if i := strings.IndexByte(dsn, '?'); i >= 0 {
		dsn = dsn[:i]
	}
	return dsn
}

// handler builds a pipeline handler from the scoring config.
func (a *app) handler(placeholders, filepaths bool) *pipeline.Handler {
	return newHandler(a.config, a.logger, placeholders, filepaths)
}

// newHandler builds a pipeline handler. Filepath redaction only applies
// together with the other placeholders.
func newHandler(config *Config, logger *slog.Logger, placeholders, filepaths bool) *pipeline.Handler {
	opts := []pipeline.Option{
		pipeline.WithPadding(config.Scoring.PaddingMarker()),
		pipeline.WithWorkers(config.Scoring.Workers),
		pipeline.WithLogger(logger),
	}
	if placeholders {
		var popts []placeholder.Option
		if filepaths {
			popts = append(popts, placeholder.WithFilepath())
		}
		opts = append(opts, pipeline.WithReplacer(placeholder.New(popts...)))
	}
	return pipeline.New(opts...)
}

// loadModel resolves ref, either a JSON file or "store:<name>".
func (a *app) loadModel(ctx context.Context, ref string) (*markov.Model, error) {
	if name, ok := strings.CutPrefix(ref, storeScheme); ok {
		s, err := a.Store()
		if err != nil {
			return nil, err
		}
		info, err := s.ModelInfo(ctx, name)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, fmt.Errorf("model '%s' not found in store", name)
			}
			return nil, err
		}
		return s.Load(ctx, info, markov.WithLogger(a.logger))
	}
	return store.ReadFile(ref, markov.WithLogger(a.logger))
}

// saveModel writes m to ref and returns where it went. An empty ref writes
// a timestamped file to the models directory.
func (a *app) saveModel(ctx context.Context, ref string, m *markov.Model) (string, error) {
	if name, ok := strings.CutPrefix(ref, storeScheme); ok {
		s, err := a.Store()
		if err != nil {
			return "", err
		}
		info, err := s.EnsureModel(ctx, name, m.Order())
		if err != nil {
			return "", err
		}
		return ref, s.Save(ctx, info, m)
	}

	if ref == "" {
		if err := os.MkdirAll(a.config.Scoring.ModelsDir, 0o755); err != nil {
			return "", fmt.Errorf("failed to create models directory: %w", err)
		}
		ref = filepath.Join(a.config.Scoring.ModelsDir, pipeline.ModelFileName(time.Now(), m.Order()))
	}
	return ref, store.WriteFile(ref, m)
}

// startModel returns the model a training run starts from: the model at ref
// when resuming, an empty one of the given order otherwise.
func (a *app) startModel(ctx context.Context, resume bool, ref string, order int) (*markov.Model, error) {
	if resume {
		if ref == "" {
			return nil, errors.New("you did not provide the model to resume with -m")
		}
		return a.loadModel(ctx, ref)
	}
	if order < 1 {
		return nil, fmt.Errorf("order must be a positive integer, got %d", order)
	}
	return markov.New(order, markov.WithLogger(a.logger)), nil
}
