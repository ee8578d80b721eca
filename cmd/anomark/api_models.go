package main

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/CTAG07/anomark/pkg/ingest"
	"github.com/CTAG07/anomark/pkg/markov"
	"github.com/CTAG07/anomark/pkg/store"
)

// ModelsAPI holds the dependencies for the /api/models handlers.
type ModelsAPI struct {
	config *Config
	store  *store.Store
	cache  *ScorerCache
	logger *slog.Logger
}

// ModelSummary describes a stored model and the size of its counts.
type ModelSummary struct {
	store.ModelInfo
	Contexts     int     `json:"contexts"`
	Transitions  int     `json:"transitions"`
	AlphabetSize int     `json:"alphabet_size"`
	TotalWeight  float64 `json:"total_weight"`
}

// ModelDetail adds the scoring parameters of a trained model to its summary.
// Prior and Threshold are absent while the model is untrained.
type ModelDetail struct {
	ModelSummary
	Prior            *float64 `json:"prior,omitempty"`
	Threshold        *float64 `json:"threshold,omitempty"`
	ThresholdPercent float64  `json:"threshold_percent"`
}

// CreateModelRequest is the expected JSON body for creating an empty model.
type CreateModelRequest struct {
	Name  string `json:"name"`
	Order int    `json:"order"`
}

// PruneRequest is the expected JSON body for pruning a model.
type PruneRequest struct {
	MinWeight float64 `json:"min_weight"`
}

func NewModelsAPI(config *Config, s *store.Store, cache *ScorerCache, logger *slog.Logger) *ModelsAPI {
	return &ModelsAPI{
		config: config,
		store:  s,
		cache:  cache,
		logger: logger,
	}
}

// RegisterRoutes sets up the routing for all /api/models endpoints.
func (m *ModelsAPI) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/models", m.handleModels)
	mux.HandleFunc("/api/models/", m.handleModelByName)
}

func summarize(info store.ModelInfo, stats markov.ModelStats) ModelSummary {
	return ModelSummary{
		ModelInfo:    info,
		Contexts:     stats.Contexts,
		Transitions:  stats.Transitions,
		AlphabetSize: stats.AlphabetSize,
		TotalWeight:  stats.TotalWeight,
	}
}

// handleModels lists stored models or creates an empty one.
func (m *ModelsAPI) handleModels(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		if !requireScope(w, r, scopeModelsRead) {
			return
		}
		dbStats, err := m.store.GetStats(r.Context())
		if err != nil {
			m.logger.Error("Failed to get model statistics", "error", err)
			respondWithError(w, http.StatusInternalServerError, fmt.Sprintf("Database error: %v", err))
			return
		}
		summaries := make([]ModelSummary, 0, len(dbStats.Models))
		for _, info := range dbStats.Models {
			summaries = append(summaries, summarize(info, dbStats.Stats[info.Id]))
		}
		respondWithJSON(w, http.StatusOK, summaries)

	case http.MethodPost:
		if !requireScope(w, r, scopeModelsWrite) {
			return
		}
		var req CreateModelRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondWithError(w, http.StatusBadRequest, "Invalid JSON request body")
			return
		}
		if req.Name == "" || req.Order <= 0 || strings.Contains(req.Name, "/") {
			respondWithError(w, http.StatusBadRequest, "Model name (without '/') and a positive order are required")
			return
		}
		if _, err := m.store.ModelInfo(r.Context(), req.Name); err == nil {
			respondWithError(w, http.StatusConflict, "Model already exists")
			return
		}
		if err := m.store.InsertModel(r.Context(), store.ModelInfo{Name: req.Name, Order: req.Order}); err != nil {
			m.logger.Error("Failed to insert new model", "name", req.Name, "error", err)
			respondWithError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to create model: %v", err))
			return
		}
		info, err := m.store.ModelInfo(r.Context(), req.Name)
		if err != nil {
			m.logger.Error("Failed to retrieve newly created model", "name", req.Name, "error", err)
			respondWithError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to verify model creation: %v", err))
			return
		}
		respondWithJSON(w, http.StatusCreated, info)

	default:
		w.Header().Set("Allow", "GET, POST")
		respondWithError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

// handleModelByName routes actions for a specific model, e.g. train, prune,
// export, import, delete.
func (m *ModelsAPI) handleModelByName(w http.ResponseWriter, r *http.Request) {
	parts := strings.Split(strings.TrimPrefix(r.URL.Path, "/api/models/"), "/")
	name := parts[0]
	if name == "" {
		respondWithError(w, http.StatusBadRequest, "Model name not specified")
		return
	}

	// These may create the model.
	if len(parts) == 2 {
		switch parts[1] {
		case "import":
			m.handleImport(w, r, name)
			return
		case "train":
			m.handleTrain(w, r, name)
			return
		}
	}

	info, err := m.store.ModelInfo(r.Context(), name)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			respondWithError(w, http.StatusNotFound, "Model not found")
			return
		}
		m.logger.Error("Failed to get model info by name", "name", name, "error", err)
		respondWithError(w, http.StatusInternalServerError, fmt.Sprintf("Database error: %v", err))
		return
	}

	if len(parts) == 1 {
		switch r.Method {
		case http.MethodGet:
			m.handleDetail(w, r, info)
		case http.MethodDelete:
			if !requireScope(w, r, scopeModelsWrite) {
				return
			}
			if err = m.store.RemoveModel(r.Context(), info); err != nil {
				m.logger.Error("Failed to remove model", "name", name, "error", err)
				respondWithError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to remove model: %v", err))
				return
			}
			m.cache.Invalidate(name)
			w.WriteHeader(http.StatusNoContent)
		default:
			w.Header().Set("Allow", "GET, DELETE")
			respondWithError(w, http.StatusMethodNotAllowed, "Method not allowed")
		}
		return
	}

	switch parts[1] {
	case "prune":
		if r.Method != http.MethodPost {
			w.Header().Set("Allow", "POST")
			respondWithError(w, http.StatusMethodNotAllowed, "Method not allowed")
			return
		}
		if !requireScope(w, r, scopeModelsWrite) {
			return
		}
		var req PruneRequest
		if err = json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondWithError(w, http.StatusBadRequest, "Invalid JSON request body")
			return
		}
		removed, err := m.store.PruneModel(r.Context(), info, req.MinWeight)
		if err != nil {
			m.logger.Error("Failed to prune model", "name", name, "error", err)
			respondWithError(w, http.StatusInternalServerError, fmt.Sprintf("Pruning failed: %v", err))
			return
		}
		m.cache.Invalidate(name)
		respondWithJSON(w, http.StatusOK, map[string]int64{"removed": removed})

	case "export":
		if r.Method != http.MethodGet {
			w.Header().Set("Allow", "GET")
			respondWithError(w, http.StatusMethodNotAllowed, "Method not allowed")
			return
		}
		if !requireScope(w, r, scopeModelsRead) {
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=\"%s.json\"", name))
		if err = m.store.ExportModel(r.Context(), info, w); err != nil {
			m.logger.Error("Failed to export model", "name", name, "error", err)
		}

	default:
		respondWithError(w, http.StatusNotFound, "Action not found")
	}
}

// handleDetail returns the statistics of a model and, once trained, its
// prior and anomaly threshold.
func (m *ModelsAPI) handleDetail(w http.ResponseWriter, r *http.Request, info store.ModelInfo) {
	if !requireScope(w, r, scopeModelsRead) {
		return
	}
	stats, err := m.store.ModelStats(r.Context(), info)
	if err != nil {
		m.logger.Error("Failed to get model statistics", "name", info.Name, "error", err)
		respondWithError(w, http.StatusInternalServerError, fmt.Sprintf("Database error: %v", err))
		return
	}

	percent := m.config.Scoring.ThresholdPercent
	detail := ModelDetail{ModelSummary: summarize(info, stats), ThresholdPercent: percent}

	scorer, _, err := m.cache.Get(r.Context(), info.Name)
	switch {
	case err == nil:
		prior, threshold := scorer.Prior(), scorer.Threshold(percent)
		detail.Prior, detail.Threshold = &prior, &threshold
	case errors.Is(err, markov.ErrUntrainedModel):
	default:
		m.logger.Error("Failed to load model", "name", info.Name, "error", err)
		respondWithError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to load model: %v", err))
		return
	}
	respondWithJSON(w, http.StatusOK, detail)
}

// handleImport merges an uploaded JSON model into the named model.
func (m *ModelsAPI) handleImport(w http.ResponseWriter, r *http.Request, name string) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", "POST")
		respondWithError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	if !requireScope(w, r, scopeModelsWrite) {
		return
	}

	info, err := m.store.ImportModel(r.Context(), name, r.Body)
	if err != nil {
		if errors.Is(err, markov.ErrInvalidModel) || errors.Is(err, markov.ErrOrderMismatch) {
			respondWithError(w, http.StatusBadRequest, fmt.Sprintf("Import failed: %v", err))
			return
		}
		m.logger.Error("Failed to import model", "name", name, "error", err)
		respondWithError(w, http.StatusInternalServerError, fmt.Sprintf("Import failed: %v", err))
		return
	}
	m.cache.Invalidate(name)
	respondWithJSON(w, http.StatusOK, info)
}

// handleTrain trains the named model on newline-delimited JSON records. The
// "field" query parameter names the trained field, "count" an optional
// weight field and "order" the order of a model that does not exist yet.
func (m *ModelsAPI) handleTrain(w http.ResponseWriter, r *http.Request, name string) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", "POST")
		respondWithError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	if !requireScope(w, r, scopeModelsWrite) {
		return
	}

	query := r.URL.Query()
	field := query.Get("field")
	if field == "" {
		field = m.config.Scoring.Field
	}
	countField := query.Get("count")

	info, err := m.store.ModelInfo(r.Context(), name)
	if errors.Is(err, sql.ErrNoRows) {
		order, convErr := strconv.Atoi(query.Get("order"))
		if convErr != nil || order < 1 || strings.Contains(name, "/") {
			respondWithError(w, http.StatusBadRequest, "Model not found, a positive 'order' is required to create it")
			return
		}
		info, err = m.store.EnsureModel(r.Context(), name, order)
	}
	if err != nil {
		m.logger.Error("Failed to get model info by name", "name", name, "error", err)
		respondWithError(w, http.StatusInternalServerError, fmt.Sprintf("Database error: %v", err))
		return
	}

	table := &ingest.Table{Columns: []string{field}}
	if countField != "" {
		table.Columns = append(table.Columns, countField)
	}
	err = readRecords(r.Body, m.config.Server.MaxRecordBytes, func(line int, record map[string]any) error {
		text, ok := fieldText(record, field)
		if !ok {
			return nil
		}
		row := []string{text}
		if countField != "" {
			count, ok := fieldText(record, countField)
			if !ok {
				count = "1"
			}
			row = append(row, count)
		}
		table.Rows = append(table.Rows, row)
		return nil
	})
	if err != nil {
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}

	model := markov.New(info.Order, markov.WithLogger(m.logger))
	h := requestHandler(m.config, m.logger, r)
	trained, err := h.TrainTable(r.Context(), model, table, field, countField)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, fmt.Sprintf("Training failed: %v", err))
		return
	}
	if err = m.store.Append(r.Context(), info, model); err != nil {
		m.logger.Error("Failed to store trained model", "name", name, "error", err)
		respondWithError(w, http.StatusInternalServerError, fmt.Sprintf("Training failed: %v", err))
		return
	}
	m.cache.Invalidate(name)
	respondWithJSON(w, http.StatusAccepted, map[string]any{"model": info, "records": trained})
}
