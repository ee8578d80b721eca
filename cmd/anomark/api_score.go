package main

import (
	"bufio"
	"bytes"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/CTAG07/anomark/pkg/markov"
	"github.com/CTAG07/anomark/pkg/pipeline"
)

// Fields added to every scored record.
const (
	scoreField     = "markov_score"
	anomalousField = "anomalous"
)

// flushEvery is how many records are written between two flushes of a
// scoring response.
const flushEvery = 64

// ScoreAPI holds the dependencies for the streaming scoring endpoint.
type ScoreAPI struct {
	config  *Config
	cache   *ScorerCache
	metrics *Metrics
	logger  *slog.Logger
}

func NewScoreAPI(config *Config, cache *ScorerCache, metrics *Metrics, logger *slog.Logger) *ScoreAPI {
	return &ScoreAPI{
		config:  config,
		cache:   cache,
		metrics: metrics,
		logger:  logger,
	}
}

// RegisterRoutes sets up the routing for the /api/score endpoint.
func (s *ScoreAPI) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/score/", s.handleScore)
}

// handleScore scores newline-delimited JSON records against a stored model
// and streams them back with markov_score and anomalous added. The scored
// field is padded on both sides. Records without the field are passed
// through untouched.
func (s *ScoreAPI) handleScore(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", "POST")
		respondWithError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	if !requireScope(w, r, scopeScore) {
		return
	}

	name := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/api/score/"), "/")
	if name == "" || strings.Contains(name, "/") {
		respondWithError(w, http.StatusBadRequest, "Model name not specified")
		return
	}

	query := r.URL.Query()
	field := query.Get("field")
	if field == "" {
		field = s.config.Scoring.Field
	}
	percent := s.config.Scoring.ThresholdPercent
	if p := query.Get("percent"); p != "" {
		var err error
		if percent, err = strconv.ParseFloat(p, 64); err != nil {
			respondWithError(w, http.StatusBadRequest, "Invalid 'percent' parameter")
			return
		}
	}

	scorer, _, err := s.cache.Get(r.Context(), name)
	if err != nil {
		switch {
		case errors.Is(err, sql.ErrNoRows):
			respondWithError(w, http.StatusNotFound, "Model not found")
		case errors.Is(err, markov.ErrUntrainedModel):
			respondWithError(w, http.StatusConflict, "Model is not trained")
		default:
			s.logger.Error("Failed to load model", "name", name, "error", err)
			respondWithError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to load model: %v", err))
		}
		return
	}
	threshold, err := pipeline.ThresholdFor(scorer, percent)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}

	h := requestHandler(s.config, s.logger, r)
	marker, order := h.Padding(), scorer.Order()

	w.Header().Set("Content-Type", "application/x-ndjson")
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	rc := http.NewResponseController(w)

	var written, scored, anomalies int
	err = readRecords(r.Body, s.config.Server.MaxRecordBytes, func(line int, record map[string]any) error {
		if err := r.Context().Err(); err != nil {
			return err
		}
		if text, ok := fieldText(record, field); ok {
			score := scorer.LogLikelihood(markov.Pad(h.Redact(text), order, marker, true))
			anomalous := score < threshold
			record[scoreField] = score
			record[anomalousField] = anomalous
			s.metrics.Observe(name, score, anomalous)
			scored++
			if anomalous {
				anomalies++
			}
		}
		if err := enc.Encode(record); err != nil {
			return err
		}
		written++
		if written%flushEvery == 0 {
			_ = rc.Flush()
		}
		return nil
	})

	switch {
	case err != nil && written == 0:
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	case err != nil:
		s.logger.Warn("Scoring stream aborted", "model_name", name, "records_written", written, "error", err)
		_ = enc.Encode(map[string]string{"error": err.Error()})
	case written == 0:
		w.WriteHeader(http.StatusOK)
	}
	_ = rc.Flush()

	s.logger.Info("Records scored",
		slog.String("model_name", name),
		slog.String("request_id", requestID(r)),
		slog.Int("records_scored", scored),
		slog.Int("anomalies", anomalies),
		slog.Float64("threshold", threshold),
	)
}

// readRecords decodes newline-delimited JSON objects from r, calling fn for
// each one. Blank lines are skipped and numbers are kept as json.Number.
func readRecords(r io.Reader, maxBytes int, fn func(line int, record map[string]any) error) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, min(64*1024, maxBytes)), maxBytes)

	line := 0
	for scanner.Scan() {
		line++
		raw := bytes.TrimSpace(scanner.Bytes())
		if len(raw) == 0 {
			continue
		}
		dec := json.NewDecoder(bytes.NewReader(raw))
		dec.UseNumber()
		var record map[string]any
		if err := dec.Decode(&record); err != nil {
			return fmt.Errorf("line %d: invalid JSON record: %w", line, err)
		}
		if record == nil {
			return fmt.Errorf("line %d: record must be a JSON object", line)
		}
		if err := fn(line, record); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("line %d: %w", line+1, err)
	}
	return nil
}

// fieldText returns the text of field in record. Missing and null fields
// report false.
func fieldText(record map[string]any, field string) (string, bool) {
	v, ok := record[field]
	if !ok || v == nil {
		return "", false
	}
	switch v := v.(type) {
	case string:
		return v, true
	case json.Number:
		return v.String(), true
	case bool:
		return strconv.FormatBool(v), true
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return "", false
		}
		return string(b), true
	}
}

// requestHandler builds a pipeline handler for r. The "placeholder" and
// "filepath" query parameters turn on redaction.
func requestHandler(config *Config, logger *slog.Logger, r *http.Request) *pipeline.Handler {
	query := r.URL.Query()
	placeholders, _ := strconv.ParseBool(query.Get("placeholder"))
	filepaths, _ := strconv.ParseBool(query.Get("filepath"))
	return newHandler(config, logger, placeholders, filepaths)
}
