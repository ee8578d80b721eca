// Package pipeline wires ingestion, redaction, training and scoring into
// the train and apply workflows.
package pipeline

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"runtime"
	"strconv"
	"sync"
	"time"

	"github.com/CTAG07/anomark/pkg/ingest"
	"github.com/CTAG07/anomark/pkg/markov"
	"github.com/CTAG07/anomark/pkg/placeholder"
	"github.com/dustin/go-humanize"
)

// DefaultScoreColumn is the name of the column holding scores in results.
const DefaultScoreColumn = "markovScore"

// Handler runs training and scoring over tables.
type Handler struct {
	padding  rune
	workers  int
	replacer *placeholder.Replacer
	logger   *slog.Logger
}

// Option Is a function that configures a Handler.
type Option func(*Handler)

// WithPadding sets the marker used to pad records.
// Default: markov.DefaultPadding
func WithPadding(marker rune) Option {
	return func(h *Handler) {
		h.padding = marker
	}
}

// WithWorkers sets how many goroutines train and score.
// Default: runtime.NumCPU()
func WithWorkers(workers int) Option {
	return func(h *Handler) {
		if workers > 0 {
			h.workers = workers
		}
	}
}

// WithReplacer enables placeholder redaction of every record before it is
// trained on or scored.
func WithReplacer(r *placeholder.Replacer) Option {
	return func(h *Handler) {
		h.replacer = r
	}
}

// WithLogger sets the logger. By default, all logs are discarded.
func WithLogger(logger *slog.Logger) Option {
	return func(h *Handler) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// New creates a Handler.
func New(opts ...Option) *Handler {
	h := &Handler{
		padding: markov.DefaultPadding,
		workers: runtime.NumCPU(),
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Padding returns the marker records are padded with.
func (h *Handler) Padding() rune {
	return h.padding
}

// Redact applies the configured placeholder replacement to s.
func (h *Handler) Redact(s string) string {
	if h.replacer == nil {
		return s
	}
	return h.replacer.Replace(s)
}

// TrainTable trains m on column of t, weighting every record by
// countColumn when it is not empty. Records are padded on both sides so the
// start and the end of a record are learnt. It returns the number of
// records trained on.
func (h *Handler) TrainTable(ctx context.Context, m *markov.Model, t *ingest.Table, column, countColumn string) (int, error) {
	samples, err := ingest.Samples(t, column, countColumn)
	if err != nil {
		return 0, err
	}
	for i := range samples {
		samples[i].Text = markov.Pad(h.Redact(samples[i].Text), m.Order(), h.padding, true)
	}

	start := time.Now()
	trained, err := markov.TrainParallel(ctx, m.Order(), samples, h.workers)
	if err != nil {
		return 0, err
	}
	if err = m.Merge(trained); err != nil {
		return 0, err
	}

	stats := m.Stats()
	h.logger.InfoContext(ctx, "Training completed",
		slog.String("records", humanize.Comma(int64(len(samples)))),
		slog.String("transitions", humanize.Comma(int64(stats.Transitions))),
		slog.String("total_weight", humanize.FormatFloat("#,###.##", stats.TotalWeight)),
		slog.Duration("elapsed", time.Since(start)),
	)
	return len(samples), nil
}

// TrainText trains m on text as one raw sequence, without padding.
func (h *Handler) TrainText(m *markov.Model, text string) {
	start := time.Now()
	text = h.Redact(text)
	m.TrainString(text)
	h.logger.Info("Training completed",
		slog.String("size", humanize.Bytes(uint64(len(text)))),
		slog.Duration("elapsed", time.Since(start)),
	)
}

// ScoreTable returns the score of every record of column. Records are padded
// with Order() markers in front only.
func (h *Handler) ScoreTable(ctx context.Context, scorer *markov.Scorer, t *ingest.Table, column string) ([]float64, error) {
	values, err := t.Column(column)
	if err != nil {
		return nil, err
	}

	scores := make([]float64, len(values))
	workers := max(1, min(h.workers, len(values)))
	shard := (len(values) + workers - 1) / workers

	var wg sync.WaitGroup
	errs := make([]error, workers)
	for w := 0; w < workers; w++ {
		lo, hi := w*shard, min((w+1)*shard, len(values))
		if lo >= hi {
			continue
		}
		wg.Add(1)
		go func(w, lo, hi int) {
			defer wg.Done()
			for i := lo; i < hi; i++ {
				if (i-lo)%1024 == 0 {
					if err := ctx.Err(); err != nil {
						errs[w] = err
						return
					}
				}
				scores[i] = scorer.LogLikelihood(markov.Pad(values[i], scorer.Order(), h.padding, false))
			}
		}(w, lo, hi)
	}
	wg.Wait()
	for _, err := range errs {
		if err != nil {
			return nil, err
		}
	}
	return scores, nil
}

// Apply redacts column of t in place when a replacer is configured, scores
// every record and groups the results by record.
func (h *Handler) Apply(ctx context.Context, scorer *markov.Scorer, t *ingest.Table, column, scoreColumn string) (*ingest.Grouped, error) {
	if h.replacer != nil {
		values, err := t.Column(column)
		if err != nil {
			return nil, err
		}
		for i, v := range values {
			values[i] = h.replacer.Replace(v)
		}
		if err = t.SetColumn(column, values); err != nil {
			return nil, err
		}
	}

	start := time.Now()
	scores, err := h.ScoreTable(ctx, scorer, t, column)
	if err != nil {
		return nil, err
	}
	grouped, err := ingest.GroupScores(t, column, scoreColumn, scores)
	if err != nil {
		return nil, err
	}

	h.logger.InfoContext(ctx, "Scoring completed",
		slog.String("records", humanize.Comma(int64(len(scores)))),
		slog.String("distinct", humanize.Comma(int64(len(grouped.Groups)))),
		slog.Duration("elapsed", time.Since(start)),
	)
	return grouped, nil
}

// ModelFileName returns the default file name of a model trained at now.
func ModelFileName(now time.Time, order int) string {
	return now.Format("20060102_15h04_") + "modelLetters_" + strconv.Itoa(order) + "grams.json"
}

// ResultFileName returns the default file name of results produced at now.
func ResultFileName(now time.Time) string {
	return now.Format("20060102_15h04_") + "export.csv"
}

// ThresholdFor returns the anomaly threshold of scorer at percent, rejecting
// percentages outside (0, 100].
func ThresholdFor(scorer *markov.Scorer, percent float64) (float64, error) {
	if !(percent > 0 && percent <= 100) {
		return 0, fmt.Errorf("threshold percentage %v out of range (0, 100]", percent)
	}
	return scorer.Threshold(percent), nil
}
