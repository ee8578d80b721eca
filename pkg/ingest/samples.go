package ingest

import (
	"fmt"
	"math"
	"strconv"

	"github.com/CTAG07/anomark/pkg/markov"
)

// Samples pairs every value of column with its weight, read from
// countColumn. Without a count column every weight is 1. Counts must be
// positive finite numbers. Texts are returned unpadded.
func Samples(t *Table, column, countColumn string) ([]markov.Sample, error) {
	texts, err := t.Column(column)
	if err != nil {
		return nil, err
	}

	var counts []string
	if countColumn != "" {
		if counts, err = t.Column(countColumn); err != nil {
			return nil, err
		}
	}

	samples := make([]markov.Sample, len(texts))
	for i, text := range texts {
		weight := 1.0
		if counts != nil {
			if weight, err = strconv.ParseFloat(counts[i], 64); err != nil {
				return nil, fmt.Errorf("row %d: invalid count %q in column %q: %w", i+1, counts[i], countColumn, err)
			}
			if !(weight > 0) || math.IsInf(weight, 0) {
				return nil, fmt.Errorf("row %d: %w: %q in column %q", i+1, ErrInvalidCount, counts[i], countColumn)
			}
		}
		samples[i] = markov.Sample{Text: text, Weight: weight}
	}
	return samples, nil
}
