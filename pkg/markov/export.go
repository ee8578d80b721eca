package markov

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"unicode/utf8"
)

// ExportedModel is the serializable representation of a model, used for
// JSON-based import and export. Prior is a cache of the derived prior and is
// ignored on import.
type ExportedModel struct {
	Order       int                           `json:"order"`
	Alphabet    []string                      `json:"alphabet"`
	Transitions map[string]map[string]float64 `json:"transitions"` // context -> next symbol -> weight
	Prior       float64                       `json:"prior,omitempty"`
}

// Exported returns the serializable form of the model.
func (m *Model) Exported() ExportedModel {
	counts := m.Transitions()
	alphabet := m.Alphabet()

	exported := ExportedModel{
		Order:       m.order,
		Alphabet:    make([]string, 0, len(alphabet)),
		Transitions: make(map[string]map[string]float64, len(counts)),
	}
	for _, s := range alphabet {
		exported.Alphabet = append(exported.Alphabet, string(s))
	}
	for context, row := range counts {
		out := make(map[string]float64, len(row))
		for next, w := range row {
			out[string(next)] = w
		}
		exported.Transitions[context] = out
	}
	if prior, err := m.Prior(); err == nil {
		exported.Prior = prior
	}
	return exported
}

// Export writes the model as indented JSON to w.
func (m *Model) Export(w io.Writer) error {
	exported := m.Exported()

	m.log().Info("Model exported",
		slog.Int("order", exported.Order),
		slog.Int("contexts_exported", len(exported.Transitions)),
		slog.Int("alphabet_size", len(exported.Alphabet)),
	)

	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(exported)
}

// FromExported builds a model from its serializable form.
func FromExported(exported ExportedModel, opts ...Option) (*Model, error) {
	if exported.Order <= 0 {
		return nil, fmt.Errorf("%w: order %d", ErrInvalidModel, exported.Order)
	}
	m := New(exported.Order, opts...)
	if err := m.mergeExported(exported); err != nil {
		return nil, err
	}
	return m, nil
}

// Import reads a JSON model written by Export.
func Import(r io.Reader, opts ...Option) (*Model, error) {
	var exported ExportedModel
	if err := json.NewDecoder(r).Decode(&exported); err != nil {
		return nil, fmt.Errorf("failed to decode json model: %w", err)
	}
	return FromExported(exported, opts...)
}

// ImportInto reads a JSON model and merges its counts into m. Weights of
// transitions present in both are added.
func (m *Model) ImportInto(r io.Reader) error {
	var exported ExportedModel
	if err := json.NewDecoder(r).Decode(&exported); err != nil {
		return fmt.Errorf("failed to decode json model: %w", err)
	}
	if exported.Order != m.order {
		return fmt.Errorf("%w: %d and %d", ErrOrderMismatch, m.order, exported.Order)
	}
	return m.mergeExported(exported)
}

// mergeExported validates the whole of exported before touching m, so a
// malformed document leaves the model unchanged.
func (m *Model) mergeExported(exported ExportedModel) error {
	alphabet := make([]rune, 0, len(exported.Alphabet))
	for _, s := range exported.Alphabet {
		r, err := singleRune(s)
		if err != nil {
			return err
		}
		alphabet = append(alphabet, r)
	}

	staged := New(m.order)
	for context, row := range exported.Transitions {
		for next, w := range row {
			r, err := singleRune(next)
			if err != nil {
				return err
			}
			if err = staged.Observe(context, r, w); err != nil {
				return err
			}
		}
	}
	staged.ExtendAlphabet(alphabet...)

	if err := m.Merge(staged); err != nil {
		return err
	}
	m.log().Info("Model imported",
		slog.Int("order", m.order),
		slog.Int("contexts_merged", len(exported.Transitions)),
	)
	return nil
}

var errNotSingleRune = errors.New("symbol must be exactly one character")

func singleRune(s string) (rune, error) {
	r, size := utf8.DecodeRuneInString(s)
	if size == 0 || size != len(s) || (r == utf8.RuneError && size == 1) {
		return 0, fmt.Errorf("%w: %q: %w", ErrInvalidModel, s, errNotSingleRune)
	}
	return r, nil
}
