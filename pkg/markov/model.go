package markov

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"math/rand/v2"
	"slices"
	"sync"
)

var (
	// ErrUntrainedModel is returned when normalizing, scoring or sampling a
	// model that has not recorded a single transition.
	ErrUntrainedModel = errors.New("markov: model must be trained before use")
	// ErrOrderMismatch is returned when combining models of different orders.
	ErrOrderMismatch = errors.New("markov: model orders do not match")
	// ErrInvalidModel is returned when imported model data is malformed.
	ErrInvalidModel = errors.New("markov: invalid model data")
)

// State describes where a Model is in its lifecycle.
type State int

const (
	// StateAccumulating means the counts have changed since the last
	// normalization, or the model was never normalized.
	StateAccumulating State = iota
	// StateNormalized means a probability snapshot matching the current
	// counts is available.
	StateNormalized
)

func (s State) String() string {
	switch s {
	case StateAccumulating:
		return "accumulating"
	case StateNormalized:
		return "normalized"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Model is a character-level Markov chain of a fixed order.
//
// Training appends to a sparse table of context -> next symbol -> weight.
// The probability view is derived lazily from that table and dropped by any
// further training, so scores always reflect every count recorded so far.
//
// A Model may be scored from several goroutines at once, but training must
// not run concurrently with other operations.
type Model struct {
	order    int
	counts   map[string]map[rune]float64
	alphabet map[rune]struct{}

	mu   sync.RWMutex
	dist *distribution

	rngMu  sync.Mutex
	rng    *rand.Rand
	logger *slog.Logger
}

// Option configures a Model.
type Option func(*Model)

// WithRand sets the random source used by Simulate. Useful for reproducible
// output in tests.
func WithRand(r *rand.Rand) Option {
	return func(m *Model) {
		if r != nil {
			m.rng = r
		}
	}
}

// WithLogger sets the logger used by the model. By default logs are discarded.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Model) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// New creates an empty model whose contexts are order symbols long.
// order must be positive.
func New(order int, opts ...Option) *Model {
	m := &Model{
		order:    order,
		counts:   make(map[string]map[rune]float64),
		alphabet: make(map[rune]struct{}),
		rng:      rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())),
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// SetLogger replaces the model's logger. A nil logger is ignored.
func (m *Model) SetLogger(logger *slog.Logger) {
	if logger == nil {
		return
	}
	m.mu.Lock()
	m.logger = logger
	m.mu.Unlock()
}

// log returns the current logger for callers not holding m.mu.
func (m *Model) log() *slog.Logger {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.logger
}

// Order returns the length of the context window.
func (m *Model) Order() int {
	return m.order
}

// State reports whether the probability view is current.
func (m *Model) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.dist == nil {
		return StateAccumulating
	}
	return StateNormalized
}

// Train records every (context, next symbol) pair of sequence with the given
// weight. Sequences shorter than Order()+1 symbols contain no pair and are
// ignored, as are non-positive or non-finite weights.
func (m *Model) Train(sequence string, weight float64) {
	if !(weight > 0) || math.IsInf(weight, 1) {
		return
	}
	runes := []rune(sequence)
	if len(runes) < m.order+1 {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for i := 0; i+m.order < len(runes); i++ {
		m.addLocked(string(runes[i:i+m.order]), runes[i+m.order], weight)
	}
	m.dist = nil
}

// TrainString is Train with a weight of 1.
func (m *Model) TrainString(sequence string) {
	m.Train(sequence, 1)
}

// Observe adds weight to a single transition. It is the low-level
// counterpart of Train, used when rebuilding a model from stored counts.
func (m *Model) Observe(context string, next rune, weight float64) error {
	if n := len([]rune(context)); n != m.order {
		return fmt.Errorf("%w: context %q has %d symbols, want %d", ErrInvalidModel, context, n, m.order)
	}
	if !(weight > 0) || math.IsInf(weight, 1) {
		return fmt.Errorf("%w: weight %v for %q -> %q", ErrInvalidModel, weight, context, next)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.addLocked(context, next, weight)
	m.dist = nil
	return nil
}

// ExtendAlphabet adds symbols to the alphabet without recording transitions.
func (m *Model) ExtendAlphabet(symbols ...rune) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range symbols {
		m.alphabet[s] = struct{}{}
	}
	m.dist = nil
}

func (m *Model) addLocked(context string, next rune, weight float64) {
	row, ok := m.counts[context]
	if !ok {
		row = make(map[rune]float64)
		m.counts[context] = row
	}
	row[next] += weight
	m.alphabet[next] = struct{}{}
}

// Merge adds the counts and alphabet of other into m. Both models must have
// the same order.
func (m *Model) Merge(other *Model) error {
	if other.order != m.order {
		return fmt.Errorf("%w: %d and %d", ErrOrderMismatch, m.order, other.order)
	}
	counts := other.Transitions()
	alphabet := other.Alphabet()

	m.mu.Lock()
	defer m.mu.Unlock()
	for context, row := range counts {
		for next, weight := range row {
			m.addLocked(context, next, weight)
		}
	}
	for _, s := range alphabet {
		m.alphabet[s] = struct{}{}
	}
	m.dist = nil
	return nil
}

// Weight returns the accumulated weight of a single transition.
func (m *Model) Weight(context string, next rune) float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.counts[context][next]
}

// Transitions returns a copy of the raw transition table.
func (m *Model) Transitions() map[string]map[rune]float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]map[rune]float64, len(m.counts))
	for context, row := range m.counts {
		cp := make(map[rune]float64, len(row))
		for next, weight := range row {
			cp[next] = weight
		}
		out[context] = cp
	}
	return out
}

// Alphabet returns every symbol ever observed as a next symbol, sorted.
func (m *Model) Alphabet() []rune {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return sortedAlphabet(m.alphabet)
}

func sortedAlphabet(set map[rune]struct{}) []rune {
	out := make([]rune, 0, len(set))
	for s := range set {
		out = append(out, s)
	}
	slices.Sort(out)
	return out
}

// Trained reports whether at least one transition has been recorded.
func (m *Model) Trained() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.counts) > 0
}
