package markov

import (
	"log/slog"
	"math"
	"slices"
)

// priorFactor scales the smallest trained probability down to the prior, so
// every observed transition is at least 100 times likelier than an unseen one.
const priorFactor = 0.01

// candidate is one possible next symbol of a context.
type candidate struct {
	symbol rune
	p      float64
}

// distribution is an immutable probability view derived from the counts.
type distribution struct {
	order    int
	probs    map[string]map[rune]float64
	prior    float64
	logPrior float64

	// Sorted copies used for sampling, so a seeded source gives the same walk.
	contexts   []string
	candidates map[string][]candidate
	alphabet   []rune
}

// buildDistribution derives per-context probabilities and the prior from raw
// counts. Weights are summed in symbol order so the result does not depend on
// map iteration order.
func buildDistribution(order int, counts map[string]map[rune]float64, alphabet map[rune]struct{}) (*distribution, error) {
	if len(counts) == 0 {
		return nil, ErrUntrainedModel
	}

	d := &distribution{
		order:      order,
		probs:      make(map[string]map[rune]float64, len(counts)),
		contexts:   make([]string, 0, len(counts)),
		candidates: make(map[string][]candidate, len(counts)),
		alphabet:   sortedAlphabet(alphabet),
	}

	minP := math.Inf(1)
	symbols := make([]rune, 0, 8)
	for context, row := range counts {
		symbols = symbols[:0]
		for s := range row {
			symbols = append(symbols, s)
		}
		slices.Sort(symbols)

		var total float64
		for _, s := range symbols {
			total += row[s]
		}

		probs := make(map[rune]float64, len(row))
		cands := make([]candidate, 0, len(row))
		for _, s := range symbols {
			p := row[s] / total
			probs[s] = p
			cands = append(cands, candidate{symbol: s, p: p})
			if p < minP {
				minP = p
			}
		}
		d.probs[context] = probs
		d.candidates[context] = cands
		d.contexts = append(d.contexts, context)
	}
	slices.Sort(d.contexts)

	d.prior = priorFactor * minP
	d.logPrior = math.Log(d.prior)
	return d, nil
}

// Normalize derives the probability view from the current counts. It is
// called implicitly by scoring and sampling, and calling it again without
// further training is a no-op.
func (m *Model) Normalize() error {
	_, err := m.distribution()
	return err
}

// distribution returns the current probability view, building it if the
// counts changed since it was last derived.
func (m *Model) distribution() (*distribution, error) {
	m.mu.RLock()
	d := m.dist
	m.mu.RUnlock()
	if d != nil {
		return d, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.dist != nil {
		return m.dist, nil
	}
	d, err := buildDistribution(m.order, m.counts, m.alphabet)
	if err != nil {
		return nil, err
	}
	m.dist = d
	m.logger.Debug("Model normalized",
		slog.Int("order", m.order),
		slog.Int("contexts", len(d.contexts)),
		slog.Int("alphabet_size", len(d.alphabet)),
		slog.Float64("prior", d.prior),
	)
	return d, nil
}

// Prior returns the probability assigned to unseen transitions.
func (m *Model) Prior() (float64, error) {
	d, err := m.distribution()
	if err != nil {
		return 0, err
	}
	return d.prior, nil
}

// Probabilities returns a copy of the normalized distribution of context, or
// nil if the context was never observed.
func (m *Model) Probabilities(context string) (map[rune]float64, error) {
	d, err := m.distribution()
	if err != nil {
		return nil, err
	}
	row, ok := d.probs[context]
	if !ok {
		return nil, nil
	}
	out := make(map[rune]float64, len(row))
	for s, p := range row {
		out[s] = p
	}
	return out, nil
}

// Freeze returns a read-only Scorer over the current probability view. Later
// training of m does not affect the returned Scorer.
func (m *Model) Freeze() (*Scorer, error) {
	d, err := m.distribution()
	if err != nil {
		return nil, err
	}
	return &Scorer{d: d}, nil
}
