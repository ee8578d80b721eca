package markov

import "math"

// Scorer is a read-only view of a normalized model. It is safe for
// concurrent use.
type Scorer struct {
	d *distribution
}

// Order returns the context length of the underlying model.
func (s *Scorer) Order() int {
	return s.d.order
}

// Prior returns the probability assigned to unseen transitions.
func (s *Scorer) Prior() float64 {
	return s.d.prior
}

// Threshold returns the anomaly threshold for percent, see Threshold.
func (s *Scorer) Threshold(percent float64) float64 {
	return Threshold(s.d.prior, percent)
}

// probability returns P(next | context), or the prior when the context or
// the pair was never observed. The result is always positive.
func (d *distribution) probability(context string, next rune) float64 {
	if p, ok := d.probs[context][next]; ok {
		return p
	}
	return d.prior
}

// LogLikelihood returns the mean natural-log probability of every
// transition in sequence. Sequences with no complete transition score
// log(prior).
func (s *Scorer) LogLikelihood(sequence string) float64 {
	d := s.d
	runes := []rune(sequence)
	n := len(runes) - d.order
	if n < 1 {
		return d.logPrior
	}
	var sum float64
	for i := 0; i < n; i++ {
		sum += math.Log(d.probability(string(runes[i:i+d.order]), runes[i+d.order]))
	}
	return sum / float64(n)
}

// SymbolScores returns the log probability of each transition of sequence,
// one value per symbol after the first Order() symbols.
func (s *Scorer) SymbolScores(sequence string) []float64 {
	d := s.d
	runes := []rune(sequence)
	if len(runes) <= d.order {
		return nil
	}
	out := make([]float64, 0, len(runes)-d.order)
	for i := d.order; i < len(runes); i++ {
		out = append(out, math.Log(d.probability(string(runes[i-d.order:i]), runes[i])))
	}
	return out
}

// LogLikelihood scores sequence against the model, normalizing it first if
// needed. See Scorer.LogLikelihood.
func (m *Model) LogLikelihood(sequence string) (float64, error) {
	d, err := m.distribution()
	if err != nil {
		return 0, err
	}
	return (&Scorer{d: d}).LogLikelihood(sequence), nil
}

// SymbolScores returns per-transition log probabilities of sequence. See
// Scorer.SymbolScores.
func (m *Model) SymbolScores(sequence string) ([]float64, error) {
	d, err := m.distribution()
	if err != nil {
		return nil, err
	}
	return (&Scorer{d: d}).SymbolScores(sequence), nil
}

// Threshold returns the anomaly threshold of the model for percent.
func (m *Model) Threshold(percent float64) (float64, error) {
	prior, err := m.Prior()
	if err != nil {
		return 0, err
	}
	return Threshold(prior, percent), nil
}
