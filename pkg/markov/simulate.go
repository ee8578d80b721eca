package markov

import "math/rand/v2"

// Simulate generates a string by walking the chain until it is length
// symbols long. An empty start picks a random trained context as the seed;
// otherwise start is used verbatim. A seed longer than length is returned
// whole. Contexts the model never saw fall back to a uniformly random symbol
// of the alphabet.
func (m *Model) Simulate(length int, start string) (string, error) {
	d, err := m.distribution()
	if err != nil {
		return "", err
	}
	m.rngMu.Lock()
	defer m.rngMu.Unlock()
	return d.simulate(m.rng, length, start), nil
}

// Simulate is Model.Simulate over a frozen view, drawing from rng.
func (s *Scorer) Simulate(rng *rand.Rand, length int, start string) string {
	return s.d.simulate(rng, length, start)
}

func (d *distribution) simulate(rng *rand.Rand, length int, start string) string {
	var seq []rune
	if start == "" {
		seq = []rune(d.contexts[rng.IntN(len(d.contexts))])
	} else {
		seq = []rune(start)
	}

	remaining := max(0, length-len(seq))
	for range remaining {
		context := seq
		if len(seq) > d.order {
			context = seq[len(seq)-d.order:]
		}
		seq = append(seq, d.nextSymbol(rng, string(context)))
	}
	return string(seq)
}

// nextSymbol draws a successor of context by cumulative subtraction over its
// candidates, which are kept sorted by symbol.
func (d *distribution) nextSymbol(rng *rand.Rand, context string) rune {
	cands, ok := d.candidates[context]
	if !ok {
		return d.alphabet[rng.IntN(len(d.alphabet))]
	}
	r := rng.Float64()
	for _, c := range cands {
		r -= c.p
		if r <= 0 {
			return c.symbol
		}
	}
	// Rounding can leave r slightly above zero after the last candidate.
	return cands[len(cands)-1].symbol
}
