package markov

import (
	"math"
	"strings"
)

// DefaultPadding is the marker conventionally used to pad records so that
// the start and end of a record take part in the chain.
const DefaultPadding = '~'

// Pad prefixes s with order copies of marker, and suffixes it with the same
// when both is true.
func Pad(s string, order int, marker rune, both bool) string {
	if order <= 0 {
		return s
	}
	pad := strings.Repeat(string(marker), order)
	if both {
		return pad + s + pad
	}
	return pad + s
}

// Threshold returns log(prior) scaled by percent/100. A score below the
// threshold is considered anomalous; percent is given as 95 for 95%.
func Threshold(prior, percent float64) float64 {
	return math.Log(prior) * percent / 100
}

// Proximity expresses how far score is from threshold as a percentage, the
// threshold being the expected value. Anomalous scores give negative values.
func Proximity(score, threshold float64) float64 {
	if threshold == 0 {
		return 0
	}
	return (1 - score/threshold) * 100
}
