/*
Package markov implements a character-level Markov chain model for scoring
how unusual a string is compared to a corpus of known-benign examples.

A Model accumulates weighted transition counts from training text, derives
a probability distribution per context together with a prior used for
unseen transitions, and evaluates the length-normalized log-likelihood of
new strings. It can also walk the chain to generate synthetic strings.

The model never pads its input. Callers that want chain edges to be part of
the statistics pad records themselves, usually with Pad and DefaultPadding.
*/
package markov
