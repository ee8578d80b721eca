package ingest

import (
	"errors"
	"fmt"
	"math/rand/v2"
)

// ErrInvalidSelection is returned when a selection asks for more rows than
// the table holds.
var ErrInvalidSelection = errors.New("invalid selection")

// SelectOptions restricts the rows of a table used for training.
// Lines takes precedence over Percentage; the zero value selects every row.
type SelectOptions struct {
	Lines      int     // Number of rows to keep.
	Percentage float64 // Share of rows to keep, from 0 to 100.
	FromEnd    bool    // Keep the rows after the cut instead of before it.
	Randomize  bool    // Draw Lines rows at random, with replacement.
	Rand       *rand.Rand
}

// Select returns a new table holding the rows picked by opts. Rows are
// shared with t, not copied.
func Select(t *Table, opts SelectOptions) (*Table, error) {
	out := &Table{Columns: t.Columns}
	n := len(t.Rows)

	switch {
	case opts.Lines > 0:
		if opts.Lines > n {
			return nil, fmt.Errorf("%w: %d lines requested from %d", ErrInvalidSelection, opts.Lines, n)
		}
		switch {
		case opts.Randomize:
			rng := opts.Rand
			if rng == nil {
				rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
			}
			out.Rows = make([][]string, opts.Lines)
			for i := range out.Rows {
				out.Rows[i] = t.Rows[rng.IntN(n)]
			}
		case opts.FromEnd:
			out.Rows = t.Rows[opts.Lines:]
		default:
			out.Rows = t.Rows[:opts.Lines]
		}
	case opts.Percentage > 0:
		cut := min(int(float64(n)*opts.Percentage/100), n)
		if opts.FromEnd {
			out.Rows = t.Rows[cut:]
		} else {
			out.Rows = t.Rows[:cut]
		}
	default:
		out.Rows = t.Rows
	}
	return out, nil
}
