// Package report renders scored records for a terminal or a results file.
package report

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/CTAG07/anomark/pkg/ingest"
	"github.com/CTAG07/anomark/pkg/markov"
	"github.com/mattn/go-isatty"
)

const (
	beginHighlight = "\x1b[91m"
	endHighlight   = "\x1b[0m"
	separator      = "_______"
)

// Colorize highlights in red every symbol of s whose transition, with the
// record prefixed by Order() markers, scores below threshold. Adjacent
// highlighted symbols share one escape sequence.
func Colorize(scorer *markov.Scorer, s string, threshold float64, marker rune) string {
	scores := scorer.SymbolScores(markov.Pad(s, scorer.Order(), marker, false))

	var sb strings.Builder
	highlighted := false
	for i, r := range []rune(s) {
		low := i < len(scores) && scores[i] < threshold
		if low && !highlighted {
			sb.WriteString(beginHighlight)
		} else if !low && highlighted {
			sb.WriteString(endHighlight)
		}
		highlighted = low
		sb.WriteRune(r)
	}
	if highlighted {
		sb.WriteString(endHighlight)
	}
	return sb.String()
}

// Printer writes the most anomalous groups of a result in a human readable
// form.
type Printer struct {
	out       io.Writer
	color     bool
	proximity bool
	marker    rune
}

// PrinterOption Is a function that configures a Printer.
type PrinterOption func(*Printer)

// WithColor forces colour on or off. By default it is on only when the
// output is a terminal.
func WithColor(color bool) PrinterOption {
	return func(p *Printer) {
		p.color = color
	}
}

// WithProximity toggles the proximity percentage printed under each record.
// Default: true
func WithProximity(proximity bool) PrinterOption {
	return func(p *Printer) {
		p.proximity = proximity
	}
}

// WithMarker sets the padding marker used when colouring.
// Default: markov.DefaultPadding
func WithMarker(marker rune) PrinterOption {
	return func(p *Printer) {
		p.marker = marker
	}
}

// NewPrinter creates a Printer writing to out.
func NewPrinter(out io.Writer, opts ...PrinterOption) *Printer {
	p := &Printer{
		out:       out,
		color:     IsTerminal(out),
		proximity: true,
		marker:    markov.DefaultPadding,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// IsTerminal reports whether w is a terminal able to render ANSI colour.
func IsTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// PrintTop writes the first n groups, or all of them when n <= 0.
func (p *Printer) PrintTop(scorer *markov.Scorer, grouped *ingest.Grouped, threshold float64, n int) error {
	top := grouped.Top(n)
	if _, err := fmt.Fprintf(p.out, "%s\nDisplaying top %d\n", separator, len(top)); err != nil {
		return err
	}
	for _, group := range top {
		text := group.Value
		if p.color {
			text = Colorize(scorer, text, threshold, p.marker)
		}
		if _, err := fmt.Fprintf(p.out, "%s\n%s\n", separator, text); err != nil {
			return err
		}
		if p.proximity {
			if _, err := fmt.Fprintf(p.out, "%.2f%%\n", markov.Proximity(group.Score, threshold)); err != nil {
				return err
			}
		}
	}
	_, err := fmt.Fprintln(p.out, separator)
	return err
}

// ColoredRecords returns the records of grouped with an extra column
// holding the colourized scored value, and the matching header.
func ColoredRecords(scorer *markov.Scorer, grouped *ingest.Grouped, threshold float64, marker rune) ([]string, [][]string) {
	header := append(grouped.Header(), "Colored "+grouped.Column)
	records := grouped.Records()
	for i, group := range grouped.Groups {
		records[i] = append(records[i], Colorize(scorer, group.Value, threshold, marker))
	}
	return header, records
}
