package ingest

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Group is one distinct value of the scored column with the lowest score
// any of its rows obtained.
type Group struct {
	Value string
	Score float64
	// Others holds, per non-scored column, the sorted distinct values of the
	// group's rows joined with " - ".
	Others []string
}

// Grouped holds scored results grouped by the scored column, sorted from the
// most to the least anomalous.
type Grouped struct {
	Column       string
	ScoreColumn  string
	OtherColumns []string
	Groups       []Group
}

// GroupScores groups the rows of t by column, given one score per row.
func GroupScores(t *Table, column, scoreColumn string, scores []float64) (*Grouped, error) {
	idx := t.Index(column)
	if idx < 0 {
		return nil, fmt.Errorf("%w: %q", ErrUnknownColumn, column)
	}
	if len(scores) != len(t.Rows) {
		return nil, fmt.Errorf("got %d scores for %d rows", len(scores), len(t.Rows))
	}

	g := &Grouped{Column: column, ScoreColumn: scoreColumn}
	var others []int
	for i, c := range t.Columns {
		if i != idx && c != scoreColumn {
			others = append(others, i)
			g.OtherColumns = append(g.OtherColumns, c)
		}
	}

	type acc struct {
		score  float64
		values []map[string]struct{}
	}
	groups := make(map[string]*acc)
	for r, row := range t.Rows {
		key := cell(row, idx)
		a, ok := groups[key]
		if !ok {
			a = &acc{score: scores[r], values: make([]map[string]struct{}, len(others))}
			for i := range a.values {
				a.values[i] = make(map[string]struct{})
			}
			groups[key] = a
		}
		a.score = min(a.score, scores[r])
		for i, col := range others {
			a.values[i][cell(row, col)] = struct{}{}
		}
	}

	keys := make([]string, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	g.Groups = make([]Group, 0, len(keys))
	for _, k := range keys {
		a := groups[k]
		group := Group{Value: k, Score: a.score, Others: make([]string, len(others))}
		for i, set := range a.values {
			distinct := make([]string, 0, len(set))
			for v := range set {
				distinct = append(distinct, v)
			}
			sort.Strings(distinct)
			group.Others[i] = strings.Join(distinct, " - ")
		}
		g.Groups = append(g.Groups, group)
	}
	sort.SliceStable(g.Groups, func(i, j int) bool { return g.Groups[i].Score < g.Groups[j].Score })
	return g, nil
}

// Header returns the column names of the grouped result.
func (g *Grouped) Header() []string {
	header := make([]string, 0, len(g.OtherColumns)+2)
	header = append(header, g.Column)
	for _, c := range g.OtherColumns {
		header = append(header, "List of all "+c)
	}
	return append(header, g.ScoreColumn)
}

// Records returns the grouped result as CSV records matching Header.
func (g *Grouped) Records() [][]string {
	records := make([][]string, len(g.Groups))
	for i, group := range g.Groups {
		record := make([]string, 0, len(group.Others)+2)
		record = append(record, group.Value)
		record = append(record, group.Others...)
		records[i] = append(record, strconv.FormatFloat(group.Score, 'g', -1, 64))
	}
	return records
}

// Top returns at most n groups, or all of them when n <= 0.
func (g *Grouped) Top(n int) []Group {
	if n <= 0 || n > len(g.Groups) {
		return g.Groups
	}
	return g.Groups[:n]
}

func cell(row []string, idx int) string {
	if idx < len(row) {
		return row[idx]
	}
	return ""
}
