// Package ingest loads the tabular data that models are trained on and
// applied to, and writes scored results back out.
package ingest

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/natefinch/atomic"
)

var (
	// ErrUnsupportedFormat is returned when a file can be read neither as CSV
	// nor as plain text.
	ErrUnsupportedFormat = errors.New("unsupported data format, prefer a csv file")
	// ErrUnknownColumn is returned when a named column is absent from a table.
	ErrUnknownColumn = errors.New("unknown column")
	// ErrInvalidCount is returned when a count is zero, negative or not finite.
	ErrInvalidCount = errors.New("count must be a positive finite number")
)

// Table is an in-memory, row-major view of a CSV file.
type Table struct {
	Columns []string
	Rows    [][]string
}

// Index returns the position of the named column, or -1.
func (t *Table) Index(name string) int {
	for i, c := range t.Columns {
		if c == name {
			return i
		}
	}
	return -1
}

// Column returns a copy of the values of the named column.
func (t *Table) Column(name string) ([]string, error) {
	idx := t.Index(name)
	if idx < 0 {
		return nil, fmt.Errorf("%w: %q", ErrUnknownColumn, name)
	}
	values := make([]string, len(t.Rows))
	for i, row := range t.Rows {
		if idx < len(row) {
			values[i] = row[idx]
		}
	}
	return values, nil
}

// SetColumn overwrites the named column with values, one per row.
func (t *Table) SetColumn(name string, values []string) error {
	idx := t.Index(name)
	if idx < 0 {
		return fmt.Errorf("%w: %q", ErrUnknownColumn, name)
	}
	if len(values) != len(t.Rows) {
		return fmt.Errorf("column %q: got %d values for %d rows", name, len(values), len(t.Rows))
	}
	for i, row := range t.Rows {
		for len(row) <= idx {
			row = append(row, "")
		}
		row[idx] = values[i]
		t.Rows[i] = row
	}
	return nil
}

// Len returns the number of rows.
func (t *Table) Len() int {
	return len(t.Rows)
}

// Load reads path into a Table. Files ending in .txt hold one record per
// line and are exposed under column; anything else is parsed as CSV with a
// header row.
func Load(path, column string) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func(f *os.File) {
		_ = f.Close()
	}(f)

	switch strings.ToLower(filepath.Ext(path)) {
	case ".txt":
		return ReadText(f, column)
	case ".csv":
		return ReadCSV(f)
	default:
		t, err := ReadCSV(f)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrUnsupportedFormat, path, err)
		}
		return t, nil
	}
}

// ReadCSV parses a CSV document whose first record is the header.
func ReadCSV(r io.Reader) (*Table, error) {
	reader := csv.NewReader(r)
	reader.LazyQuotes = true
	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("could not parse csv: %w", err)
	}
	if len(records) == 0 {
		return nil, errors.New("could not parse csv: missing header row")
	}
	return &Table{Columns: records[0], Rows: records[1:]}, nil
}

// ReadText reads one record per line into a single column table. A final
// line terminator does not produce an empty record.
func ReadText(r io.Reader, column string) (*Table, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	text := strings.TrimSuffix(strings.ReplaceAll(string(data), "\r\n", "\n"), "\n")

	t := &Table{Columns: []string{column}}
	if text == "" {
		return t, nil
	}
	for _, line := range strings.Split(text, "\n") {
		t.Rows = append(t.Rows, []string{line})
	}
	return t, nil
}

// WriteCSV writes header and records to path, replacing the file
// atomically.
func WriteCSV(path string, header []string, records [][]string) error {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(header); err != nil {
		return err
	}
	if err := w.WriteAll(records); err != nil {
		return err
	}
	if err := atomic.WriteFile(path, &buf); err != nil {
		return fmt.Errorf("could not write %s: %w", path, err)
	}
	return nil
}
