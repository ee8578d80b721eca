package main

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/CTAG07/anomark/pkg/ingest"
	"github.com/CTAG07/anomark/pkg/markov"
	"github.com/CTAG07/anomark/pkg/pipeline"
)

func TestDatabaseFile(t *testing.T) {
	tests := map[string]string{
		"./data/anomark.db?_journal_mode=WAL": "./data/anomark.db",
		"file:/tmp/x.db?mode=rwc":             "/tmp/x.db",
		"plain.db":                            "plain.db",
	}
	for dsn, want := range tests {
		if got := databaseFile(dsn); got != want {
			t.Errorf("databaseFile(%q) = %q, want %q", dsn, got, want)
		}
	}
}

func TestSaveAndLoadModel(t *testing.T) {
	a := newTestApp(t)
	ctx := context.Background()

	m := markov.New(2)
	m.TrainString(markov.Pad("cmd.exe /c whoami", 2, markov.DefaultPadding, true))

	refs := []string{
		filepath.Join(t.TempDir(), "model.json"),
		storeScheme + "cmd",
		"",
	}
	for _, ref := range refs {
		path, err := a.saveModel(ctx, ref, m)
		if err != nil {
			t.Fatalf("saveModel(%q) failed: %v", ref, err)
		}
		if ref == "" {
			if filepath.Dir(path) != a.config.Scoring.ModelsDir || !strings.HasSuffix(path, "_modelLetters_2grams.json") {
				t.Errorf("unexpected default model path %q", path)
			}
		}

		loaded, err := a.loadModel(ctx, path)
		if err != nil {
			t.Fatalf("loadModel(%q) failed: %v", path, err)
		}
		if !reflect.DeepEqual(loaded.Transitions(), m.Transitions()) {
			t.Errorf("model at %q does not round trip", path)
		}
	}

	if _, err := a.loadModel(ctx, storeScheme+"missing"); err == nil || !strings.Contains(err.Error(), "not found") {
		t.Errorf("expected a not found error, got %v", err)
	}
}

func TestSaveModelOrderMismatch(t *testing.T) {
	a := newTestApp(t)
	trainStored(t, a, "cmd", 2, testCommands...)

	m := markov.New(3)
	m.TrainString("abcdef")
	if _, err := a.saveModel(context.Background(), storeScheme+"cmd", m); !errors.Is(err, markov.ErrOrderMismatch) {
		t.Errorf("expected ErrOrderMismatch, got %v", err)
	}
}

func TestStartModel(t *testing.T) {
	a := newTestApp(t)
	ctx := context.Background()

	if _, err := a.startModel(ctx, false, "", 0); err == nil {
		t.Error("expected an error for order 0")
	}
	if _, err := a.startModel(ctx, true, "", 3); err == nil {
		t.Error("expected an error when resuming without a model")
	}

	trainStored(t, a, "cmd", 2, testCommands...)
	m, err := a.startModel(ctx, true, storeScheme+"cmd", 5)
	if err != nil {
		t.Fatalf("startModel() failed: %v", err)
	}
	if m.Order() != 2 || !m.Trained() {
		t.Errorf("resumed model should keep its order and counts, got order %d", m.Order())
	}
}

func writeTestCSV(t *testing.T, records [][]string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "data.csv")
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	w := csv.NewWriter(f)
	if err = w.WriteAll(records); err != nil {
		t.Fatal(err)
	}
	if err = f.Close(); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestTrainAndApplyCSV(t *testing.T) {
	a := newTestApp(t)
	ctx := context.Background()

	data := writeTestCSV(t, [][]string{
		{"CommandLine", "Host", "Count"},
		{"cmd.exe /c whoami", "ws1", "3"},
		{"cmd.exe /c dir", "ws2", "1"},
		{"cmd.exe /c dir", "ws1", "2"},
	})

	err := runTrainCSV(ctx, a, trainOptions{
		data:        data,
		column:      "CommandLine",
		countColumn: "Count",
		order:       2,
		output:      storeScheme + "cmd",
	})
	if err != nil {
		t.Fatalf("runTrainCSV() failed: %v", err)
	}

	m, err := a.loadModel(ctx, storeScheme+"cmd")
	if err != nil {
		t.Fatalf("loadModel() failed: %v", err)
	}
	if got := m.Weight("~~", 'c'); got != 6 {
		t.Errorf("expected weight 6 for the first transition, got %v", got)
	}

	// Resuming adds the same counts again.
	err = runTrainCSV(ctx, a, trainOptions{
		data:        data,
		column:      "CommandLine",
		countColumn: "Count",
		resume:      true,
		model:       storeScheme + "cmd",
		output:      storeScheme + "cmd",
	})
	if err != nil {
		t.Fatalf("resumed runTrainCSV() failed: %v", err)
	}
	if m, err = a.loadModel(ctx, storeScheme+"cmd"); err != nil {
		t.Fatalf("loadModel() failed: %v", err)
	}
	if got := m.Weight("~~", 'c'); got != 12 {
		t.Errorf("expected weight 12 after resuming, got %v", got)
	}

	output := filepath.Join(t.TempDir(), "results.csv")
	err = runApply(ctx, a, applyOptions{
		data:   data,
		model:  storeScheme + "cmd",
		output: output,
		silent: true,
	})
	if err != nil {
		t.Fatalf("runApply() failed: %v", err)
	}

	f, err := os.Open(output)
	if err != nil {
		t.Fatalf("results were not written: %v", err)
	}
	defer func(f *os.File) {
		_ = f.Close()
	}(f)
	records, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatalf("results are not valid CSV: %v", err)
	}
	wantHeader := []string{"CommandLine", "List of all Host", "List of all Count", pipeline.DefaultScoreColumn}
	if !reflect.DeepEqual(records[0], wantHeader) {
		t.Errorf("expected header %v, got %v", wantHeader, records[0])
	}
	if len(records) != 3 {
		t.Fatalf("expected 2 grouped records, got %d", len(records)-1)
	}
}

func TestTrainCSVRejectsInvalidCount(t *testing.T) {
	a := newTestApp(t)
	data := writeTestCSV(t, [][]string{
		{"CommandLine", "Count"},
		{"cmd.exe /c whoami", "3"},
		{"cmd.exe /c dir", "0"},
	})

	err := runTrainCSV(context.Background(), a, trainOptions{
		data:        data,
		column:      "CommandLine",
		countColumn: "Count",
		order:       2,
		output:      storeScheme + "cmd",
	})
	if !errors.Is(err, ingest.ErrInvalidCount) {
		t.Fatalf("expected ErrInvalidCount, got %v", err)
	}
	if _, err = a.loadModel(context.Background(), storeScheme+"cmd"); err == nil {
		t.Error("no model should be saved when a count is invalid")
	}
}

func TestApplyFlagConflicts(t *testing.T) {
	a := newTestApp(t)
	err := runApply(context.Background(), a, applyOptions{data: "x.csv", model: "m.json", store: true, output: "out.csv"})
	if err == nil || !strings.Contains(err.Error(), "cannot be used at the same time") {
		t.Errorf("expected a flag conflict error, got %v", err)
	}
	if err = runApply(context.Background(), a, applyOptions{data: "x.csv"}); err == nil {
		t.Error("expected an error without -m")
	}
}

func TestTrainTxt(t *testing.T) {
	a := newTestApp(t)
	ctx := context.Background()

	data := filepath.Join(t.TempDir(), "corpus.txt")
	if err := os.WriteFile(data, []byte("abcabcabc"), 0o644); err != nil {
		t.Fatal(err)
	}
	modelPath := filepath.Join(t.TempDir(), "model.json")
	if err := runTrainTxt(ctx, a, trainOptions{data: data, order: 1, output: modelPath}); err != nil {
		t.Fatalf("runTrainTxt() failed: %v", err)
	}

	m, err := a.loadModel(ctx, modelPath)
	if err != nil {
		t.Fatalf("loadModel() failed: %v", err)
	}
	// Text is trained raw: no padding marker in any context.
	for prefix := range m.Transitions() {
		if strings.ContainsRune(prefix, markov.DefaultPadding) {
			t.Errorf("unexpected padded context %q", prefix)
		}
	}
	if got := m.Weight("a", 'b'); got != 3 {
		t.Errorf("expected weight 3 for a->b, got %v", got)
	}
}

func TestListModels(t *testing.T) {
	a := newTestApp(t)
	trainStored(t, a, "cmd", 2, testCommands...)
	trainStored(t, a, "other", 3, "powershell -enc")

	var out strings.Builder
	if err := listModels(context.Background(), a, &out); err != nil {
		t.Fatalf("listModels() failed: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected a header and 2 models, got:\n%s", out.String())
	}
	if !strings.HasPrefix(lines[1], "cmd ") || !strings.HasPrefix(lines[2], "other ") {
		t.Errorf("models should be listed by name, got:\n%s", out.String())
	}
}

func TestReadRecords(t *testing.T) {
	body := "{\"a\": 1}\n\n  {\"b\": \"x\"}  \r\n"
	var got []map[string]any
	err := readRecords(strings.NewReader(body), 1024, func(line int, record map[string]any) error {
		got = append(got, record)
		return nil
	})
	if err != nil {
		t.Fatalf("readRecords() failed: %v", err)
	}
	if len(got) != 2 || got[0]["a"] != json.Number("1") || got[1]["b"] != "x" {
		t.Errorf("unexpected records: %v", got)
	}

	tests := []struct {
		name, body, wantErr string
	}{
		{"Invalid", "{\"a\": 1}\n{oops}\n", "line 2"},
		{"Null", "null\n", "must be a JSON object"},
		{"Array", "[1, 2]\n", "line 1"},
		{"TooLong", strings.Repeat("x", 64) + "\n", "line 1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := readRecords(strings.NewReader(tt.body), 32, func(int, map[string]any) error { return nil })
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("expected an error mentioning %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestFieldText(t *testing.T) {
	record := map[string]any{
		"s":   "cmd.exe",
		"n":   json.Number("42"),
		"b":   true,
		"nil": nil,
		"arr": []any{"a", json.Number("1")},
	}
	tests := []struct {
		field  string
		want   string
		wantOk bool
	}{
		{"s", "cmd.exe", true},
		{"n", "42", true},
		{"b", "true", true},
		{"arr", `["a",1]`, true},
		{"nil", "", false},
		{"missing", "", false},
	}
	for _, tt := range tests {
		got, ok := fieldText(record, tt.field)
		if got != tt.want || ok != tt.wantOk {
			t.Errorf("fieldText(%q) = %q, %v; want %q, %v", tt.field, got, ok, tt.want, tt.wantOk)
		}
	}
}
