package main

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/CTAG07/anomark/pkg/markov"
)

// newTestApp returns an app whose store and output directories live in a
// temporary directory.
func newTestApp(t *testing.T) *app {
	t.Helper()
	dir := t.TempDir()
	config := DefaultConfig()
	config.Store.DatabasePath = filepath.Join(dir, "anomark.db")
	config.Scoring.ModelsDir = filepath.Join(dir, "models")
	config.Scoring.ResultsDir = filepath.Join(dir, "results")

	a := &app{config: config, logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
	t.Cleanup(a.Close)
	return a
}

// newTestServer returns an app and the API handler built over its store.
func newTestServer(t *testing.T) (*app, http.Handler) {
	t.Helper()
	a := newTestApp(t)
	s, err := a.Store()
	if err != nil {
		t.Fatalf("Failed to open store: %v", err)
	}
	server := NewServer(a.config, a.logger, a.db, s, make(chan string, 1))
	return a, server.Handler()
}

var testCommands = []string{
	"cmd.exe /c whoami",
	"cmd.exe /c dir",
}

// trainStored trains a model of the given order on lines and saves it in the
// store under name.
func trainStored(t *testing.T, a *app, name string, order int, lines ...string) {
	t.Helper()
	m := markov.New(order)
	for _, line := range lines {
		m.TrainString(markov.Pad(line, order, markov.DefaultPadding, true))
	}
	if _, err := a.saveModel(context.Background(), storeScheme+name, m); err != nil {
		t.Fatalf("Failed to save model '%s': %v", name, err)
	}
}

// do sends a request to h and returns the recorded response.
func do(h http.Handler, method, target, body string, header http.Header) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	for k, values := range header {
		for _, v := range values {
			req.Header.Add(k, v)
		}
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestNewLogger(t *testing.T) {
	var buf strings.Builder
	logger := newLogger(&buf, "warn", "json")
	logger.Info("hidden")
	logger.Warn("shown", "model_name", "cmd")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("info record logged at warn level: %s", out)
	}
	if !strings.Contains(out, `"msg":"shown"`) || !strings.Contains(out, `"model_name":"cmd"`) {
		t.Errorf("expected a JSON warn record, got: %s", out)
	}

	buf.Reset()
	newLogger(&buf, "bogus", "text").Info("defaulted")
	if !strings.Contains(buf.String(), "msg=defaulted") {
		t.Errorf("expected a text info record, got: %s", buf.String())
	}
}

func TestRootCommand(t *testing.T) {
	root := newRootCmd()
	want := map[string]bool{
		"train-csv": false, "train-txt": false, "apply": false, "simulate": false,
		"models": false, "serve": false, "version": false,
	}
	for _, sub := range root.Subcommands {
		name := strings.Fields(sub.UsageLine)[0]
		if _, ok := want[name]; !ok {
			t.Errorf("unexpected subcommand %q", name)
			continue
		}
		want[name] = true
	}
	for name, found := range want {
		if !found {
			t.Errorf("subcommand %q not registered", name)
		}
	}
}
