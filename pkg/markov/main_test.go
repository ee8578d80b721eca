package markov

import (
	"go/build"
	"math/rand/v2"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
)

// newTestModel returns a model with a fixed random source.
func newTestModel(t testing.TB, order int) *Model {
	t.Helper()
	return New(order, WithRand(rand.New(rand.NewPCG(1, 2))))
}

// trainedTestModel trains an order-4 model on the phrases used throughout
// these tests, padded on both sides.
func trainedTestModel(t testing.TB) *Model {
	t.Helper()
	m := newTestModel(t, 4)
	for _, s := range []struct {
		text   string
		weight float64
	}{
		{"This is some data", 10},
		{"Some new is data", 3},
		{"word", 1},
	} {
		m.Train(Pad(s.text, 4, DefaultPadding, true), s.weight)
	}
	return m
}

var (
	benchmarkCorpus []string
	corpusOnce      sync.Once
)

// createBenchmarkCorpus reads Go source files and returns their lines, to
// stand in for a corpus of command lines.
func createBenchmarkCorpus() []string {
	corpusOnce.Do(func() {
		goRoot := build.Default.GOROOT
		filesToRead := []string{
			filepath.Join(goRoot, "src/net/http/server.go"),
			filepath.Join(goRoot, "src/os/exec/exec.go"),
		}

		for _, file := range filesToRead {
			content, err := os.ReadFile(file)
			if err != nil {
				benchmarkCorpus = []string{
					`C:\Windows\system32\svchost.exe -k netsvcs -p -s Schedule`,
					`C:\Windows\System32\RuntimeBroker.exe -Embedding`,
					`"C:\Program Files\Mozilla Firefox\firefox.exe" -contentproc --channel=1`,
				}
				return
			}
			for _, line := range strings.Split(string(content), "\n") {
				if line = strings.TrimSpace(line); line != "" {
					benchmarkCorpus = append(benchmarkCorpus, line)
				}
			}
		}
	})
	return benchmarkCorpus
}
