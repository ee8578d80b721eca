package main

import (
	"bufio"
	"encoding/json"
	"net/http"
	"strings"
	"testing"

	"github.com/CTAG07/anomark/pkg/markov"
)

func TestAuthOpenUntilFirstKey(t *testing.T) {
	_, h := newTestServer(t)

	rec := do(h, http.MethodGet, "/api/auth/me", "", nil)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"*"`) {
		t.Fatalf("expected open API with master scope, got %d: %s", rec.Code, rec.Body.String())
	}

	// The first key is always a master key, whatever it asks for.
	rec = do(h, http.MethodPost, "/api/auth/keys", `{"scopes": ["score"], "description": "admin"}`, nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201 creating the first key, got %d: %s", rec.Code, rec.Body.String())
	}
	var master CreateKeyResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &master); err != nil {
		t.Fatalf("invalid create key response: %v", err)
	}
	if len(master.Scopes) != 1 || master.Scopes[0] != scopeMaster || !strings.HasPrefix(master.RawKey, "anomark_") {
		t.Errorf("unexpected first key: %+v", master)
	}

	if rec = do(h, http.MethodGet, "/api/auth/me", "", nil); rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 without a key, got %d", rec.Code)
	}
	if rec = do(h, http.MethodGet, "/api/auth/me", "", http.Header{authHeader: {"anomark_wrong"}}); rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 with a wrong key, got %d", rec.Code)
	}

	masterHeader := http.Header{authHeader: {master.RawKey}}
	rec = do(h, http.MethodPost, "/api/auth/keys", `{"scopes": ["score"], "description": "splunk"}`, masterHeader)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201 creating a scoped key, got %d: %s", rec.Code, rec.Body.String())
	}
	var scoped CreateKeyResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &scoped); err != nil {
		t.Fatalf("invalid create key response: %v", err)
	}
	scopedHeader := http.Header{authHeader: {scoped.RawKey}}

	if rec = do(h, http.MethodGet, "/api/models", "", scopedHeader); rec.Code != http.StatusForbidden {
		t.Errorf("expected 403 listing models with a score-only key, got %d", rec.Code)
	}
	if rec = do(h, http.MethodGet, "/api/auth/keys", "", scopedHeader); rec.Code != http.StatusForbidden {
		t.Errorf("expected 403 listing keys with a score-only key, got %d", rec.Code)
	}

	rec = do(h, http.MethodGet, "/api/auth/keys", "", masterHeader)
	var keys []APIKeyInfo
	if err := json.Unmarshal(rec.Body.Bytes(), &keys); err != nil || len(keys) != 2 {
		t.Fatalf("expected 2 keys, got %s (%v)", rec.Body.String(), err)
	}

	if rec = do(h, http.MethodDelete, "/api/auth/keys/1", "", masterHeader); rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 deleting the master key, got %d", rec.Code)
	}
	if rec = do(h, http.MethodDelete, "/api/auth/keys/2", "", masterHeader); rec.Code != http.StatusNoContent {
		t.Errorf("expected 204 deleting the scoped key, got %d", rec.Code)
	}
	if rec = do(h, http.MethodDelete, "/api/auth/keys/2", "", masterHeader); rec.Code != http.StatusNotFound {
		t.Errorf("expected 404 deleting a missing key, got %d", rec.Code)
	}
	if rec = do(h, http.MethodGet, "/api/auth/me", "", scopedHeader); rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 with a deleted key, got %d", rec.Code)
	}
}

func TestCreateKeyUnknownScope(t *testing.T) {
	_, h := newTestServer(t)
	rec := do(h, http.MethodPost, "/api/auth/keys", `{"scopes": ["root"]}`, nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for an unknown scope, got %d", rec.Code)
	}
}

func TestRequestID(t *testing.T) {
	_, h := newTestServer(t)

	rec := do(h, http.MethodGet, "/api/server/version", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if rec.Header().Get(requestIDHeader) == "" {
		t.Error("expected a generated request id")
	}

	rec = do(h, http.MethodGet, "/api/server/version", "", http.Header{requestIDHeader: {"abc"}})
	if got := rec.Header().Get(requestIDHeader); got != "abc" {
		t.Errorf("expected the request id to be echoed, got %q", got)
	}
}

func TestModelsAPI(t *testing.T) {
	a, h := newTestServer(t)
	trainStored(t, a, "cmd", 2, testCommands...)

	rec := do(h, http.MethodGet, "/api/models", "", nil)
	var summaries []ModelSummary
	if err := json.Unmarshal(rec.Body.Bytes(), &summaries); err != nil {
		t.Fatalf("invalid list response %q: %v", rec.Body.String(), err)
	}
	if len(summaries) != 1 || summaries[0].Name != "cmd" || summaries[0].Order != 2 || summaries[0].Transitions == 0 {
		t.Errorf("unexpected model list: %+v", summaries)
	}

	rec = do(h, http.MethodGet, "/api/models/cmd", "", nil)
	var detail ModelDetail
	if err := json.Unmarshal(rec.Body.Bytes(), &detail); err != nil {
		t.Fatalf("invalid detail response %q: %v", rec.Body.String(), err)
	}
	if detail.Prior == nil || detail.Threshold == nil {
		t.Fatalf("trained model should report prior and threshold: %s", rec.Body.String())
	}
	if want := markov.Threshold(*detail.Prior, 95); *detail.Threshold != want {
		t.Errorf("expected threshold %v, got %v", want, *detail.Threshold)
	}

	if rec = do(h, http.MethodGet, "/api/models/missing", "", nil); rec.Code != http.StatusNotFound {
		t.Errorf("expected 404 for a missing model, got %d", rec.Code)
	}

	// An empty model has no threshold yet.
	rec = do(h, http.MethodPost, "/api/models", `{"name": "empty", "order": 3}`, nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201 creating a model, got %d: %s", rec.Code, rec.Body.String())
	}
	if rec = do(h, http.MethodPost, "/api/models", `{"name": "empty", "order": 3}`, nil); rec.Code != http.StatusConflict {
		t.Errorf("expected 409 creating a duplicate model, got %d", rec.Code)
	}
	rec = do(h, http.MethodGet, "/api/models/empty", "", nil)
	if rec.Code != http.StatusOK || strings.Contains(rec.Body.String(), `"prior"`) {
		t.Errorf("untrained model should have no threshold, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = do(h, http.MethodGet, "/api/models/cmd/export", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 exporting, got %d", rec.Code)
	}
	exported := rec.Body.String()

	rec = do(h, http.MethodPost, "/api/models/copy/import", exported, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 importing, got %d: %s", rec.Code, rec.Body.String())
	}
	if rec = do(h, http.MethodPost, "/api/models/empty/import", exported, nil); rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 importing into a model of another order, got %d", rec.Code)
	}
	if rec = do(h, http.MethodPost, "/api/models/copy/import", `{"order": 0}`, nil); rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 importing an invalid model, got %d", rec.Code)
	}

	rec = do(h, http.MethodPost, "/api/models/copy/prune", `{"min_weight": 1}`, nil)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"removed"`) {
		t.Errorf("expected 200 pruning, got %d: %s", rec.Code, rec.Body.String())
	}

	if rec = do(h, http.MethodDelete, "/api/models/copy", "", nil); rec.Code != http.StatusNoContent {
		t.Errorf("expected 204 deleting, got %d", rec.Code)
	}
	if rec = do(h, http.MethodGet, "/api/models/copy", "", nil); rec.Code != http.StatusNotFound {
		t.Errorf("expected 404 after delete, got %d", rec.Code)
	}
	if rec = do(h, http.MethodPut, "/api/models/cmd", "", nil); rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("expected 405, got %d", rec.Code)
	}
}

func TestTrainAPI(t *testing.T) {
	a, h := newTestServer(t)

	body := `{"CommandLine": "cmd.exe /c whoami", "n": 2}
{"CommandLine": "cmd.exe /c dir"}
{"Image": "no command line"}
`
	if rec := do(h, http.MethodPost, "/api/models/cmd/train", body, nil); rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 training a new model without an order, got %d", rec.Code)
	}

	rec := do(h, http.MethodPost, "/api/models/cmd/train?order=2&count=n", body, nil)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), `"records":2`) {
		t.Errorf("expected 2 records trained, got %s", rec.Body.String())
	}

	m, err := a.loadModel(t.Context(), storeScheme+"cmd")
	if err != nil {
		t.Fatalf("loadModel() failed: %v", err)
	}
	if got := m.Weight("~~", 'c'); got != 3 {
		t.Errorf("expected weight 3 (2 + 1), got %v", got)
	}

	// Training again appends.
	if rec = do(h, http.MethodPost, "/api/models/cmd/train?count=n", body, nil); rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", rec.Code)
	}
	if m, err = a.loadModel(t.Context(), storeScheme+"cmd"); err != nil {
		t.Fatalf("loadModel() failed: %v", err)
	}
	if got := m.Weight("~~", 'c'); got != 6 {
		t.Errorf("expected weight 6 after a second pass, got %v", got)
	}

	if rec = do(h, http.MethodPost, "/api/models/cmd/train", "{bad json\n", nil); rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for invalid records, got %d", rec.Code)
	}

	// A non-positive count rejects the whole batch.
	negative := `{"CommandLine": "powershell -enc", "n": -5}` + "\n"
	if rec = do(h, http.MethodPost, "/api/models/cmd/train?count=n", negative, nil); rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for a negative count, got %d", rec.Code)
	}
	if m, err = a.loadModel(t.Context(), storeScheme+"cmd"); err != nil {
		t.Fatalf("loadModel() failed: %v", err)
	}
	if got := m.Weight("~~", 'p'); got != 0 {
		t.Errorf("rejected batch was trained, Weight(~~, p) = %v", got)
	}
}

// scoreLines decodes an NDJSON response body.
func scoreLines(t *testing.T, body string) []map[string]any {
	t.Helper()
	var out []map[string]any
	scanner := bufio.NewScanner(strings.NewReader(body))
	for scanner.Scan() {
		dec := json.NewDecoder(strings.NewReader(scanner.Text()))
		dec.UseNumber()
		var record map[string]any
		if err := dec.Decode(&record); err != nil {
			t.Fatalf("invalid response line %q: %v", scanner.Text(), err)
		}
		out = append(out, record)
	}
	return out
}

func TestScoreAPI(t *testing.T) {
	a, h := newTestServer(t)
	trainStored(t, a, "cmd", 2, testCommands...)

	body := `{"CommandLine": "cmd.exe /c dir", "host": "ws1"}
{"CommandLine": "zzqxj$$!!"}

{"other": 1}
`
	rec := do(h, http.MethodPost, "/api/score/cmd", body, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/x-ndjson" {
		t.Errorf("unexpected content type %q", ct)
	}

	records := scoreLines(t, rec.Body.String())
	if len(records) != 3 {
		t.Fatalf("expected 3 records back, got %d: %s", len(records), rec.Body.String())
	}
	if records[0]["host"] != "ws1" || records[0][anomalousField] != false {
		t.Errorf("known command should pass, got %v", records[0])
	}
	if records[1][anomalousField] != true {
		t.Errorf("unknown command should be anomalous, got %v", records[1])
	}
	if _, ok := records[2][scoreField]; ok || records[2]["other"] != json.Number("1") {
		t.Errorf("record without the field should pass through untouched, got %v", records[2])
	}

	m, err := a.loadModel(t.Context(), storeScheme+"cmd")
	if err != nil {
		t.Fatal(err)
	}
	want, _ := m.LogLikelihood(markov.Pad("cmd.exe /c dir", 2, markov.DefaultPadding, true))
	got, err := records[0][scoreField].(json.Number).Float64()
	if err != nil || got != want {
		t.Errorf("expected score %v, got %v (%v)", want, got, err)
	}

	// Scoring another field. "1" was never seen and is anomalous too.
	rec = do(h, http.MethodPost, "/api/score/cmd?field=other", body, nil)
	records = scoreLines(t, rec.Body.String())
	if _, ok := records[2][scoreField]; !ok || records[2][anomalousField] != true {
		t.Errorf("expected the 'other' field to be scored, got %v", records[2])
	}
	if _, ok := records[0][scoreField]; ok {
		t.Errorf("record without 'other' should not be scored, got %v", records[0])
	}

	metrics := do(h, http.MethodGet, "/metrics", "", nil).Body.String()
	for _, want := range []string{
		`anomark_records_scored_total{model="cmd"} 3`,
		`anomark_anomalies_total{model="cmd"} 2`,
		`anomark_model_transitions{model="cmd"}`,
		`anomark_models 1`,
		`anomark_cached_scorers 1`,
	} {
		if !strings.Contains(metrics, want) {
			t.Errorf("metrics missing %q", want)
		}
	}
}

func TestScoreAPIErrors(t *testing.T) {
	a, h := newTestServer(t)
	trainStored(t, a, "cmd", 2, testCommands...)
	rec := do(h, http.MethodPost, "/api/models", `{"name": "empty", "order": 2}`, nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rec.Code)
	}

	tests := []struct {
		name   string
		method string
		target string
		body   string
		want   int
	}{
		{"MissingModel", http.MethodPost, "/api/score/missing", "", http.StatusNotFound},
		{"UntrainedModel", http.MethodPost, "/api/score/empty", "", http.StatusConflict},
		{"NoName", http.MethodPost, "/api/score/", "", http.StatusBadRequest},
		{"BadPercent", http.MethodPost, "/api/score/cmd?percent=abc", "", http.StatusBadRequest},
		{"PercentOutOfRange", http.MethodPost, "/api/score/cmd?percent=120", "", http.StatusBadRequest},
		{"BadFirstRecord", http.MethodPost, "/api/score/cmd", "not json\n", http.StatusBadRequest},
		{"WrongMethod", http.MethodGet, "/api/score/cmd", "", http.StatusMethodNotAllowed},
		{"EmptyBody", http.MethodPost, "/api/score/cmd", "", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if rec := do(h, tt.method, tt.target, tt.body, nil); rec.Code != tt.want {
				t.Errorf("expected %d, got %d: %s", tt.want, rec.Code, rec.Body.String())
			}
		})
	}

	// An invalid record after valid ones ends the stream with an error line.
	rec = do(h, http.MethodPost, "/api/score/cmd", "{\"CommandLine\": \"dir\"}\nnot json\n", nil)
	records := scoreLines(t, rec.Body.String())
	if len(records) != 2 || records[1]["error"] == nil {
		t.Errorf("expected a scored record then an error line, got %s", rec.Body.String())
	}
}

func TestScorerCacheInvalidation(t *testing.T) {
	a, h := newTestServer(t)
	trainStored(t, a, "cmd", 2, testCommands...)

	score := func() any {
		rec := do(h, http.MethodPost, "/api/score/cmd", `{"CommandLine": "powershell -enc"}`+"\n", nil)
		return scoreLines(t, rec.Body.String())[0][scoreField]
	}
	before := score()

	rec := do(h, http.MethodPost, "/api/models/cmd/train", `{"CommandLine": "powershell -enc"}`+"\n", nil)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", rec.Code)
	}
	if after := score(); after == before {
		t.Errorf("score unchanged after training, cached scorer was not invalidated: %v", after)
	}
}
