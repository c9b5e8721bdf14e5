package cli

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func TestClientOrchestrate(t *testing.T) {
	var got OrchestrateRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/v1/orchestrations" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		writeJSON(w, http.StatusOK, map[string]any{"data": map[string]any{
			"run_id":        "r1",
			"phase":         "DONE",
			"verdict":       "APPROVED",
			"overall_score": 1,
			"artifact":      map[string]any{"text": "# acme"},
		}})
	}))
	defer srv.Close()

	res, err := NewClient(srv.URL, 0).Orchestrate(OrchestrateRequest{Query: "acme", Async: true})
	if err != nil {
		t.Fatal(err)
	}
	if got.Async {
		t.Error("Orchestrate must always be synchronous")
	}
	if res.RunID != "r1" || res.Verdict != "APPROVED" || res.Artifact.Text != "# acme" {
		t.Errorf("unexpected result: %+v", res)
	}
}

func TestClientOrchestratePartialResult(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
			"data":  map[string]any{"run_id": "r2", "phase": "FAILED", "error": "cycle"},
			"error": map[string]any{"code": "RUN_FAILED", "message": "build graph: cyclic dependency graph"},
		})
	}))
	defer srv.Close()

	res, err := NewClient(srv.URL, 0).Orchestrate(OrchestrateRequest{Query: "acme"})
	if err == nil {
		t.Fatal("expected error")
	}
	if res == nil || res.RunID != "r2" || res.Phase != "FAILED" {
		t.Errorf("expected partial result, got %+v", res)
	}
	apiErr, ok := err.(*APIError)
	if !ok || apiErr.Status != http.StatusUnprocessableEntity || apiErr.Code != "RUN_FAILED" {
		t.Errorf("unexpected error %#v", err)
	}
}

func TestClientErrorWithoutBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, 0).ListAgents()
	if err == nil || !strings.Contains(err.Error(), "HTTP 502") {
		t.Errorf("expected HTTP 502 error, got %v", err)
	}
}

func TestClientEnqueue(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req OrchestrateRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		if !req.Async {
			t.Error("Enqueue must set async")
		}
		writeJSON(w, http.StatusAccepted, map[string]any{"data": map[string]any{"run_id": "r3", "phase": "BUILT"}})
	}))
	defer srv.Close()

	accepted, err := NewClient(srv.URL, 0).Enqueue(OrchestrateRequest{Query: "acme"})
	if err != nil {
		t.Fatal(err)
	}
	if accepted.RunID != "r3" {
		t.Errorf("unexpected run id %q", accepted.RunID)
	}
}

func TestClientListRunsQuery(t *testing.T) {
	var rawQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rawQuery = r.URL.RawQuery
		writeJSON(w, http.StatusOK, map[string]any{"data": []any{map[string]any{"id": "r1", "phase": "DONE"}}, "total": 1})
	}))
	defer srv.Close()

	runs, err := NewClient(srv.URL, 0).ListRuns(ListRunsOpts{Phase: "DONE", Limit: 5})
	if err != nil {
		t.Fatal(err)
	}
	if rawQuery != "limit=5&phase=DONE" {
		t.Errorf("unexpected query %q", rawQuery)
	}
	if len(runs) != 1 || runs[0].ID != "r1" {
		t.Errorf("unexpected runs %+v", runs)
	}
}

func TestClientGetRunNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusNotFound, map[string]any{"error": map[string]any{"code": "NOT_FOUND", "message": "run not found"}})
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, 0).GetRun("missing")
	if !IsNotFound(err) {
		t.Errorf("expected not found, got %v", err)
	}
}

// --- commands ---

func runCmd(t *testing.T, srvURL string, args ...string) (string, string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	clientFn := func() *Client { return NewClient(srvURL, 0) }
	outputFn := func() *Output { return NewOutputTo(false, &stdout, &stderr) }

	root := NewRootCmd("test")
	root.SetArgs(args)
	root.SetOut(io.Discard)
	// Подменяем фабрики: корневая команда пишет в os.Stdout.
	root.ResetCommands()
	root.AddCommand(
		NewOrchestrateCmd(clientFn, outputFn),
		NewRunCmd(clientFn, outputFn),
		NewAgentCmd(clientFn, outputFn),
	)

	err := root.Execute()
	return stdout.String(), stderr.String(), err
}

func TestOrchestrateCmdBuildsContext(t *testing.T) {
	planPath := filepath.Join(t.TempDir(), "plan.yaml")
	plan := "nodes:\n  - id: A\n    instruction: go\n    target_agent: research\n"
	if err := os.WriteFile(planPath, []byte(plan), 0o644); err != nil {
		t.Fatal(err)
	}

	var got OrchestrateRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&got)
		writeJSON(w, http.StatusOK, map[string]any{"data": map[string]any{
			"run_id":          "r1",
			"phase":           "AWAITING_USER",
			"verdict":         "CONDITIONAL_NEEDS_INPUT",
			"recommendations": []string{"minConfidence: add sources"},
		}})
	}))
	defer srv.Close()

	stdout, stderr, err := runCmd(t, srv.URL,
		"orchestrate", "acme", "corp",
		"--context", "region=eu",
		"--plan", planPath,
		"--resume", "prev-run",
	)
	if err != nil {
		t.Fatal(err)
	}

	if got.Query != "acme corp" {
		t.Errorf("unexpected query %q", got.Query)
	}
	if got.Context["region"] != "eu" || got.Context["resume_run_id"] != "prev-run" || got.Context["plan"] != plan {
		t.Errorf("unexpected context %v", got.Context)
	}
	if !strings.Contains(stdout, "CONDITIONAL_NEEDS_INPUT") {
		t.Errorf("table must show verdict, got %q", stdout)
	}
	if !strings.Contains(stderr, "add sources") {
		t.Errorf("recommendations must be printed, got %q", stderr)
	}
}

func TestOrchestrateCmdInvalidContext(t *testing.T) {
	_, _, err := runCmd(t, "http://127.0.0.1:0", "orchestrate", "q", "--context", "novalue")
	if err == nil || !strings.Contains(err.Error(), "KEY=VALUE") {
		t.Errorf("expected format error, got %v", err)
	}
}

func TestAgentListCmd(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"data": []any{
			map[string]any{"name": "research", "kind": "a2a", "endpoint": "http://r", "has_fallback": true},
		}, "total": 1})
	}))
	defer srv.Close()

	stdout, _, err := runCmd(t, srv.URL, "agent", "list")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(stdout, "research") || !strings.Contains(stdout, "yes") {
		t.Errorf("unexpected output %q", stdout)
	}
}

func TestShorten(t *testing.T) {
	if got := shorten("короткий", 40); got != "короткий" {
		t.Errorf("unexpected %q", got)
	}
	if got := shorten(strings.Repeat("я", 50), 10); got != strings.Repeat("я", 7)+"..." {
		t.Errorf("unexpected %q", got)
	}
}

func TestOutputTable(t *testing.T) {
	var stdout, stderr bytes.Buffer
	out := NewOutputTo(false, &stdout, &stderr)

	out.Table([]string{"TASK_ID", "ERROR"}, [][]string{{"A", ""}, {"B", "timeout"}})
	lines := strings.Split(strings.TrimSpace(stdout.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected header and 2 rows, got %q", stdout.String())
	}
	if fields := strings.Fields(lines[1]); len(fields) != 2 || fields[1] != "-" {
		t.Errorf("empty cell must be printed as '-', got %q", lines[1])
	}

	stdout.Reset()
	out.Table([]string{"TASK_ID"}, nil)
	if stdout.Len() != 0 || !strings.Contains(stderr.String(), "no results") {
		t.Errorf("empty table: stdout %q stderr %q", stdout.String(), stderr.String())
	}
}
