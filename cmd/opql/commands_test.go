package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestRootCommand(t *testing.T) {
	if rootCmd.Use != "opql" {
		t.Errorf("expected Use 'opql', got %q", rootCmd.Use)
	}
	want := map[string]bool{"parse": true, "complete": true, "plan": true, "record": true, "query": true, "related": true}
	for _, c := range rootCmd.Commands() {
		delete(want, c.Name())
		if c.RunE == nil {
			t.Errorf("%s: RunE should not be nil", c.Name())
		}
	}
	if len(want) > 0 {
		t.Errorf("missing subcommands: %v", want)
	}
}

// run executes the CLI with a fresh config file and returns stdout.
func run(t *testing.T, cfgFile string, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&bytes.Buffer{})
	rootCmd.SetArgs(append([]string{"--config", cfgFile}, args...))
	err := rootCmd.Execute()
	return out.String(), err
}

func writeConfig(t *testing.T, dir string) string {
	t.Helper()
	t.Setenv("OPQL_WORKSPACE", "")
	t.Setenv("OPQL_LOG_LEVEL", "")
	t.Setenv("OPQL_REPLICA_DIR", "")
	path := filepath.Join(dir, "opql.yaml")
	data := "offline:\n  dir: " + filepath.Join(dir, "replica") + "\naccess:\n  workspace_id: ws1\n  allow_all: true\nlogging:\n  level: error\n"
	if err := os.WriteFile(path, []byte(data), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestParseAndPlan(t *testing.T) {
	cfgFile := writeConfig(t, t.TempDir())

	out, err := run(t, cfgFile, "parse", "COUNT tasks WHERE status = Open")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	var parsed map[string]any
	if err := json.Unmarshal([]byte(out), &parsed); err != nil {
		t.Fatalf("bad output %q: %v", out, err)
	}
	if parsed["kind"] != "COUNT" || parsed["entity"] != "tasks" {
		t.Errorf("unexpected parse output: %v", parsed)
	}

	if _, err := run(t, cfgFile, "parse", "FIND tasks WHERE nope = 1"); err == nil {
		t.Error("expected validation error for unknown field")
	}

	out, err = run(t, cfgFile, "plan", "FIND tasks JOIN projects AS p ON p.id = project_id")
	if err != nil {
		t.Fatalf("plan failed: %v", err)
	}
	if !strings.Contains(out, `"join:p"`) || !strings.Contains(out, `"supported": false`) {
		t.Errorf("unexpected plan output: %s", out)
	}
}

func TestRecordThenQuery(t *testing.T) {
	dir := t.TempDir()
	cfgFile := writeConfig(t, dir)

	snap := `{"workspaceId": "ws1", "query": "FIND tasks", "rows": [
		{"entityId": "t2", "entityType": "task", "values": {"title": "Signup bug", "status": "Open"}, "embedding": [0.9, 0.1, 0]},
		{"entityId": "t1", "entityType": "task", "values": {"title": "Login bug", "status": "Done"}, "embedding": [1, 0, 0]}
	]}`
	snapFile := filepath.Join(dir, "snap.json")
	if err := os.WriteFile(snapFile, []byte(snap), 0644); err != nil {
		t.Fatal(err)
	}

	if _, err := run(t, cfgFile, "record", snapFile); err != nil {
		t.Fatalf("record failed: %v", err)
	}

	out, err := run(t, cfgFile, "query", "--limit", "0", "FIND tasks")
	if err != nil {
		t.Fatalf("query failed: %v", err)
	}
	var resp struct {
		Total int `json:"total"`
		Items []struct {
			EntityID string `json:"entityId"`
		} `json:"items"`
	}
	if err := json.Unmarshal([]byte(out), &resp); err != nil {
		t.Fatalf("bad output %q: %v", out, err)
	}
	if resp.Total != 2 || len(resp.Items) != 2 {
		t.Fatalf("expected 2 rows, got %+v", resp)
	}
	if resp.Items[0].EntityID != "t2" {
		t.Errorf("recorded order should rank t2 first, got %s", resp.Items[0].EntityID)
	}

	out, err = run(t, cfgFile, "related", "t1")
	if err != nil {
		t.Fatalf("related failed: %v", err)
	}
	if !strings.Contains(out, `"t2"`) {
		t.Errorf("expected t2 as neighbour: %s", out)
	}

	out, err = run(t, cfgFile, "complete", `FIND tasks WHERE status = "D`)
	if err != nil {
		t.Fatalf("complete failed: %v", err)
	}
	if !strings.Contains(out, `"Done"`) {
		t.Errorf("expected recorded status value in suggestions: %s", out)
	}
}
