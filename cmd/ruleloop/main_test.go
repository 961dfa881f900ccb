package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/nvandessel/ruleloop/internal/activation"
	"github.com/nvandessel/ruleloop/internal/models"
	"github.com/nvandessel/ruleloop/internal/seed"
)

// runCLI executes the root command with args and returns stdout.
func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

// initWorkspace runs init in a temp dir and returns the --config flag pair.
func initWorkspace(t *testing.T) []string {
	t.Helper()
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")
	if _, err := runCLI(t, "init", "--config", cfgPath, "--data-dir", dir); err != nil {
		t.Fatalf("init failed: %v", err)
	}
	return []string{"--config", cfgPath}
}

func TestSubcommandNames(t *testing.T) {
	root := newRootCmd()
	want := []string{"version", "init", "serve", "mcp-server", "apply", "chat", "learn", "rules", "corrections"}
	for _, name := range want {
		cmd, _, err := root.Find([]string{name})
		if err != nil || cmd.Name() != name {
			t.Errorf("Find(%q) = %v, %v", name, cmd, err)
		}
	}
	for _, sub := range []string{"list", "create", "import", "export", "disable", "enable"} {
		cmd, _, err := root.Find([]string{"rules", sub})
		if err != nil || cmd.Name() != sub {
			t.Errorf("Find(rules %q) = %v, %v", sub, cmd, err)
		}
	}
}

func TestVersionJSON(t *testing.T) {
	out, err := runCLI(t, "version", "--json")
	if err != nil {
		t.Fatalf("version failed: %v", err)
	}
	var got map[string]string
	if err := json.Unmarshal([]byte(out), &got); err != nil || got["version"] != version {
		t.Errorf("version output = %q", out)
	}
}

func TestInitCreatesConfigAndDatabase(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")
	if _, err := runCLI(t, "init", "--config", cfgPath, "--data-dir", dir); err != nil {
		t.Fatalf("init failed: %v", err)
	}
	for _, name := range []string{"config.yaml", "ruleloop.db", ".gitignore"} {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			t.Errorf("%s not created: %v", name, err)
		}
	}

	// A second init keeps the existing config.
	out, err := runCLI(t, "init", "--config", cfgPath, "--data-dir", dir, "--json")
	if err != nil {
		t.Fatalf("second init failed: %v", err)
	}
	if !strings.Contains(out, `"config_created": false`) {
		t.Errorf("second init output = %s", out)
	}
}

func TestRulesCreateListApply(t *testing.T) {
	cfg := initWorkspace(t)
	scope := []string{"--tenant", "acme", "--module", "attendance"}

	args := append([]string{"rules", "create", "--name", "saturday overtime",
		"--condition", "day is Saturday", "--action", "overtime is 4 hours",
		"--when", `{"field":"dayOfWeek","operator":"equals","value":"Saturday"}`,
		"--set", `{"field":"overtimeHours","value":4}`, "--priority", "10"}, scope...)
	if _, err := runCLI(t, append(args, cfg...)...); err != nil {
		t.Fatalf("rules create failed: %v", err)
	}

	out, err := runCLI(t, append(append([]string{"rules", "list", "--json"}, scope...), cfg...)...)
	if err != nil {
		t.Fatalf("rules list failed: %v", err)
	}
	var rules []models.Rule
	if err := json.Unmarshal([]byte(out), &rules); err != nil || len(rules) != 1 {
		t.Fatalf("rules list output = %s (err %v)", out, err)
	}
	if rules[0].Name != "saturday-overtime" || rules[0].Priority != 10 {
		t.Errorf("rule = %+v", rules[0])
	}

	out, err = runCLI(t, append(append([]string{"apply", "--json",
		"--data", `{"dayOfWeek":"Saturday","overtimeHours":0}`}, scope...), cfg...)...)
	if err != nil {
		t.Fatalf("apply failed: %v", err)
	}
	var res activation.ApplyResult
	if err := json.Unmarshal([]byte(out), &res); err != nil {
		t.Fatalf("apply output = %s", out)
	}
	if !res.Modified || res.Data["overtimeHours"] != float64(4) {
		t.Errorf("apply result = %+v", res)
	}

	if _, err := runCLI(t, append(append([]string{"rules", "disable", "saturday-overtime"}, scope...), cfg...)...); err != nil {
		t.Fatalf("rules disable failed: %v", err)
	}
	out, _ = runCLI(t, append(append([]string{"apply", "--json", "--data", `{"dayOfWeek":"Saturday"}`}, scope...), cfg...)...)
	res = activation.ApplyResult{}
	json.Unmarshal([]byte(out), &res)
	if res.Modified {
		t.Errorf("disabled rule still fired: %+v", res)
	}
}

func TestRulesImportExport(t *testing.T) {
	cfg := initWorkspace(t)
	dir := t.TempDir()
	doc := `version: 1
tenant: acme
module: payroll
rules:
  - name: approve-small
    condition: amount under 100
    when: {field: amount, operator: lessThan, value: 100}
    action: approve
    set: {field: status, value: APPROVED}
    priority: 5
  - name: describe-only
    condition: always
    action: nothing automatic
`
	in := filepath.Join(dir, "rules.yaml")
	if err := os.WriteFile(in, []byte(doc), 0600); err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 2; i++ {
		out, err := runCLI(t, append([]string{"rules", "import", in, "--json"}, cfg...)...)
		if err != nil {
			t.Fatalf("import %d failed: %v", i, err)
		}
		var res seed.ImportResult
		json.Unmarshal([]byte(out), &res)
		wantAdded := 2
		if i == 1 {
			wantAdded = 0
		}
		if len(res.Added) != wantAdded {
			t.Errorf("import %d added %d rules, want %d", i, len(res.Added), wantAdded)
		}
	}

	out := filepath.Join(dir, "export.yaml")
	if _, err := runCLI(t, append([]string{"rules", "export", "--tenant", "acme", "--module", "payroll", "-o", out}, cfg...)...); err != nil {
		t.Fatalf("export failed: %v", err)
	}
	set, err := seed.ReadFile(out)
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	if len(set.Rules) != 2 || set.Rules[0].Name != "approve-small" {
		t.Errorf("exported = %+v", set.Rules)
	}
}

func TestCommandErrors(t *testing.T) {
	cfg := initWorkspace(t)
	tests := []struct {
		name string
		args []string
	}{
		{"apply without scope", []string{"apply", "--data", "{}"}},
		{"apply without record", []string{"apply", "--tenant", "a", "--module", "m"}},
		{"apply with bad json", []string{"apply", "--tenant", "a", "--module", "m", "--data", "[1]"}},
		{"learn unknown correction", []string{"learn", "nope", "--tenant", "a"}},
		{"learn without tenant", []string{"learn", "nope"}},
		{"disable unknown rule", []string{"rules", "disable", "nope", "--tenant", "a", "--module", "m"}},
		{"chat without oracle", []string{"chat", "--tenant", "a", "--module", "m", "-m", "hi"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := runCLI(t, append(tt.args, cfg...)...); err == nil {
				t.Errorf("%v succeeded, want error", tt.args)
			}
		})
	}
}

func TestCorrectionsListEmpty(t *testing.T) {
	cfg := initWorkspace(t)
	out, err := runCLI(t, append([]string{"corrections", "list", "--tenant", "acme", "--module", "attendance"}, cfg...)...)
	if err != nil {
		t.Fatalf("corrections list failed: %v", err)
	}
	if !strings.Contains(out, "No corrections.") {
		t.Errorf("output = %q", out)
	}
}
