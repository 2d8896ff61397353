package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/wippyai/incinerator/internal/scenario"
	"github.com/wippyai/incinerator/sweep"
)

const twoLoaders = `
name: two loaders
loaders:
  - name: A
    classes: [100]
    resources:
      - kind: interned-constants
        data: "hello"
      - kind: metadata-table
        size: 64
  - name: B
    classes: [200]
events:
  - {op: mark, loader: A, pending: 2}
  - {op: mark, loader: B, pending: 1}
  - {op: finalize, object: 1, class: 100}
  - {op: finalize, object: 2, class: 100}
  - {op: run}
  - {op: expect, loader: A, state: swept}
  - {op: expect, loader: B, state: marked-stale}
`

func writeScenario(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "scenario.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCommand()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestSimulate(t *testing.T) {
	out, err := execute(t, "simulate", writeScenario(t, twoLoaders))
	if err != nil {
		t.Fatalf("simulate failed: %v\n%s", err, out)
	}

	for _, want := range []string{
		"two loaders",
		"mark A pending=2",
		"swept 1, requeued 0, skipped 0, released 3",
		"marked-stale",
		"passes 1",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestSimulate_FailedExpectation(t *testing.T) {
	body := `
loaders:
  - name: A
events:
  - {op: mark, loader: A, pending: 1}
  - {op: run}
  - {op: expect, loader: A, state: swept}
`
	out, err := execute(t, "simulate", writeScenario(t, body))
	if err == nil {
		t.Fatalf("expected failure:\n%s", out)
	}
	if !strings.Contains(err.Error(), "expected swept") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestSimulate_MissingFile(t *testing.T) {
	if _, err := execute(t, "simulate", filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error for missing scenario")
	}
}

func TestConfigCommand(t *testing.T) {
	out, err := execute(t, "config")
	if err != nil {
		t.Fatalf("config failed: %v", err)
	}
	for _, want := range []string{"logging:", "engine:", "workers:"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "version")
	if err != nil {
		t.Fatalf("version failed: %v", err)
	}
	if !strings.HasPrefix(out, "incinerator "+version) {
		t.Fatalf("unexpected output %q", out)
	}
}

func TestPrinter_Describe(t *testing.T) {
	p := printer{plain: true}

	tests := []struct {
		name string
		res  scenario.Result
		want string
	}{
		{
			name: "mark transitioned",
			res:  scenario.Result{Event: scenario.Event{Op: scenario.OpMark, Loader: "A", Pending: 1}, Marked: true},
			want: "[00] mark A pending=1  transitioned",
		},
		{
			name: "mark ignored",
			res:  scenario.Result{Event: scenario.Event{Op: scenario.OpMark, Loader: "A"}, Index: 3},
			want: "[03] mark A pending=0  ignored",
		},
		{
			name: "empty run",
			res:  scenario.Result{Event: scenario.Event{Op: scenario.OpRun}, Report: &sweep.Report{}},
			want: "[00] run  nothing queued",
		},
		{
			name: "finalize",
			res:  scenario.Result{Event: scenario.Event{Op: scenario.OpFinalize, Object: 4, Class: 9}},
			want: "[00] finalize object=4 class=9",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := p.describe(tt.res); got != tt.want {
				t.Fatalf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestRunExitCode(t *testing.T) {
	if code := run([]string{"version"}); code != 0 {
		t.Fatalf("version exit code = %d, want 0", code)
	}
	if code := run([]string{"simulate"}); code != 1 {
		t.Fatalf("simulate without a scenario exit code = %d, want 1", code)
	}
}
