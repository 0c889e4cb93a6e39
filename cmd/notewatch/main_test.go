package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/FranksOps/notewatch/internal/pipeline"
	"github.com/FranksOps/notewatch/internal/report"
)

func TestExitCode(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{nil, exitOK},
		{usageError{errors.New("bad flag")}, exitUsage},
		{fmt.Errorf("wrapped: %w", pipeline.ErrNoKeywords), exitUsage},
		{&pipeline.RunFailedError{}, exitFailure},
		{&pipeline.ReadinessError{Err: errors.New("down")}, exitFailure},
	}
	for _, tt := range tests {
		if got := exitCode(tt.err); got != tt.want {
			t.Errorf("exitCode(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}

func TestRenderOutcome(t *testing.T) {
	out := renderOutcome(&report.Outcome{
		ReportDir:          "data/reports/2026-02-27",
		RunStatsFile:       "data/runlog/2026-02-27/run_stats.json",
		TotalRows:          42,
		FailedKeywordCount: 1,
	})
	for _, want := range []string{"42", "data/reports/2026-02-27", "run_stats.json", "Failed keywords"} {
		if !strings.Contains(out, want) {
			t.Errorf("expected %q in output:\n%s", want, out)
		}
	}
}

func writeScript(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0o755); err != nil {
		t.Fatalf("write script: %v", err)
	}
	return path
}

func execute(t *testing.T, args ...string) error {
	t.Helper()
	cmd := newRootCmd()
	cmd.SetArgs(args)
	return cmd.ExecuteContext(context.Background())
}

func TestRunCommand(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("shell scripts not supported on windows")
	}
	dir := t.TempDir()
	doctor := writeScript(t, dir, "agent-reach", "exit 0\n")
	caller := writeScript(t, dir, "mcporter", `echo '{"data": {"items": [{"id": "f1", "xsecToken": "t1", "noteCard": {"noteId": "n1", "displayTitle": "hello", "time": 1718457641000}}]}}'
`)
	t.Setenv("NOTEWATCH_BRIDGE_DOCTOR_BIN", doctor)
	t.Setenv("NOTEWATCH_BRIDGE_CALLER_BIN", caller)
	t.Setenv("NOTEWATCH_METRICS_TEXTFILE", "false")

	keywords := filepath.Join(dir, "keywords.txt")
	if err := os.WriteFile(keywords, []byte("pos\n"), 0o644); err != nil {
		t.Fatalf("write keywords: %v", err)
	}
	dataRoot := filepath.Join(dir, "data")

	err := execute(t, "run",
		"--env-file", "",
		"--keywords-file", keywords,
		"--data-root", dataRoot,
		"--within-hours", "0",
		"--no-detail",
		"--log-level", "error")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	matches, _ := filepath.Glob(filepath.Join(dataRoot, "reports", "*", "all_rows.csv"))
	if len(matches) != 1 {
		t.Fatalf("expected one all_rows.csv, got %v", matches)
	}
	body, _ := os.ReadFile(matches[0])
	if !strings.Contains(string(body), "hello") {
		t.Errorf("expected collected row in report, got %s", body)
	}
}

func TestRunCommandMissingKeywords(t *testing.T) {
	err := execute(t, "run",
		"--env-file", "",
		"--keywords-file", filepath.Join(t.TempDir(), "absent.txt"),
		"--log-level", "error")
	if exitCode(err) != exitUsage {
		t.Errorf("expected usage exit code, got %d (%v)", exitCode(err), err)
	}
}

func TestRunCommandEmptyKeywords(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("shell scripts not supported on windows")
	}
	dir := t.TempDir()
	t.Setenv("NOTEWATCH_BRIDGE_DOCTOR_BIN", writeScript(t, dir, "agent-reach", "exit 0\n"))
	keywords := filepath.Join(dir, "keywords.txt")
	if err := os.WriteFile(keywords, []byte("# nothing yet\n"), 0o644); err != nil {
		t.Fatalf("write keywords: %v", err)
	}

	err := execute(t, "run", "--env-file", "", "--keywords-file", keywords, "--data-root", filepath.Join(dir, "data"), "--log-level", "error")
	if !errors.Is(err, pipeline.ErrNoKeywords) || exitCode(err) != exitUsage {
		t.Errorf("expected ErrNoKeywords with usage exit code, got %v", err)
	}
}

func TestInvalidConfig(t *testing.T) {
	err := execute(t, "doctor", "--env-file", "", "--bridge", "grpc")
	if exitCode(err) != exitUsage {
		t.Errorf("expected usage exit code, got %d (%v)", exitCode(err), err)
	}
}

func TestDoctorCommand(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("shell scripts not supported on windows")
	}
	dir := t.TempDir()

	t.Setenv("NOTEWATCH_BRIDGE_DOCTOR_BIN", writeScript(t, dir, "agent-reach", "exit 0\n"))
	if err := execute(t, "doctor", "--env-file", "", "--log-level", "error"); err != nil {
		t.Fatalf("expected healthy bridge, got %v", err)
	}

	t.Setenv("NOTEWATCH_BRIDGE_DOCTOR_BIN", writeScript(t, dir, "broken-doctor", "echo 'not logged in' >&2\nexit 3\n"))
	err := execute(t, "doctor", "--env-file", "", "--log-level", "error")
	var re *pipeline.ReadinessError
	if !errors.As(err, &re) || exitCode(err) != exitFailure {
		t.Errorf("expected readiness failure, got %v", err)
	}
	if !strings.Contains(err.Error(), "not logged in") {
		t.Errorf("expected doctor stderr in error, got %v", err)
	}
}

func TestScheduleRequiresSpec(t *testing.T) {
	err := execute(t, "schedule", "--env-file", "", "--log-level", "error")
	if exitCode(err) != exitUsage {
		t.Errorf("expected usage exit code, got %d (%v)", exitCode(err), err)
	}
}
