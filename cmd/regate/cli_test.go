package main

import (
	"encoding/json"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/regatehq/regate/core/store"
	"github.com/regatehq/regate/internal/testutil"
)

func writeRecords(t *testing.T, logDir, partition string, records []store.Record) {
	t.Helper()
	var buf []byte
	for _, rec := range records {
		raw, err := json.Marshal(rec)
		if err != nil {
			t.Fatalf("marshal fixture record: %v", err)
		}
		buf = append(buf, raw...)
		buf = append(buf, '\n')
	}
	testutil.WriteFile(t, filepath.Join(logDir, partition+".jsonl"), buf)
}

func runCLI(t *testing.T, binPath string, args ...string) (string, int) {
	t.Helper()
	cmd := exec.Command(binPath, args...)
	out, err := cmd.Output()
	if err == nil {
		return string(out), 0
	}
	return string(out), testutil.CommandExitCode(t, err)
}

// TestCLIGateScenarios drives the real regate binary through the
// scenarios a CI pipeline actually hits: a clean gate, an S1
// regression, a flaky case surfaced in the stability table, a
// latency spike, a per-case floor breach, and a run with no baseline
// on record yet.
func TestCLIGateScenarios(t *testing.T) {
	binPath := testutil.BuildRegateBinary(t, testutil.RepoRoot(t))

	t.Run("green gate passes", func(t *testing.T) {
		logDir := t.TempDir()
		baselineDir := t.TempDir()
		writeRecords(t, logDir, "20260101", []store.Record{
			{RunID: "run_current", CaseID: "TC001", Severity: "S1", Passed: true, LatencyMs: 100, TokensTotal: 50},
		})
		writeRecords(t, baselineDir, "20251225", []store.Record{
			{RunID: "run_baseline", CaseID: "TC001", Severity: "S1", Passed: true, LatencyMs: 100, TokensTotal: 50},
		})

		out, code := runCLI(t, binPath, "check", "--log-dir", logDir, "--run-id", "run_current", "--baseline-dir", baselineDir, "--json")
		if code != exitOK {
			t.Fatalf("expected exit 0, got %d: %s", code, out)
		}
		if !containsField(t, out, "PASS") {
			t.Fatalf("expected PASS verdict, got %s", out)
		}
	})

	t.Run("S1 regression fails the gate", func(t *testing.T) {
		logDir := t.TempDir()
		baselineDir := t.TempDir()
		writeRecords(t, logDir, "20260101", []store.Record{
			{RunID: "run_current", CaseID: "TC001", Severity: "S1", Passed: false, FailureType: "quality_fail", LatencyMs: 100, TokensTotal: 50},
		})
		writeRecords(t, baselineDir, "20251225", []store.Record{
			{RunID: "run_baseline", CaseID: "TC001", Severity: "S1", Passed: true, LatencyMs: 100, TokensTotal: 50},
		})

		out, code := runCLI(t, binPath, "check", "--log-dir", logDir, "--run-id", "run_current", "--baseline-dir", baselineDir, "--json")
		if code != exitRunFail {
			t.Fatalf("expected exit %d for regressed S1 case, got %d: %s", exitRunFail, code, out)
		}
		if !containsField(t, out, "FAIL") {
			t.Fatalf("expected FAIL verdict, got %s", out)
		}
	})

	t.Run("flaky case surfaces in stability table", func(t *testing.T) {
		logDir := t.TempDir()
		records := []store.Record{
			{RunID: "run_current", CaseID: "TC002", Severity: "S2", Passed: true, AttemptIndex: 0, LatencyMs: 100, TokensTotal: 50},
			{RunID: "run_current", CaseID: "TC002", Severity: "S2", Passed: false, FailureType: "quality_fail", AttemptIndex: 1, LatencyMs: 100, TokensTotal: 50},
		}
		for i := 0; i < 4; i++ {
			records = append(records, store.Record{
				RunID: "run_current", CaseID: "TC100" + string(rune('a'+i)), Severity: "S1", Passed: true, LatencyMs: 100, TokensTotal: 50,
			})
		}
		writeRecords(t, logDir, "20260101", records)

		out, code := runCLI(t, binPath, "check", "--log-dir", logDir, "--run-id", "run_current", "--json")
		if code != exitOK {
			t.Fatalf("expected exit 0 (S1 and overall floors still met), got %d: %s", code, out)
		}
		var parsed struct {
			Result struct {
				Stability []struct {
					CaseID string `json:"case_id"`
					Flaky  bool   `json:"flaky"`
				} `json:"stability"`
			} `json:"result"`
		}
		if err := json.Unmarshal([]byte(out), &parsed); err != nil {
			t.Fatalf("parse json output: %v\n%s", err, out)
		}
		if len(parsed.Result.Stability) != 1 || !parsed.Result.Stability[0].Flaky {
			t.Fatalf("expected TC002 marked flaky, got %#v", parsed.Result.Stability)
		}
	})

	t.Run("latency spike fails the latency ceiling check", func(t *testing.T) {
		logDir := t.TempDir()
		baselineDir := t.TempDir()
		writeRecords(t, logDir, "20260101", []store.Record{
			{RunID: "run_current", CaseID: "TC003", Severity: "S2", Passed: true, LatencyMs: 1000, TokensTotal: 50},
		})
		writeRecords(t, baselineDir, "20251225", []store.Record{
			{RunID: "run_baseline", CaseID: "TC003", Severity: "S2", Passed: true, LatencyMs: 100, TokensTotal: 50},
		})

		out, code := runCLI(t, binPath, "check", "--log-dir", logDir, "--run-id", "run_current", "--baseline-dir", baselineDir, "--json")
		if code != exitRunFail {
			t.Fatalf("expected exit %d for latency spike, got %d: %s", exitRunFail, code, out)
		}
		if !containsField(t, out, "latency_ceiling") {
			t.Fatalf("expected latency_ceiling check in output, got %s", out)
		}
	})

	t.Run("per-case floor breach fails the gate", func(t *testing.T) {
		logDir := t.TempDir()
		writeRecords(t, logDir, "20260101", []store.Record{
			{RunID: "run_current", CaseID: "TC004", Severity: "S2", Passed: false, FailureType: "quality_fail", LatencyMs: 100, TokensTotal: 50},
		})
		casesPath := filepath.Join(t.TempDir(), "cases.csv")
		testutil.WriteFile(t, casesPath, []byte(
			"case_id,name,input_prompt,expected_output,severity,min_pass_rate\n"+
				"TC004,case four,prompt,expected,S2,0.9\n"))

		out, code := runCLI(t, binPath, "check", "--log-dir", logDir, "--run-id", "run_current", "--cases-file", casesPath, "--json")
		if code != exitRunFail {
			t.Fatalf("expected exit %d for per-case floor breach, got %d: %s", exitRunFail, code, out)
		}
		if !containsField(t, out, "case_floor:TC004") {
			t.Fatalf("expected case_floor:TC004 check in output, got %s", out)
		}
	})

	t.Run("absent baseline still evaluates baseline-independent checks", func(t *testing.T) {
		logDir := t.TempDir()
		writeRecords(t, logDir, "20260101", []store.Record{
			{RunID: "run_current", CaseID: "TC005", Severity: "S1", Passed: true, LatencyMs: 100, TokensTotal: 50},
		})

		out, code := runCLI(t, binPath, "check", "--log-dir", logDir, "--run-id", "run_current", "--json")
		if code != exitOK {
			t.Fatalf("expected exit 0 with no baseline present, got %d: %s", code, out)
		}
		if !containsField(t, out, `"baseline_status":"absent"`) {
			t.Fatalf("expected absent baseline status, got %s", out)
		}
	})
}

func containsField(t *testing.T, out, substr string) bool {
	t.Helper()
	return strings.Contains(out, substr)
}
