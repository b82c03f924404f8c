package gate

import (
	"strings"
	"testing"

	"github.com/regatehq/regate/core/aggregate"
	"github.com/regatehq/regate/core/baseline"
	"github.com/regatehq/regate/core/casefile"
	"github.com/regatehq/regate/core/ruleset"
	"github.com/regatehq/regate/core/store"
)

func TestEvaluateGreenGatePasses(t *testing.T) {
	records := []store.Record{
		{CaseID: "TC001", Severity: "S1", Passed: true},
		{CaseID: "TC002", Severity: "S1", Passed: true},
	}
	current := aggregate.Compute(records)
	bl := baseline.Result{Summary: aggregate.Compute(records), Present: true}

	result := Evaluate(Input{
		RunID:          "run_1",
		Current:        current,
		Baseline:       bl,
		Rules:          ruleset.Default(),
		CurrentRecords: records,
	})
	if result.Verdict != VerdictPass {
		t.Fatalf("expected PASS, got %s: %#v", result.Verdict, result.Checks)
	}
	if len(result.Explanations) != 0 {
		t.Fatalf("expected no explanations for green gate, got %#v", result.Explanations)
	}
	if result.Digest == "" {
		t.Fatal("expected non-empty digest")
	}
}

func TestEvaluateFailsOnS1FloorBreach(t *testing.T) {
	records := []store.Record{
		{CaseID: "TC001", Severity: "S1", Passed: false, FailureType: "quality_fail"},
	}
	current := aggregate.Compute(records)

	result := Evaluate(Input{
		RunID:          "run_1",
		Current:        current,
		Baseline:       baseline.Result{},
		Rules:          ruleset.Default(),
		CurrentRecords: records,
	})
	if result.Verdict != VerdictFail {
		t.Fatalf("expected FAIL, got %s", result.Verdict)
	}
	found := false
	for _, c := range result.Checks {
		if c.Name == "s1_floor" && !c.Passed {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected failing s1_floor check, got %#v", result.Checks)
	}
}

func TestEvaluateBaselineAbsentSkipsRegressionChecks(t *testing.T) {
	records := []store.Record{{CaseID: "TC001", Severity: "S1", Passed: true}}
	current := aggregate.Compute(records)

	result := Evaluate(Input{
		RunID:          "run_1",
		Current:        current,
		Baseline:       baseline.Result{},
		Rules:          ruleset.Default(),
		CurrentRecords: records,
	})
	if result.BaselineStatus != BaselineAbsent {
		t.Fatalf("expected absent baseline status, got %s", result.BaselineStatus)
	}
	for _, c := range result.Checks {
		if c.Name == "new_regression_veto" || c.Name == "latency_ceiling" || c.Name == "token_ceiling" {
			t.Fatalf("expected no baseline-dependent checks, found %s", c.Name)
		}
	}
}

func TestEvaluateNewRegressionVetoFailsGate(t *testing.T) {
	currentRecords := []store.Record{
		{CaseID: "TC001", Severity: "S1", Passed: false, FailureType: "quality_fail"},
	}
	baselineRecords := []store.Record{
		{CaseID: "TC001", Severity: "S1", Passed: true},
	}
	current := aggregate.Compute(currentRecords)
	bl := baseline.Result{Summary: aggregate.Compute(baselineRecords), Present: true}

	rules := ruleset.Default()
	rules.S1MinPassRate = 0

	result := Evaluate(Input{
		RunID:          "run_1",
		Current:        current,
		Baseline:       bl,
		Rules:          rules,
		CurrentRecords: currentRecords,
	})
	if result.Verdict != VerdictFail {
		t.Fatalf("expected FAIL from new regression veto, got %s: %#v", result.Verdict, result.Checks)
	}
}

func TestEvaluatePerCaseFloorFromCasesFile(t *testing.T) {
	records := []store.Record{
		{CaseID: "TC001", Severity: "S2", Passed: false, FailureType: "quality_fail"},
	}
	current := aggregate.Compute(records)
	cases := []casefile.Case{
		{CaseID: "TC001", Severity: casefile.SeverityS2, MinPassRate: 0.9, HasMinPassRate: true},
	}

	result := Evaluate(Input{
		RunID:          "run_1",
		Current:        current,
		Baseline:       baseline.Result{},
		Rules:          ruleset.Default(),
		Cases:          cases,
		CurrentRecords: records,
	})
	found := false
	for _, c := range result.Checks {
		if strings.HasPrefix(c.Name, "case_floor:TC001") && !c.Passed {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected failing per-case floor check, got %#v", result.Checks)
	}
}

func TestRenderMarkdownIncludesVerdictAndDigest(t *testing.T) {
	records := []store.Record{{CaseID: "TC001", Severity: "S1", Passed: true}}
	current := aggregate.Compute(records)
	result := Evaluate(Input{
		RunID:          "run_1",
		Current:        current,
		Baseline:       baseline.Result{},
		Rules:          ruleset.Default(),
		CurrentRecords: records,
	})
	out := RenderMarkdown(result)
	if !strings.Contains(out, "PASS") || !strings.Contains(out, result.Digest) {
		t.Fatalf("expected rendered markdown to include verdict and digest, got %q", out)
	}
}

func TestTopRegressionsSortedBySeverityDescThenCaseIDAsc(t *testing.T) {
	baselineRecords := []store.Record{
		{CaseID: "TC_Z_S2", Severity: "S2", Passed: true},
		{CaseID: "TC_A_S1", Severity: "S1", Passed: true},
		{CaseID: "TC_B_S1", Severity: "S1", Passed: true},
	}
	currentRecords := []store.Record{
		{CaseID: "TC_Z_S2", Severity: "S2", Passed: false},
		{CaseID: "TC_A_S1", Severity: "S1", Passed: false},
		{CaseID: "TC_B_S1", Severity: "S1", Passed: false},
	}
	current := aggregate.Compute(currentRecords)
	bl := baseline.Result{Summary: aggregate.Compute(baselineRecords), Present: true}

	result := Evaluate(Input{
		RunID:          "run_1",
		Current:        current,
		Baseline:       bl,
		Rules:          ruleset.Default(),
		CurrentRecords: currentRecords,
	})

	if len(result.TopRegressions) != 3 {
		t.Fatalf("expected 3 top regressions, got %#v", result.TopRegressions)
	}
	got := []string{
		result.TopRegressions[0].CaseID,
		result.TopRegressions[1].CaseID,
		result.TopRegressions[2].CaseID,
	}
	want := []string{"TC_A_S1", "TC_B_S1", "TC_Z_S2"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected severity-desc then case-id-asc order %v, got %v", want, got)
		}
	}
}

func TestDigestIsDeterministic(t *testing.T) {
	records := []store.Record{{CaseID: "TC001", Severity: "S1", Passed: true}}
	current := aggregate.Compute(records)
	in := Input{RunID: "run_1", Current: current, Rules: ruleset.Default(), CurrentRecords: records}

	a := Evaluate(in)
	b := Evaluate(in)
	if a.Digest != b.Digest {
		t.Fatalf("expected deterministic digest, got %s != %s", a.Digest, b.Digest)
	}
}
