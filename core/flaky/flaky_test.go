package flaky

import (
	"testing"

	"github.com/regatehq/regate/core/store"
)

func TestComputeSkipsCasesBelowMinRuns(t *testing.T) {
	records := []store.Record{{CaseID: "TC001", Passed: true}}
	stats := Compute(records, 2)
	if len(stats) != 0 {
		t.Fatalf("expected no stats below min runs, got %#v", stats)
	}
}

func TestComputeMarksFlakyWhenMixedOutcomes(t *testing.T) {
	records := []store.Record{
		{CaseID: "TC001", Severity: "S1", Passed: true},
		{CaseID: "TC001", Severity: "S1", Passed: false},
	}
	stats := Compute(records, 2)
	if len(stats) != 1 || !stats[0].Flaky {
		t.Fatalf("expected flaky case, got %#v", stats)
	}
	if stats[0].PassRate != 0.5 {
		t.Fatalf("expected pass rate 0.5, got %v", stats[0].PassRate)
	}
}

func TestComputeNotFlakyWhenAllAgree(t *testing.T) {
	records := []store.Record{
		{CaseID: "TC001", Passed: true},
		{CaseID: "TC001", Passed: true},
	}
	stats := Compute(records, 2)
	if len(stats) != 1 || stats[0].Flaky {
		t.Fatalf("expected non-flaky case, got %#v", stats)
	}
}

func TestComputeSortsBySeverityDescThenCaseIDAsc(t *testing.T) {
	records := []store.Record{
		{CaseID: "TC_STABLE", Severity: "S2", Passed: true},
		{CaseID: "TC_STABLE", Severity: "S2", Passed: true},

		{CaseID: "TC_FLAKY_S2", Severity: "S2", Passed: true},
		{CaseID: "TC_FLAKY_S2", Severity: "S2", Passed: false},

		{CaseID: "TC_FLAKY_S1", Severity: "S1", Passed: true},
		{CaseID: "TC_FLAKY_S1", Severity: "S1", Passed: false},
	}
	stats := Compute(records, 2)
	if len(stats) != 3 {
		t.Fatalf("expected 3 stats, got %d", len(stats))
	}
	got := []string{stats[0].CaseID, stats[1].CaseID, stats[2].CaseID}
	want := []string{"TC_FLAKY_S1", "TC_FLAKY_S2", "TC_STABLE"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected severity-desc then case-id-asc order %v, got %v", want, got)
		}
	}
	if !stats[0].Flaky {
		t.Fatalf("expected S1 case to be marked flaky, got %#v", stats[0])
	}
}

func TestRenderMarkdownEmptyWhenNoStats(t *testing.T) {
	if got := RenderMarkdown(nil); got != "" {
		t.Fatalf("expected empty markdown, got %q", got)
	}
}

func TestRenderMarkdownIncludesCaseRow(t *testing.T) {
	stats := []CaseStability{{CaseID: "TC001", Severity: "S1", Attempts: 2, Passed: 1, Failed: 1, PassRate: 0.5, Flaky: true}}
	out := RenderMarkdown(stats)
	if out == "" {
		t.Fatal("expected non-empty markdown")
	}
}
