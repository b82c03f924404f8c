package aggregate

import (
	"testing"

	"github.com/regatehq/regate/core/store"
)

func TestComputeOverallAndSeverityTotals(t *testing.T) {
	records := []store.Record{
		{CaseID: "TC001", Severity: "S1", Passed: true, LatencyMs: 100},
		{CaseID: "TC001", Severity: "S1", Passed: false, FailureType: "timeout", LatencyMs: 200},
		{CaseID: "TC002", Severity: "S2", Passed: true, LatencyMs: 50},
	}
	summary := Compute(records)

	if summary.Overall.Attempts != 3 || summary.Overall.Pass != 2 {
		t.Fatalf("unexpected overall totals: %#v", summary.Overall)
	}
	if summary.S1.Attempts != 2 || summary.S1.Pass != 1 {
		t.Fatalf("unexpected s1 totals: %#v", summary.S1)
	}
	if summary.S2.Attempts != 1 || summary.S2.Pass != 1 {
		t.Fatalf("unexpected s2 totals: %#v", summary.S2)
	}
}

func TestComputeEmptyRecordsYieldsZeroRates(t *testing.T) {
	summary := Compute(nil)
	if summary.Overall.PassRate != 0 || summary.Overall.Attempts != 0 {
		t.Fatalf("expected zero totals for empty input, got %#v", summary.Overall)
	}
}

func TestDominantFailureTypeBreaksTiesAlphabetically(t *testing.T) {
	records := []store.Record{
		{CaseID: "TC001", Passed: false, FailureType: "timeout"},
		{CaseID: "TC001", Passed: false, FailureType: "bad_json"},
	}
	summary := Compute(records)
	if summary.Cases["TC001"].DominantFailureType != "bad_json" {
		t.Fatalf("expected alphabetical tie-break to pick bad_json, got %q", summary.Cases["TC001"].DominantFailureType)
	}
}

func TestDominantFailureTypePicksMostFrequent(t *testing.T) {
	records := []store.Record{
		{CaseID: "TC001", Passed: false, FailureType: "timeout"},
		{CaseID: "TC001", Passed: false, FailureType: "timeout"},
		{CaseID: "TC001", Passed: false, FailureType: "bad_json"},
	}
	summary := Compute(records)
	if summary.Cases["TC001"].DominantFailureType != "timeout" {
		t.Fatalf("expected timeout as most frequent, got %q", summary.Cases["TC001"].DominantFailureType)
	}
}

func TestPercentilesUseNearestRank(t *testing.T) {
	records := []store.Record{
		{CaseID: "TC001", LatencyMs: 10},
		{CaseID: "TC001", LatencyMs: 20},
		{CaseID: "TC001", LatencyMs: 30},
		{CaseID: "TC001", LatencyMs: 40},
	}
	summary := Compute(records)
	if summary.LatencyP50 != 20 {
		t.Fatalf("expected p50=20, got %v", summary.LatencyP50)
	}
	if summary.LatencyP95 != 40 {
		t.Fatalf("expected p95=40, got %v", summary.LatencyP95)
	}
}

func TestLatencyCVZeroWhenMeanZero(t *testing.T) {
	records := []store.Record{
		{CaseID: "TC001", LatencyMs: 0},
		{CaseID: "TC001", LatencyMs: 0},
	}
	summary := Compute(records)
	if summary.Cases["TC001"].LatencyCV != 0 {
		t.Fatalf("expected zero CV when mean is zero, got %v", summary.Cases["TC001"].LatencyCV)
	}
}
