// Package flaky detects cases whose repeated attempts within a single
// run disagree with each other, a signal that correlates poorly with
// a single-attempt pass/fail check.
package flaky

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/regatehq/regate/core/store"
)

// DefaultMinRuns is the minimum number of attempts a case must have
// within a run before it is eligible for flakiness analysis.
const DefaultMinRuns = 2

// CaseStability is one case's repeat-attempt stability within a run.
type CaseStability struct {
	CaseID    string  `json:"case_id"`
	Severity  string  `json:"severity"`
	Attempts  int     `json:"attempts"`
	Passed    int     `json:"passed"`
	Failed    int     `json:"failed"`
	PassRate  float64 `json:"pass_rate"`
	Flaky     bool    `json:"flaky"`
	LatencyCV float64 `json:"latency_cv"`
}

// Compute groups records by case id and reports the stability of any
// case with at least minRuns attempts. minRuns <= 0 uses DefaultMinRuns.
func Compute(records []store.Record, minRuns int) []CaseStability {
	if minRuns <= 0 {
		minRuns = DefaultMinRuns
	}

	byCase := make(map[string][]store.Record)
	for _, r := range records {
		byCase[r.CaseID] = append(byCase[r.CaseID], r)
	}

	var out []CaseStability
	for caseID, recs := range byCase {
		if len(recs) < minRuns {
			continue
		}
		out = append(out, computeStability(caseID, recs))
	}

	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if ra, rb := severityStabilityRank(a.Severity), severityStabilityRank(b.Severity); ra != rb {
			return ra < rb
		}
		return a.CaseID < b.CaseID
	})
	return out
}

// severityStabilityRank orders severities descending (S1 first), with
// unknown/empty severity sorted last.
func severityStabilityRank(severity string) int {
	switch severity {
	case "S1":
		return 0
	case "S2":
		return 1
	default:
		return 2
	}
}

func computeStability(caseID string, records []store.Record) CaseStability {
	stat := CaseStability{CaseID: caseID, Attempts: len(records)}
	var latencies []float64
	for _, r := range records {
		if r.Severity != "" {
			stat.Severity = r.Severity
		}
		if r.Passed {
			stat.Passed++
		} else {
			stat.Failed++
		}
		latencies = append(latencies, r.LatencyMs)
	}
	stat.PassRate = float64(stat.Passed) / float64(stat.Attempts)
	stat.Flaky = stat.Failed > 0 && stat.Passed > 0
	stat.LatencyCV = coefficientOfVariation(latencies)
	return stat
}

func coefficientOfVariation(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	mean := sum / float64(len(values))
	if mean == 0 {
		return 0
	}
	var variance float64
	for _, v := range values {
		diff := v - mean
		variance += diff * diff
	}
	variance /= float64(len(values))
	return math.Sqrt(variance) / mean
}

// RenderMarkdown formats a stability table. Returns "" when stats is
// empty, so callers can skip the section entirely.
func RenderMarkdown(stats []CaseStability) string {
	if len(stats) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("## Stability Report\n\n")
	b.WriteString("| Case | Severity | Attempts | Passed | Failed | Pass Rate | Flaky | Latency CV |\n")
	b.WriteString("|------|----------|----------|--------|--------|-----------|-------|------------|\n")
	for _, s := range stats {
		flaky := ""
		if s.Flaky {
			flaky = "🎲"
		}
		fmt.Fprintf(&b, "| %s | %s | %d | %d | %d | %.0f%% | %s | %.2f |\n",
			s.CaseID, s.Severity, s.Attempts, s.Passed, s.Failed, s.PassRate*100, flaky, s.LatencyCV)
	}
	return b.String()
}
