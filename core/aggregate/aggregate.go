// Package aggregate folds a flat slice of store.Records into the
// totals, per-severity splits, and per-case statistics that the diff
// and gate stages read.
package aggregate

import (
	"math"
	"sort"

	"github.com/regatehq/regate/core/store"
)

// Totals is a pass/fail count with its derived rate.
type Totals struct {
	Attempts int     `json:"attempts"`
	Pass     int     `json:"pass"`
	PassRate float64 `json:"pass_rate"`
}

// CaseStat is one case's statistics within a Summary.
type CaseStat struct {
	CaseID              string  `json:"case_id"`
	Attempts            int     `json:"attempts"`
	Passes              int     `json:"passes"`
	PassRate            float64 `json:"pass_rate"`
	DominantFailureType string  `json:"dominant_failure_type,omitempty"`
	MedianLatencyMs     float64 `json:"median_latency_ms"`
	P95LatencyMs        float64 `json:"p95_latency_ms"`
	MedianCost          float64 `json:"median_cost"`
	MedianTokens        float64 `json:"median_tokens"`
	LatencyCV           float64 `json:"latency_cv"`
}

// Summary is the derived aggregate over a set of records (one
// run_id, or a baseline window).
type Summary struct {
	Overall    Totals              `json:"overall"`
	S1         Totals              `json:"s1"`
	S2         Totals              `json:"s2"`
	Cases      map[string]CaseStat `json:"cases"`
	LatencyP50 float64             `json:"latency_p50_ms"`
	LatencyP95 float64             `json:"latency_p95_ms"`
}

// Compute folds records into a Summary. Order of records does not
// affect the result.
func Compute(records []store.Record) Summary {
	overall := makeTotals(records)
	s1 := makeTotals(filterSeverity(records, "S1"))
	s2 := makeTotals(filterSeverity(records, "S2"))

	byCase := make(map[string][]store.Record)
	for _, r := range records {
		byCase[r.CaseID] = append(byCase[r.CaseID], r)
	}
	cases := make(map[string]CaseStat, len(byCase))
	for caseID, recs := range byCase {
		cases[caseID] = computeCaseStat(caseID, recs)
	}

	latencies := latenciesOf(records)
	return Summary{
		Overall:    overall,
		S1:         s1,
		S2:         s2,
		Cases:      cases,
		LatencyP50: nearestRankPercentile(latencies, 50),
		LatencyP95: nearestRankPercentile(latencies, 95),
	}
}

func filterSeverity(records []store.Record, severity string) []store.Record {
	var out []store.Record
	for _, r := range records {
		if r.Severity == severity {
			out = append(out, r)
		}
	}
	return out
}

func makeTotals(records []store.Record) Totals {
	t := Totals{Attempts: len(records)}
	for _, r := range records {
		if r.Passed {
			t.Pass++
		}
	}
	if t.Attempts > 0 {
		t.PassRate = float64(t.Pass) / float64(t.Attempts)
	}
	return t
}

func computeCaseStat(caseID string, records []store.Record) CaseStat {
	stat := CaseStat{CaseID: caseID, Attempts: len(records)}
	failureCounts := make(map[string]int)
	var latencies, costs, tokens []float64
	for _, r := range records {
		if r.Passed {
			stat.Passes++
		} else if r.FailureType != "" {
			failureCounts[r.FailureType]++
		}
		latencies = append(latencies, r.LatencyMs)
		costs = append(costs, r.Cost)
		tokens = append(tokens, float64(r.TokensTotal))
	}
	if stat.Attempts > 0 {
		stat.PassRate = float64(stat.Passes) / float64(stat.Attempts)
	}
	stat.DominantFailureType = dominantFailureType(failureCounts)
	stat.MedianLatencyMs = median(latencies)
	stat.P95LatencyMs = nearestRankPercentile(latencies, 95)
	stat.MedianCost = median(costs)
	stat.MedianTokens = median(tokens)
	stat.LatencyCV = coefficientOfVariation(latencies)
	return stat
}

// dominantFailureType returns the most frequent failure type, ties
// broken alphabetically.
func dominantFailureType(counts map[string]int) string {
	if len(counts) == 0 {
		return ""
	}
	names := make([]string, 0, len(counts))
	for name := range counts {
		names = append(names, name)
	}
	sort.Strings(names)

	best := names[0]
	for _, name := range names[1:] {
		if counts[name] > counts[best] {
			best = name
		}
	}
	return best
}

func latenciesOf(records []store.Record) []float64 {
	out := make([]float64, 0, len(records))
	for _, r := range records {
		out = append(out, r.LatencyMs)
	}
	return out
}

func median(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	mid := len(sorted) / 2
	if len(sorted)%2 == 1 {
		return sorted[mid]
	}
	return (sorted[mid-1] + sorted[mid]) / 2
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

// nearestRankPercentile returns the pct-th percentile of values using
// the nearest-rank method on the sorted slice.
func nearestRankPercentile(values []float64, pct int) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	index := int(math.Ceil(float64(pct)/100*float64(len(sorted)))) - 1
	if index < 0 {
		index = 0
	}
	if index >= len(sorted) {
		index = len(sorted) - 1
	}
	return sorted[index]
}
