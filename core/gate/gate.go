// Package gate evaluates the resolved Ruleset against a current run
// and an optional baseline, producing a pass/fail verdict and its
// rendered explanation.
package gate

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/regatehq/regate/core/aggregate"
	"github.com/regatehq/regate/core/baseline"
	"github.com/regatehq/regate/core/casefile"
	"github.com/regatehq/regate/core/diffengine"
	"github.com/regatehq/regate/core/flaky"
	"github.com/regatehq/regate/core/jcs"
	"github.com/regatehq/regate/core/ruleset"
	"github.com/regatehq/regate/core/sign"
	"github.com/regatehq/regate/core/store"
)

// Verdict is the binary gate outcome.
type Verdict string

const (
	VerdictPass Verdict = "PASS"
	VerdictFail Verdict = "FAIL"
)

// BaselineStatus records whether a baseline was available for
// comparison.
type BaselineStatus string

const (
	BaselinePresent BaselineStatus = "present"
	BaselineAbsent  BaselineStatus = "absent"
)

// Check is one named threshold evaluation contributing to the
// verdict.
type Check struct {
	Name      string  `json:"name"`
	Threshold float64 `json:"threshold"`
	Actual    float64 `json:"actual"`
	Passed    bool    `json:"passed"`
	Detail    string  `json:"detail,omitempty"`
}

// Result is the full output of a gate evaluation.
type Result struct {
	RunID          string                  `json:"run_id"`
	Verdict        Verdict                 `json:"verdict"`
	Checks         []Check                 `json:"checks"`
	Explanations   []diffengine.Diff       `json:"explanations"`
	Stability      []flaky.CaseStability   `json:"stability"`
	BaselineStatus BaselineStatus          `json:"baseline_status"`
	TopRegressions []Regression            `json:"top_regressions,omitempty"`
	Digest         string                  `json:"digest"`
	Signature      *sign.Signature         `json:"signature,omitempty"`
}

// Regression is one case ranked by pass-rate decline for the "Top
// Regressions" report section.
type Regression struct {
	CaseID          string  `json:"case_id"`
	Severity        string  `json:"severity,omitempty"`
	CurrentPassRate float64 `json:"current_pass_rate"`
	BaselinePass    float64 `json:"baseline_pass_rate"`
	Delta           float64 `json:"delta"`
}

// Input bundles everything Evaluate needs. Only the Cases that
// declare a min_pass_rate get a per-case floor check.
type Input struct {
	RunID            string
	Current          aggregate.Summary
	Baseline         baseline.Result
	Rules            ruleset.Ruleset
	Cases            []casefile.Case
	CurrentRecords   []store.Record
	FlakinessRecords []store.Record
}

// Evaluate runs every check, builds explanations and stability data,
// and returns the complete, digested Result. An empty current run
// adds a failing "run_has_records" check, which forces a FAIL verdict.
func Evaluate(in Input) Result {
	var checks []Check
	if len(in.CurrentRecords) == 0 {
		checks = append(checks, Check{Name: "run_has_records", Passed: false, Detail: "no records for run_id"})
	}
	checks = append(checks, s1FloorCheck(in.Rules, in.Current))
	checks = append(checks, overallFloorCheck(in.Rules, in.Current))
	checks = append(checks, perCaseFloorChecks(in.Cases, in.Current)...)

	var explanations []diffengine.Diff
	var topRegressions []Regression
	baselineStatus := BaselineAbsent

	if in.Baseline.Present {
		baselineStatus = BaselinePresent
		explanations = diffengine.Compute(in.Current, in.Baseline.Summary, in.Rules, in.CurrentRecords, nil)

		if in.Rules.FailOnNewRegression {
			checks = append(checks, newRegressionCheck(explanations))
		}
		checks = append(checks, latencyCeilingCheck(explanations))
		checks = append(checks, tokenCeilingCheck(explanations))

		topRegressions = computeTopRegressions(in.Current, in.Baseline.Summary, in.Rules.TopN, in.CurrentRecords)
	} else {
		explanations = diffengine.Compute(in.Current, aggregate.Summary{}, in.Rules, in.CurrentRecords, nil)
	}

	verdict := VerdictPass
	for _, c := range checks {
		if !c.Passed {
			verdict = VerdictFail
			break
		}
	}

	result := Result{
		RunID:          in.RunID,
		Verdict:        verdict,
		Checks:         checks,
		Explanations:   filterExplanations(explanations),
		Stability:      flaky.Compute(in.FlakinessRecords, flaky.DefaultMinRuns),
		BaselineStatus: baselineStatus,
		TopRegressions: topRegressions,
	}
	result.Digest = digestResult(result)
	return result
}

// Sign attaches a provenance signature over the result's digest.
func Sign(result Result, signer func(digest string) (sign.Signature, error)) (Result, error) {
	sig, err := signer(result.Digest)
	if err != nil {
		return result, err
	}
	result.Signature = &sig
	return result, nil
}

func s1FloorCheck(rules ruleset.Ruleset, summary aggregate.Summary) Check {
	return Check{
		Name:      "s1_floor",
		Threshold: rules.S1MinPassRate,
		Actual:    summary.S1.PassRate,
		Passed:    summary.S1.PassRate >= rules.S1MinPassRate,
		Detail:    fmt.Sprintf("S1 pass rate %.2f%% (floor %.2f%%)", summary.S1.PassRate*100, rules.S1MinPassRate*100),
	}
}

func overallFloorCheck(rules ruleset.Ruleset, summary aggregate.Summary) Check {
	return Check{
		Name:      "overall_floor",
		Threshold: rules.OverallMinPassRate,
		Actual:    summary.Overall.PassRate,
		Passed:    summary.Overall.PassRate >= rules.OverallMinPassRate,
		Detail:    fmt.Sprintf("overall pass rate %.2f%% (floor %.2f%%)", summary.Overall.PassRate*100, rules.OverallMinPassRate*100),
	}
}

func perCaseFloorChecks(cases []casefile.Case, summary aggregate.Summary) []Check {
	var checks []Check
	for _, c := range cases {
		if !c.HasMinPassRate {
			continue
		}
		stat, ok := summary.Cases[c.CaseID]
		actual := 0.0
		if ok {
			actual = stat.PassRate
		}
		checks = append(checks, Check{
			Name:      fmt.Sprintf("case_floor:%s", c.CaseID),
			Threshold: c.MinPassRate,
			Actual:    actual,
			Passed:    actual >= c.MinPassRate,
			Detail:    fmt.Sprintf("%s pass rate %.2f%% (floor %.2f%%)", c.CaseID, actual*100, c.MinPassRate*100),
		})
	}
	return checks
}

func newRegressionCheck(diffs []diffengine.Diff) Check {
	var regressed []string
	for _, d := range diffs {
		if hasStatus(d, diffengine.StatusRegressedNew) {
			regressed = append(regressed, d.CaseID)
		}
	}
	check := Check{Name: "new_regression_veto", Threshold: 0, Actual: float64(len(regressed)), Passed: len(regressed) == 0}
	if len(regressed) > 0 {
		check.Detail = fmt.Sprintf("newly regressed: %s", strings.Join(regressed, ", "))
	}
	return check
}

func latencyCeilingCheck(diffs []diffengine.Diff) Check {
	var spiked []string
	for _, d := range diffs {
		if hasStatus(d, diffengine.StatusLatencySpike) {
			spiked = append(spiked, d.CaseID)
		}
	}
	check := Check{Name: "latency_ceiling", Threshold: 0, Actual: float64(len(spiked)), Passed: len(spiked) == 0}
	if len(spiked) > 0 {
		check.Detail = fmt.Sprintf("latency spikes: %s", strings.Join(spiked, ", "))
	}
	return check
}

func tokenCeilingCheck(diffs []diffengine.Diff) Check {
	var inflated []string
	for _, d := range diffs {
		if hasStatus(d, diffengine.StatusTokenInflation) {
			inflated = append(inflated, d.CaseID)
		}
	}
	check := Check{Name: "token_ceiling", Threshold: 0, Actual: float64(len(inflated)), Passed: len(inflated) == 0}
	if len(inflated) > 0 {
		check.Detail = fmt.Sprintf("token inflation: %s", strings.Join(inflated, ", "))
	}
	return check
}

func hasStatus(d diffengine.Diff, status diffengine.Status) bool {
	for _, s := range d.Statuses {
		if s == status {
			return true
		}
	}
	return false
}

func filterExplanations(diffs []diffengine.Diff) []diffengine.Diff {
	var out []diffengine.Diff
	for _, d := range diffs {
		if d.Status == diffengine.StatusStable || d.Status == diffengine.StatusImproved {
			continue
		}
		out = append(out, d)
	}
	return out
}

// computeTopRegressions selects the topN worst pass-rate declines,
// then orders the selection by (severity desc, case_id asc) to match
// every other table's row order.
func computeTopRegressions(current, baselineSummary aggregate.Summary, topN int, currentRecords []store.Record) []Regression {
	if topN <= 0 {
		topN = 5
	}
	severityByCase := make(map[string]string, len(currentRecords))
	for _, r := range currentRecords {
		if r.Severity != "" {
			severityByCase[r.CaseID] = r.Severity
		}
	}

	var regressions []Regression
	for caseID, curStat := range current.Cases {
		blStat, ok := baselineSummary.Cases[caseID]
		if !ok {
			continue
		}
		delta := curStat.PassRate - blStat.PassRate
		if delta >= 0 {
			continue
		}
		regressions = append(regressions, Regression{
			CaseID:          caseID,
			Severity:        severityByCase[caseID],
			CurrentPassRate: curStat.PassRate,
			BaselinePass:    blStat.PassRate,
			Delta:           delta,
		})
	}
	sort.Slice(regressions, func(i, j int) bool {
		if regressions[i].Delta != regressions[j].Delta {
			return regressions[i].Delta < regressions[j].Delta
		}
		return regressions[i].CaseID < regressions[j].CaseID
	})
	if len(regressions) > topN {
		regressions = regressions[:topN]
	}
	sort.Slice(regressions, func(i, j int) bool {
		si, sj := severityRegressionRank(regressions[i].Severity), severityRegressionRank(regressions[j].Severity)
		if si != sj {
			return si < sj
		}
		return regressions[i].CaseID < regressions[j].CaseID
	})
	return regressions
}

// severityRegressionRank orders severities descending (S1 first),
// with unknown/empty severity sorted last.
func severityRegressionRank(severity string) int {
	switch severity {
	case "S1":
		return 0
	case "S2":
		return 1
	default:
		return 2
	}
}

func digestResult(result Result) string {
	payload := result
	payload.Digest = ""
	payload.Signature = nil
	raw, err := json.Marshal(payload)
	if err != nil {
		return ""
	}
	digest, err := jcs.DigestJCS(raw)
	if err != nil {
		return ""
	}
	return digest
}
