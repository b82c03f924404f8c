// Package diffengine compares a current run against a baseline and
// produces a deterministic, per-case explanation of what changed.
package diffengine

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/regatehq/regate/core/aggregate"
	"github.com/regatehq/regate/core/ruleset"
	"github.com/regatehq/regate/core/store"
)

// Status is a per-case diff classification.
type Status string

const (
	StatusRegressedNew        Status = "regressed_new"
	StatusRegressedTypeChange Status = "regressed_type_change"
	StatusSchemaDiverged      Status = "schema_diverged"
	StatusLatencySpike        Status = "latency_spike"
	StatusTokenInflation      Status = "token_inflation"
	StatusImproved            Status = "improved"
	StatusUnseen              Status = "unseen"
	StatusStable              Status = "stable"
)

// canonicalOrder is the fixed order explanation facts are joined in.
var canonicalOrder = []Status{
	StatusRegressedNew,
	StatusRegressedTypeChange,
	StatusSchemaDiverged,
	StatusLatencySpike,
	StatusTokenInflation,
	StatusImproved,
	StatusUnseen,
	StatusStable,
}

// SchemaDiff is the field-level JSON key divergence detail attached
// to S1 cases whose dominant failure type changed.
type SchemaDiff struct {
	MissingKeys []string          `json:"missing_keys,omitempty"`
	ExtraKeys   []string          `json:"extra_keys,omitempty"`
	TypeChanges map[string]string `json:"type_changes,omitempty"`
}

// Diff is the per-case comparison result.
type Diff struct {
	CaseID      string      `json:"case_id"`
	Status      Status      `json:"status"`
	Statuses    []Status    `json:"statuses"`
	Explanation string      `json:"explanation"`
	SchemaDiff  *SchemaDiff `json:"schema_diff,omitempty"`
}

// Compute returns one Diff per case seen in either current or
// baseline, sorted by (severity desc, case id asc) for deterministic
// rendering.
func Compute(current, baselineSummary aggregate.Summary, rules ruleset.Ruleset, currentRecords, baselineRecords []store.Record) []Diff {
	caseIDs := make(map[string]struct{})
	for id := range current.Cases {
		caseIDs[id] = struct{}{}
	}
	for id := range baselineSummary.Cases {
		caseIDs[id] = struct{}{}
	}
	ids := make([]string, 0, len(caseIDs))
	for id := range caseIDs {
		ids = append(ids, id)
	}

	severityByCase := severityIndex(currentRecords, baselineRecords)

	sort.Slice(ids, func(i, j int) bool {
		si, sj := severityByCase[ids[i]], severityByCase[ids[j]]
		if si != sj {
			return severityRank(si) < severityRank(sj)
		}
		return ids[i] < ids[j]
	})

	diffs := make([]Diff, 0, len(ids))
	for _, id := range ids {
		diffs = append(diffs, computeOne(id, current, baselineSummary, rules, currentRecords, baselineRecords, severityByCase[id]))
	}
	return diffs
}

// severityRank orders severities descending (S1 most severe first),
// with unknown/empty severity sorted last.
func severityRank(severity string) int {
	switch severity {
	case "S1":
		return 0
	case "S2":
		return 1
	default:
		return 2
	}
}

func computeOne(caseID string, current, baselineSummary aggregate.Summary, rules ruleset.Ruleset, currentRecords, baselineRecords []store.Record, severity string) Diff {
	curStat, curOK := current.Cases[caseID]
	blStat, blOK := baselineSummary.Cases[caseID]

	var statuses []Status
	if !blOK {
		statuses = append(statuses, StatusUnseen)
	} else if curOK {
		if blStat.PassRate == 1.0 && curStat.Passes < curStat.Attempts {
			statuses = append(statuses, StatusRegressedNew)
		}
		if curStat.DominantFailureType != "" && blStat.DominantFailureType != "" && curStat.DominantFailureType != blStat.DominantFailureType {
			statuses = append(statuses, StatusRegressedTypeChange)
		}
		if isSchemaFailure(curStat.DominantFailureType) && !isSchemaFailure(blStat.DominantFailureType) {
			statuses = append(statuses, StatusSchemaDiverged)
		}
		if ratio, ok := positiveRatio(curStat.P95LatencyMs, blStat.P95LatencyMs); ok && rules.LatencyP95MaxRatio > 0 && ratio > rules.LatencyP95MaxRatio {
			statuses = append(statuses, StatusLatencySpike)
		}
		if ratio, ok := positiveRatio(curStat.MedianTokens, blStat.MedianTokens); ok && rules.TokenDeltaMaxRatio > 0 && ratio > rules.TokenDeltaMaxRatio {
			statuses = append(statuses, StatusTokenInflation)
		}
		if curStat.PassRate > blStat.PassRate && curStat.Passes-blStat.Passes >= 1 {
			statuses = append(statuses, StatusImproved)
		}
	}
	if len(statuses) == 0 {
		statuses = []Status{StatusStable}
	}

	var schemaDiff *SchemaDiff
	if curOK && blOK && severity == "S1" && curStat.DominantFailureType != blStat.DominantFailureType {
		schemaDiff = detectSchemaDiff(caseID, currentRecords, baselineRecords)
	}

	ordered := orderedStatuses(statuses)
	return Diff{
		CaseID:      caseID,
		Status:      ordered[0],
		Statuses:    ordered,
		Explanation: explain(ordered, schemaDiff),
		SchemaDiff:  schemaDiff,
	}
}

func isSchemaFailure(failureType string) bool {
	return failureType == "schema_mismatch" || failureType == "bad_json"
}

func positiveRatio(current, base float64) (float64, bool) {
	if current <= 0 || base <= 0 {
		return 0, false
	}
	return current / base, true
}

// orderedStatuses returns statuses in canonicalOrder.
func orderedStatuses(statuses []Status) []Status {
	present := make(map[Status]bool, len(statuses))
	for _, s := range statuses {
		present[s] = true
	}
	var ordered []Status
	for _, s := range canonicalOrder {
		if present[s] {
			ordered = append(ordered, s)
		}
	}
	return ordered
}

func explain(ordered []Status, schemaDiff *SchemaDiff) string {
	parts := make([]string, 0, len(ordered))
	for _, s := range ordered {
		parts = append(parts, string(s))
	}
	explanation := strings.Join(parts, "; ")
	if schemaDiff != nil {
		if detail := formatSchemaDiff(schemaDiff); detail != "" {
			explanation += "; " + detail
		}
	}
	return explanation
}

func formatSchemaDiff(d *SchemaDiff) string {
	var parts []string
	if len(d.MissingKeys) > 0 {
		parts = append(parts, fmt.Sprintf("missing keys: %s", strings.Join(d.MissingKeys, ", ")))
	}
	if len(d.ExtraKeys) > 0 {
		parts = append(parts, fmt.Sprintf("extra keys: %s", strings.Join(d.ExtraKeys, ", ")))
	}
	if len(d.TypeChanges) > 0 {
		names := make([]string, 0, len(d.TypeChanges))
		for k := range d.TypeChanges {
			names = append(names, k)
		}
		sort.Strings(names)
		changes := make([]string, 0, len(names))
		for _, k := range names {
			changes = append(changes, fmt.Sprintf("%s: %s", k, d.TypeChanges[k]))
		}
		parts = append(parts, fmt.Sprintf("type changes: %s", strings.Join(changes, ", ")))
	}
	return strings.Join(parts, "; ")
}

func severityIndex(currentRecords, baselineRecords []store.Record) map[string]string {
	out := make(map[string]string)
	for _, r := range currentRecords {
		if r.Severity != "" {
			out[r.CaseID] = r.Severity
		}
	}
	for _, r := range baselineRecords {
		if _, ok := out[r.CaseID]; !ok && r.Severity != "" {
			out[r.CaseID] = r.Severity
		}
	}
	return out
}

func detectSchemaDiff(caseID string, currentRecords, baselineRecords []store.Record) *SchemaDiff {
	curKeys, curTypes := collectKeys(caseID, currentRecords, true)
	blKeys, blTypes := collectKeys(caseID, baselineRecords, false)

	if len(curKeys) == 0 || len(blKeys) == 0 {
		return nil
	}

	var missing, extra []string
	for k := range blKeys {
		if !curKeys[k] {
			missing = append(missing, k)
		}
	}
	for k := range curKeys {
		if !blKeys[k] {
			extra = append(extra, k)
		}
	}
	sort.Strings(missing)
	sort.Strings(extra)

	typeChanges := make(map[string]string)
	for k, curType := range curTypes {
		if blType, ok := blTypes[k]; ok && blType != curType {
			typeChanges[k] = fmt.Sprintf("%s -> %s", blType, curType)
		}
	}

	if len(missing) == 0 && len(extra) == 0 && len(typeChanges) == 0 {
		return nil
	}
	return &SchemaDiff{MissingKeys: missing, ExtraKeys: extra, TypeChanges: typeChanges}
}

// collectKeys gathers top-level JSON keys and value type names from a
// case's output_json. When failingOnly is true only failed attempts
// are considered (matching the current-period failures that triggered
// the diff); for the baseline side every attempt is eligible.
func collectKeys(caseID string, records []store.Record, failingOnly bool) (map[string]bool, map[string]string) {
	keys := make(map[string]bool)
	types := make(map[string]string)
	for _, r := range records {
		if r.CaseID != caseID || len(r.OutputJSON) == 0 {
			continue
		}
		if failingOnly && r.Passed {
			continue
		}
		var obj map[string]json.RawMessage
		if err := json.Unmarshal(r.OutputJSON, &obj); err != nil {
			continue
		}
		for k, v := range obj {
			keys[k] = true
			types[k] = jsonTypeName(v)
		}
	}
	return keys, types
}

func jsonTypeName(raw json.RawMessage) string {
	var probe any
	if err := json.Unmarshal(raw, &probe); err != nil {
		return "unknown"
	}
	switch probe.(type) {
	case nil:
		return "null"
	case bool:
		return "boolean"
	case float64:
		return "number"
	case string:
		return "string"
	case []any:
		return "array"
	case map[string]any:
		return "object"
	default:
		return "unknown"
	}
}
