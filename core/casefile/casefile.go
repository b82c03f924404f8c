// Package casefile parses the tabular case file that declares the
// regression suite: one row per case, validated and returned in file
// order so downstream rendering stays deterministic.
package casefile

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/regatehq/regate/core/rgerr"
)

type Severity string

const (
	SeverityS1 Severity = "S1"
	SeverityS2 Severity = "S2"
)

// Case is a single declarative input row from the suite file.
type Case struct {
	CaseID         string
	Name           string
	InputPrompt    string
	ExpectedOutput string
	Severity       Severity
	Owner          string
	Tags           []string
	MinPassRate    float64
	HasMinPassRate bool
	Category       string
}

// EffectiveMinPassRate returns the per-case floor: the declared
// min_pass_rate when present, otherwise 1.0 for S1 and 0.0 for S2.
func (c Case) EffectiveMinPassRate() float64 {
	if c.HasMinPassRate {
		return c.MinPassRate
	}
	if c.Severity == SeverityS1 {
		return 1.0
	}
	return 0.0
}

// Load parses path as a UTF-8 CSV cases file with a header row and
// returns the cases in file order.
func Load(path string) ([]Case, error) {
	// #nosec G304 -- path is explicit operator-supplied CLI input.
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, rgerr.Wrap(err, rgerr.CategoryUsage, "cases_file_not_found", "check the path passed to run/check", false)
		}
		return nil, rgerr.Wrap(err, rgerr.CategoryIORead, "cases_file_open_failed", "", false)
	}
	defer func() { _ = file.Close() }()
	return parse(file)
}

func parse(r io.Reader) ([]Case, error) {
	reader := csv.NewReader(r)
	reader.ReuseRecord = false

	header, err := reader.Read()
	if err == io.EOF {
		return nil, nil
	}
	if err != nil {
		return nil, rgerr.Wrap(err, rgerr.CategoryParse, "cases_header_invalid", "", false)
	}
	columnIndex := make(map[string]int, len(header))
	for i, name := range header {
		columnIndex[strings.TrimSpace(name)] = i
	}
	for _, required := range []string{"case_id", "name", "input_prompt", "expected_output", "severity"} {
		if _, ok := columnIndex[required]; !ok {
			return nil, rgerr.Wrap(
				fmt.Errorf("missing required column %q", required),
				rgerr.CategoryParse, "cases_column_missing", "", false,
			)
		}
	}

	var cases []Case
	seen := make(map[string]struct{})
	rowNum := 1
	for {
		rowNum++
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, rgerr.Wrap(fmt.Errorf("row %d: %w", rowNum, err), rgerr.CategoryParse, "cases_row_invalid", "", false)
		}

		get := func(col string) string {
			idx, ok := columnIndex[col]
			if !ok || idx >= len(row) {
				return ""
			}
			return row[idx]
		}

		caseID := strings.TrimSpace(get("case_id"))
		if caseID == "" {
			return nil, rgerr.Wrap(fmt.Errorf("row %d: case_id is empty", rowNum), rgerr.CategoryParse, "cases_case_id_empty", "", false)
		}
		if _, dup := seen[caseID]; dup {
			return nil, rgerr.Wrap(fmt.Errorf("row %d: duplicate case_id %q", rowNum, caseID), rgerr.CategoryParse, "cases_case_id_duplicate", "", false)
		}
		seen[caseID] = struct{}{}

		severity := Severity(strings.ToUpper(strings.TrimSpace(get("severity"))))
		if severity != SeverityS1 && severity != SeverityS2 {
			return nil, rgerr.Wrap(fmt.Errorf("row %d: unknown severity %q", rowNum, get("severity")), rgerr.CategoryParse, "cases_severity_invalid", "", false)
		}

		c := Case{
			CaseID:         caseID,
			Name:           strings.TrimSpace(get("name")),
			InputPrompt:    get("input_prompt"),
			ExpectedOutput: get("expected_output"),
			Severity:       severity,
			Owner:          strings.TrimSpace(get("owner")),
			Category:       strings.TrimSpace(get("category")),
		}

		if raw := strings.TrimSpace(get("tags")); raw != "" {
			c.Tags = splitTags(raw)
		}

		if raw := strings.TrimSpace(get("min_pass_rate")); raw != "" {
			value, err := strconv.ParseFloat(raw, 64)
			if err != nil || value < 0 || value > 1 {
				return nil, rgerr.Wrap(fmt.Errorf("row %d: min_pass_rate %q out of range [0,1]", rowNum, raw), rgerr.CategoryParse, "cases_min_pass_rate_invalid", "", false)
			}
			c.MinPassRate = value
			c.HasMinPassRate = true
		}

		cases = append(cases, c)
	}
	return cases, nil
}

func splitTags(raw string) []string {
	raw = strings.ReplaceAll(raw, "|", ",")
	parts := strings.Split(raw, ",")
	seen := make(map[string]struct{}, len(parts))
	var tags []string
	for _, part := range parts {
		tag := strings.ToLower(strings.TrimSpace(part))
		if tag == "" {
			continue
		}
		if _, ok := seen[tag]; ok {
			continue
		}
		seen[tag] = struct{}{}
		tags = append(tags, tag)
	}
	return tags
}
