package gate

import (
	"fmt"
	"strings"

	"github.com/regatehq/regate/core/flaky"
)

// RenderMarkdown formats a Result for a PR comment or CI step
// summary. Rendering is a pure function of result — byte-for-byte
// reproducible given the same input.
func RenderMarkdown(result Result) string {
	var b strings.Builder

	fmt.Fprintf(&b, "# Gate: %s\n\n", result.Verdict)
	fmt.Fprintf(&b, "run `%s`\n\n", result.RunID)

	b.WriteString("## Checks\n\n")
	b.WriteString("| Check | Threshold | Actual | Result | Detail |\n")
	b.WriteString("|-------|-----------|--------|--------|--------|\n")
	for _, c := range result.Checks {
		status := "pass"
		if !c.Passed {
			status = "FAIL"
		}
		fmt.Fprintf(&b, "| %s | %.2f | %.2f | %s | %s |\n", c.Name, c.Threshold, c.Actual, status, c.Detail)
	}
	b.WriteString("\n")

	if result.BaselineStatus == BaselineAbsent {
		b.WriteString("> No baseline available; baseline-dependent checks were skipped.\n\n")
	}

	if len(result.Explanations) > 0 {
		b.WriteString("## Failure Explanations\n\n")
		b.WriteString("| Case | Status | Explanation |\n")
		b.WriteString("|------|--------|-------------|\n")
		for _, d := range result.Explanations {
			fmt.Fprintf(&b, "| %s | %s | %s |\n", d.CaseID, d.Status, d.Explanation)
		}
		b.WriteString("\n")
	}

	if stability := flaky.RenderMarkdown(result.Stability); stability != "" {
		b.WriteString(stability)
		b.WriteString("\n")
	}

	if result.BaselineStatus == BaselinePresent && len(result.TopRegressions) > 0 {
		b.WriteString("## Top Regressions\n\n")
		b.WriteString("| Case | Current | Baseline | Delta |\n")
		b.WriteString("|------|---------|----------|-------|\n")
		for _, r := range result.TopRegressions {
			fmt.Fprintf(&b, "| %s | %.2f%% | %.2f%% | %.2f%% |\n",
				r.CaseID, r.CurrentPassRate*100, r.BaselinePass*100, r.Delta*100)
		}
		b.WriteString("\n")
	}

	fmt.Fprintf(&b, "digest: `%s`\n", result.Digest)
	if result.Signature != nil {
		fmt.Fprintf(&b, "signature: `%s` (key `%s`)\n", result.Signature.Sig, result.Signature.KeyID)
	}

	return b.String()
}
