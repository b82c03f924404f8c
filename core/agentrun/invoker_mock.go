package agentrun

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/json"

	"github.com/regatehq/regate/core/casefile"
)

// MockInvoker returns deterministic, seeded responses so a suite can
// be exercised offline in CI without a live agent behind it. When a
// case's expected_output looks like a literal target it is echoed
// back verbatim (a trivially-passing mock); when it looks like a
// schema, a minimal object satisfying the schema's declared
// properties is synthesized.
type MockInvoker struct{}

func (MockInvoker) Invoke(_ context.Context, c casefile.Case) (Outcome, error) {
	latency := seededLatency(c.CaseID)

	if looksLikeSchema(c.ExpectedOutput) {
		body, err := synthesizeFromSchema(c.ExpectedOutput)
		if err != nil {
			return Outcome{LatencyMs: latency, ErrorType: "provider_error"}, nil
		}
		return Outcome{
			JSON:        body,
			Text:        string(body),
			TokensTotal: seededTokens(c.CaseID),
			Cost:        0,
			LatencyMs:   latency,
		}, nil
	}

	return Outcome{
		Text:        c.ExpectedOutput,
		TokensTotal: seededTokens(c.CaseID),
		Cost:        0,
		LatencyMs:   latency,
	}, nil
}

func synthesizeFromSchema(schemaDoc string) (json.RawMessage, error) {
	var doc struct {
		Properties map[string]struct {
			Type string `json:"type"`
		} `json:"properties"`
	}
	if err := json.Unmarshal([]byte(schemaDoc), &doc); err != nil {
		return nil, err
	}
	out := make(map[string]any, len(doc.Properties))
	for name, prop := range doc.Properties {
		out[name] = zeroValueFor(prop.Type)
	}
	return json.Marshal(out)
}

func zeroValueFor(jsonType string) any {
	switch jsonType {
	case "string":
		return ""
	case "integer", "number":
		return 0
	case "boolean":
		return false
	case "array":
		return []any{}
	case "object":
		return map[string]any{}
	default:
		return nil
	}
}

func seededLatency(caseID string) float64 {
	return float64(100 + seedOf(caseID)%400)
}

func seededTokens(caseID string) int {
	return int(50 + seedOf(caseID)%200)
}

func seedOf(caseID string) uint64 {
	sum := sha256.Sum256([]byte(caseID))
	return binary.BigEndian.Uint64(sum[:8])
}
