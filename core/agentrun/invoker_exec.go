package agentrun

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"time"

	"github.com/regatehq/regate/core/casefile"
)

// ExecInvoker spawns Command once per case, writing the case's
// input_prompt to its stdin as JSON and reading {text, json,
// tokens_total, cost} from its stdout as JSON. The hard per-item
// deadline is enforced by the caller's context.
type ExecInvoker struct {
	Command string
	Args    []string
}

type execRequest struct {
	CaseID      string `json:"case_id"`
	InputPrompt string `json:"input_prompt"`
}

type execResponse struct {
	Text        string          `json:"text"`
	JSON        json.RawMessage `json:"json,omitempty"`
	TokensTotal int             `json:"tokens_total"`
	Cost        float64         `json:"cost"`
	ErrorType   string          `json:"error_type,omitempty"`
}

func (e ExecInvoker) Invoke(ctx context.Context, c casefile.Case) (Outcome, error) {
	reqBody, err := json.Marshal(execRequest{CaseID: c.CaseID, InputPrompt: c.InputPrompt})
	if err != nil {
		return Outcome{}, fmt.Errorf("marshal invoker request: %w", err)
	}

	start := time.Now()
	// #nosec G204 -- command is explicit operator-supplied CLI configuration (--invoker-cmd).
	cmd := exec.CommandContext(ctx, e.Command, e.Args...)
	cmd.Stdin = bytes.NewReader(reqBody)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()
	latency := float64(time.Since(start).Microseconds()) / 1000.0

	if ctx.Err() != nil {
		return Outcome{LatencyMs: latency}, ctx.Err()
	}
	if runErr != nil {
		return Outcome{LatencyMs: latency, ErrorType: "provider_error"}, fmt.Errorf("invoker command failed: %w: %s", runErr, stderr.String())
	}

	var resp execResponse
	if err := json.Unmarshal(stdout.Bytes(), &resp); err != nil {
		return Outcome{Text: stdout.String(), LatencyMs: latency}, nil
	}

	return Outcome{
		Text:        resp.Text,
		JSON:        resp.JSON,
		TokensTotal: resp.TokensTotal,
		Cost:        resp.Cost,
		LatencyMs:   latency,
		ErrorType:   resp.ErrorType,
	}, nil
}
