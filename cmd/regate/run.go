package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/regatehq/regate/core/agentrun"
	"github.com/regatehq/regate/core/casefile"
	"github.com/regatehq/regate/core/obslog"
	"github.com/regatehq/regate/core/store"
)

type runOutput struct {
	SchemaID      string `json:"schema_id,omitempty"`
	SchemaVersion string `json:"schema_version,omitempty"`
	RunID         string `json:"run_id,omitempty"`
	Total         int    `json:"total,omitempty"`
	Passed        int    `json:"passed,omitempty"`
	Failed        int    `json:"failed,omitempty"`
	WriteFails    int    `json:"write_fails,omitempty"`
	Error         string `json:"error,omitempty"`
	CorrelationID string `json:"correlation_id,omitempty"`
}

func runRun(arguments []string, logger *obslog.Logger, correlationID string) int {
	if hasExplainFlag(arguments) {
		return writeExplain("Execute every case in --cases against the configured invoker, repeated --repeat times each, and append one record per attempt to --log-dir.")
	}
	arguments = reorderInterspersedFlags(arguments, map[string]bool{
		"cases": true, "log-dir": true, "run-id": true, "invoker-cmd": true,
		"repeat": true, "concurrency": true, "timeout": true,
	})

	flagSet := flag.NewFlagSet("run", flag.ContinueOnError)
	flagSet.SetOutput(io.Discard)

	var casesPath string
	var logDir string
	var runID string
	var invokerCmd string
	var repeat int
	var concurrency int
	var timeoutSeconds float64
	var jsonOutput bool
	var helpFlag bool
	var verbose bool

	flagSet.StringVar(&casesPath, "cases", "", "path to cases CSV file (also accepted as a bare positional argument)")
	flagSet.StringVar(&logDir, "log-dir", "./regate-out", "record log directory")
	flagSet.StringVar(&runID, "run-id", "", "run identifier (defaults to a timestamp-derived id)")
	flagSet.StringVar(&invokerCmd, "invoker-cmd", "", "command to exec once per case attempt; omit to use the offline mock invoker")
	flagSet.IntVar(&repeat, "repeat", 1, "number of attempts per case")
	flagSet.IntVar(&concurrency, "concurrency", 4, "maximum concurrent case attempts")
	flagSet.Float64Var(&timeoutSeconds, "timeout", 30, "per-attempt deadline in seconds")
	flagSet.BoolVar(&jsonOutput, "json", false, "emit JSON output")
	flagSet.BoolVar(&helpFlag, "help", false, "show help")
	flagSet.BoolVar(&verbose, "v", false, "log per-case progress in addition to the run summary")

	if err := flagSet.Parse(arguments); err != nil {
		return writeRunOutput(jsonOutput, correlationID, runOutput{Error: err.Error()}, exitCodeForError(err, exitUsage))
	}
	if helpFlag {
		printRunUsage()
		return exitOK
	}
	if len(flagSet.Args()) > 1 {
		return writeRunOutput(jsonOutput, correlationID, runOutput{Error: "unexpected positional arguments"}, exitUsage)
	}
	if strings.TrimSpace(casesPath) == "" && len(flagSet.Args()) == 1 {
		casesPath = flagSet.Arg(0)
	}
	if strings.TrimSpace(casesPath) == "" {
		return writeRunOutput(jsonOutput, correlationID, runOutput{Error: "missing required cases file (--cases <path> or a positional argument)"}, exitUsage)
	}

	cases, err := casefile.Load(casesPath)
	if err != nil {
		return writeRunOutput(jsonOutput, correlationID, runOutput{Error: err.Error()}, exitCodeForError(err, exitUsage))
	}

	if strings.TrimSpace(runID) == "" {
		runID = time.Now().UTC().Format("20060102T150405Z")
	}

	var invoker agentrun.Invoker = agentrun.MockInvoker{}
	if trimmed := strings.TrimSpace(invokerCmd); trimmed != "" {
		parts := strings.Fields(trimmed)
		invoker = agentrun.ExecInvoker{Command: parts[0], Args: parts[1:]}
	}

	var onItem func(store.Record)
	if verbose {
		onItem = func(rec store.Record) {
			logger.Info("case complete", map[string]any{
				"case_id":      rec.CaseID,
				"attempt":      rec.AttemptIndex,
				"passed":       rec.Passed,
				"failure_type": rec.FailureType,
				"latency_ms":   rec.LatencyMs,
			})
		}
	}

	report, err := agentrun.Run(context.Background(), agentrun.Options{
		Cases:       cases,
		Invoker:     invoker,
		RunID:       runID,
		RepeatN:     repeat,
		Concurrency: concurrency,
		Timeout:     time.Duration(timeoutSeconds * float64(time.Second)),
		LogDir:      logDir,
		OnItem:      onItem,
	}, func(writeErr error) {
		logger.WriteFailure(runID, "", writeErr)
	})
	if err != nil {
		return writeRunOutput(jsonOutput, correlationID, runOutput{Error: err.Error()}, exitCodeForError(err, exitUsage))
	}

	exitCode := exitOK
	if !report.AllPassed() {
		exitCode = exitRunFail
	}

	return writeRunOutput(jsonOutput, correlationID, runOutput{
		SchemaID:      "regate.run.report",
		SchemaVersion: "1.0.0",
		RunID:         report.RunID,
		Total:         report.Total,
		Passed:        report.Passed,
		Failed:        report.Failed,
		WriteFails:    report.WriteFails,
	}, exitCode)
}

func writeRunOutput(jsonOutput bool, correlationID string, output runOutput, exitCode int) int {
	output.CorrelationID = correlationID
	if jsonOutput {
		return writeJSONOutput(output, exitCode)
	}
	if output.Error != "" {
		fmt.Printf("run error: %s\n", output.Error)
		return exitCode
	}
	fmt.Printf("run %s: total=%d passed=%d failed=%d write_fails=%d\n",
		output.RunID, output.Total, output.Passed, output.Failed, output.WriteFails)
	return exitCode
}

func printRunUsage() {
	fmt.Println("Usage:")
	fmt.Println("  regate run <cases-file> [--log-dir <path>] [--run-id <id>] [--invoker-cmd <cmd>] [--repeat <n>] [--concurrency <n>] [--timeout <seconds>] [--json] [--explain] [-v]")
}
