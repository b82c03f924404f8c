package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/regatehq/regate/core/aggregate"
	"github.com/regatehq/regate/core/baseline"
	"github.com/regatehq/regate/core/casefile"
	"github.com/regatehq/regate/core/gate"
	"github.com/regatehq/regate/core/obslog"
	"github.com/regatehq/regate/core/ruleset"
	"github.com/regatehq/regate/core/store"
)

// runReport always writes rendered Markdown to --output-file/-o, its
// sole output mode (§4.8); --json additionally mirrors the resolved
// gate.Result to stdout for machine consumption.
func runReport(arguments []string, logger *obslog.Logger, correlationID string) int {
	if hasExplainFlag(arguments) {
		return writeExplain("Aggregate a trailing window of records against a trailing baseline window and write the rendered gate Markdown to --output-file.")
	}
	arguments = reorderInterspersedFlags(arguments, map[string]bool{
		"log-dir": true, "days": true, "baseline-days": true, "config": true,
		"cases-file": true, "output-file": true, "o": true,
	})

	flagSet := flag.NewFlagSet("report", flag.ContinueOnError)
	flagSet.SetOutput(io.Discard)

	var logDir string
	var days int
	var baselineDays int
	var configPath string
	var casesPath string
	var outputFile string
	var jsonOutput bool
	var helpFlag bool
	var verbose bool

	flagSet.StringVar(&logDir, "log-dir", "./regate-out", "record log directory")
	flagSet.IntVar(&days, "days", 1, "trailing window in days to treat as the current period")
	flagSet.IntVar(&baselineDays, "baseline-days", 7, "trailing window in days, ending where the current period starts, to treat as baseline")
	flagSet.StringVar(&configPath, "config", "", "path to .regate.yml")
	flagSet.StringVar(&casesPath, "cases-file", "", "path to cases CSV for per-case floors")
	flagSet.StringVar(&outputFile, "output-file", "", "path to write the rendered Markdown report")
	flagSet.StringVar(&outputFile, "o", "", "shorthand for --output-file")
	flagSet.BoolVar(&jsonOutput, "json", false, "also emit the resolved result as JSON to stdout")
	flagSet.BoolVar(&helpFlag, "help", false, "show help")
	flagSet.BoolVar(&verbose, "v", false, "log each resolved check in addition to the report summary")

	if err := flagSet.Parse(arguments); err != nil {
		return writeReportError(err, exitCodeForError(err, exitUsage))
	}
	if helpFlag {
		printReportUsage()
		return exitOK
	}
	if len(flagSet.Args()) > 0 {
		return writeReportError(fmt.Errorf("unexpected positional arguments"), exitUsage)
	}
	if strings.TrimSpace(outputFile) == "" {
		return writeReportError(fmt.Errorf("missing required --output-file <path> (or -o)"), exitUsage)
	}

	cfg, err := ruleset.LoadConfig(configPath)
	if err != nil {
		return writeReportError(err, exitCodeForError(err, exitUsage))
	}
	rules := cfg.Resolve(nil, nil, ruleset.Overrides{})

	var cases []casefile.Case
	if strings.TrimSpace(casesPath) != "" {
		cases, err = casefile.Load(casesPath)
		if err != nil {
			return writeReportError(err, exitCodeForError(err, exitUsage))
		}
	}

	now := time.Now().UTC()
	currentStart := now.AddDate(0, 0, -days)
	currentRecords, err := store.ReadWindow(logDir, currentStart, now)
	if err != nil {
		return writeReportError(err, exitCodeForError(err, exitUsage))
	}

	bl, err := baseline.FromTrailingWindow(logDir, baselineDays, "", currentStart)
	if err != nil {
		return writeReportError(err, exitCodeForError(err, exitUsage))
	}

	result := gate.Evaluate(gate.Input{
		RunID:            fmt.Sprintf("window_%s", now.Format("20060102T150405Z")),
		Current:          aggregate.Compute(currentRecords),
		Baseline:         bl,
		Rules:            rules,
		Cases:            cases,
		CurrentRecords:   currentRecords,
		FlakinessRecords: currentRecords,
	})

	if verbose {
		for _, check := range result.Checks {
			logger.Info("check resolved", map[string]any{
				"name":   check.Name,
				"passed": check.Passed,
				"detail": check.Detail,
			})
		}
	}

	rendered := gate.RenderMarkdown(result)
	if err := os.WriteFile(outputFile, []byte(rendered), 0o600); err != nil {
		logger.WriteFailure(result.RunID, "", err)
		return writeReportError(err, exitIOFailed)
	}

	exitCode := exitOK
	if result.Verdict == gate.VerdictFail {
		exitCode = exitRunFail
	}
	if jsonOutput {
		return writeJSONOutput(withCheckEnvelope(result, correlationID), exitCode)
	}
	fmt.Printf("report written to %s (%s)\n", outputFile, result.Verdict)
	return exitCode
}

func writeReportError(err error, exitCode int) int {
	fmt.Printf("report error: %v\n", err)
	return exitCode
}

func printReportUsage() {
	fmt.Println("Usage:")
	fmt.Println("  regate report [--log-dir <path>] [--days <n>] [--baseline-days <n>] [--config <path>] [--cases-file <path>] --output-file <path> [--json] [--explain] [-v]")
}
