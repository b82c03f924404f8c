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
	"github.com/regatehq/regate/core/sign"
	"github.com/regatehq/regate/core/store"
)

func runCheck(arguments []string, logger *obslog.Logger, correlationID string) int {
	if hasExplainFlag(arguments) {
		return writeExplain("Evaluate the resolved ruleset against a run's records and an optional baseline, emitting a PASS/FAIL verdict, explanations and a digest (signed when --sign-key or --sign-key-env is given).")
	}
	arguments = reorderInterspersedFlags(arguments, map[string]bool{
		"log-dir": true, "run-id": true, "config": true, "cases-file": true,
		"baseline-dir": true, "baseline-days": true, "labels": true, "changed-files": true,
		"output-file": true, "o": true, "s1-threshold": true, "overall-threshold": true, "sign-key": true,
	})

	flagSet := flag.NewFlagSet("check", flag.ContinueOnError)
	flagSet.SetOutput(io.Discard)

	var logDir string
	var runID string
	var configPath string
	var casesPath string
	var baselineDir string
	var baselineDays int
	var labels string
	var changedFiles string
	var outputFile string
	var s1Threshold float64
	var overallThreshold float64
	var signKeyPath string
	var signKeyEnv string
	var jsonOutput bool
	var helpFlag bool

	flagSet.StringVar(&logDir, "log-dir", "./regate-out", "record log directory")
	flagSet.StringVar(&runID, "run-id", "", "run id to check (defaults to the latest run in --log-dir)")
	flagSet.StringVar(&configPath, "config", "", "path to .regate.yml")
	flagSet.StringVar(&casesPath, "cases-file", "", "path to cases CSV for per-case floors")
	flagSet.StringVar(&baselineDir, "baseline-dir", "", "directory of baseline records")
	flagSet.IntVar(&baselineDays, "baseline-days", 0, "trailing window in days to use as baseline from --log-dir")
	flagSet.StringVar(&labels, "labels", "", "comma-separated PR labels for rule resolution")
	flagSet.StringVar(&changedFiles, "changed-files", "", "comma-separated changed file paths for rule resolution")
	flagSet.StringVar(&outputFile, "output-file", "", "write rendered Markdown here in addition to --json/stdout")
	flagSet.StringVar(&outputFile, "o", "", "shorthand for --output-file")
	flagSet.Float64Var(&s1Threshold, "s1-threshold", 0, "override s1_min_pass_rate")
	flagSet.Float64Var(&overallThreshold, "overall-threshold", 0, "override overall_min_pass_rate")
	flagSet.StringVar(&signKeyPath, "sign-key", "", "path to base64 ed25519 private key to sign the result digest")
	flagSet.StringVar(&signKeyEnv, "sign-key-env", "", "env var containing base64 ed25519 private key")
	flagSet.BoolVar(&jsonOutput, "json", false, "emit JSON output")
	flagSet.BoolVar(&helpFlag, "help", false, "show help")

	if err := flagSet.Parse(arguments); err != nil {
		return writeCheckError(jsonOutput, correlationID, err, exitCodeForError(err, exitUsage))
	}
	if helpFlag {
		printCheckUsage()
		return exitOK
	}
	if len(flagSet.Args()) > 0 {
		return writeCheckError(jsonOutput, correlationID, fmt.Errorf("unexpected positional arguments"), exitUsage)
	}

	cfg, err := ruleset.LoadConfig(configPath)
	if err != nil {
		return writeCheckError(jsonOutput, correlationID, err, exitCodeForError(err, exitUsage))
	}

	var overrides ruleset.Overrides
	if s1Threshold > 0 {
		overrides.S1MinPassRate = &s1Threshold
	}
	if overallThreshold > 0 {
		overrides.OverallMinPassRate = &overallThreshold
	}
	rules := cfg.Resolve(splitCSV(labels), splitCSV(changedFiles), overrides)

	var cases []casefile.Case
	if strings.TrimSpace(casesPath) != "" {
		cases, err = casefile.Load(casesPath)
		if err != nil {
			return writeCheckError(jsonOutput, correlationID, err, exitCodeForError(err, exitUsage))
		}
	}

	var currentRecords []store.Record
	resolvedRunID := runID
	if strings.TrimSpace(resolvedRunID) == "" {
		currentRecords, resolvedRunID, err = store.ReadLatestRun(logDir)
	} else {
		currentRecords, err = store.ReadRun(logDir, resolvedRunID)
	}
	if err != nil {
		return writeCheckError(jsonOutput, correlationID, err, exitCodeForError(err, exitUsage))
	}

	bl, err := resolveBaseline(baselineDir, baselineDays, logDir, resolvedRunID, logger)
	if err != nil {
		return writeCheckError(jsonOutput, correlationID, err, exitCodeForError(err, exitUsage))
	}

	result := gate.Evaluate(gate.Input{
		RunID:            resolvedRunID,
		Current:          aggregate.Compute(currentRecords),
		Baseline:         bl,
		Rules:            rules,
		Cases:            cases,
		CurrentRecords:   currentRecords,
		FlakinessRecords: currentRecords,
	})

	if trimmed := strings.TrimSpace(signKeyPath); trimmed != "" || strings.TrimSpace(signKeyEnv) != "" {
		kp, _, loadErr := sign.LoadSigningKey(sign.KeyConfig{
			Mode:           sign.ModeProd,
			PrivateKeyPath: signKeyPath,
			PrivateKeyEnv:  signKeyEnv,
		})
		if loadErr != nil {
			return writeCheckError(jsonOutput, correlationID, loadErr, exitCodeForError(loadErr, exitUsage))
		}
		result, err = gate.Sign(result, func(digest string) (sign.Signature, error) {
			return sign.SignDigestHex(kp.Private, digest)
		})
		if err != nil {
			return writeCheckError(jsonOutput, correlationID, err, exitIOFailed)
		}
	}

	rendered := gate.RenderMarkdown(result)
	if trimmed := strings.TrimSpace(outputFile); trimmed != "" {
		if err := os.WriteFile(trimmed, []byte(rendered), 0o600); err != nil {
			logger.WriteFailure(resolvedRunID, "", err)
			return writeCheckError(jsonOutput, correlationID, err, exitIOFailed)
		}
	}

	exitCode := exitOK
	if result.Verdict == gate.VerdictFail {
		exitCode = exitRunFail
	}

	if jsonOutput {
		return writeJSONOutput(withCheckEnvelope(result, correlationID), exitCode)
	}
	fmt.Println(rendered)
	return exitCode
}

func resolveBaseline(baselineDir string, baselineDays int, logDir, excludeRunID string, logger *obslog.Logger) (baseline.Result, error) {
	dirSet := strings.TrimSpace(baselineDir) != ""
	if dirSet && baselineDays > 0 {
		logger.Warn("both --baseline-dir and --baseline-days supplied, using --baseline-dir", map[string]any{
			"baseline_dir":  baselineDir,
			"baseline_days": baselineDays,
		})
	}
	if dirSet {
		return baseline.FromDirectory(baselineDir)
	}
	if baselineDays > 0 {
		return baseline.FromTrailingWindow(logDir, baselineDays, excludeRunID, time.Now())
	}
	return baseline.Result{}, nil
}

func splitCSV(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func withCheckEnvelope(result gate.Result, correlationID string) map[string]any {
	return map[string]any{
		"schema_id":      "regate.gate.result",
		"schema_version": "1.0.0",
		"correlation_id": correlationID,
		"result":         result,
	}
}

func writeCheckError(jsonOutput bool, correlationID string, err error, exitCode int) int {
	if jsonOutput {
		return writeJSONOutput(map[string]any{
			"schema_id":      "regate.gate.result",
			"schema_version": "1.0.0",
			"correlation_id": correlationID,
			"error":          err.Error(),
		}, exitCode)
	}
	fmt.Printf("check error: %v\n", err)
	return exitCode
}

func printCheckUsage() {
	fmt.Println("Usage:")
	fmt.Println("  regate check [--log-dir <path>] [--run-id <id>] [--config <path>] [--cases-file <path>] [--baseline-dir <path>|--baseline-days <n>] [--labels <l1,l2>] [--changed-files <f1,f2>] [--s1-threshold <f>] [--overall-threshold <f>] [--sign-key <path>|--sign-key-env <VAR>] [--output-file <path>] [--json] [--explain]")
}
