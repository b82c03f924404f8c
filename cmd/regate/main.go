package main

import (
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/regatehq/regate/core/obslog"
)

// version is stamped at release time via ldflags; default stays dev for local builds.
var version = "0.0.0-dev"

// Exit codes follow the CI contract: 0 success, 1 gate/run failure,
// 2 usage or parse error, 3 I/O failure.
const (
	exitOK       = 0
	exitRunFail  = 1
	exitUsage    = 2
	exitIOFailed = 3
)

var correlationState struct {
	sync.Mutex
	id string
}

func setCurrentCorrelationID(id string) {
	correlationState.Lock()
	correlationState.id = id
	correlationState.Unlock()
}

func currentCorrelationID() string {
	correlationState.Lock()
	defer correlationState.Unlock()
	return correlationState.id
}

func main() {
	os.Exit(run(os.Args))
}

func run(arguments []string) int {
	startedAt := time.Now()
	correlationID := obslog.NewCorrelationID()
	setCurrentCorrelationID(correlationID)
	command := normalizeCommand(arguments)
	logger := obslog.New(os.Stderr, command, correlationID)
	logger.Start()

	exitCode := runDispatch(arguments, logger, correlationID)

	elapsed := time.Since(startedAt)
	category := ""
	if exitCode != exitOK {
		category = string(defaultErrorCategory(exitCode))
	}
	logger.End(exitCode, category, defaultRetryable(defaultErrorCategory(exitCode)) && exitCode != exitOK, elapsed)
	setCurrentCorrelationID("")
	return exitCode
}

func runDispatch(arguments []string, logger *obslog.Logger, correlationID string) int {
	if len(arguments) < 2 {
		fmt.Println("regate", version)
		return exitOK
	}
	if arguments[1] == "--explain" {
		return writeExplain("regate is a CI-native regression gate for agent/LLM pipelines: run a fixed case suite, persist results, compare against a baseline, and emit a pass/fail verdict.")
	}

	switch arguments[1] {
	case "run":
		return runRun(arguments[2:], logger, correlationID)
	case "check":
		return runCheck(arguments[2:], logger, correlationID)
	case "report":
		return runReport(arguments[2:], logger, correlationID)
	case "doctor":
		return runDoctor(arguments[2:])
	case "keys":
		return runKeys(arguments[2:])
	case "version", "--version", "-v":
		if hasExplainFlag(arguments[2:]) {
			return writeExplain("Print the CLI version.")
		}
		fmt.Println("regate", version)
		return exitOK
	default:
		printUsage()
		return exitUsage
	}
}

func normalizeCommand(arguments []string) string {
	if len(arguments) < 2 {
		return "version"
	}
	command := strings.TrimSpace(arguments[1])
	if command == "" {
		return "unknown"
	}
	switch command {
	case "--version", "-v":
		return "version"
	case "--explain":
		return "explain"
	}
	return command
}

func printUsage() {
	fmt.Println("Usage:")
	fmt.Println("  regate run <cases-file> [--log-dir <path>] [--invoker-cmd <cmd>] [--repeat <n>] [--concurrency <n>] [--timeout <seconds>] [--json] [--explain] [-v]")
	fmt.Println("  regate check [--run-id <id>] [--log-dir <path>] [--config <path>] [--cases-file <path>] [--baseline-dir <path>] [--baseline-days <n>] [--sign-key <path>] [--output-file <path>] [--json] [--explain]")
	fmt.Println("  regate report [--log-dir <path>] [--days <n>] [--baseline-days <n>] [--config <path>] [--cases-file <path>] --output-file <path> [--json] [--explain] [-v]")
	fmt.Println("  regate doctor [--log-dir <path>] [--config <path>] [--cases <path>] [--sign-key <path>] [--json] [--explain]")
	fmt.Println("  regate keys init|rotate|verify [flags] [--explain]")
}
