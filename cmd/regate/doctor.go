package main

import (
	"flag"
	"fmt"
	"io"
	"strings"

	"github.com/regatehq/regate/core/doctor"
	"github.com/regatehq/regate/core/sign"
)

type doctorOutput struct {
	SchemaID        string         `json:"schema_id,omitempty"`
	SchemaVersion   string         `json:"schema_version,omitempty"`
	CreatedAt       string         `json:"created_at,omitempty"`
	ProducerVersion string         `json:"producer_version,omitempty"`
	Status          string         `json:"status,omitempty"`
	Summary         string         `json:"summary,omitempty"`
	FixCommands     []string       `json:"fix_commands,omitempty"`
	Checks          []doctor.Check `json:"checks,omitempty"`
	Error           string         `json:"error,omitempty"`
}

func runDoctor(arguments []string) int {
	if hasExplainFlag(arguments) {
		return writeExplain("Check that --log-dir is writable, --config and --cases parse, and any signing key config loads, before a CI job depends on them.")
	}
	flagSet := flag.NewFlagSet("doctor", flag.ContinueOnError)
	flagSet.SetOutput(io.Discard)

	var logDir string
	var configPath string
	var casesPath string
	var keyMode string
	var signKeyPath string
	var signKeyEnv string
	var jsonOutput bool
	var helpFlag bool

	flagSet.StringVar(&logDir, "log-dir", "./regate-out", "record log directory to check")
	flagSet.StringVar(&configPath, "config", "", "path to .regate.yml to check")
	flagSet.StringVar(&casesPath, "cases", "", "path to cases CSV to check")
	flagSet.StringVar(&keyMode, "key-mode", "", "key mode to validate: dev or prod")
	flagSet.StringVar(&signKeyPath, "sign-key", "", "path to base64 ed25519 private key")
	flagSet.StringVar(&signKeyEnv, "sign-key-env", "", "env var containing base64 ed25519 private key")
	flagSet.BoolVar(&jsonOutput, "json", false, "emit JSON output")
	flagSet.BoolVar(&helpFlag, "help", false, "show help")

	if err := flagSet.Parse(arguments); err != nil {
		return writeDoctorOutput(jsonOutput, doctorOutput{Error: err.Error()}, exitCodeForError(err, exitUsage))
	}
	if helpFlag {
		printDoctorUsage()
		return exitOK
	}
	if len(flagSet.Args()) > 0 {
		return writeDoctorOutput(jsonOutput, doctorOutput{Error: "unexpected positional arguments"}, exitUsage)
	}

	result := doctor.Run(doctor.Options{
		LogDir:          logDir,
		ConfigPath:      configPath,
		CasesPath:       casesPath,
		ProducerVersion: version,
		KeyMode:         sign.KeyMode(strings.ToLower(strings.TrimSpace(keyMode))),
		KeyConfig: sign.KeyConfig{
			PrivateKeyPath: signKeyPath,
			PrivateKeyEnv:  signKeyEnv,
		},
	})

	exitCode := exitOK
	switch result.Status {
	case "fail":
		exitCode = exitIOFailed
		for _, check := range result.Checks {
			if check.Status == "fail" && (check.Name == "config" || check.Name == "cases_file") {
				exitCode = exitUsage
				break
			}
		}
	case "warn":
		exitCode = exitOK
	}

	return writeDoctorOutput(jsonOutput, doctorOutput{
		SchemaID:        result.SchemaID,
		SchemaVersion:   result.SchemaVersion,
		CreatedAt:       result.CreatedAt,
		ProducerVersion: result.ProducerVersion,
		Status:          result.Status,
		Summary:         result.Summary,
		FixCommands:     result.FixCommands,
		Checks:          result.Checks,
	}, exitCode)
}

func writeDoctorOutput(jsonOutput bool, output doctorOutput, exitCode int) int {
	if jsonOutput {
		return writeJSONOutput(output, exitCode)
	}
	if output.Error != "" {
		fmt.Printf("doctor error: %s\n", output.Error)
		return exitCode
	}
	fmt.Println(output.Summary)
	for _, check := range output.Checks {
		fmt.Printf("- %s: %s (%s)\n", check.Name, check.Status, check.Message)
		if check.FixCommand != "" {
			fmt.Printf("  fix: %s\n", check.FixCommand)
		}
	}
	return exitCode
}

func printDoctorUsage() {
	fmt.Println("Usage:")
	fmt.Println("  regate doctor [--log-dir <path>] [--config <path>] [--cases <path>] [--key-mode dev|prod] [--sign-key <path>|--sign-key-env <VAR>] [--json] [--explain]")
}
