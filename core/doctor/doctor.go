// Package doctor implements the `regate doctor` environment self-check:
// a fast sanity pass (its only write is a probe file in the log
// directory, removed again) over the inputs a CI job is about to
// hand the gate, so a misconfigured job fails with a name checklist
// instead of an obscure parse error three stages later.
package doctor

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/regatehq/regate/core/casefile"
	"github.com/regatehq/regate/core/ruleset"
	"github.com/regatehq/regate/core/sign"
)

const (
	statusPass = "pass"
	statusWarn = "warn"
	statusFail = "fail"
)

type Options struct {
	LogDir          string
	ConfigPath      string
	CasesPath       string
	ProducerVersion string
	KeyMode         sign.KeyMode
	KeyConfig       sign.KeyConfig
}

type Result struct {
	SchemaID        string   `json:"schema_id"`
	SchemaVersion   string   `json:"schema_version"`
	CreatedAt       string   `json:"created_at"`
	ProducerVersion string   `json:"producer_version"`
	Status          string   `json:"status"`
	Summary         string   `json:"summary"`
	FixCommands     []string `json:"fix_commands"`
	Checks          []Check  `json:"checks"`
}

type Check struct {
	Name       string `json:"name"`
	Status     string `json:"status"`
	Message    string `json:"message"`
	FixCommand string `json:"fix_command,omitempty"`
}

func Run(opts Options) Result {
	logDir := strings.TrimSpace(opts.LogDir)
	if logDir == "" {
		logDir = "."
	}
	producerVersion := strings.TrimSpace(opts.ProducerVersion)
	if producerVersion == "" {
		producerVersion = "0.0.0-dev"
	}

	checks := []Check{checkLogDirWritable(logDir)}
	if strings.TrimSpace(opts.ConfigPath) != "" {
		checks = append(checks, checkConfigParses(opts.ConfigPath))
	}
	if strings.TrimSpace(opts.CasesPath) != "" {
		checks = append(checks, checkCasesParse(opts.CasesPath))
	}
	if opts.KeyMode != "" || hasAnyKeySource(opts.KeyConfig) {
		checks = append(checks, checkKeyConfig(opts.KeyMode, opts.KeyConfig))
	}

	failed := 0
	warned := 0
	fixCommands := make([]string, 0, len(checks))
	seenFixes := map[string]struct{}{}
	for _, check := range checks {
		switch check.Status {
		case statusFail:
			failed++
		case statusWarn:
			warned++
		}
		if check.FixCommand != "" {
			if _, ok := seenFixes[check.FixCommand]; !ok {
				seenFixes[check.FixCommand] = struct{}{}
				fixCommands = append(fixCommands, check.FixCommand)
			}
		}
	}

	status := statusPass
	if failed > 0 {
		status = statusFail
	} else if warned > 0 {
		status = statusWarn
	}

	sort.Strings(fixCommands)
	summary := fmt.Sprintf("doctor: status=%s failed=%d warned=%d", status, failed, warned)

	return Result{
		SchemaID:        "regate.doctor.result",
		SchemaVersion:   "1.0.0",
		CreatedAt:       time.Now().UTC().Format(time.RFC3339Nano),
		ProducerVersion: producerVersion,
		Status:          status,
		Summary:         summary,
		FixCommands:     fixCommands,
		Checks:          checks,
	}
}

func checkLogDirWritable(logDir string) Check {
	info, err := os.Stat(logDir)
	if err != nil {
		if os.IsNotExist(err) {
			return Check{
				Name:       "log_dir",
				Status:     statusWarn,
				Message:    "log directory does not exist yet",
				FixCommand: fmt.Sprintf("mkdir -p %s", shellQuote(logDir)),
			}
		}
		return Check{
			Name:    "log_dir",
			Status:  statusFail,
			Message: fmt.Sprintf("log directory not accessible: %v", err),
		}
	}
	if !info.IsDir() {
		return Check{
			Name:    "log_dir",
			Status:  statusFail,
			Message: "log directory path is not a directory",
		}
	}
	probe := filepath.Join(logDir, ".regate-doctor-writecheck")
	if err := os.WriteFile(probe, []byte("ok"), 0o600); err != nil {
		return Check{
			Name:       "log_dir",
			Status:     statusFail,
			Message:    fmt.Sprintf("log directory not writable: %v", err),
			FixCommand: fmt.Sprintf("chmod u+w %s", shellQuote(logDir)),
		}
	}
	_ = os.Remove(probe)
	return Check{Name: "log_dir", Status: statusPass, Message: "log directory is writable"}
}

func checkConfigParses(path string) Check {
	if _, err := ruleset.LoadConfig(path); err != nil {
		return Check{
			Name:    "config",
			Status:  statusFail,
			Message: fmt.Sprintf("config does not parse: %v", err),
		}
	}
	return Check{Name: "config", Status: statusPass, Message: "config parses"}
}

func checkCasesParse(path string) Check {
	cases, err := casefile.Load(path)
	if err != nil {
		return Check{
			Name:    "cases_file",
			Status:  statusFail,
			Message: fmt.Sprintf("cases file does not parse: %v", err),
		}
	}
	return Check{
		Name:    "cases_file",
		Status:  statusPass,
		Message: fmt.Sprintf("cases file parses (%d cases)", len(cases)),
	}
}

func checkKeyConfig(mode sign.KeyMode, cfg sign.KeyConfig) Check {
	keyMode := mode
	if keyMode == "" {
		keyMode = sign.ModeDev
	}
	switch keyMode {
	case sign.ModeDev:
		if hasAnyKeySource(cfg) {
			return Check{
				Name:       "key_config",
				Status:     statusWarn,
				Message:    "dev mode ignores explicit key sources",
				FixCommand: "remove explicit key flags/env or use --key-mode prod",
			}
		}
		return Check{Name: "key_config", Status: statusPass, Message: "dev key mode is configured"}
	case sign.ModeProd:
		loadCfg := cfg
		loadCfg.Mode = sign.ModeProd
		if _, _, err := sign.LoadSigningKey(loadCfg); err != nil {
			return Check{
				Name:       "key_config",
				Status:     statusFail,
				Message:    fmt.Sprintf("invalid signing key config: %v", err),
				FixCommand: "set --sign-key <path> to a valid base64 ed25519 private key",
			}
		}
		return Check{Name: "key_config", Status: statusPass, Message: "signing key configuration is valid"}
	default:
		return Check{
			Name:    "key_config",
			Status:  statusFail,
			Message: fmt.Sprintf("unsupported key mode: %s", keyMode),
		}
	}
}

func hasAnyKeySource(cfg sign.KeyConfig) bool {
	return strings.TrimSpace(cfg.PrivateKeyPath) != "" ||
		strings.TrimSpace(cfg.PrivateKeyEnv) != "" ||
		strings.TrimSpace(cfg.PublicKeyPath) != "" ||
		strings.TrimSpace(cfg.PublicKeyEnv) != ""
}

func shellQuote(value string) string {
	if value == "" {
		return "''"
	}
	return "'" + strings.ReplaceAll(value, "'", `'\''`) + "'"
}
