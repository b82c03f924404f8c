// Package ruleset loads the `.regate.yml` threshold document and
// resolves the effective gate Ruleset for a given run context (PR
// labels, changed files, CLI overrides).
package ruleset

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/goccy/go-yaml"

	"github.com/regatehq/regate/core/rgerr"
)

// Ruleset is the resolved threshold block the gate evaluates against.
type Ruleset struct {
	S1MinPassRate       float64 `yaml:"s1_min_pass_rate"`
	OverallMinPassRate  float64 `yaml:"overall_min_pass_rate"`
	MaxWorstCaseDelta   float64 `yaml:"max_worst_case_delta"`
	LatencyP95MaxRatio  float64 `yaml:"latency_p95_max_ratio"`
	TokenDeltaMaxRatio  float64 `yaml:"token_delta_max_ratio"`
	FailOnNewRegression bool    `yaml:"fail_on_new_regression"`
	TopN                int     `yaml:"top_n"`
}

// Default mirrors the floors applied when a run carries no config
// document and no rule overrides.
func Default() Ruleset {
	return Ruleset{
		S1MinPassRate:       1.0,
		OverallMinPassRate:  0.8,
		MaxWorstCaseDelta:   0.0,
		LatencyP95MaxRatio:  1.5,
		TokenDeltaMaxRatio:  1.25,
		FailOnNewRegression: true,
		TopN:                5,
	}
}

// Match declares when a rule override applies: at least one label in
// Labels is present on the run, or at least one changed file matches
// one of the Paths globs. A rule with both empty never matches.
type Match struct {
	Labels []string `yaml:"labels"`
	Paths  []string `yaml:"paths"`
}

// Rule is a single named threshold override.
type Rule struct {
	Name    string  `yaml:"name"`
	Match   Match   `yaml:"match"`
	Ruleset Ruleset `yaml:"thresholds"`
}

// Config is the parsed `.regate.yml` document.
type Config struct {
	Default       Ruleset `yaml:"thresholds"`
	Rules         []Rule  `yaml:"rules"`
	OwnerFallback string  `yaml:"owner_fallback"`
}

type rawRuleset struct {
	S1MinPassRate        *float64 `yaml:"s1_min_pass_rate"`
	OverallMinPassRate   *float64 `yaml:"overall_min_pass_rate"`
	MaxWorstCaseDelta    *float64 `yaml:"max_worst_case_delta"`
	LatencyP95MaxRatio   *float64 `yaml:"latency_p95_max_ratio"`
	TokenDeltaMaxRatio   *float64 `yaml:"token_delta_max_ratio"`
	FailOnNewRegression  *bool    `yaml:"fail_on_new_regression"`
	TopN                 *int     `yaml:"top_n"`
}

type rawRule struct {
	Name    string     `yaml:"name"`
	Match   Match      `yaml:"match"`
	Ruleset rawRuleset `yaml:"thresholds"`
}

type rawConfig struct {
	Default       rawRuleset `yaml:"thresholds"`
	Rules         []rawRule  `yaml:"rules"`
	OwnerFallback string     `yaml:"owner_fallback"`
}

// DefaultConfig is what LoadConfig returns when no document is found.
func DefaultConfig() Config {
	return Config{
		Default:       Default(),
		OwnerFallback: "platform-team",
	}
}

var searchNames = []string{".regate.yml", ".regate.yaml", "regate.yml"}

// LoadConfig loads the config at path, or — when path is empty —
// auto-detects one of the conventional filenames in the working
// directory. Missing auto-detected files fall back to DefaultConfig;
// an explicitly-named missing or malformed file is a fail-fast error.
func LoadConfig(path string) (Config, error) {
	if strings.TrimSpace(path) == "" {
		for _, name := range searchNames {
			if _, err := os.Stat(name); err == nil {
				return parseFile(name)
			}
		}
		return DefaultConfig(), nil
	}

	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return Config{}, rgerr.Wrap(err, rgerr.CategoryUsage, "config_file_not_found", "check the path passed to --config", false)
		}
		return Config{}, rgerr.Wrap(err, rgerr.CategoryIORead, "config_file_stat_failed", "", false)
	}
	return parseFile(path)
}

func parseFile(path string) (Config, error) {
	// #nosec G304 -- path is explicit operator-supplied CLI input or a well-known filename in cwd.
	raw, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return Config{}, rgerr.Wrap(err, rgerr.CategoryIORead, "config_file_read_failed", "", false)
	}
	return parse(raw)
}

func parse(raw []byte) (Config, error) {
	var doc rawConfig
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return Config{}, rgerr.Wrap(err, rgerr.CategoryParse, "config_yaml_invalid", "", false)
	}

	base := overlayRuleset(Default(), doc.Default)

	rules := make([]Rule, 0, len(doc.Rules))
	for _, r := range doc.Rules {
		rules = append(rules, Rule{
			Name:    r.Name,
			Match:   r.Match,
			Ruleset: overlayRuleset(base, r.Ruleset),
		})
	}

	ownerFallback := strings.TrimSpace(doc.OwnerFallback)
	if ownerFallback == "" {
		ownerFallback = "platform-team"
	}

	for _, t := range []struct {
		name  string
		value float64
	}{{"s1_min_pass_rate", base.S1MinPassRate}, {"overall_min_pass_rate", base.OverallMinPassRate}} {
		if t.value < 0 || t.value > 1 {
			return Config{}, rgerr.Wrap(
				fmt.Errorf("%s must be in [0,1], got %v", t.name, t.value),
				rgerr.CategoryParse, "config_threshold_out_of_range", "", false,
			)
		}
	}

	return Config{
		Default:       base,
		Rules:         rules,
		OwnerFallback: ownerFallback,
	}, nil
}

func overlayRuleset(base Ruleset, raw rawRuleset) Ruleset {
	out := base
	if raw.S1MinPassRate != nil {
		out.S1MinPassRate = *raw.S1MinPassRate
	}
	if raw.OverallMinPassRate != nil {
		out.OverallMinPassRate = *raw.OverallMinPassRate
	}
	if raw.MaxWorstCaseDelta != nil {
		out.MaxWorstCaseDelta = *raw.MaxWorstCaseDelta
	}
	if raw.LatencyP95MaxRatio != nil {
		out.LatencyP95MaxRatio = *raw.LatencyP95MaxRatio
	}
	if raw.TokenDeltaMaxRatio != nil {
		out.TokenDeltaMaxRatio = *raw.TokenDeltaMaxRatio
	}
	if raw.FailOnNewRegression != nil {
		out.FailOnNewRegression = *raw.FailOnNewRegression
	}
	if raw.TopN != nil {
		out.TopN = *raw.TopN
	}
	return out
}

// Overrides carries CLI-supplied threshold flags, applied last and
// winning over both the default block and any matched rule.
type Overrides struct {
	S1MinPassRate      *float64
	OverallMinPassRate *float64
}

// Resolve returns the effective Ruleset for a run: start from
// cfg.Default, overlay the first matching rule (document order, first
// match wins), then apply CLI overrides.
func (cfg Config) Resolve(labels []string, changedFiles []string, overrides Overrides) Ruleset {
	resolved := cfg.Default
	for _, rule := range cfg.Rules {
		if ruleMatches(rule.Match, labels, changedFiles) {
			resolved = rule.Ruleset
			break
		}
	}
	if overrides.S1MinPassRate != nil {
		resolved.S1MinPassRate = *overrides.S1MinPassRate
	}
	if overrides.OverallMinPassRate != nil {
		resolved.OverallMinPassRate = *overrides.OverallMinPassRate
	}
	return resolved
}

func ruleMatches(m Match, labels []string, changedFiles []string) bool {
	if len(m.Labels) == 0 && len(m.Paths) == 0 {
		return false
	}

	labelOK := false
	if len(m.Labels) > 0 {
		ruleLabels := make(map[string]struct{}, len(m.Labels))
		for _, l := range m.Labels {
			ruleLabels[strings.ToLower(l)] = struct{}{}
		}
		for _, l := range labels {
			if _, ok := ruleLabels[strings.ToLower(l)]; ok {
				labelOK = true
				break
			}
		}
	}

	pathOK := false
	if len(m.Paths) > 0 {
		for _, f := range changedFiles {
			for _, pat := range m.Paths {
				if ok, _ := filepath.Match(pat, f); ok {
					pathOK = true
					break
				}
			}
			if pathOK {
				break
			}
		}
	}

	// Any label match OR any path match triggers the overlay.
	return labelOK || pathOK
}
