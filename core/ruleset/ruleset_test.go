package ruleset

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, ".regate.yml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadConfigMissingAutoDetectReturnsDefault(t *testing.T) {
	dir := t.TempDir()
	cwd, err := os.Getwd()
	if err != nil {
		t.Fatalf("getwd: %v", err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatalf("chdir: %v", err)
	}
	defer func() { _ = os.Chdir(cwd) }()

	cfg, err := LoadConfig("")
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Default != Default() {
		t.Fatalf("expected default ruleset, got %#v", cfg.Default)
	}
}

func TestLoadConfigExplicitMissingPathFails(t *testing.T) {
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yml")); err == nil {
		t.Fatal("expected explicit missing config path to fail")
	}
}

func TestLoadConfigParsesThresholdsAndRules(t *testing.T) {
	path := writeConfig(t, `
thresholds:
  s1_min_pass_rate: 1.0
  overall_min_pass_rate: 0.75
  top_n: 3
rules:
  - name: hotfix
    match:
      labels: [hotfix]
    thresholds:
      overall_min_pass_rate: 0.6
  - name: docs-only
    match:
      paths: ["docs/**"]
    thresholds:
      overall_min_pass_rate: 0.5
owner_fallback: sre-team
`)
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Default.OverallMinPassRate != 0.75 || cfg.Default.TopN != 3 {
		t.Fatalf("unexpected base ruleset: %#v", cfg.Default)
	}
	if cfg.OwnerFallback != "sre-team" {
		t.Fatalf("expected owner_fallback override, got %q", cfg.OwnerFallback)
	}
	if len(cfg.Rules) != 2 {
		t.Fatalf("expected 2 rules, got %d", len(cfg.Rules))
	}
	if cfg.Rules[0].Ruleset.S1MinPassRate != 1.0 {
		t.Fatalf("expected rule to inherit unset fields from base, got %#v", cfg.Rules[0].Ruleset)
	}
}

func TestLoadConfigRejectsOutOfRangeThreshold(t *testing.T) {
	path := writeConfig(t, "thresholds:\n  overall_min_pass_rate: 1.5\n")
	if _, err := LoadConfig(path); err == nil {
		t.Fatal("expected out-of-range threshold to fail")
	}
}

func TestLoadConfigRejectsInvalidYAML(t *testing.T) {
	path := writeConfig(t, "thresholds:\n  s1_min_pass_rate: [this is not a float\n")
	if _, err := LoadConfig(path); err == nil {
		t.Fatal("expected invalid YAML to fail")
	}
}

func TestResolveFirstMatchWins(t *testing.T) {
	cfg := Config{
		Default: Default(),
		Rules: []Rule{
			{Name: "a", Match: Match{Labels: []string{"hotfix"}}, Ruleset: Ruleset{OverallMinPassRate: 0.6}},
			{Name: "b", Match: Match{Labels: []string{"hotfix"}}, Ruleset: Ruleset{OverallMinPassRate: 0.3}},
		},
	}
	resolved := cfg.Resolve([]string{"hotfix"}, nil, Overrides{})
	if resolved.OverallMinPassRate != 0.6 {
		t.Fatalf("expected first matching rule to win, got %v", resolved.OverallMinPassRate)
	}
}

func TestResolveRuleWithNoConditionsNeverMatches(t *testing.T) {
	cfg := Config{
		Default: Default(),
		Rules: []Rule{
			{Name: "unconditional", Match: Match{}, Ruleset: Ruleset{OverallMinPassRate: 0.1}},
		},
	}
	resolved := cfg.Resolve([]string{"anything"}, []string{"any/file.go"}, Overrides{})
	if resolved.OverallMinPassRate != Default().OverallMinPassRate {
		t.Fatalf("expected unconditional rule to be skipped, got %v", resolved.OverallMinPassRate)
	}
}

func TestResolveMatchesOnPathGlob(t *testing.T) {
	cfg := Config{
		Default: Default(),
		Rules: []Rule{
			{Name: "docs", Match: Match{Paths: []string{"docs/*.md"}}, Ruleset: Ruleset{OverallMinPassRate: 0.5}},
		},
	}
	resolved := cfg.Resolve(nil, []string{"docs/readme.md"}, Overrides{})
	if resolved.OverallMinPassRate != 0.5 {
		t.Fatalf("expected docs path rule to match, got %v", resolved.OverallMinPassRate)
	}

	resolved = cfg.Resolve(nil, []string{"core/ruleset.go"}, Overrides{})
	if resolved.OverallMinPassRate != Default().OverallMinPassRate {
		t.Fatalf("expected non-matching path to fall back to default, got %v", resolved.OverallMinPassRate)
	}
}

func TestResolveMatchesOnEitherLabelOrPathWhenBothSet(t *testing.T) {
	cfg := Config{
		Default: Default(),
		Rules: []Rule{
			{
				Name: "hotfix-or-docs",
				Match: Match{
					Labels: []string{"hotfix"},
					Paths:  []string{"docs/*.md"},
				},
				Ruleset: Ruleset{OverallMinPassRate: 0.5},
			},
		},
	}

	// Only the label matches; the path does not. OR semantics still fire.
	resolved := cfg.Resolve([]string{"hotfix"}, []string{"core/ruleset.go"}, Overrides{})
	if resolved.OverallMinPassRate != 0.5 {
		t.Fatalf("expected label-only match to trigger overlay, got %v", resolved.OverallMinPassRate)
	}

	// Only the path matches; the label does not. OR semantics still fire.
	resolved = cfg.Resolve([]string{"unrelated"}, []string{"docs/readme.md"}, Overrides{})
	if resolved.OverallMinPassRate != 0.5 {
		t.Fatalf("expected path-only match to trigger overlay, got %v", resolved.OverallMinPassRate)
	}

	// Neither matches; overlay must not apply.
	resolved = cfg.Resolve([]string{"unrelated"}, []string{"core/ruleset.go"}, Overrides{})
	if resolved.OverallMinPassRate != Default().OverallMinPassRate {
		t.Fatalf("expected no match to fall back to default, got %v", resolved.OverallMinPassRate)
	}
}

func TestResolveCLIOverrideWinsOverRule(t *testing.T) {
	cfg := Config{
		Default: Default(),
		Rules: []Rule{
			{Name: "hotfix", Match: Match{Labels: []string{"hotfix"}}, Ruleset: Ruleset{OverallMinPassRate: 0.6}},
		},
	}
	override := 0.95
	resolved := cfg.Resolve([]string{"hotfix"}, nil, Overrides{OverallMinPassRate: &override})
	if resolved.OverallMinPassRate != 0.95 {
		t.Fatalf("expected CLI override to win, got %v", resolved.OverallMinPassRate)
	}
}
