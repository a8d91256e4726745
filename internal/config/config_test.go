package config

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"
)

// guardEnvKeys are cleared by isolate so host settings do not leak in.
var guardEnvKeys = []string{
	"AGENTOPS_OUTPUT", "AGENTOPS_VERBOSE", "AGENTOPS_CONFIG", "CLAUDE_PROJECT_DIR",
	"AGENTOPS_GUARD_PROTECTED_BRANCHES", "AGENTOPS_GUARD_EXEMPT_FILES",
	"AGENTOPS_GUARD_GUARDIAN_AGENTS", "AGENTOPS_GUARD_MARKER_DIR",
	"AGENTOPS_GUARD_PROOF_FILE", "AGENTOPS_GUARD_SCOPE_PROOF_BY_PROJECT",
	"AGENTOPS_GUARD_PROOF_MAX_AGE", "AGENTOPS_GUARD_GIT_TIMEOUT",
	"AGENTOPS_GUARD_LOG_FILE", "AGENTOPS_GUARD_LOG_LEVEL",
}

// isolate points HOME at a temp dir and clears every env override. It
// returns the fake home.
func isolate(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	for _, key := range guardEnvKeys {
		t.Setenv(key, "")
	}
	t.Setenv("AGENTOPS_CONFIG", filepath.Join(home, "no-project.yaml"))
	return home
}

func writeConfig(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Output != "table" {
		t.Errorf("Default Output = %q, want %q", cfg.Output, "table")
	}
	if cfg.Verbose {
		t.Error("Default Verbose = true, want false")
	}
	g := cfg.Guard
	if !reflect.DeepEqual(g.ProtectedBranches, []string{"main", "master"}) {
		t.Errorf("ProtectedBranches = %v", g.ProtectedBranches)
	}
	if !reflect.DeepEqual(g.GuardianAgents, []string{"guardian"}) {
		t.Errorf("GuardianAgents = %v", g.GuardianAgents)
	}
	if !reflect.DeepEqual(g.DispatchTools, []string{"Task", "Agent"}) {
		t.Errorf("DispatchTools = %v", g.DispatchTools)
	}
	if g.ProofFile != ".agents/guard/proof-status" {
		t.Errorf("ProofFile = %q", g.ProofFile)
	}
	if g.GitTimeout != "5s" || g.LogLevel != "info" {
		t.Errorf("GitTimeout/LogLevel = %q/%q", g.GitTimeout, g.LogLevel)
	}
	if g.ScopeProofByProject {
		t.Error("ScopeProofByProject default = true, want false")
	}
}

func TestMerge(t *testing.T) {
	dst := Default()
	src := &Config{
		Output: "json",
		Guard: GuardConfig{
			ProtectedBranches: []string{"trunk"},
			MarkerDir:         "/custom/markers",
		},
	}

	result := merge(dst, src)

	if result.Output != "json" {
		t.Errorf("merge Output = %q, want %q", result.Output, "json")
	}
	if !reflect.DeepEqual(result.Guard.ProtectedBranches, []string{"trunk"}) {
		t.Errorf("merge ProtectedBranches = %v, want [trunk]", result.Guard.ProtectedBranches)
	}
	if result.Guard.MarkerDir != "/custom/markers" {
		t.Errorf("merge MarkerDir = %q", result.Guard.MarkerDir)
	}
	// Defaults should be preserved when not overridden
	if !reflect.DeepEqual(result.Guard.GuardianAgents, []string{"guardian"}) {
		t.Errorf("merge preserved GuardianAgents = %v", result.Guard.GuardianAgents)
	}
}

func TestMerge_EmptyListClears(t *testing.T) {
	dst := Default()
	src := &Config{Guard: GuardConfig{ExemptFiles: []string{}}}

	result := merge(dst, src)
	if len(result.Guard.ExemptFiles) != 0 {
		t.Errorf("explicit empty list should clear exemptions, got %v", result.Guard.ExemptFiles)
	}
}

func TestMerge_NuclearPatternsAccumulate(t *testing.T) {
	dst := Default()
	dst.Guard.NuclearPatterns = []string{`^shred `}
	src := &Config{Guard: GuardConfig{NuclearPatterns: []string{`^wipefs `}}}

	result := merge(dst, src)
	want := []string{`^shred `, `^wipefs `}
	if !reflect.DeepEqual(result.Guard.NuclearPatterns, want) {
		t.Errorf("NuclearPatterns = %v, want %v", result.Guard.NuclearPatterns, want)
	}
}

func TestApplyEnv(t *testing.T) {
	isolate(t)
	t.Setenv("AGENTOPS_OUTPUT", "yaml")
	t.Setenv("AGENTOPS_VERBOSE", "1")
	t.Setenv("AGENTOPS_GUARD_PROTECTED_BRANCHES", "main, release ,,")
	t.Setenv("AGENTOPS_GUARD_MARKER_DIR", "/tmp/m")
	t.Setenv("AGENTOPS_GUARD_SCOPE_PROOF_BY_PROJECT", "true")
	t.Setenv("AGENTOPS_GUARD_PROOF_MAX_AGE", "2h")
	t.Setenv("AGENTOPS_GUARD_LOG_LEVEL", "debug")

	cfg := applyEnv(Default())

	if cfg.Output != "yaml" {
		t.Errorf("applyEnv Output = %q, want %q", cfg.Output, "yaml")
	}
	if !cfg.Verbose {
		t.Error("applyEnv Verbose = false, want true")
	}
	if !reflect.DeepEqual(cfg.Guard.ProtectedBranches, []string{"main", "release"}) {
		t.Errorf("ProtectedBranches = %v", cfg.Guard.ProtectedBranches)
	}
	if cfg.Guard.MarkerDir != "/tmp/m" {
		t.Errorf("MarkerDir = %q", cfg.Guard.MarkerDir)
	}
	if !cfg.Guard.ScopeProofByProject {
		t.Error("ScopeProofByProject not applied")
	}
	if cfg.Guard.ProofMaxAge != "2h" || cfg.Guard.LogLevel != "debug" {
		t.Errorf("ProofMaxAge/LogLevel = %q/%q", cfg.Guard.ProofMaxAge, cfg.Guard.LogLevel)
	}
}

func TestGetEnvBool(t *testing.T) {
	tests := []struct {
		value   string
		want    bool
		wantSet bool
	}{
		{"true", true, true},
		{"1", true, true},
		{"false", false, true},
		{"0", false, true},
		{"yes", false, false},
		{"", false, false},
	}
	for _, tt := range tests {
		t.Run(tt.value, func(t *testing.T) {
			t.Setenv("AO_TEST_BOOL", tt.value)
			got, set := getEnvBool("AO_TEST_BOOL")
			if got != tt.want || set != tt.wantSet {
				t.Errorf("getEnvBool(%q) = (%v, %v), want (%v, %v)", tt.value, got, set, tt.want, tt.wantSet)
			}
		})
	}
}

func TestGetEnvList(t *testing.T) {
	t.Setenv("AO_TEST_LIST", "")
	if got := getEnvList("AO_TEST_LIST"); got != nil {
		t.Errorf("unset list = %v, want nil", got)
	}
	t.Setenv("AO_TEST_LIST", " a ,b,, c")
	if got := getEnvList("AO_TEST_LIST"); !reflect.DeepEqual(got, []string{"a", "b", "c"}) {
		t.Errorf("getEnvList = %v", got)
	}
}

func TestLoadFromPath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeConfig(t, path, `
output: json
guard:
  protected_branches: [main, production]
  exempt_files:
    - "docs/*.md"
  scope_proof_by_project: true
  proof_max_age: 30m
  nuclear_patterns:
    - '^shred '
`)

	cfg, err := loadFromPath(path)
	if err != nil {
		t.Fatalf("loadFromPath error = %v", err)
	}
	if cfg.Output != "json" {
		t.Errorf("Output = %q", cfg.Output)
	}
	if !reflect.DeepEqual(cfg.Guard.ProtectedBranches, []string{"main", "production"}) {
		t.Errorf("ProtectedBranches = %v", cfg.Guard.ProtectedBranches)
	}
	if !reflect.DeepEqual(cfg.Guard.ExemptFiles, []string{"docs/*.md"}) {
		t.Errorf("ExemptFiles = %v", cfg.Guard.ExemptFiles)
	}
	if !cfg.Guard.ScopeProofByProject || cfg.Guard.ProofMaxAge != "30m" {
		t.Errorf("scope/max age = %v/%q", cfg.Guard.ScopeProofByProject, cfg.Guard.ProofMaxAge)
	}
	if len(cfg.Guard.NuclearPatterns) != 1 {
		t.Errorf("NuclearPatterns = %v", cfg.Guard.NuclearPatterns)
	}
	if cfg.Guard.GuardianAgents != nil {
		t.Errorf("unset list should stay nil, got %v", cfg.Guard.GuardianAgents)
	}
}

func TestLoadFromPath_NotExists(t *testing.T) {
	cfg, err := loadFromPath(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil || cfg != nil {
		t.Errorf("loadFromPath(missing) = (%v, %v), want (nil, nil)", cfg, err)
	}
}

func TestLoadFromPath_Empty(t *testing.T) {
	cfg, err := loadFromPath("")
	if err != nil || cfg != nil {
		t.Errorf("loadFromPath(\"\") = (%v, %v), want (nil, nil)", cfg, err)
	}
}

func TestLoadFromPath_InvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	writeConfig(t, path, "guard: [unclosed")

	if _, err := loadFromPath(path); err == nil {
		t.Error("loadFromPath should fail on invalid YAML")
	}
}

func TestProjectConfigPath(t *testing.T) {
	t.Run("override", func(t *testing.T) {
		t.Setenv("AGENTOPS_CONFIG", "/etc/custom.yaml")
		if got := projectConfigPath(); got != "/etc/custom.yaml" {
			t.Errorf("projectConfigPath() = %q", got)
		}
	})

	t.Run("project dir", func(t *testing.T) {
		t.Setenv("AGENTOPS_CONFIG", "  \t ")
		t.Setenv("CLAUDE_PROJECT_DIR", "/work/repo")
		want := filepath.Join("/work/repo", ".agentops", "config.yaml")
		if got := projectConfigPath(); got != want {
			t.Errorf("projectConfigPath() = %q, want %q", got, want)
		}
	})

	t.Run("cwd", func(t *testing.T) {
		t.Setenv("AGENTOPS_CONFIG", "")
		t.Setenv("CLAUDE_PROJECT_DIR", "")
		cwd, _ := os.Getwd()
		want := filepath.Join(cwd, ".agentops", "config.yaml")
		if got := projectConfigPath(); got != want {
			t.Errorf("projectConfigPath() = %q, want %q", got, want)
		}
	})
}

func TestLoad_Precedence(t *testing.T) {
	home := isolate(t)
	writeConfig(t, filepath.Join(home, ".agentops", "config.yaml"), `
output: markdown
guard:
  protected_branches: [main]
  marker_dir: /home/markers
  nuclear_patterns: ['^home-pattern']
`)
	projectPath := filepath.Join(t.TempDir(), "project.yaml")
	writeConfig(t, projectPath, `
guard:
  marker_dir: /project/markers
  log_level: warn
  nuclear_patterns: ['^project-pattern']
`)
	t.Setenv("AGENTOPS_CONFIG", projectPath)
	t.Setenv("AGENTOPS_GUARD_LOG_LEVEL", "error")

	cfg, err := Load(&Config{Output: "json"})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Output != "json" {
		t.Errorf("flag should win: Output = %q", cfg.Output)
	}
	if !reflect.DeepEqual(cfg.Guard.ProtectedBranches, []string{"main"}) {
		t.Errorf("home ProtectedBranches = %v", cfg.Guard.ProtectedBranches)
	}
	if cfg.Guard.MarkerDir != "/project/markers" {
		t.Errorf("project should override home: MarkerDir = %q", cfg.Guard.MarkerDir)
	}
	if cfg.Guard.LogLevel != "error" {
		t.Errorf("env should override project: LogLevel = %q", cfg.Guard.LogLevel)
	}
	if len(cfg.Guard.NuclearPatterns) != 2 {
		t.Errorf("NuclearPatterns = %v, want both layers", cfg.Guard.NuclearPatterns)
	}
}

func TestLoad_NilOverrides(t *testing.T) {
	isolate(t)
	cfg, err := Load(nil)
	if err != nil {
		t.Fatalf("Load(nil) error = %v", err)
	}
	if cfg.Output != "table" {
		t.Errorf("Output = %q, want table", cfg.Output)
	}
}

func TestLoad_InvalidDuration(t *testing.T) {
	isolate(t)
	t.Setenv("AGENTOPS_GUARD_GIT_TIMEOUT", "soon")

	_, err := Load(nil)
	if !errors.Is(err, ErrInvalidDuration) {
		t.Errorf("Load() error = %v, want ErrInvalidDuration", err)
	}
}

func TestLoad_InvalidProjectYAML(t *testing.T) {
	isolate(t)
	path := filepath.Join(t.TempDir(), "bad.yaml")
	writeConfig(t, path, "guard: [unclosed")
	t.Setenv("AGENTOPS_CONFIG", path)

	if _, err := Load(nil); err == nil {
		t.Error("Load() should surface a malformed project config")
	}
}

func TestGuardConfig_Durations(t *testing.T) {
	tests := []struct {
		name    string
		cfg     GuardConfig
		git     time.Duration
		maxAge  time.Duration
		wantErr bool
	}{
		{"defaults", GuardConfig{}, 5 * time.Second, 0, false},
		{"explicit", GuardConfig{GitTimeout: "2s", ProofMaxAge: "1h"}, 2 * time.Second, time.Hour, false},
		{"zero max age", GuardConfig{ProofMaxAge: "0"}, 5 * time.Second, 0, false},
		{"bad timeout", GuardConfig{GitTimeout: "fast"}, 0, 0, true},
		{"negative timeout", GuardConfig{GitTimeout: "-1s"}, 0, 0, true},
		{"bad max age", GuardConfig{ProofMaxAge: "a while"}, 0, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			git, _ := tt.cfg.GitTimeoutDuration()
			age, _ := tt.cfg.ProofMaxAgeDuration()
			if git != tt.git || age != tt.maxAge {
				t.Errorf("durations = (%v, %v), want (%v, %v)", git, age, tt.git, tt.maxAge)
			}
		})
	}
}

func TestExpandHome(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	tests := map[string]string{
		"~":             home,
		"~/x/y":         filepath.Join(home, "x", "y"),
		"/abs/path":     "/abs/path",
		"rel/path":      "rel/path",
		"~other/things": "~other/things",
	}
	for in, want := range tests {
		if got := ExpandHome(in); got != want {
			t.Errorf("ExpandHome(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestResolveStringField(t *testing.T) {
	tests := []struct {
		name       string
		home       string
		project    string
		env        string
		flag       string
		wantValue  string
		wantSource Source
	}{
		{"default only", "", "", "", "", "def", SourceDefault},
		{"home", "h", "", "", "", "h", SourceHome},
		{"project over home", "h", "p", "", "", "p", SourceProject},
		{"env over project", "h", "p", "e", "", "e", SourceEnv},
		{"flag over all", "h", "p", "e", "f", "f", SourceFlag},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := resolveStringField(tt.home, tt.project, tt.env, tt.flag, "def")
			if got.Value != tt.wantValue || got.Source != tt.wantSource {
				t.Errorf("got (%v, %v), want (%v, %v)", got.Value, got.Source, tt.wantValue, tt.wantSource)
			}
		})
	}
}

func TestResolve_Defaults(t *testing.T) {
	isolate(t)
	rc := Resolve("", false)

	if rc.Output.Value != "table" || rc.Output.Source != SourceDefault {
		t.Errorf("Output = (%v, %v)", rc.Output.Value, rc.Output.Source)
	}
	if rc.GuardProtectedBranches.Value != "main,master" || rc.GuardProtectedBranches.Source != SourceDefault {
		t.Errorf("GuardProtectedBranches = (%v, %v)", rc.GuardProtectedBranches.Value, rc.GuardProtectedBranches.Source)
	}
	if rc.Verbose.Value != false {
		t.Errorf("Verbose = %v", rc.Verbose.Value)
	}
}

func TestResolve_Layers(t *testing.T) {
	home := isolate(t)
	writeConfig(t, filepath.Join(home, ".agentops", "config.yaml"), `
verbose: true
guard:
  guardian_agents: [guardian, reviewer]
`)
	projectPath := filepath.Join(t.TempDir(), "project.yaml")
	writeConfig(t, projectPath, `
guard:
  proof_file: /var/proof
`)
	t.Setenv("AGENTOPS_CONFIG", projectPath)
	t.Setenv("AGENTOPS_GUARD_GIT_TIMEOUT", "9s")

	rc := Resolve("yaml", false)

	if rc.Output.Value != "yaml" || rc.Output.Source != SourceFlag {
		t.Errorf("Output = (%v, %v)", rc.Output.Value, rc.Output.Source)
	}
	if rc.Verbose.Value != true || rc.Verbose.Source != SourceHome {
		t.Errorf("Verbose = (%v, %v)", rc.Verbose.Value, rc.Verbose.Source)
	}
	if rc.GuardGuardianAgents.Value != "guardian,reviewer" || rc.GuardGuardianAgents.Source != SourceHome {
		t.Errorf("GuardGuardianAgents = (%v, %v)", rc.GuardGuardianAgents.Value, rc.GuardGuardianAgents.Source)
	}
	if rc.GuardProofFile.Value != "/var/proof" || rc.GuardProofFile.Source != SourceProject {
		t.Errorf("GuardProofFile = (%v, %v)", rc.GuardProofFile.Value, rc.GuardProofFile.Source)
	}
	if rc.GuardGitTimeout.Value != "9s" || rc.GuardGitTimeout.Source != SourceEnv {
		t.Errorf("GuardGitTimeout = (%v, %v)", rc.GuardGitTimeout.Value, rc.GuardGitTimeout.Source)
	}
}
