// Package config provides configuration management for the AgentOps guard.
// Configuration is loaded from (highest to lowest priority):
// 1. Command-line flags
// 2. Environment variables (AGENTOPS_*)
// 3. Project config (.agentops/config.yaml in the project root)
// 4. Home config (~/.agentops/config.yaml)
// 5. Defaults
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all AgentOps guard configuration.
type Config struct {
	// Output controls the default output format (table, json, yaml).
	Output string `yaml:"output" json:"output"`

	// Verbose enables verbose output.
	Verbose bool `yaml:"verbose" json:"verbose"`

	// Guard settings
	Guard GuardConfig `yaml:"guard" json:"guard"`
}

// GuardConfig holds the PreToolUse guard policy and state locations.
type GuardConfig struct {
	// ProtectedBranches are branches that reject unverified commits.
	// Default: [main, master]
	ProtectedBranches []string `yaml:"protected_branches" json:"protected_branches"`

	// ExemptFiles are glob patterns that may be committed to a protected
	// branch without sign-off. Patterns without a slash match file names.
	// Default: [.agents/plans/*.md, PLAN.md, *.plan.md]
	ExemptFiles []string `yaml:"exempt_files" json:"exempt_files"`

	// GuardianAgents are subagent types gated by the proof status.
	// Default: [guardian]
	GuardianAgents []string `yaml:"guardian_agents" json:"guardian_agents"`

	// DispatchTools are the tools that launch subagents.
	// Default: [Task, Agent]
	DispatchTools []string `yaml:"dispatch_tools" json:"dispatch_tools"`

	// MutatingTools are the tools whose use invalidates a sign-off.
	// Default: [Write, Edit, MultiEdit, NotebookEdit]
	MutatingTools []string `yaml:"mutating_tools" json:"mutating_tools"`

	// WorkerPrefixes mark agent identities that may not commit or push.
	// Default: [worker-]
	WorkerPrefixes []string `yaml:"worker_prefixes" json:"worker_prefixes"`

	// MarkerDir holds Guardian marker files, outside any project tree.
	// Default: ~/.agentops/guard/markers
	MarkerDir string `yaml:"marker_dir" json:"marker_dir"`

	// ProofFile is the proof status file, relative to the project root
	// unless absolute.
	// Default: .agents/guard/proof-status
	ProofFile string `yaml:"proof_file" json:"proof_file"`

	// ScopeProofByProject suffixes the proof file with a project hash.
	ScopeProofByProject bool `yaml:"scope_proof_by_project" json:"scope_proof_by_project"`

	// ProofMaxAge bounds how old a verified status may be ("" disables).
	ProofMaxAge string `yaml:"proof_max_age" json:"proof_max_age"`

	// GitTimeout bounds each git subprocess.
	// Default: 5s
	GitTimeout string `yaml:"git_timeout" json:"git_timeout"`

	// NuclearPatterns are extra regular expressions denied unconditionally.
	NuclearPatterns []string `yaml:"nuclear_patterns" json:"nuclear_patterns"`

	// LogFile receives JSON decision logs ("off" disables).
	// Default: ~/.agentops/logs/guard.log
	LogFile string `yaml:"log_file" json:"log_file"`

	// LogLevel is debug, info, warn, or error.
	// Default: info
	LogLevel string `yaml:"log_level" json:"log_level"`
}

// Default config values (used in resolution and validation).
const (
	defaultOutput     = "table"
	defaultProofFile  = ".agents/guard/proof-status"
	defaultGitTimeout = "5s"
	defaultLogLevel   = "info"
)

func defaultMarkerDir() string {
	return filepath.Join("~", ".agentops", "guard", "markers")
}

func defaultLogFile() string {
	return filepath.Join("~", ".agentops", "logs", "guard.log")
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Output:  defaultOutput,
		Verbose: false,
		Guard: GuardConfig{
			ProtectedBranches: []string{"main", "master"},
			ExemptFiles:       []string{".agents/plans/*.md", "PLAN.md", "*.plan.md"},
			GuardianAgents:    []string{"guardian"},
			DispatchTools:     []string{"Task", "Agent"},
			MutatingTools:     []string{"Write", "Edit", "MultiEdit", "NotebookEdit"},
			WorkerPrefixes:    []string{"worker-"},
			MarkerDir:         defaultMarkerDir(),
			ProofFile:         defaultProofFile,
			GitTimeout:        defaultGitTimeout,
			LogFile:           defaultLogFile(),
			LogLevel:          defaultLogLevel,
		},
	}
}

// Load loads configuration with proper precedence.
// Priority: flags > env > project > home > defaults
func Load(flagOverrides *Config) (*Config, error) {
	cfg := Default()

	// Load home config
	homeConfig, err := loadFromPath(homeConfigPath())
	if err != nil {
		return nil, err
	}
	if homeConfig != nil {
		cfg = merge(cfg, homeConfig)
	}

	// Load project config
	projectConfig, err := loadFromPath(projectConfigPath())
	if err != nil {
		return nil, err
	}
	if projectConfig != nil {
		cfg = merge(cfg, projectConfig)
	}

	// Apply environment variables
	cfg = applyEnv(cfg)

	// Apply flag overrides
	if flagOverrides != nil {
		cfg = merge(cfg, flagOverrides)
	}

	if err := cfg.Guard.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// homeConfigPath returns the home config path.
func homeConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".agentops", "config.yaml")
}

// projectConfigPath returns the project config path. AGENTOPS_CONFIG wins,
// then the hook host's CLAUDE_PROJECT_DIR, then the working directory.
func projectConfigPath() string {
	if override := strings.TrimSpace(os.Getenv("AGENTOPS_CONFIG")); override != "" {
		return override
	}
	if dir := strings.TrimSpace(os.Getenv("CLAUDE_PROJECT_DIR")); dir != "" {
		return filepath.Join(dir, ".agentops", "config.yaml")
	}
	cwd, err := os.Getwd()
	if err != nil {
		return ""
	}
	return filepath.Join(cwd, ".agentops", "config.yaml")
}

// loadFromPath loads config from a YAML file. A missing file is not an
// error; a file that does not parse is.
func loadFromPath(path string) (*Config, error) {
	if path == "" {
		return nil, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	return &cfg, nil
}

// applyEnv applies environment variable overrides.
func applyEnv(cfg *Config) *Config {
	if v := os.Getenv("AGENTOPS_OUTPUT"); v != "" {
		cfg.Output = v
	}
	if os.Getenv("AGENTOPS_VERBOSE") == "true" || os.Getenv("AGENTOPS_VERBOSE") == "1" {
		cfg.Verbose = true
	}
	if v := getEnvList("AGENTOPS_GUARD_PROTECTED_BRANCHES"); v != nil {
		cfg.Guard.ProtectedBranches = v
	}
	if v := getEnvList("AGENTOPS_GUARD_EXEMPT_FILES"); v != nil {
		cfg.Guard.ExemptFiles = v
	}
	if v := getEnvList("AGENTOPS_GUARD_GUARDIAN_AGENTS"); v != nil {
		cfg.Guard.GuardianAgents = v
	}
	if v := os.Getenv("AGENTOPS_GUARD_MARKER_DIR"); v != "" {
		cfg.Guard.MarkerDir = v
	}
	if v := os.Getenv("AGENTOPS_GUARD_PROOF_FILE"); v != "" {
		cfg.Guard.ProofFile = v
	}
	if v, ok := getEnvBool("AGENTOPS_GUARD_SCOPE_PROOF_BY_PROJECT"); ok {
		cfg.Guard.ScopeProofByProject = v
	}
	if v := os.Getenv("AGENTOPS_GUARD_PROOF_MAX_AGE"); v != "" {
		cfg.Guard.ProofMaxAge = v
	}
	if v := os.Getenv("AGENTOPS_GUARD_GIT_TIMEOUT"); v != "" {
		cfg.Guard.GitTimeout = v
	}
	if v := os.Getenv("AGENTOPS_GUARD_LOG_FILE"); v != "" {
		cfg.Guard.LogFile = v
	}
	if v := os.Getenv("AGENTOPS_GUARD_LOG_LEVEL"); v != "" {
		cfg.Guard.LogLevel = v
	}
	return cfg
}

// mergeStr overwrites dst with src when src is non-empty.
func mergeStr(dst *string, src string) {
	if src != "" {
		*dst = src
	}
}

// mergeList overwrites dst with src when src is non-nil. An explicit empty
// YAML list (`[]`) clears the default.
func mergeList(dst *[]string, src []string) {
	if src != nil {
		*dst = append([]string(nil), src...)
	}
}

// merge merges src into dst, with src values taking precedence.
// For booleans, we need explicit tracking via pointer or separate "set" flag.
func merge(dst, src *Config) *Config {
	mergeStr(&dst.Output, src.Output)
	if src.Verbose {
		dst.Verbose = true
	}

	mergeGuard(&dst.Guard, &src.Guard)

	return dst
}

// mergeGuard merges guard-specific config fields.
func mergeGuard(dst, src *GuardConfig) {
	mergeList(&dst.ProtectedBranches, src.ProtectedBranches)
	mergeList(&dst.ExemptFiles, src.ExemptFiles)
	mergeList(&dst.GuardianAgents, src.GuardianAgents)
	mergeList(&dst.DispatchTools, src.DispatchTools)
	mergeList(&dst.MutatingTools, src.MutatingTools)
	mergeList(&dst.WorkerPrefixes, src.WorkerPrefixes)
	mergeStr(&dst.MarkerDir, src.MarkerDir)
	mergeStr(&dst.ProofFile, src.ProofFile)
	if src.ScopeProofByProject {
		dst.ScopeProofByProject = true
	}
	mergeStr(&dst.ProofMaxAge, src.ProofMaxAge)
	mergeStr(&dst.GitTimeout, src.GitTimeout)
	// Nuclear patterns accumulate: a project cannot drop a home-level pattern.
	dst.NuclearPatterns = append(dst.NuclearPatterns, src.NuclearPatterns...)
	mergeStr(&dst.LogFile, src.LogFile)
	mergeStr(&dst.LogLevel, src.LogLevel)
}

// Validate checks the duration fields.
func (g GuardConfig) Validate() error {
	if _, err := g.GitTimeoutDuration(); err != nil {
		return err
	}
	if _, err := g.ProofMaxAgeDuration(); err != nil {
		return err
	}
	return nil
}

// GitTimeoutDuration parses GitTimeout. Empty means 5s.
func (g GuardConfig) GitTimeoutDuration() (time.Duration, error) {
	if g.GitTimeout == "" {
		return 5 * time.Second, nil
	}
	d, err := time.ParseDuration(g.GitTimeout)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("%w: git_timeout %q", ErrInvalidDuration, g.GitTimeout)
	}
	return d, nil
}

// ProofMaxAgeDuration parses ProofMaxAge. Empty or "0" disables the limit.
func (g GuardConfig) ProofMaxAgeDuration() (time.Duration, error) {
	if g.ProofMaxAge == "" || g.ProofMaxAge == "0" {
		return 0, nil
	}
	d, err := time.ParseDuration(g.ProofMaxAge)
	if err != nil || d < 0 {
		return 0, fmt.Errorf("%w: proof_max_age %q", ErrInvalidDuration, g.ProofMaxAge)
	}
	return d, nil
}

// ExpandHome replaces a leading "~" with the user's home directory.
func ExpandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}

// Source represents where a config value came from.
type Source string

const (
	SourceDefault Source = "default"
	SourceHome    Source = "~/.agentops/config.yaml"
	SourceProject Source = ".agentops/config.yaml"
	SourceEnv     Source = "environment"
	SourceFlag    Source = "flag"
)

// getEnvString returns the value and whether the env var was set.
func getEnvString(key string) (string, bool) {
	v := os.Getenv(key)
	return v, v != ""
}

// getEnvBool returns the boolean value and whether the env var was set to a
// recognized value.
func getEnvBool(key string) (bool, bool) {
	switch os.Getenv(key) {
	case "true", "1":
		return true, true
	case "false", "0":
		return false, true
	}
	return false, false
}

// getEnvList splits a comma-separated env var. Unset returns nil.
func getEnvList(key string) []string {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// resolveStringField resolves a string through the precedence chain.
// Returns the resolved value and its source.
func resolveStringField(home, project, env, flag, def string) resolved {
	// Start with default
	result := resolved{Value: def, Source: SourceDefault}

	// Home config overrides default
	if home != "" {
		result = resolved{Value: home, Source: SourceHome}
	}

	// Project config overrides home
	if project != "" {
		result = resolved{Value: project, Source: SourceProject}
	}

	// Environment overrides project
	if env != "" {
		result = resolved{Value: env, Source: SourceEnv}
	}

	// Flag overrides everything (if set)
	if flag != "" {
		result = resolved{Value: flag, Source: SourceFlag}
	}

	return result
}

// ResolvedConfig shows config values with their sources.
type ResolvedConfig struct {
	Output                 resolved `json:"output" yaml:"output"`
	Verbose                resolved `json:"verbose" yaml:"verbose"`
	GuardProtectedBranches resolved `json:"guard_protected_branches" yaml:"guard_protected_branches"`
	GuardExemptFiles       resolved `json:"guard_exempt_files" yaml:"guard_exempt_files"`
	GuardGuardianAgents    resolved `json:"guard_guardian_agents" yaml:"guard_guardian_agents"`
	GuardMarkerDir         resolved `json:"guard_marker_dir" yaml:"guard_marker_dir"`
	GuardProofFile         resolved `json:"guard_proof_file" yaml:"guard_proof_file"`
	GuardProofMaxAge       resolved `json:"guard_proof_max_age" yaml:"guard_proof_max_age"`
	GuardGitTimeout        resolved `json:"guard_git_timeout" yaml:"guard_git_timeout"`
	GuardLogFile           resolved `json:"guard_log_file" yaml:"guard_log_file"`
	GuardLogLevel          resolved `json:"guard_log_level" yaml:"guard_log_level"`
}

type resolved struct {
	Value  interface{} `json:"value" yaml:"value"`
	Source Source      `json:"source" yaml:"source"`
}

// layerValues are the guard strings one config layer sets.
type layerValues struct {
	output, protected, exempt, guardians          string
	markerDir, proofFile, proofMaxAge, gitTimeout string
	logFile, logLevel                             string
	verbose                                       bool
}

func valuesOf(cfg *Config) layerValues {
	if cfg == nil {
		return layerValues{}
	}
	g := cfg.Guard
	return layerValues{
		output:      cfg.Output,
		verbose:     cfg.Verbose,
		protected:   strings.Join(g.ProtectedBranches, ","),
		exempt:      strings.Join(g.ExemptFiles, ","),
		guardians:   strings.Join(g.GuardianAgents, ","),
		markerDir:   g.MarkerDir,
		proofFile:   g.ProofFile,
		proofMaxAge: g.ProofMaxAge,
		gitTimeout:  g.GitTimeout,
		logFile:     g.LogFile,
		logLevel:    g.LogLevel,
	}
}

// Resolve returns configuration with source tracking.
// Uses precedence chain: flags > env > project > home > defaults.
func Resolve(flagOutput string, flagVerbose bool) *ResolvedConfig {
	// Load configs once
	homeConfig, _ := loadFromPath(homeConfigPath())
	projectConfig, _ := loadFromPath(projectConfigPath())

	home := valuesOf(homeConfig)
	project := valuesOf(projectConfig)
	def := valuesOf(Default())

	// Get environment values
	envOutput, _ := getEnvString("AGENTOPS_OUTPUT")
	envVerbose, envVerboseSet := getEnvBool("AGENTOPS_VERBOSE")
	envProtected, _ := getEnvString("AGENTOPS_GUARD_PROTECTED_BRANCHES")
	envExempt, _ := getEnvString("AGENTOPS_GUARD_EXEMPT_FILES")
	envGuardians, _ := getEnvString("AGENTOPS_GUARD_GUARDIAN_AGENTS")
	envMarkerDir, _ := getEnvString("AGENTOPS_GUARD_MARKER_DIR")
	envProofFile, _ := getEnvString("AGENTOPS_GUARD_PROOF_FILE")
	envProofMaxAge, _ := getEnvString("AGENTOPS_GUARD_PROOF_MAX_AGE")
	envGitTimeout, _ := getEnvString("AGENTOPS_GUARD_GIT_TIMEOUT")
	envLogFile, _ := getEnvString("AGENTOPS_GUARD_LOG_FILE")
	envLogLevel, _ := getEnvString("AGENTOPS_GUARD_LOG_LEVEL")

	// Resolve string fields through precedence chain
	rc := &ResolvedConfig{
		Output:                 resolveStringField(home.output, project.output, envOutput, flagOutput, defaultOutput),
		Verbose:                resolved{Value: false, Source: SourceDefault},
		GuardProtectedBranches: resolveStringField(home.protected, project.protected, envProtected, "", def.protected),
		GuardExemptFiles:       resolveStringField(home.exempt, project.exempt, envExempt, "", def.exempt),
		GuardGuardianAgents:    resolveStringField(home.guardians, project.guardians, envGuardians, "", def.guardians),
		GuardMarkerDir:         resolveStringField(home.markerDir, project.markerDir, envMarkerDir, "", def.markerDir),
		GuardProofFile:         resolveStringField(home.proofFile, project.proofFile, envProofFile, "", def.proofFile),
		GuardProofMaxAge:       resolveStringField(home.proofMaxAge, project.proofMaxAge, envProofMaxAge, "", ""),
		GuardGitTimeout:        resolveStringField(home.gitTimeout, project.gitTimeout, envGitTimeout, "", def.gitTimeout),
		GuardLogFile:           resolveStringField(home.logFile, project.logFile, envLogFile, "", def.logFile),
		GuardLogLevel:          resolveStringField(home.logLevel, project.logLevel, envLogLevel, "", def.logLevel),
	}

	// Resolve verbose (boolean with OR semantics through chain)
	if home.verbose {
		rc.Verbose = resolved{Value: true, Source: SourceHome}
	}
	if project.verbose {
		rc.Verbose = resolved{Value: true, Source: SourceProject}
	}
	if envVerboseSet && envVerbose {
		rc.Verbose = resolved{Value: true, Source: SourceEnv}
	}
	if flagVerbose {
		rc.Verbose = resolved{Value: true, Source: SourceFlag}
	}

	return rc
}
