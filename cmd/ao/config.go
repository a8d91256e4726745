package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/boshu2/agentops-guard/internal/config"
)

var (
	configShow bool
)

// configEnvVars are the environment variables reported by 'ao config --show'.
var configEnvVars = []string{
	"AGENTOPS_CONFIG",
	"AGENTOPS_OUTPUT",
	"AGENTOPS_VERBOSE",
	"AGENTOPS_HOOKS_DISABLED",
	"AGENTOPS_GUARD_DISABLED",
	"AGENTOPS_GUARD_PROTECTED_BRANCHES",
	"AGENTOPS_GUARD_EXEMPT_FILES",
	"AGENTOPS_GUARD_GUARDIAN_AGENTS",
	"AGENTOPS_GUARD_MARKER_DIR",
	"AGENTOPS_GUARD_PROOF_FILE",
	"AGENTOPS_GUARD_SCOPE_PROOF_BY_PROJECT",
	"AGENTOPS_GUARD_PROOF_MAX_AGE",
	"AGENTOPS_GUARD_GIT_TIMEOUT",
	"AGENTOPS_GUARD_LOG_FILE",
	"AGENTOPS_GUARD_LOG_LEVEL",
	"CLAUDE_PROJECT_DIR",
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
	Long: `View and manage AgentOps guard configuration.

Configuration priority (highest to lowest):
  1. Command-line flags
  2. Environment variables (AGENTOPS_*)
  3. Project config (.agentops/config.yaml)
  4. Home config (~/.agentops/config.yaml)
  5. Defaults

Environment variables:
  AGENTOPS_CONFIG                    - Explicit project config file path
  AGENTOPS_OUTPUT                    - Default output format (table, json, yaml)
  AGENTOPS_VERBOSE                   - Enable verbose output (true/1)
  AGENTOPS_GUARD_DISABLED            - Kill switch; catastrophic commands stay blocked (1)
  AGENTOPS_GUARD_PROTECTED_BRANCHES  - Comma list of protected branches
  AGENTOPS_GUARD_EXEMPT_FILES        - Comma list of plan-file globs
  AGENTOPS_GUARD_GUARDIAN_AGENTS     - Comma list of Guardian subagent types
  AGENTOPS_GUARD_MARKER_DIR          - Guardian marker directory
  AGENTOPS_GUARD_PROOF_FILE          - Proof status file
  AGENTOPS_GUARD_PROOF_MAX_AGE       - Oldest accepted sign-off (e.g. 2h)
  AGENTOPS_GUARD_GIT_TIMEOUT         - Per git call timeout (default 5s)
  AGENTOPS_GUARD_LOG_FILE            - Decision log ("off" disables)
  AGENTOPS_GUARD_LOG_LEVEL           - debug, info, warn, error

Examples:
  ao config --show           # Show resolved configuration
  ao config --show -o json   # Output as JSON`,
	RunE: runConfig,
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.Flags().BoolVar(&configShow, "show", false, "Show resolved configuration with sources")
}

func runConfig(cmd *cobra.Command, args []string) error {
	if !configShow {
		// Show help if no flags
		return cmd.Help()
	}
	return showConfig(os.Stdout, config.Resolve(GetOutput(), GetVerbose()))
}

func showConfig(w io.Writer, resolved *config.ResolvedConfig) error {
	switch GetOutput() {
	case "json":
		data, err := json.MarshalIndent(resolved, "", "  ")
		if err != nil {
			return fmt.Errorf("marshal config: %w", err)
		}
		//nolint:errcheck // CLI output
		fmt.Fprintln(w, string(data))
		return nil
	case "yaml":
		return yaml.NewEncoder(w).Encode(resolved)
	}

	p := func(format string, args ...any) {
		//nolint:errcheck // CLI output
		fmt.Fprintf(w, format, args...)
	}

	p("AgentOps Guard Configuration\n")
	p("============================\n\n")

	p("Config files:\n")
	if home, err := os.UserHomeDir(); err == nil {
		printConfigFile(p, "Home:   ", filepath.Join(home, ".agentops", "config.yaml"))
	}
	if override := os.Getenv("AGENTOPS_CONFIG"); override != "" {
		printConfigFile(p, "Project:", override)
	} else if project, err := resolveProject(""); err == nil {
		printConfigFile(p, "Project:", filepath.Join(project, ".agentops", "config.yaml"))
	}

	p("\nResolved values:\n")
	rows := []struct {
		key string
		val interface{}
		src config.Source
	}{
		{"output", resolved.Output.Value, resolved.Output.Source},
		{"verbose", resolved.Verbose.Value, resolved.Verbose.Source},
		{"guard.protected_branches", resolved.GuardProtectedBranches.Value, resolved.GuardProtectedBranches.Source},
		{"guard.exempt_files", resolved.GuardExemptFiles.Value, resolved.GuardExemptFiles.Source},
		{"guard.guardian_agents", resolved.GuardGuardianAgents.Value, resolved.GuardGuardianAgents.Source},
		{"guard.marker_dir", resolved.GuardMarkerDir.Value, resolved.GuardMarkerDir.Source},
		{"guard.proof_file", resolved.GuardProofFile.Value, resolved.GuardProofFile.Source},
		{"guard.proof_max_age", resolved.GuardProofMaxAge.Value, resolved.GuardProofMaxAge.Source},
		{"guard.git_timeout", resolved.GuardGitTimeout.Value, resolved.GuardGitTimeout.Source},
		{"guard.log_file", resolved.GuardLogFile.Value, resolved.GuardLogFile.Source},
		{"guard.log_level", resolved.GuardLogLevel.Value, resolved.GuardLogLevel.Source},
	}
	for _, r := range rows {
		p("  %-26s %v  (from %s)\n", r.key+":", r.val, r.src)
	}

	p("\nEnvironment variables (if set):\n")
	anySet := false
	for _, env := range configEnvVars {
		if v := os.Getenv(env); v != "" {
			p("  %s=%s\n", env, v)
			anySet = true
		}
	}
	if !anySet {
		p("  (none set)\n")
	}
	return nil
}

func printConfigFile(p func(string, ...any), label, path string) {
	if _, err := os.Stat(path); err == nil {
		p("  ✓ %s %s\n", label, path)
	} else {
		p("  ✗ %s %s (not found)\n", label, path)
	}
}
