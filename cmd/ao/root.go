package main

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/boshu2/agentops-guard/internal/hook"
)

var (
	// Global flags
	dryRun  bool
	verbose bool
	output  string
	cfgFile string
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "ao",
	Short: "AgentOps guard for Claude Code tool calls",
	Long: `ao guards the tool calls an agent makes inside a git repository.

It runs as a Claude Code PreToolUse hook and refuses catastrophic shell
commands, unverified commits to protected branches, and unsupervised branch
or worktree deletion. A verified proof status lets a Guardian subagent
finish the work.

Core Commands:
  guard        Evaluate tool calls (the hook entry point)
  proof        Show and record the verification status
  guardian     Manage Guardian session markers
  hooks        Install the PreToolUse hook
  config       Show resolved configuration
  version      Show version information

Kill switch:
  AGENTOPS_GUARD_DISABLED=1 skips every check except the catastrophic
  command catalog, which cannot be disabled.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		syncConfigFlagToEnv()
	},
}

// exitError carries a process exit code other than 1 out of a command.
type exitError struct {
	code int
	msg  string
}

func (e *exitError) Error() string { return e.msg }

// incomplete reports "needs remediation" with exit code 3.
func incomplete(format string, args ...any) error {
	return &exitError{code: hook.ExitIncomplete, msg: fmt.Sprintf(format, args...)}
}

// exitCode maps a command error to the process exit code.
func exitCode(err error) int {
	if err == nil {
		return hook.ExitOK
	}
	var ee *exitError
	if errors.As(err, &ee) {
		return ee.code
	}
	return hook.ExitUsage
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	err := rootCmd.Execute()
	if err != nil && err.Error() != "" {
		fmt.Fprintln(os.Stderr, "Error:", err)
	}
	if code := exitCode(err); code != hook.ExitOK {
		os.Exit(code)
	}
}

func init() {
	// Global flags available to all commands
	rootCmd.PersistentFlags().BoolVar(&dryRun, "dry-run", false, "Show what would happen without executing")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")
	rootCmd.PersistentFlags().StringVarP(&output, "output", "o", "table", "Output format (json, table, yaml)")
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Config file (default: .agentops/config.yaml in the project)")
}

// GetDryRun returns the dry-run flag value for use by subcommands.
func GetDryRun() bool {
	return dryRun
}

// GetVerbose returns the verbose flag value for use by subcommands.
func GetVerbose() bool {
	return verbose
}

// GetOutput returns the output format for use by subcommands.
func GetOutput() string {
	return output
}

// GetConfigFile returns the config file path for use by subcommands.
func GetConfigFile() string {
	return cfgFile
}

// VerbosePrintf prints to stderr only when verbose mode is enabled. Stdout
// belongs to the hook protocol.
func VerbosePrintf(format string, args ...interface{}) {
	if verbose {
		fmt.Fprintf(os.Stderr, format, args...)
	}
}

func syncConfigFlagToEnv() {
	path := strings.TrimSpace(GetConfigFile())
	if path == "" {
		return
	}
	_ = os.Setenv("AGENTOPS_CONFIG", path)
}
