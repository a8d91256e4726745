package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/boshu2/agentops-guard/internal/config"
	"github.com/boshu2/agentops-guard/internal/hook"
)

// cliEnvKeys are cleared so the host's guard settings do not leak into tests.
var cliEnvKeys = []string{
	"AGENTOPS_OUTPUT", "AGENTOPS_VERBOSE", "CLAUDE_PROJECT_DIR", "CLAUDE_SESSION_ID",
	"CLAUDE_AGENT_NAME", "AGENTOPS_HOOKS_DISABLED", "AGENTOPS_GUARD_DISABLED",
	"AGENTOPS_GUARD_PROTECTED_BRANCHES", "AGENTOPS_GUARD_EXEMPT_FILES",
	"AGENTOPS_GUARD_GUARDIAN_AGENTS", "AGENTOPS_GUARD_PROOF_FILE",
	"AGENTOPS_GUARD_SCOPE_PROOF_BY_PROJECT", "AGENTOPS_GUARD_PROOF_MAX_AGE",
	"AGENTOPS_GUARD_GIT_TIMEOUT", "AGENTOPS_GUARD_LOG_LEVEL",
}

type cliEnv struct {
	home      string
	project   string
	markerDir string
}

// isolateCLI points HOME, config, markers and logs at temp dirs. The
// project directory is created with a .git entry so it looks like a repo
// root to the cwd recovery check.
func isolateCLI(t *testing.T) cliEnv {
	t.Helper()
	for _, key := range cliEnvKeys {
		t.Setenv(key, "")
	}
	e := cliEnv{
		home:      t.TempDir(),
		project:   t.TempDir(),
		markerDir: filepath.Join(t.TempDir(), "markers"),
	}
	t.Setenv("HOME", e.home)
	t.Setenv("AGENTOPS_CONFIG", filepath.Join(e.home, "no-project-config.yaml"))
	t.Setenv("AGENTOPS_GUARD_MARKER_DIR", e.markerDir)
	t.Setenv("AGENTOPS_GUARD_LOG_FILE", "off")
	if err := os.Mkdir(filepath.Join(e.project, ".git"), 0755); err != nil {
		t.Fatal(err)
	}
	return e
}

// testRuntime builds a runtime against the isolated environment.
func testRuntime(t *testing.T, mutate func(*config.Config)) (*guardRuntime, cliEnv) {
	t.Helper()
	e := isolateCLI(t)
	cfg, err := config.Load(nil)
	if err != nil {
		t.Fatalf("config.Load: %v", err)
	}
	if mutate != nil {
		mutate(cfg)
	}
	rt, err := newRuntime(cfg, hook.Env{}, false)
	if err != nil {
		t.Fatalf("newRuntime: %v", err)
	}
	return rt, e
}

// withOutput sets the global output format for the duration of a test.
func withOutput(t *testing.T, format string) {
	t.Helper()
	prev := output
	output = format
	t.Cleanup(func() { output = prev })
}

// withDryRun sets the global dry-run flag for the duration of a test.
func withDryRun(t *testing.T, v bool) {
	t.Helper()
	prev := dryRun
	dryRun = v
	t.Cleanup(func() { dryRun = prev })
}
