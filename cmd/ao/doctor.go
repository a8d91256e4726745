package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/boshu2/agentops-guard/internal/config"
	"github.com/boshu2/agentops-guard/internal/hook"
)

var doctorJSON bool

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check guard health",
	Long: `Run health checks on the guard installation.

Validates that git is available, the configuration loads, the hook is
installed, and the marker and proof locations are usable. Optional
components are reported as warnings but do not cause failure.

Examples:
  ao doctor
  ao doctor --json`,
	RunE: runDoctor,
}

func init() {
	doctorCmd.Flags().BoolVar(&doctorJSON, "json", false, "Output results as JSON")
	rootCmd.AddCommand(doctorCmd)
}

type doctorCheck struct {
	Name     string `json:"name"`
	Status   string `json:"status"` // "pass", "warn", "fail"
	Detail   string `json:"detail"`
	Required bool   `json:"required"`
}

type doctorOutput struct {
	Checks  []doctorCheck `json:"checks"`
	Result  string        `json:"result"` // "HEALTHY", "UNHEALTHY"
	Summary string        `json:"summary"`
}

// gatherDoctorChecks runs all doctor checks and returns the results.
func gatherDoctorChecks() []doctorCheck {
	checks := []doctorCheck{
		{Name: "ao CLI", Status: "pass", Detail: fmt.Sprintf("v%s", version), Required: true},
		checkGitBinary(),
	}

	cfg, err := config.Load(nil)
	if err != nil {
		return append(checks, doctorCheck{Name: "Config", Status: "fail", Detail: err.Error(), Required: true})
	}
	checks = append(checks, doctorCheck{Name: "Config", Status: "pass", Detail: "loaded", Required: true})

	settings, err := settingsPath("")
	if err != nil {
		settings = ""
	}
	checks = append(checks,
		checkHookInstalled(settings),
		checkMarkerDir(config.ExpandHome(cfg.Guard.MarkerDir)),
		checkKillSwitch(os.Getenv),
	)
	if project, err := resolveProject(""); err == nil {
		checks = append(checks, checkProofFile(cfg, project))
	}
	return checks
}

// doctorStatusIcon returns the display icon for a check status.
func doctorStatusIcon(status string) string {
	switch status {
	case "pass":
		return "✓"
	case "warn":
		return "!"
	case "fail":
		return "✗"
	}
	return "?"
}

// renderDoctorTable writes the formatted doctor output table.
func renderDoctorTable(w io.Writer, output doctorOutput) {
	//nolint:errcheck // CLI output
	fmt.Fprintln(w, "ao doctor")
	//nolint:errcheck // CLI output
	fmt.Fprintln(w, "─────────")

	maxName := 0
	for _, c := range output.Checks {
		if len(c.Name) > maxName {
			maxName = len(c.Name)
		}
	}

	for _, c := range output.Checks {
		padding := strings.Repeat(" ", maxName-len(c.Name))
		//nolint:errcheck // CLI output
		fmt.Fprintf(w, "%s %s%s  %s\n", doctorStatusIcon(c.Status), c.Name, padding, c.Detail)
	}
	//nolint:errcheck // CLI output
	fmt.Fprintln(w)
	//nolint:errcheck // CLI output
	fmt.Fprintf(w, "%s\n", output.Summary)
}

// hasRequiredFailure returns true if any required check has failed.
func hasRequiredFailure(checks []doctorCheck) bool {
	for _, c := range checks {
		if c.Required && c.Status == "fail" {
			return true
		}
	}
	return false
}

func runDoctor(cmd *cobra.Command, args []string) error {
	output := computeResult(gatherDoctorChecks())
	w := cmd.OutOrStdout()

	if doctorJSON {
		data, err := json.MarshalIndent(output, "", "  ")
		if err != nil {
			return fmt.Errorf("marshal doctor output: %w", err)
		}
		//nolint:errcheck // CLI output
		fmt.Fprintln(w, string(data))
		return nil
	}

	renderDoctorTable(w, output)

	if hasRequiredFailure(output.Checks) {
		return fmt.Errorf("doctor failed: one or more required checks did not pass")
	}
	return nil
}

// checkGitBinary verifies git is on PATH. Every git check fails closed
// without it.
func checkGitBinary() doctorCheck {
	path, err := exec.LookPath("git")
	if err != nil {
		return doctorCheck{Name: "git", Status: "fail", Detail: "git not found in PATH; git commands will be denied", Required: true}
	}
	return doctorCheck{Name: "git", Status: "pass", Detail: path, Required: true}
}

func checkHookInstalled(settingsPath string) doctorCheck {
	name := "PreToolUse hook"
	if settingsPath == "" {
		return doctorCheck{Name: name, Status: "warn", Detail: "cannot determine home directory"}
	}
	raw, err := loadHooksSettings(settingsPath)
	if err != nil {
		return doctorCheck{Name: name, Status: "warn", Detail: err.Error()}
	}
	hooksMap := cloneHooksMap(raw)
	if !hookGroupContainsAo(hooksMap, hook.EventPreToolUse) {
		return doctorCheck{Name: name, Status: "warn", Detail: "not installed; run 'ao hooks install'"}
	}
	if !hookGroupContainsAo(hooksMap, hook.EventSubagentStop) {
		return doctorCheck{Name: name, Status: "warn", Detail: "SubagentStop hook missing, so Guardian markers are never removed; run 'ao hooks install --force'"}
	}
	return doctorCheck{Name: name, Status: "pass", Detail: settingsPath}
}

// checkMarkerDir verifies markers can be created, using a probe file.
func checkMarkerDir(dir string) doctorCheck {
	name := "Marker dir"
	if err := os.MkdirAll(dir, 0700); err != nil {
		return doctorCheck{Name: name, Status: "fail", Detail: err.Error(), Required: true}
	}
	probe, err := os.CreateTemp(dir, ".doctor-")
	if err != nil {
		return doctorCheck{Name: name, Status: "fail", Detail: fmt.Sprintf("not writable: %v", err), Required: true}
	}
	_ = probe.Close()
	_ = os.Remove(probe.Name())
	return doctorCheck{Name: name, Status: "pass", Detail: dir, Required: true}
}

func checkProofFile(cfg *config.Config, project string) doctorCheck {
	rt, err := newRuntime(cfg, hook.Env{}, false)
	if err != nil {
		return doctorCheck{Name: "Proof status", Status: "fail", Detail: err.Error(), Required: true}
	}
	st, err := rt.proofs.Get(project)
	if err != nil {
		return doctorCheck{Name: "Proof status", Status: "fail", Detail: err.Error(), Required: true}
	}
	rel := rt.proofs.Path(project)
	if r, err := filepath.Rel(project, rel); err == nil && !strings.HasPrefix(r, "..") {
		rel = r
	}
	return doctorCheck{Name: "Proof status", Status: "pass", Detail: fmt.Sprintf("%s in %s", st.Describe(), rel), Required: true}
}

func checkKillSwitch(getenv func(string) string) doctorCheck {
	if hook.EnvFrom(getenv).Disabled {
		return doctorCheck{Name: "Kill switch", Status: "warn", Detail: "guard disabled by environment; only catastrophic commands are blocked"}
	}
	return doctorCheck{Name: "Kill switch", Status: "pass", Detail: "off"}
}

// countCheckStatuses tallies pass, fail, and warn counts.
func countCheckStatuses(checks []doctorCheck) (passes, fails, warns int) {
	for _, c := range checks {
		switch c.Status {
		case "pass":
			passes++
		case "fail":
			fails++
		case "warn":
			warns++
		}
	}
	return passes, fails, warns
}

func buildDoctorSummary(passes, fails, warns, total int) string {
	switch {
	case fails > 0:
		return fmt.Sprintf("%d/%d checks passed, %d failed, %d warning(s)", passes, total, fails, warns)
	case warns > 0:
		return fmt.Sprintf("%d/%d checks passed, %d warning(s)", passes, total, warns)
	}
	return fmt.Sprintf("All %d checks passed", total)
}

func computeResult(checks []doctorCheck) doctorOutput {
	passes, fails, warns := countCheckStatuses(checks)
	total := len(checks)

	result := "HEALTHY"
	if fails > 0 {
		result = "UNHEALTHY"
	}

	return doctorOutput{
		Checks:  checks,
		Result:  result,
		Summary: buildDoctorSummary(passes, fails, warns, total),
	}
}
