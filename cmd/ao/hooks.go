package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/tidwall/jsonc"

	"github.com/boshu2/agentops-guard/embedded"
	"github.com/boshu2/agentops-guard/internal/hook"
	"github.com/boshu2/agentops-guard/internal/storage"
)

var (
	hooksDryRun   bool
	hooksForce    bool
	hooksSettings string
	hooksCommand  string
)

// HookEntry represents a single hook command (e.g., {"type": "command", "command": "..."}).
type HookEntry struct {
	Type    string `json:"type"`
	Command string `json:"command"`
	Timeout int    `json:"timeout,omitempty"`
}

// HookGroup represents a hook group with optional matcher and a hooks array.
// Claude Code format: {"matcher": "Write|Edit", "hooks": [{"type": "command", "command": "..."}]}
type HookGroup struct {
	Matcher string      `json:"matcher,omitempty"`
	Hooks   []HookEntry `json:"hooks"`
}

// HooksConfig is the hooks section the guard installs.
type HooksConfig struct {
	PreToolUse   []HookGroup `json:"PreToolUse,omitempty"`
	SubagentStop []HookGroup `json:"SubagentStop,omitempty"`
}

// hookEvent pairs an event name with the groups installed for it.
type hookEvent struct {
	name   string
	groups []HookGroup
}

// events lists the installed groups in settings order.
func (c *HooksConfig) events() []hookEvent {
	return []hookEvent{
		{hook.EventPreToolUse, c.PreToolUse},
		{hook.EventSubagentStop, c.SubagentStop},
	}
}

var hooksCmd = &cobra.Command{
	Use:   "hooks",
	Short: "Install the guard as a Claude Code PreToolUse hook",
	Long: `The hooks command manages the PreToolUse hook that runs 'ao guard check'
before every Bash, Task, Agent, and file-editing tool call, and the
SubagentStop hook that runs 'ao guardian end --hook' so a Guardian's marker
is removed when it finishes.

Subcommands:
  init      Print the hooks configuration
  install   Install the hook into Claude Code settings
  show      Display the installed guard hooks

Example workflow:
  ao hooks init                    # Inspect the configuration
  ao hooks install                 # Install to ~/.claude/settings.json
  ao hooks show                    # Verify`,
}

var hooksInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Print the hooks configuration",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := generateHooksConfig(hooksCommand)
		if err != nil {
			return err
		}
		wrapper := struct {
			Hooks *HooksConfig `json:"hooks"`
		}{Hooks: cfg}
		data, err := json.MarshalIndent(wrapper, "", "  ")
		if err != nil {
			return fmt.Errorf("marshal hooks: %w", err)
		}
		fmt.Println(string(data))
		return nil
	},
}

var hooksInstallCmd = &cobra.Command{
	Use:   "install",
	Short: "Install the hook to Claude Code settings",
	Long: `Install the guard hook to ~/.claude/settings.json.

This command:
  1. Reads existing settings.json (if any)
  2. Replaces any ao-managed PreToolUse and SubagentStop groups, keeping all others
  3. Creates a backup of the original settings
  4. Writes the updated configuration

Use --settings to target a project's .claude/settings.json instead.
Use --force to overwrite an existing ao hook.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		path, err := settingsPath(hooksSettings)
		if err != nil {
			return err
		}
		return installHooks(os.Stdout, path, hooksCommand, hooksForce, hooksDryRun || GetDryRun(), time.Now())
	},
}

var hooksShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Display the installed PreToolUse and SubagentStop hooks",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		path, err := settingsPath(hooksSettings)
		if err != nil {
			return err
		}
		return showHooks(os.Stdout, path)
	},
}

func init() {
	rootCmd.AddCommand(hooksCmd)
	hooksCmd.AddCommand(hooksInitCmd)
	hooksCmd.AddCommand(hooksInstallCmd)
	hooksCmd.AddCommand(hooksShowCmd)

	hooksCmd.PersistentFlags().StringVar(&hooksSettings, "settings", "", "Settings file (default: ~/.claude/settings.json)")
	hooksCmd.PersistentFlags().StringVar(&hooksCommand, "command", "", "Hook command (default: from the embedded manifest)")

	hooksInstallCmd.Flags().BoolVar(&hooksDryRun, "dry-run", false, "Show what would be installed without making changes")
	hooksInstallCmd.Flags().BoolVar(&hooksForce, "force", false, "Overwrite an existing ao hook")
}

// hooksManifest wraps the hooks.json file format which has a top-level "hooks" key.
type hooksManifest struct {
	Hooks *HooksConfig `json:"hooks"`
}

// ReadHooksManifest parses a hooks.json manifest from raw bytes.
// The manifest wraps events in a top-level "hooks" key and may contain a "$schema" key.
func ReadHooksManifest(data []byte) (*HooksConfig, error) {
	var manifest hooksManifest
	if err := json.Unmarshal(data, &manifest); err != nil {
		return nil, fmt.Errorf("parse hooks manifest: %w", err)
	}
	if manifest.Hooks == nil || len(manifest.Hooks.PreToolUse) == 0 {
		return nil, fmt.Errorf("hooks manifest has no %s hooks", hook.EventPreToolUse)
	}
	return manifest.Hooks, nil
}

// generateHooksConfig loads the embedded manifest, replacing the guard
// command when one is given. A command ending in "guard check" also sets the
// binary used by the SubagentStop hook.
func generateHooksConfig(command string) (*HooksConfig, error) {
	cfg, err := ReadHooksManifest(embedded.HooksJSON)
	if err != nil {
		return nil, err
	}
	if command == "" {
		return cfg, nil
	}
	for i := range cfg.PreToolUse {
		for j := range cfg.PreToolUse[i].Hooks {
			cfg.PreToolUse[i].Hooks[j].Command = command
		}
	}
	if bin, ok := strings.CutSuffix(strings.TrimSpace(command), " guard check"); ok {
		for i := range cfg.SubagentStop {
			for j := range cfg.SubagentStop[i].Hooks {
				cfg.SubagentStop[i].Hooks[j].Command = bin + " guardian end --hook"
			}
		}
	}
	return cfg, nil
}

func settingsPath(flag string) (string, error) {
	if flag != "" {
		return flag, nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("get home directory: %w", err)
	}
	return filepath.Join(homeDir, ".claude", "settings.json"), nil
}

// loadHooksSettings reads a settings file, tolerating the comments and
// trailing commas people leave in hand-edited copies. The rewritten file is
// plain JSON.
func loadHooksSettings(settingsPath string) (map[string]any, error) {
	rawSettings := make(map[string]any)
	data, err := os.ReadFile(settingsPath)
	if err == nil {
		if err := json.Unmarshal(jsonc.ToJSON(data), &rawSettings); err != nil {
			return nil, fmt.Errorf("parse existing settings: %w", err)
		}
		return rawSettings, nil
	}
	if os.IsNotExist(err) {
		return rawSettings, nil
	}
	return nil, fmt.Errorf("read settings: %w", err)
}

func cloneHooksMap(rawSettings map[string]any) map[string]any {
	hooksMap := make(map[string]any)
	if existing, ok := rawSettings["hooks"].(map[string]any); ok {
		for k, v := range existing {
			hooksMap[k] = v
		}
	}
	return hooksMap
}

// installHooks merges the guard hook into the settings file at path.
func installHooks(w io.Writer, path, command string, force, dry bool, now time.Time) error {
	rawSettings, err := loadHooksSettings(path)
	if err != nil {
		return err
	}
	newHooks, err := generateHooksConfig(command)
	if err != nil {
		return err
	}

	hooksMap := cloneHooksMap(rawSettings)
	if !force && aoHooksInstalled(hooksMap, newHooks) {
		//nolint:errcheck // CLI output
		fmt.Fprintln(w, "ao guard hook already installed. Use --force to overwrite.")
		return nil
	}

	for _, ev := range newHooks.events() {
		if len(ev.groups) == 0 {
			continue
		}
		groups := filterNonAoHookGroups(hooksMap, ev.name)
		for _, g := range ev.groups {
			groups = append(groups, hookGroupToMap(g))
		}
		hooksMap[ev.name] = groups
	}
	rawSettings["hooks"] = hooksMap

	data, err := json.MarshalIndent(rawSettings, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal settings: %w", err)
	}
	if dry {
		//nolint:errcheck // CLI output
		fmt.Fprintln(w, "[dry-run] Would write to", path)
		//nolint:errcheck // CLI output
		fmt.Fprintln(w, string(data))
		return nil
	}

	if err := backupHooksSettings(w, path, now); err != nil {
		return err
	}
	if err := storage.WriteFile(path, append(data, '\n'), 0644); err != nil {
		return fmt.Errorf("write settings: %w", err)
	}

	//nolint:errcheck // CLI output
	fmt.Fprintf(w, "✓ Installed ao guard hook to %s\n", path)
	for _, ev := range newHooks.events() {
		for _, g := range ev.groups {
			matcher := g.Matcher
			if matcher == "" {
				matcher = "*"
			}
			for _, h := range g.Hooks {
				//nolint:errcheck // CLI output
				fmt.Fprintf(w, "  %s [%s]: %s\n", ev.name, matcher, h.Command)
			}
		}
	}
	return nil
}

// aoHooksInstalled reports whether every event the manifest uses already
// has an ao group.
func aoHooksInstalled(hooksMap map[string]any, cfg *HooksConfig) bool {
	for _, ev := range cfg.events() {
		if len(ev.groups) > 0 && !hookGroupContainsAo(hooksMap, ev.name) {
			return false
		}
	}
	return true
}

func backupHooksSettings(w io.Writer, settingsPath string, now time.Time) error {
	data, err := os.ReadFile(settingsPath)
	if err != nil {
		return nil
	}
	backupPath := fmt.Sprintf("%s.backup.%s", settingsPath, now.Format("20060102-150405"))
	if err := os.WriteFile(backupPath, data, 0644); err != nil {
		return fmt.Errorf("create backup: %w", err)
	}
	//nolint:errcheck // CLI output
	fmt.Fprintf(w, "Backed up existing settings to %s\n", backupPath)
	return nil
}

func showHooks(w io.Writer, path string) error {
	rawSettings, err := loadHooksSettings(path)
	if err != nil {
		return err
	}
	hooksMap := cloneHooksMap(rawSettings)
	for _, event := range []string{hook.EventPreToolUse, hook.EventSubagentStop} {
		showHookEvent(w, hooksMap, event, path)
	}

	switch {
	case !hookGroupContainsAo(hooksMap, hook.EventPreToolUse):
		//nolint:errcheck // CLI output
		fmt.Fprintln(w, "⚠ ao guard hook not found. Run 'ao hooks install' to set up.")
	case !hookGroupContainsAo(hooksMap, hook.EventSubagentStop):
		//nolint:errcheck // CLI output
		fmt.Fprintln(w, "✓ ao guard hook is installed")
		//nolint:errcheck // CLI output
		fmt.Fprintln(w, "⚠ Guardian completion hook missing; markers outlive their Guardian. Run 'ao hooks install --force'.")
	default:
		//nolint:errcheck // CLI output
		fmt.Fprintln(w, "✓ ao guard hook is installed")
	}
	return nil
}

func showHookEvent(w io.Writer, hooksMap map[string]any, event, path string) {
	groups, _ := hooksMap[event].([]any)
	if len(groups) == 0 {
		//nolint:errcheck // CLI output
		fmt.Fprintf(w, "No %s hooks in %s\n\n", event, path)
		return
	}

	//nolint:errcheck // CLI output
	fmt.Fprintf(w, "%s hooks in %s:\n", event, path)
	for _, g := range groups {
		group, ok := g.(map[string]any)
		if !ok {
			continue
		}
		matcher, _ := group["matcher"].(string)
		if matcher == "" {
			matcher = "*"
		}
		hooks, _ := group["hooks"].([]any)
		for _, h := range hooks {
			entry, ok := h.(map[string]any)
			if !ok {
				continue
			}
			cmd, _ := entry["command"].(string)
			mark := " "
			if isAoManagedHookCommand(cmd) {
				mark = "✓"
			}
			//nolint:errcheck // CLI output
			fmt.Fprintf(w, "  %s [%s] %s\n", mark, matcher, cmd)
		}
	}
	//nolint:errcheck // CLI output
	fmt.Fprintln(w)
}

// rawGroupIsAoManaged checks whether a raw hook group runs an ao command.
func rawGroupIsAoManaged(group map[string]any) bool {
	hooks, ok := group["hooks"].([]any)
	if !ok {
		return false
	}
	for _, h := range hooks {
		entry, ok := h.(map[string]any)
		if !ok {
			continue
		}
		if cmd, ok := entry["command"].(string); ok && isAoManagedHookCommand(cmd) {
			return true
		}
	}
	return false
}

// hookGroupContainsAo checks if any hook group in the given event contains an ao command.
func hookGroupContainsAo(hooksMap map[string]any, event string) bool {
	groups, ok := hooksMap[event].([]any)
	if !ok {
		return false
	}
	for _, g := range groups {
		if group, ok := g.(map[string]any); ok && rawGroupIsAoManaged(group) {
			return true
		}
	}
	return false
}

// filterNonAoHookGroups returns hook groups that don't contain ao commands.
func filterNonAoHookGroups(hooksMap map[string]any, event string) []any {
	result := make([]any, 0)
	groups, ok := hooksMap[event].([]any)
	if !ok {
		return result
	}
	for _, g := range groups {
		group, ok := g.(map[string]any)
		if !ok || !rawGroupIsAoManaged(group) {
			result = append(result, g)
		}
	}
	return result
}

func isAoManagedHookCommand(cmd string) bool {
	fields := strings.Fields(cmd)
	for i := 0; i+1 < len(fields); i++ {
		if filepath.Base(fields[i]) == "ao" && (fields[i+1] == "guard" || fields[i+1] == "guardian") {
			return true
		}
	}
	return false
}

// hookGroupToMap converts a HookGroup to a map for JSON serialization.
func hookGroupToMap(g HookGroup) map[string]any {
	hooks := make([]any, len(g.Hooks))
	for i, h := range g.Hooks {
		entry := map[string]any{
			"type":    h.Type,
			"command": h.Command,
		}
		if h.Timeout > 0 {
			entry["timeout"] = h.Timeout
		}
		hooks[i] = entry
	}
	result := map[string]any{
		"hooks": hooks,
	}
	if g.Matcher != "" {
		result["matcher"] = g.Matcher
	}
	return result
}
