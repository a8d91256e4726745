package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/boshu2/agentops-guard/internal/hook"
	"github.com/boshu2/agentops-guard/internal/marker"
)

var (
	guardianSession string
	guardianProject string
	guardianAll     bool
	guardianHook    bool
)

var guardianCmd = &cobra.Command{
	Use:   "guardian",
	Short: "Manage Guardian session markers",
	Long: `A Guardian marker records that a Guardian subagent is active for a
(session, project) pair. While it exists, file edits keep the verified proof
status and branch or worktree cleanup is allowed.

The dispatch check creates the marker when a Guardian is launched with a
verified proof. 'ao guardian end --hook', installed as a SubagentStop hook
by 'ao hooks install', removes it when the Guardian finishes.

Examples:
  ao guardian list
  ao guardian start --session abc
  ao guardian end --session abc
  ao guardian end --session abc --all`,
}

var guardianStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Create a marker for a verified project",
	Long: `Create the Guardian marker for a session and project by hand.

The proof status must be verified and current, exactly as for a dispatch;
otherwise the command exits 3 and creates nothing.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, session, project, err := guardianContext()
		if err != nil {
			return err
		}
		return startGuardian(os.Stdout, rt, session, project, time.Now())
	},
}

var guardianEndCmd = &cobra.Command{
	Use:   "end",
	Short: "Remove the marker for a session",
	Long: `Remove the Guardian marker for a session.

With --hook the session and project come from a SubagentStop payload on
stdin. The marker is removed only when the stopped subagent is a Guardian,
or when the host does not report which subagent stopped. Nothing is
written to stdout in hook mode.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if guardianHook {
			return runGuardianEndHook(cmd.InOrStdin(), os.Getenv)
		}
		rt, session, project, err := guardianContext()
		if err != nil {
			return err
		}
		return endGuardian(os.Stdout, rt, session, project, guardianAll)
	},
}

var guardianListCmd = &cobra.Command{
	Use:   "list",
	Short: "List markers, including orphans from ended sessions",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := loadRuntime(false)
		if err != nil {
			return err
		}
		project, err := resolveProject(guardianProject)
		if err != nil {
			return err
		}
		return listGuardians(os.Stdout, rt, project)
	},
}

func init() {
	rootCmd.AddCommand(guardianCmd)
	guardianCmd.AddCommand(guardianStartCmd)
	guardianCmd.AddCommand(guardianEndCmd)
	guardianCmd.AddCommand(guardianListCmd)

	guardianCmd.PersistentFlags().StringVar(&guardianSession, "session", "", "Session id (default: CLAUDE_SESSION_ID)")
	guardianCmd.PersistentFlags().StringVar(&guardianProject, "project", "", "Project root (default: CLAUDE_PROJECT_DIR or cwd)")
	guardianEndCmd.Flags().BoolVar(&guardianAll, "all", false, "Remove the session's markers for every project")
	guardianEndCmd.Flags().BoolVar(&guardianHook, "hook", false, "Read the session from a SubagentStop hook payload on stdin")
}

func guardianContext() (*guardRuntime, string, string, error) {
	session, err := resolveSession(guardianSession)
	if err != nil {
		return nil, "", "", err
	}
	project, err := resolveProject(guardianProject)
	if err != nil {
		return nil, "", "", err
	}
	rt, err := loadRuntime(false)
	if err != nil {
		return nil, "", "", err
	}
	return rt, session, project, nil
}

func startGuardian(w io.Writer, rt *guardRuntime, session, project string, now time.Time) error {
	st, err := rt.proofs.Get(project)
	if err != nil {
		return err
	}
	if !rt.proofCurrent(st, now) {
		return incomplete("guardian not started: proof status is %s", st.Describe())
	}
	path := rt.markers.Path(session, project)
	if GetDryRun() {
		//nolint:errcheck // CLI output
		fmt.Fprintf(w, "[dry-run] Would create %s\n", path)
		return nil
	}
	if err := rt.markers.Create(session, project); err != nil {
		return err
	}
	//nolint:errcheck // CLI output
	fmt.Fprintf(w, "✓ Guardian marker created: %s\n", path)
	return nil
}

func endGuardian(w io.Writer, rt *guardRuntime, session, project string, all bool) error {
	if GetDryRun() {
		//nolint:errcheck // CLI output
		fmt.Fprintf(w, "[dry-run] Would remove guardian markers for session %s\n", session)
		return nil
	}
	if all {
		n, err := rt.markers.RemoveSession(session)
		if err != nil {
			return err
		}
		//nolint:errcheck // CLI output
		fmt.Fprintf(w, "✓ Removed %d guardian marker(s) for session %s\n", n, session)
		return nil
	}
	if err := rt.markers.Remove(session, project); err != nil {
		return err
	}
	//nolint:errcheck // CLI output
	fmt.Fprintf(w, "✓ Guardian marker removed for session %s\n", session)
	return nil
}

// runGuardianEndHook is the SubagentStop entry point.
func runGuardianEndHook(r io.Reader, getenv func(string) string) error {
	in, err := hook.Read(r)
	if err != nil {
		return err
	}
	if in.Malformed {
		return fmt.Errorf("guardian end --hook: stdin is not a hook payload")
	}
	env := hook.EnvFrom(getenv)
	rt, err := setupHookRuntime(env)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	defer func() { _ = rt.logger.Sync() }()

	_, err = endGuardianFromHook(rt, in, env)
	return err
}

// endGuardianFromHook removes the marker named by a SubagentStop payload and
// reports whether one was removed.
func endGuardianFromHook(rt *guardRuntime, in *hook.Input, env hook.Env) (bool, error) {
	if in.SessionID == "" {
		return false, nil
	}
	if in.AgentType != "" && !rt.policy.IsGuardian(in.AgentType) {
		return false, nil
	}
	project := in.ProjectRoot(env)
	if project == "" {
		return false, nil
	}
	exists, err := rt.markers.Exists(in.SessionID, project)
	if err != nil || !exists {
		return false, err
	}
	if err := rt.markers.Remove(in.SessionID, project); err != nil {
		rt.logger.Error("guardian marker removal failed",
			zap.String("session", in.SessionID),
			zap.String("project_hash", marker.ProjectHash(project)),
			zap.Error(err))
		return false, err
	}
	rt.logger.Info("guardian marker removed",
		zap.String("session", in.SessionID),
		zap.String("project_hash", marker.ProjectHash(project)),
		zap.String("agent_type", in.AgentType))
	return true, nil
}

type guardianView struct {
	marker.Entry `yaml:",inline"`
	Current      bool `json:"current_project" yaml:"current_project"`
}

func listGuardians(w io.Writer, rt *guardRuntime, project string) error {
	entries, err := rt.markers.List()
	if err != nil {
		return err
	}
	hash := marker.ProjectHash(project)
	views := make([]guardianView, len(entries))
	for i, e := range entries {
		views[i] = guardianView{Entry: e, Current: e.ProjectHash == hash}
	}

	switch GetOutput() {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(views)
	case "yaml":
		return yaml.NewEncoder(w).Encode(views)
	}

	if len(views) == 0 {
		//nolint:errcheck // CLI output
		fmt.Fprintln(w, "No guardian markers")
		return nil
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	//nolint:errcheck // CLI tabwriter output
	fmt.Fprintln(tw, "SESSION\tPROJECT\tCREATED\tTHIS PROJECT")
	for _, v := range views {
		here := ""
		if v.Current {
			here = "✓"
		}
		//nolint:errcheck // CLI tabwriter output
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", v.Session, v.ProjectHash, v.CreatedAt, here)
	}
	return tw.Flush()
}
