package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"
	"gopkg.in/yaml.v3"

	"github.com/boshu2/agentops-guard/internal/audit"
	"github.com/boshu2/agentops-guard/internal/config"
	"github.com/boshu2/agentops-guard/internal/guard"
	"github.com/boshu2/agentops-guard/internal/hook"
)

var (
	guardExitCode bool

	guardExplainCWD     string
	guardExplainSession string
	guardExplainProject string
	guardExplainAgent   string
)

var guardCmd = &cobra.Command{
	Use:   "guard",
	Short: "Evaluate tool calls against the guard pipeline",
	Long: `Evaluate Claude Code tool calls before they run.

Checks run in order and the first decisive one wins:
  nuclear              catastrophic commands (never disabled)
  cwd-recovery         rewrite commands whose working directory is gone
  protected-branch     unverified commits to main/master
  force-branch-delete  git branch -D without a merged Guardian cleanup
  branch-delete        git branch -d outside a Guardian session
  worktree-remove      forced worktree removal outside a Guardian session
  destructive-git      force push, reset --hard, clean -f, checkout .
  worker-commit        commits and pushes from worker agents
  dispatch             Guardian dispatch requires a verified proof

Examples:
  echo '{"tool_name":"Bash","tool_input":{"command":"ls"}}' | ao guard check
  ao guard explain "git branch -D feature/x"
  ao guard rules -o json`,
}

var guardCheckCmd = &cobra.Command{
	Use:   "check",
	Short: "Decide one PreToolUse payload read from stdin",
	Long: `Read a PreToolUse hook payload from stdin and write the decision.

A plain allow writes nothing. A deny or rewrite writes one JSON object in
the hookSpecificOutput shape. The exit code is 0 either way unless
--exit-code is set, in which case a deny exits 3.`,
	Args: cobra.NoArgs,
	RunE: runGuardCheck,
}

var guardRulesCmd = &cobra.Command{
	Use:   "rules",
	Short: "List the command classification rules",
	Args:  cobra.NoArgs,
	RunE:  runGuardRules,
}

var guardExplainCmd = &cobra.Command{
	Use:   "explain <command>",
	Short: "Trace the pipeline for a shell command",
	Long: `Run the pipeline against a shell command and show what every check did.

Explain never creates markers or changes the proof status.

Examples:
  ao guard explain "rm -rf /"
  ao guard explain --cwd /tmp/gone "make test"
  ao guard explain --session abc "git branch -D feature/x"`,
	Args: cobra.ExactArgs(1),
	RunE: runGuardExplain,
}

func init() {
	rootCmd.AddCommand(guardCmd)
	guardCmd.AddCommand(guardCheckCmd)
	guardCmd.AddCommand(guardRulesCmd)
	guardCmd.AddCommand(guardExplainCmd)

	guardCheckCmd.Flags().BoolVar(&guardExitCode, "exit-code", false, "Exit 3 when the call is denied")

	guardExplainCmd.Flags().StringVar(&guardExplainCWD, "cwd", "", "Working directory of the call (default: current directory)")
	guardExplainCmd.Flags().StringVar(&guardExplainSession, "session", "", "Session id (default: CLAUDE_SESSION_ID)")
	guardExplainCmd.Flags().StringVar(&guardExplainProject, "project", "", "Project root (default: CLAUDE_PROJECT_DIR or cwd)")
	guardExplainCmd.Flags().StringVar(&guardExplainAgent, "agent", "", "Agent identity (default: CLAUDE_AGENT_NAME)")
}

func runGuardCheck(cmd *cobra.Command, args []string) error {
	if term.IsTerminal(int(os.Stdin.Fd())) {
		return fmt.Errorf("ao guard check reads a hook payload from stdin; pipe JSON into it")
	}

	d, err := evaluateHook(cmd.Context(), os.Stdin, os.Stdout, os.Getenv)
	if err != nil {
		return err
	}
	if guardExitCode && d.Kind == guard.Deny {
		return &exitError{code: hook.ExitIncomplete}
	}
	return nil
}

// evaluateHook reads one payload from r, decides it and writes the response
// to w. Failures before the pipeline runs are reported as an internal-error
// deny rather than returned.
func evaluateHook(ctx context.Context, r io.Reader, w io.Writer, getenv func(string) string) (guard.Decision, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	in, err := hook.Read(r)
	if err != nil {
		d := guard.InternalError("input", err)
		return d, hook.Emit(w, d, nil)
	}
	env := hook.EnvFrom(getenv)
	req := in.Request(env)

	rt, err := setupHookRuntime(env)
	if err != nil {
		d := guard.InternalError("config", err)
		return d, hook.Emit(w, d, req.Input)
	}
	defer func() { _ = rt.logger.Sync() }()

	inv := audit.Begin(rt.logger, time.Now())
	out := rt.engine.Handle(ctx, req)
	inv.Record(req, out, time.Now())

	return out.Decision, hook.Emit(w, out.Decision, req.Input)
}

func setupHookRuntime(env hook.Env) (*guardRuntime, error) {
	cfg, err := config.Load(nil)
	if err != nil {
		return nil, err
	}
	return newRuntime(cfg, env, true)
}

type ruleView struct {
	Name     string `json:"name" yaml:"name"`
	Category string `json:"category" yaml:"category"`
	Reason   string `json:"reason" yaml:"reason"`
}

func runGuardRules(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(nil)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	classifier, err := guard.NewClassifier(cfg.Guard.NuclearPatterns)
	if err != nil {
		return err
	}
	return outputRules(os.Stdout, classifier.Rules())
}

func outputRules(w io.Writer, rules []guard.Rule) error {
	views := make([]ruleView, len(rules))
	for i, r := range rules {
		views[i] = ruleView{Name: r.Name, Category: r.Category.String(), Reason: r.Reason}
	}

	switch GetOutput() {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(views)
	case "yaml":
		return yaml.NewEncoder(w).Encode(views)
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	//nolint:errcheck // CLI tabwriter output
	fmt.Fprintln(tw, "RULE\tCATEGORY\tREASON")
	for _, v := range views {
		//nolint:errcheck // CLI tabwriter output
		fmt.Fprintf(tw, "%s\t%s\t%s\n", v.Name, v.Category, v.Reason)
	}
	return tw.Flush()
}

func runGuardExplain(cmd *cobra.Command, args []string) error {
	rt, err := loadRuntime(false)
	if err != nil {
		return err
	}
	req, err := explainRequest(args[0])
	if err != nil {
		return err
	}
	return explain(cmd.Context(), os.Stdout, rt, req)
}

func explainRequest(command string) (guard.Request, error) {
	project, err := resolveProject(guardExplainProject)
	if err != nil {
		return guard.Request{}, err
	}
	cwd := guardExplainCWD
	if cwd == "" {
		if cwd, err = os.Getwd(); err != nil {
			return guard.Request{}, fmt.Errorf("get working directory: %w", err)
		}
	}
	session := guardExplainSession
	if session == "" {
		session = os.Getenv("CLAUDE_SESSION_ID")
	}
	req := guard.NewBashRequest(command, cwd, session, project)
	req.AgentName = guardExplainAgent
	if req.AgentName == "" {
		req.AgentName = os.Getenv(hook.EnvAgentName)
	}
	return req, nil
}

// explain prints one line per check and the final decision.
func explain(ctx context.Context, w io.Writer, rt *guardRuntime, req guard.Request) error {
	if ctx == nil {
		ctx = context.Background()
	}
	class := rt.engine.Pipeline.Classifier.Classify(req.Command)

	//nolint:errcheck // CLI output
	fmt.Fprintf(w, "Command:  %s\n", req.Raw())
	if class.Rule != "" {
		//nolint:errcheck // CLI output
		fmt.Fprintf(w, "Class:    %s (%s)\n", class.Category, class.Rule)
	} else {
		//nolint:errcheck // CLI output
		fmt.Fprintf(w, "Class:    %s\n", class.Category)
	}
	//nolint:errcheck // CLI output
	fmt.Fprintln(w)

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	//nolint:errcheck // CLI tabwriter output
	fmt.Fprintln(tw, "CHECK\tRESULT\tDETAIL")
	d := rt.engine.Pipeline.DecideTrace(ctx, req, func(s guard.TraceStep) {
		result, detail := describeStep(s)
		//nolint:errcheck // CLI tabwriter output
		fmt.Fprintf(tw, "%s\t%s\t%s\n", s.Check, result, detail)
	})
	if err := tw.Flush(); err != nil {
		return err
	}

	//nolint:errcheck // CLI output
	fmt.Fprintln(w)
	switch d.Kind {
	case guard.Deny:
		//nolint:errcheck // CLI output
		fmt.Fprintf(w, "Decision: deny by %s: %s\n", d.Check, d.Reason)
	case guard.Rewrite:
		//nolint:errcheck // CLI output
		fmt.Fprintf(w, "Decision: rewrite by %s: %s\n", d.Check, d.Command)
	default:
		//nolint:errcheck // CLI output
		fmt.Fprintln(w, "Decision: allow")
	}
	return nil
}

func describeStep(s guard.TraceStep) (string, string) {
	switch {
	case s.Skipped != "":
		return "skipped", s.Skipped
	case s.Result.Err != nil:
		if errors.Is(s.Result.Err, context.DeadlineExceeded) {
			return "error", "timed out"
		}
		return "error", s.Result.Err.Error()
	case s.Result.Decisive:
		detail := s.Result.Decision.Reason
		if s.Result.Decision.Kind == guard.Rewrite {
			detail = s.Result.Decision.Command
		}
		return s.Result.Decision.Kind.String(), detail
	default:
		return "pass", s.Duration.Round(time.Microsecond).String()
	}
}
