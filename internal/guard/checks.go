package guard

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/boshu2/agentops-guard/internal/gitx"
	"github.com/boshu2/agentops-guard/internal/shell"
)

// Check names, in pipeline order.
const (
	CheckNuclear           = "nuclear"
	CheckCWDRecovery       = "cwd-recovery"
	CheckProtectedBranch   = "protected-branch"
	CheckForceBranchDelete = "force-branch-delete"
	CheckBranchDelete      = "branch-delete"
	CheckWorktreeRemove    = "worktree-remove"
	CheckDestructiveGit    = "destructive-git"
	CheckWorkerCommit      = "worker-commit"
	CheckDispatch          = "dispatch"
)

// DefaultChecks returns the pipeline in evaluation order.
func DefaultChecks() []Check {
	return []Check{
		{Name: CheckNuclear, AlwaysOn: true, Run: checkNuclear},
		{Name: CheckCWDRecovery, Run: checkCWDRecovery},
		{Name: CheckProtectedBranch, GitGated: true, Run: checkProtectedBranch},
		{Name: CheckForceBranchDelete, GitGated: true, Run: checkForceBranchDelete},
		{Name: CheckBranchDelete, GitGated: true, Run: checkBranchDelete},
		{Name: CheckWorktreeRemove, GitGated: true, Run: checkWorktreeRemove},
		{Name: CheckDestructiveGit, GitGated: true, Run: checkDestructiveGit},
		{Name: CheckWorkerCommit, GitGated: true, Run: checkWorkerCommit},
		{Name: CheckDispatch, Run: checkDispatch},
	}
}

const guardianHint = "dispatch the guardian agent after `ao proof set verified`"

func checkNuclear(_ context.Context, _ *Pipeline, ev *Evaluation) Result {
	if ev.Class.Category != Catastrophic {
		return Pass()
	}
	reason := fmt.Sprintf("blocked catastrophic command (%s): %s", ev.Class.Rule, ev.Class.Reason)
	if ev.Class.Segment != "" {
		reason += fmt.Sprintf(" in %q", ev.Class.Segment)
	}
	return Decide(Denied(CheckNuclear, reason))
}

func checkCWDRecovery(_ context.Context, p *Pipeline, ev *Evaluation) Result {
	if ev.Tool != BashTool || ev.Command == nil || ev.CWD == "" {
		return Pass()
	}
	if _, err := p.stat(ev.CWD); err == nil || !os.IsNotExist(err) {
		return Pass()
	}

	target, err := p.recoveryTarget(ev.CWD)
	if err != nil {
		return Fail(err)
	}
	cmd := "cd " + shellQuote(target) + " && " + ev.Command.Raw
	reason := fmt.Sprintf("working directory %s no longer exists; running from %s", ev.CWD, target)
	return Decide(Rewritten(CheckCWDRecovery, cmd, reason))
}

// recoveryTarget returns the nearest existing ancestor of a missing
// directory that contains a .git entry, else the home directory.
func (p *Pipeline) recoveryTarget(missing string) (string, error) {
	dir := filepath.Clean(missing)
	for {
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
		if _, err := p.stat(dir); err != nil {
			continue
		}
		if _, err := p.stat(filepath.Join(dir, ".git")); err == nil {
			return dir, nil
		}
	}
	home, err := p.home()
	if err != nil {
		return "", fmt.Errorf("resolve home directory: %w", err)
	}
	return home, nil
}

// gitCalls yields each git segment of the command with its directory
// resolved to an absolute path.
func (p *Pipeline) gitCalls(ev *Evaluation) ([]shell.GitCall, error) {
	if ev.Command == nil {
		return nil, nil
	}
	var home string
	var calls []shell.GitCall
	for _, seg := range ev.Command.Segments {
		call, ok := seg.Git()
		if !ok {
			continue
		}
		if strings.HasPrefix(call.Dir, "~") && home == "" {
			h, err := p.home()
			if err != nil {
				return nil, fmt.Errorf("resolve home directory: %w", err)
			}
			home = h
		}
		call.Dir = shell.ResolveDir(call.Dir, ev.baseDir(), home)
		calls = append(calls, call)
	}
	return calls, nil
}

func checkProtectedBranch(ctx context.Context, p *Pipeline, ev *Evaluation) Result {
	calls, err := p.gitCalls(ev)
	if err != nil {
		return Fail(err)
	}
	for _, call := range calls {
		if call.Subcommand != "commit" {
			continue
		}
		res := p.protectedCommit(ctx, ev, call)
		if res.Err != nil || res.Decisive {
			return res
		}
	}
	return Pass()
}

func (p *Pipeline) protectedCommit(ctx context.Context, ev *Evaluation, call shell.GitCall) Result {
	branch, err := p.Git.CurrentBranch(ctx, call.Dir)
	switch {
	case errors.Is(err, gitx.ErrDetachedHEAD), errors.Is(err, gitx.ErrNotGitRepo):
		return Pass()
	case err != nil:
		return Fail(fmt.Errorf("resolve current branch: %w", err))
	}
	if !p.Policy.IsProtected(branch) {
		return Pass()
	}

	merging, err := p.Git.MergeInProgress(ctx, call.Dir)
	if err != nil {
		return Fail(fmt.Errorf("check merge state: %w", err))
	}
	if merging {
		return Pass()
	}

	current, st, err := p.proofCurrent(ev.ProjectRoot)
	if err != nil && !errors.Is(err, ErrNoProjectRoot) {
		return Fail(err)
	}
	if current {
		return Pass()
	}

	files, err := p.Git.StagedFiles(ctx, call.Dir)
	if err != nil {
		return Fail(fmt.Errorf("list staged files: %w", err))
	}
	if shell.HasFlag(call.Args, 'a', "--all") {
		modified, err := p.Git.ModifiedFiles(ctx, call.Dir)
		if err != nil {
			return Fail(fmt.Errorf("list modified files: %w", err))
		}
		files = append(files, modified...)
	}
	files = append(files, commitPathspecs(call.Args)...)

	var blocked []string
	for _, f := range files {
		if !p.Policy.Exempt(f) {
			blocked = append(blocked, f)
		}
	}
	if len(files) > 0 && len(blocked) == 0 {
		return Pass()
	}

	what := "nothing staged"
	if len(blocked) > 0 {
		what = "changes outside the plan documents: " + summarize(blocked, 5)
	}
	reason := fmt.Sprintf(
		"commit to protected branch %q blocked (%s); proof status is %s. Commit on a feature branch, or verify the change set and run `ao proof set verified`",
		branch, what, st.Describe())
	return Decide(Denied(CheckProtectedBranch, reason))
}

// commitValueShorts are short commit options whose value is the next word
// when they end a cluster.
const commitValueShorts = "mFCct"

var commitValueLongs = map[string]bool{
	"--message": true, "--file": true, "--reuse-message": true, "--reedit-message": true,
	"--template": true, "--author": true, "--date": true, "--cleanup": true,
	"--fixup": true, "--squash": true, "--trailer": true, "--pathspec-from-file": true,
}

// commitPathspecs returns the pathspec operands of "git commit [opts] <paths>".
func commitPathspecs(args []string) []string {
	var paths []string
	for i := 0; i < len(args); i++ {
		a := args[i]
		switch {
		case a == "--":
			return append(paths, args[i+1:]...)
		case strings.HasPrefix(a, "--"):
			if commitValueLongs[a] {
				i++
			}
		case strings.HasPrefix(a, "-") && len(a) > 1:
			if strings.IndexByte(commitValueShorts, a[len(a)-1]) >= 0 {
				// "-m" alone or at the end of a cluster takes the next word;
				// "-mfoo" carries its value inline.
				if len(a) == 2 || !strings.ContainsAny(a[1:len(a)-1], commitValueShorts) {
					i++
				}
			}
		default:
			paths = append(paths, a)
		}
	}
	return paths
}

// branchDeleteMode classifies a git branch invocation.
func branchDeleteMode(args []string) (del, force bool) {
	if shell.HasFlag(args, 'D') {
		return true, true
	}
	del = shell.HasFlag(args, 'd', "--delete")
	force = shell.HasFlag(args, 'f', "--force")
	return del, del && force
}

func checkForceBranchDelete(ctx context.Context, p *Pipeline, ev *Evaluation) Result {
	calls, err := p.gitCalls(ev)
	if err != nil {
		return Fail(err)
	}
	for _, call := range calls {
		if call.Subcommand != "branch" {
			continue
		}
		if _, force := branchDeleteMode(call.Args); !force {
			continue
		}

		active, err := p.guardianActive(ev)
		if err != nil {
			return Fail(err)
		}
		if !active {
			return Decide(Denied(CheckForceBranchDelete,
				"force branch deletion requires an active Guardian; "+guardianHint))
		}

		for _, branch := range shell.Positional(call.Args) {
			merged, err := p.Git.IsAncestor(ctx, call.Dir, branch, "HEAD")
			if err != nil {
				return Fail(fmt.Errorf("check ancestry of %s: %w", branch, err))
			}
			if !merged {
				return Decide(Denied(CheckForceBranchDelete, fmt.Sprintf(
					"branch %q has unmerged commits (its tip is not an ancestor of HEAD); merge it first or keep the branch",
					branch)))
			}
		}
	}
	return Pass()
}

func checkBranchDelete(_ context.Context, p *Pipeline, ev *Evaluation) Result {
	calls, err := p.gitCalls(ev)
	if err != nil {
		return Fail(err)
	}
	for _, call := range calls {
		if call.Subcommand != "branch" {
			continue
		}
		if del, force := branchDeleteMode(call.Args); !del || force {
			continue
		}
		active, err := p.guardianActive(ev)
		if err != nil {
			return Fail(err)
		}
		if !active {
			return Decide(Denied(CheckBranchDelete, "branch deletion requires an active Guardian; "+guardianHint))
		}
	}
	return Pass()
}

func checkWorktreeRemove(_ context.Context, p *Pipeline, ev *Evaluation) Result {
	calls, err := p.gitCalls(ev)
	if err != nil {
		return Fail(err)
	}
	for _, call := range calls {
		if call.Subcommand != "worktree" {
			continue
		}
		pos := shell.Positional(call.Args)
		if len(pos) == 0 || pos[0] != "remove" || !shell.HasFlag(call.Args, 'f', "--force") {
			continue
		}
		active, err := p.guardianActive(ev)
		if err != nil {
			return Fail(err)
		}
		if !active {
			return Decide(Denied(CheckWorktreeRemove,
				"forced worktree removal requires an active Guardian; remove without --force to keep the safety check, or "+guardianHint))
		}
	}
	return Pass()
}

// destructiveGitReason returns why a git call destroys work, and a safer
// alternative, or "" when it does not.
func destructiveGitReason(call shell.GitCall) string {
	pos := shell.Positional(call.Args)
	switch call.Subcommand {
	case "push":
		if shell.HasFlag(call.Args, 'f', "--force") {
			return "force push rewrites shared history; use --force-with-lease"
		}
		for _, ref := range pos {
			if strings.HasPrefix(ref, "+") {
				return "forced refspec rewrites shared history; use --force-with-lease"
			}
		}
	case "reset":
		if shell.HasFlag(call.Args, 0, "--hard") {
			return "reset --hard discards uncommitted work; use git stash or reset --soft"
		}
	case "clean":
		if shell.HasFlag(call.Args, 'f', "--force") && !shell.HasFlag(call.Args, 'n', "--dry-run") {
			return "clean -f deletes untracked files; preview with git clean -n"
		}
	case "checkout":
		if contains(pos, ".") {
			return "checkout . discards unstaged changes; use git stash"
		}
	case "restore":
		staged := shell.HasFlag(call.Args, 'S', "--staged")
		worktree := shell.HasFlag(call.Args, 'W', "--worktree")
		if contains(pos, ".") && (!staged || worktree) {
			return "restore . discards unstaged changes; use git stash or restore --staged"
		}
	}
	return ""
}

func checkDestructiveGit(_ context.Context, p *Pipeline, ev *Evaluation) Result {
	calls, err := p.gitCalls(ev)
	if err != nil {
		return Fail(err)
	}
	for _, call := range calls {
		why := destructiveGitReason(call)
		if why == "" {
			continue
		}
		active, err := p.guardianActive(ev)
		if err != nil {
			return Fail(err)
		}
		if !active {
			return Decide(Denied(CheckDestructiveGit, "destructive git operation blocked: "+why))
		}
	}
	return Pass()
}

func checkWorkerCommit(_ context.Context, p *Pipeline, ev *Evaluation) Result {
	if !p.Policy.IsWorker(ev.AgentName) {
		return Pass()
	}
	calls, err := p.gitCalls(ev)
	if err != nil {
		return Fail(err)
	}
	for _, call := range calls {
		var action string
		switch call.Subcommand {
		case "commit", "push":
			action = "git " + call.Subcommand
		case "add":
			if shell.HasFlag(call.Args, 'A', "--all") {
				action = "git add -A"
			}
		}
		if action != "" {
			return Decide(Denied(CheckWorkerCommit, fmt.Sprintf(
				"worker %q may not run %s; write files and let the lead agent commit", ev.AgentName, action)))
		}
	}
	return Pass()
}

// checkDispatch gates launching a Guardian. On allow the marker is created
// before the decision is returned, so it exists before the allow is emitted.
func checkDispatch(_ context.Context, p *Pipeline, ev *Evaluation) Result {
	if !p.Policy.IsDispatchTool(ev.Tool) || !p.Policy.IsGuardian(ev.SubagentType) {
		return Pass()
	}

	current, st, err := p.proofCurrent(ev.ProjectRoot)
	if err != nil {
		return Fail(err)
	}
	if !current {
		reason := fmt.Sprintf("guardian dispatch blocked: proof status is %s", st.Describe())
		if st.Verified() {
			reason += fmt.Sprintf(", older than the %s limit", p.Policy.ProofMaxAge)
		}
		reason += "; verify the change set and run `ao proof set verified`"
		return Decide(Denied(CheckDispatch, reason))
	}

	if err := p.Markers.Create(ev.SessionID, ev.ProjectRoot); err != nil {
		return Fail(fmt.Errorf("create guardian marker: %w", err))
	}
	return Decide(Decision{Kind: Allow, Check: CheckDispatch, Reason: "proof verified; guardian marker created"})
}

// shellQuote quotes s for a POSIX shell when it holds special characters.
func shellQuote(s string) string {
	if s != "" && strings.IndexFunc(s, func(r rune) bool {
		return !(r == '/' || r == '.' || r == '-' || r == '_' || r == '+' || r == '@' || r == ':' || r == ',' ||
			(r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9'))
	}) < 0 {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

func summarize(items []string, max int) string {
	if len(items) <= max {
		return strings.Join(items, ", ")
	}
	return fmt.Sprintf("%s and %d more", strings.Join(items[:max], ", "), len(items)-max)
}
