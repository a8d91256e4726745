// Package guard decides whether a tool call an agent is about to make may
// run. Every PreToolUse invocation is turned into a Request, run through an
// ordered Pipeline of checks, and answered with exactly one Decision: allow,
// deny, or rewrite.
//
// # Threat Model
//
// T1 - Catastrophic Commands: Agents occasionally emit commands whose blast
// radius is unbounded (recursive deletion of / or $HOME, writes to raw block
// devices, filesystem formatting, fork bombs). These are denied
// unconditionally by the nuclear check, which runs before every other check
// and cannot be switched off.
//
// T2 - Stale Working Directory: An agent whose working directory was removed
// (a deleted worktree, a re-cloned repo) keeps issuing commands against a
// path that no longer exists. The cwd-recovery check rewrites such commands
// to first change into the nearest surviving repository ancestor, or $HOME.
//
// T3 - Destructive Git Operations: Force push, hard reset, force clean,
// checkout-dot, restore-dot, force branch delete, and forced worktree removal
// destroy uncommitted work or rewrite shared history. They are reserved for
// an active Guardian, and force branch deletion additionally requires the
// branch to be merged into HEAD.
//
// T4 - Worker Privilege Escalation: Parallel worker agents write files but
// never commit or push. Identities carrying a worker prefix
// (CLAUDE_AGENT_NAME) are blocked from git commit, git push, and git add -A.
//
// T5 - Unverified Commits on Protected Branches: Commits to main/master are
// denied unless a merge is being concluded, the staged set touches only the
// living plan documents, or the change set carries a current sign-off.
//
// T6 - Proof Invalidation Race: The Guardian may only be dispatched while the
// proof status is verified. Any file mutation resets verified to pending
// unless a Guardian marker is present. The marker is created inside the
// dispatch allow path, before the allow is emitted, so a write that lands
// between dispatch and the Guardian's first action cannot reset the proof.
//
// # Design Principles
//
// Fail closed: a check that errors or panics becomes a deny whose reason
// starts with "internal safety error". No fault crosses the pipeline boundary.
//
// Hot-path exit: commands classified benign skip every git check, so the
// common case spawns no subprocess.
//
// Kill switches: AGENTOPS_HOOKS_DISABLED=1 or AGENTOPS_GUARD_DISABLED=1 turn
// off every check except the nuclear check.
package guard
