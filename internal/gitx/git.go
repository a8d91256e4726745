// Package gitx answers the read-only repository questions the guard needs:
// which branch is checked out, what is staged, whether a merge is underway,
// and whether one commit is an ancestor of another. Nothing here writes to a
// repository.
package gitx

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// DefaultTimeout bounds every git subprocess.
const DefaultTimeout = 5 * time.Second

// Git is the set of repository queries used by the guard checks.
type Git interface {
	// CurrentBranch returns the checked-out branch. It returns ErrDetachedHEAD
	// for a detached checkout and ErrNotGitRepo outside a repository.
	CurrentBranch(ctx context.Context, dir string) (string, error)

	// StagedFiles lists paths in the index that differ from HEAD.
	StagedFiles(ctx context.Context, dir string) ([]string, error)

	// ModifiedFiles lists tracked paths with unstaged changes.
	ModifiedFiles(ctx context.Context, dir string) ([]string, error)

	// MergeInProgress reports whether MERGE_HEAD exists.
	MergeInProgress(ctx context.Context, dir string) (bool, error)

	// IsAncestor reports whether ancestor is reachable from descendant.
	IsAncestor(ctx context.Context, dir, ancestor, descendant string) (bool, error)

	// RepoRoot returns the top-level directory of the working tree.
	RepoRoot(ctx context.Context, dir string) (string, error)
}

// Exec implements Git by running the git binary.
type Exec struct {
	// Timeout bounds each subprocess. Zero means DefaultTimeout.
	Timeout time.Duration

	// Binary is the git executable. Empty means "git" from PATH.
	Binary string
}

// NewExec returns an Exec with the given per-call timeout.
func NewExec(timeout time.Duration) *Exec {
	return &Exec{Timeout: timeout}
}

var _ Git = (*Exec)(nil)

// CurrentBranch implements Git.
func (g *Exec) CurrentBranch(ctx context.Context, dir string) (string, error) {
	out, err := g.run(ctx, dir, "rev-parse", "--abbrev-ref", "HEAD")
	if err != nil {
		return "", err
	}
	branch := strings.TrimSpace(out)
	if branch == "HEAD" {
		return "", ErrDetachedHEAD
	}
	return branch, nil
}

// StagedFiles implements Git.
func (g *Exec) StagedFiles(ctx context.Context, dir string) ([]string, error) {
	out, err := g.run(ctx, dir, "diff", "--cached", "--name-only", "-z")
	if err != nil {
		return nil, err
	}
	return splitNUL(out), nil
}

// ModifiedFiles implements Git.
func (g *Exec) ModifiedFiles(ctx context.Context, dir string) ([]string, error) {
	out, err := g.run(ctx, dir, "diff", "--name-only", "-z")
	if err != nil {
		return nil, err
	}
	return splitNUL(out), nil
}

// MergeInProgress implements Git.
func (g *Exec) MergeInProgress(ctx context.Context, dir string) (bool, error) {
	_, err := g.run(ctx, dir, "rev-parse", "-q", "--verify", "MERGE_HEAD")
	if err == nil {
		return true, nil
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) && exitErr.Code == 1 {
		return false, nil
	}
	return false, err
}

// IsAncestor implements Git. git merge-base --is-ancestor exits 0 for yes and
// 1 for no; any other status is an error.
func (g *Exec) IsAncestor(ctx context.Context, dir, ancestor, descendant string) (bool, error) {
	_, err := g.run(ctx, dir, "merge-base", "--is-ancestor", ancestor, descendant)
	if err == nil {
		return true, nil
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) && exitErr.Code == 1 {
		return false, nil
	}
	return false, err
}

// RepoRoot implements Git.
func (g *Exec) RepoRoot(ctx context.Context, dir string) (string, error) {
	out, err := g.run(ctx, dir, "rev-parse", "--show-toplevel")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

// run executes git with a timeout and classifies failures.
func (g *Exec) run(ctx context.Context, dir string, args ...string) (string, error) {
	timeout := g.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	binary := g.Binary
	if binary == "" {
		binary = "git"
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, binary, args...)
	cmd.Dir = dir
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if err == nil {
		return stdout.String(), nil
	}
	if ctx.Err() == context.DeadlineExceeded {
		return "", fmt.Errorf("git %s timed out after %s: %w", args[0], timeout, ErrTimeout)
	}
	msg := strings.TrimSpace(stderr.String())
	if strings.Contains(strings.ToLower(msg), "not a git repository") {
		return "", ErrNotGitRepo
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return "", &ExitError{Args: args, Code: exitErr.ExitCode(), Stderr: msg}
	}
	return "", fmt.Errorf("git %s: %w", args[0], err)
}

func splitNUL(out string) []string {
	var files []string
	for _, f := range strings.Split(out, "\x00") {
		if f = strings.TrimSpace(f); f != "" {
			files = append(files, f)
		}
	}
	return files
}
