package gitx

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for the gitx package. Using sentinels instead of ad-hoc
// fmt.Errorf allows callers to match with errors.Is for reliable error handling.
var (
	// ErrDetachedHEAD is returned when HEAD does not point at a branch.
	ErrDetachedHEAD = errors.New("detached HEAD")

	// ErrNotGitRepo is returned when a query runs outside a git repository.
	ErrNotGitRepo = errors.New("not a git repository")

	// ErrTimeout is returned when a git subprocess exceeds its deadline.
	ErrTimeout = errors.New("git timed out")
)

// ExitError is a git subprocess that ran but exited non-zero.
type ExitError struct {
	Args   []string
	Code   int
	Stderr string
}

func (e *ExitError) Error() string {
	msg := fmt.Sprintf("git %s exited %d", strings.Join(e.Args, " "), e.Code)
	if e.Stderr != "" {
		msg += ": " + e.Stderr
	}
	return msg
}
