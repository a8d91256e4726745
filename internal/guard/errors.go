package guard

import "errors"

// Sentinel errors for the guard package. Using sentinels instead of ad-hoc
// fmt.Errorf allows callers to match with errors.Is for reliable error handling.
var (
	// ErrInvalidPattern is returned when a configured nuclear pattern does not compile.
	ErrInvalidPattern = errors.New("invalid nuclear pattern")

	// ErrCheckPanicked wraps a recovered panic from a check.
	ErrCheckPanicked = errors.New("check panicked")

	// ErrNoProjectRoot is returned when a check needs a project root and none was supplied.
	ErrNoProjectRoot = errors.New("no project root")
)
