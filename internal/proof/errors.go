package proof

import "errors"

// Sentinel errors for the proof package. Using sentinels instead of ad-hoc
// fmt.Errorf allows callers to match with errors.Is for reliable error handling.
var (
	// ErrUnknownState is returned for a state name outside States.
	ErrUnknownState = errors.New("unknown proof state")

	// ErrProjectRequired is returned when a store operation has no project root.
	ErrProjectRequired = errors.New("project root required")
)
