package storage

import "errors"

// Sentinel errors for the storage package. Using sentinels instead of ad-hoc
// fmt.Errorf allows callers to match with errors.Is for reliable error handling.
var (
	// ErrFileTooLarge is returned when a state file exceeds the read limit.
	ErrFileTooLarge = errors.New("state file too large")
)
