// Package proof tracks whether the current change set has been signed off.
//
// The status is a single line "<state>|<unix-seconds>" in a per-project file.
// It moves to verified when an external verification step succeeds, and back
// to pending when a file is mutated while no Guardian is active.
package proof

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// State is the verification state of a project.
type State string

const (
	// StatePending is the default: nothing has been verified.
	StatePending State = "pending"

	// StateNeedsVerification is set by an external collaborator to request
	// a verification run. The invalidation guard leaves it alone.
	StateNeedsVerification State = "needs-verification"

	// StateVerified means the current change set passed verification.
	StateVerified State = "verified"
)

// States lists every valid state in lifecycle order.
var States = []State{StatePending, StateNeedsVerification, StateVerified}

// ParseState validates a state name.
func ParseState(s string) (State, error) {
	for _, st := range States {
		if string(st) == s {
			return st, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownState, s)
}

// Status is the recorded state and when it was entered.
type Status struct {
	State     State     `json:"state" yaml:"state"`
	Timestamp time.Time `json:"timestamp" yaml:"timestamp"`
}

// Recorded reports whether the status came from a file rather than the
// pending default.
func (s Status) Recorded() bool {
	return !s.Timestamp.IsZero()
}

// Verified reports whether the status is verified.
func (s Status) Verified() bool {
	return s.State == StateVerified
}

// Age returns how long ago the status was recorded. An unrecorded status
// has zero age.
func (s Status) Age(now time.Time) time.Duration {
	if !s.Recorded() {
		return 0
	}
	return now.Sub(s.Timestamp)
}

// Describe renders the status for deny reasons and CLI output.
func (s Status) Describe() string {
	switch {
	case !s.Recorded() && s.State == StatePending:
		return "pending (never recorded)"
	case !s.Recorded():
		return fmt.Sprintf("%s (no timestamp)", s.State)
	}
	return fmt.Sprintf("%s (since %s)", s.State, s.Timestamp.UTC().Format(time.RFC3339))
}

// Encode renders the on-disk line, newline terminated.
func (s Status) Encode() string {
	var ts int64
	if s.Recorded() {
		ts = s.Timestamp.Unix()
	}
	return fmt.Sprintf("%s|%d\n", s.State, ts)
}

// Decode parses an on-disk line. Anything unrecognized decodes as pending
// with a zero timestamp.
func Decode(line string) Status {
	line = strings.TrimSpace(line)
	if i := strings.IndexByte(line, '\n'); i >= 0 {
		line = strings.TrimSpace(line[:i])
	}
	stateStr, tsStr, ok := strings.Cut(line, "|")
	if !ok {
		return Status{State: StatePending}
	}
	state, err := ParseState(strings.TrimSpace(stateStr))
	if err != nil {
		return Status{State: StatePending}
	}
	secs, err := strconv.ParseInt(strings.TrimSpace(tsStr), 10, 64)
	if err != nil || secs < 0 {
		return Status{State: StatePending}
	}
	st := Status{State: state}
	if secs > 0 {
		st.Timestamp = time.Unix(secs, 0)
	}
	return st
}
