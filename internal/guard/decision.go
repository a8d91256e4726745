package guard

import "fmt"

// Kind is the outcome of a pipeline run.
type Kind int

const (
	// Allow lets the tool call run unchanged.
	Allow Kind = iota
	// Deny blocks the tool call.
	Deny
	// Rewrite lets the tool call run with a replacement command.
	Rewrite
)

func (k Kind) String() string {
	switch k {
	case Allow:
		return "allow"
	case Deny:
		return "deny"
	case Rewrite:
		return "rewrite"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// InternalErrorPrefix starts the reason of every fail-closed deny.
const InternalErrorPrefix = "internal safety error"

// Decision is the single answer to one tool call.
type Decision struct {
	Kind Kind `json:"-"`

	// Reason explains a deny or rewrite.
	Reason string `json:"reason,omitempty"`

	// Command is the replacement command of a rewrite.
	Command string `json:"command,omitempty"`

	// Check names the check that decided. Empty for a default allow.
	Check string `json:"check,omitempty"`
}

// Allowed returns a default allow.
func Allowed() Decision { return Decision{Kind: Allow} }

// Denied returns a deny attributed to check.
func Denied(check, reason string) Decision {
	return Decision{Kind: Deny, Check: check, Reason: reason}
}

// Rewritten returns a rewrite attributed to check.
func Rewritten(check, command, reason string) Decision {
	return Decision{Kind: Rewrite, Check: check, Command: command, Reason: reason}
}

// Result is what a single check returns. Decisive results end the pipeline.
// A non-nil Err always ends the pipeline as a deny, whatever Decision holds.
type Result struct {
	Decision Decision
	Decisive bool
	Err      error
}

// Pass is the result of a check that has no opinion.
func Pass() Result { return Result{} }

// Decide is a decisive result.
func Decide(d Decision) Result { return Result{Decision: d, Decisive: true} }

// Fail is an errored result.
func Fail(err error) Result { return Result{Err: err} }

// InternalError folds a failure in the named check or stage into a deny.
func InternalError(check string, err error) Decision {
	return Denied(check, fmt.Sprintf("%s in %s check: %v", InternalErrorPrefix, check, err))
}
