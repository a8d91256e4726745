package guard

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/boshu2/agentops-guard/internal/gitx"
	"github.com/boshu2/agentops-guard/internal/marker"
	"github.com/boshu2/agentops-guard/internal/proof"
)

// Check is one stage of the pipeline.
type Check struct {
	Name string

	// AlwaysOn checks run even when the policy is disabled.
	AlwaysOn bool

	// GitGated checks only run for shell commands classified git-sensitive.
	GitGated bool

	Run func(ctx context.Context, p *Pipeline, ev *Evaluation) Result
}

// Evaluation is the per-run state handed to each check.
type Evaluation struct {
	Request
	Class Classification
}

// Pipeline runs the checks in order; the first decisive result wins.
type Pipeline struct {
	Checks     []Check
	Classifier *Classifier
	Policy     Policy

	Proof   proof.Store
	Markers marker.Store
	Git     gitx.Git

	// Stat, Home, and Now are filesystem and clock seams.
	Stat func(name string) (os.FileInfo, error)
	Home func() (string, error)
	Now  func() time.Time
}

// Deps are the collaborators a Pipeline needs.
type Deps struct {
	Proof      proof.Store
	Markers    marker.Store
	Git        gitx.Git
	Classifier *Classifier
	Policy     Policy
}

// NewPipeline returns a Pipeline with the default checks.
func NewPipeline(d Deps) *Pipeline {
	classifier := d.Classifier
	if classifier == nil {
		classifier = MustClassifier()
	}
	return &Pipeline{
		Checks:     DefaultChecks(),
		Classifier: classifier,
		Policy:     d.Policy,
		Proof:      d.Proof,
		Markers:    d.Markers,
		Git:        d.Git,
		Stat:       os.Stat,
		Home:       os.UserHomeDir,
		Now:        time.Now,
	}
}

// TraceStep records what one check did during DecideTrace.
type TraceStep struct {
	Check    string
	Skipped  string
	Result   Result
	Duration time.Duration
}

// Decide returns the decision for req.
func (p *Pipeline) Decide(ctx context.Context, req Request) Decision {
	return p.DecideTrace(ctx, req, nil)
}

// DecideTrace is Decide with a callback after every check, including
// skipped ones.
func (p *Pipeline) DecideTrace(ctx context.Context, req Request, trace func(TraceStep)) Decision {
	ev := &Evaluation{Request: req}
	if req.Command != nil {
		ev.Class = p.Classifier.Classify(req.Command)
	}

	for _, c := range p.Checks {
		if reason := p.skip(c, ev); reason != "" {
			if trace != nil {
				trace(TraceStep{Check: c.Name, Skipped: reason})
			}
			continue
		}

		start := p.now()
		res := p.run(ctx, c, ev)
		if trace != nil {
			trace(TraceStep{Check: c.Name, Result: res, Duration: p.now().Sub(start)})
		}

		if res.Err != nil {
			return InternalError(c.Name, res.Err)
		}
		if res.Decisive {
			d := res.Decision
			if d.Check == "" {
				d.Check = c.Name
			}
			return d
		}
	}
	return Allowed()
}

func (p *Pipeline) skip(c Check, ev *Evaluation) string {
	if p.Policy.Disabled && !c.AlwaysOn {
		return "guard disabled"
	}
	if c.GitGated && (ev.Command == nil || ev.Class.Category != GitSensitive) {
		return "not a gated git command"
	}
	return ""
}

// run executes one check, converting a panic into an error.
func (p *Pipeline) run(ctx context.Context, c Check, ev *Evaluation) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			res = Fail(fmt.Errorf("%w: %v", ErrCheckPanicked, r))
		}
	}()
	if err := ctx.Err(); err != nil {
		return Fail(err)
	}
	return c.Run(ctx, p, ev)
}

func (p *Pipeline) now() time.Time {
	if p.Now != nil {
		return p.Now()
	}
	return time.Now()
}

func (p *Pipeline) stat(name string) (os.FileInfo, error) {
	if p.Stat != nil {
		return p.Stat(name)
	}
	return os.Stat(name)
}

func (p *Pipeline) home() (string, error) {
	if p.Home != nil {
		return p.Home()
	}
	return os.UserHomeDir()
}

// proofCurrent reports whether the project's proof is verified and within
// the configured age. It also returns the status for deny reasons.
func (p *Pipeline) proofCurrent(project string) (bool, proof.Status, error) {
	if project == "" {
		return false, proof.Status{State: proof.StatePending}, ErrNoProjectRoot
	}
	st, err := p.Proof.Get(project)
	if err != nil {
		return false, st, fmt.Errorf("read proof status: %w", err)
	}
	if !st.Verified() {
		return false, st, nil
	}
	if p.Policy.ProofMaxAge > 0 && st.Age(p.now()) > p.Policy.ProofMaxAge {
		return false, st, nil
	}
	return true, st, nil
}

// guardianActive reports whether the request's session holds a marker.
func (p *Pipeline) guardianActive(ev *Evaluation) (bool, error) {
	ok, err := p.Markers.Exists(ev.SessionID, ev.ProjectRoot)
	if err != nil {
		return false, fmt.Errorf("check guardian marker: %w", err)
	}
	return ok, nil
}
