package guard

import (
	"context"

	"go.uber.org/zap"

	"github.com/boshu2/agentops-guard/internal/proof"
)

// Engine handles one hook invocation: the invalidation guard for mutating
// tools, then the pipeline.
type Engine struct {
	Pipeline    *Pipeline
	Invalidator *proof.Invalidator
	Logger      *zap.Logger
}

// Outcome is what Handle did.
type Outcome struct {
	Decision Decision

	// Invalidated is set when the proof status was reset to pending.
	Invalidated bool

	// InvalidateErr is a failure of the invalidation guard. It is logged
	// and does not change the decision.
	InvalidateErr error
}

// NewEngine wires an Engine around p. A nil logger discards output.
func NewEngine(p *Pipeline, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	inv := proof.NewInvalidator(p.Proof, p.Markers)
	inv.Now = p.now
	return &Engine{Pipeline: p, Invalidator: inv, Logger: logger}
}

// Handle decides req, resetting the proof status first when req is a file
// mutation made without an active Guardian.
func (e *Engine) Handle(ctx context.Context, req Request) Outcome {
	var out Outcome
	policy := e.Pipeline.Policy
	if policy.IsMutatingTool(req.Tool) && !policy.Disabled && req.ProjectRoot != "" {
		reset, err := e.Invalidator.Invalidate(req.SessionID, req.ProjectRoot)
		out.Invalidated = reset
		out.InvalidateErr = err
		switch {
		case err != nil:
			e.Logger.Error("proof invalidation failed",
				zap.String("tool", req.Tool),
				zap.String("file", req.FilePath),
				zap.Error(err))
		case reset:
			e.Logger.Info("proof status reset to pending",
				zap.String("tool", req.Tool),
				zap.String("file", req.FilePath),
				zap.String("session", req.SessionID))
		}
	}

	out.Decision = e.Pipeline.Decide(ctx, req)
	if out.Decision.Check == CheckDispatch && out.Decision.Kind == Allow {
		e.Logger.Info("guardian marker created",
			zap.String("session", req.SessionID),
			zap.String("subagent_type", req.SubagentType))
	}
	return out
}
