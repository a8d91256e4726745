package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/boshu2/agentops-guard/internal/audit"
	"github.com/boshu2/agentops-guard/internal/config"
	"github.com/boshu2/agentops-guard/internal/gitx"
	"github.com/boshu2/agentops-guard/internal/guard"
	"github.com/boshu2/agentops-guard/internal/hook"
	"github.com/boshu2/agentops-guard/internal/marker"
	"github.com/boshu2/agentops-guard/internal/proof"
)

// guardRuntime is everything a command needs to evaluate or inspect guard
// state, built from the resolved configuration.
type guardRuntime struct {
	cfg     *config.Config
	policy  guard.Policy
	proofs  *proof.FileStore
	markers *marker.FileStore
	engine  *guard.Engine
	logger  *zap.Logger
}

// policyFromConfig converts the guard section into a Policy.
func policyFromConfig(g config.GuardConfig, disabled bool) (guard.Policy, error) {
	maxAge, err := g.ProofMaxAgeDuration()
	if err != nil {
		return guard.Policy{}, err
	}
	return guard.Policy{
		ProtectedBranches: g.ProtectedBranches,
		ExemptFiles:       g.ExemptFiles,
		GuardianAgents:    g.GuardianAgents,
		DispatchTools:     g.DispatchTools,
		MutatingTools:     g.MutatingTools,
		WorkerPrefixes:    g.WorkerPrefixes,
		ProofMaxAge:       maxAge,
		Disabled:          disabled,
	}, nil
}

// newRuntime wires stores, git, classifier and logger for cfg. The logger
// is a no-op unless withLog is set.
func newRuntime(cfg *config.Config, env hook.Env, withLog bool) (*guardRuntime, error) {
	g := cfg.Guard
	policy, err := policyFromConfig(g, env.Disabled)
	if err != nil {
		return nil, err
	}
	timeout, err := g.GitTimeoutDuration()
	if err != nil {
		return nil, err
	}
	classifier, err := guard.NewClassifier(g.NuclearPatterns)
	if err != nil {
		return nil, fmt.Errorf("guard.nuclear_patterns: %w", err)
	}

	logger := zap.NewNop()
	if withLog {
		var logErr error
		logger, logErr = audit.New(config.ExpandHome(g.LogFile), g.LogLevel)
		if logErr != nil {
			VerbosePrintf("audit log: %v\n", logErr)
		}
	}

	rt := &guardRuntime{
		cfg:     cfg,
		policy:  policy,
		proofs:  proof.NewFileStore(config.ExpandHome(g.ProofFile), g.ScopeProofByProject),
		markers: marker.NewFileStore(config.ExpandHome(g.MarkerDir)),
		logger:  logger,
	}
	pipeline := guard.NewPipeline(guard.Deps{
		Proof:      rt.proofs,
		Markers:    rt.markers,
		Git:        gitx.NewExec(timeout),
		Classifier: classifier,
		Policy:     policy,
	})
	rt.engine = guard.NewEngine(pipeline, logger)
	return rt, nil
}

// loadRuntime loads configuration and builds a runtime from the process
// environment.
func loadRuntime(withLog bool) (*guardRuntime, error) {
	cfg, err := config.Load(nil)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return newRuntime(cfg, hook.EnvFrom(os.Getenv), withLog)
}

// proofCurrent reports whether st is verified and within the max age.
func (rt *guardRuntime) proofCurrent(st proof.Status, now time.Time) bool {
	if !st.Verified() {
		return false
	}
	return rt.policy.ProofMaxAge <= 0 || st.Age(now) <= rt.policy.ProofMaxAge
}

// resolveProject picks the project root: the flag, then CLAUDE_PROJECT_DIR,
// then the working directory.
func resolveProject(flag string) (string, error) {
	if p := strings.TrimSpace(flag); p != "" {
		return p, nil
	}
	if p := os.Getenv(hook.EnvProjectDir); p != "" {
		return p, nil
	}
	cwd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("get working directory: %w", err)
	}
	return cwd, nil
}

// resolveSession picks the session id: the flag, then CLAUDE_SESSION_ID.
func resolveSession(flag string) (string, error) {
	if s := strings.TrimSpace(flag); s != "" {
		return s, nil
	}
	if s := os.Getenv("CLAUDE_SESSION_ID"); s != "" {
		return s, nil
	}
	return "", fmt.Errorf("session id required: pass --session or set CLAUDE_SESSION_ID")
}
