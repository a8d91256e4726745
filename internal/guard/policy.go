package guard

import (
	"path"
	"path/filepath"
	"strings"
	"time"
)

// Policy is the configurable product policy the checks consult.
type Policy struct {
	ProtectedBranches []string
	ExemptFiles       []string
	GuardianAgents    []string
	DispatchTools     []string
	MutatingTools     []string
	WorkerPrefixes    []string

	// ProofMaxAge, when positive, makes a verified status older than this
	// insufficient for dispatch and protected-branch commits.
	ProofMaxAge time.Duration

	// Disabled turns off every check except the nuclear check.
	Disabled bool
}

// DefaultPolicy returns the built-in policy.
func DefaultPolicy() Policy {
	return Policy{
		ProtectedBranches: []string{"main", "master"},
		ExemptFiles:       []string{".agents/plans/*.md", "PLAN.md", "*.plan.md"},
		GuardianAgents:    []string{"guardian"},
		DispatchTools:     []string{"Task", "Agent"},
		MutatingTools:     []string{"Write", "Edit", "MultiEdit", "NotebookEdit"},
		WorkerPrefixes:    []string{"worker-"},
	}
}

// IsProtected reports whether branch is a protected branch.
func (p Policy) IsProtected(branch string) bool {
	return contains(p.ProtectedBranches, branch)
}

// IsDispatchTool reports whether tool launches subagents.
func (p Policy) IsDispatchTool(tool string) bool {
	return contains(p.DispatchTools, tool)
}

// IsMutatingTool reports whether tool writes files.
func (p Policy) IsMutatingTool(tool string) bool {
	return contains(p.MutatingTools, tool)
}

// IsGuardian reports whether a subagent type names a Guardian, either bare
// ("guardian") or plugin-qualified ("agentops:guardian").
func (p Policy) IsGuardian(subagentType string) bool {
	if subagentType == "" {
		return false
	}
	for _, name := range p.GuardianAgents {
		if name == "" {
			continue
		}
		if subagentType == name || strings.HasSuffix(subagentType, ":"+name) {
			return true
		}
	}
	return false
}

// IsWorker reports whether an agent identity carries a worker prefix.
func (p Policy) IsWorker(agent string) bool {
	if agent == "" {
		return false
	}
	for _, prefix := range p.WorkerPrefixes {
		if prefix != "" && strings.HasPrefix(agent, prefix) {
			return true
		}
	}
	return false
}

// Exempt reports whether a repository-relative path matches an exempt
// pattern. Patterns without a slash match the file name in any directory;
// patterns with a slash match the whole path.
func (p Policy) Exempt(file string) bool {
	file = filepath.ToSlash(strings.TrimPrefix(file, "./"))
	base := path.Base(file)
	for _, pattern := range p.ExemptFiles {
		target := file
		if !strings.Contains(pattern, "/") {
			target = base
		}
		if ok, err := path.Match(pattern, target); err == nil && ok {
			return true
		}
	}
	return false
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
