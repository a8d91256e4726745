// Package hook speaks the PreToolUse hook protocol: it reads one tool call
// from stdin and writes the decision in the shape the host expects.
//
// A plain allow writes nothing. Deny and rewrite write a single JSON object.
// The process exits 0 in every case; the JSON carries the decision.
package hook

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"

	"github.com/boshu2/agentops-guard/internal/guard"
	"github.com/boshu2/agentops-guard/internal/shell"
)

// Hook events the guard handles. PreToolUse carries the decision;
// SubagentStop only ends a Guardian's marker.
const (
	EventPreToolUse   = "PreToolUse"
	EventSubagentStop = "SubagentStop"
)

// maxInputSize caps how much stdin is read.
const maxInputSize = 8 << 20

// Process exit codes.
const (
	ExitOK = 0
	// ExitUsage is a CLI usage error.
	ExitUsage = 1
	// ExitIncomplete means "incomplete, needs remediation" for callers that
	// branch on exit status alone.
	ExitIncomplete = 3
)

// Environment variables read alongside the JSON payload.
const (
	EnvProjectDir    = "CLAUDE_PROJECT_DIR"
	EnvAgentName     = "CLAUDE_AGENT_NAME"
	EnvHooksDisabled = "AGENTOPS_HOOKS_DISABLED"
	EnvGuardDisabled = "AGENTOPS_GUARD_DISABLED"
)

// Input is the PreToolUse payload.
type Input struct {
	SessionID      string         `json:"session_id"`
	TranscriptPath string         `json:"transcript_path,omitempty"`
	CWD            string         `json:"cwd"`
	HookEventName  string         `json:"hook_event_name"`
	ToolName       string         `json:"tool_name"`
	ToolInput      map[string]any `json:"tool_input"`

	// AgentType names the subagent that stopped (SubagentStop only). Hosts
	// that predate the field leave it empty.
	AgentType string `json:"agent_type,omitempty"`

	// Malformed is set when stdin was not a JSON object. The raw text is
	// then treated as a shell command.
	Malformed bool `json:"-"`
}

// Read decodes one payload. Text that is not a JSON object becomes a Bash
// call whose command is the raw text, so the nuclear check still sees it.
// Only read failures are errors.
func Read(r io.Reader) (*Input, error) {
	data, err := io.ReadAll(io.LimitReader(r, maxInputSize))
	if err != nil {
		return nil, fmt.Errorf("read hook input: %w", err)
	}

	var in Input
	if err := json.Unmarshal(data, &in); err != nil || !bytes.HasPrefix(bytes.TrimSpace(data), []byte("{")) {
		return &Input{
			HookEventName: EventPreToolUse,
			ToolName:      guard.BashTool,
			ToolInput:     map[string]any{"command": string(data)},
			Malformed:     true,
		}, nil
	}
	if in.ToolInput == nil {
		in.ToolInput = map[string]any{}
	}
	return &in, nil
}

func (in *Input) str(key string) string {
	if v, ok := in.ToolInput[key].(string); ok {
		return v
	}
	return ""
}

// Command returns tool_input.command.
func (in *Input) Command() string { return in.str("command") }

// SubagentType returns tool_input.subagent_type.
func (in *Input) SubagentType() string { return in.str("subagent_type") }

// FilePath returns the file a mutating tool targets.
func (in *Input) FilePath() string {
	if p := in.str("file_path"); p != "" {
		return p
	}
	return in.str("notebook_path")
}

// Env is the process environment the request depends on.
type Env struct {
	ProjectDir string
	AgentName  string
	Disabled   bool
}

// EnvFrom reads Env through getenv.
func EnvFrom(getenv func(string) string) Env {
	return Env{
		ProjectDir: getenv(EnvProjectDir),
		AgentName:  getenv(EnvAgentName),
		Disabled:   getenv(EnvHooksDisabled) == "1" || getenv(EnvGuardDisabled) == "1",
	}
}

// ProjectRoot is CLAUDE_PROJECT_DIR when set, else the payload cwd.
func (in *Input) ProjectRoot(env Env) string {
	if env.ProjectDir != "" {
		return env.ProjectDir
	}
	return in.CWD
}

// Request converts the payload into a guard request.
func (in *Input) Request(env Env) guard.Request {
	project := in.ProjectRoot(env)
	req := guard.Request{
		Tool:         in.ToolName,
		Input:        in.ToolInput,
		CWD:          in.CWD,
		SessionID:    in.SessionID,
		ProjectRoot:  project,
		AgentName:    env.AgentName,
		SubagentType: in.SubagentType(),
		FilePath:     in.FilePath(),
	}
	if in.ToolName == guard.BashTool {
		req.Command = shell.Parse(in.Command())
		if in.Malformed {
			req.Command.Malformed = true
		}
	}
	return req
}
