package guard

import "github.com/boshu2/agentops-guard/internal/shell"

// BashTool is the tool name of shell commands.
const BashTool = "Bash"

// Request is one tool call awaiting a decision.
type Request struct {
	Tool string

	// Command is the parsed shell command. Nil for tools that carry none.
	Command *shell.Command

	// Input is the raw tool_input, echoed back with a rewritten command.
	Input map[string]any

	CWD          string
	SessionID    string
	ProjectRoot  string
	AgentName    string
	SubagentType string
	FilePath     string
}

// NewBashRequest builds a Request for a shell command.
func NewBashRequest(command, cwd, session, project string) Request {
	return Request{
		Tool:        BashTool,
		Command:     shell.Parse(command),
		Input:       map[string]any{"command": command},
		CWD:         cwd,
		SessionID:   session,
		ProjectRoot: project,
	}
}

// Raw returns the command text, or "" when the request has no command.
func (r Request) Raw() string {
	if r.Command == nil {
		return ""
	}
	return r.Command.Raw
}

// baseDir is where git queries run when a segment names no directory.
func (r Request) baseDir() string {
	if r.CWD != "" {
		return r.CWD
	}
	return r.ProjectRoot
}
