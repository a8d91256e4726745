package hook

import (
	"encoding/json"
	"io"

	"github.com/boshu2/agentops-guard/internal/guard"
)

// Output is the JSON document written for deny and rewrite.
type Output struct {
	HookSpecificOutput *SpecificOutput `json:"hookSpecificOutput"`
}

// SpecificOutput carries the permission decision.
type SpecificOutput struct {
	HookEventName            string         `json:"hookEventName"`
	PermissionDecision       string         `json:"permissionDecision"`
	PermissionDecisionReason string         `json:"permissionDecisionReason,omitempty"`
	UpdatedInput             map[string]any `json:"updatedInput,omitempty"`
}

// Response renders d. It returns nil for a plain allow. A rewrite echoes
// toolInput with the command replaced.
func Response(d guard.Decision, toolInput map[string]any) *Output {
	switch d.Kind {
	case guard.Deny:
		return &Output{HookSpecificOutput: &SpecificOutput{
			HookEventName:            EventPreToolUse,
			PermissionDecision:       "deny",
			PermissionDecisionReason: d.Reason,
		}}
	case guard.Rewrite:
		updated := make(map[string]any, len(toolInput)+1)
		for k, v := range toolInput {
			updated[k] = v
		}
		updated["command"] = d.Command
		return &Output{HookSpecificOutput: &SpecificOutput{
			HookEventName:            EventPreToolUse,
			PermissionDecision:       "allow",
			PermissionDecisionReason: d.Reason,
			UpdatedInput:             updated,
		}}
	default:
		return nil
	}
}

// Emit writes the response for d to w, or nothing for a plain allow.
func Emit(w io.Writer, d guard.Decision, toolInput map[string]any) error {
	out := Response(d, toolInput)
	if out == nil {
		return nil
	}
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	return enc.Encode(out)
}
