package shell

import "strings"

// GitCall is a git invocation with its global options consumed.
type GitCall struct {
	// Subcommand is the first non-option word after "git" (commit, branch, ...).
	Subcommand string

	// Args are the words after the subcommand.
	Args []string

	// Dir is the directory git would operate in: a -C or --work-tree value
	// resolved against the segment directory, else the segment directory.
	Dir string
}

// gitValueOptions are global options that consume the following word.
var gitValueOptions = map[string]bool{
	"-c":          true,
	"--git-dir":   true,
	"--namespace": true,
	"--exec-path": true,
}

// Git reports whether the segment runs git and, if so, decodes it.
func (s Segment) Git() (GitCall, bool) {
	if s.Name() != "git" {
		return GitCall{}, false
	}
	call := GitCall{Dir: s.Dir}
	args := s.Args[1:]
	for len(args) > 0 {
		a := args[0]
		switch {
		case a == "-C" && len(args) > 1:
			call.Dir = JoinDir(call.Dir, args[1])
			args = args[2:]
		case a == "--work-tree" && len(args) > 1:
			call.Dir = JoinDir(call.Dir, args[1])
			args = args[2:]
		case strings.HasPrefix(a, "--work-tree="):
			call.Dir = JoinDir(call.Dir, strings.TrimPrefix(a, "--work-tree="))
			args = args[1:]
		case gitValueOptions[a] && len(args) > 1:
			args = args[2:]
		case strings.HasPrefix(a, "-"):
			args = args[1:]
		default:
			call.Subcommand = a
			call.Args = args[1:]
			return call, true
		}
	}
	return call, true
}

// HasFlag reports whether args carry the short flag (alone or inside a
// cluster such as "-df") or any of the long forms. A zero short is ignored.
// Parsing stops at "--".
func HasFlag(args []string, short byte, long ...string) bool {
	for _, a := range args {
		if a == "--" {
			return false
		}
		if strings.HasPrefix(a, "--") {
			for _, l := range long {
				if a == l || strings.HasPrefix(a, l+"=") {
					return true
				}
			}
			continue
		}
		if short != 0 && len(a) > 1 && a[0] == '-' && strings.IndexByte(a[1:], short) >= 0 {
			return true
		}
	}
	return false
}

// Positional returns the non-option words of args. Everything after "--"
// is positional.
func Positional(args []string) []string {
	var out []string
	for i, a := range args {
		if a == "--" {
			return append(out, args[i+1:]...)
		}
		if strings.HasPrefix(a, "-") && a != "-" {
			continue
		}
		out = append(out, a)
	}
	return out
}
