// Package shell splits agent-supplied shell command text into the pieces the
// guard pipeline reasons about: control-operator separated segments, their
// argument words, and the directory each segment would run in.
//
// The parser never fails: unbalanced quotes set
// Command.Malformed and the remaining text is kept as a single word, so callers
// can still evaluate the command as an opaque string.
package shell

import (
	"path/filepath"
	"strings"
)

// maxNesting bounds recursion into "bash -c" / "eval" payloads.
const maxNesting = 4

// Command is a parsed shell command line.
type Command struct {
	// Raw is the command exactly as supplied.
	Raw string

	// Segments are the simple commands in source order. Payloads of
	// "sh -c" and "eval" are appended after the segment that carries them.
	Segments []Segment

	// Malformed is set when quoting or escaping was left unbalanced.
	Malformed bool
}

// Segment is one simple command between control operators.
type Segment struct {
	// Raw is the source text of the segment, trimmed.
	Raw string

	// Args are the words of the segment with quotes removed and leading
	// wrappers (sudo, env, VAR=value, nohup, ...) stripped.
	Args []string

	// Dir is the directory established by an earlier "cd" in the same
	// command line. Empty means the caller's working directory. It may be
	// relative or start with "~".
	Dir string

	// Nested marks segments recovered from an inline script payload.
	Nested bool
}

// Name returns the base name of the program the segment runs.
func (s Segment) Name() string {
	if len(s.Args) == 0 {
		return ""
	}
	return baseName(s.Args[0])
}

// SubSegment returns the segment for words another program runs on the
// parent's behalf, such as the action of "find -exec".
func SubSegment(parent Segment, words []string) Segment {
	return Segment{
		Raw:    strings.Join(words, " "),
		Args:   stripWrappers(words),
		Dir:    parent.Dir,
		Nested: true,
	}
}

// Parse splits raw into segments. It never returns nil.
func Parse(raw string) *Command {
	return parse(raw, 0)
}

func parse(raw string, depth int) *Command {
	cmd := &Command{Raw: raw}
	pieces, malformed := split(raw)
	cmd.Malformed = malformed

	dir := ""
	for _, p := range pieces {
		args := stripWrappers(p.words)
		seg := Segment{Raw: p.text, Args: args, Dir: dir}
		cmd.Segments = append(cmd.Segments, seg)

		if seg.Name() == "cd" {
			dir = nextDir(dir, args)
		}

		script, ok := inlineScript(seg)
		if !ok || depth >= maxNesting {
			continue
		}
		nested := parse(script, depth+1)
		if nested.Malformed {
			cmd.Malformed = true
		}
		for _, ns := range nested.Segments {
			ns.Dir = JoinDir(seg.Dir, ns.Dir)
			ns.Nested = true
			cmd.Segments = append(cmd.Segments, ns)
		}
	}
	return cmd
}

// piece is a raw segment before wrapper stripping.
type piece struct {
	text  string
	words []string
}

// split tokenizes raw into segments of words. Control operators (&&, ||, ;,
// |, &, newline) and subshell/substitution delimiters end a segment.
// Redirection operators are kept as their own words.
//
//nolint:gocyclo // single-pass lexer
func split(raw string) ([]piece, bool) {
	var (
		pieces  []piece
		words   []string
		cur     strings.Builder
		inWord  bool
		quote   byte
		escaped bool
		start   int
	)

	flushWord := func() {
		if inWord {
			words = append(words, cur.String())
			cur.Reset()
			inWord = false
		}
	}
	flushSeg := func(end int) {
		flushWord()
		if start > end {
			start = end
		}
		text := strings.TrimSpace(raw[start:end])
		if len(words) > 0 {
			pieces = append(pieces, piece{text: text, words: words})
		}
		words = nil
	}

	for i := 0; i < len(raw); i++ {
		c := raw[i]
		var next byte
		if i+1 < len(raw) {
			next = raw[i+1]
		}

		if escaped {
			cur.WriteByte(c)
			inWord = true
			escaped = false
			continue
		}

		switch quote {
		case '\'':
			if c == '\'' {
				quote = 0
			} else {
				cur.WriteByte(c)
			}
			continue
		case '"':
			switch {
			case c == '"':
				quote = 0
			case c == '\\' && next != 0 && strings.IndexByte("\"\\$`", next) >= 0:
				i++
				cur.WriteByte(next)
			default:
				cur.WriteByte(c)
			}
			continue
		}

		switch c {
		case '\\':
			if next == '\n' {
				i++
				continue
			}
			escaped = true
			inWord = true
		case '\'', '"':
			quote = c
			inWord = true
		case ' ', '\t', '\r':
			flushWord()
		case '#':
			if inWord {
				cur.WriteByte(c)
				continue
			}
			for i < len(raw) && raw[i] != '\n' {
				i++
			}
			flushSeg(i)
			start = i + 1
		case '\n', ';', '(', ')', '`':
			flushSeg(i)
			start = i + 1
		case '&':
			switch next {
			case '&':
				flushSeg(i)
				i++
				start = i + 1
			case '>':
				flushWord()
				i++
				words = append(words, "&>")
			default:
				flushSeg(i)
				start = i + 1
			}
		case '|':
			flushSeg(i)
			if next == '|' || next == '&' {
				i++
			}
			start = i + 1
		case '>', '<':
			flushWord()
			op := string(c)
			if next == c || next == '&' {
				op += string(next)
				i++
			}
			words = append(words, op)
		default:
			cur.WriteByte(c)
			inWord = true
		}
	}

	malformed := quote != 0 || escaped
	flushSeg(len(raw))
	return pieces, malformed
}

// wrapper describes a command that runs its trailing words as another
// command. argFlags take a separate value word; operands counts the
// positional words (a duration, a priority) that precede the command.
type wrapper struct {
	argFlags map[string]bool
	operands int
}

func flagSet(flags ...string) map[string]bool {
	m := make(map[string]bool, len(flags))
	for _, f := range flags {
		m[f] = true
	}
	return m
}

var wrapperCommands = map[string]wrapper{
	"sudo":     {argFlags: flagSet("-u", "-g", "-C", "-h", "-p", "-r", "-t", "-U", "-D", "--user", "--group")},
	"doas":     {argFlags: flagSet("-u", "-C")},
	"command":  {},
	"builtin":  {},
	"exec":     {argFlags: flagSet("-a")},
	"nohup":    {},
	"time":     {argFlags: flagSet("-f", "-o", "--format", "--output")},
	"nice":     {argFlags: flagSet("-n", "--adjustment")},
	"timeout":  {argFlags: flagSet("-s", "-k", "--signal", "--kill-after"), operands: 1},
	"xargs":    {argFlags: flagSet("-a", "-d", "-E", "-I", "-L", "-n", "-P", "-s", "--arg-file", "--delimiter", "--max-args", "--max-procs", "--max-chars", "--max-lines", "--process-slot-var")},
	"ionice":   {argFlags: flagSet("-c", "-n", "-p", "-P", "-u", "--class", "--classdata")},
	"stdbuf":   {argFlags: flagSet("-i", "-o", "-e", "--input", "--output", "--error")},
	"chrt":     {argFlags: flagSet("-T", "-P", "-D", "--sched-runtime", "--sched-period", "--sched-deadline"), operands: 1},
	"setsid":   {},
	"unbuffer": {},
	"flock":    {argFlags: flagSet("-w", "-E", "--timeout", "--conflict-exit-code"), operands: 1},
	"taskset":  {operands: 1},
	"nsenter":  {argFlags: flagSet("-t", "--target")},
}

func stripWrappers(words []string) []string {
	args := words
	for len(args) > 0 {
		head := args[0]
		w, isWrapper := wrapperCommands[baseName(head)]
		switch {
		case isAssignment(head):
			args = args[1:]
		case baseName(head) == "env":
			args = args[1:]
			for len(args) > 0 && (strings.HasPrefix(args[0], "-") || isAssignment(args[0])) {
				args = args[1:]
			}
		case isWrapper:
			args = skipWrapperOptions(args[1:], w)
		default:
			return args
		}
	}
	return args
}

// skipWrapperOptions drops a wrapper's flags and leading operands, leaving
// the wrapped command first.
func skipWrapperOptions(args []string, w wrapper) []string {
	for len(args) > 0 && strings.HasPrefix(args[0], "-") && args[0] != "-" {
		flag := args[0]
		args = args[1:]
		if flag == "--" {
			break
		}
		if w.argFlags[flag] && len(args) > 0 {
			args = args[1:]
		}
	}
	for i := 0; i < w.operands && len(args) > 0; i++ {
		args = args[1:]
	}
	return args
}

func isAssignment(word string) bool {
	eq := strings.IndexByte(word, '=')
	if eq <= 0 {
		return false
	}
	for i := 0; i < eq; i++ {
		c := word[i]
		if c != '_' && (c < 'A' || c > 'Z') && (c < 'a' || c > 'z') && (i == 0 || c < '0' || c > '9') {
			return false
		}
	}
	return true
}

// watch hands its words to "sh -c" as one string.
var watchWrapper = wrapper{argFlags: flagSet("-n", "-q", "--interval", "--equexit")}

var scriptShells = map[string]bool{"sh": true, "bash": true, "zsh": true, "dash": true, "ksh": true}

// inlineScript returns the payload of "sh -c <script>", "eval <words...>"
// or "watch <words...>".
func inlineScript(seg Segment) (string, bool) {
	name := seg.Name()
	if name == "eval" && len(seg.Args) > 1 {
		return strings.Join(seg.Args[1:], " "), true
	}
	if name == "watch" {
		rest := skipWrapperOptions(seg.Args[1:], watchWrapper)
		if len(rest) == 0 {
			return "", false
		}
		return strings.Join(rest, " "), true
	}
	if !scriptShells[name] {
		return "", false
	}
	for i := 1; i < len(seg.Args)-1; i++ {
		a := seg.Args[i]
		if !strings.HasPrefix(a, "-") || strings.HasPrefix(a, "--") {
			continue
		}
		if strings.IndexByte(a[1:], 'c') >= 0 {
			return seg.Args[i+1], true
		}
	}
	return "", false
}

func nextDir(dir string, args []string) string {
	if len(args) < 2 {
		return "~"
	}
	target := args[1]
	if target == "-" || target == "--" {
		return dir
	}
	return JoinDir(dir, target)
}

// JoinDir resolves d against base. Absolute and home-relative paths replace
// base; an empty d yields base.
func JoinDir(base, d string) string {
	switch {
	case d == "":
		return base
	case base == "", filepath.IsAbs(d), strings.HasPrefix(d, "~"):
		return d
	default:
		return filepath.Join(base, d)
	}
}

// ResolveDir turns a segment directory into an absolute path, using cwd for
// relative paths and home for "~" prefixes. An empty dir yields cwd.
func ResolveDir(dir, cwd, home string) string {
	switch {
	case dir == "":
		return cwd
	case dir == "~":
		return home
	case strings.HasPrefix(dir, "~/"):
		return filepath.Join(home, dir[2:])
	case filepath.IsAbs(dir):
		return filepath.Clean(dir)
	case cwd == "":
		return dir
	default:
		return filepath.Join(cwd, dir)
	}
}

func baseName(word string) string {
	word = strings.TrimRight(word, "/")
	if idx := strings.LastIndexByte(word, '/'); idx >= 0 {
		return word[idx+1:]
	}
	return word
}
