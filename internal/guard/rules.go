package guard

import (
	"path"
	"strings"

	"github.com/boshu2/agentops-guard/internal/shell"
)

// Category is the coarse class of a command.
type Category int

const (
	// Benign commands skip every git check.
	Benign Category = iota
	// GitSensitive commands run git subcommands the pipeline gates.
	GitSensitive
	// Catastrophic commands are denied unconditionally.
	Catastrophic
)

func (c Category) String() string {
	switch c {
	case Catastrophic:
		return "catastrophic"
	case GitSensitive:
		return "git-sensitive"
	default:
		return "benign"
	}
}

// Rule is one row of the classification table. A rule sets Match to inspect
// a parsed segment, MatchRaw to inspect the whole command text, or both.
type Rule struct {
	Name     string
	Category Category
	Reason   string

	Match    func(seg shell.Segment) bool
	MatchRaw func(raw string) bool
}

// DefaultRules returns the built-in table in evaluation order.
func DefaultRules() []Rule {
	return []Rule{
		{
			Name:     "fork-bomb",
			Category: Catastrophic,
			Reason:   "fork bomb",
			MatchRaw: isForkBomb,
		},
		{
			Name:     "recursive-delete-critical",
			Category: Catastrophic,
			Reason:   "recursive forced deletion of a root, home, or system directory",
			Match:    isCriticalRecursiveDelete,
		},
		{
			Name:     "find-delete-critical",
			Category: Catastrophic,
			Reason:   "find deleting under a root, home, or system directory",
			Match:    isCriticalFindDelete,
		},
		{
			Name:     "disk-wipe",
			Category: Catastrophic,
			Reason:   "dd writing to a block device",
			Match:    isDiskWipe,
		},
		{
			Name:     "device-redirect",
			Category: Catastrophic,
			Reason:   "output redirected onto a block device",
			Match:    isDeviceRedirect,
		},
		{
			Name:     "device-write",
			Category: Catastrophic,
			Reason:   "raw write or partition change on a block device",
			Match:    isDeviceWrite,
		},
		{
			Name:     "filesystem-format",
			Category: Catastrophic,
			Reason:   "filesystem format or signature wipe",
			Match:    isFilesystemFormat,
		},
		{
			Name:     "recursive-chmod-root",
			Category: Catastrophic,
			Reason:   "recursive permission change on a root or system directory",
			Match:    recursiveOwnershipRule("chmod"),
		},
		{
			Name:     "recursive-chown-root",
			Category: Catastrophic,
			Reason:   "recursive ownership change on a root or system directory",
			Match:    recursiveOwnershipRule("chown"),
		},
		{
			Name:     "git-gated",
			Category: GitSensitive,
			Reason:   "git subcommand subject to branch and guardian checks",
			Match:    isGatedGit,
		},
	}
}

// gatedGitSubcommands are the git subcommands at least one check inspects.
var gatedGitSubcommands = map[string]bool{
	"commit":   true,
	"branch":   true,
	"worktree": true,
	"push":     true,
	"reset":    true,
	"clean":    true,
	"checkout": true,
	"restore":  true,
	"add":      true,
	"merge":    true,
	"rebase":   true,
}

func isGatedGit(seg shell.Segment) bool {
	call, ok := seg.Git()
	return ok && gatedGitSubcommands[call.Subcommand]
}

func isForkBomb(raw string) bool {
	compact := strings.Join(strings.Fields(raw), "")
	if strings.Contains(compact, ":(){:|:&};:") {
		return true
	}
	// Renamed variant: f(){ f|f& };f
	for _, part := range strings.Split(compact, ";") {
		idx := strings.Index(part, "(){")
		if idx <= 0 {
			continue
		}
		name := part[:idx]
		if strings.Contains(part[idx:], name+"|"+name+"&") {
			return true
		}
	}
	return false
}

func isCriticalRecursiveDelete(seg shell.Segment) bool {
	if seg.Name() != "rm" {
		return false
	}
	recursive, force := false, false
	for _, a := range seg.Args[1:] {
		if a == "--" {
			break
		}
		switch {
		case a == "--recursive":
			recursive = true
		case a == "--force":
			force = true
		case strings.HasPrefix(a, "-") && !strings.HasPrefix(a, "--"):
			if strings.ContainsAny(a, "rR") {
				recursive = true
			}
			if strings.Contains(a, "f") {
				force = true
			}
		}
	}
	if !recursive || !force {
		return false
	}
	for _, a := range seg.Args[1:] {
		if isCriticalTarget(a) {
			return true
		}
	}
	return false
}

// criticalDirs are absolute directories whose recursive removal is never
// recoverable.
var criticalDirs = map[string]bool{
	"/":             true,
	"/etc":          true,
	"/usr":          true,
	"/bin":          true,
	"/sbin":         true,
	"/lib":          true,
	"/lib64":        true,
	"/boot":         true,
	"/var":          true,
	"/opt":          true,
	"/home":         true,
	"/root":         true,
	"/Users":        true,
	"/System":       true,
	"/Library":      true,
	"/Applications": true,
	"/dev":          true,
	"/proc":         true,
	"/sys":          true,
}

const (
	homeEnvVar      = "$HOME"
	homeBraceEnvVar = "${HOME}"
)

// isCriticalTarget reports whether an rm/chmod/chown operand names a root,
// home, or system directory, or a glob directly under one.
func isCriticalTarget(arg string) bool {
	if arg == "" {
		return false
	}
	switch arg {
	case "~", "~/", "~/*", homeEnvVar, homeEnvVar + "/", homeEnvVar + "/*",
		homeBraceEnvVar, homeBraceEnvVar + "/", homeBraceEnvVar + "/*":
		return true
	}
	// Home traversal cannot be resolved statically; "~/../x" may be anywhere.
	for _, prefix := range []string{"~", homeEnvVar, homeBraceEnvVar} {
		tail, ok := strings.CutPrefix(arg, prefix)
		if !ok || tail == "" || tail[0] != '/' {
			continue
		}
		for _, part := range strings.Split(tail, "/") {
			if part == ".." {
				return true
			}
		}
	}
	if !strings.HasPrefix(arg, "/") {
		return false
	}
	cleaned := path.Clean(arg)
	if criticalDirs[cleaned] {
		return true
	}
	if dir, base := path.Split(cleaned); base == "*" {
		return criticalDirs[path.Clean(dir)]
	}
	return false
}

// blockDevicePrefixes are /dev entries backed by real storage.
var blockDevicePrefixes = []string{
	"/dev/sd", "/dev/nvme", "/dev/hd", "/dev/vd", "/dev/xvd",
	"/dev/loop", "/dev/dm-", "/dev/mmcblk", "/dev/md", "/dev/disk", "/dev/rdisk",
	"/dev/mapper/",
}

func isBlockDevice(p string) bool {
	for _, prefix := range blockDevicePrefixes {
		if strings.HasPrefix(p, prefix) {
			return true
		}
	}
	return false
}

func isDiskWipe(seg shell.Segment) bool {
	if seg.Name() != "dd" {
		return false
	}
	for _, a := range seg.Args[1:] {
		if target, ok := strings.CutPrefix(a, "of="); ok && isBlockDevice(target) {
			return true
		}
	}
	return false
}

func isDeviceRedirect(seg shell.Segment) bool {
	for i := 0; i+1 < len(seg.Args); i++ {
		switch seg.Args[i] {
		case ">", ">>", "&>":
			if isBlockDevice(seg.Args[i+1]) {
				return true
			}
		}
	}
	return false
}

// redirectOps are the redirection words the parser keeps as separate args.
var redirectOps = map[string]bool{
	">": true, ">>": true, ">&": true, "&>": true, "<": true, "<<": true, "<&": true,
}

// operands returns the positional words of a segment with redirections,
// their targets, and file-descriptor numbers ("2>") removed.
func operands(seg shell.Segment) []string {
	var kept []string
	args := seg.Args[1:]
	for i := 0; i < len(args); i++ {
		if redirectOps[args[i]] {
			i++
			continue
		}
		if i+1 < len(args) && redirectOps[args[i+1]] && isDigits(args[i]) {
			continue
		}
		kept = append(kept, args[i])
	}
	return shell.Positional(kept)
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

// flagValue returns the value of a flag given as "-o v", "--output v" or
// "--output=v".
func flagValue(args []string, names ...string) (string, bool) {
	for i, a := range args {
		if a == "--" {
			return "", false
		}
		for _, n := range names {
			if a == n && i+1 < len(args) {
				return args[i+1], true
			}
			if v, ok := strings.CutPrefix(a, n+"="); ok && strings.HasPrefix(n, "--") {
				return v, true
			}
		}
	}
	return "", false
}

// partitionReadOnlyFlags make a partition tool only list or dump.
var partitionReadOnlyFlags = map[string]bool{
	"-l": true, "--list": true, "-d": true, "--dump": true, "-s": true,
	"--show-size": true, "-J": true, "--json": true, "-V": true, "--verify": true,
}

func isDeviceWrite(seg shell.Segment) bool {
	args := seg.Args[1:]
	switch seg.Name() {
	case "tee", "shred":
		for _, a := range operands(seg) {
			if isBlockDevice(a) {
				return true
			}
		}
	case "cp":
		if dir, ok := flagValue(args, "-t", "--target-directory"); ok {
			return isBlockDevice(dir)
		}
		ops := operands(seg)
		return len(ops) >= 2 && isBlockDevice(ops[len(ops)-1])
	case "pv":
		out, ok := flagValue(args, "-o", "--output")
		return ok && isBlockDevice(out)
	case "fdisk", "sfdisk", "cfdisk", "gdisk", "sgdisk", "parted":
		for _, a := range args {
			if partitionReadOnlyFlags[a] {
				return false
			}
		}
		for _, a := range operands(seg) {
			if isBlockDevice(a) {
				return true
			}
		}
	}
	return false
}

// findPrefixOptions take a value word before the search paths.
var findPrefixOptions = map[string]bool{"-D": true, "-O": true}

// isCriticalFindDelete matches "find <critical> ... -delete" and an -exec or
// -execdir action that recursively force-removes a critical path, with "{}"
// standing for each search path.
func isCriticalFindDelete(seg shell.Segment) bool {
	if seg.Name() != "find" {
		return false
	}
	args := seg.Args[1:]
	for len(args) > 0 && strings.HasPrefix(args[0], "-") && len(args[0]) <= 3 && args[0] != "-" {
		opt := args[0]
		args = args[1:]
		if findPrefixOptions[opt] && len(args) > 0 {
			args = args[1:]
		}
	}
	var roots []string
	for len(args) > 0 && !strings.HasPrefix(args[0], "-") && args[0] != "(" && args[0] != "!" {
		roots = append(roots, args[0])
		args = args[1:]
	}
	critical := false
	for _, r := range roots {
		if isCriticalTarget(r) {
			critical = true
		}
	}

	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "-delete":
			if critical {
				return true
			}
		case "-exec", "-execdir", "-ok", "-okdir":
			j := i + 1
			for j < len(args) && args[j] != ";" && args[j] != "+" {
				j++
			}
			action := args[i+1 : j]
			i = j
			if findActionDeletes(seg, action, roots) {
				return true
			}
		}
	}
	return false
}

func findActionDeletes(seg shell.Segment, action, roots []string) bool {
	if len(action) == 0 {
		return false
	}
	if isCriticalRecursiveDelete(shell.SubSegment(seg, action)) {
		return true
	}
	for _, root := range roots {
		words := make([]string, len(action))
		for k, w := range action {
			if w == "{}" {
				w = root
			}
			words[k] = w
		}
		if isCriticalRecursiveDelete(shell.SubSegment(seg, words)) {
			return true
		}
	}
	return false
}

func isFilesystemFormat(seg shell.Segment) bool {
	name := seg.Name()
	return name == "mkfs" || strings.HasPrefix(name, "mkfs.") || name == "wipefs" || name == "newfs"
}

// recursiveOwnershipRule matches "<name> -R ... <critical dir>".
func recursiveOwnershipRule(name string) func(shell.Segment) bool {
	return func(seg shell.Segment) bool {
		if seg.Name() != name {
			return false
		}
		recursive := false
		for _, a := range seg.Args[1:] {
			if a == "--recursive" || (strings.HasPrefix(a, "-") && !strings.HasPrefix(a, "--") && strings.Contains(a, "R")) {
				recursive = true
			}
		}
		if !recursive {
			return false
		}
		for _, a := range seg.Args[1:] {
			if isCriticalTarget(a) {
				return true
			}
		}
		return false
	}
}
