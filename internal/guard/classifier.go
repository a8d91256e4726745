package guard

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/boshu2/agentops-guard/internal/shell"
)

// Classification is the outcome of classifying a command.
type Classification struct {
	Category Category `json:"category"`
	Rule     string   `json:"rule,omitempty"`
	Reason   string   `json:"reason,omitempty"`

	// Segment is the source text that triggered the rule, when known.
	Segment string `json:"segment,omitempty"`
}

// Classifier evaluates a rule table against parsed commands.
type Classifier struct {
	rules []Rule
}

// NewClassifier builds a Classifier from the default table plus extra
// catastrophic regular expressions matched against the raw command text.
func NewClassifier(extraPatterns []string) (*Classifier, error) {
	rules := DefaultRules()
	custom := make([]Rule, 0, len(extraPatterns))
	for i, pattern := range extraPatterns {
		re, err := regexp.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("%w %d %q: %v", ErrInvalidPattern, i+1, pattern, err)
		}
		custom = append(custom, Rule{
			Name:     fmt.Sprintf("custom-%d", i+1),
			Category: Catastrophic,
			Reason:   "matches configured pattern " + pattern,
			MatchRaw: re.MatchString,
		})
	}
	// Custom catastrophic rules go ahead of the git-sensitive tail.
	merged := make([]Rule, 0, len(rules)+len(custom))
	for _, r := range rules {
		if r.Category == Catastrophic {
			merged = append(merged, r)
		}
	}
	merged = append(merged, custom...)
	for _, r := range rules {
		if r.Category != Catastrophic {
			merged = append(merged, r)
		}
	}
	return &Classifier{rules: merged}, nil
}

// MustClassifier is NewClassifier for patterns known to compile.
func MustClassifier(extraPatterns ...string) *Classifier {
	c, err := NewClassifier(extraPatterns)
	if err != nil {
		panic(err)
	}
	return c
}

// Rules returns the table in evaluation order.
func (c *Classifier) Rules() []Rule {
	out := make([]Rule, len(c.rules))
	copy(out, c.rules)
	return out
}

// Classify returns the most severe category any rule assigns to cmd. Rules
// are evaluated in table order; the first catastrophic match wins outright.
func (c *Classifier) Classify(cmd *shell.Command) Classification {
	if cmd == nil {
		return Classification{Category: Benign}
	}

	best := Classification{Category: Benign}
	for _, r := range c.rules {
		seg, ok := c.match(r, cmd)
		if !ok {
			continue
		}
		if r.Category > best.Category {
			best = Classification{Category: r.Category, Rule: r.Name, Reason: r.Reason, Segment: seg}
		}
		if best.Category == Catastrophic {
			return best
		}
	}

	// Unparseable text that mentions git is treated as git-sensitive so the
	// git checks still see it.
	if best.Category == Benign && cmd.Malformed && mentionsGit(cmd.Raw) {
		best = Classification{Category: GitSensitive, Rule: "malformed-git", Reason: "unbalanced quoting around a git command"}
	}
	return best
}

func (c *Classifier) match(r Rule, cmd *shell.Command) (string, bool) {
	if r.MatchRaw != nil && r.MatchRaw(cmd.Raw) {
		return strings.TrimSpace(cmd.Raw), true
	}
	if r.Match == nil {
		return "", false
	}
	for _, seg := range cmd.Segments {
		if r.Match(seg) {
			return seg.Raw, true
		}
	}
	// Opaque fallback: a malformed command is also tried as one whitespace
	// split segment.
	if cmd.Malformed {
		fields := strings.Fields(cmd.Raw)
		if len(fields) > 0 && r.Match(shell.Segment{Raw: cmd.Raw, Args: fields}) {
			return cmd.Raw, true
		}
	}
	return "", false
}

func mentionsGit(raw string) bool {
	for _, f := range strings.Fields(raw) {
		if strings.Trim(f, `"'`) == "git" {
			return true
		}
	}
	return false
}
