// Package fault decides whether a messaging-client fault means the session
// was lost.
package fault

import "strings"

// Pattern is one known fault substring that signals a silent logout.
type Pattern struct {
	Substring      string
	RequiresLogout bool
	Note           string
}

// Verdict is the classification of one fault signal.
type Verdict struct {
	Loss           bool
	RequiresLogout bool
}

// KnownPatterns are server-pushed disconnect codes the client does not
// reflect in its own logged-in flag.
var KnownPatterns = []Pattern{
	{Substring: "'400' == 400", RequiresLogout: true, Note: "rejected sync"},
	{Substring: "'1205' == 0", RequiresLogout: true, Note: "rate limited"},
	{Substring: "'3' == 0", RequiresLogout: true, Note: "rejected sync"},
	{Substring: "'1101' == 0", RequiresLogout: true, Note: "manual logout"},
	{Substring: "'1102' == 0", RequiresLogout: true, Note: "send disabled"},
	{Substring: "-1 == 0", RequiresLogout: true, Note: "send disabled"},
	{Substring: "'-1' == 0", RequiresLogout: true, Note: "send disabled"},
}

// Classifier matches fault text against a pattern table.
type Classifier struct {
	patterns []Pattern
}

// NewClassifier returns a classifier over KnownPatterns plus extra
// substrings, each of which requires an explicit logout.
func NewClassifier(extra ...string) *Classifier {
	patterns := make([]Pattern, 0, len(KnownPatterns)+len(extra))
	patterns = append(patterns, KnownPatterns...)
	for _, raw := range extra {
		s := strings.TrimSpace(raw)
		if s == "" {
			continue
		}
		patterns = append(patterns, Pattern{Substring: s, RequiresLogout: true, Note: "configured"})
	}
	return &Classifier{patterns: patterns}
}

// Classify reports whether a fault is a session loss. When the client
// already reports itself logged out the loss needs no corrective logout.
func (c *Classifier) Classify(text string, loggedIn bool) Verdict {
	if !loggedIn {
		return Verdict{Loss: true}
	}
	if p, ok := c.Match(text); ok {
		return Verdict{Loss: true, RequiresLogout: p.RequiresLogout}
	}
	return Verdict{}
}

// Match returns the first pattern contained in text.
func (c *Classifier) Match(text string) (Pattern, bool) {
	if text == "" {
		return Pattern{}, false
	}
	for _, p := range c.patterns {
		if strings.Contains(text, p.Substring) {
			return p, true
		}
	}
	return Pattern{}, false
}

// Patterns returns a copy of the active table.
func (c *Classifier) Patterns() []Pattern {
	out := make([]Pattern, len(c.patterns))
	copy(out, c.patterns)
	return out
}

var defaultClassifier = NewClassifier()

// Classify runs the default classifier.
func Classify(text string, loggedIn bool) Verdict {
	return defaultClassifier.Classify(text, loggedIn)
}
