package multiviewer

import (
	"fmt"
	"regexp"
	"strings"
)

// Matcher decides whether a decoded response line ends the device's reply.
// The protocol has no end-of-response byte, so completion is inferred from the text.
type Matcher func(line string) bool

// DefaultKeywords are the words the multiviewer uses in its final response line.
var DefaultKeywords = []string{"on", "off", "hdmi", "mode", "screen", "finished", "ok"}

// KeywordMatcher matches a line containing any keyword, ignoring case.
func KeywordMatcher(keywords ...string) Matcher {
	lowered := make([]string, len(keywords))
	for i, k := range keywords {
		lowered[i] = strings.ToLower(k)
	}
	return func(line string) bool {
		l := strings.ToLower(line)
		for _, k := range lowered {
			if strings.Contains(l, k) {
				return true
			}
		}
		return false
	}
}

// DefaultMatcher is KeywordMatcher over DefaultKeywords.
func DefaultMatcher() Matcher {
	return KeywordMatcher(DefaultKeywords...)
}

// ParseMatcher builds a Matcher from an expect-style pattern:
//
//	'text'  case-insensitive, anywhere in the line
//	"text"  case-sensitive, at the start of the line
//	/re/    regular expression
func ParseMatcher(pattern string) (Matcher, error) {
	if len(pattern) < 2 {
		return nil, fmt.Errorf("pattern too short: %q", pattern)
	}

	first := pattern[0]
	last := pattern[len(pattern)-1]
	content := pattern[1 : len(pattern)-1]

	switch {
	case first == '\'' && last == '\'':
		return KeywordMatcher(content), nil
	case first == '"' && last == '"':
		return func(line string) bool {
			return strings.HasPrefix(strings.TrimSpace(line), content)
		}, nil
	case first == '/' && last == '/':
		re, err := regexp.Compile(content)
		if err != nil {
			return nil, fmt.Errorf("invalid regex %q: %w", content, err)
		}
		return re.MatchString, nil
	default:
		return nil, fmt.Errorf("invalid pattern format: %s", pattern)
	}
}

// AnyOf matches when any of the given matchers does.
func AnyOf(matchers ...Matcher) Matcher {
	return func(line string) bool {
		for _, m := range matchers {
			if m(line) {
				return true
			}
		}
		return false
	}
}

// ParseMatchers parses every pattern and combines them with AnyOf.
// An empty list yields DefaultMatcher.
func ParseMatchers(patterns []string) (Matcher, error) {
	if len(patterns) == 0 {
		return DefaultMatcher(), nil
	}
	matchers := make([]Matcher, 0, len(patterns))
	for _, p := range patterns {
		m, err := ParseMatcher(strings.TrimSpace(p))
		if err != nil {
			return nil, err
		}
		matchers = append(matchers, m)
	}
	return AnyOf(matchers...), nil
}
