// internal/session/trigger.go
package session

import (
	"fmt"
	"regexp"
	"strings"
)

// TriggerSet holds the compiled connect/disconnect patterns. Each side is an
// ordered list of regexes alternated into one case-insensitive matcher that
// is searched against a whole accumulated line.
type TriggerSet struct {
	on  *regexp.Regexp
	off *regexp.Regexp
}

// NewTriggerSet compiles the trigger patterns. An empty list or a pattern
// that fails to compile is a setup error and fatal for the run; an empty
// alternation would otherwise match every line.
func NewTriggerSet(onPatterns, offPatterns []string) (*TriggerSet, error) {
	if len(onPatterns) == 0 || len(offPatterns) == 0 {
		return nil, fmt.Errorf("trigger pattern lists must not be empty")
	}

	on, err := compileAlternation(onPatterns)
	if err != nil {
		return nil, fmt.Errorf("invalid trigger_on pattern: %w", err)
	}
	off, err := compileAlternation(offPatterns)
	if err != nil {
		return nil, fmt.Errorf("invalid trigger_off pattern: %w", err)
	}
	return &TriggerSet{on: on, off: off}, nil
}

func compileAlternation(patterns []string) (*regexp.Regexp, error) {
	groups := make([]string, 0, len(patterns))
	for _, p := range patterns {
		groups = append(groups, "(?:"+p+")")
	}
	return regexp.Compile("(?i)" + strings.Join(groups, "|"))
}

// MatchOn reports whether the line requests opening the network leg
func (t *TriggerSet) MatchOn(line []byte) bool {
	return t.on.Match(line)
}

// MatchOff reports whether the line requests closing the network leg
func (t *TriggerSet) MatchOff(line []byte) bool {
	return t.off.Match(line)
}
