package timeparsing

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"
)

var (
	nlpOnce   sync.Once
	nlpParser *when.Parser
)

func parser() *when.Parser {
	nlpOnce.Do(func() {
		nlpParser = when.New(nil)
		nlpParser.Add(en.All...)
		nlpParser.Add(common.All...)
	})
	return nlpParser
}

// ParseNaturalLanguage parses expressions like "tomorrow", "next monday at
// 2pm", "in 3 days", or "3 days ago" relative to now.
func ParseNaturalLanguage(s string, now time.Time) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("empty time expression")
	}
	r, err := parser().Parse(s, now)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse %q: %w", s, err)
	}
	if r == nil {
		return time.Time{}, fmt.Errorf("no date or time found in %q", s)
	}
	return r.Time, nil
}

// ParseRelativeTime parses a time expression through the layers in order:
// compact duration, date-only, RFC3339, then natural language.
func ParseRelativeTime(s string, now time.Time) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("empty time expression")
	}

	if IsCompactDuration(s) {
		return ParseCompactDuration(s, now)
	}

	// Exact formats before NLP so "2025-03-15T14:30:00Z" is never
	// hijacked by a partial hour:minute match.
	if t, err := time.ParseInLocation("2006-01-02", s, now.Location()); err == nil {
		return t, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}

	if t, err := ParseNaturalLanguage(s, now); err == nil {
		return t, nil
	}

	return time.Time{}, fmt.Errorf("unrecognized time expression %q", s)
}
