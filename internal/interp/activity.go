package interp

import (
	"fmt"
	"regexp"
	"strings"
)

// Activity is a short human-readable notice describing what the agent is
// currently doing.
type Activity struct {
	Kind  string // read, search, execute, write, edit, subtask
	Label string
}

type activityRule struct {
	kind  string
	re    *regexp.Regexp
	label func(m []string) string
}

const argPreviewLen = 60

// activityRules maps tool-invocation line shapes to notices. Ordered; first
// match wins. The rule set is data so it can be tested on its own.
var activityRules = []activityRule{
	{"read", regexp.MustCompile(`(?i)^\s*[●⏺•*]?\s*Read(?:ing)?\s*\(?\s*([^\s)]+)`),
		func(m []string) string { return "📖 Reading " + trimArg(m[1]) }},
	{"search", regexp.MustCompile(`(?i)^\s*[●⏺•*]?\s*(?:Search(?:ing)?|Grep|Glob|Find)\s*\(?\s*(.*?)\)?\s*$`),
		func(m []string) string { return "🔍 Searching " + trimArg(m[1]) }},
	{"execute", regexp.MustCompile(`(?i)^\s*[●⏺•*]?\s*(?:Bash|Shell|Exec(?:uting)?|Run(?:ning)?)\s*\(?\s*(.*?)\)?\s*$`),
		func(m []string) string { return "⚡ Running " + trimArg(m[1]) }},
	{"write", regexp.MustCompile(`(?i)^\s*[●⏺•*]?\s*(?:Writ(?:e|ing)|Creat(?:e|ing))\s*\(?\s*([^\s)]+)`),
		func(m []string) string { return "📝 Writing " + trimArg(m[1]) }},
	{"edit", regexp.MustCompile(`(?i)^\s*[●⏺•*]?\s*(?:Edit(?:ing)?|Updat(?:e|ing)|MultiEdit)\s*\(?\s*([^\s)]+)`),
		func(m []string) string { return "✏️ Editing " + trimArg(m[1]) }},
	{"subtask", regexp.MustCompile(`(?i)^\s*[●⏺•*]?\s*(?:Task|Agent|Subagent)\s*\(?\s*(.*?)\)?\s*$`),
		func(m []string) string { return "🤖 Working on subtask " + trimArg(m[1]) }},
}

// ExtractActivity matches one completed line against the rule table.
// Unmatched lines produce no activity.
func ExtractActivity(line string) (Activity, bool) {
	line = StripDecoration(line)
	if strings.TrimSpace(line) == "" {
		return Activity{}, false
	}
	for _, rule := range activityRules {
		if m := rule.re.FindStringSubmatch(line); m != nil {
			return Activity{Kind: rule.kind, Label: strings.TrimSpace(rule.label(m))}, true
		}
	}
	return Activity{}, false
}

// isActivityLine reports whether a line is an echoed tool invocation.
// Used by the final-response filter to drop such lines.
func isActivityLine(line string) bool {
	_, ok := ExtractActivity(line)
	return ok
}

func trimArg(s string) string {
	s = strings.TrimSpace(s)
	runes := []rune(s)
	if len(runes) > argPreviewLen {
		return fmt.Sprintf("%s…", string(runes[:argPreviewLen]))
	}
	return s
}
