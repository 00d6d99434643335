package guard

import (
	"fmt"
	"regexp"
	"strings"
)

// FilteredMarker replaces each dangerous substring in sanitized text.
const FilteredMarker = "[filtered]"

type namedPattern struct {
	name string
	re   *regexp.Regexp
}

// dangerousPatterns match substrings that impersonate system or
// administrative metadata. Evaluated in order; all matches are replaced.
var dangerousPatterns = []namedPattern{
	{"from_me_flag", regexp.MustCompile(`(?i)is_from_me:\s*(true|false)`)},
	{"system_tag", regexp.MustCompile(`(?i)</?\s*system\s*>`)},
	{"system_bracket", regexp.MustCompile(`(?i)\[/?\s*system\s*\]`)},
	{"role_prefix", regexp.MustCompile(`(?im)^\s*(system|assistant|developer)\s*:`)},
	{"chatml_marker", regexp.MustCompile(`<\|im_(start|end)\|>`)},
	{"instruction_tag", regexp.MustCompile(`(?i)</?\s*(instructions?|admin)\s*>`)},
}

// Sanitize replaces role-spoofing and metadata-impersonating substrings with
// the filtered marker. Pure except for a single audit event when anything
// was filtered. Never fails: a sanitizer bug must not block delivery.
func (g *Guard) Sanitize(text string) (clean string, filtered bool) {
	defer func() {
		if r := recover(); r != nil {
			clean, filtered = text, false
		}
	}()

	clean = text
	var hit []string
	for _, p := range dangerousPatterns {
		if p.re.MatchString(clean) {
			clean = p.re.ReplaceAllString(clean, FilteredMarker)
			hit = append(hit, p.name)
		}
	}
	if len(hit) == 0 {
		return clean, false
	}
	emit(g.audit, EventContentSanitized, fmt.Sprintf("patterns=%s", strings.Join(hit, ",")))
	return clean, true
}
