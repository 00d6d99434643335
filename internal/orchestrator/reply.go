package orchestrator

import (
	"regexp"
	"strings"
)

// TruncationMarker is appended when a response exceeds the channel limit.
const TruncationMarker = "\n\n[Message truncated]"

// minDupLen is the shortest segment the deduplicator considers. Below this
// a repeated tail is more likely legitimate (code, lists) than an echo.
const minDupLen = 60

var fileDirectiveRe = regexp.MustCompile(`\[send-file:\s*([^\]]+)\]`)

// StripFileDirectives removes [send-file: path] markers from a response and
// returns the cleaned text plus the referenced paths in order of appearance.
func StripFileDirectives(text string) (string, []string) {
	var paths []string
	for _, m := range fileDirectiveRe.FindAllStringSubmatch(text, -1) {
		if p := strings.TrimSpace(m[1]); p != "" {
			paths = append(paths, p)
		}
	}
	clean := fileDirectiveRe.ReplaceAllString(text, "")
	clean = strings.TrimSpace(clean)
	return clean, paths
}

// DeduplicateResponse collapses a response that repeats itself. Two shapes
// are handled: the whole text doubled back to back, and a trailing block
// that repeats the text immediately before it.
func DeduplicateResponse(text string) string {
	trimmed := strings.TrimSpace(text)
	if len(trimmed) < minDupLen*2 {
		return text
	}

	// Whole-text doubling: the two halves match once surrounding whitespace
	// is trimmed. A separator between the copies shifts the midpoint into
	// the whitespace, so the halves still line up after trimming.
	half := len(trimmed) / 2
	first := strings.TrimSpace(trimmed[:half])
	second := strings.TrimSpace(trimmed[half:])
	if len(first) >= minDupLen && first == second {
		return first
	}

	// Trailing self-repeat: the last k bytes duplicate the k bytes before
	// them. Scan from the largest candidate down.
	for k := len(trimmed) / 2; k >= minDupLen; k-- {
		tail := trimmed[len(trimmed)-k:]
		prior := trimmed[len(trimmed)-2*k : len(trimmed)-k]
		if tail == prior {
			return strings.TrimSpace(trimmed[:len(trimmed)-k])
		}
	}
	return text
}

// Truncate caps text at limit runes, appending TruncationMarker when it cut.
func Truncate(text string, limit int) string {
	if limit <= 0 {
		return text
	}
	runes := []rune(text)
	if len(runes) <= limit {
		return text
	}
	keep := limit - len([]rune(TruncationMarker))
	if keep < 0 {
		keep = 0
	}
	return string(runes[:keep]) + TruncationMarker
}
