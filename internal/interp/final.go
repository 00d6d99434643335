package interp

import (
	"regexp"
	"strings"
)

// Structural noise line shapes dropped from the final response. This filter
// is heuristic and lossy: it keeps surviving lines in their original order
// but cannot distinguish, say, a legitimately line-numbered answer from an
// echoed file excerpt.
var (
	// Lines made only of box-drawing and rule characters.
	boxLineRe = regexp.MustCompile(`^\s*[─━│┃┄┆┌┐└┘├┤┬┴┼╭╮╯╰╱╲═║╔╗╚╝╠╣╦╩╬+\-_=|]+\s*$`)
	// Banner body lines framed by a vertical box edge.
	boxEdgeRe = regexp.MustCompile(`^\s*[│┃║]`)
	// Spinner frames, with or without a trailing status word.
	spinnerRe = regexp.MustCompile(`^\s*[⠁⠂⠄⡀⢀⠠⠐⠈⠋⠙⠹⠸⠼⠴⠦⠧⠇⠏✢✳✶✻✽·]+\s*\S*\s*(…|\.{3})?\s*$`)
	// Line-numbered file excerpts: "  12→ code" / "  12 | code" / "12: code".
	numberedRe = regexp.MustCompile(`^\s*\d+\s*(→|\||:)\s`)
	// Prompt echoes.
	promptRe = regexp.MustCompile(`^\s*[>❯»]\s`)
)

// ExtractFinalResponse cleans the entire accumulated stream into the text to
// deliver: strips decoration, drops structural noise lines, and collapses
// runs of 3+ blank lines to exactly one. Order-preserving and idempotent on
// already-clean text.
func ExtractFinalResponse(raw string) string {
	text := StripDecoration(raw)

	var kept []string
	for _, line := range strings.Split(text, "\n") {
		if isNoiseLine(line) {
			continue
		}
		kept = append(kept, strings.TrimRight(line, " \t"))
	}

	return strings.TrimSpace(collapseBlanks(kept))
}

func isNoiseLine(line string) bool {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" {
		return false // blanks are handled by collapseBlanks
	}
	if boxLineRe.MatchString(line) || boxEdgeRe.MatchString(line) {
		return true
	}
	if spinnerRe.MatchString(line) {
		return true
	}
	if numberedRe.MatchString(line) {
		return true
	}
	if promptRe.MatchString(line) {
		return true
	}
	return isActivityLine(line)
}

// collapseBlanks reduces every run of 3 or more blank lines to one.
// Runs of 1 or 2 are kept as-is (intentional paragraph spacing).
func collapseBlanks(lines []string) string {
	var out []string
	blanks := 0
	flush := func() {
		if blanks >= 3 {
			out = append(out, "")
		} else {
			for i := 0; i < blanks; i++ {
				out = append(out, "")
			}
		}
		blanks = 0
	}
	for _, line := range lines {
		if strings.TrimSpace(line) == "" {
			blanks++
			continue
		}
		flush()
		out = append(out, line)
	}
	flush()
	return strings.Join(out, "\n")
}
