// Package interp turns the agent subprocess's raw, ANSI-laden output stream
// into human-readable tool activity notices and one cleaned final response.
package interp

import (
	"regexp"
	"strings"
)

// Terminal escape sequences: CSI, OSC (BEL or ST terminated), and charset
// selection. Covers what agent CLIs actually emit; not a full VT parser.
var (
	csiRe     = regexp.MustCompile(`\x1b\[[0-9;?]*[ -/]*[@-~]`)
	oscRe     = regexp.MustCompile(`\x1b\][^\x07\x1b]*(\x07|\x1b\\)`)
	charsetRe = regexp.MustCompile(`\x1b[()][A-Za-z0-9]`)
)

// StripDecoration removes terminal escape sequences and normalizes carriage
// returns (spinner overwrites) into newlines.
func StripDecoration(text string) string {
	text = csiRe.ReplaceAllString(text, "")
	text = oscRe.ReplaceAllString(text, "")
	text = charsetRe.ReplaceAllString(text, "")
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")
	return text
}
