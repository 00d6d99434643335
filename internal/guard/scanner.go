package guard

import (
	"fmt"
	"regexp"
	"strings"
)

// Finding describes one suspicious pattern detected in a turn.
type Finding struct {
	Kind  string // e.g. "ssh_key", "destructive_command"
	Match string // the matched text
}

// KindDestructive marks findings that should require user confirmation
// before the turn is dispatched.
const KindDestructive = "destructive_command"

// suspiciousPatterns detect attempts to touch credential files and key
// material. Evaluated in order; all matches are reported.
var suspiciousPatterns = []namedPattern{
	{"ssh_key", regexp.MustCompile(`(?i)(\.ssh/|id_rsa|id_ed25519|id_ecdsa|authorized_keys)`)},
	{"aws_credentials", regexp.MustCompile(`(?i)\.aws/(credentials|config)`)},
	{"env_file", regexp.MustCompile(`(?i)(^|[\s/"'` + "`" + `])\.env(\.\w+)?\b`)},
	{"system_auth", regexp.MustCompile(`(?i)/etc/(shadow|passwd|sudoers)`)},
	{"private_key", regexp.MustCompile(`-----BEGIN\s+[A-Z\s]*PRIVATE\s+KEY-----`)},
	{"kube_config", regexp.MustCompile(`(?i)\.kube/config`)},
	{"browser_store", regexp.MustCompile(`(?i)(Login Data|Cookies\.sqlite|keychain-db)`)},
	{"token_file", regexp.MustCompile(`(?i)\.(netrc|npmrc|pypirc|git-credentials)\b`)},
}

// destructivePatterns detect data-destroying intent. A hit produces a
// finding of KindDestructive; the orchestrator gates these behind an
// approval prompt rather than blocking outright.
var destructivePatterns = []namedPattern{
	{KindDestructive, regexp.MustCompile(`(?i)\brm\s+-[a-z]*r[a-z]*f?\b`)},
	{KindDestructive, regexp.MustCompile(`(?i)\b(delete|remove|wipe)\b.{0,40}\b(all|every|entire)\b.{0,40}\b(files?|repo|director(y|ies)|data)\b`)},
	{KindDestructive, regexp.MustCompile(`(?i)\bgit\s+(push\s+--force|reset\s+--hard|clean\s+-[a-z]*f)\b`)},
	{KindDestructive, regexp.MustCompile(`(?i)\bdrop\s+(table|database)\b`)},
	{KindDestructive, regexp.MustCompile(`(?i)\bmkfs\b|\bdd\b.{0,30}\bof=/dev/`)},
}

// ScanSuspicious detects sensitive-path access attempts and destructive
// intent in a turn. Purely advisory: it logs and audits, never blocks.
// Scanner failures fail open; a broken diagnostic must not stop delivery.
func (g *Guard) ScanSuspicious(text string) (findings []Finding) {
	defer func() {
		if r := recover(); r != nil {
			findings = nil
		}
	}()

	for _, p := range suspiciousPatterns {
		if m := p.re.FindString(text); m != "" {
			findings = append(findings, Finding{Kind: p.name, Match: m})
		}
	}
	for _, p := range destructivePatterns {
		if m := p.re.FindString(text); m != "" {
			findings = append(findings, Finding{Kind: p.name, Match: m})
			break
		}
	}

	if len(findings) > 0 {
		kinds := make([]string, len(findings))
		for i, f := range findings {
			kinds[i] = f.Kind
		}
		emit(g.audit, EventSuspiciousContent, fmt.Sprintf("kinds=%s", strings.Join(kinds, ",")))
	}
	return findings
}

// HasDestructive reports whether any finding requires confirmation.
func HasDestructive(findings []Finding) bool {
	for _, f := range findings {
		if f.Kind == KindDestructive {
			return true
		}
	}
	return false
}
