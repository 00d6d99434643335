package interp

import (
	"strings"
	"testing"
	"time"
	"unicode/utf8"
)

func TestStripDecoration(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"color codes", "\x1b[32mgreen\x1b[0m text", "green text"},
		{"cursor movement", "\x1b[2K\x1b[1Gline", "line"},
		{"osc title", "\x1b]0;window title\x07content", "content"},
		{"carriage return", "spinner\rdone", "spinner\ndone"},
		{"crlf", "one\r\ntwo", "one\ntwo"},
		{"plain", "nothing to strip", "nothing to strip"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := StripDecoration(tt.input); got != tt.want {
				t.Errorf("StripDecoration(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestExtractActivity(t *testing.T) {
	tests := []struct {
		line     string
		wantKind string
		wantOK   bool
	}{
		{"● Read(main.go)", "read", true},
		{"⏺ Reading src/server.go", "read", true},
		{"● Grep(func main)", "search", true},
		{"● Bash(go test ./...)", "execute", true},
		{"Running npm install", "execute", true},
		{"● Write(internal/api/handler.go)", "write", true},
		{"● Edit(config.yaml)", "edit", true},
		{"● Task(refactor the parser)", "subtask", true},
		{"The answer is 42.", "", false},
		{"", "", false},
		{"\x1b[1m● Bash(ls)\x1b[0m", "execute", true},
	}
	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			got, ok := ExtractActivity(tt.line)
			if ok != tt.wantOK {
				t.Fatalf("ExtractActivity(%q) ok = %v, want %v", tt.line, ok, tt.wantOK)
			}
			if ok && got.Kind != tt.wantKind {
				t.Errorf("kind = %q, want %q", got.Kind, tt.wantKind)
			}
		})
	}
}

func TestExtractActivityFirstMatchWins(t *testing.T) {
	// "Read" is matched by the read rule before any later rule can see it.
	got, ok := ExtractActivity("● Read(notes.txt)")
	if !ok || got.Kind != "read" {
		t.Fatalf("got %+v ok=%v, want read rule", got, ok)
	}
}

func TestExtractActivityTrimsLongArguments(t *testing.T) {
	long := strings.Repeat("a", 200)
	got, ok := ExtractActivity("● Bash(" + long + ")")
	if !ok {
		t.Fatal("expected a match")
	}
	if !strings.HasSuffix(got.Label, "…") {
		t.Errorf("long argument not trimmed: %q", got.Label)
	}
}

func TestExtractActivityTrimKeepsRunesIntact(t *testing.T) {
	long := strings.Repeat("ユ", 200)
	got, ok := ExtractActivity("● Bash(" + long + ")")
	if !ok {
		t.Fatal("expected a match")
	}
	if !utf8.ValidString(got.Label) {
		t.Errorf("label contains invalid UTF-8: %q", got.Label)
	}
	if !strings.HasSuffix(got.Label, "…") {
		t.Errorf("long argument not trimmed: %q", got.Label)
	}
}

func TestGateDropsWithinInterval(t *testing.T) {
	g := NewGate(time.Second)
	current := time.Now()
	g.now = func() time.Time { return current }

	if !g.Allow() {
		t.Fatal("first emission must pass")
	}
	if g.Allow() {
		t.Fatal("second emission inside the interval must be dropped")
	}
	current = current.Add(500 * time.Millisecond)
	if g.Allow() {
		t.Fatal("still inside the interval")
	}
	current = current.Add(500 * time.Millisecond)
	if !g.Allow() {
		t.Fatal("gate should reopen after the interval")
	}
}

func TestGateFilterDropsNotQueues(t *testing.T) {
	g := NewGate(time.Minute)
	var emitted []Activity
	emit := g.Filter(func(a Activity) { emitted = append(emitted, a) })

	for i := 0; i < 5; i++ {
		emit(Activity{Kind: "read", Label: "r"})
	}
	if len(emitted) != 1 {
		t.Fatalf("emitted %d activities, want 1 (rest dropped, never queued)", len(emitted))
	}
}

func TestExtractFinalResponse(t *testing.T) {
	raw := strings.Join([]string{
		"╭──────────────╮",
		"│ Agent v1.2.3 │",
		"╰──────────────╯",
		"⠋ Thinking…",
		"● Read(main.go)",
		"  12→ func main() {",
		"  13→ }",
		"> fix the bug in main",
		"",
		"",
		"",
		"The bug was an off-by-one in the loop bound.",
		"",
		"I changed `i <= n` to `i < n`.",
		"────────────",
	}, "\n")

	got := ExtractFinalResponse(raw)
	want := "The bug was an off-by-one in the loop bound.\n\nI changed `i <= n` to `i < n`."
	if got != want {
		t.Errorf("ExtractFinalResponse =\n%q\nwant\n%q", got, want)
	}
}

func TestExtractFinalResponseCollapsesBlankRuns(t *testing.T) {
	raw := "first\n\n\n\n\nsecond\n\nthird"
	got := ExtractFinalResponse(raw)
	want := "first\n\nsecond\n\nthird"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestExtractFinalResponseEmpty(t *testing.T) {
	for _, raw := range []string{"", "⠋ Loading…\n────\n", "\x1b[2J\x1b[H"} {
		if got := ExtractFinalResponse(raw); got != "" {
			t.Errorf("ExtractFinalResponse(%q) = %q, want empty", raw, got)
		}
	}
}

func TestExtractFinalResponseIdempotent(t *testing.T) {
	raws := []string{
		"╭───╮\n⠙ Working\n● Bash(ls)\nplain answer\n\n\n\nwith spacing",
		"already clean text\n\nwith a paragraph break",
		"  42 is the answer, not a line number",
	}
	for _, raw := range raws {
		once := ExtractFinalResponse(raw)
		twice := ExtractFinalResponse(once)
		if once != twice {
			t.Errorf("not idempotent:\nonce  %q\ntwice %q", once, twice)
		}
	}
}
