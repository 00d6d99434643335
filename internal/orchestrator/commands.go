package orchestrator

import (
	"context"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/RelayClaw/RelayClaw/internal/bus"
)

// command is one recognized control message. The table is ordered and the
// first match wins; anything unmatched goes to the agent.
type command struct {
	name string
	re   *regexp.Regexp
	run  func(ctx context.Context, o *Orchestrator, turn *bus.Turn, m []string) (string, bool)
}

var commands = []command{
	{"help", regexp.MustCompile(`(?i)^(help|\?)$`), runHelp},
	{"status", regexp.MustCompile(`(?i)^status$`), runStatus},
	{"queue", regexp.MustCompile(`(?i)^queue$`), runQueue},
	{"history", regexp.MustCompile(`(?i)^history(?:\s+(\d+))?$`), runHistory},
	{"interrupt", regexp.MustCompile(`(?i)^(interrupt|stop)$`), runInterrupt},
	{"cd", regexp.MustCompile(`(?i)^cd\s+(.+)$`), runChdir},
	{"reset", regexp.MustCompile(`(?i)^reset$`), runReset},
	{"approve", regexp.MustCompile(`(?i)^(yes|approve)$`), runApprove},
	{"deny", regexp.MustCompile(`(?i)^(no|deny)$`), runDeny},
}

// tryCommand matches the turn against the command table. handled=false means
// the content is an ordinary prompt for the agent.
func (o *Orchestrator) tryCommand(ctx context.Context, turn *bus.Turn) (string, bool) {
	text := strings.TrimSpace(turn.Content)
	for _, c := range commands {
		if m := c.re.FindStringSubmatch(text); m != nil {
			return c.run(ctx, o, turn, m)
		}
	}
	return "", false
}

func runHelp(_ context.Context, _ *Orchestrator, _ *bus.Turn, _ []string) (string, bool) {
	return strings.TrimSpace(`
Commands:
  help          show this message
  status        agent and queue state
  queue         list queued messages
  history [n]   show recent conversation
  interrupt     stop the current task, keep partial output
  cd <dir>      change the agent working directory
  reset         clear your conversation history
Anything else is sent to the agent.`), true
}

func runStatus(_ context.Context, o *Orchestrator, _ *bus.Turn, _ []string) (string, bool) {
	var sb strings.Builder
	task, err := o.store.GetRunningTask()
	switch {
	case err != nil:
		sb.WriteString("Task state unavailable.\n")
	case task == nil:
		sb.WriteString("Agent: idle\n")
	default:
		sb.WriteString(fmt.Sprintf("Agent: working for %s on %q\n",
			time.Since(task.StartedAt).Round(time.Second), task.Description))
	}
	if n, err := o.store.QueueLength(); err == nil {
		sb.WriteString(fmt.Sprintf("Queue: %d waiting\n", n))
	}
	sb.WriteString("Workdir: " + o.workDir())
	return sb.String(), true
}

func runQueue(_ context.Context, o *Orchestrator, _ *bus.Turn, _ []string) (string, bool) {
	items, err := o.store.ListQueue(10)
	if err != nil {
		return "Queue unavailable.", true
	}
	if len(items) == 0 {
		return "Queue is empty.", true
	}
	var sb strings.Builder
	for _, q := range items {
		sb.WriteString(fmt.Sprintf("#%d %s: %s\n", q.Position, q.SenderID, snippet(q.Content)))
	}
	return strings.TrimRight(sb.String(), "\n"), true
}

func runHistory(_ context.Context, o *Orchestrator, turn *bus.Turn, m []string) (string, bool) {
	n := 10
	if m[1] != "" {
		if v, err := strconv.Atoi(m[1]); err == nil && v > 0 {
			n = v
		}
	}
	records, err := o.store.RecentConversation(turn.SenderID, n)
	if err != nil {
		return "History unavailable.", true
	}
	if len(records) == 0 {
		return "No conversation history.", true
	}
	var sb strings.Builder
	for _, r := range records {
		sb.WriteString(fmt.Sprintf("[%s] %s\n", r.Role, snippet(r.Content)))
	}
	return strings.TrimRight(sb.String(), "\n"), true
}

func runInterrupt(_ context.Context, o *Orchestrator, _ *bus.Turn, _ []string) (string, bool) {
	sess := o.registry.Current()
	if sess == nil || !sess.Active() {
		return "Nothing is running.", true
	}
	partial := sess.Interrupt()
	_ = o.store.ClearRunningTask()
	if partial == nil {
		return "Stopped. No output had been produced yet.", true
	}
	return "Stopped. Partial output:\n\n" + *partial, true
}

func runChdir(_ context.Context, o *Orchestrator, _ *bus.Turn, m []string) (string, bool) {
	dir := strings.TrimSpace(m[1])
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		return fmt.Sprintf("Not a directory: %s", dir), true
	}
	if err := o.store.SetSetting(settingWorkdir, dir); err != nil {
		return "Failed to persist working directory.", true
	}
	// The session for the old directory is torn down on the next dispatch.
	return "Working directory set to " + dir, true
}

func runReset(_ context.Context, o *Orchestrator, turn *bus.Turn, _ []string) (string, bool) {
	if err := o.store.ClearConversation(turn.SenderID); err != nil {
		return "Failed to clear history.", true
	}
	return "Conversation history cleared.", true
}

func runApprove(ctx context.Context, o *Orchestrator, turn *bus.Turn, _ []string) (string, bool) {
	if o.approvals.Get(turn.SenderID) == nil {
		return "", false
	}
	p, err := o.approvals.Resolve(turn.SenderID, true)
	if err != nil {
		return "", false
	}
	parked := p.Turn
	o.dispatchOrEnqueue(ctx, &parked)
	return "Approved, proceeding.", true
}

func runDeny(_ context.Context, o *Orchestrator, turn *bus.Turn, _ []string) (string, bool) {
	if o.approvals.Get(turn.SenderID) == nil {
		return "", false
	}
	if _, err := o.approvals.Resolve(turn.SenderID, false); err != nil {
		return "", false
	}
	return "Cancelled.", true
}
