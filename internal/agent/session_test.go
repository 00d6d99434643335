package agent

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/RelayClaw/RelayClaw/internal/interp"
)

// writeScript creates an executable shell script standing in for the agent
// binary. Scripts ignore their arguments and read the prompt from stdin.
func writeScript(t *testing.T, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell scripts not available")
	}
	path := filepath.Join(t.TempDir(), "agent.sh")
	script := "#!/bin/sh\n" + body + "\n"
	if err := os.WriteFile(path, []byte(script), 0o755); err != nil {
		t.Fatal(err)
	}
	return path
}

func newTestSession(t *testing.T, script string, timeout time.Duration) *Session {
	t.Helper()
	return &Session{
		workDir:     t.TempDir(),
		binary:      script,
		timeout:     timeout,
		activityGap: time.Millisecond,
	}
}

func TestSendReturnsCleanedOutput(t *testing.T) {
	script := writeScript(t, `cat >/dev/null
echo "● Read(main.go)"
echo "the answer is 42"`)
	s := newTestSession(t, script, 10*time.Second)

	got, err := s.Send(context.Background(), "what is the answer?", SendOptions{})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if got != "the answer is 42" {
		t.Errorf("Send = %q", got)
	}
	if s.State() != StateCompleted {
		t.Errorf("state = %v, want completed", s.State())
	}
}

func TestSendStreamsActivities(t *testing.T) {
	script := writeScript(t, `cat >/dev/null
echo "● Bash(go test ./...)"
echo "done"`)
	s := newTestSession(t, script, 10*time.Second)

	var mu sync.Mutex
	var labels []string
	_, err := s.Send(context.Background(), "run the tests", SendOptions{
		OnActivity: func(a interp.Activity) {
			mu.Lock()
			labels = append(labels, a.Label)
			mu.Unlock()
		},
	})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(labels) != 1 || !strings.Contains(labels[0], "Running") {
		t.Errorf("activities = %v", labels)
	}
}

func TestSendEmptyCleanExit(t *testing.T) {
	script := writeScript(t, `cat >/dev/null`)
	s := newTestSession(t, script, 10*time.Second)

	got, err := s.Send(context.Background(), "hello", SendOptions{})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if got != NoResponse {
		t.Errorf("Send = %q, want %q", got, NoResponse)
	}
}

func TestSendAbnormalExit(t *testing.T) {
	script := writeScript(t, `cat >/dev/null
echo "boom" >&2
exit 3`)
	s := newTestSession(t, script, 10*time.Second)

	_, err := s.Send(context.Background(), "hello", SendOptions{})
	var procErr *ProcessError
	if !errors.As(err, &procErr) {
		t.Fatalf("err = %v, want *ProcessError", err)
	}
	if procErr.ExitCode != 3 {
		t.Errorf("exit code = %d, want 3", procErr.ExitCode)
	}
	if !strings.Contains(procErr.Stderr, "boom") {
		t.Errorf("stderr not captured: %q", procErr.Stderr)
	}
	if s.State() != StateErrored {
		t.Errorf("state = %v, want errored", s.State())
	}
}

func TestSendAbnormalExitWithContentStillResolves(t *testing.T) {
	script := writeScript(t, `cat >/dev/null
echo "partial result before crash"
exit 1`)
	s := newTestSession(t, script, 10*time.Second)

	got, err := s.Send(context.Background(), "hello", SendOptions{})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if got != "partial result before crash" {
		t.Errorf("Send = %q", got)
	}
}

func TestSendTimeoutWithPartial(t *testing.T) {
	script := writeScript(t, `cat >/dev/null
echo "made some progress"
sleep 30`)
	s := newTestSession(t, script, 500*time.Millisecond)

	got, err := s.Send(context.Background(), "hello", SendOptions{})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if !strings.HasPrefix(got, "made some progress") {
		t.Errorf("partial missing: %q", got)
	}
	if !strings.HasSuffix(got, TimeoutMarker) {
		t.Errorf("timeout marker missing: %q", got)
	}
	if s.State() != StateTimedOut {
		t.Errorf("state = %v, want timed_out", s.State())
	}
}

func TestSendTimeoutWithoutOutput(t *testing.T) {
	script := writeScript(t, `sleep 30`)
	s := newTestSession(t, script, 300*time.Millisecond)

	_, err := s.Send(context.Background(), "hello", SendOptions{})
	var toErr *TimeoutError
	if !errors.As(err, &toErr) {
		t.Fatalf("err = %v, want *TimeoutError", err)
	}
}

func TestKillIdempotentAndReleasesTask(t *testing.T) {
	releaser := &countingReleaser{}
	s := &Session{workDir: t.TempDir(), binary: "noop", tasks: releaser}

	// No subprocess yet: must not panic, still clears the marker.
	s.Kill()
	s.Kill()
	if releaser.calls != 2 {
		t.Errorf("releaser calls = %d, want 2", releaser.calls)
	}
}

func TestInterruptSettlesSendWithoutResponse(t *testing.T) {
	script := writeScript(t, `cat >/dev/null
echo "partial progress"
sleep 30`)
	s := newTestSession(t, script, time.Minute)

	resultCh := make(chan error, 1)
	go func() {
		_, err := s.Send(context.Background(), "long task", SendOptions{})
		resultCh <- err
	}()

	// Wait for the partial line to arrive before interrupting.
	deadline := time.Now().Add(5 * time.Second)
	for {
		raw, _ := s.snapshot()
		if strings.Contains(raw, "partial progress") {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("subprocess produced no output in time")
		}
		time.Sleep(10 * time.Millisecond)
	}

	partial := s.Interrupt()
	if partial == nil || !strings.Contains(*partial, "partial progress") {
		t.Fatalf("Interrupt partial = %v", partial)
	}

	select {
	case err := <-resultCh:
		if !errors.Is(err, ErrInterrupted) {
			t.Errorf("Send error = %v, want ErrInterrupted", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("Send did not settle after interrupt")
	}
	if s.State() != StateInterrupted {
		t.Errorf("state = %v, want interrupted", s.State())
	}
}

func TestInterruptIdleReturnsNil(t *testing.T) {
	s := &Session{workDir: t.TempDir(), binary: "noop"}
	if got := s.Interrupt(); got != nil {
		t.Errorf("Interrupt on idle session = %v, want nil", *got)
	}
}

type countingReleaser struct{ calls int }

func (c *countingReleaser) ClearRunningTask() error {
	c.calls++
	return nil
}

func TestComposePrompt(t *testing.T) {
	if got := ComposePrompt(nil, "just this"); got != "just this" {
		t.Errorf("no history: %q", got)
	}

	history := []HistoryEntry{
		{Role: "user", Content: "what is Go?"},
		{Role: "agent", Content: "a programming language"},
	}
	got := ComposePrompt(history, "who made it?")
	for _, want := range []string{"Previous conversation:", "User: what is Go?", "Assistant: a programming language", "Current message:\nwho made it?"} {
		if !strings.Contains(got, want) {
			t.Errorf("prompt missing %q:\n%s", want, got)
		}
	}
}

func TestResolvePrefersEnvOverride(t *testing.T) {
	t.Setenv(EnvBinary, "/custom/agent")
	if got := resolve("claude"); got != "/custom/agent" {
		t.Errorf("resolve = %q, want env override", got)
	}
}

func TestResolveFallsBackToBareName(t *testing.T) {
	t.Setenv(EnvBinary, "")
	os.Unsetenv(EnvBinary)
	if got := resolve("definitely-not-a-real-binary-xyz"); got != "definitely-not-a-real-binary-xyz" {
		t.Errorf("resolve = %q, want bare name", got)
	}
}

func TestRegistryReusesSameWorkdir(t *testing.T) {
	var built []string
	r := NewRegistry(func(dir string) *Session {
		built = append(built, dir)
		return &Session{workDir: dir, binary: "noop"}
	})

	a := r.GetOrCreate("/tmp/a")
	if r.GetOrCreate("/tmp/a") != a {
		t.Error("same workdir should reuse the session")
	}
	if len(built) != 1 {
		t.Fatalf("factory called %d times, want 1", len(built))
	}

	b := r.GetOrCreate("/tmp/b")
	if b == a {
		t.Error("different workdir should get a fresh session")
	}
	if r.Current() != b {
		t.Error("Current should track the latest session")
	}
	if len(built) != 2 {
		t.Errorf("factory called %d times, want 2", len(built))
	}
}
