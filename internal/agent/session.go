package agent

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/RelayClaw/RelayClaw/internal/interp"
)

// State is the session's lifecycle phase for one turn.
type State int32

const (
	StateIdle State = iota
	StateDispatching
	StateStreaming
	StateCompleted
	StateTimedOut
	StateErrored
	StateInterrupted
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateDispatching:
		return "dispatching"
	case StateStreaming:
		return "streaming"
	case StateCompleted:
		return "completed"
	case StateTimedOut:
		return "timed_out"
	case StateErrored:
		return "errored"
	case StateInterrupted:
		return "interrupted"
	}
	return "unknown"
}

const (
	// DefaultTimeout is the hard wall-clock limit for one turn.
	DefaultTimeout = 10 * time.Minute
	// NoResponse is returned when the process exits cleanly without any
	// extractable text. Callers use it to decide whether a retry makes sense.
	NoResponse = "(no response)"
	// TimeoutMarker is appended to partial output on timeout.
	TimeoutMarker = "[Response timed out]"

	scannerInitialBuf = 256 * 1024
	scannerMaxBuf     = 1024 * 1024
	stderrCaptureMax  = 8 * 1024
)

// ProcessError reports a subprocess that exited abnormally with nothing
// usable extracted.
type ProcessError struct {
	ExitCode int
	Stderr   string
}

func (e *ProcessError) Error() string {
	return fmt.Sprintf("agent process exited with code %d: %s", e.ExitCode, strings.TrimSpace(e.Stderr))
}

// TimeoutError reports a turn that hit the hard timeout with no partial
// output to salvage.
type TimeoutError struct {
	After time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("agent produced no output within %s", e.After)
}

// ErrInterrupted is returned by Send when the turn was cut short by
// Interrupt. The interrupter already holds whatever partial output existed,
// so the settled Send carries no response of its own.
var ErrInterrupted = errors.New("agent turn interrupted")

// TaskReleaser clears the running-task association when the subprocess is
// killed. The store implements it.
type TaskReleaser interface {
	ClearRunningTask() error
}

// SendOptions tunes a single Send call.
type SendOptions struct {
	// OnActivity receives tool-activity notices, already rate-gated.
	OnActivity func(interp.Activity)
}

// HistoryEntry is one prior conversation record used for prompt composition.
type HistoryEntry struct {
	Role    string
	Content string
}

// Session binds a working directory to at most one live agent subprocess.
// Binding is lazy: the subprocess is spawned on the first Send.
type Session struct {
	workDir     string
	binary      string
	timeout     time.Duration
	activityGap time.Duration
	tasks       TaskReleaser

	sendMu sync.Mutex // serializes Send; one turn at a time

	procMu      sync.Mutex // guards cmd, buffers, exit channel
	cmd         *exec.Cmd
	exited      chan struct{}
	rawBuf      bytes.Buffer
	errBuf      bytes.Buffer
	active      atomic.Bool
	state       atomic.Int32
	interrupted atomic.Bool
	started     time.Time
}

// NewSession binds a session to a working directory without spawning.
// tasks may be nil.
func NewSession(workDir, binary string, timeout, activityGap time.Duration, tasks TaskReleaser) *Session {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Session{
		workDir:     workDir,
		binary:      ResolveBinary(binary),
		timeout:     timeout,
		activityGap: activityGap,
		tasks:       tasks,
	}
}

// WorkDir returns the bound working directory.
func (s *Session) WorkDir() string { return s.workDir }

// State returns the current lifecycle phase.
func (s *Session) State() State { return State(s.state.Load()) }

// Active reports whether a subprocess is currently running.
func (s *Session) Active() bool { return s.active.Load() }

// PID returns the active subprocess pid, or 0.
func (s *Session) PID() int {
	s.procMu.Lock()
	defer s.procMu.Unlock()
	if s.cmd != nil && s.cmd.Process != nil && s.active.Load() {
		return s.cmd.Process.Pid
	}
	return 0
}

// ComposePrompt renders the history window plus the current turn into the
// text written to the agent's stdin.
func ComposePrompt(history []HistoryEntry, turn string) string {
	if len(history) == 0 {
		return turn
	}
	var sb strings.Builder
	sb.WriteString("Previous conversation:\n")
	for _, h := range history {
		label := "User"
		if h.Role != "user" {
			label = "Assistant"
		}
		sb.WriteString(label)
		sb.WriteString(": ")
		sb.WriteString(h.Content)
		sb.WriteString("\n")
	}
	sb.WriteString("\nCurrent message:\n")
	sb.WriteString(turn)
	return sb.String()
}

// Send spawns the subprocess in the session's working directory, writes the
// prompt to its stdin, streams activity notices while accumulating output,
// and returns the cleaned final response.
//
//   - Clean exit with content: the cleaned text.
//   - Clean exit without content: the NoResponse sentinel, nil error.
//   - Abnormal exit without content: *ProcessError.
//   - Timeout with partial content: partial + TimeoutMarker, nil error.
//   - Timeout without content: *TimeoutError.
func (s *Session) Send(ctx context.Context, prompt string, opts SendOptions) (string, error) {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()

	if s.active.Load() {
		return "", fmt.Errorf("session already processing a turn")
	}
	s.interrupted.Store(false)
	s.state.Store(int32(StateDispatching))

	cmd := exec.Command(s.binary, "--print")
	cmd.Dir = s.workDir
	setProcGroup(cmd)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		s.state.Store(int32(StateErrored))
		return "", fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		s.state.Store(int32(StateErrored))
		return "", fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		s.state.Store(int32(StateErrored))
		return "", fmt.Errorf("stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		s.state.Store(int32(StateErrored))
		return "", &ProcessError{ExitCode: -1, Stderr: err.Error()}
	}

	exited := make(chan struct{})
	s.procMu.Lock()
	s.cmd = cmd
	s.exited = exited
	s.rawBuf.Reset()
	s.errBuf.Reset()
	s.started = time.Now()
	s.procMu.Unlock()
	s.active.Store(true)
	s.state.Store(int32(StateStreaming))
	slog.Info("Agent subprocess started", "pid", cmd.Process.Pid, "dir", s.workDir)

	go func() {
		defer stdin.Close()
		io.WriteString(stdin, prompt)
	}()

	gate := interp.NewGate(s.activityGap)
	var readers sync.WaitGroup
	readers.Add(2)
	go func() {
		defer readers.Done()
		s.consumeStdout(stdout, gate, opts.OnActivity)
	}()
	go func() {
		defer readers.Done()
		s.consumeStderr(stderr)
	}()

	waitCh := make(chan error, 1)
	go func() {
		readers.Wait()
		waitCh <- cmd.Wait()
		close(exited)
	}()

	timer := time.NewTimer(s.timeout)
	defer timer.Stop()

	var waitErr error
	select {
	case waitErr = <-waitCh:
	case <-timer.C:
		s.Kill()
		<-exited
		return s.settleTimeout()
	case <-ctx.Done():
		s.Kill()
		<-exited
		s.finish(StateInterrupted)
		return "", ctx.Err()
	}

	return s.settleExit(waitErr)
}

func (s *Session) consumeStdout(r io.Reader, gate *interp.Gate, onActivity func(interp.Activity)) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, scannerInitialBuf), scannerMaxBuf)
	for scanner.Scan() {
		line := scanner.Text()
		s.procMu.Lock()
		s.rawBuf.WriteString(line)
		s.rawBuf.WriteByte('\n')
		s.procMu.Unlock()

		if onActivity == nil {
			continue
		}
		if activity, ok := interp.ExtractActivity(line); ok && gate.Allow() {
			onActivity(activity)
		}
	}
}

func (s *Session) consumeStderr(r io.Reader) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, scannerInitialBuf), scannerMaxBuf)
	for scanner.Scan() {
		s.procMu.Lock()
		if s.errBuf.Len() < stderrCaptureMax {
			s.errBuf.WriteString(scanner.Text())
			s.errBuf.WriteByte('\n')
		}
		s.procMu.Unlock()
	}
}

func (s *Session) settleExit(waitErr error) (string, error) {
	if s.interrupted.Load() {
		s.finish(StateInterrupted)
		return "", ErrInterrupted
	}
	raw, errOut := s.snapshot()
	final := interp.ExtractFinalResponse(raw)

	if final != "" {
		s.finish(StateCompleted)
		return final, nil
	}
	if waitErr != nil {
		s.finish(StateErrored)
		exitCode := -1
		if exitErr, ok := waitErr.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		}
		return "", &ProcessError{ExitCode: exitCode, Stderr: errOut}
	}
	s.finish(StateCompleted)
	return NoResponse, nil
}

func (s *Session) settleTimeout() (string, error) {
	raw, _ := s.snapshot()
	partial := interp.ExtractFinalResponse(raw)
	s.finish(StateTimedOut)
	slog.Warn("Agent turn timed out", "dir", s.workDir, "partial_len", len(partial))
	if partial != "" {
		return partial + "\n\n" + TimeoutMarker, nil
	}
	return "", &TimeoutError{After: s.timeout}
}

func (s *Session) snapshot() (raw, stderr string) {
	s.procMu.Lock()
	defer s.procMu.Unlock()
	return s.rawBuf.String(), s.errBuf.String()
}

func (s *Session) finish(st State) {
	s.active.Store(false)
	s.state.Store(int32(st))
}

// Kill terminates the subprocess if one is active and clears the
// running-task association. Idempotent; it does not settle an in-flight
// Send, which resolves via the process-exit path.
func (s *Session) Kill() {
	s.procMu.Lock()
	cmd := s.cmd
	s.procMu.Unlock()

	if cmd != nil && cmd.Process != nil && s.active.Load() {
		if err := killProcGroup(cmd); err != nil {
			slog.Debug("Agent kill signal failed", "error", err)
		}
	}
	if s.tasks != nil {
		if err := s.tasks.ClearRunningTask(); err != nil {
			slog.Warn("Clearing running task failed", "error", err)
		}
	}
}

// Interrupt returns the best-effort cleaned partial output captured so far
// (nil when nothing was captured), then kills the subprocess. Synchronous
// from the caller's perspective.
func (s *Session) Interrupt() *string {
	raw, _ := s.snapshot()
	wasActive := s.active.Load()
	if wasActive {
		s.interrupted.Store(true)
		s.state.Store(int32(StateInterrupted))
	}
	s.Kill()
	partial := interp.ExtractFinalResponse(raw)
	if partial == "" {
		return nil
	}
	return &partial
}

// Shutdown kills the subprocess and waits for its exit handler to settle.
// Used by the registry when recycling sessions on working-directory change.
func (s *Session) Shutdown() {
	s.procMu.Lock()
	exited := s.exited
	s.procMu.Unlock()

	s.Kill()
	if exited != nil && s.active.Load() {
		select {
		case <-exited:
		case <-time.After(5 * time.Second):
			slog.Warn("Agent subprocess did not exit in time", "dir", s.workDir)
		}
	}
}
