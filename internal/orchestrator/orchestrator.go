// Package orchestrator drives turns from the message bus through guarding,
// queueing, and the agent session, and routes responses back out.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/RelayClaw/RelayClaw/internal/agent"
	"github.com/RelayClaw/RelayClaw/internal/approval"
	"github.com/RelayClaw/RelayClaw/internal/bus"
	"github.com/RelayClaw/RelayClaw/internal/config"
	"github.com/RelayClaw/RelayClaw/internal/guard"
	"github.com/RelayClaw/RelayClaw/internal/interp"
	"github.com/RelayClaw/RelayClaw/internal/store"
)

const (
	descriptionLen  = 80
	settingWorkdir  = "workdir"
	sendRetryDelay  = 2 * time.Second
	noticeRateLimit = "Rate limit exceeded. Please wait before sending more messages."
	noticeAgentFail = "Something went wrong while processing your message. Please try again."
)

// Orchestrator is the single consumer of inbound turns.
type Orchestrator struct {
	cfg       *config.Config
	store     *store.Store
	guard     *guard.Guard
	transport *bus.Transport
	registry  *agent.Registry
	approvals *approval.Manager
	allow     map[string]bool
	busy      atomic.Bool
}

func New(cfg *config.Config, st *store.Store, g *guard.Guard, tr *bus.Transport, reg *agent.Registry, appr *approval.Manager) *Orchestrator {
	return &Orchestrator{
		cfg:       cfg,
		store:     st,
		guard:     g,
		transport: tr,
		registry:  reg,
		approvals: appr,
		allow:     cfg.AllowedSenders(),
	}
}

// Run polls the transport until ctx is cancelled. Commands and enqueueing
// stay responsive while a dispatch is in flight.
func (o *Orchestrator) Run(ctx context.Context) error {
	ticker := time.NewTicker(o.cfg.Gateway.PollInterval)
	defer ticker.Stop()

	slog.Info("Orchestrator started", "poll_interval", o.cfg.Gateway.PollInterval)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			o.processBatch(ctx)
		}
	}
}

func (o *Orchestrator) processBatch(ctx context.Context) {
	turns, err := o.transport.PollInbound(ctx)
	if err != nil {
		slog.Error("Inbound poll failed", "error", err)
		return
	}
	for _, turn := range turns {
		o.handleTurn(ctx, turn)
	}
	o.drainIfIdle(ctx)
}

// drainIfIdle starts a drain when the agent is idle but the durable queue is
// not empty. This picks up turns persisted across a restart and turns that
// slipped in after a drain loop's final peek.
func (o *Orchestrator) drainIfIdle(ctx context.Context) {
	next, err := o.store.PeekNext()
	if err != nil || next == nil {
		return
	}
	if !o.busy.CompareAndSwap(false, true) {
		return
	}
	go func() {
		defer o.busy.Store(false)
		o.drainQueue(ctx)
	}()
}

// handleTurn runs the full pipeline for one inbound turn: authorization,
// rate limiting, sanitization, command short-circuit, destructive-intent
// gating, then dispatch or durable enqueue.
func (o *Orchestrator) handleTurn(ctx context.Context, turn *bus.Turn) {
	if !o.authorized(turn) {
		slog.Warn("Dropping unauthorized turn", "channel", turn.Channel, "sender", turn.SenderID)
		if !o.silentDrop(turn.Channel) {
			o.sendWithRetry(ctx, turn.Channel, turn.ChatID, "You are not authorized to use this agent.")
		}
		return
	}

	if allowed, _ := o.guard.CheckRate(turn.SenderID); !allowed {
		o.sendWithRetry(ctx, turn.Channel, turn.ChatID, noticeRateLimit)
		return
	}

	clean, filtered := o.guard.Sanitize(turn.Content)
	if filtered {
		slog.Info("Sanitized inbound content", "sender", turn.SenderID)
	}
	turn.Content = clean

	if reply, handled := o.tryCommand(ctx, turn); handled {
		if reply != "" {
			o.sendWithRetry(ctx, turn.Channel, turn.ChatID, reply)
		}
		return
	}

	if o.cfg.Guard.RequireApproval {
		findings := o.guard.ScanSuspicious(turn.Content)
		if guard.HasDestructive(findings) {
			o.approvals.Create(*turn, findings[0].Match)
			o.sendWithRetry(ctx, turn.Channel, turn.ChatID,
				"This request looks destructive. Reply \"yes\" to proceed or \"no\" to cancel.")
			return
		}
	}

	o.dispatchOrEnqueue(ctx, turn)
}

func (o *Orchestrator) dispatchOrEnqueue(ctx context.Context, turn *bus.Turn) {
	if o.busy.Load() {
		pos, err := o.store.Enqueue(turn.Channel, turn.SenderID, turn.ChatID, turn.Content)
		if err != nil {
			slog.Error("Enqueue failed", "error", err)
			o.sendWithRetry(ctx, turn.Channel, turn.ChatID, noticeAgentFail)
			return
		}
		o.sendWithRetry(ctx, turn.Channel, turn.ChatID,
			fmt.Sprintf("The agent is busy. Your message is queued at position %d.", pos))
		return
	}

	go o.dispatchAndDrain(ctx, turn)
}

// dispatchAndDrain runs one turn, then drains the durable queue in FIFO
// order. It owns the busy flag for its whole lifetime so concurrent arrivals
// are enqueued rather than racing a second subprocess.
func (o *Orchestrator) dispatchAndDrain(ctx context.Context, turn *bus.Turn) {
	if !o.busy.CompareAndSwap(false, true) {
		// Lost the race to another dispatch; park the turn instead.
		if pos, err := o.store.Enqueue(turn.Channel, turn.SenderID, turn.ChatID, turn.Content); err == nil {
			o.sendWithRetry(ctx, turn.Channel, turn.ChatID,
				fmt.Sprintf("The agent is busy. Your message is queued at position %d.", pos))
		}
		return
	}
	defer o.busy.Store(false)

	o.dispatch(ctx, turn)
	o.drainQueue(ctx)
}

// drainQueue dispatches persisted turns in FIFO order until the queue is
// empty. The caller must hold the busy flag.
func (o *Orchestrator) drainQueue(ctx context.Context) {
	for {
		next, err := o.store.PeekNext()
		if err != nil {
			slog.Error("Queue peek failed", "error", err)
			return
		}
		if next == nil {
			return
		}
		if err := o.store.Remove(next.Position); err != nil {
			slog.Error("Queue remove failed", "position", next.Position, "error", err)
			return
		}
		queued := &bus.Turn{
			Channel:  next.Channel,
			SenderID: next.SenderID,
			ChatID:   next.ChatID,
			Content:  next.Content,
		}
		o.sendWithRetry(ctx, queued.Channel, queued.ChatID,
			fmt.Sprintf("Now processing your queued message: %q", snippet(queued.Content)))
		o.dispatch(ctx, queued)
	}
}

// dispatch runs one turn against the agent session and routes the response.
func (o *Orchestrator) dispatch(ctx context.Context, turn *bus.Turn) {
	workDir := o.workDir()
	sess := o.registry.GetOrCreate(workDir)

	task := &store.RunningTask{
		TaskID:      uuid.NewString(),
		Description: snippet(turn.Content),
		StartedAt:   time.Now().UTC(),
	}
	if err := o.store.SetRunningTask(task); err != nil {
		if errors.Is(err, store.ErrTaskExists) {
			// Stale marker from a previous crash; this process owns the
			// session now.
			_ = o.store.ClearRunningTask()
			_ = o.store.SetRunningTask(task)
		} else {
			slog.Error("Recording running task failed", "error", err)
		}
	}
	defer func() {
		if err := o.store.ClearRunningTask(); err != nil {
			slog.Warn("Clearing running task failed", "error", err)
		}
	}()

	history, err := o.store.RecentConversation(turn.SenderID, o.cfg.Agent.HistoryWindow)
	if err != nil {
		slog.Warn("Loading conversation history failed", "error", err)
	}
	entries := make([]agent.HistoryEntry, 0, len(history))
	for _, h := range history {
		entries = append(entries, agent.HistoryEntry{Role: h.Role, Content: h.Content})
	}
	prompt := agent.ComposePrompt(entries, turn.Content)

	if err := o.store.AppendConversation(turn.SenderID, store.RoleUser, turn.Content); err != nil {
		slog.Warn("Appending user turn failed", "error", err)
	}

	resp, err := sess.Send(ctx, prompt, agent.SendOptions{
		OnActivity: func(a interp.Activity) {
			if sendErr := o.transport.SendText(ctx, turn.Channel, turn.ChatID, a.Label); sendErr != nil {
				slog.Debug("Activity notice dropped", "error", sendErr)
			}
		},
	})
	if err != nil {
		if errors.Is(err, agent.ErrInterrupted) {
			// The interrupt command already delivered any partial output.
			slog.Info("Agent turn interrupted", "sender", turn.SenderID)
			return
		}
		slog.Error("Agent turn failed", "sender", turn.SenderID, "error", err)
		o.registry.KillCurrent()
		o.sendWithRetry(ctx, turn.Channel, turn.ChatID, noticeAgentFail)
		return
	}

	o.deliver(ctx, turn, resp)
}

// deliver postprocesses the agent response and sends attachments before text.
func (o *Orchestrator) deliver(ctx context.Context, turn *bus.Turn, resp string) {
	text, files := StripFileDirectives(resp)
	text = DeduplicateResponse(text)
	text = Truncate(text, o.cfg.Agent.MaxResponseLen)

	if err := o.store.AppendConversation(turn.SenderID, store.RoleAgent, text); err != nil {
		slog.Warn("Appending agent turn failed", "error", err)
	}
	if err := o.store.TrimConversation(turn.SenderID, o.cfg.Agent.HistoryWindow); err != nil {
		slog.Warn("Trimming conversation failed", "error", err)
	}

	for _, f := range files {
		if err := o.transport.SendFile(ctx, turn.Channel, turn.ChatID, f, ""); err != nil {
			slog.Warn("Attachment send failed", "path", f, "error", err)
		}
	}
	if text != "" {
		o.sendWithRetry(ctx, turn.Channel, turn.ChatID, text)
	}
}

// sendWithRetry attempts the send once more after a short delay; a second
// failure drops the message with a log line.
func (o *Orchestrator) sendWithRetry(ctx context.Context, channel, chatID, text string) {
	if err := o.transport.SendText(ctx, channel, chatID, text); err == nil {
		return
	}
	select {
	case <-ctx.Done():
		return
	case <-time.After(sendRetryDelay):
	}
	if err := o.transport.SendText(ctx, channel, chatID, text); err != nil {
		slog.Error("Outbound message dropped after retry", "channel", channel, "error", err)
	}
}

func (o *Orchestrator) authorized(turn *bus.Turn) bool {
	if len(o.allow) == 0 {
		return true
	}
	return o.allow[turn.SenderID]
}

func (o *Orchestrator) silentDrop(channel string) bool {
	return channel == "whatsapp" && o.cfg.Channels.WhatsApp.DropUnauthorized
}

func (o *Orchestrator) workDir() string {
	if dir, err := o.store.GetSetting(settingWorkdir); err == nil && dir != "" {
		return dir
	}
	return o.cfg.Paths.Workspace
}

func snippet(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	runes := []rune(s)
	if len(runes) <= descriptionLen {
		return s
	}
	return string(runes[:descriptionLen]) + "…"
}
