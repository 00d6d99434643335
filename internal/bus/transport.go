package bus

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

const maxPollBatch = 20

// Deduper is the durable inbound dedup ledger. Channels deliver
// at-least-once; the ledger filters redelivered handles.
type Deduper interface {
	SeenHandle(handle string) (bool, error)
	MarkHandle(handle string) error
}

// Transport is a poll-style view of the bus plus a send timeout. It is the
// orchestrator's contract with the messaging side.
type Transport struct {
	bus         *MessageBus
	dedup       Deduper
	sendTimeout time.Duration
}

// NewTransport creates a transport over the bus. dedup may be nil, in which
// case every turn is treated as novel.
func NewTransport(b *MessageBus, dedup Deduper) *Transport {
	return &Transport{bus: b, dedup: dedup, sendTimeout: 30 * time.Second}
}

// PollInbound returns newly observed turns, filtering redelivered handles
// through the dedup ledger. Ledger failures let the turn through: dropping a
// message is worse than a rare duplicate.
func (t *Transport) PollInbound(ctx context.Context) ([]*Turn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	drained := t.bus.DrainInbound(maxPollBatch)
	if t.dedup == nil {
		return drained, nil
	}

	var fresh []*Turn
	for _, turn := range drained {
		if turn.Handle != "" {
			seen, err := t.dedup.SeenHandle(turn.Handle)
			if err != nil {
				slog.Warn("Dedup lookup failed", "handle", turn.Handle, "error", err)
			} else if seen {
				slog.Debug("Dropping redelivered turn", "handle", turn.Handle)
				continue
			}
			if err := t.dedup.MarkHandle(turn.Handle); err != nil {
				slog.Warn("Dedup mark failed", "handle", turn.Handle, "error", err)
			}
		}
		fresh = append(fresh, turn)
	}
	return fresh, nil
}

// SendText sends a text message to a chat on a channel.
func (t *Transport) SendText(ctx context.Context, channel, chatID, text string) error {
	return t.publish(ctx, &Outbound{Channel: channel, ChatID: chatID, Content: text})
}

// SendFile sends a local file to a chat on a channel.
func (t *Transport) SendFile(ctx context.Context, channel, chatID, path, caption string) error {
	return t.publish(ctx, &Outbound{Channel: channel, ChatID: chatID, FilePath: path, Caption: caption})
}

func (t *Transport) publish(ctx context.Context, msg *Outbound) error {
	select {
	case t.bus.outbound <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(t.sendTimeout):
		return fmt.Errorf("outbound queue full for channel %s", msg.Channel)
	}
}
