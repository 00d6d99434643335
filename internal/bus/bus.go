// Package bus provides the async message bus for channel-orchestrator communication.
package bus

import (
	"context"
	"sync"
	"time"
)

// Turn represents one inbound conversational message. Immutable once
// created.
type Turn struct {
	Channel   string    `json:"channel"`
	SenderID  string    `json:"sender_id"`
	ChatID    string    `json:"chat_id"`
	Handle    string    `json:"handle"` // transport-unique id for dedup
	Content   string    `json:"content"`
	ArrivedAt time.Time `json:"arrived_at"`
}

// Outbound represents a message from the orchestrator to a channel.
type Outbound struct {
	Channel  string `json:"channel"`
	ChatID   string `json:"chat_id"`
	Content  string `json:"content"`
	FilePath string `json:"file_path,omitempty"`
	Caption  string `json:"caption,omitempty"`
}

// MessageBus decouples channels from the orchestrator core.
type MessageBus struct {
	inbound  chan *Turn
	outbound chan *Outbound
	subs     map[string][]func(*Outbound)
	mu       sync.RWMutex
}

// New creates a new message bus.
func New() *MessageBus {
	return &MessageBus{
		inbound:  make(chan *Turn, 100),
		outbound: make(chan *Outbound, 100),
		subs:     make(map[string][]func(*Outbound)),
	}
}

// PublishInbound sends a turn from a channel to the orchestrator.
func (b *MessageBus) PublishInbound(t *Turn) {
	if t.ArrivedAt.IsZero() {
		t.ArrivedAt = time.Now()
	}
	b.inbound <- t
}

// DrainInbound returns up to max buffered turns without blocking.
func (b *MessageBus) DrainInbound(max int) []*Turn {
	var turns []*Turn
	for len(turns) < max {
		select {
		case t := <-b.inbound:
			turns = append(turns, t)
		default:
			return turns
		}
	}
	return turns
}

// PublishOutbound sends a message from the orchestrator to channels.
func (b *MessageBus) PublishOutbound(msg *Outbound) {
	b.outbound <- msg
}

// Subscribe registers a callback for outbound messages to a specific channel.
func (b *MessageBus) Subscribe(channel string, callback func(*Outbound)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[channel] = append(b.subs[channel], callback)
}

// DispatchOutbound runs the outbound message dispatcher.
// This should be run as a goroutine.
func (b *MessageBus) DispatchOutbound(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg := <-b.outbound:
			b.mu.RLock()
			callbacks := b.subs[msg.Channel]
			b.mu.RUnlock()
			for _, cb := range callbacks {
				cb(msg)
			}
		}
	}
}

// InboundSize returns the number of pending inbound turns.
func (b *MessageBus) InboundSize() int {
	return len(b.inbound)
}

// OutboundSize returns the number of pending outbound messages.
func (b *MessageBus) OutboundSize() int {
	return len(b.outbound)
}
