// Package channels connects chat platforms to the message bus.
package channels

import (
	"context"

	"github.com/RelayClaw/RelayClaw/internal/bus"
)

// Channel is a chat platform adapter.
type Channel interface {
	// Name returns the channel name (e.g. "whatsapp").
	Name() string
	// Start connects the platform and begins publishing inbound turns.
	Start(ctx context.Context) error
	// Stop disconnects the platform.
	Stop() error
	// Send delivers one outbound message.
	Send(ctx context.Context, msg *bus.Outbound) error
}

// BaseChannel provides the bus shared by all channels.
type BaseChannel struct {
	Bus *bus.MessageBus
}
