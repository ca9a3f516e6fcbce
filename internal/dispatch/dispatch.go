// Package dispatch delivers formatted text to chat rooms.
package dispatch

import (
	"context"
	"fmt"

	appLog "icalbot/internal/log"
)

// Sender is the outbound half of a gateway.
type Sender interface {
	Send(ctx context.Context, room, markdown string) error
}

// Engine sends each message exactly once. Failures are logged and
// returned; there is no retry.
type Engine struct {
	sender Sender
}

// New returns an Engine that sends through s.
func New(s Sender) *Engine {
	return &Engine{sender: s}
}

// Send delivers text to room.
func (e *Engine) Send(ctx context.Context, room, text string) error {
	if err := e.sender.Send(ctx, room, text); err != nil {
		appLog.Error("dispatch: send failed", err, "room", room)
		return fmt.Errorf("send to %s: %w", room, err)
	}
	appLog.Debug("dispatch: sent", "room", room, "bytes", len(text))
	return nil
}
