// Package gateway connects the bot to a chat network. A Gateway delivers
// inbound messages and invitations to a Handler and carries outbound
// markdown back to rooms.
package gateway

import (
	"context"
	"fmt"
	"strconv"
	"strings"
)

// Supported transports.
const (
	TransportMatrix   = "matrix"
	TransportTelegram = "telegram"
)

// Room membership states reported on inbound messages.
const (
	RoomJoined  = "joined"
	RoomInvited = "invited"
	RoomLeft    = "left"
)

// InboundMessage is a text message seen in a room.
type InboundMessage struct {
	Sender    string
	RoomID    string
	RoomState string
	Body      string
}

// InvitationEvent reports that TargetUserID was invited to RoomID.
type InvitationEvent struct {
	TargetUserID string
	RoomID       string
}

// Handler receives gateway events. Implementations must return quickly;
// long work belongs on the worker pool.
type Handler interface {
	HandleMessage(ctx context.Context, msg InboundMessage)
	HandleInvitation(ctx context.Context, inv InvitationEvent)
}

// Gateway is a connected chat client. Send and Join are safe for
// concurrent use.
type Gateway interface {
	// UserID is the bot's own identifier on the network.
	UserID() string
	// Send posts markdown text to a room.
	Send(ctx context.Context, room, markdown string) error
	// Join accepts an invitation to a room.
	Join(ctx context.Context, room string) error
	// Run delivers events to h until ctx is cancelled or the connection
	// fails.
	Run(ctx context.Context, h Handler) error
}

// ValidateRoomID checks that room is a well-formed identifier for the
// transport.
func ValidateRoomID(transport, room string) error {
	switch transport {
	case TransportMatrix, "":
		if !strings.HasPrefix(room, "!") {
			return fmt.Errorf("invalid Matrix room ID %q: must start with '!'", room)
		}
		local, server, ok := strings.Cut(room[1:], ":")
		if !ok || local == "" || server == "" {
			return fmt.Errorf("invalid Matrix room ID %q: want !opaque:server", room)
		}
		return nil
	case TransportTelegram:
		if _, err := strconv.ParseInt(room, 10, 64); err != nil {
			return fmt.Errorf("invalid Telegram chat ID %q: %w", room, err)
		}
		return nil
	default:
		return fmt.Errorf("unknown transport %q", transport)
	}
}
