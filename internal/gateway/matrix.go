package gateway

import (
	"context"
	"errors"
	"fmt"

	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/format"
	"maunium.net/go/mautrix/id"

	appLog "icalbot/internal/log"
)

const matrixDeviceID = "icalbot"

// MatrixConfig is an access-token session on a homeserver.
type MatrixConfig struct {
	Homeserver  string
	UserID      string
	AccessToken string
}

// Matrix is a gateway backed by the client-server sync API.
type Matrix struct {
	client *mautrix.Client
	self   id.UserID
}

// NewMatrix creates a client for cfg. No network traffic happens until Run.
func NewMatrix(cfg MatrixConfig) (*Matrix, error) {
	if cfg.Homeserver == "" || cfg.UserID == "" || cfg.AccessToken == "" {
		return nil, errors.New("matrix homeserver, username and access token are required")
	}
	self := id.UserID(cfg.UserID)
	if _, _, err := self.Parse(); err != nil {
		return nil, fmt.Errorf("invalid matrix user id %q: %w", cfg.UserID, err)
	}

	client, err := mautrix.NewClient(cfg.Homeserver, self, cfg.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("create matrix client: %w", err)
	}
	client.DeviceID = id.DeviceID(matrixDeviceID)

	return &Matrix{client: client, self: self}, nil
}

// UserID returns the full Matrix user id, e.g. @calbot:example.com.
func (m *Matrix) UserID() string { return string(m.self) }

// Send renders markdown to HTML and posts it as an m.text message.
func (m *Matrix) Send(ctx context.Context, room, markdown string) error {
	content := format.RenderMarkdown(markdown, true, false)
	if _, err := m.client.SendMessageEvent(ctx, id.RoomID(room), event.EventMessage, &content); err != nil {
		return fmt.Errorf("send matrix message: %w", err)
	}
	return nil
}

// Join joins a room the bot was invited to.
func (m *Matrix) Join(ctx context.Context, room string) error {
	if _, err := m.client.JoinRoomByID(ctx, id.RoomID(room)); err != nil {
		return fmt.Errorf("join matrix room: %w", err)
	}
	return nil
}

// Run syncs until ctx is cancelled. Events from before the first sync are
// skipped so old commands are not answered again after a restart.
func (m *Matrix) Run(ctx context.Context, h Handler) error {
	syncer, ok := m.client.Syncer.(*mautrix.DefaultSyncer)
	if !ok {
		return errors.New("matrix: unexpected syncer type")
	}
	syncer.OnSync(m.client.DontProcessOldEvents)
	syncer.OnEventType(event.EventMessage, func(ctx context.Context, evt *event.Event) {
		if msg, ok := matrixMessage(evt); ok {
			h.HandleMessage(ctx, msg)
		}
	})
	syncer.OnEventType(event.StateMember, func(ctx context.Context, evt *event.Event) {
		if inv, ok := matrixInvitation(evt); ok {
			h.HandleInvitation(ctx, inv)
		}
	})

	appLog.Info("matrix: sync started", "user", m.self, "homeserver", m.client.HomeserverURL.String())
	err := m.client.SyncWithContext(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("matrix sync: %w", err)
	}
	appLog.Info("matrix: sync stopped")
	return nil
}

// matrixMessage converts a text message event. Non-text messages such as
// images and notices are skipped.
func matrixMessage(evt *event.Event) (InboundMessage, bool) {
	content := evt.Content.AsMessage()
	if content == nil || content.MsgType != event.MsgText {
		return InboundMessage{}, false
	}
	return InboundMessage{
		Sender:    string(evt.Sender),
		RoomID:    string(evt.RoomID),
		RoomState: matrixRoomState(evt.Mautrix.EventSource),
		Body:      content.Body,
	}, true
}

// matrixInvitation converts an invite membership event; the target is the
// state key.
func matrixInvitation(evt *event.Event) (InvitationEvent, bool) {
	member := evt.Content.AsMember()
	if member == nil || member.Membership != event.MembershipInvite {
		return InvitationEvent{}, false
	}
	return InvitationEvent{
		TargetUserID: evt.GetStateKey(),
		RoomID:       string(evt.RoomID),
	}, true
}

func matrixRoomState(src event.Source) string {
	switch {
	case src&event.SourceJoin != 0:
		return RoomJoined
	case src&event.SourceInvite != 0:
		return RoomInvited
	default:
		return RoomLeft
	}
}
