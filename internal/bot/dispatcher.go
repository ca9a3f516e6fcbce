package bot

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"icalbot/internal/filter"
	"icalbot/internal/gateway"
	appLog "icalbot/internal/log"
	"icalbot/internal/model"
	"icalbot/internal/scheduler"
	"icalbot/internal/worker"
)

// Sender delivers text to a room; *dispatch.Engine implements it.
type Sender interface {
	Send(ctx context.Context, room, text string) error
}

// InvitationHandler reacts to room invitations; *membership.Manager
// implements it.
type InvitationHandler interface {
	HandleInvitation(ctx context.Context, inv gateway.InvitationEvent)
}

// ParseCommand maps a message body to the query it asks for. Matching is
// by prefix and case-sensitive; the plural forms are checked first so
// "!meetings" is not taken for "!meeting".
func ParseCommand(body string) (model.ReminderKind, bool) {
	switch {
	case strings.HasPrefix(body, "!meetings"), strings.HasPrefix(body, "!events"):
		return model.AllUpcoming, true
	case strings.HasPrefix(body, "!meeting"), strings.HasPrefix(body, "!event"):
		return model.NextMeeting, true
	default:
		return 0, false
	}
}

// Dispatcher is the gateway.Handler for the bot.
type Dispatcher struct {
	self      string
	policy    filter.Policy
	responder *Responder
	sender    Sender
	pool      worker.Submitter
	joins     InvitationHandler
}

// NewDispatcher wires a Dispatcher. self is the bot's own user id.
func NewDispatcher(self string, policy filter.Policy, r *Responder, s Sender, pool worker.Submitter, joins InvitationHandler) *Dispatcher {
	return &Dispatcher{
		self:      self,
		policy:    policy,
		responder: r,
		sender:    s,
		pool:      pool,
		joins:     joins,
	}
}

// HandleMessage answers a command in a joined room. The reply is built and
// sent on the worker pool.
func (d *Dispatcher) HandleMessage(_ context.Context, msg gateway.InboundMessage) {
	if msg.RoomState != gateway.RoomJoined {
		return
	}
	if d.policy.ShouldIgnore(msg.Sender, d.self) {
		appLog.Debug("dispatcher: ignoring message", "sender", msg.Sender, "room", msg.RoomID)
		return
	}
	kind, ok := ParseCommand(msg.Body)
	if !ok {
		return
	}

	reqID := uuid.NewString()
	appLog.Info("dispatcher: command received",
		"request_id", reqID,
		"sender", msg.Sender,
		"room", msg.RoomID,
		"type", kind.String(),
	)

	d.pool.Submit("command "+reqID, func(ctx context.Context) {
		text := d.responder.Respond(ctx, kind)
		if err := d.sender.Send(ctx, msg.RoomID, text); err != nil {
			appLog.Error("dispatcher: reply not delivered", err, "request_id", reqID)
		}
	})
}

// HandleInvitation passes the invitation to the membership manager.
func (d *Dispatcher) HandleInvitation(ctx context.Context, inv gateway.InvitationEvent) {
	d.joins.HandleInvitation(ctx, inv)
}

// FireReminder is the scheduler's FireFunc: it builds the reminder text
// and posts it to the job's room. It runs on the worker pool already.
func (d *Dispatcher) FireReminder(ctx context.Context, f scheduler.Firing) {
	text := d.responder.Respond(ctx, f.Job.Kind)
	if err := d.sender.Send(ctx, f.Job.Room, text); err != nil {
		appLog.Error("dispatcher: reminder not delivered", err, "firing_id", f.ID)
	}
}

var _ gateway.Handler = (*Dispatcher)(nil)
