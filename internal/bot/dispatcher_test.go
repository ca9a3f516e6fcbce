package bot

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"icalbot/internal/filter"
	"icalbot/internal/gateway"
	"icalbot/internal/model"
	"icalbot/internal/scheduler"
	"icalbot/internal/worker"
)

const botID = "@calbot:example.com"

type sentMessage struct{ room, text string }

type fakeSender struct {
	sent []sentMessage
	err  error
}

func (f *fakeSender) Send(_ context.Context, room, text string) error {
	f.sent = append(f.sent, sentMessage{room, text})
	return f.err
}

type fakeJoins struct {
	invs []gateway.InvitationEvent
}

func (f *fakeJoins) HandleInvitation(_ context.Context, inv gateway.InvitationEvent) {
	f.invs = append(f.invs, inv)
}

func newDispatcher(policy filter.Policy) (*Dispatcher, *fakeSender, *fakeJoins, *fakeLoader) {
	l := &fakeLoader{body: teamFeed}
	s := &fakeSender{}
	j := &fakeJoins{}
	d := NewDispatcher(botID, policy, newResponder(l, ResponderConfig{}), s, worker.Inline{}, j)
	return d, s, j, l
}

func message(sender, body string) gateway.InboundMessage {
	return gateway.InboundMessage{Sender: sender, RoomID: "!room:example.com", RoomState: gateway.RoomJoined, Body: body}
}

func TestParseCommand(t *testing.T) {
	tests := []struct {
		body string
		kind model.ReminderKind
		ok   bool
	}{
		{"!meeting", model.NextMeeting, true},
		{"!event", model.NextMeeting, true},
		{"!meetings", model.AllUpcoming, true},
		{"!events", model.AllUpcoming, true},
		{"!meetings please", model.AllUpcoming, true},
		{"!meeting tomorrow", model.NextMeeting, true},
		{"!eventsabc", model.AllUpcoming, true},
		{"!Meeting", 0, false},
		{" !meeting", 0, false},
		{"hello", 0, false},
		{"", 0, false},
	}
	for _, tt := range tests {
		kind, ok := ParseCommand(tt.body)
		assert.Equal(t, tt.ok, ok, tt.body)
		if tt.ok {
			assert.Equal(t, tt.kind, kind, tt.body)
		}
	}
}

func TestHandleMessageReplies(t *testing.T) {
	d, s, _, _ := newDispatcher(filter.NewPolicy(true, false, nil))

	d.HandleMessage(context.Background(), message("@alice:example.com", "!meeting"))
	require.Len(t, s.sent, 1)
	assert.Equal(t, "!room:example.com", s.sent[0].room)
	assert.Contains(t, s.sent[0].text, "# Next Meeting/Event")

	d.HandleMessage(context.Background(), message("@alice:example.com", "!events"))
	require.Len(t, s.sent, 2)
	assert.Contains(t, s.sent[1].text, "# Upcoming Meetings/Events")
}

type gatedLoader struct {
	gate  chan struct{}
	calls atomic.Int32
}

func (g *gatedLoader) Fetch(ctx context.Context, _ string) ([]byte, error) {
	g.calls.Add(1)
	select {
	case <-g.gate:
		return []byte(teamFeed), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func TestHandleMessageDoesNotWaitForBusyWorkers(t *testing.T) {
	l := &gatedLoader{gate: make(chan struct{})}
	s := &fakeSender{}
	pool := worker.New(context.Background(), 1)
	d := NewDispatcher(botID, filter.Policy{}, newResponder(l, ResponderConfig{}), s, pool, &fakeJoins{})

	d.HandleMessage(context.Background(), message("@alice:example.com", "!meeting"))
	require.Eventually(t, func() bool { return l.calls.Load() == 1 }, time.Second, time.Millisecond)

	returned := make(chan struct{})
	go func() {
		d.HandleMessage(context.Background(), message("@bob:example.com", "!meetings"))
		close(returned)
	}()
	select {
	case <-returned:
	case <-time.After(time.Second):
		close(l.gate)
		t.Fatal("HandleMessage blocked behind a slow feed fetch")
	}

	close(l.gate)
	pool.Close()
	require.Len(t, s.sent, 2)
	assert.Contains(t, s.sent[0].text, "# Next Meeting/Event")
	assert.Contains(t, s.sent[1].text, "# Upcoming Meetings/Events")
}

func TestHandleMessageDrops(t *testing.T) {
	d, s, _, l := newDispatcher(filter.NewPolicy(true, true, []string{"@muted:example.com"}))

	d.HandleMessage(context.Background(), message(botID, "!meeting"))
	d.HandleMessage(context.Background(), message("@muted:example.com", "!meeting"))
	d.HandleMessage(context.Background(), message("@Spam-Bot:x", "!meeting"))
	d.HandleMessage(context.Background(), message("@alice:example.com", "good morning"))

	invited := message("@alice:example.com", "!meeting")
	invited.RoomState = gateway.RoomInvited
	d.HandleMessage(context.Background(), invited)

	assert.Empty(t, s.sent)
	assert.Zero(t, l.calls)
}

func TestHandleMessageSendFailureIsLogged(t *testing.T) {
	d, s, _, _ := newDispatcher(filter.Policy{})
	s.err = errors.New("M_FORBIDDEN")
	assert.NotPanics(t, func() {
		d.HandleMessage(context.Background(), message("@alice:example.com", "!meeting"))
	})
	assert.Len(t, s.sent, 1)
}

func TestHandleInvitationDelegates(t *testing.T) {
	d, _, j, _ := newDispatcher(filter.Policy{})
	inv := gateway.InvitationEvent{TargetUserID: botID, RoomID: "!new:example.com"}
	d.HandleInvitation(context.Background(), inv)
	assert.Equal(t, []gateway.InvitationEvent{inv}, j.invs)
}

func TestFireReminder(t *testing.T) {
	d, s, _, _ := newDispatcher(filter.Policy{})

	d.FireReminder(context.Background(), scheduler.Firing{
		ID:        "f-1",
		Job:       model.ReminderJob{Schedule: "0 9 * * *", Kind: model.AllUpcoming, Room: "!reminders:example.com"},
		Scheduled: time.Date(2025, 12, 3, 9, 0, 0, 0, time.UTC),
	})
	require.Len(t, s.sent, 1)
	assert.Equal(t, "!reminders:example.com", s.sent[0].room)
	assert.Contains(t, s.sent[0].text, "**Planning**")
	assert.Contains(t, s.sent[0].text, "**[Demo](https://example.com/demo)**")
}
