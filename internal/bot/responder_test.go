package bot

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"icalbot/internal/clock"
	"icalbot/internal/format"
	"icalbot/internal/ics"
	"icalbot/internal/model"
)

const feedURL = "https://calendar.example.com/team.ics"

var now = time.Date(2025, 12, 3, 0, 0, 0, 0, time.UTC)

type fakeLoader struct {
	body  string
	err   error
	calls int
}

func (f *fakeLoader) Fetch(_ context.Context, location string) ([]byte, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return []byte(f.body), nil
}

func feed(vevents ...string) string {
	var b strings.Builder
	b.WriteString("BEGIN:VCALENDAR\r\nVERSION:2.0\r\nPRODID:-//test//EN\r\n")
	for _, v := range vevents {
		b.WriteString(v)
	}
	b.WriteString("END:VCALENDAR\r\n")
	return b.String()
}

func vevent(uid, summary, start string, extra ...string) string {
	var b strings.Builder
	b.WriteString("BEGIN:VEVENT\r\nUID:" + uid + "\r\nDTSTAMP:20251101T000000Z\r\n")
	if summary != "" {
		b.WriteString("SUMMARY:" + summary + "\r\n")
	}
	b.WriteString("DTSTART:" + start + "\r\n")
	for _, e := range extra {
		b.WriteString(e + "\r\n")
	}
	b.WriteString("END:VEVENT\r\n")
	return b.String()
}

var teamFeed = feed(
	vevent("1", "Retro", "20251201T100000Z"),
	vevent("2", "Planning", "20251205T100000Z", "LOCATION:Room 1"),
	vevent("3", "Demo", "20251210T100000Z", "URL:https://example.com/demo"),
)

func newResponder(l FeedLoader, cfg ResponderConfig) *Responder {
	if cfg.FeedLocation == "" {
		cfg.FeedLocation = feedURL
	}
	cfg.Clock = clock.NewFake(now)
	return NewResponder(l, cfg)
}

func TestRespondNextMeeting(t *testing.T) {
	l := &fakeLoader{body: teamFeed}
	r := newResponder(l, ResponderConfig{})

	got := r.Respond(context.Background(), model.NextMeeting)
	assert.Equal(t, "# Next Meeting/Event\n\n**Planning**\n* Starts: Fri, Dec 05, 2025 at 10:00 AM\n* Location: Room 1\n\n\n", got)
	assert.Equal(t, 1, l.calls)
}

func TestRespondAllUpcoming(t *testing.T) {
	r := newResponder(&fakeLoader{body: teamFeed}, ResponderConfig{
		Formatter: format.Formatter{InfoURL: "https://example.com/info"},
	})

	got := r.Respond(context.Background(), model.AllUpcoming)
	assert.True(t, strings.HasPrefix(got, "# Upcoming Meetings/Events\n\n**Planning**"))
	assert.Contains(t, got, "**[Demo](https://example.com/demo)**")
	assert.NotContains(t, got, "Retro")
	assert.True(t, strings.HasSuffix(got, "\nFor more information: https://example.com/info\n"))
}

func TestRespondNoEvents(t *testing.T) {
	r := newResponder(&fakeLoader{body: feed(vevent("1", "Old", "20240101T000000Z"))}, ResponderConfig{})
	assert.Equal(t, format.NoEventsMessage, r.Respond(context.Background(), model.NextMeeting))
	assert.Equal(t, format.NoEventsMessage, r.Respond(context.Background(), model.AllUpcoming))
}

func TestRespondNoFeed(t *testing.T) {
	l := &fakeLoader{}
	r := NewResponder(l, ResponderConfig{Clock: clock.NewFake(now)})
	assert.Equal(t, "No webcal URL configured", r.Respond(context.Background(), model.NextMeeting))
	assert.Zero(t, l.calls)
}

func TestRespondFetchFailure(t *testing.T) {
	r := newResponder(&fakeLoader{err: &ics.StatusError{StatusCode: 404, Status: "404 Not Found"}}, ResponderConfig{})
	assert.Equal(t, "There was a problem fetching the calendar", r.Respond(context.Background(), model.AllUpcoming))
}

func TestRespondParseFailure(t *testing.T) {
	r := newResponder(&fakeLoader{body: "   "}, ResponderConfig{})
	assert.Equal(t, FeedErrorMessage, r.Respond(context.Background(), model.NextMeeting))
}

func TestRespondFetchesEveryTime(t *testing.T) {
	l := &fakeLoader{body: teamFeed}
	r := newResponder(l, ResponderConfig{})
	r.Respond(context.Background(), model.NextMeeting)
	r.Respond(context.Background(), model.NextMeeting)
	assert.Equal(t, 2, l.calls)
}

func TestUpcoming(t *testing.T) {
	r := newResponder(&fakeLoader{body: teamFeed}, ResponderConfig{})

	got, err := r.Upcoming(context.Background(), 0, "20251206T000000Z")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "20251205T100000Z", got[0].Start)

	got, err = r.Upcoming(context.Background(), 0, "")
	require.NoError(t, err)
	assert.Len(t, got, 2)

	got, err = r.Upcoming(context.Background(), 1, "")
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestUpcomingErrors(t *testing.T) {
	boom := errors.New("dial tcp: refused")
	r := newResponder(&fakeLoader{err: boom}, ResponderConfig{})
	_, err := r.Upcoming(context.Background(), 0, "")
	assert.ErrorIs(t, err, boom)

	r = NewResponder(&fakeLoader{}, ResponderConfig{})
	_, err = r.Upcoming(context.Background(), 0, "")
	assert.ErrorIs(t, err, ErrNoFeed)
}

func TestRespondExpandsRecurrences(t *testing.T) {
	weekly := feed(vevent("w", "Standup", "20251124T090000Z", "RRULE:FREQ=WEEKLY;COUNT=10"))

	r := newResponder(&fakeLoader{body: weekly}, ResponderConfig{ExpandRecurrences: true, Horizon: 14 * 24 * time.Hour})
	got, err := r.Upcoming(context.Background(), 0, "")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "20251208T090000Z", got[0].Start)
	assert.Equal(t, "20251215T090000Z", got[1].Start)

	// Without expansion only the first instance exists, and it is past.
	r = newResponder(&fakeLoader{body: weekly}, ResponderConfig{})
	got, err = r.Upcoming(context.Background(), 0, "")
	require.NoError(t, err)
	assert.Empty(t, got)
}
