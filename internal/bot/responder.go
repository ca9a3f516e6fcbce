// Package bot ties the calendar pipeline to chat: it answers commands,
// performs reminder firings and hands invitations to the membership
// manager.
package bot

import (
	"context"
	"errors"
	"fmt"
	"time"

	"icalbot/internal/clock"
	"icalbot/internal/events"
	"icalbot/internal/format"
	"icalbot/internal/ics"
	appLog "icalbot/internal/log"
	"icalbot/internal/model"
)

// Fixed replies for feed problems.
const (
	NoFeedMessage    = "No webcal URL configured"
	FeedErrorMessage = "There was a problem fetching the calendar"
)

// ErrNoFeed is returned when no feed location is configured.
var ErrNoFeed = errors.New("no webcal URL configured")

// FeedLoader fetches raw feed bytes; *ics.Loader implements it.
type FeedLoader interface {
	Fetch(ctx context.Context, location string) ([]byte, error)
}

// ResponderConfig configures a Responder.
type ResponderConfig struct {
	FeedLocation string
	Formatter    format.Formatter
	// ExpandRecurrences turns RRULE events into individual occurrences
	// between now and now+Horizon.
	ExpandRecurrences bool
	Horizon           time.Duration
	Clock             clock.Clock
}

// Responder answers queries against the feed. Every call fetches the
// feed again; nothing is cached.
type Responder struct {
	loader FeedLoader
	cfg    ResponderConfig
}

// NewResponder returns a Responder reading through loader.
func NewResponder(loader FeedLoader, cfg ResponderConfig) *Responder {
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	if cfg.Horizon <= 0 {
		cfg.Horizon = 60 * 24 * time.Hour
	}
	return &Responder{loader: loader, cfg: cfg}
}

// Formatter returns the formatter replies are rendered with.
func (r *Responder) Formatter() format.Formatter {
	return r.cfg.Formatter
}

// Respond produces the chat reply for kind. It never fails: feed problems
// become apology text.
func (r *Responder) Respond(ctx context.Context, kind model.ReminderKind) string {
	var limit int
	if kind == model.NextMeeting {
		limit = 1
	}

	evts, err := r.Upcoming(ctx, limit, "")
	switch {
	case errors.Is(err, ErrNoFeed):
		return NoFeedMessage
	case err != nil:
		appLog.Error("responder: calendar unavailable", err, "feed", ics.RedactURL(r.cfg.FeedLocation))
		return FeedErrorMessage
	}

	if kind == model.NextMeeting {
		if len(evts) == 0 {
			return r.cfg.Formatter.Single(nil)
		}
		return r.cfg.Formatter.Single(&evts[0])
	}
	return r.cfg.Formatter.Multiple(evts)
}

// Upcoming returns events starting after now, earliest first. limit <= 0
// means no limit; an empty maxTime means no upper bound.
func (r *Responder) Upcoming(ctx context.Context, limit int, maxTime string) ([]model.CalendarEvent, error) {
	now := r.cfg.Clock.Now()
	all, err := r.Events(ctx, now)
	if err != nil {
		return nil, err
	}

	var opts []events.Option
	if maxTime != "" {
		opts = append(opts, events.WithMaxTime(maxTime))
	}
	if limit > 0 {
		opts = append(opts, events.WithLimit(limit))
	}
	return events.Upcoming(all, model.Canonical(now), opts...), nil
}

// Events fetches and parses the feed. now anchors the recurrence window
// when expansion is enabled.
func (r *Responder) Events(ctx context.Context, now time.Time) ([]model.CalendarEvent, error) {
	if r.cfg.FeedLocation == "" {
		return nil, ErrNoFeed
	}

	body, err := r.loader.Fetch(ctx, r.cfg.FeedLocation)
	if err != nil {
		return nil, fmt.Errorf("fetch calendar: %w", err)
	}

	var records []ics.Record
	if r.cfg.ExpandRecurrences {
		records, err = ics.ParseExpandedRecords(body, ics.ExpandConfig{
			RangeStart: now,
			RangeEnd:   now.Add(r.cfg.Horizon),
		})
	} else {
		records, err = ics.ParseRecords(body)
	}
	if err != nil {
		return nil, fmt.Errorf("parse calendar: %w", err)
	}
	return events.FromRecords(records), nil
}
