package events

import (
	"slices"
	"strings"

	"icalbot/internal/model"
)

type queryOptions struct {
	maxTime  string
	limit    int
	hasLimit bool
}

// Option narrows an Upcoming query.
type Option func(*queryOptions)

// WithMaxTime keeps only events starting at or before maxTime (inclusive).
func WithMaxTime(maxTime string) Option {
	return func(o *queryOptions) { o.maxTime = maxTime }
}

// WithLimit keeps at most n of the earliest matching events. n <= 0 yields
// an empty result.
func WithLimit(n int) Option {
	return func(o *queryOptions) {
		o.limit = n
		o.hasLimit = true
	}
}

// Upcoming returns the events that start strictly after reference, ordered
// by start time, optionally bounded by WithMaxTime and WithLimit.
//
// All comparisons are plain string comparisons on canonical timestamps;
// no parsing or timezone conversion happens here. Events without a start
// are never included. The input slice is not modified.
func Upcoming(evts []model.CalendarEvent, reference string, opts ...Option) []model.CalendarEvent {
	var o queryOptions
	for _, opt := range opts {
		opt(&o)
	}

	out := make([]model.CalendarEvent, 0, len(evts))
	for _, ev := range evts {
		if ev.Start == "" || ev.Start <= reference {
			continue
		}
		if o.maxTime != "" && ev.Start > o.maxTime {
			continue
		}
		out = append(out, ev)
	}

	slices.SortStableFunc(out, compareStart)

	if o.hasLimit {
		n := max(o.limit, 0)
		if len(out) > n {
			out = out[:n]
		}
	}
	return out
}

// compareStart orders by Start ascending; an event without a start sorts
// after every event that has one.
func compareStart(a, b model.CalendarEvent) int {
	switch {
	case a.Start == "" && b.Start == "":
		return 0
	case a.Start == "":
		return 1
	case b.Start == "":
		return -1
	default:
		return strings.Compare(a.Start, b.Start)
	}
}
