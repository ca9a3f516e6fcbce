// Package format renders calendar events as chat-ready markdown.
package format

import (
	"strings"
	"time"

	"icalbot/internal/model"
)

const (
	// NoEventsMessage is the reply when a query matched nothing.
	NoEventsMessage = "No upcoming events found."

	singleHeading   = "# Next Meeting/Event\n\n"
	multipleHeading = "# Upcoming Meetings/Events\n\n"
	untitled        = "(untitled)"

	dateTimeOut = "Mon, Jan 02, 2006 at 03:04 PM"
	dateOut     = "Mon, Jan 02, 2006"
)

// Formatter turns query results into message text.
type Formatter struct {
	// InfoURL, when set, is appended as a trailing "For more information" line.
	InfoURL string
	// Location is the display timezone for UTC timestamps. Nil means UTC.
	Location *time.Location
}

// Single renders the next event. A nil event yields NoEventsMessage.
func (f Formatter) Single(ev *model.CalendarEvent) string {
	if ev == nil {
		return NoEventsMessage
	}
	var b strings.Builder
	b.WriteString(singleHeading)
	f.writeEvent(&b, *ev)
	f.writeFooter(&b)
	return b.String()
}

// Multiple renders every event in order. An empty slice yields
// NoEventsMessage.
func (f Formatter) Multiple(evs []model.CalendarEvent) string {
	if len(evs) == 0 {
		return NoEventsMessage
	}
	var b strings.Builder
	b.WriteString(multipleHeading)
	for _, ev := range evs {
		f.writeEvent(&b, ev)
	}
	f.writeFooter(&b)
	return b.String()
}

func (f Formatter) writeEvent(b *strings.Builder, ev model.CalendarEvent) {
	summary := ev.Summary
	// Untitled events stay in the listing.
	if summary == "" {
		summary = untitled
	}
	if ev.URL != "" {
		b.WriteString("**[" + summary + "](" + ev.URL + ")**\n")
	} else {
		b.WriteString("**" + summary + "**\n")
	}
	if ev.Start != "" {
		b.WriteString("* Starts: " + f.HumanTime(ev.Start) + "\n")
	}
	if ev.End != "" {
		b.WriteString("* Ends: " + f.HumanTime(ev.End) + "\n")
	}
	if ev.Location != "" {
		b.WriteString("* Location: " + ev.Location + "\n")
	}
	b.WriteString("\n\n")
}

func (f Formatter) writeFooter(b *strings.Builder) {
	if f.InfoURL != "" {
		b.WriteString("\nFor more information: " + f.InfoURL + "\n")
	}
}

// HumanTime renders an ICS timestamp for people. UTC values are shown in
// the formatter's Location, with the zone abbreviation appended when that
// is not UTC. Floating and date-only values are shown as written. Anything
// unparseable comes back unchanged.
func (f Formatter) HumanTime(v string) string {
	if t, err := time.Parse(model.CanonicalLayout, v); err == nil {
		if f.Location == nil || f.Location == time.UTC {
			return t.Format(dateTimeOut)
		}
		return t.In(f.Location).Format(dateTimeOut + " MST")
	}
	if t, err := time.Parse("20060102T150405", v); err == nil {
		return t.Format(dateTimeOut)
	}
	if t, err := time.Parse("20060102", v); err == nil {
		return t.Format(dateOut)
	}
	return v
}
