// Package events turns parsed feed records into CalendarEvents and answers
// "what's upcoming" questions over them.
package events

import (
	"icalbot/internal/ics"
	"icalbot/internal/model"
)

// FromRecords maps feed records onto CalendarEvents, one per record, in
// feed order. Unknown properties are dropped.
func FromRecords(records []ics.Record) []model.CalendarEvent {
	out := make([]model.CalendarEvent, 0, len(records))
	for _, r := range records {
		out = append(out, model.CalendarEvent{
			Summary:     r.Get("SUMMARY"),
			Description: r.Get("DESCRIPTION"),
			Start:       r.Get("DTSTART"),
			End:         r.Get("DTEND"),
			Location:    r.Get("LOCATION"),
			URL:         r.Get("URL"),
		})
	}
	return out
}
