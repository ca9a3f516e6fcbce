package ics

import (
	"bytes"
	"errors"
	"fmt"
	"strings"

	ical "github.com/arran4/golang-ical"

	appLog "icalbot/internal/log"
)

var (
	// ErrEmptyFeed is returned when a feed body has no content at all.
	ErrEmptyFeed = errors.New("empty ICS body")
	// ErrTruncatedFeed is returned when a feed body does not end with
	// END:VCALENDAR, e.g. after a cut-off download.
	ErrTruncatedFeed = errors.New("truncated ICS body: missing END:VCALENDAR")
)

const calendarEnd = "END:VCALENDAR"

// Record is the flat property view of a single VEVENT: property name
// (upper case, parameters dropped) to raw value. When a property appears
// more than once the last occurrence wins.
type Record map[string]string

// Get returns the value of the named property, or "" if it is absent.
func (r Record) Get(name string) string {
	return r[strings.ToUpper(name)]
}

// ParseRecords parses an ICS payload into one Record per VEVENT.
//
// Values are kept verbatim: DTSTART;TZID=Europe/Berlin:20251203T100000
// yields "20251203T100000" with no timezone conversion.
func ParseRecords(body []byte) ([]Record, error) {
	cal, err := parseCalendar(body)
	if err != nil {
		return nil, err
	}

	events := cal.Events()
	records := make([]Record, 0, len(events))
	for _, ve := range events {
		rec := make(Record, len(ve.Properties))
		for _, p := range ve.Properties {
			rec[strings.ToUpper(p.IANAToken)] = p.Value
		}
		records = append(records, rec)
	}

	appLog.Debug("ics parse completed", "event_count", len(records))
	return records, nil
}

func parseCalendar(body []byte) (*ical.Calendar, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return nil, ErrEmptyFeed
	}
	if len(trimmed) < len(calendarEnd) ||
		!bytes.EqualFold(trimmed[len(trimmed)-len(calendarEnd):], []byte(calendarEnd)) {
		return nil, ErrTruncatedFeed
	}
	cal, err := ical.ParseCalendar(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse ics: %w", err)
	}
	return cal, nil
}
