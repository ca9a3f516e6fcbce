package model

import (
	"fmt"
	"strings"
)

// CalendarEvent is one VEVENT as consumed by queries and formatting.
// Every field is optional; the empty string means the property was absent.
//
// Start and End carry the feed's own text timestamps. Ordering relies on
// them being canonical UTC (YYYYMMDDTHHMMSSZ); floating or TZID-local
// values are passed through as-is and may sort incorrectly.
type CalendarEvent struct {
	Summary     string `json:"summary,omitempty"`
	Description string `json:"description,omitempty"`
	Start       string `json:"start,omitempty"`
	End         string `json:"end,omitempty"`
	Location    string `json:"location,omitempty"`
	URL         string `json:"url,omitempty"`
}

// ReminderKind selects what a reminder posts.
type ReminderKind int

const (
	// NextMeeting posts the single next upcoming event.
	NextMeeting ReminderKind = iota
	// AllUpcoming posts every upcoming event.
	AllUpcoming
)

func (k ReminderKind) String() string {
	switch k {
	case NextMeeting:
		return "NextMeeting"
	case AllUpcoming:
		return "AllUpcomingMeetings"
	default:
		return fmt.Sprintf("ReminderKind(%d)", int(k))
	}
}

// ParseReminderKind accepts the config spellings of a reminder type.
func ParseReminderKind(s string) (ReminderKind, error) {
	switch strings.TrimSpace(s) {
	case "NextMeeting":
		return NextMeeting, nil
	case "AllUpcomingMeetings", "AllUpcoming":
		return AllUpcoming, nil
	default:
		return 0, fmt.Errorf("invalid reminder_type: %q", s)
	}
}

// MarshalText renders the kind in its config spelling.
func (k ReminderKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// ReminderJob is one configured reminder. It is built once at startup and
// never mutated.
type ReminderJob struct {
	Schedule string       `json:"schedule"`
	Kind     ReminderKind `json:"kind"`
	Room     string       `json:"room"`
}
