package ics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseExpandedRecords(t *testing.T) {
	body := calendar(
		"BEGIN:VEVENT",
		"UID:weekly@example.com",
		"DTSTART:20251201T100000Z",
		"DTEND:20251201T110000Z",
		"RRULE:FREQ=WEEKLY;COUNT=4",
		"EXDATE:20251215T100000Z",
		"SUMMARY:Standup",
		"END:VEVENT",
		"BEGIN:VEVENT",
		"UID:weekly@example.com",
		"RECURRENCE-ID:20251208T100000Z",
		"DTSTART:20251208T130000Z",
		"DTEND:20251208T140000Z",
		"SUMMARY:Standup (moved)",
		"END:VEVENT",
		"BEGIN:VEVENT",
		"UID:single@example.com",
		"DTSTART:20251203T090000Z",
		"SUMMARY:One-off",
		"END:VEVENT",
	)

	records, err := ParseExpandedRecords(body, ExpandConfig{
		RangeStart: time.Date(2025, 11, 1, 0, 0, 0, 0, time.UTC),
		RangeEnd:   time.Date(2026, 1, 31, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)

	var starts []string
	for _, r := range records {
		starts = append(starts, r.Get("SUMMARY")+"@"+r.Get("DTSTART"))
		assert.Empty(t, r.Get("RRULE"))
	}
	assert.ElementsMatch(t, []string{
		"Standup@20251201T100000Z",
		"Standup@20251222T100000Z",
		"Standup (moved)@20251208T130000Z",
		"One-off@20251203T090000Z",
	}, starts)

	for _, r := range records {
		if r.Get("DTSTART") == "20251222T100000Z" {
			assert.Equal(t, "20251222T110000Z", r.Get("DTEND"))
		}
	}
}

func TestParseExpandedRecordsWindow(t *testing.T) {
	body := calendar(
		"BEGIN:VEVENT",
		"UID:daily@example.com",
		"DTSTART:20251201T080000Z",
		"RRULE:FREQ=DAILY",
		"SUMMARY:Daily",
		"END:VEVENT",
	)

	records, err := ParseExpandedRecords(body, ExpandConfig{
		RangeStart:             time.Date(2025, 12, 10, 0, 0, 0, 0, time.UTC),
		RangeEnd:               time.Date(2025, 12, 20, 0, 0, 0, 0, time.UTC),
		MaxOccurrencesPerEvent: 3,
	})
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, "20251210T080000Z", records[0].Get("DTSTART"))
	assert.Equal(t, "20251212T080000Z", records[2].Get("DTSTART"))
}

func TestParseExpandedRecordsRejectsInvertedRange(t *testing.T) {
	_, err := ParseExpandedRecords(calendar(), ExpandConfig{
		RangeStart: time.Date(2025, 12, 20, 0, 0, 0, 0, time.UTC),
		RangeEnd:   time.Date(2025, 12, 10, 0, 0, 0, 0, time.UTC),
	})
	assert.Error(t, err)
}
