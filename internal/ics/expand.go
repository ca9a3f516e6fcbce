package ics

import (
	"errors"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"
	"github.com/teambition/rrule-go"

	appLog "icalbot/internal/log"
	"icalbot/internal/model"
)

const (
	defaultMaxOccurrencesPerEvent = 500
	allDayLayout                  = "20060102"
)

// ExpandConfig controls recurrence expansion.
type ExpandConfig struct {
	// RangeStart / RangeEnd define the inclusive window for generated
	// occurrences.
	RangeStart time.Time
	RangeEnd   time.Time

	// MaxOccurrencesPerEvent caps a single RRULE. Zero means
	// defaultMaxOccurrencesPerEvent.
	MaxOccurrencesPerEvent int
}

// ParseExpandedRecords is ParseRecords with RRULE expansion: every
// recurring VEVENT is replaced by one Record per occurrence inside the
// configured window. Generated DTSTART/DTEND values are canonical UTC
// (date-only for all-day events). Non-recurring VEVENTs, including
// RECURRENCE-ID overrides, are returned verbatim.
func ParseExpandedRecords(body []byte, cfg ExpandConfig) ([]Record, error) {
	if cfg.RangeEnd.Before(cfg.RangeStart) {
		return nil, errors.New("expand: RangeEnd is before RangeStart")
	}
	if cfg.MaxOccurrencesPerEvent <= 0 {
		cfg.MaxOccurrencesPerEvent = defaultMaxOccurrencesPerEvent
	}

	cal, err := parseCalendar(body)
	if err != nil {
		return nil, err
	}

	events := cal.Events()

	// RECURRENCE-ID instants per UID; generated occurrences at these
	// instants are superseded by the override VEVENT itself.
	overrides := make(map[string][]time.Time)
	for _, ve := range events {
		rid := ve.GetProperty("RECURRENCE-ID")
		uid := ve.GetProperty(ical.ComponentPropertyUniqueId)
		if rid == nil || uid == nil {
			continue
		}
		if t, err := parseICSTime(rid.Value); err == nil {
			overrides[uid.Value] = append(overrides[uid.Value], t)
		}
	}

	records := make([]Record, 0, len(events))
	for _, ve := range events {
		base := make(Record, len(ve.Properties))
		for _, p := range ve.Properties {
			base[strings.ToUpper(p.IANAToken)] = p.Value
		}

		if base.Get("RRULE") == "" || base.Get("RECURRENCE-ID") != "" {
			records = append(records, base)
			continue
		}

		occ, err := expandVEvent(ve, base, overrides[base.Get("UID")], cfg)
		if err != nil {
			// Keep the unexpanded VEVENT so it is still visible.
			appLog.Error("expand: recurrence skipped", err, "uid", base.Get("UID"), "rrule", base.Get("RRULE"))
			records = append(records, base)
			continue
		}
		records = append(records, occ...)
	}

	appLog.Debug("ics expand completed", "vevents", len(events), "records", len(records))
	return records, nil
}

func expandVEvent(ve *ical.VEvent, base Record, overridden []time.Time, cfg ExpandConfig) ([]Record, error) {
	start, err := ve.GetStartAt()
	if err != nil {
		return nil, err
	}
	end, endErr := ve.GetEndAt()
	hasEnd := endErr == nil && !end.IsZero()
	allDay := !strings.Contains(base.Get("DTSTART"), "T")

	r, err := rrule.StrToRRule(base.Get("RRULE"))
	if err != nil {
		return nil, err
	}
	r.DTStart(start)

	var set rrule.Set
	set.RRule(r)
	for _, p := range ve.GetProperties(ical.ComponentPropertyExdate) {
		for _, part := range strings.Split(p.Value, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			if t, err := parseICSTime(part); err == nil {
				set.ExDate(t.In(start.Location()))
			}
		}
	}

	times := set.Between(cfg.RangeStart.In(start.Location()), cfg.RangeEnd.In(start.Location()), true)
	if len(times) > cfg.MaxOccurrencesPerEvent {
		appLog.Error("expand: truncated occurrences for UID due to cap",
			errors.New("max occurrences reached"),
			"uid", base.Get("UID"),
			"cap", cfg.MaxOccurrencesPerEvent,
		)
		times = times[:cfg.MaxOccurrencesPerEvent]
	}

	dur := end.Sub(start)
	out := make([]Record, 0, len(times))
	for _, occStart := range times {
		if isOverridden(occStart, overridden) {
			continue
		}
		rec := make(Record, len(base))
		for k, v := range base {
			rec[k] = v
		}
		delete(rec, "RRULE")
		delete(rec, "EXDATE")
		rec["DTSTART"] = renderInstant(occStart, allDay)
		if hasEnd {
			rec["DTEND"] = renderInstant(occStart.Add(dur), allDay)
		}
		out = append(out, rec)
	}
	return out, nil
}

func isOverridden(t time.Time, overridden []time.Time) bool {
	for _, o := range overridden {
		if o.Equal(t) {
			return true
		}
	}
	return false
}

func renderInstant(t time.Time, allDay bool) string {
	if allDay {
		return t.Format(allDayLayout)
	}
	return model.Canonical(t)
}

// parseICSTime parses a bare ICS date/date-time string (EXDATE,
// RECURRENCE-ID) without parameter context.
func parseICSTime(v string) (time.Time, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return time.Time{}, errors.New("empty time value")
	}

	// UTC form, e.g., 20250101T090000Z
	if strings.HasSuffix(v, "Z") {
		return time.Parse(model.CanonicalLayout, v)
	}

	// Local date-time, e.g., 20250101T090000
	if strings.Contains(v, "T") {
		const layout = "20060102T150405"
		return time.ParseInLocation(layout, v, time.Local)
	}

	// Date-only (all-day), e.g., 20250101
	return time.ParseInLocation(allDayLayout, v, time.Local)
}
