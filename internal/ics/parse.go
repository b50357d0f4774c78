package ics

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"

	appLog "github.com/merlokk/lambda.calendar.next.event/internal/log"
)

// ParsedEvent is the normalized representation of a VEVENT as produced by
// the ICS parser. Recurrence expansion operates on this type.
type ParsedEvent struct {
	UID       string
	Title     string
	Location  string
	Organizer string
	Status    string

	Start  time.Time
	End    time.Time
	AllDay bool

	RawRRule string
	ExDates  []time.Time

	// RecurrenceID is the originally scheduled instant of the occurrence
	// this event overrides, if it is an override.
	RecurrenceID *time.Time
}

// IsOverride reports whether the event replaces one occurrence of a
// (possibly absent) recurring master.
func (e ParsedEvent) IsOverride() bool {
	return e.RecurrenceID != nil
}

// ParseICS parses a single ICS payload into a list of ParsedEvent.
//
// Events missing a UID or a start instant are skipped and logged; a payload
// that fails to parse as a whole is fatal to the invocation.
func ParseICS(source string, body []byte) ([]ParsedEvent, error) {
	if len(body) == 0 {
		return nil, errors.New("empty ICS body")
	}

	cal, err := ical.ParseCalendar(bytes.NewReader(body))
	if err != nil {
		appLog.Error("ics parse failed", err, "source", source)
		return nil, fmt.Errorf("parse calendar: %w", err)
	}

	events := make([]ParsedEvent, 0)

	for _, comp := range cal.Events() {
		ev, perr := parseVEvent(comp)
		if perr != nil {
			// Skip this event but keep parsing the rest.
			appLog.Warn("skipping vevent", "source", source, "reason", perr.Error())
			continue
		}
		events = append(events, ev)
	}

	appLog.Info("ics parse completed", "source", source, "event_count", len(events))
	return events, nil
}

func parseVEvent(ve *ical.VEvent) (ParsedEvent, error) {
	var out ParsedEvent

	uidProp := ve.GetProperty(ical.ComponentPropertyUniqueId)
	if uidProp == nil || uidProp.Value == "" {
		return out, errors.New("missing UID")
	}
	out.UID = uidProp.Value

	if p := ve.GetProperty(ical.ComponentPropertySummary); p != nil {
		out.Title = p.Value
	}
	if p := ve.GetProperty(ical.ComponentPropertyLocation); p != nil {
		out.Location = p.Value
	}
	if p := ve.GetProperty(ical.ComponentPropertyOrganizer); p != nil {
		out.Organizer = strings.TrimPrefix(p.Value, "mailto:")
	}
	if p := ve.GetProperty(ical.ComponentPropertyStatus); p != nil {
		out.Status = strings.ToUpper(strings.TrimSpace(p.Value))
	}

	// DTSTART / DTEND via the library's timezone-aware helpers.
	start, _ := ve.GetStartAt()
	end, _ := ve.GetEndAt()
	out.Start = start
	out.End = end

	// Detect all-day: VALUE=DATE or a date-only DTSTART value.
	if dtStartProp := ve.GetProperty(ical.ComponentPropertyDtStart); dtStartProp != nil {
		if params := dtStartProp.ICalParameters; params != nil {
			if vs, ok := params["VALUE"]; ok && len(vs) > 0 && strings.EqualFold(vs[0], "DATE") {
				out.AllDay = true
			}
		}
		if !strings.Contains(dtStartProp.Value, "T") {
			out.AllDay = true
		}
	}

	// RRULE is kept raw; expansion happens in internal/schedule.
	if rruleProp := ve.GetProperty(ical.ComponentPropertyRrule); rruleProp != nil {
		out.RawRRule = rruleProp.Value
	}

	// EXDATE may appear multiple times, each with a comma-separated list.
	for _, p := range ve.GetProperties(ical.ComponentPropertyExdate) {
		loc := paramLocation(p.ICalParameters)
		for _, part := range strings.Split(p.Value, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			if t, err := parsePropertyTime(part, loc); err == nil {
				out.ExDates = append(out.ExDates, t)
			}
		}
	}

	// RECURRENCE-ID marks an override of a single recurring instance.
	if ridProp := ve.GetProperty("RECURRENCE-ID"); ridProp != nil {
		loc := paramLocation(ridProp.ICalParameters)
		if t, err := parsePropertyTime(ridProp.Value, loc); err == nil {
			out.RecurrenceID = &t
		}
	}

	return out, nil
}

// paramLocation resolves the TZID parameter of a property into a
// time.Location, falling back to UTC when absent or unknown.
func paramLocation(params map[string][]string) *time.Location {
	if params == nil {
		return time.UTC
	}
	tzs, ok := params["TZID"]
	if !ok || len(tzs) == 0 {
		return time.UTC
	}
	id := strings.Trim(tzs[0], `"`)
	if loc, err := time.LoadLocation(id); err == nil {
		return loc
	}
	if canonical, ok := resolveLegacyZone(id); ok {
		if loc, err := time.LoadLocation(canonical); err == nil {
			return loc
		}
	}
	return time.UTC
}

// parsePropertyTime parses a basic ICS date/date-time value such as those
// carried by EXDATE and RECURRENCE-ID.
func parsePropertyTime(v string, loc *time.Location) (time.Time, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return time.Time{}, errors.New("empty time value")
	}

	// UTC form, e.g. 20260101T090000Z
	if strings.HasSuffix(v, "Z") {
		return time.Parse("20060102T150405Z", v)
	}

	// Floating or TZID-scoped date-time, e.g. 20260101T090000
	if strings.Contains(v, "T") {
		return time.ParseInLocation("20060102T150405", v, loc)
	}

	// Date-only (all-day), e.g. 20260101
	return time.ParseInLocation("20060102", v, loc)
}
