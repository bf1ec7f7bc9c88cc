package ics

import (
	"bytes"
	"errors"
	"strings"

	ical "github.com/arran4/golang-ical"

	appLog "calnotify/internal/log"
	"calnotify/internal/model"
)

// knownProps are VEVENT properties consumed by the parser itself (or
// irrelevant to recurrence); everything else lands in Event.Props as a
// raw extension property. RRULE/EXRULE arrive that way.
var knownProps = map[string]struct{}{
	"UID": {}, "SUMMARY": {}, "DESCRIPTION": {}, "LOCATION": {},
	"DTSTART": {}, "DTEND": {}, "DTSTAMP": {}, "DURATION": {},
	"SEQUENCE": {}, "CREATED": {}, "LAST-MODIFIED": {}, "STATUS": {},
	"TRANSP": {}, "CLASS": {}, "ORGANIZER": {}, "ATTENDEE": {},
	"URL": {}, "CATEGORIES": {}, "GEO": {}, "PRIORITY": {},
}

// Parse parses a single ICS payload into a list of model.Event.
//
// It relies on the underlying library's VTIMEZONE/TZID handling to
// construct proper time.Time values. A VEVENT that cannot be parsed is
// logged and skipped; the remaining events are still returned.
func Parse(body []byte) ([]model.Event, error) {
	if len(body) == 0 {
		return nil, errors.New("empty ICS body")
	}

	cal, err := ical.ParseCalendar(bytes.NewReader(body))
	if err != nil {
		return nil, err
	}

	events := make([]model.Event, 0)

	for _, ve := range cal.Events() {
		ev, perr := parseVEvent(ve)
		if perr != nil {
			appLog.Error("ics vevent parse failed", perr)
			continue
		}
		events = append(events, ev)
	}

	appLog.Info("ics parse completed", "event_count", len(events))
	return events, nil
}

func parseVEvent(ve *ical.VEvent) (model.Event, error) {
	var out model.Event

	// SUMMARY is the event name and part of every dedup identity, so
	// an event without one is rejected.
	sum := ve.GetProperty(ical.ComponentPropertySummary)
	if sum == nil || sum.Value == "" {
		return out, errors.New("missing SUMMARY")
	}
	out.Name = sum.Value

	if p := ve.GetProperty(ical.ComponentPropertyLocation); p != nil {
		out.Location = p.Value
	}

	start, err := ve.GetStartAt()
	if err != nil {
		return out, errors.New("missing or unparsable DTSTART")
	}
	out.Start = start

	// Duration comes from DTEND when present; an event without one is
	// instantaneous (active only at its exact start).
	if end, err := ve.GetEndAt(); err == nil && end.After(start) {
		out.Duration = end.Sub(start)
	}

	out.Props = extensionProps(ve)
	return out, nil
}

// extensionProps collects the properties the parser does not itself
// consume, keyed by IANA token. Later keys overwrite earlier ones;
// RRULE and EXRULE appear at most once in well-formed input.
func extensionProps(ve *ical.VEvent) map[string]string {
	props := make(map[string]string)
	for _, p := range ve.Properties {
		token := strings.ToUpper(p.IANAToken)
		if _, skip := knownProps[token]; skip {
			continue
		}
		props[token] = p.Value
	}
	return props
}
