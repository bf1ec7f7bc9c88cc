package model

import (
	"time"

	"github.com/samber/mo"
)

// Extension property names carried in Event.Props.
const (
	PropRRule  = "RRULE"
	PropExRule = "EXRULE"
)

// Event is a calendar event as delivered by the ICS layer, before
// recurrence expansion. Props is the raw bag of extension properties
// (RRULE, EXRULE, X-*); it is narrowed into a RecurrenceSpec right at
// the start of expansion and does not travel further.
type Event struct {
	Name     string
	Location string

	// Start is the rule anchor (DTSTART) in the event's own timezone.
	Start    time.Time
	Duration time.Duration

	Props map[string]string
}

// RecurrenceSpec is the typed view of an Event's recurrence properties.
type RecurrenceSpec struct {
	Anchor    time.Time
	Rule      string
	Exclusion mo.Option[string]
}

// Recurrence extracts the RecurrenceSpec from the event's property bag.
// The second return is false when the event has no RRULE; such an event
// has no occurrences.
func (e Event) Recurrence() (RecurrenceSpec, bool) {
	rule, ok := e.Props[PropRRule]
	if !ok || rule == "" {
		return RecurrenceSpec{}, false
	}
	spec := RecurrenceSpec{
		Anchor:    e.Start,
		Rule:      rule,
		Exclusion: mo.None[string](),
	}
	if ex, ok := e.Props[PropExRule]; ok && ex != "" {
		spec.Exclusion = mo.Some(ex)
	}
	return spec, true
}

// Occurrence is one concrete realization of a recurring event. It lives
// only within a single evaluation pass and is never persisted directly;
// only its Identity reaches the ledger.
type Occurrence struct {
	EventName string
	Location  string

	Start    time.Time
	Duration time.Duration
}

// End returns the instant the occurrence stops being active.
func (o Occurrence) End() time.Time {
	return o.Start.Add(o.Duration)
}

// Identity is the dedup key recorded in the processed ledger. It is
// date-granular on purpose: at most one notification per event per
// calendar day, regardless of how many same-day occurrences the rule
// produces.
func (o Occurrence) Identity() string {
	return o.EventName + "_" + o.Start.Format("2006-01-02")
}
