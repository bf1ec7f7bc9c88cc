package recur

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/samber/mo"
	"github.com/teambition/rrule-go"

	appLog "calnotify/internal/log"
	"calnotify/internal/model"
)

// maxOccurrencesPerEvent is a safety cap to avoid extremely large
// expansions from pathological rules.
const maxOccurrencesPerEvent = 5000

// ErrInvalidRule marks a recurrence or exclusion rule string that does
// not parse. Callers match it with errors.Is.
var ErrInvalidRule = errors.New("invalid recurrence rule")

// Expand returns every instant generated by the rule anchored at
// anchor that falls within [from, to], inclusive on both ends, in
// ascending order with no duplicates. The window is evaluated in the
// anchor's timezone.
func Expand(rule string, anchor, from, to time.Time) ([]time.Time, error) {
	if to.Before(from) {
		return nil, errors.New("expand: window end is before window start")
	}

	r, err := rrule.StrToRRule(rule)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrInvalidRule, rule, err)
	}
	r.DTStart(anchor)

	loc := anchor.Location()
	out := r.Between(from.In(loc), to.In(loc), true)

	if len(out) > maxOccurrencesPerEvent {
		appLog.Error("expand: truncated occurrences due to cap",
			errors.New("max occurrences reached"),
			"rule", rule,
			"cap", maxOccurrencesPerEvent,
		)
		out = out[:maxOccurrencesPerEvent]
	}

	return out, nil
}

// ApplyExclusion removes from candidates every instant that the
// exclusion rule generates over the same window. An absent exclusion
// returns candidates unchanged. Matching is exact instant equality;
// exclusion instants with no matching candidate are ignored.
func ApplyExclusion(exclusion mo.Option[string], candidates []time.Time, anchor, from, to time.Time) ([]time.Time, error) {
	rule, ok := exclusion.Get()
	if !ok {
		return candidates, nil
	}

	excluded, err := Expand(rule, anchor, from, to)
	if err != nil {
		return nil, err
	}
	if len(excluded) == 0 {
		return candidates, nil
	}

	drop := make(map[int64]struct{}, len(excluded))
	for _, t := range excluded {
		drop[t.UnixNano()] = struct{}{}
	}

	kept := make([]time.Time, 0, len(candidates))
	for _, t := range candidates {
		if _, hit := drop[t.UnixNano()]; hit {
			appLog.Debug("occurrence excluded", "instant", t.Format(time.RFC3339))
			continue
		}
		kept = append(kept, t)
	}
	return kept, nil
}

// BuildOccurrences expands one event into its concrete occurrences
// inside [from, to]. Every surviving instant is re-anchored to the
// anchor's wall-clock time-of-day: rule evaluation may place instants
// at other hours (BYHOUR and friends), but an occurrence always starts
// at the time the anchor starts. Output is sorted, deduplicated, and
// window-bounded.
//
// An event without an RRULE property contributes no occurrences; this
// is not an error.
func BuildOccurrences(ev model.Event, from, to time.Time) ([]model.Occurrence, error) {
	spec, ok := ev.Recurrence()
	if !ok {
		appLog.Info("no recurrence rule for event; skipping", "event", ev.Name)
		return nil, nil
	}

	times, err := Expand(spec.Rule, spec.Anchor, from, to)
	if err != nil {
		return nil, fmt.Errorf("event %q: %w", ev.Name, err)
	}

	times, err = ApplyExclusion(spec.Exclusion, times, spec.Anchor, from, to)
	if err != nil {
		return nil, fmt.Errorf("event %q: %w", ev.Name, err)
	}

	out := make([]model.Occurrence, 0, len(times))
	seen := make(map[int64]struct{}, len(times))
	for _, t := range times {
		start := reanchor(t, spec.Anchor)
		if start.Before(from) || start.After(to) {
			continue
		}
		if _, dup := seen[start.UnixNano()]; dup {
			continue
		}
		seen[start.UnixNano()] = struct{}{}
		out = append(out, model.Occurrence{
			EventName: ev.Name,
			Location:  ev.Location,
			Start:     start,
			Duration:  ev.Duration,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Start.Before(out[j].Start) })

	appLog.Debug("event occurrences built",
		"event", ev.Name,
		"from", from.Format(time.RFC3339),
		"to", to.Format(time.RFC3339),
		"count", len(out),
	)
	return out, nil
}

// reanchor keeps the calendar date of t and replaces its time-of-day
// with the anchor's, in the anchor's timezone.
func reanchor(t, anchor time.Time) time.Time {
	return time.Date(
		t.Year(), t.Month(), t.Day(),
		anchor.Hour(), anchor.Minute(), anchor.Second(), anchor.Nanosecond(),
		anchor.Location(),
	)
}
