// Package dispatch runs one evaluation pass: expand every event over
// the window around now, pick the occurrences that are active, gate
// them through the processed ledger, and notify.
package dispatch

import (
	"context"
	"time"

	"calnotify/internal/ledger"
	appLog "calnotify/internal/log"
	"calnotify/internal/model"
	"calnotify/internal/notify"
	"calnotify/internal/recur"
)

// windowRadius is how far behind and ahead of now events are expanded
// on each pass. Fixed policy, not configurable.
const windowRadius = 24 * time.Hour

// Status is the terminal state of one occurrence within a pass.
type Status string

const (
	StatusSkipped  Status = "skipped"  // inactive, or already in the ledger
	StatusNotified Status = "notified" // sent and recorded
	StatusFailed   Status = "failed"   // send or record failed; retried next pass
)

// Summary counts the outcomes of one pass.
type Summary struct {
	Events      int `json:"events"`
	Occurrences int `json:"occurrences"`
	Skipped     int `json:"skipped"`
	Notified    int `json:"notified"`
	Failed      int `json:"failed"`
}

// Active reports whether the occurrence's span contains now. Both
// bounds are inclusive: an occurrence starting or ending exactly at
// now is active.
func Active(occ model.Occurrence, now time.Time) bool {
	return !now.Before(occ.Start) && !now.After(occ.End())
}

// Run evaluates every event against the window [now-24h, now+24h] and
// dispatches notifications for active, not-yet-processed occurrences.
// Errors are scoped to a single event or occurrence; the pass always
// visits every event.
func Run(ctx context.Context, events []model.Event, led ledger.ProcessedLedger, n notify.Notifier, chatID string, now time.Time) Summary {
	from := now.Add(-windowRadius)
	to := now.Add(windowRadius)

	sum := Summary{Events: len(events)}

	for _, ev := range events {
		occs, err := recur.BuildOccurrences(ev, from, to)
		if err != nil {
			// Malformed rule: skip this event, keep the pass going.
			appLog.Error("skipping event with bad recurrence rule", err, "event", ev.Name)
			continue
		}

		for _, occ := range occs {
			sum.Occurrences++
			switch dispatchOne(ctx, occ, led, n, chatID, now) {
			case StatusNotified:
				sum.Notified++
			case StatusFailed:
				sum.Failed++
			default:
				sum.Skipped++
			}
		}
	}

	appLog.Info("pass finished",
		"events", sum.Events,
		"occurrences", sum.Occurrences,
		"notified", sum.Notified,
		"skipped", sum.Skipped,
		"failed", sum.Failed,
	)
	return sum
}

func dispatchOne(ctx context.Context, occ model.Occurrence, led ledger.ProcessedLedger, n notify.Notifier, chatID string, now time.Time) Status {
	if !Active(occ, now) {
		return StatusSkipped
	}

	id := occ.Identity()
	if led.Contains(id) {
		appLog.Debug("occurrence already notified", "id", id)
		return StatusSkipped
	}

	text := occ.EventName + ":\n" + occ.Location
	if err := n.Send(ctx, chatID, text); err != nil {
		appLog.Error("notification failed", err, "event", occ.EventName, "id", id)
		return StatusFailed
	}

	if err := led.Record(id); err != nil {
		// The send went out but the ledger append failed: the next pass
		// cannot see this occurrence as processed and may notify again.
		appLog.Error("ledger append failed after successful send; occurrence may notify twice", err, "id", id)
		return StatusFailed
	}

	appLog.Info("notification sent", "event", occ.EventName, "id", id)
	return StatusNotified
}
