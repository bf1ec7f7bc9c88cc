package dispatch

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"calnotify/internal/ledger"
	"calnotify/internal/model"
)

type sentMessage struct {
	chatID string
	text   string
}

type fakeNotifier struct {
	sent []sentMessage
	err  error
}

func (f *fakeNotifier) Send(_ context.Context, chatID, text string) error {
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, sentMessage{chatID: chatID, text: text})
	return nil
}

type failingLedger struct{}

func (failingLedger) Contains(string) bool { return false }
func (failingLedger) Record(string) error  { return errors.New("disk full") }

// dailyEvent repeats every day at the anchor's time-of-day.
func dailyEvent(name, location string, anchor time.Time, dur time.Duration) model.Event {
	return model.Event{
		Name:     name,
		Location: location,
		Start:    anchor,
		Duration: dur,
		Props:    map[string]string{"RRULE": "FREQ=DAILY"},
	}
}

func TestActiveBoundaries(t *testing.T) {
	start := time.Date(2025, 1, 15, 11, 0, 0, 0, time.UTC)
	occ := model.Occurrence{EventName: "Standup", Start: start, Duration: 30 * time.Minute}

	tests := []struct {
		name   string
		now    time.Time
		active bool
	}{
		{name: "exactly at start", now: start, active: true},
		{name: "mid-span", now: start.Add(10 * time.Minute), active: true},
		{name: "exactly at end", now: start.Add(30 * time.Minute), active: true},
		{name: "one second before start", now: start.Add(-time.Second), active: false},
		{name: "one second after end", now: start.Add(30*time.Minute + time.Second), active: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.active, Active(occ, tt.now))
		})
	}
}

func TestRunNotifiesActiveOccurrence(t *testing.T) {
	anchor := time.Date(2025, 1, 6, 11, 0, 0, 0, time.UTC)
	now := time.Date(2025, 1, 15, 11, 30, 0, 0, time.UTC)

	events := []model.Event{dailyEvent("Standup", "Room 4", anchor, time.Hour)}
	led := ledger.NewMemory()
	n := &fakeNotifier{}

	sum := Run(context.Background(), events, led, n, "777", now)

	require.Len(t, n.sent, 1)
	assert.Equal(t, "777", n.sent[0].chatID)
	assert.Equal(t, "Standup:\nRoom 4", n.sent[0].text)
	assert.True(t, led.Contains("Standup_2025-01-15"))
	assert.Equal(t, 1, sum.Notified)
	assert.Equal(t, 0, sum.Failed)
	// Tomorrow's occurrence falls in the window but is not active yet.
	assert.Equal(t, 1, sum.Skipped)
	assert.Equal(t, 2, sum.Occurrences)
}

func TestRunIdempotentAcrossPasses(t *testing.T) {
	anchor := time.Date(2025, 1, 6, 11, 0, 0, 0, time.UTC)
	now := time.Date(2025, 1, 15, 11, 30, 0, 0, time.UTC)

	events := []model.Event{dailyEvent("Standup", "Room 4", anchor, time.Hour)}
	led := ledger.NewMemory()
	n := &fakeNotifier{}

	first := Run(context.Background(), events, led, n, "777", now)
	second := Run(context.Background(), events, led, n, "777", now.Add(time.Minute))

	assert.Equal(t, 1, first.Notified)
	assert.Equal(t, 0, second.Notified)
	assert.Len(t, n.sent, 1)
}

func TestRunIdempotentWithPersistedLedger(t *testing.T) {
	anchor := time.Date(2025, 1, 6, 11, 0, 0, 0, time.UTC)
	now := time.Date(2025, 1, 15, 11, 30, 0, 0, time.UTC)
	path := filepath.Join(t.TempDir(), "processed_events.txt")

	events := []model.Event{dailyEvent("Standup", "Room 4", anchor, time.Hour)}
	n := &fakeNotifier{}

	led1, err := ledger.OpenFile(path)
	require.NoError(t, err)
	Run(context.Background(), events, led1, n, "777", now)
	require.Len(t, n.sent, 1)

	// A later independent invocation loads the ledger fresh and skips.
	led2, err := ledger.OpenFile(path)
	require.NoError(t, err)
	sum := Run(context.Background(), events, led2, n, "777", now.Add(5*time.Minute))

	assert.Equal(t, 0, sum.Notified)
	assert.Len(t, n.sent, 1)
}

func TestRunFailedSendNotRecorded(t *testing.T) {
	anchor := time.Date(2025, 1, 6, 11, 0, 0, 0, time.UTC)
	now := time.Date(2025, 1, 15, 11, 30, 0, 0, time.UTC)

	events := []model.Event{dailyEvent("Standup", "Room 4", anchor, time.Hour)}
	led := ledger.NewMemory()
	n := &fakeNotifier{err: errors.New("connection refused")}

	sum := Run(context.Background(), events, led, n, "777", now)
	assert.Equal(t, 1, sum.Failed)
	assert.Equal(t, 0, sum.Notified)
	assert.False(t, led.Contains("Standup_2025-01-15"))

	// Next pass retries and succeeds.
	n.err = nil
	sum = Run(context.Background(), events, led, n, "777", now.Add(time.Minute))
	assert.Equal(t, 1, sum.Notified)
	require.Len(t, n.sent, 1)
}

func TestRunLedgerWriteFailureCountsAsFailed(t *testing.T) {
	anchor := time.Date(2025, 1, 6, 11, 0, 0, 0, time.UTC)
	now := time.Date(2025, 1, 15, 11, 30, 0, 0, time.UTC)

	events := []model.Event{dailyEvent("Standup", "Room 4", anchor, time.Hour)}
	n := &fakeNotifier{}

	sum := Run(context.Background(), events, failingLedger{}, n, "777", now)

	// The send itself went out, but the occurrence is not treated as
	// successfully processed.
	assert.Len(t, n.sent, 1)
	assert.Equal(t, 1, sum.Failed)
	assert.Equal(t, 0, sum.Notified)
}

func TestRunNoEvents(t *testing.T) {
	led := ledger.NewMemory()
	n := &fakeNotifier{}

	sum := Run(context.Background(), nil, led, n, "777", time.Now())

	assert.Equal(t, Summary{}, sum)
	assert.Empty(t, n.sent)
	assert.Equal(t, 0, led.Len())
}

func TestRunEventWithoutRuleContributesNothing(t *testing.T) {
	now := time.Date(2025, 1, 15, 11, 30, 0, 0, time.UTC)
	events := []model.Event{{
		Name:     "One-off",
		Start:    now.Add(-time.Hour),
		Duration: 2 * time.Hour,
		Props:    map[string]string{},
	}}
	led := ledger.NewMemory()
	n := &fakeNotifier{}

	sum := Run(context.Background(), events, led, n, "777", now)

	assert.Equal(t, 0, sum.Occurrences)
	assert.Empty(t, n.sent)
	assert.Equal(t, 0, led.Len())
}

func TestRunBadRuleDoesNotAbortPass(t *testing.T) {
	anchor := time.Date(2025, 1, 6, 11, 0, 0, 0, time.UTC)
	now := time.Date(2025, 1, 15, 11, 30, 0, 0, time.UTC)

	events := []model.Event{
		{
			Name:  "Broken",
			Start: anchor,
			Props: map[string]string{"RRULE": "FREQ=BOGUS"},
		},
		dailyEvent("Standup", "Room 4", anchor, time.Hour),
	}
	led := ledger.NewMemory()
	n := &fakeNotifier{}

	sum := Run(context.Background(), events, led, n, "777", now)

	assert.Equal(t, 1, sum.Notified)
	require.Len(t, n.sent, 1)
	assert.Equal(t, "Standup:\nRoom 4", n.sent[0].text)
}

func TestRunSameDayOccurrencesCollapse(t *testing.T) {
	// Two rule instants on the same day dedup to one occurrence and at
	// most one ledger entry.
	now := time.Date(2025, 1, 15, 11, 30, 0, 0, time.UTC)
	events := []model.Event{{
		Name:     "Twice daily",
		Location: "Lab",
		Start:    time.Date(2025, 1, 6, 11, 0, 0, 0, time.UTC),
		Duration: time.Hour,
		Props:    map[string]string{"RRULE": "FREQ=DAILY;BYHOUR=11,15"},
	}}
	led := ledger.NewMemory()
	n := &fakeNotifier{}

	Run(context.Background(), events, led, n, "777", now)

	assert.Len(t, n.sent, 1)
	assert.Equal(t, 1, led.Len())
	assert.True(t, led.Contains("Twice daily_2025-01-15"))
}
