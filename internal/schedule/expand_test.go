package schedule

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/merlokk/lambda.calendar.next.event/internal/ics"
	"github.com/merlokk/lambda.calendar.next.event/internal/model"
)

func utcWindow(t *testing.T, day time.Time) model.Window {
	t.Helper()
	w, err := DayWindow(day, "UTC")
	require.NoError(t, err)
	return w
}

func testOptions() Options {
	return Options{
		DefaultDuration:   time.Hour,
		CancelledPrefixes: []string{"cancelled:", "canceled:"},
	}
}

func TestExpandAll_WeeklyMasterUsesMasterDuration(t *testing.T) {
	// Master defined months before the window. The occurrence inside the
	// window must carry the master's 15-minute duration, not the master's
	// literal end instant.
	master := ics.ParsedEvent{
		UID:      "weekly-1",
		Title:    "Standup",
		Start:    time.Date(2025, 11, 24, 11, 0, 0, 0, time.UTC),
		End:      time.Date(2025, 11, 24, 11, 15, 0, 0, time.UTC),
		RawRRule: "FREQ=WEEKLY",
	}

	w := utcWindow(t, time.Date(2026, 2, 9, 10, 20, 0, 0, time.UTC))
	occs, skipped := ExpandAll(Resolve([]ics.ParsedEvent{master}), w, testOptions())

	require.Empty(t, skipped)
	require.Len(t, occs, 1)
	require.True(t, occs[0].Start.Equal(time.Date(2026, 2, 9, 11, 0, 0, 0, time.UTC)))
	require.True(t, occs[0].End.Equal(time.Date(2026, 2, 9, 11, 15, 0, 0, time.UTC)))
	require.Equal(t, 15*time.Minute, occs[0].End.Sub(occs[0].Start))
}

func TestExpandAll_DurationLawHoldsAcrossDates(t *testing.T) {
	master := ics.ParsedEvent{
		UID:      "daily-1",
		Title:    "Focus block",
		Start:    time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC),
		End:      time.Date(2026, 1, 1, 10, 30, 0, 0, time.UTC),
		RawRRule: "FREQ=DAILY",
	}

	w := utcWindow(t, time.Date(2026, 2, 9, 8, 0, 0, 0, time.UTC))
	occs, _ := ExpandAll(Resolve([]ics.ParsedEvent{master}), w, testOptions())

	require.Len(t, occs, 1)
	require.Equal(t, 90*time.Minute, occs[0].End.Sub(occs[0].Start))
}

func TestExpandAll_DecadesOldDailyRuleStillReachesWindow(t *testing.T) {
	// A daily rule running since 1990 has far more historical instants than
	// the candidate cap. Seeding iteration at the window must still surface
	// today's occurrence.
	master := ics.ParsedEvent{
		UID:      "ancient-daily",
		Title:    "Morning check",
		Start:    time.Date(1990, 1, 1, 9, 0, 0, 0, time.UTC),
		End:      time.Date(1990, 1, 1, 9, 30, 0, 0, time.UTC),
		RawRRule: "FREQ=DAILY",
	}

	w := utcWindow(t, time.Date(2026, 2, 9, 8, 0, 0, 0, time.UTC))
	occs, skipped := ExpandAll(Resolve([]ics.ParsedEvent{master}), w, testOptions())

	require.Empty(t, skipped)
	require.Len(t, occs, 1)
	require.True(t, occs[0].Start.Equal(time.Date(2026, 2, 9, 9, 0, 0, 0, time.UTC)))
	require.True(t, occs[0].End.Equal(time.Date(2026, 2, 9, 9, 30, 0, 0, time.UTC)))
}

func TestExpandAll_NonRecurringOverlapFilter(t *testing.T) {
	inWindow := ics.ParsedEvent{
		UID:   "single-in",
		Title: "Review",
		Start: time.Date(2026, 2, 9, 14, 0, 0, 0, time.UTC),
		End:   time.Date(2026, 2, 9, 15, 0, 0, 0, time.UTC),
	}
	outOfWindow := ics.ParsedEvent{
		UID:   "single-out",
		Title: "Tomorrow",
		Start: time.Date(2026, 2, 10, 9, 0, 0, 0, time.UTC),
		End:   time.Date(2026, 2, 10, 10, 0, 0, 0, time.UTC),
	}
	// Started yesterday, ends inside today's window: still overlaps.
	straddling := ics.ParsedEvent{
		UID:   "single-straddle",
		Title: "Overnight",
		Start: time.Date(2026, 2, 8, 23, 0, 0, 0, time.UTC),
		End:   time.Date(2026, 2, 9, 1, 0, 0, 0, time.UTC),
	}

	w := utcWindow(t, time.Date(2026, 2, 9, 10, 0, 0, 0, time.UTC))
	occs, _ := ExpandAll(Resolve([]ics.ParsedEvent{inWindow, outOfWindow, straddling}), w, testOptions())

	require.Len(t, occs, 2)
	require.Equal(t, "single-straddle", occs[0].UID)
	require.Equal(t, "single-in", occs[1].UID)
}

func TestExpandAll_ExceptionInstantDropsInstance(t *testing.T) {
	excluded := time.Date(2026, 2, 9, 11, 0, 0, 0, time.UTC)
	master := ics.ParsedEvent{
		UID:      "weekly-ex",
		Title:    "Standup",
		Start:    time.Date(2026, 1, 5, 11, 0, 0, 0, time.UTC),
		End:      time.Date(2026, 1, 5, 11, 30, 0, 0, time.UTC),
		RawRRule: "FREQ=WEEKLY",
		ExDates:  []time.Time{excluded},
	}

	w := utcWindow(t, excluded)
	occs, _ := ExpandAll(Resolve([]ics.ParsedEvent{master}), w, testOptions())
	require.Empty(t, occs)
}

func TestExpandAll_ExceptionWinsOverOverride(t *testing.T) {
	// An excluded instant stays excluded even when an override exists for
	// it, and the override must not resurface as a standalone occurrence.
	excluded := time.Date(2026, 2, 9, 11, 0, 0, 0, time.UTC)
	master := ics.ParsedEvent{
		UID:      "weekly-ex-ov",
		Title:    "Standup",
		Start:    time.Date(2026, 1, 5, 11, 0, 0, 0, time.UTC),
		End:      time.Date(2026, 1, 5, 11, 30, 0, 0, time.UTC),
		RawRRule: "FREQ=WEEKLY",
		ExDates:  []time.Time{excluded},
	}
	override := ics.ParsedEvent{
		UID:          "weekly-ex-ov",
		Title:        "Standup (moved)",
		Start:        excluded.Add(30 * time.Minute),
		End:          excluded.Add(time.Hour),
		RecurrenceID: &excluded,
	}

	w := utcWindow(t, excluded)
	occs, _ := ExpandAll(Resolve([]ics.ParsedEvent{master, override}), w, testOptions())
	require.Empty(t, occs)
}

func TestExpandAll_OverrideMovesAndRetitlesInstance(t *testing.T) {
	scheduled := time.Date(2026, 2, 9, 11, 0, 0, 0, time.UTC)
	master := ics.ParsedEvent{
		UID:       "weekly-ov",
		Title:     "Sync",
		Location:  "Room 1",
		Organizer: "alice@example.com",
		Start:     time.Date(2026, 1, 5, 11, 0, 0, 0, time.UTC),
		End:       time.Date(2026, 1, 5, 11, 30, 0, 0, time.UTC),
		RawRRule:  "FREQ=WEEKLY",
	}
	override := ics.ParsedEvent{
		UID:          "weekly-ov",
		Title:        "Sync (moved)",
		Start:        scheduled.Add(2 * time.Hour),
		End:          scheduled.Add(3 * time.Hour),
		RecurrenceID: &scheduled,
	}

	w := utcWindow(t, scheduled)
	occs, _ := ExpandAll(Resolve([]ics.ParsedEvent{master, override}), w, testOptions())

	require.Len(t, occs, 1)
	require.Equal(t, "Sync (moved)", occs[0].Title)
	require.True(t, occs[0].Start.Equal(scheduled.Add(2*time.Hour)))
	require.True(t, occs[0].End.Equal(scheduled.Add(3*time.Hour)))
	// Fields the override omits fall back to the master.
	require.Equal(t, "Room 1", occs[0].Location)
	require.Equal(t, "alice@example.com", occs[0].Organizer)
}

func TestExpandAll_OverrideWithoutEndInheritsMasterDuration(t *testing.T) {
	scheduled := time.Date(2026, 2, 9, 11, 0, 0, 0, time.UTC)
	master := ics.ParsedEvent{
		UID:      "weekly-ov-dur",
		Title:    "Sync",
		Start:    time.Date(2026, 1, 5, 11, 0, 0, 0, time.UTC),
		End:      time.Date(2026, 1, 5, 11, 45, 0, 0, time.UTC),
		RawRRule: "FREQ=WEEKLY",
	}
	newStart := scheduled.Add(time.Hour)
	override := ics.ParsedEvent{
		UID:          "weekly-ov-dur",
		Start:        newStart,
		RecurrenceID: &scheduled,
	}

	w := utcWindow(t, scheduled)
	occs, _ := ExpandAll(Resolve([]ics.ParsedEvent{master, override}), w, testOptions())

	require.Len(t, occs, 1)
	// Duration comes from the master's start/end pair, applied to the
	// override's own start.
	require.True(t, occs[0].End.Equal(newStart.Add(45*time.Minute)))
}

func TestExpandAll_CancelledOverrideDropsInstance(t *testing.T) {
	scheduled := time.Date(2026, 2, 9, 11, 0, 0, 0, time.UTC)
	master := ics.ParsedEvent{
		UID:      "weekly-cancel",
		Title:    "Sync",
		Start:    time.Date(2026, 1, 5, 11, 0, 0, 0, time.UTC),
		End:      time.Date(2026, 1, 5, 11, 30, 0, 0, time.UTC),
		RawRRule: "FREQ=WEEKLY",
	}
	override := ics.ParsedEvent{
		UID:          "weekly-cancel",
		Status:       "CANCELLED",
		Start:        scheduled,
		End:          scheduled.Add(30 * time.Minute),
		RecurrenceID: &scheduled,
	}

	w := utcWindow(t, scheduled)
	occs, _ := ExpandAll(Resolve([]ics.ParsedEvent{master, override}), w, testOptions())
	require.Empty(t, occs)
}

func TestExpandAll_CancelledTitlePrefixDropsEvent(t *testing.T) {
	ev := ics.ParsedEvent{
		UID:   "prefix-cancel",
		Title: "Cancelled: team lunch",
		Start: time.Date(2026, 2, 9, 12, 0, 0, 0, time.UTC),
		End:   time.Date(2026, 2, 9, 13, 0, 0, 0, time.UTC),
	}

	w := utcWindow(t, ev.Start)
	occs, _ := ExpandAll(Resolve([]ics.ParsedEvent{ev}), w, testOptions())
	require.Empty(t, occs)
}

func TestExpandAll_OrphanedOverrideSurfacesOnce(t *testing.T) {
	// Override with no master at all: evaluated directly against the
	// window and emitted exactly once.
	scheduled := time.Date(2026, 2, 9, 14, 0, 0, 0, time.UTC)
	orphan := ics.ParsedEvent{
		UID:          "orphan-1",
		Title:        "Leftover",
		Start:        scheduled,
		End:          scheduled.Add(time.Hour),
		RecurrenceID: &scheduled,
	}

	w := utcWindow(t, scheduled)
	occs, _ := ExpandAll(Resolve([]ics.ParsedEvent{orphan}), w, testOptions())

	require.Len(t, occs, 1)
	require.Equal(t, "orphan-1", occs[0].UID)
	require.True(t, occs[0].Start.Equal(scheduled))
}

func TestExpandAll_UnmatchedOverrideBeforeRuleStart(t *testing.T) {
	// Override predates every instant the rule can produce inside the
	// window; it is appended afterward with the master's duration.
	scheduled := time.Date(2026, 2, 9, 8, 0, 0, 0, time.UTC)
	master := ics.ParsedEvent{
		UID:      "late-master",
		Title:    "Sync",
		Start:    time.Date(2026, 2, 20, 11, 0, 0, 0, time.UTC),
		End:      time.Date(2026, 2, 20, 11, 30, 0, 0, time.UTC),
		RawRRule: "FREQ=WEEKLY",
	}
	override := ics.ParsedEvent{
		UID:          "late-master",
		Title:        "Early one-off",
		Start:        scheduled,
		RecurrenceID: &scheduled,
	}

	w := utcWindow(t, scheduled)
	occs, _ := ExpandAll(Resolve([]ics.ParsedEvent{master, override}), w, testOptions())

	require.Len(t, occs, 1)
	require.Equal(t, "Early one-off", occs[0].Title)
	require.True(t, occs[0].End.Equal(scheduled.Add(30*time.Minute)))
}

func TestExpandAll_MalformedDurationFallsBackToDefault(t *testing.T) {
	ev := ics.ParsedEvent{
		UID:   "no-end",
		Title: "Open ended",
		Start: time.Date(2026, 2, 9, 12, 0, 0, 0, time.UTC),
	}

	w := utcWindow(t, ev.Start)
	occs, _ := ExpandAll(Resolve([]ics.ParsedEvent{ev}), w, testOptions())

	require.Len(t, occs, 1)
	require.Equal(t, time.Hour, occs[0].End.Sub(occs[0].Start))
}

func TestExpandAll_AllDayAndMissingStartExcluded(t *testing.T) {
	allDay := ics.ParsedEvent{
		UID:    "all-day",
		Title:  "Holiday",
		Start:  time.Date(2026, 2, 9, 0, 0, 0, 0, time.UTC),
		End:    time.Date(2026, 2, 10, 0, 0, 0, 0, time.UTC),
		AllDay: true,
	}
	noStart := ics.ParsedEvent{
		UID:   "no-start",
		Title: "Broken",
	}

	w := utcWindow(t, time.Date(2026, 2, 9, 10, 0, 0, 0, time.UTC))
	occs, skipped := ExpandAll(Resolve([]ics.ParsedEvent{allDay, noStart}), w, testOptions())

	require.Empty(t, occs)
	require.Equal(t, []string{"no-start"}, skipped)
}

func TestExpandAll_PositiveDurationInvariant(t *testing.T) {
	events := []ics.ParsedEvent{
		{
			UID:      "inv-1",
			Title:    "Daily",
			Start:    time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC),
			End:      time.Date(2026, 1, 1, 9, 30, 0, 0, time.UTC),
			RawRRule: "FREQ=DAILY",
		},
		{
			UID:   "inv-2",
			Title: "Zero length",
			Start: time.Date(2026, 2, 9, 15, 0, 0, 0, time.UTC),
			End:   time.Date(2026, 2, 9, 15, 0, 0, 0, time.UTC),
		},
	}

	w := utcWindow(t, time.Date(2026, 2, 9, 10, 0, 0, 0, time.UTC))
	occs, _ := ExpandAll(Resolve(events), w, testOptions())

	require.NotEmpty(t, occs)
	for _, o := range occs {
		require.True(t, o.End.After(o.Start), "occurrence %s has non-positive duration", o.UID)
	}
}
