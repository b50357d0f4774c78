package schedule

import (
	"time"

	"github.com/merlokk/lambda.calendar.next.event/internal/model"
)

// Analyze computes the timeline positions for a time-ascending occurrence
// list against the reference instant now. It is a pure function; it holds
// no state across calls.
func Analyze(sorted []model.Occurrence, now time.Time) model.Timeline {
	var tl model.Timeline

	// current: first occurrence with start <= now < end. The interval is
	// half-open; an occurrence ending exactly at now is already over, one
	// starting exactly at now has begun.
	for i := range sorted {
		o := &sorted[i]
		if !o.Start.After(now) && o.End.After(now) {
			tl.Current = o
			break
		}
	}

	// next scans from current's end when one exists. Scanning from "now"
	// instead would either re-report current or skip a nearer event that
	// starts while current is still running.
	searchFrom := now
	if tl.Current != nil {
		searchFrom = tl.Current.End
	}

	nextIdx := -1
	for i := range sorted {
		if !sorted[i].Start.Before(searchFrom) {
			tl.Next = &sorted[i]
			nextIdx = i
			break
		}
	}
	if tl.Next == nil {
		return tl
	}

	// nextOverlapping: the first occurrence after next that intersects it.
	// Sorted order means once a scanned start reaches next's end, no later
	// occurrence can overlap either.
	for i := nextIdx + 1; i < len(sorted); i++ {
		o := &sorted[i]
		if !o.Start.Before(tl.Next.End) {
			break
		}
		if o.End.After(tl.Next.Start) {
			tl.NextOverlapping = o
			break
		}
	}

	// nextNonOverlapping: grow the transitive overlap cluster rooted at
	// next, then pick the first occurrence starting at or after it.
	clusterEnd := tl.Next.End
	for i := nextIdx + 1; i < len(sorted); i++ {
		o := &sorted[i]
		if !o.Start.Before(clusterEnd) {
			break
		}
		if o.End.After(clusterEnd) {
			clusterEnd = o.End
		}
	}
	for i := nextIdx + 1; i < len(sorted); i++ {
		if !sorted[i].Start.Before(clusterEnd) {
			tl.NextNonOverlapping = &sorted[i]
			break
		}
	}

	return tl
}

// MinutesUntil reports the whole minutes from now until the occurrence
// starts, rounded half up and clamped at zero.
func MinutesUntil(now time.Time, o *model.Occurrence) int {
	if o == nil {
		return 0
	}
	d := o.Start.Sub(now)
	if d < 0 {
		return 0
	}
	return int((d + 30*time.Second) / time.Minute)
}
