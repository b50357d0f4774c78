package schedule

import (
	"time"

	"github.com/merlokk/lambda.calendar.next.event/internal/ics"
)

// Resolved is the partition of parsed events into masters and overrides.
type Resolved struct {
	// Masters are events without a RECURRENCE-ID, possibly recurring.
	Masters []ics.ParsedEvent

	// Overrides maps uid -> originally-scheduled-instant key -> override.
	Overrides map[string]map[string]ics.ParsedEvent

	// HasMaster records which uids appear among Masters. An override whose
	// uid is absent here is orphaned.
	HasMaster map[string]bool
}

// instantKey converts an absolute instant into an override-map key. Keys are
// UTC-normalized so that the same instant written under different zones
// still collides, never local wall-clock strings.
func instantKey(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// Resolve partitions parsed events into master events and a uid-keyed
// override map.
func Resolve(events []ics.ParsedEvent) Resolved {
	r := Resolved{
		Overrides: make(map[string]map[string]ics.ParsedEvent),
		HasMaster: make(map[string]bool),
	}

	for _, ev := range events {
		if ev.IsOverride() {
			byInstant := r.Overrides[ev.UID]
			if byInstant == nil {
				byInstant = make(map[string]ics.ParsedEvent)
				r.Overrides[ev.UID] = byInstant
			}
			byInstant[instantKey(*ev.RecurrenceID)] = ev
			continue
		}
		r.Masters = append(r.Masters, ev)
		r.HasMaster[ev.UID] = true
	}

	return r
}
