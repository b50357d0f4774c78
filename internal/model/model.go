package model

import "time"

// Occurrence is a single concrete instance of an event after recurrence
// expansion and override application. It lives only for the duration of
// one request; nothing persists it.
type Occurrence struct {
	UID       string
	Title     string
	Location  string
	Organizer string
	Status    string

	// Start / End are absolute instants. Conversion into the requested
	// display zone happens only at response assembly.
	Start time.Time
	End   time.Time
}

// Window is the half-open [Start, End) instant interval representing
// "today" in a given zone.
type Window struct {
	Start time.Time
	End   time.Time
	Loc   *time.Location
}

// Contains reports whether the interval [start, end) overlaps the window.
func (w Window) Contains(start, end time.Time) bool {
	return start.Before(w.End) && end.After(w.Start)
}

// Timeline is the interval analysis of a sorted occurrence list against a
// reference instant. Absent positions are nil.
type Timeline struct {
	Current            *Occurrence
	Next               *Occurrence
	NextOverlapping    *Occurrence
	NextNonOverlapping *Occurrence
}
