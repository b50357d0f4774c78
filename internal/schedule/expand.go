package schedule

import (
	"sort"
	"strings"
	"time"

	"github.com/teambition/rrule-go"

	"github.com/merlokk/lambda.calendar.next.event/internal/ics"
	appLog "github.com/merlokk/lambda.calendar.next.event/internal/log"
	"github.com/merlokk/lambda.calendar.next.event/internal/model"
)

const (
	// defaultMaxIterations caps the number of window-range candidates taken
	// from a rule, guarding against pathologically dense rules.
	defaultMaxIterations = 10000

	// maxEventDuration is the sanity bound on a single occurrence. Explicit
	// ends beyond it are treated as malformed.
	maxEventDuration = 7 * 24 * time.Hour

	statusCancelled = "CANCELLED"
)

// Options controls occurrence expansion.
type Options struct {
	// DefaultDuration is applied when an event has neither a usable end nor
	// a deducible duration. Must be positive.
	DefaultDuration time.Duration

	// CancelledPrefixes are title prefixes treated as a cancellation marker
	// (compared case-insensitively). The STATUS property is always honored.
	CancelledPrefixes []string

	// MaxIterations overrides the recurrence iteration safety cap.
	MaxIterations int
}

func (o Options) normalized() Options {
	if o.DefaultDuration <= 0 {
		o.DefaultDuration = time.Hour
	}
	if o.MaxIterations <= 0 {
		o.MaxIterations = defaultMaxIterations
	}
	return o
}

// ExpandAll expands every master in res into window-overlapping occurrences,
// applies overrides, then appends overrides that were never matched during
// iteration (orphaned or out-of-rule) as standalone occurrences. The result
// is globally sorted by start instant.
//
// The returned skipped list names uids excluded for missing a start instant.
func ExpandAll(res Resolved, w model.Window, opts Options) ([]model.Occurrence, []string) {
	opts = opts.normalized()

	occurrences := make([]model.Occurrence, 0)
	skipped := make([]string, 0)
	used := make(map[string]map[string]bool)
	masterDurations := make(map[string]time.Duration)

	for _, m := range res.Masters {
		if m.AllDay {
			continue
		}
		if m.Start.IsZero() {
			skipped = append(skipped, m.UID)
			appLog.Warn("event has no start instant; excluded", "uid", m.UID)
			continue
		}

		dur := masterDuration(m, opts)
		masterDurations[m.UID] = dur

		if used[m.UID] == nil {
			used[m.UID] = make(map[string]bool)
		}
		occurrences = append(occurrences, expandMaster(m, res.Overrides[m.UID], used[m.UID], w, dur, opts)...)
	}

	// Overrides never matched above: the rule ended before reaching them,
	// they predate the rule, or their master is gone entirely. They are
	// evaluated against the window directly, under the same end-time and
	// cancellation rules.
	for uid, byInstant := range res.Overrides {
		dur, haveMaster := masterDurations[uid]
		if !haveMaster {
			dur = opts.DefaultDuration
		}
		keys := make([]string, 0, len(byInstant))
		for key := range byInstant {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		for _, key := range keys {
			if used[uid][key] {
				continue
			}
			if occ, ok := standaloneFromOverride(byInstant[key], dur, w, opts); ok {
				occurrences = append(occurrences, occ)
			}
		}
	}

	sortOccurrences(occurrences)
	return occurrences, skipped
}

// expandMaster expands one master (recurring or not) plus its overrides into
// concrete window-overlapping occurrences.
func expandMaster(m ics.ParsedEvent, overrides map[string]ics.ParsedEvent, used map[string]bool, w model.Window, masterDur time.Duration, opts Options) []model.Occurrence {
	if m.RawRRule == "" {
		if occ, ok := buildOccurrence(m, m.Start, masterDur, overrides, used, w, opts); ok {
			return []model.Occurrence{occ}
		}
		return nil
	}

	rule, err := parseRule(m)
	if err != nil {
		// A rule we cannot parse degrades to the base instance only.
		appLog.Warn("unparseable RRULE; treating event as non-recurring", "uid", m.UID, "rrule", m.RawRRule)
		if occ, ok := buildOccurrence(m, m.Start, masterDur, overrides, used, w, opts); ok {
			return []model.Occurrence{occ}
		}
		return nil
	}

	// Iteration is seeded at the window rather than the rule's start, so a
	// rule running since years before today never spends the candidate cap
	// on instants that cannot overlap. With occurrence durations bounded by
	// maxEventDuration, no instant at or before w.Start-maxEventDuration can
	// reach the window; instants at or past the window end never overlap it.
	// The lower bound stays the window start, never "now".
	candidates := rule.Between(w.Start.Add(-maxEventDuration), w.End, false)
	if len(candidates) > opts.MaxIterations {
		appLog.Warn("recurrence candidate cap reached; later instants dropped",
			"uid", m.UID, "candidates", len(candidates), "cap", opts.MaxIterations)
		candidates = candidates[:opts.MaxIterations]
	}

	var out []model.Occurrence
	for _, t := range candidates {
		// Exception instants are checked before override lookup; an
		// excluded instant is dropped even when an override exists for it.
		if isExceptionInstant(t, m.ExDates) {
			key := instantKey(t)
			if _, exists := overrides[key]; exists {
				used[key] = true
			}
			continue
		}
		if occ, ok := buildOccurrence(m, t, masterDur, overrides, used, w, opts); ok {
			out = append(out, occ)
		}
	}
	return out
}

func parseRule(m ics.ParsedEvent) (*rrule.RRule, error) {
	opt, err := rrule.StrToROption(m.RawRRule)
	if err != nil {
		return nil, err
	}
	opt.Dtstart = m.Start
	return rrule.NewRRule(*opt)
}

// buildOccurrence turns one candidate instant into an adjusted occurrence,
// applying the matching override if one exists. The boolean result is false
// when the instance is cancelled or does not overlap the window.
func buildOccurrence(m ics.ParsedEvent, occStart time.Time, masterDur time.Duration, overrides map[string]ics.ParsedEvent, used map[string]bool, w model.Window, opts Options) (model.Occurrence, bool) {
	override, hasOverride := overrides[instantKey(occStart)]
	if hasOverride {
		// Matched by the originally scheduled instant, regardless of any
		// new start the override introduces.
		used[instantKey(occStart)] = true
		if isCancelled(override, opts) {
			return model.Occurrence{}, false
		}
		if override.AllDay {
			return model.Occurrence{}, false
		}
	}
	if isCancelled(m, opts) {
		return model.Occurrence{}, false
	}

	start := occStart
	var explicitEnd time.Time
	if hasOverride {
		if !override.Start.IsZero() {
			start = override.Start
		}
		explicitEnd = override.End
	} else if start.Equal(m.Start) {
		// The base instance may use the master's literal end. Any other
		// occurrence must derive its end from the master's duration; the
		// literal end belongs to a different calendar date.
		explicitEnd = m.End
	}

	end := occurrenceEnd(start, explicitEnd, masterDur)
	if !w.Contains(start, end) {
		return model.Occurrence{}, false
	}

	occ := model.Occurrence{
		UID:       m.UID,
		Title:     m.Title,
		Location:  m.Location,
		Organizer: m.Organizer,
		Status:    m.Status,
		Start:     start,
		End:       end,
	}
	if hasOverride {
		// Per-field coalescing: the override's value wins where present,
		// the master's value fills the gaps.
		occ.Title = coalesce(override.Title, m.Title)
		occ.Location = coalesce(override.Location, m.Location)
		occ.Organizer = coalesce(override.Organizer, m.Organizer)
		occ.Status = coalesce(override.Status, m.Status)
	}
	return occ, true
}

// standaloneFromOverride evaluates an override with no expanded instance to
// attach to. masterDur is the owning master's duration when one exists, else
// the configured default.
func standaloneFromOverride(ov ics.ParsedEvent, masterDur time.Duration, w model.Window, opts Options) (model.Occurrence, bool) {
	if ov.AllDay || isCancelled(ov, opts) {
		return model.Occurrence{}, false
	}

	start := ov.Start
	if start.IsZero() {
		start = *ov.RecurrenceID
	}
	if start.IsZero() {
		return model.Occurrence{}, false
	}

	end := occurrenceEnd(start, ov.End, masterDur)
	if !w.Contains(start, end) {
		return model.Occurrence{}, false
	}

	return model.Occurrence{
		UID:       ov.UID,
		Title:     ov.Title,
		Location:  ov.Location,
		Organizer: ov.Organizer,
		Status:    ov.Status,
		Start:     start,
		End:       end,
	}, true
}

// occurrenceEnd picks the event's own explicit end when it is valid, and
// otherwise derives the end from the master duration applied to this
// occurrence's own start.
func occurrenceEnd(start, explicitEnd time.Time, masterDur time.Duration) time.Time {
	if !explicitEnd.IsZero() {
		d := explicitEnd.Sub(start)
		if d > 0 && d <= maxEventDuration {
			return explicitEnd
		}
	}
	return start.Add(masterDur)
}

// masterDuration derives the per-instance duration from the master's own
// start/end pair, substituting the configured default for non-positive or
// implausible values.
func masterDuration(m ics.ParsedEvent, opts Options) time.Duration {
	d := m.End.Sub(m.Start)
	if d <= 0 || d > maxEventDuration {
		if !m.End.IsZero() {
			appLog.Warn("malformed event duration; using default", "uid", m.UID, "duration", d)
		}
		return opts.DefaultDuration
	}
	return d
}

func isExceptionInstant(t time.Time, exDates []time.Time) bool {
	for _, ex := range exDates {
		if ex.Equal(t) {
			return true
		}
	}
	return false
}

func isCancelled(ev ics.ParsedEvent, opts Options) bool {
	if ev.Status == statusCancelled {
		return true
	}
	title := strings.ToLower(strings.TrimSpace(ev.Title))
	for _, prefix := range opts.CancelledPrefixes {
		if prefix != "" && strings.HasPrefix(title, strings.ToLower(prefix)) {
			return true
		}
	}
	return false
}

func coalesce(override, master string) string {
	if strings.TrimSpace(override) != "" {
		return override
	}
	return master
}

func sortOccurrences(items []model.Occurrence) {
	sort.SliceStable(items, func(i, j int) bool {
		if !items[i].Start.Equal(items[j].Start) {
			return items[i].Start.Before(items[j].Start)
		}
		if !items[i].End.Equal(items[j].End) {
			return items[i].End.Before(items[j].End)
		}
		return items[i].UID < items[j].UID
	})
}
