package schedule

import (
	"fmt"
	"time"

	"github.com/merlokk/lambda.calendar.next.event/internal/model"
)

// ErrInvalidTimezone marks a caller-supplied zone identifier that cannot be
// resolved. It aborts the invocation before any expansion work.
var ErrInvalidTimezone = fmt.Errorf("invalid timezone")

// DayWindow computes the half-open [local midnight today, local midnight
// tomorrow) interval for the zone-local calendar date of now.
//
// Both boundaries are built independently from calendar fields in the target
// zone. The window is not start+24h: across DST transitions the local day is
// 23 or 25 hours long and the end boundary must come from its own date.
func DayWindow(now time.Time, zone string) (model.Window, error) {
	if zone == "" {
		return model.Window{}, fmt.Errorf("%w: empty zone name", ErrInvalidTimezone)
	}
	loc, err := time.LoadLocation(zone)
	if err != nil {
		return model.Window{}, fmt.Errorf("%w: %q", ErrInvalidTimezone, zone)
	}

	y, m, d := now.In(loc).Date()
	start := time.Date(y, m, d, 0, 0, 0, 0, loc)
	end := time.Date(y, m, d+1, 0, 0, 0, 0, loc)

	return model.Window{Start: start, End: end, Loc: loc}, nil
}
