package notifyrules

import (
	"fmt"
	"time"

	"github.com/tphakala/fieldpipe/internal/fielderr"
)

// QuietHours suppresses notifications between Start and End, both "HH:MM"
// in the local clock. Start > End denotes an overnight range (e.g. 22:00 to
// 06:00 wraps past midnight).
type QuietHours struct {
	Start string
	End   string
}

func parseClock(hhmm string) (minutes int, err error) {
	var h, m int
	if _, err := fmt.Sscanf(hhmm, "%d:%d", &h, &m); err != nil {
		return 0, fielderr.Newf("notifyrules: invalid clock value %q", hhmm).
			Component("notifyrules").Category(fielderr.CategoryValidation).Build()
	}
	if h < 0 || h > 23 || m < 0 || m > 59 {
		return 0, fielderr.Newf("notifyrules: clock value %q out of range", hhmm).
			Component("notifyrules").Category(fielderr.CategoryValidation).Build()
	}
	return h*60 + m, nil
}

// Contains reports whether t's local time-of-day falls within the quiet
// window, including an overnight wraparound.
func (q QuietHours) Contains(t time.Time) (bool, error) {
	if q.Start == "" || q.End == "" {
		return false, nil
	}
	start, err := parseClock(q.Start)
	if err != nil {
		return false, err
	}
	end, err := parseClock(q.End)
	if err != nil {
		return false, err
	}
	now := t.Hour()*60 + t.Minute()

	if start == end {
		// A zero-width window never suppresses.
		return false, nil
	}
	if start < end {
		return now >= start && now < end, nil
	}
	// Overnight: e.g. 22:00-06:00 suppresses [22:00, 24:00) U [00:00, 06:00).
	return now >= start || now < end, nil
}
