package scheduler

import (
	"fmt"
	"time"
)

const minutesPerDay = 24 * 60

// ActiveWindow is the daily operating range in minutes since local midnight.
// Start is inclusive and End exclusive. Start greater than End wraps past
// midnight; Start equal to End means always active.
type ActiveWindow struct {
	StartMinute int
	EndMinute   int
}

// MinuteOfDay returns the minutes elapsed since local midnight of t.
func MinuteOfDay(t time.Time) int {
	return t.Hour()*60 + t.Minute()
}

// Contains reports whether minute falls inside the window.
func (w ActiveWindow) Contains(minute int) bool {
	switch {
	case w.StartMinute == w.EndMinute:
		return true
	case w.StartMinute < w.EndMinute:
		return minute >= w.StartMinute && minute < w.EndMinute
	default:
		return minute >= w.StartMinute || minute < w.EndMinute
	}
}

// MinutesUntilOpen returns how long to wait from minute until the window
// next opens, wrapping to the following day when today's opening has passed.
func (w ActiveWindow) MinutesUntilOpen(minute int) int {
	return ((w.StartMinute-minute)%minutesPerDay + minutesPerDay) % minutesPerDay
}

// WakeTime formats the opening minute as HH:MM.
func (w ActiveWindow) WakeTime() string {
	return fmt.Sprintf("%02d:%02d", w.StartMinute/60, w.StartMinute%60)
}

func (w ActiveWindow) String() string {
	return fmt.Sprintf("%s-%02d:%02d", w.WakeTime(), w.EndMinute/60, w.EndMinute%60)
}
