package occurrence

import "time"

// Window is a named bucket relative to an occurrence's due instant.
type Window string

const (
	WindowOneHour Window = "one_hour"
	WindowDue     Window = "due"
	WindowMissed  Window = "missed"
)

// Band offsets relative to now. A tick every N minutes lands inside each
// band at least once as long as N does not exceed the band width.
const (
	MissedFrom  = -30 * time.Minute
	MissedUntil = -15 * time.Minute
	DueFrom     = 0
	DueUntil    = 5 * time.Minute
	OneHourFrom = 55 * time.Minute
	OneHourTo   = 60 * time.Minute
)

// urgency lists windows from most to least urgent.
var urgency = []Window{WindowMissed, WindowDue, WindowOneHour}

func (w Window) String() string {
	return string(w)
}

// Contains reports whether dueAt falls inside w's band for the given now.
// missed and due are half-open; one_hour includes its upper edge so a task
// exactly one hour out is announced.
func (w Window) Contains(now, dueAt time.Time) bool {
	d := dueAt.Sub(now)
	switch w {
	case WindowMissed:
		return d >= MissedFrom && d < MissedUntil
	case WindowDue:
		return d >= DueFrom && d < DueUntil
	case WindowOneHour:
		return d >= OneHourFrom && d <= OneHourTo
	default:
		return false
	}
}

// Windows returns every window containing dueAt, most urgent first.
func Windows(now, dueAt time.Time) []Window {
	var out []Window
	for _, w := range urgency {
		if w.Contains(now, dueAt) {
			out = append(out, w)
		}
	}
	return out
}

// MostUrgent picks the single window to evaluate this tick, restricted to
// allowed. With no allowed windows given, every window is considered.
func MostUrgent(now, dueAt time.Time, allowed ...Window) (Window, bool) {
	for _, w := range urgency {
		if len(allowed) > 0 && !containsWindow(allowed, w) {
			continue
		}
		if w.Contains(now, dueAt) {
			return w, true
		}
	}
	return "", false
}

// Span returns the earliest and latest due instants any window can match
// for now, used to bound store queries.
func Span(now time.Time, windows ...Window) (time.Time, time.Time) {
	if len(windows) == 0 {
		windows = urgency
	}
	var from, to time.Duration
	first := true
	for _, w := range windows {
		lo, hi := bounds(w)
		if first || lo < from {
			from = lo
		}
		if first || hi > to {
			to = hi
		}
		first = false
	}
	return now.Add(from), now.Add(to)
}

func bounds(w Window) (time.Duration, time.Duration) {
	switch w {
	case WindowMissed:
		return MissedFrom, MissedUntil
	case WindowDue:
		return DueFrom, DueUntil
	default:
		return OneHourFrom, OneHourTo
	}
}

func containsWindow(list []Window, w Window) bool {
	for _, item := range list {
		if item == w {
			return true
		}
	}
	return false
}
