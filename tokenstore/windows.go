package tokenstore

import "time"

// Window keys are wall-clock UTC boundaries, not rolling windows: a counter
// applies to exactly one minute/hour/day and resets when the key changes.

func minuteKey(t time.Time) string { return t.UTC().Format("2006-01-02T15:04") }
func hourKey(t time.Time) string   { return t.UTC().Format("2006-01-02T15") }
func dayKey(t time.Time) string    { return t.UTC().Format("2006-01-02") }

// checkWindows returns a non-empty reason when any capped window is already
// full at the given instant. Counters whose key no longer matches the current
// window count as zero.
func checkWindows(tok *Token, now time.Time) string {
	lim := tok.RateLimits
	if lim.PerMinute > 0 && tok.Windows.MinuteKey == minuteKey(now) && tok.Windows.MinuteCount >= lim.PerMinute {
		return "per-minute rate limit exceeded"
	}
	if lim.PerHour > 0 && tok.Windows.HourKey == hourKey(now) && tok.Windows.HourCount >= lim.PerHour {
		return "per-hour rate limit exceeded"
	}
	if lim.PerDay > 0 && tok.Windows.DayKey == dayKey(now) && tok.Windows.DayCount >= lim.PerDay {
		return "per-day rate limit exceeded"
	}
	return ""
}

// rollWindows resets any counter whose wall-clock window has passed.
func rollWindows(tok *Token, now time.Time) {
	if k := minuteKey(now); tok.Windows.MinuteKey != k {
		tok.Windows.MinuteKey = k
		tok.Windows.MinuteCount = 0
	}
	if k := hourKey(now); tok.Windows.HourKey != k {
		tok.Windows.HourKey = k
		tok.Windows.HourCount = 0
	}
	if k := dayKey(now); tok.Windows.DayKey != k {
		tok.Windows.DayKey = k
		tok.Windows.DayCount = 0
	}
}
