package reservation

import (
	"fmt"
	"time"
)

// FormatElapsed renders d as "<d> days <h> hrs <m> min <s> sec".
// Sub-second precision is truncated and negative values clamp to zero.
func FormatElapsed(d time.Duration) string {
	total := int64(d / time.Second)
	if total < 0 {
		total = 0
	}
	days := total / 86400
	total -= days * 86400
	hours := total / 3600
	total -= hours * 3600
	minutes := total / 60
	seconds := total - minutes*60
	return fmt.Sprintf("%d days %d hrs %d min %d sec", days, hours, minutes, seconds)
}

// FormatSince renders the time elapsed between start and now.
func FormatSince(start, now time.Time) string {
	return FormatElapsed(now.Sub(start))
}

// Humanize renders d as a short approximate phrase, e.g. "an hour".
func Humanize(d time.Duration) string {
	if d < 0 {
		d = -d
	}
	secs := int64(d / time.Second)
	switch {
	case secs < 1:
		return "a moment"
	case secs == 1:
		return "a second"
	case secs < 60:
		return fmt.Sprintf("%d seconds", secs)
	case secs < 120:
		return "a minute"
	case secs < 3600:
		return fmt.Sprintf("%d minutes", secs/60)
	case secs < 2*3600:
		return "an hour"
	case secs < 86400:
		return fmt.Sprintf("%d hours", secs/3600)
	case secs < 2*86400:
		return "a day"
	case secs < 365*86400:
		return fmt.Sprintf("%d days", secs/86400)
	case secs < 2*365*86400:
		return "a year"
	}
	return fmt.Sprintf("%d years", secs/(365*86400))
}
