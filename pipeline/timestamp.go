package pipeline

import (
	"fmt"
	"strings"
)

// TimestampStyle selects how relocated lines are stamped.
type TimestampStyle string

const (
	TimestampHoursMinutes        TimestampStyle = "hm"
	TimestampHoursMinutesSeconds TimestampStyle = "hms"
	TimestampTwentyFourHour      TimestampStyle = "24h"
	TimestampLocale              TimestampStyle = "locale"
)

// TimestampStyles lists the accepted styles.
var TimestampStyles = []TimestampStyle{
	TimestampHoursMinutes,
	TimestampHoursMinutesSeconds,
	TimestampTwentyFourHour,
	TimestampLocale,
}

// Layout returns the time layout for the style. Unknown styles use
// hours and minutes.
func (ts TimestampStyle) Layout() string {
	switch ts {
	case TimestampHoursMinutesSeconds:
		return "3:04:05 PM"
	case TimestampTwentyFourHour:
		return "15:04"
	case TimestampLocale:
		return "Jan _2 15:04:05"
	}
	return "3:04 PM"
}

// ParseTimestampStyle accepts a style name.
func ParseTimestampStyle(s string) (TimestampStyle, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for _, ts := range TimestampStyles {
		if string(ts) == s {
			return ts, nil
		}
	}
	return "", fmt.Errorf("unknown timestamp style %q", s)
}
