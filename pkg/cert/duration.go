package cert

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Documented approximations for calendar units. A year is 365 days and a
// month is 30 days, except that every full run of 12 months is folded into
// a year first, so "12 months", "P12M" and "1 year" all normalize to 365
// days.
const (
	Day   = 24 * time.Hour
	Month = 30 * Day
	Year  = 365 * Day
)

// ParseDuration parses a validity duration. Both ISO-8601 period strings
// (P1Y, P6M, P90D, P1Y6M, PT6H) and human forms ("12 months", "1 year",
// "90 days", "6 hours") are accepted and normalized to the same result.
// Returns an ErrInvalidDuration error on anything else.
func ParseDuration(s string) (time.Duration, error) {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return 0, WrapError(ErrCodeInvalidDuration, "empty duration", nil)
	}

	if trimmed[0] == 'P' || trimmed[0] == 'p' {
		return parseISODuration(trimmed)
	}
	return parseHumanDuration(trimmed)
}

// parseISODuration handles ISO-8601 periods of the form
// P[nY][nM][nW][nD][T[nH][nM][nS]].
func parseISODuration(s string) (time.Duration, error) {
	var years, months, weeks, days, hours, minutes, seconds int64
	inTime := false
	num := ""
	sawComponent := false

	for _, c := range strings.ToUpper(s[1:]) {
		switch {
		case c >= '0' && c <= '9':
			num += string(c)
		case c == 'T':
			if inTime || num != "" {
				return 0, invalidDuration(s)
			}
			inTime = true
		default:
			if num == "" {
				return 0, invalidDuration(s)
			}
			n, err := strconv.ParseInt(num, 10, 64)
			if err != nil {
				return 0, invalidDuration(s)
			}
			num = ""
			sawComponent = true
			switch {
			case c == 'Y' && !inTime:
				years = n
			case c == 'M' && !inTime:
				months = n
			case c == 'W' && !inTime:
				weeks = n
			case c == 'D' && !inTime:
				days = n
			case c == 'H' && inTime:
				hours = n
			case c == 'M' && inTime:
				minutes = n
			case c == 'S' && inTime:
				seconds = n
			default:
				return 0, invalidDuration(s)
			}
		}
	}
	if num != "" || !sawComponent {
		return 0, invalidDuration(s)
	}
	return combine(years, months, weeks, days, hours, minutes, seconds), nil
}

// parseHumanDuration handles "<n> <unit>" forms such as "12 months" or
// "1 year".
func parseHumanDuration(s string) (time.Duration, error) {
	fields := strings.Fields(strings.ToLower(s))
	if len(fields) != 2 {
		return 0, invalidDuration(s)
	}
	n, err := strconv.ParseInt(fields[0], 10, 64)
	if err != nil || n < 0 {
		return 0, invalidDuration(s)
	}

	switch strings.TrimSuffix(fields[1], "s") {
	case "year":
		return combine(n, 0, 0, 0, 0, 0, 0), nil
	case "month":
		return combine(0, n, 0, 0, 0, 0, 0), nil
	case "week":
		return combine(0, 0, n, 0, 0, 0, 0), nil
	case "day":
		return combine(0, 0, 0, n, 0, 0, 0), nil
	case "hour":
		return combine(0, 0, 0, 0, n, 0, 0), nil
	case "minute":
		return combine(0, 0, 0, 0, 0, n, 0), nil
	default:
		return 0, invalidDuration(s)
	}
}

// combine folds full runs of 12 months into years, then applies the
// documented unit approximations.
func combine(years, months, weeks, days, hours, minutes, seconds int64) time.Duration {
	years += months / 12
	months = months % 12
	return time.Duration(years)*Year +
		time.Duration(months)*Month +
		time.Duration(weeks)*7*Day +
		time.Duration(days)*Day +
		time.Duration(hours)*time.Hour +
		time.Duration(minutes)*time.Minute +
		time.Duration(seconds)*time.Second
}

func invalidDuration(s string) error {
	return WrapError(ErrCodeInvalidDuration, fmt.Sprintf("cannot parse duration %q", s), nil)
}
