package schedule

import (
	"fmt"
	"strconv"
	"strings"
)

var weekdays = map[string]string{
	"0": "Sunday", "1": "Monday", "2": "Tuesday", "3": "Wednesday",
	"4": "Thursday", "5": "Friday", "6": "Saturday", "7": "Sunday",
}

// Describe renders common 5-field cron patterns in plain language,
// falling back to the raw expression.
func Describe(expr string) string {
	fields := strings.Fields(expr)
	if len(fields) != 5 {
		return expr
	}
	minute, hour, dom, month, dow := fields[0], fields[1], fields[2], fields[3], fields[4]

	if dom != "*" || month != "*" {
		if m, h, ok := clockTime(minute, hour); ok && month == "*" && dow == "*" {
			if day, err := strconv.Atoi(dom); err == nil {
				return fmt.Sprintf("Monthly on day %d at %02d:%02d", day, h, m)
			}
		}
		return expr
	}

	if dow != "*" {
		if m, h, ok := clockTime(minute, hour); ok {
			if day, known := weekdays[dow]; known {
				return fmt.Sprintf("Every %s at %02d:%02d", day, h, m)
			}
		}
		return expr
	}

	switch {
	case minute == "*" && hour == "*":
		return "Every minute"
	case hour == "*":
		if n, ok := step(minute); ok {
			if n == 1 {
				return "Every minute"
			}
			return fmt.Sprintf("Every %d minutes", n)
		}
		if m, err := strconv.Atoi(minute); err == nil {
			if m == 0 {
				return "Every hour"
			}
			return fmt.Sprintf("Every hour at minute %d", m)
		}
	case minute == "0":
		if n, ok := step(hour); ok {
			if n == 1 {
				return "Every hour"
			}
			return fmt.Sprintf("Every %d hours", n)
		}
		if h, err := strconv.Atoi(hour); err == nil {
			return fmt.Sprintf("Every day at %02d:00", h)
		}
	default:
		if m, h, ok := clockTime(minute, hour); ok {
			return fmt.Sprintf("Every day at %02d:%02d", h, m)
		}
	}
	return expr
}

// step parses "*/n" patterns.
func step(field string) (int, bool) {
	if !strings.HasPrefix(field, "*/") {
		return 0, false
	}
	n, err := strconv.Atoi(field[2:])
	if err != nil || n < 1 {
		return 0, false
	}
	return n, true
}

// clockTime parses literal minute and hour fields.
func clockTime(minute, hour string) (int, int, bool) {
	m, err := strconv.Atoi(minute)
	if err != nil || m < 0 || m > 59 {
		return 0, 0, false
	}
	h, err := strconv.Atoi(hour)
	if err != nil || h < 0 || h > 23 {
		return 0, 0, false
	}
	return m, h, true
}
