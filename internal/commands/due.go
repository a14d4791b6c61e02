package commands

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

var weekdays = map[string]time.Weekday{
	"sunday":    time.Sunday,
	"monday":    time.Monday,
	"tuesday":   time.Tuesday,
	"wednesday": time.Wednesday,
	"thursday":  time.Thursday,
	"friday":    time.Friday,
	"saturday":  time.Saturday,
}

// ParseDueDate interprets the argument of a due directive: an ISO date,
// "today", "tomorrow", "in <n> days", or a weekday name meaning the next
// such weekday.
func ParseDueDate(arg string, now time.Time) (time.Time, error) {
	arg = strings.ToLower(strings.TrimSpace(arg))
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)

	switch arg {
	case "":
		return time.Time{}, fmt.Errorf("empty due date")
	case "today":
		return today, nil
	case "tomorrow":
		return today.AddDate(0, 0, 1), nil
	}
	if parsed, err := time.Parse("2006-01-02", arg); err == nil {
		return parsed, nil
	}
	if days, ok := parseRelativeDays(arg); ok {
		return today.AddDate(0, 0, days), nil
	}
	if weekday, ok := weekdays[arg]; ok {
		delta := (int(weekday) - int(today.Weekday()) + 7) % 7
		if delta == 0 {
			delta = 7
		}
		return today.AddDate(0, 0, delta), nil
	}
	return time.Time{}, fmt.Errorf("unrecognized due date %q", arg)
}

func parseRelativeDays(arg string) (int, bool) {
	fields := strings.Fields(arg)
	if len(fields) != 3 || fields[0] != "in" {
		return 0, false
	}
	if fields[2] != "day" && fields[2] != "days" {
		return 0, false
	}
	n, err := strconv.Atoi(fields[1])
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}
