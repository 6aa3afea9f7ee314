package domain

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// WeekdayNameShort returns a two-letter name for the weekday
func WeekdayNameShort(d time.Weekday) string {
	names := []string{"Su", "Mo", "Tu", "We", "Th", "Fr", "Sa"}
	if d >= 0 && int(d) < len(names) {
		return names[d]
	}
	return ""
}

// ParseWeekday accepts a number 0-6 (Sunday first) or an English name/abbreviation.
func ParseWeekday(s string) (time.Weekday, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if n, err := strconv.Atoi(s); err == nil {
		if n < 0 || n > 6 {
			return time.Sunday, fmt.Errorf("weekday out of range: %d", n)
		}
		return time.Weekday(n), nil
	}

	mapping := map[string]time.Weekday{
		"su": time.Sunday, "sun": time.Sunday, "sunday": time.Sunday,
		"mo": time.Monday, "mon": time.Monday, "monday": time.Monday,
		"tu": time.Tuesday, "tue": time.Tuesday, "tuesday": time.Tuesday,
		"we": time.Wednesday, "wed": time.Wednesday, "wednesday": time.Wednesday,
		"th": time.Thursday, "thu": time.Thursday, "thursday": time.Thursday,
		"fr": time.Friday, "fri": time.Friday, "friday": time.Friday,
		"sa": time.Saturday, "sat": time.Saturday, "saturday": time.Saturday,
	}
	if d, ok := mapping[s]; ok {
		return d, nil
	}
	return time.Sunday, fmt.Errorf("unknown weekday: %s", s)
}

// ParseWeekdays parses a comma separated list such as "mo,we" or "1,3".
func ParseWeekdays(s string) ([]time.Weekday, error) {
	var days []time.Weekday
	for _, part := range strings.Split(s, ",") {
		if strings.TrimSpace(part) == "" {
			continue
		}
		d, err := ParseWeekday(part)
		if err != nil {
			return nil, err
		}
		days = append(days, d)
	}
	return days, nil
}
