package service

import (
	"fmt"
	"time"
)

// ResolveWindow combines a session's calendar date with its HH:MM (or
// HH:MM:SS) time-of-day strings in the given location. All window
// resolution in the process must go through this function with the same
// location: the scheduler, session status derivation, and recovery queries
// disagree silently otherwise.
func ResolveWindow(date time.Time, startStr, endStr string, loc *time.Location) (start, end time.Time, err error) {
	if loc == nil {
		loc = time.Local
	}
	startH, startM, startS, err := parseTimeOfDay(startStr)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("start time: %w", err)
	}
	endH, endM, endS, err := parseTimeOfDay(endStr)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("end time: %w", err)
	}
	year, month, day := date.Date()
	start = time.Date(year, month, day, startH, startM, startS, 0, loc)
	end = time.Date(year, month, day, endH, endM, endS, 0, loc)
	return start, end, nil
}

func parseTimeOfDay(raw string) (hour, minute, second int, err error) {
	parsed, err := time.Parse("15:04:05", raw)
	if err != nil {
		parsed, err = time.Parse("15:04", raw)
	}
	if err != nil {
		return 0, 0, 0, fmt.Errorf("invalid time of day %q, expected HH:MM", raw)
	}
	return parsed.Hour(), parsed.Minute(), parsed.Second(), nil
}
