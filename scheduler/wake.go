package scheduler

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/journeyhq/journey/model"
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

// ParseWallClock parses a wall-clock spec: "09:00" or "sunday 18:00". The
// weekday is optional and case-insensitive.
func ParseWallClock(spec string) (weekday *time.Weekday, hour int, minute int, err error) {
	fields := strings.Fields(strings.ToLower(strings.TrimSpace(spec)))
	var clockPart string
	switch len(fields) {
	case 1:
		clockPart = fields[0]
	case 2:
		day, ok := weekdays[fields[0]]
		if !ok {
			return nil, 0, 0, fmt.Errorf("unknown weekday %q in wall clock spec %q", fields[0], spec)
		}
		weekday = &day
		clockPart = fields[1]
	default:
		return nil, 0, 0, fmt.Errorf("malformed wall clock spec %q", spec)
	}
	parts := strings.Split(clockPart, ":")
	if len(parts) != 2 {
		return nil, 0, 0, fmt.Errorf("malformed wall clock spec %q", spec)
	}
	hour, err = strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 23 {
		return nil, 0, 0, fmt.Errorf("bad hour in wall clock spec %q", spec)
	}
	minute, err = strconv.Atoi(parts[1])
	if err != nil || minute < 0 || minute > 59 {
		return nil, 0, 0, fmt.Errorf("bad minute in wall clock spec %q", spec)
	}
	return weekday, hour, minute, nil
}

// ResolveWakeAt computes the wake instant for a delay entered at entry.
// Relative delays resume entry+duration. Local delays resume at the next
// occurrence of the target wall-clock time in loc at or after entry; a target
// already passed today rolls forward to the next eligible day. Event delays
// have no wake time unless a timeout is set.
func ResolveWakeAt(spec *model.DelaySpec, entry time.Time, loc *time.Location) (time.Time, error) {
	switch spec.Kind {
	case model.DELAY_RELATIVE:
		return entry.Add(time.Duration(spec.DurationSeconds) * time.Second), nil
	case model.DELAY_LOCAL:
		return resolveLocal(spec.WallClock, entry, loc)
	case model.DELAY_EVENT:
		if spec.TimeoutSeconds > 0 {
			return entry.Add(time.Duration(spec.TimeoutSeconds) * time.Second), nil
		}
		return time.Time{}, fmt.Errorf("event delay carries no wake time")
	}
	return time.Time{}, fmt.Errorf("unknown delay kind %q", spec.Kind)
}

func resolveLocal(wallClock string, entry time.Time, loc *time.Location) (time.Time, error) {
	weekday, hour, minute, err := ParseWallClock(wallClock)
	if err != nil {
		return time.Time{}, err
	}
	local := entry.In(loc)
	candidate := time.Date(local.Year(), local.Month(), local.Day(), hour, minute, 0, 0, loc)
	if weekday == nil {
		if candidate.Before(entry) {
			candidate = candidate.AddDate(0, 0, 1)
		}
		return candidate, nil
	}
	for i := 0; i < 8; i++ {
		if candidate.Weekday() == *weekday && !candidate.Before(entry) {
			return candidate, nil
		}
		candidate = candidate.AddDate(0, 0, 1)
	}
	return time.Time{}, fmt.Errorf("no occurrence of wall clock spec %q within a week", wallClock)
}
