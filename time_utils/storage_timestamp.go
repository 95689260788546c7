package timeutils

import (
	"errors"
	"fmt"
	"strconv"
	"time"
)

const (
	// storageSecondsLayout is the integer-second part of the timestamps returned by the storage service.
	storageSecondsLayout = "2006-01-02 15:04:05"

	// microsDigits is the resolution of the fractional part we keep.
	microsDigits = 6
)

var ErrInvalidTimestamp = errors.New("invalid timestamp")

// ParseStorageTimestamp converts a storage service timestamp of the form "YYYY-MM-DD HH:MM:SS[.ffffff]"
// into a UTC instant with microsecond resolution.
// The wall clock is interpreted in `loc` (time.Local if nil) unless the timestamp carries its own UTC offset
// ("Z", "+HH", "+HH:MM" or "+HHMM") straight after the seconds. Fractional parts shorter than six digits are
// right padded with zeros, longer ones are truncated to microseconds.
func ParseStorageTimestamp(s string, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.Local
	}
	if len(s) < len(storageSecondsLayout) {
		return time.Time{}, fmt.Errorf("%w: %q is too short", ErrInvalidTimestamp, s)
	}

	wallClock, err := time.ParseInLocation(storageSecondsLayout, s[:len(storageSecondsLayout)], time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q: %w", ErrInvalidTimestamp, s, err)
	}
	rest := s[len(storageSecondsLayout):]

	micros := 0
	if len(rest) > 0 && rest[0] == '.' {
		digits := 0
		for digits+1 < len(rest) && isDigit(rest[digits+1]) {
			digits++
		}
		if digits == 0 {
			return time.Time{}, fmt.Errorf("%w: %q has an empty fractional part", ErrInvalidTimestamp, s)
		}
		micros = parseMicros(rest[1 : digits+1])
		rest = rest[digits+1:]
	}

	if rest != "" {
		offset, err := parseUTCOffset(rest)
		if err != nil {
			return time.Time{}, fmt.Errorf("%w: %q: %w", ErrInvalidTimestamp, s, err)
		}
		loc = time.FixedZone("", offset)
	}

	t := time.Date(
		wallClock.Year(), wallClock.Month(), wallClock.Day(),
		wallClock.Hour(), wallClock.Minute(), wallClock.Second(),
		micros*int(time.Microsecond), loc,
	)
	return t.UTC(), nil
}

// FormatStorageTimestamp renders t in UTC using the storage timestamp format, with a "+00:00" suffix so that
// ParseStorageTimestamp recovers the same instant regardless of the location it is given.
func FormatStorageTimestamp(t time.Time) string {
	return t.UTC().Format("2006-01-02 15:04:05.000000") + "+00:00"
}

// Micros returns the microsecond field of t.
func Micros(t time.Time) int {
	return t.Nanosecond() / int(time.Microsecond)
}

func parseMicros(fraction string) int {
	if len(fraction) > microsDigits {
		fraction = fraction[:microsDigits]
	}
	for len(fraction) < microsDigits {
		fraction += "0"
	}
	// only digits can reach here, so this cannot fail
	micros, _ := strconv.Atoi(fraction)
	return micros
}

// parseUTCOffset parses "Z", "+HH", "+HH:MM" or "+HHMM" (and the "-" forms) into seconds east of UTC.
func parseUTCOffset(s string) (int, error) {
	if s == "Z" {
		return 0, nil
	}
	if s[0] != '+' && s[0] != '-' {
		return 0, fmt.Errorf("unexpected trailing characters %q", s)
	}
	sign := 1
	if s[0] == '-' {
		sign = -1
	}
	body := s[1:]
	var hh, mm string
	switch {
	case len(body) == 2:
		hh = body
	case len(body) == 4:
		hh, mm = body[:2], body[2:]
	case len(body) == 5 && body[2] == ':':
		hh, mm = body[:2], body[3:]
	default:
		return 0, fmt.Errorf("malformed utc offset %q", s)
	}

	hours, err := parseTwoDigits(hh)
	if err != nil || hours > 23 {
		return 0, fmt.Errorf("malformed utc offset %q", s)
	}
	minutes := 0
	if mm != "" {
		minutes, err = parseTwoDigits(mm)
		if err != nil || minutes > 59 {
			return 0, fmt.Errorf("malformed utc offset %q", s)
		}
	}
	return sign * (hours*3600 + minutes*60), nil
}

func parseTwoDigits(s string) (int, error) {
	if len(s) != 2 || !isDigit(s[0]) || !isDigit(s[1]) {
		return 0, fmt.Errorf("not two digits: %q", s)
	}
	return int(s[0]-'0')*10 + int(s[1]-'0'), nil
}

func isDigit(b byte) bool {
	return b >= '0' && b <= '9'
}
