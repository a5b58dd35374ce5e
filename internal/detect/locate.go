package detect

import (
	"io"
	"strings"
	"time"
)

// timestampLayouts are the wall-clock shapes thermostat exports are known to
// use, most common first. Unpadded layouts also accept zero-padded input, so
// "01/02/2014" parses under "1/2/2006".
var timestampLayouts = []string{
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05Z07:00",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04",
	"1/2/2006 15:04:05",
	"1/2/2006 15:04",
	"1/2/06 15:04",
	"2006-01-02",
	"1/2/2006",
}

// timestampMarks is the cheap pre-filter: a field without any of these
// characters can never parse under the known layouts, so the parse attempts
// are skipped entirely.
const timestampMarks = ":/-"

// ParseTimestamp parses a field under the known layouts. The boolean is
// false when the field is not a timestamp.
func ParseTimestamp(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if !strings.ContainsAny(s, timestampMarks) {
		return time.Time{}, false
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// IsTimestamp reports whether a field parses as a timestamp.
func IsTimestamp(s string) bool {
	_, ok := ParseTimestamp(s)
	return ok
}

func countTimestampFields(fields []string) int {
	n := 0
	for _, f := range fields {
		if IsTimestamp(f) {
			n++
		}
	}
	return n
}

// locateTimestamps finds the first and second timestamp columns in one
// sample record, skipping reserved positions (the cycle-mode column).
// Either return is -1 when no such column exists.
func locateTimestamps(record []string, reserved map[int]bool) (first, second int) {
	first, second = -1, -1
	for i, field := range record {
		if reserved[i] {
			continue
		}
		if !IsTimestamp(field) {
			continue
		}
		if first < 0 {
			first = i
			continue
		}
		second = i
		return first, second
	}
	return first, second
}

// locateCycleColumn scans raw lines for the requested cycle-mode literal and
// returns the position of the field that holds it. The scan is bounded: a
// literal that does not show up within limit lines is treated as absent
// rather than reading an arbitrarily large file to the end.
//
// Errors: *CycleNotFoundError when the literal never appears within the
// bound.
func locateCycleColumn(r io.Reader, f Format, literal string, limit int) (int, error) {
	literal = strings.TrimSpace(literal)
	sc := NewLineScanner(r)
	scanned := 0
	for scanned < limit && sc.Scan() {
		scanned++
		fields, err := splitLine(sc.Text(), f)
		if err != nil {
			continue
		}
		for i, field := range fields {
			if strings.TrimSpace(field) == literal {
				return i, nil
			}
		}
	}
	if err := sc.Err(); err != nil {
		return -1, err
	}
	return -1, &CycleNotFoundError{Literal: literal, Lines: scanned}
}
