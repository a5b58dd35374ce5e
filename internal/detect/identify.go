package detect

import (
	"fmt"
	"strings"
)

// headingIndex finds a header column by text, trimmed and case-folded.
// Returns -1 when absent.
func headingIndex(header []string, want string) int {
	want = strings.TrimSpace(want)
	for i, h := range header {
		if strings.EqualFold(strings.TrimSpace(h), want) {
			return i
		}
	}
	return -1
}

// hasIDHint reports whether a header label names an identifier. The match
// is a case-insensitive substring test, so "ThermostatId", "DEVICE_ID" and
// "Identifier" all qualify.
func hasIDHint(label string) bool {
	return strings.Contains(strings.ToLower(label), "id")
}

// resolveID locates the identifier column through a fixed cascade, each
// step firing only when the previous produced nothing:
//
//  1. an explicitly configured heading, which must exist and must not be a
//     reserved timestamp or cycle column
//  2. an ID hint in the first or second header label; when both carry one,
//     the column with more distinct sampled values wins and ties go to
//     column 0
//  3. the sole alphanumeric column, when exactly one exists
//  4. among the all-digit columns: the single one whose maximum exceeds
//     floor; several puts the largest maximum first; none falls back to
//     the largest standard deviation
//
// Errors: *SchemaMismatchError for an unusable explicit heading,
// *UnresolvedIDError when the whole cascade comes up empty.
func resolveID(header []string, scans []*columnScan, types []ColumnType, reserved, ignored map[int]bool, idHeading string, floor float64) (int, error) {
	usable := func(i int) bool { return !reserved[i] && !ignored[i] }

	if idHeading != "" {
		i := headingIndex(header, idHeading)
		if i < 0 {
			return -1, &SchemaMismatchError{Reason: fmt.Sprintf("id heading %q not in header", idHeading)}
		}
		if !usable(i) {
			return -1, &SchemaMismatchError{Reason: fmt.Sprintf("id heading %q is reserved or ignored", idHeading)}
		}
		return i, nil
	}

	hint0 := len(header) > 0 && usable(0) && hasIDHint(header[0])
	hint1 := len(header) > 1 && usable(1) && hasIDHint(header[1])
	switch {
	case hint0 && hint1:
		if scans[1].distinctCount() > scans[0].distinctCount() {
			return 1, nil
		}
		return 0, nil
	case hint0:
		return 0, nil
	case hint1:
		return 1, nil
	}

	alnum := -1
	alnumCount := 0
	for i, t := range types {
		if !usable(i) {
			continue
		}
		if t == TypeAlphanumeric {
			alnum = i
			alnumCount++
		}
	}
	if alnumCount == 1 {
		return alnum, nil
	}

	var digitCols []*columnScan
	for i, s := range scans {
		if usable(i) && s.allDigitColumn() {
			digitCols = append(digitCols, s)
		}
	}
	if len(digitCols) == 0 {
		return -1, &UnresolvedIDError{
			Failed:     "numeric fallback (no all-digit columns)",
			Considered: usableHeadings(header, reserved, ignored),
		}
	}

	var overFloor []*columnScan
	for _, s := range digitCols {
		if s.maxVal > floor {
			overFloor = append(overFloor, s)
		}
	}
	switch len(overFloor) {
	case 1:
		return overFloor[0].pos, nil
	case 0:
		best := digitCols[0]
		for _, s := range digitCols[1:] {
			if s.stdDev() > best.stdDev() {
				best = s
			}
		}
		return best.pos, nil
	}
	best := overFloor[0]
	for _, s := range overFloor[1:] {
		if s.maxVal > best.maxVal {
			best = s
		}
	}
	return best.pos, nil
}

func usableHeadings(header []string, reserved, ignored map[int]bool) []string {
	out := make([]string, 0, len(header))
	for i, h := range header {
		if !reserved[i] && !ignored[i] {
			out = append(out, strings.TrimSpace(h))
		}
	}
	return out
}
