// Package summarize reduces indexed tables to per-device coverage facts:
// which calendar days carry data, how records distribute across days, and
// which stretches of days run unbroken. These are the numbers used to pick
// devices and date ranges worth analyzing before any resampling happens.
package summarize

import (
	"fmt"
	"sort"
	"strings"

	"github.com/golang-sql/civil"

	"thermoclean/internal/detect"
	"thermoclean/internal/history"
)

// DefaultMinStreakDays is the shortest run of consecutive days worth
// reporting. Two days cannot show a daily pattern.
const DefaultMinStreakDays = 3

// DayCount is the number of records one device produced on one calendar
// day.
type DayCount struct {
	Day   civil.Date
	Count int
}

// Streak is an unbroken run of calendar days with data for one device.
type Streak struct {
	DeviceID string
	First    civil.Date
	Last     civil.Date
	Days     int
	Records  int
}

func (s Streak) String() string {
	return fmt.Sprintf("%s: %s..%s (%d days, %d records)", s.DeviceID, s.First, s.Last, s.Days, s.Records)
}

// ObsDays buckets one device's observations by calendar day, sorted.
func ObsDays(t *history.ObsTable, id string) []DayCount {
	counts := make(map[civil.Date]int)
	for _, r := range t.ForDevice(id) {
		counts[civil.DateOf(r.Time)]++
	}
	return sortedCounts(counts)
}

// CycleDays buckets one device's cycles by the calendar day each interval
// starts on, sorted.
func CycleDays(t *history.CycleTable, id string) []DayCount {
	counts := make(map[civil.Date]int)
	for _, r := range t.ForDevice(id) {
		counts[civil.DateOf(r.Start)]++
	}
	return sortedCounts(counts)
}

func sortedCounts(counts map[civil.Date]int) []DayCount {
	out := make([]DayCount, 0, len(counts))
	for d, n := range counts {
		out = append(out, DayCount{Day: d, Count: n})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Day.Before(out[j].Day) })
	return out
}

// DaysOfData is the number of distinct calendar days covered.
func DaysOfData(counts []DayCount) int { return len(counts) }

// Streaks finds every run of consecutive days in a sorted day-count list
// that lasts at least minDays (DefaultMinStreakDays when minDays is not
// positive).
//
// The first and last day of the list are dropped before the search unless
// includeEnds is set: exports usually begin and end mid-day, and a partial
// day inside a streak would understate its daily record rate.
func Streaks(id string, counts []DayCount, minDays int, includeEnds bool) []Streak {
	if minDays <= 0 {
		minDays = DefaultMinStreakDays
	}
	if !includeEnds {
		if len(counts) <= 2 {
			return nil
		}
		counts = counts[1 : len(counts)-1]
	}
	if len(counts) == 0 {
		return nil
	}

	var streaks []Streak
	run := Streak{DeviceID: id, First: counts[0].Day, Last: counts[0].Day, Days: 1, Records: counts[0].Count}
	for _, dc := range counts[1:] {
		if dc.Day.DaysSince(run.Last) == 1 {
			run.Last = dc.Day
			run.Days++
			run.Records += dc.Count
			continue
		}
		if run.Days >= minDays {
			streaks = append(streaks, run)
		}
		run = Streak{DeviceID: id, First: dc.Day, Last: dc.Day, Days: 1, Records: dc.Count}
	}
	if run.Days >= minDays {
		streaks = append(streaks, run)
	}
	return streaks
}

// JoinedDayCount pairs cycle and observation counts for one device day.
// Days present in either table appear; the missing side counts zero.
type JoinedDayCount struct {
	Day    civil.Date
	Cycles int
	Obs    int
}

// DailyCyclesAndObs outer-joins one device's daily cycle counts with its
// daily observation counts, sorted by day.
func DailyCyclesAndObs(ct *history.CycleTable, ot *history.ObsTable, id string) []JoinedDayCount {
	joined := make(map[civil.Date]JoinedDayCount)
	for _, dc := range CycleDays(ct, id) {
		j := joined[dc.Day]
		j.Day = dc.Day
		j.Cycles = dc.Count
		joined[dc.Day] = j
	}
	for _, dc := range ObsDays(ot, id) {
		j := joined[dc.Day]
		j.Day = dc.Day
		j.Obs = dc.Count
		joined[dc.Day] = j
	}
	out := make([]JoinedDayCount, 0, len(joined))
	for _, j := range joined {
		out = append(out, j)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Day.Before(out[j].Day) })
	return out
}

// DaysInAll filters a day-count list to the days every other list also
// covers. Counts keep their values and order; with no other lists the
// input comes back unchanged.
func DaysInAll(counts []DayCount, others ...[]DayCount) []DayCount {
	for _, other := range others {
		days := make(map[civil.Date]bool, len(other))
		for _, dc := range other {
			days[dc.Day] = true
		}
		var kept []DayCount
		for _, dc := range counts {
			if days[dc.Day] {
				kept = append(kept, dc)
			}
		}
		counts = kept
	}
	return counts
}

// DeviceLocations maps device ids to the location each device reports
// from, loaded from a devices metadata file. The mapping is what lets
// indoor device data join against outdoor location data.
type DeviceLocations struct {
	byDevice   map[string]string
	byLocation map[string][]string
}

// LoadDeviceLocations reads a delimited devices file and indexes the
// device and location columns named by heading. The delimiter defaults to
// a comma when delim is zero.
//
// Errors: missing headings fail with *detect.SchemaMismatchError; rows
// with empty or missing fields under either heading are skipped.
func LoadDeviceLocations(path, deviceHeading, locationHeading string, delim rune) (*DeviceLocations, error) {
	if delim == 0 {
		delim = ','
	}
	format := detect.Format{Delimiter: delim}

	rc, err := detect.OpenText(path, "")
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	sc := detect.NewLineScanner(rc)
	if !sc.Scan() {
		if err := sc.Err(); err != nil {
			return nil, err
		}
		return nil, &detect.SchemaMismatchError{Reason: fmt.Sprintf("devices file %s is empty", path)}
	}
	header, err := format.Split(sc.Text())
	if err != nil {
		return nil, &detect.SchemaMismatchError{Reason: fmt.Sprintf("devices file header does not contain %q", delim)}
	}

	devCol := findHeading(header, deviceHeading)
	locCol := findHeading(header, locationHeading)
	if devCol < 0 {
		return nil, &detect.SchemaMismatchError{Reason: fmt.Sprintf("devices file has no %q column", deviceHeading)}
	}
	if locCol < 0 {
		return nil, &detect.SchemaMismatchError{Reason: fmt.Sprintf("devices file has no %q column", locationHeading)}
	}

	d := &DeviceLocations{
		byDevice:   make(map[string]string),
		byLocation: make(map[string][]string),
	}
	for sc.Scan() {
		fields, err := format.Split(sc.Text())
		if err != nil || len(fields) <= devCol || len(fields) <= locCol {
			continue
		}
		dev := strings.TrimSpace(fields[devCol])
		loc := strings.TrimSpace(fields[locCol])
		if dev == "" || loc == "" {
			continue
		}
		// Last row wins for a repeated device id.
		d.byDevice[dev] = loc
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	for dev, loc := range d.byDevice {
		d.byLocation[loc] = append(d.byLocation[loc], dev)
	}
	for _, devs := range d.byLocation {
		sort.Strings(devs)
	}
	return d, nil
}

func findHeading(header []string, want string) int {
	want = strings.TrimSpace(want)
	for i, h := range header {
		if strings.EqualFold(strings.TrimSpace(h), want) {
			return i
		}
	}
	return -1
}

// LocationOf returns the location a device reports from.
func (d *DeviceLocations) LocationOf(deviceID string) (string, bool) {
	loc, ok := d.byDevice[deviceID]
	return loc, ok
}

// DevicesAt returns the device ids at one location, sorted.
func (d *DeviceLocations) DevicesAt(locationID string) []string {
	return d.byLocation[locationID]
}

// Len is the number of devices in the mapping.
func (d *DeviceLocations) Len() int { return len(d.byDevice) }
