package summarize

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/golang-sql/civil"

	"thermoclean/internal/detect"
	"thermoclean/internal/history"
	"thermoclean/internal/records"
)

func writeTemp(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func day(y int, m time.Month, d int) civil.Date {
	return civil.Date{Year: y, Month: m, Day: d}
}

// cycleTable holds device 482 with two cycles starting on Jan 1 (one of
// them crossing midnight) and one on Jan 2, plus an unrelated device.
func cycleTable(t *testing.T) *history.CycleTable {
	t.Helper()
	s := records.NewCycleSet(nil)
	add := func(dev, mode, start, end string) {
		s.Add(
			records.CycleKey{DeviceID: dev, Mode: mode, Start: start},
			records.CycleValue{End: end},
		)
	}
	add("482", "Cool", "2014-01-01 08:00:00", "2014-01-01 08:20:00")
	add("482", "Cool", "2014-01-01 23:50:00", "2014-01-02 00:10:00")
	add("482", "Heat", "2014-01-02 09:00:00", "2014-01-02 09:15:00")
	add("900", "Cool", "2014-01-05 00:00:00", "2014-01-05 00:05:00")

	tbl, err := history.NewCycleTable(s)
	if err != nil {
		t.Fatalf("NewCycleTable: %v", err)
	}
	return tbl
}

func obsTable(t *testing.T) *history.ObsTable {
	t.Helper()
	s := records.NewObsSet(nil)
	add := func(dev, ts string) {
		s.Add(records.ObsKey{DeviceID: dev, Time: ts}, []string{"70"})
	}
	add("482", "2014-01-02 00:00:00")
	add("482", "2014-01-02 12:00:00")
	add("482", "2014-01-03 07:00:00")
	add("900", "2014-01-05 00:00:00")

	tbl, err := history.NewObsTable(s)
	if err != nil {
		t.Fatalf("NewObsTable: %v", err)
	}
	return tbl
}

//
// day bucketing
//

// TestCycleDays verifies that cycles bucket by the day the interval starts
// on: a cycle running past midnight still counts on its start day.
func TestCycleDays(t *testing.T) {
	t.Parallel()

	got := CycleDays(cycleTable(t), "482")
	want := []DayCount{
		{Day: day(2014, time.January, 1), Count: 2},
		{Day: day(2014, time.January, 2), Count: 1},
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("CycleDays = %v, want %v", got, want)
	}
	if n := DaysOfData(got); n != 2 {
		t.Fatalf("DaysOfData = %d, want 2", n)
	}
}

func TestObsDays(t *testing.T) {
	t.Parallel()

	ot := obsTable(t)
	got := ObsDays(ot, "482")
	want := []DayCount{
		{Day: day(2014, time.January, 2), Count: 2},
		{Day: day(2014, time.January, 3), Count: 1},
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("ObsDays = %v, want %v", got, want)
	}

	if got := ObsDays(ot, "999"); len(got) != 0 {
		t.Fatalf("ObsDays for an unknown device = %v, want none", got)
	}
}

//
// Streaks
//

// TestStreaks verifies run detection over a day-count list with gaps.
//
// Edge cases validated:
//   - first and last day are dropped before the search by default
//   - a run ending at the (trimmed) list end is still reported
//   - minDays filters short runs; zero minDays means the default of 3
func TestStreaks(t *testing.T) {
	t.Parallel()

	counts := []DayCount{
		{Day: day(2014, time.January, 1), Count: 5},
		{Day: day(2014, time.January, 2), Count: 4},
		{Day: day(2014, time.January, 3), Count: 6},
		{Day: day(2014, time.January, 4), Count: 1},
		{Day: day(2014, time.January, 5), Count: 2},
		{Day: day(2014, time.January, 6), Count: 3},
		{Day: day(2014, time.January, 10), Count: 7},
		{Day: day(2014, time.January, 11), Count: 8},
		{Day: day(2014, time.January, 12), Count: 9},
		{Day: day(2014, time.January, 20), Count: 2},
	}

	got := Streaks("482", counts, 0, false)
	want := []Streak{
		{DeviceID: "482", First: day(2014, time.January, 2), Last: day(2014, time.January, 6), Days: 5, Records: 16},
		{DeviceID: "482", First: day(2014, time.January, 10), Last: day(2014, time.January, 12), Days: 3, Records: 24},
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Streaks = %v, want %v", got, want)
	}

	if got := Streaks("482", counts, 4, false); !reflect.DeepEqual(got, want[:1]) {
		t.Fatalf("Streaks with minDays=4 = %v, want only the 5 day run", got)
	}
}

// TestStreaksIncludeEnds verifies that includeEnds keeps the partial first
// and last day in play. The trailing single day still falls under minDays.
func TestStreaksIncludeEnds(t *testing.T) {
	t.Parallel()

	counts := []DayCount{
		{Day: day(2014, time.January, 1), Count: 5},
		{Day: day(2014, time.January, 2), Count: 4},
		{Day: day(2014, time.January, 3), Count: 6},
		{Day: day(2014, time.January, 20), Count: 2},
	}

	got := Streaks("482", counts, 0, true)
	want := []Streak{
		{DeviceID: "482", First: day(2014, time.January, 1), Last: day(2014, time.January, 3), Days: 3, Records: 15},
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Streaks = %v, want %v", got, want)
	}
}

func TestStreaksShortLists(t *testing.T) {
	t.Parallel()

	two := []DayCount{
		{Day: day(2014, time.January, 1), Count: 5},
		{Day: day(2014, time.January, 2), Count: 4},
	}
	if got := Streaks("482", two, 1, false); got != nil {
		t.Fatalf("Streaks on a two day list = %v, want nil", got)
	}
	if got := Streaks("482", nil, 1, false); got != nil {
		t.Fatalf("Streaks on an empty list = %v, want nil", got)
	}

	// Dropping the ends of a three day list leaves a single interior day,
	// reportable only when minDays allows a one day run.
	three := append(two, DayCount{Day: day(2014, time.January, 3), Count: 6})
	if got := Streaks("482", three, 0, false); got != nil {
		t.Fatalf("Streaks with default minDays = %v, want nil", got)
	}
	got := Streaks("482", three, 1, false)
	want := []Streak{
		{DeviceID: "482", First: day(2014, time.January, 2), Last: day(2014, time.January, 2), Days: 1, Records: 4},
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Streaks with minDays=1 = %v, want %v", got, want)
	}
}

func TestStreakString(t *testing.T) {
	t.Parallel()

	s := Streak{
		DeviceID: "482",
		First:    day(2014, time.January, 2),
		Last:     day(2014, time.January, 6),
		Days:     5,
		Records:  16,
	}
	want := "482: 2014-01-02..2014-01-06 (5 days, 16 records)"
	if got := s.String(); got != want {
		t.Fatalf("String = %q, want %q", got, want)
	}
}

//
// DailyCyclesAndObs
//

// TestDailyCyclesAndObs verifies the outer join: days present in either
// table appear, with zero on the missing side.
func TestDailyCyclesAndObs(t *testing.T) {
	t.Parallel()

	got := DailyCyclesAndObs(cycleTable(t), obsTable(t), "482")
	want := []JoinedDayCount{
		{Day: day(2014, time.January, 1), Cycles: 2, Obs: 0},
		{Day: day(2014, time.January, 2), Cycles: 1, Obs: 2},
		{Day: day(2014, time.January, 3), Cycles: 0, Obs: 1},
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("DailyCyclesAndObs = %v, want %v", got, want)
	}
}

// TestDaysInAll verifies the day intersection used to gate streaks on
// joined tables: only days present in every list survive, with the first
// list's counts.
func TestDaysInAll(t *testing.T) {
	t.Parallel()

	ct, ot := cycleTable(t), obsTable(t)
	counts := CycleDays(ct, "482")

	got := DaysInAll(counts, ObsDays(ot, "482"))
	want := []DayCount{{Day: day(2014, time.January, 2), Count: 1}}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("DaysInAll = %v, want only Jan 2", got)
	}

	if got := DaysInAll(counts); !reflect.DeepEqual(got, counts) {
		t.Fatalf("DaysInAll with no other lists = %v, want the input", got)
	}
	if got := DaysInAll(counts, ObsDays(ot, "482"), ObsDays(ot, "999")); len(got) != 0 {
		t.Fatalf("DaysInAll against an empty list = %v, want none", got)
	}
}

//
// LoadDeviceLocations
//

// TestLoadDeviceLocations verifies heading lookup and the device to
// location index built from a devices metadata file.
//
// Edge cases validated:
//   - headings match case-insensitively and fields are trimmed
//   - a repeated device id keeps the last row
//   - rows with short, empty device or empty location fields are skipped
//   - DevicesAt sorts ids as text
func TestLoadDeviceLocations(t *testing.T) {
	t.Parallel()

	path := writeTemp(t, "devices.csv", strings.Join([]string{
		"DeviceId,LocationId,ZipCode",
		"482,100,78701",
		"483,100,78701",
		" 90 , 200 ,78702",
		"410,200,78702",
		"482,300,78703",
		",100,78701",
		"485,,78701",
		"",
		"486",
	}, "\n"))

	d, err := LoadDeviceLocations(path, "deviceid", "LOCATIONID", 0)
	if err != nil {
		t.Fatalf("LoadDeviceLocations: %v", err)
	}
	if d.Len() != 4 {
		t.Fatalf("Len = %d, want 4", d.Len())
	}

	if loc, ok := d.LocationOf("482"); !ok || loc != "300" {
		t.Fatalf("LocationOf(482) = (%q, %v), want (300, true)", loc, ok)
	}
	if _, ok := d.LocationOf("485"); ok {
		t.Fatal("LocationOf(485) found a device whose location row was blank")
	}

	if got := d.DevicesAt("200"); !reflect.DeepEqual(got, []string{"410", "90"}) {
		t.Fatalf("DevicesAt(200) = %v, want [410 90]", got)
	}
	if got := d.DevicesAt("100"); !reflect.DeepEqual(got, []string{"483"}) {
		t.Fatalf("DevicesAt(100) = %v, want [483]", got)
	}
	if got := d.DevicesAt("999"); got != nil {
		t.Fatalf("DevicesAt(999) = %v, want nil", got)
	}
}

func TestLoadDeviceLocations_AltDelimiter(t *testing.T) {
	t.Parallel()

	path := writeTemp(t, "devices.txt", "DeviceId;LocationId\n482;100\n")

	d, err := LoadDeviceLocations(path, "DeviceId", "LocationId", ';')
	if err != nil {
		t.Fatalf("LoadDeviceLocations: %v", err)
	}
	if loc, ok := d.LocationOf("482"); !ok || loc != "100" {
		t.Fatalf("LocationOf(482) = (%q, %v), want (100, true)", loc, ok)
	}
}

func TestLoadDeviceLocations_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		content string
		device  string
		loc     string
	}{
		{"missing device heading", "Serial,LocationId\n482,100\n", "DeviceId", "LocationId"},
		{"missing location heading", "DeviceId,Zip\n482,78701\n", "DeviceId", "LocationId"},
		{"header without delimiter", "DeviceId\tLocationId\n", "DeviceId", "LocationId"},
		{"empty file", "", "DeviceId", "LocationId"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			path := writeTemp(t, "devices.csv", tt.content)
			_, err := LoadDeviceLocations(path, tt.device, tt.loc, 0)
			var mismatch *detect.SchemaMismatchError
			if !errors.As(err, &mismatch) {
				t.Fatalf("error = %v, want a SchemaMismatchError", err)
			}
		})
	}
}
