// Package history builds indexed in-memory tables from cleaned record
// sets. Keys are parsed exactly once here: a timestamp that survived
// cleaning as text either parses now or fails construction with the
// offending key named. Tables are sorted by device and time and are
// immutable once built, so every lookup is a binary search over shared
// slices.
package history

import (
	"fmt"
	"math/rand"
	"sort"
	"time"

	"thermoclean/internal/detect"
	"thermoclean/internal/records"
)

// CycleRow is one operating interval with parsed endpoints.
type CycleRow struct {
	DeviceID string
	Mode     string
	Start    time.Time
	End      time.Time
	Data     []string
}

// ObsRow is one observation with a parsed timestamp.
type ObsRow struct {
	DeviceID string
	Time     time.Time
	Data     []string
}

type span struct{ lo, hi int }

// CycleTable holds cycle rows sorted by device, start, mode, with a
// per-device index.
type CycleTable struct {
	Schema *detect.Schema
	Rows   []CycleRow

	spans map[string]span
}

// NewCycleTable parses and indexes a cleaned cycle set.
//
// Errors: any start or end that does not parse under the known timestamp
// layouts fails construction and names the record key; there is no partial
// table.
func NewCycleTable(set *records.CycleSet) (*CycleTable, error) {
	t := &CycleTable{
		Schema: set.Schema,
		Rows:   make([]CycleRow, 0, set.Len()),
	}
	for k, v := range set.Rows {
		start, ok := detect.ParseTimestamp(k.Start)
		if !ok {
			return nil, fmt.Errorf("cycle %s: start %q is not a timestamp", k, k.Start)
		}
		end, ok := detect.ParseTimestamp(v.End)
		if !ok {
			return nil, fmt.Errorf("cycle %s: end %q is not a timestamp", k, v.End)
		}
		t.Rows = append(t.Rows, CycleRow{
			DeviceID: k.DeviceID,
			Mode:     k.Mode,
			Start:    start,
			End:      end,
			Data:     v.Data,
		})
	}
	sort.Slice(t.Rows, func(i, j int) bool {
		a, b := t.Rows[i], t.Rows[j]
		if a.DeviceID != b.DeviceID {
			return a.DeviceID < b.DeviceID
		}
		if !a.Start.Equal(b.Start) {
			return a.Start.Before(b.Start)
		}
		return a.Mode < b.Mode
	})
	t.spans = cycleSpans(t.Rows)
	return t, nil
}

func cycleSpans(rows []CycleRow) map[string]span {
	spans := make(map[string]span)
	for i, r := range rows {
		s, ok := spans[r.DeviceID]
		if !ok {
			s = span{lo: i, hi: i}
		}
		s.hi = i + 1
		spans[r.DeviceID] = s
	}
	return spans
}

func (t *CycleTable) Len() int { return len(t.Rows) }

// Devices returns the distinct device ids, sorted.
func (t *CycleTable) Devices() []string {
	out := make([]string, 0, len(t.spans))
	for id := range t.spans {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// ForDevice returns the rows of one device in start order. The slice is a
// view into the table; callers must not mutate it.
func (t *CycleTable) ForDevice(id string) []CycleRow {
	s, ok := t.spans[id]
	if !ok {
		return nil
	}
	return t.Rows[s.lo:s.hi]
}

// Between returns one device's rows whose start falls in [from, to]. Both
// bounds are inclusive.
func (t *CycleTable) Between(id string, from, to time.Time) []CycleRow {
	rows := t.ForDevice(id)
	lo := sort.Search(len(rows), func(i int) bool { return !rows[i].Start.Before(from) })
	hi := sort.Search(len(rows), func(i int) bool { return rows[i].Start.After(to) })
	if lo >= hi {
		return nil
	}
	return rows[lo:hi]
}

// Random returns one uniformly chosen row, handy for eyeballing a build.
// A nil rng uses the package-global source.
func (t *CycleTable) Random(rng *rand.Rand) (CycleRow, bool) {
	if len(t.Rows) == 0 {
		return CycleRow{}, false
	}
	if rng == nil {
		return t.Rows[rand.Intn(len(t.Rows))], true
	}
	return t.Rows[rng.Intn(len(t.Rows))], true
}

// DataSlot maps a payload heading to its offset inside Row.Data. The
// second return is false when the heading is not a payload column.
func (t *CycleTable) DataSlot(heading string) (int, bool) {
	return dataSlot(t.Schema, heading)
}

// ObsTable holds observation rows sorted by device then time, with a
// per-device index.
type ObsTable struct {
	Schema *detect.Schema
	Rows   []ObsRow

	spans map[string]span
}

// NewObsTable parses and indexes a cleaned observation set.
//
// Errors: any timestamp that does not parse fails construction and names
// the record key.
func NewObsTable(set *records.ObsSet) (*ObsTable, error) {
	t := &ObsTable{
		Schema: set.Schema,
		Rows:   make([]ObsRow, 0, set.Len()),
	}
	for k, data := range set.Rows {
		ts, ok := detect.ParseTimestamp(k.Time)
		if !ok {
			return nil, fmt.Errorf("observation %s: time %q is not a timestamp", k, k.Time)
		}
		t.Rows = append(t.Rows, ObsRow{DeviceID: k.DeviceID, Time: ts, Data: data})
	}
	sort.Slice(t.Rows, func(i, j int) bool {
		a, b := t.Rows[i], t.Rows[j]
		if a.DeviceID != b.DeviceID {
			return a.DeviceID < b.DeviceID
		}
		return a.Time.Before(b.Time)
	})
	t.spans = obsSpans(t.Rows)
	return t, nil
}

func obsSpans(rows []ObsRow) map[string]span {
	spans := make(map[string]span)
	for i, r := range rows {
		s, ok := spans[r.DeviceID]
		if !ok {
			s = span{lo: i, hi: i}
		}
		s.hi = i + 1
		spans[r.DeviceID] = s
	}
	return spans
}

func (t *ObsTable) Len() int { return len(t.Rows) }

// Devices returns the distinct device ids, sorted.
func (t *ObsTable) Devices() []string {
	out := make([]string, 0, len(t.spans))
	for id := range t.spans {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// ForDevice returns the rows of one device in time order. The slice is a
// view into the table; callers must not mutate it.
func (t *ObsTable) ForDevice(id string) []ObsRow {
	s, ok := t.spans[id]
	if !ok {
		return nil
	}
	return t.Rows[s.lo:s.hi]
}

// Between returns one device's rows whose time falls in [from, to]. Both
// bounds are inclusive.
func (t *ObsTable) Between(id string, from, to time.Time) []ObsRow {
	rows := t.ForDevice(id)
	lo := sort.Search(len(rows), func(i int) bool { return !rows[i].Time.Before(from) })
	hi := sort.Search(len(rows), func(i int) bool { return rows[i].Time.After(to) })
	if lo >= hi {
		return nil
	}
	return rows[lo:hi]
}

// Random returns one uniformly chosen row. A nil rng uses the
// package-global source.
func (t *ObsTable) Random(rng *rand.Rand) (ObsRow, bool) {
	if len(t.Rows) == 0 {
		return ObsRow{}, false
	}
	if rng == nil {
		return t.Rows[rand.Intn(len(t.Rows))], true
	}
	return t.Rows[rng.Intn(len(t.Rows))], true
}

// DataSlot maps a payload heading to its offset inside Row.Data.
func (t *ObsTable) DataSlot(heading string) (int, bool) {
	return dataSlot(t.Schema, heading)
}

func dataSlot(schema *detect.Schema, heading string) (int, bool) {
	for i, c := range schema.Payload() {
		if c.Heading == heading {
			return i, true
		}
	}
	return 0, false
}
