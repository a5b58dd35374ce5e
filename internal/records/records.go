// Package records defines the normalized in-memory shape of cleaned
// thermostat data: keyed record sets that pair string-keyed rows with the
// schema that produced them.
//
// Keys hold the canonical field text, not parsed values. Two rows that
// printed the same device and timestamp collide by construction, which is
// exactly the dedup the cleaners rely on; parsing happens once, later, when
// a table is built.
package records

import (
	"fmt"
	"sort"

	"thermoclean/internal/detect"
)

// CycleKey identifies one operating interval: the device, the mode it ran
// in, and the interval start. Comparable, so it keys maps directly.
type CycleKey struct {
	DeviceID string
	Mode     string
	Start    string
}

func (k CycleKey) String() string {
	if k.Mode == "" {
		return fmt.Sprintf("%s@%s", k.DeviceID, k.Start)
	}
	return fmt.Sprintf("%s/%s@%s", k.DeviceID, k.Mode, k.Start)
}

// CycleValue is the non-key remainder of a cycle row: the interval end plus
// the payload fields in schema position order.
type CycleValue struct {
	End  string
	Data []string
}

// ObsKey identifies one observation: the device (or location) and the
// moment it was recorded.
type ObsKey struct {
	DeviceID string
	Time     string
}

func (k ObsKey) String() string {
	return fmt.Sprintf("%s@%s", k.DeviceID, k.Time)
}

// CycleSet holds cleaned cycle records under the schema that shaped them.
// Inserting a key twice keeps the later row, matching the
// last-record-wins behavior of re-exported vendor files.
type CycleSet struct {
	Schema *detect.Schema
	Rows   map[CycleKey]CycleValue
}

func NewCycleSet(schema *detect.Schema) *CycleSet {
	return &CycleSet{Schema: schema, Rows: make(map[CycleKey]CycleValue)}
}

func (s *CycleSet) Add(k CycleKey, v CycleValue) { s.Rows[k] = v }

func (s *CycleSet) Len() int { return len(s.Rows) }

// SortedKeys returns every key ordered by device, then start, then mode.
// The order is lexical and stable, which is what rendering and storage
// need for reproducible output.
func (s *CycleSet) SortedKeys() []CycleKey {
	keys := make([]CycleKey, 0, len(s.Rows))
	for k := range s.Rows {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		a, b := keys[i], keys[j]
		if a.DeviceID != b.DeviceID {
			return a.DeviceID < b.DeviceID
		}
		if a.Start != b.Start {
			return a.Start < b.Start
		}
		return a.Mode < b.Mode
	})
	return keys
}

// DeviceIDs returns the distinct device ids present, sorted.
func (s *CycleSet) DeviceIDs() []string {
	return sortedDevices(func(yield func(string)) {
		for k := range s.Rows {
			yield(k.DeviceID)
		}
	})
}

// ObsSet holds cleaned single-timestamp observations (sensor or
// geospatial) under the schema that shaped them.
type ObsSet struct {
	Schema *detect.Schema
	Rows   map[ObsKey][]string
}

func NewObsSet(schema *detect.Schema) *ObsSet {
	return &ObsSet{Schema: schema, Rows: make(map[ObsKey][]string)}
}

func (s *ObsSet) Add(k ObsKey, data []string) { s.Rows[k] = data }

func (s *ObsSet) Len() int { return len(s.Rows) }

// SortedKeys returns every key ordered by device then time.
func (s *ObsSet) SortedKeys() []ObsKey {
	keys := make([]ObsKey, 0, len(s.Rows))
	for k := range s.Rows {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		a, b := keys[i], keys[j]
		if a.DeviceID != b.DeviceID {
			return a.DeviceID < b.DeviceID
		}
		return a.Time < b.Time
	})
	return keys
}

// DeviceIDs returns the distinct device ids present, sorted.
func (s *ObsSet) DeviceIDs() []string {
	return sortedDevices(func(yield func(string)) {
		for k := range s.Rows {
			yield(k.DeviceID)
		}
	})
}

func sortedDevices(each func(yield func(string))) []string {
	seen := make(map[string]struct{})
	each(func(id string) { seen[id] = struct{}{} })
	out := make([]string, 0, len(seen))
	for id := range seen {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
