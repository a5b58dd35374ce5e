// Package timeseries puts cleaned thermostat data onto regular time grids:
// an on/off status vector derived from cycle intervals, and observation
// series resampled to a fixed step. Grids are aligned to epoch multiples of
// the step, so two series built over the same window land on identical
// ticks and can be compared element by element.
package timeseries

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"thermoclean/internal/history"
)

// ParseFreq parses a compact frequency string into a step duration. The
// grammar is a sequence of count-unit pairs where a missing count means 1:
//
//	"min"     -> 1m
//	"2min"    -> 2m
//	"min30s"  -> 1m30s
//	"1h"      -> 1h
//	"90s"     -> 90s
//	"1d"      -> 24h
//
// Units are h, min, s and d. A bare "m" is rejected rather than guessed at;
// minutes are always spelled "min".
func ParseFreq(s string) (time.Duration, error) {
	in := strings.ToLower(strings.TrimSpace(s))
	if in == "" {
		return 0, fmt.Errorf("empty frequency")
	}

	var total time.Duration
	rest := in
	for rest != "" {
		digits := 0
		for digits < len(rest) && rest[digits] >= '0' && rest[digits] <= '9' {
			digits++
		}
		count := 1
		if digits > 0 {
			n, err := strconv.Atoi(rest[:digits])
			if err != nil || n <= 0 {
				return 0, fmt.Errorf("frequency %q: bad count %q", s, rest[:digits])
			}
			count = n
		}
		rest = rest[digits:]

		alpha := 0
		for alpha < len(rest) && (rest[alpha] < '0' || rest[alpha] > '9') {
			alpha++
		}
		if alpha == 0 {
			return 0, fmt.Errorf("frequency %q: trailing count without unit", s)
		}
		unit := rest[:alpha]
		rest = rest[alpha:]

		var d time.Duration
		switch unit {
		case "h":
			d = time.Hour
		case "min":
			d = time.Minute
		case "s":
			d = time.Second
		case "d":
			d = 24 * time.Hour
		default:
			return 0, fmt.Errorf("frequency %q: unknown unit %q (want h, min, s or d)", s, unit)
		}
		total += time.Duration(count) * d
	}

	if total <= 0 {
		return 0, fmt.Errorf("frequency %q resolves to zero", s)
	}
	return total, nil
}

// grid is a regular tick layout: start plus n steps. Start is the window
// start truncated to an epoch multiple of step, which is the same
// alignment Round gives rounded observation times.
type grid struct {
	start time.Time
	step  time.Duration
	n     int
}

func gridFor(from, to time.Time, step time.Duration) (grid, error) {
	if step <= 0 {
		return grid{}, fmt.Errorf("step must be positive, got %s", step)
	}
	if to.Before(from) {
		return grid{}, fmt.Errorf("window end %s before start %s", to, from)
	}
	start := from.Truncate(step)
	n := int(to.Sub(start)/step) + 1
	return grid{start: start, step: step, n: n}, nil
}

func (g grid) timeAt(i int) time.Time { return g.start.Add(time.Duration(i) * g.step) }

func (g grid) index(t time.Time) (int, bool) {
	d := t.Sub(g.start)
	if d < 0 || d%g.step != 0 {
		return 0, false
	}
	i := int(d / g.step)
	if i >= g.n {
		return 0, false
	}
	return i, true
}

// StatusSeries is a device's on/off state on a regular grid. A tick is on
// when it falls inside any cycle interval, endpoints included.
type StatusSeries struct {
	DeviceID string
	Start    time.Time
	Step     time.Duration
	On       []bool
}

func (s *StatusSeries) Len() int { return len(s.On) }

// TimeAt returns the wall-clock time of tick i.
func (s *StatusSeries) TimeAt(i int) time.Time { return s.Start.Add(time.Duration(i) * s.Step) }

// OnCount is the number of ticks marked on.
func (s *StatusSeries) OnCount() int {
	n := 0
	for _, on := range s.On {
		if on {
			n++
		}
	}
	return n
}

// OnOffStatus derives the on/off state of one device over [from, to] at
// the given step. Every tick t with start <= t <= end for some cycle row
// is marked on; both interval endpoints count as running time.
func OnOffStatus(ct *history.CycleTable, id string, from, to time.Time, step time.Duration) (*StatusSeries, error) {
	g, err := gridFor(from, to, step)
	if err != nil {
		return nil, err
	}

	on := make([]bool, g.n)
	for _, row := range ct.ForDevice(id) {
		if row.End.Before(g.start) || row.Start.After(g.timeAt(g.n-1)) {
			continue
		}
		lo := 0
		if d := row.Start.Sub(g.start); d > 0 {
			lo = int((d + step - 1) / step)
		}
		hi := g.n - 1
		if d := row.End.Sub(g.start); d < time.Duration(g.n-1)*step {
			hi = int(d / step)
		}
		for i := lo; i <= hi && i < g.n; i++ {
			on[i] = true
		}
	}

	return &StatusSeries{DeviceID: id, Start: g.start, Step: g.step, On: on}, nil
}

// Series is one payload column of a device resampled onto a regular grid.
// Ticks with no observation hold NaN, as do observations whose field does
// not parse as a number.
type Series struct {
	DeviceID string
	Heading  string
	Start    time.Time
	Step     time.Duration
	Values   []float64
}

func (s *Series) Len() int { return len(s.Values) }

// TimeAt returns the wall-clock time of tick i.
func (s *Series) TimeAt(i int) time.Time { return s.Start.Add(time.Duration(i) * s.Step) }

// MissingCount is the number of NaN ticks.
func (s *Series) MissingCount() int {
	n := 0
	for _, v := range s.Values {
		if math.IsNaN(v) {
			n++
		}
	}
	return n
}

// ObsByFreq resamples one payload column of one device onto a regular
// grid over [from, to]. Observation times are rounded to the nearest step;
// when several observations round to the same tick the latest wins, and
// ticks nothing rounds to stay NaN.
//
// Errors: unknown heading, bad window, non-positive step.
func ObsByFreq(ot *history.ObsTable, id, heading string, from, to time.Time, step time.Duration) (*Series, error) {
	slot, ok := ot.DataSlot(heading)
	if !ok {
		return nil, fmt.Errorf("no payload column %q in schema", heading)
	}
	g, err := gridFor(from, to, step)
	if err != nil {
		return nil, err
	}

	values := make([]float64, g.n)
	for i := range values {
		values[i] = math.NaN()
	}
	for _, row := range ot.ForDevice(id) {
		i, ok := g.index(row.Time.Round(step))
		if !ok {
			continue
		}
		if slot >= len(row.Data) {
			continue
		}
		v, err := strconv.ParseFloat(strings.TrimSpace(row.Data[slot]), 64)
		if err != nil {
			values[i] = math.NaN()
			continue
		}
		values[i] = v
	}

	return &Series{DeviceID: id, Heading: heading, Start: g.start, Step: g.step, Values: values}, nil
}

// CyclingAndObs builds the on/off status and one resampled observation
// column over a shared grid, so tick i of both outputs names the same
// moment.
func CyclingAndObs(ct *history.CycleTable, ot *history.ObsTable, id, heading string, from, to time.Time, step time.Duration) (*StatusSeries, *Series, error) {
	status, err := OnOffStatus(ct, id, from, to, step)
	if err != nil {
		return nil, nil, err
	}
	series, err := ObsByFreq(ot, id, heading, from, to, step)
	if err != nil {
		return nil, nil, err
	}
	return status, series, nil
}

// ObsWindow returns the first and last observation times of one device.
// The boolean is false when the device has no rows.
func ObsWindow(ot *history.ObsTable, id string) (from, to time.Time, ok bool) {
	rows := ot.ForDevice(id)
	if len(rows) == 0 {
		return time.Time{}, time.Time{}, false
	}
	return rows[0].Time, rows[len(rows)-1].Time, true
}

// CycleWindow returns the earliest start and latest end of one device's
// cycles. The boolean is false when the device has no rows.
func CycleWindow(ct *history.CycleTable, id string) (from, to time.Time, ok bool) {
	rows := ct.ForDevice(id)
	if len(rows) == 0 {
		return time.Time{}, time.Time{}, false
	}
	from = rows[0].Start
	to = rows[0].End
	for _, r := range rows[1:] {
		if r.End.After(to) {
			to = r.End
		}
	}
	return from, to, true
}

// CommonWindow returns the range covered by both one device's cycles and
// its observations: the later of the two starts to the earlier of the two
// ends. The boolean is false when either table has no rows for the device
// or the two ranges do not overlap.
func CommonWindow(ct *history.CycleTable, ot *history.ObsTable, id string) (from, to time.Time, ok bool) {
	from, to, ok = CycleWindow(ct, id)
	if !ok {
		return time.Time{}, time.Time{}, false
	}
	oFrom, oTo, ok := ObsWindow(ot, id)
	if !ok {
		return time.Time{}, time.Time{}, false
	}
	if oFrom.After(from) {
		from = oFrom
	}
	if oTo.Before(to) {
		to = oTo
	}
	if to.Before(from) {
		return time.Time{}, time.Time{}, false
	}
	return from, to, true
}
