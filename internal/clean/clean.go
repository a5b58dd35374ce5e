// Package clean streams raw delimited exports through a column schema and
// produces keyed record sets. Lines that fail a check are skipped and
// counted under the check that rejected them, never silently dropped; the
// Report says exactly where a file's rows went.
package clean

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"thermoclean/internal/detect"
	"thermoclean/internal/metrics"
	"thermoclean/internal/records"
)

// SkipReason names the check that rejected a line.
type SkipReason string

const (
	// SkipNoDigits marks lines without a single digit: banners, footers,
	// separator art.
	SkipNoDigits SkipReason = "no_digits"
	// SkipFieldCount marks lines that do not split into the schema width.
	SkipFieldCount SkipReason = "field_count"
	// SkipEmptyField marks lines with at least one empty field.
	SkipEmptyField SkipReason = "empty_field"
	// SkipIDFilter marks lines whose device id is outside the requested
	// id set.
	SkipIDFilter SkipReason = "id_filter"
	// SkipCycleMismatch marks cycle lines whose mode differs from the
	// requested literal.
	SkipCycleMismatch SkipReason = "cycle_mismatch"
)

// Report accounts for every data line of one cleaning run. Kept counts
// accepted rows; a key inserted twice still counts each acceptance, with
// the collision recorded in Replaced, so Lines always equals Kept plus the
// skip total.
type Report struct {
	Lines    int
	Kept     int
	Replaced int
	Skipped  map[SkipReason]int
}

func newReport() *Report {
	return &Report{Skipped: make(map[SkipReason]int)}
}

func (r *Report) skip(reason SkipReason) {
	r.Skipped[reason]++
}

// SkipTotal is the number of rejected lines across all reasons.
func (r *Report) SkipTotal() int {
	n := 0
	for _, c := range r.Skipped {
		n += c
	}
	return n
}

func (r *Report) String() string {
	reasons := make([]string, 0, len(r.Skipped))
	for reason := range r.Skipped {
		reasons = append(reasons, string(reason))
	}
	sort.Strings(reasons)
	var b strings.Builder
	fmt.Fprintf(&b, "lines=%d kept=%d replaced=%d", r.Lines, r.Kept, r.Replaced)
	for _, reason := range reasons {
		fmt.Fprintf(&b, " %s=%d", reason, r.Skipped[SkipReason(reason)])
	}
	return b.String()
}

// Options steers one cleaning run.
type Options struct {
	// Detect configures schema inference for the Cycles/Observations
	// entry points and supplies the encoding and cycle literal for the
	// WithSchema variants.
	Detect detect.Options

	// KeepIDs, when non-empty, restricts the output to these device ids.
	KeepIDs []string

	// Log receives the per-file summary. Nil means no logging.
	Log *logrus.Logger
}

func (o Options) logger() *logrus.Logger {
	if o.Log != nil {
		return o.Log
	}
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func (o Options) keepSet() map[string]struct{} {
	if len(o.KeepIDs) == 0 {
		return nil
	}
	keep := make(map[string]struct{}, len(o.KeepIDs))
	for _, id := range o.KeepIDs {
		keep[strings.TrimSpace(id)] = struct{}{}
	}
	return keep
}

// Cycles infers the schema of a cycles file and cleans it in one call.
func Cycles(path string, opts Options) (*records.CycleSet, *Report, error) {
	opts.Detect.Kind = detect.Cycles
	schema, err := detect.Columns(path, opts.Detect)
	if err != nil {
		return nil, nil, err
	}
	return CyclesWithSchema(path, schema, opts)
}

// CyclesWithSchema cleans a cycles file under an already-assembled schema,
// skipping inference entirely. This is the replay path: a schema inferred
// once can be applied to any number of files with the same layout.
func CyclesWithSchema(path string, schema *detect.Schema, opts Options) (*records.CycleSet, *Report, error) {
	if schema.Kind != detect.Cycles {
		return nil, nil, fmt.Errorf("cycles cleaning needs a cycles schema, got %s", schema.Kind)
	}

	var (
		started = time.Now()
		set     = records.NewCycleSet(schema)
		rep     = newReport()
		keep    = opts.keepSet()
		literal = strings.TrimSpace(opts.Detect.CycleLiteral)
		idCol   = schema.ID().Position
		payload = schema.Payload()
	)
	start, _ := schema.Start()
	end, _ := schema.End()
	cycle, hasCycle := schema.Cycle()

	err := eachQualifyingLine(path, schema, opts.Detect.Encoding, keep, rep, idCol, func(fields []string, id string) {
		mode := ""
		if hasCycle {
			mode = strings.TrimSpace(fields[cycle.Position])
			if literal != "" && mode != literal {
				rep.skip(SkipCycleMismatch)
				return
			}
		}
		key := records.CycleKey{
			DeviceID: id,
			Mode:     mode,
			Start:    strings.TrimSpace(fields[start.Position]),
		}
		if _, dup := set.Rows[key]; dup {
			rep.Replaced++
		}
		set.Add(key, records.CycleValue{
			End:  strings.TrimSpace(fields[end.Position]),
			Data: payloadFields(fields, payload),
		})
		rep.Kept++
	})
	if err != nil {
		return nil, nil, err
	}

	finish(opts, rep, "cycles", path, set.Len(), started)
	return set, rep, nil
}

// Observations infers the schema of a sensor or geospatial file and cleans
// it in one call. The kind in opts.Detect decides which timestamp layout
// is expected; Cycles is rejected.
func Observations(path string, opts Options) (*records.ObsSet, *Report, error) {
	if opts.Detect.Kind == detect.Cycles {
		return nil, nil, fmt.Errorf("observation cleaning needs a sensor or geospatial kind")
	}
	schema, err := detect.Columns(path, opts.Detect)
	if err != nil {
		return nil, nil, err
	}
	return ObservationsWithSchema(path, schema, opts)
}

// ObservationsWithSchema cleans a single-timestamp file under an
// already-assembled schema.
func ObservationsWithSchema(path string, schema *detect.Schema, opts Options) (*records.ObsSet, *Report, error) {
	if schema.Kind == detect.Cycles {
		return nil, nil, fmt.Errorf("observation cleaning needs a sensor or geospatial schema, got %s", schema.Kind)
	}

	var (
		started = time.Now()
		set     = records.NewObsSet(schema)
		rep     = newReport()
		keep    = opts.keepSet()
		idCol   = schema.ID().Position
		payload = schema.Payload()
	)
	ts, _ := schema.Time()

	err := eachQualifyingLine(path, schema, opts.Detect.Encoding, keep, rep, idCol, func(fields []string, id string) {
		key := records.ObsKey{
			DeviceID: id,
			Time:     strings.TrimSpace(fields[ts.Position]),
		}
		if _, dup := set.Rows[key]; dup {
			rep.Replaced++
		}
		set.Add(key, payloadFields(fields, payload))
		rep.Kept++
	})
	if err != nil {
		return nil, nil, err
	}

	finish(opts, rep, schema.Kind.String(), path, set.Len(), started)
	return set, rep, nil
}

// eachQualifyingLine streams the data lines of path, applies the shared
// checks in their fixed order (digits, field count, empty fields, id
// filter) and hands surviving rows to visit. The checks mirror the
// sampling rules in schema inference so a row the sampler saw cannot fail
// cleaning on shape alone.
func eachQualifyingLine(path string, schema *detect.Schema, encoding string, keep map[string]struct{}, rep *Report, idCol int, visit func(fields []string, id string)) error {
	rc, err := detect.OpenText(path, encoding)
	if err != nil {
		return err
	}
	defer rc.Close()

	sc := detect.NewLineScanner(rc)
	if !sc.Scan() {
		return sc.Err()
	}
	width := schema.Width()
	for sc.Scan() {
		rep.Lines++
		line := sc.Text()
		if !strings.ContainsAny(line, "0123456789") {
			rep.skip(SkipNoDigits)
			continue
		}
		fields, err := schema.Format.Split(line)
		if err != nil || len(fields) != width {
			rep.skip(SkipFieldCount)
			continue
		}
		if anyEmpty(fields) {
			rep.skip(SkipEmptyField)
			continue
		}
		id := strings.TrimSpace(fields[idCol])
		if keep != nil {
			if _, ok := keep[id]; !ok {
				rep.skip(SkipIDFilter)
				continue
			}
		}
		visit(fields, id)
	}
	return sc.Err()
}

func payloadFields(fields []string, payload []detect.ColumnMeta) []string {
	out := make([]string, 0, len(payload))
	for _, c := range payload {
		out = append(out, fields[c.Position])
	}
	return out
}

func anyEmpty(fields []string) bool {
	for _, f := range fields {
		if f == "" {
			return true
		}
	}
	return false
}

func finish(opts Options, rep *Report, kind, path string, distinct int, started time.Time) {
	metrics.IncCounter("ingest_records_total", float64(rep.Kept), metrics.Labels{"kind": kind})
	for reason, n := range rep.Skipped {
		metrics.IncCounter("ingest_skips_total", float64(n), metrics.Labels{"kind": kind, "reason": string(reason)})
	}
	metrics.ObserveHistogram("ingest_step_duration_seconds", time.Since(started).Seconds(),
		metrics.Labels{"step": "clean_" + kind, "status": "ok"})

	opts.logger().WithFields(logrus.Fields{
		"path":     path,
		"kind":     kind,
		"lines":    rep.Lines,
		"kept":     rep.Kept,
		"distinct": distinct,
		"skipped":  rep.SkipTotal(),
		"replaced": rep.Replaced,
	}).Info("cleaned records")
}
