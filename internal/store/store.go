// Package store persists indexed thermostat tables into relational
// backends. The table layout is derived from the column schema of the
// source file: key roles become fixed columns, payload headings become
// text columns, and the record key becomes the primary key, so re-running
// an ingest is idempotent on every backend. The schema itself is saved as
// JSON alongside the data, so a stored set loads back out together with
// its original layout.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	json "github.com/goccy/go-json"

	"thermoclean/internal/detect"
	"thermoclean/internal/history"
	"thermoclean/internal/records"
)

// Config selects and configures a storage backend.
//
// Edge cases:
//   - Kind must be non-empty and must match a registered backend kind.
//   - DSN is passed through to the backend factory; validation is
//     backend-specific.
type Config struct {
	Kind string
	DSN  string
}

// Repository is the backend-agnostic persistence surface. Each backend
// implements the dedupe semantics its engine does natively (Postgres
// ON CONFLICT, SQLite OR IGNORE, SQL Server NOT EXISTS).
type Repository interface {
	// Close releases backend resources. Treat as call-once at shutdown.
	Close()

	// EnsureCycleTable creates the cycle table for this schema when it
	// does not exist yet and saves the schema document. Idempotent.
	EnsureCycleTable(ctx context.Context, schema *detect.Schema) error

	// EnsureObsTable creates the observation table for this schema when
	// it does not exist yet and saves the schema document. Idempotent.
	EnsureObsTable(ctx context.Context, schema *detect.Schema) error

	// InsertCycles writes a cycle table, skipping rows whose key already
	// exists. Returns the number of rows actually written.
	InsertCycles(ctx context.Context, table *history.CycleTable) (int64, error)

	// InsertObservations writes an observation table, skipping rows whose
	// key already exists. Returns the number of rows actually written.
	InsertObservations(ctx context.Context, table *history.ObsTable) (int64, error)

	// LoadCycles reads the stored cycle set back out: the schema saved by
	// EnsureCycleTable plus every row of the cycle table. Key timestamps
	// come back as canonical RFC3339 UTC text, not as the source file
	// printed them.
	LoadCycles(ctx context.Context) (*records.CycleSet, error)

	// LoadObservations reads the stored observation set of one kind.
	// Errors when kind is detect.Cycles or no schema has been saved for
	// the kind yet.
	LoadObservations(ctx context.Context, kind detect.FileKind) (*records.ObsSet, error)
}

type factory func(ctx context.Context, cfg Config) (Repository, error)

var (
	mu        sync.RWMutex
	factories = map[string]factory{}
)

// Register registers a backend under a kind ("sqlite", "postgres",
// "mssql"). Call from an init() function in the backend package.
//
// Panics:
//   - If kind is empty.
//   - If f is nil.
//   - If kind is already registered. Failing fast beats ambiguous backend
//     selection at runtime.
func Register(kind string, f factory) {
	mu.Lock()
	defer mu.Unlock()

	if kind == "" {
		panic("store: Register called with empty kind")
	}
	if f == nil {
		panic("store: Register called with nil factory")
	}
	if _, exists := factories[kind]; exists {
		panic(fmt.Sprintf("store: factory already registered for kind=%q", kind))
	}

	factories[kind] = f
}

// New constructs a Repository using the registered backend factory.
//
// Errors:
//   - If cfg.Kind is empty or not registered.
//   - Whatever the backend factory returns.
func New(ctx context.Context, cfg Config) (Repository, error) {
	if cfg.Kind == "" {
		return nil, fmt.Errorf("store: missing backend kind (have %s)", strings.Join(Kinds(), ", "))
	}

	mu.RLock()
	f := factories[cfg.Kind]
	mu.RUnlock()

	if f == nil {
		return nil, fmt.Errorf("store: unsupported backend kind=%q (have %s)", cfg.Kind, strings.Join(Kinds(), ", "))
	}
	return f(ctx, cfg)
}

// Kinds returns the registered backend names, sorted.
func Kinds() []string {
	mu.RLock()
	defer mu.RUnlock()

	kinds := make([]string, 0, len(factories))
	for k := range factories {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return kinds
}

// Fixed key column names shared by every backend.
const (
	ColDeviceID  = "device_id"
	ColMode      = "mode"
	ColStartTime = "start_time"
	ColEndTime   = "end_time"
	ColObserved  = "observed_at"
)

// TableName returns the table a file kind lands in.
func TableName(kind detect.FileKind) string {
	switch kind {
	case detect.Cycles:
		return "device_cycles"
	case detect.Sensor:
		return "sensor_observations"
	default:
		return "geospatial_observations"
	}
}

// SchemaTable is the side table, keyed by file kind, holding the column
// schema JSON each data table was created from. Ensure methods upsert
// it; Load methods read it back, so a stored set round-trips together
// with its layout.
const SchemaTable = "ingest_schemas"

// Schema table column names.
const (
	ColSchemaKind = "kind"
	ColSchemaDoc  = "document"
)

// SchemaColumns is the column list of the schema table.
func SchemaColumns() []string { return []string{ColSchemaKind, ColSchemaDoc} }

// SchemaKeyColumns is the primary key of the schema table.
func SchemaKeyColumns() []string { return []string{ColSchemaKind} }

// MarshalSchema renders the JSON document stored alongside a kind's
// records.
func MarshalSchema(schema *detect.Schema) (string, error) {
	doc, err := json.Marshal(schema)
	if err != nil {
		return "", fmt.Errorf("marshal %s schema: %w", schema.Kind, err)
	}
	return string(doc), nil
}

// UnmarshalSchema parses a stored schema document and checks it describes
// the expected kind. Column roles and positions are re-validated on the
// way in.
func UnmarshalSchema(doc string, want detect.FileKind) (*detect.Schema, error) {
	var schema detect.Schema
	if err := json.Unmarshal([]byte(doc), &schema); err != nil {
		return nil, fmt.Errorf("stored %s schema: %w", want, err)
	}
	if schema.Kind != want {
		return nil, fmt.Errorf("schema stored under %s describes %s records", want, schema.Kind)
	}
	return &schema, nil
}

// ColumnName converts a payload heading into a stable SQL column name:
// lowercase, runs of non-alphanumerics collapsed to single underscores,
// and a leading letter guaranteed.
func ColumnName(heading string) string {
	var b strings.Builder
	lastUnderscore := false
	for _, r := range strings.ToLower(strings.TrimSpace(heading)) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastUnderscore = false
		default:
			if !lastUnderscore && b.Len() > 0 {
				b.WriteByte('_')
				lastUnderscore = true
			}
		}
	}
	name := strings.TrimRight(b.String(), "_")
	if name == "" {
		return "col"
	}
	if name[0] >= '0' && name[0] <= '9' {
		name = "c_" + name
	}
	return name
}

// PayloadColumns returns the SQL column names for a schema's payload in
// position order. Headings that normalize to the same name, or collide
// with a key column, get their position appended so the set stays unique.
func PayloadColumns(schema *detect.Schema) []string {
	taken := map[string]bool{
		ColDeviceID:  true,
		ColMode:      true,
		ColStartTime: true,
		ColEndTime:   true,
		ColObserved:  true,
	}
	payload := schema.Payload()
	out := make([]string, 0, len(payload))
	for _, c := range payload {
		name := ColumnName(c.Heading)
		if taken[name] {
			name = fmt.Sprintf("%s_%d", name, c.Position)
		}
		taken[name] = true
		out = append(out, name)
	}
	return out
}

// CycleColumns returns the full column list for a cycle table: key
// columns then payload, in insert order.
func CycleColumns(schema *detect.Schema) []string {
	return append([]string{ColDeviceID, ColMode, ColStartTime, ColEndTime}, PayloadColumns(schema)...)
}

// ObsColumns returns the full column list for an observation table.
func ObsColumns(schema *detect.Schema) []string {
	return append([]string{ColDeviceID, ColObserved}, PayloadColumns(schema)...)
}

// CycleKeyColumns is the primary key of a cycle table.
func CycleKeyColumns() []string { return []string{ColDeviceID, ColMode, ColStartTime} }

// ObsKeyColumns is the primary key of an observation table.
func ObsKeyColumns() []string { return []string{ColDeviceID, ColObserved} }

// CycleRowValues flattens one cycle row in CycleColumns order. Payload
// slots the row is missing come through as nil.
func CycleRowValues(row history.CycleRow, payloadLen int) []any {
	vals := make([]any, 0, 4+payloadLen)
	vals = append(vals, row.DeviceID, row.Mode, row.Start, row.End)
	return appendPayload(vals, row.Data, payloadLen)
}

// ObsRowValues flattens one observation row in ObsColumns order.
func ObsRowValues(row history.ObsRow, payloadLen int) []any {
	vals := make([]any, 0, 2+payloadLen)
	vals = append(vals, row.DeviceID, row.Time)
	return appendPayload(vals, row.Data, payloadLen)
}

func appendPayload(vals []any, data []string, payloadLen int) []any {
	for i := 0; i < payloadLen; i++ {
		if i < len(data) {
			vals = append(vals, data[i])
		} else {
			vals = append(vals, nil)
		}
	}
	return vals
}

// KeyTime renders a loaded timestamp as record-key text: RFC3339Nano in
// UTC, the exact text the sqlite backend stores. Identical instants
// loaded from different backends yield identical keys.
func KeyTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// PayloadText converts scanned payload fields into record data, reading
// NULL as the empty string.
func PayloadText(fields []sql.NullString) []string {
	data := make([]string, len(fields))
	for i, f := range fields {
		if f.Valid {
			data[i] = f.String
		}
	}
	return data
}
