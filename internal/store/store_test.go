package store

import (
	"context"
	"database/sql"
	"reflect"
	"strings"
	"testing"
	"time"

	"thermoclean/internal/detect"
	"thermoclean/internal/history"
	"thermoclean/internal/records"
)

//
// registry
//

type fakeRepo struct{}

func (fakeRepo) Close() {}

func (fakeRepo) EnsureCycleTable(context.Context, *detect.Schema) error { return nil }

func (fakeRepo) EnsureObsTable(context.Context, *detect.Schema) error { return nil }

func (fakeRepo) InsertCycles(context.Context, *history.CycleTable) (int64, error) {
	return 0, nil
}

func (fakeRepo) InsertObservations(context.Context, *history.ObsTable) (int64, error) {
	return 0, nil
}

func (fakeRepo) LoadCycles(context.Context) (*records.CycleSet, error) { return nil, nil }

func (fakeRepo) LoadObservations(context.Context, detect.FileKind) (*records.ObsSet, error) {
	return nil, nil
}

func fakeFactory(context.Context, Config) (Repository, error) { return fakeRepo{}, nil }

func mustPanic(t *testing.T, name string, f func()) {
	t.Helper()
	defer func() {
		if recover() == nil {
			t.Fatalf("%s did not panic", name)
		}
	}()
	f()
}

func TestRegisterAndNew(t *testing.T) {
	Register("fake", fakeFactory)

	repo, err := New(context.Background(), Config{Kind: "fake"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, ok := repo.(fakeRepo); !ok {
		t.Fatalf("New returned %T, want the registered fake", repo)
	}

	found := false
	for _, k := range Kinds() {
		if k == "fake" {
			found = true
		}
	}
	if !found {
		t.Fatalf("Kinds() = %v, want it to list fake", Kinds())
	}

	mustPanic(t, "duplicate Register", func() { Register("fake", fakeFactory) })
	mustPanic(t, "empty kind", func() { Register("", fakeFactory) })
	mustPanic(t, "nil factory", func() { Register("nilfactory", nil) })
}

func TestNewUnknownKind(t *testing.T) {
	if _, err := New(context.Background(), Config{Kind: "oracle"}); err == nil || !strings.Contains(err.Error(), "unsupported backend") {
		t.Fatalf("error = %v, want unsupported backend", err)
	}
	if _, err := New(context.Background(), Config{}); err == nil || !strings.Contains(err.Error(), "missing backend kind") {
		t.Fatalf("error = %v, want missing backend kind", err)
	}
}

//
// naming
//

func TestTableName(t *testing.T) {
	t.Parallel()

	tests := []struct {
		kind detect.FileKind
		want string
	}{
		{detect.Cycles, "device_cycles"},
		{detect.Sensor, "sensor_observations"},
		{detect.Geospatial, "geospatial_observations"},
	}
	for _, tt := range tests {
		if got := TableName(tt.kind); got != tt.want {
			t.Fatalf("TableName(%s) = %q, want %q", tt.kind, got, tt.want)
		}
	}
}

// TestColumnName verifies heading normalization into SQL column names.
//
// Edge cases validated:
//   - runs of separators collapse to one underscore, ends trimmed
//   - a leading digit gets a letter prefix
//   - a heading with nothing usable still yields a name
func TestColumnName(t *testing.T) {
	t.Parallel()

	tests := []struct {
		heading string
		want    string
	}{
		{"Temp", "temp"},
		{"Stage1HeatRuntime", "stage1heatruntime"},
		{"Zip Code", "zip_code"},
		{"zip-code", "zip_code"},
		{"Temp (F)", "temp_f"},
		{"  Indoor Temp  ", "indoor_temp"},
		{"A%%B", "a_b"},
		{"90thPercentile", "c_90thpercentile"},
		{"___", "col"},
		{"", "col"},
	}
	for _, tt := range tests {
		if got := ColumnName(tt.heading); got != tt.want {
			t.Fatalf("ColumnName(%q) = %q, want %q", tt.heading, got, tt.want)
		}
	}
}

func cycleSchema() *detect.Schema {
	return &detect.Schema{
		Kind:   detect.Cycles,
		Format: detect.Format{Delimiter: ','},
		Columns: []detect.ColumnMeta{
			{Heading: "ThermostatId", Role: detect.RoleID, Type: detect.TypeInts, Position: 0},
			{Heading: "CycleType", Role: detect.RoleCycle, Type: detect.TypeAlphaOnly, Position: 1},
			{Heading: "StartTime", Role: detect.RoleStart, Type: detect.TypeTime, Position: 2},
			{Heading: "EndTime", Role: detect.RoleEnd, Type: detect.TypeTime, Position: 3},
			{Heading: "Temp", Role: detect.RoleData, Type: detect.TypeFloats, Position: 4},
			{Heading: "temp!", Role: detect.RoleData, Type: detect.TypeFloats, Position: 5},
			{Heading: "Mode", Role: detect.RoleData, Type: detect.TypeAlphaOnly, Position: 6},
			{Heading: "Noise", Role: detect.RoleData, Type: detect.TypeInts, Position: 7, Ignored: true},
		},
	}
}

func obsSchema() *detect.Schema {
	return &detect.Schema{
		Kind:   detect.Sensor,
		Format: detect.Format{Delimiter: ','},
		Columns: []detect.ColumnMeta{
			{Heading: "SensorId", Role: detect.RoleID, Type: detect.TypeInts, Position: 0},
			{Heading: "Time", Role: detect.RoleTime, Type: detect.TypeTime, Position: 1},
			{Heading: "Temp", Role: detect.RoleData, Type: detect.TypeFloats, Position: 2},
			{Heading: "Humidity", Role: detect.RoleData, Type: detect.TypeFloats, Position: 3},
		},
	}
}

// TestPayloadColumns verifies collision handling: a heading that
// normalizes onto another payload column or onto a key column gets its
// file position appended.
func TestPayloadColumns(t *testing.T) {
	t.Parallel()

	got := PayloadColumns(cycleSchema())
	want := []string{"temp", "temp_5", "mode_6"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("PayloadColumns = %v, want %v", got, want)
	}
}

func TestCycleColumns(t *testing.T) {
	t.Parallel()

	got := CycleColumns(cycleSchema())
	want := []string{"device_id", "mode", "start_time", "end_time", "temp", "temp_5", "mode_6"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("CycleColumns = %v, want %v", got, want)
	}
	if !reflect.DeepEqual(CycleKeyColumns(), []string{"device_id", "mode", "start_time"}) {
		t.Fatalf("CycleKeyColumns = %v", CycleKeyColumns())
	}
}

func TestObsColumns(t *testing.T) {
	t.Parallel()

	got := ObsColumns(obsSchema())
	want := []string{"device_id", "observed_at", "temp", "humidity"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("ObsColumns = %v, want %v", got, want)
	}
	if !reflect.DeepEqual(ObsKeyColumns(), []string{"device_id", "observed_at"}) {
		t.Fatalf("ObsKeyColumns = %v", ObsKeyColumns())
	}
}

//
// row flattening
//

// TestCycleRowValues verifies insert-order flattening and nil padding for
// rows shorter than the payload.
func TestCycleRowValues(t *testing.T) {
	t.Parallel()

	start := time.Date(2014, 1, 1, 0, 0, 0, 0, time.UTC)
	end := start.Add(5 * time.Minute)
	row := history.CycleRow{
		DeviceID: "482",
		Mode:     "Cool",
		Start:    start,
		End:      end,
		Data:     []string{"71.9", "0.45"},
	}

	vals := CycleRowValues(row, 4)
	if len(vals) != 8 {
		t.Fatalf("len = %d, want 8", len(vals))
	}
	if vals[0] != "482" || vals[1] != "Cool" {
		t.Fatalf("key values = %v %v, want 482 Cool", vals[0], vals[1])
	}
	if got, ok := vals[2].(time.Time); !ok || !got.Equal(start) {
		t.Fatalf("start = %v, want the parsed time", vals[2])
	}
	if got, ok := vals[3].(time.Time); !ok || !got.Equal(end) {
		t.Fatalf("end = %v, want the parsed time", vals[3])
	}
	if vals[4] != "71.9" || vals[5] != "0.45" {
		t.Fatalf("payload = %v %v, want the field text", vals[4], vals[5])
	}
	if vals[6] != nil || vals[7] != nil {
		t.Fatalf("missing payload = %v %v, want nil padding", vals[6], vals[7])
	}
}

func TestObsRowValues(t *testing.T) {
	t.Parallel()

	ts := time.Date(2014, 1, 1, 0, 0, 0, 0, time.UTC)
	row := history.ObsRow{DeviceID: "482", Time: ts, Data: []string{"71.9"}}

	vals := ObsRowValues(row, 2)
	if len(vals) != 4 {
		t.Fatalf("len = %d, want 4", len(vals))
	}
	if vals[0] != "482" {
		t.Fatalf("device = %v, want 482", vals[0])
	}
	if got, ok := vals[1].(time.Time); !ok || !got.Equal(ts) {
		t.Fatalf("observed = %v, want the parsed time", vals[1])
	}
	if vals[2] != "71.9" || vals[3] != nil {
		t.Fatalf("payload = %v %v, want field text then nil", vals[2], vals[3])
	}
}

//
// schema documents and loading
//

// TestSchemaDocumentRoundTrip verifies a schema survives the stored JSON
// document with its columns validated on the way back in.
func TestSchemaDocumentRoundTrip(t *testing.T) {
	t.Parallel()

	doc, err := MarshalSchema(cycleSchema())
	if err != nil {
		t.Fatalf("MarshalSchema: %v", err)
	}

	schema, err := UnmarshalSchema(doc, detect.Cycles)
	if err != nil {
		t.Fatalf("UnmarshalSchema: %v", err)
	}
	if schema.Kind != detect.Cycles || schema.Width() != 8 {
		t.Fatalf("schema = kind %s width %d, want cycles width 8", schema.Kind, schema.Width())
	}
	if id := schema.ID(); id.Heading != "ThermostatId" {
		t.Fatalf("ID column = %+v, want ThermostatId", id)
	}
	if got := PayloadColumns(schema); !reflect.DeepEqual(got, PayloadColumns(cycleSchema())) {
		t.Fatalf("payload columns changed across the round trip: %v", got)
	}
}

func TestUnmarshalSchemaErrors(t *testing.T) {
	t.Parallel()

	doc, err := MarshalSchema(obsSchema())
	if err != nil {
		t.Fatalf("MarshalSchema: %v", err)
	}
	if _, err := UnmarshalSchema(doc, detect.Cycles); err == nil || !strings.Contains(err.Error(), "describes sensor records") {
		t.Fatalf("kind mismatch error = %v", err)
	}
	if _, err := UnmarshalSchema("{", detect.Cycles); err == nil {
		t.Fatalf("want an error for a truncated document")
	}
}

// TestKeyTime verifies loaded keys render as UTC RFC3339Nano text and
// that the text parses back under the known timestamp layouts.
func TestKeyTime(t *testing.T) {
	t.Parallel()

	cst := time.FixedZone("CST", -6*3600)
	if got := KeyTime(time.Date(2014, 1, 2, 15, 4, 5, 0, cst)); got != "2014-01-02T21:04:05Z" {
		t.Fatalf("KeyTime = %q, want UTC without nanos", got)
	}
	if got := KeyTime(time.Date(2014, 1, 2, 15, 4, 5, 500e6, time.UTC)); got != "2014-01-02T15:04:05.5Z" {
		t.Fatalf("KeyTime = %q, want trailing zeros trimmed", got)
	}
	if _, ok := detect.ParseTimestamp(KeyTime(time.Now())); !ok {
		t.Fatalf("KeyTime text does not parse back as a timestamp")
	}
}

func TestPayloadText(t *testing.T) {
	t.Parallel()

	got := PayloadText([]sql.NullString{
		{String: "71.9", Valid: true},
		{},
		{String: "", Valid: true},
	})
	if want := []string{"71.9", "", ""}; !reflect.DeepEqual(got, want) {
		t.Fatalf("PayloadText = %v, want %v", got, want)
	}
}

// -------------------- Benchmarks --------------------

func BenchmarkColumnName(b *testing.B) {
	headings := []string{
		"Temp",
		"Stage1HeatRuntime",
		"Zip Code",
		"Temp (F)",
		"  Indoor Temp  ",
		"90thPercentile",
	}

	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		_ = ColumnName(headings[i%len(headings)])
	}
}
