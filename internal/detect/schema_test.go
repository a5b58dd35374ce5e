package detect

import (
	"errors"
	"strings"
	"testing"
)

//
// FileKind
//

func TestKindFromString(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in      string
		want    FileKind
		wantErr bool
	}{
		{"cycles", Cycles, false},
		{"cycle", Cycles, false},
		{"CYCLES", Cycles, false},
		{" sensor ", Sensor, false},
		{"sensors", Sensor, false},
		{"geospatial", Geospatial, false},
		{"geo", Geospatial, false},
		{"weather", 0, true},
		{"", 0, true},
	}

	for _, tt := range tests {
		got, err := KindFromString(tt.in)
		if (err != nil) != tt.wantErr {
			t.Fatalf("KindFromString(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
		}
		if err == nil && got != tt.want {
			t.Fatalf("KindFromString(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestFileKindTimestampCount(t *testing.T) {
	t.Parallel()

	if got := Cycles.TimestampCount(); got != 2 {
		t.Fatalf("Cycles.TimestampCount = %d, want 2", got)
	}
	if got := Sensor.TimestampCount(); got != 1 {
		t.Fatalf("Sensor.TimestampCount = %d, want 1", got)
	}
	if got := Geospatial.TimestampCount(); got != 1 {
		t.Fatalf("Geospatial.TimestampCount = %d, want 1", got)
	}
}

func TestFormatString(t *testing.T) {
	t.Parallel()

	if got := (Format{Delimiter: ','}).String(); got != `delimiter=',' quote=none` {
		t.Fatalf("Format.String = %q", got)
	}
	if got := (Format{Delimiter: '\t', Quote: '"'}).String(); !strings.Contains(got, `quote='"'`) {
		t.Fatalf("Format.String = %q", got)
	}
}

//
// assemble / index
//

// TestAssemble verifies key indexing: roles resolve under their role
// names, payload columns under their header text, and the required role
// set depends on the kind.
func TestAssemble(t *testing.T) {
	t.Parallel()

	header := []string{"DeviceId", "Mode", "Start", "End", "Temp"}
	roles := map[int]ColumnRole{0: RoleID, 1: RoleCycle, 2: RoleStart, 3: RoleEnd}
	types := map[int]ColumnType{0: TypeInts, 1: TypeAlphaOnly, 2: TypeTime, 3: TypeTime, 4: TypeFloats}

	s, err := assemble(Cycles, Format{Delimiter: ','}, header, roles, types, nil)
	if err != nil {
		t.Fatalf("assemble error: %v", err)
	}

	if c, ok := s.Column("id"); !ok || c.Position != 0 {
		t.Fatalf("Column(id) = %+v ok=%v", c, ok)
	}
	if c, ok := s.Column("Temp"); !ok || c.Role != RoleData {
		t.Fatalf("Column(Temp) = %+v ok=%v", c, ok)
	}
	if _, ok := s.Column("Missing"); ok {
		t.Fatalf("unknown key should not resolve")
	}
	if got := s.Header(); len(got) != 5 || got[4] != "Temp" {
		t.Fatalf("Header = %v", got)
	}
}

func TestAssemble_DuplicatePayloadHeading(t *testing.T) {
	t.Parallel()

	header := []string{"DeviceId", "Time", "Temp", "Temp"}
	roles := map[int]ColumnRole{0: RoleID, 1: RoleTime}

	_, err := assemble(Sensor, Format{Delimiter: ','}, header, roles, nil, nil)
	var mismatch *SchemaMismatchError
	if !errors.As(err, &mismatch) {
		t.Fatalf("assemble = %v, want *SchemaMismatchError", err)
	}
	if !strings.Contains(mismatch.Reason, "claimed by both") {
		t.Fatalf("Reason = %q", mismatch.Reason)
	}
}

func TestAssemble_MissingRequiredRoles(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		kind   FileKind
		header []string
		roles  map[int]ColumnRole
		want   string
	}{
		{
			name:   "no id",
			kind:   Sensor,
			header: []string{"A", "Time", "B"},
			roles:  map[int]ColumnRole{1: RoleTime},
			want:   "no id column",
		},
		{
			name:   "cycles without end",
			kind:   Cycles,
			header: []string{"Id", "Start", "B"},
			roles:  map[int]ColumnRole{0: RoleID, 1: RoleStart},
			want:   "no end_time column",
		},
		{
			name:   "sensor without time",
			kind:   Sensor,
			header: []string{"Id", "A", "B"},
			roles:  map[int]ColumnRole{0: RoleID},
			want:   "no time column",
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := assemble(tt.kind, Format{Delimiter: ','}, tt.header, tt.roles, nil, nil)
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("assemble = %v, want %q complaint", err, tt.want)
			}
		})
	}
}

//
// NewSchema
//

// TestNewSchema verifies the declared-layout path: roles and types default,
// columns sort into position order, and the result indexes like an
// inferred schema.
func TestNewSchema(t *testing.T) {
	t.Parallel()

	s, err := NewSchema(Cycles, Format{Delimiter: ','}, []ColumnMeta{
		{Heading: "Runtime", Position: 4},
		{Heading: "ThermostatId", Role: RoleID, Position: 0},
		{Heading: "Mode", Role: RoleCycle, Position: 1},
		{Heading: "Start", Role: RoleStart, Position: 2},
		{Heading: "End", Role: RoleEnd, Position: 3},
	})
	if err != nil {
		t.Fatalf("NewSchema error: %v", err)
	}

	if s.ID().Heading != "ThermostatId" {
		t.Fatalf("ID = %+v", s.ID())
	}
	if s.Columns[0].Heading != "ThermostatId" || s.Columns[4].Heading != "Runtime" {
		t.Fatalf("columns not in position order: %+v", s.Columns)
	}
	if c, _ := s.Column("Runtime"); c.Role != RoleData || c.Type != TypeAlphanumeric {
		t.Fatalf("Runtime defaults = %+v, want data/alphanumeric", c)
	}
	if c, _ := s.Start(); c.Type != TypeTime {
		t.Fatalf("Start type = %q, want time", c.Type)
	}
}

func TestNewSchema_Invalid(t *testing.T) {
	t.Parallel()

	idCol := ColumnMeta{Heading: "Id", Role: RoleID, Position: 0}
	timeCol := ColumnMeta{Heading: "Time", Role: RoleTime, Position: 1}

	tests := []struct {
		name   string
		format Format
		cols   []ColumnMeta
		want   string
	}{
		{
			name: "no delimiter",
			cols: []ColumnMeta{idCol, timeCol},
			want: "no delimiter",
		},
		{
			name:   "unknown role",
			format: Format{Delimiter: ','},
			cols:   []ColumnMeta{idCol, timeCol, {Heading: "X", Role: "key", Position: 2}},
			want:   `unknown role "key"`,
		},
		{
			name:   "duplicate position",
			format: Format{Delimiter: ','},
			cols:   []ColumnMeta{idCol, {Heading: "Time", Role: RoleTime, Position: 0}},
			want:   "exactly once",
		},
		{
			name:   "position out of range",
			format: Format{Delimiter: ','},
			cols:   []ColumnMeta{idCol, {Heading: "Time", Role: RoleTime, Position: 5}},
			want:   "exactly once",
		},
		{
			name:   "missing time role",
			format: Format{Delimiter: ','},
			cols:   []ColumnMeta{idCol, {Heading: "Temp", Position: 1}},
			want:   "no time column",
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := NewSchema(Sensor, tt.format, tt.cols)
			var mismatch *SchemaMismatchError
			if !errors.As(err, &mismatch) {
				t.Fatalf("NewSchema = %v, want *SchemaMismatchError", err)
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("error = %v, want %q complaint", err, tt.want)
			}
		})
	}
}

// TestSchemaPayloadOrder verifies payload ordering by position even when
// the ignored set interleaves.
func TestSchemaPayloadOrder(t *testing.T) {
	t.Parallel()

	header := []string{"Id", "Time", "C", "B", "A"}
	roles := map[int]ColumnRole{0: RoleID, 1: RoleTime}
	ignored := map[int]bool{3: true}

	s, err := assemble(Sensor, Format{Delimiter: ','}, header, roles, nil, ignored)
	if err != nil {
		t.Fatalf("assemble error: %v", err)
	}

	payload := s.Payload()
	if len(payload) != 2 || payload[0].Heading != "C" || payload[1].Heading != "A" {
		t.Fatalf("payload = %+v, want C then A", payload)
	}
}
