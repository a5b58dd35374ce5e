package detect

import (
	"fmt"
	"sort"
	"strings"
)

// FileKind declares the record shape of an input file. It decides how many
// timestamp columns the engine expects and which key shape the normalizer
// builds downstream.
type FileKind int

const (
	// Cycles files describe ON/operating intervals: one start and one end
	// timestamp per record, usually tagged with an operating mode.
	Cycles FileKind = iota
	// Sensor files carry single-timestamp indoor observations keyed by a
	// device/sensor ID.
	Sensor
	// Geospatial files carry single-timestamp outdoor observations keyed by
	// a location ID.
	Geospatial
)

var kindNames = map[FileKind]string{
	Cycles:     "cycles",
	Sensor:     "sensor",
	Geospatial: "geospatial",
}

func (k FileKind) String() string {
	if n, ok := kindNames[k]; ok {
		return n
	}
	return "unknown"
}

// TimestampCount returns how many timestamp columns a file of this kind
// must carry: two for cycle intervals, one for plain observations.
func (k FileKind) TimestampCount() int {
	if k == Cycles {
		return 2
	}
	return 1
}

// KindFromString parses a kind name as used in config files and CLI flags.
func KindFromString(s string) (FileKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "cycles", "cycle":
		return Cycles, nil
	case "sensor", "sensors":
		return Sensor, nil
	case "geospatial", "geo":
		return Geospatial, nil
	}
	return 0, fmt.Errorf("unknown file kind %q (want cycles, sensor or geospatial)", s)
}

// Format is the resolved field separation for one file: the delimiter and an
// optional quote character (0 means unquoted). Resolved once per file and
// reused for every subsequent line split.
type Format struct {
	Delimiter rune
	Quote     rune
}

func (f Format) String() string {
	if f.Quote == 0 {
		return fmt.Sprintf("delimiter=%q quote=none", f.Delimiter)
	}
	return fmt.Sprintf("delimiter=%q quote=%q", f.Delimiter, f.Quote)
}

// ColumnRole tags the function a column serves in the record key/value split.
type ColumnRole string

const (
	RoleID    ColumnRole = "id"
	RoleTime  ColumnRole = "time"
	RoleStart ColumnRole = "start_time"
	RoleEnd   ColumnRole = "end_time"
	RoleCycle ColumnRole = "cycle"
	// RoleData marks payload columns; they are keyed by their header text.
	RoleData ColumnRole = "data"
)

// ColumnType is the value category assigned by the classifier.
type ColumnType string

const (
	TypeInts          ColumnType = "ints"
	TypeFloats        ColumnType = "floats"
	TypeNumericCommas ColumnType = "numeric_commas"
	TypePossibleZip   ColumnType = "possible_zip"
	TypeZipPlus4      ColumnType = "zip_plus_4"
	TypeAlphanumeric  ColumnType = "alphanumeric"
	TypeAlphaOnly     ColumnType = "alpha_only"
	TypeTime          ColumnType = "time"
)

// ColumnMeta describes one physical column of the input file.
//
// Position is the 0-based offset into the raw record and is never renumbered:
// ignored columns keep their position so offsets stay stable for every line
// of the file.
type ColumnMeta struct {
	Heading  string     `json:"heading"`
	Role     ColumnRole `json:"role"`
	Type     ColumnType `json:"type"`
	Position int        `json:"position"`
	Ignored  bool       `json:"ignored,omitempty"`
}

// Schema is the assembled column map for one file: every header column
// classified exactly once, ordered by position, with the resolved Format
// attached. Immutable after assembly.
type Schema struct {
	Kind    FileKind
	Format  Format
	Columns []ColumnMeta

	byKey map[string]int
}

// assemble builds a Schema from located roles and classified columns and
// enforces the assembly invariants: role keys disjoint, positions unique and
// matching the header width.
func assemble(kind FileKind, format Format, header []string, roles map[int]ColumnRole, types map[int]ColumnType, ignored map[int]bool) (*Schema, error) {
	s := &Schema{
		Kind:    kind,
		Format:  format,
		Columns: make([]ColumnMeta, 0, len(header)),
	}

	for pos, heading := range header {
		role, ok := roles[pos]
		if !ok {
			role = RoleData
		}
		typ, ok := types[pos]
		if !ok {
			typ = TypeAlphaOnly
		}
		s.Columns = append(s.Columns, ColumnMeta{
			Heading:  strings.TrimSpace(heading),
			Role:     role,
			Type:     typ,
			Position: pos,
			Ignored:  ignored[pos],
		})
	}

	if err := s.index(); err != nil {
		return nil, err
	}
	return s, nil
}

// NewSchema assembles a schema from caller-declared columns, for exports
// whose layout is known ahead of time and never inferred. The assembly
// invariants still apply: positions must cover 0..len(cols)-1 exactly once,
// roles must be known, and the kind's key columns must be present. An empty
// role declares a payload column; an empty type defaults to time for
// timestamp roles and alphanumeric otherwise.
//
// Errors: *SchemaMismatchError.
func NewSchema(kind FileKind, format Format, cols []ColumnMeta) (*Schema, error) {
	if format.Delimiter == 0 {
		return nil, &SchemaMismatchError{Reason: "declared schema has no delimiter"}
	}

	s := &Schema{
		Kind:    kind,
		Format:  format,
		Columns: append([]ColumnMeta(nil), cols...),
	}
	seen := make(map[int]bool, len(s.Columns))
	for i, c := range s.Columns {
		switch c.Role {
		case RoleID, RoleTime, RoleStart, RoleEnd, RoleCycle, RoleData:
		case "":
			s.Columns[i].Role = RoleData
		default:
			return nil, &SchemaMismatchError{Reason: fmt.Sprintf("unknown role %q for column %q", c.Role, c.Heading)}
		}
		if c.Type == "" {
			switch s.Columns[i].Role {
			case RoleTime, RoleStart, RoleEnd:
				s.Columns[i].Type = TypeTime
			default:
				s.Columns[i].Type = TypeAlphanumeric
			}
		}
		if c.Position < 0 || c.Position >= len(s.Columns) || seen[c.Position] {
			return nil, &SchemaMismatchError{
				Reason: fmt.Sprintf("column positions must cover 0..%d exactly once, got %d twice or out of range", len(s.Columns)-1, c.Position),
			}
		}
		seen[c.Position] = true
	}

	if err := s.index(); err != nil {
		return nil, err
	}
	return s, nil
}

// index orders the columns by position, rebuilds the key lookup and
// re-checks the assembly invariants. Called after assembly and after
// loading a schema from disk.
func (s *Schema) index() error {
	sort.SliceStable(s.Columns, func(i, j int) bool {
		return s.Columns[i].Position < s.Columns[j].Position
	})

	s.byKey = make(map[string]int, len(s.Columns))
	for i, c := range s.Columns {
		key := string(c.Role)
		if c.Role == RoleData {
			if c.Ignored {
				continue
			}
			key = c.Heading
		}
		if prev, dup := s.byKey[key]; dup {
			return &SchemaMismatchError{
				Reason: fmt.Sprintf("column key %q claimed by both position %d and %d", key, s.Columns[prev].Position, c.Position),
			}
		}
		s.byKey[key] = i
	}

	if _, ok := s.byKey[string(RoleID)]; !ok {
		return &SchemaMismatchError{Reason: "schema has no id column"}
	}
	switch s.Kind {
	case Cycles:
		if _, ok := s.byKey[string(RoleStart)]; !ok {
			return &SchemaMismatchError{Reason: "cycles schema has no start_time column"}
		}
		if _, ok := s.byKey[string(RoleEnd)]; !ok {
			return &SchemaMismatchError{Reason: "cycles schema has no end_time column"}
		}
	default:
		if _, ok := s.byKey[string(RoleTime)]; !ok {
			return &SchemaMismatchError{Reason: s.Kind.String() + " schema has no time column"}
		}
	}

	return nil
}

// Column returns the metadata stored under a role key ("id", "time",
// "start_time", "end_time", "cycle") or, for payload columns, the literal
// header text.
func (s *Schema) Column(key string) (ColumnMeta, bool) {
	i, ok := s.byKey[key]
	if !ok {
		return ColumnMeta{}, false
	}
	return s.Columns[i], true
}

// ID returns the primary identifier column. Assembly guarantees it exists.
func (s *Schema) ID() ColumnMeta {
	c, _ := s.Column(string(RoleID))
	return c
}

// Time returns the single-observation timestamp column, if present.
func (s *Schema) Time() (ColumnMeta, bool) { return s.Column(string(RoleTime)) }

// Start returns the cycle start column, if present.
func (s *Schema) Start() (ColumnMeta, bool) { return s.Column(string(RoleStart)) }

// End returns the cycle end column, if present.
func (s *Schema) End() (ColumnMeta, bool) { return s.Column(string(RoleEnd)) }

// Cycle returns the cycle-mode column, if present.
func (s *Schema) Cycle() (ColumnMeta, bool) { return s.Column(string(RoleCycle)) }

// Payload returns the data columns in position order, excluding reserved
// roles and ignored columns.
func (s *Schema) Payload() []ColumnMeta {
	out := make([]ColumnMeta, 0, len(s.Columns))
	for _, c := range s.Columns {
		if c.Role == RoleData && !c.Ignored {
			out = append(out, c)
		}
	}
	return out
}

// Width returns the header field count every data line must match.
func (s *Schema) Width() int { return len(s.Columns) }

// Header returns the original header texts in position order.
func (s *Schema) Header() []string {
	out := make([]string, len(s.Columns))
	for i, c := range s.Columns {
		out[i] = c.Heading
	}
	return out
}
