package detect

import (
	"fmt"
	"os"
	"strings"

	json "github.com/goccy/go-json"
)

// Render returns the schema as an aligned text table. Rendering is a pure
// function of the schema: the same file and options always produce the
// same bytes, which is what makes schema output diffable across runs.
func (s *Schema) Render() string {
	var b strings.Builder

	fmt.Fprintf(&b, "schema:\tkind=%s\t%s\tcolumns=%d\n", s.Kind, s.Format, len(s.Columns))
	fmt.Fprintf(&b, "%-3s\t%-24s\t%-10s\t%-14s\tignored\n", "pos", "heading", "role", "type")
	for _, c := range s.Columns {
		fmt.Fprintf(
			&b,
			"%-3d\t%-24s\t%-10s\t%-14s\t%t\n",
			c.Position,
			c.Heading,
			c.Role,
			c.Type,
			c.Ignored,
		)
	}

	return strings.TrimRight(b.String(), "\n")
}

// schemaJSON is the serialized shape of a Schema. Runes travel as strings
// so the file stays readable; an absent quote is omitted rather than
// encoded as zero.
type schemaJSON struct {
	Kind      string       `json:"kind"`
	Delimiter string       `json:"delimiter"`
	Quote     string       `json:"quote,omitempty"`
	Columns   []ColumnMeta `json:"columns"`
}

func (s *Schema) MarshalJSON() ([]byte, error) {
	out := schemaJSON{
		Kind:      s.Kind.String(),
		Delimiter: string(s.Format.Delimiter),
		Columns:   s.Columns,
	}
	if s.Format.Quote != 0 {
		out.Quote = string(s.Format.Quote)
	}
	return json.Marshal(out)
}

func (s *Schema) UnmarshalJSON(data []byte) error {
	var in schemaJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	kind, err := KindFromString(in.Kind)
	if err != nil {
		return err
	}
	delim, err := singleRune(in.Delimiter, "delimiter")
	if err != nil {
		return err
	}
	if delim == 0 {
		return fmt.Errorf("schema file has no delimiter")
	}
	quote, err := singleRune(in.Quote, "quote")
	if err != nil {
		return err
	}

	s.Kind = kind
	s.Format = Format{Delimiter: delim, Quote: quote}
	s.Columns = in.Columns
	return s.index()
}

// WriteFile persists the schema as indented JSON, the artifact the replay
// path (cleaning with a declared schema) reads back.
func (s *Schema) WriteFile(path string) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal schema: %w", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("write schema %s: %w", path, err)
	}
	return nil
}

// ReadSchemaFile loads a schema previously written with WriteFile and
// re-validates its key index.
func ReadSchemaFile(path string) (*Schema, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read schema %s: %w", path, err)
	}
	s := new(Schema)
	if err := json.Unmarshal(data, s); err != nil {
		return nil, fmt.Errorf("parse schema %s: %w", path, err)
	}
	return s, nil
}
