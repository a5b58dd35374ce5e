// Package detect infers the layout of delimited thermostat export files:
// which character separates fields, which columns hold timestamps, which
// column identifies the device, which carries the operating mode, and what
// shape of value every remaining column holds.
//
// Nothing here trusts the header alone. Vendors rename, reorder and pad
// columns freely, so every decision is made from sampled data rows and the
// header only breaks ties. The result is a Schema that downstream cleaning,
// indexing and storage all key off.
package detect

import (
	"fmt"
	"unicode/utf8"
)

// Default bounds for the inference scans. All of them are overridable per
// call through Options.
const (
	// DefaultIDValueFloor is the smallest maximum an all-digit column must
	// reach before the numeric fallback treats it as a plausible device id.
	DefaultIDValueFloor = 150
	// DefaultSampleCap bounds the classification sample.
	DefaultSampleCap = 1000
	// DefaultFormatScanLimit bounds the digit-bearing lines examined for
	// delimiter and quote detection.
	DefaultFormatScanLimit = 100
	// DefaultCycleScanLimit bounds the lines scanned for the cycle-mode
	// literal.
	DefaultCycleScanLimit = 1000
)

// Options steers one inference run. The zero value infers a cycles file in
// UTF-8 with every element auto-detected and default scan bounds.
type Options struct {
	// Kind declares the record shape of the file: Cycles, Sensor or
	// Geospatial. It decides how many timestamp columns must be found.
	Kind FileKind

	// Delimiter, when non-empty, fixes the field separator instead of
	// detecting it. Must be a single character.
	Delimiter string
	// Quote, when non-empty, fixes the quote character instead of
	// detecting it. Must be a single character.
	Quote string
	// Encoding names the character set of the file when it is not UTF-8,
	// using WHATWG registry names ("windows-1252", "latin-1", ...).
	Encoding string

	// IDHeading, when non-empty, names the identifier column outright and
	// skips the resolution cascade.
	IDHeading string
	// CycleLiteral is an operating-mode value ("Cool", "Heat") whose
	// column position is found by scanning for it. Ignored when
	// CycleHeading is set.
	CycleLiteral string
	// CycleHeading, when non-empty, names the cycle-mode column outright.
	CycleHeading string

	// IgnoreHeadings lists header texts to exclude from the payload.
	// Entries that match nothing are no-ops.
	IgnoreHeadings []string
	// IgnoreIndexes lists column positions to exclude from the payload.
	// An out-of-range index is an error.
	IgnoreIndexes []int

	// IDValueFloor, SampleCap, FormatScanLimit and CycleScanLimit override
	// the Default* bounds when positive.
	IDValueFloor    float64
	SampleCap       int
	FormatScanLimit int
	CycleScanLimit  int
}

func (o Options) withDefaults() Options {
	if o.IDValueFloor <= 0 {
		o.IDValueFloor = DefaultIDValueFloor
	}
	if o.SampleCap <= 0 {
		o.SampleCap = DefaultSampleCap
	}
	if o.FormatScanLimit <= 0 {
		o.FormatScanLimit = DefaultFormatScanLimit
	}
	if o.CycleScanLimit <= 0 {
		o.CycleScanLimit = DefaultCycleScanLimit
	}
	return o
}

func singleRune(s, what string) (rune, error) {
	if s == "" {
		return 0, nil
	}
	r, size := utf8.DecodeRuneInString(s)
	if size != len(s) || r == utf8.RuneError {
		return 0, fmt.Errorf("%s must be a single character, got %q", what, s)
	}
	return r, nil
}

// Columns infers the full column schema of one delimited-text file.
//
// The file is read in separate bounded passes, re-opened for each: a format
// scan (delimiter and quote), a sampling pass (qualifying data records for
// classification), and, when a cycle-mode literal is requested, a scan for
// the column that holds it. Timestamp columns are then located in the first
// sampled record, every remaining column is classified by value shape, and
// the identifier column is resolved by cascade. Identical input bytes and
// options always produce an identical Schema.
//
// Edge cases: a file whose data rows never contain a digit yields a
// *FormatNotFoundError, not an empty schema. Ignored columns are still
// classified and keep their positions; they are only excluded from the
// payload and from identifier candidacy.
//
// Errors: *AmbiguousFormatError, *FormatNotFoundError,
// *SchemaMismatchError, *CycleNotFoundError, *UnresolvedIDError, plus I/O
// errors from opening and reading the file. Any error aborts inference;
// there is no partial Schema.
func Columns(path string, opts Options) (*Schema, error) {
	opts = opts.withDefaults()

	explicitDelim, err := singleRune(opts.Delimiter, "delimiter")
	if err != nil {
		return nil, err
	}
	explicitQuote, err := singleRune(opts.Quote, "quote")
	if err != nil {
		return nil, err
	}

	// Pass 1: header plus digit-bearing lines for format detection.
	rc, err := OpenText(path, opts.Encoding)
	if err != nil {
		return nil, err
	}
	headerLine, rawLines, err := readFormatScan(rc, opts.FormatScanLimit)
	rc.Close()
	if err != nil {
		return nil, err
	}

	format, err := detectFormat(headerLine, rawLines, opts.Kind, Format{Delimiter: explicitDelim, Quote: explicitQuote})
	if err != nil {
		return nil, err
	}

	header, err := splitLine(headerLine, format)
	if err != nil {
		return nil, &SchemaMismatchError{Reason: "header does not contain the resolved delimiter"}
	}
	width := len(header)

	// Pass 2: the classification sample.
	rc, err = OpenText(path, opts.Encoding)
	if err != nil {
		return nil, err
	}
	records, scanned, err := readSample(rc, format, width, opts.SampleCap)
	rc.Close()
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, &FormatNotFoundError{
			Reason:  "no data row qualified for sampling (digits present, full width, no empty fields)",
			Scanned: scanned,
		}
	}

	// Pass 3: the cycle-mode column, only when one was asked for.
	cyclePos := -1
	switch {
	case opts.CycleHeading != "":
		cyclePos = headingIndex(header, opts.CycleHeading)
		if cyclePos < 0 {
			return nil, &SchemaMismatchError{Reason: fmt.Sprintf("cycle heading %q not in header", opts.CycleHeading)}
		}
	case opts.CycleLiteral != "":
		rc, err = OpenText(path, opts.Encoding)
		if err != nil {
			return nil, err
		}
		cyclePos, err = locateCycleColumn(rc, format, opts.CycleLiteral, opts.CycleScanLimit)
		rc.Close()
		if err != nil {
			return nil, err
		}
	}

	reserved := make(map[int]bool)
	if cyclePos >= 0 {
		reserved[cyclePos] = true
	}

	first, second := locateTimestamps(records[0], reserved)
	found := 0
	if first >= 0 {
		found++
	}
	if second >= 0 {
		found++
	}
	if want := opts.Kind.TimestampCount(); found < want {
		return nil, &FormatNotFoundError{
			Reason:  fmt.Sprintf("%s data needs %d timestamp column(s), found %d in the first sampled record", opts.Kind, want, found),
			Scanned: len(records),
		}
	}
	reserved[first] = true
	if opts.Kind == Cycles {
		reserved[second] = true
	}

	ignored, err := resolveIgnored(header, opts.IgnoreHeadings, opts.IgnoreIndexes)
	if err != nil {
		return nil, err
	}

	scans := classifyColumns(records, width, reserved)
	types := make([]ColumnType, width)
	for i, s := range scans {
		if reserved[i] {
			continue
		}
		types[i] = s.classify()
	}
	types[first] = TypeTime
	if opts.Kind == Cycles {
		types[second] = TypeTime
	}
	if cyclePos >= 0 {
		types[cyclePos] = TypeAlphaOnly
	}

	idPos, err := resolveID(header, scans, types, reserved, ignored, opts.IDHeading, opts.IDValueFloor)
	if err != nil {
		return nil, err
	}

	roles := map[int]ColumnRole{idPos: RoleID}
	if cyclePos >= 0 {
		roles[cyclePos] = RoleCycle
	}
	if opts.Kind == Cycles {
		roles[first] = RoleStart
		roles[second] = RoleEnd
	} else {
		roles[first] = RoleTime
	}

	typesByPos := make(map[int]ColumnType, width)
	for i, t := range types {
		typesByPos[i] = t
	}

	return assemble(opts.Kind, format, header, roles, typesByPos, ignored)
}

// resolveIgnored merges heading-based and index-based exclusions into one
// position set. Headings that match nothing are skipped; an out-of-range
// index is a configuration error.
func resolveIgnored(header []string, headings []string, indexes []int) (map[int]bool, error) {
	ignored := make(map[int]bool)
	for _, h := range headings {
		if i := headingIndex(header, h); i >= 0 {
			ignored[i] = true
		}
	}
	for _, i := range indexes {
		if i < 0 || i >= len(header) {
			return nil, &SchemaMismatchError{Reason: fmt.Sprintf("ignore index %d outside header width %d", i, len(header))}
		}
		ignored[i] = true
	}
	return ignored, nil
}
