// Package htmltable converts an HTML table export into delimited text.
//
// Vendor portals commonly offer thermostat history only as an HTML page
// with one big <table>. This package flattens such a table into the
// delimited form the detector consumes: one header line followed by one
// line per row.
//
// The output format has no escaping; a field containing the delimiter
// would shift every column after it. Cell text is therefore normalized:
// whitespace runs collapse to a single space and embedded delimiter
// characters become spaces.
package htmltable

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Options controls table selection and output shape.
type Options struct {
	// Selector narrows conversion to a specific table, e.g. "#export" or
	// "table.history". Empty selects the first table in the document.
	Selector string

	// Delimiter joins fields on each output line. Zero means comma.
	Delimiter rune
}

func (o Options) delimiter() rune {
	if o.Delimiter == 0 {
		return ','
	}
	return o.Delimiter
}

// Table is a parsed HTML table. Header holds the first row's cell texts;
// Rows holds the remaining rows in DOM order, each row's cells as found
// (no padding to header width).
type Table struct {
	Header []string
	Rows   [][]string
}

// Parse extracts one table from the HTML document on r.
//
// Semantics:
//   - selector empty: the document's first <table> is used.
//   - The first row containing any cell becomes the header, whether its
//     cells are <th> or <td>; vendor exports are inconsistent about this.
//
// Errors:
//   - No element matches the selector.
//   - The matched table contains no rows.
func Parse(r io.Reader, selector string) (*Table, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}

	if strings.TrimSpace(selector) == "" {
		selector = "table"
	}
	root := doc.Find(selector).First()
	if root.Length() == 0 {
		return nil, fmt.Errorf("no table matched selector %q", selector)
	}

	t := &Table{}
	root.Find("tr").Each(func(_ int, tr *goquery.Selection) {
		var cells []string
		tr.Find("th, td").Each(func(_ int, cell *goquery.Selection) {
			cells = append(cells, normalizeCell(cell.Text()))
		})
		if len(cells) == 0 {
			return
		}
		if t.Header == nil {
			t.Header = cells
			return
		}
		t.Rows = append(t.Rows, cells)
	})

	if t.Header == nil {
		return nil, fmt.Errorf("table matched by %q has no rows", selector)
	}
	return t, nil
}

// WriteDelimited writes the table as delimited text and returns the
// number of data rows written (the header line is not counted).
//
// Rows keep their own width; short or long rows are written as-is and
// left for downstream validation to count.
func (t *Table) WriteDelimited(w io.Writer, delim rune) (int, error) {
	var b strings.Builder

	writeLine := func(fields []string) {
		for i, f := range fields {
			if i > 0 {
				b.WriteRune(delim)
			}
			b.WriteString(sanitizeField(f, delim))
		}
		b.WriteString("\n")
	}

	writeLine(t.Header)
	for _, row := range t.Rows {
		writeLine(row)
	}

	if _, err := io.WriteString(w, b.String()); err != nil {
		return 0, err
	}
	return len(t.Rows), nil
}

// Convert parses one table from r and writes it to w, returning the
// number of data rows written.
func Convert(r io.Reader, w io.Writer, opts Options) (int, error) {
	t, err := Parse(r, opts.Selector)
	if err != nil {
		return 0, err
	}
	return t.WriteDelimited(w, opts.delimiter())
}

// ConvertFile converts the table in the HTML file at inPath into a
// delimited text file at outPath, creating or truncating it.
func ConvertFile(inPath, outPath string, opts Options) (int, error) {
	in, err := os.Open(inPath)
	if err != nil {
		return 0, err
	}
	defer in.Close()

	out, err := os.Create(outPath)
	if err != nil {
		return 0, err
	}

	n, err := Convert(in, out, opts)
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return n, fmt.Errorf("convert %s: %w", inPath, err)
	}
	return n, nil
}

// normalizeCell collapses all whitespace runs (including newlines left
// over from markup) to single spaces and trims the ends.
func normalizeCell(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// sanitizeField replaces embedded delimiter characters so the field
// cannot shift columns on re-parse.
func sanitizeField(s string, delim rune) string {
	return strings.ReplaceAll(s, string(delim), " ")
}
