package detect

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/transform"
)

// maxLineBytes bounds a single physical line. Vendor exports with megabyte
// lines are malformed, not data.
const maxLineBytes = 1 << 20

// OpenText opens a delimited-text file for reading. A non-empty encoding
// names a character set from the WHATWG registry (for example
// "windows-1252" or "latin-1"); the returned reader then yields UTF-8
// regardless of the bytes on disk.
func OpenText(path, encoding string) (io.ReadCloser, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	switch strings.ToLower(strings.TrimSpace(encoding)) {
	case "", "utf8", "utf-8":
		return f, nil
	}
	enc, err := htmlindex.Get(encoding)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("encoding %q: %w", encoding, err)
	}
	return &decodedFile{r: transform.NewReader(f, enc.NewDecoder()), f: f}, nil
}

// decodedFile pairs a transforming reader with the file it wraps so Close
// reaches the underlying descriptor.
type decodedFile struct {
	r io.Reader
	f *os.File
}

func (d *decodedFile) Read(p []byte) (int, error) { return d.r.Read(p) }
func (d *decodedFile) Close() error               { return d.f.Close() }

// NewLineScanner returns a line scanner sized for vendor exports, which
// run long rows but never legitimately exceed maxLineBytes.
func NewLineScanner(r io.Reader) *bufio.Scanner {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	return sc
}

func stripBOM(s string) string {
	return strings.TrimPrefix(s, "﻿")
}

// readFormatScan reads the header line plus up to limit digit-bearing data
// lines in their raw form. Digit-free lines are ignored: a line without a
// single digit cannot be a thermostat record, and letting them vote on the
// format would let banners and footers pick the delimiter.
//
// Errors: *FormatNotFoundError when the file has no lines at all.
func readFormatScan(r io.Reader, limit int) (header string, lines []string, err error) {
	sc := NewLineScanner(r)
	if !sc.Scan() {
		if err := sc.Err(); err != nil {
			return "", nil, err
		}
		return "", nil, &FormatNotFoundError{Reason: "file is empty"}
	}
	header = stripBOM(sc.Text())

	for len(lines) < limit && sc.Scan() {
		line := sc.Text()
		if containsDigit(line) {
			lines = append(lines, line)
		}
	}
	return header, lines, sc.Err()
}

// readSample collects up to cap qualifying records under a resolved format,
// skipping the header line. A line qualifies when it carries at least one
// digit, splits into exactly width fields, and no field is empty.
// Everything else is skipped without error; partial vendor rows must not
// poison the classification sample. The second return is the number of data
// lines scanned.
func readSample(r io.Reader, f Format, width, cap int) ([][]string, int, error) {
	sc := NewLineScanner(r)
	if !sc.Scan() {
		return nil, 0, sc.Err()
	}

	scanned := 0
	records := make([][]string, 0, cap)
	for len(records) < cap && sc.Scan() {
		scanned++
		line := sc.Text()
		if !containsDigit(line) {
			continue
		}
		fields, err := splitLine(line, f)
		if err != nil || len(fields) != width {
			continue
		}
		if hasEmptyField(fields) {
			continue
		}
		records = append(records, fields)
	}
	return records, scanned, sc.Err()
}

func hasEmptyField(fields []string) bool {
	for _, f := range fields {
		if f == "" {
			return true
		}
	}
	return false
}
