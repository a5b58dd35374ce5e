package detect

import (
	"strings"
)

// minHeaderColumns is the smallest header width a delimiter candidate must
// produce. Thermostat exports always carry at least an id, a timestamp and
// one payload column.
const minHeaderColumns = 3

// delimiterCandidates are tried in priority order. Space is deliberately
// absent: it is the fallback of last resort because timestamps themselves
// often contain one.
var delimiterCandidates = []rune{',', '\t', '|'}

// quoteCandidates are tried in priority order.
var quoteCandidates = []rune{'"', '\''}

// Split tokenizes one raw line under this format.
//
// The line is normalized first: one trailing newline (and carriage return)
// is removed, then one trailing delimiter, so exports that terminate every
// record with the separator do not grow a phantom empty field. Quotes are
// stripped only when they enclose a field symmetrically; a lone or unpaired
// quote is data and stays put.
//
// Errors: ErrNoDelimiter when the delimiter does not occur in the line,
// which marks the line as unusable for this format rather than a fatal
// failure.
func (f Format) Split(line string) ([]string, error) {
	return splitLine(line, f)
}

func splitLine(line string, f Format) ([]string, error) {
	line = strings.TrimSuffix(line, "\n")
	line = strings.TrimSuffix(line, "\r")

	delim := string(f.Delimiter)
	if !strings.Contains(line, delim) {
		return nil, ErrNoDelimiter
	}
	line = strings.TrimSuffix(line, delim)

	fields := strings.Split(line, delim)
	if f.Quote != 0 {
		q := string(f.Quote)
		for i, field := range fields {
			if len(field) >= 2*len(q) && strings.HasPrefix(field, q) && strings.HasSuffix(field, q) {
				fields[i] = field[len(q) : len(field)-len(q)]
			}
		}
	}
	return fields, nil
}

// detectQuote scans sampled data lines for a quote character in quoting
// position: the candidate followed by a non-digit. A quote directly followed
// by a digit is far more likely an inch/footage mark inside a value than a
// field fence.
//
// Errors: *AmbiguousFormatError when both candidates appear in quoting
// position anywhere in the sample.
func detectQuote(lines []string) (rune, error) {
	var viable []rune
	for _, q := range quoteCandidates {
		if quoteAppears(lines, byte(q)) {
			viable = append(viable, q)
		}
	}
	switch len(viable) {
	case 0:
		return 0, nil
	case 1:
		return viable[0], nil
	}
	return 0, &AmbiguousFormatError{What: "quote", Candidates: viable}
}

func quoteAppears(lines []string, q byte) bool {
	for _, line := range lines {
		for i := 0; i+1 < len(line); i++ {
			if line[i] == q && !isDigit(line[i+1]) {
				return true
			}
		}
	}
	return false
}

// detectDelimiter picks the field separator. A candidate qualifies when the
// header splits into at least minHeaderColumns fields and at least one
// sampled data line splits into fields whose timestamp count matches the
// declared kind (two for cycles, one otherwise). Exactly one qualifying
// candidate wins; several is an ambiguity the caller must resolve by
// configuring the delimiter; none falls back to the space character under
// the same test.
//
// Errors: *AmbiguousFormatError, *FormatNotFoundError.
func detectDelimiter(header string, lines []string, kind FileKind, quote rune) (rune, error) {
	var viable []rune
	for _, d := range delimiterCandidates {
		if delimiterFits(d, header, lines, kind, quote) {
			viable = append(viable, d)
		}
	}
	switch len(viable) {
	case 1:
		return viable[0], nil
	case 0:
		if delimiterFits(' ', header, lines, kind, quote) {
			return ' ', nil
		}
		return 0, &FormatNotFoundError{
			Reason:  "no delimiter candidate split the header into 3+ columns with matching timestamps in the data",
			Scanned: len(lines),
		}
	}
	return 0, &AmbiguousFormatError{What: "delimiter", Candidates: viable}
}

func delimiterFits(d rune, header string, lines []string, kind FileKind, quote rune) bool {
	f := Format{Delimiter: d, Quote: quote}
	head, err := splitLine(header, f)
	if err != nil || len(head) < minHeaderColumns {
		return false
	}
	want := kind.TimestampCount()
	for _, line := range lines {
		fields, err := splitLine(line, f)
		if err != nil {
			continue
		}
		if countTimestampFields(fields) == want {
			return true
		}
	}
	return false
}

// detectFormat resolves the full Format for a file. Explicit delimiter and
// quote values (non-zero) bypass detection for that element; an explicit
// delimiter is still validated against the header width.
func detectFormat(header string, lines []string, kind FileKind, explicit Format) (Format, error) {
	quote := explicit.Quote
	if quote == 0 {
		q, err := detectQuote(lines)
		if err != nil {
			return Format{}, err
		}
		quote = q
	}

	delim := explicit.Delimiter
	if delim == 0 {
		d, err := detectDelimiter(header, lines, kind, quote)
		if err != nil {
			return Format{}, err
		}
		delim = d
	} else {
		head, err := splitLine(header, Format{Delimiter: delim, Quote: quote})
		if err != nil || len(head) < minHeaderColumns {
			return Format{}, &SchemaMismatchError{
				Reason: "configured delimiter " + string(delim) + " does not split the header into 3+ columns",
			}
		}
	}

	return Format{Delimiter: delim, Quote: quote}, nil
}

func isDigit(b byte) bool { return b >= '0' && b <= '9' }

func containsDigit(s string) bool {
	for i := 0; i < len(s); i++ {
		if isDigit(s[i]) {
			return true
		}
	}
	return false
}
