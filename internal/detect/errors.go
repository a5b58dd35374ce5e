package detect

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrNoDelimiter is returned by Format.Split when the delimiter does not
// appear in the line at all. Callers treat it as "this line cannot be a
// data row for this format", never as a fatal condition on its own.
var ErrNoDelimiter = errors.New("delimiter not present in line")

// AmbiguousFormatError reports that format detection found more than one
// viable delimiter or quote candidate in the scanned sample. The caller must
// re-run with the character fixed explicitly.
type AmbiguousFormatError struct {
	// What names the ambiguous element, "delimiter" or "quote".
	What       string
	Candidates []rune
}

func (e *AmbiguousFormatError) Error() string {
	quoted := make([]string, len(e.Candidates))
	for i, c := range e.Candidates {
		quoted[i] = strconv.QuoteRune(c)
	}
	return fmt.Sprintf("ambiguous %s: candidates %s all fit the sampled lines; pass one explicitly",
		e.What, strings.Join(quoted, ", "))
}

// FormatNotFoundError reports that no delimiter candidate produced a
// consistent header and data-row split within the scan bound.
type FormatNotFoundError struct {
	Reason  string
	Scanned int
}

func (e *FormatNotFoundError) Error() string {
	return fmt.Sprintf("no usable format found after scanning %d lines: %s", e.Scanned, e.Reason)
}

// SchemaMismatchError reports structural disagreement between the detected
// header and the data, or an explicit column request that the header cannot
// satisfy.
type SchemaMismatchError struct {
	Reason string
}

func (e *SchemaMismatchError) Error() string {
	return "schema mismatch: " + e.Reason
}

// CycleNotFoundError reports that the requested cycle-mode literal never
// appeared within the sampled lines.
type CycleNotFoundError struct {
	Literal string
	Lines   int
}

func (e *CycleNotFoundError) Error() string {
	return fmt.Sprintf("cycle value %q not found in the first %d lines", e.Literal, e.Lines)
}

// UnresolvedIDError reports that every heuristic in the identifier cascade
// failed. Failed names the last heuristic tried and Considered lists the
// column headings that were examined along the way.
type UnresolvedIDError struct {
	Failed     string
	Considered []string
}

func (e *UnresolvedIDError) Error() string {
	if len(e.Considered) == 0 {
		return fmt.Sprintf("cannot resolve id column: %s matched nothing", e.Failed)
	}
	return fmt.Sprintf("cannot resolve id column: %s matched nothing (examined %s)",
		e.Failed, strings.Join(e.Considered, ", "))
}
