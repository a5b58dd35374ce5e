package detect

import (
	"math"
	"strconv"
	"strings"
)

// distinctCap bounds the per-column distinct-value set. Past this many the
// column is "high cardinality" and the exact count stops mattering.
const distinctCap = 10000

// columnScan accumulates value-shape counters for one column across the
// sample. Counters are per value; the final type falls out of which shapes
// cover the whole column.
type columnScan struct {
	pos int
	n   int

	alpha    int // no digit anywhere
	digits   int // all digits, no leading zero (or exactly "0")
	leadZero int // all digits, non-significant leading zero
	zip5     int // exactly five digits
	zip10    int // ddddd-dddd
	commas   int // 3-digit comma grouping, numeric once commas drop
	floats   int // decimal point and parses as a float
	alnum    int // digit and non-digit mixed

	maxVal float64
	sum    float64
	sumSq  float64

	distinct map[string]struct{}
}

func newColumnScan(pos int) *columnScan {
	return &columnScan{pos: pos, distinct: make(map[string]struct{})}
}

func (c *columnScan) observe(v string) {
	c.n++
	if len(c.distinct) < distinctCap {
		c.distinct[v] = struct{}{}
	}

	if !containsDigit(v) {
		c.alpha++
		return
	}
	if allDigits(v) {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			if f > c.maxVal {
				c.maxVal = f
			}
			c.sum += f
			c.sumSq += f * f
		}
		if len(v) == 5 {
			c.zip5++
		}
		if len(v) > 1 && v[0] == '0' {
			c.leadZero++
		} else {
			c.digits++
		}
		return
	}
	if isZipPlus4(v) {
		c.zip10++
		return
	}
	if isCommaGrouped(v) {
		c.commas++
		return
	}
	if strings.Contains(v, ".") {
		if _, err := strconv.ParseFloat(v, 64); err == nil {
			c.floats++
			return
		}
	}
	c.alnum++
}

// digitCount is the number of all-digit values seen, zero-padded or not.
func (c *columnScan) digitCount() int { return c.digits + c.leadZero }

// allDigitColumn reports whether every sampled value was purely digits.
// These are the numeric candidates for identifier resolution regardless of
// the final display type.
func (c *columnScan) allDigitColumn() bool { return c.n > 0 && c.digitCount() == c.n }

func (c *columnScan) distinctCount() int { return len(c.distinct) }

func (c *columnScan) mean() float64 {
	if c.digitCount() == 0 {
		return 0
	}
	return c.sum / float64(c.digitCount())
}

// stdDev is the population standard deviation over the all-digit values,
// computed single-pass from the running sums.
func (c *columnScan) stdDev() float64 {
	n := float64(c.digitCount())
	if n == 0 {
		return 0
	}
	m := c.sum / n
	v := c.sumSq/n - m*m
	if v < 0 {
		v = 0
	}
	return math.Sqrt(v)
}

// classify assigns the column type from the accumulated counters. The rules
// fire in order and each demands that its shape covers the whole column:
//
//   - every value digit-free: alpha_only
//   - every value exactly five digits: possible_zip
//   - every value clean digits: ints
//   - digits and decimals only, at least one decimal: floats
//   - comma-grouped numerics (plain numerics tolerated): numeric_commas
//   - every value ddddd-dddd: zip_plus_4
//   - anything else: alphanumeric
//
// A single six-digit value therefore flips an otherwise five-digit column
// from possible_zip to ints, and a single zero-padded value keeps a column
// out of ints entirely.
func (c *columnScan) classify() ColumnType {
	switch {
	case c.n == 0 || c.alpha == c.n:
		return TypeAlphaOnly
	case c.zip5 == c.n:
		return TypePossibleZip
	case c.digits == c.n:
		return TypeInts
	case c.floats > 0 && c.digits+c.floats == c.n:
		return TypeFloats
	case c.commas > 0 && c.commas+c.digits+c.floats == c.n:
		return TypeNumericCommas
	case c.zip10 == c.n:
		return TypeZipPlus4
	default:
		return TypeAlphanumeric
	}
}

// classifyColumns scans every non-reserved column of the sample. Reserved
// positions (timestamps, cycle mode) come back with an empty scan; their
// types are fixed by the roles that reserved them.
func classifyColumns(records [][]string, width int, reserved map[int]bool) []*columnScan {
	scans := make([]*columnScan, width)
	for i := range scans {
		scans[i] = newColumnScan(i)
	}
	for _, rec := range records {
		for i := 0; i < width && i < len(rec); i++ {
			if reserved[i] {
				continue
			}
			scans[i].observe(rec[i])
		}
	}
	return scans
}

func allDigits(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if !isDigit(s[i]) {
			return false
		}
	}
	return true
}

// isZipPlus4 matches the ZIP+4 postal shape: ten characters, a dash at
// index five, digits everywhere else.
func isZipPlus4(s string) bool {
	if len(s) != 10 || s[5] != '-' {
		return false
	}
	for i := 0; i < len(s); i++ {
		if i == 5 {
			continue
		}
		if !isDigit(s[i]) {
			return false
		}
	}
	return true
}

// isCommaGrouped matches numbers written with 3-digit thousands grouping,
// optionally with a decimal tail: 1,234 or 12,345,678.90. The comma-free
// form must itself be numeric.
func isCommaGrouped(s string) bool {
	if !strings.Contains(s, ",") {
		return false
	}
	intPart := s
	if dot := strings.IndexByte(s, '.'); dot >= 0 {
		intPart = s[:dot]
		frac := s[dot+1:]
		if frac == "" || !allDigits(frac) {
			return false
		}
	}
	groups := strings.Split(intPart, ",")
	if len(groups) < 2 {
		return false
	}
	if groups[0] == "" || len(groups[0]) > 3 || !allDigits(groups[0]) {
		return false
	}
	for _, g := range groups[1:] {
		if len(g) != 3 || !allDigits(g) {
			return false
		}
	}
	return true
}
