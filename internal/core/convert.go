package core

// convert.go coerces raw spreadsheet cells into typed values.
//
// Every parser treats blank and sentinel cells ("", "nan", "none", "null")
// as missing and returns a nil pointer for them. Infinite and NaN numbers
// are also treated as missing.

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// HeaderIndex maps column names (lowercase) to their position in a record.
type HeaderIndex map[string]int

// MakeHeaderIndex builds a HeaderIndex from a header record.
// The first occurrence of a duplicated column wins.
func MakeHeaderIndex(header []string) HeaderIndex {
	idx := make(HeaderIndex, len(header))
	for i, h := range header {
		key := strings.ToLower(CleanCell(h))
		if _, seen := idx[key]; !seen {
			idx[key] = i
		}
	}
	return idx
}

// Has reports whether the column is present.
func (h HeaderIndex) Has(col string) bool {
	_, ok := h[col]
	return ok
}

// Cell returns the cleaned value of col in record, or "" if absent.
func (h HeaderIndex) Cell(record []string, col string) string {
	pos, ok := h[col]
	if !ok || pos >= len(record) {
		return ""
	}
	return CleanCell(record[pos])
}

// Fields returns the record as a column-name keyed map.
func (h HeaderIndex) Fields(record []string) map[string]string {
	m := make(map[string]string, len(h))
	for col := range h {
		m[col] = h.Cell(record, col)
	}
	return m
}

// CleanCell removes common spreadsheet artifacts from a cell value:
// surrounding whitespace, an Excel formula prefix (="...") and quotes.
func CleanCell(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "=\"") && strings.HasSuffix(s, "\"") && len(s) >= 3 {
		s = s[2 : len(s)-1]
	}
	return strings.TrimSpace(strings.Trim(s, `"'`))
}

// IsNullToken reports whether a cell is blank or a missing-value sentinel.
func IsNullToken(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "nan", "none", "null":
		return true
	}
	return false
}

// parseNumber parses a numeric cell. ok is false for missing values,
// including infinities and NaN.
func parseNumber(s string) (v float64, ok bool, err error) {
	if IsNullToken(s) {
		return 0, false, nil
	}
	v, err = strconv.ParseFloat(strings.TrimSpace(s), 64)
	if errors.Is(err, strconv.ErrRange) && math.IsInf(v, 0) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("invalid number %q", s)
	}
	if math.IsInf(v, 0) || math.IsNaN(v) {
		return 0, false, nil
	}
	return v, true, nil
}

// ParseWhole parses a cell holding a whole number such as "35" or "35.0".
func ParseWhole(s string) (*int, error) {
	v, ok, err := parseNumber(s)
	if err != nil || !ok {
		return nil, err
	}
	if v != math.Trunc(v) {
		return nil, fmt.Errorf("invalid number %q: must be a whole number", s)
	}
	if v > math.MaxInt32 || v < math.MinInt32 {
		return nil, fmt.Errorf("invalid number %q: out of range", s)
	}
	i := int(v)
	return &i, nil
}

// ParseResponse maps truthy and falsy tokens to a boolean.
// Unrecognized tokens are treated as missing.
func ParseResponse(s string) *bool {
	var b bool
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "true", "t", "yes", "y", "1", "1.0":
		b = true
	case "false", "f", "no", "n", "0", "0.0":
		b = false
	default:
		return nil
	}
	return &b
}

// MapTreatment maps treatment arm tokens to their integer code:
// tr1, "tr 1" and 1 map to 1; tr2, "tr 2" and 2 map to 2.
// Other numeric values pass through; other text is treated as missing.
func MapTreatment(s string) (*int, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "tr1", "tr 1":
		return intPtr(1), nil
	case "tr2", "tr 2":
		return intPtr(2), nil
	}
	return mapCode(s)
}

// MapSampleType maps sample type names to their integer code:
// pbmc maps to 1 and tumor maps to 2.
func MapSampleType(s string) (*int, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "pbmc":
		return intPtr(1), nil
	case "tumor":
		return intPtr(2), nil
	}
	return mapCode(s)
}

// mapCode accepts numeric codes and drops unrecognized text.
func mapCode(s string) (*int, error) {
	if _, err := strconv.ParseFloat(strings.TrimSpace(s), 64); err != nil {
		return nil, nil
	}
	return ParseWhole(s)
}

func intPtr(i int) *int { return &i }

func strPtr(s string) *string { return &s }
