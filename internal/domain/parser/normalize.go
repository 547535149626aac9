package parser

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"io"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"
)

// FreeTextMaxLines bounds how many raw lines a free_text payload
// carries; the total count is always reported.
const FreeTextMaxLines = 1000

// WarnDegraded marks output that a normalizer could only partially
// interpret. Normalizers are total: malformed input degrades, it never
// errors.
const WarnDegraded = "parse_degraded"

// Normalized is the structured form of one parser invocation's stdout.
type Normalized struct {
	Payload  json.RawMessage
	Warnings []string
}

// ColumnType declares a coercion for a named CSV column.
type ColumnType string

const (
	ColumnNumber    ColumnType = "number"
	ColumnTimestamp ColumnType = "timestamp"
)

// Options carries per-mode normalizer configuration.
type Options struct {
	// Columns maps CSV header names to a coercion. Unlisted columns
	// stay strings.
	Columns map[string]ColumnType

	// BlockPattern splits structured_blocks output; required for that
	// shape.
	BlockPattern *regexp.Regexp
}

// Normalize applies the shape's normalizer to raw parser output.
// It never fails: any byte string produces a payload, possibly with
// warnings.
func Normalize(shape OutputShape, raw []byte, opts Options) Normalized {
	text, warnings := sanitize(raw)
	switch shape {
	case ShapeCSV:
		return normalizeCSV(text, opts, warnings)
	case ShapeKeyValue:
		return normalizeKeyValue(text, warnings)
	case ShapeStructuredBlocks:
		return normalizeBlocks(text, opts, warnings)
	default:
		return normalizeFreeText(text, warnings)
	}
}

// sanitize guarantees valid UTF-8 before any line handling.
func sanitize(raw []byte) (string, []string) {
	if utf8.Valid(raw) {
		return string(raw), nil
	}
	return strings.ToValidUTF8(string(raw), "�"),
		[]string{WarnDegraded + ": output contained invalid UTF-8"}
}

func splitLines(text string) []string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	return strings.Split(text, "\n")
}

// normalizeCSV treats the first non-empty record as the header.
// Quoting follows RFC 4180, so commas inside quoted fields stay in
// their field. Records shorter than the header are padded with empty
// strings; longer ones keep their extras under an overflow key.
// Declared columns are coerced, with null plus a warning on failure.
func normalizeCSV(text string, opts Options, warnings []string) Normalized {
	reader := csv.NewReader(strings.NewReader(text))
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	var header []string
	var rows []map[string]interface{}

	for {
		fields, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			warnings = appendOnce(warnings, WarnDegraded+": malformed csv record skipped")
			continue
		}
		if len(fields) == 1 && strings.TrimSpace(fields[0]) == "" {
			continue
		}
		if header == nil {
			header = make([]string, len(fields))
			for i, f := range fields {
				header[i] = strings.TrimSpace(f)
			}
			continue
		}

		row := make(map[string]interface{}, len(header))
		for i, col := range header {
			var val string
			if i < len(fields) {
				val = fields[i]
			}
			row[col], warnings = coerce(col, val, opts, warnings)
		}
		if len(fields) > len(header) {
			row["_extra"] = fields[len(header):]
			warnings = appendOnce(warnings, WarnDegraded+": record wider than header")
		}
		rows = append(rows, row)
	}

	if header == nil {
		warnings = appendOnce(warnings, WarnDegraded+": no header line found")
	}

	payload, _ := json.Marshal(map[string]interface{}{
		"columns": emptyIfNil(header),
		"records": rowsOrEmpty(rows),
	})
	return Normalized{Payload: payload, Warnings: warnings}
}

func coerce(col, val string, opts Options, warnings []string) (interface{}, []string) {
	t, declared := opts.Columns[col]
	if !declared {
		return val, warnings
	}
	trimmed := strings.TrimSpace(val)
	switch t {
	case ColumnNumber:
		if trimmed == "" {
			return nil, warnings
		}
		if n, err := strconv.ParseFloat(trimmed, 64); err == nil {
			return n, warnings
		}
		return nil, appendOnce(warnings, WarnDegraded+": column "+col+" is not numeric")
	case ColumnTimestamp:
		if trimmed == "" {
			return nil, warnings
		}
		for _, layout := range []string{time.RFC3339, "2006-01-02 15:04:05", "2006-01-02T15:04:05", "2006-01-02"} {
			if ts, err := time.Parse(layout, trimmed); err == nil {
				return ts.UTC().Format(time.RFC3339), warnings
			}
		}
		return nil, appendOnce(warnings, WarnDegraded+": column "+col+" is not a timestamp")
	default:
		return val, warnings
	}
}

// normalizeKeyValue reads `key: value` lines; repeated keys collect
// into lists in first-seen order.
func normalizeKeyValue(text string, warnings []string) Normalized {
	entries := map[string]interface{}{}
	var order []string
	degraded := false

	for _, line := range splitLines(text) {
		if strings.TrimSpace(line) == "" {
			continue
		}
		key, value, found := strings.Cut(line, ":")
		if !found || strings.TrimSpace(key) == "" {
			degraded = true
			continue
		}
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)

		switch existing := entries[key].(type) {
		case nil:
			entries[key] = value
			order = append(order, key)
		case string:
			entries[key] = []string{existing, value}
		case []string:
			entries[key] = append(existing, value)
		}
	}

	if degraded {
		warnings = appendOnce(warnings, WarnDegraded+": lines without key separator were skipped")
	}

	payload, _ := json.Marshal(map[string]interface{}{
		"keys":   emptyIfNil(order),
		"values": entries,
	})
	return Normalized{Payload: payload, Warnings: warnings}
}

// normalizeBlocks splits on the mode's header pattern; each block body
// is a key/value group. Content before the first header degrades into
// a preamble warning rather than being lost silently.
func normalizeBlocks(text string, opts Options, warnings []string) Normalized {
	if opts.BlockPattern == nil {
		warnings = appendOnce(warnings, WarnDegraded+": no block pattern configured")
		return normalizeFreeText(text, warnings)
	}

	type block struct {
		Header string                 `json:"header"`
		Values map[string]interface{} `json:"values"`
	}

	var blocks []block
	var current *block
	sawPreamble := false

	for _, line := range splitLines(text) {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		if opts.BlockPattern.MatchString(trimmed) {
			blocks = append(blocks, block{Header: trimmed, Values: map[string]interface{}{}})
			current = &blocks[len(blocks)-1]
			continue
		}
		if current == nil {
			sawPreamble = true
			continue
		}
		key, value, found := strings.Cut(trimmed, ":")
		if !found || strings.TrimSpace(key) == "" {
			warnings = appendOnce(warnings, WarnDegraded+": malformed line inside block "+current.Header)
			continue
		}
		current.Values[strings.TrimSpace(key)] = strings.TrimSpace(value)
	}

	if sawPreamble {
		warnings = appendOnce(warnings, WarnDegraded+": content before first block header was skipped")
	}
	if blocks == nil {
		blocks = []block{}
		warnings = appendOnce(warnings, WarnDegraded+": no blocks matched the pattern")
	}

	payload, _ := json.Marshal(map[string]interface{}{"blocks": blocks})
	return Normalized{Payload: payload, Warnings: warnings}
}

// normalizeFreeText returns at most FreeTextMaxLines lines plus the
// total line count.
func normalizeFreeText(text string, warnings []string) Normalized {
	lines := splitLines(text)
	// A trailing newline produces one empty trailing element; it is
	// presentation, not content.
	if n := len(lines); n > 0 && lines[n-1] == "" {
		lines = lines[:n-1]
	}

	total := len(lines)
	truncated := false
	if total > FreeTextMaxLines {
		lines = lines[:FreeTextMaxLines]
		truncated = true
	}

	payload, _ := json.Marshal(map[string]interface{}{
		"lines":       lines,
		"total_lines": total,
		"truncated":   truncated,
	})
	return Normalized{Payload: payload, Warnings: warnings}
}

func appendOnce(warnings []string, w string) []string {
	for _, existing := range warnings {
		if existing == w {
			return warnings
		}
	}
	return append(warnings, w)
}

func emptyIfNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func rowsOrEmpty(rows []map[string]interface{}) []map[string]interface{} {
	if rows == nil {
		return []map[string]interface{}{}
	}
	return rows
}
