// Package recordio parses and serializes the comma-delimited grid format
// used for stock and sales imports/exports. It is a text-ledger format, not
// a byte-faithful archive: cell values are trimmed on parse.
package recordio

import (
	"encoding/csv"
	"fmt"
	"strings"
)

// Record is an ordered mapping of field name to string value. Key order is
// first-seen, which keeps the serialized header deterministic.
type Record struct {
	keys   []string
	values map[string]string
}

func NewRecord() Record {
	return Record{values: make(map[string]string)}
}

func (r *Record) Set(key, value string) {
	if r.values == nil {
		r.values = make(map[string]string)
	}
	if _, ok := r.values[key]; !ok {
		r.keys = append(r.keys, key)
	}
	r.values[key] = value
}

func (r Record) Get(key string) string {
	return r.values[key]
}

func (r Record) Has(key string) bool {
	_, ok := r.values[key]
	return ok
}

// Keys returns the field names in first-seen order.
func (r Record) Keys() []string {
	out := make([]string, len(r.keys))
	copy(out, r.keys)
	return out
}

func (r Record) Len() int {
	return len(r.keys)
}

// Parse reads a delimited-text grid. The first non-blank row is the header;
// every following row is zipped against it (missing trailing cells map to
// "", extra cells are dropped) with all values trimmed. A row consisting of
// a single empty cell is treated as blank and skipped. Truly malformed text
// (an unterminated quote) fails closed with a parse error.
func Parse(text string) ([]Record, error) {
	reader := csv.NewReader(strings.NewReader(normalizeNewlines(text)))
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = false

	rows, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parse grid: %w", err)
	}

	var header []string
	records := make([]Record, 0, len(rows))
	for _, row := range rows {
		if isBlankRow(row) {
			continue
		}
		if header == nil {
			header = make([]string, len(row))
			for i, cell := range row {
				header[i] = strings.TrimSpace(cell)
			}
			continue
		}

		record := NewRecord()
		for i, key := range header {
			value := ""
			if i < len(row) {
				value = strings.TrimSpace(row[i])
			}
			record.Set(key, value)
		}
		records = append(records, record)
	}

	return records, nil
}

// Serialize writes records back to the grid format. The header is the union
// of all keys across all records in first-seen order; fields containing a
// separator, quote, or line break are quoted with internal quotes doubled.
func Serialize(records []Record) string {
	header := make([]string, 0, 8)
	seen := make(map[string]bool, 8)
	for _, record := range records {
		for _, key := range record.keys {
			if !seen[key] {
				seen[key] = true
				header = append(header, key)
			}
		}
	}

	var buf strings.Builder
	writer := csv.NewWriter(&buf)
	_ = writer.Write(header)
	row := make([]string, len(header))
	for _, record := range records {
		for i, key := range header {
			row[i] = record.Get(key)
		}
		_ = writer.Write(row)
	}
	writer.Flush()
	return buf.String()
}

func isBlankRow(row []string) bool {
	return len(row) == 0 || (len(row) == 1 && strings.TrimSpace(row[0]) == "")
}

// normalizeNewlines maps lone CR line endings to LF so classic-Mac exports
// parse the same as LF/CRLF files.
func normalizeNewlines(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	return strings.ReplaceAll(text, "\r", "\n")
}
