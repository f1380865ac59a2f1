// Package csvrec turns raw delimited text into field-named records.
//
// The format is deliberately looser than RFC 4180: no quoting, no escaped
// commas, missing trailing cells default to empty strings, and unknown
// headers pass through untouched. Rows come back in input order.
package csvrec

import "strings"

// Record is one parsed line, keyed by trimmed header name.
type Record map[string]string

// Parse splits text into records. The first non-blank line is the header;
// blank (whitespace-only) lines are discarded on any line-ending
// convention. Fewer than two surviving lines yields no records.
func Parse(text string) []Record {
	var lines []string
	for _, l := range strings.FieldsFunc(text, isLineEnd) {
		if strings.TrimSpace(l) != "" {
			lines = append(lines, l)
		}
	}
	if len(lines) < 2 {
		return nil
	}

	headers := strings.Split(lines[0], ",")
	for i := range headers {
		headers[i] = strings.TrimSpace(headers[i])
	}

	records := make([]Record, 0, len(lines)-1)
	for _, line := range lines[1:] {
		cols := strings.Split(line, ",")
		rec := make(Record, len(headers))
		for i, h := range headers {
			if i < len(cols) {
				rec[h] = strings.TrimSpace(cols[i])
			} else {
				rec[h] = ""
			}
		}
		records = append(records, rec)
	}
	return records
}

func isLineEnd(r rune) bool {
	return r == '\n' || r == '\r'
}
