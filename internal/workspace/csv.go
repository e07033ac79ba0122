package workspace

import "strings"

// ParseCSVLine implements the bespoke, embedded tokenizer: comma
// separated, values may be double-quoted (commas and newlines literal
// inside quotes, "" escapes a quote), every value (quoted ones included)
// is whitespace trimmed, a line with no commas yields one field, and an empty input
// yields a single empty field. Not encoding/csv, because that package
// can't express the exact "first 100 rows, literal embedded newlines"
// preview contract without re-implementing quote handling around it
// anyway — see DESIGN.md.
func ParseCSVLine(line string) []string {
	if line == "" {
		return []string{""}
	}

	var fields []string
	var cur strings.Builder
	inQuotes := false
	runes := []rune(line)

	for i := 0; i < len(runes); i++ {
		r := runes[i]
		switch {
		case inQuotes:
			if r == '"' {
				if i+1 < len(runes) && runes[i+1] == '"' {
					cur.WriteRune('"')
					i++
				} else {
					inQuotes = false
				}
			} else {
				cur.WriteRune(r)
			}
		case r == '"' && cur.Len() == 0:
			inQuotes = true
		case r == ',':
			fields = append(fields, strings.TrimSpace(cur.String()))
			cur.Reset()
		default:
			cur.WriteRune(r)
		}
	}
	fields = append(fields, strings.TrimSpace(cur.String()))
	return fields
}

// SerializeCSVLine is ParseCSVLine's inverse, used only to exercise the
// round-trip law in tests: parseCSVLine(serialize(parseCSVLine(s))) ==
// parseCSVLine(s).
func SerializeCSVLine(fields []string) string {
	out := make([]string, len(fields))
	for i, f := range fields {
		if strings.ContainsAny(f, ",\"\n") {
			out[i] = `"` + strings.ReplaceAll(f, `"`, `""`) + `"`
		} else {
			out[i] = f
		}
	}
	return strings.Join(out, ",")
}

// ParseCSVRows splits a CSV blob into records, respecting quoted newlines,
// and returns at most maxRows parsed rows.
func ParseCSVRows(data string, maxRows int) [][]string {
	var rows [][]string
	var cur strings.Builder
	inQuotes := false
	runes := []rune(data)

	flush := func() {
		rows = append(rows, ParseCSVLine(cur.String()))
		cur.Reset()
	}

	for i := 0; i < len(runes) && len(rows) < maxRows; i++ {
		r := runes[i]
		switch {
		case r == '"':
			inQuotes = !inQuotes
			cur.WriteRune(r)
		case r == '\n' && !inQuotes:
			flush()
		default:
			cur.WriteRune(r)
		}
	}
	if cur.Len() > 0 && len(rows) < maxRows {
		flush()
	}
	return rows
}
