// Package extract holds the typed extraction registry, the per-bank
// statement adapters, the filename finders, and the worker-pool dispatcher.
package extract

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
)

var amountRe = regexp.MustCompile(`[-+]?\d+(?:\.\d+)?`)

// ParseAmount converts statement amount text to a number:
//
//	"2,153,209.39"   -> 2153209.39
//	"(2,045,725.53)" -> -2045725.53
//	"-", "—", ""     -> ok=false (no value)
func ParseAmount(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	switch s {
	case "", "-", "—", "–":
		return 0, false
	}

	neg := false
	if strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") {
		neg = true
		s = strings.TrimSpace(s[1 : len(s)-1])
	}
	s = strings.ReplaceAll(s, ",", "")

	m := amountRe.FindString(s)
	if m == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(m, 64)
	if err != nil {
		return 0, false
	}
	if neg {
		v = -v
	}
	return v, true
}

// statementDateLayouts are the date spellings seen across bank statements.
var statementDateLayouts = []string{
	"02-Jan-2006",
	"2006-01-02",
	"02/01/2006",
	"Jan 2, 2006",
}

// ParseStatementDate parses a date cell in any of the known bank formats.
func ParseStatementDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range statementDateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC), nil
		}
	}
	return time.Time{}, eris.Errorf("extract: unrecognized date format %q", s)
}

// normalizeCol lowercases and strips spaces, slashes, and parentheses for
// cross-format column matching: "Amount in CCY" -> "amountinccy".
func normalizeCol(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	for _, cut := range []string{" ", "(", ")", "/", "_", "-", "."} {
		s = strings.ReplaceAll(s, cut, "")
	}
	return s
}

// mapColumns builds a normalized column name -> index map from a header row.
func mapColumns(header []string) map[string]int {
	m := make(map[string]int, len(header))
	for i, col := range header {
		m[normalizeCol(col)] = i
	}
	return m
}

// col gets a cell by normalized column name, trying each alias in order.
func col(record []string, colIdx map[string]int, aliases ...string) string {
	for _, name := range aliases {
		if idx, ok := colIdx[normalizeCol(name)]; ok && idx < len(record) {
			if v := strings.TrimSpace(record[idx]); v != "" {
				return v
			}
		}
	}
	return ""
}

// fieldValue scans statement text lines for "Label: value" (same line) or a
// label line followed by the value on the next non-empty line.
func fieldValue(lines []string, label string) string {
	norm := func(s string) string {
		return strings.Join(strings.Fields(s), " ")
	}
	target := strings.ToLower(norm(label))

	for i, ln := range lines {
		n := norm(ln)
		lower := strings.ToLower(n)

		if strings.HasPrefix(lower, target) {
			rest := strings.TrimSpace(n[len(target):])
			rest = strings.TrimSpace(strings.TrimPrefix(rest, ":"))
			if rest != "" {
				return rest
			}
			// Label alone on its line: take the next non-empty line.
			for j := i + 1; j < len(lines); j++ {
				if next := norm(lines[j]); next != "" {
					return next
				}
			}
		}
	}
	return ""
}

// statementLines splits raw statement text into trimmed non-empty lines,
// dropping ASCII table borders.
func statementLines(text string) []string {
	var out []string
	for _, ln := range strings.Split(text, "\n") {
		ln = strings.TrimSpace(ln)
		if ln == "" || strings.Trim(ln, "┌┐└┘╞╡═╬─│+|=") == "" {
			continue
		}
		out = append(out, ln)
	}
	return out
}
