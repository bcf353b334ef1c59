// Package csvimport extracts student names from loosely formatted spreadsheet
// exports. It looks for a name header in the first lines of the file and falls
// back to the first comma separated column when none is found.
package csvimport

import (
	"errors"
	"io"
	"regexp"
	"strconv"
	"strings"

	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// HeaderScanLimit is how many non-blank lines are searched for a header row.
const HeaderScanLimit = 20

// Separators are tried in this order on every candidate header line. The first
// separator that yields a matching column decides how the rest of the file is
// split, so a line like "Nome;Turma,Ano" is read as semicolon separated.
var Separators = []string{";", ",", "\t"}

var headerNames = []string{"nome do aluno", "nome", "student name"}

var lineBreak = regexp.MustCompile(`\r?\n`)

// Header describes where the name column was found.
type Header struct {
	Found  bool
	Line   int
	Sep    string
	Column int
}

// Names returns the candidate student names in file order. Duplicates are kept.
// An empty result means nothing importable was found.
func Names(text string) []string {
	lines := splitLines(strings.TrimPrefix(text, "\ufeff"))
	if len(lines) == 0 {
		return nil
	}

	h := Sniff(lines)
	start, sep, col := 0, ",", 0
	if h.Found {
		start, sep, col = h.Line+1, h.Sep, h.Column
	}

	var names []string
	for _, line := range lines[start:] {
		cols := splitTrim(line, sep)
		if len(cols) <= col {
			continue
		}
		name := unquote(cols[col])
		if acceptable(name) {
			names = append(names, name)
		}
	}
	return names
}

// Read loads the whole input and returns Names of it. A byte order mark is
// honoured and dropped, so UTF-16 exports are read too.
func Read(r io.Reader) ([]string, error) {
	dec := unicode.BOMOverride(unicode.UTF8.NewDecoder())
	b, err := io.ReadAll(transform.NewReader(r, dec))
	if err != nil {
		return nil, err
	}
	return Names(string(b)), nil
}

// Sniff scans up to HeaderScanLimit lines for a name header.
func Sniff(lines []string) Header {
	limit := len(lines)
	if limit > HeaderScanLimit {
		limit = HeaderScanLimit
	}
	for i := 0; i < limit; i++ {
		line := strings.ToLower(lines[i])
		for _, sep := range Separators {
			for j, c := range splitTrim(line, sep) {
				if isHeaderName(c) {
					return Header{Found: true, Line: i, Sep: sep, Column: j}
				}
			}
		}
	}
	return Header{}
}

func isHeaderName(col string) bool {
	for _, n := range headerNames {
		if col == n {
			return true
		}
	}
	return strings.Contains(col, "nome do aluno")
}

func splitLines(text string) []string {
	var out []string
	for _, l := range lineBreak.Split(text, -1) {
		if strings.TrimSpace(l) != "" {
			out = append(out, l)
		}
	}
	return out
}

func splitTrim(line, sep string) []string {
	cols := strings.Split(line, sep)
	for i := range cols {
		cols[i] = strings.TrimSpace(cols[i])
	}
	return cols
}

// unquote strips one leading and one trailing quote character independently.
func unquote(s string) string {
	if s != "" && (s[0] == '"' || s[0] == '\'') {
		s = s[1:]
	}
	if s != "" && (s[len(s)-1] == '"' || s[len(s)-1] == '\'') {
		s = s[:len(s)-1]
	}
	return s
}

func acceptable(name string) bool {
	if len([]rune(name)) <= 2 {
		return false
	}
	return !numeric(name)
}

// numeric reports whether s reads as a number the way spreadsheet tools and
// browsers see it: decimals, exponents, 0x/0o/0b integers and signed Infinity.
// "NaN" and "Inf" are not numbers.
func numeric(s string) bool {
	if s == "" {
		return false
	}
	unsigned := s
	if s[0] == '+' || s[0] == '-' {
		unsigned = s[1:]
	}
	if unsigned == "Infinity" {
		return true
	}
	if len(s) > 2 && s[0] == '0' {
		if base := prefixBase(s[1]); base != 0 {
			_, err := strconv.ParseUint(s[2:], base, 64)
			return err == nil || errors.Is(err, strconv.ErrRange)
		}
	}
	if _, err := strconv.ParseFloat(s, 64); err != nil {
		return false
	}
	return strings.ContainsAny(s, "0123456789")
}

func prefixBase(c byte) int {
	switch c {
	case 'x', 'X':
		return 16
	case 'o', 'O':
		return 8
	case 'b', 'B':
		return 2
	}
	return 0
}
