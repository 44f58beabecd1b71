package service

import (
	"fmt"
	"regexp"
	"strings"
)

var (
	writeKeywords = regexp.MustCompile(`(?i)\b(INSERT|UPDATE|DELETE|DROP|ALTER|CREATE|ATTACH|DETACH|PRAGMA|VACUUM|REINDEX|UPSERT)\b`)
	leadKeyword   = regexp.MustCompile(`(?i)^\s*(SELECT|WITH)\b`)
	tableRef      = regexp.MustCompile("(?i)\\b(?:FROM|JOIN)\\s+[\"`\\[]?([A-Za-z_][A-Za-z0-9_]*)")
)

// internalTables are present in the database but are not part of the corpus.
var internalTables = map[string]bool{
	"sessions":         true,
	"turns":            true,
	"turn_context":     true,
	"goose_db_version": true,
}

// IsInternalTable reports whether name is a bookkeeping table hidden from
// generated queries.
func IsInternalTable(name string) bool {
	name = strings.ToLower(name)
	return internalTables[name] || strings.HasPrefix(name, "sqlite_")
}

// CheckReadOnly returns the problems that make query unsafe to run against
// the corpus: multiple statements, anything other than SELECT/WITH, write
// keywords and references to internal tables. An empty result means the
// statement is acceptable.
func CheckReadOnly(query string) []string {
	q := NormalizeQuery(query)
	if q == "" {
		return []string{"query is empty"}
	}

	masked := maskLiterals(q)
	var problems []string

	if strings.Contains(masked, ";") {
		problems = append(problems, "multiple statements are not allowed")
	}
	if !leadKeyword.MatchString(masked) {
		problems = append(problems, "only SELECT queries are allowed")
	}
	if m := writeKeywords.FindString(masked); m != "" {
		problems = append(problems, fmt.Sprintf("%s statements are not allowed", strings.ToUpper(m)))
	}

	seen := make(map[string]bool)
	for _, m := range tableRef.FindAllStringSubmatch(masked, -1) {
		name := strings.ToLower(m[1])
		if IsInternalTable(name) && !seen[name] {
			seen[name] = true
			problems = append(problems, fmt.Sprintf("table %s is not part of the corpus schema", name))
		}
	}

	return problems
}

// NormalizeQuery trims whitespace and a single trailing semicolon.
func NormalizeQuery(query string) string {
	q := strings.TrimSpace(query)
	q = strings.TrimSuffix(q, ";")
	return strings.TrimSpace(q)
}

// maskLiterals blanks out string literals and comments so keyword checks do
// not match user text such as WHERE title LIKE '%delete%'.
func maskLiterals(q string) string {
	var b strings.Builder
	b.Grow(len(q))

	for i := 0; i < len(q); i++ {
		c := q[i]
		switch {
		case c == '\'':
			// '' is an escaped quote inside the literal
			b.WriteByte(c)
			for i++; i < len(q); i++ {
				if q[i] == c {
					if i+1 < len(q) && q[i+1] == c {
						i++
						continue
					}
					break
				}
			}
			b.WriteByte(c)
		case c == '-' && i+1 < len(q) && q[i+1] == '-':
			for i < len(q) && q[i] != '\n' {
				i++
			}
			b.WriteByte(' ')
		case c == '/' && i+1 < len(q) && q[i+1] == '*':
			end := strings.Index(q[i+2:], "*/")
			if end < 0 {
				i = len(q)
			} else {
				i += end + 3
			}
			b.WriteByte(' ')
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}
