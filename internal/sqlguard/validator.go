// Package sqlguard classifies SQL statements before they reach an analytics
// database. It answers two independent questions: is the statement safe to run
// at all (read-only, single statement), and what permission level would running
// it require. Keyword matching is whole-word so identifiers like dropdown_id or
// DROPPED_ITEMS never trip the filter.
package sqlguard

import (
	"regexp"
	"strings"

	"github.com/querygate/querygate/internal/db/models"
)

// Verdict is the result of classifying a statement
type Verdict struct {
	Safe   bool
	Reason string // human-readable; empty when Safe
	Code   string // stable low-cardinality code for metrics; empty when Safe
}

// Verdict codes
const (
	CodeEmpty              = "empty"
	CodeMultipleStatements = "multiple_statements"
	CodeNotSelect          = "not_select"
	CodeForbiddenKeyword   = "forbidden_keyword"
)

// Statement keywords that make a query unsafe to execute through the gate
var dangerousKeywords = []string{
	"DROP", "DELETE", "INSERT", "UPDATE", "TRUNCATE", "ALTER",
	"CREATE", "GRANT", "REVOKE", "EXEC", "EXECUTE", "CALL",
}

// Keywords that raise the permission level a statement requires
var (
	adminKeywords = regexp.MustCompile(`(?i)\b(CREATE|DROP|ALTER|TRUNCATE)\b`)
	writeKeywords = regexp.MustCompile(`(?i)\b(INSERT|UPDATE|DELETE)\b`)
)

var (
	lineComment  = regexp.MustCompile(`--[^\n]*`)
	blockComment = regexp.MustCompile(`(?s)/\*.*?\*/`)
)

// Validator screens SQL statements for execution safety
type Validator struct {
	dangerous *regexp.Regexp
}

// NewValidator creates a Validator with the default keyword set
func NewValidator() *Validator {
	pattern := `(?i)\b(` + strings.Join(dangerousKeywords, "|") + `)\b`
	return &Validator{dangerous: regexp.MustCompile(pattern)}
}

// StripComments removes line and block comments so commented-out keywords
// cannot mask or fake a violation
func StripComments(query string) string {
	query = blockComment.ReplaceAllString(query, " ")
	query = lineComment.ReplaceAllString(query, " ")
	return strings.TrimSpace(query)
}

// Classify decides whether a statement is safe to execute. Safe statements are
// a single SELECT with no data-modifying keywords anywhere, including subqueries.
func (v *Validator) Classify(query string) Verdict {
	stripped := StripComments(query)
	if stripped == "" {
		return Verdict{Safe: false, Reason: "empty statement", Code: CodeEmpty}
	}

	// A single trailing semicolon is tolerated; anything more means stacked
	// statements. Semicolons inside string literals do not separate statements.
	semis := statementSeparators(stripped)
	if len(semis) > 1 {
		return Verdict{Safe: false, Reason: "multiple statements are not allowed", Code: CodeMultipleStatements}
	}
	if len(semis) == 1 && strings.TrimSpace(stripped[semis[0]+1:]) != "" {
		return Verdict{Safe: false, Reason: "multiple statements are not allowed", Code: CodeMultipleStatements}
	}

	upper := strings.ToUpper(stripped)
	if !strings.HasPrefix(upper, "SELECT") {
		return Verdict{Safe: false, Reason: "only SELECT statements are allowed", Code: CodeNotSelect}
	}

	if m := v.dangerous.FindString(stripped); m != "" {
		return Verdict{Safe: false, Reason: "statement contains forbidden keyword " + strings.ToUpper(m), Code: CodeForbiddenKeyword}
	}

	return Verdict{Safe: true}
}

// statementSeparators returns the byte offsets of the semicolons that
// actually separate statements: those outside single-quoted, double-quoted,
// and dollar-quoted literals.
func statementSeparators(s string) []int {
	var offsets []int
	for i := 0; i < len(s); {
		switch s[i] {
		case '\'', '"':
			i = skipQuoted(s, i)
		case '$':
			if end, ok := skipDollarQuoted(s, i); ok {
				i = end
			} else {
				i++
			}
		case ';':
			offsets = append(offsets, i)
			i++
		default:
			i++
		}
	}
	return offsets
}

// skipQuoted advances past the quoted literal opening at i. A doubled quote
// inside the literal is an escape, not a terminator. An unterminated literal
// runs to the end of the input.
func skipQuoted(s string, i int) int {
	quote := s[i]
	for i++; i < len(s); i++ {
		if s[i] != quote {
			continue
		}
		if i+1 < len(s) && s[i+1] == quote {
			i++
			continue
		}
		return i + 1
	}
	return len(s)
}

var dollarQuoteTag = regexp.MustCompile(`^\$[A-Za-z_]*\$`)

// skipDollarQuoted advances past a $tag$ ... $tag$ literal opening at i, or
// reports false when i does not open one.
func skipDollarQuoted(s string, i int) (int, bool) {
	tag := dollarQuoteTag.FindString(s[i:])
	if tag == "" {
		return 0, false
	}
	body := i + len(tag)
	end := strings.Index(s[body:], tag)
	if end < 0 {
		return len(s), true
	}
	return body + end + len(tag), true
}

// RequiredLevel returns the permission level a statement needs on the schemas
// it touches. DDL needs admin, DML needs write, everything else reads.
func RequiredLevel(query string) models.PermissionLevel {
	stripped := StripComments(query)
	if adminKeywords.MatchString(stripped) {
		return models.LevelAdmin
	}
	if writeKeywords.MatchString(stripped) {
		return models.LevelWrite
	}
	return models.LevelRead
}
