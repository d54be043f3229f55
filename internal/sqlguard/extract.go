// extract.go pulls schema references out of a SQL statement. Extraction is
// regex-based: any identifier immediately qualifying another with a dot is
// treated as a schema reference, wherever it appears in the text. That
// over-captures table aliases, which is the right failure mode for a
// permission check: an unrecognized qualifier denies, never allows.
package sqlguard

import (
	"regexp"
	"sort"
	"strings"
)

// A qualified reference is schema.table where either side may be backtick,
// double-quote, or bracket quoted. The schema side is captured once per
// quoting form.
var schemaRefPattern = regexp.MustCompile(
	"(?:`([^`]+)`" + `|"([^"]+)"|\[([^\]]+)\]|([A-Za-z_][A-Za-z0-9_]*))` +
		`\s*\.\s*` +
		"(?:`[^`]+`" + `|"[^"]+"|\[[^\]]+\]|[A-Za-z_][A-Za-z0-9_]*)`)

// Schemas owned by the database engine. Non-admin users never touch these.
var systemSchemas = map[string]bool{
	"information_schema": true,
	"mysql":              true,
	"performance_schema": true,
	"sys":                true,
	"pg_catalog":         true,
}

// ExtractSchemas returns the distinct schema names a statement references,
// lowercased and sorted. A reference is any qualified identifier anywhere in
// the statement, after comment stripping, so system catalogs mentioned in
// sub-queries surface here too. Unqualified table names contribute nothing;
// the caller decides how those resolve.
func ExtractSchemas(query string) []string {
	stripped := StripComments(query)

	seen := make(map[string]bool)
	for _, m := range schemaRefPattern.FindAllStringSubmatch(stripped, -1) {
		for _, group := range m[1:] {
			if group != "" {
				seen[strings.ToLower(group)] = true
				break
			}
		}
	}

	schemas := make([]string, 0, len(seen))
	for s := range seen {
		schemas = append(schemas, s)
	}
	sort.Strings(schemas)
	return schemas
}

// IsSystemSchema reports whether a schema belongs to the database engine
func IsSystemSchema(name string) bool {
	return systemSchemas[strings.ToLower(name)]
}
