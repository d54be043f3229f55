package sqlguard

import (
	"strings"
	"testing"

	"github.com/querygate/querygate/internal/db/models"
)

// ---------------------------------------------------------------------------
// Classify
// ---------------------------------------------------------------------------

func TestClassify_PlainSelect(t *testing.T) {
	v := NewValidator()
	verdict := v.Classify("SELECT id, name FROM sales.orders WHERE total > 100")
	if !verdict.Safe {
		t.Errorf("plain SELECT should be safe, got reason %q", verdict.Reason)
	}
}

func TestClassify_TrailingSemicolon(t *testing.T) {
	v := NewValidator()
	verdict := v.Classify("SELECT 1;")
	if !verdict.Safe {
		t.Errorf("SELECT with trailing semicolon should be safe, got reason %q", verdict.Reason)
	}
}

func TestClassify_LowercaseSelect(t *testing.T) {
	v := NewValidator()
	verdict := v.Classify("  select * from reports.daily  ")
	if !verdict.Safe {
		t.Errorf("lowercase select should be safe, got reason %q", verdict.Reason)
	}
}

func TestClassify_DangerousKeywords(t *testing.T) {
	v := NewValidator()
	unsafe := []string{
		"DROP TABLE users",
		"DELETE FROM sales.orders",
		"INSERT INTO sales.orders VALUES (1)",
		"UPDATE sales.orders SET total = 0",
		"TRUNCATE TABLE logs",
		"ALTER TABLE users ADD COLUMN x INT",
		"CREATE TABLE t (id INT)",
		"GRANT ALL ON db.* TO 'x'",
		"REVOKE ALL ON db.* FROM 'x'",
		"EXEC sp_who",
		"EXECUTE stmt",
		"CALL refresh_stats()",
	}
	for _, q := range unsafe {
		if verdict := v.Classify(q); verdict.Safe {
			t.Errorf("Classify(%q) should be unsafe", q)
		}
	}
}

func TestClassify_DangerousSubquery(t *testing.T) {
	v := NewValidator()
	verdict := v.Classify("SELECT * FROM t WHERE id IN (DELETE FROM t RETURNING id)")
	if verdict.Safe {
		t.Error("SELECT wrapping a DELETE should be unsafe")
	}
}

func TestClassify_WholeWordNoFalsePositives(t *testing.T) {
	v := NewValidator()
	// Identifiers that merely contain a dangerous keyword must pass
	safe := []string{
		"SELECT dropdown_id FROM ui.widgets",
		"SELECT * FROM inventory.DROPPED_ITEMS",
		"SELECT updated_at, created_by FROM sales.orders",
		"SELECT grant_total FROM finance.summary",
		"SELECT executive_name FROM hr.people",
	}
	for _, q := range safe {
		if verdict := v.Classify(q); !verdict.Safe {
			t.Errorf("Classify(%q) should be safe, got reason %q", q, verdict.Reason)
		}
	}
}

func TestClassify_NotSelect(t *testing.T) {
	v := NewValidator()
	verdict := v.Classify("SHOW TABLES")
	if verdict.Safe {
		t.Error("non-SELECT statement should be unsafe")
	}
}

func TestClassify_MultipleStatements(t *testing.T) {
	v := NewValidator()
	if v.Classify("SELECT 1; SELECT 2").Safe {
		t.Error("two statements should be unsafe")
	}
	if v.Classify("SELECT 1; DROP TABLE users;").Safe {
		t.Error("stacked statements should be unsafe")
	}
}

func TestClassify_SemicolonInsideStringLiteral(t *testing.T) {
	v := NewValidator()
	safe := []string{
		"SELECT * FROM notes.entries WHERE note = ';'",
		`SELECT * FROM notes.entries WHERE note = ';' AND tag = ';;'`,
		`SELECT * FROM notes.entries WHERE note = 'it''s; fine'`,
		`SELECT * FROM t WHERE col = "a;b"`,
		"SELECT $tag$one; two$tag$ FROM t",
		"SELECT $$a;b$$ FROM t;",
	}
	for _, q := range safe {
		if verdict := v.Classify(q); !verdict.Safe {
			t.Errorf("Classify(%q) should be safe, got reason %q", q, verdict.Reason)
		}
	}

	// A literal must not mask a real separator around it.
	if v.Classify("SELECT ';'; DROP TABLE users").Safe {
		t.Error("statement stacked after a literal should be unsafe")
	}
}

func TestClassify_Empty(t *testing.T) {
	v := NewValidator()
	if v.Classify("").Safe {
		t.Error("empty statement should be unsafe")
	}
	if v.Classify("   -- just a comment").Safe {
		t.Error("comment-only statement should be unsafe")
	}
}

func TestClassify_KeywordHiddenInComment(t *testing.T) {
	v := NewValidator()
	// Comments are stripped before matching, so a commented keyword is harmless
	verdict := v.Classify("SELECT 1 -- DROP TABLE users")
	if !verdict.Safe {
		t.Errorf("keyword inside a comment should not matter, got reason %q", verdict.Reason)
	}
	// And a comment cannot hide the real statement type
	if v.Classify("/* SELECT */ DROP TABLE users").Safe {
		t.Error("DROP behind a leading comment should be unsafe")
	}
}

// ---------------------------------------------------------------------------
// StripComments
// ---------------------------------------------------------------------------

func TestStripComments(t *testing.T) {
	got := StripComments("SELECT 1 -- trailing\n/* block\ncomment */ FROM t")
	// Exact whitespace is not part of the contract; comment text must be gone
	for _, kw := range []string{"trailing", "block", "comment"} {
		if strings.Contains(got, kw) {
			t.Errorf("StripComments left %q in %q", kw, got)
		}
	}
	if !strings.Contains(got, "SELECT 1") || !strings.Contains(got, "FROM t") {
		t.Errorf("StripComments removed statement text: %q", got)
	}
}

// ---------------------------------------------------------------------------
// RequiredLevel
// ---------------------------------------------------------------------------

func TestRequiredLevel_Read(t *testing.T) {
	if lvl := RequiredLevel("SELECT * FROM sales.orders"); lvl != models.LevelRead {
		t.Errorf("level = %s, want read", lvl)
	}
}

func TestRequiredLevel_Write(t *testing.T) {
	for _, q := range []string{
		"INSERT INTO sales.orders VALUES (1)",
		"UPDATE sales.orders SET total = 0",
		"DELETE FROM sales.orders WHERE id = 1",
	} {
		if lvl := RequiredLevel(q); lvl != models.LevelWrite {
			t.Errorf("RequiredLevel(%q) = %s, want write", q, lvl)
		}
	}
}

func TestRequiredLevel_Admin(t *testing.T) {
	for _, q := range []string{
		"CREATE TABLE sales.t (id INT)",
		"DROP TABLE sales.t",
		"ALTER TABLE sales.t ADD COLUMN x INT",
		"TRUNCATE TABLE sales.t",
	} {
		if lvl := RequiredLevel(q); lvl != models.LevelAdmin {
			t.Errorf("RequiredLevel(%q) = %s, want admin", q, lvl)
		}
	}
}

func TestRequiredLevel_WholeWord(t *testing.T) {
	// updated_at contains "update" but does not make the query a write
	if lvl := RequiredLevel("SELECT updated_at FROM sales.orders"); lvl != models.LevelRead {
		t.Errorf("level = %s, want read", lvl)
	}
}
