package store

import (
	"database/sql"
	"os"
	"path/filepath"
	"slices"
	"testing"
)

func TestOpen_CreatesNewDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer s.Close()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		t.Error("database file was not created")
	}
}

func TestOpen_Idempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	for i := 0; i < 3; i++ {
		s, err := Open(path)
		if err != nil {
			t.Fatalf("Open() iteration %d failed: %v", i, err)
		}
		s.Close()
	}

	s, err := Open(path)
	if err != nil {
		t.Fatalf("final Open() failed: %v", err)
	}
	defer s.Close()

	tables := []string{"tasks", "identity_links", "variables", "comments", "attachments", "memberships"}
	for _, table := range tables {
		var name string
		err := s.db.QueryRow(
			"SELECT name FROM sqlite_master WHERE type='table' AND name=?",
			table,
		).Scan(&name)
		if err != nil {
			t.Errorf("table %q not found after idempotent opens: %v", table, err)
		}
	}
}

func TestOpen_InvalidPath(t *testing.T) {
	_, err := Open("/nonexistent/dir/test.db")
	if err == nil {
		t.Error("expected error for invalid path, got nil")
	}
}

func TestClose_NilDB(t *testing.T) {
	s := &Store{db: nil}
	if err := s.Close(); err != nil {
		t.Errorf("Close() on nil db should not error: %v", err)
	}
}

func TestPragmas(t *testing.T) {
	s := createTestStore(t)

	tests := []struct {
		name, want string
	}{
		{"journal_mode", "wal"},
		{"synchronous", "1"},
		{"busy_timeout", "5000"},
		{"foreign_keys", "1"},
	}
	for _, tt := range tests {
		if err := s.verifyPragma(tt.name, tt.want); err != nil {
			t.Error(err)
		}
	}
}

func TestSchema_TasksTable(t *testing.T) {
	s := createTestStore(t)

	columns := getTableColumns(t, s.db, "tasks")
	for _, col := range []string{"id", "assignee", "due_date", "last_updated", "version", "delegation_state"} {
		if !slices.Contains(columns, col) {
			t.Errorf("tasks table missing column %q", col)
		}
	}
}

func TestSchema_IdentityLinkNeedsExactlyOnePrincipal(t *testing.T) {
	s := createTestStore(t)

	_, err := s.db.Exec(`INSERT INTO tasks (id, create_time) VALUES ('t1', 0)`)
	if err != nil {
		t.Fatalf("insert task: %v", err)
	}
	_, err = s.db.Exec(`INSERT INTO identity_links (id, task_id, type, user_id, group_id) VALUES ('l1', 't1', 'candidate', 'u', 'g')`)
	if err == nil {
		t.Error("expected CHECK failure for link with both user and group")
	}
	_, err = s.db.Exec(`INSERT INTO identity_links (id, task_id, type) VALUES ('l2', 't1', 'candidate')`)
	if err == nil {
		t.Error("expected CHECK failure for link with neither user nor group")
	}
}

func TestSchema_LinksCascadeWithTask(t *testing.T) {
	s := createTestStore(t)

	mustExec(t, s.db, `INSERT INTO tasks (id, create_time) VALUES ('t1', 0)`)
	mustExec(t, s.db, `INSERT INTO identity_links (id, task_id, type, user_id) VALUES ('l1', 't1', 'candidate', 'u')`)
	mustExec(t, s.db, `DELETE FROM tasks WHERE id = 't1'`)

	var n int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM identity_links").Scan(&n); err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Errorf("identity links not cascaded: %d left", n)
	}
}

func TestMigration_SchemaVersion(t *testing.T) {
	s := createTestStore(t)

	var version int
	if err := s.db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		t.Fatalf("failed to query user_version: %v", err)
	}
	if version != currentSchemaVersion {
		t.Errorf("user_version = %d, want %d", version, currentSchemaVersion)
	}
	if !slices.Contains(getTableIndexes(t, s.db, "variables"), "idx_variables_name") {
		t.Error("variables table missing index idx_variables_name")
	}
}

func TestSQLFunctions(t *testing.T) {
	s := createTestStore(t)

	var folded sql.NullString
	if err := s.db.QueryRow("SELECT fold('ÄBC')").Scan(&folded); err != nil {
		t.Fatal(err)
	}
	if folded.String != "äbc" {
		t.Errorf("fold = %q, want %q", folded.String, "äbc")
	}

	if err := s.db.QueryRow("SELECT fold(NULL)").Scan(&folded); err != nil {
		t.Fatal(err)
	}
	if folded.Valid {
		t.Errorf("fold(NULL) = %q, want NULL", folded.String)
	}

	tests := []struct {
		s, pattern string
		want       int64
	}{
		{"Kermit", "Ker%", 1},
		{"Kermit", "ker%", 0},
		{"50%", `50\%`, 1},
		{"500", `50\%`, 0},
		{"ab", "a_", 1},
	}
	for _, tt := range tests {
		var got int64
		if err := s.db.QueryRow("SELECT like_match(?, ?)", tt.s, tt.pattern).Scan(&got); err != nil {
			t.Fatal(err)
		}
		if got != tt.want {
			t.Errorf("like_match(%q, %q) = %d, want %d", tt.s, tt.pattern, got, tt.want)
		}
	}
}

func getTableColumns(t *testing.T, db *sql.DB, table string) []string {
	t.Helper()

	rows, err := db.Query("PRAGMA table_info(" + table + ")")
	if err != nil {
		t.Fatalf("failed to get table info for %q: %v", table, err)
	}
	defer rows.Close()

	var columns []string
	for rows.Next() {
		var cid int
		var name, ctype string
		var notnull, pk int
		var dfltValue any
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dfltValue, &pk); err != nil {
			t.Fatalf("failed to scan column info: %v", err)
		}
		columns = append(columns, name)
	}
	return columns
}

func getTableIndexes(t *testing.T, db *sql.DB, table string) []string {
	t.Helper()

	rows, err := db.Query("SELECT name FROM sqlite_master WHERE type='index' AND tbl_name=?", table)
	if err != nil {
		t.Fatalf("failed to get indexes for %q: %v", table, err)
	}
	defer rows.Close()

	var indexes []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			t.Fatalf("failed to scan index name: %v", err)
		}
		indexes = append(indexes, name)
	}
	return indexes
}

func mustExec(t *testing.T, db *sql.DB, stmt string) {
	t.Helper()
	if _, err := db.Exec(stmt); err != nil {
		t.Fatalf("exec %q: %v", stmt, err)
	}
}
