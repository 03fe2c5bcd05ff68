package sqlitemigrate

import (
	"database/sql"
	"testing"
	"testing/fstest"

	_ "modernc.org/sqlite"
)

func migrateDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() {
		if err := db.Close(); err != nil {
			t.Errorf("close db: %v", err)
		}
	})
	return db
}

func migrationFS(files map[string]string) fstest.MapFS {
	fsys := fstest.MapFS{}
	for name, body := range files {
		fsys[name] = &fstest.MapFile{Data: []byte(body)}
	}
	return fsys
}

func appliedCount(t *testing.T, db *sql.DB) int64 {
	t.Helper()
	var count int64
	if err := db.QueryRow("SELECT COUNT(*) FROM schema_migrations").Scan(&count); err != nil {
		t.Fatalf("count applied migrations: %v", err)
	}
	return count
}

func hasTable(t *testing.T, db *sql.DB, name string) bool {
	t.Helper()
	var found string
	err := db.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name = ?", name).Scan(&found)
	if err == sql.ErrNoRows {
		return false
	}
	if err != nil {
		t.Fatalf("look up table %s: %v", name, err)
	}
	return true
}

func TestApplyMigrationsRunsInLexicalOrder(t *testing.T) {
	db := migrateDB(t)

	fsys := migrationFS(map[string]string{
		"002_claims.sql": "-- +migrate Up\nCREATE TABLE claims(post_id INTEGER REFERENCES posts(id));",
		"001_posts.sql":  "-- +migrate Up\nCREATE TABLE posts(id INTEGER PRIMARY KEY);",
	})
	if err := ApplyMigrations(db, fsys, ""); err != nil {
		t.Fatalf("apply migrations: %v", err)
	}

	if got := appliedCount(t, db); got != 2 {
		t.Fatalf("applied = %d, want 2", got)
	}
	for _, table := range []string{"posts", "claims"} {
		if !hasTable(t, db, table) {
			t.Fatalf("table %s missing after migration", table)
		}
	}
}

func TestApplyMigrationsReplayIsIdempotent(t *testing.T) {
	db := migrateDB(t)

	fsys := migrationFS(map[string]string{
		"001_posts.sql": "-- +migrate Up\nCREATE TABLE posts(id INTEGER PRIMARY KEY);",
	})
	for i := 0; i < 2; i++ {
		if err := ApplyMigrations(db, fsys, ""); err != nil {
			t.Fatalf("apply round %d: %v", i, err)
		}
	}

	if got := appliedCount(t, db); got != 1 {
		t.Fatalf("applied = %d after replay, want 1", got)
	}
}

func TestApplyMigrationsLeavesFailureUnrecorded(t *testing.T) {
	db := migrateDB(t)

	broken := migrationFS(map[string]string{
		"001_posts.sql": "-- +migrate Up\nCREAT TABLE posts(id INTEGER PRIMARY KEY);",
	})
	if err := ApplyMigrations(db, broken, ""); err == nil {
		t.Fatal("expected broken SQL to fail")
	}
	if got := appliedCount(t, db); got != 0 {
		t.Fatalf("applied = %d after failure, want 0", got)
	}

	// A corrected file under the same name applies cleanly on the next run.
	fixed := migrationFS(map[string]string{
		"001_posts.sql": "-- +migrate Up\nCREATE TABLE posts(id INTEGER PRIMARY KEY);",
	})
	if err := ApplyMigrations(db, fixed, ""); err != nil {
		t.Fatalf("apply fixed migration: %v", err)
	}
	if got := appliedCount(t, db); got != 1 {
		t.Fatalf("applied = %d after fix, want 1", got)
	}
}

func TestApplyMigrationsKeysByRootPath(t *testing.T) {
	db := migrateDB(t)

	fsys := migrationFS(map[string]string{
		"migrations/001_posts.sql": "-- +migrate Up\nCREATE TABLE posts(id INTEGER PRIMARY KEY);",
	})
	if err := ApplyMigrations(db, fsys, "migrations"); err != nil {
		t.Fatalf("apply with root: %v", err)
	}

	var key string
	if err := db.QueryRow("SELECT name FROM schema_migrations").Scan(&key); err != nil {
		t.Fatalf("read migration key: %v", err)
	}
	if key != "migrations/001_posts.sql" {
		t.Fatalf("migration key = %q, want root-prefixed path", key)
	}
	if !hasTable(t, db, "posts") {
		t.Fatal("table posts missing after rooted migration")
	}
}

func TestApplyMigrationsRequiresDB(t *testing.T) {
	if err := ApplyMigrations(nil, migrationFS(nil), ""); err == nil {
		t.Fatal("expected nil db error")
	}
}

func TestExtractUpMigration(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{
			name:    "up and down sections",
			content: "-- +migrate Up\nCREATE TABLE a(id);\n-- +migrate Down\nDROP TABLE a;",
			want:    "\nCREATE TABLE a(id);\n",
		},
		{
			name:    "up only",
			content: "-- +migrate Up\nCREATE TABLE a(id);",
			want:    "\nCREATE TABLE a(id);",
		},
		{
			name:    "no markers",
			content: "CREATE TABLE a(id);",
			want:    "CREATE TABLE a(id);",
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := ExtractUpMigration(tc.content); got != tc.want {
				t.Fatalf("got %q, want %q", got, tc.want)
			}
		})
	}
}
