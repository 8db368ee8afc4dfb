package store

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
)

func openSQLite(t *testing.T) *SQLCheckerStore {
	t.Helper()

	s, err := OpenSQL(context.Background(), DriverSQLite, filepath.Join(t.TempDir(), "checkers.db"))
	if err != nil {
		t.Fatalf("OpenSQL() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	schema, err := os.ReadFile(filepath.Join("..", "migrations", "sqlite3", "000001_initial_schema.up.sql"))
	if err != nil {
		t.Fatalf("Failed to read migration file: %v", err)
	}
	if _, err := s.DB().Exec(string(schema)); err != nil {
		t.Fatalf("Failed to run migrations: %v", err)
	}
	return s
}

// TestSQLCheckerStoreSQLite verifies the SQL store contract on SQLite
func TestSQLCheckerStoreSQLite(t *testing.T) {
	exerciseStore(t, openSQLite(t))
}

// TestSQLCheckerStoreStaticRows verifies static rows survive a round trip
func TestSQLCheckerStoreStaticRows(t *testing.T) {
	ctx := context.Background()
	s := openSQLite(t)

	c := newChecker("rows")
	c.Datasources[0].Rows = [][]any{{int64(1), "a", nil}, {2.5, true, "b"}}
	if err := s.Add(ctx, c); err != nil {
		t.Fatalf("Add() failed: %v", err)
	}

	got, err := s.Get(ctx, "rows")
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	rows := got.Datasources[0].Rows
	if len(rows) != 2 || len(rows[0]) != 3 {
		t.Fatalf("Rows = %v", rows)
	}
	if rows[0][1] != "a" || rows[0][2] != nil || rows[1][1] != true {
		t.Errorf("Rows = %v", rows)
	}
}

// TestMigrateSQLite verifies the sqlite migrations apply and roll back
func TestMigrateSQLite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "migrated.db")
	dir := filepath.Join("..", "migrations")

	if err := Migrate(DriverSQLite, path, dir, MigrateUp, 0); err != nil {
		t.Fatalf("Migrate(up) failed: %v", err)
	}
	if err := Migrate(DriverSQLite, path, dir, MigrateUp, 0); err != nil {
		t.Fatalf("second Migrate(up) failed: %v", err)
	}
	if err := Migrate(DriverSQLite, path, dir, MigrateVersion, 0); err != nil {
		t.Fatalf("Migrate(version) failed: %v", err)
	}

	s, err := OpenSQL(context.Background(), DriverSQLite, path)
	if err != nil {
		t.Fatalf("OpenSQL() failed: %v", err)
	}
	if err := s.Add(context.Background(), newChecker("c1")); err != nil {
		t.Fatalf("Add() on migrated database failed: %v", err)
	}
	s.Close()

	if err := Migrate(DriverSQLite, path, dir, MigrateDown, 0); err != nil {
		t.Fatalf("Migrate(down) failed: %v", err)
	}
	if err := Migrate(DriverSQLite, path, dir, "sideways", 0); err == nil {
		t.Error("Migrate(sideways) should fail")
	}
}

// TestMigrationURL verifies DSNs are converted for golang-migrate
func TestMigrationURL(t *testing.T) {
	testCases := []struct {
		driver string
		dsn    string
		want   string
	}{
		{driver: DriverSQLite, dsn: "/tmp/c.db", want: "sqlite3:///tmp/c.db"},
		{driver: DriverSQLite, dsn: "file:c.db", want: "sqlite3://c.db"},
		{driver: DriverSQLite, dsn: "sqlite3://c.db", want: "sqlite3://c.db"},
		{driver: DriverPostgres, dsn: "postgres://u@h/db", want: "postgres://u@h/db"},
	}

	for _, tc := range testCases {
		if got := MigrationURL(tc.driver, tc.dsn); got != tc.want {
			t.Errorf("MigrationURL(%s, %s) = %s, want %s", tc.driver, tc.dsn, got, tc.want)
		}
	}
}

// TestSQLCheckerStorePostgresQueries verifies postgres placeholders and
// not-found handling with a mocked database
func TestSQLCheckerStorePostgresQueries(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() failed: %v", err)
	}
	defer db.Close()

	s := NewSQLCheckerStore(db, DriverPostgres)
	ctx := context.Background()

	mock.ExpectExec(regexp.QuoteMeta(`UPDATE checkers SET status = $1 WHERE id = $2`)).
		WithArgs("RED", "c1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	if err := s.SetStatus(ctx, "c1", StatusRed); err != nil {
		t.Errorf("SetStatus() failed: %v", err)
	}

	mock.ExpectExec(regexp.QuoteMeta(`UPDATE checkers SET status = $1 WHERE id = $2`)).
		WithArgs("GREEN", "gone").
		WillReturnResult(sqlmock.NewResult(0, 0))
	if err := s.SetStatus(ctx, "gone", StatusGreen); !errors.Is(err, ErrNotFound) {
		t.Errorf("SetStatus(gone) error = %v, want ErrNotFound", err)
	}

	mock.ExpectQuery(regexp.QuoteMeta(`FROM checkers WHERE id = $1`)).
		WithArgs("nope").
		WillReturnError(sql.ErrNoRows)
	if _, err := s.Get(ctx, "nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get(nope) error = %v, want ErrNotFound", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

// TestRebind verifies sqlite queries use question mark placeholders
func TestRebind(t *testing.T) {
	sqlite := NewSQLCheckerStore(nil, DriverSQLite)
	pg := NewSQLCheckerStore(nil, DriverPostgres)

	query := `UPDATE checkers SET status = $1 WHERE id = $2`
	if got := sqlite.q(query); got != `UPDATE checkers SET status = ? WHERE id = ?` {
		t.Errorf("sqlite q() = %s", got)
	}
	if got := pg.q(query); got != query {
		t.Errorf("postgres q() = %s", got)
	}
}
