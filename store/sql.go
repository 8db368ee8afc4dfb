package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"github.com/liamcoop/checkers/datasource"
	"github.com/liamcoop/checkers/rules"
)

// Supported database drivers
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite3"
)

var placeholder = regexp.MustCompile(`\$\d+`)

// SQLCheckerStore implements CheckerStore on PostgreSQL or SQLite. Queries
// are written with $n placeholders in argument order.
type SQLCheckerStore struct {
	db     *sql.DB
	driver string
}

// NewSQLCheckerStore creates a store over an open database
func NewSQLCheckerStore(db *sql.DB, driver string) *SQLCheckerStore {
	return &SQLCheckerStore{db: db, driver: driver}
}

// OpenSQL opens and pings the database at url
func OpenSQL(ctx context.Context, driver, url string) (*SQLCheckerStore, error) {
	if driver != DriverPostgres && driver != DriverSQLite {
		return nil, fmt.Errorf("unsupported database driver: %s", driver)
	}
	db, err := sql.Open(driver, url)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if driver == DriverSQLite {
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return NewSQLCheckerStore(db, driver), nil
}

// DB returns the underlying database
func (s *SQLCheckerStore) DB() *sql.DB {
	return s.db
}

// Close closes the database
func (s *SQLCheckerStore) Close() error {
	return s.db.Close()
}

func (s *SQLCheckerStore) q(query string) string {
	if s.driver == DriverSQLite {
		return placeholder.ReplaceAllString(query, "?")
	}
	return query
}

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *SQLCheckerStore) Add(ctx context.Context, c *Checker) error {
	if c.ID != "" {
		var count int
		err := s.db.QueryRowContext(ctx, s.q(`SELECT COUNT(*) FROM checkers WHERE id = $1`), c.ID).Scan(&count)
		if err != nil {
			return fmt.Errorf("failed to check checker existence: %w", err)
		}
		if count > 0 {
			return fmt.Errorf("checker %s: %w", c.ID, ErrAlreadyExists)
		}
	}
	prepareNew(c)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, s.q(`
		INSERT INTO checkers (id, description, rule, dialect, status, active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`), c.ID, c.Description, c.Rule, string(c.RuleSpec().Dialect), string(c.Status), c.Active,
		c.CreatedAt, c.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert checker: %w", err)
	}

	if err := s.insertDatasources(ctx, tx, c); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit checker: %w", err)
	}
	return nil
}

func (s *SQLCheckerStore) insertDatasources(ctx context.Context, q querier, c *Checker) error {
	for i, ds := range c.Datasources {
		var rowsJSON []byte
		if ds.Rows != nil {
			var err error
			rowsJSON, err = json.Marshal(ds.Rows)
			if err != nil {
				return fmt.Errorf("failed to encode rows of %s: %w", ds.Name, err)
			}
		}
		_, err := q.ExecContext(ctx, s.q(`
			INSERT INTO checker_datasources (checker_id, ordinal, name, kind, connection, query, rows_json, csv)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		`), c.ID, i, ds.Name, string(ds.Kind), ds.Connection, ds.Query, string(rowsJSON), ds.CSV)
		if err != nil {
			return fmt.Errorf("failed to insert datasource %s: %w", ds.Name, err)
		}
	}
	return nil
}

func (s *SQLCheckerStore) loadDatasources(ctx context.Context, c *Checker) error {
	rows, err := s.db.QueryContext(ctx, s.q(`
		SELECT name, kind, connection, query, rows_json, csv
		FROM checker_datasources
		WHERE checker_id = $1
		ORDER BY ordinal ASC
	`), c.ID)
	if err != nil {
		return fmt.Errorf("failed to load datasources: %w", err)
	}
	defer rows.Close()

	c.Datasources = []datasource.Spec{}
	for rows.Next() {
		var ds datasource.Spec
		var kind, rowsJSON string
		if err := rows.Scan(&ds.Name, &kind, &ds.Connection, &ds.Query, &rowsJSON, &ds.CSV); err != nil {
			return fmt.Errorf("failed to scan datasource: %w", err)
		}
		ds.Kind = datasource.Kind(kind)
		if rowsJSON != "" {
			if err := json.Unmarshal([]byte(rowsJSON), &ds.Rows); err != nil {
				return fmt.Errorf("invalid rows for datasource %s: %w", ds.Name, err)
			}
		}
		c.Datasources = append(c.Datasources, ds)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("error iterating datasources: %w", err)
	}
	return nil
}

const checkerColumns = `id, description, rule, dialect, status, active, created_at, updated_at`

func scanChecker(scan func(dest ...any) error) (*Checker, error) {
	var c Checker
	var dialect, status string
	if err := scan(&c.ID, &c.Description, &c.Rule, &dialect, &status, &c.Active,
		&c.CreatedAt, &c.UpdatedAt); err != nil {
		return nil, err
	}
	c.Dialect = rules.Dialect(dialect)
	c.Status = Status(status)
	return &c, nil
}

func (s *SQLCheckerStore) Get(ctx context.Context, id string) (*Checker, error) {
	row := s.db.QueryRowContext(ctx, s.q(`SELECT `+checkerColumns+` FROM checkers WHERE id = $1`), id)
	c, err := scanChecker(row.Scan)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("checker %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get checker: %w", err)
	}

	if err := s.loadDatasources(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

func (s *SQLCheckerStore) List(ctx context.Context) ([]*Checker, error) {
	return s.list(ctx, `SELECT `+checkerColumns+` FROM checkers ORDER BY created_at ASC, id ASC`)
}

func (s *SQLCheckerStore) ListActive(ctx context.Context) ([]*Checker, error) {
	return s.list(ctx, `SELECT `+checkerColumns+` FROM checkers WHERE active = $1 ORDER BY created_at ASC, id ASC`, true)
}

func (s *SQLCheckerStore) list(ctx context.Context, query string, args ...any) ([]*Checker, error) {
	rows, err := s.db.QueryContext(ctx, s.q(query), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list checkers: %w", err)
	}

	var checkers []*Checker
	for rows.Next() {
		c, err := scanChecker(rows.Scan)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan checker: %w", err)
		}
		checkers = append(checkers, c)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("error iterating checkers: %w", err)
	}
	rows.Close()

	for _, c := range checkers {
		if err := s.loadDatasources(ctx, c); err != nil {
			return nil, err
		}
	}
	return checkers, nil
}

func (s *SQLCheckerStore) Update(ctx context.Context, c *Checker) error {
	existing, err := s.Get(ctx, c.ID)
	if err != nil {
		return err
	}
	c.CreatedAt = existing.CreatedAt
	c.Status = existing.Status
	c.UpdatedAt = time.Now().UTC()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, s.q(`
		UPDATE checkers
		SET description = $1, rule = $2, dialect = $3, active = $4, updated_at = $5
		WHERE id = $6
	`), c.Description, c.Rule, string(c.RuleSpec().Dialect), c.Active, c.UpdatedAt, c.ID)
	if err != nil {
		return fmt.Errorf("failed to update checker: %w", err)
	}
	if err := requireRow(result, c.ID); err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, s.q(`DELETE FROM checker_datasources WHERE checker_id = $1`), c.ID); err != nil {
		return fmt.Errorf("failed to replace datasources: %w", err)
	}
	if err := s.insertDatasources(ctx, tx, c); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit checker: %w", err)
	}
	return nil
}

func (s *SQLCheckerStore) Delete(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, query := range []string{
		`DELETE FROM executions WHERE checker_id = $1`,
		`DELETE FROM checker_datasources WHERE checker_id = $1`,
	} {
		if _, err := tx.ExecContext(ctx, s.q(query), id); err != nil {
			return fmt.Errorf("failed to delete checker history: %w", err)
		}
	}

	result, err := tx.ExecContext(ctx, s.q(`DELETE FROM checkers WHERE id = $1`), id)
	if err != nil {
		return fmt.Errorf("failed to delete checker: %w", err)
	}
	if err := requireRow(result, id); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit delete: %w", err)
	}
	return nil
}

func (s *SQLCheckerStore) SetStatus(ctx context.Context, id string, status Status) error {
	result, err := s.db.ExecContext(ctx, s.q(`UPDATE checkers SET status = $1 WHERE id = $2`), string(status), id)
	if err != nil {
		return fmt.Errorf("failed to set status: %w", err)
	}
	return requireRow(result, id)
}

func (s *SQLCheckerStore) RecordExecution(ctx context.Context, e *Execution) error {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	_, err := s.db.ExecContext(ctx, s.q(`
		INSERT INTO executions (id, checker_id, status, outcome, cause, started_at, finished_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`), e.ID, e.CheckerID, string(e.Status), e.Outcome, e.Cause, e.StartedAt, e.FinishedAt)
	if err != nil {
		return fmt.Errorf("failed to record execution: %w", err)
	}
	return nil
}

func (s *SQLCheckerStore) ListExecutions(ctx context.Context, checkerID string, limit int) ([]*Execution, error) {
	if _, err := s.Get(ctx, checkerID); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = math.MaxInt32
	}

	rows, err := s.db.QueryContext(ctx, s.q(`
		SELECT id, checker_id, status, outcome, cause, started_at, finished_at
		FROM executions
		WHERE checker_id = $1
		ORDER BY started_at DESC, id DESC
		LIMIT $2
	`), checkerID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list executions: %w", err)
	}
	defer rows.Close()

	executions := []*Execution{}
	for rows.Next() {
		var e Execution
		var status string
		if err := rows.Scan(&e.ID, &e.CheckerID, &status, &e.Outcome, &e.Cause,
			&e.StartedAt, &e.FinishedAt); err != nil {
			return nil, fmt.Errorf("failed to scan execution: %w", err)
		}
		e.Status = Status(status)
		executions = append(executions, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating executions: %w", err)
	}
	return executions, nil
}

func requireRow(result sql.Result, id string) error {
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("checker %s: %w", id, ErrNotFound)
	}
	return nil
}
