package datasource

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"github.com/liamcoop/checkers/rules"
)

// Conn is a database connection shared by several providers. Queries on one
// Conn run one at a time.
type Conn struct {
	name string
	db   *sql.DB
	mu   sync.Mutex
}

// OpenConn opens a connection with the given driver ("postgres" or "sqlite3")
// and checks it is reachable
func OpenConn(ctx context.Context, name, driver, dsn string) (*Conn, error) {
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s connection %s: %w", driver, name, err)
	}
	if driver == "sqlite3" {
		// every sqlite connection to :memory: is a separate database
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping %s connection %s: %w", driver, name, err)
	}
	return NewConn(name, db), nil
}

// NewConn wraps an open database
func NewConn(name string, db *sql.DB) *Conn {
	return &Conn{name: name, db: db}
}

// Name returns the registered name of the connection
func (c *Conn) Name() string {
	return c.name
}

// Query runs query and returns every row as a dataset row
func (c *Conn) Query(ctx context.Context, query string, args ...any) (rules.Dataset, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s: %w", c.name, err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("failed to read columns: %w", err)
	}

	dataset := rules.Dataset{}
	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}

		row := make(rules.Row, len(values))
		for i, v := range values {
			row[i] = normalize(v)
		}
		dataset = append(dataset, row)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}
	return dataset, nil
}

// Close closes the underlying database
func (c *Conn) Close() error {
	return c.db.Close()
}
