package datasource

import (
	"context"

	"github.com/liamcoop/checkers/rules"
)

// SQLProvider fetches a dataset with a query on a shared connection
type SQLProvider struct {
	name  string
	conn  *Conn
	query string
}

// NewSQLProvider creates a provider named name
func NewSQLProvider(name string, conn *Conn, query string) *SQLProvider {
	return &SQLProvider{name: name, conn: conn, query: query}
}

func (p *SQLProvider) Identity() string {
	return p.name
}

func (p *SQLProvider) Fetch(ctx context.Context) (rules.Dataset, error) {
	return p.conn.Query(ctx, p.query)
}
