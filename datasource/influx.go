package datasource

import (
	"context"
	"fmt"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"

	"github.com/liamcoop/checkers/rules"
)

// InfluxProvider fetches a dataset with a Flux query. Each record becomes a
// row of time, measurement, field and value.
type InfluxProvider struct {
	name   string
	client influxdb2.Client
	org    string
	query  string
}

// NewInfluxProvider creates a provider named name
func NewInfluxProvider(name string, client influxdb2.Client, org, query string) *InfluxProvider {
	return &InfluxProvider{name: name, client: client, org: org, query: query}
}

func (p *InfluxProvider) Identity() string {
	return p.name
}

func (p *InfluxProvider) Fetch(ctx context.Context) (rules.Dataset, error) {
	result, err := p.client.QueryAPI(p.org).Query(ctx, p.query)
	if err != nil {
		return nil, fmt.Errorf("failed to query influx: %w", err)
	}
	defer result.Close()

	dataset := rules.Dataset{}
	for result.Next() {
		rec := result.Record()
		dataset = append(dataset, rules.Row{
			rec.Time().UTC().Format(time.RFC3339Nano),
			rec.Measurement(),
			rec.Field(),
			normalize(rec.Value()),
		})
	}
	if err := result.Err(); err != nil {
		return nil, fmt.Errorf("failed to read influx result: %w", err)
	}
	return dataset, nil
}
