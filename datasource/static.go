package datasource

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/liamcoop/checkers/rules"
)

// StaticProvider returns the same rows every cycle
type StaticProvider struct {
	name string
	rows rules.Dataset
}

// NewStaticProvider creates a provider over fixed rows
func NewStaticProvider(name string, rows rules.Dataset) *StaticProvider {
	if rows == nil {
		rows = rules.Dataset{}
	}
	return &StaticProvider{name: name, rows: rows}
}

func (p *StaticProvider) Identity() string {
	return p.name
}

// Fetch returns a copy of the rows
func (p *StaticProvider) Fetch(ctx context.Context) (rules.Dataset, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make(rules.Dataset, len(p.rows))
	for i, row := range p.rows {
		out[i] = append(rules.Row(nil), row...)
	}
	return out, nil
}

// ParseCSV reads CSV records into a dataset. When header is true the first
// record is skipped. Fields that parse as integers or floats become numbers,
// everything else stays a string.
func ParseCSV(r io.Reader, header bool) (rules.Dataset, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	dataset := rules.Dataset{}
	first := true
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to parse csv: %w", err)
		}
		if first && header {
			first = false
			continue
		}
		first = false

		row := make(rules.Row, len(record))
		for i, field := range record {
			row[i] = parseField(field)
		}
		dataset = append(dataset, row)
	}
	return dataset, nil
}

// LoadCSV reads a CSV file into a static provider named name
func LoadCSV(name, path string, header bool) (*StaticProvider, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	rows, err := ParseCSV(f, header)
	if err != nil {
		return nil, fmt.Errorf("failed to load %s: %w", path, err)
	}
	return NewStaticProvider(name, rows), nil
}

func parseField(field string) any {
	s := strings.TrimSpace(field)
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return i
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	return field
}
