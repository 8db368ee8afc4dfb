package datasource

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"

	"github.com/liamcoop/checkers/checker"
)

// Kind names a datasource type
type Kind string

const (
	KindSQL    Kind = "sql"
	KindInflux Kind = "influx"
	KindStatic Kind = "static"
)

// Spec describes one dataset of a checker
type Spec struct {
	Name       string  `json:"name" yaml:"name" validate:"required,max=64"`
	Kind       Kind    `json:"kind" yaml:"kind" validate:"required,oneof=sql influx static"`
	Connection string  `json:"connection,omitempty" yaml:"connection,omitempty"`
	Query      string  `json:"query,omitempty" yaml:"query,omitempty"`
	Rows       [][]any `json:"rows,omitempty" yaml:"rows,omitempty"`
	CSV        string  `json:"csv,omitempty" yaml:"csv,omitempty"`
}

// ConnConfig configures a named SQL connection
type ConnConfig struct {
	Driver string `mapstructure:"driver"`
	DSN    string `mapstructure:"dsn"`
}

// InfluxConfig configures the InfluxDB client
type InfluxConfig struct {
	URL   string `mapstructure:"url"`
	Token string `mapstructure:"token"`
	Org   string `mapstructure:"org"`
}

// Registry owns the connections providers share. Connections are opened at
// start up and closed by Close.
type Registry struct {
	conns     map[string]*Conn
	influx    influxdb2.Client
	influxOrg string
	mu        sync.RWMutex
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{
		conns: make(map[string]*Conn),
	}
}

// Open opens every configured connection. Connections opened before a
// failure are closed.
func Open(ctx context.Context, conns map[string]ConnConfig, influx InfluxConfig) (*Registry, error) {
	r := NewRegistry()
	for name, cfg := range conns {
		if err := r.Register(ctx, name, cfg.Driver, cfg.DSN); err != nil {
			r.Close()
			return nil, err
		}
	}
	if influx.URL != "" {
		r.SetInflux(influxdb2.NewClient(influx.URL, influx.Token), influx.Org)
	}
	return r, nil
}

// Register opens a connection and stores it under name
func (r *Registry) Register(ctx context.Context, name, driver, dsn string) error {
	conn, err := OpenConn(ctx, name, driver, dsn)
	if err != nil {
		return err
	}
	return r.Add(conn)
}

// Add stores an open connection
func (r *Registry) Add(conn *Conn) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.conns[conn.Name()]; exists {
		return fmt.Errorf("connection %s already registered", conn.Name())
	}
	r.conns[conn.Name()] = conn
	return nil
}

// Get returns the connection registered under name
func (r *Registry) Get(name string) (*Conn, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conn, exists := r.conns[name]
	if !exists {
		return nil, fmt.Errorf("connection %s not found", name)
	}
	return conn, nil
}

// Names returns the registered connection names, sorted
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.conns))
	for name := range r.conns {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Remove closes and forgets a connection
func (r *Registry) Remove(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	conn, exists := r.conns[name]
	if !exists {
		return fmt.Errorf("connection %s not found", name)
	}
	delete(r.conns, name)
	return conn.Close()
}

// SetInflux sets the client used by influx datasets
func (r *Registry) SetInflux(client influxdb2.Client, org string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.influx = client
	r.influxOrg = org
}

// Provider builds the provider for spec
func (r *Registry) Provider(spec Spec) (checker.Provider, error) {
	switch spec.Kind {
	case KindSQL:
		conn, err := r.Get(spec.Connection)
		if err != nil {
			return nil, fmt.Errorf("dataset %s: %w", spec.Name, err)
		}
		return NewSQLProvider(spec.Name, conn, spec.Query), nil
	case KindInflux:
		r.mu.RLock()
		client, org := r.influx, r.influxOrg
		r.mu.RUnlock()
		if client == nil {
			return nil, fmt.Errorf("dataset %s: influx is not configured", spec.Name)
		}
		return NewInfluxProvider(spec.Name, client, org, spec.Query), nil
	case KindStatic:
		if spec.CSV != "" {
			return LoadCSV(spec.Name, spec.CSV, true)
		}
		return NewStaticProvider(spec.Name, normalizeStatic(spec.Rows)), nil
	default:
		return nil, fmt.Errorf("dataset %s: unknown kind %q", spec.Name, spec.Kind)
	}
}

// Providers builds a provider for every spec, in order
func (r *Registry) Providers(specs []Spec) ([]checker.Provider, error) {
	providers := make([]checker.Provider, 0, len(specs))
	for _, spec := range specs {
		p, err := r.Provider(spec)
		if err != nil {
			return nil, err
		}
		providers = append(providers, p)
	}
	return providers, nil
}

// Close closes every connection
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var errs []error
	for name, conn := range r.conns {
		if err := conn.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close %s: %w", name, err))
		}
		delete(r.conns, name)
	}
	if r.influx != nil {
		r.influx.Close()
		r.influx = nil
	}
	return errors.Join(errs...)
}
