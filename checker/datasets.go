package checker

import (
	"context"

	"github.com/cockroachdb/errors"

	"github.com/liamcoop/checkers/rules"
)

// Provider supplies one named dataset per cycle
type Provider interface {
	// Identity is the name the rule uses to look the dataset up
	Identity() string

	// Fetch returns the rows for this cycle
	Fetch(ctx context.Context) (rules.Dataset, error)
}

// BuildDatasetMap fetches every provider in order. Identities are checked
// before anything is fetched: a repeated identity is a configuration error
// marked ErrDuplicateDataset. A failed fetch is marked ErrProviderFailure.
func BuildDatasetMap(ctx context.Context, providers []Provider) (rules.DatasetMap, error) {
	ids := make([]string, len(providers))
	seen := make(map[string]bool, len(providers))
	for i, p := range providers {
		id := p.Identity()
		if seen[id] {
			err := errors.Newf("dataset %q is configured more than once", id)
			err = errors.WithHint(err, "give every datasource of a checker a distinct name")
			return nil, errors.Mark(err, ErrDuplicateDataset)
		}
		seen[id] = true
		ids[i] = id
	}

	datasets := make(rules.DatasetMap, len(providers))
	for i, p := range providers {
		rows, err := p.Fetch(ctx)
		if err != nil {
			return nil, errors.Mark(errors.Wrapf(err, "failed to fetch dataset %q", ids[i]), ErrProviderFailure)
		}
		if rows == nil {
			rows = rules.Dataset{}
		}
		datasets[ids[i]] = rows
	}
	return datasets, nil
}

// ProviderFunc adapts a function to a Provider
type ProviderFunc struct {
	Name string
	Fn   func(ctx context.Context) (rules.Dataset, error)
}

func (p ProviderFunc) Identity() string { return p.Name }

func (p ProviderFunc) Fetch(ctx context.Context) (rules.Dataset, error) {
	return p.Fn(ctx)
}
