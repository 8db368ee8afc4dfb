package store

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// File is the YAML document of checker definitions
type File struct {
	Checkers []fileChecker `yaml:"checkers"`
}

// fileChecker makes checkers active unless the file says otherwise
type fileChecker struct {
	Checker `yaml:",inline"`
	Active  *bool `yaml:"active"`
}

// LoadFile reads and validates checker definitions from a YAML file.
// Checkers without an ID are named after their position and checkers are
// active unless marked otherwise.
func LoadFile(path string) ([]*Checker, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}

	checkers := make([]*Checker, 0, len(f.Checkers))
	for i := range f.Checkers {
		c := &f.Checkers[i].Checker
		c.Active = f.Checkers[i].Active == nil || *f.Checkers[i].Active
		if c.ID == "" {
			c.ID = fmt.Sprintf("checker-%d", i+1)
		}
		if err := ValidateChecker(c); err != nil {
			return nil, fmt.Errorf("checker %s: %w", c.ID, err)
		}
		checkers = append(checkers, c)
	}
	return checkers, nil
}

// Seed adds every checker to s
func Seed(ctx context.Context, s CheckerStore, checkers []*Checker) error {
	for _, c := range checkers {
		if err := s.Add(ctx, c); err != nil {
			return fmt.Errorf("failed to add checker %s: %w", c.ID, err)
		}
	}
	return nil
}
