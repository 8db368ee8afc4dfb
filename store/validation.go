package store

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/liamcoop/checkers/datasource"
	"github.com/liamcoop/checkers/rules"
)

var (
	validate        = validator.New(validator.WithRequiredStructEnabled())
	validIdentifier = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)
)

// ValidateChecker checks a checker definition. The rule source itself is
// checked by the rule filter, not here.
func ValidateChecker(c *Checker) error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid checker: %w", err)
	}
	if strings.TrimSpace(c.Rule) == "" {
		return fmt.Errorf("rule cannot be empty")
	}

	seen := make(map[string]bool, len(c.Datasources))
	for _, ds := range c.Datasources {
		if err := validateDatasetName(ds.Name); err != nil {
			return fmt.Errorf("invalid dataset name %q: %w", ds.Name, err)
		}
		if seen[ds.Name] {
			return fmt.Errorf("dataset %q is configured more than once", ds.Name)
		}
		seen[ds.Name] = true

		if err := validateSpec(ds); err != nil {
			return fmt.Errorf("dataset %q: %w", ds.Name, err)
		}
	}
	return nil
}

func validateSpec(ds datasource.Spec) error {
	switch ds.Kind {
	case datasource.KindSQL:
		if ds.Connection == "" {
			return fmt.Errorf("sql datasets need a connection")
		}
		if strings.TrimSpace(ds.Query) == "" {
			return fmt.Errorf("sql datasets need a query")
		}
	case datasource.KindInflux:
		if strings.TrimSpace(ds.Query) == "" {
			return fmt.Errorf("influx datasets need a query")
		}
	case datasource.KindStatic:
		if ds.Rows != nil && ds.CSV != "" {
			return fmt.Errorf("static datasets take rows or csv, not both")
		}
	}
	return nil
}

// validateDatasetName requires names a rule can spell as a string key without
// surprises: identifier characters only and no reserved binding
func validateDatasetName(name string) error {
	if len(name) == 0 {
		return fmt.Errorf("name cannot be empty")
	}
	if len(name) > 64 {
		return fmt.Errorf("name length %d exceeds maximum of 64 characters", len(name))
	}
	if !validIdentifier.MatchString(name) {
		return fmt.Errorf("must match pattern ^[a-zA-Z_][a-zA-Z0-9_]*$")
	}
	if rules.IsReserved(name) {
		return fmt.Errorf("cannot use reserved name %q", name)
	}
	return nil
}
