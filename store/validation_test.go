package store

import (
	"fmt"
	"strings"
	"testing"

	"github.com/liamcoop/checkers/datasource"
)

// TestValidateChecker verifies checker definitions are rejected with a
// message naming the problem
func TestValidateChecker(t *testing.T) {
	testCases := []struct {
		name    string
		mutate  func(c *Checker)
		wantErr string
	}{
		{
			name:   "valid",
			mutate: func(c *Checker) {},
		},
		{
			name:    "empty rule",
			mutate:  func(c *Checker) { c.Rule = "" },
			wantErr: "Rule",
		},
		{
			name:    "blank rule",
			mutate:  func(c *Checker) { c.Rule = "   \n" },
			wantErr: "empty",
		},
		{
			name:    "unknown dialect",
			mutate:  func(c *Checker) { c.Dialect = "wasm" },
			wantErr: "Dialect",
		},
		{
			name: "duplicate dataset",
			mutate: func(c *Checker) {
				c.Datasources = append(c.Datasources, c.Datasources[0])
			},
			wantErr: "more than once",
		},
		{
			name:    "reserved dataset name",
			mutate:  func(c *Checker) { c.Datasources[0].Name = "datasets" },
			wantErr: "reserved",
		},
		{
			name:    "dataset name with spaces",
			mutate:  func(c *Checker) { c.Datasources[0].Name = "my data" },
			wantErr: "pattern",
		},
		{
			name:    "unknown kind",
			mutate:  func(c *Checker) { c.Datasources[0].Kind = "ftp" },
			wantErr: "Kind",
		},
		{
			name: "sql without connection",
			mutate: func(c *Checker) {
				c.Datasources[0] = datasource.Spec{Name: "q", Kind: datasource.KindSQL, Query: "SELECT 1"}
			},
			wantErr: "connection",
		},
		{
			name: "influx without query",
			mutate: func(c *Checker) {
				c.Datasources[0] = datasource.Spec{Name: "i", Kind: datasource.KindInflux}
			},
			wantErr: "query",
		},
		{
			name: "static rows and csv",
			mutate: func(c *Checker) {
				c.Datasources[0].CSV = "rows.csv"
			},
			wantErr: "not both",
		},
		{
			name: "too many datasources",
			mutate: func(c *Checker) {
				c.Datasources = nil
				for i := 0; i < 101; i++ {
					c.Datasources = append(c.Datasources, datasource.Spec{Name: fmt.Sprintf("d%d", i), Kind: datasource.KindStatic})
				}
			},
			wantErr: "Datasources",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			c := newChecker("c1")
			tc.mutate(c)

			err := ValidateChecker(c)
			if tc.wantErr == "" {
				if err != nil {
					t.Errorf("ValidateChecker() unexpected error: %v", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("ValidateChecker() error = nil, want error mentioning %q", tc.wantErr)
			}
			if !strings.Contains(err.Error(), tc.wantErr) {
				t.Errorf("ValidateChecker() error = %v, want it to mention %q", err, tc.wantErr)
			}
		})
	}
}
