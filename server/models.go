package server

import (
	"time"

	"github.com/liamcoop/checkers/datasource"
	"github.com/liamcoop/checkers/rules"
	"github.com/liamcoop/checkers/store"
)

// API request and response models

// CreateCheckerRequest is the body for creating a checker
type CreateCheckerRequest struct {
	ID          string            `json:"id,omitempty"`
	Description string            `json:"description"`
	Rule        string            `json:"rule"`
	Dialect     rules.Dialect     `json:"dialect,omitempty"`
	Datasources []datasource.Spec `json:"datasources"`
	Active      *bool             `json:"active,omitempty"`
}

// UpdateCheckerRequest is the body for updating a checker. Omitted fields
// keep their stored value.
type UpdateCheckerRequest struct {
	Description *string            `json:"description,omitempty"`
	Rule        *string            `json:"rule,omitempty"`
	Dialect     *rules.Dialect     `json:"dialect,omitempty"`
	Datasources *[]datasource.Spec `json:"datasources,omitempty"`
	Active      *bool              `json:"active,omitempty"`
}

// CheckerResponse is a checker in API responses
type CheckerResponse struct {
	ID          string            `json:"id"`
	Description string            `json:"description"`
	Rule        string            `json:"rule"`
	Dialect     rules.Dialect     `json:"dialect"`
	Datasources []datasource.Spec `json:"datasources"`
	Status      store.Status      `json:"status"`
	Active      bool              `json:"active"`
	CreatedAt   time.Time         `json:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at"`
}

// CheckersListResponse is the response for listing checkers
type CheckersListResponse struct {
	Checkers []CheckerResponse `json:"checkers"`
}

// ExecutionsListResponse is the response for a checker's history
type ExecutionsListResponse struct {
	Executions []*store.Execution `json:"executions"`
}

// RunResponse describes a cycle started through the API
type RunResponse struct {
	CheckerID  string          `json:"checker_id"`
	Green      bool            `json:"green"`
	Status     store.Status    `json:"status"`
	Outcome    string          `json:"outcome"`
	Cause      string          `json:"cause,omitempty"`
	State      string          `json:"state"`
	Dropped    []rules.Dropped `json:"dropped,omitempty"`
	DurationMs int64           `json:"duration_ms"`
	Error      string          `json:"error,omitempty"`
}

// ValidateRuleRequest is the body for checking a rule without running it
type ValidateRuleRequest struct {
	Rule    string        `json:"rule"`
	Dialect rules.Dialect `json:"dialect,omitempty"`
}

// ValidateRuleResponse lists what the filter removed, or why the rule was
// rejected
type ValidateRuleResponse struct {
	Valid   bool            `json:"valid"`
	Dialect rules.Dialect   `json:"dialect,omitempty"`
	Dropped []rules.Dropped `json:"dropped"`
	Error   string          `json:"error,omitempty"`
}

// ErrorResponse is an error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// HealthResponse is the health check response
type HealthResponse struct {
	Status   string           `json:"status"`
	Checkers int              `json:"checkers"`
	Counters map[string]int64 `json:"counters"`
	Error    string           `json:"error,omitempty"`
}

func toCheckerResponse(c *store.Checker) CheckerResponse {
	dialect := c.Dialect
	if dialect == "" {
		dialect = rules.DialectPython
	}
	datasources := c.Datasources
	if datasources == nil {
		datasources = []datasource.Spec{}
	}
	return CheckerResponse{
		ID:          c.ID,
		Description: c.Description,
		Rule:        c.Rule,
		Dialect:     dialect,
		Datasources: datasources,
		Status:      c.Status,
		Active:      c.Active,
		CreatedAt:   c.CreatedAt,
		UpdatedAt:   c.UpdatedAt,
	}
}
