package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrNotFound is returned when a checker does not exist
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists is returned when adding a checker whose ID is taken
	ErrAlreadyExists = errors.New("already exists")
)

// CheckerStore persists checker definitions, their status and execution
// history
type CheckerStore interface {
	// Add stores a new checker. An empty ID is assigned a UUID and an empty
	// status starts GREEN.
	Add(ctx context.Context, c *Checker) error

	// Get a checker by ID
	Get(ctx context.Context, id string) (*Checker, error)

	// List all checkers, oldest first
	List(ctx context.Context) ([]*Checker, error)

	// ListActive returns the active checkers, oldest first
	ListActive(ctx context.Context) ([]*Checker, error)

	// Update replaces a checker definition. Status and CreatedAt are kept.
	Update(ctx context.Context, c *Checker) error

	// Delete removes a checker and its history
	Delete(ctx context.Context, id string) error

	// SetStatus records the latest health of a checker
	SetStatus(ctx context.Context, id string, status Status) error

	// RecordExecution appends to a checker's history
	RecordExecution(ctx context.Context, e *Execution) error

	// ListExecutions returns up to limit executions, newest first
	ListExecutions(ctx context.Context, checkerID string, limit int) ([]*Execution, error)
}

// prepareNew fills the defaults of a checker about to be added
func prepareNew(c *Checker) {
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	if c.Status == "" {
		c.Status = StatusGreen
	}
	now := time.Now().UTC()
	c.CreatedAt = now
	c.UpdatedAt = now
}

// InMemoryCheckerStore implements CheckerStore with maps
type InMemoryCheckerStore struct {
	checkers   map[string]*Checker
	executions map[string][]*Execution
	mu         sync.RWMutex
}

// NewInMemoryCheckerStore creates an empty in-memory store
func NewInMemoryCheckerStore() *InMemoryCheckerStore {
	return &InMemoryCheckerStore{
		checkers:   make(map[string]*Checker),
		executions: make(map[string][]*Execution),
	}
}

func (s *InMemoryCheckerStore) Add(ctx context.Context, c *Checker) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if c.ID != "" {
		if _, exists := s.checkers[c.ID]; exists {
			return fmt.Errorf("checker %s: %w", c.ID, ErrAlreadyExists)
		}
	}

	prepareNew(c)
	s.checkers[c.ID] = c.clone()
	return nil
}

func (s *InMemoryCheckerStore) Get(ctx context.Context, id string) (*Checker, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, exists := s.checkers[id]
	if !exists {
		return nil, fmt.Errorf("checker %s: %w", id, ErrNotFound)
	}
	return c.clone(), nil
}

func (s *InMemoryCheckerStore) List(ctx context.Context) ([]*Checker, error) {
	return s.list(false), nil
}

func (s *InMemoryCheckerStore) ListActive(ctx context.Context) ([]*Checker, error) {
	return s.list(true), nil
}

func (s *InMemoryCheckerStore) list(activeOnly bool) []*Checker {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*Checker, 0, len(s.checkers))
	for _, c := range s.checkers {
		if activeOnly && !c.Active {
			continue
		}
		out = append(out, c.clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

func (s *InMemoryCheckerStore) Update(ctx context.Context, c *Checker) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, exists := s.checkers[c.ID]
	if !exists {
		return fmt.Errorf("checker %s: %w", c.ID, ErrNotFound)
	}

	c.CreatedAt = existing.CreatedAt
	c.Status = existing.Status
	c.UpdatedAt = time.Now().UTC()
	s.checkers[c.ID] = c.clone()
	return nil
}

func (s *InMemoryCheckerStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.checkers[id]; !exists {
		return fmt.Errorf("checker %s: %w", id, ErrNotFound)
	}
	delete(s.checkers, id)
	delete(s.executions, id)
	return nil
}

func (s *InMemoryCheckerStore) SetStatus(ctx context.Context, id string, status Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, exists := s.checkers[id]
	if !exists {
		return fmt.Errorf("checker %s: %w", id, ErrNotFound)
	}
	c.Status = status
	return nil
}

func (s *InMemoryCheckerStore) RecordExecution(ctx context.Context, e *Execution) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.checkers[e.CheckerID]; !exists {
		return fmt.Errorf("checker %s: %w", e.CheckerID, ErrNotFound)
	}
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	cp := *e
	s.executions[e.CheckerID] = append(s.executions[e.CheckerID], &cp)
	return nil
}

func (s *InMemoryCheckerStore) ListExecutions(ctx context.Context, checkerID string, limit int) ([]*Execution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, exists := s.checkers[checkerID]; !exists {
		return nil, fmt.Errorf("checker %s: %w", checkerID, ErrNotFound)
	}

	history := s.executions[checkerID]
	out := make([]*Execution, 0, len(history))
	for i := len(history) - 1; i >= 0; i-- {
		if limit > 0 && len(out) == limit {
			break
		}
		cp := *history[i]
		out = append(out, &cp)
	}
	return out, nil
}
