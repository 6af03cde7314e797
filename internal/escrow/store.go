package escrow

import (
	"context"
	"sync"

	"github.com/agelabs/escrow/internal/models"
)

// Store is the task table. The ledger is the only writer; implementations do
// not enforce lifecycle rules, they just persist records keyed by id.
type Store interface {
	// Create inserts a new record, failing with ErrTaskExists on a reused id.
	Create(ctx context.Context, t *models.Task) error
	// Get returns the record for id or ErrTaskNotFound.
	Get(ctx context.Context, id uint64) (*models.Task, error)
	// Update overwrites the record for t.ID, which must exist.
	Update(ctx context.Context, t *models.Task) error
	// List returns all records, newest first.
	List(ctx context.Context) ([]*models.Task, error)
}

// MemoryStore is an in-process Store used by tests and single-node dev runs.
type MemoryStore struct {
	mu    sync.RWMutex
	tasks map[uint64]*models.Task
	order []uint64
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{tasks: make(map[uint64]*models.Task)}
}

var _ Store = (*MemoryStore)(nil)

func (s *MemoryStore) Create(_ context.Context, t *models.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tasks[t.ID]; ok {
		return ErrTaskExists
	}
	s.tasks[t.ID] = t.Clone()
	s.order = append(s.order, t.ID)
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id uint64) (*models.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tasks[id]
	if !ok {
		return nil, ErrTaskNotFound
	}
	return t.Clone(), nil
}

func (s *MemoryStore) Update(_ context.Context, t *models.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tasks[t.ID]; !ok {
		return ErrTaskNotFound
	}
	s.tasks[t.ID] = t.Clone()
	return nil
}

func (s *MemoryStore) List(_ context.Context) ([]*models.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.Task, 0, len(s.order))
	for i := len(s.order) - 1; i >= 0; i-- {
		out = append(out, s.tasks[s.order[i]].Clone())
	}
	return out, nil
}
