package workflow

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/spec-kit/workflow-service/internal/domain"
)

type branchKey struct {
	ticketID string
	stepID   string
}

type branchState struct {
	instances map[string]*domain.ParallelInstance
	remaining int
}

// MemoryParallelStore is an in-process ParallelStore for single-instance
// deployments and tests. Completion and the outstanding-count decrement
// happen under one mutex, giving the same at-most-once guarantee as the
// SQL-backed store.
type MemoryParallelStore struct {
	mu       sync.Mutex
	branches map[branchKey]*branchState
}

// NewMemoryParallelStore creates an empty store.
func NewMemoryParallelStore() *MemoryParallelStore {
	return &MemoryParallelStore{branches: make(map[branchKey]*branchState)}
}

func (s *MemoryParallelStore) CreateInstances(_ context.Context, instances []*domain.ParallelInstance) error {
	if len(instances) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	key := branchKey{ticketID: instances[0].TicketID, stepID: instances[0].StepID}
	state := &branchState{instances: make(map[string]*domain.ParallelInstance, len(instances))}
	for _, instance := range instances {
		instance.ID = uuid.NewString()
		instance.CreatedAt = time.Now()
		state.instances[instance.AssigneeID] = instance
	}
	state.remaining = len(state.instances)
	s.branches[key] = state
	return nil
}

func (s *MemoryParallelStore) CompleteInstance(_ context.Context, ticketID, stepID, assigneeID string) (int, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	state, ok := s.branches[branchKey{ticketID: ticketID, stepID: stepID}]
	if !ok {
		return 0, false, ErrInstanceNotFound
	}
	instance, ok := state.instances[assigneeID]
	if !ok {
		return 0, false, ErrInstanceNotFound
	}
	if instance.Completed {
		return state.remaining, false, nil
	}
	now := time.Now()
	instance.Completed = true
	instance.CompletedAt = &now
	state.remaining--
	return state.remaining, true, nil
}

func (s *MemoryParallelStore) ListInstances(_ context.Context, ticketID, stepID string) ([]domain.ParallelInstance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	state, ok := s.branches[branchKey{ticketID: ticketID, stepID: stepID}]
	if !ok {
		return nil, nil
	}
	instances := make([]domain.ParallelInstance, 0, len(state.instances))
	for _, instance := range state.instances {
		instances = append(instances, *instance)
	}
	return instances, nil
}

func (s *MemoryParallelStore) DeleteInstances(_ context.Context, ticketID, stepID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.branches, branchKey{ticketID: ticketID, stepID: stepID})
	return nil
}
