package mocks

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/redaction-api/internal/domain"
	"github.com/phrazzld/redaction-api/internal/store"
)

// TaskStore implements store.TaskStore over Memory.
type TaskStore struct {
	m *Memory

	CreateErr       error
	NextPendingErr  error
	UpdateStatusErr error
}

var _ store.TaskStore = (*TaskStore)(nil)

func (s *TaskStore) Create(_ context.Context, task *domain.Task) error {
	if err := task.Validate(); err != nil {
		return fmt.Errorf("%w: %v", store.ErrInvalidEntity, err)
	}
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	if s.CreateErr != nil {
		return s.CreateErr
	}
	if _, ok := s.m.tasks[task.ID]; ok {
		return store.ErrDuplicate
	}
	s.m.tasks[task.ID] = copyTask(task)
	return nil
}

func (s *TaskStore) GetByID(_ context.Context, id uuid.UUID) (*domain.Task, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	t, ok := s.m.tasks[id]
	if !ok {
		return nil, store.ErrTaskNotFound
	}
	return copyTask(t), nil
}

func (s *TaskStore) ListByCase(_ context.Context, jurisdictionID, caseID string) ([]*domain.Task, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	var out []*domain.Task
	for _, t := range s.m.tasks {
		if t.JurisdictionID == jurisdictionID && t.CaseID == caseID {
			out = append(out, copyTask(t))
		}
	}
	sortOldestFirst(out)
	return out, nil
}

func sortOldestFirst(tasks []*domain.Task) {
	sort.Slice(tasks, func(i, j int) bool {
		if !tasks[i].CreatedAt.Equal(tasks[j].CreatedAt) {
			return tasks[i].CreatedAt.Before(tasks[j].CreatedAt)
		}
		return tasks[i].ID.String() < tasks[j].ID.String()
	})
}

func (s *TaskStore) next(now time.Time, eligible func(t *domain.Task) bool) *domain.Task {
	var candidates []*domain.Task
	for _, t := range s.m.tasks {
		if t.Mode != domain.TaskModeProcessor || t.Status != domain.TaskStatusPending {
			continue
		}
		if t.RetryAfter != nil && t.RetryAfter.After(now) {
			continue
		}
		if eligible(t) {
			candidates = append(candidates, t)
		}
	}
	if len(candidates) == 0 {
		return nil
	}
	sortOldestFirst(candidates)
	return copyTask(candidates[0])
}

func (s *TaskStore) NextPending(_ context.Context, maxRetries int, now time.Time) (*domain.Task, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	if s.NextPendingErr != nil {
		return nil, s.NextPendingErr
	}
	return s.next(now, func(t *domain.Task) bool {
		total, succeeded := s.m.jobCount(t.ID)
		return total < maxRetries && !succeeded
	}), nil
}

func (s *TaskStore) NextCallback(_ context.Context, maxRetries int, now time.Time) (*domain.Task, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	return s.next(now, func(t *domain.Task) bool {
		if t.CallbackURL == "" {
			return false
		}
		if _, jobOK := s.m.jobCount(t.ID); !jobOK {
			return false
		}
		total, succeeded := s.m.callbackCount(t.ID)
		return total < maxRetries && !succeeded
	}), nil
}

func (s *TaskStore) Claim(_ context.Context, id uuid.UUID, at time.Time) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	t, ok := s.m.tasks[id]
	if !ok || t.Status != domain.TaskStatusPending {
		return store.ErrAlreadyClaimed
	}
	t.Status = domain.TaskStatusClaimed
	t.ClaimedAt = &at
	t.UpdatedAt = at
	return nil
}

func (s *TaskStore) UpdateStatus(_ context.Context, id uuid.UUID, status domain.TaskStatus, retryAfter *time.Time, lastError string) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	if s.UpdateStatusErr != nil {
		return s.UpdateStatusErr
	}
	t, ok := s.m.tasks[id]
	if !ok {
		return store.ErrTaskNotFound
	}
	t.Status = status
	t.RetryAfter = retryAfter
	if lastError != "" {
		t.LastError = lastError
	}
	t.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *TaskStore) MarkDispatched(_ context.Context, id uuid.UUID, at time.Time) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	t, ok := s.m.tasks[id]
	if !ok {
		return store.ErrTaskNotFound
	}
	t.DispatchedAt = &at
	t.UpdatedAt = at
	return nil
}

func (s *TaskStore) ResetOrphans(_ context.Context, claimedBefore time.Time) (int64, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	var n int64
	for _, t := range s.m.tasks {
		if t.Status != domain.TaskStatusClaimed || t.ClaimedAt == nil || !t.ClaimedAt.Before(claimedBefore) {
			continue
		}
		if s.m.hasExecutionSince(t.ID, *t.ClaimedAt) {
			continue
		}
		t.Status = domain.TaskStatusPending
		t.UpdatedAt = time.Now().UTC()
		n++
	}
	return n, nil
}

func (m *Memory) hasExecutionSince(taskID uuid.UUID, since time.Time) bool {
	for _, j := range m.jobs {
		if j.TaskID == taskID && !j.CreatedAt.Before(since) {
			return true
		}
	}
	for _, c := range m.callbacks {
		if c.TaskID == taskID && !c.CreatedAt.Before(since) {
			return true
		}
	}
	return false
}

func (s *TaskStore) HandOffStaleChains(_ context.Context, dispatchedBefore time.Time) ([]*domain.Task, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	var out []*domain.Task
	for _, t := range s.m.tasks {
		if t.Mode != domain.TaskModeChain || t.Status != domain.TaskStatusPending {
			continue
		}
		if t.DispatchedAt == nil || !t.DispatchedAt.Before(dispatchedBefore) {
			continue
		}
		t.Mode = domain.TaskModeProcessor
		t.UpdatedAt = time.Now().UTC()
		out = append(out, copyTask(t))
	}
	sortOldestFirst(out)
	return out, nil
}

func (s *TaskStore) ListUndispatchedChains(_ context.Context, createdBefore time.Time) ([]*domain.Task, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	var out []*domain.Task
	for _, t := range s.m.tasks {
		if t.Mode != domain.TaskModeChain || t.Status != domain.TaskStatusPending {
			continue
		}
		if t.DispatchedAt != nil || !t.CreatedAt.Before(createdBefore) {
			continue
		}
		out = append(out, copyTask(t))
	}
	sortOldestFirst(out)
	return out, nil
}

func (s *TaskStore) WithTx(*sql.Tx) store.TaskStore { return s }

// Put stores a task as is, bypassing validation. Tests use it to seed rows
// in states Create would not produce.
func (s *TaskStore) Put(task *domain.Task) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	s.m.tasks[task.ID] = copyTask(task)
}
