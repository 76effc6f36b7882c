package mocks

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/redaction-api/internal/domain"
	"github.com/phrazzld/redaction-api/internal/store"
)

// JobStore implements store.JobStore over Memory.
type JobStore struct {
	m *Memory

	CreateErr error
}

var _ store.JobStore = (*JobStore)(nil)

func (s *JobStore) Create(_ context.Context, job *domain.Job) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	if s.CreateErr != nil {
		return s.CreateErr
	}
	for _, j := range s.m.jobs {
		if j.TaskID == job.TaskID && !j.Status.IsTerminal() {
			return store.ErrDuplicate
		}
	}
	c := *job
	s.m.jobs[job.ID] = &c
	return nil
}

func (s *JobStore) GetByID(_ context.Context, id uuid.UUID) (*domain.Job, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	j, ok := s.m.jobs[id]
	if !ok {
		return nil, store.ErrJobNotFound
	}
	c := *j
	return &c, nil
}

func (s *JobStore) Transition(_ context.Context, job *domain.Job, from domain.ExecutionStatus) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	j, ok := s.m.jobs[job.ID]
	if !ok || j.Status != from {
		return store.ErrUpdateFailed
	}
	c := *job
	s.m.jobs[job.ID] = &c
	return nil
}

func (s *JobStore) CountForTask(_ context.Context, taskID uuid.UUID) (int, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	n, _ := s.m.jobCount(taskID)
	return n, nil
}

func (s *JobStore) ListStale(_ context.Context, updatedBefore time.Time) ([]*domain.Job, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	var out []*domain.Job
	for _, j := range s.m.jobs {
		if !j.Status.IsTerminal() && j.UpdatedAt.Before(updatedBefore) {
			c := *j
			out = append(out, &c)
		}
	}
	return out, nil
}

func (s *JobStore) WithTx(*sql.Tx) store.JobStore { return s }

// ForTask lists a task's jobs in creation order.
func (s *JobStore) ForTask(taskID uuid.UUID) []*domain.Job {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	var out []*domain.Job
	for _, j := range s.m.jobs {
		if j.TaskID == taskID {
			c := *j
			out = append(out, &c)
		}
	}
	sortByCreated(out, func(j *domain.Job) (time.Time, string) { return j.CreatedAt, j.ID.String() })
	return out
}

// Put stores a job as is.
func (s *JobStore) Put(job *domain.Job) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	c := *job
	s.m.jobs[job.ID] = &c
}

// CallbackStore implements store.CallbackStore over Memory.
type CallbackStore struct {
	m *Memory

	CreateErr error
}

var _ store.CallbackStore = (*CallbackStore)(nil)

func (s *CallbackStore) Create(_ context.Context, cb *domain.Callback) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	if s.CreateErr != nil {
		return s.CreateErr
	}
	for _, c := range s.m.callbacks {
		if c.TaskID == cb.TaskID && !c.Status.IsTerminal() {
			return store.ErrDuplicate
		}
	}
	c := *cb
	s.m.callbacks[cb.ID] = &c
	return nil
}

func (s *CallbackStore) GetByID(_ context.Context, id uuid.UUID) (*domain.Callback, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	cb, ok := s.m.callbacks[id]
	if !ok {
		return nil, store.ErrCallbackNotFound
	}
	c := *cb
	return &c, nil
}

func (s *CallbackStore) Transition(_ context.Context, cb *domain.Callback, from domain.ExecutionStatus) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	existing, ok := s.m.callbacks[cb.ID]
	if !ok || existing.Status != from {
		return store.ErrUpdateFailed
	}
	c := *cb
	s.m.callbacks[cb.ID] = &c
	return nil
}

func (s *CallbackStore) CountForTask(_ context.Context, taskID uuid.UUID) (int, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	n, _ := s.m.callbackCount(taskID)
	return n, nil
}

func (s *CallbackStore) ListStale(_ context.Context, updatedBefore time.Time) ([]*domain.Callback, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	var out []*domain.Callback
	for _, cb := range s.m.callbacks {
		if !cb.Status.IsTerminal() && cb.UpdatedAt.Before(updatedBefore) {
			c := *cb
			out = append(out, &c)
		}
	}
	return out, nil
}

func (s *CallbackStore) WithTx(*sql.Tx) store.CallbackStore { return s }

// ForTask lists a task's callbacks in creation order.
func (s *CallbackStore) ForTask(taskID uuid.UUID) []*domain.Callback {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	var out []*domain.Callback
	for _, cb := range s.m.callbacks {
		if cb.TaskID == taskID {
			c := *cb
			out = append(out, &c)
		}
	}
	sortByCreated(out, func(c *domain.Callback) (time.Time, string) { return c.CreatedAt, c.ID.String() })
	return out
}

// Put stores a callback as is.
func (s *CallbackStore) Put(cb *domain.Callback) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	c := *cb
	s.m.callbacks[cb.ID] = &c
}
