package mocks

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/phrazzld/redaction-api/internal/domain"
	"github.com/phrazzld/redaction-api/internal/store"
)

// Memory is an in-memory relational store.
type Memory struct {
	mu         sync.Mutex
	tasks      map[uuid.UUID]*domain.Task
	jobs       map[uuid.UUID]*domain.Job
	callbacks  map[uuid.UUID]*domain.Callback
	files      map[uuid.UUID]*domain.File
	redactions []*domain.Redaction
	statuses   []*domain.DocumentStatus
	retries    map[retryKey]*domain.RetryState
	clients    map[string]*domain.Client
	revoked    map[string]struct{}

	taskStore     *TaskStore
	jobStore      *JobStore
	callbackStore *CallbackStore
	redactionRepo *RedactionStore
	statusStore   *StatusStore
	retryStore    *RetryStore
	clientStore   *ClientStore
}

type retryKey struct {
	taskID uuid.UUID
	stage  string
}

// NewMemory returns an empty store.
func NewMemory() *Memory {
	m := &Memory{
		tasks:     make(map[uuid.UUID]*domain.Task),
		jobs:      make(map[uuid.UUID]*domain.Job),
		callbacks: make(map[uuid.UUID]*domain.Callback),
		files:     make(map[uuid.UUID]*domain.File),
		retries:   make(map[retryKey]*domain.RetryState),
		clients:   make(map[string]*domain.Client),
		revoked:   make(map[string]struct{}),
	}
	m.taskStore = &TaskStore{m: m}
	m.jobStore = &JobStore{m: m}
	m.callbackStore = &CallbackStore{m: m}
	m.redactionRepo = &RedactionStore{m: m}
	m.statusStore = &StatusStore{m: m}
	m.retryStore = &RetryStore{m: m}
	m.clientStore = &ClientStore{m: m}
	return m
}

func (m *Memory) Tasks() *TaskStore           { return m.taskStore }
func (m *Memory) Jobs() *JobStore             { return m.jobStore }
func (m *Memory) Callbacks() *CallbackStore   { return m.callbackStore }
func (m *Memory) Redactions() *RedactionStore { return m.redactionRepo }
func (m *Memory) Statuses() *StatusStore      { return m.statusStore }
func (m *Memory) Retries() *RetryStore        { return m.retryStore }
func (m *Memory) Clients() *ClientStore       { return m.clientStore }

// Transactor runs functions directly; every write of the in-memory store is
// already atomic. TxErr fails the transaction before fn runs.
type Transactor struct {
	mu    sync.Mutex
	TxErr error
	Calls int
}

var _ store.Transactor = (*Transactor)(nil)

func (t *Transactor) RunInTransaction(ctx context.Context, fn store.TxFn) error {
	t.mu.Lock()
	t.Calls++
	err := t.TxErr
	t.mu.Unlock()
	if err != nil {
		return err
	}
	return fn(ctx, nil)
}

func copyTask(t *domain.Task) *domain.Task {
	c := *t
	return &c
}

func (m *Memory) jobCount(taskID uuid.UUID) (total int, succeeded bool) {
	for _, j := range m.jobs {
		if j.TaskID == taskID {
			total++
			if j.Status == domain.ExecutionSuccess {
				succeeded = true
			}
		}
	}
	return total, succeeded
}

func (m *Memory) callbackCount(taskID uuid.UUID) (total int, succeeded bool) {
	for _, c := range m.callbacks {
		if c.TaskID == taskID {
			total++
			if c.Status == domain.ExecutionSuccess {
				succeeded = true
			}
		}
	}
	return total, succeeded
}
