package mocks

import (
	"context"
	"database/sql"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/redaction-api/internal/domain"
	"github.com/phrazzld/redaction-api/internal/store"
)

func sortByCreated[T any](items []T, key func(T) (time.Time, string)) {
	sort.Slice(items, func(i, j int) bool {
		ti, idi := key(items[i])
		tj, idj := key(items[j])
		if !ti.Equal(tj) {
			return ti.Before(tj)
		}
		return idi < idj
	})
}

// RedactionStore implements store.RedactionStore over Memory.
type RedactionStore struct {
	m *Memory

	SaveFileErr error
}

var _ store.RedactionStore = (*RedactionStore)(nil)

func (s *RedactionStore) SaveFile(_ context.Context, file *domain.File) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	if s.SaveFileErr != nil {
		return s.SaveFileErr
	}
	c := *file
	s.m.files[file.ID] = &c
	return nil
}

func (s *RedactionStore) SaveRedaction(_ context.Context, r *domain.Redaction) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	c := *r
	s.m.redactions = append(s.m.redactions, &c)
	return nil
}

func (s *RedactionStore) LatestForTask(_ context.Context, taskID uuid.UUID) (*domain.Redaction, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	for i := len(s.m.redactions) - 1; i >= 0; i-- {
		if r := s.m.redactions[i]; r.TaskID == taskID {
			c := *r
			return &c, nil
		}
	}
	return nil, store.ErrRedactionNotFound
}

func (s *RedactionStore) WithTx(*sql.Tx) store.RedactionStore { return s }

// Files lists every saved file.
func (s *RedactionStore) Files() []*domain.File {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	out := make([]*domain.File, 0, len(s.m.files))
	for _, f := range s.m.files {
		c := *f
		out = append(out, &c)
	}
	return out
}

// StatusStore implements store.DocumentStatusStore over Memory.
type StatusStore struct {
	m *Memory

	SaveErr error
}

var _ store.DocumentStatusStore = (*StatusStore)(nil)

func (s *StatusStore) Save(_ context.Context, status *domain.DocumentStatus) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	if s.SaveErr != nil {
		return s.SaveErr
	}
	c := *status
	s.m.statuses = append(s.m.statuses, &c)
	return nil
}

func (s *StatusStore) ListByCase(_ context.Context, jurisdictionID, caseID string) ([]*domain.DocumentStatus, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	var out []*domain.DocumentStatus
	for _, st := range s.m.statuses {
		if st.JurisdictionID == jurisdictionID && st.CaseID == caseID {
			c := *st
			out = append(out, &c)
		}
	}
	return out, nil
}

// All lists every saved status in save order.
func (s *StatusStore) All() []*domain.DocumentStatus {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	out := make([]*domain.DocumentStatus, len(s.m.statuses))
	for i, st := range s.m.statuses {
		c := *st
		out[i] = &c
	}
	return out
}

// RetryStore implements store.RetryStateStore over Memory.
type RetryStore struct {
	m *Memory
}

var _ store.RetryStateStore = (*RetryStore)(nil)

func (s *RetryStore) Record(_ context.Context, state *domain.RetryState) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	c := *state
	s.m.retries[retryKey{state.TaskID, state.Stage}] = &c
	return nil
}

func (s *RetryStore) Get(_ context.Context, taskID uuid.UUID, stage string) (*domain.RetryState, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	st, ok := s.m.retries[retryKey{taskID, stage}]
	if !ok {
		return nil, store.ErrRetryNotFound
	}
	c := *st
	return &c, nil
}

func (s *RetryStore) WithTx(*sql.Tx) store.RetryStateStore { return s }

// ClientStore implements store.ClientStore over Memory.
type ClientStore struct {
	m *Memory
}

var _ store.ClientStore = (*ClientStore)(nil)

func (s *ClientStore) Create(_ context.Context, client *domain.Client) error {
	if err := client.Validate(); err != nil {
		return err
	}
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	if _, ok := s.m.clients[client.ID]; ok {
		return store.ErrDuplicate
	}
	c := *client
	s.m.clients[client.ID] = &c
	return nil
}

func (s *ClientStore) GetByID(_ context.Context, clientID string) (*domain.Client, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	c, ok := s.m.clients[clientID]
	if !ok {
		return nil, store.ErrClientNotFound
	}
	cp := *c
	return &cp, nil
}

func (s *ClientStore) Revoke(_ context.Context, jti string, _ time.Time) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	s.m.revoked[jti] = struct{}{}
	return nil
}

func (s *ClientStore) IsRevoked(_ context.Context, jti string) (bool, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	_, ok := s.m.revoked[jti]
	return ok, nil
}
