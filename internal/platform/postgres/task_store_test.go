package postgres

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/phrazzld/redaction-api/internal/domain"
	"github.com/phrazzld/redaction-api/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMock(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, mock.ExpectationsWereMet())
		_ = db.Close()
	})
	return db, mock
}

var taskRowColumns = []string{
	"id", "jurisdiction_id", "case_id", "document_id", "document", "callback_url", "target_blob_url",
	"renderer", "mode", "status", "retry_after", "claimed_at", "dispatched_at", "last_error",
	"created_at", "updated_at",
}

func taskRow(id uuid.UUID, now time.Time) []driver.Value {
	return []driver.Value{
		id.String(), "j1", "c1", "d1", `{"attachmentType":"TEXT","documentId":"d1","content":"hello"}`,
		"https://hooks.example.com/cb", nil,
		"TEXT", "processor", "pending", nil, nil, nil, nil,
		now, now,
	}
}

func newTestTask(t *testing.T) *domain.Task {
	t.Helper()
	task, err := domain.NewTask("j1", "c1", domain.RedactionTarget{
		Document: domain.NewTextDocument("d1", "hello"),
	}, domain.RendererText, domain.TaskModeProcessor)
	require.NoError(t, err)
	return task
}

func TestPostgresTaskStore_Create(t *testing.T) {
	t.Run("inserts a valid task", func(t *testing.T) {
		db, mock := newMock(t)
		mock.ExpectExec("INSERT INTO tasks").WillReturnResult(sqlmock.NewResult(0, 1))

		err := NewPostgresTaskStore(db).Create(context.Background(), newTestTask(t))
		assert.NoError(t, err)
	})

	t.Run("rejects an invalid task without touching the database", func(t *testing.T) {
		db, _ := newMock(t)
		task := newTestTask(t)
		task.CaseID = ""

		err := NewPostgresTaskStore(db).Create(context.Background(), task)
		assert.ErrorIs(t, err, store.ErrInvalidEntity)
		assert.ErrorIs(t, err, domain.ErrEmptyCaseID)
	})
}

func TestPostgresTaskStore_GetByID(t *testing.T) {
	now := time.Now().UTC().Truncate(time.Second)
	id := uuid.New()

	t.Run("found", func(t *testing.T) {
		db, mock := newMock(t)
		rows := sqlmock.NewRows(taskRowColumns).AddRow(taskRow(id, now)...)
		mock.ExpectQuery("SELECT (.+) FROM tasks WHERE id").WillReturnRows(rows)

		task, err := NewPostgresTaskStore(db).GetByID(context.Background(), id)
		require.NoError(t, err)
		assert.Equal(t, id, task.ID)
		assert.Equal(t, domain.AttachmentText, task.Document.AttachmentType)
		assert.Equal(t, "hello", task.Document.Content)
		assert.Equal(t, "https://hooks.example.com/cb", task.CallbackURL)
		assert.Empty(t, task.TargetBlobURL)
		assert.Nil(t, task.RetryAfter)
	})

	t.Run("not found", func(t *testing.T) {
		db, mock := newMock(t)
		mock.ExpectQuery("SELECT (.+) FROM tasks WHERE id").WillReturnError(sql.ErrNoRows)

		_, err := NewPostgresTaskStore(db).GetByID(context.Background(), id)
		assert.ErrorIs(t, err, store.ErrTaskNotFound)
		assert.True(t, store.IsNotFoundError(err))
	})
}

func TestPostgresTaskStore_NextPending(t *testing.T) {
	now := time.Now().UTC().Truncate(time.Second)

	t.Run("no eligible task", func(t *testing.T) {
		db, mock := newMock(t)
		mock.ExpectQuery("FOR UPDATE OF t SKIP LOCKED").
			WithArgs(now, 3).
			WillReturnRows(sqlmock.NewRows(taskRowColumns))

		task, err := NewPostgresTaskStore(db).NextPending(context.Background(), 3, now)
		assert.NoError(t, err)
		assert.Nil(t, task)
	})

	t.Run("returns the locked task", func(t *testing.T) {
		db, mock := newMock(t)
		id := uuid.New()
		mock.ExpectQuery("FOR UPDATE OF t SKIP LOCKED").
			WithArgs(now, 3).
			WillReturnRows(sqlmock.NewRows(taskRowColumns).AddRow(taskRow(id, now)...))

		task, err := NewPostgresTaskStore(db).NextPending(context.Background(), 3, now)
		require.NoError(t, err)
		require.NotNil(t, task)
		assert.Equal(t, id, task.ID)
	})
}

func TestPostgresTaskStore_Claim(t *testing.T) {
	id := uuid.New()
	at := time.Now().UTC()

	tests := []struct {
		name     string
		affected int64
		wantErr  error
	}{
		{name: "pending task is claimed", affected: 1},
		{name: "task already claimed", affected: 0, wantErr: store.ErrAlreadyClaimed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, mock := newMock(t)
			mock.ExpectExec("UPDATE tasks SET status = 'claimed'").
				WithArgs(sqlmock.AnyArg(), at).
				WillReturnResult(sqlmock.NewResult(0, tt.affected))

			err := NewPostgresTaskStore(db).Claim(context.Background(), id, at)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestPostgresTaskStore_UpdateStatus(t *testing.T) {
	t.Run("missing task", func(t *testing.T) {
		db, mock := newMock(t)
		mock.ExpectExec("UPDATE tasks").WillReturnResult(sqlmock.NewResult(0, 0))

		err := NewPostgresTaskStore(db).UpdateStatus(context.Background(), uuid.New(), domain.TaskStatusDone, nil, "")
		assert.ErrorIs(t, err, store.ErrTaskNotFound)
	})

	t.Run("records retry time and error", func(t *testing.T) {
		db, mock := newMock(t)
		retryAt := time.Now().UTC().Add(time.Minute)
		mock.ExpectExec("UPDATE tasks").
			WithArgs(sqlmock.AnyArg(), domain.TaskStatusPending, &retryAt, "boom", sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(0, 1))

		err := NewPostgresTaskStore(db).UpdateStatus(context.Background(), uuid.New(), domain.TaskStatusPending, &retryAt, "boom")
		assert.NoError(t, err)
	})
}

func TestPostgresTaskStore_ResetOrphans(t *testing.T) {
	db, mock := newMock(t)
	cutoff := time.Now().UTC().Add(-time.Minute)
	mock.ExpectExec("UPDATE tasks t SET status = 'pending'").
		WithArgs(cutoff, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 2))

	n, err := NewPostgresTaskStore(db).ResetOrphans(context.Background(), cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestPostgresTaskStore_HandOffStaleChains(t *testing.T) {
	db, mock := newMock(t)
	now := time.Now().UTC().Truncate(time.Second)
	id := uuid.New()
	mock.ExpectQuery(`UPDATE tasks SET mode = 'processor'.*dispatched_at IS NOT NULL AND dispatched_at < \$1`).
		WithArgs(now, sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows(taskRowColumns).AddRow(taskRow(id, now)...))

	tasks, err := NewPostgresTaskStore(db).HandOffStaleChains(context.Background(), now)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, id, tasks[0].ID)
}

func TestPostgresTaskStore_ListUndispatchedChains(t *testing.T) {
	db, mock := newMock(t)
	now := time.Now().UTC().Truncate(time.Second)
	id := uuid.New()
	mock.ExpectQuery(`SELECT .+ FROM tasks\s+WHERE mode = 'chain' AND status = 'pending'\s+AND dispatched_at IS NULL AND created_at < \$1`).
		WithArgs(now).
		WillReturnRows(sqlmock.NewRows(taskRowColumns).AddRow(taskRow(id, now)...))

	tasks, err := NewPostgresTaskStore(db).ListUndispatchedChains(context.Background(), now)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, id, tasks[0].ID)
}
