package processor

import (
	"context"
	"fmt"
	"testing"

	"github.com/phrazzld/redaction-api/internal/domain"
	"github.com/phrazzld/redaction-api/internal/pipeline"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const hookURL = "https://example.com/hook"

// redacted returns a task whose redaction has succeeded and whose webhook is
// due.
func redacted(t *testing.T, f *fixture) *domain.Task {
	t.Helper()
	task := f.addTask(t, "d1", hookURL)
	runOnce(t, f.redaction)
	require.Equal(t, domain.TaskStatusPending, f.task(t, task).Status)
	return task
}

func TestCallbackExecutorClaim(t *testing.T) {
	t.Run("waits for a successful job", func(t *testing.T) {
		f := newFixture(t)
		f.addTask(t, "d1", hookURL)

		task, err := f.callback.Claim(context.Background())
		require.NoError(t, err)
		assert.Nil(t, task)
	})

	t.Run("skips tasks without a callback url", func(t *testing.T) {
		f := newFixture(t)
		f.addTask(t, "d1", "")
		runOnce(t, f.redaction)

		task, err := f.callback.Claim(context.Background())
		require.NoError(t, err)
		assert.Nil(t, task)
	})

	t.Run("claims redacted task", func(t *testing.T) {
		f := newFixture(t)
		want := redacted(t, f)

		task, err := f.callback.Claim(context.Background())
		require.NoError(t, err)
		require.NotNil(t, task)
		assert.Equal(t, want.ID, task.ID)
	})
}

func TestCallbackExecutorDelivers(t *testing.T) {
	f := newFixture(t)
	task := redacted(t, f)

	runOnce(t, f.callback)

	assert.Equal(t, domain.TaskStatusDone, f.task(t, task).Status)
	cbs := f.mem.Callbacks().ForTask(task.ID)
	require.Len(t, cbs, 1)
	assert.Equal(t, domain.ExecutionSuccess, cbs[0].Status)
	assert.Equal(t, 200, cbs[0].ResponseCode)
	assert.Equal(t, "ok", cbs[0].Response)

	sent := f.poster.sent()
	require.Len(t, sent, 1)
	assert.Equal(t, hookURL, sent[0].url)
	body, ok := sent[0].body.(*domain.RedactionResult)
	require.True(t, ok)
	assert.Equal(t, "j1", body.JurisdictionID)
	assert.Equal(t, "c1", body.CaseID)
	assert.Equal(t, "d1", body.InputDocumentID)
	assert.Equal(t, domain.ResultComplete, body.Status)
	require.NotNil(t, body.RedactedDocument)
	assert.Equal(t, domain.NewTextDocument("d1", "JOHN SMITH WAS HERE"), *body.RedactedDocument)

	next, err := f.callback.Claim(context.Background())
	require.NoError(t, err)
	assert.Nil(t, next)
}

func TestCallbackExecutorDeliversLinks(t *testing.T) {
	f := newFixture(t)
	f.stages.FormatFn = func(_ context.Context, documentID string, _ []byte) (*domain.Document, error) {
		doc := domain.NewLinkDocument(documentID, "s3://out/d1.txt")
		return &doc, nil
	}
	redacted(t, f)

	runOnce(t, f.callback)

	sent := f.poster.sent()
	require.Len(t, sent, 1)
	body := sent[0].body.(*domain.RedactionResult)
	assert.Equal(t, domain.NewLinkDocument("d1", "s3://out/d1.txt"), *body.RedactedDocument)
}

func TestCallbackExecutorFailures(t *testing.T) {
	tests := []struct {
		name         string
		code         int
		response     string
		err          error
		wantStatus   domain.TaskStatus
		wantCode     int
		wantResponse string
	}{
		{
			name:         "server error is retried",
			code:         502,
			response:     "bad gateway",
			wantStatus:   domain.TaskStatusPending,
			wantCode:     502,
			wantResponse: "bad gateway",
		},
		{
			name:         "transport failure is retried",
			response:     "dial tcp: connection refused",
			wantStatus:   domain.TaskStatusPending,
			wantResponse: "dial tcp: connection refused",
		},
		{
			name:         "client error is final",
			code:         404,
			response:     "not found",
			wantStatus:   domain.TaskStatusError,
			wantCode:     404,
			wantResponse: "not found",
		},
		{
			name:       "invalid url is final",
			err:        fmt.Errorf("%w: invalid callback url", pipeline.ErrInvalidInput),
			wantStatus: domain.TaskStatusError,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			f.poster.PostFn = func(string) (int, string, error) {
				return tc.code, tc.response, tc.err
			}
			task := redacted(t, f)

			runOnce(t, f.callback)

			got := f.task(t, task)
			assert.Equal(t, tc.wantStatus, got.Status)
			assert.NotEmpty(t, got.LastError)

			cbs := f.mem.Callbacks().ForTask(task.ID)
			require.Len(t, cbs, 1)
			assert.Equal(t, domain.ExecutionError, cbs[0].Status)
			assert.Equal(t, tc.wantCode, cbs[0].ResponseCode)
			assert.Equal(t, tc.wantResponse, cbs[0].Response)
			assert.NotEmpty(t, cbs[0].ErrorMessage)

			state, err := f.mem.Retries().Get(context.Background(), task.ID, CallbackProcessor)
			require.NoError(t, err)
			assert.Equal(t, 1, state.Attempts)
		})
	}
}

func TestCallbackExecutorRetriesUntilLimit(t *testing.T) {
	f := newFixture(t)
	f.poster.PostFn = func(string) (int, string, error) { return 500, "boom", nil }
	task := redacted(t, f)

	runOnce(t, f.callback)
	assert.Equal(t, domain.TaskStatusPending, f.task(t, task).Status)

	runOnce(t, f.callback)
	assert.Equal(t, domain.TaskStatusError, f.task(t, task).Status)
	assert.Len(t, f.poster.sent(), 2)
	assert.Len(t, f.mem.Callbacks().ForTask(task.ID), 2)

	next, err := f.callback.Claim(context.Background())
	require.NoError(t, err)
	assert.Nil(t, next)
}

func TestCallbackExecutorMissingResult(t *testing.T) {
	f := newFixture(t)
	task := redacted(t, f)
	f.blobs.mu.Lock()
	f.blobs.blobs = map[string][]byte{}
	f.blobs.mu.Unlock()

	runOnce(t, f.callback)

	assert.Empty(t, f.poster.sent())
	got := f.task(t, task)
	assert.Equal(t, domain.TaskStatusPending, got.Status)
	assert.Contains(t, got.LastError, "failed to load redacted document")
	cbs := f.mem.Callbacks().ForTask(task.ID)
	require.Len(t, cbs, 1)
	assert.Equal(t, domain.ExecutionError, cbs[0].Status)
}
