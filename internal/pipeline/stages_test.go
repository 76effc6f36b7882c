package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/phrazzld/redaction-api/internal/casestore"
	"github.com/phrazzld/redaction-api/internal/domain"
	"github.com/phrazzld/redaction-api/internal/queue"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func formatted(doc *domain.Document, errs domain.ProcessingErrors) FormatResult {
	return FormatResult{JurisdictionID: testJurisdiction, CaseID: testCase, DocumentID: "d1", Document: doc, Errors: errs}
}

func TestCallbackStage_NoURL(t *testing.T) {
	f := newFixture(t, Config{})
	doc := domain.NewTextDocument("d1", "Accused 1")

	for _, errs := range []domain.ProcessingErrors{nil, {{Message: "x", Task: StageFetch, Exception: ClassHTTPError}}} {
		out, err := f.pipeline.callbackStage(context.Background(), newJob(t, StageCallback, 1, 1, CallbackParams{}, formatted(&doc, errs)))
		require.NoError(t, err)

		res := decode[CallbackResult](t, out)
		assert.Equal(t, 0, res.StatusCode)
		assert.Equal(t, NothingToDo, res.Response)
		assert.Equal(t, errs, res.Formatted.Errors)
	}
}

func TestCallbackStage_PostsResult(t *testing.T) {
	f := newFixture(t, Config{})
	f.caseStore(t, func(cs *casestore.CaseStore) {
		require.NoError(t, cs.Init(context.Background(), 0))
		require.NoError(t, cs.SaveMasks(context.Background(), map[string]string{"s1": "Accused 1"}))
	})

	bodies := make(chan domain.RedactionResult, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body domain.RedactionResult
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &body)
		bodies <- body
		w.WriteHeader(http.StatusAccepted)
		_, _ = w.Write([]byte("thanks"))
	}))
	defer srv.Close()

	doc := domain.NewTextDocument("d1", "Accused 1")
	out, err := f.pipeline.callbackStage(context.Background(), newJob(t, StageCallback, 1, 1, CallbackParams{CallbackURL: srv.URL}, formatted(&doc, nil)))
	require.NoError(t, err)

	res := decode[CallbackResult](t, out)
	assert.Equal(t, http.StatusAccepted, res.StatusCode)
	assert.Equal(t, "thanks", res.Response)

	body := <-bodies
	assert.Equal(t, domain.ResultComplete, body.Status)
	assert.Equal(t, "d1", body.InputDocumentID)
	assert.Equal(t, []domain.MaskedSubject{{SubjectID: "s1", Alias: "Accused 1"}}, body.MaskedSubjects)
	require.NotNil(t, body.RedactedDocument)
	assert.Equal(t, doc, *body.RedactedDocument)
	assert.Empty(t, body.Error)
}

func TestCallbackStage_ReportsErrorsAndTransportFailures(t *testing.T) {
	f := newFixture(t, Config{})
	bodies := make(chan domain.RedactionResult, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body domain.RedactionResult
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &body)
		bodies <- body
		w.WriteHeader(http.StatusInternalServerError)
	}))

	errs := domain.ProcessingErrors{{Message: "404", Task: StageFetch, Exception: ClassHTTPError}}
	out, err := f.pipeline.callbackStage(context.Background(), newJob(t, StageCallback, 1, 1, CallbackParams{CallbackURL: srv.URL}, formatted(nil, errs)))
	require.NoError(t, err)

	res := decode[CallbackResult](t, out)
	assert.Equal(t, http.StatusInternalServerError, res.StatusCode)
	body := <-bodies
	assert.Equal(t, domain.ResultError, body.Status)
	assert.JSONEq(t, errs.JSON(), body.Error)
	assert.Nil(t, body.RedactedDocument)

	srv.Close()
	out, err = f.pipeline.callbackStage(context.Background(), newJob(t, StageCallback, 1, 1, CallbackParams{CallbackURL: srv.URL}, formatted(nil, errs)))
	require.NoError(t, err)
	res = decode[CallbackResult](t, out)
	assert.Equal(t, 0, res.StatusCode)
	assert.NotEmpty(t, res.Response)
}

func finalizeJob(t *testing.T, task *domain.Task, attempt int, errs domain.ProcessingErrors) queue.Job {
	t.Helper()
	doc := domain.NewTextDocument(task.DocumentID, "Accused 1")
	in := CallbackResult{
		Formatted: FormatResult{JurisdictionID: task.JurisdictionID, CaseID: task.CaseID, DocumentID: task.DocumentID, Document: &doc, Errors: errs},
		Response:  NothingToDo,
	}
	job := newJob(t, StageFinalize, attempt, 3, FinalizeParams{JurisdictionID: task.JurisdictionID, CaseID: task.CaseID}, in)
	job.TaskID = task.ID.String()
	return job
}

func TestFinalizeStage_DocumentStatus(t *testing.T) {
	fetchErr := domain.ProcessingErrors{{Message: "404", Task: StageFetch, Exception: ClassHTTPError}}

	tests := []struct {
		name         string
		experiments  bool
		errs         domain.ProcessingErrors
		wantStatuses int
		wantTask     domain.TaskStatus
	}{
		{"experiments on, success", true, nil, 1, domain.TaskStatusDone},
		{"experiments on, failure", true, fetchErr, 1, domain.TaskStatusError},
		{"experiments off", false, nil, 0, domain.TaskStatusDone},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, Config{Experiments: tt.experiments})
			task := f.newTask(t, "d1", domain.RedactionTarget{})

			out, err := f.pipeline.finalizeStage(context.Background(), finalizeJob(t, task, 1, tt.errs))
			require.NoError(t, err)
			res := decode[FinalizeResult](t, out)
			assert.Equal(t, tt.errs, res.Errors)
			assert.Empty(t, res.NextChainID)

			statuses := f.mem.Statuses().All()
			require.Len(t, statuses, tt.wantStatuses)
			if tt.wantStatuses > 0 {
				assert.Equal(t, "d1", statuses[0].DocumentID)
				if len(tt.errs) > 0 {
					assert.Equal(t, domain.ResultError, statuses[0].Status)
					assert.JSONEq(t, tt.errs.JSON(), statuses[0].Error)
				} else {
					assert.Equal(t, domain.ResultComplete, statuses[0].Status)
				}
			}

			stored, err := f.mem.Tasks().GetByID(context.Background(), task.ID)
			require.NoError(t, err)
			assert.Equal(t, tt.wantTask, stored.Status)
		})
	}
}

func TestFinalizeStage_RunsOncePerTask(t *testing.T) {
	f := newFixture(t, Config{Experiments: true})
	task := f.newTask(t, "d1", domain.RedactionTarget{})

	for attempt := 1; attempt <= 2; attempt++ {
		_, err := f.pipeline.finalizeStage(context.Background(), finalizeJob(t, task, attempt, nil))
		require.NoError(t, err)
	}
	assert.Len(t, f.mem.Statuses().All(), 1)
}

func TestFinalizeStage_SkipsHandedOffTask(t *testing.T) {
	f := newFixture(t, Config{Experiments: true})
	task := f.newTask(t, "d1", domain.RedactionTarget{})
	task.Mode = domain.TaskModeProcessor
	f.mem.Tasks().Put(task)

	_, err := f.pipeline.finalizeStage(context.Background(), finalizeJob(t, task, 1, nil))
	require.NoError(t, err)

	assert.Empty(t, f.mem.Statuses().All())
	stored, err := f.mem.Tasks().GetByID(context.Background(), task.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusPending, stored.Status)
	assert.Empty(t, f.scheduler.scheduled())
}

func TestFinalizeStage_AdvancesCase(t *testing.T) {
	f := newFixture(t, Config{})
	first := f.newTask(t, "d1", domain.RedactionTarget{})
	second := f.newTask(t, "d2", domain.RedactionTarget{})
	_, err := f.controller.CreateDocumentRedactionTask(context.Background(), testJurisdiction, testCase, nil, []*domain.Task{first, second})
	require.NoError(t, err)

	out, err := f.pipeline.finalizeStage(context.Background(), finalizeJob(t, first, 1, nil))
	require.NoError(t, err)

	res := decode[FinalizeResult](t, out)
	scheduled := f.scheduler.scheduled()
	require.Len(t, scheduled, 2)
	assert.Equal(t, second.ID.String(), scheduled[1].TaskID)
	assert.Equal(t, scheduled[1].ChainID, res.NextChainID)
}

func TestFinalizeStage_RetryStartsNextChainAfterScheduleFailure(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()
	first := f.newTask(t, "d1", domain.RedactionTarget{})
	second := f.newTask(t, "d2", domain.RedactionTarget{})
	_, err := f.controller.CreateDocumentRedactionTask(ctx, testJurisdiction, testCase, nil, []*domain.Task{first, second})
	require.NoError(t, err)

	f.scheduler.err = errors.New("queue unavailable")
	_, err = f.pipeline.finalizeStage(ctx, finalizeJob(t, first, 1, nil))
	require.Error(t, err)

	stored, err := f.mem.Tasks().GetByID(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusDone, stored.Status)

	f.scheduler.err = nil
	out, err := f.pipeline.finalizeStage(ctx, finalizeJob(t, first, 2, nil))
	require.NoError(t, err)

	res := decode[FinalizeResult](t, out)
	scheduled := f.scheduler.scheduled()
	require.Len(t, scheduled, 2)
	assert.Equal(t, second.ID.String(), scheduled[1].TaskID)
	assert.Equal(t, scheduled[1].ChainID, res.NextChainID)

	next, err := f.mem.Tasks().GetByID(ctx, second.ID)
	require.NoError(t, err)
	assert.NotNil(t, next.DispatchedAt)
}

func TestFinalizeStage_StoreFailureRetriesThenCaptures(t *testing.T) {
	f := newFixture(t, Config{})
	task := f.newTask(t, "d1", domain.RedactionTarget{})
	f.mem.Tasks().UpdateStatusErr = errors.New("connection reset")

	_, err := f.pipeline.finalizeStage(context.Background(), finalizeJob(t, task, 1, nil))
	require.Error(t, err)

	out, err := f.pipeline.finalizeStage(context.Background(), finalizeJob(t, task, 3, nil))
	require.NoError(t, err)
	res := decode[FinalizeResult](t, out)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, StageFinalize, res.Errors[0].Task)
}
