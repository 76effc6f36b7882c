package pipeline

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/go-redis/redis/v8"
	"github.com/phrazzld/redaction-api/internal/casestore"
	"github.com/phrazzld/redaction-api/internal/domain"
	"github.com/phrazzld/redaction-api/internal/kv"
	"github.com/phrazzld/redaction-api/internal/mocks"
	"github.com/phrazzld/redaction-api/internal/platform/logger"
	redisstore "github.com/phrazzld/redaction-api/internal/platform/redis"
	"github.com/phrazzld/redaction-api/internal/queue"
	"github.com/stretchr/testify/require"
)

const (
	testJurisdiction = "j1"
	testCase         = "c1"
)

func testLogger(t *testing.T) *slog.Logger {
	t.Helper()
	_, log := logger.NewTestLogger(t)
	return log
}

type upload struct {
	target      string
	data        []byte
	contentType string
}

type recordingUploader struct {
	mu      sync.Mutex
	uploads []upload
	err     error
}

func (u *recordingUploader) Upload(_ context.Context, target string, data []byte, contentType string) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.err != nil {
		return u.err
	}
	u.uploads = append(u.uploads, upload{target: target, data: data, contentType: contentType})
	return nil
}

func (u *recordingUploader) count() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return len(u.uploads)
}

type recordingScheduler struct {
	mu        sync.Mutex
	envelopes []queue.Envelope
	err       error
}

func (s *recordingScheduler) Schedule(_ context.Context, env queue.Envelope) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.envelopes = append(s.envelopes, env)
	return nil
}

func (s *recordingScheduler) scheduled() []queue.Envelope {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]queue.Envelope(nil), s.envelopes...)
}

type fixture struct {
	mr         *miniredis.Miniredis
	cases      kv.Store
	blobs      *redisstore.BlobStore
	mem        *mocks.Memory
	uploader   *recordingUploader
	scheduler  *recordingScheduler
	controller *Controller
	pipeline   *Pipeline
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	log := testLogger(t)
	f := &fixture{
		mr:        mr,
		cases:     redisstore.NewStore(client),
		blobs:     redisstore.NewBlobStore(client, time.Hour),
		mem:       mocks.NewMemory(),
		uploader:  &recordingUploader{},
		scheduler: &recordingScheduler{},
	}
	f.controller = NewController(f.mem.Tasks(), f.cases, f.scheduler, time.Hour, log)
	f.pipeline = New(cfg, Deps{
		Blobs:    f.blobs,
		Cases:    f.cases,
		Tasks:    f.mem.Tasks(),
		Statuses: f.mem.Statuses(),
		Fetcher:  NewFetcher(nil, FetcherConfig{Timeout: 5 * time.Second, MaxTries: 3, BaseDelay: time.Millisecond}),
		Redactor: NewPlaceholderRedactor(),
		Uploader: f.uploader,
		Notifier: NewNotifier(nil, 5*time.Second),
		Advancer: f.controller,
	}, log)
	return f
}

// seedSubjects records one accused with an alias and one witness.
func (f *fixture) seedSubjects(t *testing.T) {
	t.Helper()
	subjects := []domain.Subject{
		{Role: "accused", Subject: domain.Person{
			SubjectID: "s1",
			Name:      domain.Name{Text: "John Smith"},
			Aliases:   []domain.Name{{Text: "Johnny"}},
		}},
		{Role: "witness", Subject: domain.Person{
			SubjectID: "s2",
			Name:      domain.Name{Text: "Jane Roe"},
		}},
	}
	err := f.cases.Tx(context.Background(), func(sess kv.Session) error {
		cs := casestore.New(sess, testJurisdiction, testCase)
		if err := cs.Init(context.Background(), time.Hour); err != nil {
			return err
		}
		return cs.SaveSubjects(context.Background(), subjects)
	})
	require.NoError(t, err)
}

func (f *fixture) caseStore(t *testing.T, fn func(cs *casestore.CaseStore)) {
	t.Helper()
	err := f.cases.Tx(context.Background(), func(sess kv.Session) error {
		fn(casestore.New(sess, testJurisdiction, testCase))
		return nil
	})
	require.NoError(t, err)
}

func (f *fixture) newTask(t *testing.T, documentID string, target domain.RedactionTarget) *domain.Task {
	t.Helper()
	if target.Document.DocumentID == "" {
		target.Document = domain.NewTextDocument(documentID, "John Smith was seen by Jane Roe.")
	}
	task, err := domain.NewTask(testJurisdiction, testCase, target, domain.RendererText, domain.TaskModeChain)
	require.NoError(t, err)
	require.NoError(t, f.mem.Tasks().Create(context.Background(), task))
	return task
}

func newJob(t *testing.T, stage string, attempt, maxAttempts int, params, input any) queue.Job {
	t.Helper()
	job := queue.Job{ChainID: "chain", TaskID: domain.NewID().String(), Stage: stage, Attempt: attempt, MaxAttempts: maxAttempts}
	var err error
	job.Params, err = json.Marshal(params)
	require.NoError(t, err)
	if input != nil {
		job.Input, err = json.Marshal(input)
		require.NoError(t, err)
	}
	return job
}

func decode[T any](t *testing.T, raw json.RawMessage) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(raw, &out))
	return out
}

func decodeJSON(raw json.RawMessage, v any) error {
	return json.Unmarshal(raw, v)
}
