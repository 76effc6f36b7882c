package pipeline

import (
	"context"
	"encoding/base64"
	"sync"
	"testing"
	"time"

	"github.com/phrazzld/redaction-api/internal/casestore"
	"github.com/phrazzld/redaction-api/internal/domain"
	"github.com/phrazzld/redaction-api/internal/queue"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type chainResults struct {
	mu      sync.Mutex
	results map[string][]byte
}

func (r *chainResults) SaveResult(_ context.Context, chainID string, result []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.results == nil {
		r.results = make(map[string][]byte)
	}
	r.results[chainID] = result
	return nil
}

// TestChain_RunsCaseDocumentsOneAtATime drives a whole case through the
// local broker: every document is fetched, redacted, formatted and
// finalized, and each Finalize starts the next document's chain.
func TestChain_RunsCaseDocumentsOneAtATime(t *testing.T) {
	f := newFixture(t, Config{Experiments: true, CaseTTL: time.Hour})
	f.seedSubjects(t)
	log := testLogger(t)

	metrics, err := NewMetrics(prometheus.NewRegistry())
	require.NoError(t, err)

	registry := queue.NewRegistry()
	require.NoError(t, f.pipeline.Register(registry))
	broker := queue.NewLocalBroker(queue.LocalConfig{WorkerCount: 2, QueueSize: 16}, log)
	dispatcher := queue.NewDispatcher(registry, broker, &chainResults{}, log,
		queue.WithObserver(NewStageObserver(metrics, f.mem.Retries(), log)))

	controller := NewController(f.mem.Tasks(), f.cases, dispatcher, time.Hour, log)
	f.pipeline.advancer = controller

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		assert.NoError(t, broker.Run(ctx, dispatcher))
	}()
	t.Cleanup(func() {
		cancel()
		<-done
		_ = broker.Close()
	})

	tasks := []*domain.Task{
		f.newTask(t, "d1", domain.RedactionTarget{Document: domain.NewTextDocument("d1", "John Smith met Jane Roe.")}),
		f.newTask(t, "d2", domain.RedactionTarget{Document: domain.NewTextDocument("d2", "Johnny left.")}),
		f.newTask(t, "d3", domain.RedactionTarget{}),
	}
	tasks[2].Document.AttachmentType = "ZIP"
	f.mem.Tasks().Put(tasks[2])

	_, err = controller.CreateDocumentRedactionTask(ctx, testJurisdiction, testCase, []string{"s1", "s2"}, tasks)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		for _, task := range tasks {
			stored, err := f.mem.Tasks().GetByID(context.Background(), task.ID)
			if err != nil || !stored.IsTerminal() {
				return false
			}
		}
		return true
	}, 10*time.Second, 20*time.Millisecond)

	want := map[string]string{"d1": "Accused 1 met Witness 1.", "d2": "Accused 1 left."}
	f.caseStore(t, func(cs *casestore.CaseStore) {
		for docID, text := range want {
			doc, err := cs.GetResult(context.Background(), docID)
			require.NoError(t, err)
			require.NotNil(t, doc, docID)
			assert.Equal(t, base64.StdEncoding.EncodeToString([]byte(text)), doc.Content)
		}
	})

	failed, err := f.mem.Tasks().GetByID(context.Background(), tasks[2].ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusError, failed.Status)
	assert.Contains(t, failed.LastError, "Unsupported attachment type")

	assert.Len(t, f.mem.Statuses().All(), 3)
	assert.Equal(t, float64(3), testutil.ToFloat64(metrics.succeeded.WithLabelValues(StageFinalize)))
}
