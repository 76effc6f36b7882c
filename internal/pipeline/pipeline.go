package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/phrazzld/redaction-api/internal/domain"
	"github.com/phrazzld/redaction-api/internal/kv"
	"github.com/phrazzld/redaction-api/internal/queue"
	"github.com/phrazzld/redaction-api/internal/store"
)

// BlobStore holds stage payloads between stages.
type BlobStore interface {
	Save(ctx context.Context, data []byte) (string, error)
	Load(ctx context.Context, id string) ([]byte, error)
}

// CaseAdvancer starts the chain of a case's next deferred document.
type CaseAdvancer interface {
	AdvanceCase(ctx context.Context, jurisdictionID, caseID string) (string, error)
}

// Config holds the knobs the stages read.
type Config struct {
	LinkDownloadTimeout time.Duration
	CallbackTimeout     time.Duration
	CaseTTL             time.Duration
	// Experiments enables the DocumentStatus log written by Finalize.
	Experiments bool
}

// Deps are the collaborators of the stages.
type Deps struct {
	Blobs    BlobStore
	Cases    kv.Store
	Tasks    store.TaskStore
	Statuses store.DocumentStatusStore
	Fetcher  *Fetcher
	Redactor Redactor
	Uploader Uploader
	Notifier *Notifier
	Advancer CaseAdvancer
}

// Pipeline owns the stage handlers. The stage operations are exported so the
// claim/execute processors can run them in-process.
type Pipeline struct {
	cfg      Config
	blobs    BlobStore
	cases    kv.Store
	tasks    store.TaskStore
	statuses store.DocumentStatusStore
	fetcher  *Fetcher
	redactor Redactor
	uploader Uploader
	notifier *Notifier
	advancer CaseAdvancer
	logger   *slog.Logger
}

func New(cfg Config, deps Deps, logger *slog.Logger) *Pipeline {
	return &Pipeline{
		cfg:      cfg,
		blobs:    deps.Blobs,
		cases:    deps.Cases,
		tasks:    deps.Tasks,
		statuses: deps.Statuses,
		fetcher:  deps.Fetcher,
		redactor: deps.Redactor,
		uploader: deps.Uploader,
		notifier: deps.Notifier,
		advancer: deps.Advancer,
		logger:   logger.With("component", "pipeline"),
	}
}

// StageOptions returns the per-stage limits.
func (p *Pipeline) StageOptions() map[string]queue.StageOptions {
	return map[string]queue.StageOptions{
		StageFetch:    {Timeout: p.cfg.LinkDownloadTimeout + 30*time.Second, MaxAttempts: 3, RetryDelay: time.Second},
		StageRedact:   {Timeout: 300 * time.Second, MaxAttempts: 3, RetryDelay: 30 * time.Second},
		StageFormat:   {Timeout: 30 * time.Second, MaxAttempts: 3, RetryDelay: time.Second},
		StageCallback: {Timeout: p.cfg.CallbackTimeout + 30*time.Second, MaxAttempts: 1},
		StageFinalize: {Timeout: 30 * time.Second, MaxAttempts: 3, RetryDelay: time.Second},
	}
}

// Register adds every stage to the registry.
func (p *Pipeline) Register(r *queue.Registry) error {
	handlers := []struct {
		name string
		h    queue.Handler
	}{
		{StageFetch, p.fetchStage},
		{StageRedact, p.redactStage},
		{StageFormat, p.formatStage},
		{StageCallback, p.callbackStage},
		{StageFinalize, p.finalizeStage},
	}
	opts := p.StageOptions()
	for _, s := range handlers {
		if err := r.Register(s.name, s.h, opts[s.name]); err != nil {
			return fmt.Errorf("failed to register stage %s: %w", s.name, err)
		}
	}
	return nil
}

// Fetch resolves the document's bytes.
func (p *Pipeline) Fetch(ctx context.Context, doc domain.Document) ([]byte, error) {
	return p.fetcher.Fetch(ctx, doc)
}

// Blobs exposes the payload store shared by the stages.
func (p *Pipeline) Blobs() BlobStore {
	return p.blobs
}
