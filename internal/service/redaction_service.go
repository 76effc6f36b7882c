package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/phrazzld/redaction-api/internal/casestore"
	"github.com/phrazzld/redaction-api/internal/domain"
	"github.com/phrazzld/redaction-api/internal/events"
	"github.com/phrazzld/redaction-api/internal/kv"
	"github.com/phrazzld/redaction-api/internal/store"
)

// ChainStarter starts the stage chain of the first chain-mode task of a
// case and defers the rest.
type ChainStarter interface {
	CreateDocumentRedactionTask(ctx context.Context, jurisdictionID, caseID string, subjectIDs []string, objects []*domain.Task) (string, error)
}

// RedactionService accepts redaction requests and reports their progress.
type RedactionService interface {
	// Submit persists one task per object of the request and hands them to
	// the configured machinery. The returned results are all QUEUED; the
	// outcome is delivered later through the callback URL or Status.
	Submit(ctx context.Context, req domain.RedactionRequest) ([]domain.RedactionResult, error)

	// Status reports the latest task of every document of a case. An
	// unknown case yields an empty list.
	Status(ctx context.Context, jurisdictionID, caseID string) (*domain.RedactionStatus, error)
}

// RedactionConfig controls how submitted tasks are processed.
type RedactionConfig struct {
	// Mode selects the stage chain or the claim/execute processors.
	Mode domain.TaskMode

	// DefaultRenderer applies to requests that do not name one.
	DefaultRenderer domain.Renderer

	// CaseTTL is the lifetime of a case's key/value data from its first
	// request.
	CaseTTL time.Duration
}

// RedactionServiceError wraps errors from the redaction service with context.
type RedactionServiceError struct {
	// Operation is the operation that failed (e.g., "submit", "status")
	Operation string
	// Message is a human-readable description of the error
	Message string
	// Err is the underlying error that caused the failure
	Err error
}

// Error implements the error interface for RedactionServiceError.
func (e *RedactionServiceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("redaction service %s failed: %s: %v", e.Operation, e.Message, e.Err)
	}
	return fmt.Sprintf("redaction service %s failed: %s", e.Operation, e.Message)
}

// Unwrap returns the wrapped error to support errors.Is/errors.As.
func (e *RedactionServiceError) Unwrap() error {
	return e.Err
}

// NewRedactionServiceError creates a new RedactionServiceError.
// It returns known sentinel errors directly without wrapping.
func NewRedactionServiceError(operation, message string, err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, ErrInvalidRequest) || errors.Is(err, ErrDuplicateDocument) {
		return err
	}

	// Store validation failures mean the request itself was bad
	if errors.Is(err, store.ErrInvalidEntity) {
		return fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}

	return &RedactionServiceError{
		Operation: operation,
		Message:   message,
		Err:       err,
	}
}

type redactionServiceImpl struct {
	tx      store.Transactor
	tasks   store.TaskStore
	cases   kv.Store
	chains  ChainStarter
	emitter events.EventEmitter
	cfg     RedactionConfig
	logger  *slog.Logger
}

// NewRedactionService creates a new RedactionService.
// It returns an error if any of the required dependencies are nil. chains
// is only required in chain mode.
func NewRedactionService(
	tx store.Transactor,
	tasks store.TaskStore,
	cases kv.Store,
	chains ChainStarter,
	emitter events.EventEmitter,
	cfg RedactionConfig,
	logger *slog.Logger,
) (RedactionService, error) {
	required := []struct {
		name  string
		isNil bool
	}{
		{"tx", tx == nil},
		{"tasks", tasks == nil},
		{"cases", cases == nil},
		{"emitter", emitter == nil},
		{"chains", chains == nil && cfg.Mode == domain.TaskModeChain},
	}
	for _, r := range required {
		if r.isNil {
			return nil, &RedactionServiceError{
				Operation: "create_service",
				Message:   r.name + " cannot be nil",
			}
		}
	}

	if cfg.Mode == "" {
		cfg.Mode = domain.TaskModeChain
	}
	if cfg.Mode != domain.TaskModeChain && cfg.Mode != domain.TaskModeProcessor {
		return nil, &RedactionServiceError{
			Operation: "create_service",
			Message:   fmt.Sprintf("unknown task mode %q", cfg.Mode),
			Err:       domain.ErrInvalidTaskMode,
		}
	}
	if cfg.DefaultRenderer == "" {
		cfg.DefaultRenderer = domain.RendererPDF
	}
	if cfg.CaseTTL <= 0 {
		cfg.CaseTTL = 7 * 24 * time.Hour
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &redactionServiceImpl{
		tx:      tx,
		tasks:   tasks,
		cases:   cases,
		chains:  chains,
		emitter: emitter,
		cfg:     cfg,
		logger:  logger.With("component", "redaction_service"),
	}, nil
}

// Submit creates the tasks of a request inside one transaction, records the
// case subjects and then starts processing. Once the tasks are committed the
// request is accepted: a failure to start processing is logged and left to
// the reconciler or the processors' poll.
func (s *redactionServiceImpl) Submit(ctx context.Context, req domain.RedactionRequest) ([]domain.RedactionResult, error) {
	log := s.logger.With("jurisdiction_id", req.JurisdictionID, "case_id", req.CaseID)

	// 1. Build one task per object
	tasks, err := s.buildTasks(req)
	if err != nil {
		log.Warn("rejected redaction request", "error", err)
		return nil, NewRedactionServiceError("submit", "failed to build tasks", err)
	}

	// 2. Record subjects before any task can run
	err = s.cases.Tx(ctx, func(sess kv.Session) error {
		cs := casestore.New(sess, req.JurisdictionID, req.CaseID)
		if err := cs.Init(ctx, s.cfg.CaseTTL); err != nil {
			return err
		}
		return cs.SaveSubjects(ctx, req.Subjects)
	})
	if err != nil {
		log.Error("failed to record case subjects", "error", err)
		return nil, NewRedactionServiceError("submit", "failed to record case subjects", err)
	}

	// 3. Persist the tasks
	err = s.tx.RunInTransaction(ctx, func(ctx context.Context, tx *sql.Tx) error {
		txTasks := s.tasks.WithTx(tx)
		for _, t := range tasks {
			if err := txTasks.Create(ctx, t); err != nil {
				log.Error("failed to create task in transaction",
					"error", err,
					"task_id", t.ID,
					"document_id", t.DocumentID)
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, NewRedactionServiceError("submit", "failed to save tasks", err)
	}

	log.Info("redaction request accepted",
		"documents", len(tasks),
		"mode", s.cfg.Mode)

	// 4. Start processing
	s.dispatch(ctx, log, req, tasks)

	results := make([]domain.RedactionResult, len(tasks))
	for i, t := range tasks {
		results[i] = domain.RedactionResult{
			JurisdictionID:  t.JurisdictionID,
			CaseID:          t.CaseID,
			InputDocumentID: t.DocumentID,
			MaskedSubjects:  []domain.MaskedSubject{},
			Status:          domain.ResultQueued,
		}
	}
	return results, nil
}

func (s *redactionServiceImpl) buildTasks(req domain.RedactionRequest) ([]*domain.Task, error) {
	renderer := s.cfg.DefaultRenderer
	if req.Renderer != "" {
		r, err := domain.ParseRenderer(string(req.Renderer))
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
		}
		renderer = r
	}
	if len(req.Objects) == 0 {
		return nil, fmt.Errorf("%w: no objects to redact", ErrInvalidRequest)
	}

	seen := make(map[string]bool, len(req.Objects))
	tasks := make([]*domain.Task, 0, len(req.Objects))
	for _, obj := range req.Objects {
		id := obj.Document.DocumentID
		if seen[id] {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateDocument, id)
		}
		seen[id] = true

		t, err := domain.NewTask(req.JurisdictionID, req.CaseID, obj, renderer, s.cfg.Mode)
		if err != nil {
			return nil, fmt.Errorf("%w: document %q: %v", ErrInvalidRequest, id, err)
		}
		tasks = append(tasks, t)
	}
	return tasks, nil
}

func (s *redactionServiceImpl) dispatch(ctx context.Context, log *slog.Logger, req domain.RedactionRequest, tasks []*domain.Task) {
	if s.cfg.Mode == domain.TaskModeChain {
		chainID, err := s.chains.CreateDocumentRedactionTask(ctx, req.JurisdictionID, req.CaseID, req.SubjectIDs(), tasks)
		if err != nil {
			log.Error("failed to start redaction chain", "error", err)
			return
		}
		log.Info("redaction chain scheduled", "chain_id", chainID)
		return
	}

	for _, t := range tasks {
		event := events.NewTaskEvent(events.TaskCreated, t)
		if err := s.emitter.EmitEvent(ctx, event); err != nil {
			log.Warn("failed to emit task event",
				"error", err,
				"task_id", t.ID,
				"event_id", event.ID)
		}
	}
}

// Status maps each document's latest task to a caller-visible result.
func (s *redactionServiceImpl) Status(ctx context.Context, jurisdictionID, caseID string) (*domain.RedactionStatus, error) {
	tasks, err := s.tasks.ListByCase(ctx, jurisdictionID, caseID)
	if err != nil {
		s.logger.Error("failed to list case tasks",
			"error", err,
			"jurisdiction_id", jurisdictionID,
			"case_id", caseID)
		return nil, NewRedactionServiceError("status", "failed to list tasks", err)
	}

	status := &domain.RedactionStatus{
		JurisdictionID: jurisdictionID,
		CaseID:         caseID,
		Requests:       []domain.RedactionResult{},
	}
	if len(tasks) == 0 {
		return status, nil
	}

	// Resubmitted documents keep the position of their first submission
	latest := make(map[string]int)
	var order []*domain.Task
	for _, t := range tasks {
		if i, ok := latest[t.DocumentID]; ok {
			order[i] = t
			continue
		}
		latest[t.DocumentID] = len(order)
		order = append(order, t)
	}

	err = s.cases.Tx(ctx, func(sess kv.Session) error {
		cs := casestore.New(sess, jurisdictionID, caseID)
		masked, err := cs.GetAliases(ctx)
		if err != nil {
			return err
		}
		for _, t := range order {
			doc, err := cs.GetResult(ctx, t.DocumentID)
			if err != nil {
				return err
			}
			status.Requests = append(status.Requests, resultFor(t, masked, doc))
		}
		return nil
	})
	if err != nil {
		s.logger.Error("failed to read case results",
			"error", err,
			"jurisdiction_id", jurisdictionID,
			"case_id", caseID)
		return nil, NewRedactionServiceError("status", "failed to read case results", err)
	}

	s.logger.Debug("reported case status",
		"jurisdiction_id", jurisdictionID,
		"case_id", caseID,
		"documents", len(status.Requests))
	return status, nil
}

// resultFor derives the caller-visible state of a task. A pending task that
// has been dispatched, has a stored result or is waiting out a retry is
// already being worked on.
func resultFor(t *domain.Task, masked []domain.MaskedSubject, doc *domain.Document) domain.RedactionResult {
	r := domain.RedactionResult{
		JurisdictionID:  t.JurisdictionID,
		CaseID:          t.CaseID,
		InputDocumentID: t.DocumentID,
		MaskedSubjects:  masked,
	}
	switch t.Status {
	case domain.TaskStatusDone:
		r.Status = domain.ResultComplete
		r.RedactedDocument = doc
	case domain.TaskStatusError:
		r.Status = domain.ResultError
		r.Error = t.LastError
	case domain.TaskStatusClaimed:
		r.Status = domain.ResultProcessing
	default:
		r.Status = domain.ResultQueued
		if t.DispatchedAt != nil || t.RetryAfter != nil || doc != nil {
			r.Status = domain.ResultProcessing
		}
	}
	return r
}
