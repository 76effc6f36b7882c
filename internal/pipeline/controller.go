package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/redaction-api/internal/casestore"
	"github.com/phrazzld/redaction-api/internal/domain"
	"github.com/phrazzld/redaction-api/internal/kv"
	"github.com/phrazzld/redaction-api/internal/queue"
	"github.com/phrazzld/redaction-api/internal/store"
)

// ChainScheduler publishes the first step of a chain.
type ChainScheduler interface {
	Schedule(ctx context.Context, env queue.Envelope) error
}

// chainLease bounds how long a chain claim survives without its chain being
// published, so a crash between claim and publish cannot block a case.
const chainLease = time.Minute

// Controller keeps at most one chain in flight per case. Every document
// waits in the case's deferred list; the head starts when no other chain of
// the case holds the case's claim, and the next one when Finalize advances
// the case.
type Controller struct {
	tasks     store.TaskStore
	cases     kv.Store
	scheduler ChainScheduler
	caseTTL   time.Duration
	logger    *slog.Logger
	now       func() time.Time
}

func NewController(tasks store.TaskStore, cases kv.Store, scheduler ChainScheduler, caseTTL time.Duration, logger *slog.Logger) *Controller {
	return &Controller{
		tasks:     tasks,
		cases:     cases,
		scheduler: scheduler,
		caseTTL:   caseTTL,
		logger:    logger.With("component", "controller"),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// BuildChain returns the five-step chain for a task.
func (c *Controller) BuildChain(task *domain.Task, subjectIDs []string) (queue.Envelope, error) {
	params := []struct {
		stage string
		value any
	}{
		{StageFetch, FetchParams{Document: task.Document}},
		{StageRedact, RedactParams{
			JurisdictionID: task.JurisdictionID,
			CaseID:         task.CaseID,
			DocumentID:     task.DocumentID,
			Renderer:       task.Renderer,
		}},
		{StageFormat, FormatParams{TargetBlobURL: task.TargetBlobURL}},
		{StageCallback, CallbackParams{CallbackURL: task.CallbackURL}},
		{StageFinalize, FinalizeParams{
			JurisdictionID: task.JurisdictionID,
			CaseID:         task.CaseID,
			SubjectIDs:     subjectIDs,
			Renderer:       task.Renderer,
		}},
	}

	steps := make([]queue.Step, 0, len(params))
	for _, p := range params {
		step, err := queue.NewStep(p.stage, p.value)
		if err != nil {
			return queue.Envelope{}, err
		}
		steps = append(steps, step)
	}
	return queue.NewChain(task.ID.String(), steps...)
}

// CreateDocumentRedactionTask records objects as the case's deferred
// documents and starts the first of them unless the case already has a chain
// in flight. objects are chain-mode tasks already persisted, in submission
// order. It returns the scheduled chain id, or "" when nothing was started.
func (c *Controller) CreateDocumentRedactionTask(ctx context.Context, jurisdictionID, caseID string, subjectIDs []string, objects []*domain.Task) (string, error) {
	if len(objects) == 0 {
		return "", nil
	}

	own := make(map[string]bool, len(objects))
	err := c.cases.Tx(ctx, func(sess kv.Session) error {
		cs := casestore.New(sess, jurisdictionID, caseID)
		if err := cs.Init(ctx, c.caseTTL); err != nil {
			return err
		}
		for _, t := range objects {
			if err := cs.SaveDocTask(ctx, t.DocumentID, t.ID.String()); err != nil {
				return err
			}
			if err := cs.EnqueueObject(ctx, t.ID.String()); err != nil {
				return err
			}
			own[t.ID.String()] = true
		}
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("failed to record case documents: %w", err)
	}

	return c.startNext(ctx, jurisdictionID, caseID, func(taskID string) []string {
		if own[taskID] {
			return subjectIDs
		}
		return nil
	})
}

// AdvanceCase starts the chain of the case's next deferred document once
// the chain in flight is over. A holder task that finished, was handed to the
// processors or no longer exists gives up its place; a holder still pending
// in chain mode keeps it and AdvanceCase returns "". Repeated calls are safe.
func (c *Controller) AdvanceCase(ctx context.Context, jurisdictionID, caseID string) (string, error) {
	var holder string
	var held bool
	err := c.cases.Tx(ctx, func(sess kv.Session) error {
		var err error
		holder, held, err = casestore.New(sess, jurisdictionID, caseID).ActiveChain(ctx)
		return err
	})
	if err != nil {
		return "", fmt.Errorf("failed to read chain in flight: %w", err)
	}

	if held {
		live, err := c.chainLive(ctx, holder)
		if err != nil {
			return "", err
		}
		if live {
			return "", nil
		}
		err = c.cases.Tx(ctx, func(sess kv.Session) error {
			_, err := casestore.New(sess, jurisdictionID, caseID).ReleaseChain(ctx, holder)
			return err
		})
		if err != nil {
			return "", fmt.Errorf("failed to release chain of task %s: %w", holder, err)
		}
		c.logger.DebugContext(ctx, "chain released",
			"jurisdiction_id", jurisdictionID, "case_id", caseID, "task_id", holder)
	}
	return c.startNext(ctx, jurisdictionID, caseID, nil)
}

// chainLive reports whether taskID is still a pending chain-mode task.
func (c *Controller) chainLive(ctx context.Context, taskID string) (bool, error) {
	id, err := uuid.Parse(taskID)
	if err != nil {
		return false, nil
	}
	task, err := c.tasks.GetByID(ctx, id)
	if errors.Is(err, store.ErrTaskNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return task.Mode == domain.TaskModeChain && task.Status == domain.TaskStatusPending, nil
}

// startNext schedules the head of the deferred list if it can claim the
// case's chain. The head leaves the list only once its chain is published;
// a failed publish releases the claim and leaves the head in place for the
// next attempt. Heads that were handed to the processors or already finished
// are dropped. subjectsFor may supply the subject ids of a task.
func (c *Controller) startNext(ctx context.Context, jurisdictionID, caseID string, subjectsFor func(taskID string) []string) (string, error) {
	for {
		var (
			head       string
			ok         bool
			subjectIDs []string
			acquired   bool
			task       *domain.Task
		)
		err := c.cases.Tx(ctx, func(sess kv.Session) error {
			cs := casestore.New(sess, jurisdictionID, caseID)
			var err error
			if head, ok, err = cs.PeekObject(ctx); err != nil || !ok {
				return err
			}

			task, err = c.deferredTask(ctx, head)
			if err != nil || task == nil {
				if err == nil {
					err = cs.RemoveObject(ctx, head)
				}
				return err
			}

			if err := cs.Init(ctx, c.caseTTL); err != nil {
				return err
			}
			if acquired, err = cs.AcquireChain(ctx, head, chainLease); err != nil || !acquired {
				return err
			}
			if subjectsFor != nil {
				subjectIDs = subjectsFor(head)
			}
			if subjectIDs == nil {
				subjectIDs, err = cs.SubjectIDs(ctx)
			}
			return err
		})
		if err != nil {
			return "", fmt.Errorf("failed to select next document: %w", err)
		}
		if !ok || (task != nil && !acquired) {
			return "", nil
		}
		if task == nil {
			continue
		}

		chainID, err := c.schedule(ctx, task, subjectIDs)
		if err != nil {
			if rerr := c.cases.Tx(ctx, func(sess kv.Session) error {
				_, err := casestore.New(sess, jurisdictionID, caseID).ReleaseChain(ctx, head)
				return err
			}); rerr != nil {
				c.logger.ErrorContext(ctx, "failed to release chain after schedule failure",
					"task_id", head, "error", rerr)
			}
			return "", err
		}

		err = c.cases.Tx(ctx, func(sess kv.Session) error {
			cs := casestore.New(sess, jurisdictionID, caseID)
			if err := cs.Init(ctx, c.caseTTL); err != nil {
				return err
			}
			if err := cs.RemoveObject(ctx, head); err != nil {
				return err
			}
			return cs.HoldChain(ctx)
		})
		if err != nil {
			// The chain runs; its claim lapses after the lease.
			c.logger.ErrorContext(ctx, "failed to record chain in flight",
				"task_id", head, "chain_id", chainID, "error", err)
		}
		return chainID, nil
	}
}

// deferredTask loads the task behind a deferred id. It returns nil when the
// task can no longer start a chain.
func (c *Controller) deferredTask(ctx context.Context, taskID string) (*domain.Task, error) {
	id, err := uuid.Parse(taskID)
	if err != nil {
		c.logger.WarnContext(ctx, "skipping malformed deferred task id", "task_id", taskID)
		return nil, nil
	}
	task, err := c.tasks.GetByID(ctx, id)
	if errors.Is(err, store.ErrTaskNotFound) {
		c.logger.WarnContext(ctx, "skipping unknown deferred task", "task_id", taskID)
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if task.Mode != domain.TaskModeChain || task.Status != domain.TaskStatusPending {
		c.logger.DebugContext(ctx, "skipping deferred task",
			"task_id", taskID, "mode", task.Mode, "status", task.Status)
		return nil, nil
	}
	return task, nil
}

func (c *Controller) schedule(ctx context.Context, task *domain.Task, subjectIDs []string) (string, error) {
	env, err := c.BuildChain(task, subjectIDs)
	if err != nil {
		return "", err
	}
	if err := c.scheduler.Schedule(ctx, env); err != nil {
		return "", err
	}
	if err := c.tasks.MarkDispatched(ctx, task.ID, c.now()); err != nil {
		c.logger.ErrorContext(ctx, "failed to record dispatch",
			"task_id", task.ID, "chain_id", env.ChainID, "error", err)
	}
	c.logger.InfoContext(ctx, "chain scheduled",
		"jurisdiction_id", task.JurisdictionID,
		"case_id", task.CaseID,
		"document_id", task.DocumentID,
		"task_id", task.ID,
		"chain_id", env.ChainID)
	return env.ChainID, nil
}
