package processor

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/phrazzld/redaction-api/internal/pipeline"
	"github.com/phrazzld/redaction-api/internal/store"
)

// errAbandoned is recorded on executions the reconciler gives up on.
var errAbandoned = errors.New("execution abandoned")

// ReconcilerConfig holds the sweep timing.
type ReconcilerConfig struct {
	// Interval between sweeps. Defaults to one minute.
	Interval time.Duration

	// OrphanGrace is how long a task may stay claimed without an
	// execution row before it is released.
	OrphanGrace time.Duration

	// StaleAfter is how long a Job or Callback may go without an update
	// before it is failed.
	StaleAfter time.Duration

	// ChainTimeout is how long a chain-mode task may go unfinished before
	// it is handed to the processors. Zero disables the hand-off.
	ChainTimeout time.Duration
}

// ReconcilerStores are the stores the reconciler repairs.
type ReconcilerStores struct {
	Tasks     store.TaskStore
	Jobs      store.JobStore
	Callbacks store.CallbackStore
	Retries   store.RetryStateStore
}

// Reconciler periodically repairs what a crash between the claim, create and
// execute transactions leaves behind.
type Reconciler struct {
	base
	jobs      store.JobStore
	callbacks store.CallbackStore
	advancer  pipeline.CaseAdvancer
	scheduler *Scheduler
	metrics   *Metrics
	cfg       ReconcilerConfig
}

func NewReconciler(
	tx store.Transactor,
	stores ReconcilerStores,
	advancer pipeline.CaseAdvancer,
	scheduler *Scheduler,
	policy RetryPolicy,
	cfg ReconcilerConfig,
	metrics *Metrics,
	logger *slog.Logger,
) *Reconciler {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	return &Reconciler{
		base:      newBase(tx, stores.Tasks, stores.Retries, policy, logger.With("component", "reconciler")),
		jobs:      stores.Jobs,
		callbacks: stores.Callbacks,
		advancer:  advancer,
		scheduler: scheduler,
		metrics:   metrics,
		cfg:       cfg,
	}
}

// Run sweeps every Interval until ctx is cancelled.
func (r *Reconciler) Run(ctx context.Context) {
	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.Sweep(ctx); err != nil {
				r.logger.Error("reconcile sweep failed", "error", err)
			}
		}
	}
}

// Sweep performs one reconciliation pass and wakes the processors. Each step
// runs even when an earlier one fails.
func (r *Reconciler) Sweep(ctx context.Context) error {
	now := r.now()
	var errs []error

	n, err := r.tasks.ResetOrphans(ctx, now.Add(-r.cfg.OrphanGrace))
	if err != nil {
		errs = append(errs, fmt.Errorf("failed to reset orphaned tasks: %w", err))
	} else if n > 0 {
		r.metrics.Reconciled("orphan_reset", int(n))
		r.logger.Info("released orphaned tasks", "count", n)
	}

	if err := r.failStaleJobs(ctx, now.Add(-r.cfg.StaleAfter)); err != nil {
		errs = append(errs, err)
	}
	if err := r.failStaleCallbacks(ctx, now.Add(-r.cfg.StaleAfter)); err != nil {
		errs = append(errs, err)
	}
	if r.cfg.ChainTimeout > 0 {
		if err := r.handOffChains(ctx, now.Add(-r.cfg.ChainTimeout)); err != nil {
			errs = append(errs, err)
		}
	}

	r.scheduler.CheckAll()
	return errors.Join(errs...)
}

func (r *Reconciler) failStaleJobs(ctx context.Context, before time.Time) error {
	stale, err := r.jobs.ListStale(ctx, before)
	if err != nil {
		return fmt.Errorf("failed to list stale jobs: %w", err)
	}
	failed := 0
	for _, job := range stale {
		from := job.Status
		err := r.tx.RunInTransaction(ctx, func(ctx context.Context, tx *sql.Tx) error {
			jobs := r.jobs.WithTx(tx)
			if err := job.Fail(errAbandoned.Error()); err != nil {
				return err
			}
			if err := jobs.Transition(ctx, job, from); err != nil {
				return err
			}
			attempts, err := jobs.CountForTask(ctx, job.TaskID)
			if err != nil {
				return err
			}
			return r.releaseClaimed(ctx, tx, job.TaskID, RedactionProcessor, attempts, errAbandoned)
		})
		if errors.Is(err, store.ErrUpdateFailed) {
			// Finished while we looked.
			continue
		}
		if err != nil {
			return fmt.Errorf("failed to fail stale job %s: %w", job.ID, err)
		}
		failed++
		r.logger.Warn("failed stale job", "job_id", job.ID, "task_id", job.TaskID, "was", from)
	}
	r.metrics.Reconciled("stale_job", failed)
	return nil
}

func (r *Reconciler) failStaleCallbacks(ctx context.Context, before time.Time) error {
	stale, err := r.callbacks.ListStale(ctx, before)
	if err != nil {
		return fmt.Errorf("failed to list stale callbacks: %w", err)
	}
	failed := 0
	for _, cb := range stale {
		from := cb.Status
		err := r.tx.RunInTransaction(ctx, func(ctx context.Context, tx *sql.Tx) error {
			callbacks := r.callbacks.WithTx(tx)
			if err := cb.Fail(errAbandoned.Error()); err != nil {
				return err
			}
			if err := callbacks.Transition(ctx, cb, from); err != nil {
				return err
			}
			attempts, err := callbacks.CountForTask(ctx, cb.TaskID)
			if err != nil {
				return err
			}
			return r.releaseClaimed(ctx, tx, cb.TaskID, CallbackProcessor, attempts, errAbandoned)
		})
		if errors.Is(err, store.ErrUpdateFailed) {
			continue
		}
		if err != nil {
			return fmt.Errorf("failed to fail stale callback %s: %w", cb.ID, err)
		}
		failed++
		r.logger.Warn("failed stale callback", "callback_id", cb.ID, "task_id", cb.TaskID, "was", from)
	}
	r.metrics.Reconciled("stale_callback", failed)
	return nil
}

// handOffChains moves chain-mode tasks whose chain never finished to the
// processors, then advances every case that has a stalled head or documents
// that never got a chain. AdvanceCase leaves a case alone while its chain is
// still in flight.
func (r *Reconciler) handOffChains(ctx context.Context, before time.Time) error {
	handedOff, err := r.tasks.HandOffStaleChains(ctx, before)
	if err != nil {
		return fmt.Errorf("failed to hand off stale chains: %w", err)
	}
	if len(handedOff) > 0 {
		r.metrics.Reconciled("chain_handoff", len(handedOff))
	}
	for _, t := range handedOff {
		r.logger.Warn("handed chain task to processors", "task_id", t.ID, "case_id", t.CaseID)
	}

	waiting, err := r.tasks.ListUndispatchedChains(ctx, before)
	if err != nil {
		return fmt.Errorf("failed to list undispatched chain tasks: %w", err)
	}
	if r.advancer == nil {
		return nil
	}

	type caseKey struct{ jurisdictionID, caseID string }
	seen := make(map[caseKey]bool)
	var errs []error
	for _, t := range append(handedOff, waiting...) {
		key := caseKey{t.JurisdictionID, t.CaseID}
		if seen[key] {
			continue
		}
		seen[key] = true
		chainID, err := r.advancer.AdvanceCase(ctx, t.JurisdictionID, t.CaseID)
		if err != nil {
			errs = append(errs, fmt.Errorf("failed to advance case %s: %w", t.CaseID, err))
			continue
		}
		if chainID != "" {
			r.metrics.Reconciled("chain_resumed", 1)
			r.logger.Info("resumed case chain", "case_id", t.CaseID, "chain_id", chainID)
		}
	}
	return errors.Join(errs...)
}
