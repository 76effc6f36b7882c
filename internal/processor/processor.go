package processor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/redaction-api/internal/domain"
)

// Executor is the task-specific half of a processor.
type Executor interface {
	// Name identifies the processor in the Scheduler, logs and metrics.
	Name() string

	// Claim selects and claims the next eligible task in one transaction.
	// It returns nil when nothing is eligible.
	Claim(ctx context.Context) (*domain.Task, error)

	// Begin creates the execution row for a claimed task in its own
	// transaction and returns its id.
	Begin(ctx context.Context, task *domain.Task) (uuid.UUID, error)

	// Execute runs the execution created by Begin. Failures of the work
	// itself are recorded on the execution row; the returned error reports
	// only that the outcome could not be recorded.
	Execute(ctx context.Context, task *domain.Task, executionID uuid.UUID) error

	// Abort fails an execution whose outcome Execute could not record and
	// applies the retry policy to its task.
	Abort(ctx context.Context, task *domain.Task, executionID uuid.UUID, cause error) error
}

// Config holds the loop timing.
type Config struct {
	// PollInterval wakes an idle processor periodically so tasks whose
	// retry_after has passed are picked up. Zero disables it.
	PollInterval time.Duration

	// ExecTimeout bounds one execution. Zero means no bound.
	ExecTimeout time.Duration

	// ErrorBackoff is the pause after a failed claim. Defaults to 5s.
	ErrorBackoff time.Duration
}

// Processor is a long-lived claim/execute loop.
type Processor struct {
	exec    Executor
	signal  *Signal
	cfg     Config
	metrics *Metrics
	logger  *slog.Logger

	stopping atomic.Bool
	stopped  atomic.Bool
	stopOnce sync.Once
	stopCh   chan struct{}
}

// New creates a processor for exec that waits on the scheduler's signal for
// exec.Name().
func New(exec Executor, scheduler *Scheduler, cfg Config, metrics *Metrics, logger *slog.Logger) *Processor {
	if cfg.ErrorBackoff <= 0 {
		cfg.ErrorBackoff = 5 * time.Second
	}
	return &Processor{
		exec:    exec,
		signal:  scheduler.Signal(exec.Name()),
		cfg:     cfg,
		metrics: metrics,
		logger:  logger.With("component", "processor", "processor", exec.Name()),
		stopCh:  make(chan struct{}),
	}
}

// Run executes the loop until Stop is called or ctx is cancelled. Work in
// flight when the stop arrives runs to completion or to ExecTimeout.
func (p *Processor) Run(ctx context.Context) {
	defer p.stopped.Store(true)

	release := context.AfterFunc(ctx, p.Stop)
	defer release()

	if p.cfg.PollInterval > 0 {
		go p.poll()
	}

	p.logger.Info("processor started")
	for {
		gen := p.signal.Generation()
		if p.stopping.Load() {
			p.logger.Info("processor stopped")
			return
		}

		worked, err := p.cycle(ctx)
		if err != nil {
			p.metrics.LoopError(p.exec.Name())
			p.logger.Error("processor cycle failed", "error", err, "retry_in", p.cfg.ErrorBackoff)
			select {
			case <-p.stopCh:
			case <-time.After(p.cfg.ErrorBackoff):
			}
			continue
		}
		if !worked {
			p.signal.Wait(gen)
		}
	}
}

// cycle claims and executes at most one task. It reports whether a task was
// claimed.
func (p *Processor) cycle(ctx context.Context) (bool, error) {
	task, err := p.exec.Claim(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to claim task: %w", err)
	}
	if task == nil {
		return false, nil
	}
	p.metrics.Claimed(p.exec.Name())

	logger := p.logger.With("task_id", task.ID, "document_id", task.DocumentID)
	id, err := p.exec.Begin(ctx, task)
	if err != nil {
		// The task stays claimed until the reconciler releases it.
		return true, fmt.Errorf("failed to create execution for task %s: %w", task.ID, err)
	}
	logger = logger.With("execution_id", id)

	execCtx := context.WithoutCancel(ctx)
	if p.cfg.ExecTimeout > 0 {
		var cancel context.CancelFunc
		execCtx, cancel = context.WithTimeout(execCtx, p.cfg.ExecTimeout)
		defer cancel()
	}

	start := time.Now()
	if err := p.execute(execCtx, task, id); err != nil {
		p.metrics.Executed(p.exec.Name(), outcomeError, time.Since(start))
		logger.Error("execution failed", "error", err)
		if err := p.exec.Abort(context.WithoutCancel(ctx), task, id, err); err != nil {
			// Left to the reconciler's stale sweep.
			logger.Error("failed to abort execution", "error", err)
		}
		return true, nil
	}
	p.metrics.Executed(p.exec.Name(), outcomeRecorded, time.Since(start))
	logger.Debug("execution finished", "duration", time.Since(start))
	return true, nil
}

func (p *Processor) execute(ctx context.Context, task *domain.Task, id uuid.UUID) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("execution panicked: %v", r)
		}
	}()
	return p.exec.Execute(ctx, task, id)
}

func (p *Processor) poll() {
	ticker := time.NewTicker(p.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-p.stopCh:
			return
		case <-ticker.C:
			p.signal.Notify()
		}
	}
}

// Stop asks the loop to exit. It does not wait; use Join for that.
func (p *Processor) Stop() {
	p.stopOnce.Do(func() {
		p.stopping.Store(true)
		close(p.stopCh)
		p.signal.Notify()
	})
}

// Stopped reports whether the loop has exited.
func (p *Processor) Stopped() bool {
	return p.stopped.Load()
}

// Join waits for the loop to exit. A zero timeout waits indefinitely. It
// reports whether the loop exited in time.
func (p *Processor) Join(timeout time.Duration) bool {
	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}
	for !p.stopped.Load() {
		if !deadline.IsZero() && time.Now().After(deadline) {
			return false
		}
		time.Sleep(100 * time.Millisecond)
	}
	return true
}
