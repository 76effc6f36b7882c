package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/phrazzld/redaction-api/internal/platform/logger"
)

// Publisher delivers an envelope to the broker.
type Publisher interface {
	Publish(ctx context.Context, env Envelope) error
}

// ResultStore keeps the output of a chain's final step.
type ResultStore interface {
	SaveResult(ctx context.Context, chainID string, result []byte) error
}

// Observer is told about every stage run. Implementations must be safe for
// concurrent use.
type Observer interface {
	StageStarted(ctx context.Context, job Job)
	StageSucceeded(ctx context.Context, job Job, elapsed time.Duration)
	StageRetrying(ctx context.Context, job Job, err error, delay time.Duration)
	StageFailed(ctx context.Context, job Job, err error)
}

// NopObserver ignores everything.
type NopObserver struct{}

func (NopObserver) StageStarted(context.Context, Job)                        {}
func (NopObserver) StageSucceeded(context.Context, Job, time.Duration)       {}
func (NopObserver) StageRetrying(context.Context, Job, error, time.Duration) {}
func (NopObserver) StageFailed(context.Context, Job, error)                  {}

// Outcome tells the broker what to do with a delivered envelope. The zero
// value acknowledges it.
type Outcome struct {
	Retry bool
	Delay time.Duration
}

// Defaults for republishing the step that follows a finished one.
const (
	defaultPublishTries = 5
	defaultPublishDelay = 100 * time.Millisecond
)

// Dispatcher runs delivered steps and moves chains forward.
type Dispatcher struct {
	registry  *Registry
	publisher Publisher
	results   ResultStore
	observer  Observer
	logger    *slog.Logger

	publishTries uint
	publishDelay time.Duration
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

func WithObserver(o Observer) DispatcherOption {
	return func(d *Dispatcher) { d.observer = o }
}

// WithPublishRetry sets how often, and with what initial delay, the next
// step of a chain is published before the chain is dropped.
func WithPublishRetry(tries uint, delay time.Duration) DispatcherOption {
	return func(d *Dispatcher) {
		if tries > 0 {
			d.publishTries = tries
		}
		if delay > 0 {
			d.publishDelay = delay
		}
	}
}

func NewDispatcher(registry *Registry, publisher Publisher, results ResultStore, log *slog.Logger, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		registry:  registry,
		publisher: publisher,
		results:   results,
		observer:  NopObserver{},
		logger:    log,

		publishTries: defaultPublishTries,
		publishDelay: defaultPublishDelay,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Schedule validates a chain against the registry and publishes its first
// step in a single publish.
func (d *Dispatcher) Schedule(ctx context.Context, env Envelope) error {
	if err := d.registry.Validate(env); err != nil {
		return err
	}
	if err := d.publisher.Publish(ctx, env); err != nil {
		return fmt.Errorf("failed to schedule chain %s: %w", env.ChainID, err)
	}
	d.logger.Debug("chain scheduled",
		"chain_id", env.ChainID,
		"task_id", env.TaskID,
		"stage", env.Current().Stage,
		"steps", len(env.Steps))
	return nil
}

// Handle runs the step in env as its attempt-th run. Shutdown of ctx does
// not interrupt the handler; only the stage timeout does.
func (d *Dispatcher) Handle(ctx context.Context, env Envelope, attempt int) Outcome {
	log := d.logger.With("chain_id", env.ChainID, "task_id", env.TaskID, "index", env.Index)

	if err := env.valid(); err != nil {
		log.Error("dropping malformed envelope", "error", err)
		return Outcome{}
	}
	step := env.Current()
	st, err := d.registry.lookup(step.Stage)
	if err != nil {
		log.Error("dropping envelope for unknown stage", "stage", step.Stage, "error", err)
		return Outcome{}
	}
	log = log.With("stage", step.Stage, "attempt", attempt)

	job := Job{
		ChainID:     env.ChainID,
		TaskID:      env.TaskID,
		Stage:       step.Stage,
		Params:      step.Params,
		Input:       env.Input,
		Attempt:     attempt,
		MaxAttempts: st.opts.attempts(),
	}

	runCtx := logger.WithLogger(context.WithoutCancel(ctx), log)
	if st.opts.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(runCtx, st.opts.Timeout)
		defer cancel()
	}

	d.observer.StageStarted(runCtx, job)
	start := time.Now()
	output, err := st.handler(runCtx, job)
	if err != nil {
		var permanent *backoff.PermanentError
		if !errors.As(err, &permanent) && !job.LastAttempt() {
			delay := st.opts.delay(attempt)
			d.observer.StageRetrying(runCtx, job, err, delay)
			log.Warn("stage failed, retrying", "error", err, "delay", delay)
			return Outcome{Retry: true, Delay: delay}
		}
		d.observer.StageFailed(runCtx, job, err)
		log.Error("stage failed, giving up", "error", err)
		return Outcome{}
	}
	d.observer.StageSucceeded(runCtx, job, time.Since(start))

	if next, ok := env.Next(output); ok {
		// The step's effects are done and must not be repeated, so a failed
		// publish is retried on its own and the envelope is acknowledged
		// either way. A dropped chain is recovered by the reconciler.
		pubCtx := logger.WithLogger(context.WithoutCancel(ctx), log)
		if err := d.publishNext(pubCtx, next); err != nil {
			log.Error("failed to publish next step, dropping chain",
				"next_stage", next.Current().Stage, "error", err)
		}
		return Outcome{}
	}

	if d.results != nil {
		if err := d.results.SaveResult(runCtx, env.ChainID, output); err != nil {
			log.Error("failed to store chain result", "error", err)
		}
	}
	log.Debug("chain finished")
	return Outcome{}
}

func (d *Dispatcher) publishNext(ctx context.Context, next Envelope) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = d.publishDelay
	b.MaxInterval = 16 * d.publishDelay

	tries := 0
	op := func() (struct{}, error) {
		tries++
		if tries > 1 {
			logger.FromContext(ctx).Warn("retrying publish of next step", "try", tries)
		}
		return struct{}{}, d.publisher.Publish(ctx, next)
	}
	_, err := backoff.Retry(ctx, op, backoff.WithBackOff(b), backoff.WithMaxTries(d.publishTries))
	return err
}

// Broker transports envelopes and feeds them to a Dispatcher.
type Broker interface {
	Publisher

	// Run consumes until ctx is done, then waits for in-flight steps.
	Run(ctx context.Context, d *Dispatcher) error

	Close() error
}
