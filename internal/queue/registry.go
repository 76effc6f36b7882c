package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
)

var (
	ErrDuplicateStage = errors.New("stage already registered")
	ErrUnknownStage   = errors.New("unknown stage")
)

// Job is what a stage handler receives.
type Job struct {
	ChainID     string
	TaskID      string
	Stage       string
	Params      json.RawMessage
	Input       json.RawMessage
	Attempt     int
	MaxAttempts int
}

// LastAttempt reports whether a failure of this run will not be retried.
func (j Job) LastAttempt() bool {
	return j.Attempt >= j.MaxAttempts
}

// Handler runs one stage. A returned error is retried while attempts remain
// unless it is wrapped with backoff.Permanent.
type Handler func(ctx context.Context, job Job) (json.RawMessage, error)

// StageOptions bounds one stage.
type StageOptions struct {
	// Timeout is the hard limit for one run of the handler.
	Timeout time.Duration

	// MaxAttempts counts the first run. Values below 1 mean 1.
	MaxAttempts int

	// RetryDelay is the first retry delay; later retries double it.
	RetryDelay time.Duration
}

func (o StageOptions) attempts() int {
	if o.MaxAttempts < 1 {
		return 1
	}
	return o.MaxAttempts
}

// delay returns the wait before the run following attempt.
func (o StageOptions) delay(attempt int) time.Duration {
	if o.RetryDelay <= 0 {
		return 0
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = o.RetryDelay
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxInterval = 32 * o.RetryDelay
	b.Reset()

	d := b.NextBackOff()
	for i := 1; i < attempt; i++ {
		d = b.NextBackOff()
	}
	return d
}

type stage struct {
	handler Handler
	opts    StageOptions
}

// Registry maps stage names to handlers.
type Registry struct {
	mu     sync.RWMutex
	stages map[string]stage
}

func NewRegistry() *Registry {
	return &Registry{stages: make(map[string]stage)}
}

// Register adds a stage. Names are unique.
func (r *Registry) Register(name string, h Handler, opts StageOptions) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.stages[name]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateStage, name)
	}
	r.stages[name] = stage{handler: h, opts: opts}
	return nil
}

// Options returns the options of a registered stage.
func (r *Registry) Options(name string) (StageOptions, error) {
	s, err := r.lookup(name)
	return s.opts, err
}

func (r *Registry) lookup(name string) (stage, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.stages[name]
	if !ok {
		return stage{}, fmt.Errorf("%w: %s", ErrUnknownStage, name)
	}
	return s, nil
}

// Validate checks that every step of the envelope names a registered stage.
func (r *Registry) Validate(env Envelope) error {
	if err := env.valid(); err != nil {
		return err
	}
	for _, step := range env.Steps {
		if _, err := r.lookup(step.Stage); err != nil {
			return err
		}
	}
	return nil
}
