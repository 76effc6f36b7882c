package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Common errors returned by the local broker
var (
	ErrQueueClosed = errors.New("task queue is closed")
	ErrQueueFull   = errors.New("task queue is full")
)

// LocalConfig holds configuration for the in-process broker.
type LocalConfig struct {
	// WorkerCount determines how many steps run concurrently. Values below
	// 1 mean 1.
	WorkerCount int

	// QueueSize is the buffer of pending envelopes.
	QueueSize int
}

// LocalBroker is a buffered channel drained by a fixed pool of workers.
// Retries are re-enqueued after their delay. Nothing survives a restart;
// the processors pick up tasks whose chains were lost.
type LocalBroker struct {
	envelopes   chan Envelope
	workerCount int
	logger      *slog.Logger

	mu     sync.Mutex
	closed bool
	timers map[*time.Timer]struct{}

	wg sync.WaitGroup
}

var _ Broker = (*LocalBroker)(nil)

func NewLocalBroker(cfg LocalConfig, logger *slog.Logger) *LocalBroker {
	workers := cfg.WorkerCount
	if workers <= 0 {
		logger.Warn("invalid worker count specified, using default",
			"specified_count", cfg.WorkerCount,
			"default_count", 1)
		workers = 1
	}
	size := cfg.QueueSize
	if size <= 0 {
		size = 1
	}
	return &LocalBroker{
		envelopes:   make(chan Envelope, size),
		workerCount: workers,
		logger:      logger,
		timers:      make(map[*time.Timer]struct{}),
	}
}

// Publish enqueues without blocking.
func (b *LocalBroker) Publish(_ context.Context, env Envelope) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrQueueClosed
	}
	select {
	case b.envelopes <- env:
		b.logger.Debug("envelope enqueued",
			"chain_id", env.ChainID,
			"stage", env.Current().Stage,
			"queue_len", len(b.envelopes),
			"queue_cap", cap(b.envelopes))
		return nil
	default:
		return fmt.Errorf("%w: queue capacity %d reached", ErrQueueFull, cap(b.envelopes))
	}
}

// Run starts the workers and blocks until ctx is done and every worker has
// finished its current step.
func (b *LocalBroker) Run(ctx context.Context, d *Dispatcher) error {
	for i := 0; i < b.workerCount; i++ {
		b.wg.Add(1)
		go b.worker(ctx, d, i)
	}
	<-ctx.Done()
	b.wg.Wait()
	return nil
}

func (b *LocalBroker) worker(ctx context.Context, d *Dispatcher, id int) {
	defer b.wg.Done()
	b.logger.Debug("starting worker", "worker_id", id)

	for {
		select {
		case <-ctx.Done():
			b.logger.Debug("stopping worker", "worker_id", id)
			return
		case env, ok := <-b.envelopes:
			if !ok {
				b.logger.Debug("task channel closed, stopping worker", "worker_id", id)
				return
			}
			outcome := d.Handle(ctx, env, env.Attempt+1)
			if outcome.Retry {
				env.Attempt++
				b.retryLater(env, outcome.Delay)
			}
		}
	}
}

func (b *LocalBroker) retryLater(env Envelope, delay time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	var t *time.Timer
	t = time.AfterFunc(delay, func() {
		b.mu.Lock()
		delete(b.timers, t)
		b.mu.Unlock()
		if err := b.Publish(context.Background(), env); err != nil {
			b.logger.Error("failed to re-enqueue retry",
				"chain_id", env.ChainID,
				"stage", env.Current().Stage,
				"error", err)
		}
	})
	b.timers[t] = struct{}{}
}

// Close rejects further publishes and cancels pending retries.
func (b *LocalBroker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	for t := range b.timers {
		t.Stop()
	}
	b.timers = nil
	close(b.envelopes)
	b.logger.Info("task queue closed")
	return nil
}
