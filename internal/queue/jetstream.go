package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
)

// JetStreamConfig holds configuration for the JetStream broker.
type JetStreamConfig struct {
	// Stream is created as a work-queue stream if it does not exist.
	Stream string

	// Subject carries every envelope; defaults to "<stream>.steps".
	Subject string

	// Durable names the shared pull consumer.
	Durable string

	// AckWait must exceed the longest stage timeout or a slow step is
	// redelivered while it is still running.
	AckWait time.Duration

	WorkerCount int
}

// JetStreamBroker delivers envelopes through a NATS JetStream work queue.
// Attempts are counted by the server's delivery metadata, so a step whose
// worker died is redelivered after AckWait with its attempt incremented.
type JetStreamBroker struct {
	js     nats.JetStreamContext
	cfg    JetStreamConfig
	logger *slog.Logger
	wg     sync.WaitGroup
}

var _ Broker = (*JetStreamBroker)(nil)

const fetchWait = 2 * time.Second

// NewJetStreamBroker ensures the stream exists and returns a broker on it.
func NewJetStreamBroker(nc *nats.Conn, cfg JetStreamConfig, logger *slog.Logger) (*JetStreamBroker, error) {
	if cfg.Stream == "" {
		return nil, errors.New("jetstream stream name is required")
	}
	if cfg.Subject == "" {
		cfg.Subject = cfg.Stream + ".steps"
	}
	if cfg.Durable == "" {
		cfg.Durable = cfg.Stream + "-workers"
	}
	if cfg.WorkerCount <= 0 {
		cfg.WorkerCount = 1
	}

	js, err := nc.JetStream()
	if err != nil {
		return nil, fmt.Errorf("failed to open jetstream context: %w", err)
	}

	if _, err := js.StreamInfo(cfg.Stream); err != nil {
		if !errors.Is(err, nats.ErrStreamNotFound) {
			return nil, fmt.Errorf("failed to look up stream %s: %w", cfg.Stream, err)
		}
		_, err = js.AddStream(&nats.StreamConfig{
			Name:      cfg.Stream,
			Subjects:  []string{cfg.Subject},
			Retention: nats.WorkQueuePolicy,
			Storage:   nats.FileStorage,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create stream %s: %w", cfg.Stream, err)
		}
		logger.Info("created jetstream stream", "stream", cfg.Stream, "subject", cfg.Subject)
	}

	return &JetStreamBroker{js: js, cfg: cfg, logger: logger}, nil
}

func (b *JetStreamBroker) Publish(ctx context.Context, env Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to encode envelope: %w", err)
	}
	if _, err := b.js.Publish(b.cfg.Subject, data, nats.Context(ctx)); err != nil {
		return fmt.Errorf("failed to publish envelope: %w", err)
	}
	return nil
}

// Run binds the durable pull consumer and fetches with WorkerCount
// goroutines until ctx is done.
func (b *JetStreamBroker) Run(ctx context.Context, d *Dispatcher) error {
	opts := []nats.SubOpt{nats.ManualAck()}
	if b.cfg.AckWait > 0 {
		opts = append(opts, nats.AckWait(b.cfg.AckWait))
	}
	sub, err := b.js.PullSubscribe(b.cfg.Subject, b.cfg.Durable, opts...)
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", b.cfg.Subject, err)
	}

	for i := 0; i < b.cfg.WorkerCount; i++ {
		b.wg.Add(1)
		go b.worker(ctx, sub, d, i)
	}
	<-ctx.Done()
	b.wg.Wait()
	return nil
}

func (b *JetStreamBroker) worker(ctx context.Context, sub *nats.Subscription, d *Dispatcher, id int) {
	defer b.wg.Done()
	b.logger.Debug("starting worker", "worker_id", id)

	for ctx.Err() == nil {
		fetchCtx, cancel := context.WithTimeout(ctx, fetchWait)
		msgs, err := sub.Fetch(1, nats.Context(fetchCtx))
		cancel()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, nats.ErrTimeout) {
				continue
			}
			b.logger.Error("failed to fetch envelope", "worker_id", id, "error", err)
			time.Sleep(fetchWait)
			continue
		}
		for _, msg := range msgs {
			b.handle(ctx, msg, d)
		}
	}
	b.logger.Debug("stopping worker", "worker_id", id)
}

func (b *JetStreamBroker) handle(ctx context.Context, msg *nats.Msg, d *Dispatcher) {
	var env Envelope
	if err := json.Unmarshal(msg.Data, &env); err != nil {
		b.logger.Error("dropping undecodable envelope", "error", err)
		_ = msg.Term()
		return
	}

	attempt := 1
	if meta, err := msg.Metadata(); err == nil {
		attempt = int(meta.NumDelivered)
	}

	outcome := d.Handle(ctx, env, attempt)
	if outcome.Retry {
		if err := msg.NakWithDelay(outcome.Delay); err != nil {
			b.logger.Error("failed to nak envelope", "chain_id", env.ChainID, "error", err)
		}
		return
	}
	if err := msg.Ack(); err != nil {
		b.logger.Error("failed to ack envelope", "chain_id", env.ChainID, "error", err)
	}
}

// Close is a no-op; the caller owns the NATS connection.
func (b *JetStreamBroker) Close() error {
	return nil
}
