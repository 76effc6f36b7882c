package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/nats-io/nats.go"
	"github.com/phrazzld/redaction-api/internal/config"
	"github.com/phrazzld/redaction-api/internal/domain"
	"github.com/phrazzld/redaction-api/internal/events"
	"github.com/phrazzld/redaction-api/internal/pipeline"
	"github.com/phrazzld/redaction-api/internal/platform/postgres"
	redisstore "github.com/phrazzld/redaction-api/internal/platform/redis"
	"github.com/phrazzld/redaction-api/internal/processor"
	"github.com/phrazzld/redaction-api/internal/queue"
	"github.com/phrazzld/redaction-api/internal/service"
	"github.com/phrazzld/redaction-api/internal/service/auth"
	"github.com/phrazzld/redaction-api/internal/store"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// application holds all the shared application dependencies to simplify management
// and ensure proper cleanup on shutdown.
type application struct {
	config *config.Config
	mode   string

	logger   *slog.Logger
	db       *sql.DB
	redis    *redis.Client
	nats     *nats.Conn
	registry *prometheus.Registry

	// Stores
	tasks     store.TaskStore
	jobs      store.JobStore
	callbacks store.CallbackStore
	clients   store.ClientStore
	cases     *redisstore.Store
	tx        store.Transactor

	// Chain mode
	broker     queue.Broker
	dispatcher *queue.Dispatcher
	controller *pipeline.Controller
	pipeline   *pipeline.Pipeline

	// Processor mode
	scheduler  *processor.Scheduler
	processors []*processor.Processor
	reconciler *processor.Reconciler

	emitter    *events.InMemoryEventEmitter
	redactions service.RedactionService

	// Auth
	authenticator auth.Authenticator
	tokens        auth.TokenService
}

// newApplication creates a new application instance with all dependencies initialized.
// The database connection must already be established.
func newApplication(ctx context.Context, cfg *config.Config, mode string, logger *slog.Logger, db *sql.DB) (*application, error) {
	app := &application{
		config:    cfg,
		mode:      mode,
		logger:    logger,
		db:        db,
		registry:  prometheus.NewRegistry(),
		tasks:     postgres.NewPostgresTaskStore(db),
		jobs:      postgres.NewPostgresJobStore(db),
		callbacks: postgres.NewPostgresCallbackStore(db),
		clients:   postgres.NewPostgresClientStore(db),
		tx:        store.NewTransactor(db),
		scheduler: processor.NewScheduler(),
	}
	app.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	var err error
	app.redis, err = redisstore.Open(ctx, cfg.Redis.URL)
	if err != nil {
		return nil, err
	}
	app.cases = redisstore.NewStore(app.redis)
	logger.Info("redis connection established")

	if err := app.setupQueue(); err != nil {
		app.cleanup()
		return nil, err
	}
	if err := app.setupPipeline(); err != nil {
		app.cleanup()
		return nil, err
	}
	if err := app.setupProcessors(); err != nil {
		app.cleanup()
		return nil, err
	}
	if err := app.setupServices(); err != nil {
		app.cleanup()
		return nil, err
	}

	logger.Info("application initialized successfully")
	return app, nil
}

func (app *application) setupQueue() error {
	cfg := app.config.Queue
	log := app.logger.With("component", "queue", "backend", cfg.Backend)

	switch cfg.Backend {
	case "nats":
		nc, err := nats.Connect(cfg.NATSURL, nats.Name("redaction-api"), nats.MaxReconnects(-1))
		if err != nil {
			return fmt.Errorf("failed to connect to nats: %w", err)
		}
		app.nats = nc
		broker, err := queue.NewJetStreamBroker(nc, queue.JetStreamConfig{
			Stream:      cfg.Stream,
			AckWait:     cfg.AckWait,
			WorkerCount: cfg.Concurrency,
		}, log)
		if err != nil {
			return fmt.Errorf("failed to create jetstream broker: %w", err)
		}
		app.broker = broker
	default:
		app.broker = queue.NewLocalBroker(queue.LocalConfig{
			WorkerCount: cfg.Concurrency,
			QueueSize:   cfg.Size,
		}, log)
	}
	return nil
}

func (app *application) setupPipeline() error {
	cfg := app.config

	pipelineMetrics, err := pipeline.NewMetrics(app.registry)
	if err != nil {
		return fmt.Errorf("failed to register pipeline metrics: %w", err)
	}

	registry := queue.NewRegistry()
	retries := postgres.NewPostgresRetryStateStore(app.db)
	app.dispatcher = queue.NewDispatcher(registry, app.broker,
		redisstore.NewResultStore(app.redis, cfg.Task.Retention),
		app.logger,
		queue.WithObserver(pipeline.NewStageObserver(pipelineMetrics, retries, app.logger)))
	app.controller = pipeline.NewController(app.tasks, app.cases, app.dispatcher, cfg.Case.TTL, app.logger)

	redactor, err := newRedactor(cfg.Pipeline)
	if err != nil {
		return err
	}
	uploader, err := newUploader(cfg.Storage)
	if err != nil {
		return err
	}

	app.pipeline = pipeline.New(pipeline.Config{
		LinkDownloadTimeout: cfg.Task.LinkDownloadTimeout,
		CallbackTimeout:     cfg.Task.CallbackTimeout,
		CaseTTL:             cfg.Case.TTL,
		Experiments:         cfg.Experiments.Enabled,
	}, pipeline.Deps{
		Blobs:    redisstore.NewBlobStore(app.redis, cfg.Task.Retention),
		Cases:    app.cases,
		Tasks:    app.tasks,
		Statuses: postgres.NewPostgresDocumentStatusStore(app.db),
		Fetcher: pipeline.NewFetcher(nil, pipeline.FetcherConfig{
			Timeout:   cfg.Task.LinkDownloadTimeout,
			MaxTries:  3,
			BaseDelay: time.Second,
		}),
		Redactor: redactor,
		Uploader: uploader,
		Notifier: pipeline.NewNotifier(nil, cfg.Task.CallbackTimeout),
		Advancer: app.controller,
	}, app.logger)

	return app.pipeline.Register(registry)
}

func newRedactor(cfg config.PipelineConfig) (pipeline.Redactor, error) {
	switch cfg.Redactor {
	case "http":
		if cfg.RedactorURL == "" {
			return nil, errors.New("pipeline.redactor_url is required for the http redactor")
		}
		return pipeline.NewHTTPRedactor(nil, cfg.RedactorURL), nil
	default:
		return pipeline.NewPlaceholderRedactor(), nil
	}
}

// newUploader builds the target blob uploader. s3:// targets are accepted
// only when storage credentials are configured.
func newUploader(cfg config.StorageConfig) (*pipeline.BlobUploader, error) {
	if cfg.Endpoint == "" {
		return pipeline.NewBlobUploader(nil, nil), nil
	}
	s3, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create object storage client: %w", err)
	}
	return pipeline.NewBlobUploader(nil, s3), nil
}

func (app *application) setupProcessors() error {
	cfg := app.config
	metrics, err := processor.NewMetrics(app.registry)
	if err != nil {
		return fmt.Errorf("failed to register processor metrics: %w", err)
	}

	policy := processor.RetryPolicy{MaxRetries: cfg.Task.MaxRetries, Interval: cfg.Task.RetryInterval}
	redactions := postgres.NewPostgresRedactionStore(app.db)
	retries := postgres.NewPostgresRetryStateStore(app.db)
	blobs := app.pipeline.Blobs()

	executors := []processor.Executor{
		processor.NewRedactionExecutor(app.tx, processor.RedactionStores{
			Tasks:      app.tasks,
			Jobs:       app.jobs,
			Redactions: redactions,
			Retries:    retries,
		}, app.pipeline, blobs, app.scheduler, policy, app.logger),
		processor.NewCallbackExecutor(app.tx, processor.CallbackStores{
			Tasks:      app.tasks,
			Callbacks:  app.callbacks,
			Redactions: redactions,
			Retries:    retries,
		}, app.pipeline, blobs, pipeline.NewNotifier(nil, cfg.Task.CallbackTimeout), policy, app.logger),
	}
	loop := processor.Config{
		PollInterval: cfg.Processor.PollInterval,
		ExecTimeout:  cfg.Processor.StaleJobAfter / 2,
	}
	for _, exec := range executors {
		app.processors = append(app.processors, processor.New(exec, app.scheduler, loop, metrics, app.logger))
	}

	app.reconciler = processor.NewReconciler(app.tx, processor.ReconcilerStores{
		Tasks:     app.tasks,
		Jobs:      app.jobs,
		Callbacks: app.callbacks,
		Retries:   retries,
	}, app.controller, app.scheduler, policy, processor.ReconcilerConfig{
		Interval:     cfg.Processor.ReconcileInterval,
		OrphanGrace:  cfg.Processor.OrphanGrace,
		StaleAfter:   cfg.Processor.StaleJobAfter,
		ChainTimeout: cfg.Processor.ChainTimeout,
	}, metrics, app.logger)

	app.emitter = events.NewInMemoryEventEmitter(app.logger)
	app.emitter.RegisterHandler(processor.NewWakeHandler(app.scheduler), processor.WakeEvents...)
	return nil
}

func (app *application) setupServices() error {
	cfg := app.config

	renderer, err := domain.ParseRenderer(cfg.Pipeline.DefaultRenderer)
	if err != nil {
		return fmt.Errorf("invalid default renderer: %w", err)
	}
	app.redactions, err = service.NewRedactionService(app.tx, app.tasks, app.cases, app.controller, app.emitter,
		service.RedactionConfig{
			Mode:            domain.TaskMode(cfg.Pipeline.Mode),
			DefaultRenderer: renderer,
			CaseTTL:         cfg.Case.TTL,
		}, app.logger)
	if err != nil {
		return fmt.Errorf("failed to create redaction service: %w", err)
	}

	verifier := auth.NewBcryptVerifier()
	deps := auth.AuthenticatorDeps{
		PresharedHashes: cfg.Auth.PresharedHashes,
		Clients:         app.clients,
		Verifier:        verifier,
	}
	if cfg.Auth.Method == auth.MethodClientCredentials {
		jwtService, err := auth.NewJWTService(cfg.Auth)
		if err != nil {
			return fmt.Errorf("failed to initialize JWT service: %w", err)
		}
		deps.JWT = jwtService
		app.tokens, err = auth.NewTokenService(app.clients, jwtService, verifier, app.logger)
		if err != nil {
			return fmt.Errorf("failed to create token service: %w", err)
		}
		app.logger.Info("client credentials authentication initialized",
			"token_lifetime", cfg.Auth.TokenLifetime)
	}
	app.authenticator, err = auth.NewAuthenticator(cfg.Auth.Method, deps)
	if err != nil {
		return fmt.Errorf("failed to create authenticator: %w", err)
	}
	return nil
}

// runsWorkers reports whether this process consumes the queue and runs the
// processors. The local broker has no other consumer, so it always runs.
func (app *application) runsWorkers() bool {
	return app.mode != modeAPI || app.config.Queue.Backend == "local"
}

// Run starts the configured components and blocks until ctx is cancelled,
// then shuts them down in order: HTTP server, processors, queue.
func (app *application) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	errCh := make(chan error, 2)

	if app.runsWorkers() {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := app.broker.Run(runCtx, app.dispatcher); err != nil {
				errCh <- fmt.Errorf("queue consumer failed: %w", err)
			}
		}()
		if app.config.Processor.Enabled {
			for _, p := range app.processors {
				go p.Run(runCtx)
			}
			wg.Add(1)
			go func() {
				defer wg.Done()
				app.reconciler.Run(runCtx)
			}()
		}
		app.logger.Info("workers started",
			"processors_enabled", app.config.Processor.Enabled,
			"queue_concurrency", app.config.Queue.Concurrency)
	}

	var server *http.Server
	if app.mode != modeWorker {
		handler, err := app.setupRouter()
		if err != nil {
			cancel()
			wg.Wait()
			app.cleanup()
			return fmt.Errorf("failed to set up router: %w", err)
		}
		server = app.newHTTPServer(handler)
		go func() {
			if err := app.serveHTTP(server); err != nil {
				errCh <- err
			}
		}()
	}

	var runErr error
	select {
	case <-ctx.Done():
		app.logger.Info("shutdown signal received")
	case runErr = <-errCh:
		app.logger.Error("component failed, shutting down", "error", runErr)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), app.config.Server.ShutdownTimeout)
	defer shutdownCancel()

	if server != nil {
		if err := server.Shutdown(shutdownCtx); err != nil {
			app.logger.Error("server shutdown failed", "error", err)
			runErr = errors.Join(runErr, fmt.Errorf("server shutdown failed: %w", err))
		}
	}

	for _, p := range app.processors {
		p.Stop()
	}
	for _, p := range app.processors {
		if !p.Join(app.config.Server.ShutdownTimeout) {
			app.logger.Warn("processor did not stop in time")
		}
	}

	cancel()
	wg.Wait()
	app.cleanup()
	app.logger.Info("shutdown completed")
	return runErr
}

// cleanup releases connections. It is safe on a partially built
// application.
func (app *application) cleanup() {
	if app.broker != nil {
		if err := app.broker.Close(); err != nil {
			app.logger.Error("error closing queue broker", "error", err)
		}
	}
	if app.nats != nil {
		if err := app.nats.Drain(); err != nil {
			app.logger.Error("error draining nats connection", "error", err)
		}
	}
	if app.redis != nil {
		if err := app.redis.Close(); err != nil {
			app.logger.Error("error closing redis connection", "error", err)
		}
	}
	if app.db != nil {
		closeDatabase(app.db, app.logger)
	}
}
